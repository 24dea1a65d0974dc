// Package soft is an in-process ed25519 key manager. It backs development
// and test deployments; production deployments plug a KMS-backed
// implementation into the same domain.KeyManager interface.
package soft

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"sync"

	"vorion/internal/config"
	"vorion/internal/domain"
)

type Manager struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PrivateKey

	chainPrivateKeyBase64  string
	chainPrivateKeySeedHex string
}

func NewManager(keys map[domain.KeyRef]ed25519.PrivateKey) *Manager {
	keyMap := make(map[string]ed25519.PrivateKey, len(keys))
	for ref, key := range keys {
		keyMap[keyRefKey(ref)] = append(ed25519.PrivateKey(nil), key...)
	}
	return &Manager{keys: keyMap}
}

func NewManagerFromConfig(cfg config.Config) *Manager {
	return &Manager{
		keys:                   make(map[string]ed25519.PrivateKey),
		chainPrivateKeyBase64:  cfg.ChainPrivateKeyBase64,
		chainPrivateKeySeedHex: cfg.ChainPrivateKeySeedHex,
	}
}

// GenerateKey creates and registers a fresh key under the given ref.
func (m *Manager) GenerateKey(ref domain.KeyRef) (ed25519.PublicKey, error) {
	if err := validateKeyRef(ref); err != nil {
		return nil, err
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.keys == nil {
		m.keys = make(map[string]ed25519.PrivateKey)
	}
	m.keys[keyRefKey(ref)] = priv
	m.mu.Unlock()
	return pub, nil
}

func (m *Manager) Sign(_ context.Context, ref domain.KeyRef, payload []byte) ([]byte, error) {
	if err := validateKeyRef(ref); err != nil {
		return nil, err
	}
	key := m.lookupKey(ref)
	if key == nil {
		return nil, domain.ErrSigningUnavailable
	}
	return ed25519.Sign(key, payload), nil
}

func (m *Manager) Verify(_ context.Context, _ domain.KeyRef, payload []byte, sig []byte, pubKey []byte) error {
	if len(pubKey) != ed25519.PublicKeySize {
		return errors.New("invalid ed25519 public key length")
	}
	if len(sig) != ed25519.SignatureSize {
		return errors.New("invalid ed25519 signature length")
	}
	if !ed25519.Verify(pubKey, payload, sig) {
		return errors.New("signature verification failed")
	}
	return nil
}

func (m *Manager) PublicKey(_ context.Context, ref domain.KeyRef) ([]byte, error) {
	if err := validateKeyRef(ref); err != nil {
		return nil, err
	}
	key := m.lookupKey(ref)
	if key == nil {
		return nil, domain.ErrSigningUnavailable
	}
	pub := key.Public().(ed25519.PublicKey)
	return append([]byte(nil), pub...), nil
}

func (m *Manager) lookupKey(ref domain.KeyRef) ed25519.PrivateKey {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	key, ok := m.keys[keyRefKey(ref)]
	m.mu.RUnlock()
	if ok {
		return key
	}
	return m.loadConfiguredKey(ref)
}

func (m *Manager) loadConfiguredKey(ref domain.KeyRef) ed25519.PrivateKey {
	if ref.Purpose != domain.KeyPurposeChain {
		return nil
	}
	if key := readPrivateKeyBase64(m.chainPrivateKeyBase64); key != nil {
		return key
	}
	return readPrivateKeyHex(m.chainPrivateKeySeedHex)
}

func keyRefKey(ref domain.KeyRef) string {
	return string(ref.Purpose) + "|" + ref.KID
}

func validateKeyRef(ref domain.KeyRef) error {
	if ref.KID == "" || ref.Purpose == "" {
		return errors.New("key ref is required")
	}
	switch ref.Purpose {
	case domain.KeyPurposeChain, domain.KeyPurposeAnchor:
		return nil
	default:
		return errors.New("unsupported key purpose")
	}
}

func readPrivateKeyBase64(value string) ed25519.PrivateKey {
	if value == "" {
		return nil
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil
	}
	key, err := parsePrivateKey(raw)
	if err != nil {
		return nil
	}
	return key
}

func readPrivateKeyHex(value string) ed25519.PrivateKey {
	if value == "" {
		return nil
	}
	raw, err := hex.DecodeString(value)
	if err != nil {
		return nil
	}
	key, err := parsePrivateKey(raw)
	if err != nil {
		return nil
	}
	return key
}

func parsePrivateKey(raw []byte) (ed25519.PrivateKey, error) {
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(raw), nil
	default:
		return nil, errors.New("invalid ed25519 private key length")
	}
}
