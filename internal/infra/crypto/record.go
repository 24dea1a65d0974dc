package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"vorion/internal/domain"
)

// HashPayload canonicalizes a record payload and returns both the
// canonical bytes and the hex SHA-256 digest stored on the record.
func HashPayload(payload any) ([]byte, string, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	canonical, err := CanonicalizeAny(payload)
	if err != nil {
		return nil, "", err
	}
	sum := sha256.Sum256(canonical)
	return canonical, hex.EncodeToString(sum[:]), nil
}

// RecordHash computes the chain hash of a proof record. The preimage is
// the canonical JSON of the fields that define the record's place in the
// chain; the chain version tag is part of it so a format change can never
// validate against old chains.
func RecordHash(record domain.ProofRecord) (string, error) {
	if record.EntityID == "" || record.Kind == "" {
		return "", errors.New("proof record missing entity_id or kind")
	}
	if record.PayloadHash == "" || record.PrevHash == "" {
		return "", errors.New("proof record missing payload_hash or prev_hash")
	}
	preimage := map[string]any{
		"v":            domain.ChainVersion,
		"entity_id":    record.EntityID,
		"position":     record.Position,
		"kind":         string(record.Kind),
		"payload_hash": record.PayloadHash,
		"prev_hash":    record.PrevHash,
		"recorded_at":  record.RecordedAt.UTC().Format(time.RFC3339Nano),
	}
	canonical, err := CanonicalizeAny(preimage)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// SigningPayload is the byte string the chain key signs: payload hash,
// previous hash, and position, canonically encoded.
func SigningPayload(record domain.ProofRecord) ([]byte, error) {
	if record.PayloadHash == "" || record.PrevHash == "" {
		return nil, errors.New("proof record missing payload_hash or prev_hash")
	}
	return CanonicalizeAny(map[string]any{
		"payload_hash": record.PayloadHash,
		"prev_hash":    record.PrevHash,
		"position":     record.Position,
	})
}

// RecordHashBytes decodes a record's stored hex hash into the raw leaf
// bytes consumed by the merkle tree.
func RecordHashBytes(record domain.ProofRecord) ([]byte, error) {
	raw, err := hex.DecodeString(record.RecordHash)
	if err != nil {
		return nil, errors.New("malformed record hash")
	}
	if len(raw) != sha256.Size {
		return nil, errors.New("record hash has wrong length")
	}
	return raw, nil
}
