// Package verifier checks exported proof-chain material offline: no
// database, no daemon, just the records, the signer's public key, and
// the anchor roots.
package verifier

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vorion/internal/domain"
	cryptoinfra "vorion/internal/infra/crypto"
	"vorion/internal/infra/merkle"
)

// RecordExport is the wire shape of one proof record as emitted by the
// records endpoint and by export tooling.
type RecordExport struct {
	EntityID    string          `json:"entity_id"`
	Position    int64           `json:"position"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	PayloadHash string          `json:"payload_hash"`
	PrevHash    string          `json:"prev_hash"`
	RecordHash  string          `json:"record_hash"`
	Signature   string          `json:"signature"`
	SignerKID   string          `json:"signer_kid"`
	RecordedAt  time.Time       `json:"recorded_at"`
}

func (r RecordExport) toDomain() (domain.ProofRecord, error) {
	sig, err := base64.StdEncoding.DecodeString(r.Signature)
	if err != nil {
		return domain.ProofRecord{}, fmt.Errorf("record %d: decode signature: %w", r.Position, err)
	}
	return domain.ProofRecord{
		EntityID:    r.EntityID,
		Position:    r.Position,
		Kind:        domain.RecordKind(r.Kind),
		Payload:     r.Payload,
		PayloadHash: r.PayloadHash,
		PrevHash:    r.PrevHash,
		RecordHash:  r.RecordHash,
		Signature:   sig,
		SignerKID:   r.SignerKID,
		RecordedAt:  r.RecordedAt,
	}, nil
}

// VerifyChain walks an exported record sequence, recomputing payload
// hashes, record hashes, hash linkage, and signatures. The sequence must
// start at position 0 or carry the predecessor's record hash out of band
// via prev. Pass nil prev for a genesis-rooted export.
func VerifyChain(records []RecordExport, pub ed25519.PublicKey, prev *RecordExport) (domain.ChainVerification, error) {
	if len(pub) != ed25519.PublicKeySize {
		return domain.ChainVerification{}, errors.New("signing public key is required")
	}
	if len(records) == 0 {
		return domain.ChainVerification{Valid: true}, nil
	}

	result := domain.ChainVerification{
		EntityID: records[0].EntityID,
		From:     records[0].Position,
		To:       records[len(records)-1].Position,
	}

	prevHash := domain.GenesisHash
	prevPos := int64(-1)
	if prev != nil {
		prevHash = prev.RecordHash
		prevPos = prev.Position
	} else if records[0].Position != 0 {
		return domain.ChainVerification{}, fmt.Errorf("export starts at position %d without predecessor hash", records[0].Position)
	}

	for _, export := range records {
		record, err := export.toDomain()
		if err != nil {
			return domain.ChainVerification{}, err
		}
		if reason := verifyRecord(record, prevHash, prevPos, pub); reason != "" {
			pos := record.Position
			result.Valid = false
			result.BrokenAt = &pos
			result.Reason = reason
			return result, nil
		}
		prevHash = record.RecordHash
		prevPos = record.Position
	}

	result.Valid = true
	return result, nil
}

func verifyRecord(record domain.ProofRecord, prevHash string, prevPos int64, pub ed25519.PublicKey) string {
	if record.Position != prevPos+1 {
		return fmt.Sprintf("position gap: expected %d, have %d", prevPos+1, record.Position)
	}
	if record.PrevHash != prevHash {
		return "previous-hash mismatch"
	}
	_, payloadHash, err := cryptoinfra.HashPayload(record.Payload)
	if err != nil {
		return "payload not canonicalizable"
	}
	if payloadHash != record.PayloadHash {
		return "payload hash mismatch"
	}
	recordHash, err := cryptoinfra.RecordHash(record)
	if err != nil {
		return "record hash not computable"
	}
	if recordHash != record.RecordHash {
		return "record hash mismatch"
	}
	signed, err := cryptoinfra.SigningPayload(record)
	if err != nil {
		return "signing payload not computable"
	}
	if !ed25519.Verify(pub, signed, record.Signature) {
		return "signature invalid"
	}
	return ""
}

// InclusionExport is the wire shape of an inclusion proof, all hashes
// hex-encoded.
type InclusionExport struct {
	EntityID  string   `json:"entity_id"`
	Position  int64    `json:"position"`
	LeafIndex int      `json:"leaf_index"`
	LeafHash  string   `json:"leaf_hash"`
	Siblings  []string `json:"siblings"`
	RootHash  string   `json:"root_hash"`
}

// VerifyInclusion recomputes the merkle root from an exported inclusion
// proof. When expectedRoot is non-empty it overrides the proof's own root,
// letting a verifier pin the root published by an external anchor.
func VerifyInclusion(proof InclusionExport, expectedRoot string) (bool, error) {
	leaf, err := hex.DecodeString(proof.LeafHash)
	if err != nil {
		return false, fmt.Errorf("decode leaf hash: %w", err)
	}
	rootHex := proof.RootHash
	if expectedRoot != "" {
		rootHex = expectedRoot
	}
	root, err := hex.DecodeString(rootHex)
	if err != nil {
		return false, fmt.Errorf("decode root hash: %w", err)
	}
	siblings := make([][]byte, 0, len(proof.Siblings))
	for i, raw := range proof.Siblings {
		sib, err := hex.DecodeString(raw)
		if err != nil {
			return false, fmt.Errorf("decode sibling %d: %w", i, err)
		}
		siblings = append(siblings, sib)
	}
	return merkle.VerifyInclusion(leaf, proof.LeafIndex, siblings, root)
}
