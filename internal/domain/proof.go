package domain

import (
	"encoding/json"
	"time"
)

const (
	// ChainVersion is baked into every record hash preimage so a future
	// format change cannot silently validate old chains.
	ChainVersion = "proof_chain_v1"

	// GenesisHash is the previous-hash sentinel for position 0.
	GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"
)

type RecordKind string

const (
	RecordProfileInitialized RecordKind = "profile_initialized"
	RecordSignalRecorded     RecordKind = "signal_recorded"
	RecordDecayApplied       RecordKind = "decay_applied"
	RecordEvaluation         RecordKind = "evaluation"
	RecordEntityRevoked      RecordKind = "entity_revoked"
	RecordTombstone          RecordKind = "record_tombstoned"
)

// ProofRecord is one immutable entry in an entity's proof chain. Records
// are created once and never mutated or deleted; a documented deletion is
// a RecordTombstone entry referencing the target position.
type ProofRecord struct {
	EntityID    string
	Position    int64
	Kind        RecordKind
	Payload     json.RawMessage
	PayloadHash string
	PrevHash    string
	RecordHash  string
	Signature   []byte
	SignerKID   string
	RecordedAt  time.Time
}

// ChainVerification is the structured result of walking a chain range.
type ChainVerification struct {
	EntityID string
	From     int64
	To       int64
	Valid    bool
	BrokenAt *int64
	Reason   string
}
