package domain

import (
	"context"
	"time"
)

// MerkleAnchor commits to a contiguous range of proof records for one
// entity. Ranges are non-overlapping and contiguous when ordered by start
// position. After external anchoring succeeds the anchor is immutable.
type MerkleAnchor struct {
	ID            string
	EntityID      string
	StartPosition int64
	EndPosition   int64
	RootHash      []byte
	TreeDepth     int
	LeafCount     int

	ExternalRef string
	AnchoredAt  *time.Time
	CreatedAt   time.Time
}

func (a MerkleAnchor) Anchored() bool {
	return a.ExternalRef != ""
}

// MerkleInclusionProof carries everything a verifier needs to recompute
// the root: the leaf hash, its index, and one sibling per tree level from
// leaf to root.
type MerkleInclusionProof struct {
	EntityID  string
	Position  int64
	LeafIndex int
	LeafHash  []byte
	Siblings  [][]byte
	RootHash  []byte
	TreeDepth int
	LeafCount int
}

// AnchorService submits a root-hash commitment to an external system of
// record. Implementations must never fail core flows on provider errors.
type AnchorService interface {
	AnchorRoot(ctx context.Context, anchor MerkleAnchor) (AnchorReceipt, error)
}

const (
	AnchorStatusAnchored = "anchored"
	AnchorStatusFailed   = "failed"
	AnchorStatusSkipped  = "skipped"
)

const (
	AnchorErrorNetwork     = "NETWORK"
	AnchorErrorTimeout     = "TIMEOUT"
	AnchorErrorBadConfig   = "BAD_CONFIG"
	AnchorErrorProvider    = "PROVIDER_ERROR"
	AnchorErrorPersistence = "PERSISTENCE"
)

type AnchorReceipt struct {
	EntityID    string
	AnchorID    string
	Provider    string
	Status      string
	ErrorCode   string
	ExternalRef string
	RootHashHex string
	AnchoredAt  time.Time
}

// AnchorAttempt is the durable trace of one anchoring try, successful or
// not. The retry sweep reads failed attempts to decide what to revisit.
type AnchorAttempt struct {
	EntityID    string
	AnchorID    string
	Provider    string
	Status      string
	ErrorCode   string
	RootHashHex string
	CreatedAt   time.Time
}

type AnchorAttemptRepository interface {
	Append(ctx context.Context, attempt AnchorAttempt) error
	ListByAnchor(ctx context.Context, entityID, anchorID string) ([]AnchorAttempt, error)
}
