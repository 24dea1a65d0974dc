package usecase

import (
	"context"
	"time"

	"vorion/internal/domain"
)

// Clock supplies the current time. Injected so tests can pin it.
type Clock func() time.Time

// EntityRepository stores scored entities and their revocation state.
type EntityRepository interface {
	Create(ctx context.Context, entity domain.Entity) error
	GetByID(ctx context.Context, id string) (*domain.Entity, error)
	SetRevoked(ctx context.Context, id string, at time.Time) error
	ListIDs(ctx context.Context) ([]string, error)
}

// ProofChainRepository stores per-entity hash-linked proof records.
//
// AppendIfTip persists the record only when record.PrevHash matches the
// stored tip's RecordHash (or the genesis hash for the first record) and
// record.Position is exactly tip+1. A losing writer gets
// domain.ErrConcurrentAppend and must re-read the tip.
type ProofChainRepository interface {
	AppendIfTip(ctx context.Context, record domain.ProofRecord) (domain.ProofRecord, error)
	Tip(ctx context.Context, entityID string) (*domain.ProofRecord, error)
	GetByPosition(ctx context.Context, entityID string, position int64) (*domain.ProofRecord, error)
	ListRange(ctx context.Context, entityID string, from, to int64) ([]domain.ProofRecord, error)
	SetBlocked(ctx context.Context, entityID, reason string) error
	Blocked(ctx context.Context, entityID string) (bool, string, error)
	ClearBlocked(ctx context.Context, entityID string) error
}

// ProfileRepository stores the current trust profile per entity.
type ProfileRepository interface {
	Get(ctx context.Context, entityID string) (*domain.TrustProfile, error)
	Save(ctx context.Context, profile *domain.TrustProfile) error
}

// ProfileSource yields an entity's effective profile with pending decay
// applied. Claims and evaluations read through this, never the stored
// row, so they cannot attest a score the entity no longer holds.
type ProfileSource interface {
	CurrentProfile(ctx context.Context, entityID string) (*domain.TrustProfile, error)
}

// SignalRepository stores raw trust signals for audit and replay.
type SignalRepository interface {
	Append(ctx context.Context, signal domain.TrustSignal) error
	ListByEntity(ctx context.Context, entityID string, limit int) ([]domain.TrustSignal, error)
}

// AnchorRepository stores Merkle aggregation anchors.
type AnchorRepository interface {
	Create(ctx context.Context, anchor domain.MerkleAnchor) error
	GetByID(ctx context.Context, entityID, anchorID string) (*domain.MerkleAnchor, error)
	GetByRange(ctx context.Context, entityID string, start, end int64) (*domain.MerkleAnchor, error)
	// FindCovering returns the anchor whose [StartPosition, EndPosition]
	// range includes the given chain position.
	FindCovering(ctx context.Context, entityID string, position int64) (*domain.MerkleAnchor, error)
	Latest(ctx context.Context, entityID string) (*domain.MerkleAnchor, error)
	ListByEntity(ctx context.Context, entityID string) ([]domain.MerkleAnchor, error)
	ListUnanchored(ctx context.Context, limit int) ([]domain.MerkleAnchor, error)
	SetExternalRef(ctx context.Context, entityID, anchorID, externalRef string, at time.Time) error
}

// AttestationRepository stores third-party capability attestations.
type AttestationRepository interface {
	Put(ctx context.Context, att domain.Attestation) error
	ListByEntity(ctx context.Context, entityID string) ([]domain.Attestation, error)
}

// CompetenceRepository stores per-domain demonstrated competence levels.
type CompetenceRepository interface {
	Put(ctx context.Context, comp domain.Competence) error
	Get(ctx context.Context, entityID, capabilityDomain string) (*domain.Competence, error)
}

// NonceLedger records claim nonces so each artifact verifies at most once.
// Consume returns domain.ErrReplayDetected when the nonce was already spent.
type NonceLedger interface {
	Consume(ctx context.Context, nonce string, ttl time.Duration) error
}

// PolicyEngine evaluates organizational policy over an evaluation input and
// returns the policy tier cap plus any hard denials.
type PolicyEngine interface {
	Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyResult, error)
}

// VerificationCache memoizes chain verification results keyed by entity and
// tip position. A new append changes the key, so stale entries age out
// harmlessly.
type VerificationCache interface {
	Get(ctx context.Context, key string) (*domain.ChainVerification, bool, error)
	Put(ctx context.Context, key string, value domain.ChainVerification, ttl time.Duration) error
}

// PrivateWitness carries the secret inputs a claim proof is built from.
// It never leaves the process and is not part of the emitted artifact.
type PrivateWitness struct {
	EntityID    string
	Score       int
	Salt        []byte
	TipPosition int64
	TipDigest   []byte
	DenialCount int
}

// ProofBackend produces and checks zero-knowledge claim proofs. Prove
// completes the public inputs with the witness commitment and returns the
// serialized proof plus the hash of the verifying key it was built against.
type ProofBackend interface {
	Prove(ctx context.Context, claimType domain.ClaimType, public domain.ClaimPublicInputs, private PrivateWitness) ([]byte, domain.ClaimPublicInputs, string, error)
	Verify(ctx context.Context, claimType domain.ClaimType, public domain.ClaimPublicInputs, proof []byte, vkHash string) error
	VerifyingKey(claimType domain.ClaimType) ([]byte, string, error)
}
