package usecase

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vorion/internal/domain"
	"vorion/internal/infra/crypto"
)

// ClaimService issues and checks zero-knowledge claims about an entity's
// trust state. Proofs are only ever generated over a chain that verifies
// end to end; a broken chain refuses to prove anything.
type ClaimService struct {
	chain    *ProofChain
	records  ProofChainRepository
	profiles ProfileSource
	backend  ProofBackend
	nonces   NonceLedger
	clock    Clock
	ttl      time.Duration
}

func NewClaimService(chain *ProofChain, records ProofChainRepository, profiles ProfileSource, backend ProofBackend, nonces NonceLedger, clock Clock, ttl time.Duration) *ClaimService {
	return &ClaimService{
		chain:    chain,
		records:  records,
		profiles: profiles,
		backend:  backend,
		nonces:   nonces,
		clock:    clock,
		ttl:      ttl,
	}
}

// GenerateProof snapshots the entity's trust state, builds the witness for
// the requested claim and hands it to the proving backend. The context
// cancels an in-flight proving run; a cancelled run persists nothing.
func (s *ClaimService) GenerateProof(ctx context.Context, entityID string, claimType domain.ClaimType, params domain.ClaimParams) (domain.ClaimArtifact, error) {
	if !claimType.Valid() {
		return domain.ClaimArtifact{}, fmt.Errorf("unknown claim type %q", claimType)
	}

	verification, err := s.chain.Verify(ctx, entityID, nil, nil)
	if err != nil {
		return domain.ClaimArtifact{}, err
	}
	if !verification.Valid {
		return domain.ClaimArtifact{}, fmt.Errorf("chain broken at %v (%s): %w", verification.BrokenAt, verification.Reason, domain.ErrInvalidChainState)
	}

	now := s.clock().UTC()
	private, public, err := s.buildWitness(ctx, entityID, claimType, params, now)
	if err != nil {
		return domain.ClaimArtifact{}, err
	}

	// Nonce and expiry are fixed before proving so the circuit folds them
	// into the commitment; the emitted artifact cannot be relabeled.
	ttl := s.ttl
	if params.TTL > 0 {
		ttl = params.TTL
	}
	nonce := uuid.NewString()
	expiresAt := now.Add(ttl)
	private.EntityID = entityID
	public.Nonce = nonce
	public.ExpiresAtUnix = expiresAt.Unix()

	proof, public, vkHash, err := s.backend.Prove(ctx, claimType, public, private)
	if err != nil {
		return domain.ClaimArtifact{}, fmt.Errorf("prove %s: %w", claimType, err)
	}

	return domain.ClaimArtifact{
		ID:        uuid.NewString(),
		ClaimType: claimType,
		Public:    public,
		Proof:     proof,
		VKHash:    vkHash,
		Nonce:     nonce,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// VerifyProof checks an artifact. Refusals come back as reason codes;
// only infrastructure faults surface as errors. Verification consumes the
// artifact's nonce, so it succeeds at most once per artifact.
func (s *ClaimService) VerifyProof(ctx context.Context, artifact domain.ClaimArtifact) (domain.ClaimVerification, error) {
	if !artifact.ClaimType.Valid() {
		return domain.ClaimVerification{Reason: domain.ClaimReasonUnknownType}, nil
	}
	if artifact.Expired(s.clock().UTC()) {
		return domain.ClaimVerification{Reason: domain.ClaimReasonExpired}, nil
	}
	if artifact.Nonce == "" {
		return domain.ClaimVerification{Reason: domain.ClaimReasonMissingNonce}, nil
	}

	ttl := time.Until(artifact.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}
	if err := s.nonces.Consume(ctx, artifact.Nonce, ttl); err != nil {
		if errors.Is(err, domain.ErrReplayDetected) {
			return domain.ClaimVerification{Reason: domain.ClaimReasonReplay}, nil
		}
		return domain.ClaimVerification{}, fmt.Errorf("consume nonce: %w", err)
	}

	// The nonce the ledger just consumed and the expiry the window check
	// enforced are re-derived into the public inputs, never trusted from
	// the artifact's Public block: a proof re-presented under a different
	// nonce or expiry fails the pairing check.
	public := artifact.Public
	public.Nonce = artifact.Nonce
	public.ExpiresAtUnix = artifact.ExpiresAt.Unix()
	if err := s.backend.Verify(ctx, artifact.ClaimType, public, artifact.Proof, artifact.VKHash); err != nil {
		if errors.Is(err, ErrVerifyingKeyMismatch) {
			return domain.ClaimVerification{Reason: domain.ClaimReasonKeyMismatch}, nil
		}
		return domain.ClaimVerification{Reason: domain.ClaimReasonBadProof}, nil
	}
	return domain.ClaimVerification{Valid: true}, nil
}

// VerifyingKey exposes the serialized verifying key and its hash for a
// claim type so external verifiers can pin it.
func (s *ClaimService) VerifyingKey(claimType domain.ClaimType) ([]byte, string, error) {
	if !claimType.Valid() {
		return nil, "", fmt.Errorf("unknown claim type %q", claimType)
	}
	return s.backend.VerifyingKey(claimType)
}

// ErrVerifyingKeyMismatch is returned by proof backends when an artifact
// references a verifying key other than the registered one.
var ErrVerifyingKeyMismatch = errors.New("verifying key mismatch")

func (s *ClaimService) buildWitness(ctx context.Context, entityID string, claimType domain.ClaimType, params domain.ClaimParams, now time.Time) (PrivateWitness, domain.ClaimPublicInputs, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return PrivateWitness{}, domain.ClaimPublicInputs{}, fmt.Errorf("draw salt: %w", err)
	}
	private := PrivateWitness{Salt: salt}
	var public domain.ClaimPublicInputs

	switch claimType {
	case domain.ClaimScoreAtLeast:
		score, err := s.currentScore(ctx, entityID)
		if err != nil {
			return PrivateWitness{}, domain.ClaimPublicInputs{}, err
		}
		private.Score = score
		public.Threshold = params.Threshold
	case domain.ClaimScoreInRange:
		score, err := s.currentScore(ctx, entityID)
		if err != nil {
			return PrivateWitness{}, domain.ClaimPublicInputs{}, err
		}
		if params.Low > params.High {
			return PrivateWitness{}, domain.ClaimPublicInputs{}, fmt.Errorf("range [%d, %d]: %w", params.Low, params.High, domain.ErrInvalidRange)
		}
		private.Score = score
		public.Low = params.Low
		public.High = params.High
	case domain.ClaimLevelAtLeast:
		score, err := s.currentScore(ctx, entityID)
		if err != nil {
			return PrivateWitness{}, domain.ClaimPublicInputs{}, err
		}
		private.Score = score
		public.MinScore = domain.BandFloor(params.MinBand)
	case domain.ClaimChainValidAsOf:
		tip, err := s.records.Tip(ctx, entityID)
		if err != nil {
			return PrivateWitness{}, domain.ClaimPublicInputs{}, fmt.Errorf("read chain tip: %w", err)
		}
		digest, err := crypto.RecordHashBytes(*tip)
		if err != nil {
			return PrivateWitness{}, domain.ClaimPublicInputs{}, err
		}
		private.TipPosition = tip.Position
		private.TipDigest = digest
		asOf := params.AsOf
		if asOf.IsZero() {
			asOf = now
		}
		public.AsOfUnix = asOf.Unix()
	case domain.ClaimNoDenialsSince:
		count, err := s.denialsSince(ctx, entityID, params.Since)
		if err != nil {
			return PrivateWitness{}, domain.ClaimPublicInputs{}, err
		}
		if count > 0 {
			return PrivateWitness{}, domain.ClaimPublicInputs{}, fmt.Errorf("entity has %d denials since %s: %w", count, params.Since.Format(time.RFC3339), domain.ErrInvalidChainState)
		}
		private.DenialCount = count
		public.SinceUnix = params.Since.Unix()
	}
	return private, public, nil
}

func (s *ClaimService) currentScore(ctx context.Context, entityID string) (int, error) {
	profile, err := s.profiles.CurrentProfile(ctx, entityID)
	if err != nil {
		return 0, fmt.Errorf("load profile: %w", err)
	}
	return profile.Score, nil
}

// denialsSince counts denied evaluation records at or after the cutoff by
// walking the chain backwards until records predate it.
func (s *ClaimService) denialsSince(ctx context.Context, entityID string, since time.Time) (int, error) {
	tip, err := s.records.Tip(ctx, entityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read chain tip: %w", err)
	}
	records, err := s.records.ListRange(ctx, entityID, 0, tip.Position)
	if err != nil {
		return 0, fmt.Errorf("read chain: %w", err)
	}
	count := 0
	for _, record := range records {
		if record.Kind != domain.RecordEvaluation || record.RecordedAt.Before(since) {
			continue
		}
		var payload struct {
			Permitted bool `json:"permitted"`
		}
		if err := json.Unmarshal(record.Payload, &payload); err != nil {
			return 0, fmt.Errorf("decode evaluation payload at %d: %w", record.Position, err)
		}
		if !payload.Permitted {
			count++
		}
	}
	return count, nil
}
