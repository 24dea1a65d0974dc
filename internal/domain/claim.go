package domain

import "time"

type ClaimType string

const (
	ClaimScoreAtLeast   ClaimType = "score_at_least"
	ClaimScoreInRange   ClaimType = "score_in_range"
	ClaimLevelAtLeast   ClaimType = "level_at_least"
	ClaimChainValidAsOf ClaimType = "chain_valid_as_of"
	ClaimNoDenialsSince ClaimType = "no_denials_since"
)

var ClaimTypes = []ClaimType{
	ClaimScoreAtLeast,
	ClaimScoreInRange,
	ClaimLevelAtLeast,
	ClaimChainValidAsOf,
	ClaimNoDenialsSince,
}

func (t ClaimType) Valid() bool {
	switch t {
	case ClaimScoreAtLeast, ClaimScoreInRange, ClaimLevelAtLeast, ClaimChainValidAsOf, ClaimNoDenialsSince:
		return true
	}
	return false
}

// ClaimParams parameterizes proof generation. Only the fields relevant to
// the claim type are read; all of them end up in the public inputs.
type ClaimParams struct {
	Threshold int
	Low       int
	High      int
	MinBand   TrustBand
	AsOf      time.Time
	Since     time.Time
	TTL       time.Duration
}

// ClaimPublicInputs are the only inputs a verifier ever sees. The
// commitment binds the private witness (score, chain tip, salt) together
// with the artifact's nonce and expiry, so relabeling a proof with a
// fresh nonce or a later expiry fails the pairing check. The entity
// commitment binds the proof to the entity it was issued for without
// revealing the entity id.
type ClaimPublicInputs struct {
	Commitment       string `json:"commitment"`
	EntityCommitment string `json:"entity_commitment"`
	Nonce            string `json:"nonce,omitempty"`
	ExpiresAtUnix    int64  `json:"expires_at_unix,omitempty"`
	Threshold        int    `json:"threshold,omitempty"`
	Low              int    `json:"low,omitempty"`
	High             int    `json:"high,omitempty"`
	MinScore         int    `json:"min_score,omitempty"`
	AsOfUnix         int64  `json:"as_of_unix,omitempty"`
	SinceUnix        int64  `json:"since_unix,omitempty"`
}

// ClaimArtifact is a generated zero-knowledge proof for one claim about
// one entity. The nonce is globally unique and single-use.
type ClaimArtifact struct {
	ID        string
	ClaimType ClaimType
	Public    ClaimPublicInputs
	Proof     []byte
	VKHash    string
	Nonce     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

func (a ClaimArtifact) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && now.After(a.ExpiresAt)
}

// ClaimVerification is the structured verify result. Refusals (replay,
// expiry, broken chain) surface as Reason codes, not Go errors, so callers
// can distinguish an invalid proof from an infrastructure fault.
type ClaimVerification struct {
	Valid  bool
	Reason string
}

const (
	ClaimReasonReplay       = "REPLAY_DETECTED"
	ClaimReasonExpired      = "PROOF_EXPIRED"
	ClaimReasonBadProof     = "PROOF_INVALID"
	ClaimReasonUnknownType  = "UNKNOWN_CLAIM_TYPE"
	ClaimReasonKeyMismatch  = "VERIFYING_KEY_MISMATCH"
	ClaimReasonMissingNonce = "NONCE_MISSING"
)
