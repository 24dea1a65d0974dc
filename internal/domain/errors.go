package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrEntityRevoked      = errors.New("entity revoked")
	ErrChainIntegrity     = errors.New("chain integrity violation")
	ErrChainBlocked       = errors.New("chain write-blocked pending reconciliation")
	ErrConcurrentAppend   = errors.New("concurrent append conflict")
	ErrSigningUnavailable = errors.New("signing key unavailable")
	ErrInvalidRange       = errors.New("invalid aggregation range")
	ErrAnchorUnreachable  = errors.New("anchor destination unreachable")
	ErrReplayDetected     = errors.New("proof nonce already consumed")
	ErrProofExpired       = errors.New("proof expired")
	ErrInvalidChainState  = errors.New("chain state invalid for proving")
)
