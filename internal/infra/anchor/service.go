package anchor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vorion/internal/domain"
)

// Provider submits one payload to one external destination. Providers
// report outcomes through the receipt, not through errors, so a flaky
// destination can never crash a core flow.
type Provider interface {
	ProviderName() string
	Anchor(ctx context.Context, payload Payload) domain.AnchorReceipt
}

// Service wraps a provider with per-attempt timeouts, bounded retries and
// a durable attempt trace.
type Service struct {
	provider   Provider
	attempts   domain.AnchorAttemptRepository
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration
	clock      func() time.Time
}

func NewService(provider Provider, attempts domain.AnchorAttemptRepository, maxRetries int, backoff, timeout time.Duration, clock func() time.Time) (*Service, error) {
	if provider == nil {
		return nil, errors.New("provider is nil")
	}
	if provider.ProviderName() == "" {
		return nil, errors.New("provider name is required")
	}
	if maxRetries < 1 {
		maxRetries = 1
	}
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		provider:   provider,
		attempts:   attempts,
		maxRetries: maxRetries,
		backoff:    backoff,
		timeout:    timeout,
		clock:      clock,
	}, nil
}

// AnchorRoot pushes the anchor's root to the provider. Every attempt is
// recorded whether it succeeds or not; after the retry budget the caller
// gets domain.ErrAnchorUnreachable and the sweep picks the anchor up
// later.
func (s *Service) AnchorRoot(ctx context.Context, anchor domain.MerkleAnchor) (domain.AnchorReceipt, error) {
	payload, err := BuildPayload(anchor)
	if err != nil {
		return domain.AnchorReceipt{}, err
	}

	var receipt domain.AnchorReceipt
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return receipt, ctx.Err()
			case <-time.After(s.backoff):
			}
		}
		providerCtx, cancel := context.WithTimeout(ctx, s.timeout)
		receipt = s.provider.Anchor(providerCtx, payload)
		deadlineHit := providerCtx.Err() == context.DeadlineExceeded
		cancel()

		if receipt.Provider == "" {
			receipt.Provider = s.provider.ProviderName()
		}
		receipt.EntityID = payload.EntityID
		receipt.AnchorID = payload.AnchorID
		receipt.RootHashHex = payload.RootHashHex
		if deadlineHit {
			receipt.Status = domain.AnchorStatusFailed
			if receipt.ErrorCode == "" {
				receipt.ErrorCode = domain.AnchorErrorTimeout
			}
		}
		if receipt.Status == "" {
			receipt.Status = domain.AnchorStatusAnchored
		}
		if receipt.Status == domain.AnchorStatusAnchored && receipt.AnchoredAt.IsZero() {
			receipt.AnchoredAt = s.clock().UTC()
		}
		s.persistAttempt(ctx, receipt)

		if receipt.Status == domain.AnchorStatusAnchored {
			return receipt, nil
		}
	}
	return receipt, fmt.Errorf("anchor %s via %s after %d attempts (%s): %w",
		payload.AnchorID, s.provider.ProviderName(), s.maxRetries, receipt.ErrorCode, domain.ErrAnchorUnreachable)
}

func (s *Service) persistAttempt(ctx context.Context, receipt domain.AnchorReceipt) {
	if s.attempts == nil {
		return
	}
	attempt := domain.AnchorAttempt{
		EntityID:    receipt.EntityID,
		AnchorID:    receipt.AnchorID,
		Provider:    receipt.Provider,
		Status:      receipt.Status,
		ErrorCode:   receipt.ErrorCode,
		RootHashHex: receipt.RootHashHex,
		CreatedAt:   s.clock().UTC(),
	}
	// Attempt persistence is best effort; losing a trace row must not
	// fail the anchoring path itself.
	_ = s.attempts.Append(ctx, attempt)
}
