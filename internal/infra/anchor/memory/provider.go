package memory

import (
	"context"
	"fmt"
	"sync"

	"vorion/internal/domain"
	"vorion/internal/infra/anchor"
)

// Provider keeps anchored payloads in memory. trustd uses it when no
// external ledger is configured, and tests use it to script failures.
type Provider struct {
	mu       sync.Mutex
	payloads []anchor.Payload
	failures int
}

func NewProvider() *Provider {
	return &Provider{}
}

// FailNext makes the next n Anchor calls fail with a network error.
func (p *Provider) FailNext(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = n
}

func (p *Provider) Payloads() []anchor.Payload {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]anchor.Payload, len(p.payloads))
	copy(out, p.payloads)
	return out
}

func (p *Provider) ProviderName() string {
	return "memory"
}

func (p *Provider) Anchor(ctx context.Context, payload anchor.Payload) domain.AnchorReceipt {
	p.mu.Lock()
	defer p.mu.Unlock()
	receipt := domain.AnchorReceipt{
		Provider:    p.ProviderName(),
		RootHashHex: payload.RootHashHex,
	}
	if p.failures > 0 {
		p.failures--
		receipt.Status = domain.AnchorStatusFailed
		receipt.ErrorCode = domain.AnchorErrorNetwork
		return receipt
	}
	p.payloads = append(p.payloads, payload)
	receipt.Status = domain.AnchorStatusAnchored
	receipt.ExternalRef = fmt.Sprintf("mem-%d", len(p.payloads))
	return receipt
}
