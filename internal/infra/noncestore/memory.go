package noncestore

import (
	"context"
	"sync"
	"time"

	"vorion/internal/domain"
)

// Memory is the single-process nonce ledger. Spent nonces stay recorded
// until their artifact's expiry, after which replaying them is already
// rejected as expired.
type Memory struct {
	mu    sync.Mutex
	now   func() time.Time
	spent map[string]time.Time
}

func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		now:   now,
		spent: make(map[string]time.Time),
	}
}

func (m *Memory) Consume(_ context.Context, nonce string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if expiry, ok := m.spent[nonce]; ok && now.Before(expiry) {
		return domain.ErrReplayDetected
	}
	m.gc(now)
	m.spent[nonce] = now.Add(ttl)
	return nil
}

func (m *Memory) gc(now time.Time) {
	for nonce, expiry := range m.spent {
		if now.After(expiry) {
			delete(m.spent, nonce)
		}
	}
}
