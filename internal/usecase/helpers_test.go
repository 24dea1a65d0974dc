package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"vorion/internal/domain"
	"vorion/internal/infra/chainmem"
	"vorion/internal/infra/keys/soft"
)

var testKeyRef = domain.KeyRef{Purpose: domain.KeyPurposeChain, KID: "test-chain-key"}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store  *chainmem.Store
	keys   *soft.Manager
	clock  *fakeClock
	chain  *ProofChain
	engine *TrustEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := chainmem.NewStore()
	keys := soft.NewManager(nil)
	if _, err := keys.GenerateKey(testKeyRef); err != nil {
		t.Fatalf("generate chain key: %v", err)
	}
	clock := newFakeClock()
	chain := NewProofChain(store.ProofRecords(), keys, testKeyRef, clock.Now)
	engine := NewTrustEngine(store.Entities(), store.Profiles(), store.Signals(), chain, clock.Now, 25)
	return &fixture{
		store:  store,
		keys:   keys,
		clock:  clock,
		chain:  chain,
		engine: engine,
	}
}

func (f *fixture) initEntity(t *testing.T, entityID string) *domain.TrustProfile {
	t.Helper()
	profile, err := f.engine.InitProfile(context.Background(), entityID, domain.CreationFresh)
	if err != nil {
		t.Fatalf("init profile for %s: %v", entityID, err)
	}
	return profile
}

func (f *fixture) signal(t *testing.T, entityID string, kind domain.SignalKind, impact int) *domain.TrustProfile {
	t.Helper()
	profile, err := f.engine.RecordSignal(context.Background(), entityID, domain.TrustSignal{
		Kind:   kind,
		Impact: impact,
		Source: "test",
	})
	if err != nil {
		t.Fatalf("record signal for %s: %v", entityID, err)
	}
	return profile
}
