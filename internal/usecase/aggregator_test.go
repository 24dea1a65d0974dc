package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"vorion/internal/domain"
	"vorion/internal/infra/anchor"
	anchormem "vorion/internal/infra/anchor/memory"
)

func newAggregatorFixture(t *testing.T, maxRecords int) (*fixture, *Aggregator) {
	t.Helper()
	f := newFixture(t)
	agg := NewAggregator(f.store.ProofRecords(), f.store.Anchors(), f.store.Entities(), f.clock.Now, maxRecords, time.Hour)
	return f, agg
}

func (f *fixture) appendRecords(t *testing.T, entityID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if _, err := f.chain.Append(context.Background(), entityID, domain.RecordSignalRecorded, map[string]any{"n": i}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
}

func TestAggregateBuildsAnchor(t *testing.T) {
	f, agg := newAggregatorFixture(t, 64)
	ctx := context.Background()
	f.appendRecords(t, "agent-1", 8)

	anchor, err := agg.Aggregate(ctx, "agent-1", nil, nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if anchor.StartPosition != 0 || anchor.EndPosition != 7 {
		t.Fatalf("range [%d, %d], want [0, 7]", anchor.StartPosition, anchor.EndPosition)
	}
	if anchor.LeafCount != 8 || anchor.TreeDepth != 3 {
		t.Fatalf("leaf count %d depth %d, want 8 and 3", anchor.LeafCount, anchor.TreeDepth)
	}
	if len(anchor.RootHash) != 32 {
		t.Fatalf("root hash is %d bytes", len(anchor.RootHash))
	}
	if anchor.Anchored() {
		t.Fatal("fresh anchor claims to be externally anchored")
	}
}

func TestAggregateConcurrentCallsNoOverlap(t *testing.T) {
	f, agg := newAggregatorFixture(t, 64)
	ctx := context.Background()
	f.appendRecords(t, "agent-1", 8)

	const callers = 8
	results := make([]domain.MerkleAnchor, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = agg.Aggregate(ctx, "agent-1", nil, nil)
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] == nil {
			if results[i].StartPosition != 0 || results[i].EndPosition != 7 {
				t.Fatalf("caller %d anchored [%d, %d], want [0, 7]",
					i, results[i].StartPosition, results[i].EndPosition)
			}
			continue
		}
		if !errors.Is(errs[i], domain.ErrInvalidRange) {
			t.Fatalf("caller %d failed with %v, want ErrInvalidRange", i, errs[i])
		}
	}

	anchors, err := agg.Anchors(ctx, "agent-1")
	if err != nil {
		t.Fatalf("list anchors: %v", err)
	}
	if len(anchors) != 1 {
		t.Fatalf("%d anchors created by concurrent aggregation, want 1", len(anchors))
	}
}

func TestAggregateIdempotentAndContiguous(t *testing.T) {
	f, agg := newAggregatorFixture(t, 64)
	ctx := context.Background()
	f.appendRecords(t, "agent-1", 4)

	first, err := agg.Aggregate(ctx, "agent-1", nil, nil)
	if err != nil {
		t.Fatalf("first aggregate: %v", err)
	}

	// Same range again returns the stored anchor.
	from, to := int64(0), int64(3)
	again, err := agg.Aggregate(ctx, "agent-1", &from, &to)
	if err != nil {
		t.Fatalf("re-aggregate: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("re-aggregation minted a new anchor %s", again.ID)
	}

	// A gap or an overlap is rejected.
	f.appendRecords(t, "agent-1", 4)
	badFrom := int64(5)
	if _, err := agg.Aggregate(ctx, "agent-1", &badFrom, nil); !errors.Is(err, domain.ErrInvalidRange) {
		t.Fatalf("gap start: %v, want ErrInvalidRange", err)
	}
	overlapFrom := int64(3)
	if _, err := agg.Aggregate(ctx, "agent-1", &overlapFrom, nil); !errors.Is(err, domain.ErrInvalidRange) {
		t.Fatalf("overlap start: %v, want ErrInvalidRange", err)
	}
	beyond := int64(99)
	okFrom := int64(4)
	if _, err := agg.Aggregate(ctx, "agent-1", &okFrom, &beyond); !errors.Is(err, domain.ErrInvalidRange) {
		t.Fatalf("end beyond tip: %v, want ErrInvalidRange", err)
	}

	// The contiguous extension works.
	second, err := agg.Aggregate(ctx, "agent-1", nil, nil)
	if err != nil {
		t.Fatalf("second aggregate: %v", err)
	}
	if second.StartPosition != 4 || second.EndPosition != 7 {
		t.Fatalf("second range [%d, %d], want [4, 7]", second.StartPosition, second.EndPosition)
	}
}

func TestAggregateEmptyChain(t *testing.T) {
	_, agg := newAggregatorFixture(t, 64)
	if _, err := agg.Aggregate(context.Background(), "agent-1", nil, nil); !errors.Is(err, domain.ErrInvalidRange) {
		t.Fatalf("aggregate empty chain: %v, want ErrInvalidRange", err)
	}
}

func TestInclusionProofRoundTrip(t *testing.T) {
	f, agg := newAggregatorFixture(t, 64)
	ctx := context.Background()
	f.appendRecords(t, "agent-1", 5) // padded to 8 leaves
	if _, err := agg.Aggregate(ctx, "agent-1", nil, nil); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	for pos := int64(0); pos < 5; pos++ {
		proof, err := agg.ProveInclusion(ctx, "agent-1", pos)
		if err != nil {
			t.Fatalf("prove inclusion of %d: %v", pos, err)
		}
		ok, err := VerifyInclusion(proof)
		if err != nil {
			t.Fatalf("verify inclusion of %d: %v", pos, err)
		}
		if !ok {
			t.Fatalf("valid proof for %d rejected", pos)
		}
	}

	// A proof against the wrong root fails cleanly.
	proof, err := agg.ProveInclusion(ctx, "agent-1", 2)
	if err != nil {
		t.Fatalf("prove inclusion: %v", err)
	}
	proof.RootHash = make([]byte, 32)
	ok, err := VerifyInclusion(proof)
	if err != nil {
		t.Fatalf("verify against wrong root: %v", err)
	}
	if ok {
		t.Fatal("proof verified against the wrong root")
	}

	// No anchor covers positions past the aggregated range.
	if _, err := agg.ProveInclusion(ctx, "agent-1", 11); err == nil {
		t.Fatal("inclusion proof for uncovered position succeeded")
	}
}

func TestInclusionProofDetectsMutatedRange(t *testing.T) {
	f, agg := newAggregatorFixture(t, 64)
	ctx := context.Background()
	f.appendRecords(t, "agent-1", 4)
	if _, err := agg.Aggregate(ctx, "agent-1", nil, nil); err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	f.store.ProofRecords().Tamper("agent-1", 1, func(r *domain.ProofRecord) {
		r.RecordHash = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
	})
	if _, err := agg.ProveInclusion(ctx, "agent-1", 1); !errors.Is(err, domain.ErrChainIntegrity) {
		t.Fatalf("prove over mutated range: %v, want ErrChainIntegrity", err)
	}
}

func TestAnchorExternallyWithRetries(t *testing.T) {
	f, agg := newAggregatorFixture(t, 64)
	ctx := context.Background()
	f.appendRecords(t, "agent-1", 4)
	stored, err := agg.Aggregate(ctx, "agent-1", nil, nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	provider := anchormem.NewProvider()
	provider.FailNext(2)
	svc, err := anchor.NewService(provider, f.store.AnchorAttempts(), 3, time.Millisecond, time.Second, f.clock.Now)
	if err != nil {
		t.Fatalf("new anchor service: %v", err)
	}
	agg.WithAnchorService(svc)

	anchored, err := agg.AnchorExternally(ctx, "agent-1", stored.ID)
	if err != nil {
		t.Fatalf("anchor externally: %v", err)
	}
	if !anchored.Anchored() {
		t.Fatal("anchor has no external ref after success")
	}
	if anchored.ExternalRef != "mem-1" {
		t.Fatalf("external ref = %q", anchored.ExternalRef)
	}

	// Already-anchored is a no-op even when the provider would fail.
	provider.FailNext(5)
	again, err := agg.AnchorExternally(ctx, "agent-1", stored.ID)
	if err != nil {
		t.Fatalf("re-anchor: %v", err)
	}
	if again.ExternalRef != anchored.ExternalRef {
		t.Fatalf("re-anchor changed ref to %q", again.ExternalRef)
	}

	// Every attempt, including the failures, left a trace.
	attempts, err := f.store.AnchorAttempts().ListByAnchor(ctx, "agent-1", stored.ID)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("%d attempts recorded, want 3", len(attempts))
	}
}

func TestAnchorExternallyExhaustedRetries(t *testing.T) {
	f, agg := newAggregatorFixture(t, 64)
	ctx := context.Background()
	f.appendRecords(t, "agent-1", 2)
	stored, err := agg.Aggregate(ctx, "agent-1", nil, nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}

	provider := anchormem.NewProvider()
	provider.FailNext(10)
	svc, err := anchor.NewService(provider, f.store.AnchorAttempts(), 2, time.Millisecond, time.Second, f.clock.Now)
	if err != nil {
		t.Fatalf("new anchor service: %v", err)
	}
	agg.WithAnchorService(svc)

	if _, err := agg.AnchorExternally(ctx, "agent-1", stored.ID); !errors.Is(err, domain.ErrAnchorUnreachable) {
		t.Fatalf("exhausted anchoring: %v, want ErrAnchorUnreachable", err)
	}

	// The failed anchor shows up for the retry sweep.
	pending, err := f.store.Anchors().ListUnanchored(ctx, 10)
	if err != nil {
		t.Fatalf("list unanchored: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != stored.ID {
		t.Fatalf("unanchored = %+v", pending)
	}
}

func TestAnchorExternallyWithoutDestination(t *testing.T) {
	f, agg := newAggregatorFixture(t, 64)
	ctx := context.Background()
	f.appendRecords(t, "agent-1", 2)
	stored, err := agg.Aggregate(ctx, "agent-1", nil, nil)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if _, err := agg.AnchorExternally(ctx, "agent-1", stored.ID); !errors.Is(err, domain.ErrAnchorUnreachable) {
		t.Fatalf("anchor without destination: %v, want ErrAnchorUnreachable", err)
	}
}
