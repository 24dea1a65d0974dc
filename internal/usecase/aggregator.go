package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"vorion/internal/domain"
	"vorion/internal/infra/crypto"
	"vorion/internal/infra/merkle"
)

// Aggregator folds contiguous proof-chain ranges into merkle trees,
// produces inclusion proofs against stored roots, and pushes roots to an
// external anchor destination.
type Aggregator struct {
	records    ProofChainRepository
	anchors    AnchorRepository
	anchorSvc  domain.AnchorService
	entities   EntityRepository
	clock      Clock
	maxRecords int
	interval   time.Duration
	locks      *entityLocks
}

func NewAggregator(records ProofChainRepository, anchors AnchorRepository, entities EntityRepository, clock Clock, maxRecords int, interval time.Duration) *Aggregator {
	return &Aggregator{
		records:    records,
		anchors:    anchors,
		entities:   entities,
		clock:      clock,
		maxRecords: maxRecords,
		interval:   interval,
		locks:      newEntityLocks(),
	}
}

// WithAnchorService enables external anchoring. Without it, aggregation
// still works and anchors simply stay local.
func (a *Aggregator) WithAnchorService(svc domain.AnchorService) *Aggregator {
	a.anchorSvc = svc
	return a
}

// Aggregate builds a merkle tree over the record range and stores its
// root as an anchor. Ranges must extend the previous anchor with no gap
// and no overlap; re-submitting an already-anchored range returns the
// existing anchor unchanged.
func (a *Aggregator) Aggregate(ctx context.Context, entityID string, from, to *int64) (domain.MerkleAnchor, error) {
	// The trigger loop and the HTTP handler can aggregate the same entity
	// at the same time. Serialize the latest-anchor read against the
	// create so they cannot both extend the same predecessor.
	unlock := a.locks.lock(entityID)
	defer unlock()

	tip, err := a.records.Tip(ctx, entityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.MerkleAnchor{}, fmt.Errorf("aggregate empty chain: %w", domain.ErrInvalidRange)
		}
		return domain.MerkleAnchor{}, fmt.Errorf("read chain tip: %w", err)
	}

	nextStart := int64(0)
	latest, err := a.anchors.Latest(ctx, entityID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.MerkleAnchor{}, fmt.Errorf("read latest anchor: %w", err)
	}
	if latest != nil {
		nextStart = latest.EndPosition + 1
	}

	start := nextStart
	if from != nil {
		start = *from
	}
	end := tip.Position
	if to != nil {
		end = *to
	}

	if existing, err := a.anchors.GetByRange(ctx, entityID, start, end); err == nil {
		return *existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.MerkleAnchor{}, fmt.Errorf("check existing anchor: %w", err)
	}

	switch {
	case start != nextStart:
		return domain.MerkleAnchor{}, fmt.Errorf("range must start at %d, got %d: %w", nextStart, start, domain.ErrInvalidRange)
	case end < start:
		return domain.MerkleAnchor{}, fmt.Errorf("range [%d, %d] is empty: %w", start, end, domain.ErrInvalidRange)
	case end > tip.Position:
		return domain.MerkleAnchor{}, fmt.Errorf("range end %d beyond tip %d: %w", end, tip.Position, domain.ErrInvalidRange)
	}

	records, err := a.records.ListRange(ctx, entityID, start, end)
	if err != nil {
		return domain.MerkleAnchor{}, fmt.Errorf("read record range: %w", err)
	}
	if int64(len(records)) != end-start+1 {
		return domain.MerkleAnchor{}, fmt.Errorf("range [%d, %d] has gaps: %w", start, end, domain.ErrInvalidRange)
	}

	leaves := make([][]byte, 0, len(records))
	for _, record := range records {
		leaf, err := crypto.RecordHashBytes(record)
		if err != nil {
			return domain.MerkleAnchor{}, fmt.Errorf("record %d: %w", record.Position, err)
		}
		leaves = append(leaves, leaf)
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		return domain.MerkleAnchor{}, fmt.Errorf("build merkle tree: %w", err)
	}

	anchor := domain.MerkleAnchor{
		ID:            uuid.NewString(),
		EntityID:      entityID,
		StartPosition: start,
		EndPosition:   end,
		RootHash:      tree.Root(),
		TreeDepth:     tree.Depth(),
		LeafCount:     len(leaves),
		CreatedAt:     a.clock().UTC(),
	}
	if err := a.anchors.Create(ctx, anchor); err != nil {
		return domain.MerkleAnchor{}, fmt.Errorf("store anchor: %w", err)
	}
	return anchor, nil
}

// ProveInclusion builds a merkle inclusion proof for one chain position
// against the anchor that covers it.
func (a *Aggregator) ProveInclusion(ctx context.Context, entityID string, position int64) (domain.MerkleInclusionProof, error) {
	anchor, err := a.anchors.FindCovering(ctx, entityID, position)
	if err != nil {
		return domain.MerkleInclusionProof{}, fmt.Errorf("no anchor covers position %d: %w", position, err)
	}
	records, err := a.records.ListRange(ctx, entityID, anchor.StartPosition, anchor.EndPosition)
	if err != nil {
		return domain.MerkleInclusionProof{}, fmt.Errorf("read anchored range: %w", err)
	}
	leaves := make([][]byte, 0, len(records))
	for _, record := range records {
		leaf, err := crypto.RecordHashBytes(record)
		if err != nil {
			return domain.MerkleInclusionProof{}, fmt.Errorf("record %d: %w", record.Position, err)
		}
		leaves = append(leaves, leaf)
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		return domain.MerkleInclusionProof{}, fmt.Errorf("rebuild merkle tree: %w", err)
	}
	if !bytes.Equal(tree.Root(), anchor.RootHash) {
		return domain.MerkleInclusionProof{}, fmt.Errorf("rebuilt root diverges from anchor %s: %w", anchor.ID, domain.ErrChainIntegrity)
	}

	index := int(position - anchor.StartPosition)
	siblings, err := tree.Proof(index)
	if err != nil {
		return domain.MerkleInclusionProof{}, fmt.Errorf("build inclusion proof: %w", err)
	}
	return domain.MerkleInclusionProof{
		EntityID:  entityID,
		Position:  position,
		LeafIndex: index,
		LeafHash:  leaves[index],
		Siblings:  siblings,
		RootHash:  anchor.RootHash,
		TreeDepth: anchor.TreeDepth,
		LeafCount: anchor.LeafCount,
	}, nil
}

// VerifyInclusion checks an inclusion proof against its embedded root. It
// needs no storage access, which is what makes proofs portable.
func VerifyInclusion(proof domain.MerkleInclusionProof) (bool, error) {
	return merkle.VerifyInclusion(proof.LeafHash, proof.LeafIndex, proof.Siblings, proof.RootHash)
}

// AnchorExternally submits the anchor's root to the configured external
// destination. An already-anchored root is a no-op.
func (a *Aggregator) AnchorExternally(ctx context.Context, entityID, anchorID string) (domain.MerkleAnchor, error) {
	anchor, err := a.anchors.GetByID(ctx, entityID, anchorID)
	if err != nil {
		return domain.MerkleAnchor{}, fmt.Errorf("load anchor: %w", err)
	}
	if anchor.Anchored() {
		return *anchor, nil
	}
	if a.anchorSvc == nil {
		return *anchor, fmt.Errorf("no anchor destination configured: %w", domain.ErrAnchorUnreachable)
	}
	receipt, err := a.anchorSvc.AnchorRoot(ctx, *anchor)
	if err != nil {
		return *anchor, err
	}
	at := receipt.AnchoredAt
	if at.IsZero() {
		at = a.clock().UTC()
	}
	if err := a.anchors.SetExternalRef(ctx, entityID, anchorID, receipt.ExternalRef, at); err != nil {
		return domain.MerkleAnchor{}, fmt.Errorf("store external ref: %w", err)
	}
	anchor.ExternalRef = receipt.ExternalRef
	anchor.AnchoredAt = &at
	return *anchor, nil
}

// Anchors lists stored anchors for an entity.
func (a *Aggregator) Anchors(ctx context.Context, entityID string) ([]domain.MerkleAnchor, error) {
	return a.anchors.ListByEntity(ctx, entityID)
}

// RunTriggerLoop aggregates in the background: every tick, entities with
// at least maxRecords unanchored records, or any unanchored record older
// than the interval, get a new anchor.
func (a *Aggregator) RunTriggerLoop(ctx context.Context, tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.sweepPending(ctx); err != nil {
				log.Printf("aggregation sweep: %v", err)
			}
		}
	}
}

func (a *Aggregator) sweepPending(ctx context.Context) error {
	ids, err := a.entities.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	for _, entityID := range ids {
		due, err := a.aggregationDue(ctx, entityID)
		if err != nil {
			log.Printf("aggregation check for %s: %v", entityID, err)
			continue
		}
		if !due {
			continue
		}
		anchor, err := a.Aggregate(ctx, entityID, nil, nil)
		if err != nil {
			log.Printf("aggregate %s: %v", entityID, err)
			continue
		}
		if a.anchorSvc != nil {
			if _, err := a.AnchorExternally(ctx, entityID, anchor.ID); err != nil {
				log.Printf("anchor %s for %s: %v", anchor.ID, entityID, err)
			}
		}
	}
	return nil
}

func (a *Aggregator) aggregationDue(ctx context.Context, entityID string) (bool, error) {
	tip, err := a.records.Tip(ctx, entityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	nextStart := int64(0)
	latest, err := a.anchors.Latest(ctx, entityID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	if latest != nil {
		nextStart = latest.EndPosition + 1
	}
	pending := tip.Position - nextStart + 1
	if pending <= 0 {
		return false, nil
	}
	if int(pending) >= a.maxRecords {
		return true, nil
	}
	oldest, err := a.records.GetByPosition(ctx, entityID, nextStart)
	if err != nil {
		return false, err
	}
	return a.clock().UTC().Sub(oldest.RecordedAt) >= a.interval, nil
}

// RunAnchorSweep retries external anchoring for anchors whose submission
// previously failed.
func (a *Aggregator) RunAnchorSweep(ctx context.Context, tick time.Duration, batch int) {
	if a.anchorSvc == nil {
		return
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := a.anchors.ListUnanchored(ctx, batch)
			if err != nil {
				log.Printf("list unanchored: %v", err)
				continue
			}
			for _, anchor := range pending {
				if _, err := a.AnchorExternally(ctx, anchor.EntityID, anchor.ID); err != nil {
					log.Printf("anchor sweep %s: %v", anchor.ID, err)
				}
			}
		}
	}
}
