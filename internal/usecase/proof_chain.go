package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"vorion/internal/domain"
	"vorion/internal/infra/crypto"
)

const (
	defaultAppendRetries = 5

	// Cache entries are keyed by tip position and invalidate naturally on
	// append; the TTL just bounds memory for idle entities.
	verificationCacheTTL = 10 * time.Minute
)

// ProofChain appends signed, hash-linked records to per-entity chains and
// verifies stored chains record by record.
type ProofChain struct {
	records ProofChainRepository
	keys    domain.KeyManager
	keyRef  domain.KeyRef
	clock   Clock
	cache   VerificationCache
	retries int
}

func NewProofChain(records ProofChainRepository, keys domain.KeyManager, keyRef domain.KeyRef, clock Clock) *ProofChain {
	return &ProofChain{
		records: records,
		keys:    keys,
		keyRef:  keyRef,
		clock:   clock,
		retries: defaultAppendRetries,
	}
}

// WithVerificationCache memoizes full-chain verification results keyed by
// the tip position at verification time.
func (c *ProofChain) WithVerificationCache(cache VerificationCache) *ProofChain {
	c.cache = cache
	return c
}

// Append creates the next record on the entity's chain. The payload is
// canonicalized and hashed, the record is linked to the current tip and
// signed, and the store accepts it only if the tip is unchanged. On a tip
// conflict the append is rebuilt against the new tip, up to a bounded
// number of attempts. Nothing is persisted when signing fails.
func (c *ProofChain) Append(ctx context.Context, entityID string, kind domain.RecordKind, payload any) (domain.ProofRecord, error) {
	blocked, reason, err := c.records.Blocked(ctx, entityID)
	if err != nil {
		return domain.ProofRecord{}, fmt.Errorf("check chain block state: %w", err)
	}
	if blocked {
		return domain.ProofRecord{}, fmt.Errorf("%w: %s", domain.ErrChainBlocked, reason)
	}

	canonical, payloadHash, err := crypto.HashPayload(payload)
	if err != nil {
		return domain.ProofRecord{}, fmt.Errorf("canonicalize payload: %w", err)
	}

	for attempt := 0; attempt < c.retries; attempt++ {
		record, err := c.buildNext(ctx, entityID, kind, canonical, payloadHash)
		if err != nil {
			return domain.ProofRecord{}, err
		}
		stored, err := c.records.AppendIfTip(ctx, record)
		if err != nil {
			if errors.Is(err, domain.ErrConcurrentAppend) {
				continue
			}
			return domain.ProofRecord{}, fmt.Errorf("append record: %w", err)
		}
		return stored, nil
	}
	return domain.ProofRecord{}, fmt.Errorf("append record for %s: %w", entityID, domain.ErrConcurrentAppend)
}

func (c *ProofChain) buildNext(ctx context.Context, entityID string, kind domain.RecordKind, canonical []byte, payloadHash string) (domain.ProofRecord, error) {
	prevHash := domain.GenesisHash
	position := int64(0)
	tip, err := c.records.Tip(ctx, entityID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return domain.ProofRecord{}, fmt.Errorf("read chain tip: %w", err)
	}
	if tip != nil {
		prevHash = tip.RecordHash
		position = tip.Position + 1
	}

	record := domain.ProofRecord{
		EntityID:    entityID,
		Position:    position,
		Kind:        kind,
		Payload:     canonical,
		PayloadHash: payloadHash,
		PrevHash:    prevHash,
		RecordedAt:  c.clock().UTC(),
	}
	recordHash, err := crypto.RecordHash(record)
	if err != nil {
		return domain.ProofRecord{}, fmt.Errorf("compute record hash: %w", err)
	}
	record.RecordHash = recordHash

	signingPayload, err := crypto.SigningPayload(record)
	if err != nil {
		return domain.ProofRecord{}, fmt.Errorf("build signing payload: %w", err)
	}
	sig, err := c.keys.Sign(ctx, c.keyRef, signingPayload)
	if err != nil {
		return domain.ProofRecord{}, fmt.Errorf("sign record: %w", err)
	}
	record.Signature = sig
	record.SignerKID = c.keyRef.KID
	return record, nil
}

// Verify walks the stored records in [from, to], recomputing payload
// hashes, record hashes, previous-hash linkage and signatures. It reports
// the first broken position; a break on the full chain write-blocks the
// entity until an operator reconciles it.
func (c *ProofChain) Verify(ctx context.Context, entityID string, from, to *int64) (domain.ChainVerification, error) {
	tip, err := c.records.Tip(ctx, entityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ChainVerification{EntityID: entityID, Valid: true}, nil
		}
		return domain.ChainVerification{}, fmt.Errorf("read chain tip: %w", err)
	}

	start := int64(0)
	if from != nil {
		start = *from
	}
	end := tip.Position
	if to != nil {
		end = *to
	}
	if start < 0 || end > tip.Position || start > end {
		return domain.ChainVerification{}, fmt.Errorf("verify range [%d, %d] against tip %d: %w", start, end, tip.Position, domain.ErrInvalidRange)
	}

	fullChain := start == 0 && end == tip.Position
	cacheKey := entityID + "|" + strconv.FormatInt(tip.Position, 10)
	if fullChain && c.cache != nil {
		if cached, ok, err := c.cache.Get(ctx, cacheKey); err == nil && ok {
			return *cached, nil
		}
	}

	result := domain.ChainVerification{EntityID: entityID, From: start, To: end, Valid: true}

	prevHash := domain.GenesisHash
	if start > 0 {
		pred, err := c.records.GetByPosition(ctx, entityID, start-1)
		if err != nil {
			return domain.ChainVerification{}, fmt.Errorf("read predecessor %d: %w", start-1, err)
		}
		prevHash = pred.RecordHash
	}

	records, err := c.records.ListRange(ctx, entityID, start, end)
	if err != nil {
		return domain.ChainVerification{}, fmt.Errorf("read chain range: %w", err)
	}
	if int64(len(records)) != end-start+1 {
		pos := start + int64(len(records))
		result.Valid = false
		result.BrokenAt = &pos
		result.Reason = "missing record"
	}

	for i := range records {
		if !result.Valid {
			break
		}
		record := records[i]
		if reason := c.verifyRecord(ctx, record, start+int64(i), prevHash); reason != "" {
			pos := record.Position
			result.Valid = false
			result.BrokenAt = &pos
			result.Reason = reason
			break
		}
		prevHash = record.RecordHash
	}

	if fullChain {
		if !result.Valid {
			if err := c.records.SetBlocked(ctx, entityID, result.Reason); err != nil {
				return domain.ChainVerification{}, fmt.Errorf("block broken chain: %w", err)
			}
		}
		if c.cache != nil {
			_ = c.cache.Put(ctx, cacheKey, result, verificationCacheTTL)
		}
	}
	return result, nil
}

func (c *ProofChain) verifyRecord(ctx context.Context, record domain.ProofRecord, wantPosition int64, wantPrevHash string) string {
	if record.Position != wantPosition {
		return fmt.Sprintf("position gap: have %d, want %d", record.Position, wantPosition)
	}
	if record.PrevHash != wantPrevHash {
		return "previous-hash mismatch"
	}
	_, payloadHash, err := crypto.HashPayload(record.Payload)
	if err != nil {
		return "payload not canonicalizable"
	}
	if payloadHash != record.PayloadHash {
		return "payload hash mismatch"
	}
	recordHash, err := crypto.RecordHash(record)
	if err != nil {
		return "record hash not computable"
	}
	if recordHash != record.RecordHash {
		return "record hash mismatch"
	}
	signingPayload, err := crypto.SigningPayload(record)
	if err != nil {
		return "signing payload not computable"
	}
	ref := domain.KeyRef{Purpose: domain.KeyPurposeChain, KID: record.SignerKID}
	pubKey, err := c.keys.PublicKey(ctx, ref)
	if err != nil {
		return "signer key unavailable"
	}
	if err := c.keys.Verify(ctx, ref, signingPayload, record.Signature, pubKey); err != nil {
		return "signature invalid"
	}
	return ""
}

// Tombstone documents the logical deletion of an earlier record by
// appending a record_tombstoned entry that references it. The target
// record itself is never mutated or removed.
func (c *ProofChain) Tombstone(ctx context.Context, entityID string, position int64, reason string) (domain.ProofRecord, error) {
	if _, err := c.records.GetByPosition(ctx, entityID, position); err != nil {
		return domain.ProofRecord{}, fmt.Errorf("resolve tombstone target %d: %w", position, err)
	}
	payload := map[string]any{
		"target_position": position,
		"reason":          reason,
	}
	return c.Append(ctx, entityID, domain.RecordTombstone, payload)
}

// Reconcile clears the write block after an operator has repaired or
// tombstoned the broken records. The chain is re-verified first; a chain
// that still fails stays blocked.
func (c *ProofChain) Reconcile(ctx context.Context, entityID string) (domain.ChainVerification, error) {
	if err := c.records.ClearBlocked(ctx, entityID); err != nil {
		return domain.ChainVerification{}, fmt.Errorf("clear chain block: %w", err)
	}
	return c.Verify(ctx, entityID, nil, nil)
}

// Tip exposes the current chain head.
func (c *ProofChain) Tip(ctx context.Context, entityID string) (*domain.ProofRecord, error) {
	return c.records.Tip(ctx, entityID)
}

// Records lists a stored range without verifying it.
func (c *ProofChain) Records(ctx context.Context, entityID string, from, to int64) ([]domain.ProofRecord, error) {
	return c.records.ListRange(ctx, entityID, from, to)
}
