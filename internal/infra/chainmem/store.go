package chainmem

import (
	"context"
	"sync"
	"time"

	"vorion/internal/domain"
)

// Store is the in-memory backing store used by tests and by trustd when no
// database is configured. One mutex guards everything; the access pattern
// is per-entity and short-lived.
type Store struct {
	mu           sync.RWMutex
	entities     map[string]domain.Entity
	chains       map[string]*chainState
	profiles     map[string]*domain.TrustProfile
	signals      map[string][]domain.TrustSignal
	anchors      map[string][]domain.MerkleAnchor
	attempts     map[string][]domain.AnchorAttempt
	attestations map[string][]domain.Attestation
	competences  map[string]domain.Competence
}

type chainState struct {
	records     []domain.ProofRecord
	blocked     bool
	blockReason string
}

func NewStore() *Store {
	return &Store{
		entities:     make(map[string]domain.Entity),
		chains:       make(map[string]*chainState),
		profiles:     make(map[string]*domain.TrustProfile),
		signals:      make(map[string][]domain.TrustSignal),
		anchors:      make(map[string][]domain.MerkleAnchor),
		attempts:     make(map[string][]domain.AnchorAttempt),
		attestations: make(map[string][]domain.Attestation),
		competences:  make(map[string]domain.Competence),
	}
}

func (s *Store) Entities() *EntityRepo          { return &EntityRepo{s: s} }
func (s *Store) ProofRecords() *ChainRepo       { return &ChainRepo{s: s} }
func (s *Store) Profiles() *ProfileRepo         { return &ProfileRepo{s: s} }
func (s *Store) Signals() *SignalRepo           { return &SignalRepo{s: s} }
func (s *Store) Anchors() *AnchorRepo           { return &AnchorRepo{s: s} }
func (s *Store) AnchorAttempts() *AttemptRepo   { return &AttemptRepo{s: s} }
func (s *Store) Attestations() *AttestationRepo { return &AttestationRepo{s: s} }
func (s *Store) Competences() *CompetenceRepo   { return &CompetenceRepo{s: s} }

type EntityRepo struct{ s *Store }

func (r *EntityRepo) Create(ctx context.Context, entity domain.Entity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.entities[entity.ID] = entity
	return nil
}

func (r *EntityRepo) GetByID(ctx context.Context, id string) (*domain.Entity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	entity, ok := r.s.entities[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := entity
	return &out, nil
}

func (r *EntityRepo) SetRevoked(ctx context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	entity, ok := r.s.entities[id]
	if !ok {
		return domain.ErrNotFound
	}
	entity.Revoked = true
	entity.RevokedAt = &at
	r.s.entities[id] = entity
	return nil
}

func (r *EntityRepo) ListIDs(ctx context.Context) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ids := make([]string, 0, len(r.s.entities))
	for id := range r.s.entities {
		ids = append(ids, id)
	}
	return ids, nil
}

type ChainRepo struct{ s *Store }

func (r *ChainRepo) AppendIfTip(ctx context.Context, record domain.ProofRecord) (domain.ProofRecord, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	state, ok := r.s.chains[record.EntityID]
	if !ok {
		state = &chainState{}
		r.s.chains[record.EntityID] = state
	}
	wantPrev := domain.GenesisHash
	wantPos := int64(0)
	if n := len(state.records); n > 0 {
		wantPrev = state.records[n-1].RecordHash
		wantPos = state.records[n-1].Position + 1
	}
	if record.PrevHash != wantPrev || record.Position != wantPos {
		return domain.ProofRecord{}, domain.ErrConcurrentAppend
	}
	state.records = append(state.records, record)
	return record, nil
}

func (r *ChainRepo) Tip(ctx context.Context, entityID string) (*domain.ProofRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	state, ok := r.s.chains[entityID]
	if !ok || len(state.records) == 0 {
		return nil, domain.ErrNotFound
	}
	out := state.records[len(state.records)-1]
	return &out, nil
}

func (r *ChainRepo) GetByPosition(ctx context.Context, entityID string, position int64) (*domain.ProofRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	state, ok := r.s.chains[entityID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	for _, record := range state.records {
		if record.Position == position {
			out := record
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *ChainRepo) ListRange(ctx context.Context, entityID string, from, to int64) ([]domain.ProofRecord, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	state, ok := r.s.chains[entityID]
	if !ok {
		return nil, nil
	}
	out := make([]domain.ProofRecord, 0, to-from+1)
	for _, record := range state.records {
		if record.Position >= from && record.Position <= to {
			out = append(out, record)
		}
	}
	return out, nil
}

func (r *ChainRepo) SetBlocked(ctx context.Context, entityID, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	state, ok := r.s.chains[entityID]
	if !ok {
		state = &chainState{}
		r.s.chains[entityID] = state
	}
	state.blocked = true
	state.blockReason = reason
	return nil
}

func (r *ChainRepo) Blocked(ctx context.Context, entityID string) (bool, string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	state, ok := r.s.chains[entityID]
	if !ok {
		return false, "", nil
	}
	return state.blocked, state.blockReason, nil
}

func (r *ChainRepo) ClearBlocked(ctx context.Context, entityID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if state, ok := r.s.chains[entityID]; ok {
		state.blocked = false
		state.blockReason = ""
	}
	return nil
}

// Tamper overwrites a stored record in place. Only verification tests use
// it; the real repositories have no such operation.
func (r *ChainRepo) Tamper(entityID string, position int64, mutate func(*domain.ProofRecord)) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	state, ok := r.s.chains[entityID]
	if !ok {
		return
	}
	for i := range state.records {
		if state.records[i].Position == position {
			mutate(&state.records[i])
			return
		}
	}
}

type ProfileRepo struct{ s *Store }

func (r *ProfileRepo) Get(ctx context.Context, entityID string) (*domain.TrustProfile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	profile, ok := r.s.profiles[entityID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return profile.Clone(), nil
}

func (r *ProfileRepo) Save(ctx context.Context, profile *domain.TrustProfile) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.profiles[profile.EntityID] = profile.Clone()
	return nil
}

type SignalRepo struct{ s *Store }

func (r *SignalRepo) Append(ctx context.Context, signal domain.TrustSignal) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.signals[signal.EntityID] = append(r.s.signals[signal.EntityID], signal)
	return nil
}

func (r *SignalRepo) ListByEntity(ctx context.Context, entityID string, limit int) ([]domain.TrustSignal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	all := r.s.signals[entityID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]domain.TrustSignal, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}

type AnchorRepo struct{ s *Store }

func (r *AnchorRepo) Create(ctx context.Context, anchor domain.MerkleAnchor) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.anchors[anchor.EntityID] = append(r.s.anchors[anchor.EntityID], anchor)
	return nil
}

func (r *AnchorRepo) GetByID(ctx context.Context, entityID, anchorID string) (*domain.MerkleAnchor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, anchor := range r.s.anchors[entityID] {
		if anchor.ID == anchorID {
			out := anchor
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *AnchorRepo) GetByRange(ctx context.Context, entityID string, start, end int64) (*domain.MerkleAnchor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, anchor := range r.s.anchors[entityID] {
		if anchor.StartPosition == start && anchor.EndPosition == end {
			out := anchor
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *AnchorRepo) FindCovering(ctx context.Context, entityID string, position int64) (*domain.MerkleAnchor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, anchor := range r.s.anchors[entityID] {
		if anchor.StartPosition <= position && position <= anchor.EndPosition {
			out := anchor
			return &out, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *AnchorRepo) Latest(ctx context.Context, entityID string) (*domain.MerkleAnchor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	anchors := r.s.anchors[entityID]
	if len(anchors) == 0 {
		return nil, domain.ErrNotFound
	}
	best := anchors[0]
	for _, anchor := range anchors[1:] {
		if anchor.EndPosition > best.EndPosition {
			best = anchor
		}
	}
	return &best, nil
}

func (r *AnchorRepo) ListByEntity(ctx context.Context, entityID string) ([]domain.MerkleAnchor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.MerkleAnchor, len(r.s.anchors[entityID]))
	copy(out, r.s.anchors[entityID])
	return out, nil
}

func (r *AnchorRepo) ListUnanchored(ctx context.Context, limit int) ([]domain.MerkleAnchor, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.MerkleAnchor
	for _, anchors := range r.s.anchors {
		for _, anchor := range anchors {
			if anchor.Anchored() {
				continue
			}
			out = append(out, anchor)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (r *AnchorRepo) SetExternalRef(ctx context.Context, entityID, anchorID, externalRef string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	anchors := r.s.anchors[entityID]
	for i := range anchors {
		if anchors[i].ID == anchorID {
			anchors[i].ExternalRef = externalRef
			anchoredAt := at
			anchors[i].AnchoredAt = &anchoredAt
			return nil
		}
	}
	return domain.ErrNotFound
}

type AttemptRepo struct{ s *Store }

func (r *AttemptRepo) Append(ctx context.Context, attempt domain.AnchorAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := attempt.EntityID + "|" + attempt.AnchorID
	r.s.attempts[key] = append(r.s.attempts[key], attempt)
	return nil
}

func (r *AttemptRepo) ListByAnchor(ctx context.Context, entityID, anchorID string) ([]domain.AnchorAttempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	key := entityID + "|" + anchorID
	out := make([]domain.AnchorAttempt, len(r.s.attempts[key]))
	copy(out, r.s.attempts[key])
	return out, nil
}

type AttestationRepo struct{ s *Store }

func (r *AttestationRepo) Put(ctx context.Context, att domain.Attestation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing := r.s.attestations[att.EntityID]
	for i := range existing {
		if existing[i].ID == att.ID {
			existing[i] = att
			return nil
		}
	}
	r.s.attestations[att.EntityID] = append(existing, att)
	return nil
}

func (r *AttestationRepo) ListByEntity(ctx context.Context, entityID string) ([]domain.Attestation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	out := make([]domain.Attestation, len(r.s.attestations[entityID]))
	copy(out, r.s.attestations[entityID])
	return out, nil
}

type CompetenceRepo struct{ s *Store }

func (r *CompetenceRepo) Put(ctx context.Context, comp domain.Competence) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.competences[comp.EntityID+"|"+comp.Domain] = comp
	return nil
}

func (r *CompetenceRepo) Get(ctx context.Context, entityID, capabilityDomain string) (*domain.Competence, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	comp, ok := r.s.competences[entityID+"|"+capabilityDomain]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := comp
	return &out, nil
}
