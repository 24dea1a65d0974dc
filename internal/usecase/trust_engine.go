package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"vorion/internal/domain"
)

// Decay schedule. Milestones give the multiplier applied to the score the
// entity held at its last activity; past the half-life the factor keeps
// halving every further half-life period.
const (
	decayGraceDays    = 7
	decayHalfLifeDays = 182
)

var decayMilestones = []struct {
	Days   int
	Factor float64
}{
	{7, 0.930},
	{14, 0.875},
	{28, 0.800},
	{56, 0.700},
	{112, 0.580},
	{182, 0.500},
}

// decayFactor maps days of inactivity to the cumulative multiplier and
// the milestone index reached. Milestone 0 means no decay is due.
func decayFactor(days int) (float64, int) {
	if days < decayGraceDays {
		return 1.0, 0
	}
	if days >= decayHalfLifeDays {
		halvings := 1 + (days-decayHalfLifeDays)/decayHalfLifeDays
		return math.Pow(0.5, float64(halvings)), len(decayMilestones) + (days-decayHalfLifeDays)/decayHalfLifeDays
	}
	factor, milestone := 1.0, 0
	for i, m := range decayMilestones {
		if days >= m.Days {
			factor = m.Factor
			milestone = i + 1
		}
	}
	return factor, milestone
}

// DecayedScore computes what a score decays to after the given inactivity,
// always from the undecayed base so repeated application never compounds.
func DecayedScore(base int, days int) int {
	factor, _ := decayFactor(days)
	return domain.ClampScore(int(math.Round(float64(base) * factor)))
}

// TrustEngine owns trust profiles: initialization with provenance
// modifiers, signal ingestion, and inactivity decay. Every state change
// appends a proof record before the profile is saved.
type TrustEngine struct {
	entities         EntityRepository
	profiles         ProfileRepository
	signals          SignalRepository
	chain            *ProofChain
	clock            Clock
	recoveryBonusCap int
	locks            *entityLocks
}

func NewTrustEngine(entities EntityRepository, profiles ProfileRepository, signals SignalRepository, chain *ProofChain, clock Clock, recoveryBonusCap int) *TrustEngine {
	return &TrustEngine{
		entities:         entities,
		profiles:         profiles,
		signals:          signals,
		chain:            chain,
		clock:            clock,
		recoveryBonusCap: recoveryBonusCap,
		locks:            newEntityLocks(),
	}
}

// InitProfile registers an entity and seeds its trust profile. Provenance
// shifts the starting identity sub-score: an evolved or promoted lineage
// starts above zero, an imported one is clamped back to zero.
func (e *TrustEngine) InitProfile(ctx context.Context, entityID string, creation domain.CreationType) (*domain.TrustProfile, error) {
	if _, ok := domain.ProvenanceModifiers[creation]; !ok {
		return nil, fmt.Errorf("unknown creation type %q", creation)
	}
	unlock := e.locks.lock(entityID)
	defer unlock()

	if existing, err := e.profiles.Get(ctx, entityID); err == nil {
		return existing, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load profile: %w", err)
	}

	now := e.clock().UTC()
	if err := e.entities.Create(ctx, domain.Entity{ID: entityID, CreatedAt: now, Creation: creation}); err != nil {
		return nil, fmt.Errorf("create entity: %w", err)
	}

	identitySeed := domain.ProvenanceModifiers[creation]
	if identitySeed < 0 {
		identitySeed = 0
	}
	if cap := domain.DimensionCaps[domain.DimensionIdentity]; identitySeed > cap {
		identitySeed = cap
	}
	profile := &domain.TrustProfile{
		EntityID: entityID,
		Dimensions: map[domain.Dimension]int{
			domain.DimensionBehavioral: 0,
			domain.DimensionCompliance: 0,
			domain.DimensionIdentity:   identitySeed,
			domain.DimensionContext:    0,
		},
		LastActivityAt: now,
		UpdatedAt:      now,
	}
	profile.Score = domain.CompositeFromDimensions(profile.Dimensions)
	profile.Band = domain.BandForScore(profile.Score)
	profile.DecayBase = profile.Score

	record, err := e.chain.Append(ctx, entityID, domain.RecordProfileInitialized, map[string]any{
		"creation":      string(creation),
		"identity_seed": identitySeed,
		"score":         profile.Score,
		"band":          profile.Band.String(),
	})
	if err != nil {
		return nil, err
	}
	profile.ChainPosition = record.Position
	if err := e.profiles.Save(ctx, profile); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return profile, nil
}

// RecordSignal applies a trust signal to the entity's profile. Pending
// decay is materialized first so decay and signal compose no matter which
// side is observed first. Positive signals earned while decayed add a
// capped recovery bonus, and any signal counts as activity for the
// inactivity clock.
func (e *TrustEngine) RecordSignal(ctx context.Context, entityID string, signal domain.TrustSignal) (*domain.TrustProfile, error) {
	if !signal.Kind.Valid() {
		return nil, fmt.Errorf("unknown signal kind %q", signal.Kind)
	}
	entity, err := e.entities.GetByID(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("load entity: %w", err)
	}
	if entity.Revoked {
		return nil, fmt.Errorf("record signal for %s: %w", entityID, domain.ErrEntityRevoked)
	}

	unlock := e.locks.lock(entityID)
	defer unlock()

	profile, err := e.profiles.Get(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	now := e.clock().UTC()
	scoreBefore, bandBefore := profile.Score, profile.Band

	decayed := e.materializeDecay(profile, now)

	if signal.ID == "" {
		signal.ID = uuid.NewString()
	}
	signal.EntityID = entityID
	if signal.ObservedAt.IsZero() {
		signal.ObservedAt = now
	}

	dim := domain.DimensionForKind(signal.Kind)
	delta := int(math.Round(float64(signal.Impact) * signal.EffectiveWeight()))
	e.applyToDimension(profile, dim, delta)

	recovered := 0
	if delta > 0 && profile.DecayMilestone > 0 {
		recovered = e.recoveryBonusCap
		e.applyToDimension(profile, dim, recovered)
	}

	profile.Score = domain.CompositeFromDimensions(profile.Dimensions)
	profile.Band = domain.BandForScore(profile.Score)
	profile.DecayBase = profile.Score
	profile.DecayMilestone = 0
	profile.LastActivityAt = now
	profile.UpdatedAt = now

	record, err := e.chain.Append(ctx, entityID, domain.RecordSignalRecorded, map[string]any{
		"signal_id":          signal.ID,
		"kind":               string(signal.Kind),
		"impact":             signal.Impact,
		"weight":             signal.EffectiveWeight(),
		"source":             signal.Source,
		"dimension":          string(dim),
		"delta":              delta,
		"recovery_bonus":     recovered,
		"decay_materialized": decayed,
		"score_before":       scoreBefore,
		"score_after":        profile.Score,
		"band_before":        bandBefore.String(),
		"band_after":         profile.Band.String(),
	})
	if err != nil {
		return nil, err
	}
	profile.ChainPosition = record.Position

	if err := e.signals.Append(ctx, signal); err != nil {
		return nil, fmt.Errorf("store signal: %w", err)
	}
	if err := e.profiles.Save(ctx, profile); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return profile, nil
}

// ApplyDecay materializes any decay milestone the entity has crossed. It
// is idempotent: re-running inside the same milestone changes nothing and
// appends nothing.
func (e *TrustEngine) ApplyDecay(ctx context.Context, entityID string) (*domain.TrustProfile, error) {
	unlock := e.locks.lock(entityID)
	defer unlock()

	profile, err := e.profiles.Get(ctx, entityID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	now := e.clock().UTC()
	days := daysBetween(profile.LastActivityAt, now)
	_, milestone := decayFactor(days)
	if milestone <= profile.DecayMilestone {
		return profile, nil
	}

	scoreBefore := profile.Score
	e.materializeDecay(profile, now)
	profile.UpdatedAt = now

	record, err := e.chain.Append(ctx, entityID, domain.RecordDecayApplied, map[string]any{
		"days_inactive": days,
		"milestone":     profile.DecayMilestone,
		"score_before":  scoreBefore,
		"score_after":   profile.Score,
		"band":          profile.Band.String(),
	})
	if err != nil {
		return nil, err
	}
	profile.ChainPosition = record.Position
	if err := e.profiles.Save(ctx, profile); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return profile, nil
}

// CurrentProfile returns the profile with pending decay previewed but not
// persisted, which is what permission evaluation must read.
func (e *TrustEngine) CurrentProfile(ctx context.Context, entityID string) (*domain.TrustProfile, error) {
	profile, err := e.profiles.Get(ctx, entityID)
	if err != nil {
		return nil, err
	}
	preview := profile.Clone()
	e.materializeDecay(preview, e.clock().UTC())
	return preview, nil
}

// Revoke marks the entity revoked and records it on the chain. Revoked
// entities evaluate to a hard deny and accept no further signals.
func (e *TrustEngine) Revoke(ctx context.Context, entityID, reason string) error {
	entity, err := e.entities.GetByID(ctx, entityID)
	if err != nil {
		return fmt.Errorf("load entity: %w", err)
	}
	if entity.Revoked {
		return nil
	}
	now := e.clock().UTC()
	if _, err := e.chain.Append(ctx, entityID, domain.RecordEntityRevoked, map[string]any{
		"reason":     reason,
		"revoked_at": now.Format(time.RFC3339),
	}); err != nil {
		return err
	}
	if err := e.entities.SetRevoked(ctx, entityID, now); err != nil {
		return fmt.Errorf("mark entity revoked: %w", err)
	}
	return nil
}

// Signals lists recent raw signals for an entity.
func (e *TrustEngine) Signals(ctx context.Context, entityID string, limit int) ([]domain.TrustSignal, error) {
	return e.signals.ListByEntity(ctx, entityID, limit)
}

// materializeDecay advances the profile to the decay milestone implied by
// its inactivity, recomputing the composite from the undecayed base and
// rescaling the sub-scores to match. Returns true when anything changed.
func (e *TrustEngine) materializeDecay(profile *domain.TrustProfile, now time.Time) bool {
	days := daysBetween(profile.LastActivityAt, now)
	factor, milestone := decayFactor(days)
	if milestone <= profile.DecayMilestone {
		return false
	}
	target := domain.ClampScore(int(math.Round(float64(profile.DecayBase) * factor)))
	scaleDimensions(profile.Dimensions, target)
	profile.Score = domain.CompositeFromDimensions(profile.Dimensions)
	profile.Band = domain.BandForScore(profile.Score)
	profile.DecayMilestone = milestone
	return true
}

func (e *TrustEngine) applyToDimension(profile *domain.TrustProfile, dim domain.Dimension, delta int) {
	v := profile.Dimensions[dim] + delta
	if v < 0 {
		v = 0
	}
	if cap := domain.DimensionCaps[dim]; v > cap {
		v = cap
	}
	profile.Dimensions[dim] = v
}

// scaleDimensions rescales sub-scores proportionally so they sum to the
// target composite, distributing rounding leftovers to the largest
// remainders first.
func scaleDimensions(dims map[domain.Dimension]int, target int) {
	current := domain.CompositeFromDimensions(dims)
	if current == 0 || target >= current {
		return
	}
	type share struct {
		dim       domain.Dimension
		value     int
		remainder float64
	}
	shares := make([]share, 0, len(domain.Dimensions))
	assigned := 0
	for _, d := range domain.Dimensions {
		exact := float64(dims[d]) * float64(target) / float64(current)
		floor := int(exact)
		shares = append(shares, share{dim: d, value: floor, remainder: exact - float64(floor)})
		assigned += floor
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].remainder > shares[j].remainder })
	for i := 0; i < len(shares) && assigned < target; i++ {
		shares[i].value++
		assigned++
	}
	for _, s := range shares {
		dims[s.dim] = s.value
	}
}

func daysBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from) / (24 * time.Hour))
}
