package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vorion/internal/domain"
)

// Evaluator computes the effective permission for an intent: five
// independent ceilings are read, the minimum wins, and the whole trail is
// recorded on the entity's proof chain.
type Evaluator struct {
	entities     EntityRepository
	engine       *TrustEngine
	attestations AttestationRepository
	competences  CompetenceRepository
	policy       PolicyEngine
	chain        *ProofChain
	clock        Clock
}

func NewEvaluator(entities EntityRepository, engine *TrustEngine, attestations AttestationRepository, competences CompetenceRepository, policy PolicyEngine, chain *ProofChain, clock Clock) *Evaluator {
	return &Evaluator{
		entities:     entities,
		engine:       engine,
		attestations: attestations,
		competences:  competences,
		policy:       policy,
		chain:        chain,
		clock:        clock,
	}
}

// ceilingPrecedence breaks ties when several ceilings share the minimum:
// the listed-first source is reported as the limiting factor.
var ceilingPrecedence = []domain.CeilingSource{
	domain.CeilingPolicy,
	domain.CeilingObservability,
	domain.CeilingCertification,
	domain.CeilingRuntime,
	domain.CeilingCompetence,
}

// Evaluate answers "may this entity do this, here, now". A denial is a
// normal decision, not an error; errors mean the evaluation itself could
// not be completed.
func (ev *Evaluator) Evaluate(ctx context.Context, entityID string, intent domain.Intent, evalCtx domain.EvalContext) (domain.Decision, error) {
	now := ev.clock().UTC()
	decision := domain.Decision{
		EntityID:    entityID,
		Intent:      intent,
		EvaluatedAt: now,
	}
	if !intent.Sensitivity.Valid() {
		return domain.Decision{}, fmt.Errorf("invalid intent sensitivity %d", intent.Sensitivity)
	}

	entity, err := ev.entities.GetByID(ctx, entityID)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("load entity: %w", err)
	}
	if entity.Revoked {
		decision.Permitted = false
		decision.EffectiveCeiling = domain.TierT0
		decision.LimitingFactor = domain.CeilingPolicy
		decision.Reason = "entity revoked"
		decision.Trail = []domain.CeilingReading{{
			Source: domain.CeilingPolicy,
			Tier:   domain.TierT0,
			Detail: "entity revoked",
		}}
		return ev.record(ctx, decision)
	}

	readings := make(map[domain.CeilingSource]domain.CeilingReading, 5)

	cert := ev.certificationCeiling(ctx, entityID, intent, now)
	competence := ev.competenceCeiling(ctx, entityID, intent.Domain)
	runtime, err := ev.runtimeCeiling(ctx, entityID)
	if err != nil {
		return domain.Decision{}, err
	}
	observability := ev.observabilityCeiling(evalCtx.Visibility)
	policy, err := ev.policyCeiling(ctx, entityID, intent, evalCtx)
	if err != nil {
		return domain.Decision{}, err
	}
	readings[domain.CeilingCertification] = cert
	readings[domain.CeilingCompetence] = competence
	readings[domain.CeilingRuntime] = runtime
	readings[domain.CeilingObservability] = observability
	readings[domain.CeilingPolicy] = policy

	effective := domain.TierT5
	limiting := domain.CeilingPolicy
	for _, source := range ceilingPrecedence {
		if readings[source].Tier < effective {
			effective = readings[source].Tier
			limiting = source
		}
	}

	// Trail order mirrors how operators read a decision: earned trust
	// axes first, imposed caps last.
	decision.Trail = []domain.CeilingReading{
		readings[domain.CeilingCertification],
		readings[domain.CeilingCompetence],
		readings[domain.CeilingRuntime],
		readings[domain.CeilingObservability],
		readings[domain.CeilingPolicy],
	}
	decision.EffectiveCeiling = effective
	decision.LimitingFactor = limiting
	decision.Permitted = effective >= intent.Sensitivity
	if !decision.Permitted {
		decision.Reason = fmt.Sprintf("intent requires T%d, %s ceiling is T%d", intent.Sensitivity, limiting, effective)
	}
	return ev.record(ctx, decision)
}

func (ev *Evaluator) certificationCeiling(ctx context.Context, entityID string, intent domain.Intent, now time.Time) domain.CeilingReading {
	reading := domain.CeilingReading{Source: domain.CeilingCertification}
	atts, err := ev.attestations.ListByEntity(ctx, entityID)
	if err != nil {
		reading.Tier = domain.TierT0
		reading.Detail = "attestation store unavailable"
		return reading
	}
	tier, found := domain.HighestActiveTier(atts, intent.Domain, now)
	switch {
	case found:
		reading.Tier = tier
		reading.Detail = fmt.Sprintf("highest active attestation T%d", tier)
	case intent.RequiresExternalTrust:
		reading.Tier = domain.TierT0
		reading.Detail = "no cross-boundary trust: no active attestation"
	default:
		reading.Tier = domain.TierT5
		reading.Detail = "no attestation required"
	}
	return reading
}

func (ev *Evaluator) competenceCeiling(ctx context.Context, entityID, capabilityDomain string) domain.CeilingReading {
	reading := domain.CeilingReading{Source: domain.CeilingCompetence}
	comp, err := ev.competences.Get(ctx, entityID, capabilityDomain)
	if err != nil {
		reading.Tier = domain.TierT0
		reading.Detail = fmt.Sprintf("no demonstrated competence in %q", capabilityDomain)
		return reading
	}
	reading.Tier = comp.Level
	reading.Detail = fmt.Sprintf("assessed level T%d", comp.Level)
	return reading
}

func (ev *Evaluator) runtimeCeiling(ctx context.Context, entityID string) (domain.CeilingReading, error) {
	reading := domain.CeilingReading{Source: domain.CeilingRuntime}
	profile, err := ev.engine.CurrentProfile(ctx, entityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			reading.Tier = domain.TierT0
			reading.Detail = "no trust profile"
			return reading, nil
		}
		return reading, fmt.Errorf("load trust profile: %w", err)
	}
	reading.Tier = domain.Tier(profile.Band)
	reading.Detail = fmt.Sprintf("score %d, band %s", profile.Score, profile.Band)
	return reading, nil
}

func (ev *Evaluator) observabilityCeiling(visibility domain.Visibility) domain.CeilingReading {
	reading := domain.CeilingReading{Source: domain.CeilingObservability}
	tier, ok := domain.VisibilityCaps[visibility]
	if !ok {
		visibility = domain.VisibilityOpaque
		tier = domain.VisibilityCaps[domain.VisibilityOpaque]
	}
	reading.Tier = tier
	reading.Detail = fmt.Sprintf("visibility %s", visibility)
	return reading
}

func (ev *Evaluator) policyCeiling(ctx context.Context, entityID string, intent domain.Intent, evalCtx domain.EvalContext) (domain.CeilingReading, error) {
	reading := domain.CeilingReading{Source: domain.CeilingPolicy}
	result, err := ev.policy.Evaluate(ctx, domain.PolicyInput{
		EntityID:    entityID,
		Action:      intent.Action,
		Domain:      intent.Domain,
		Environment: evalCtx.Environment,
		Sensitivity: int(intent.Sensitivity),
		Attributes:  evalCtx.Attributes,
	})
	if err != nil {
		return reading, fmt.Errorf("evaluate policy: %w", err)
	}
	if len(result.Deny) > 0 {
		reading.Tier = domain.TierT0
		reading.Detail = fmt.Sprintf("denied by policy: %s", result.Deny[0].Code)
		return reading, nil
	}
	if result.MaxTier < 0 || result.MaxTier > int(domain.TierT5) {
		reading.Tier = domain.TierT5
		reading.Detail = "no policy cap"
		return reading, nil
	}
	reading.Tier = domain.Tier(result.MaxTier)
	reading.Detail = fmt.Sprintf("policy cap T%d", result.MaxTier)
	return reading, nil
}

// record appends the decision to the proof chain so evaluations are as
// auditable as score changes.
func (ev *Evaluator) record(ctx context.Context, decision domain.Decision) (domain.Decision, error) {
	// The canonical JSON writer only walks map[string]any and []any, so
	// the trail must be built as []any to be hashable.
	trail := make([]any, 0, len(decision.Trail))
	for _, r := range decision.Trail {
		trail = append(trail, map[string]any{
			"source": string(r.Source),
			"tier":   int(r.Tier),
			"detail": r.Detail,
		})
	}
	record, err := ev.chain.Append(ctx, decision.EntityID, domain.RecordEvaluation, map[string]any{
		"action":            decision.Intent.Action,
		"domain":            decision.Intent.Domain,
		"sensitivity":       int(decision.Intent.Sensitivity),
		"permitted":         decision.Permitted,
		"effective_ceiling": int(decision.EffectiveCeiling),
		"limiting_factor":   string(decision.LimitingFactor),
		"reason":            decision.Reason,
		"trail":             trail,
	})
	if err != nil {
		return domain.Decision{}, err
	}
	decision.ChainPosition = record.Position
	return decision, nil
}
