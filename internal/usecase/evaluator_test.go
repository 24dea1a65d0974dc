package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"vorion/internal/domain"
	"vorion/internal/infra/policyopa"
)

func newEvaluatorFixture(t *testing.T, rules []policyopa.StaticRule) (*fixture, *Evaluator) {
	t.Helper()
	f := newFixture(t)
	ev := NewEvaluator(
		f.store.Entities(),
		f.engine,
		f.store.Attestations(),
		f.store.Competences(),
		policyopa.NewStatic(rules),
		f.chain,
		f.clock.Now,
	)
	return f, ev
}

func (f *fixture) attest(t *testing.T, entityID string, tier domain.Tier, domains ...string) {
	t.Helper()
	err := f.store.Attestations().Put(context.Background(), domain.Attestation{
		ID:       fmt.Sprintf("att-%s-t%d", entityID, tier),
		EntityID: entityID,
		Issuer:   "authority",
		Tier:     tier,
		Domains:  domains,
		IssuedAt: f.clock.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("put attestation: %v", err)
	}
}

func (f *fixture) assess(t *testing.T, entityID, capability string, level domain.Tier) {
	t.Helper()
	err := f.store.Competences().Put(context.Background(), domain.Competence{
		EntityID:   entityID,
		Domain:     capability,
		Level:      level,
		AssessedAt: f.clock.Now(),
	})
	if err != nil {
		t.Fatalf("put competence: %v", err)
	}
}

func (f *fixture) raiseBand(t *testing.T, entityID string, band domain.TrustBand) {
	t.Helper()
	f.signal(t, entityID, domain.SignalBehavioral, 400)
	f.signal(t, entityID, domain.SignalCompliance, 300)
	f.signal(t, entityID, domain.SignalIdentity, 200)
	profile := f.signal(t, entityID, domain.SignalContext, 100)
	if profile.Band < band {
		t.Fatalf("could not raise %s to band %s, at %s", entityID, band, profile.Band)
	}
}

func TestEvaluateMinimumOfCeilings(t *testing.T) {
	f, ev := newEvaluatorFixture(t, nil)
	f.initEntity(t, "agent-1")
	f.raiseBand(t, "agent-1", domain.BandSovereign) // runtime T5
	f.attest(t, "agent-1", domain.TierT4, "deploy")
	f.assess(t, "agent-1", "deploy", domain.TierT3)

	decision, err := ev.Evaluate(context.Background(), "agent-1",
		domain.Intent{Action: "deploy_service", Domain: "deploy", Sensitivity: domain.TierT3},
		domain.EvalContext{Visibility: domain.VisibilityAttested})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !decision.Permitted {
		t.Fatalf("denied: %s", decision.Reason)
	}
	if decision.EffectiveCeiling != domain.TierT3 {
		t.Fatalf("effective ceiling = T%d, want T3", decision.EffectiveCeiling)
	}
	if decision.LimitingFactor != domain.CeilingCompetence {
		t.Fatalf("limiting factor = %s, want competence", decision.LimitingFactor)
	}
	if len(decision.Trail) != 5 {
		t.Fatalf("trail has %d readings, want 5", len(decision.Trail))
	}
	if decision.ChainPosition == 0 {
		t.Fatal("decision was not chained")
	}
}

func TestEvaluateChainsFullTrail(t *testing.T) {
	f, ev := newEvaluatorFixture(t, nil)
	ctx := context.Background()
	f.initEntity(t, "agent-1")
	f.raiseBand(t, "agent-1", domain.BandSovereign)
	f.assess(t, "agent-1", "deploy", domain.TierT3)

	decision, err := ev.Evaluate(ctx, "agent-1",
		domain.Intent{Action: "deploy_service", Domain: "deploy", Sensitivity: domain.TierT2},
		domain.EvalContext{Visibility: domain.VisibilityAttested})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	// The decision record must carry every ceiling reading, canonicalized
	// and hashed like any other chain payload.
	tip, err := f.chain.Tip(ctx, "agent-1")
	if err != nil {
		t.Fatalf("tip: %v", err)
	}
	if tip.Position != decision.ChainPosition || tip.Kind != domain.RecordEvaluation {
		t.Fatalf("tip is %s at %d, want evaluation at %d", tip.Kind, tip.Position, decision.ChainPosition)
	}
	var payload struct {
		Permitted bool `json:"permitted"`
		Trail     []struct {
			Source string `json:"source"`
			Tier   int    `json:"tier"`
			Detail string `json:"detail"`
		} `json:"trail"`
	}
	if err := json.Unmarshal(tip.Payload, &payload); err != nil {
		t.Fatalf("decode decision payload: %v", err)
	}
	if !payload.Permitted {
		t.Fatal("recorded decision lost the permit")
	}
	if len(payload.Trail) != 5 {
		t.Fatalf("recorded trail has %d readings, want 5", len(payload.Trail))
	}
	for i, reading := range payload.Trail {
		if reading.Source != string(decision.Trail[i].Source) || reading.Tier != int(decision.Trail[i].Tier) {
			t.Fatalf("trail entry %d = %+v, want %s T%d", i, reading, decision.Trail[i].Source, decision.Trail[i].Tier)
		}
	}

	result, err := f.chain.Verify(ctx, "agent-1", nil, nil)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid {
		t.Fatalf("chain broken after evaluation: %s at %v", result.Reason, result.BrokenAt)
	}
}

func TestEvaluateDeniedAboveCeiling(t *testing.T) {
	f, ev := newEvaluatorFixture(t, nil)
	f.initEntity(t, "agent-1")
	f.raiseBand(t, "agent-1", domain.BandSovereign)
	f.assess(t, "agent-1", "deploy", domain.TierT2)

	decision, err := ev.Evaluate(context.Background(), "agent-1",
		domain.Intent{Action: "deploy_service", Domain: "deploy", Sensitivity: domain.TierT4},
		domain.EvalContext{Visibility: domain.VisibilityAttested})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Permitted {
		t.Fatal("permitted above the competence ceiling")
	}
	if decision.Reason == "" {
		t.Fatal("denial carries no reason")
	}
}

func TestEvaluateTieBreakPrecedence(t *testing.T) {
	// Observability and competence both read T2; observability outranks
	// competence in the tie-break and is reported as limiting.
	f, ev := newEvaluatorFixture(t, nil)
	f.initEntity(t, "agent-1")
	f.raiseBand(t, "agent-1", domain.BandSovereign)
	f.assess(t, "agent-1", "deploy", domain.TierT2)

	decision, err := ev.Evaluate(context.Background(), "agent-1",
		domain.Intent{Action: "deploy_service", Domain: "deploy", Sensitivity: domain.TierT2},
		domain.EvalContext{Visibility: domain.VisibilityLogged})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.EffectiveCeiling != domain.TierT2 {
		t.Fatalf("effective ceiling = T%d, want T2", decision.EffectiveCeiling)
	}
	if decision.LimitingFactor != domain.CeilingObservability {
		t.Fatalf("limiting factor = %s, want observability", decision.LimitingFactor)
	}
}

func TestEvaluateVisibilityCaps(t *testing.T) {
	cases := []struct {
		visibility domain.Visibility
		tier       domain.Tier
	}{
		{domain.VisibilityOpaque, domain.TierT1},
		{domain.VisibilityLogged, domain.TierT2},
		{domain.VisibilityInstrumented, domain.TierT4},
		{domain.VisibilityAttested, domain.TierT5},
		{"unheard-of", domain.TierT1},
	}
	for _, tc := range cases {
		t.Run(string(tc.visibility), func(t *testing.T) {
			f, ev := newEvaluatorFixture(t, nil)
			f.initEntity(t, "agent-1")
			f.raiseBand(t, "agent-1", domain.BandSovereign)
			f.assess(t, "agent-1", "ops", domain.TierT5)

			decision, err := ev.Evaluate(context.Background(), "agent-1",
				domain.Intent{Action: "act", Domain: "ops", Sensitivity: domain.TierT0},
				domain.EvalContext{Visibility: tc.visibility})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			for _, reading := range decision.Trail {
				if reading.Source == domain.CeilingObservability && reading.Tier != tc.tier {
					t.Fatalf("observability ceiling = T%d, want T%d", reading.Tier, tc.tier)
				}
			}
		})
	}
}

func TestEvaluateCrossBoundaryNeedsAttestation(t *testing.T) {
	f, ev := newEvaluatorFixture(t, nil)
	f.initEntity(t, "agent-1")
	f.raiseBand(t, "agent-1", domain.BandSovereign)
	f.assess(t, "agent-1", "external", domain.TierT5)

	decision, err := ev.Evaluate(context.Background(), "agent-1",
		domain.Intent{Action: "call_partner", Domain: "external", Sensitivity: domain.TierT1, RequiresExternalTrust: true},
		domain.EvalContext{Visibility: domain.VisibilityAttested})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Permitted {
		t.Fatal("cross-boundary intent permitted without attestation")
	}
	if decision.LimitingFactor != domain.CeilingCertification || decision.EffectiveCeiling != domain.TierT0 {
		t.Fatalf("limiting = %s at T%d, want certification at T0", decision.LimitingFactor, decision.EffectiveCeiling)
	}

	// An expired attestation does not count.
	err = f.store.Attestations().Put(context.Background(), domain.Attestation{
		ID:        "att-expired",
		EntityID:  "agent-1",
		Issuer:    "authority",
		Tier:      domain.TierT3,
		Domains:   []string{"external"},
		IssuedAt:  f.clock.Now().Add(-48 * time.Hour),
		ExpiresAt: f.clock.Now().Add(-24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("put attestation: %v", err)
	}
	decision, err = ev.Evaluate(context.Background(), "agent-1",
		domain.Intent{Action: "call_partner", Domain: "external", Sensitivity: domain.TierT1, RequiresExternalTrust: true},
		domain.EvalContext{Visibility: domain.VisibilityAttested})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Permitted {
		t.Fatal("expired attestation satisfied cross-boundary trust")
	}

	f.attest(t, "agent-1", domain.TierT3, "external")
	decision, err = ev.Evaluate(context.Background(), "agent-1",
		domain.Intent{Action: "call_partner", Domain: "external", Sensitivity: domain.TierT1, RequiresExternalTrust: true},
		domain.EvalContext{Visibility: domain.VisibilityAttested})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !decision.Permitted {
		t.Fatalf("denied with active attestation: %s", decision.Reason)
	}
}

func TestEvaluatePolicyDenyWins(t *testing.T) {
	f, ev := newEvaluatorFixture(t, []policyopa.StaticRule{
		{Environment: "production", Action: "delete_data", DenyCode: "PROD_DELETE_FORBIDDEN", DenyMessage: "no deletes in production"},
		{Environment: "production", MaxTier: 3},
	})
	f.initEntity(t, "agent-1")
	f.raiseBand(t, "agent-1", domain.BandSovereign)
	f.assess(t, "agent-1", "ops", domain.TierT5)

	decision, err := ev.Evaluate(context.Background(), "agent-1",
		domain.Intent{Action: "delete_data", Domain: "ops", Sensitivity: domain.TierT1},
		domain.EvalContext{Environment: "production", Visibility: domain.VisibilityAttested})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Permitted {
		t.Fatal("policy deny did not deny")
	}
	if decision.LimitingFactor != domain.CeilingPolicy || decision.EffectiveCeiling != domain.TierT0 {
		t.Fatalf("limiting = %s at T%d, want policy at T0", decision.LimitingFactor, decision.EffectiveCeiling)
	}

	// The tier cap applies to other production actions.
	decision, err = ev.Evaluate(context.Background(), "agent-1",
		domain.Intent{Action: "read_data", Domain: "ops", Sensitivity: domain.TierT4},
		domain.EvalContext{Environment: "production", Visibility: domain.VisibilityAttested})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Permitted || decision.EffectiveCeiling != domain.TierT3 {
		t.Fatalf("policy cap: permitted=%v ceiling=T%d, want denied at T3", decision.Permitted, decision.EffectiveCeiling)
	}
}

func TestEvaluateRevokedEntity(t *testing.T) {
	f, ev := newEvaluatorFixture(t, nil)
	ctx := context.Background()
	f.initEntity(t, "agent-1")
	f.raiseBand(t, "agent-1", domain.BandSovereign)
	if err := f.engine.Revoke(ctx, "agent-1", "compromised"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	decision, err := ev.Evaluate(ctx, "agent-1",
		domain.Intent{Action: "anything", Domain: "ops", Sensitivity: domain.TierT0},
		domain.EvalContext{Visibility: domain.VisibilityAttested})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if decision.Permitted {
		t.Fatal("revoked entity permitted")
	}
	if decision.Reason != "entity revoked" {
		t.Fatalf("reason = %q", decision.Reason)
	}
	// The denial is still recorded on the chain.
	tip, err := f.chain.Tip(ctx, "agent-1")
	if err != nil {
		t.Fatalf("tip: %v", err)
	}
	if tip.Kind != domain.RecordEvaluation {
		t.Fatalf("tip kind = %s, want evaluation", tip.Kind)
	}
}

func TestEvaluateUnknownEntity(t *testing.T) {
	_, ev := newEvaluatorFixture(t, nil)
	if _, err := ev.Evaluate(context.Background(), "ghost",
		domain.Intent{Action: "act", Domain: "ops", Sensitivity: domain.TierT0},
		domain.EvalContext{}); err == nil {
		t.Fatal("evaluation of unknown entity succeeded")
	}
}
