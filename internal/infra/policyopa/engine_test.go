package policyopa

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"vorion/internal/domain"
)

const testBundle = `package vorion.policy

caps[tier] {
	input.environment == "production"
	input.action == "deploy"
	tier := 2
}

caps[tier] {
	input.domain == "payments"
	tier := 1
}

denies[item] {
	input.sensitivity > 3
	item := {"code": "SENSITIVITY_BLOCKED", "message": "sensitivity above policy limit"}
}

denies[item] {
	input.environment == "production"
	input.attributes.change_freeze == "true"
	item := {"code": "CHANGE_FREEZE", "message": "production change freeze in effect"}
}

max_tier := tier {
	count(caps) > 0
	tier := min(caps)
}

max_tier := -1 {
	count(caps) == 0
}

result := {
	"max_tier": max_tier,
	"deny": [item | item := denies[_]],
}
`

func newEngine(t *testing.T, rego string) *Engine {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "policy.rego"), []byte(rego), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}
	engine, err := NewEngineFromBundlePath(context.Background(), dir, "test")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestEngineDeterministic(t *testing.T) {
	engine := newEngine(t, testBundle)
	input := domain.PolicyInput{
		EntityID:    "agent-1",
		Action:      "deploy",
		Domain:      "billing",
		Environment: "production",
	}

	first, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate first: %v", err)
	}
	second, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate second: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected deterministic policy evaluation")
	}
	if first.MaxTier != 2 {
		t.Fatalf("expected tier cap 2, got %d", first.MaxTier)
	}
	if len(first.Deny) != 0 {
		t.Fatalf("expected empty deny list, got %v", first.Deny)
	}
	if engine.BundleHash() == "" {
		t.Fatalf("expected bundle hash to be set")
	}
}

func TestEngineTakesLowestCap(t *testing.T) {
	engine := newEngine(t, testBundle)
	out, err := engine.Evaluate(context.Background(), domain.PolicyInput{
		EntityID:    "agent-1",
		Action:      "deploy",
		Domain:      "payments",
		Environment: "production",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.MaxTier != 1 {
		t.Fatalf("expected the lower cap to win, got %d", out.MaxTier)
	}
}

func TestEngineNoMatchMeansNoCap(t *testing.T) {
	engine := newEngine(t, testBundle)
	out, err := engine.Evaluate(context.Background(), domain.PolicyInput{
		EntityID:    "agent-1",
		Action:      "read",
		Domain:      "docs",
		Environment: "staging",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.MaxTier != -1 {
		t.Fatalf("expected no cap, got %d", out.MaxTier)
	}
	if len(out.Deny) != 0 {
		t.Fatalf("expected no denies, got %v", out.Deny)
	}
}

func TestEngineDenyOrdering(t *testing.T) {
	engine := newEngine(t, testBundle)
	out, err := engine.Evaluate(context.Background(), domain.PolicyInput{
		EntityID:    "agent-1",
		Action:      "deploy",
		Domain:      "billing",
		Environment: "production",
		Sensitivity: 5,
		Attributes:  map[string]string{"change_freeze": "true"},
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(out.Deny) != 2 {
		t.Fatalf("expected both denies, got %v", out.Deny)
	}
	if out.Deny[0].Code != "CHANGE_FREEZE" || out.Deny[1].Code != "SENSITIVITY_BLOCKED" {
		t.Fatalf("expected deterministic deny ordering, got %v", out.Deny)
	}
}

func TestEngineOmittedMaxTierMeansNoCap(t *testing.T) {
	engine := newEngine(t, `package vorion.policy

result := {"deny": []}
`)
	out, err := engine.Evaluate(context.Background(), domain.PolicyInput{EntityID: "agent-1"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.MaxTier != -1 {
		t.Fatalf("expected omitted max_tier to mean no cap, got %d", out.MaxTier)
	}
}

func TestEngineRejectsTimeBuiltin(t *testing.T) {
	rejectBuiltin(t, "time.now_ns()")
}

func TestEngineRejectsHttpSend(t *testing.T) {
	rejectBuiltin(t, "http.send({\"method\": \"get\", \"url\": \"https://example.com\"})")
}

func TestEngineRejectsRand(t *testing.T) {
	rejectBuiltin(t, "rand.intn(\"seed\", 10)")
}

func rejectBuiltin(t *testing.T, expr string) {
	t.Helper()
	dir := t.TempDir()
	regoContent := `package vorion.policy
result := {"max_tier": -1, "deny": []} {
  ` + expr + `
}`
	if err := os.WriteFile(filepath.Join(dir, "policy.rego"), []byte(regoContent), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}

	_, err := NewEngineFromBundlePath(context.Background(), dir, "test")
	if err == nil {
		t.Fatalf("expected builtin to be rejected")
	}
}
