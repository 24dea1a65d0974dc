package policyopa

import (
	"context"
	"testing"

	"vorion/internal/domain"
)

func TestStaticNoRulesNoCap(t *testing.T) {
	out, err := NewStatic(nil).Evaluate(context.Background(), domain.PolicyInput{
		Action:      "deploy",
		Environment: "production",
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

func TestStaticWildcardsMatch(t *testing.T) {
	engine := NewStatic([]StaticRule{
		{Environment: "production", Action: "*", MaxTier: 3},
		{Domain: "payments", MaxTier: 2},
	})

	out, err := engine.Evaluate(context.Background(), domain.PolicyInput{
		Action:      "deploy",
		Domain:      "payments",
		Environment: "production",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.MaxTier != 2 {
		t.Fatalf("expected the lower of the matching caps, got %d", out.MaxTier)
	}

	out, err = engine.Evaluate(context.Background(), domain.PolicyInput{
		Action:      "read",
		Domain:      "docs",
		Environment: "staging",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if out.MaxTier != -1 {
		t.Fatalf("expected no cap for unmatched input, got %d", out.MaxTier)
	}
}

func TestStaticDenyAccumulates(t *testing.T) {
	engine := NewStatic([]StaticRule{
		{Environment: "production", DenyCode: "CHANGE_FREEZE", DenyMessage: "production change freeze"},
		{Action: "delete", DenyCode: "DESTRUCTIVE_BLOCKED", DenyMessage: "destructive actions blocked"},
		{Action: "delete", MaxTier: 1},
	})

	out, err := engine.Evaluate(context.Background(), domain.PolicyInput{
		Action:      "delete",
		Environment: "production",
	})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(out.Deny) != 2 {
		t.Fatalf("expected both denies, got %v", out.Deny)
	}
	if out.Deny[0].Code != "CHANGE_FREEZE" || out.Deny[1].Code != "DESTRUCTIVE_BLOCKED" {
		t.Fatalf("unexpected deny codes: %v", out.Deny)
	}
	if out.MaxTier != 1 {
		t.Fatalf("expected cap to apply alongside denies, got %d", out.MaxTier)
	}
}
