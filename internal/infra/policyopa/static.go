package policyopa

import (
	"context"

	"vorion/internal/domain"
)

// StaticRule caps or denies matching evaluations without a rego bundle.
// Empty fields match anything.
type StaticRule struct {
	Environment string
	Action      string
	Domain      string
	MaxTier     int
	DenyCode    string
	DenyMessage string
}

// Static is the bundle-less policy engine: trustd falls back to it when no
// bundle path is configured. With no rules it imposes no cap.
type Static struct {
	rules []StaticRule
}

func NewStatic(rules []StaticRule) *Static {
	return &Static{rules: rules}
}

func (s *Static) Evaluate(_ context.Context, input domain.PolicyInput) (domain.PolicyResult, error) {
	result := domain.PolicyResult{MaxTier: -1}
	for _, rule := range s.rules {
		if !matches(rule.Environment, input.Environment) ||
			!matches(rule.Action, input.Action) ||
			!matches(rule.Domain, input.Domain) {
			continue
		}
		if rule.DenyCode != "" {
			result.Deny = append(result.Deny, domain.PolicyDeny{
				Code:    rule.DenyCode,
				Message: rule.DenyMessage,
			})
			continue
		}
		if result.MaxTier < 0 || rule.MaxTier < result.MaxTier {
			result.MaxTier = rule.MaxTier
		}
	}
	return result, nil
}

func matches(pattern, value string) bool {
	return pattern == "" || pattern == "*" || pattern == value
}
