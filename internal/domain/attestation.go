package domain

import "time"

// Tier is the shared six-level ordering used by certification tiers,
// competence levels, and permission ceilings. It is deliberately the same
// scale as TrustBand so the evaluator can take a minimum across axes.
type Tier int

const (
	TierT0 Tier = iota
	TierT1
	TierT2
	TierT3
	TierT4
	TierT5
)

func (t Tier) Valid() bool {
	return t >= TierT0 && t <= TierT5
}

// Attestation is an external claim about an entity's certification tier
// and scope, issued independently of the proof chain. Multiple
// attestations may coexist; the highest non-expired tier governs.
type Attestation struct {
	ID           string
	EntityID     string
	Issuer       string
	Tier         Tier
	Domains      []string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	EvidenceRefs []string
}

func (a Attestation) Active(now time.Time) bool {
	if now.Before(a.IssuedAt) {
		return false
	}
	return a.ExpiresAt.IsZero() || now.Before(a.ExpiresAt)
}

func (a Attestation) Covers(domain string) bool {
	if len(a.Domains) == 0 {
		return true
	}
	for _, d := range a.Domains {
		if d == domain || d == "*" {
			return true
		}
	}
	return false
}

// HighestActiveTier returns the governing certification tier for a domain,
// and whether any active attestation covers it at all.
func HighestActiveTier(attestations []Attestation, domain string, now time.Time) (Tier, bool) {
	best := TierT0
	found := false
	for _, a := range attestations {
		if !a.Active(now) || !a.Covers(domain) {
			continue
		}
		if !found || a.Tier > best {
			best = a.Tier
		}
		found = true
	}
	return best, found
}

// Competence is an externally assessed per-domain skill level.
type Competence struct {
	EntityID   string
	Domain     string
	Level      Tier
	AssessedAt time.Time
}
