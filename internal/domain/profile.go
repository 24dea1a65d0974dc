package domain

import "time"

const (
	ScoreMin = 0
	ScoreMax = 1000
)

type Dimension string

const (
	DimensionBehavioral Dimension = "behavioral"
	DimensionCompliance Dimension = "compliance"
	DimensionIdentity   Dimension = "identity"
	DimensionContext    Dimension = "context"
)

// DimensionCaps split the 1000-point composite budget across dimensions by
// the fixed weights 0.40/0.30/0.20/0.10. The composite score is the sum of
// the capped sub-scores, so a sub-score can never push the composite past
// its share.
var DimensionCaps = map[Dimension]int{
	DimensionBehavioral: 400,
	DimensionCompliance: 300,
	DimensionIdentity:   200,
	DimensionContext:    100,
}

var Dimensions = []Dimension{
	DimensionBehavioral,
	DimensionCompliance,
	DimensionIdentity,
	DimensionContext,
}

type TrustBand int

const (
	BandSandbox TrustBand = iota
	BandProbation
	BandLimited
	BandStandard
	BandTrusted
	BandSovereign
)

var bandLabels = [...]string{"Sandbox", "Probation", "Limited", "Standard", "Trusted", "Sovereign"}

// bandFloors are the lower bounds of the six contiguous half-open score
// ranges partitioning [0,1000].
var bandFloors = [...]int{0, 100, 300, 500, 700, 900}

func (b TrustBand) String() string {
	if b < BandSandbox || b > BandSovereign {
		return "Unknown"
	}
	return bandLabels[b]
}

// BandForScore is the deterministic score-to-band function. Input is
// clamped to [0,1000] before lookup.
func BandForScore(score int) TrustBand {
	score = ClampScore(score)
	for b := BandSovereign; b > BandSandbox; b-- {
		if score >= bandFloors[b] {
			return b
		}
	}
	return BandSandbox
}

// BandFloor is the minimum score that places an entity in the band.
func BandFloor(b TrustBand) int {
	if b < BandSandbox || b > BandSovereign {
		return 0
	}
	return bandFloors[b]
}

func ClampScore(score int) int {
	if score < ScoreMin {
		return ScoreMin
	}
	if score > ScoreMax {
		return ScoreMax
	}
	return score
}

// TrustProfile is the current trust state for one entity. It is mutated
// only by the trust engine; callers treat it as read-only.
type TrustProfile struct {
	EntityID   string
	Score      int
	Dimensions map[Dimension]int
	Band       TrustBand

	// Decay bookkeeping. DecayBase is the composite score at the moment of
	// last activity; decay is always computed from it, never compounded
	// onto an already-decayed score. DecayMilestone is the index of the
	// last milestone applied (0 = none).
	DecayBase      int
	DecayMilestone int
	LastActivityAt time.Time

	// ChainPosition is the proof-chain position of the record that last
	// mutated this profile. Caches key off it.
	ChainPosition int64
	UpdatedAt     time.Time
}

// CompositeFromDimensions recomputes the composite score from sub-scores.
func CompositeFromDimensions(dims map[Dimension]int) int {
	total := 0
	for _, d := range Dimensions {
		total += dims[d]
	}
	return ClampScore(total)
}

func (p *TrustProfile) Clone() *TrustProfile {
	if p == nil {
		return nil
	}
	out := *p
	out.Dimensions = make(map[Dimension]int, len(p.Dimensions))
	for d, v := range p.Dimensions {
		out.Dimensions[d] = v
	}
	return &out
}
