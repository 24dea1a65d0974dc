package domain

import "time"

// Intent describes the action an entity wants to perform.
type Intent struct {
	Action      string
	Domain      string
	Sensitivity Tier
	// RequiresExternalTrust marks intents crossing a trust boundary; with
	// no active attestation such intents hit the no-cross-boundary floor.
	RequiresExternalTrust bool
}

// Visibility describes how much insight exists into an entity's internals.
// Coarser visibility caps effective permission regardless of earned trust.
type Visibility string

const (
	VisibilityOpaque       Visibility = "opaque"
	VisibilityLogged       Visibility = "logged"
	VisibilityInstrumented Visibility = "instrumented"
	VisibilityAttested     Visibility = "attested"
)

// VisibilityCaps is the fixed observability ceiling table.
var VisibilityCaps = map[Visibility]Tier{
	VisibilityOpaque:       TierT1,
	VisibilityLogged:       TierT2,
	VisibilityInstrumented: TierT4,
	VisibilityAttested:     TierT5,
}

type EvalContext struct {
	Environment string
	Visibility  Visibility
	Attributes  map[string]string
}

type CeilingSource string

const (
	CeilingPolicy        CeilingSource = "policy"
	CeilingObservability CeilingSource = "observability"
	CeilingCertification CeilingSource = "certification"
	CeilingRuntime       CeilingSource = "runtime"
	CeilingCompetence    CeilingSource = "competence"
)

// CeilingReading is one axis of the evaluation trail. The trail always
// lists every ceiling considered, not just the binding one.
type CeilingReading struct {
	Source CeilingSource
	Tier   Tier
	Detail string
}

type Decision struct {
	EntityID         string
	Intent           Intent
	Permitted        bool
	EffectiveCeiling Tier
	LimitingFactor   CeilingSource
	Trail            []CeilingReading
	Reason           string
	EvaluatedAt      time.Time
	ChainPosition    int64
}

// PolicyInput is the document handed to the policy engine for the policy
// ceiling axis.
type PolicyInput struct {
	EntityID    string            `json:"entity_id"`
	Action      string            `json:"action"`
	Domain      string            `json:"domain"`
	Environment string            `json:"environment"`
	Sensitivity int               `json:"sensitivity"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PolicyResult is the normalized policy-engine output: an optional tier
// cap plus explicit deny rules. MaxTier < 0 means no cap.
type PolicyResult struct {
	MaxTier int          `json:"max_tier"`
	Deny    []PolicyDeny `json:"deny"`
}
