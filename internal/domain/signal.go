package domain

import "time"

type SignalKind string

const (
	SignalBehavioral SignalKind = "behavioral"
	SignalCompliance SignalKind = "compliance"
	SignalIdentity   SignalKind = "identity"
	SignalContext    SignalKind = "context"
)

// TrustSignal is an observed event affecting trust. Signals are immutable
// once recorded; proof records reference them by ID rather than duplicating
// the payload.
type TrustSignal struct {
	ID         string
	EntityID   string
	Kind       SignalKind
	Impact     int
	Weight     float64 // 0 means 1.0
	Source     string
	ObservedAt time.Time
}

// EffectiveWeight normalizes the optional weight field.
func (s TrustSignal) EffectiveWeight() float64 {
	if s.Weight <= 0 {
		return 1.0
	}
	return s.Weight
}

func (k SignalKind) Valid() bool {
	switch k {
	case SignalBehavioral, SignalCompliance, SignalIdentity, SignalContext:
		return true
	}
	return false
}

// DimensionForKind maps a signal kind to the profile dimension it moves.
func DimensionForKind(kind SignalKind) Dimension {
	switch kind {
	case SignalBehavioral:
		return DimensionBehavioral
	case SignalCompliance:
		return DimensionCompliance
	case SignalIdentity:
		return DimensionIdentity
	default:
		return DimensionContext
	}
}
