package monitoring

import "fmt"

// Threshold bounds accepted from settings updates.
const (
	DefaultWarning  = 25.0
	DefaultCritical = 50.0

	MinWarning  = 10.0
	MaxWarning  = 50.0
	MinCritical = 30.0
	MaxCritical = 100.0
)

// Thresholds are the ppm limits separating the tiers.
type Thresholds struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// DefaultThresholds returns the factory limits.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: DefaultWarning, Critical: DefaultCritical}
}

// Validate enforces warning < critical and the per-limit ranges.
func (t Thresholds) Validate() error {
	if t.Warning < MinWarning || t.Warning > MaxWarning {
		return fmt.Errorf("%w: warning %.1f outside [%.0f,%.0f]", ErrInvalidThresholds, t.Warning, MinWarning, MaxWarning)
	}
	if t.Critical < MinCritical || t.Critical > MaxCritical {
		return fmt.Errorf("%w: critical %.1f outside [%.0f,%.0f]", ErrInvalidThresholds, t.Critical, MinCritical, MaxCritical)
	}
	if t.Warning >= t.Critical {
		return fmt.Errorf("%w: warning must be below critical", ErrInvalidThresholds)
	}
	return nil
}

// Classify maps a value onto a tier. Boundaries belong to the higher tier.
func Classify(value float64, t Thresholds) Tier {
	switch {
	case value >= t.Critical:
		return TierCritical
	case value >= t.Warning:
		return TierWarning
	default:
		return TierSafe
	}
}
