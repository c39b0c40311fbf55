package monitoring

import (
	"fmt"
	"math"
	"time"
)

// Tier is the danger classification of a concentration value.
type Tier string

const (
	TierSafe     Tier = "safe"
	TierWarning  Tier = "warning"
	TierCritical Tier = "critical"
)

// Severity orders tiers; higher is more dangerous.
func (t Tier) Severity() int {
	switch t {
	case TierWarning:
		return 1
	case TierCritical:
		return 2
	default:
		return 0
	}
}

// MoreSevereThan reports whether t is strictly more dangerous than other.
func (t Tier) MoreSevereThan(other Tier) bool {
	return t.Severity() > other.Severity()
}

// Reading is a single CO sample. Values are in ppm.
type Reading struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Tier      Tier      `json:"status"`
	AuxFlag   bool      `json:"mosfet_status"`
}

// ValidateReading checks the ingest precondition for a raw sample.
func ValidateReading(r Reading) error {
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidReading)
	}
	if math.IsNaN(r.Value) || math.IsInf(r.Value, 0) {
		return fmt.Errorf("%w: value must be finite", ErrInvalidReading)
	}
	if r.Value < 0 {
		return fmt.Errorf("%w: value must be non-negative", ErrInvalidReading)
	}
	return nil
}
