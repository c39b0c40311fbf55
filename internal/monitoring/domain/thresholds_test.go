package monitoring

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestClassifyBoundaries(t *testing.T) {
	th := Thresholds{Warning: 25, Critical: 50}
	cases := []struct {
		value float64
		want  Tier
	}{
		{0, TierSafe},
		{24.9, TierSafe},
		{25, TierWarning},
		{49.99, TierWarning},
		{50, TierCritical},
		{400, TierCritical},
	}
	for _, tc := range cases {
		if got := Classify(tc.value, th); got != tc.want {
			t.Fatalf("classify %.2f: expected %s, got %s", tc.value, tc.want, got)
		}
	}
}

func TestThresholdsValidate(t *testing.T) {
	if err := DefaultThresholds().Validate(); err != nil {
		t.Fatalf("default thresholds invalid: %v", err)
	}
	bad := []Thresholds{
		{Warning: 5, Critical: 50},
		{Warning: 55, Critical: 80},
		{Warning: 25, Critical: 20},
		{Warning: 25, Critical: 120},
		{Warning: 40, Critical: 40},
	}
	for _, th := range bad {
		if err := th.Validate(); !errors.Is(err, ErrInvalidThresholds) {
			t.Fatalf("thresholds %+v: expected ErrInvalidThresholds, got %v", th, err)
		}
	}
}

func TestValidateReading(t *testing.T) {
	now := time.Now()
	if err := ValidateReading(Reading{Timestamp: now, Value: 12}); err != nil {
		t.Fatalf("valid reading rejected: %v", err)
	}
	invalid := []Reading{
		{Value: 12},
		{Timestamp: now, Value: -1},
		{Timestamp: now, Value: math.NaN()},
		{Timestamp: now, Value: math.Inf(1)},
	}
	for _, r := range invalid {
		if err := ValidateReading(r); !errors.Is(err, ErrInvalidReading) {
			t.Fatalf("reading %+v: expected ErrInvalidReading, got %v", r, err)
		}
	}
}

func TestSettingsPatchRejectsInvalidThresholds(t *testing.T) {
	base := DefaultSettings()
	patch := SettingsPatch{Thresholds: &Thresholds{Warning: 60, Critical: 50}}
	got, err := patch.Apply(base)
	if !errors.Is(err, ErrInvalidThresholds) {
		t.Fatalf("expected ErrInvalidThresholds, got %v", err)
	}
	if got.Thresholds != base.Thresholds {
		t.Fatalf("thresholds changed on rejected patch: %+v", got.Thresholds)
	}
}
