package application

import (
	"errors"
	"testing"
	"time"

	monitoring "cosafe/internal/monitoring/domain"
)

func TestDecodeReadingFormats(t *testing.T) {
	received := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		body string
		want time.Time
	}{
		{`{"co_level": 12.5}`, received},
		{`{"co_level": 12.5, "timestamp": "2026-03-01T10:00:00Z"}`, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)},
		{`{"co_level": 12.5, "timestamp": 1772359200000}`, time.UnixMilli(1772359200000).UTC()},
	}
	for _, tc := range cases {
		reading, err := DecodeReading([]byte(tc.body), received)
		if err != nil {
			t.Fatalf("decode %s: %v", tc.body, err)
		}
		if !reading.Timestamp.Equal(tc.want) || reading.Value != 12.5 {
			t.Fatalf("decode %s: unexpected reading %+v", tc.body, reading)
		}
	}
}

func TestDecodeReadingRejectsBadInput(t *testing.T) {
	for _, body := range []string{`{}`, `{"co_level": -1}`, `{"co_level": 5, "timestamp": "yesterday"}`, `not json`} {
		if _, err := DecodeReading([]byte(body), time.Now()); !errors.Is(err, monitoring.ErrInvalidReading) {
			t.Fatalf("decode %s: expected ErrInvalidReading, got %v", body, err)
		}
	}
}
