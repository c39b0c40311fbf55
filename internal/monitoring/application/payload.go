package application

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	monitoring "cosafe/internal/monitoring/domain"
)

// ReadingPayload is the wire form of a sensor sample used by every reading source.
// Timestamp may be RFC3339 text or epoch milliseconds; when absent the receive time is used.
type ReadingPayload struct {
	Timestamp    json.RawMessage `json:"timestamp,omitempty"`
	COLevel      *float64        `json:"co_level"`
	MosfetStatus bool            `json:"mosfet_status"`
	DeviceID     string          `json:"device_id,omitempty"`
}

// DecodeReading parses a payload into a reading.
func DecodeReading(body []byte, received time.Time) (monitoring.Reading, error) {
	var payload ReadingPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return monitoring.Reading{}, fmt.Errorf("%w: %v", monitoring.ErrInvalidReading, err)
	}
	return payload.Reading(received)
}

// Reading converts the payload, validating it.
func (p ReadingPayload) Reading(received time.Time) (monitoring.Reading, error) {
	if p.COLevel == nil {
		return monitoring.Reading{}, fmt.Errorf("%w: co_level is required", monitoring.ErrInvalidReading)
	}
	ts, err := parsePayloadTime(p.Timestamp, received)
	if err != nil {
		return monitoring.Reading{}, err
	}
	reading := monitoring.Reading{Timestamp: ts, Value: *p.COLevel, AuxFlag: p.MosfetStatus}
	if err := monitoring.ValidateReading(reading); err != nil {
		return monitoring.Reading{}, err
	}
	return reading, nil
}

func parsePayloadTime(raw json.RawMessage, received time.Time) (time.Time, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return received.UTC(), nil
	}
	if strings.HasPrefix(text, `"`) {
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp: %v", monitoring.ErrInvalidReading, err)
		}
		parsed, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: timestamp must be RFC3339", monitoring.ErrInvalidReading)
		}
		return parsed.UTC(), nil
	}
	var millis int64
	if err := json.Unmarshal(raw, &millis); err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp must be RFC3339 or epoch millis", monitoring.ErrInvalidReading)
	}
	return time.UnixMilli(millis).UTC(), nil
}
