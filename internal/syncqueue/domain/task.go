package syncqueue

import (
	"encoding/json"
	"errors"
	"time"
)

// Task kinds.
const (
	KindTelemetryBatch = "telemetry.batch"
	KindSessionClose   = "session.close"
	KindSessionDelete  = "session.delete"
	KindDeviceCommand  = "device.command"
)

var (
	ErrTaskNotFound = errors.New("syncqueue: task not found")
	// ErrPermanent marks a handler failure that retrying cannot fix.
	ErrPermanent = errors.New("syncqueue: permanent failure")
	ErrNoHandler = errors.New("syncqueue: no handler for kind")
)

// Task is a unit of deferred remote work.
type Task struct {
	ID            string          `json:"id"`
	Seq           uint64          `json:"seq"`
	Kind          string          `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	CreatedAt     time.Time       `json:"created_at"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
}

// Due reports whether the task may be attempted at now.
func (t Task) Due(now time.Time) bool {
	return !now.Before(t.NextAttemptAt)
}

// Backoff returns base*2^(attempts-1) capped at limit.
func Backoff(attempts int, base, limit time.Duration) time.Duration {
	if attempts <= 0 || base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if limit > 0 && d >= limit {
			return limit
		}
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

// SessionClosePayload is the body of a session.close task.
type SessionClosePayload struct {
	SessionID string    `json:"session_id"`
	DeviceID  string    `json:"device_id"`
	EndedAt   time.Time `json:"ended_at"`
}

// SessionDeletePayload is the body of a session.delete task, the compensation
// for a session whose start command never reached the device.
type SessionDeletePayload struct {
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
}

// DeviceCommandPayload is the body of a device.command task.
type DeviceCommandPayload struct {
	DeviceID string `json:"device_id"`
	Command  string `json:"command"`
}

// TelemetryReading is one reading inside a telemetry.batch task.
type TelemetryReading struct {
	Timestamp    time.Time `json:"timestamp"`
	COLevel      float64   `json:"co_level"`
	Status       string    `json:"status"`
	MosfetStatus bool      `json:"mosfet_status"`
}

// TelemetryBatchPayload is the body of a telemetry.batch task.
type TelemetryBatchPayload struct {
	SessionID string             `json:"session_id"`
	DeviceID  string             `json:"device_id"`
	Readings  []TelemetryReading `json:"readings"`
}
