// Package remote describes the backend authority that owns monitoring sessions,
// device commands and uploaded readings.
package remote

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDeviceInUse reports that the device already has an open session.
	ErrDeviceInUse     = errors.New("remote: device already has an active session")
	ErrSessionNotFound = errors.New("remote: session not found")
	// ErrUnavailable wraps transient transport failures.
	ErrUnavailable = errors.New("remote: authority unavailable")
)

// Device commands understood by the sensor firmware.
const (
	CommandStartSessionPrefix = "START_SESSION:"
	CommandStopSession        = "STOP_SESSION"
)

// StartCommand returns the start command for a session.
func StartCommand(sessionID string) string {
	return CommandStartSessionPrefix + sessionID
}

// Session is one monitoring session of a device.
type Session struct {
	ID            string     `json:"session_id"`
	DeviceID      string     `json:"device_id"`
	UserID        string     `json:"user_id,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	Analysis      string     `json:"ai_analysis,omitempty"`
}

// Active reports whether the session has not ended.
func (s Session) Active() bool {
	return s.EndedAt == nil
}

// Reading is an uploaded sample. Key, when set, makes the upload idempotent.
type Reading struct {
	ID           int64     `json:"id,omitempty"`
	Key          string    `json:"key,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	DeviceID     string    `json:"device_id"`
	COLevel      float64   `json:"co_level"`
	Status       string    `json:"status,omitempty"`
	MosfetStatus bool      `json:"mosfet_status"`
	CreatedAt    time.Time `json:"created_at"`
}

// Command is a queued instruction for the device.
type Command struct {
	ID         int64      `json:"id"`
	DeviceID   string     `json:"device_id"`
	Command    string     `json:"command"`
	Executed   bool       `json:"executed"`
	CreatedAt  time.Time  `json:"created_at"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// SessionStats summarizes the readings of a session.
type SessionStats struct {
	SessionID        string  `json:"session_id"`
	TotalReadings    int     `json:"total_readings"`
	AvgCOLevel       float64 `json:"avg_co_level"`
	MaxCOLevel       float64 `json:"max_co_level"`
	MinCOLevel       float64 `json:"min_co_level"`
	SafeCount        int     `json:"safe_count"`
	WarningCount     int     `json:"warning_count"`
	CriticalCount    int     `json:"critical_count"`
	MosfetAlarmCount int     `json:"mosfet_alarm_count"`
	DurationSeconds  int64   `json:"duration_seconds"`
}

// ComputeStats aggregates readings of a session. end defaults to now for open sessions.
func ComputeStats(session Session, readings []Reading, now time.Time) SessionStats {
	stats := SessionStats{SessionID: session.ID, TotalReadings: len(readings)}
	end := now
	if session.EndedAt != nil {
		end = *session.EndedAt
	}
	if !session.StartedAt.IsZero() && end.After(session.StartedAt) {
		stats.DurationSeconds = int64(end.Sub(session.StartedAt) / time.Second)
	}
	if len(readings) == 0 {
		return stats
	}
	sum := 0.0
	stats.MinCOLevel = readings[0].COLevel
	stats.MaxCOLevel = readings[0].COLevel
	for _, r := range readings {
		sum += r.COLevel
		if r.COLevel < stats.MinCOLevel {
			stats.MinCOLevel = r.COLevel
		}
		if r.COLevel > stats.MaxCOLevel {
			stats.MaxCOLevel = r.COLevel
		}
		switch r.Status {
		case "safe":
			stats.SafeCount++
		case "warning":
			stats.WarningCount++
		case "critical":
			stats.CriticalCount++
		}
		if r.MosfetStatus {
			stats.MosfetAlarmCount++
		}
	}
	stats.AvgCOLevel = sum / float64(len(readings))
	return stats
}

// Authority is the remote session authority.
type Authority interface {
	// GetActiveSession returns nil when the device has no open session.
	GetActiveSession(ctx context.Context, deviceID string) (*Session, error)
	// CreateSession returns ErrDeviceInUse when another open session exists.
	CreateSession(ctx context.Context, session Session) (Session, error)
	CloseSession(ctx context.Context, sessionID string, endedAt time.Time) (Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	SendDeviceCommand(ctx context.Context, deviceID, command string) error
	MarkCommandExecuted(ctx context.Context, commandID int64) error
	Heartbeat(ctx context.Context, sessionID string, at time.Time) error
	// ListSessions is newest first; an empty deviceID lists every device.
	ListSessions(ctx context.Context, deviceID string) ([]Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	// LatestReadings is newest first.
	LatestReadings(ctx context.Context, deviceID string, limit int) ([]Reading, error)
	// SessionReadings is oldest first.
	SessionReadings(ctx context.Context, sessionID string) ([]Reading, error)
	SessionStats(ctx context.Context, sessionID string) (SessionStats, error)
	// InsertReadings skips readings whose Key is already stored.
	InsertReadings(ctx context.Context, readings []Reading) error
	UpdateSessionAnalysis(ctx context.Context, sessionID, analysis string) (Session, error)
}
