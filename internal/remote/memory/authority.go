package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cosafe/internal/remote"
)

// Authority is an in-process remote authority. It enforces one open session per device.
type Authority struct {
	mu       sync.RWMutex
	now      func() time.Time
	sessions map[string]remote.Session
	commands []remote.Command
	readings []remote.Reading
	keys     map[string]struct{}
	nextID   int64
}

// NewAuthority constructs an empty authority.
func NewAuthority() *Authority {
	return &Authority{
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]remote.Session),
		keys:     make(map[string]struct{}),
	}
}

func (a *Authority) GetActiveSession(_ context.Context, deviceID string) (*remote.Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var found *remote.Session
	for _, s := range a.sessions {
		if s.DeviceID != deviceID || !s.Active() {
			continue
		}
		if found == nil || s.StartedAt.After(found.StartedAt) {
			active := s
			found = &active
		}
	}
	return found, nil
}

func (a *Authority) CreateSession(_ context.Context, session remote.Session) (remote.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.sessions {
		if s.DeviceID == session.DeviceID && s.Active() {
			return remote.Session{}, remote.ErrDeviceInUse
		}
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = a.now()
	}
	session.EndedAt = nil
	if session.LastHeartbeat == nil {
		hb := session.StartedAt
		session.LastHeartbeat = &hb
	}
	a.sessions[session.ID] = session
	return session, nil
}

func (a *Authority) CloseSession(_ context.Context, sessionID string, endedAt time.Time) (remote.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return remote.Session{}, remote.ErrSessionNotFound
	}
	if s.EndedAt == nil {
		end := endedAt
		s.EndedAt = &end
		a.sessions[sessionID] = s
	}
	return s, nil
}

func (a *Authority) DeleteSession(_ context.Context, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.sessions, sessionID)
	return nil
}

func (a *Authority) SendDeviceCommand(_ context.Context, deviceID, command string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.commands = append(a.commands, remote.Command{
		ID:        a.nextID,
		DeviceID:  deviceID,
		Command:   command,
		CreatedAt: a.now(),
	})
	return nil
}

func (a *Authority) MarkCommandExecuted(_ context.Context, commandID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.commands {
		if a.commands[i].ID == commandID {
			at := a.now()
			a.commands[i].Executed = true
			a.commands[i].ExecutedAt = &at
			return nil
		}
	}
	return nil
}

// Commands returns every queued command in insertion order.
func (a *Authority) Commands() []remote.Command {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]remote.Command(nil), a.commands...)
}

func (a *Authority) Heartbeat(_ context.Context, sessionID string, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return remote.ErrSessionNotFound
	}
	hb := at
	s.LastHeartbeat = &hb
	a.sessions[sessionID] = s
	return nil
}

func (a *Authority) ListSessions(_ context.Context, deviceID string) ([]remote.Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]remote.Session, 0, len(a.sessions))
	for _, s := range a.sessions {
		if deviceID == "" || s.DeviceID == deviceID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

func (a *Authority) GetSession(_ context.Context, sessionID string) (remote.Session, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return remote.Session{}, remote.ErrSessionNotFound
	}
	return s, nil
}

func (a *Authority) LatestReadings(_ context.Context, deviceID string, limit int) ([]remote.Reading, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []remote.Reading
	for _, r := range a.readings {
		if r.DeviceID == deviceID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *Authority) SessionReadings(_ context.Context, sessionID string) ([]remote.Reading, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sessionReadingsLocked(sessionID), nil
}

func (a *Authority) sessionReadingsLocked(sessionID string) []remote.Reading {
	var out []remote.Reading
	for _, r := range a.readings {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (a *Authority) SessionStats(_ context.Context, sessionID string) (remote.SessionStats, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return remote.SessionStats{}, remote.ErrSessionNotFound
	}
	return remote.ComputeStats(s, a.sessionReadingsLocked(sessionID), a.now()), nil
}

func (a *Authority) InsertReadings(_ context.Context, readings []remote.Reading) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, r := range readings {
		if r.Key != "" {
			if _, dup := a.keys[r.Key]; dup {
				continue
			}
			a.keys[r.Key] = struct{}{}
		}
		a.nextID++
		r.ID = a.nextID
		if r.CreatedAt.IsZero() {
			r.CreatedAt = a.now()
		}
		a.readings = append(a.readings, r)
	}
	return nil
}

func (a *Authority) UpdateSessionAnalysis(_ context.Context, sessionID, analysis string) (remote.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return remote.Session{}, remote.ErrSessionNotFound
	}
	s.Analysis = analysis
	a.sessions[sessionID] = s
	return s, nil
}
