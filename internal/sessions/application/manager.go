package application

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"cosafe/internal/observability/metrics"
	"cosafe/internal/remote"
	sessions "cosafe/internal/sessions/domain"
	syncqueue "cosafe/internal/syncqueue/domain"
)

// Defaults for the session lifecycle.
const (
	DefaultCommandAttempts   = 3
	DefaultCommandBackoff    = time.Second
	DefaultHeartbeatInterval = 30 * time.Second
)

// Queue accepts deferred deliveries.
type Queue interface {
	Enqueue(ctx context.Context, kind string, payload any) (syncqueue.Task, error)
}

// Listener is told when a session starts or stops on this client.
type Listener interface {
	SessionStarted(session remote.Session)
	SessionStopped(ctx context.Context, session remote.Session)
}

// Clock provides current time.
type Clock interface {
	Now() time.Time
}

// Manager starts and stops monitoring sessions against the remote authority.
type Manager struct {
	authority         remote.Authority
	queue             Queue
	listener          Listener
	clock             Clock
	logger            *log.Logger
	attempts          int
	backoff           time.Duration
	heartbeatInterval time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	mu            sync.Mutex
	heartbeats    map[string]context.CancelFunc
	closedLocally map[string]time.Time
}

// Option customizes the manager.
type Option func(*Manager)

// WithQueue defers remote work that failed to the sync queue.
func WithQueue(queue Queue) Option {
	return func(m *Manager) {
		m.queue = queue
	}
}

// WithListener registers a session listener.
func WithListener(listener Listener) Option {
	return func(m *Manager) {
		m.listener = listener
	}
}

// WithClock overrides the manager clock.
func WithClock(clock Clock) Option {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithCommandRetry overrides the start command attempts and the pause between them.
func WithCommandRetry(attempts int, backoff time.Duration) Option {
	return func(m *Manager) {
		if attempts > 0 {
			m.attempts = attempts
		}
		if backoff >= 0 {
			m.backoff = backoff
		}
	}
}

// WithHeartbeatInterval overrides the heartbeat period.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.heartbeatInterval = d
		}
	}
}

// NewManager constructs a session manager.
func NewManager(authority remote.Authority, opts ...Option) (*Manager, error) {
	if authority == nil {
		return nil, errors.New("sessions: nil authority")
	}
	m := &Manager{
		authority:         authority,
		clock:             systemClock{},
		logger:            log.Default(),
		attempts:          DefaultCommandAttempts,
		backoff:           DefaultCommandBackoff,
		heartbeatInterval: DefaultHeartbeatInterval,
		locks:             make(map[string]*sync.Mutex),
		heartbeats:        make(map[string]context.CancelFunc),
		closedLocally:     make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// StartMonitoringSession opens a session for the device and tells the device to start.
func (m *Manager) StartMonitoringSession(ctx context.Context, deviceID, userID string) (remote.Session, error) {
	if deviceID == "" {
		return remote.Session{}, errors.New("sessions: device id required")
	}
	unlock := m.lockDevice(deviceID)
	defer unlock()

	active, err := m.authority.GetActiveSession(ctx, deviceID)
	if err != nil {
		metrics.IncSessionOperation("start", metrics.ResultError)
		return remote.Session{}, m.remoteError("check active session", err)
	}
	if active != nil {
		metrics.IncSessionOperation("start", "device_in_use")
		return remote.Session{}, sessions.NewError(sessions.KindDeviceInUse, fmt.Sprintf("device %s has active session %s", deviceID, active.ID), nil)
	}

	created, err := m.authority.CreateSession(ctx, remote.Session{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		UserID:    userID,
		StartedAt: m.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, remote.ErrDeviceInUse) {
			metrics.IncSessionOperation("start", "device_in_use")
			return remote.Session{}, sessions.NewError(sessions.KindDeviceInUse, fmt.Sprintf("device %s has an active session", deviceID), err)
		}
		metrics.IncSessionOperation("start", metrics.ResultError)
		return remote.Session{}, m.remoteError("create session", err)
	}

	if err := m.sendStart(ctx, deviceID, created.ID); err != nil {
		// rollback runs even if ctx is cancelled
		rollbackCtx := context.WithoutCancel(ctx)
		if delErr := m.authority.DeleteSession(rollbackCtx, created.ID); delErr != nil {
			m.logger.Printf("sessions rollback error: session=%s err=%v", created.ID, delErr)
			m.deferRollback(rollbackCtx, created)
		}
		metrics.IncSessionOperation("start", "command_failed")
		return remote.Session{}, sessions.NewError(sessions.KindCommandFailed, fmt.Sprintf("device %s did not accept start command", deviceID), err)
	}

	m.startHeartbeat(created.ID)
	if m.listener != nil {
		m.listener.SessionStarted(created)
	}
	metrics.IncSessionOperation("start", metrics.ResultSuccess)
	return created, nil
}

// StopMonitoringSession closes the session and tells the device to stop.
func (m *Manager) StopMonitoringSession(ctx context.Context, sessionID, deviceID string) (remote.Session, error) {
	if sessionID == "" {
		return remote.Session{}, errors.New("sessions: session id required")
	}
	if deviceID == "" {
		existing, err := m.authority.GetSession(ctx, sessionID)
		if err != nil {
			metrics.IncSessionOperation("stop", metrics.ResultError)
			return remote.Session{}, m.remoteError("load session", err)
		}
		deviceID = existing.DeviceID
	}
	unlock := m.lockDevice(deviceID)
	defer unlock()

	endedAt := m.clock.Now()
	closed, err := m.authority.CloseSession(ctx, sessionID, endedAt)
	if err != nil {
		if !errors.Is(err, remote.ErrUnavailable) || m.queue == nil {
			metrics.IncSessionOperation("stop", metrics.ResultError)
			return remote.Session{}, m.remoteError("close session", err)
		}
		payload := syncqueue.SessionClosePayload{SessionID: sessionID, DeviceID: deviceID, EndedAt: endedAt}
		if _, qErr := m.queue.Enqueue(ctx, syncqueue.KindSessionClose, payload); qErr != nil {
			metrics.IncSessionOperation("stop", metrics.ResultError)
			return remote.Session{}, sessions.NewError(sessions.KindNetwork, "close session", errors.Join(err, qErr))
		}
		m.logger.Printf("sessions close deferred: session=%s err=%v", sessionID, err)
		m.mu.Lock()
		m.closedLocally[sessionID] = endedAt
		m.mu.Unlock()
		closed = remote.Session{ID: sessionID, DeviceID: deviceID, EndedAt: &endedAt}
	}

	m.stopHeartbeat(sessionID)
	if m.listener != nil {
		m.listener.SessionStopped(ctx, closed)
	}

	if err := m.authority.SendDeviceCommand(ctx, deviceID, remote.CommandStopSession); err != nil {
		metrics.IncCommandAttempt(metrics.ResultError)
		m.logger.Printf("sessions stop command error: device=%s err=%v", deviceID, err)
		if m.queue != nil {
			payload := syncqueue.DeviceCommandPayload{DeviceID: deviceID, Command: remote.CommandStopSession}
			if _, qErr := m.queue.Enqueue(ctx, syncqueue.KindDeviceCommand, payload); qErr != nil {
				m.logger.Printf("sessions enqueue stop command error: device=%s err=%v", deviceID, qErr)
			}
		}
	} else {
		metrics.IncCommandAttempt(metrics.ResultSuccess)
	}
	metrics.IncSessionOperation("stop", metrics.ResultSuccess)
	return closed, nil
}

// ResumeSession re-arms the heartbeat and listener for a session left open by an
// earlier run of this client. It returns nil when the device has no open session.
func (m *Manager) ResumeSession(ctx context.Context, deviceID string) (*remote.Session, error) {
	if deviceID == "" {
		return nil, errors.New("sessions: device id required")
	}
	unlock := m.lockDevice(deviceID)
	defer unlock()
	active, err := m.ActiveSession(ctx, deviceID)
	if err != nil || active == nil {
		return nil, err
	}
	if m.HeartbeatRunning(active.ID) {
		return active, nil
	}
	m.startHeartbeat(active.ID)
	if m.listener != nil {
		m.listener.SessionStarted(*active)
	}
	m.logger.Printf("sessions resumed: session=%s device=%s", active.ID, deviceID)
	return active, nil
}

// UpdateSessionHeartbeat records liveness. Failures are logged only.
func (m *Manager) UpdateSessionHeartbeat(ctx context.Context, sessionID string) {
	if err := m.authority.Heartbeat(ctx, sessionID, m.clock.Now()); err != nil {
		metrics.IncHeartbeatFailure()
		m.logger.Printf("sessions heartbeat error: session=%s err=%v", sessionID, err)
	}
}

// ActiveSession returns the open session of a device or nil.
func (m *Manager) ActiveSession(ctx context.Context, deviceID string) (*remote.Session, error) {
	active, err := m.authority.GetActiveSession(ctx, deviceID)
	if err != nil {
		return nil, m.remoteError("active session", err)
	}
	if active == nil {
		return nil, nil
	}
	if _, ok := m.localClose(active.ID); ok {
		return nil, nil
	}
	return active, nil
}

// ListSessions lists sessions newest first.
func (m *Manager) ListSessions(ctx context.Context, deviceID string) ([]remote.Session, error) {
	list, err := m.authority.ListSessions(ctx, deviceID)
	if err != nil {
		return nil, m.remoteError("list sessions", err)
	}
	for i := range list {
		m.overlayLocalClose(&list[i])
	}
	return list, nil
}

// GetSession loads one session.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (remote.Session, error) {
	session, err := m.authority.GetSession(ctx, sessionID)
	if err != nil {
		return remote.Session{}, m.remoteError("get session", err)
	}
	m.overlayLocalClose(&session)
	return session, nil
}

// SessionReadings returns the readings uploaded for a session.
func (m *Manager) SessionReadings(ctx context.Context, sessionID string) ([]remote.Reading, error) {
	readings, err := m.authority.SessionReadings(ctx, sessionID)
	if err != nil {
		return nil, m.remoteError("session readings", err)
	}
	return readings, nil
}

// SessionStats aggregates a session.
func (m *Manager) SessionStats(ctx context.Context, sessionID string) (remote.SessionStats, error) {
	stats, err := m.authority.SessionStats(ctx, sessionID)
	if err != nil {
		return remote.SessionStats{}, m.remoteError("session stats", err)
	}
	return stats, nil
}

// UpdateSessionAnalysis stores externally generated analysis text.
func (m *Manager) UpdateSessionAnalysis(ctx context.Context, sessionID, analysis string) (remote.Session, error) {
	session, err := m.authority.UpdateSessionAnalysis(ctx, sessionID, analysis)
	if err != nil {
		return remote.Session{}, m.remoteError("update analysis", err)
	}
	return session, nil
}

// HeartbeatRunning reports whether a heartbeat is scheduled for the session.
func (m *Manager) HeartbeatRunning(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.heartbeats[sessionID]
	return ok
}

// Close stops every heartbeat.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cancel := range m.heartbeats {
		cancel()
		delete(m.heartbeats, id)
	}
}

func (m *Manager) sendStart(ctx context.Context, deviceID, sessionID string) error {
	command := remote.StartCommand(sessionID)
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		lastErr = m.authority.SendDeviceCommand(ctx, deviceID, command)
		if lastErr == nil {
			metrics.IncCommandAttempt(metrics.ResultSuccess)
			return nil
		}
		metrics.IncCommandAttempt(metrics.ResultError)
		m.logger.Printf("sessions start command error: device=%s attempt=%d err=%v", deviceID, attempt, lastErr)
		if attempt == m.attempts {
			break
		}
		if err := sleepContext(ctx, m.backoff); err != nil {
			return errors.Join(lastErr, err)
		}
	}
	return lastErr
}

func (m *Manager) deferRollback(ctx context.Context, session remote.Session) {
	if m.queue == nil {
		return
	}
	payload := syncqueue.SessionDeletePayload{SessionID: session.ID, DeviceID: session.DeviceID}
	if _, err := m.queue.Enqueue(ctx, syncqueue.KindSessionDelete, payload); err != nil {
		m.logger.Printf("sessions enqueue rollback error: session=%s err=%v", session.ID, err)
	}
}

func (m *Manager) startHeartbeat(sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	if prev, ok := m.heartbeats[sessionID]; ok {
		prev()
	}
	m.heartbeats[sessionID] = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.UpdateSessionHeartbeat(ctx, sessionID)
			}
		}
	}()
}

func (m *Manager) stopHeartbeat(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.heartbeats[sessionID]; ok {
		cancel()
		delete(m.heartbeats, sessionID)
	}
}

func (m *Manager) localClose(sessionID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	endedAt, ok := m.closedLocally[sessionID]
	return endedAt, ok
}

func (m *Manager) overlayLocalClose(session *remote.Session) {
	if session.EndedAt != nil {
		return
	}
	if endedAt, ok := m.localClose(session.ID); ok {
		session.EndedAt = &endedAt
	}
}

func (m *Manager) clearLocalClose(sessionID string) {
	m.mu.Lock()
	delete(m.closedLocally, sessionID)
	m.mu.Unlock()
}

func (m *Manager) lockDevice(deviceID string) func() {
	m.locksMu.Lock()
	lock, ok := m.locks[deviceID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[deviceID] = lock
	}
	m.locksMu.Unlock()
	lock.Lock()
	return lock.Unlock
}

func (m *Manager) remoteError(action string, err error) error {
	if errors.Is(err, remote.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return sessions.NewError(sessions.KindNetwork, action, err)
	}
	return fmt.Errorf("sessions: %s: %w", action, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
