package application

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	monitoring "cosafe/internal/monitoring/domain"
	"cosafe/internal/observability/metrics"
)

// Persisted bounds.
const (
	PersistHistoryLimit = 1000
	PersistAlertLimit   = 100

	snapshotVersion = 1
)

// SnapshotStore stores a single state blob.
type SnapshotStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, blob []byte) error
}

// PersistedState is the durable subset of client state.
type PersistedState struct {
	Version         int                       `json:"version"`
	History         []monitoring.HistoryPoint `json:"history"`
	Alerts          []monitoring.Alert        `json:"alerts"`
	Settings        monitoring.Settings       `json:"settings"`
	Device          monitoring.DeviceStatus   `json:"device"`
	User            *monitoring.User          `json:"user,omitempty"`
	IsAuthenticated bool                      `json:"is_authenticated"`
	IsSimulating    bool                      `json:"is_simulating"`
}

// Snapshot encodes state keeping the newest history points and alerts.
// Alerts are expected newest first.
func Snapshot(state PersistedState) ([]byte, error) {
	if len(state.History) > PersistHistoryLimit {
		state.History = state.History[len(state.History)-PersistHistoryLimit:]
	}
	if len(state.Alerts) > PersistAlertLimit {
		state.Alerts = state.Alerts[:PersistAlertLimit]
	}
	state.Version = snapshotVersion
	return json.Marshal(state)
}

// Restore decodes a snapshot. The link and simulation flags always come back false.
// ok is false when the blob is empty or unreadable and defaults are returned.
func Restore(blob []byte) (PersistedState, bool) {
	state := PersistedState{Settings: monitoring.DefaultSettings()}
	if len(blob) == 0 {
		return state, false
	}
	var decoded PersistedState
	if err := json.Unmarshal(blob, &decoded); err != nil {
		return state, false
	}
	if decoded.Settings.Thresholds.Validate() != nil {
		decoded.Settings.Thresholds = monitoring.DefaultThresholds()
	}
	if decoded.Settings.EmergencyContact == "" {
		decoded.Settings.EmergencyContact = state.Settings.EmergencyContact
	}
	if decoded.Settings.Units == "" {
		decoded.Settings.Units = state.Settings.Units
	}
	if decoded.History == nil {
		decoded.History = []monitoring.HistoryPoint{}
	}
	if decoded.Alerts == nil {
		decoded.Alerts = []monitoring.Alert{}
	}
	if decoded.User == nil {
		decoded.IsAuthenticated = false
	}
	decoded.Device.Connected = false
	decoded.IsSimulating = false
	return decoded, true
}

// Gateway writes snapshots to a store. Failures are logged and never surfaced.
type Gateway struct {
	store  SnapshotStore
	logger *log.Logger

	mu          sync.Mutex
	lastVersion uint64
}

// NewGateway constructs a persistence gateway.
func NewGateway(store SnapshotStore, logger *log.Logger) (*Gateway, error) {
	if store == nil {
		return nil, errors.New("monitoring: nil snapshot store")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{store: store, logger: logger}, nil
}

// Save persists state if version is newer than the last saved one.
func (g *Gateway) Save(ctx context.Context, state PersistedState, version uint64) {
	if g == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if version != 0 && version <= g.lastVersion {
		return
	}
	blob, err := Snapshot(state)
	if err != nil {
		g.logger.Printf("snapshot encode error: %v", err)
		metrics.IncStorageError("snapshot")
		return
	}
	if err := g.store.Save(ctx, blob); err != nil {
		g.logger.Printf("snapshot save error: %v", err)
		metrics.IncStorageError("snapshot")
		return
	}
	g.lastVersion = version
}

// Load reads the last snapshot, falling back to defaults.
func (g *Gateway) Load(ctx context.Context) (PersistedState, bool) {
	if g == nil {
		return Restore(nil)
	}
	blob, err := g.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, monitoring.ErrSnapshotNotFound) {
			g.logger.Printf("snapshot load error: %v", err)
			metrics.IncStorageError("snapshot")
		}
		return Restore(nil)
	}
	state, ok := Restore(blob)
	if !ok {
		g.logger.Printf("snapshot restore error: unreadable blob (%d bytes)", len(blob))
	}
	return state, ok
}
