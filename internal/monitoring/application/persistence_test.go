package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	monitoring "cosafe/internal/monitoring/domain"
)

type stubSnapshotStore struct {
	mu      sync.Mutex
	blob    []byte
	saveErr error
	saves   int
}

func (s *stubSnapshotStore) Load(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blob == nil {
		return nil, monitoring.ErrSnapshotNotFound
	}
	return s.blob, nil
}

func (s *stubSnapshotStore) Save(_ context.Context, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.blob = append([]byte(nil), blob...)
	s.saves++
	return nil
}

func TestSnapshotRoundTripCapsAndResetsFlags(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	state := PersistedState{
		Settings:     monitoring.DefaultSettings(),
		Device:       monitoring.DeviceStatus{Connected: true, DeviceID: "dev-1"},
		IsSimulating: true,
	}
	for i := 0; i < 1500; i++ {
		state.History = append(state.History, monitoring.HistoryPoint{Timestamp: base.Add(time.Duration(i) * time.Second), Value: float64(i)})
	}
	for i := 0; i < 150; i++ {
		state.Alerts = append(state.Alerts, monitoring.Alert{ID: fmt.Sprintf("alert-%d", i), Level: monitoring.AlertWarning})
	}

	blob, err := Snapshot(state)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	restored, ok := Restore(blob)
	if !ok {
		t.Fatalf("restore failed")
	}
	if len(restored.History) != PersistHistoryLimit {
		t.Fatalf("expected %d history points, got %d", PersistHistoryLimit, len(restored.History))
	}
	if restored.History[0].Value != 500 || restored.History[len(restored.History)-1].Value != 1499 {
		t.Fatalf("expected newest history retained, got first=%.0f", restored.History[0].Value)
	}
	if len(restored.Alerts) != PersistAlertLimit {
		t.Fatalf("expected %d alerts, got %d", PersistAlertLimit, len(restored.Alerts))
	}
	if restored.Alerts[0].ID != "alert-0" {
		t.Fatalf("expected most recent alert first, got %s", restored.Alerts[0].ID)
	}
	if restored.Device.Connected || restored.IsSimulating {
		t.Fatalf("expected connected and simulating reset to false")
	}
	if restored.Device.DeviceID != "dev-1" {
		t.Fatalf("device id not restored")
	}
}

func TestRestoreUnreadableBlobReturnsDefaults(t *testing.T) {
	state, ok := Restore([]byte("{not json"))
	if ok {
		t.Fatalf("expected restore failure")
	}
	if state.Settings != monitoring.DefaultSettings() {
		t.Fatalf("expected default settings, got %+v", state.Settings)
	}
}

func TestControllerPersistsAndRestores(t *testing.T) {
	store := &stubSnapshotStore{}
	logger := log.New(io.Discard, "", 0)
	gateway, err := NewGateway(store, logger)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	c := newTestController(t, WithGateway(gateway), WithLogger(logger))
	ctx := context.Background()
	c.SetConnected(ctx, true)
	c.SetSimulating(ctx, true)
	c.Ingest(ctx, readingAt(0, 30))
	c.Ingest(ctx, readingAt(1, 60))
	if store.saves == 0 {
		t.Fatalf("expected snapshots to be saved")
	}

	next := newTestController(t, WithGateway(gateway), WithLogger(logger))
	if !next.Restore(ctx) {
		t.Fatalf("expected restore to succeed")
	}
	state := next.State()
	if state.HistorySize != 2 {
		t.Fatalf("expected 2 history points, got %d", state.HistorySize)
	}
	if len(state.Alerts) != 3 {
		t.Fatalf("expected 3 alerts, got %d", len(state.Alerts))
	}
	if state.Device.Connected || state.IsSimulating {
		t.Fatalf("expected link and simulation flags reset")
	}
	if state.Status != monitoring.TierCritical {
		t.Fatalf("expected restored status critical, got %s", state.Status)
	}
}

func TestStorageFailureIsSwallowed(t *testing.T) {
	store := &stubSnapshotStore{saveErr: errors.New("disk full")}
	gateway, err := NewGateway(store, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	c := newTestController(t, WithGateway(gateway))
	res := c.Ingest(context.Background(), readingAt(0, 70))
	if res.Rejected || res.Alert == nil {
		t.Fatalf("storage failure must not affect ingest: %+v", res)
	}
}

func TestGatewaySkipsStaleVersions(t *testing.T) {
	store := &stubSnapshotStore{}
	gateway, err := NewGateway(store, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	ctx := context.Background()
	gateway.Save(ctx, PersistedState{Settings: monitoring.Settings{Units: "new"}}, 2)
	gateway.Save(ctx, PersistedState{Settings: monitoring.Settings{Units: "old"}}, 1)
	state, _ := gateway.Load(ctx)
	if state.Settings.Units != "new" {
		t.Fatalf("stale snapshot overwrote newer one: %q", state.Settings.Units)
	}
}
