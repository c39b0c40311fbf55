package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"cosafe/internal/remote"
)

func TestOneActiveSessionPerDevice(t *testing.T) {
	a := NewAuthority()
	ctx := context.Background()
	first, err := a.CreateSession(ctx, remote.Session{DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID == "" || first.LastHeartbeat == nil {
		t.Fatalf("expected id and heartbeat to be assigned: %+v", first)
	}
	if _, err := a.CreateSession(ctx, remote.Session{DeviceID: "dev-1"}); !errors.Is(err, remote.ErrDeviceInUse) {
		t.Fatalf("expected ErrDeviceInUse, got %v", err)
	}
	if _, err := a.CreateSession(ctx, remote.Session{DeviceID: "dev-2"}); err != nil {
		t.Fatalf("other device must not conflict: %v", err)
	}

	active, _ := a.GetActiveSession(ctx, "dev-1")
	if active == nil || active.ID != first.ID {
		t.Fatalf("unexpected active session %+v", active)
	}
	if _, err := a.CloseSession(ctx, first.ID, time.Now()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if active, _ := a.GetActiveSession(ctx, "dev-1"); active != nil {
		t.Fatalf("expected no active session after close")
	}
	if _, err := a.CreateSession(ctx, remote.Session{DeviceID: "dev-1"}); err != nil {
		t.Fatalf("create after close: %v", err)
	}
}

func TestReadingsAndStats(t *testing.T) {
	a := NewAuthority()
	ctx := context.Background()
	session, _ := a.CreateSession(ctx, remote.Session{DeviceID: "dev-1"})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	err := a.InsertReadings(ctx, []remote.Reading{
		{SessionID: session.ID, DeviceID: "dev-1", COLevel: 40, Status: "warning", CreatedAt: base.Add(time.Second)},
		{SessionID: session.ID, DeviceID: "dev-1", COLevel: 10, Status: "safe", CreatedAt: base},
		{DeviceID: "dev-1", COLevel: 12, Status: "safe", CreatedAt: base.Add(2 * time.Second)},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	readings, _ := a.SessionReadings(ctx, session.ID)
	if len(readings) != 2 || readings[0].COLevel != 10 {
		t.Fatalf("expected ascending session readings, got %+v", readings)
	}
	latest, _ := a.LatestReadings(ctx, "dev-1", 2)
	if len(latest) != 2 || latest[0].COLevel != 12 {
		t.Fatalf("expected newest first, got %+v", latest)
	}
	stats, err := a.SessionStats(ctx, session.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalReadings != 2 || stats.WarningCount != 1 || stats.SafeCount != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	updated, err := a.UpdateSessionAnalysis(ctx, session.ID, "levels stayed low")
	if err != nil || updated.Analysis != "levels stayed low" {
		t.Fatalf("update analysis: %v %+v", err, updated)
	}
	if _, err := a.UpdateSessionAnalysis(ctx, "missing", "x"); !errors.Is(err, remote.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestInsertReadingsSkipsKnownKeys(t *testing.T) {
	a := NewAuthority()
	ctx := context.Background()
	session, _ := a.CreateSession(ctx, remote.Session{DeviceID: "dev-1"})
	batch := []remote.Reading{
		{Key: "task-1/0", SessionID: session.ID, DeviceID: "dev-1", COLevel: 10, Status: "safe"},
		{Key: "task-1/1", SessionID: session.ID, DeviceID: "dev-1", COLevel: 30, Status: "warning"},
		{SessionID: session.ID, DeviceID: "dev-1", COLevel: 5, Status: "safe"},
	}
	for i := 0; i < 2; i++ {
		if err := a.InsertReadings(ctx, batch); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	readings, _ := a.SessionReadings(ctx, session.ID)
	if len(readings) != 4 {
		t.Fatalf("expected keyed readings stored once and unkeyed twice, got %d", len(readings))
	}
}
