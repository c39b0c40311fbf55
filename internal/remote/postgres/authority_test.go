package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"cosafe/internal/remote"
)

func TestClassifyMapsDriverErrors(t *testing.T) {
	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", Message: "duplicate key", ConstraintName: activeSessionIndex})
	if err := classify(dup); !errors.Is(err, remote.ErrDeviceInUse) {
		t.Fatalf("expected ErrDeviceInUse, got %v", err)
	}
	pkey := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", Message: "duplicate key", ConstraintName: "sessions_pkey"})
	if err := classify(pkey); errors.Is(err, remote.ErrDeviceInUse) || err != pkey {
		t.Fatalf("primary key collision must not read as device in use, got %v", err)
	}
	if err := classify(driver.ErrBadConn); !errors.Is(err, remote.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	other := errors.New("syntax error")
	if err := classify(other); err != other {
		t.Fatalf("expected error passthrough, got %v", err)
	}
	if classify(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestAuthorityPostgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	a, err := NewAuthority(db)
	if err != nil {
		t.Fatalf("new authority: %v", err)
	}
	if err := a.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	deviceID := fmt.Sprintf("it-dev-%d", time.Now().UnixNano())
	defer func() {
		_, _ = db.ExecContext(ctx, "DELETE FROM co_readings WHERE device_id = $1", deviceID)
		_, _ = db.ExecContext(ctx, "DELETE FROM device_commands WHERE device_id = $1", deviceID)
		_, _ = db.ExecContext(ctx, "DELETE FROM sessions WHERE device_id = $1", deviceID)
	}()

	session, err := a.CreateSession(ctx, remote.Session{DeviceID: deviceID})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := a.CreateSession(ctx, remote.Session{DeviceID: deviceID}); !errors.Is(err, remote.ErrDeviceInUse) {
		t.Fatalf("expected ErrDeviceInUse from unique index, got %v", err)
	}
	active, err := a.GetActiveSession(ctx, deviceID)
	if err != nil || active == nil || active.ID != session.ID {
		t.Fatalf("unexpected active session %+v err=%v", active, err)
	}
	if err := a.SendDeviceCommand(ctx, deviceID, remote.StartCommand(session.ID)); err != nil {
		t.Fatalf("send command: %v", err)
	}
	batch := []remote.Reading{
		{Key: deviceID + "/0", SessionID: session.ID, DeviceID: deviceID, COLevel: 12, Status: "safe"},
		{Key: deviceID + "/1", SessionID: session.ID, DeviceID: deviceID, COLevel: 64, Status: "critical", MosfetStatus: true},
	}
	for i := 0; i < 2; i++ {
		if err := a.InsertReadings(ctx, batch); err != nil {
			t.Fatalf("insert readings (pass %d): %v", i, err)
		}
	}
	stats, err := a.SessionStats(ctx, session.ID)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalReadings != 2 || stats.CriticalCount != 1 || stats.MosfetAlarmCount != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	closed, err := a.CloseSession(ctx, session.ID, time.Now().UTC())
	if err != nil || closed.Active() {
		t.Fatalf("close session: %v %+v", err, closed)
	}
	if active, _ := a.GetActiveSession(ctx, deviceID); active != nil {
		t.Fatalf("expected no active session after close")
	}
}
