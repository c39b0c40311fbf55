package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"cosafe/internal/remote"
)

const (
	uniqueViolation    = "23505"
	activeSessionIndex = "sessions_one_active_per_device"
)

// Schema creates the remote tables. The partial unique index enforces one open session per device.
const Schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id     TEXT PRIMARY KEY,
	device_id      TEXT NOT NULL,
	user_id        TEXT,
	started_at     TIMESTAMPTZ NOT NULL,
	ended_at       TIMESTAMPTZ,
	last_heartbeat TIMESTAMPTZ,
	notes          TEXT,
	ai_analysis    TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS `+activeSessionIndex+`
	ON sessions (device_id) WHERE ended_at IS NULL;

CREATE TABLE IF NOT EXISTS device_commands (
	id          BIGSERIAL PRIMARY KEY,
	device_id   TEXT NOT NULL,
	command     TEXT NOT NULL,
	executed    BOOLEAN NOT NULL DEFAULT FALSE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	executed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS co_readings (
	id            BIGSERIAL PRIMARY KEY,
	session_id    TEXT,
	device_id     TEXT NOT NULL,
	co_level      DOUBLE PRECISION NOT NULL,
	status        TEXT,
	mosfet_status BOOLEAN,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
ALTER TABLE co_readings ADD COLUMN IF NOT EXISTS reading_key TEXT;
CREATE UNIQUE INDEX IF NOT EXISTS co_readings_reading_key ON co_readings (reading_key);
CREATE INDEX IF NOT EXISTS co_readings_device_created ON co_readings (device_id, created_at DESC);
CREATE INDEX IF NOT EXISTS co_readings_session_created ON co_readings (session_id, created_at);
`

// Authority is the Postgres remote authority.
type Authority struct {
	db *sql.DB
}

// NewAuthority constructs an authority.
func NewAuthority(db *sql.DB) (*Authority, error) {
	if db == nil {
		return nil, errors.New("remote postgres: nil db")
	}
	return &Authority{db: db}, nil
}

// EnsureSchema applies Schema.
func (a *Authority) EnsureSchema(ctx context.Context) error {
	if _, err := a.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("remote postgres: ensure schema: %w", classify(err))
	}
	return nil
}

// classify maps driver errors onto remote sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == activeSessionIndex {
		return fmt.Errorf("%w: %s", remote.ErrDeviceInUse, pgErr.Message)
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %v", remote.ErrUnavailable, err)
	}
	return err
}

const sessionColumns = `session_id, device_id, user_id, started_at, ended_at, last_heartbeat, notes, ai_analysis`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (remote.Session, error) {
	var (
		s                 remote.Session
		userID, notes, ai sql.NullString
		endedAt, lastHB   sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.DeviceID, &userID, &s.StartedAt, &endedAt, &lastHB, &notes, &ai); err != nil {
		return remote.Session{}, err
	}
	s.UserID = userID.String
	s.Notes = notes.String
	s.Analysis = ai.String
	s.StartedAt = s.StartedAt.UTC()
	if endedAt.Valid {
		t := endedAt.Time.UTC()
		s.EndedAt = &t
	}
	if lastHB.Valid {
		t := lastHB.Time.UTC()
		s.LastHeartbeat = &t
	}
	return s, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func (a *Authority) GetActiveSession(ctx context.Context, deviceID string) (*remote.Session, error) {
	row := a.db.QueryRowContext(ctx, `
SELECT `+sessionColumns+`
FROM sessions
WHERE device_id = $1 AND ended_at IS NULL
ORDER BY started_at DESC
LIMIT 1`, deviceID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &s, nil
}

func (a *Authority) CreateSession(ctx context.Context, session remote.Session) (remote.Session, error) {
	if session.DeviceID == "" {
		return remote.Session{}, errors.New("remote postgres: empty device id")
	}
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now().UTC()
	}
	hb := session.StartedAt
	if session.LastHeartbeat != nil {
		hb = *session.LastHeartbeat
	}
	row := a.db.QueryRowContext(ctx, `
INSERT INTO sessions (session_id, device_id, user_id, started_at, ended_at, last_heartbeat, notes)
VALUES ($1, $2, $3, $4, NULL, $5, $6)
RETURNING `+sessionColumns,
		session.ID, session.DeviceID, nullString(session.UserID), session.StartedAt, hb, nullString(session.Notes))
	created, err := scanSession(row)
	if err != nil {
		return remote.Session{}, classify(err)
	}
	return created, nil
}

func (a *Authority) CloseSession(ctx context.Context, sessionID string, endedAt time.Time) (remote.Session, error) {
	row := a.db.QueryRowContext(ctx, `
UPDATE sessions
SET ended_at = COALESCE(ended_at, $2)
WHERE session_id = $1
RETURNING `+sessionColumns, sessionID, endedAt)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.Session{}, remote.ErrSessionNotFound
	}
	if err != nil {
		return remote.Session{}, classify(err)
	}
	return s, nil
}

func (a *Authority) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	return classify(err)
}

func (a *Authority) SendDeviceCommand(ctx context.Context, deviceID, command string) error {
	_, err := a.db.ExecContext(ctx, `
INSERT INTO device_commands (device_id, command, executed)
VALUES ($1, $2, FALSE)`, deviceID, command)
	return classify(err)
}

func (a *Authority) MarkCommandExecuted(ctx context.Context, commandID int64) error {
	_, err := a.db.ExecContext(ctx, `
UPDATE device_commands SET executed = TRUE, executed_at = now() WHERE id = $1`, commandID)
	return classify(err)
}

func (a *Authority) Heartbeat(ctx context.Context, sessionID string, at time.Time) error {
	res, err := a.db.ExecContext(ctx, `UPDATE sessions SET last_heartbeat = $2 WHERE session_id = $1`, sessionID, at)
	if err != nil {
		return classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return remote.ErrSessionNotFound
	}
	return nil
}

func (a *Authority) ListSessions(ctx context.Context, deviceID string) ([]remote.Session, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if deviceID == "" {
		rows, err = a.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC`)
	} else {
		rows, err = a.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE device_id = $1 ORDER BY started_at DESC`, deviceID)
	}
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()
	var out []remote.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, classify(rows.Err())
}

func (a *Authority) GetSession(ctx context.Context, sessionID string) (remote.Session, error) {
	row := a.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, sessionID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.Session{}, remote.ErrSessionNotFound
	}
	if err != nil {
		return remote.Session{}, classify(err)
	}
	return s, nil
}

const readingColumns = `id, session_id, device_id, co_level, status, mosfet_status, created_at`

func scanReadings(rows *sql.Rows) ([]remote.Reading, error) {
	defer rows.Close()
	var out []remote.Reading
	for rows.Next() {
		var (
			r         remote.Reading
			sessionID sql.NullString
			status    sql.NullString
			mosfet    sql.NullBool
		)
		if err := rows.Scan(&r.ID, &sessionID, &r.DeviceID, &r.COLevel, &status, &mosfet, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.SessionID = sessionID.String
		r.Status = status.String
		r.MosfetStatus = mosfet.Bool
		r.CreatedAt = r.CreatedAt.UTC()
		out = append(out, r)
	}
	return out, classify(rows.Err())
}

func (a *Authority) LatestReadings(ctx context.Context, deviceID string, limit int) ([]remote.Reading, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.QueryContext(ctx, `
SELECT `+readingColumns+`
FROM co_readings
WHERE device_id = $1
ORDER BY created_at DESC
LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, classify(err)
	}
	return scanReadings(rows)
}

func (a *Authority) SessionReadings(ctx context.Context, sessionID string) ([]remote.Reading, error) {
	rows, err := a.db.QueryContext(ctx, `
SELECT `+readingColumns+`
FROM co_readings
WHERE session_id = $1
ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, classify(err)
	}
	return scanReadings(rows)
}

func (a *Authority) SessionStats(ctx context.Context, sessionID string) (remote.SessionStats, error) {
	session, err := a.GetSession(ctx, sessionID)
	if err != nil {
		return remote.SessionStats{}, err
	}
	stats := remote.SessionStats{SessionID: sessionID}
	var avg, maxV, minV sql.NullFloat64
	err = a.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	AVG(co_level),
	MAX(co_level),
	MIN(co_level),
	COUNT(*) FILTER (WHERE status = 'safe'),
	COUNT(*) FILTER (WHERE status = 'warning'),
	COUNT(*) FILTER (WHERE status = 'critical'),
	COUNT(*) FILTER (WHERE mosfet_status)
FROM co_readings
WHERE session_id = $1`, sessionID).Scan(
		&stats.TotalReadings, &avg, &maxV, &minV,
		&stats.SafeCount, &stats.WarningCount, &stats.CriticalCount, &stats.MosfetAlarmCount)
	if err != nil {
		return remote.SessionStats{}, classify(err)
	}
	stats.AvgCOLevel = avg.Float64
	stats.MaxCOLevel = maxV.Float64
	stats.MinCOLevel = minV.Float64
	end := time.Now().UTC()
	if session.EndedAt != nil {
		end = *session.EndedAt
	}
	if end.After(session.StartedAt) {
		stats.DurationSeconds = int64(end.Sub(session.StartedAt) / time.Second)
	}
	return stats, nil
}

func (a *Authority) InsertReadings(ctx context.Context, readings []remote.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO co_readings (reading_key, session_id, device_id, co_level, status, mosfet_status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (reading_key) DO NOTHING`)
	if err != nil {
		return classify(err)
	}
	defer stmt.Close()
	for _, r := range readings {
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, nullString(r.Key), nullString(r.SessionID), r.DeviceID, r.COLevel, nullString(r.Status), r.MosfetStatus, createdAt); err != nil {
			return classify(err)
		}
	}
	return classify(tx.Commit())
}

func (a *Authority) UpdateSessionAnalysis(ctx context.Context, sessionID, analysis string) (remote.Session, error) {
	row := a.db.QueryRowContext(ctx, `
UPDATE sessions SET ai_analysis = $2
WHERE session_id = $1
RETURNING `+sessionColumns, sessionID, analysis)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return remote.Session{}, remote.ErrSessionNotFound
	}
	if err != nil {
		return remote.Session{}, classify(err)
	}
	return s, nil
}
