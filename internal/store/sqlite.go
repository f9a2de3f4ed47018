package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	appLog "prophetic/internal/log"
	"prophetic/internal/model"
	"prophetic/internal/timeline"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS event_details (
		event_key      TEXT PRIMARY KEY,
		location       TEXT NOT NULL DEFAULT '',
		arrival_time   TEXT NOT NULL DEFAULT '',
		departure_time TEXT NOT NULL DEFAULT '',
		saved_at       INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS alert_acks (
		alert_key TEXT PRIMARY KEY,
		acked_at  INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS session_state (
		name  TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS calendar_events (
		id        INTEGER PRIMARY KEY AUTOINCREMENT,
		event_key TEXT NOT NULL,
		start_at  INTEGER NOT NULL,
		body      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS calendar_events_start ON calendar_events (start_at)`,
}

// SQLiteStore persists the session in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path. ":memory:" is
// accepted for tests.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// One connection: SQLite has a single writer, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if path != ":memory:" {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: enable WAL: %w", err)
		}
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: migrate: %w", err)
		}
	}

	appLog.Info("sqlite store opened", "path", path)
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveDetails(ctx context.Context, key string, d model.EventDetails) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO event_details (event_key, location, arrival_time, departure_time, saved_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(event_key) DO UPDATE SET
			location = excluded.location,
			arrival_time = excluded.arrival_time,
			departure_time = excluded.departure_time,
			saved_at = excluded.saved_at`,
		key, d.Location, d.ArrivalTime, d.DepartureTime, d.SavedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("store: save details %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) LoadDetails(ctx context.Context) (map[string]model.EventDetails, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_key, location, arrival_time, departure_time, saved_at FROM event_details`)
	if err != nil {
		return nil, fmt.Errorf("store: load details: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.EventDetails)
	for rows.Next() {
		var (
			key     string
			d       model.EventDetails
			savedAt int64
		)
		if err := rows.Scan(&key, &d.Location, &d.ArrivalTime, &d.DepartureTime, &savedAt); err != nil {
			return nil, fmt.Errorf("store: scan details: %w", err)
		}
		if savedAt != 0 {
			d.SavedAt = time.Unix(0, savedAt)
		}
		out[key] = d
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveAck(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO alert_acks (alert_key, acked_at) VALUES (?, ?)`,
		key, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: save ack %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) LoadAcks(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT alert_key FROM alert_acks`)
	if err != nil {
		return nil, fmt.Errorf("store: load acks: %w", err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("store: scan ack: %w", err)
		}
		out[key] = true
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClearAcks(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM alert_acks`); err != nil {
		return fmt.Errorf("store: clear acks: %w", err)
	}
	return nil
}

const (
	timelineKey = "timeline"
	calendarKey = "calendar"
)

// putState stores v as JSON under name in session_state.
func (s *SQLiteStore) putState(ctx context.Context, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_state (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		name, string(data))
	if err != nil {
		return fmt.Errorf("store: save %s: %w", name, err)
	}
	return nil
}

// getState decodes the JSON stored under name, returning missing when
// nothing was saved.
func (s *SQLiteStore) getState(ctx context.Context, name string, v any, missing error) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM session_state WHERE name = ?`, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return missing
	}
	if err != nil {
		return fmt.Errorf("store: load %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("store: decode %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) SaveTimeline(ctx context.Context, st timeline.State) error {
	return s.putState(ctx, timelineKey, st)
}

func (s *SQLiteStore) LoadTimeline(ctx context.Context) (timeline.State, error) {
	var st timeline.State
	if err := s.getState(ctx, timelineKey, &st, ErrNoTimeline); err != nil {
		return timeline.State{}, err
	}
	return st, nil
}

func (s *SQLiteStore) SaveCalendar(ctx context.Context, cal Calendar) error {
	return s.putState(ctx, calendarKey, cal)
}

func (s *SQLiteStore) LoadCalendar(ctx context.Context) (Calendar, error) {
	var cal Calendar
	if err := s.getState(ctx, calendarKey, &cal, ErrNoCalendar); err != nil {
		return Calendar{}, err
	}
	return cal, nil
}

func (s *SQLiteStore) SaveEvents(ctx context.Context, events []model.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM calendar_events`); err != nil {
		return fmt.Errorf("store: clear events: %w", err)
	}
	for _, ev := range events {
		body, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO calendar_events (event_key, start_at, body) VALUES (?, ?, ?)`,
			ev.Key(), ev.Start.Unix(), string(body)); err != nil {
			return fmt.Errorf("store: insert event %q: %w", ev.Key(), err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadEvents(ctx context.Context) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM calendar_events ORDER BY start_at, id`)
	if err != nil {
		return nil, fmt.Errorf("store: load events: %w", err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		var ev model.Event
		if err := json.Unmarshal([]byte(body), &ev); err != nil {
			return nil, fmt.Errorf("store: decode event: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortEvents(out)
	return out, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
