package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Event types recorded for pipeline runs.
const (
	EventRunStarted          = "run.started"
	EventRunCompleted        = "run.completed"
	EventRunFailed           = "run.failed"
	EventStageStarted        = "stage.started"
	EventModuleStarted       = "module.started"
	EventModuleCompleted     = "module.completed"
	EventModuleFailed        = "module.failed"
	EventControlLimitReached = "control.limit_reached"
	EventRetryScheduled      = "retry.scheduled"
	EventRetryExhausted      = "retry.exhausted"
	EventCircuitOpened       = "circuit.opened"
	EventRouteExported       = "route.exported"
)

// Event is a row of the events table.
type Event struct {
	ID          int64
	Timestamp   int64
	ParentID    sql.NullInt64
	ExecutionID sql.NullString
	EventType   string
	Payload     sql.NullString
}

// OpenDB opens (or creates) a SQLite database at the given path, ensuring
// that the parent directory exists.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}

	return db, nil
}

// OpenReadOnly opens an existing database without creating it.
func OpenReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}
	db, err := sql.Open("sqlite3", path+"?mode=ro&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db at %s: %w", path, err)
	}
	return db, nil
}

// InitSchema creates all tables: executions, events, route_entries.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS executions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL UNIQUE,
			user_id TEXT NOT NULL,
			chat_id TEXT NOT NULL,
			status TEXT NOT NULL,
			last_error TEXT,
			snapshot TEXT,
			started_at INTEGER NOT NULL DEFAULT (unixepoch()),
			finished_at INTEGER,
			created_at INTEGER NOT NULL DEFAULT (unixepoch()),
			updated_at INTEGER NOT NULL DEFAULT (unixepoch())
		);
		CREATE INDEX IF NOT EXISTS idx_executions_status_updated_at ON executions(status, updated_at);

		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			timestamp INTEGER NOT NULL DEFAULT (unixepoch()),
			parent_id INTEGER,
			execution_id TEXT,
			event_type TEXT NOT NULL,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_parent_id ON events(parent_id);
		CREATE INDEX IF NOT EXISTS idx_events_execution_id ON events(execution_id);

		CREATE TABLE IF NOT EXISTS route_entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			execution_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			module TEXT NOT NULL,
			path TEXT NOT NULL,
			op TEXT NOT NULL,
			timestamp_ns INTEGER NOT NULL,
			had_prior_value INTEGER NOT NULL DEFAULT 0,
			UNIQUE(execution_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_route_entries_module ON route_entries(execution_id, module);
	`)
	return err
}

// LogEvent inserts an event into the events table and returns its auto-generated id.
// parentID may be nil for root events. payload is serialized to JSON; nil payload stores NULL.
func LogEvent(db *sql.DB, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	return LogExecutionEvent(db, "", parentID, eventType, payload)
}

// LogExecutionEvent is LogEvent with the event tagged by execution id.
func LogExecutionEvent(db *sql.DB, executionID string, parentID *int64, eventType string, payload map[string]any) (int64, error) {
	var payloadJSON any
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal event payload: %w", err)
		}
		payloadJSON = string(data)
	}

	res, err := db.Exec(
		`INSERT INTO events (parent_id, execution_id, event_type, payload) VALUES (?, ?, ?, ?)`,
		parentID, nullIfEmpty(executionID), eventType, payloadJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("insert event %s: %w", eventType, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get event id: %w", err)
	}
	return id, nil
}

// RunRoot returns the id of the run.started event of an execution.
func RunRoot(database *sql.DB, executionID string) (int64, error) {
	var id int64
	err := database.QueryRow(
		`SELECT id FROM events WHERE execution_id = ? AND event_type = ? ORDER BY id ASC LIMIT 1`,
		executionID, EventRunStarted,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: no %s event for %s", ErrExecutionNotFound, EventRunStarted, executionID)
	}
	return id, err
}

// EventSubtree returns every event in the subtree rooted at rootID, ordered by id.
func EventSubtree(database *sql.DB, rootID int64) ([]Event, error) {
	rows, err := database.Query(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM events WHERE id = ?
			UNION ALL
			SELECT e.id FROM events e JOIN subtree s ON e.parent_id = s.id
		)
		SELECT e.id, e.timestamp, e.parent_id, e.execution_id, e.event_type, e.payload
		FROM events e
		WHERE e.id IN (SELECT id FROM subtree)
		ORDER BY e.id ASC
	`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.ParentID, &ev.ExecutionID, &ev.EventType, &ev.Payload); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
