package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const (
	ExecutionStatusRunning      = "running"
	ExecutionStatusCompleted    = "completed"
	ExecutionStatusFailed       = "failed"
	ExecutionStatusLimitReached = "limit_reached"
)

var (
	ErrExecutionNotFound    = errors.New("execution not found")
	ErrInvalidStatusTransit = errors.New("invalid execution status transition")
)

type Execution struct {
	ID          int64
	ExecutionID string
	UserID      string
	ChatID      string
	Status      string
	LastError   sql.NullString
	Snapshot    sql.NullString
	StartedAt   int64
	FinishedAt  sql.NullInt64
	CreatedAt   int64
	UpdatedAt   int64
}

var executionStatusTransitions = map[string]map[string]struct{}{
	ExecutionStatusRunning: {
		ExecutionStatusCompleted:    struct{}{},
		ExecutionStatusFailed:       struct{}{},
		ExecutionStatusLimitReached: struct{}{},
	},
}

func IsValidExecutionStatusTransition(from, to string) bool {
	next, ok := executionStatusTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status string) bool {
	_, ok := executionStatusTransitions[status]
	return !ok
}

func InsertExecution(database *sql.DB, executionID, userID, chatID string) error {
	executionID = strings.TrimSpace(executionID)
	if executionID == "" {
		return fmt.Errorf("execution_id cannot be empty")
	}
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user_id cannot be empty")
	}
	if strings.TrimSpace(chatID) == "" {
		return fmt.Errorf("chat_id cannot be empty")
	}
	_, err := database.Exec(
		`INSERT INTO executions (execution_id, user_id, chat_id, status) VALUES (?, ?, ?, ?)`,
		executionID, userID, chatID, ExecutionStatusRunning,
	)
	return err
}

const executionColumns = `id, execution_id, user_id, chat_id, status, last_error, snapshot,
		        started_at, finished_at, created_at, updated_at`

func scanExecution(row *sql.Row) (*Execution, error) {
	var e Execution
	if err := row.Scan(
		&e.ID, &e.ExecutionID, &e.UserID, &e.ChatID, &e.Status, &e.LastError, &e.Snapshot,
		&e.StartedAt, &e.FinishedAt, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return &e, nil
}

func GetExecution(database *sql.DB, executionID string) (*Execution, error) {
	return scanExecution(database.QueryRow(
		`SELECT `+executionColumns+`
		   FROM executions
		  WHERE execution_id = ?`,
		executionID,
	))
}

// LatestExecution returns the most recently started execution.
func LatestExecution(database *sql.DB) (*Execution, error) {
	return scanExecution(database.QueryRow(
		`SELECT ` + executionColumns + `
		   FROM executions
		  ORDER BY id DESC
		  LIMIT 1`,
	))
}

// TransitionExecutionStatus moves an execution from fromStatus to toStatus.
// It reports false when the execution is no longer in fromStatus.
func TransitionExecutionStatus(database *sql.DB, executionID, fromStatus, toStatus, lastError string) (bool, error) {
	if !IsValidExecutionStatusTransition(fromStatus, toStatus) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransit, fromStatus, toStatus)
	}

	res, err := database.Exec(
		`UPDATE executions
		    SET status = ?, last_error = ?, finished_at = unixepoch(), updated_at = unixepoch()
		  WHERE execution_id = ? AND status = ?`,
		toStatus, nullIfEmpty(truncateForDB(lastError)), executionID, fromStatus,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SetExecutionSnapshot stores the final message JSON of an execution.
func SetExecutionSnapshot(database *sql.DB, executionID, snapshot string) error {
	_, err := database.Exec(
		`UPDATE executions
		    SET snapshot = ?, updated_at = unixepoch()
		  WHERE execution_id = ?`,
		nullIfEmpty(snapshot), executionID,
	)
	return err
}

// CleanupRunningExecutions fails every execution left running by a process
// that exited before finishing it.
func CleanupRunningExecutions(database *sql.DB) (int64, error) {
	res, err := database.Exec(
		`UPDATE executions
		    SET status = ?,
		        finished_at = unixepoch(),
		        updated_at = unixepoch(),
		        last_error = 'interrupted during startup cleanup'
		  WHERE status = ?`,
		ExecutionStatusFailed, ExecutionStatusRunning,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func truncateForDB(s string) string {
	const max = 2000
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
