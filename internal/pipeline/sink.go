package pipeline

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stupiduntilnot/msgflux/internal/db"
	"github.com/stupiduntilnot/msgflux/internal/message"
)

// EventSink persists the lifecycle of runs. Implementations must be safe for
// concurrent use; parallel stages emit events from several goroutines.
type EventSink interface {
	RunStarted(ctx context.Context, msg *message.Message) (int64, error)
	Event(ctx context.Context, executionID string, parentID int64, eventType string, payload map[string]any) (int64, error)
	RunFinished(ctx context.Context, msg *message.Message, runEventID int64, status string, runErr error) error
}

type nopSink struct{}

func (nopSink) RunStarted(context.Context, *message.Message) (int64, error) { return 0, nil }

func (nopSink) Event(context.Context, string, int64, string, map[string]any) (int64, error) {
	return 0, nil
}

func (nopSink) RunFinished(context.Context, *message.Message, int64, string, error) error {
	return nil
}

// SQLSink records runs in the executions and events tables.
type SQLSink struct {
	DB *sql.DB
}

func NewSQLSink(database *sql.DB) *SQLSink {
	return &SQLSink{DB: database}
}

func (s *SQLSink) RunStarted(_ context.Context, msg *message.Message) (int64, error) {
	if err := db.InsertExecution(s.DB, msg.ExecutionID(), msg.UserID(), msg.ChatID()); err != nil {
		return 0, fmt.Errorf("insert execution: %w", err)
	}
	return db.LogExecutionEvent(s.DB, msg.ExecutionID(), nil, db.EventRunStarted, map[string]any{
		"user_id": msg.UserID(),
		"chat_id": msg.ChatID(),
	})
}

func (s *SQLSink) Event(_ context.Context, executionID string, parentID int64, eventType string, payload map[string]any) (int64, error) {
	return db.LogExecutionEvent(s.DB, executionID, parentRef(parentID), eventType, payload)
}

func (s *SQLSink) RunFinished(_ context.Context, msg *message.Message, runEventID int64, status string, runErr error) error {
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	if _, err := db.TransitionExecutionStatus(s.DB, msg.ExecutionID(), db.ExecutionStatusRunning, status, errText); err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	eventType := db.EventRunCompleted
	payload := map[string]any{"status": status}
	if runErr != nil {
		eventType = db.EventRunFailed
		payload["error"] = errText
	}
	_, err := db.LogExecutionEvent(s.DB, msg.ExecutionID(), parentRef(runEventID), eventType, payload)
	return err
}

func parentRef(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
