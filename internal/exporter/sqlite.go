package exporter

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/stupiduntilnot/msgflux/internal/db"
)

// SQLiteExporter stores the route and snapshot in the executions database.
// Executions not already recorded by the run are created and finished here.
type SQLiteExporter struct {
	db *sql.DB
}

func NewSQLiteExporter(database *sql.DB) *SQLiteExporter {
	return &SQLiteExporter{db: database}
}

func (e *SQLiteExporter) Name() string {
	return NameSQLite
}

func (e *SQLiteExporter) Export(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.ensureExecution(rec); err != nil {
		return err
	}
	if err := db.InsertRouteEntries(e.db, rec.ExecutionID, rec.Route); err != nil {
		return fmt.Errorf("store route: %w", err)
	}
	if err := db.SetExecutionSnapshot(e.db, rec.ExecutionID, string(rec.Snapshot)); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}
	return nil
}

func (e *SQLiteExporter) ensureExecution(rec Record) error {
	_, err := db.GetExecution(e.db, rec.ExecutionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, db.ErrExecutionNotFound) {
		return err
	}
	if err := db.InsertExecution(e.db, rec.ExecutionID, rec.UserID, rec.ChatID); err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	if db.IsValidExecutionStatusTransition(db.ExecutionStatusRunning, rec.Status) {
		if _, err := db.TransitionExecutionStatus(e.db, rec.ExecutionID, db.ExecutionStatusRunning, rec.Status, rec.Error); err != nil {
			return fmt.Errorf("finish execution: %w", err)
		}
	}
	return nil
}
