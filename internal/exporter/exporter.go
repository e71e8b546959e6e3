// Package exporter ships the route and final state of a finished run to a
// sink: the log, the sqlite store, or nowhere.
package exporter

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stupiduntilnot/msgflux/internal/message"
	"github.com/stupiduntilnot/msgflux/internal/route"
)

// Exporter names accepted by New.
const (
	NameLog    = "log"
	NameSQLite = "sqlite"
	NameNone   = "none"
)

// Exporter receives one Record per finished run.
type Exporter interface {
	Name() string
	Export(ctx context.Context, rec Record) error
}

// Record is everything exported about one run.
type Record struct {
	ExecutionID string          `json:"execution_id"`
	UserID      string          `json:"user_id"`
	ChatID      string          `json:"chat_id"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Route       []route.Entry   `json:"route"`
	Snapshot    json.RawMessage `json:"snapshot"`
}

// NewRecord captures msg as it is now.
func NewRecord(msg *message.Message, status string, runErr error) (Record, error) {
	snap, err := json.Marshal(msg)
	if err != nil {
		return Record{}, fmt.Errorf("marshal message %s: %w", msg.ExecutionID(), err)
	}
	rec := Record{
		ExecutionID: msg.ExecutionID(),
		UserID:      msg.UserID(),
		ChatID:      msg.ChatID(),
		Status:      status,
		Route:       msg.GetRoute(""),
		Snapshot:    snap,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	return rec, nil
}

// New returns the exporter registered under name.
func New(name string, logger zerolog.Logger, database *sql.DB) (Exporter, error) {
	switch name {
	case NameLog, "":
		return NewLogExporter(logger), nil
	case NameSQLite:
		if database == nil {
			return nil, fmt.Errorf("exporter %s needs a database", NameSQLite)
		}
		return NewSQLiteExporter(database), nil
	case NameNone, "noop":
		return NewNoopExporter(), nil
	default:
		return nil, fmt.Errorf("unknown exporter %q (want log, sqlite or none)", name)
	}
}

// Multi fans a record out to several exporters. Every exporter runs even if
// an earlier one fails; the errors are joined.
type Multi []Exporter

func (m Multi) Name() string {
	return "multi"
}

func (m Multi) Export(ctx context.Context, rec Record) error {
	var errs []error
	for _, exp := range m {
		if err := exp.Export(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("exporter %s: %w", exp.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// NoopExporter discards all records.
type NoopExporter struct{}

func NewNoopExporter() *NoopExporter {
	return &NoopExporter{}
}

func (e *NoopExporter) Name() string {
	return "noop"
}

func (e *NoopExporter) Export(context.Context, Record) error {
	return nil
}
