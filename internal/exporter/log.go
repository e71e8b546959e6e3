package exporter

import (
	"context"

	"github.com/rs/zerolog"
)

// LogExporter writes a run summary at info and each route entry at debug.
type LogExporter struct {
	logger zerolog.Logger
}

func NewLogExporter(logger zerolog.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

func (e *LogExporter) Name() string {
	return NameLog
}

func (e *LogExporter) Export(_ context.Context, rec Record) error {
	ev := e.logger.Info().
		Str("execution_id", rec.ExecutionID).
		Str("user_id", rec.UserID).
		Str("chat_id", rec.ChatID).
		Str("status", rec.Status).
		Int("route_entries", len(rec.Route))
	if rec.Error != "" {
		ev = ev.Str("error", rec.Error)
	}
	ev.Msg("run exported")

	for _, entry := range rec.Route {
		e.logger.Debug().
			Str("execution_id", rec.ExecutionID).
			Int64("seq", entry.Seq).
			Str("module", entry.Module).
			Str("path", entry.Path).
			Str("op", string(entry.Op)).
			Time("at", entry.Timestamp).
			Bool("had_prior_value", entry.HadPriorValue).
			Msg("route entry")
	}
	if len(rec.Snapshot) > 0 {
		e.logger.Debug().Str("execution_id", rec.ExecutionID).RawJSON("snapshot", rec.Snapshot).Msg("final message")
	}
	return nil
}
