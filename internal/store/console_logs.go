package store

import (
	"context"
	"log/slog"
)

// ConsoleLogsDriver writes log entries through slog instead of to any
// durable store. It is the always-available fallback sink: when the
// configured logs driver fails to append, the resolver pipeline writes the
// entry here instead of letting the failure reach the response path.
type ConsoleLogsDriver struct {
	logger *slog.Logger
}

// NewConsoleLogsDriver builds a console sink over the default slog logger.
func NewConsoleLogsDriver(map[string]any) (LogsDriver, error) {
	return &ConsoleLogsDriver{logger: slog.Default()}, nil
}

func (d *ConsoleLogsDriver) Append(_ context.Context, entry LogEntry) error {
	attrs := []any{slog.String("kind", string(entry.Kind)), slog.String("id", entry.ID)}
	if entry.Question != "" {
		attrs = append(attrs, slog.String("question", entry.Question))
	}
	if entry.Processing != nil {
		attrs = append(attrs,
			slog.String("provider", entry.Processing.Provider),
			slog.Bool("cached", entry.Processing.Cached),
			slog.Bool("blocked", entry.Processing.Blocked),
			slog.Bool("success", entry.Processing.Success),
		)
	}
	if entry.Message != "" {
		attrs = append(attrs, slog.String("message", entry.Message))
	}
	switch entry.Level {
	case LevelDebug:
		d.logger.Debug("log entry", attrs...)
	case LevelWarn:
		d.logger.Warn("log entry", attrs...)
	case LevelError:
		d.logger.Error("log entry", attrs...)
	default:
		d.logger.Info("log entry", attrs...)
	}
	return nil
}

// Get is unsupported: the console sink does not retain history.
func (d *ConsoleLogsDriver) Get(context.Context, LogFilter) ([]LogEntry, error) {
	return nil, nil
}

func (d *ConsoleLogsDriver) Clear(context.Context) error                { return nil }
func (d *ConsoleLogsDriver) Export(context.Context) ([]LogEntry, error) { return nil, nil }
func (d *ConsoleLogsDriver) Import(context.Context, []LogEntry) error   { return nil }
func (d *ConsoleLogsDriver) Close() error                               { return nil }
