package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLLogsDriver is a SQLite-backed LogsDriver.
type SQLLogsDriver struct {
	db *SQLDB
}

// NewSQLLogsDriver builds a logs driver against the shared SQLDB.
func NewSQLLogsDriver(cfg map[string]any) (LogsDriver, error) {
	db, err := sqlDBFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &SQLLogsDriver{db: db}, nil
}

func (d *SQLLogsDriver) Append(ctx context.Context, entry LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	clientJSON, processingJSON, err := marshalLogSidecars(entry)
	if err != nil {
		return err
	}
	_, err = d.db.conn.ExecContext(ctx, `
		INSERT INTO log_entries (id, timestamp, kind, level, question, packet, client_json, processing_json, event_type, message, port, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Timestamp.UnixMilli(), string(entry.Kind), string(entry.Level), entry.Question, entry.Packet,
		clientJSON, processingJSON, entry.EventType, entry.Message, entry.Port, entry.Error)
	if err != nil {
		return fmt.Errorf("store: append log entry: %w", err)
	}
	return nil
}

func marshalLogSidecars(entry LogEntry) (clientJSON, processingJSON sql.NullString, err error) {
	if entry.Client != nil {
		b, e := json.Marshal(entry.Client)
		if e != nil {
			return clientJSON, processingJSON, fmt.Errorf("store: encode client info: %w", e)
		}
		clientJSON = sql.NullString{String: string(b), Valid: true}
	}
	if entry.Processing != nil {
		b, e := json.Marshal(entry.Processing)
		if e != nil {
			return clientJSON, processingJSON, fmt.Errorf("store: encode processing info: %w", e)
		}
		processingJSON = sql.NullString{String: string(b), Valid: true}
	}
	return clientJSON, processingJSON, nil
}

func (d *SQLLogsDriver) Get(ctx context.Context, filter LogFilter) ([]LogEntry, error) {
	query := `SELECT id, timestamp, kind, level, question, packet, client_json, processing_json, event_type, message, port, error FROM log_entries WHERE 1=1`
	var args []any
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Level != "" {
		query += ` AND level = ?`
		args = append(args, string(filter.Level))
	}
	if filter.Domain != "" {
		query += ` AND question = ?`
		args = append(args, filter.Domain)
	}
	query += ` ORDER BY timestamp DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := d.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query log entries: %w", err)
	}
	defer rows.Close()

	var out []LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, err
		}
		if filter.Provider != "" && (e.Processing == nil || e.Processing.Provider != filter.Provider) {
			continue
		}
		if filter.Success != nil && (e.Processing == nil || e.Processing.Success != *filter.Success) {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanLogEntry(rows *sql.Rows) (LogEntry, error) {
	var e LogEntry
	var ts int64
	var kind, level string
	var question, eventType, message, errStr sql.NullString
	var clientJSON, processingJSON sql.NullString
	var port sql.NullInt64

	if err := rows.Scan(&e.ID, &ts, &kind, &level, &question, &e.Packet, &clientJSON, &processingJSON,
		&eventType, &message, &port, &errStr); err != nil {
		return e, fmt.Errorf("store: scan log entry: %w", err)
	}
	e.Timestamp = time.UnixMilli(ts)
	e.Kind = LogKind(kind)
	e.Level = LogLevel(level)
	e.Question = question.String
	e.EventType = eventType.String
	e.Message = message.String
	e.Error = errStr.String
	e.Port = int(port.Int64)

	if clientJSON.Valid {
		var c ClientInfo
		if err := json.Unmarshal([]byte(clientJSON.String), &c); err != nil {
			return e, fmt.Errorf("store: decode client info: %w", err)
		}
		e.Client = &c
	}
	if processingJSON.Valid {
		var p Processing
		if err := json.Unmarshal([]byte(processingJSON.String), &p); err != nil {
			return e, fmt.Errorf("store: decode processing info: %w", err)
		}
		e.Processing = &p
	}
	return e, nil
}

func (d *SQLLogsDriver) Clear(ctx context.Context) error {
	_, err := d.db.conn.ExecContext(ctx, `DELETE FROM log_entries`)
	if err != nil {
		return fmt.Errorf("store: clear log entries: %w", err)
	}
	return nil
}

func (d *SQLLogsDriver) Export(ctx context.Context) ([]LogEntry, error) {
	return d.Get(ctx, LogFilter{})
}

func (d *SQLLogsDriver) Import(ctx context.Context, entries []LogEntry) error {
	tx, err := d.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin import tx: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		clientJSON, processingJSON, err := marshalLogSidecars(e)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO log_entries (id, timestamp, kind, level, question, packet, client_json, processing_json, event_type, message, port, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, e.ID, e.Timestamp.UnixMilli(), string(e.Kind), string(e.Level), e.Question, e.Packet,
			clientJSON, processingJSON, e.EventType, e.Message, e.Port, e.Error)
		if err != nil && !strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("store: import log entry %q: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

func (d *SQLLogsDriver) Close() error { return nil }
