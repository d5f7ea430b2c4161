package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLPolicyDriver is a SQLite-backed PolicyDriver for either the denylist
// or allowlist role, distinguished by the role column.
type SQLPolicyDriver struct {
	db   *SQLDB
	role Role
}

// NewSQLPolicyDriver builds a policy driver scoped to cfg["role"]
// ("denylist" or "allowlist").
func NewSQLPolicyDriver(cfg map[string]any) (PolicyDriver, error) {
	db, err := sqlDBFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	role, _ := cfg["role"].(string)
	if role == "" {
		return nil, fmt.Errorf("store: sql policy driver requires cfg[\"role\"]")
	}
	return &SQLPolicyDriver{db: db, role: Role(role)}, nil
}

func (d *SQLPolicyDriver) Get(ctx context.Context, domain string) (PolicyEntry, bool, error) {
	row := d.db.conn.QueryRowContext(ctx, `
		SELECT domain, added_at, source, reason, category
		FROM policy_entries WHERE role = ? AND domain = ?
	`, string(d.role), domain)

	var e PolicyEntry
	var addedAt int64
	var source, reason, category sql.NullString
	if err := row.Scan(&e.Domain, &addedAt, &source, &reason, &category); err != nil {
		if err == sql.ErrNoRows {
			return PolicyEntry{}, false, nil
		}
		return PolicyEntry{}, false, fmt.Errorf("store: get policy entry: %w", err)
	}
	e.AddedAt = time.UnixMilli(addedAt)
	e.Source, e.Reason, e.Category = source.String, reason.String, category.String
	return e, true, nil
}

func (d *SQLPolicyDriver) All(ctx context.Context) ([]PolicyEntry, error) {
	rows, err := d.db.conn.QueryContext(ctx, `
		SELECT domain, added_at, source, reason, category
		FROM policy_entries WHERE role = ?
	`, string(d.role))
	if err != nil {
		return nil, fmt.Errorf("store: list policy entries: %w", err)
	}
	defer rows.Close()

	var out []PolicyEntry
	for rows.Next() {
		var e PolicyEntry
		var addedAt int64
		var source, reason, category sql.NullString
		if err := rows.Scan(&e.Domain, &addedAt, &source, &reason, &category); err != nil {
			return nil, fmt.Errorf("store: scan policy entry: %w", err)
		}
		e.AddedAt = time.UnixMilli(addedAt)
		e.Source, e.Reason, e.Category = source.String, reason.String, category.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (d *SQLPolicyDriver) Add(ctx context.Context, entry PolicyEntry) error {
	_, _, err := d.Get(ctx, entry.Domain)
	if err != nil {
		return err
	}
	_, err = d.db.conn.ExecContext(ctx, `
		INSERT INTO policy_entries (domain, role, added_at, source, reason, category)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.Domain, string(d.role), entry.AddedAt.UnixMilli(), entry.Source, entry.Reason, entry.Category)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store: add policy entry: %w", err)
	}
	return nil
}

func (d *SQLPolicyDriver) Remove(ctx context.Context, domain string) error {
	res, err := d.db.conn.ExecContext(ctx,
		`DELETE FROM policy_entries WHERE role = ? AND domain = ?`, string(d.role), domain)
	if err != nil {
		return fmt.Errorf("store: remove policy entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (d *SQLPolicyDriver) Clear(ctx context.Context) error {
	_, err := d.db.conn.ExecContext(ctx, `DELETE FROM policy_entries WHERE role = ?`, string(d.role))
	if err != nil {
		return fmt.Errorf("store: clear policy entries: %w", err)
	}
	return nil
}

func (d *SQLPolicyDriver) Export(ctx context.Context) ([]PolicyEntry, error) {
	return d.All(ctx)
}

func (d *SQLPolicyDriver) Import(ctx context.Context, entries []PolicyEntry) error {
	tx, err := d.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin import tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO policy_entries (domain, role, added_at, source, reason, category)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(role, domain) DO UPDATE SET
			added_at = excluded.added_at,
			source = excluded.source,
			reason = excluded.reason,
			category = excluded.category
	`)
	if err != nil {
		return fmt.Errorf("store: prepare import: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Domain, string(d.role), e.AddedAt.UnixMilli(), e.Source, e.Reason, e.Category); err != nil {
			return fmt.Errorf("store: import policy entry %q: %w", e.Domain, err)
		}
	}
	return tx.Commit()
}

func (d *SQLPolicyDriver) Close() error { return nil }

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint violations with this substring
	// rather than a typed error value.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
