package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLCacheDriver is a SQLite-backed CacheDriver sharing a *SQLDB connection
// with the other SQL-backed roles.
type SQLCacheDriver struct {
	db *SQLDB
}

// NewSQLCacheDriver builds a cache driver against the database at
// cfg["path"] (or a shared cfg["db"] *SQLDB, if present).
func NewSQLCacheDriver(cfg map[string]any) (CacheDriver, error) {
	db, err := sqlDBFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &SQLCacheDriver{db: db}, nil
}

func (d *SQLCacheDriver) Get(ctx context.Context, key string) (CachedResponse, bool, error) {
	row := d.db.conn.QueryRowContext(ctx,
		`SELECT packet, cached_at, ttl_secs, expires_at FROM cache_entries WHERE key = ?`, key)
	var v CachedResponse
	if err := row.Scan(&v.Packet, &v.CachedAt, &v.TTLSecs, &v.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return CachedResponse{}, false, nil
		}
		return CachedResponse{}, false, fmt.Errorf("store: get cache entry: %w", err)
	}
	return v, true, nil
}

func (d *SQLCacheDriver) Set(ctx context.Context, key string, value CachedResponse) error {
	_, err := d.db.conn.ExecContext(ctx, `
		INSERT INTO cache_entries (key, packet, cached_at, ttl_secs, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			packet = excluded.packet,
			cached_at = excluded.cached_at,
			ttl_secs = excluded.ttl_secs,
			expires_at = excluded.expires_at
	`, key, value.Packet, value.CachedAt, value.TTLSecs, value.ExpiresAt)
	if err != nil {
		return fmt.Errorf("store: set cache entry: %w", err)
	}
	return nil
}

func (d *SQLCacheDriver) Remove(ctx context.Context, key string) error {
	_, err := d.db.conn.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("store: remove cache entry: %w", err)
	}
	return nil
}

func (d *SQLCacheDriver) Clear(ctx context.Context) error {
	_, err := d.db.conn.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return fmt.Errorf("store: clear cache entries: %w", err)
	}
	return nil
}

func (d *SQLCacheDriver) Export(ctx context.Context) (map[string]CachedResponse, error) {
	rows, err := d.db.conn.QueryContext(ctx, `SELECT key, packet, cached_at, ttl_secs, expires_at FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("store: export cache entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]CachedResponse)
	for rows.Next() {
		var key string
		var v CachedResponse
		if err := rows.Scan(&key, &v.Packet, &v.CachedAt, &v.TTLSecs, &v.ExpiresAt); err != nil {
			return nil, fmt.Errorf("store: scan cache entry: %w", err)
		}
		out[key] = v
	}
	return out, rows.Err()
}

func (d *SQLCacheDriver) Import(ctx context.Context, entries map[string]CachedResponse) error {
	tx, err := d.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin import tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cache_entries (key, packet, cached_at, ttl_secs, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			packet = excluded.packet,
			cached_at = excluded.cached_at,
			ttl_secs = excluded.ttl_secs,
			expires_at = excluded.expires_at
	`)
	if err != nil {
		return fmt.Errorf("store: prepare import: %w", err)
	}
	defer stmt.Close()

	for key, v := range entries {
		if _, err := stmt.ExecContext(ctx, key, v.Packet, v.CachedAt, v.TTLSecs, v.ExpiresAt); err != nil {
			return fmt.Errorf("store: import cache entry %q: %w", key, err)
		}
	}
	return tx.Commit()
}

func (d *SQLCacheDriver) Close() error { return nil }
