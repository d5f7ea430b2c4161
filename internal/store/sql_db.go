package store

import (
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLDB wraps a shared *sql.DB connection for the SQL-backed cache, policy,
// and logs drivers. WAL mode lets the resolver pipeline's frequent cache
// reads proceed concurrently with the occasional policy or log write.
type SQLDB struct {
	conn *sql.DB
}

// OpenSQLDB opens (creating if absent) a SQLite database at path and brings
// its schema up to date.
func OpenSQLDB(path string) (*SQLDB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	db := &SQLDB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *SQLDB) migrate() error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(db.conn, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("store: migrator: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

// Close closes the underlying connection. Role drivers sharing this SQLDB
// should not call Close on themselves until the last one is done with it;
// the supervisor owns the SQLDB lifetime independently of any one driver.
func (db *SQLDB) Close() error {
	return db.conn.Close()
}

// sqlDBFromConfig resolves a *SQLDB from a driver config map, either by
// reusing a pre-opened handle under cfg["db"] (the common case, since the
// supervisor opens one SQLDB per process and shares it across the cache,
// denylist, allowlist, and logs roles) or by opening a new one at
// cfg["path"].
func sqlDBFromConfig(cfg map[string]any) (*SQLDB, error) {
	if db, ok := cfg["db"].(*SQLDB); ok && db != nil {
		return db, nil
	}
	path := stringOr(cfg, "path", "dnsward.db")
	return OpenSQLDB(path)
}
