// Package database is the dashboard's small local store. It keeps
// per-browser preferences, such as the logged-in flag, in whichever SQL
// engine the operator picked.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

// ErrNotInitialized is returned by methods called on a nil or closed store.
var ErrNotInitialized = errors.New("database not initialized")

// Database wraps the sql handle with the normalised driver name so query
// builders can pick placeholders.
type Database struct {
	DB     *sql.DB
	Driver string
	logf   func(string, ...any)
}

// Config holds the connection details.
type Config struct {
	DBType    string // sqlite, chai, genji, duckdb or pgx
	DBPath    string // file path for embedded engines
	DBConn    string // raw DSN for pgx
	DBHost    string
	DBPort    int
	DBUser    string
	DBPass    string
	DBName    string
	PGSSLMode string
	Port      int // used in the default file name
	Logf      func(string, ...any)
}

func normalizeDBType(dbType string) string {
	return strings.ToLower(strings.TrimSpace(dbType))
}

// DSN returns the driver name and data source for cfg.
func DSN(cfg Config) (driver, dsn string, err error) {
	driver = normalizeDBType(cfg.DBType)
	switch driver {
	case "sqlite", "chai", "genji":
		dsn = cfg.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("routedash-%d.%s", cfg.Port, driver)
		}
	case "duckdb":
		dsn = cfg.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("routedash-%d.duckdb", cfg.Port)
		}
	case "pgx":
		if strings.TrimSpace(cfg.DBConn) != "" {
			dsn = cfg.DBConn
		} else {
			sslMode := cfg.PGSSLMode
			if sslMode == "" {
				sslMode = "prefer"
			}
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, sslMode)
		}
	default:
		return "", "", fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}
	return driver, dsn, nil
}

// NewDatabase opens the store, tunes the connection and creates the schema.
// Embedded engines run over a single connection.
func NewDatabase(ctx context.Context, cfg Config) (*Database, error) {
	logf := cfg.Logf
	if logf == nil {
		logf = log.Printf
	}
	driver, dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening the database: %w", err)
	}

	switch driver {
	case "sqlite", "chai", "genji", "duckdb":
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	case "pgx":
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(2)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	if driver == "sqlite" {
		if err := tuneSQLiteLikeConnection(pingCtx, db, logf); err != nil {
			logf("sqlite tuning skipped: %v", err)
		}
	}

	d := &Database{DB: db, Driver: driver, logf: logf}
	if err := d.InitSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logf("Using database driver: %s", driver)
	return d, nil
}

// Close releases the connection pool.
func (db *Database) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	return db.DB.Close()
}

// InitSchema creates the preferences table when missing.
func (db *Database) InitSchema(ctx context.Context) error {
	if db == nil || db.DB == nil {
		return ErrNotInitialized
	}
	stmt := `CREATE TABLE IF NOT EXISTS preferences (pref_key TEXT PRIMARY KEY, pref_value TEXT NOT NULL, updated_at BIGINT NOT NULL)`
	if db.Driver == "genji" {
		// genji spells 64-bit integers INTEGER
		stmt = `CREATE TABLE IF NOT EXISTS preferences (pref_key TEXT PRIMARY KEY, pref_value TEXT, updated_at INTEGER)`
	}
	if _, err := db.DB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create preferences table: %w", err)
	}
	return nil
}

// tuneSQLiteLikeConnection applies WAL and busy-timeout pragmas, one after
// another, stopping at the first failure.
func tuneSQLiteLikeConnection(ctx context.Context, db *sql.DB, logf func(string, ...any)) error {
	steps := []struct {
		label     string
		query     string
		expectRow bool
	}{
		{"journal_mode", "PRAGMA journal_mode=WAL;", true},
		{"synchronous", "PRAGMA synchronous=NORMAL;", false},
		{"busy_timeout", "PRAGMA busy_timeout=5000;", false},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if step.expectRow {
			var mode string
			if err := db.QueryRowContext(ctx, step.query).Scan(&mode); err != nil {
				return fmt.Errorf("apply %s: %w", step.label, err)
			}
			logf("SQLite tuning %s -> %s", step.label, mode)
			continue
		}
		if _, err := db.ExecContext(ctx, step.query); err != nil {
			return fmt.Errorf("apply %s: %w", step.label, err)
		}
	}
	return nil
}

// newPlaceholderGenerator yields "$1", "$2"... for PostgreSQL and "?"
// everywhere else.
func newPlaceholderGenerator(dbType string) func() string {
	if normalizeDBType(dbType) == "pgx" {
		counter := 0
		return func() string {
			counter++
			return fmt.Sprintf("$%d", counter)
		}
	}
	return func() string { return "?" }
}
