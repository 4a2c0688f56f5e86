package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// ParseDriver maps the usual aliases onto a Driver.
func ParseDriver(s string) (Driver, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "pg", "pgx", "pgsql":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", s)
	}
}

// Open opens a DB, tunes the pool and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:gpam.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/gpam?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	tunePool(driver, db)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	if driver == DriverSQLite {
		if err := applySQLitePragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db: schema: %w", err)
	}
	return db, nil
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func WithTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return errors.New("db: nil handle")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("db: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = fmt.Errorf("db: commit: %w", e)
		}
	}()
	err = fn(tx)
	return
}

func tunePool(driver Driver, db *sql.DB) {
	switch driver {
	case DriverSQLite:
		// single writer
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	default:
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(45 * time.Minute)
		db.SetConnMaxIdleTime(15 * time.Minute)
	}
}

func applySQLitePragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("db: sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Decimals are stored as text so neither driver rounds them.
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS course_medians (
  term TEXT NOT NULL,
  subj TEXT NOT NULL,
  crse TEXT NOT NULL,
  class_id TEXT NOT NULL,
  median TEXT NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (term, subj, crse, class_id)
);

CREATE TABLE IF NOT EXISTS gpam_results (
  student_id TEXT NOT NULL,
  scope_term TEXT NOT NULL,               -- '' for cumulative
  gpam TEXT NOT NULL,
  total_units TEXT NOT NULL,
  graded INTEGER NOT NULL,
  run_id TEXT NOT NULL,
  computed_at INTEGER NOT NULL,
  PRIMARY KEY (student_id, scope_term)
);

CREATE TABLE IF NOT EXISTS gpam_runs (
  run_id TEXT PRIMARY KEY,
  started_at INTEGER NOT NULL,
  finished_at INTEGER NOT NULL,
  outcome TEXT NOT NULL,
  report_json TEXT NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS course_medians (
  term TEXT NOT NULL,
  subj TEXT NOT NULL,
  crse TEXT NOT NULL,
  class_id TEXT NOT NULL,
  median NUMERIC NOT NULL,
  updated_at BIGINT NOT NULL,
  PRIMARY KEY (term, subj, crse, class_id)
);

CREATE TABLE IF NOT EXISTS gpam_results (
  student_id TEXT NOT NULL,
  scope_term TEXT NOT NULL,
  gpam NUMERIC NOT NULL,
  total_units NUMERIC NOT NULL,
  graded INTEGER NOT NULL,
  run_id TEXT NOT NULL,
  computed_at BIGINT NOT NULL,
  PRIMARY KEY (student_id, scope_term)
);

CREATE TABLE IF NOT EXISTS gpam_runs (
  run_id TEXT PRIMARY KEY,
  started_at BIGINT NOT NULL,
  finished_at BIGINT NOT NULL,
  outcome TEXT NOT NULL,
  report_json TEXT NOT NULL
);
`
