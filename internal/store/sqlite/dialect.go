// Package sqlite is the embedded store backend.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/loykin/opshooks/internal/constants"
	_ "modernc.org/sqlite"
)

// Dialect implements the store dialect for SQLite.
type Dialect struct{}

func NewDialect() *Dialect { return &Dialect{} }

func (d *Dialect) DriverName() string { return "sqlite" }

// Placeholder is always "?".
func (d *Dialect) Placeholder(int) string { return "?" }

// Connect opens the database with a single writer connection.
func (d *Dialect) Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(constants.DefaultSQLiteLifetime)
	db.SetConnMaxIdleTime(constants.DefaultSQLiteIdleTime)
	return db, nil
}

func (d *Dialect) EnsureStatements(results, runs string) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (run_id TEXT NOT NULL, task_id TEXT NOT NULL, result_key TEXT NOT NULL, value TEXT NOT NULL, pushed_seq INTEGER NOT NULL DEFAULT 0, PRIMARY KEY(run_id, task_id, result_key))", results),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT, run_id TEXT NOT NULL, task_id TEXT NOT NULL, state TEXT NOT NULL, exit_code INTEGER NOT NULL DEFAULT 0, message TEXT NULL, ran_at TEXT NOT NULL)", runs),
	}
}

func (d *Dialect) TimeToStorage(t time.Time) interface{} {
	return t.UTC().Format(time.RFC3339Nano)
}

func (d *Dialect) TimeFromStorage(val interface{}) string {
	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	}
	return ""
}
