// Package postgresql is the shared store backend.
package postgresql

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/loykin/opshooks/internal/constants"
)

// Dialect implements the store dialect for PostgreSQL.
type Dialect struct{}

func NewDialect() *Dialect { return &Dialect{} }

func (p *Dialect) DriverName() string { return "postgresql" }

// Placeholder returns $1, $2, ...
func (p *Dialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// Connect opens a pooled connection through the pgx stdlib driver.
func (p *Dialect) Connect(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(constants.DefaultMaxConnLifetime)
	db.SetConnMaxIdleTime(constants.DefaultMaxIdleTime)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}
	return db, nil
}

func (p *Dialect) EnsureStatements(results, runs string) []string {
	return []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (run_id TEXT NOT NULL, task_id TEXT NOT NULL, result_key TEXT NOT NULL, value TEXT NOT NULL, pushed_seq BIGINT NOT NULL DEFAULT 0, PRIMARY KEY(run_id, task_id, result_key))", results),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (id SERIAL PRIMARY KEY, run_id TEXT NOT NULL, task_id TEXT NOT NULL, state TEXT NOT NULL, exit_code INTEGER NOT NULL DEFAULT 0, message TEXT NULL, ran_at TIMESTAMPTZ NOT NULL)", runs),
	}
}

func (p *Dialect) TimeToStorage(t time.Time) interface{} {
	return t.UTC()
}

func (p *Dialect) TimeFromStorage(val interface{}) string {
	switch v := val.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if v != nil {
			return v.UTC().Format(time.RFC3339Nano)
		}
	case string:
		return v
	}
	return ""
}
