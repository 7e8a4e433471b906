// Package store persists published task results and run history.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/loykin/opshooks/internal/common"
	"github.com/loykin/opshooks/internal/retry"
	"github.com/loykin/opshooks/internal/store/postgresql"
	"github.com/loykin/opshooks/internal/store/sqlite"
	"github.com/loykin/opshooks/internal/util"
	"github.com/loykin/opshooks/pkg/task"
)

// Dialect hides the SQL differences between backends.
type Dialect interface {
	DriverName() string
	Placeholder(index int) string
	Connect(dsn string) (*sql.DB, error)
	EnsureStatements(results, runs string) []string
	TimeToStorage(t time.Time) interface{}
	TimeFromStorage(val interface{}) string
}

// Run states.
const (
	StateSuccess = "success"
	StateFailed  = "failed"
	StateSkipped = "skipped"
)

// Result is one published value.
type Result struct {
	RunID  string
	TaskID string
	Key    string
	Value  string
}

// Run is one task execution record.
type Run struct {
	ID       int64
	RunID    string
	TaskID   string
	State    string
	ExitCode int
	Message  string
	RanAt    string
}

type Store struct {
	db      *sql.DB
	dialect Dialect
	names   TableNames
	policy  *retry.Policy
	logger  *common.Logger
}

// Open connects to the configured backend and creates missing tables.
// An empty driver selects sqlite.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	driver := util.TrimAndLower(cfg.Driver)
	var d Dialect
	switch driver {
	case "", DriverSqlite:
		driver = DriverSqlite
		d = sqlite.NewDialect()
		if cfg.DriverConfig == nil {
			cfg.DriverConfig = &sqlite.Config{}
		}
	case DriverPostgresql, "postgres":
		driver = DriverPostgresql
		d = postgresql.NewDialect()
		if cfg.DriverConfig == nil {
			return nil, fmt.Errorf("postgresql store requires a dsn or host")
		}
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}

	dsn, _ := cfg.DriverConfig.ToMap()["dsn"].(string)
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s store requires a dsn", driver)
	}
	names := TableNamesWithPrefix("", cfg.TableNames)
	if err := names.validate(); err != nil {
		return nil, err
	}

	db, err := d.Connect(dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:      db,
		dialect: d,
		names:   names,
		policy:  cfg.Retry,
		logger:  common.GetLogger().WithStore(driver),
	}
	if err := s.ensure(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.logger.Info("store ready", "results_table", names.Results, "runs_table", names.Runs)
	return s, nil
}

func (s *Store) ensure(ctx context.Context) error {
	for _, stmt := range s.dialect.EnsureStatements(s.names.Results, s.names.Runs) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure tables: %w", err)
		}
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// TableNames returns the tables in use.
func (s *Store) TableNames() TableNames { return s.names }

func (s *Store) ph(i int) string { return s.dialect.Placeholder(i) }

var (
	seqMu   sync.Mutex
	lastSeq int64
)

// nextSeq returns a strictly increasing push sequence based on the wall clock.
func nextSeq() int64 {
	seqMu.Lock()
	defer seqMu.Unlock()
	n := time.Now().UnixNano()
	if n <= lastSeq {
		n = lastSeq + 1
	}
	lastSeq = n
	return n
}

// PushResult stores value under (runID, taskID, key), replacing an earlier value.
// Every push, including a replacement, moves the row to the end of the push order.
func (s *Store) PushResult(ctx context.Context, runID, taskID, key, value string) error {
	q := fmt.Sprintf(
		"INSERT INTO %s (run_id, task_id, result_key, value, pushed_seq) VALUES (%s, %s, %s, %s, %s) "+
			"ON CONFLICT (run_id, task_id, result_key) DO UPDATE SET value = excluded.value, pushed_seq = excluded.pushed_seq",
		s.names.Results, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	seq := nextSeq()
	return retry.Do(ctx, s.policy, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q, runID, taskID, key, value, seq)
		return err
	})
}

// LoadResults returns the results of a run in push order, oldest first.
func (s *Store) LoadResults(ctx context.Context, runID string) ([]Result, error) {
	q := fmt.Sprintf("SELECT run_id, task_id, result_key, value FROM %s WHERE run_id = %s ORDER BY pushed_seq, task_id, result_key",
		s.names.Results, s.ph(1))
	rows, err := s.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.RunID, &r.TaskID, &r.Key, &r.Value); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordRun appends a run record. RanAt is set to now.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	q := fmt.Sprintf("INSERT INTO %s (run_id, task_id, state, exit_code, message, ran_at) VALUES (%s, %s, %s, %s, %s, %s)",
		s.names.Runs, s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5), s.ph(6))
	var msg interface{}
	if r.Message != "" {
		msg = common.MaskSensitiveData(r.Message)
	}
	ranAt := s.dialect.TimeToStorage(time.Now())
	return retry.Do(ctx, s.policy, func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, q, r.RunID, r.TaskID, r.State, r.ExitCode, msg, ranAt)
		return err
	})
}

// ListRuns returns run records in insertion order. An empty runID lists every run.
func (s *Store) ListRuns(ctx context.Context, runID string) ([]Run, error) {
	q := fmt.Sprintf("SELECT id, run_id, task_id, state, exit_code, message, ran_at FROM %s", s.names.Runs)
	var args []interface{}
	if runID != "" {
		q += " WHERE run_id = " + s.ph(1)
		args = append(args, runID)
	}
	q += " ORDER BY id ASC"
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []Run
	for rows.Next() {
		var r Run
		var msg sql.NullString
		var ranAt interface{}
		if err := rows.Scan(&r.ID, &r.RunID, &r.TaskID, &r.State, &r.ExitCode, &msg, &ranAt); err != nil {
			return nil, err
		}
		r.Message = msg.String
		r.RanAt = s.dialect.TimeFromStorage(ranAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sink returns a task.ResultSink bound to one task of one run.
func (s *Store) Sink(runID, taskID string) task.ResultSink {
	return &sink{store: s, runID: runID, taskID: taskID}
}

type sink struct {
	store  *Store
	runID  string
	taskID string
}

func (k *sink) Push(ctx context.Context, key, value string) error {
	return k.store.PushResult(ctx, k.runID, k.taskID, key, value)
}
