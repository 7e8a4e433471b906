// Package runner executes declared tasks in dependency order and records
// their outcome.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loykin/opshooks/internal/common"
	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/internal/plugin"
	"github.com/loykin/opshooks/internal/store"
	"github.com/loykin/opshooks/pkg/task"
)

// Failure policies.
const (
	OnFailureStop           = "stop"
	OnFailureContinue       = "continue"
	OnFailureSkipDependents = "skip_dependents"
)

// ErrSensorTimeout is returned when a sensor does not become ready in time.
var ErrSensorTimeout = errors.New("sensor timed out")

// Task is a declared unit plus its scheduling options.
type Task struct {
	plugin.Spec `mapstructure:",squash" yaml:",inline"`
	DependsOn   []string `mapstructure:"depends_on" yaml:"depends_on"`
	// OnFailure is stop (default), continue or skip_dependents.
	OnFailure string `mapstructure:"on_failure" yaml:"on_failure"`
	// PokeInterval is the delay between sensor pokes.
	PokeInterval time.Duration `mapstructure:"poke_interval" yaml:"poke_interval"`
	// Timeout bounds an operator's execution, or the total time a sensor is poked.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Recorder persists run outcomes and published results.
type Recorder interface {
	RecordRun(ctx context.Context, r store.Run) error
	Sink(runID, taskID string) task.ResultSink
}

// ResultLoader is implemented by recorders that can return the results of an earlier run.
type ResultLoader interface {
	LoadResults(ctx context.Context, runID string) ([]store.Result, error)
}

type Config struct {
	Tasks    []Task
	Registry *plugin.Registry
	Env      plugin.Env
	// Recorder is optional.
	Recorder Recorder
	// Vars are template values available to every task.
	Vars map[string]any
}

type Options struct {
	// RunID groups recorded outcomes; a random id is used when empty.
	// Reusing an id makes the results of that run visible again.
	RunID string
	// Only restricts the run to these task ids and everything they depend on,
	// keeping dependency order.
	Only []string
}

// Outcome is the result of one task in one run.
type Outcome struct {
	TaskID   string
	State    string
	ExitCode int
	Err      error
	Duration time.Duration
}

type Runner struct {
	tasks    map[string]Task
	graph    *graph
	registry *plugin.Registry
	env      plugin.Env
	recorder Recorder
	vars     map[string]any
	logger   *common.Logger
}

// New validates the task list and builds every task once to surface
// configuration errors before anything runs.
func New(cfg Config) (*Runner, error) {
	if cfg.Registry == nil {
		cfg.Registry = plugin.Default()
	}
	g, err := newGraph(cfg.Tasks)
	if err != nil {
		return nil, err
	}
	tasks := make(map[string]Task, len(cfg.Tasks))
	for _, t := range cfg.Tasks {
		switch strings.ToLower(t.OnFailure) {
		case "", OnFailureStop, OnFailureContinue, OnFailureSkipDependents:
		default:
			return nil, task.Configf("task %s: invalid on_failure %q", t.ID, t.OnFailure)
		}
		if _, err := cfg.Registry.Build(t.Spec, cfg.Env); err != nil {
			return nil, err
		}
		tasks[t.ID] = t
	}
	return &Runner{
		tasks:    tasks,
		graph:    g,
		registry: cfg.Registry,
		env:      cfg.Env,
		recorder: cfg.Recorder,
		vars:     cfg.Vars,
		logger:   common.GetLogger().WithComponent("runner"),
	}, nil
}

// Plan returns the task ids Run would execute, in order.
func (r *Runner) Plan(only []string) ([]string, error) {
	order := r.graph.order()
	if len(only) == 0 {
		return order, nil
	}
	want := map[string]bool{}
	for _, id := range only {
		id = strings.TrimSpace(id)
		if _, ok := r.tasks[id]; !ok {
			return nil, task.Configf("unknown task %q", id)
		}
		want[id] = true
		for _, dep := range r.graph.dependencies(id) {
			want[dep] = true
		}
	}
	out := make([]string, 0, len(want))
	for _, id := range order {
		if want[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// Run executes the planned tasks one after another. The returned error joins
// every task failure; with the stop policy the run ends at the first one.
func (r *Runner) Run(ctx context.Context, opts Options) ([]Outcome, error) {
	order, err := r.Plan(opts.Only)
	if err != nil {
		return nil, err
	}
	runID := strings.TrimSpace(opts.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}
	results, err := r.previousResults(ctx, runID)
	if err != nil {
		return nil, err
	}

	r.logger.Info("starting run", "run_id", runID, "tasks", order)
	skipped := map[string]string{}
	var outcomes []Outcome
	var failures []error
	for i, id := range order {
		t := r.tasks[id]
		var out Outcome
		if reason, ok := skipped[id]; ok {
			r.logger.WithTask(id).Info("task skipped", "reason", reason)
			out = Outcome{TaskID: id, State: store.StateSkipped, Err: task.Skipf("%s", reason)}
		} else {
			r.logger.WithTask(id).Info("running task", "progress", fmt.Sprintf("%d/%d", i+1, len(order)))
			out = r.runTask(ctx, runID, t, results)
		}
		if err := r.record(ctx, runID, out); err != nil {
			return append(outcomes, out), err
		}
		outcomes = append(outcomes, out)

		if out.State != store.StateFailed {
			continue
		}
		failure := fmt.Errorf("task %s failed: %w", id, out.Err)
		failures = append(failures, failure)
		switch strings.ToLower(t.OnFailure) {
		case OnFailureContinue:
			r.logger.WithTask(id).Warn("continuing despite task failure")
		case OnFailureSkipDependents:
			deps := r.graph.dependents(id)
			r.logger.WithTask(id).Warn("skipping dependent tasks", "dependents", deps)
			for _, d := range deps {
				skipped[d] = fmt.Sprintf("dependency %s failed", id)
			}
		default:
			return outcomes, failure
		}
		if ctx.Err() != nil {
			return outcomes, errors.Join(failures...)
		}
	}
	r.logger.Info("run finished", "run_id", runID, "tasks", len(outcomes), "failed", len(failures))
	return outcomes, errors.Join(failures...)
}

func (r *Runner) previousResults(ctx context.Context, runID string) (*resultMap, error) {
	m := &resultMap{values: map[string]string{}}
	loader, ok := r.recorder.(ResultLoader)
	if !ok {
		return m, nil
	}
	prev, err := loader.LoadResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load results of run %s: %w", runID, err)
	}
	for _, res := range prev {
		m.values[res.Key] = res.Value
	}
	return m, nil
}

func (r *Runner) runTask(ctx context.Context, runID string, t Task, results *resultMap) Outcome {
	start := time.Now()
	out := Outcome{TaskID: t.ID}
	err := r.execute(ctx, runID, t, results)
	out.Duration = time.Since(start)
	out.Err = err

	logger := r.logger.WithTask(t.ID)
	var cmdErr *task.CommandError
	switch {
	case err == nil:
		out.State = store.StateSuccess
		logger.Info("task succeeded", "duration", out.Duration)
	case task.IsSkip(err):
		out.State = store.StateSkipped
		logger.Info("task skipped", "reason", err.Error())
	default:
		out.State = store.StateFailed
		out.ExitCode = -1
		if errors.As(err, &cmdErr) {
			out.ExitCode = cmdErr.ExitCode
		}
		logger.Error("task failed", "error", err, "duration", out.Duration)
	}
	return out
}

func (r *Runner) execute(ctx context.Context, runID string, t Task, results *resultMap) error {
	unit, err := r.registry.Build(t.Spec, r.env)
	if err != nil {
		return err
	}
	var sink task.ResultSink
	if r.recorder != nil {
		sink = r.recorder.Sink(runID, t.ID)
	}
	tc := &task.Context{
		TaskID:  t.ID,
		RunID:   runID,
		Values:  r.values(runID, t.ID, results),
		Results: &teeSink{next: sink, results: results},
	}
	if unit.IsSensor() {
		return r.poke(ctx, t, unit.Sensor, tc)
	}
	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	_, err = unit.Operator.Execute(ctx, tc)
	return err
}

func (r *Runner) values(runID, taskID string, results *resultMap) map[string]any {
	v := make(map[string]any, len(r.vars)+3)
	for k, val := range r.vars {
		v[k] = val
	}
	v["run_id"] = runID
	v["task_id"] = taskID
	v[plugin.ResultsValueKey] = results.snapshot()
	return v
}

// poke calls the sensor until it reports ready, the timeout elapses or ctx ends.
func (r *Runner) poke(ctx context.Context, t Task, s task.Sensor, tc *task.Context) error {
	interval := t.PokeInterval
	if interval <= 0 {
		interval = constants.DefaultPokeInterval
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = constants.DefaultPokeTimeout
	}
	deadline := time.Now().Add(timeout)
	logger := r.logger.WithTask(t.ID)
	for attempt := 1; ; attempt++ {
		ok, err := s.Poke(ctx, tc)
		if err != nil {
			return err
		}
		if ok {
			logger.Info("sensor ready", "pokes", attempt)
			return nil
		}
		if time.Now().Add(interval).After(deadline) {
			return fmt.Errorf("%w: %s not ready after %s", ErrSensorTimeout, t.ID, timeout)
		}
		logger.Debug("sensor not ready", "pokes", attempt, "next_in", interval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (r *Runner) record(ctx context.Context, runID string, out Outcome) error {
	if r.recorder == nil {
		return nil
	}
	msg := ""
	if out.Err != nil {
		msg = out.Err.Error()
	}
	err := r.recorder.RecordRun(ctx, store.Run{
		RunID:    runID,
		TaskID:   out.TaskID,
		State:    out.State,
		ExitCode: out.ExitCode,
		Message:  msg,
	})
	if err != nil {
		return fmt.Errorf("record task %s: %w", out.TaskID, err)
	}
	return nil
}

// resultMap holds the values published so far in a run.
type resultMap struct {
	mu     sync.RWMutex
	values map[string]string
}

func (m *resultMap) snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// teeSink publishes to the recorder and makes the value visible to later tasks.
type teeSink struct {
	next    task.ResultSink
	results *resultMap
}

func (s *teeSink) Push(ctx context.Context, key, value string) error {
	if s.next != nil {
		if err := s.next.Push(ctx, key, value); err != nil {
			return err
		}
	}
	s.results.mu.Lock()
	s.results.values[key] = value
	s.results.mu.Unlock()
	return nil
}
