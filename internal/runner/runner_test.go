package runner

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/loykin/opshooks/internal/plugin"
	"github.com/loykin/opshooks/internal/store"
	"github.com/loykin/opshooks/internal/store/sqlite"
	"github.com/loykin/opshooks/pkg/task"
)

// testRegistry registers a "noop" operator, a "push" operator that publishes
// params key=value, a "fail" operator exiting with params code, and a "ready"
// sensor that becomes ready after params after pokes.
type testRegistry struct {
	mu    sync.Mutex
	ran   []string
	pokes map[string]int
	seen  map[string]map[string]any
}

func newTestRegistry() (*testRegistry, *plugin.Registry) {
	tr := &testRegistry{pokes: map[string]int{}, seen: map[string]map[string]any{}}
	reg := plugin.NewRegistry()
	op := func(fn func(ctx context.Context, tc *task.Context, params map[string]any) error) plugin.Builder {
		return func(params map[string]any, _ plugin.Env) (plugin.Unit, error) {
			return plugin.Unit{Operator: task.OperatorFunc(func(ctx context.Context, tc *task.Context) (any, error) {
				tr.mu.Lock()
				tr.ran = append(tr.ran, tc.TaskID)
				tr.seen[tc.TaskID] = tc.ValueMap()
				tr.mu.Unlock()
				return nil, fn(ctx, tc, params)
			})}, nil
		}
	}
	reg.Register("noop", op(func(context.Context, *task.Context, map[string]any) error { return nil }))
	reg.Register("push", op(func(ctx context.Context, tc *task.Context, p map[string]any) error {
		return tc.Push(ctx, p["key"].(string), p["value"].(string))
	}))
	reg.Register("fail", op(func(context.Context, *task.Context, map[string]any) error {
		return task.ExitError(3)
	}))
	reg.Register("block", op(func(ctx context.Context, _ *task.Context, _ map[string]any) error {
		<-ctx.Done()
		return task.WrapCommand(ctx.Err())
	}))
	reg.Register("ready", func(params map[string]any, _ plugin.Env) (plugin.Unit, error) {
		after, _ := params["after"].(int)
		return plugin.Unit{Sensor: task.SensorFunc(func(_ context.Context, tc *task.Context) (bool, error) {
			tr.mu.Lock()
			defer tr.mu.Unlock()
			tr.pokes[tc.TaskID]++
			return tr.pokes[tc.TaskID] >= after, nil
		})}, nil
	})
	return tr, reg
}

func typed(id, typ string, params map[string]any, deps ...string) Task {
	return Task{Spec: plugin.Spec{ID: id, Type: typ, Params: params}, DependsOn: deps}
}

func states(outs []Outcome) map[string]string {
	m := map[string]string{}
	for _, o := range outs {
		m[o.TaskID] = o.State
	}
	return m
}

func TestRun_ResultsFlowToLaterTasks(t *testing.T) {
	tr, reg := newTestRegistry()
	r, err := New(Config{
		Registry: reg,
		Vars:     map[string]any{"env": "prod"},
		Tasks: []Task{
			typed("second", "noop", nil, "first"),
			typed("first", "push", map[string]any{"key": "version", "value": "1.2.3"}),
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	outs, err := r.Run(context.Background(), Options{RunID: "r1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(tr.ran, []string{"first", "second"}) {
		t.Fatalf("unexpected order %v", tr.ran)
	}
	if states(outs)["second"] != store.StateSuccess {
		t.Fatalf("unexpected outcomes %+v", outs)
	}
	v := tr.seen["second"]
	if v["env"] != "prod" || v["run_id"] != "r1" || v["task_id"] != "second" {
		t.Fatalf("unexpected values %v", v)
	}
	if res := v[plugin.ResultsValueKey].(map[string]any); res["version"] != "1.2.3" {
		t.Fatalf("result not visible to later task: %v", res)
	}
}

func TestRun_ResultConditionSkipsTask(t *testing.T) {
	tr, reg := newTestRegistry()
	r, err := New(Config{
		Registry: reg,
		Tasks: []Task{
			typed("health", "push", map[string]any{"key": "status", "value": `{"healthy":false}`}),
			{
				Spec: plugin.Spec{ID: "restart", Type: "noop", Condition: &plugin.ConditionSpec{
					Type: "result", Key: "status", Path: "healthy",
				}},
				DependsOn: []string{"health"},
			},
			typed("after", "noop", nil, "restart"),
		},
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	outs, err := r.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	st := states(outs)
	if st["restart"] != store.StateSkipped || st["after"] != store.StateSuccess {
		t.Fatalf("unexpected states %v", st)
	}
	if !reflect.DeepEqual(tr.ran, []string{"health", "after"}) {
		t.Fatalf("skipped task must not run: %v", tr.ran)
	}
}

func TestRun_FailurePolicies(t *testing.T) {
	t.Run("stop", func(t *testing.T) {
		tr, reg := newTestRegistry()
		r, _ := New(Config{Registry: reg, Tasks: []Task{typed("a", "fail", nil), typed("b", "noop", nil)}})
		outs, err := r.Run(context.Background(), Options{})
		var cmdErr *task.CommandError
		if !errors.As(err, &cmdErr) || cmdErr.ExitCode != 3 {
			t.Fatalf("expected exit error, got %v", err)
		}
		if len(outs) != 1 || outs[0].ExitCode != 3 || len(tr.ran) != 1 {
			t.Fatalf("run must stop at the first failure: %+v %v", outs, tr.ran)
		}
	})

	t.Run("continue", func(t *testing.T) {
		tr, reg := newTestRegistry()
		failing := typed("a", "fail", nil)
		failing.OnFailure = OnFailureContinue
		r, _ := New(Config{Registry: reg, Tasks: []Task{failing, typed("b", "noop", nil, "a")}})
		outs, err := r.Run(context.Background(), Options{})
		if !errors.Is(err, task.ErrCommand) {
			t.Fatalf("expected the failure to be reported, got %v", err)
		}
		if len(outs) != 2 || len(tr.ran) != 2 {
			t.Fatalf("expected both tasks to run: %+v", outs)
		}
	})

	t.Run("skip_dependents", func(t *testing.T) {
		tr, reg := newTestRegistry()
		failing := typed("a", "fail", nil)
		failing.OnFailure = OnFailureSkipDependents
		r, _ := New(Config{Registry: reg, Tasks: []Task{
			failing, typed("b", "noop", nil, "a"), typed("c", "noop", nil, "b"), typed("d", "noop", nil),
		}})
		outs, err := r.Run(context.Background(), Options{})
		if err == nil {
			t.Fatalf("expected error")
		}
		st := states(outs)
		if st["a"] != store.StateFailed || st["b"] != store.StateSkipped || st["c"] != store.StateSkipped || st["d"] != store.StateSuccess {
			t.Fatalf("unexpected states %v", st)
		}
		if !reflect.DeepEqual(tr.ran, []string{"a", "d"}) {
			t.Fatalf("unexpected ran %v", tr.ran)
		}
	})
}

func TestRun_OperatorTimeout(t *testing.T) {
	_, reg := newTestRegistry()
	blocking := typed("slow", "block", nil)
	blocking.Timeout = 20 * time.Millisecond
	r, _ := New(Config{Registry: reg, Tasks: []Task{blocking}})
	outs, err := r.Run(context.Background(), Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if outs[0].ExitCode != -1 {
		t.Fatalf("unexpected exit code %d", outs[0].ExitCode)
	}
}

func TestRun_SensorPolling(t *testing.T) {
	tr, reg := newTestRegistry()
	s := typed("wait", "ready", map[string]any{"after": 3})
	s.PokeInterval = time.Millisecond
	s.Timeout = time.Second
	r, _ := New(Config{Registry: reg, Tasks: []Task{s}})
	if _, err := r.Run(context.Background(), Options{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if tr.pokes["wait"] != 3 {
		t.Fatalf("expected 3 pokes, got %d", tr.pokes["wait"])
	}
}

func TestRun_SensorTimeout(t *testing.T) {
	_, reg := newTestRegistry()
	s := typed("wait", "ready", map[string]any{"after": 1 << 30})
	s.PokeInterval = 5 * time.Millisecond
	s.Timeout = 20 * time.Millisecond
	r, _ := New(Config{Registry: reg, Tasks: []Task{s}})
	outs, err := r.Run(context.Background(), Options{})
	if !errors.Is(err, ErrSensorTimeout) {
		t.Fatalf("expected sensor timeout, got %v", err)
	}
	if outs[0].State != store.StateFailed {
		t.Fatalf("unexpected outcome %+v", outs[0])
	}
}

func TestRun_Only(t *testing.T) {
	tr, reg := newTestRegistry()
	r, _ := New(Config{Registry: reg, Tasks: []Task{typed("a", "noop", nil), typed("b", "noop", nil, "a"), typed("c", "noop", nil)}})
	plan, err := r.Plan([]string{"c"})
	if err != nil || !reflect.DeepEqual(plan, []string{"c"}) {
		t.Fatalf("plan = %v, %v", plan, err)
	}
	plan, err = r.Plan([]string{"c", "b"})
	if err != nil || !reflect.DeepEqual(plan, []string{"a", "b", "c"}) {
		t.Fatalf("plan with dependencies = %v, %v", plan, err)
	}
	if _, err := r.Run(context.Background(), Options{Only: []string{"b"}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(tr.ran, []string{"a", "b"}) {
		t.Fatalf("unexpected ran %v", tr.ran)
	}
	if _, err := r.Plan([]string{"zzz"}); !errors.Is(err, task.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	_, reg := newTestRegistry()
	bad := typed("a", "noop", nil)
	bad.OnFailure = "explode"
	if _, err := New(Config{Registry: reg, Tasks: []Task{bad}}); !errors.Is(err, task.ErrConfiguration) {
		t.Fatalf("expected configuration error for on_failure, got %v", err)
	}
	if _, err := New(Config{Registry: reg, Tasks: []Task{typed("a", "nope", nil)}}); !errors.Is(err, task.ErrConfiguration) {
		t.Fatalf("expected configuration error for unknown type, got %v", err)
	}
}

func TestRun_RecordsToStore(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{Driver: store.DriverSqlite, DriverConfig: &sqlite.Config{Path: filepath.Join(t.TempDir(), "runs.db")}})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	tr, reg := newTestRegistry()
	tasks := []Task{
		typed("push", "push", map[string]any{"key": "version", "value": "2"}),
		{Spec: plugin.Spec{ID: "gated", Type: "noop", Condition: &plugin.ConditionSpec{Type: "never"}}},
		typed("reader", "noop", nil),
	}
	r, err := New(Config{Registry: reg, Recorder: st, Tasks: tasks})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := r.Run(ctx, Options{RunID: "run-1"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	res, err := st.LoadResults(ctx, "run-1")
	if err != nil || len(res) != 1 || res[0].TaskID != "push" || res[0].Key != "version" || res[0].Value != "2" {
		t.Fatalf("unexpected results %+v %v", res, err)
	}
	runs, err := st.ListRuns(ctx, "run-1")
	if err != nil || len(runs) != 3 {
		t.Fatalf("unexpected runs %+v %v", runs, err)
	}
	if runs[1].TaskID != "gated" || runs[1].State != store.StateSkipped || runs[1].Message == "" {
		t.Fatalf("skip not recorded: %+v", runs[1])
	}

	// A second run with the same id sees the stored results.
	if _, err := r.Run(ctx, Options{RunID: "run-1", Only: []string{"reader"}}); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if got := tr.seen["reader"][plugin.ResultsValueKey].(map[string]any)["version"]; got != "2" {
		t.Fatalf("stored result not loaded, got %v", got)
	}
}

func TestRun_ReusedRunIDKeepsLatestPush(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(ctx, store.Config{Driver: store.DriverSqlite, DriverConfig: &sqlite.Config{Path: filepath.Join(t.TempDir(), "runs.db")}})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	tr, reg := newTestRegistry()
	tasks := []Task{
		typed("zeta", "push", map[string]any{"key": "out", "value": "first"}),
		typed("alpha", "push", map[string]any{"key": "out", "value": "second"}, "zeta"),
		typed("reader", "noop", nil),
	}
	r, err := New(Config{Registry: reg, Recorder: st, Tasks: tasks})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := r.Run(ctx, Options{RunID: "run-2", Only: []string{"alpha"}}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := r.Run(ctx, Options{RunID: "run-2", Only: []string{"reader"}}); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if got := tr.seen["reader"][plugin.ResultsValueKey].(map[string]any)["out"]; got != "second" {
		t.Fatalf("expected the latest push to win, got %v", got)
	}
}
