// Package conditional makes any operator or sensor skippable by a condition
// evaluated once per task instance.
package conditional

import (
	"context"
	"fmt"

	"github.com/loykin/opshooks/internal/common"
	"github.com/loykin/opshooks/pkg/task"
)

// ConditionFunc decides whether a task should run.
type ConditionFunc func(ctx context.Context, args []any, kwargs map[string]any) (bool, error)

// Condition describes the predicate of a Gate.
// String values in Args and Kwargs are templated fields.
type Condition struct {
	Name   string
	Func   ConditionFunc
	Args   []any
	Kwargs map[string]any
	// ProvideContext merges the task context values into the keyword arguments.
	// Explicit Kwargs take precedence over context values.
	ProvideContext bool
}

// Gate evaluates its condition at most once. It is not safe for concurrent use.
type Gate struct {
	cond      Condition
	evaluated bool
	value     bool
}

// NewGate returns an unevaluated gate.
func NewGate(cond Condition) *Gate {
	return &Gate{cond: cond}
}

// Evaluated reports whether the condition has produced a value.
func (g *Gate) Evaluated() bool { return g.evaluated }

// Check returns nil when the task should run and a *task.SkipError when it should not.
// Errors from the condition itself are returned as is and leave the gate unevaluated.
func (g *Gate) Check(ctx context.Context, tc *task.Context) error {
	if !g.evaluated {
		v, err := g.evaluate(ctx, tc)
		if err != nil {
			return err
		}
		g.value = v
		g.evaluated = true
	}
	if g.value {
		return nil
	}
	return task.Skipf("condition %s evaluated to false, skipping this task", g.name())
}

func (g *Gate) name() string {
	if g.cond.Name != "" {
		return g.cond.Name
	}
	return "condition"
}

func (g *Gate) evaluate(ctx context.Context, tc *task.Context) (bool, error) {
	if g.cond.Func == nil {
		return false, task.Configf("conditional task requires a condition function")
	}
	args := make([]any, 0, len(g.cond.Args))
	for i, a := range g.cond.Args {
		r, err := tc.RenderAny(a)
		if err != nil {
			return false, &task.ConfigurationError{Msg: fmt.Sprintf("render condition arg %d", i), Err: err}
		}
		args = append(args, r)
	}

	kwargs := map[string]any{}
	if g.cond.ProvideContext {
		for k, v := range tc.ValueMap() {
			kwargs[k] = v
		}
	}
	for k, v := range g.cond.Kwargs {
		r, err := tc.RenderAny(v)
		if err != nil {
			return false, &task.ConfigurationError{Msg: "render condition kwarg " + k, Err: err}
		}
		kwargs[k] = r
	}

	v, err := g.cond.Func(ctx, args, kwargs)
	if err != nil {
		return false, err
	}
	logger := common.GetLogger().WithComponent("conditional")
	if tc != nil {
		logger = logger.WithTask(tc.TaskID)
	}
	logger.Info("condition evaluated", "condition", g.name(), "value", v)
	return v, nil
}
