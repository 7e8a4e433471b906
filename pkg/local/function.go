package local

import (
	"context"
	"fmt"

	"github.com/loykin/opshooks/pkg/task"
)

// Func is the callable behind FuncOperator.
type Func func(ctx context.Context, args []any, kwargs map[string]any) (any, error)

// PredicateFunc is the callable behind FuncSensor.
type PredicateFunc func(ctx context.Context, args []any, kwargs map[string]any) (bool, error)

// FuncOperator calls Func with templated Args and Kwargs.
type FuncOperator struct {
	Func   Func
	Args   []any
	Kwargs map[string]any
	// ProvideContext merges the task context values into the keyword arguments.
	ProvideContext bool
	ResultKey      string
}

var _ task.Operator = (*FuncOperator)(nil)

func (f *FuncOperator) Execute(ctx context.Context, tc *task.Context) (any, error) {
	if f.Func == nil {
		return nil, task.Configf("function operator requires a function")
	}
	args, kwargs, err := callArgs(tc, f.Args, f.Kwargs, f.ProvideContext)
	if err != nil {
		return nil, err
	}
	v, err := f.Func(ctx, args, kwargs)
	if err != nil {
		return nil, err
	}
	if f.ResultKey != "" && v != nil {
		if err := tc.Push(ctx, f.ResultKey, fmt.Sprint(v)); err != nil {
			return nil, task.WrapCommand(fmt.Errorf("push result %s: %w", f.ResultKey, err))
		}
	}
	return v, nil
}

// FuncSensor reports the value of Func on every poke.
type FuncSensor struct {
	Func           PredicateFunc
	Args           []any
	Kwargs         map[string]any
	ProvideContext bool
}

var _ task.Sensor = (*FuncSensor)(nil)

func (f *FuncSensor) Poke(ctx context.Context, tc *task.Context) (bool, error) {
	if f.Func == nil {
		return false, task.Configf("function sensor requires a function")
	}
	args, kwargs, err := callArgs(tc, f.Args, f.Kwargs, f.ProvideContext)
	if err != nil {
		return false, err
	}
	return f.Func(ctx, args, kwargs)
}

func callArgs(tc *task.Context, args []any, kwargs map[string]any, provideContext bool) ([]any, map[string]any, error) {
	outArgs := make([]any, 0, len(args))
	for i, a := range args {
		r, err := tc.RenderAny(a)
		if err != nil {
			return nil, nil, &task.ConfigurationError{Msg: fmt.Sprintf("render arg %d", i), Err: err}
		}
		outArgs = append(outArgs, r)
	}
	outKwargs := map[string]any{}
	if provideContext {
		for k, v := range tc.ValueMap() {
			outKwargs[k] = v
		}
	}
	for k, v := range kwargs {
		r, err := tc.RenderAny(v)
		if err != nil {
			return nil, nil, &task.ConfigurationError{Msg: "render kwarg " + k, Err: err}
		}
		outKwargs[k] = r
	}
	return outArgs, outKwargs, nil
}
