package task

import (
	"context"
)

// Operator is a task unit that runs once per invocation.
type Operator interface {
	Execute(ctx context.Context, tc *Context) (any, error)
}

// Sensor is a task unit that the host pokes until it reports ready.
type Sensor interface {
	Poke(ctx context.Context, tc *Context) (bool, error)
}

// OperatorFunc adapts a plain function to Operator.
type OperatorFunc func(ctx context.Context, tc *Context) (any, error)

func (f OperatorFunc) Execute(ctx context.Context, tc *Context) (any, error) { return f(ctx, tc) }

// SensorFunc adapts a plain function to Sensor.
type SensorFunc func(ctx context.Context, tc *Context) (bool, error)

func (f SensorFunc) Poke(ctx context.Context, tc *Context) (bool, error) { return f(ctx, tc) }

// ResultSink receives values published by a task under a caller-chosen key.
type ResultSink interface {
	Push(ctx context.Context, key, value string) error
}

// Context carries the ambient metadata of a single task invocation.
// Values doubles as template data for templated fields.
type Context struct {
	TaskID  string
	RunID   string
	Values  map[string]any
	Results ResultSink
}

// NewContext returns a Context with an empty value map and an in-memory result sink.
func NewContext(taskID string) *Context {
	return &Context{
		TaskID:  taskID,
		Values:  map[string]any{},
		Results: NewMemoryResults(),
	}
}

// Push publishes value under key. A nil receiver or missing sink is a no-op.
func (c *Context) Push(ctx context.Context, key, value string) error {
	if c == nil || c.Results == nil {
		return nil
	}
	return c.Results.Push(ctx, key, value)
}

// ValueMap returns a copy of Values that is safe to modify.
func (c *Context) ValueMap() map[string]any {
	out := map[string]any{}
	if c == nil {
		return out
	}
	for k, v := range c.Values {
		out[k] = v
	}
	return out
}
