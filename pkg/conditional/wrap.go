package conditional

import (
	"context"

	"github.com/loykin/opshooks/pkg/task"
)

// Operator runs Inner only when Gate passes.
type Operator struct {
	Gate  *Gate
	Inner task.Operator
}

var _ task.Operator = (*Operator)(nil)

// WrapOperator gates inner behind a fresh Gate for cond.
func WrapOperator(cond Condition, inner task.Operator) *Operator {
	return &Operator{Gate: NewGate(cond), Inner: inner}
}

func (o *Operator) Execute(ctx context.Context, tc *task.Context) (any, error) {
	if err := o.Gate.Check(ctx, tc); err != nil {
		return nil, err
	}
	return o.Inner.Execute(ctx, tc)
}

// Sensor pokes Inner only when Gate passes. The condition is evaluated on the
// first poke and reused for the following ones.
type Sensor struct {
	Gate  *Gate
	Inner task.Sensor
}

var _ task.Sensor = (*Sensor)(nil)

// WrapSensor gates inner behind a fresh Gate for cond.
func WrapSensor(cond Condition, inner task.Sensor) *Sensor {
	return &Sensor{Gate: NewGate(cond), Inner: inner}
}

func (s *Sensor) Poke(ctx context.Context, tc *task.Context) (bool, error) {
	if err := s.Gate.Check(ctx, tc); err != nil {
		return false, err
	}
	return s.Inner.Poke(ctx, tc)
}
