// Package plugin builds task units from declarative descriptions.
package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/opshooks/internal/connection"
	"github.com/loykin/opshooks/pkg/conditional"
	"github.com/loykin/opshooks/pkg/fabric"
	"github.com/loykin/opshooks/pkg/task"
)

// Unit is a built task. Exactly one of Operator and Sensor is set.
type Unit struct {
	Operator task.Operator
	Sensor   task.Sensor
}

// IsSensor reports whether the unit must be poked rather than executed.
func (u Unit) IsSensor() bool { return u.Sensor != nil }

// Env carries what builders need beyond their own parameters.
type Env struct {
	Resolver  connection.Resolver
	ScriptDir string
	// SessionFactory overrides how fabric units open remote sessions.
	SessionFactory fabric.SessionFactory
	// Trigger starts runs for trigger units; hosts without it reject them.
	Trigger TriggerFunc
}

// Builder turns decoded parameters into a unit.
type Builder func(params map[string]any, env Env) (Unit, error)

// Spec is one declared task.
type Spec struct {
	ID        string         `mapstructure:"id" yaml:"id"`
	Type      string         `mapstructure:"type" yaml:"type"`
	Params    map[string]any `mapstructure:"params" yaml:"params"`
	Condition *ConditionSpec `mapstructure:"condition" yaml:"condition"`
}

type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

func NewRegistry() *Registry {
	return &Registry{builders: map[string]Builder{}}
}

// Default returns a registry holding the built-in unit types.
func Default() *Registry {
	r := NewRegistry()
	r.Register(TypeFabric, buildFabric)
	r.Register(TypeFabricSensor, buildFabricSensor)
	r.Register(TypeMattermost, buildMattermost)
	r.Register(TypeBash, buildBash)
	r.Register(TypeBashSensor, buildBashSensor)
	r.Register(TypeTrigger, buildTrigger)
	return r
}

// Register adds or replaces the builder for name.
func (r *Registry) Register(name string, b Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[strings.ToLower(strings.TrimSpace(name))] = b
}

// Names lists the registered types in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.builders))
	for k := range r.builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build creates the unit for s, gated by its condition when one is declared.
// Every call returns a fresh unit, so gates never carry state across runs.
func (r *Registry) Build(s Spec, env Env) (Unit, error) {
	typ := strings.ToLower(strings.TrimSpace(s.Type))
	r.mu.RLock()
	b, ok := r.builders[typ]
	r.mu.RUnlock()
	if !ok {
		return Unit{}, task.Configf("task %s: unknown type %q", s.ID, s.Type)
	}
	u, err := b(s.Params, env)
	if err != nil {
		return Unit{}, fmt.Errorf("task %s: %w", s.ID, err)
	}
	if s.Condition == nil {
		return u, nil
	}
	cond, err := s.Condition.Condition()
	if err != nil {
		return Unit{}, fmt.Errorf("task %s: %w", s.ID, err)
	}
	if u.IsSensor() {
		return Unit{Sensor: conditional.WrapSensor(cond, u.Sensor)}, nil
	}
	return Unit{Operator: conditional.WrapOperator(cond, u.Operator)}, nil
}

// decode fills out from params. Unknown keys are configuration errors.
func decode(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			connection.SecondsDurationHook,
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return &task.ConfigurationError{Msg: "invalid params", Err: err}
	}
	return nil
}
