package plugin

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/loykin/opshooks/internal/util"
	"github.com/loykin/opshooks/pkg/conditional"
	"github.com/loykin/opshooks/pkg/local"
	"github.com/loykin/opshooks/pkg/task"
	"github.com/tidwall/gjson"
)

// Condition types.
const (
	ConditionAlways  = "always"
	ConditionNever   = "never"
	ConditionEnv     = "env"
	ConditionResult  = "result"
	ConditionCommand = "command"
)

// ResultsValueKey is the task context value holding results published earlier in the run.
const ResultsValueKey = "results"

// ConditionSpec declares when a task runs. Without Equals, env and result
// conditions test the value for truthiness.
type ConditionSpec struct {
	Type string `mapstructure:"type" yaml:"type"`
	// Name is the environment variable of an env condition.
	Name string `mapstructure:"name" yaml:"name"`
	// Key is the result key of a result condition; Path is a gjson path into its JSON value.
	Key     string  `mapstructure:"key" yaml:"key"`
	Path    string  `mapstructure:"path" yaml:"path"`
	Equals  *string `mapstructure:"equals" yaml:"equals"`
	Command string  `mapstructure:"command" yaml:"command"`
	Negate  bool    `mapstructure:"negate" yaml:"negate"`
}

// Condition converts the declaration into a gate condition.
func (c ConditionSpec) Condition() (conditional.Condition, error) {
	var cond conditional.Condition
	kwargs := map[string]any{}
	if c.Equals != nil {
		kwargs["equals"] = *c.Equals
	}

	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case ConditionAlways, "":
		cond = conditional.Condition{Name: ConditionAlways, Func: constant(true)}
	case ConditionNever:
		cond = conditional.Condition{Name: ConditionNever, Func: constant(false)}
	case ConditionEnv:
		if strings.TrimSpace(c.Name) == "" {
			return cond, task.Configf("env condition requires name")
		}
		cond = conditional.Condition{Name: "env(" + c.Name + ")", Func: envCondition, Args: []any{c.Name}, Kwargs: kwargs}
	case ConditionResult:
		if strings.TrimSpace(c.Key) == "" {
			return cond, task.Configf("result condition requires key")
		}
		kwargs["path"] = c.Path
		cond = conditional.Condition{
			Name:           "result(" + c.Key + ")",
			Func:           resultCondition,
			Args:           []any{c.Key},
			Kwargs:         kwargs,
			ProvideContext: true,
		}
	case ConditionCommand:
		if strings.TrimSpace(c.Command) == "" {
			return cond, task.Configf("command condition requires command")
		}
		cond = conditional.Condition{Name: ConditionCommand, Func: commandCondition, Args: []any{c.Command}}
	default:
		return cond, task.Configf("unknown condition type %q", c.Type)
	}

	if c.Negate {
		inner := cond.Func
		cond.Name = "not " + cond.Name
		cond.Func = func(ctx context.Context, args []any, kwargs map[string]any) (bool, error) {
			v, err := inner(ctx, args, kwargs)
			return !v, err
		}
	}
	return cond, nil
}

func constant(v bool) conditional.ConditionFunc {
	return func(context.Context, []any, map[string]any) (bool, error) { return v, nil }
}

func matches(value string, kwargs map[string]any) bool {
	if eq, ok := kwargs["equals"]; ok {
		return value == fmt.Sprint(eq)
	}
	return util.Truthy(value)
}

func envCondition(_ context.Context, args []any, kwargs map[string]any) (bool, error) {
	v, ok := os.LookupEnv(fmt.Sprint(args[0]))
	if !ok {
		return false, nil
	}
	return matches(v, kwargs), nil
}

func resultCondition(_ context.Context, args []any, kwargs map[string]any) (bool, error) {
	key := fmt.Sprint(args[0])
	raw, ok := lookupResult(kwargs[ResultsValueKey], key)
	if !ok {
		return false, nil
	}
	path, _ := kwargs["path"].(string)
	if path == "" {
		return matches(raw, kwargs), nil
	}
	if !gjson.Valid(raw) {
		return false, fmt.Errorf("result %s is not valid JSON", key)
	}
	r := gjson.Get(raw, path)
	if !r.Exists() {
		return false, nil
	}
	return matches(r.String(), kwargs), nil
}

func lookupResult(results any, key string) (string, bool) {
	switch m := results.(type) {
	case map[string]string:
		v, ok := m[key]
		return v, ok
	case map[string]any:
		v, ok := m[key]
		if !ok || v == nil {
			return "", false
		}
		return fmt.Sprint(v), true
	}
	return "", false
}

func commandCondition(ctx context.Context, args []any, _ map[string]any) (bool, error) {
	s := &local.BashSensor{Command: fmt.Sprint(args[0])}
	return s.Poke(ctx, nil)
}
