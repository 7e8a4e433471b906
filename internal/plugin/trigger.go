package plugin

import (
	"context"
	"fmt"
	"strings"

	"github.com/loykin/opshooks/internal/common"
	"github.com/loykin/opshooks/pkg/task"
)

// TypeTrigger starts a run of another task file.
const TypeTrigger = "trigger"

// TriggerRequest describes the run a trigger unit asks the host to start.
type TriggerRequest struct {
	// Config is the task file to run, relative to the current one.
	Config string
	RunID  string
	Only   []string
	// Vars are overlaid on the triggered file's own vars.
	Vars map[string]any
}

// TriggerFunc starts a run and blocks until it finishes.
type TriggerFunc func(ctx context.Context, req TriggerRequest) error

type triggerParams struct {
	Config    string         `mapstructure:"config"`
	RunID     string         `mapstructure:"run_id"`
	Only      []string       `mapstructure:"only"`
	Vars      map[string]any `mapstructure:"vars"`
	ResultKey string         `mapstructure:"result_key"`
}

// TriggerOperator starts another run through the host and publishes its run id.
type TriggerOperator struct {
	Trigger TriggerFunc
	Config  string
	// RunID defaults to "<run id>__<task id>".
	RunID     string
	Only      []string
	Vars      map[string]any
	ResultKey string
}

func (o *TriggerOperator) Execute(ctx context.Context, tc *task.Context) (any, error) {
	if o.Trigger == nil {
		return nil, task.Configf("trigger: no host to start runs")
	}
	cfg, err := tc.Render(o.Config)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg) == "" {
		return nil, task.Configf("trigger: config is required")
	}
	runID, err := tc.Render(o.RunID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(runID) == "" {
		runID = fmt.Sprintf("%s__%s", tc.RunID, tc.TaskID)
	}
	var vars map[string]any
	if len(o.Vars) > 0 {
		rendered, err := tc.RenderAny(o.Vars)
		if err != nil {
			return nil, err
		}
		vars, _ = rendered.(map[string]any)
	}

	common.GetLogger().WithTask(tc.TaskID).Info("triggering run", "config", cfg, "run_id", runID)
	if err := o.Trigger(ctx, TriggerRequest{Config: cfg, RunID: runID, Only: o.Only, Vars: vars}); err != nil {
		return nil, fmt.Errorf("triggered run %s: %w", runID, err)
	}
	if o.ResultKey != "" {
		if err := tc.Push(ctx, o.ResultKey, runID); err != nil {
			return nil, err
		}
	}
	return runID, nil
}

func buildTrigger(params map[string]any, env Env) (Unit, error) {
	var p triggerParams
	if err := decode(params, &p); err != nil {
		return Unit{}, err
	}
	if env.Trigger == nil {
		return Unit{}, task.Configf("trigger tasks are not supported by this host")
	}
	if strings.TrimSpace(p.Config) == "" {
		return Unit{}, task.Configf("trigger: config is required")
	}
	return Unit{Operator: &TriggerOperator{
		Trigger:   env.Trigger,
		Config:    p.Config,
		RunID:     p.RunID,
		Only:      p.Only,
		Vars:      p.Vars,
		ResultKey: p.ResultKey,
	}}, nil
}
