package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/internal/plugin"
	"github.com/loykin/opshooks/internal/runner"
	"github.com/loykin/opshooks/internal/store"
	"github.com/loykin/opshooks/pkg/task"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the declared tasks in dependency order",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		doc, err := loadConfig(v.GetString("config"))
		if err != nil {
			return err
		}
		if err := doWait(ctx, doc.Wait, doc.Client, doc.Vars); err != nil {
			return err
		}
		var rec runner.Recorder
		if !v.GetBool("no_store") {
			if sc := doc.ToStoreConfig(); sc != nil {
				st, err := store.Open(ctx, *sc)
				if err != nil {
					return err
				}
				defer func() { _ = st.Close() }()
				rec = st
			}
		}

		h := &host{rec: rec, out: cmd.OutOrStdout()}
		outs, runErr := h.run(ctx, doc, runner.Options{
			RunID: v.GetString("run_id"),
			Only:  v.GetStringSlice("only"),
		}, nil)
		printOutcomes(cmd.OutOrStdout(), outs)
		return runErr
	},
}

// host runs task files. Trigger units started by a run reuse the same
// recorder one level deeper.
type host struct {
	rec   runner.Recorder
	out   io.Writer
	depth int
}

func (h *host) run(ctx context.Context, doc *ConfigDoc, opts runner.Options, vars map[string]any) ([]runner.Outcome, error) {
	conns, err := doc.ConnectionRegistry()
	if err != nil {
		return nil, err
	}
	merged := make(map[string]any, len(doc.Vars)+len(vars))
	for k, val := range doc.Vars {
		merged[k] = val
	}
	for k, val := range vars {
		merged[k] = val
	}
	r, err := runner.New(runner.Config{
		Tasks:    doc.Tasks,
		Registry: plugin.Default(),
		Env:      plugin.Env{Resolver: conns, ScriptDir: doc.ScriptDir, Trigger: h.trigger(doc)},
		Recorder: h.rec,
		Vars:     merged,
	})
	if err != nil {
		return nil, err
	}
	return r.Run(ctx, opts)
}

// trigger loads the requested file relative to parent and runs it to completion.
// The wait block of the triggered file is not polled.
func (h *host) trigger(parent *ConfigDoc) plugin.TriggerFunc {
	return func(ctx context.Context, req plugin.TriggerRequest) error {
		if h.depth >= constants.MaxTriggerDepth {
			return task.Configf("trigger depth %d exceeded at %s", constants.MaxTriggerDepth, req.Config)
		}
		path := req.Config
		if !filepath.IsAbs(path) && parent.path != "" {
			path = filepath.Join(filepath.Dir(parent.path), path)
		}
		var doc ConfigDoc
		if err := doc.Load(path); err != nil {
			return &task.ConfigurationError{Msg: "load triggered config", Err: err}
		}
		child := &host{rec: h.rec, out: h.out, depth: h.depth + 1}
		outs, err := child.run(ctx, &doc, runner.Options{RunID: req.RunID, Only: req.Only}, req.Vars)
		_, _ = fmt.Fprintf(h.out, "triggered %s (run %s):\n", filepath.Base(path), req.RunID)
		printOutcomes(h.out, outs)
		return err
	}
}

// loadConfig loads the config file and installs its logging settings.
func loadConfig(path string) (*ConfigDoc, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("no config file given (use --config or OPSHOOKS_CONFIG)")
	}
	var doc ConfigDoc
	if err := doc.Load(path); err != nil {
		return nil, err
	}
	if err := doc.SetupLogging(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func printOutcomes(w io.Writer, outs []runner.Outcome) {
	for _, o := range outs {
		_, _ = fmt.Fprintf(w, "%-24s %-8s exit=%-4d %s\n", o.TaskID, o.State, o.ExitCode, o.Duration.Round(time.Millisecond))
	}
}
