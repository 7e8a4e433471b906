package main

import (
	"context"
	"fmt"

	"github.com/loykin/opshooks/internal/common"
	"github.com/loykin/opshooks/internal/store"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show recorded task runs and published results",
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
		sc := doc.ToStoreConfig()
		if sc == nil {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Store is disabled - no results available")
			return nil
		}
		st, err := store.Open(ctx, *sc)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		runID := v.GetString("results_run_id")
		runs, err := st.ListRuns(ctx, runID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(runs) == 0 {
			_, _ = fmt.Fprintln(out, "no runs recorded")
			return nil
		}
		for _, r := range runs {
			line := fmt.Sprintf("%s  %-36s %-24s %-8s exit=%d", r.RanAt, r.RunID, r.TaskID, r.State, r.ExitCode)
			if r.Message != "" {
				line += "  " + r.Message
			}
			_, _ = fmt.Fprintln(out, line)
		}
		if runID == "" {
			return nil
		}
		results, err := st.LoadResults(ctx, runID)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "results:")
		for _, res := range results {
			_, _ = fmt.Fprintf(out, "  %s.%s = %s\n", res.TaskID, res.Key, common.MaskSensitiveData(res.Value))
		}
		return nil
	},
}
