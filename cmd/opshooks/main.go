package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/pkg/task"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:           "opshooks",
	Short:         "Run remote commands, notifications and conditional tasks declared in YAML",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	v := viper.GetViper()
	v.SetDefault("config", "./config.yaml")

	// Environment variables support: OPSHOOKS_CONFIG, OPSHOOKS_RUN_ID, ...
	v.SetEnvPrefix(constants.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	rootCmd.PersistentFlags().String("config", v.GetString("config"), "path to the config yaml")
	runCmd.Flags().StringSlice("only", nil, "run only these task ids and their dependencies (repeatable)")
	runCmd.Flags().String("run-id", "", "run id used to group results (default: random)")
	runCmd.Flags().Bool("no-store", false, "do not record runs and results")
	resultsCmd.Flags().String("run-id", "", "run id to show (default: every run)")

	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = v.BindPFlag("only", runCmd.Flags().Lookup("only"))
	_ = v.BindPFlag("run_id", runCmd.Flags().Lookup("run-id"))
	_ = v.BindPFlag("no_store", runCmd.Flags().Lookup("no-store"))
	_ = v.BindPFlag("results_run_id", resultsCmd.Flags().Lookup("run-id"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(connectionsCmd)
}

// exitCode maps error kinds to process exit codes: 2 for configuration errors, 1 otherwise.
func exitCode(err error) int {
	if errors.Is(err, task.ErrConfiguration) {
		return 2
	}
	return 1
}

func main() {
	// Cancelling the context kills running remote commands.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		exitHandler.LogFatalError(err, "command execution failed")
	}
}
