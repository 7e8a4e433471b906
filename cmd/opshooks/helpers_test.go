package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

// setViper resets the keys the commands read and applies overrides.
func setViper(t *testing.T, cfgPath string, overrides map[string]any) {
	t.Helper()
	v := viper.GetViper()
	v.Set("config", cfgPath)
	v.Set("only", []string{})
	v.Set("run_id", "")
	v.Set("no_store", false)
	v.Set("results_run_id", "")
	for k, val := range overrides {
		v.Set(k, val)
	}
}

func runCommand(t *testing.T, cmd *cobra.Command) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	defer cmd.SetOut(nil)
	err := cmd.RunE(cmd, nil)
	return buf.String(), err
}
