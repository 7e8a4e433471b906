package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/pkg/task"
)

func TestRunCmd_MattermostTaskAndResults(t *testing.T) {
	var calls int32
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := fmt.Sprintf(`---
vars:
  stage: prod
connections:
  - id: chat
    type: http
    host: %s
    extra:
      webhook_token: hooks/xyz
tasks:
  - id: notify
    type: mattermost
    params:
      conn_id: chat
      message: "deployed to {{.stage}}"
  - id: muted
    type: mattermost
    condition:
      type: never
    params:
      conn_id: chat
      message: never sent
`, srv.URL)
	cfgPath := writeFile(t, dir, "config.yaml", cfg)
	setViper(t, cfgPath, map[string]any{"run_id": "cli-run"})

	out, err := runCommand(t, runCmd)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 || !strings.Contains(body, `"text":"deployed to prod"`) {
		t.Fatalf("unexpected webhook traffic calls=%d body=%s", calls, body)
	}
	if !strings.Contains(out, "notify") || !strings.Contains(out, "skipped") {
		t.Fatalf("unexpected run output:\n%s", out)
	}

	setViper(t, cfgPath, map[string]any{"results_run_id": "cli-run"})
	out, err = runCommand(t, resultsCmd)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if !strings.Contains(out, "cli-run") || !strings.Contains(out, "success") || !strings.Contains(out, "muted") {
		t.Fatalf("unexpected results output:\n%s", out)
	}
}

func TestRunCmd_BashResultsAndFailure(t *testing.T) {
	if _, err := exec.LookPath(constants.DefaultShell); err != nil {
		t.Skip("bash not available")
	}
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", `---
tasks:
  - id: version
    type: bash
    params:
      command: echo building; echo 1.4.2
      result_key: version
  - id: check
    type: bash
    depends_on: [version]
    params:
      command: 'test "{{.results.version}}" = "1.4.2"'
  - id: broken
    type: bash
    depends_on: [check]
    params:
      command: exit 4
`)
	setViper(t, cfgPath, map[string]any{"run_id": "bash-run"})
	_, err := runCommand(t, runCmd)
	var cmdErr *task.CommandError
	if !errors.As(err, &cmdErr) || cmdErr.ExitCode != 4 {
		t.Fatalf("expected exit code 4, got %v", err)
	}
	if exitCode(err) != 1 {
		t.Fatalf("command failures exit with 1")
	}

	setViper(t, cfgPath, map[string]any{"results_run_id": "bash-run"})
	out, err := runCommand(t, resultsCmd)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if !strings.Contains(out, "version.version = 1.4.2") || !strings.Contains(out, "exit=4") {
		t.Fatalf("unexpected results output:\n%s", out)
	}
}

func TestRunCmd_ConfigurationErrors(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", `---
tasks:
  - id: a
    type: teleport
`)
	setViper(t, cfgPath, map[string]any{"no_store": true})
	_, err := runCommand(t, runCmd)
	if !errors.Is(err, task.ErrConfiguration) || exitCode(err) != 2 {
		t.Fatalf("expected configuration error, got %v", err)
	}

	cfgPath = writeFile(t, dir, "ok.yaml", "---\ntasks:\n  - id: a\n    type: bash\n    params:\n      command: 'true'\n")
	setViper(t, cfgPath, map[string]any{"no_store": true, "only": []string{"zzz"}})
	if _, err := runCommand(t, runCmd); !errors.Is(err, task.ErrConfiguration) {
		t.Fatalf("expected unknown task error, got %v", err)
	}
}

func TestRunCmd_TriggerRunsChildFile(t *testing.T) {
	if _, err := exec.LookPath(constants.DefaultShell); err != nil {
		t.Skip("bash not available")
	}
	dir := t.TempDir()
	writeFile(t, dir, "child.yaml", `---
vars:
  stage: dev
tasks:
  - id: echo
    type: bash
    params:
      command: echo {{.stage}}
      result_key: child_out
`)
	cfgPath := writeFile(t, dir, "config.yaml", `---
tasks:
  - id: kick
    type: trigger
    params:
      config: child.yaml
      run_id: child-run
      vars:
        stage: prod
      result_key: child_run
`)
	setViper(t, cfgPath, map[string]any{"run_id": "parent-run"})
	out, err := runCommand(t, runCmd)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "triggered child.yaml (run child-run)") || !strings.Contains(out, "echo") {
		t.Fatalf("unexpected run output:\n%s", out)
	}

	setViper(t, cfgPath, map[string]any{"results_run_id": "child-run"})
	out, err = runCommand(t, resultsCmd)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if !strings.Contains(out, "echo.child_out = prod") {
		t.Fatalf("triggered vars not applied:\n%s", out)
	}

	setViper(t, cfgPath, map[string]any{"results_run_id": "parent-run"})
	out, err = runCommand(t, resultsCmd)
	if err != nil || !strings.Contains(out, "kick.child_run = child-run") {
		t.Fatalf("parent result missing: %v\n%s", err, out)
	}
}

func TestRunCmd_TriggerDepthIsBounded(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "loop.yaml", `---
tasks:
  - id: again
    type: trigger
    params:
      config: loop.yaml
`)
	setViper(t, cfgPath, map[string]any{"no_store": true})
	if _, err := runCommand(t, runCmd); !errors.Is(err, task.ErrConfiguration) {
		t.Fatalf("expected configuration error for runaway triggers, got %v", err)
	}
}

func TestResultsCmd_EmptyAndDisabled(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", "---\ntasks: []\n")
	setViper(t, cfgPath, nil)
	out, err := runCommand(t, resultsCmd)
	if err != nil || !strings.Contains(out, "no runs recorded") {
		t.Fatalf("unexpected output %q %v", out, err)
	}

	cfgPath = writeFile(t, dir, "disabled.yaml", "---\nstore:\n  disabled: true\n")
	setViper(t, cfgPath, nil)
	out, err = runCommand(t, resultsCmd)
	if err != nil || !strings.Contains(out, "Store is disabled") {
		t.Fatalf("unexpected output %q %v", out, err)
	}
}

func TestConnectionsCmd_MasksSecrets(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeFile(t, dir, "config.yaml", `---
connections:
  - id: web
    host: 10.0.0.5
    user: deploy
    password: hunter2
  - id: chat
    type: http
    host: chat.example.com
    extra:
      webhook_token: hooks/abc
      channel: ops
`)
	setViper(t, cfgPath, nil)
	out, err := runCommand(t, connectionsCmd)
	if err != nil {
		t.Fatalf("connections: %v", err)
	}
	if strings.Contains(out, "hunter2") || strings.Contains(out, "hooks/abc") {
		t.Fatalf("secrets leaked:\n%s", out)
	}
	if !strings.Contains(out, "id: chat") || !strings.Contains(out, "id: web") || !strings.Contains(out, "channel: ops") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
