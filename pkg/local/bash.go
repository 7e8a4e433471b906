// Package local provides task units that run on the host itself: shell
// commands and Go functions.
package local

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/loykin/opshooks/internal/common"
	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/internal/util"
	"github.com/loykin/opshooks/pkg/task"
)

// BashOperator runs Command with bash. Command and Env values are templated fields.
type BashOperator struct {
	Command string
	// Env is added on top of the current process environment.
	Env     map[string]string
	WorkDir string
	// ResultKey publishes the last line of output under this key.
	ResultKey string
}

var _ task.Operator = (*BashOperator)(nil)

func (b *BashOperator) Execute(ctx context.Context, tc *task.Context) (any, error) {
	code, out, err := runBash(ctx, tc, b.Command, b.Env, b.WorkDir)
	if err != nil {
		return nil, err
	}
	if code != 0 {
		return nil, task.ExitError(code)
	}
	last := lastLine(out)
	if b.ResultKey != "" && last != "" {
		if err := tc.Push(ctx, b.ResultKey, last); err != nil {
			return nil, task.WrapCommand(fmt.Errorf("push result %s: %w", b.ResultKey, err))
		}
	}
	return last, nil
}

// BashSensor reports ready once Command exits with code 0.
type BashSensor struct {
	Command string
	Env     map[string]string
	WorkDir string
}

var _ task.Sensor = (*BashSensor)(nil)

func (b *BashSensor) Poke(ctx context.Context, tc *task.Context) (bool, error) {
	code, _, err := runBash(ctx, tc, b.Command, b.Env, b.WorkDir)
	if err != nil {
		return false, err
	}
	common.GetLogger().WithComponent("local").Info("command exited", "exit_code", code)
	return code == 0, nil
}

func runBash(ctx context.Context, tc *task.Context, command string, env map[string]string, dir string) (int, string, error) {
	logger := common.GetLogger().WithComponent("local")
	if tc != nil {
		logger = logger.WithTask(tc.TaskID)
	}
	cmdText, err := tc.Render(command)
	if err != nil {
		return -1, "", &task.ConfigurationError{Msg: "render bash_command", Err: err}
	}
	if strings.TrimSpace(cmdText) == "" {
		return -1, "", task.Configf("bash command not specified")
	}
	renderedEnv, err := tc.RenderMap(env)
	if err != nil {
		return -1, "", &task.ConfigurationError{Msg: "render env", Err: err}
	}

	cmd := exec.CommandContext(ctx, constants.DefaultShell, "-c", cmdText)
	cmd.Dir = dir
	if len(renderedEnv) > 0 {
		cmd.Env = os.Environ()
		for _, k := range util.SortedKeys(renderedEnv) {
			cmd.Env = append(cmd.Env, k+"="+renderedEnv[k])
		}
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	logger.Info("running command", "command", cmdText)
	err = cmd.Run()
	for _, line := range strings.Split(strings.TrimRight(out.String(), "\n"), "\n") {
		if line != "" {
			logger.Info("output", "line", line)
		}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return exitErr.ExitCode(), out.String(), nil
		}
		return -1, out.String(), task.WrapCommand(err)
	}
	return 0, out.String(), nil
}

func lastLine(s string) string {
	var last string
	sc := bufio.NewScanner(strings.NewReader(s))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	return last
}
