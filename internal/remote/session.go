package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/internal/util"
	"github.com/loykin/opshooks/internal/watcher"
)

// Session executes commands on one remote host.
type Session interface {
	Run(ctx context.Context, command string, opts RunOptions) (*Result, error)
	Sudo(ctx context.Context, command string, opts SudoOptions) (*Result, error)
	Close() error
}

// RunOptions tune a single command invocation.
type RunOptions struct {
	Env      map[string]string
	Pty      bool
	Watchers []watcher.Watcher
	// Warn returns the result of a nonzero exit instead of an error.
	Warn bool
}

// SudoOptions extend RunOptions with the sudo password and target user.
type SudoOptions struct {
	RunOptions
	Password string
	User     string
}

// Result is the outcome of one command.
type Result struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports a zero exit code.
func (r *Result) OK() bool { return r != nil && r.ExitCode == 0 }

// InlineEnv prefixes command with exported variables, in key order.
func InlineEnv(env map[string]string, command string) string {
	if len(env) == 0 {
		return command
	}
	parts := make([]string, 0, len(env))
	for _, k := range util.SortedKeys(env) {
		parts = append(parts, k+"="+util.ShellQuote(env[k]))
	}
	return "export " + strings.Join(parts, " ") + " && " + command
}

// SudoCommand wraps command in a sudo call that reads the password from stdin.
// The names in env are passed to --preserve-env so sudo's env_reset keeps them.
func SudoCommand(command, user string, env map[string]string) string {
	envFlags := ""
	if len(env) > 0 {
		envFlags = fmt.Sprintf("--preserve-env='%s' ", strings.Join(util.SortedKeys(env), ","))
	}
	userFlags := ""
	if user != "" {
		userFlags = fmt.Sprintf("-H -u %s ", user)
	}
	return fmt.Sprintf("sudo -S -p '%s' %s%s%s", constants.SudoPrompt, envFlags, userFlags, command)
}

// sudoRunOptions appends the prompt responder for the wrapped sudo call.
func sudoRunOptions(opts SudoOptions) RunOptions {
	ro := opts.RunOptions
	ws := make([]watcher.Watcher, 0, len(ro.Watchers)+1)
	ws = append(ws, ro.Watchers...)
	ws = append(ws, watcher.SudoPrompt(opts.Password))
	ro.Watchers = ws
	return ro
}
