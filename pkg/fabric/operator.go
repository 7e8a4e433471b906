package fabric

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/opshooks/internal/common"
	"github.com/loykin/opshooks/internal/connection"
	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/internal/remote"
	"github.com/loykin/opshooks/internal/util"
	"github.com/loykin/opshooks/internal/watcher"
	"github.com/loykin/opshooks/pkg/task"
)

// ScriptExt marks commands that name a local script to load as the command text.
const ScriptExt = ".sh"

// Operator runs Command on a remote host.
//
// ConnID, RemoteHost, Command and the Environment values are templated fields
// rendered against the task context. A Command ending in ScriptExt that names
// an existing local file (relative to ScriptDir when set) is replaced by the
// rendered file contents.
type Operator struct {
	// Hook takes precedence over ConnID.
	Hook     *Hook
	ConnID   string
	Resolver connection.Resolver
	// RemoteHost replaces the host of the hook or connection when set.
	RemoteHost string

	Command   string
	ScriptDir string

	UseSudo  bool
	SudoUser string

	Watchers                    []watcher.Spec
	AddSudoPasswordResponder    bool
	AddGenericPasswordResponder bool
	AddUnknownHostKeyResponder  bool

	ConnectTimeout time.Duration
	Environment    map[string]string
	InlineEnv      bool

	// ResultKey publishes non-empty stdout under this key on success.
	ResultKey   string
	StripStdout bool
	GetPty      bool

	SessionFactory SessionFactory
}

var _ task.Operator = (*Operator)(nil)

// Execute runs the command and fails on a nonzero exit code.
func (o *Operator) Execute(ctx context.Context, tc *task.Context) (any, error) {
	res, err := o.RunCommand(ctx, tc)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, task.ExitError(res.ExitCode)
	}
	if o.ResultKey != "" && res.Stdout != "" {
		if err := tc.Push(ctx, o.ResultKey, res.Stdout); err != nil {
			return nil, task.WrapCommand(fmt.Errorf("push result %s: %w", o.ResultKey, err))
		}
	}
	return true, nil
}

// RunCommand runs the command and returns its result whatever the exit code.
// Configuration problems come back as *task.ConfigurationError, every other
// fault as *task.CommandError.
func (o *Operator) RunCommand(ctx context.Context, tc *task.Context) (*remote.Result, error) {
	res, err := o.runCommand(ctx, tc)
	if err != nil {
		return nil, task.WrapCommand(err)
	}
	return res, nil
}

func (o *Operator) runCommand(ctx context.Context, tc *task.Context) (*remote.Result, error) {
	logger := common.GetLogger().WithComponent("fabric")
	if tc != nil {
		logger = logger.WithTask(tc.TaskID)
	}

	f, err := o.render(tc)
	if err != nil {
		return nil, err
	}

	hook, err := o.resolveHook(f, logger)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(f.command) == "" {
		return nil, task.Configf("ssh command not specified")
	}

	watchers, err := o.buildWatchers(hook)
	if err != nil {
		return nil, err
	}

	if o.UseSudo {
		if o.SudoUser != "" {
			logger.Info("running sudo command", "sudo_user", o.SudoUser, "command", f.command)
		} else {
			logger.Info("running sudo command", "command", f.command)
		}
	} else {
		logger.Info("running command", "command", f.command)
	}
	if len(f.env) > 0 {
		lines := make([]string, 0, len(f.env))
		for _, k := range util.SortedKeys(f.env) {
			lines = append(lines, k+"="+f.env[k])
		}
		logger.Info("with environment variables", "env", strings.Join(lines, "\n"))
	}

	sess := hook.Session()
	defer func() { _ = sess.Close() }()

	opts := remote.RunOptions{
		Env:      f.env,
		Pty:      o.GetPty,
		Watchers: watchers,
		Warn:     true,
	}
	var res *remote.Result
	if o.UseSudo {
		res, err = sess.Sudo(ctx, f.command, remote.SudoOptions{
			RunOptions: opts,
			Password:   hook.Password(),
			User:       o.SudoUser,
		})
	} else {
		res, err = sess.Run(ctx, f.command, opts)
	}
	if err != nil {
		return nil, err
	}

	if res.Stdout != "" {
		logger.Info("stdout", "output", res.Stdout)
	}
	if res.Stderr != "" {
		logger.Info("stderr", "output", res.Stderr)
	}
	if o.StripStdout && res.Stdout != "" {
		res.Stdout = strings.TrimSpace(res.Stdout)
	}
	return res, nil
}

type renderedFields struct {
	connID     string
	remoteHost string
	command    string
	env        map[string]string
}

func (o *Operator) render(tc *task.Context) (renderedFields, error) {
	var f renderedFields
	var err error
	if f.connID, err = tc.Render(o.ConnID); err != nil {
		return f, &task.ConfigurationError{Msg: "render conn_id", Err: err}
	}
	if f.remoteHost, err = tc.Render(o.RemoteHost); err != nil {
		return f, &task.ConfigurationError{Msg: "render remote_host", Err: err}
	}
	if f.env, err = tc.RenderMap(o.Environment); err != nil {
		return f, &task.ConfigurationError{Msg: "render environment", Err: err}
	}
	command := o.Command
	if script, ok, err := o.loadScript(command); err != nil {
		return f, err
	} else if ok {
		command = script
	}
	if f.command, err = tc.Render(command); err != nil {
		return f, &task.ConfigurationError{Msg: "render command", Err: err}
	}
	return f, nil
}

// loadScript returns the contents of a local script named by command.
// Commands naming no local file are left for the remote shell.
func (o *Operator) loadScript(command string) (string, bool, error) {
	name := strings.TrimSpace(command)
	if !strings.HasSuffix(name, ScriptExt) || strings.ContainsAny(name, " \t\n") {
		return "", false, nil
	}
	path := name
	if o.ScriptDir != "" && !filepath.IsAbs(path) {
		path = filepath.Join(o.ScriptDir, path)
	}
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, &task.ConfigurationError{Msg: "read script " + path, Err: err}
	}
	return string(data), true, nil
}

func (o *Operator) resolveHook(f renderedFields, logger *common.Logger) (*Hook, error) {
	switch {
	case o.Hook != nil:
		if f.connID != "" {
			logger.Info("conn_id is ignored when a hook is provided")
		}
		if f.remoteHost != "" {
			logger.Info("remote_host is provided explicitly, replacing the host defined in the hook")
			return o.Hook.WithRemoteHost(f.remoteHost), nil
		}
		return o.Hook, nil
	case f.connID != "":
		logger.Info("hook is not provided, creating one from conn_id", "conn_id", f.connID)
		timeout := o.ConnectTimeout
		if timeout <= 0 {
			timeout = constants.DefaultConnectTimeout
		}
		return NewHook(o.Resolver, HookOptions{
			ConnID:         f.connID,
			RemoteHost:     f.remoteHost,
			Timeout:        timeout,
			InlineEnv:      o.InlineEnv,
			SessionFactory: o.SessionFactory,
		})
	default:
		return nil, task.Configf("cannot operate without a hook or conn_id")
	}
}

func (o *Operator) buildWatchers(h *Hook) ([]watcher.Watcher, error) {
	ws, err := watcher.BuildAll(o.Watchers, h.Password())
	if err != nil {
		return nil, err
	}
	// sudo mode answers its own prompt
	if o.AddSudoPasswordResponder && !o.UseSudo {
		w, err := h.SudoPasswordResponder()
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	if o.AddGenericPasswordResponder {
		w, err := h.GenericPasswordResponder()
		if err != nil {
			return nil, err
		}
		ws = append(ws, w)
	}
	if o.AddUnknownHostKeyResponder {
		ws = append(ws, h.UnknownHostKeyResponder())
	}
	return ws, nil
}
