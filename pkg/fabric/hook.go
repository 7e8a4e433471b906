// Package fabric runs commands on remote hosts over SSH, answering
// interactive prompts with watchers.
package fabric

import (
	"os/user"
	"strings"
	"time"

	"github.com/loykin/opshooks/internal/common"
	"github.com/loykin/opshooks/internal/connection"
	"github.com/loykin/opshooks/internal/constants"
	"github.com/loykin/opshooks/internal/remote"
	"github.com/loykin/opshooks/internal/watcher"
	"github.com/loykin/opshooks/pkg/task"
)

// SessionFactory creates the session used to run commands. Tests substitute a fake.
type SessionFactory func(cfg remote.Config) remote.Session

// HookOptions select a stored connection and the per-call overrides applied to it.
type HookOptions struct {
	ConnID     string
	RemoteHost string
	// Timeout overrides the connection timeout when positive.
	Timeout   time.Duration
	InlineEnv bool

	SessionFactory SessionFactory
}

// Hook turns stored connection settings into remote sessions.
type Hook struct {
	connID  string
	cfg     remote.Config
	factory SessionFactory
	logger  *common.Logger
}

// NewHook resolves opts.ConnID through resolver and builds a Hook.
func NewHook(resolver connection.Resolver, opts HookOptions) (*Hook, error) {
	if strings.TrimSpace(opts.ConnID) == "" {
		return nil, task.Configf("fabric hook requires a connection id")
	}
	if resolver == nil {
		return nil, task.Configf("no connection resolver for %q", opts.ConnID)
	}
	s, err := resolver.Resolve(opts.ConnID)
	if err != nil {
		return nil, err
	}
	return NewHookFromSettings(s, opts)
}

// NewHookFromSettings builds a Hook from settings already at hand.
func NewHookFromSettings(s connection.Settings, opts HookOptions) (*Hook, error) {
	host := s.Host
	if opts.RemoteHost != "" {
		host = opts.RemoteHost
	}
	if host == "" {
		return nil, task.Configf("connection %q has no remote host", s.ID)
	}

	username := s.User
	if username == "" {
		if u, err := user.Current(); err == nil {
			username = u.Username
		}
	}
	timeout := s.Timeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	if timeout <= 0 {
		timeout = constants.DefaultConnectTimeout
	}
	port := s.Port
	if port <= 0 {
		port = constants.DefaultSSHPort
	}
	compress := constants.DefaultCompress
	if s.Compress != nil {
		compress = *s.Compress
	}
	noHostKeyCheck := true
	if s.NoHostKeyCheck != nil {
		noHostKeyCheck = *s.NoHostKeyCheck
	}

	connID := s.ID
	if connID == "" {
		connID = opts.ConnID
	}
	h := &Hook{
		connID: connID,
		cfg: remote.Config{
			Host:           host,
			User:           username,
			Port:           port,
			ConnectTimeout: timeout,
			Password:       strings.TrimSpace(s.Password),
			PrivateKey:     []byte(s.PrivateKey),
			KeyFile:        s.KeyFile,
			Passphrase:     s.Passphrase,
			ProxyCommand:   s.ProxyCommand,
			Compress:       compress,
			InlineEnv:      opts.InlineEnv,
			NoHostKeyCheck: noHostKeyCheck,
			KnownHostsFile: s.KnownHostsFile,
		},
		factory: opts.SessionFactory,
	}
	h.logger = common.GetLogger().WithComponent("fabric").WithConn(connID, host)
	return h, nil
}

// ConnID returns the identifier of the stored connection.
func (h *Hook) ConnID() string { return h.connID }

// Config returns the transport configuration sessions are created with.
func (h *Hook) Config() remote.Config { return h.cfg }

// Password returns the connection password, if any.
func (h *Hook) Password() string { return h.cfg.Password }

// WithRemoteHost returns a copy of the hook targeting host.
func (h *Hook) WithRemoteHost(host string) *Hook {
	cp := *h
	cp.cfg.Host = host
	cp.logger = common.GetLogger().WithComponent("fabric").WithConn(h.connID, host)
	return &cp
}

// Session creates a session for the configured host. The SSH connection is
// not dialed until the first command.
func (h *Hook) Session() remote.Session {
	h.logger.Info("setting up fabric connection", "user", h.cfg.User, "port", h.cfg.Port)
	if h.factory != nil {
		return h.factory(h.cfg)
	}
	return remote.New(h.cfg)
}

// SudoPasswordResponder answers "[sudo] password for" prompts with the connection password.
func (h *Hook) SudoPasswordResponder() (watcher.Watcher, error) {
	w, err := watcher.SudoPassword(h.cfg.Password)
	if err != nil {
		return nil, task.Configf("add_sudo_password_responder requires an SSH connection with a password")
	}
	return w, nil
}

// GenericPasswordResponder answers "password: " prompts with the connection password.
func (h *Hook) GenericPasswordResponder() (watcher.Watcher, error) {
	w, err := watcher.GenericPassword(h.cfg.Password)
	if err != nil {
		return nil, task.Configf("add_generic_password_responder requires an SSH connection with a password")
	}
	return w, nil
}

// UnknownHostKeyResponder confirms host authenticity prompts of nested ssh calls.
func (h *Hook) UnknownHostKeyResponder() watcher.Watcher {
	return watcher.UnknownHostKey()
}
