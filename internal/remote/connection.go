package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/loykin/opshooks/internal/common"
	"github.com/loykin/opshooks/internal/util"
	"github.com/loykin/opshooks/internal/watcher"
	"github.com/loykin/opshooks/pkg/task"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/errgroup"
)

// Connection is a lazily dialed SSH client. It implements Session.
// Commands on one Connection may run concurrently; each gets its own channel.
type Connection struct {
	cfg    Config
	logger *common.Logger

	mu      sync.Mutex
	client  *ssh.Client
	cleanup func()
}

var _ Session = (*Connection)(nil)

// New returns a Connection for cfg. No network I/O happens until the first command.
func New(cfg Config) *Connection {
	return &Connection{
		cfg:    cfg,
		logger: common.GetLogger().WithComponent("remote").WithConn("", cfg.Host),
	}
}

// Config returns the configuration the Connection was built with.
func (c *Connection) Config() Config { return c.cfg }

// Connected reports whether the SSH client has been dialed.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client != nil
}

func (c *Connection) connect(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return c.client, nil
	}
	if c.cfg.Host == "" {
		return nil, task.Configf("remote host is not set")
	}

	methods, cleanup, err := authMethods(c.cfg)
	if err != nil {
		return nil, err
	}
	hostKey, err := hostKeyCallback(c.cfg)
	if err != nil {
		cleanup()
		return nil, err
	}
	clientCfg := &ssh.ClientConfig{
		User:            c.cfg.User,
		Auth:            methods,
		HostKeyCallback: hostKey,
		Timeout:         c.cfg.timeout(),
	}

	addr := c.cfg.Address()
	c.logger.Info("connecting", "addr", addr, "user", c.cfg.User,
		"proxy", c.cfg.ProxyCommand != "", "compress", c.cfg.Compress)

	var conn net.Conn
	if c.cfg.ProxyCommand != "" {
		conn, err = dialProxy(c.cfg)
	} else {
		d := net.Dialer{Timeout: c.cfg.timeout()}
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	type handshake struct {
		client *ssh.Client
		err    error
	}
	done := make(chan handshake, 1)
	go func() {
		sc, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
		if err != nil {
			done <- handshake{err: err}
			return
		}
		done <- handshake{client: ssh.NewClient(sc, chans, reqs)}
	}()

	hctx, cancel := context.WithTimeout(ctx, c.cfg.timeout())
	defer cancel()
	select {
	case h := <-done:
		if h.err != nil {
			_ = conn.Close()
			cleanup()
			return nil, fmt.Errorf("ssh handshake with %s: %w", addr, h.err)
		}
		c.client = h.client
		c.cleanup = cleanup
		return c.client, nil
	case <-hctx.Done():
		_ = conn.Close()
		cleanup()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, hctx.Err())
	}
}

// Close releases the SSH client. It is safe to call on an unconnected handle.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.client != nil {
		err = c.client.Close()
		c.client = nil
	}
	if c.cleanup != nil {
		c.cleanup()
		c.cleanup = nil
	}
	return err
}

// Run executes command through the remote user's shell.
func (c *Connection) Run(ctx context.Context, command string, opts RunOptions) (*Result, error) {
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, client, command, opts)
}

// Sudo executes command through sudo, answering its prompt with opts.Password.
func (c *Connection) Sudo(ctx context.Context, command string, opts SudoOptions) (*Result, error) {
	if opts.Password != "" {
		common.RegisterSecret(opts.Password)
	}
	client, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	return c.run(ctx, client, SudoCommand(command, opts.User, opts.Env), sudoRunOptions(opts))
}

func (c *Connection) run(ctx context.Context, client *ssh.Client, command string, opts RunOptions) (*Result, error) {
	sess, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer func() { _ = sess.Close() }()

	full := command
	if len(opts.Env) > 0 {
		if c.cfg.InlineEnv {
			full = InlineEnv(opts.Env, command)
		} else {
			for _, k := range util.SortedKeys(opts.Env) {
				if err := sess.Setenv(k, opts.Env[k]); err != nil {
					// servers without a matching AcceptEnv drop the variable
					c.logger.Debug("setenv rejected", "name", k, "error", err)
				}
			}
		}
	}
	if opts.Pty {
		modes := ssh.TerminalModes{ssh.TTY_OP_ISPEED: 14400, ssh.TTY_OP_OSPEED: 14400}
		if err := sess.RequestPty("xterm", 24, 80, modes); err != nil {
			return nil, fmt.Errorf("request pty: %w", err)
		}
	}

	stdin, err := sess.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := sess.StderrPipe()
	if err != nil {
		return nil, err
	}

	c.logger.Debug("running command", "command", command)
	if err := sess.Start(full); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}
	// nothing will ever be written without watchers, so commands reading
	// stdin see EOF instead of blocking
	if len(opts.Watchers) == 0 && !opts.Pty {
		_ = stdin.Close()
	}

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			_ = sess.Signal(ssh.SIGKILL)
			_ = sess.Close()
		case <-finished:
		}
	}()

	p := newPump(stdin, opts.Watchers, func() { _ = sess.Close() })
	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error { return p.copy(stdout, &outBuf) })
	g.Go(func() error { return p.copy(stderr, &errBuf) })
	pumpErr := g.Wait()
	waitErr := sess.Wait()

	res := &Result{Command: command, Stdout: outBuf.String(), Stderr: errBuf.String()}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if pumpErr != nil {
		return nil, pumpErr
	}
	if waitErr != nil {
		var exitErr *ssh.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("wait for command: %w", waitErr)
		}
		res.ExitCode = exitErr.ExitStatus()
	}
	c.logger.Debug("command finished", "exit_code", res.ExitCode)
	if res.ExitCode != 0 && !opts.Warn {
		return res, task.ExitError(res.ExitCode)
	}
	return res, nil
}

// pump copies command output into buffers and feeds the interleaved output of
// both streams to the watchers.
type pump struct {
	mu       sync.Mutex
	stdin    io.Writer
	watchers []watcher.Watcher
	seen     bytes.Buffer
	abort    func()
}

func newPump(stdin io.Writer, ws []watcher.Watcher, abort func()) *pump {
	return &pump{stdin: stdin, watchers: ws, abort: abort}
}

func (p *pump) copy(r io.Reader, dst *bytes.Buffer) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if werr := p.feed(buf[:n], dst); werr != nil {
				p.abort()
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (p *pump) feed(chunk []byte, dst *bytes.Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	dst.Write(chunk)
	if len(p.watchers) == 0 {
		return nil
	}
	p.seen.Write(chunk)
	stream := p.seen.String()
	for _, w := range p.watchers {
		replies, err := w.Submit(stream)
		if err != nil {
			return err
		}
		for _, reply := range replies {
			if _, err := io.WriteString(p.stdin, reply); err != nil {
				return fmt.Errorf("write reply: %w", err)
			}
		}
	}
	return nil
}
