package remote

import (
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// expandProxyCommand substitutes %h, %p and %r like OpenSSH does.
func expandProxyCommand(cfg Config) string {
	r := strings.NewReplacer(
		"%h", cfg.Host,
		"%p", strconv.Itoa(cfg.port()),
		"%r", cfg.User,
		"%%", "%",
	)
	return r.Replace(cfg.ProxyCommand)
}

// proxyConn is a net.Conn over the stdio of a proxy command.
type proxyConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	addr   string
}

func dialProxy(cfg Config) (net.Conn, error) {
	line := expandProxyCommand(cfg)
	// not bound to a context: the tunnel outlives the call that opened it
	cmd := exec.Command("sh", "-c", line)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start proxy command: %w", err)
	}
	return &proxyConn{cmd: cmd, stdin: stdin, stdout: stdout, addr: cfg.Address()}, nil
}

func (p *proxyConn) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *proxyConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *proxyConn) Close() error {
	_ = p.stdin.Close()
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.cmd.Wait()
	return nil
}

func (p *proxyConn) LocalAddr() net.Addr              { return proxyAddr("proxy") }
func (p *proxyConn) RemoteAddr() net.Addr             { return proxyAddr(p.addr) }
func (p *proxyConn) SetDeadline(time.Time) error      { return nil }
func (p *proxyConn) SetReadDeadline(time.Time) error  { return nil }
func (p *proxyConn) SetWriteDeadline(time.Time) error { return nil }

type proxyAddr string

func (a proxyAddr) Network() string { return "proxy" }
func (a proxyAddr) String() string  { return string(a) }
