// Package remote runs shell commands on SSH hosts and answers their prompts.
package remote

import (
	"net"
	"strconv"
	"time"

	"github.com/loykin/opshooks/internal/constants"
)

// Config describes how to reach and authenticate against a remote host.
type Config struct {
	Host           string
	User           string
	Port           int
	ConnectTimeout time.Duration

	Password   string
	PrivateKey []byte
	KeyFile    string
	Passphrase string

	ProxyCommand string
	// Compress is carried for parity with connection settings. The transport
	// does not negotiate compression.
	Compress  bool
	InlineEnv bool

	NoHostKeyCheck bool
	KnownHostsFile string
}

func (c Config) port() int {
	if c.Port <= 0 {
		return constants.DefaultSSHPort
	}
	return c.Port
}

func (c Config) timeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return constants.DefaultConnectTimeout
	}
	return c.ConnectTimeout
}

// Address returns host:port with the default port applied.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.port()))
}
