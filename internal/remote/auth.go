package remote

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

var defaultKeyFiles = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// authMethods returns password auth first, then a single public key method over
// explicit key, key file, agent and default key signers, in that order.
// The returned closer releases the agent socket, if one was opened.
func authMethods(cfg Config) ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	cleanup := func() {}

	if cfg.Password != "" {
		pw := cfg.Password
		methods = append(methods,
			ssh.Password(pw),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = pw
				}
				return answers, nil
			}),
		)
	}

	var signers []ssh.Signer
	if len(cfg.PrivateKey) > 0 {
		s, err := parseKey(cfg.PrivateKey, cfg.Passphrase)
		if err != nil {
			return nil, cleanup, fmt.Errorf("parse private key: %w", err)
		}
		signers = append(signers, s)
	}
	if cfg.KeyFile != "" {
		data, err := os.ReadFile(expandHome(cfg.KeyFile))
		if err != nil {
			return nil, cleanup, fmt.Errorf("read key file: %w", err)
		}
		s, err := parseKey(data, cfg.Passphrase)
		if err != nil {
			return nil, cleanup, fmt.Errorf("parse key file %s: %w", cfg.KeyFile, err)
		}
		signers = append(signers, s)
	}

	var agentSigners func() ([]ssh.Signer, error)
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			agentSigners = agent.NewClient(conn).Signers
			cleanup = func() { _ = conn.Close() }
		}
	}

	signers = append(signers, defaultSigners(cfg.Passphrase)...)

	if len(signers) > 0 || agentSigners != nil {
		explicit := signers
		methods = append(methods, ssh.PublicKeysCallback(func() ([]ssh.Signer, error) {
			out := append([]ssh.Signer(nil), explicit...)
			if agentSigners != nil {
				if as, err := agentSigners(); err == nil {
					out = append(out, as...)
				}
			}
			return out, nil
		}))
	}
	if len(methods) == 0 {
		return nil, cleanup, fmt.Errorf("no authentication method available for %s@%s", cfg.User, cfg.Host)
	}
	return methods, cleanup, nil
}

func parseKey(pem []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(pem, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(pem)
}

// defaultSigners loads whatever default keys under ~/.ssh parse cleanly.
func defaultSigners(passphrase string) []ssh.Signer {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var out []ssh.Signer
	for _, name := range defaultKeyFiles {
		data, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		s, err := parseKey(data, passphrase)
		if err != nil {
			continue
		}
		out = append(out, s)
	}
	return out
}

func hostKeyCallback(cfg Config) (ssh.HostKeyCallback, error) {
	if cfg.NoHostKeyCheck {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	path := cfg.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate known_hosts: %w", err)
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	cb, err := knownhosts.New(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", path, err)
	}
	return cb, nil
}

func expandHome(p string) string {
	if len(p) > 1 && p[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
