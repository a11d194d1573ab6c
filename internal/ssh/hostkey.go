package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/yourusername/wordpress-backup/internal/logging"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// NewHostKeyCallback builds a host key callback backed by a known_hosts file.
// With trustOnFirstUse an unknown host is accepted and recorded; a host whose
// recorded key changed is always rejected. An empty path accepts every key
// without recording it.
func NewHostKeyCallback(knownHostsPath string, trustOnFirstUse bool) (ssh.HostKeyCallback, error) {
	if strings.TrimSpace(knownHostsPath) == "" {
		logging.L().Warn("Host key verification disabled, no known_hosts path configured")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if err := ensureKnownHostsFile(knownHostsPath); err != nil {
		return nil, err
	}

	baseCallback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read known_hosts: %w", err)
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := baseCallback(hostname, remote, key)
		if err == nil {
			return nil
		}

		var keyErr *knownhosts.KeyError
		if !errors.As(err, &keyErr) {
			return err
		}

		fingerprint := ssh.FingerprintSHA256(key)
		if len(keyErr.Want) > 0 {
			logging.L().Warn("SSH host key changed", "host", hostname, "fingerprint", fingerprint)
			return fmt.Errorf("SSH host key changed for %s", hostname)
		}

		if !trustOnFirstUse {
			return fmt.Errorf("unknown SSH host key for %s (%s)", hostname, fingerprint)
		}

		if err := appendKnownHost(knownHostsPath, knownHostsEntries(hostname, remote), key); err != nil {
			return err
		}

		logging.L().Info("Accepted new SSH host key", "host", hostname, "fingerprint", fingerprint)
		return nil
	}, nil
}

func ensureKnownHostsFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create known_hosts directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create known_hosts file: %w", err)
	}
	return file.Close()
}

func appendKnownHost(path string, hosts []string, key ssh.PublicKey) error {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(knownhosts.Line(hosts, key) + "\n"); err != nil {
		return fmt.Errorf("failed to write known_hosts entry: %w", err)
	}
	return nil
}

// knownHostsEntries lists the dialed name and, when different, the resolved
// remote address, both normalized to known_hosts form.
func knownHostsEntries(hostname string, remote net.Addr) []string {
	var entries []string
	if hostname != "" {
		entries = append(entries, knownhosts.Normalize(hostname))
	}

	if remote != nil {
		address := knownhosts.Normalize(remote.String())
		if len(entries) == 0 || entries[0] != address {
			entries = append(entries, address)
		}
	}

	return entries
}
