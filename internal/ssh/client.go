package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Client wraps an SSH connection
type Client struct {
	client      *ssh.Client
	connectedAt time.Time
}

// ClientConfig holds SSH connection configuration
type ClientConfig struct {
	Host     string
	Port     int
	Username string

	// PrivateKey is PEM or ENC1 key material. When empty the client falls
	// back to KeyPath, then to ssh-agent and password authentication.
	PrivateKey []byte
	// KeyPath names a key file that is used in place.
	KeyPath string
	// Password is tried before any prompt.
	Password string
	// KeyTempDir is where the transient key file is written. Empty means
	// the OS temp dir.
	KeyTempDir string

	// Timeout bounds the TCP connect. Zero means no limit.
	Timeout         time.Duration
	KnownHostsPath  string
	TrustOnFirstUse bool

	UseAgent bool
	Prompter Prompter
}

// ExecResult is the outcome of a remote command that ran to completion
type ExecResult struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Address returns host:port for the configured target. A port embedded in
// Host wins over Port.
func (c *ClientConfig) Address() string {
	if host, port, err := net.SplitHostPort(c.Host); err == nil {
		return net.JoinHostPort(host, port)
	}
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Dial establishes the SSH connection. Key material, when present, lives on
// disk only for the duration of the parse and handshake.
func Dial(ctx context.Context, config *ClientConfig) (*Client, error) {
	hostKeyCallback, err := NewHostKeyCallback(config.KnownHostsPath, config.TrustOnFirstUse)
	if err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.Username,
		HostKeyCallback: hostKeyCallback,
		Timeout:         config.Timeout,
	}

	var client *ssh.Client
	switch {
	case len(config.PrivateKey) > 0:
		err = WithTransientKeyFile(config.KeyTempDir, config.PrivateKey, func(path string) error {
			signer, err := loadPrivateKey(path, config.Prompter)
			if err != nil {
				return fmt.Errorf("failed to load private key: %w", err)
			}
			sshConfig.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}

			client, err = dial(ctx, config.Address(), sshConfig)
			return err
		})
	case config.KeyPath != "":
		signer, loadErr := loadPrivateKey(config.KeyPath, config.Prompter)
		if loadErr != nil {
			return nil, fmt.Errorf("failed to load private key: %w", loadErr)
		}
		sshConfig.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
		client, err = dial(ctx, config.Address(), sshConfig)
	default:
		methods, release := interactiveAuthMethods(config)
		defer release()
		if len(methods) == 0 {
			return nil, fmt.Errorf("no authentication method available: set SSH_PUBLIC_KEY, run an ssh-agent or use a terminal")
		}
		sshConfig.Auth = methods
		client, err = dial(ctx, config.Address(), sshConfig)
	}
	if err != nil {
		return nil, err
	}

	return &Client{
		client:      client,
		connectedAt: time.Now(),
	}, nil
}

func dial(ctx context.Context, address string, sshConfig *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: sshConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial SSH: %w", err)
	}

	// the handshake itself is not context aware
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	interrupted := !stop()
	if err != nil {
		conn.Close()
		if interrupted {
			return nil, fmt.Errorf("SSH handshake interrupted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("SSH handshake failed: %w", err)
	}

	return ssh.NewClient(sshConn, chans, reqs), nil
}

// Close closes the SSH connection
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// Exec runs command in a new session and waits for it to exit. A non-zero
// exit status is reported in the result; only transport problems and
// cancellation are returned as errors.
func (c *Client) Exec(ctx context.Context, command string) (*ExecResult, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}

	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(command); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		session.Close()
		return nil, fmt.Errorf("command interrupted: %w", ctx.Err())
	}

	result := &ExecResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			result.ExitStatus = exitErr.ExitStatus()
			return result, nil
		}
		return nil, fmt.Errorf("command failed: %w", err)
	}

	return result, nil
}

// NewSFTP opens an SFTP channel on the existing connection
func (c *Client) NewSFTP(opts ...sftp.ClientOption) (*sftp.Client, error) {
	if c.client == nil {
		return nil, fmt.Errorf("not connected")
	}
	return sftp.NewClient(c.client, opts...)
}

// GetUptime returns how long the connection has been active
func (c *Client) GetUptime() time.Duration {
	return time.Since(c.connectedAt)
}

// GetRemoteAddr returns the remote address of the connection
func (c *Client) GetRemoteAddr() net.Addr {
	if c.client != nil && c.client.Conn != nil {
		return c.client.Conn.RemoteAddr()
	}
	return nil
}
