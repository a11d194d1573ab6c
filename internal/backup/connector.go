package backup

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/sftp"
	"github.com/yourusername/wordpress-backup/internal/logging"
	"github.com/yourusername/wordpress-backup/internal/ssh"
)

// SSHConnector opens an SSH session and an SFTP channel on the same
// connection.
type SSHConnector struct {
	Port            int
	KnownHostsPath  string
	TrustOnFirstUse bool
	Timeout         time.Duration
	KeyTempDir      string

	UseAgent bool
	Prompter ssh.Prompter
}

// Connect implements Connector. When the SFTP channel fails the session is
// still returned so the caller can close it.
func (c *SSHConnector) Connect(ctx context.Context, job *Job) (*Connection, error) {
	client, err := ssh.Dial(ctx, &ssh.ClientConfig{
		Host:            job.Host,
		Port:            c.Port,
		Username:        job.User,
		PrivateKey:      []byte(job.PrivateKey),
		KeyTempDir:      c.KeyTempDir,
		Timeout:         c.Timeout,
		KnownHostsPath:  c.KnownHostsPath,
		TrustOnFirstUse: c.TrustOnFirstUse,
		UseAgent:        c.UseAgent,
		Prompter:        c.Prompter,
	})
	if err != nil {
		return nil, err
	}

	conn := &Connection{Shell: client}

	sftpClient, err := client.NewSFTP(
		sftp.UseConcurrentReads(true),
		sftp.MaxConcurrentRequestsPerFile(64),
	)
	if err != nil {
		return conn, fmt.Errorf("failed to open SFTP channel: %w", err)
	}
	conn.Files = &sftpFiles{client: sftpClient}

	logging.L().Debug("SFTP channel opened", "remote", client.GetRemoteAddr())
	return conn, nil
}

// sftpFiles adapts *sftp.Client to FileTransfer
type sftpFiles struct {
	client *sftp.Client
}

func (f *sftpFiles) Stat(path string) (os.FileInfo, error) {
	return f.client.Stat(path)
}

func (f *sftpFiles) Open(path string) (io.ReadCloser, error) {
	file, err := f.client.Open(path)
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (f *sftpFiles) Remove(path string) error {
	return f.client.Remove(path)
}

func (f *sftpFiles) Close() error {
	return f.client.Close()
}
