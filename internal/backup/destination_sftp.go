package backup

import (
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/yourusername/wordpress-backup/internal/logging"
	sshclient "github.com/yourusername/wordpress-backup/internal/ssh"
)

const mirrorConnectTimeout = 30 * time.Second

// SFTPDestination stores archives on a remote SFTP server
type SFTPDestination struct {
	config     *DestinationConfig
	sshClient  *sshclient.Client
	sftpClient *sftp.Client
}

// NewSFTPDestination connects to the configured server
func NewSFTPDestination(config *DestinationConfig) (*SFTPDestination, error) {
	dest := &SFTPDestination{
		config: config,
	}

	if err := dest.connect(context.Background()); err != nil {
		return nil, err
	}

	return dest, nil
}

func (sd *SFTPDestination) connect(ctx context.Context) error {
	if sd.config.SFTPKeyPath == "" && sd.config.SFTPPassword == "" {
		return fmt.Errorf("no authentication method provided for SFTP")
	}

	clientConfig := &sshclient.ClientConfig{
		Host:            sd.config.SFTPHost,
		Port:            sd.config.SFTPPort,
		Username:        sd.config.SFTPUsername,
		KeyPath:         sd.config.SFTPKeyPath,
		Password:        sd.config.SFTPPassword,
		Timeout:         mirrorConnectTimeout,
		KnownHostsPath:  sd.config.KnownHostsPath,
		TrustOnFirstUse: sd.config.TrustOnFirstUse,
	}
	logging.L().Debug("Connecting to SFTP mirror", "address", clientConfig.Address())

	sshClient, err := sshclient.Dial(ctx, clientConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to SSH server: %w", err)
	}
	sd.sshClient = sshClient

	sftpClient, err := sshClient.NewSFTP(
		sftp.UseConcurrentWrites(true),
		sftp.MaxConcurrentRequestsPerFile(64),
	)
	if err != nil {
		sshClient.Close()
		return fmt.Errorf("failed to create SFTP client: %w", err)
	}
	sd.sftpClient = sftpClient

	if sd.config.Path != "" {
		if err := sd.sftpClient.MkdirAll(sd.config.Path); err != nil {
			sd.Close()
			return fmt.Errorf("failed to create base directory: %w", err)
		}
	}

	return nil
}

// Close closes the SFTP and SSH connections
func (sd *SFTPDestination) Close() error {
	if sd.sftpClient != nil {
		sd.sftpClient.Close()
	}
	if sd.sshClient != nil {
		logging.L().Debug("Closing SFTP mirror", "uptime", sd.sshClient.GetUptime())
		return sd.sshClient.Close()
	}
	return nil
}

// Upload uploads an archive to the SFTP destination
func (sd *SFTPDestination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	destPath := path.Join(sd.config.Path, filename)

	file, err := sd.sftpClient.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}

	written, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		sd.sftpClient.Remove(destPath)
		return fmt.Errorf("failed to write remote file: %w", err)
	}

	if written != sizeBytes {
		sd.sftpClient.Remove(destPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	return nil
}

// Download downloads an archive from the SFTP destination
func (sd *SFTPDestination) Download(filename string, writer io.Writer) error {
	file, err := sd.sftpClient.Open(path.Join(sd.config.Path, filename))
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to read remote file: %w", err)
	}
	return nil
}

// Delete removes an archive from the SFTP destination
func (sd *SFTPDestination) Delete(filename string) error {
	if err := sd.sftpClient.Remove(path.Join(sd.config.Path, filename)); err != nil {
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	return nil
}

// List returns all files in the SFTP destination
func (sd *SFTPDestination) List() ([]BackupFile, error) {
	dir := sd.config.Path
	if dir == "" {
		dir = "."
	}
	entries, err := sd.sftpClient.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote directory: %w", err)
	}

	var files []BackupFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: entry.Size(),
			CreatedAt: entry.ModTime().Unix(),
		})
	}

	return files, nil
}

// GetType returns the destination type
func (sd *SFTPDestination) GetType() string {
	return "sftp"
}
