package backup

import (
	"fmt"
	"io"

	"github.com/yourusername/wordpress-backup/internal/config"
)

// Destination represents a place archives are stored
type Destination interface {
	// Upload stores reader under filename, expecting sizeBytes bytes
	Upload(filename string, reader io.Reader, sizeBytes int64) error

	// Download writes the stored file to writer
	Download(filename string, writer io.Writer) error

	// Delete removes a file from the destination
	Delete(filename string) error

	// List returns all files at the destination
	List() ([]BackupFile, error)

	// GetType returns the destination type identifier
	GetType() string
}

// BackupFile represents a file in a backup destination
type BackupFile struct {
	Filename  string
	SizeBytes int64
	CreatedAt int64 // Unix timestamp
}

// DestinationConfig contains configuration for a backup destination
type DestinationConfig struct {
	Type string // "local", "sftp", "s3"
	Path string // Base path for archives

	// SFTP specific
	SFTPHost        string
	SFTPPort        int
	SFTPUsername    string
	SFTPPassword    string
	SFTPKeyPath     string
	KnownHostsPath  string
	TrustOnFirstUse bool

	// S3 specific
	S3Bucket    string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Endpoint  string // Optional, for S3-compatible storage
}

// MirrorDestinationConfig converts the settings file mirror block. A nil
// mirror yields nil.
func MirrorDestinationConfig(m *config.MirrorConfig, defaultKnownHosts string) *DestinationConfig {
	if m == nil {
		return nil
	}

	knownHosts := m.KnownHostsPath
	if knownHosts == "" {
		knownHosts = defaultKnownHosts
	}

	return &DestinationConfig{
		Type:            m.Type,
		Path:            m.Path,
		SFTPHost:        m.SFTPHost,
		SFTPPort:        m.SFTPPort,
		SFTPUsername:    m.SFTPUsername,
		SFTPPassword:    m.SFTPPassword,
		SFTPKeyPath:     m.SFTPKeyPath,
		KnownHostsPath:  knownHosts,
		TrustOnFirstUse: m.TrustOnFirstUse,
		S3Bucket:        m.S3Bucket,
		S3Region:        m.S3Region,
		S3AccessKey:     m.S3AccessKey,
		S3SecretKey:     m.S3SecretKey,
		S3Endpoint:      m.S3Endpoint,
	}
}

// NewDestination creates a new backup destination based on config
func NewDestination(config *DestinationConfig) (Destination, error) {
	switch config.Type {
	case "local":
		return NewLocalDestination(config.Path), nil
	case "sftp":
		dest, err := NewSFTPDestination(config)
		if err != nil {
			return nil, err
		}
		return dest, nil
	case "s3":
		dest, err := NewS3Destination(config)
		if err != nil {
			return nil, err
		}
		return dest, nil
	default:
		return nil, fmt.Errorf("unsupported destination type: %s", config.Type)
	}
}
