package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/yourusername/wordpress-backup/internal/logging"
)

// LocalDestination stores archives on the local filesystem
type LocalDestination struct {
	basePath string
}

// NewLocalDestination creates a new local destination
func NewLocalDestination(basePath string) *LocalDestination {
	return &LocalDestination{
		basePath: basePath,
	}
}

// Upload writes reader to basePath/filename, replacing any existing file.
// The file holds wp-config.php credentials, so it is created 0600.
func (ld *LocalDestination) Upload(filename string, reader io.Reader, sizeBytes int64) error {
	if err := os.MkdirAll(ld.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	destPath := ld.Path(filename)
	logging.L().Debug("Writing local archive", "path", destPath, "bytes", sizeBytes)

	file, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	written, err := io.Copy(file, reader)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to write backup file: %w", err)
	}

	if sizeBytes >= 0 && written != sizeBytes {
		os.Remove(destPath)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d bytes", sizeBytes, written)
	}

	return nil
}

// Download reads a file from the local destination
func (ld *LocalDestination) Download(filename string, writer io.Writer) error {
	file, err := os.Open(ld.Path(filename))
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(writer, file); err != nil {
		return fmt.Errorf("failed to read backup file: %w", err)
	}
	return nil
}

// Delete removes a file from the local destination
func (ld *LocalDestination) Delete(filename string) error {
	if err := os.Remove(ld.Path(filename)); err != nil {
		return fmt.Errorf("failed to delete backup file: %w", err)
	}
	return nil
}

// List returns all regular files in the local destination
func (ld *LocalDestination) List() ([]BackupFile, error) {
	entries, err := os.ReadDir(ld.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var files []BackupFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			logging.L().Debug("Skipping unreadable file", "name", entry.Name(), "error", err)
			continue
		}

		files = append(files, BackupFile{
			Filename:  entry.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().Unix(),
		})
	}

	return files, nil
}

// GetType returns the destination type
func (ld *LocalDestination) GetType() string {
	return "local"
}

// Path returns the full path of filename
func (ld *LocalDestination) Path(filename string) string {
	return filepath.Join(ld.basePath, filename)
}

// Exists checks if a file exists
func (ld *LocalDestination) Exists(filename string) bool {
	_, err := os.Stat(ld.Path(filename))
	return err == nil
}

// GetSize returns the size of a file
func (ld *LocalDestination) GetSize(filename string) (int64, error) {
	info, err := os.Stat(ld.Path(filename))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
