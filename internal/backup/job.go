package backup

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourusername/wordpress-backup/internal/config"
)

// ArchiveSuffix ends every archive filename
const ArchiveSuffix = ".wp-content.zip"

const dateLayout = "2006-01-02"

// Job describes one backup run. It is built once from the environment and
// not modified afterwards.
type Job struct {
	User       string
	Host       string
	RemotePath string
	PrivateKey string

	// RemoteMySQLPath is carried from SSH_MYSQL_PATH; no step consumes it.
	RemoteMySQLPath string

	// Date is the YYYY-MM-DD stamp captured at job start.
	Date string
	// LocalDir receives the downloaded archive.
	LocalDir string
}

// NewJob stamps a job with the date of now
func NewJob(cfg config.JobConfig, localDir string, now time.Time) *Job {
	return &Job{
		User:            cfg.User,
		Host:            cfg.Host,
		RemotePath:      loginRelative(cfg.RemotePath),
		PrivateKey:      cfg.PrivateKey,
		RemoteMySQLPath: cfg.RemoteMySQLPath,
		Date:            now.Format(dateLayout),
		LocalDir:        localDir,
	}
}

// loginRelative turns a leading ~ into a path relative to the login
// directory. Remote commands and SFTP both start there, and the zip command
// quotes the path so the shell would not expand it.
func loginRelative(remotePath string) string {
	switch {
	case remotePath == "~":
		return "."
	case strings.HasPrefix(remotePath, "~/"):
		if rest := strings.TrimLeft(remotePath[2:], "/"); rest != "" {
			return rest
		}
		return "."
	}
	return remotePath
}

// ArchiveFilename returns {date}.wp-content.zip
func (j *Job) ArchiveFilename() string {
	return j.Date + ArchiveSuffix
}

// RemoteArchivePath returns where the archive is written on the remote host
func (j *Job) RemoteArchivePath() string {
	return path.Join(j.RemotePath, j.ArchiveFilename())
}

// LocalArchivePath returns where the archive is downloaded to
func (j *Job) LocalArchivePath() string {
	return filepath.Join(j.LocalDir, j.ArchiveFilename())
}

// State is a point in a job's lifecycle
type State int

const (
	StateUnconfigured State = iota
	StateValidated
	StateConnected
	StateArchived
	StateRetrieved
	StateCleaned
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateValidated:
		return "validated"
	case StateConnected:
		return "connected"
	case StateArchived:
		return "archived"
	case StateRetrieved:
		return "retrieved"
	case StateCleaned:
		return "cleaned"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Step names a fatal failure point
type Step string

const (
	StepConnect  Step = "connect"
	StepArchive  Step = "archive"
	StepDownload Step = "download"
)

// StepError is a fatal failure of one job step
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s step failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
