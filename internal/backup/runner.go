package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/yourusername/wordpress-backup/internal/logging"
	"github.com/yourusername/wordpress-backup/internal/models"
	"github.com/yourusername/wordpress-backup/internal/ssh"
)

// Shell runs commands on the remote host
type Shell interface {
	Exec(ctx context.Context, command string) (*ssh.ExecResult, error)
	Close() error
}

// FileTransfer is the file channel bound to a Shell's connection
type FileTransfer interface {
	Stat(path string) (os.FileInfo, error)
	Open(path string) (io.ReadCloser, error)
	Remove(path string) error
	Close() error
}

// Connection holds whatever handles were opened. Either may be nil.
type Connection struct {
	Shell Shell
	Files FileTransfer
}

// Connector opens the remote session for a job
type Connector interface {
	Connect(ctx context.Context, job *Job) (*Connection, error)
}

// RunnerOptions tunes a Runner. The zero value runs with no limits and no
// optional steps.
type RunnerOptions struct {
	// CommandTimeout bounds the remote archive command. Zero waits forever.
	CommandTimeout time.Duration
	// TransferTimeout bounds the download. Zero waits forever.
	TransferTimeout time.Duration

	Mirror        *DestinationConfig
	RetentionKeep int
	History       Recorder
	Logger        *slog.Logger

	now func() time.Time
}

// Result describes a finished run
type Result struct {
	Job               *Job
	RemoteArchivePath string
	LocalArchivePath  string
	SizeBytes         int64
	Transitions       []State
	Warnings          []string
}

// State returns the last state reached
func (r *Result) State() State {
	if len(r.Transitions) == 0 {
		return StateUnconfigured
	}
	return r.Transitions[len(r.Transitions)-1]
}

func (r *Result) enter(state State) {
	r.Transitions = append(r.Transitions, state)
}

func (r *Result) warn(logger *slog.Logger, msg string, err error) {
	logger.Warn(msg, "error", err)
	r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %v", msg, err))
}

// Runner performs the backup steps in order: connect, archive, retrieve,
// clean the remote copy, close.
type Runner struct {
	connector Connector
	local     *LocalDestination
	opts      RunnerOptions
	logger    *slog.Logger
}

// NewRunner creates a runner that downloads into local
func NewRunner(connector Connector, local *LocalDestination, opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	if opts.now == nil {
		opts.now = time.Now
	}
	return &Runner{
		connector: connector,
		local:     local,
		opts:      opts,
		logger:    logger,
	}
}

// Run executes job. The returned error is a *StepError for fatal failures;
// warnings are reported in the result only. Connections are closed on every
// path once a connection was attempted.
func (r *Runner) Run(ctx context.Context, job *Job) (*Result, error) {
	startedAt := r.opts.now()
	result := &Result{Job: job}
	result.enter(StateValidated)

	if job.RemoteMySQLPath != "" {
		r.logger.Debug("SSH_MYSQL_PATH is set but database dumps are not supported", "path", job.RemoteMySQLPath)
	}

	err := r.execute(ctx, job, result)
	result.enter(StateClosed)

	if err == nil {
		r.postProcess(job, result)
		r.logger.Info("Backup process completed successfully", "path", result.LocalArchivePath)
	}

	r.record(ctx, job, result, startedAt, err)
	return result, err
}

func (r *Runner) execute(ctx context.Context, job *Job, result *Result) error {
	var conn *Connection
	defer func() {
		r.closeConnection(conn)
	}()

	conn, err := r.connect(ctx, job)
	if err != nil {
		return err
	}
	result.enter(StateConnected)

	result.RemoteArchivePath, err = r.createRemoteArchive(ctx, conn.Shell, job, result)
	if err != nil {
		return err
	}
	result.enter(StateArchived)

	result.LocalArchivePath, result.SizeBytes, err = r.download(ctx, conn.Files, job, result.RemoteArchivePath)
	if err != nil {
		return err
	}
	result.enter(StateRetrieved)

	r.cleanupRemote(conn.Files, result)
	result.enter(StateCleaned)

	return nil
}

func (r *Runner) connect(ctx context.Context, job *Job) (*Connection, error) {
	conn, err := r.connector.Connect(ctx, job)
	if err != nil {
		r.logger.Error("Failed to establish SSH connection", "host", job.Host, "error", err)
		return conn, &StepError{Step: StepConnect, Err: err}
	}
	if conn == nil || conn.Shell == nil || conn.Files == nil {
		err := errors.New("connector returned an incomplete connection")
		r.logger.Error("Failed to establish SSH connection", "host", job.Host, "error", err)
		return conn, &StepError{Step: StepConnect, Err: err}
	}

	r.logger.Info("SSH connection established", "host", job.Host, "user", job.User)
	return conn, nil
}

// createRemoteArchive runs the zip command. A non-zero exit only produces a
// warning; the archive's existence is checked by the download.
func (r *Runner) createRemoteArchive(ctx context.Context, shell Shell, job *Job, result *Result) (string, error) {
	remotePath := job.RemoteArchivePath()

	if r.opts.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.CommandTimeout)
		defer cancel()
	}

	r.logger.Info("Creating backup on remote server", "path", remotePath)
	execResult, err := shell.Exec(ctx, BuildZipCommand(job.RemotePath, job.ArchiveFilename()))
	if err != nil {
		r.logger.Error("Failed to create remote backup", "error", err)
		return "", &StepError{Step: StepArchive, Err: err}
	}

	if execResult.ExitStatus == 0 {
		r.logger.Info("Backup created successfully on remote server")
	} else {
		r.logger.Warn("Backup completed with warnings",
			"exit_status", execResult.ExitStatus,
			"stderr", execResult.Stderr,
		)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("archive command exited with status %d: %s", execResult.ExitStatus, execResult.Stderr))
	}

	return remotePath, nil
}

func (r *Runner) download(ctx context.Context, files FileTransfer, job *Job, remotePath string) (string, int64, error) {
	localPath := r.local.Path(job.ArchiveFilename())

	if r.opts.TransferTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.TransferTimeout)
		defer cancel()
	}

	r.logger.Info("Downloading backup", "remote", remotePath, "local", localPath)

	fail := func(err error) (string, int64, error) {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		r.logger.Error("Failed to download backup", "error", err)
		return "", 0, &StepError{Step: StepDownload, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	info, err := files.Stat(remotePath)
	if err != nil {
		return fail(fmt.Errorf("failed to stat remote archive: %w", err))
	}

	src, err := files.Open(remotePath)
	if err != nil {
		return fail(fmt.Errorf("failed to open remote archive: %w", err))
	}
	defer src.Close()

	// closing the remote file unblocks a stalled read
	stop := context.AfterFunc(ctx, func() {
		src.Close()
	})
	defer stop()

	if err := r.local.Upload(job.ArchiveFilename(), src, info.Size()); err != nil {
		return fail(err)
	}

	size, err := r.local.GetSize(job.ArchiveFilename())
	if err != nil {
		return fail(fmt.Errorf("failed to stat local archive: %w", err))
	}

	r.logger.Info("Backup downloaded successfully",
		"path", localPath,
		"size_mb", fmt.Sprintf("%.2f", float64(size)/(1024*1024)),
	)
	return localPath, size, nil
}

func (r *Runner) cleanupRemote(files FileTransfer, result *Result) {
	if err := files.Remove(result.RemoteArchivePath); err != nil {
		result.warn(r.logger, "Failed to clean up remote backup", err)
		return
	}
	r.logger.Info("Remote backup file cleaned up")
}

// closeConnection releases the file channel and then the session, each only
// if it was opened.
func (r *Runner) closeConnection(conn *Connection) {
	if conn != nil {
		if conn.Files != nil {
			if err := conn.Files.Close(); err != nil {
				r.logger.Debug("SFTP close returned error", "error", err)
			}
		}
		if conn.Shell != nil {
			if err := conn.Shell.Close(); err != nil {
				r.logger.Debug("SSH close returned error", "error", err)
			}
		}
	}
	r.logger.Info("Connections closed")
}

// postProcess runs the optional mirror and retention steps. Failures are
// warnings.
func (r *Runner) postProcess(job *Job, result *Result) {
	if r.opts.Mirror != nil {
		if err := r.mirror(job, result); err != nil {
			result.warn(r.logger, "Failed to mirror backup", err)
		}
	}

	if r.opts.RetentionKeep > 0 {
		deleted, err := EnforceRetention(r.local, r.opts.RetentionKeep)
		if err != nil {
			result.warn(r.logger, "Failed to enforce retention", err)
		} else if deleted > 0 {
			r.logger.Info("Retention enforced", "deleted", deleted, "keep", r.opts.RetentionKeep)
		}
	}
}

func (r *Runner) mirror(job *Job, result *Result) error {
	dest, err := NewDestination(r.opts.Mirror)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	if closer, ok := dest.(io.Closer); ok {
		defer closer.Close()
	}

	file, err := os.Open(result.LocalArchivePath)
	if err != nil {
		return fmt.Errorf("failed to open local archive: %w", err)
	}
	defer file.Close()

	if err := dest.Upload(job.ArchiveFilename(), file, result.SizeBytes); err != nil {
		return err
	}
	r.logger.Info("Backup mirrored", "destination", dest.GetType(), "file", job.ArchiveFilename())

	if r.opts.RetentionKeep > 0 {
		if _, err := EnforceRetention(dest, r.opts.RetentionKeep); err != nil {
			return fmt.Errorf("mirror retention: %w", err)
		}
	}
	return nil
}

func (r *Runner) record(ctx context.Context, job *Job, result *Result, startedAt time.Time, runErr error) {
	if r.opts.History == nil {
		return
	}

	finishedAt := r.opts.now()
	run := &models.BackupRun{
		ID:         "run-" + uuid.New().String(),
		Host:       job.Host,
		User:       job.User,
		RemotePath: job.RemotePath,
		Filename:   job.ArchiveFilename(),
		LocalPath:  result.LocalArchivePath,
		SizeBytes:  result.SizeBytes,
		FinalState: lastProgress(result).String(),
		Status:     models.RunStatusCompleted,
		Warnings:   result.Warnings,
		StartedAt:  startedAt,
		FinishedAt: &finishedAt,
	}
	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.ErrorMessage = runErr.Error()
	}

	// the run may have been interrupted; history is still worth keeping
	if err := r.opts.History.Record(context.WithoutCancel(ctx), run); err != nil {
		r.logger.Warn("Failed to record backup history", "error", err)
	}
}

// lastProgress is the furthest state before Closed
func lastProgress(result *Result) State {
	for i := len(result.Transitions) - 1; i >= 0; i-- {
		if result.Transitions[i] != StateClosed {
			return result.Transitions[i]
		}
	}
	return StateUnconfigured
}
