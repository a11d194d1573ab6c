package backup

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yourusername/wordpress-backup/internal/config"
	"github.com/yourusername/wordpress-backup/internal/models"
	"github.com/yourusername/wordpress-backup/internal/ssh"
)

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeShell struct {
	events   *eventLog
	exec     func(command string) (*ssh.ExecResult, error)
	commands []string
}

func (s *fakeShell) Exec(ctx context.Context, command string) (*ssh.ExecResult, error) {
	s.commands = append(s.commands, command)
	if s.exec == nil {
		return &ssh.ExecResult{}, nil
	}
	return s.exec(command)
}

func (s *fakeShell) Close() error {
	s.events.add("shell closed")
	return nil
}

// fakeFiles serves remote paths from a local directory
type fakeFiles struct {
	events    *eventLog
	root      string
	open      func(path string) (io.ReadCloser, error)
	removeErr error
}

func (f *fakeFiles) local(path string) string {
	return filepath.Join(f.root, filepath.FromSlash(path))
}

func (f *fakeFiles) Stat(path string) (os.FileInfo, error) {
	return os.Stat(f.local(path))
}

func (f *fakeFiles) Open(path string) (io.ReadCloser, error) {
	if f.open != nil {
		return f.open(path)
	}
	return os.Open(f.local(path))
}

func (f *fakeFiles) Remove(path string) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	return os.Remove(f.local(path))
}

func (f *fakeFiles) Close() error {
	f.events.add("files closed")
	return nil
}

type fakeConnector struct {
	conn *Connection
	err  error
}

func (c *fakeConnector) Connect(ctx context.Context, job *Job) (*Connection, error) {
	return c.conn, c.err
}

type fakeRecorder struct {
	runs []*models.BackupRun
}

func (r *fakeRecorder) Record(ctx context.Context, run *models.BackupRun) error {
	r.runs = append(r.runs, run)
	return nil
}

type runnerFixture struct {
	job      *Job
	events   *eventLog
	shell    *fakeShell
	files    *fakeFiles
	local    *LocalDestination
	logs     *bytes.Buffer
	logger   *slog.Logger
	archived []byte
}

func newRunnerFixture(t *testing.T) *runnerFixture {
	t.Helper()

	remoteRoot := t.TempDir()
	localDir := t.TempDir()
	events := &eventLog{}

	job := NewJob(config.JobConfig{
		User:       "deploy",
		Host:       "example.com",
		RemotePath: "/var/www/html",
	}, localDir, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))

	f := &runnerFixture{
		job:      job,
		events:   events,
		files:    &fakeFiles{events: events, root: remoteRoot},
		local:    NewLocalDestination(localDir),
		logs:     &bytes.Buffer{},
		archived: []byte("PK\x03\x04 wordpress content"),
	}
	f.logger = slog.New(slog.NewTextHandler(f.logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// the default shell writes the archive where zip would
	f.shell = &fakeShell{
		events: events,
		exec: func(command string) (*ssh.ExecResult, error) {
			f.writeRemoteArchive(t)
			return &ssh.ExecResult{Stdout: "adding: wp-config.php"}, nil
		},
	}
	return f
}

func (f *runnerFixture) writeRemoteArchive(t *testing.T) {
	t.Helper()
	path := f.files.local(f.job.RemoteArchivePath())
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, f.archived, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func (f *runnerFixture) connector() *fakeConnector {
	return &fakeConnector{conn: &Connection{Shell: f.shell, Files: f.files}}
}

func (f *runnerFixture) run(t *testing.T, connector Connector, opts RunnerOptions) (*Result, error) {
	t.Helper()
	opts.Logger = f.logger
	return NewRunner(connector, f.local, opts).Run(context.Background(), f.job)
}

func assertLogOrder(t *testing.T, logs string, messages ...string) {
	t.Helper()
	offset := 0
	for _, msg := range messages {
		idx := strings.Index(logs[offset:], msg)
		if idx < 0 {
			t.Fatalf("expected %q after offset %d in logs:\n%s", msg, offset, logs)
		}
		offset += idx + len(msg)
	}
}

func assertTransitions(t *testing.T, got []State, want ...State) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, got)
		}
	}
}

func TestRunSuccess(t *testing.T) {
	f := newRunnerFixture(t)

	result, err := f.run(t, f.connector(), RunnerOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	assertTransitions(t, result.Transitions,
		StateValidated, StateConnected, StateArchived, StateRetrieved, StateCleaned, StateClosed)
	if result.State() != StateClosed {
		t.Fatalf("expected closed state, got %s", result.State())
	}

	data, err := os.ReadFile(f.job.LocalArchivePath())
	if err != nil {
		t.Fatalf("expected local archive: %v", err)
	}
	if !bytes.Equal(data, f.archived) {
		t.Fatalf("local archive content mismatch")
	}
	if result.LocalArchivePath != f.job.LocalArchivePath() {
		t.Fatalf("unexpected local path %s", result.LocalArchivePath)
	}
	if result.SizeBytes != int64(len(f.archived)) {
		t.Fatalf("unexpected size %d", result.SizeBytes)
	}

	if _, err := os.Stat(f.files.local(f.job.RemoteArchivePath())); !os.IsNotExist(err) {
		t.Fatalf("expected remote archive to be removed, stat err: %v", err)
	}

	if len(f.shell.commands) != 1 || f.shell.commands[0] != BuildZipCommand("/var/www/html", "2024-01-15.wp-content.zip") {
		t.Fatalf("unexpected commands %v", f.shell.commands)
	}

	events := f.events.list()
	if len(events) != 2 || events[0] != "files closed" || events[1] != "shell closed" {
		t.Fatalf("expected files then shell to close, got %v", events)
	}

	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", result.Warnings)
	}

	assertLogOrder(t, f.logs.String(),
		"SSH connection established",
		"Creating backup on remote server",
		"Backup created successfully on remote server",
		"Backup downloaded successfully",
		"size_mb=0.00",
		"Remote backup file cleaned up",
		"Connections closed",
		"Backup process completed successfully",
	)
}

func TestRunConnectFailure(t *testing.T) {
	f := newRunnerFixture(t)

	result, err := f.run(t, &fakeConnector{err: errors.New("connection refused")}, RunnerOptions{})

	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepConnect {
		t.Fatalf("expected connect step error, got %v", err)
	}
	assertTransitions(t, result.Transitions, StateValidated, StateClosed)
	if len(f.events.list()) != 0 {
		t.Fatalf("expected nothing to close, got %v", f.events.list())
	}

	logs := f.logs.String()
	assertLogOrder(t, logs, "Failed to establish SSH connection", "Connections closed")
	if strings.Contains(logs, "Backup process completed successfully") {
		t.Fatalf("unexpected success message")
	}
}

func TestRunClosesPartialConnection(t *testing.T) {
	f := newRunnerFixture(t)

	connector := &fakeConnector{
		conn: &Connection{Shell: f.shell},
		err:  errors.New("failed to open SFTP channel"),
	}
	_, err := f.run(t, connector, RunnerOptions{})
	if err == nil {
		t.Fatalf("expected error")
	}

	events := f.events.list()
	if len(events) != 1 || events[0] != "shell closed" {
		t.Fatalf("expected shell to be closed, got %v", events)
	}
}

func TestRunArchiveWarningsAreNotFatal(t *testing.T) {
	f := newRunnerFixture(t)
	f.shell.exec = func(command string) (*ssh.ExecResult, error) {
		f.writeRemoteArchive(t)
		return &ssh.ExecResult{Stderr: "zip warning: Permission denied", ExitStatus: 18}, nil
	}

	result, err := f.run(t, f.connector(), RunnerOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "Permission denied") {
		t.Fatalf("expected archive warning, got %v", result.Warnings)
	}

	logs := f.logs.String()
	assertLogOrder(t, logs, "Backup completed with warnings", "Permission denied", "Backup downloaded successfully")
	if strings.Contains(logs, "Backup created successfully on remote server") {
		t.Fatalf("unexpected clean archive message")
	}
}

func TestRunArchiveCommandError(t *testing.T) {
	f := newRunnerFixture(t)
	f.shell.exec = func(command string) (*ssh.ExecResult, error) {
		return nil, errors.New("session closed")
	}

	result, err := f.run(t, f.connector(), RunnerOptions{})

	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepArchive {
		t.Fatalf("expected archive step error, got %v", err)
	}
	assertTransitions(t, result.Transitions, StateValidated, StateConnected, StateClosed)
	assertLogOrder(t, f.logs.String(), "Creating backup on remote server", "Connections closed")
}

func TestRunMissingArchiveFailsDownload(t *testing.T) {
	f := newRunnerFixture(t)
	f.shell.exec = func(command string) (*ssh.ExecResult, error) {
		return &ssh.ExecResult{Stdout: "Some files may have been skipped due to permissions"}, nil
	}

	result, err := f.run(t, f.connector(), RunnerOptions{})

	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepDownload {
		t.Fatalf("expected download step error, got %v", err)
	}
	assertTransitions(t, result.Transitions, StateValidated, StateConnected, StateArchived, StateClosed)
	if f.local.Exists(f.job.ArchiveFilename()) {
		t.Fatalf("expected no local archive")
	}

	events := f.events.list()
	if len(events) != 2 {
		t.Fatalf("expected both handles closed, got %v", events)
	}
}

func TestRunCleanupFailureIsWarning(t *testing.T) {
	f := newRunnerFixture(t)
	f.files.removeErr = errors.New("permission denied")

	result, err := f.run(t, f.connector(), RunnerOptions{})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	assertTransitions(t, result.Transitions,
		StateValidated, StateConnected, StateArchived, StateRetrieved, StateCleaned, StateClosed)
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "permission denied") {
		t.Fatalf("expected cleanup warning, got %v", result.Warnings)
	}
	assertLogOrder(t, f.logs.String(),
		"Failed to clean up remote backup",
		"Connections closed",
		"Backup process completed successfully",
	)
}

func TestRunTransferTimeout(t *testing.T) {
	f := newRunnerFixture(t)
	f.files.open = func(path string) (io.ReadCloser, error) {
		// never delivers data; Close unblocks the read
		reader, _ := io.Pipe()
		return reader, nil
	}

	_, err := f.run(t, f.connector(), RunnerOptions{TransferTimeout: 50 * time.Millisecond})

	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StepDownload {
		t.Fatalf("expected download step error, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if f.local.Exists(f.job.ArchiveFilename()) {
		t.Fatalf("expected partial archive to be removed")
	}
}

func TestRunCommandTimeoutIsPassedToShell(t *testing.T) {
	f := newRunnerFixture(t)

	var deadline time.Time
	var hasDeadline bool
	shell := &deadlineShell{fakeShell: f.shell, seen: func(ctx context.Context) {
		deadline, hasDeadline = ctx.Deadline()
	}}

	connector := &fakeConnector{conn: &Connection{Shell: shell, Files: f.files}}
	if _, err := f.run(t, connector, RunnerOptions{CommandTimeout: time.Hour}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !hasDeadline || time.Until(deadline) <= 0 {
		t.Fatalf("expected command deadline, got %v (%v)", deadline, hasDeadline)
	}
}

type deadlineShell struct {
	*fakeShell
	seen func(ctx context.Context)
}

func (s *deadlineShell) Exec(ctx context.Context, command string) (*ssh.ExecResult, error) {
	s.seen(ctx)
	return s.fakeShell.Exec(ctx, command)
}

func TestRunRecordsHistory(t *testing.T) {
	f := newRunnerFixture(t)
	recorder := &fakeRecorder{}

	if _, err := f.run(t, f.connector(), RunnerOptions{History: recorder}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	f2 := newRunnerFixture(t)
	if _, err := f2.run(t, &fakeConnector{err: errors.New("refused")}, RunnerOptions{History: recorder}); err == nil {
		t.Fatalf("expected error")
	}

	if len(recorder.runs) != 2 {
		t.Fatalf("expected 2 recorded runs, got %d", len(recorder.runs))
	}

	ok := recorder.runs[0]
	if ok.Status != models.RunStatusCompleted || ok.FinalState != "cleaned" || ok.SizeBytes == 0 {
		t.Fatalf("unexpected completed run: %+v", ok)
	}
	if !strings.HasPrefix(ok.ID, "run-") || ok.FinishedAt == nil {
		t.Fatalf("unexpected run identity: %+v", ok)
	}

	failed := recorder.runs[1]
	if failed.Status != models.RunStatusFailed || failed.FinalState != "validated" {
		t.Fatalf("unexpected failed run: %+v", failed)
	}
	if !strings.Contains(failed.ErrorMessage, "connect step failed") {
		t.Fatalf("unexpected error message %q", failed.ErrorMessage)
	}
	if ok.ID == failed.ID {
		t.Fatalf("expected unique run ids")
	}
}

func TestRunMirrorAndRetention(t *testing.T) {
	f := newRunnerFixture(t)
	mirrorDir := filepath.Join(t.TempDir(), "mirror")
	mirror := NewLocalDestination(mirrorDir)

	writeArchives(t, f.local, "2024-01-13.wp-content.zip", "2024-01-14.wp-content.zip")
	writeArchives(t, mirror, "2024-01-12.wp-content.zip", "2024-01-13.wp-content.zip", "2024-01-14.wp-content.zip")

	result, err := f.run(t, f.connector(), RunnerOptions{
		Mirror:        &DestinationConfig{Type: "local", Path: mirrorDir},
		RetentionKeep: 2,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", result.Warnings)
	}

	for _, dest := range []*LocalDestination{f.local, mirror} {
		files, err := dest.List()
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(files) != 2 {
			t.Fatalf("expected 2 archives in %s, got %v", dest.Path(""), files)
		}
		if !dest.Exists("2024-01-15.wp-content.zip") || !dest.Exists("2024-01-14.wp-content.zip") {
			t.Fatalf("expected newest archives kept in %s", dest.Path(""))
		}
	}
}

func TestRunMirrorFailureIsWarning(t *testing.T) {
	f := newRunnerFixture(t)

	result, err := f.run(t, f.connector(), RunnerOptions{
		Mirror: &DestinationConfig{Type: "ftp"},
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "Failed to mirror backup") {
		t.Fatalf("expected mirror warning, got %v", result.Warnings)
	}
	if !f.local.Exists(f.job.ArchiveFilename()) {
		t.Fatalf("expected local archive to survive a mirror failure")
	}
}
