package backup

import (
	"errors"
	"io"
	"strings"
	"testing"
)

func writeArchives(t *testing.T, ld *LocalDestination, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := ld.Upload(name, strings.NewReader("x"), 1); err != nil {
			t.Fatalf("upload %s failed: %v", name, err)
		}
	}
}

func TestEnforceRetentionKeepsNewest(t *testing.T) {
	ld := NewLocalDestination(t.TempDir())
	writeArchives(t, ld,
		"2024-01-13.wp-content.zip",
		"2024-01-14.wp-content.zip",
		"2024-01-15.wp-content.zip",
		"notes.txt",
	)

	deleted, err := EnforceRetention(ld, 2)
	if err != nil {
		t.Fatalf("retention failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}
	if ld.Exists("2024-01-13.wp-content.zip") {
		t.Fatalf("expected oldest archive to be removed")
	}
	for _, name := range []string{"2024-01-14.wp-content.zip", "2024-01-15.wp-content.zip", "notes.txt"} {
		if !ld.Exists(name) {
			t.Fatalf("expected %s to be kept", name)
		}
	}
}

func TestEnforceRetentionDisabled(t *testing.T) {
	ld := NewLocalDestination(t.TempDir())
	writeArchives(t, ld, "2024-01-14.wp-content.zip", "2024-01-15.wp-content.zip")

	deleted, err := EnforceRetention(ld, 0)
	if err != nil || deleted != 0 {
		t.Fatalf("expected no-op, got %d, %v", deleted, err)
	}
}

type failingDeleteDestination struct {
	files []BackupFile
}

func (d *failingDeleteDestination) Upload(string, io.Reader, int64) error { return nil }
func (d *failingDeleteDestination) Download(string, io.Writer) error      { return nil }
func (d *failingDeleteDestination) Delete(string) error                   { return errors.New("read-only") }
func (d *failingDeleteDestination) List() ([]BackupFile, error)           { return d.files, nil }
func (d *failingDeleteDestination) GetType() string                       { return "fake" }

func TestEnforceRetentionReportsDeleteError(t *testing.T) {
	dest := &failingDeleteDestination{files: []BackupFile{
		{Filename: "2024-01-13.wp-content.zip"},
		{Filename: "2024-01-14.wp-content.zip"},
	}}

	deleted, err := EnforceRetention(dest, 1)
	if err == nil {
		t.Fatalf("expected delete error")
	}
	if deleted != 0 {
		t.Fatalf("expected 0 deletions, got %d", deleted)
	}
}
