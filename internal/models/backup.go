package models

import "time"

// Run statuses
const (
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// BackupRun is one invocation of the backup job as kept in run history
type BackupRun struct {
	ID           string     `json:"id"`
	Host         string     `json:"host"`
	User         string     `json:"user"`
	RemotePath   string     `json:"remote_path"`
	Filename     string     `json:"filename"`
	LocalPath    string     `json:"local_path,omitempty"`
	SizeBytes    int64      `json:"size_bytes"`
	FinalState   string     `json:"final_state"`
	Status       string     `json:"status"` // "completed", "failed"
	ErrorMessage string     `json:"error_message,omitempty"`
	Warnings     []string   `json:"warnings,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
