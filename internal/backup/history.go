package backup

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/yourusername/wordpress-backup/internal/database"
	"github.com/yourusername/wordpress-backup/internal/models"
)

// Recorder persists finished runs
type Recorder interface {
	Record(ctx context.Context, run *models.BackupRun) error
}

// HistoryStore keeps run history in SQLite
type HistoryStore struct {
	db *database.DB
}

// OpenHistory opens the history database at path, creating its schema if needed
func OpenHistory(path string) (*HistoryStore, error) {
	db, err := database.NewDB(path)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare history database: %w", err)
	}
	return &HistoryStore{db: db}, nil
}

// Close closes the database
func (h *HistoryStore) Close() error {
	return h.db.Close()
}

// Record saves or replaces a run
func (h *HistoryStore) Record(ctx context.Context, run *models.BackupRun) error {
	warnings, err := json.Marshal(run.Warnings)
	if err != nil {
		return fmt.Errorf("failed to marshal warnings: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO backup_runs
		(id, host, user, remote_path, filename, local_path, size_bytes,
		 final_state, status, error_message, warnings, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = h.db.ExecContext(ctx, query,
		run.ID,
		run.Host,
		run.User,
		run.RemotePath,
		run.Filename,
		run.LocalPath,
		run.SizeBytes,
		run.FinalState,
		run.Status,
		run.ErrorMessage,
		string(warnings),
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save backup run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for host, newest first
func (h *HistoryStore) ListRuns(ctx context.Context, host string, limit int) ([]*models.BackupRun, error) {
	query := `
		SELECT id, host, user, remote_path, filename, local_path, size_bytes,
		       final_state, status, error_message, warnings, started_at, finished_at
		FROM backup_runs
		WHERE host = ?
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := h.db.QueryContext(ctx, query, host, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query backup runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.BackupRun
	for rows.Next() {
		run := &models.BackupRun{}
		var localPath, errorMsg, warnings sql.NullString
		var finishedAt sql.NullTime

		if err := rows.Scan(
			&run.ID,
			&run.Host,
			&run.User,
			&run.RemotePath,
			&run.Filename,
			&localPath,
			&run.SizeBytes,
			&run.FinalState,
			&run.Status,
			&errorMsg,
			&warnings,
			&run.StartedAt,
			&finishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan backup run: %w", err)
		}

		run.LocalPath = localPath.String
		run.ErrorMessage = errorMsg.String
		if warnings.Valid && warnings.String != "" && warnings.String != "null" {
			if err := json.Unmarshal([]byte(warnings.String), &run.Warnings); err != nil {
				return nil, fmt.Errorf("failed to parse warnings: %w", err)
			}
		}
		if finishedAt.Valid {
			t := finishedAt.Time
			run.FinishedAt = &t
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}
