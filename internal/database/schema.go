package database

// schemaVersion is stored in PRAGMA user_version once schema is applied
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS backup_runs (
    id TEXT PRIMARY KEY,
    host TEXT NOT NULL,
    user TEXT NOT NULL,
    remote_path TEXT NOT NULL,
    filename TEXT NOT NULL,
    local_path TEXT,
    size_bytes INTEGER NOT NULL DEFAULT 0,
    final_state TEXT NOT NULL,
    status TEXT NOT NULL,
    error_message TEXT,
    warnings TEXT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_backup_runs_host ON backup_runs(host);
CREATE INDEX IF NOT EXISTS idx_backup_runs_started ON backup_runs(started_at);
`
