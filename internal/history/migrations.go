package history

import (
	"context"
	"database/sql"
)

// schema contains the DDL for the run archive.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id          TEXT PRIMARY KEY,
		handle      TEXT NOT NULL,
		submitter   TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL,
		data_path   TEXT NOT NULL DEFAULT '',
		error       TEXT NOT NULL DEFAULT '',
		measurement TEXT NOT NULL DEFAULT '{}',
		started_at  TEXT,
		ended_at    TEXT,
		recorded_at TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_runs_submitter ON runs(submitter)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_recorded_at ON runs(recorded_at)`,
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
