package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/me/mem/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "history"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates the runs table and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// RecordOutcome archives one terminal outcome. Implements listener.Sink.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, outcome *model.Outcome) error {
	id := "hist_" + uuid.New().String()[:8]
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", id, "handle", outcome.Handle)

	measurementJSON := []byte("{}")
	var startedAt, endedAt *time.Time
	if outcome.Measurement != nil {
		var err error
		measurementJSON, err = json.Marshal(outcome.Measurement)
		if err != nil {
			return fmt.Errorf("marshal measurement: %w", err)
		}
		startedAt = outcome.Measurement.StartTime
		endedAt = outcome.Measurement.EndTime
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, handle, submitter, status, data_path, error,
			measurement, started_at, ended_at, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		outcome.Handle,
		outcome.Submitter(),
		string(outcome.Status),
		outcome.DataPath(),
		outcome.Error,
		string(measurementJSON),
		formatTimePtr(startedAt),
		formatTimePtr(endedAt),
		outcome.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// ListRuns returns archived runs newest-first with the total count for
// pagination.
func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*Run, int, error) {
	opts.Clamp()
	s.logger.Debug("sql", "op", "select", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)

	where := ""
	args := []any{}
	if opts.Submitter != "" {
		where = "WHERE submitter = ?"
		args = append(args, opts.Submitter)
	}

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM runs "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, handle, submitter, status, data_path, error, measurement,
			started_at, ended_at, recorded_at
		FROM runs %s
		ORDER BY recorded_at DESC
		LIMIT ? OFFSET ?`, where)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// GetRun returns one archived run, or nil when not found.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, handle, submitter, status, data_path, error, measurement,
			started_at, ended_at, recorded_at
		FROM runs WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRun(rows)
}

func scanRun(rows *sql.Rows) (*Run, error) {
	var (
		run                            Run
		status                         string
		measurementJSON                string
		startedAt, endedAt, recordedAt sql.NullString
	)
	if err := rows.Scan(&run.ID, &run.Handle, &run.Submitter, &status,
		&run.DataPath, &run.Error, &measurementJSON,
		&startedAt, &endedAt, &recordedAt); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.Status = model.RunStatus(status)

	if measurementJSON != "" && measurementJSON != "{}" {
		var m model.Measurement
		if err := json.Unmarshal([]byte(measurementJSON), &m); err != nil {
			return nil, fmt.Errorf("unmarshal measurement: %w", err)
		}
		run.Measurement = &m
	}

	var err error
	if run.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if run.EndedAt, err = parseTimePtr(endedAt); err != nil {
		return nil, err
	}
	if recordedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, recordedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		run.RecordedAt = t
	}
	return &run, nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", s.String, err)
	}
	return &t, nil
}
