package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/pipewatch/core"
)

var _ core.HistoryStore = (*SQLiteStore)(nil)

// SQLiteStore persists run history as JSON snapshots in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Each connection to an in-memory database is a separate database.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			progress REAL NOT NULL DEFAULT 0,
			nodes INTEGER NOT NULL DEFAULT 0,
			artifacts INTEGER NOT NULL DEFAULT 0,
			cancelled INTEGER NOT NULL DEFAULT 0,
			terminal_error TEXT,
			snapshot TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_updated ON runs(updated_at)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Save inserts or replaces the snapshot of state.
func (s *SQLiteStore) Save(ctx context.Context, state core.RunState) error {
	snapshot, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode run %s: %w", state.RunID, err)
	}
	sum := state.Summarize()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, updated_at, progress, nodes, artifacts, cancelled, terminal_error, snapshot)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			updated_at = excluded.updated_at,
			progress = excluded.progress,
			nodes = excluded.nodes,
			artifacts = excluded.artifacts,
			cancelled = excluded.cancelled,
			terminal_error = excluded.terminal_error,
			snapshot = excluded.snapshot`,
		sum.RunID, sum.StartedAt, sum.UpdatedAt, sum.ProgressPercent, sum.Nodes, sum.Artifacts,
		sum.Cancelled, nullString(sum.TerminalError), string(snapshot),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", state.RunID, err)
	}
	return nil
}

// Get loads the snapshot of runID or returns ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, runID string) (core.RunState, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM runs WHERE run_id = ?`, runID).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RunState{}, ErrNotFound
	}
	if err != nil {
		return core.RunState{}, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	var state core.RunState
	if err := json.Unmarshal([]byte(snapshot), &state); err != nil {
		return core.RunState{}, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return state.Clone(), nil
}

// List returns summaries, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]core.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at, updated_at, progress, nodes, artifacts, cancelled, terminal_error
		FROM runs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	out := []core.RunSummary{}
	for rows.Next() {
		var sum core.RunSummary
		var terminal sql.NullString
		if err := rows.Scan(&sum.RunID, &sum.StartedAt, &sum.UpdatedAt, &sum.ProgressPercent,
			&sum.Nodes, &sum.Artifacts, &sum.Cancelled, &terminal); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		sum.TerminalError = terminal.String
		out = append(out, sum)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
