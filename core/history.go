package core

import (
	"context"
	"time"
)

// RunSummary is the listing view of a stored run.
type RunSummary struct {
	RunID           string    `json:"run_id"`
	StartedAt       time.Time `json:"started_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	ProgressPercent float64   `json:"progress_percent"`
	Nodes           int       `json:"nodes"`
	Artifacts       int       `json:"artifacts"`
	Cancelled       bool      `json:"cancelled,omitempty"`
	TerminalError   string    `json:"terminal_error,omitempty"`
}

// Summarize returns the listing view of s.
func (s RunState) Summarize() RunSummary {
	return RunSummary{
		RunID:           s.RunID,
		StartedAt:       s.StartedAt,
		UpdatedAt:       s.UpdatedAt,
		ProgressPercent: s.ProgressPercent,
		Nodes:           len(s.Nodes),
		Artifacts:       len(s.Artifacts),
		Cancelled:       s.Cancelled,
		TerminalError:   s.TerminalError,
	}
}

// HistoryStore keeps the final, immutable RunState of runs that ended or
// were replaced by a newer run.
type HistoryStore interface {
	Save(ctx context.Context, state RunState) error
	Get(ctx context.Context, runID string) (RunState, error)
	// List returns summaries, most recently updated first.
	List(ctx context.Context) ([]RunSummary, error)
}
