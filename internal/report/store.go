// Package report provides the archive for completed interview reports.
// Reports are written once at session completion and never updated; archive
// failures are logged by the caller, never surfaced to the candidate.
package report

import (
	"context"
	"time"
)

// QA is one question/answer exchange included in a report.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Report is the archived record of one completed interview.
type Report struct {
	SessionID       string            `json:"session_id"`
	Position        string            `json:"position"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     time.Time         `json:"completed_at"`
	DurationMinutes float64           `json:"duration_minutes"`
	TurnCount       int               `json:"turn_count"`
	CandidateInfo   map[string]string `json:"candidate_info"`
	QAPairs         []QA              `json:"qa_pairs"`
	Feedback        string            `json:"feedback"`
}

// Store persists completed interview reports.
type Store interface {
	Save(ctx context.Context, r Report) error
}

// Multi fans a report out to several stores. Save returns the first error
// encountered but still attempts every store.
type Multi []Store

// Compile-time interface check.
var _ Store = (Multi)(nil)

// Save implements [Store].
func (m Multi) Save(ctx context.Context, r Report) error {
	var firstErr error
	for _, s := range m {
		if err := s.Save(ctx, r); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
