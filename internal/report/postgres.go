package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the interview_reports table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS interview_reports (
    session_id       TEXT PRIMARY KEY,
    position         TEXT NOT NULL DEFAULT '',
    started_at       TIMESTAMPTZ NOT NULL,
    completed_at     TIMESTAMPTZ NOT NULL,
    duration_minutes DOUBLE PRECISION NOT NULL DEFAULT 0,
    turn_count       INTEGER NOT NULL DEFAULT 0,
    candidate_info   JSONB NOT NULL DEFAULT '{}',
    qa_pairs         JSONB NOT NULL DEFAULT '[]',
    feedback         TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_interview_reports_completed ON interview_reports(completed_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
// Candidate info and Q/A pairs are serialised as JSONB.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database, creating the
// interview_reports table and index if they do not already exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("report: migrate: %w", err)
	}
	return nil
}

// Save inserts a report. Saving the same session id twice replaces the
// earlier row, which only happens if the archive is replayed.
func (s *PostgresStore) Save(ctx context.Context, r Report) error {
	infoJSON, err := json.Marshal(emptyMap(r.CandidateInfo))
	if err != nil {
		return fmt.Errorf("report: marshal candidate_info: %w", err)
	}
	qaJSON, err := json.Marshal(emptySlice(r.QAPairs))
	if err != nil {
		return fmt.Errorf("report: marshal qa_pairs: %w", err)
	}

	const query = `
		INSERT INTO interview_reports (
			session_id, position, started_at, completed_at,
			duration_minutes, turn_count, candidate_info, qa_pairs, feedback
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (session_id) DO UPDATE SET
			position = EXCLUDED.position,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			duration_minutes = EXCLUDED.duration_minutes,
			turn_count = EXCLUDED.turn_count,
			candidate_info = EXCLUDED.candidate_info,
			qa_pairs = EXCLUDED.qa_pairs,
			feedback = EXCLUDED.feedback`

	_, err = s.db.Exec(ctx, query,
		r.SessionID, r.Position, r.StartedAt, r.CompletedAt,
		r.DurationMinutes, r.TurnCount, infoJSON, qaJSON, r.Feedback,
	)
	if err != nil {
		return fmt.Errorf("report: save %q: %w", r.SessionID, err)
	}
	return nil
}

// Recent returns the most recently completed reports, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Report, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT session_id, position, started_at, completed_at,
		       duration_minutes, turn_count, candidate_info, qa_pairs, feedback
		FROM interview_reports
		ORDER BY completed_at DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("report: recent: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		var r Report
		var infoJSON, qaJSON []byte
		if err := rows.Scan(
			&r.SessionID, &r.Position, &r.StartedAt, &r.CompletedAt,
			&r.DurationMinutes, &r.TurnCount, &infoJSON, &qaJSON, &r.Feedback,
		); err != nil {
			return nil, fmt.Errorf("report: recent scan: %w", err)
		}
		if err := json.Unmarshal(infoJSON, &r.CandidateInfo); err != nil {
			return nil, fmt.Errorf("report: unmarshal candidate_info: %w", err)
		}
		if err := json.Unmarshal(qaJSON, &r.QAPairs); err != nil {
			return nil, fmt.Errorf("report: unmarshal qa_pairs: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: recent: %w", err)
	}
	return reports, nil
}

// emptySlice ensures JSON marshalling produces "[]" instead of "null".
func emptySlice(s []QA) []QA {
	if s == nil {
		return []QA{}
	}
	return s
}

// emptyMap ensures JSON marshalling produces "{}" instead of "null".
func emptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
