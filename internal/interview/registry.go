package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/internal/observe"
	"github.com/parleyhq/parley/internal/report"
)

// DefaultStopPhrases end the interview when found case-insensitively in a
// candidate response.
var DefaultStopPhrases = []string{"stop", "no more", "thank you that's it"}

// Defaults applied when [RegistryConfig] leaves the interview settings empty.
const (
	DefaultPosition   = "Software Engineer"
	DefaultDifficulty = "intermediate"
)

// endClosingMessage is returned by the forced-termination path. It is
// intentionally simpler than the generated farewell used when the candidate
// ends the interview with a stop phrase.
const endClosingMessage = "Thank you for your participation in this interview. The session has been concluded."

// RegistryConfig configures a [Registry].
type RegistryConfig struct {
	// Generator produces interviewer turns and feedback. Must not be nil.
	Generator TurnGenerator

	// Extractor infers candidate info from responses.
	// Defaults to [NewKeywordExtractor].
	Extractor Extractor

	// Position is the role interviews are conducted for.
	// Defaults to [DefaultPosition].
	Position string

	// Difficulty adjusts question difficulty in the system prompt.
	// Defaults to [DefaultDifficulty].
	Difficulty string

	// StopPhrases override [DefaultStopPhrases] when non-empty.
	StopPhrases []string

	// Store archives completed interviews. May be nil; archive failures are
	// logged and never surfaced to the candidate.
	Store report.Store

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics records session lifecycle counters.
	// Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Now overrides the wall clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// Registry owns all interview sessions and enforces the session lifecycle:
// start, respond, end. Sessions live in memory for the process lifetime and
// are never evicted.
//
// Each session is mutated under its own lock, so two concurrent calls for
// the same session serialise while different sessions proceed independently.
type Registry struct {
	gen         TurnGenerator
	extractor   Extractor
	position    string
	difficulty  string
	stopPhrases []string
	store       report.Store
	log         *slog.Logger
	metrics     *observe.Metrics
	now         func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a Registry. cfg.Generator must be non-nil.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Generator == nil {
		return nil, errors.New("interview: generator must not be nil")
	}
	r := &Registry{
		gen:         cfg.Generator,
		extractor:   cfg.Extractor,
		position:    cfg.Position,
		difficulty:  cfg.Difficulty,
		stopPhrases: cfg.StopPhrases,
		store:       cfg.Store,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
		sessions:    make(map[string]*Session),
	}
	if r.extractor == nil {
		r.extractor = NewKeywordExtractor()
	}
	if r.position == "" {
		r.position = DefaultPosition
	}
	if r.difficulty == "" {
		r.difficulty = DefaultDifficulty
	}
	if len(r.stopPhrases) == 0 {
		r.stopPhrases = DefaultStopPhrases
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r, nil
}

// StartResult is returned by [Registry.Start].
type StartResult struct {
	SessionID string
	Message   string
	TurnCount int
}

// RespondResult is returned by [Registry.Respond]. Feedback and
// DurationMinutes are only set when Completed is true.
type RespondResult struct {
	Message         string
	TurnCount       int
	Completed       bool
	CandidateInfo   map[string]string
	Feedback        string
	DurationMinutes float64
}

// EndResult is returned by [Registry.End].
type EndResult struct {
	Message         string
	Feedback        string
	TurnCount       int
	CandidateInfo   map[string]string
	DurationMinutes float64
}

// Status is the read-only session snapshot returned by [Registry.Status].
type Status struct {
	TurnCount       int
	Completed       bool
	StartedAt       time.Time
	DurationMinutes float64
	CandidateInfo   map[string]string
}

// Start allocates a new session, seeds it with the system turn, and asks the
// generator for the opening question. It never fails: generator errors are
// absorbed into fallback text at the collaborator boundary.
func (r *Registry) Start(ctx context.Context) *StartResult {
	position, difficulty, _ := r.settings()
	now := r.now()
	s := &Session{
		ID:            uuid.NewString(),
		StartedAt:     now,
		candidateInfo: make(map[string]string),
	}
	s.appendTurn(RoleSystem, systemPrompt(position, difficulty), now)

	opening := r.gen.NextTurn(ctx, s.transcript)
	s.appendTurn(RoleAssistant, opening, r.now())
	s.turnCount++

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.log.Info("interview started", "session_id", s.ID, "position", position)
	r.metrics.RecordSessionStarted(ctx)

	return &StartResult{
		SessionID: s.ID,
		Message:   opening,
		TurnCount: s.turnCount,
	}
}

// Respond records a candidate response. If the text contains a stop phrase
// the session completes: feedback is assembled, a farewell is generated, and
// the report is archived. Otherwise candidate info is extracted, the answer
// is paired with the preceding question, and the next question is generated.
func (r *Registry) Respond(ctx context.Context, sessionID, candidateText string) (*RespondResult, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCompleted, sessionID)
	}

	text := strings.TrimSpace(candidateText)
	if text == "" {
		return nil, ErrEmptyResponse
	}

	if r.isStopPhrase(text) {
		return r.completeLocked(ctx, s, text), nil
	}

	// Best-effort candidate info extraction; later answers overwrite
	// earlier values under the same key.
	for k, v := range r.extractor.Extract(text) {
		s.candidateInfo[k] = v
	}

	// Pair the answer with the question it follows.
	if n := len(s.transcript); n > 0 && s.transcript[n-1].Role == RoleAssistant {
		s.qaPairs = append(s.qaPairs, QAPair{
			Question:  s.transcript[n-1].Content,
			Answer:    text,
			Timestamp: r.now(),
		})
	}

	s.appendTurn(RoleUser, text, r.now())

	next := r.gen.NextTurn(ctx, s.transcript)
	s.appendTurn(RoleAssistant, next, r.now())
	s.turnCount++

	return &RespondResult{
		Message:       next,
		TurnCount:     s.turnCount,
		CandidateInfo: s.infoCopy(),
	}, nil
}

// completeLocked runs the stop-phrase termination path. Caller must hold s.mu.
func (r *Registry) completeLocked(ctx context.Context, s *Session, text string) *RespondResult {
	s.completed = true

	// The stop utterance answers the question asked two turns back, if any.
	if n := len(s.transcript); n >= 2 {
		question := "Introduction question"
		if s.transcript[n-2].Role == RoleAssistant {
			question = s.transcript[n-2].Content
		}
		s.qaPairs = append(s.qaPairs, QAPair{Question: question, Answer: text, Timestamp: r.now()})
	}

	feedback := r.gen.Feedback(ctx, s.infoCopy(), s.qaPairs)
	farewell := r.gen.Closing(ctx, s.transcriptCopy())
	s.appendTurn(RoleAssistant, farewell, r.now())

	now := r.now()
	duration := roundMinutes(now.Sub(s.StartedAt))

	r.log.Info("interview completed",
		"session_id", s.ID,
		"turns", s.turnCount,
		"duration_minutes", duration,
	)
	r.metrics.RecordSessionCompleted(ctx, "stop_phrase")
	r.archive(s, feedback, now, duration)

	return &RespondResult{
		Message:         farewell,
		TurnCount:       s.turnCount,
		Completed:       true,
		CandidateInfo:   s.infoCopy(),
		Feedback:        feedback,
		DurationMinutes: duration,
	}
}

// End force-terminates a session without a stop phrase. The closing message
// is a fixed sentence rather than a generated farewell.
func (r *Registry) End(ctx context.Context, sessionID string) (*EndResult, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyCompleted, sessionID)
	}
	s.completed = true

	feedback := r.gen.Feedback(ctx, s.infoCopy(), s.qaPairs)

	now := r.now()
	duration := roundMinutes(now.Sub(s.StartedAt))

	r.log.Info("interview ended",
		"session_id", s.ID,
		"turns", s.turnCount,
		"duration_minutes", duration,
	)
	r.metrics.RecordSessionCompleted(ctx, "explicit_end")
	r.archive(s, feedback, now, duration)

	return &EndResult{
		Message:         endClosingMessage,
		Feedback:        feedback,
		TurnCount:       s.turnCount,
		CandidateInfo:   s.infoCopy(),
		DurationMinutes: duration,
	}, nil
}

// Status returns a read-only snapshot of the session. No state is mutated.
func (r *Registry) Status(sessionID string) (*Status, error) {
	s, err := r.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return &Status{
		TurnCount:       s.turnCount,
		Completed:       s.completed,
		StartedAt:       s.StartedAt,
		DurationMinutes: roundMinutes(r.now().Sub(s.StartedAt)),
		CandidateInfo:   s.infoCopy(),
	}, nil
}

// Counts returns the number of live and completed sessions, for telemetry.
func (r *Registry) Counts() (active, completed int) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		s.mu.Lock()
		done := s.completed
		s.mu.Unlock()
		if done {
			completed++
		} else {
			active++
		}
	}
	return active, completed
}

// lookup resolves a session id or returns [ErrInvalidSession].
func (r *Registry) lookup(sessionID string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSession, sessionID)
	}
	return s, nil
}

// isStopPhrase reports whether the candidate text contains any configured
// stop phrase, case-insensitively.
func (r *Registry) isStopPhrase(text string) bool {
	_, _, phrases := r.settings()
	lower := strings.ToLower(text)
	for _, phrase := range phrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}

// settings returns a consistent snapshot of the mutable interview settings.
func (r *Registry) settings() (position, difficulty string, stopPhrases []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.position, r.difficulty, r.stopPhrases
}

// UpdateSettings replaces the interview position, difficulty, and stop
// phrases, typically on a config reload. Empty arguments keep the current
// value. Sessions already started keep the system prompt they were seeded
// with; only new sessions pick up the change.
func (r *Registry) UpdateSettings(position, difficulty string, stopPhrases []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if position != "" {
		r.position = position
	}
	if difficulty != "" {
		r.difficulty = difficulty
	}
	if len(stopPhrases) > 0 {
		r.stopPhrases = slices.Clone(stopPhrases)
	}
	r.log.Info("interview settings updated",
		"position", r.position, "difficulty", r.difficulty, "stop_phrases", len(r.stopPhrases))
}

// archive writes the completed-interview report in the background. Failures
// are logged, never surfaced to the candidate. Caller must hold s.mu.
func (r *Registry) archive(s *Session, feedback string, completedAt time.Time, duration float64) {
	if r.store == nil {
		return
	}

	position, _, _ := r.settings()
	qa := make([]report.QA, len(s.qaPairs))
	for i, pair := range s.qaPairs {
		qa[i] = report.QA{Question: pair.Question, Answer: pair.Answer}
	}
	rep := report.Report{
		SessionID:       s.ID,
		Position:        position,
		StartedAt:       s.StartedAt,
		CompletedAt:     completedAt,
		DurationMinutes: duration,
		TurnCount:       s.turnCount,
		CandidateInfo:   s.infoCopy(),
		QAPairs:         qa,
		Feedback:        feedback,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.store.Save(ctx, rep); err != nil {
			r.log.Error("report archive failed", "session_id", rep.SessionID, "err", err)
		}
	}()
}

// roundMinutes converts an elapsed duration to minutes rounded to two
// decimal places.
func roundMinutes(d time.Duration) float64 {
	return math.Round(d.Minutes()*100) / 100
}
