package interview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parleyhq/parley/internal/report"
)

// stubGenerator is a scripted TurnGenerator that records its inputs.
type stubGenerator struct {
	mu sync.Mutex

	turns    []string
	turnIdx  int
	closing  string
	feedback string

	nextCalls     int
	closingCalls  int
	feedbackCalls int
	feedbackInfo  map[string]string
	feedbackQA    []QAPair
}

func (g *stubGenerator) NextTurn(_ context.Context, _ []Turn) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextCalls++
	if len(g.turns) == 0 {
		return "Next question?"
	}
	msg := g.turns[g.turnIdx%len(g.turns)]
	g.turnIdx++
	return msg
}

func (g *stubGenerator) Closing(_ context.Context, _ []Turn) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closingCalls++
	if g.closing == "" {
		return "Goodbye!"
	}
	return g.closing
}

func (g *stubGenerator) Feedback(_ context.Context, info map[string]string, qa []QAPair) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.feedbackCalls++
	g.feedbackInfo = info
	g.feedbackQA = qa
	if g.feedback == "" {
		return "Solid performance."
	}
	return g.feedback
}

// recordingStore captures archived reports and signals each save.
type recordingStore struct {
	mu      sync.Mutex
	reports []report.Report
	saved   chan struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{saved: make(chan struct{}, 8)}
}

func (s *recordingStore) Save(_ context.Context, r report.Report) error {
	s.mu.Lock()
	s.reports = append(s.reports, r)
	s.mu.Unlock()
	s.saved <- struct{}{}
	return nil
}

func (s *recordingStore) waitForSave(t *testing.T) report.Report {
	t.Helper()
	select {
	case <-s.saved:
	case <-time.After(2 * time.Second):
		t.Fatal("report was not archived within timeout")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reports[len(s.reports)-1]
}

func newTestRegistry(t *testing.T, cfg RegistryConfig) *Registry {
	t.Helper()
	if cfg.Generator == nil {
		cfg.Generator = &stubGenerator{}
	}
	r, err := NewRegistry(cfg)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r
}

func TestNewRegistry_RequiresGenerator(t *testing.T) {
	t.Parallel()
	if _, err := NewRegistry(RegistryConfig{}); err == nil {
		t.Fatal("NewRegistry without generator should fail")
	}
}

func TestStart(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{turns: []string{"Please introduce yourself."}}
	r := newTestRegistry(t, RegistryConfig{Generator: gen, Position: "Backend Engineer"})

	res := r.Start(context.Background())
	if res.SessionID == "" {
		t.Fatal("Start() returned empty session id")
	}
	if res.Message != "Please introduce yourself." {
		t.Errorf("Start() message = %q", res.Message)
	}
	if res.TurnCount != 1 {
		t.Errorf("Start() turn count = %d, want 1", res.TurnCount)
	}

	st, err := r.Status(res.SessionID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.Completed {
		t.Error("new session should not be completed")
	}
	if st.TurnCount != 1 {
		t.Errorf("Status() turn count = %d, want 1", st.TurnCount)
	}
}

func TestStart_UniqueIDs(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		res := r.Start(context.Background())
		if seen[res.SessionID] {
			t.Fatalf("duplicate session id %q", res.SessionID)
		}
		seen[res.SessionID] = true
	}
}

func TestRespond_TurnCountIncreases(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	res := r.Start(context.Background())

	answers := []string{
		"I work on distributed systems",
		"I would shard by tenant id",
		"Consistent hashing avoids full reshuffles",
	}
	for i, answer := range answers {
		rr, err := r.Respond(context.Background(), res.SessionID, answer)
		if err != nil {
			t.Fatalf("Respond(%d) error = %v", i, err)
		}
		if rr.Completed {
			t.Fatalf("Respond(%d) completed without stop phrase", i)
		}
		if rr.TurnCount != i+2 {
			t.Errorf("Respond(%d) turn count = %d, want %d", i, rr.TurnCount, i+2)
		}
	}
}

func TestRespond_ExtractsCandidateInfo(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	res := r.Start(context.Background())

	rr, err := r.Respond(context.Background(), res.SessionID, "I have 3 years of experience in backend development")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if rr.CandidateInfo[InfoIntroduction] == "" {
		t.Errorf("candidate info should gain an introduction entry, got %v", rr.CandidateInfo)
	}
}

func TestRespond_EmptyResponse(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	res := r.Start(context.Background())

	_, err := r.Respond(context.Background(), res.SessionID, "   ")
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("Respond(blank) error = %v, want ErrEmptyResponse", err)
	}
}

func TestRespond_UnknownSession(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	_, err := r.Respond(context.Background(), "unknown-id", "hello")
	if !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Respond(unknown) error = %v, want ErrInvalidSession", err)
	}
}

func TestRespond_StopPhraseCompletes(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{closing: "Farewell!", feedback: "Great interview."}
	store := newRecordingStore()
	r := newTestRegistry(t, RegistryConfig{Generator: gen, Store: store})

	res := r.Start(context.Background())
	if _, err := r.Respond(context.Background(), res.SessionID, "I applied for the SRE role"); err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	rr, err := r.Respond(context.Background(), res.SessionID, "Thank you that's it")
	if err != nil {
		t.Fatalf("Respond(stop) error = %v", err)
	}
	if !rr.Completed {
		t.Fatal("stop phrase should complete the session")
	}
	if rr.Message != "Farewell!" {
		t.Errorf("completion message = %q", rr.Message)
	}
	if rr.Feedback != "Great interview." {
		t.Errorf("feedback = %q", rr.Feedback)
	}
	if rr.DurationMinutes < 0 {
		t.Errorf("duration = %f", rr.DurationMinutes)
	}
	if gen.feedbackCalls != 1 {
		t.Errorf("feedback generated %d times, want 1", gen.feedbackCalls)
	}

	// The stop utterance is paired with the question that preceded it.
	if n := len(gen.feedbackQA); n != 2 {
		t.Fatalf("feedback received %d qa pairs, want 2", n)
	}

	rep := store.waitForSave(t)
	if rep.SessionID != res.SessionID {
		t.Errorf("archived session id = %q, want %q", rep.SessionID, res.SessionID)
	}
	if rep.Feedback != "Great interview." {
		t.Errorf("archived feedback = %q", rep.Feedback)
	}
	if len(rep.QAPairs) != 2 {
		t.Errorf("archived qa pairs = %d, want 2", len(rep.QAPairs))
	}
}

func TestRespond_StopPhraseCaseInsensitive(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	res := r.Start(context.Background())

	rr, err := r.Respond(context.Background(), res.SessionID, "NO MORE questions please")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !rr.Completed {
		t.Error("uppercase stop phrase should still terminate")
	}
}

func TestRespond_CustomStopPhrases(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{StopPhrases: []string{"wrap it up"}})
	res := r.Start(context.Background())

	// Default phrases are replaced, not extended.
	rr, err := r.Respond(context.Background(), res.SessionID, "stop")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if rr.Completed {
		t.Error("default stop phrase should not apply when overridden")
	}

	rr, err = r.Respond(context.Background(), res.SessionID, "let's wrap it up")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !rr.Completed {
		t.Error("custom stop phrase should terminate")
	}
}

func TestRespond_AfterCompletion(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	res := r.Start(context.Background())

	if _, err := r.Respond(context.Background(), res.SessionID, "stop"); err != nil {
		t.Fatalf("Respond(stop) error = %v", err)
	}
	_, err := r.Respond(context.Background(), res.SessionID, "anything")
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("Respond after completion error = %v, want ErrAlreadyCompleted", err)
	}
}

func TestRespond_QAPairing(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{turns: []string{"Q1?", "Q2?", "Q3?"}}
	r := newTestRegistry(t, RegistryConfig{Generator: gen})
	res := r.Start(context.Background())

	if _, err := r.Respond(context.Background(), res.SessionID, "A1"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Respond(context.Background(), res.SessionID, "A2"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Respond(context.Background(), res.SessionID, "stop"); err != nil {
		t.Fatal(err)
	}

	// Q1/A1, Q2/A2, then the stop utterance. At termination the second-to-last
	// transcript entry is the previous candidate answer, not an assistant
	// turn, so the placeholder question label is used.
	want := []QAPair{
		{Question: "Q1?", Answer: "A1"},
		{Question: "Q2?", Answer: "A2"},
		{Question: "Introduction question", Answer: "stop"},
	}
	if len(gen.feedbackQA) != len(want) {
		t.Fatalf("qa pairs = %d, want %d", len(gen.feedbackQA), len(want))
	}
	for i, w := range want {
		got := gen.feedbackQA[i]
		if got.Question != w.Question || got.Answer != w.Answer {
			t.Errorf("qa[%d] = {%q, %q}, want {%q, %q}", i, got.Question, got.Answer, w.Question, w.Answer)
		}
	}
}

func TestEnd(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{feedback: "Thanks for coming."}
	store := newRecordingStore()
	r := newTestRegistry(t, RegistryConfig{Generator: gen, Store: store})
	res := r.Start(context.Background())

	er, err := r.End(context.Background(), res.SessionID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if er.Message != endClosingMessage {
		t.Errorf("End() message = %q, want the fixed closing sentence", er.Message)
	}
	if er.Feedback != "Thanks for coming." {
		t.Errorf("End() feedback = %q", er.Feedback)
	}
	if gen.closingCalls != 0 {
		t.Error("forced end should not request a generated farewell")
	}

	store.waitForSave(t)

	// Second End fails and does not re-run feedback.
	_, err = r.End(context.Background(), res.SessionID)
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("second End() error = %v, want ErrAlreadyCompleted", err)
	}
	if gen.feedbackCalls != 1 {
		t.Errorf("feedback generated %d times, want 1", gen.feedbackCalls)
	}
}

func TestEnd_UnknownSession(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	_, err := r.End(context.Background(), "unknown-id")
	if !errors.Is(err, ErrInvalidSession) {
		t.Errorf("End(unknown) error = %v, want ErrInvalidSession", err)
	}
}

func TestStatus_UnknownSession(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	_, err := r.Status("unknown-id")
	if !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Status(unknown) error = %v, want ErrInvalidSession", err)
	}
}

func TestStatus_Duration(t *testing.T) {
	t.Parallel()

	clock := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	now := clock
	r := newTestRegistry(t, RegistryConfig{Now: func() time.Time { return now }})
	res := r.Start(context.Background())

	now = clock.Add(90 * time.Second)
	st, err := r.Status(res.SessionID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if st.DurationMinutes != 1.5 {
		t.Errorf("duration = %v, want 1.5", st.DurationMinutes)
	}
	if !st.StartedAt.Equal(clock) {
		t.Errorf("started at = %v, want %v", st.StartedAt, clock)
	}
}

func TestCounts(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	a := r.Start(context.Background())
	r.Start(context.Background())
	if _, err := r.End(context.Background(), a.SessionID); err != nil {
		t.Fatal(err)
	}

	active, completed := r.Counts()
	if active != 1 || completed != 1 {
		t.Errorf("Counts() = (%d, %d), want (1, 1)", active, completed)
	}
}

func TestRespond_ConcurrentSameSession(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{})
	res := r.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Respond(context.Background(), res.SessionID, "an answer about concurrency")
			if err != nil {
				t.Errorf("Respond() error = %v", err)
			}
		}()
	}
	wg.Wait()

	st, err := r.Status(res.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if st.TurnCount != 17 {
		t.Errorf("turn count = %d, want 17", st.TurnCount)
	}
}

func TestUpdateSettings(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	r := newTestRegistry(t, RegistryConfig{Store: store})

	r.UpdateSettings("Data Scientist", "hard", []string{"we are done"})

	res := r.Start(context.Background())

	// The default phrases were replaced, so "stop" is now a normal answer.
	rr, err := r.Respond(context.Background(), res.SessionID, "stop")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if rr.Completed {
		t.Fatal("replaced stop phrase still terminated the session")
	}

	rr, err = r.Respond(context.Background(), res.SessionID, "I think we are done here")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !rr.Completed {
		t.Fatal("new stop phrase did not terminate the session")
	}

	rep := store.waitForSave(t)
	if rep.Position != "Data Scientist" {
		t.Errorf("archived position = %q, want %q", rep.Position, "Data Scientist")
	}
}

func TestUpdateSettings_EmptyArgumentsKeepCurrent(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, RegistryConfig{Position: "SRE"})
	r.UpdateSettings("", "", nil)

	position, difficulty, phrases := r.settings()
	if position != "SRE" {
		t.Errorf("position = %q, want SRE", position)
	}
	if difficulty != DefaultDifficulty {
		t.Errorf("difficulty = %q, want default", difficulty)
	}
	if len(phrases) != len(DefaultStopPhrases) {
		t.Errorf("stop phrases = %v, want defaults", phrases)
	}
}
