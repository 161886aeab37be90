// Package interview implements the interview session state machine: the
// registry of live sessions, their transcripts, turn-taking, termination
// detection, and the final feedback assembly.
package interview

import (
	"sync"
	"time"
)

// Turn roles. Exactly one system turn exists per session, always first.
const (
	RoleSystem    = "system"
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// Turn is one message in a session's transcript.
type Turn struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// QAPair records one question asked by the interviewer and the candidate's
// answer to it. Pairs are appended in chronological order and used to build
// the final feedback request.
type QAPair struct {
	Question  string
	Answer    string
	Timestamp time.Time
}

// Session is one interview conversation. All mutable state is guarded by mu;
// the registry holds mu across a full operation so that at most one mutation
// is in flight per session at a time.
type Session struct {
	ID        string
	StartedAt time.Time

	mu            sync.Mutex
	transcript    []Turn
	turnCount     int
	completed     bool
	candidateInfo map[string]string
	qaPairs       []QAPair
}

// appendTurn adds a turn to the transcript. Caller must hold s.mu.
func (s *Session) appendTurn(role, content string, now time.Time) {
	s.transcript = append(s.transcript, Turn{Role: role, Content: content, Timestamp: now})
}

// infoCopy returns a snapshot of candidateInfo. Caller must hold s.mu.
func (s *Session) infoCopy() map[string]string {
	out := make(map[string]string, len(s.candidateInfo))
	for k, v := range s.candidateInfo {
		out[k] = v
	}
	return out
}

// transcriptCopy returns a snapshot of the transcript. Caller must hold s.mu.
func (s *Session) transcriptCopy() []Turn {
	out := make([]Turn, len(s.transcript))
	copy(out, s.transcript)
	return out
}
