package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/parleyhq/parley/internal/interview"
)

// respondRequest is the body of POST /api/respond.
type respondRequest struct {
	SessionID string `json:"session_id"`
	Response  string `json:"response"`
}

// startResponse is the body of a successful POST /api/start-interview.
type startResponse struct {
	SessionID        string `json:"session_id"`
	Message          string `json:"message"`
	QuestionNumber   int    `json:"question_number"`
	Status           string `json:"status"`
	HasQuestionLimit bool   `json:"has_question_limit"`
}

// progressResponse is the body of a non-terminating POST /api/respond.
type progressResponse struct {
	SessionID        string            `json:"session_id"`
	Message          string            `json:"message"`
	QuestionNumber   int               `json:"question_number"`
	Status           string            `json:"status"`
	CandidateInfo    map[string]string `json:"candidate_info"`
	HasQuestionLimit bool              `json:"has_question_limit"`
}

// completionResponse is the body of a terminating POST /api/respond.
type completionResponse struct {
	SessionID           string            `json:"session_id"`
	Message             string            `json:"message"`
	Feedback            string            `json:"feedback"`
	QuestionNumber      int               `json:"question_number"`
	TotalQuestionsAsked int               `json:"total_questions_asked"`
	Status              string            `json:"status"`
	IsFinalMessage      bool              `json:"is_final_message"`
	CandidateInfo       map[string]string `json:"candidate_info"`
	DurationMinutes     float64           `json:"duration_minutes"`
}

// endResponse is the body of a successful POST /api/end-interview/{session_id}.
type endResponse struct {
	Message             string            `json:"message"`
	Feedback            string            `json:"feedback"`
	SessionID           string            `json:"session_id"`
	Status              string            `json:"status"`
	TotalQuestionsAsked int               `json:"total_questions_asked"`
	CandidateInfo       map[string]string `json:"candidate_info"`
	DurationMinutes     float64           `json:"duration_minutes"`
}

// statusResponse is the body of GET /api/interview-status/{session_id}.
type statusResponse struct {
	SessionID        string            `json:"session_id"`
	QuestionNumber   int               `json:"question_number"`
	IsCompleted      bool              `json:"is_completed"`
	StartTime        string            `json:"start_time"`
	DurationMinutes  float64           `json:"duration_minutes"`
	CandidateInfo    map[string]string `json:"candidate_info"`
	HasQuestionLimit bool              `json:"has_question_limit"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	res := s.registry.Start(r.Context())
	writeJSON(w, http.StatusOK, startResponse{
		SessionID:      res.SessionID,
		Message:        res.Message,
		QuestionNumber: res.TurnCount,
		Status:         "started",
	})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.registry.Respond(r.Context(), req.SessionID, req.Response)
	if err != nil {
		switch {
		case errors.Is(err, interview.ErrInvalidSession):
			writeError(w, http.StatusBadRequest, "Invalid session ID")
		case errors.Is(err, interview.ErrEmptyResponse):
			writeError(w, http.StatusBadRequest, "Response is required")
		case errors.Is(err, interview.ErrAlreadyCompleted):
			writeError(w, http.StatusBadRequest, "Interview already completed")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if res.Completed {
		writeJSON(w, http.StatusOK, completionResponse{
			SessionID:           req.SessionID,
			Message:             res.Message,
			Feedback:            res.Feedback,
			QuestionNumber:      res.TurnCount,
			TotalQuestionsAsked: res.TurnCount,
			Status:              "completed",
			IsFinalMessage:      true,
			CandidateInfo:       res.CandidateInfo,
			DurationMinutes:     res.DurationMinutes,
		})
		return
	}

	writeJSON(w, http.StatusOK, progressResponse{
		SessionID:      req.SessionID,
		Message:        res.Message,
		QuestionNumber: res.TurnCount,
		Status:         "in_progress",
		CandidateInfo:  res.CandidateInfo,
	})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	res, err := s.registry.End(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, interview.ErrInvalidSession):
			writeError(w, http.StatusNotFound, "Session not found")
		case errors.Is(err, interview.ErrAlreadyCompleted):
			writeError(w, http.StatusBadRequest, "Interview already completed")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, endResponse{
		Message:             res.Message,
		Feedback:            res.Feedback,
		SessionID:           sessionID,
		Status:              "ended",
		TotalQuestionsAsked: res.TurnCount,
		CandidateInfo:       res.CandidateInfo,
		DurationMinutes:     res.DurationMinutes,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	st, err := s.registry.Status(sessionID)
	if err != nil {
		if errors.Is(err, interview.ErrInvalidSession) {
			writeError(w, http.StatusNotFound, "Session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{
		SessionID:       sessionID,
		QuestionNumber:  st.TurnCount,
		IsCompleted:     st.Completed,
		StartTime:       st.StartedAt.Format(time.RFC3339),
		DurationMinutes: st.DurationMinutes,
		CandidateInfo:   st.CandidateInfo,
	})
}
