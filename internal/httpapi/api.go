// Package httpapi exposes the interview orchestrator and the speech
// providers over HTTP.
//
// The route set mirrors the interview client contract: session lifecycle
// under /api/*, stateless speech endpoints under /api/tts and /api/stt, and
// the operational endpoints /healthz, /readyz and /metrics. All routes are
// wrapped by the observe middleware, which handles tracing, correlation IDs,
// and request metrics.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parleyhq/parley/internal/health"
	"github.com/parleyhq/parley/internal/interview"
	"github.com/parleyhq/parley/internal/observe"
	"github.com/parleyhq/parley/pkg/provider/llm"
	"github.com/parleyhq/parley/pkg/provider/stt"
	"github.com/parleyhq/parley/pkg/provider/tts"
)

// serviceName is reported by /api/health.
const serviceName = "Interview API"

// Server holds the handler dependencies. Construct with [New]; the zero value
// is not usable.
type Server struct {
	registry *interview.Registry

	llm     llm.Provider
	stt     stt.Provider
	sttName string
	tts     tts.Provider
	ttsName string
	models  []string

	health  *health.Handler
	metrics *observe.Metrics
	log     *slog.Logger
}

// Option is a functional option for [New].
type Option func(*Server)

// WithLLM sets the text-generation provider reported by /api/health and
// /api/models. The interview registry holds its own reference; this one is
// informational only.
func WithLLM(p llm.Provider) Option {
	return func(s *Server) { s.llm = p }
}

// WithSTT sets the speech-to-text provider for /api/stt, labelled with its
// configured name for provider metrics. When unset the endpoint returns 503.
func WithSTT(name string, p stt.Provider) Option {
	return func(s *Server) {
		s.stt = p
		s.sttName = name
	}
}

// WithTTS sets the text-to-speech provider for /api/tts, labelled with its
// configured name for provider metrics. When unset the endpoint returns 503.
func WithTTS(name string, p tts.Provider) Option {
	return func(s *Server) {
		s.tts = p
		s.ttsName = name
	}
}

// WithModels sets the candidate model ids reported by /api/models.
func WithModels(ids ...string) Option {
	return func(s *Server) { s.models = ids }
}

// WithHealth sets the liveness/readiness handler mounted at /healthz and
// /readyz. When unset a checkerless handler is used.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetrics sets the metrics instance used by the request middleware.
// Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// New creates a Server around the given interview registry.
func New(registry *interview.Registry, opts ...Option) *Server {
	s := &Server{registry: registry}
	for _, o := range opts {
		o(s)
	}
	if s.health == nil {
		s.health = health.New("parley")
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.sttName == "" {
		s.sttName = "stt"
	}
	if s.ttsName == "" {
		s.ttsName = "tts"
	}
	return s
}

// Handler returns the full route set wrapped in the observe middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("POST /api/start-interview", s.handleStart)
	mux.HandleFunc("POST /api/respond", s.handleRespond)
	mux.HandleFunc("POST /api/end-interview/{session_id}", s.handleEnd)
	mux.HandleFunc("GET /api/interview-status/{session_id}", s.handleStatus)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/models", s.handleModels)
	mux.HandleFunc("POST /api/tts", s.handleTTS)
	mux.HandleFunc("POST /api/stt", s.handleSTT)

	s.health.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.metrics)(mux)
}

// handleHome serves the route index so a browser hitting the server root can
// discover the API.
func (s *Server) handleHome(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Interview server is running",
		"routes": map[string]string{
			"POST /api/start-interview":              "Start a new interview session",
			"POST /api/respond":                      "Respond to the current interview question",
			"POST /api/end-interview/{session_id}":   "End an interview session",
			"GET /api/interview-status/{session_id}": "Get interview status",
			"GET /api/health":                        "Health check",
			"GET /api/models":                        "Get available models",
			"POST /api/tts":                          "Convert text to speech",
			"POST /api/stt":                          "Convert speech to text",
		},
	})
}

// handleHealth serves the client-compatible health payload. The operational
// probes live at /healthz and /readyz.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	model := ""
	if s.llm != nil {
		model = s.llm.Model()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": serviceName,
		"model":   model,
	})
}

// handleModels reports the configured candidate model ids and the one
// currently serving requests.
func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	if s.llm == nil {
		writeError(w, http.StatusServiceUnavailable, "no text generator configured")
		return
	}
	models := s.models
	if models == nil {
		models = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available_models": models,
		"current_model":    s.llm.Model(),
	})
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("httpapi: encode response", "err", err)
	}
}

// writeError writes the {"error": ...} payload every failing route uses.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
