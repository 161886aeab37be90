// Package gemini provides an LLM provider backed by the Google Generative
// Language REST API (generativelanguage.googleapis.com).
//
// Unlike the single-model providers, this one accepts an ordered list of
// candidate model identifiers and probes them lazily: the first model that
// serves a request successfully becomes the active model, and subsequent
// requests go straight to it. When the active model starts failing the
// provider falls through to the remaining candidates before reporting an
// error. This mirrors the availability quirks of the Gemini free tier, where
// individual model ids come and go by region.
//
// Usage:
//
//	p, err := gemini.New(apiKey,
//	    gemini.WithModels("models/gemini-2.0-flash", "models/gemini-flash-latest"),
//	)
//	resp, err := p.Complete(ctx, req)
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/parleyhq/parley/pkg/provider/llm"
)

// DefaultBaseURL is the default Generative Language API endpoint.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// defaultModels is the probe order used when no models are configured.
var defaultModels = []string{
	"models/gemini-2.0-flash",
	"models/gemini-2.0-flash-001",
	"models/gemini-flash-latest",
	"models/gemini-pro-latest",
	"models/gemini-2.0-flash-lite",
	"models/gemini-2.5-flash",
}

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModels sets the ordered list of candidate model identifiers to probe.
// Identifiers may be given with or without the "models/" prefix.
func WithModels(models ...string) Option {
	return func(p *Provider) {
		p.models = models
	}
}

// WithBaseURL overrides the default API endpoint. Useful for tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(url, "/")
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 60 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements llm.Provider against the Generative Language REST API
// with ordered model-fallback probing.
type Provider struct {
	apiKey     string
	baseURL    string
	models     []string
	httpClient *http.Client

	mu     sync.Mutex
	active int // index into models of the last model that served a request
}

// New creates a new Gemini Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		models:     defaultModels,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	if len(p.models) == 0 {
		return nil, fmt.Errorf("gemini: at least one model must be configured")
	}
	return p, nil
}

// ---- wire types ----

type generateRequest struct {
	Contents          []content  `json:"contents"`
	SystemInstruction *content   `json:"systemInstruction,omitempty"`
	GenerationConfig  *genConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"` // "user" or "model"
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type genConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Complete implements llm.Provider. It tries the active model first and falls
// through the remaining candidates on failure, remembering whichever model
// succeeds for the next call.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	body := buildRequest(req)

	p.mu.Lock()
	start := p.active
	p.mu.Unlock()

	var lastErr error
	for i := range p.models {
		idx := (start + i) % len(p.models)
		resp, err := p.generate(ctx, p.models[idx], body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("gemini: %w", ctx.Err())
			}
			lastErr = err
			continue
		}
		p.mu.Lock()
		p.active = idx
		p.mu.Unlock()
		return resp, nil
	}
	return nil, fmt.Errorf("gemini: all %d models failed: %w", len(p.models), lastErr)
}

// Model implements llm.Provider. It returns the model that last served a
// request (or the first candidate before any request has been made).
func (p *Provider) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.models[p.active]
}

// generate performs a single generateContent call against one model.
func (p *Provider) generate(ctx context.Context, model string, reqBody generateRequest) (*llm.CompletionResponse, error) {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent", p.baseURL, normalizeModel(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model %q: %w", model, err)
	}
	defer httpResp.Body.Close()

	respData, err := io.ReadAll(io.LimitReader(httpResp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("model %q: read response: %w", model, err)
	}

	var resp generateResponse
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("model %q: decode response: %w", model, err)
	}
	if httpResp.StatusCode != http.StatusOK {
		msg := httpResp.Status
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return nil, fmt.Errorf("model %q: %s", model, msg)
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("model %q: empty candidates in response", model)
	}

	var sb strings.Builder
	for _, pt := range resp.Candidates[0].Content.Parts {
		sb.WriteString(pt.Text)
	}

	result := &llm.CompletionResponse{Content: sb.String()}
	if resp.UsageMetadata != nil {
		result.Usage = llm.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}
	return result, nil
}

// buildRequest converts our CompletionRequest into the Gemini wire format.
// Gemini has no "system" conversation role: the system prompt goes into
// systemInstruction, and assistant turns map to role "model".
func buildRequest(req llm.CompletionRequest) generateRequest {
	out := generateRequest{}

	if req.SystemPrompt != "" {
		out.SystemInstruction = &content{
			Parts: []part{{Text: req.SystemPrompt}},
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			// Fold stray system messages into the system instruction.
			if out.SystemInstruction == nil {
				out.SystemInstruction = &content{}
			}
			out.SystemInstruction.Parts = append(out.SystemInstruction.Parts, part{Text: m.Content})
		case "assistant":
			out.Contents = append(out.Contents, content{
				Role:  "model",
				Parts: []part{{Text: m.Content}},
			})
		default:
			out.Contents = append(out.Contents, content{
				Role:  "user",
				Parts: []part{{Text: m.Content}},
			})
		}
	}

	if req.Temperature != 0 || req.MaxTokens > 0 {
		cfg := &genConfig{MaxOutputTokens: req.MaxTokens}
		if req.Temperature != 0 {
			t := req.Temperature
			cfg.Temperature = &t
		}
		out.GenerationConfig = cfg
	}

	return out
}

// normalizeModel ensures the identifier carries the "models/" prefix the REST
// path expects.
func normalizeModel(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}
