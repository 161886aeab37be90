package resilience

import (
	"context"

	"github.com/parleyhq/parley/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// text-generation backends. Each backend has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
//
// This is how a deployment keeps interviews running when its preferred model
// is overloaded: configure a strong primary and one or more cheaper fallbacks.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Complete sends the request to the first healthy provider and returns its
// response. If the primary fails, subsequent fallbacks are tried in order.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Model returns the model identifier of the first backend whose circuit
// breaker is not open, so health reporting reflects the backend actually
// serving requests. Falls back to the primary's model when every breaker
// is open.
func (f *LLMFallback) Model() string {
	for i := range f.group.entries {
		entry := &f.group.entries[i]
		if entry.breaker.State() != StateOpen {
			return entry.value.Model()
		}
	}
	return f.group.entries[0].value.Model()
}
