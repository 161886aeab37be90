// Package mock provides a test double for the stt.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/parleyhq/parley/pkg/provider/stt"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// PCM is the audio passed to Transcribe.
	PCM []byte
	// Cfg is the audio configuration passed to Transcribe.
	Cfg stt.AudioConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe. May be nil (returns nil, nil).
	Result *stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(_ context.Context, pcm []byte, cfg stt.AudioConfig) (*stt.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{PCM: pcm, Cfg: cfg})

	if p.Err != nil {
		return nil, p.Err
	}
	return p.Result, nil
}
