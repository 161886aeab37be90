// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or a
// local Coqui TTS server) behind a uniform batch interface: the caller
// submits a complete utterance and receives the full synthesised audio. The
// speech endpoints are stateless with respect to interview sessions, so no
// fragment-streaming pipeline is needed.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice specifies the voice to synthesise with.
type Voice struct {
	// ID is the provider-specific voice or speaker identifier
	// (e.g., an ElevenLabs voice id, or a Coqui speaker_id).
	ID string

	// Name is an optional human-readable label, used in logs only.
	Name string
}

// Audio is the result of one synthesis call.
type Audio struct {
	// Data is the synthesised audio payload.
	Data []byte

	// MIMEType describes the encoding of Data (e.g., "audio/wav",
	// "audio/L16"). Providers must always set it.
	MIMEType string

	// SampleRate is the sample rate of Data in Hz, when known.
	SampleRate int
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; multiple synthesis
// requests may run in parallel.
type Provider interface {
	// Synthesize converts text into speech using the given voice and returns
	// the complete audio. An empty text must be rejected with an error rather
	// than a zero-length payload.
	Synthesize(ctx context.Context, text string, voice Voice) (*Audio, error)
}
