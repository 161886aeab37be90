// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., a local whisper-server
// instance) behind a uniform batch interface: the caller submits a complete
// utterance as 16-bit signed little-endian PCM and receives a single
// authoritative transcript. The speech endpoints are stateless with respect to
// interview sessions, so no streaming session handle is needed.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// AudioConfig describes the format of the PCM audio submitted for
// transcription. All fields must be compatible with what the underlying
// provider supports.
type AudioConfig struct {
	// SampleRate is the audio sample rate in Hz. Common values: 16000
	// (STT-optimised mono), 48000.
	SampleRate int

	// Channels is the number of audio channels. 1 = mono (required by most
	// STT providers). Implementors may downmix multi-channel input internally.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en",
	// "de-DE"). An empty string lets the provider auto-detect, if supported.
	Language string
}

// Transcript is the result of transcribing one utterance.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report confidence.
	Confidence float64
}

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use; multiple transcriptions
// may run in parallel.
type Provider interface {
	// Transcribe submits one complete utterance of raw 16-bit signed
	// little-endian PCM audio and returns the transcript.
	//
	// Returns an error if the provider cannot be reached, rejects the audio,
	// or ctx is cancelled before the result arrives.
	Transcribe(ctx context.Context, pcm []byte, cfg AudioConfig) (*Transcript, error)
}
