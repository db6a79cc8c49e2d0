// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a synthesis service (e.g., the OpenAI speech API or
// ElevenLabs) and produces one playable [Clip] per text chunk. Backends with a
// hard input-length limit advertise it via [Provider.MaxTextLen]; the answer
// pipeline splits long answers into chunks below that limit and synthesizes
// each chunk separately.
//
// Implementations must be safe for concurrent use — segments of one answer may
// be synthesized in parallel.
package tts

import "context"

// Voice describes the synthesis voice configuration for one channel.
type Voice struct {
	// ID is the provider-specific voice identifier (e.g., "alloy",
	// an ElevenLabs voice ID).
	ID string

	// Language is the BCP-47 language tag the text is written in. Backends
	// that need no language hint may ignore it.
	Language string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 0 = provider default).
	SpeedFactor float64
}

// Clip is one synthesized audio result. Exactly one of URI or PCM is set:
// URI references a remote audio resource the playback sink can fetch, PCM is
// an in-memory 16-bit little-endian interleaved buffer.
type Clip struct {
	// URI is a remote audio resource location.
	URI string

	// PCM holds buffered audio samples.
	PCM []byte

	// SampleRate in Hz of the PCM data. Ignored for URI clips.
	SampleRate int

	// Channels of the PCM data. Ignored for URI clips.
	Channels int
}

// IsZero reports whether the clip carries neither a URI nor samples.
func (c Clip) IsZero() bool {
	return c.URI == "" && len(c.PCM) == 0
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts one text chunk into a playable clip. The text must
	// be no longer than [Provider.MaxTextLen] when that limit is non-zero.
	//
	// Failures are reported as errors, never as a zero Clip with nil error.
	Synthesize(ctx context.Context, text string, voice Voice) (Clip, error)

	// MaxTextLen returns the backend's hard input-length limit in characters,
	// or 0 when the backend accepts arbitrary-length text.
	MaxTextLen() int
}
