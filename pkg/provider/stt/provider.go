// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., the OpenAI Whisper API
// or a local whisper.cpp build) behind a single request/response call: the
// caller hands over one fully-buffered utterance payload and receives the
// transcript, or an error.
//
// Implementations must be safe for concurrent use — multiple utterances may be
// transcribed in parallel (one per active call).
package stt

import (
	"context"
	"encoding/base64"
	"errors"
)

// ErrNoSpeech is returned when the backend processed the audio successfully
// but recognised no words in it. Callers should treat this as "no transcript"
// rather than as a transport failure.
var ErrNoSpeech = errors.New("stt: no speech recognised")

// Format identifies the container of an [Audio] payload.
type Format string

const (
	// FormatFLAC is a lossless compressed container.
	FormatFLAC Format = "flac"

	// FormatWAV is an uncompressed RIFF/WAVE container.
	FormatWAV Format = "wav"
)

// IsValid reports whether f is a recognised payload format.
func (f Format) IsValid() bool {
	return f == FormatFLAC || f == FormatWAV
}

// ContentType returns the MIME type for the format, used by HTTP uploads.
func (f Format) ContentType() string {
	switch f {
	case FormatFLAC:
		return "audio/flac"
	case FormatWAV:
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// Audio is one finished utterance payload handed to a provider.
type Audio struct {
	// Format is the container the Data bytes are encoded in.
	Format Format

	// Data is the complete encoded utterance.
	Data []byte

	// SampleRate in Hz of the encoded audio (48000 normative).
	SampleRate int

	// Channels of the encoded audio (2 normative).
	Channels int
}

// Base64 returns the payload bytes in standard base64 text form, for
// transports that require a text encoding.
func (a Audio) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts one utterance payload into text. languageHint is a
	// BCP-47 tag ("en", "de-DE"); an empty hint lets the backend auto-detect.
	//
	// Returns [ErrNoSpeech] when the audio contained no recognisable speech,
	// and any other error for transport or decode failures. An empty
	// transcript with a nil error is never returned.
	Transcribe(ctx context.Context, audio Audio, languageHint string) (string, error)
}
