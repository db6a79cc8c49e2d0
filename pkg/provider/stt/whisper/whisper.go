// Package whisper provides an STT provider backed by the whisper.cpp CGO
// bindings, running transcription locally without network calls. The
// whisper.cpp static library (libwhisper.a) and headers (whisper.h) must be
// available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// The provider accepts WAV payloads only: decoding compressed containers is
// left to the upload-based providers. Deployments using local whisper should
// configure the capture pipeline for WAV output.
package whisper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/hexlantern/sibyl/pkg/provider/stt"
)

// Compile-time interface check.
var _ stt.Provider = (*Provider)(nil)

// whisperSampleRate is the input sample rate whisper.cpp expects.
const whisperSampleRate = 16000

// Provider implements [stt.Provider] using whisper.cpp. The model is loaded
// once and shared across all transcriptions; each Transcribe call creates its
// own whisper context, so calls may run concurrently.
type Provider struct {
	model whisperlib.Model
}

// New loads the whisper.cpp model from modelPath. The caller must Close the
// provider when it is no longer needed.
func New(modelPath string) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &Provider{model: model}, nil
}

// Close releases the whisper model.
func (p *Provider) Close() error {
	if p.model != nil {
		return p.model.Close()
	}
	return nil
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio, languageHint string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if audio.Format != stt.FormatWAV {
		return "", fmt.Errorf("whisper: unsupported payload format %q (configure wav output)", audio.Format)
	}

	pcm, sampleRate, channels, err := parseWAV(audio.Data)
	if err != nil {
		return "", err
	}

	samples := pcmToFloat32Mono(pcm, channels)
	samples = resampleLinear(samples, sampleRate, whisperSampleRate)
	if len(samples) == 0 {
		return "", stt.ErrNoSpeech
	}

	// Contexts are not thread-safe; the shared model is.
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}

	lang := "auto"
	if languageHint != "" {
		lang, _, _ = strings.Cut(languageHint, "-")
	}
	if err := wctx.SetLanguage(lang); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", lang, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	if len(parts) == 0 {
		return "", stt.ErrNoSpeech
	}
	return strings.Join(parts, " "), nil
}

// parseWAV extracts the PCM data and stream parameters from a RIFF/WAVE
// container. Only 16-bit PCM is supported.
func parseWAV(data []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, errors.New("whisper: not a RIFF/WAVE payload")
	}

	var haveFmt bool
	for off := 12; off+8 <= len(data); {
		chunkID := string(data[off : off+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+chunkLen > len(data) {
			return nil, 0, 0, errors.New("whisper: truncated WAVE chunk")
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, 0, 0, errors.New("whisper: short fmt chunk")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, 0, 0, fmt.Errorf("whisper: unsupported WAVE format code %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			if bits := binary.LittleEndian.Uint16(data[body+14 : body+16]); bits != 16 {
				return nil, 0, 0, fmt.Errorf("whisper: unsupported bit depth %d", bits)
			}
			haveFmt = true
		case "data":
			pcm = data[body : body+chunkLen]
		}

		// Chunks are word-aligned.
		off = body + chunkLen + chunkLen%2
	}

	if !haveFmt || pcm == nil {
		return nil, 0, 0, errors.New("whisper: missing fmt or data chunk")
	}
	return pcm, sampleRate, channels, nil
}
