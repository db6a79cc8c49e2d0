// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/hexlantern/sibyl/pkg/provider/tts"
)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_24000"
	defaultTimeout   = 60 * time.Second

	// maxTextLen keeps a single synthesis request well under the API's
	// per-message limits while staying large enough for a full paragraph.
	maxTextLen = 550
)

// Compile-time interface check.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.timeout = d
	}
}

// Provider implements [tts.Provider] backed by the ElevenLabs streaming API.
// Each Synthesize call opens its own WebSocket, so calls may run concurrently.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	timeout      time.Duration
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		timeout:      defaultTimeout,
	}
	for _, o := range opts {
		o(p)
	}
	if _, err := sampleRateOf(p.outputFormat); err != nil {
		return nil, err
	}
	return p, nil
}

// MaxTextLen implements [tts.Provider].
func (p *Provider) MaxTextLen() int { return maxTextLen }

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
// An empty Text value flushes the stream.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// Synthesize implements [tts.Provider]. It opens a WebSocket to ElevenLabs,
// sends the text in a single message, and drains the audio stream into one
// clip. The returned PCM is mono 16-bit at the configured output rate.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (tts.Clip, error) {
	if voice.ID == "" {
		return tts.Clip{}, errors.New("elevenlabs: voice.ID must not be empty")
	}
	if strings.TrimSpace(text) == "" {
		return tts.Clip{}, errors.New("elevenlabs: text must not be empty")
	}

	sampleRate, err := sampleRateOf(p.outputFormat)
	if err != nil {
		return tts.Clip{}, err
	}

	// The read loop only ends when the server sends isFinal; the deadline
	// keeps a stalled stream from pinning the caller for the whole call.
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	wsURL := buildURLForVoice(voice.ID, p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	vs := settingsFor(voice)

	// BOI message authenticates and configures the stream. ElevenLabs
	// requires a non-empty first text value.
	boi := boiMessage{
		Text:          " ",
		VoiceSettings: vs,
		XiAPIKey:      p.apiKey,
		OutputFormat:  p.outputFormat,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		return tts.Clip{}, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	msgBytes, _ := json.Marshal(textMessage{Text: text, VoiceSettings: vs})
	if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
		return tts.Clip{}, fmt.Errorf("elevenlabs: send text: %w", err)
	}

	// Empty text flushes the stream and makes the server emit isFinal.
	flushBytes, _ := json.Marshal(textMessage{Text: ""})
	if err := conn.Write(ctx, websocket.MessageText, flushBytes); err != nil {
		return tts.Clip{}, fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	var pcm []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return tts.Clip{}, fmt.Errorf("elevenlabs: read audio: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return tts.Clip{}, fmt.Errorf("elevenlabs: decode audio: %w", err)
			}
			pcm = append(pcm, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}

	if len(pcm) == 0 {
		return tts.Clip{}, errors.New("elevenlabs: synthesis produced no audio")
	}
	return tts.Clip{
		PCM:        pcm,
		SampleRate: sampleRate,
		Channels:   1,
	}, nil
}

// ---- helpers ----

// settingsFor maps a voice profile onto ElevenLabs voice_settings. A zero
// SpeedFactor means default speed and is omitted from the payload.
func settingsFor(voice tts.Voice) *voiceSettings {
	vs := &voiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
	}
	if voice.SpeedFactor > 0 {
		vs.Speed = voice.SpeedFactor
	}
	return vs
}

// buildURLForVoice constructs the WebSocket URL for a given voice and model.
func buildURLForVoice(voiceID, model string) string {
	return fmt.Sprintf(wsEndpointFmt, voiceID, model)
}

// sampleRateOf extracts the sample rate from a "pcm_<rate>" output format.
func sampleRateOf(format string) (int, error) {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 0, fmt.Errorf("elevenlabs: unsupported output format %q (want pcm_<rate>)", format)
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, fmt.Errorf("elevenlabs: unsupported output format %q (want pcm_<rate>)", format)
	}
	return rate, nil
}
