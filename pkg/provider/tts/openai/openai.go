// Package openai provides an OpenAI-backed TTS provider using the
// /v1/audio/speech endpoint. It implements the tts.Provider interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/hexlantern/sibyl/pkg/provider/tts"
)

const (
	defaultModel = oai.SpeechModelGPT4oMiniTTS

	// pcmSampleRate is the fixed output rate for the "pcm" response format.
	pcmSampleRate = 24000

	// maxTextLen is the documented input limit of the speech endpoint.
	maxTextLen = 4096
)

// Compile-time interface check.
var _ tts.Provider = (*Provider)(nil)

type config struct {
	baseURL string
	model   oai.SpeechModel
	timeout time.Duration
}

// Option configures the Provider.
type Option func(*config)

// WithBaseURL overrides the API base URL, for proxies or compatible servers.
func WithBaseURL(baseURL string) Option {
	return func(c *config) {
		c.baseURL = baseURL
	}
}

// WithModel sets the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = oai.SpeechModel(model)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Provider implements [tts.Provider] backed by the OpenAI speech API.
// Synthesized clips are mono 16-bit PCM at 24 kHz.
type Provider struct {
	client oai.Client
	model  oai.SpeechModel
}

// New creates a new OpenAI TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	cfg := config{model: defaultModel, timeout: 60 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(cfg.timeout),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
	}, nil
}

// MaxTextLen implements [tts.Provider].
func (p *Provider) MaxTextLen() int { return maxTextLen }

// Synthesize implements [tts.Provider]. The voice ID must be one of the
// OpenAI voice names ("alloy", "nova", ...).
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (tts.Clip, error) {
	if strings.TrimSpace(text) == "" {
		return tts.Clip{}, errors.New("openai: text must not be empty")
	}
	voiceName := voice.ID
	if voiceName == "" {
		voiceName = string(oai.AudioSpeechNewParamsVoiceAlloy)
	}

	params := oai.AudioSpeechNewParams{
		Model:          p.model,
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voiceName),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeedFactor > 0 {
		params.Speed = param.NewOpt(voice.SpeedFactor)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("openai: speech request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tts.Clip{}, fmt.Errorf("openai: speech request: unexpected status %d", resp.StatusCode)
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("openai: read speech response: %w", err)
	}
	if len(pcm) == 0 {
		return tts.Clip{}, errors.New("openai: synthesis produced no audio")
	}

	return tts.Clip{
		PCM:        pcm,
		SampleRate: pcmSampleRate,
		Channels:   1,
	}, nil
}
