// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (Whisper).
package openai

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/hexlantern/sibyl/pkg/provider/stt"
)

// Compile-time interface check.
var _ stt.Provider = (*Provider)(nil)

// Provider implements [stt.Provider] using the OpenAI API. The full utterance
// payload is uploaded per request; FLAC and WAV containers are both accepted
// by the endpoint.
type Provider struct {
	client oai.Client
	model  oai.AudioModel
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel overrides the default transcription model ("whisper-1").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai stt: apiKey must not be empty")
	}

	cfg := &config{model: string(oai.AudioModelWhisper1)}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  oai.AudioModel(cfg.model),
	}, nil
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio, languageHint string) (string, error) {
	if !audio.Format.IsValid() {
		return "", fmt.Errorf("openai stt: unsupported payload format %q", audio.Format)
	}
	if len(audio.Data) == 0 {
		return "", fmt.Errorf("openai stt: empty payload")
	}

	params := oai.AudioTranscriptionNewParams{
		File: oai.File(bytes.NewReader(audio.Data),
			"utterance."+string(audio.Format), audio.Format.ContentType()),
		Model: p.model,
	}
	if languageHint != "" {
		// The endpoint wants a bare ISO 639-1 code, not a full BCP-47 tag.
		lang, _, _ := strings.Cut(languageHint, "-")
		params.Language = param.NewOpt(lang)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai stt: transcribe: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", stt.ErrNoSpeech
	}
	return text, nil
}
