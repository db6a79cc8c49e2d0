package config

import (
	"strings"
	"testing"
	"time"

	"github.com/hexlantern/sibyl/pkg/provider/stt"
)

const validYAML = `
server:
  log_level: info
  metrics_addr: ":9090"
discord:
  token: "bot-token"
providers:
  stt:
    name: openai
    api_key: sk-stt
    model: whisper-1
    fallbacks:
      - name: whisper
        options:
          model_path: /models/ggml-base.bin
  llm:
    name: openai
    api_key: sk-llm
    model: gpt-4o-mini
  tts:
    name: elevenlabs
    api_key: el-key
    options:
      output_format: pcm_24000
  resilience:
    max_failures: 3
    reset_timeout: 15s
store:
  postgres_dsn: "postgres://sibyl:pw@localhost:5432/sibyl?sslmode=disable"
capture:
  format: flac
  silence_timeout: 750ms
defaults:
  language: en-US
  voice_id: rachel
  speed_factor: 1.1
  system_prompt: "You are a helpful voice assistant."
  activation_phrase: "hey sibyl"
  waiting_uri: "https://cdn.example.com/waiting.wav"
fallback:
  uri: "https://cdn.example.com/sorry.wav"
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Discord.Token != "bot-token" {
		t.Errorf("discord token = %q", cfg.Discord.Token)
	}
	if cfg.Providers.STT.Name != "openai" || cfg.Providers.STT.Model != "whisper-1" {
		t.Errorf("stt chain = %+v", cfg.Providers.STT.ProviderEntry)
	}
	if len(cfg.Providers.STT.Fallbacks) != 1 {
		t.Fatalf("stt fallbacks = %d, want 1", len(cfg.Providers.STT.Fallbacks))
	}
	if got := cfg.Providers.STT.Fallbacks[0].StringOption("model_path"); got != "/models/ggml-base.bin" {
		t.Errorf("model_path option = %q", got)
	}
	if got := cfg.Providers.TTS.StringOption("output_format"); got != "pcm_24000" {
		t.Errorf("output_format option = %q", got)
	}
	if cfg.Providers.Resilience.ResetTimeout != 15*time.Second {
		t.Errorf("reset_timeout = %v, want 15s", cfg.Providers.Resilience.ResetTimeout)
	}
	if cfg.Capture.Format != stt.FormatFLAC {
		t.Errorf("capture format = %q, want flac", cfg.Capture.Format)
	}
	if cfg.Capture.SilenceTimeout != 750*time.Millisecond {
		t.Errorf("silence_timeout = %v, want 750ms", cfg.Capture.SilenceTimeout)
	}
	if cfg.Defaults.ActivationPhrase != "hey sibyl" {
		t.Errorf("activation_phrase = %q", cfg.Defaults.ActivationPhrase)
	}
	if cfg.Fallback.URI == "" {
		t.Error("fallback.uri missing")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	yaml := validYAML + "\nbogus_section:\n  x: 1\n"
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "missing discord token",
			mutate:  func(c *Config) { c.Discord.Token = "" },
			wantSub: "discord.token",
		},
		{
			name:    "missing stt provider",
			mutate:  func(c *Config) { c.Providers.STT.Name = "" },
			wantSub: "providers.stt.name",
		},
		{
			name:    "missing llm provider",
			mutate:  func(c *Config) { c.Providers.LLM.Name = "" },
			wantSub: "providers.llm.name",
		},
		{
			name:    "missing tts provider",
			mutate:  func(c *Config) { c.Providers.TTS.Name = "" },
			wantSub: "providers.tts.name",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "loud" },
			wantSub: "server.log_level",
		},
		{
			name:    "invalid capture format",
			mutate:  func(c *Config) { c.Capture.Format = "mp3" },
			wantSub: "capture.format",
		},
		{
			name:    "speed factor out of range",
			mutate:  func(c *Config) { c.Defaults.SpeedFactor = 3.0 },
			wantSub: "defaults.speed_factor",
		},
		{
			name:    "negative silence timeout",
			mutate:  func(c *Config) { c.Capture.SilenceTimeout = -time.Second },
			wantSub: "capture.silence_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := LoadFromReader(strings.NewReader(validYAML))
			if err != nil {
				t.Fatalf("load base config: %v", err)
			}
			tt.mutate(cfg)

			err = Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidate_CollectsMultipleErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors for empty config")
	}
	for _, want := range []string{"discord.token", "providers.stt.name", "providers.llm.name", "providers.tts.name"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error missing %q", want)
		}
	}
}

func TestChannelDefaults_Channel(t *testing.T) {
	t.Parallel()

	d := ChannelDefaults{
		Language:         "de-DE",
		VoiceID:          "adam",
		SpeedFactor:      0.9,
		Model:            "gpt-4o",
		SystemPrompt:     "prompt",
		ActivationPhrase: "hey sibyl",
		WaitingURI:       "uri",
	}
	ch := d.Channel()
	if ch.Language != "de-DE" || ch.VoiceID != "adam" || ch.SpeedFactor != 0.9 {
		t.Errorf("voice fields not carried over: %+v", ch)
	}
	if ch.Model != "gpt-4o" || ch.SystemPrompt != "prompt" {
		t.Errorf("answer fields not carried over: %+v", ch)
	}
	if ch.ActivationPhrase != "hey sibyl" || ch.WaitingURI != "uri" {
		t.Errorf("behaviour fields not carried over: %+v", ch)
	}
}
