// Command sibyl is the main entry point for the Sibyl voice assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	botpkg "github.com/hexlantern/sibyl/internal/bot"
	"github.com/hexlantern/sibyl/internal/config"
	"github.com/hexlantern/sibyl/internal/notify"
	"github.com/hexlantern/sibyl/internal/observe"
	"github.com/hexlantern/sibyl/internal/resilience"
	"github.com/hexlantern/sibyl/internal/settings"
	"github.com/hexlantern/sibyl/internal/voice"
	"github.com/hexlantern/sibyl/pkg/call"
	calldiscord "github.com/hexlantern/sibyl/pkg/call/discord"
	"github.com/hexlantern/sibyl/pkg/provider/llm"
	"github.com/hexlantern/sibyl/pkg/provider/llm/anyllm"
	llmoai "github.com/hexlantern/sibyl/pkg/provider/llm/openai"
	"github.com/hexlantern/sibyl/pkg/provider/stt"
	sttoai "github.com/hexlantern/sibyl/pkg/provider/stt/openai"
	"github.com/hexlantern/sibyl/pkg/provider/stt/whisper"
	"github.com/hexlantern/sibyl/pkg/provider/tts"
	"github.com/hexlantern/sibyl/pkg/provider/tts/elevenlabs"
	ttsoai "github.com/hexlantern/sibyl/pkg/provider/tts/openai"
	"github.com/hexlantern/sibyl/pkg/store"
	memstore "github.com/hexlantern/sibyl/pkg/store/mem"
	pgstore "github.com/hexlantern/sibyl/pkg/store/postgres"
)

// fallbackMessage is spoken when a turn cannot be answered and no
// pre-rendered failure audio is configured.
const fallbackMessage = "Sorry, I could not answer that. Please try again."

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "sibyl: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sibyl: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("sibyl starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Metrics ───────────────────────────────────────────────────────────────
	metricsShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	metrics := observe.DefaultMetrics()

	var metricsSrv *http.Server
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("metrics endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "err", err)
			}
		}()
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Store ─────────────────────────────────────────────────────────────────
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("failed to open store", "err", err)
		return 1
	}
	defer st.Close()

	settingsSvc := settings.NewService(st, cfg.Defaults.Channel())

	// ── Providers ─────────────────────────────────────────────────────────────
	breakerCfg := resilience.CircuitBreakerConfig{
		MaxFailures:  cfg.Providers.Resilience.MaxFailures,
		ResetTimeout: cfg.Providers.Resilience.ResetTimeout,
		HalfOpenMax:  cfg.Providers.Resilience.HalfOpenMax,
	}

	sttChain, err := buildSTTChain(cfg.Providers.STT, breakerCfg)
	if err != nil {
		slog.Error("failed to build stt provider", "err", err)
		return 1
	}
	llmChain, err := buildLLMChain(cfg.Providers.LLM, breakerCfg)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}
	ttsChain, err := buildTTSChain(cfg.Providers.TTS, breakerCfg)
	if err != nil {
		slog.Error("failed to build tts provider", "err", err)
		return 1
	}

	// ── Discord bot ───────────────────────────────────────────────────────────
	bot, err := botpkg.New(ctx, cfg.Discord.Token)
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}

	notifier := notify.NewDiscord(bot.Session())

	pipeline := voice.NewPipeline(voice.PipelineConfig{
		STT:      sttChain,
		LLM:      llmChain,
		TTS:      ttsChain,
		Settings: settingsSvc,
		Notifier: notifier,
		Metrics:  metrics,
	})

	calls := botpkg.NewCallManager(botpkg.CallManagerConfig{
		Transport:      calldiscord.New(bot.Session()),
		Pipeline:       pipeline,
		SelfID:         bot.SelfID(),
		Format:         cfg.Capture.Format,
		SilenceTimeout: cfg.Capture.SilenceTimeout,
		Fallback:       fallbackSegment(ctx, cfg, ttsChain),
		Notifier:       notifier,
		Metrics:        metrics,
	})
	botpkg.NewCommands(bot, calls, settingsSvc)

	printStartupSummary(cfg)
	slog.Info("ready — press Ctrl+C to shut down")

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	calls.Shutdown(shutdownCtx)
	if err := bot.Close(); err != nil {
		slog.Warn("discord bot close error", "err", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("metrics server shutdown error", "err", err)
		}
	}
	if err := metricsShutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

// ── Store ─────────────────────────────────────────────────────────────────────

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	if cfg.PostgresDSN == "" {
		slog.Info("using in-memory store; settings are lost on restart")
		return memstore.New(), nil
	}
	st, err := pgstore.New(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	slog.Info("connected to postgres store")
	return st, nil
}

// ── Provider wiring ───────────────────────────────────────────────────────────

func buildSTTChain(chain config.ProviderChain, breakerCfg resilience.CircuitBreakerConfig) (stt.Provider, error) {
	primary, err := buildSTT(chain.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("stt provider %q: %w", chain.Name, err)
	}
	failover := resilience.NewSTTFailover(primary, chain.Name, breakerCfg)
	for _, entry := range chain.Fallbacks {
		p, err := buildSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("stt fallback %q: %w", entry.Name, err)
		}
		failover.AddFallback(entry.Name, p)
	}
	slog.Info("provider chain ready", "kind", "stt", "primary", chain.Name, "fallbacks", len(chain.Fallbacks))
	return failover, nil
}

func buildSTT(entry config.ProviderEntry) (stt.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []sttoai.Option
		if entry.BaseURL != "" {
			opts = append(opts, sttoai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, sttoai.WithModel(entry.Model))
		}
		return sttoai.New(entry.APIKey, opts...)
	case "whisper":
		modelPath := entry.StringOption("model_path")
		if modelPath == "" {
			modelPath = entry.Model
		}
		return whisper.New(modelPath)
	default:
		return nil, fmt.Errorf("unsupported stt provider %q", entry.Name)
	}
}

func buildLLMChain(chain config.ProviderChain, breakerCfg resilience.CircuitBreakerConfig) (llm.Provider, error) {
	primary, err := buildLLM(chain.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("llm provider %q: %w", chain.Name, err)
	}
	failover := resilience.NewLLMFailover(primary, chain.Name, breakerCfg)
	for _, entry := range chain.Fallbacks {
		p, err := buildLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("llm fallback %q: %w", entry.Name, err)
		}
		failover.AddFallback(entry.Name, p)
	}
	slog.Info("provider chain ready", "kind", "llm", "primary", chain.Name, "fallbacks", len(chain.Fallbacks))
	return failover, nil
}

func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []llmoai.Option
		if entry.BaseURL != "" {
			opts = append(opts, llmoai.WithBaseURL(entry.BaseURL))
		}
		return llmoai.New(entry.APIKey, entry.Model, opts...)
	case "anthropic", "gemini", "deepseek", "mistral", "groq":
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	case "ollama":
		// Local server; BaseURL is the address, no API key.
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", entry.Name)
	}
}

func buildTTSChain(chain config.ProviderChain, breakerCfg resilience.CircuitBreakerConfig) (tts.Provider, error) {
	primary, err := buildTTS(chain.ProviderEntry)
	if err != nil {
		return nil, fmt.Errorf("tts provider %q: %w", chain.Name, err)
	}
	failover := resilience.NewTTSFailover(primary, chain.Name, breakerCfg)
	for _, entry := range chain.Fallbacks {
		p, err := buildTTS(entry)
		if err != nil {
			return nil, fmt.Errorf("tts fallback %q: %w", entry.Name, err)
		}
		failover.AddFallback(entry.Name, p)
	}
	slog.Info("provider chain ready", "kind", "tts", "primary", chain.Name, "fallbacks", len(chain.Fallbacks))
	return failover, nil
}

func buildTTS(entry config.ProviderEntry) (tts.Provider, error) {
	switch entry.Name {
	case "elevenlabs":
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if format := entry.StringOption("output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	case "openai":
		var opts []ttsoai.Option
		if entry.BaseURL != "" {
			opts = append(opts, ttsoai.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, ttsoai.WithModel(entry.Model))
		}
		return ttsoai.New(entry.APIKey, opts...)
	default:
		return nil, fmt.Errorf("unsupported tts provider %q", entry.Name)
	}
}

// fallbackSegment prepares the audible apology for unanswerable turns: the
// configured pre-rendered audio if any, otherwise a clip synthesized once at
// startup. When synthesis fails too, failed turns stay silent (text channel
// notifications still go out).
func fallbackSegment(ctx context.Context, cfg *config.Config, ttsChain tts.Provider) call.Segment {
	if cfg.Fallback.URI != "" {
		return call.Segment{ID: uuid.NewString(), URI: cfg.Fallback.URI}
	}

	synthCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clip, err := ttsChain.Synthesize(synthCtx, fallbackMessage, cfg.Defaults.Channel().Voice())
	if err != nil {
		slog.Warn("could not synthesize fallback clip; failed turns will be silent", "err", err)
		return call.Segment{}
	}
	return call.Segment{
		ID:         uuid.NewString(),
		PCM:        clip.PCM,
		SampleRate: clip.SampleRate,
		Channels:   clip.Channels,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Sibyl — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	if cfg.Store.PostgresDSN != "" {
		fmt.Printf("║  Store        : %-22s ║\n", "postgres")
	} else {
		fmt.Printf("║  Store        : %-22s ║\n", "memory")
	}
	if cfg.Server.MetricsAddr != "" {
		fmt.Printf("║  Metrics      : %-22s ║\n", cfg.Server.MetricsAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if model != "" {
		value = name + " / " + model
	}
	if len(value) > 22 {
		value = value[:19] + "…"
	}
	fmt.Printf("║  %-11s  : %-22s ║\n", kind, value)
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
