package voice

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hexlantern/sibyl/internal/notify"
	"github.com/hexlantern/sibyl/internal/observe"
	"github.com/hexlantern/sibyl/internal/settings"
	"github.com/hexlantern/sibyl/pkg/call"
	"github.com/hexlantern/sibyl/pkg/provider/llm"
	"github.com/hexlantern/sibyl/pkg/provider/stt"
	"github.com/hexlantern/sibyl/pkg/provider/tts"
)

// synthesisConcurrency caps how many TTS segments are synthesized at once
// for a single answer.
const synthesisConcurrency = 4

// userFailureMessage is posted to the text channel when a turn cannot be
// answered. The spoken side of the failure is the fallback segment.
const userFailureMessage = "Sorry, I could not answer that. Please try again."

// PipelineConfig wires a [Pipeline] to its collaborators.
type PipelineConfig struct {
	STT      stt.Provider
	LLM      llm.Provider
	TTS      tts.Provider
	Settings *settings.Service
	Notifier notify.Notifier

	// Metrics is optional; nil disables instrumentation.
	Metrics *observe.Metrics
}

// Pipeline orchestrates one end-to-end turn: capture payload in, spoken
// answer out. It holds no per-turn state, so a single pipeline serves every
// call concurrently.
//
// Every failure path converges on the playback controller's fallback segment:
// a failed turn is audible to the user, never silent. (The one exception is
// an utterance that does not address the configured activation phrase, which
// is dropped without a sound.)
type Pipeline struct {
	stt      stt.Provider
	llm      llm.Provider
	tts      tts.Provider
	settings *settings.Service
	notifier notify.Notifier
	metrics  *observe.Metrics
}

// NewPipeline creates a pipeline from cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		stt:      cfg.STT,
		llm:      cfg.LLM,
		tts:      cfg.TTS,
		settings: cfg.Settings,
		notifier: cfg.Notifier,
		metrics:  cfg.Metrics,
	}
}

// HandleCapture runs one turn for a finished capture: transcribe, generate
// the answer, synthesize segments, and hand them to pc in order. It never
// returns an error; every failure is logged, reported to the channel, and
// closed out audibly through the fallback segment.
//
// Call it from the capture handoff goroutine; it blocks until the answer is
// queued for playback.
func (p *Pipeline) HandleCapture(ctx context.Context, pc *Controller, payload CapturePayload) {
	turnStart := time.Now()

	ch, err := p.settings.Get(ctx, payload.ChannelID)
	if err != nil {
		slog.Warn("pipeline: channel settings unavailable, using defaults",
			"channel", payload.ChannelID, "error", err)
	}
	wake := NewWakeDetector(ch.ActivationPhrase)

	// Audible "working on it" feedback while the answer is generated.
	// Skipped when a wake phrase is configured, since most utterances will
	// not be addressed to the assistant at all.
	if ch.WaitingURI != "" && ch.ActivationPhrase == "" {
		p.preemptWaiting(ctx, pc, ch.WaitingURI)
	}

	transcript, err := p.transcribe(ctx, payload, ch.Language)
	if err != nil {
		if errors.Is(err, stt.ErrNoSpeech) && ch.ActivationPhrase != "" {
			slog.Debug("pipeline: no speech recognised, dropped", "channel", payload.ChannelID)
			return
		}
		slog.Error("pipeline: transcription failed",
			"channel", payload.ChannelID, "user", payload.UserID, "error", err)
		p.failTurn(ctx, pc, payload.ChannelID)
		return
	}
	slog.Debug("pipeline: transcript",
		"channel", payload.ChannelID, "user", payload.UserID, "text", transcript)

	if !wake.Match(transcript) {
		slog.Debug("pipeline: activation phrase absent, dropped", "channel", payload.ChannelID)
		return
	}
	if ch.WaitingURI != "" && ch.ActivationPhrase != "" {
		p.preemptWaiting(ctx, pc, ch.WaitingURI)
	}

	answer, err := p.generate(ctx, payload.ChannelID, transcript, ch)
	if err != nil {
		slog.Error("pipeline: answer generation failed",
			"channel", payload.ChannelID, "error", err)
		p.failTurn(ctx, pc, payload.ChannelID)
		return
	}

	if err := p.settings.AppendHistory(ctx, payload.ChannelID,
		llm.Message{Role: "user", Content: transcript},
		llm.Message{Role: "assistant", Content: answer},
	); err != nil {
		slog.Warn("pipeline: history not persisted", "channel", payload.ChannelID, "error", err)
	}

	segments := p.synthesize(ctx, answer, ch.Voice())
	if len(segments) == 0 {
		slog.Error("pipeline: all segments failed to synthesize", "channel", payload.ChannelID)
		p.failTurn(ctx, pc, payload.ChannelID)
		return
	}

	if p.metrics != nil {
		p.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
		for range segments {
			p.metrics.RecordPlaybackSegment(ctx, "answer")
		}
	}
	pc.StartAnswer(segments)
}

// preemptWaiting plays the channel's waiting sound out-of-band.
func (p *Pipeline) preemptWaiting(ctx context.Context, pc *Controller, uri string) {
	pc.Preempt(call.Segment{ID: uuid.NewString(), URI: uri})
	if p.metrics != nil {
		p.metrics.RecordPlaybackSegment(ctx, "waiting")
	}
}

// transcribe runs the STT call with timing and request metrics.
func (p *Pipeline) transcribe(ctx context.Context, payload CapturePayload, language string) (string, error) {
	start := time.Now()
	transcript, err := p.stt.Transcribe(ctx, payload.Audio, language)
	if p.metrics != nil {
		p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordProviderRequest(ctx, "stt", "transcribe", status)
		if err != nil && !errors.Is(err, stt.ErrNoSpeech) {
			p.metrics.RecordProviderError(ctx, "stt", "transcribe")
		}
	}
	return transcript, err
}

// generate runs the LLM call with the channel's history and prompt.
func (p *Pipeline) generate(ctx context.Context, channelID, transcript string, ch settings.Channel) (string, error) {
	history, err := p.settings.History(ctx, channelID)
	if err != nil {
		slog.Warn("pipeline: history unavailable", "channel", channelID, "error", err)
	}

	start := time.Now()
	answer, err := p.llm.Answer(ctx, llm.AnswerRequest{
		Transcript:     transcript,
		ConversationID: channelID,
		Model:          ch.Model,
		SystemPrompt:   ch.SystemPrompt,
		History:        history,
	})
	if p.metrics != nil {
		p.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.RecordProviderRequest(ctx, "llm", "answer", status)
		if err != nil {
			p.metrics.RecordProviderError(ctx, "llm", "answer")
		}
	}
	return answer, err
}

// synthesize splits the answer per the backend's length limit and synthesizes
// the chunks in parallel. Playback order always matches answer order no
// matter which synthesis finishes first: results land in their chunk's slot
// and failed chunks are skipped. Returns nil when every chunk failed.
func (p *Pipeline) synthesize(ctx context.Context, answer string, voice tts.Voice) []call.Segment {
	chunks := SplitText(answer, p.tts.MaxTextLen())
	if len(chunks) == 0 {
		return nil
	}

	clips := make([]tts.Clip, len(chunks))
	failed := make([]bool, len(chunks))

	var g errgroup.Group
	g.SetLimit(synthesisConcurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			start := time.Now()
			clip, err := p.tts.Synthesize(ctx, chunk, voice)
			if p.metrics != nil {
				p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
				status := "ok"
				if err != nil {
					status = "error"
				}
				p.metrics.RecordProviderRequest(ctx, "tts", "synthesize", status)
			}
			if err != nil {
				// A failed chunk is skipped, not fatal: the rest of the
				// answer still plays.
				slog.Warn("pipeline: segment synthesis failed",
					"segment", i, "error", err)
				if p.metrics != nil {
					p.metrics.RecordProviderError(ctx, "tts", "synthesize")
				}
				failed[i] = true
				return nil
			}
			clips[i] = clip
			return nil
		})
	}
	_ = g.Wait()

	var segments []call.Segment
	for i, clip := range clips {
		if failed[i] || clip.IsZero() {
			continue
		}
		segments = append(segments, call.Segment{
			ID:         uuid.NewString(),
			URI:        clip.URI,
			PCM:        clip.PCM,
			SampleRate: clip.SampleRate,
			Channels:   clip.Channels,
		})
	}
	return segments
}

// failTurn closes out a failed turn: a text notification plus the audible
// fallback segment, exactly once.
func (p *Pipeline) failTurn(ctx context.Context, pc *Controller, channelID string) {
	if p.notifier != nil {
		if err := p.notifier.Send(ctx, channelID, userFailureMessage); err != nil {
			slog.Warn("pipeline: failure notification not delivered",
				"channel", channelID, "error", err)
		}
	}
	if p.metrics != nil {
		p.metrics.FallbackAnswers.Add(ctx, 1)
		p.metrics.RecordPlaybackSegment(ctx, "fallback")
	}
	pc.StartAnswer(nil)
}
