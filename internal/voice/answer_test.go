package voice

import (
	"context"
	"errors"
	"testing"
	"time"

	notifymock "github.com/hexlantern/sibyl/internal/notify/mock"
	"github.com/hexlantern/sibyl/internal/settings"
	callmock "github.com/hexlantern/sibyl/pkg/call/mock"
	llmmock "github.com/hexlantern/sibyl/pkg/provider/llm/mock"
	"github.com/hexlantern/sibyl/pkg/provider/stt"
	sttmock "github.com/hexlantern/sibyl/pkg/provider/stt/mock"
	"github.com/hexlantern/sibyl/pkg/provider/tts"
	ttsmock "github.com/hexlantern/sibyl/pkg/provider/tts/mock"
	"github.com/hexlantern/sibyl/pkg/store/mem"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

type pipelineFixture struct {
	pipeline *Pipeline
	pc       *Controller
	sink     *callmock.Sink
	stt      *sttmock.Provider
	llm      *llmmock.Provider
	tts      *ttsmock.Provider
	notifier *notifymock.Notifier
	settings *settings.Service
}

// newPipelineFixture wires a pipeline to mocks and an in-memory settings
// store; defaults seeds the channel settings defaults.
func newPipelineFixture(t *testing.T, defaults settings.Channel) *pipelineFixture {
	t.Helper()

	f := &pipelineFixture{
		sink:     &callmock.Sink{},
		stt:      &sttmock.Provider{Result: "hello there"},
		llm:      &llmmock.Provider{Result: "General answer."},
		tts:      &ttsmock.Provider{Result: tts.Clip{URI: "file:///clip.opus"}},
		notifier: &notifymock.Notifier{},
		settings: settings.NewService(mem.New(), defaults),
	}
	f.pc = NewController(testFallback)
	f.pc.EnsureBound(&callmock.Conn{SinkResult: f.sink})
	f.pipeline = NewPipeline(PipelineConfig{
		STT:      f.stt,
		LLM:      f.llm,
		TTS:      f.tts,
		Settings: f.settings,
		Notifier: f.notifier,
	})
	return f
}

func (f *pipelineFixture) handle(t *testing.T) {
	t.Helper()
	f.pipeline.HandleCapture(context.Background(), f.pc, CapturePayload{
		GuildID:   "guild-1",
		ChannelID: "channel-1",
		UserID:    "alice",
		Audio:     stt.Audio{Format: stt.FormatFLAC, Data: []byte{1, 2, 3}, SampleRate: 48000, Channels: 2},
	})
}

// ─── Pipeline tests ───────────────────────────────────────────────────────────

// TestPipeline_HappyPath verifies a full turn: transcript, answer, one
// synthesized segment handed to playback, history persisted.
func TestPipeline_HappyPath(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t, settings.Channel{})
	f.handle(t)

	got := playedIDs(f.sink)
	if len(got) != 1 {
		t.Fatalf("played %v, want one segment", got)
	}
	if f.sink.Playing().URI != "file:///clip.opus" {
		t.Errorf("playing URI = %q, want synthesized clip", f.sink.Playing().URI)
	}
	if f.notifier.CallCount() != 0 {
		t.Errorf("notifications = %d, want 0", f.notifier.CallCount())
	}

	history, err := f.settings.History(context.Background(), "channel-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history entries = %d, want 2", len(history))
	}
	if history[0].Role != "user" || history[0].Content != "hello there" {
		t.Errorf("history[0] = %+v, want user transcript", history[0])
	}
	if history[1].Role != "assistant" || history[1].Content != "General answer." {
		t.Errorf("history[1] = %+v, want assistant answer", history[1])
	}
}

// TestPipeline_FailuresFallBackAudibly verifies that every failing stage ends
// with the fallback segment played exactly once and a notification sent,
// never a silent turn.
func TestPipeline_FailuresFallBackAudibly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		setup func(f *pipelineFixture)
	}{
		{
			name: "transcription fails",
			setup: func(f *pipelineFixture) {
				f.stt.Err = errors.New("upstream 500")
			},
		},
		{
			name: "no speech recognised",
			setup: func(f *pipelineFixture) {
				f.stt.Err = stt.ErrNoSpeech
			},
		},
		{
			name: "answer generation fails",
			setup: func(f *pipelineFixture) {
				f.llm.Err = errors.New("model unavailable")
			},
		},
		{
			name: "all segments fail to synthesize",
			setup: func(f *pipelineFixture) {
				f.tts.Err = errors.New("voice gone")
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newPipelineFixture(t, settings.Channel{})
			tc.setup(f)
			f.handle(t)

			got := playedIDs(f.sink)
			if len(got) != 1 || got[0] != testFallback.ID {
				t.Fatalf("played %v, want exactly [%q]", got, testFallback.ID)
			}
			if f.notifier.CallCount() != 1 {
				t.Errorf("notifications = %d, want 1", f.notifier.CallCount())
			}
		})
	}
}

// TestPipeline_SegmentOrderUnderRace verifies that playback order matches
// answer order even when a later chunk finishes synthesizing first.
func TestPipeline_SegmentOrderUnderRace(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t, settings.Channel{})
	f.llm.Result = "First sentence here. Second sentence here."
	f.tts.MaxTextLenResult = 25
	f.tts.Fn = func(_ context.Context, text string, _ tts.Voice) (tts.Clip, error) {
		// Delay the first chunk so the second resolves before it.
		if text == "First sentence here." {
			time.Sleep(100 * time.Millisecond)
		}
		return tts.Clip{URI: "file:///" + text}, nil
	}

	f.handle(t)

	first := f.sink.Playing()
	if first.URI != "file:///First sentence here." {
		t.Fatalf("first played = %q, want the first chunk", first.URI)
	}

	f.sink.EmitFinished(first.ID)
	second := f.sink.Playing()
	if second.URI != "file:///Second sentence here." {
		t.Fatalf("second played = %q, want the second chunk", second.URI)
	}
}

// TestPipeline_PartialSynthesisStillPlays verifies that one failed chunk is
// skipped while the surviving chunks play in order.
func TestPipeline_PartialSynthesisStillPlays(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t, settings.Channel{})
	f.llm.Result = "First sentence here. Second sentence here. A third one too."
	f.tts.MaxTextLenResult = 25
	f.tts.Fn = func(_ context.Context, text string, _ tts.Voice) (tts.Clip, error) {
		if text == "Second sentence here." {
			return tts.Clip{}, errors.New("synthesis refused")
		}
		return tts.Clip{URI: "file:///" + text}, nil
	}

	f.handle(t)

	first := f.sink.Playing()
	if first.URI != "file:///First sentence here." {
		t.Fatalf("first played = %q, want the first chunk", first.URI)
	}
	f.sink.EmitFinished(first.ID)
	second := f.sink.Playing()
	if second.URI != "file:///A third one too." {
		t.Fatalf("second played = %q, want the third chunk (second skipped)", second.URI)
	}
	if f.notifier.CallCount() != 0 {
		t.Errorf("notifications = %d, want 0 for partial success", f.notifier.CallCount())
	}
}

// TestPipeline_ActivationPhraseGate verifies that utterances not addressed to
// the assistant are dropped without playback or notification, while addressed
// ones are answered.
func TestPipeline_ActivationPhraseGate(t *testing.T) {
	t.Parallel()

	t.Run("not addressed", func(t *testing.T) {
		t.Parallel()

		f := newPipelineFixture(t, settings.Channel{ActivationPhrase: "sibyl"})
		f.stt.Result = "just chatting with my friends"
		f.handle(t)

		if n := len(f.sink.PlayCalls); n != 0 {
			t.Errorf("plays = %d, want 0 for unaddressed utterance", n)
		}
		if f.notifier.CallCount() != 0 {
			t.Errorf("notifications = %d, want 0", f.notifier.CallCount())
		}
		if f.llm.CallCount() != 0 {
			t.Errorf("llm calls = %d, want 0", f.llm.CallCount())
		}
	})

	t.Run("addressed", func(t *testing.T) {
		t.Parallel()

		f := newPipelineFixture(t, settings.Channel{ActivationPhrase: "sibyl"})
		f.stt.Result = "hey sibyl what time is it"
		f.handle(t)

		if n := len(f.sink.PlayCalls); n != 1 {
			t.Fatalf("plays = %d, want 1", n)
		}
	})

	t.Run("no speech is dropped quietly", func(t *testing.T) {
		t.Parallel()

		f := newPipelineFixture(t, settings.Channel{ActivationPhrase: "sibyl"})
		f.stt.Err = stt.ErrNoSpeech
		f.handle(t)

		if n := len(f.sink.PlayCalls); n != 0 {
			t.Errorf("plays = %d, want 0", n)
		}
		if f.notifier.CallCount() != 0 {
			t.Errorf("notifications = %d, want 0", f.notifier.CallCount())
		}
	})
}

// TestPipeline_WaitingSoundPreempted verifies that the waiting sound plays
// first and the real answer cuts it off.
func TestPipeline_WaitingSoundPreempted(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t, settings.Channel{WaitingURI: "file:///waiting.opus"})
	f.handle(t)

	got := f.sink.PlayCalls
	if len(got) != 2 {
		t.Fatalf("plays = %d, want waiting sound then answer", len(got))
	}
	if got[0].URI != "file:///waiting.opus" {
		t.Errorf("first play = %q, want waiting sound", got[0].URI)
	}
	if got[1].URI != "file:///clip.opus" {
		t.Errorf("second play = %q, want answer clip", got[1].URI)
	}
}

// TestPipeline_ChannelSettingsThreadThrough verifies that per-channel voice
// and model settings reach the providers, not some process-wide default.
func TestPipeline_ChannelSettingsThreadThrough(t *testing.T) {
	t.Parallel()

	f := newPipelineFixture(t, settings.Channel{})
	err := f.settings.Put(context.Background(), "channel-1", settings.Channel{
		Language:     "de",
		VoiceID:      "anna",
		SpeedFactor:  1.2,
		Model:        "gpt-test",
		SystemPrompt: "Antworte kurz.",
	})
	if err != nil {
		t.Fatalf("put settings: %v", err)
	}

	f.handle(t)

	if n := f.stt.CallCount(); n != 1 {
		t.Fatalf("stt calls = %d, want 1", n)
	}
	if got := f.stt.Calls[0].LanguageHint; got != "de" {
		t.Errorf("language hint = %q, want de", got)
	}

	if n := f.llm.CallCount(); n != 1 {
		t.Fatalf("llm calls = %d, want 1", n)
	}
	req := f.llm.Calls[0]
	if req.Model != "gpt-test" || req.SystemPrompt != "Antworte kurz." {
		t.Errorf("llm request = %+v, want channel model and prompt", req)
	}
	if req.ConversationID != "channel-1" {
		t.Errorf("conversation = %q, want channel-1", req.ConversationID)
	}

	if n := f.tts.CallCount(); n != 1 {
		t.Fatalf("tts calls = %d, want 1", n)
	}
	voice := f.tts.Calls[0].Voice
	if voice.ID != "anna" || voice.Language != "de" || voice.SpeedFactor != 1.2 {
		t.Errorf("voice = %+v, want channel voice settings", voice)
	}
}
