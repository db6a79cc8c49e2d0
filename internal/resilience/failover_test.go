package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/hexlantern/sibyl/pkg/provider/llm"
	llmmock "github.com/hexlantern/sibyl/pkg/provider/llm/mock"
	"github.com/hexlantern/sibyl/pkg/provider/stt"
	sttmock "github.com/hexlantern/sibyl/pkg/provider/stt/mock"
	ttsmock "github.com/hexlantern/sibyl/pkg/provider/tts/mock"
)

func testAudio() stt.Audio {
	return stt.Audio{Format: stt.FormatFLAC, Data: []byte{1, 2, 3}, SampleRate: 48000, Channels: 2}
}

// ─── STT failover ────────────────────────────────────────────────────────────

func TestSTTFailover_FailsOverToBackup(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{Err: errProbe}
	backup := &sttmock.Provider{Result: "hello from backup"}

	f := NewSTTFailover(primary, "primary", CircuitBreakerConfig{})
	f.AddFallback("backup", backup)

	got, err := f.Transcribe(context.Background(), testAudio(), "en")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "hello from backup" {
		t.Errorf("transcript = %q, want backup result", got)
	}
	if primary.CallCount() != 1 || backup.CallCount() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.CallCount(), backup.CallCount())
	}
}

// TestSTTFailover_NoSpeechIsTerminal verifies that a no-speech outcome from
// the primary is returned directly instead of re-running the audio through
// fallback backends.
func TestSTTFailover_NoSpeechIsTerminal(t *testing.T) {
	t.Parallel()

	primary := &sttmock.Provider{Err: stt.ErrNoSpeech}
	backup := &sttmock.Provider{Result: "phantom speech"}

	f := NewSTTFailover(primary, "primary", CircuitBreakerConfig{MaxFailures: 1})
	f.AddFallback("backup", backup)

	for range 3 {
		_, err := f.Transcribe(context.Background(), testAudio(), "en")
		if !errors.Is(err, stt.ErrNoSpeech) {
			t.Fatalf("error = %v, want ErrNoSpeech", err)
		}
	}
	if backup.CallCount() != 0 {
		t.Errorf("backup called %d times, want 0", backup.CallCount())
	}
	// ErrNoSpeech must not have tripped the primary's breaker.
	if primary.CallCount() != 3 {
		t.Errorf("primary called %d times, want 3", primary.CallCount())
	}
}

// ─── LLM failover ────────────────────────────────────────────────────────────

func TestLLMFailover_FailsOverToBackup(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{Err: errProbe}
	backup := &llmmock.Provider{Result: "backup answer"}

	f := NewLLMFailover(primary, "primary", CircuitBreakerConfig{})
	f.AddFallback("backup", backup)

	got, err := f.Answer(context.Background(), llm.AnswerRequest{Transcript: "hi"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got != "backup answer" {
		t.Errorf("answer = %q, want backup result", got)
	}
}

func TestLLMFailover_AllFailed(t *testing.T) {
	t.Parallel()

	f := NewLLMFailover(&llmmock.Provider{Err: errProbe}, "primary", CircuitBreakerConfig{})
	f.AddFallback("backup", &llmmock.Provider{Err: errProbe})

	_, err := f.Answer(context.Background(), llm.AnswerRequest{Transcript: "hi"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("error = %v, want ErrAllFailed", err)
	}
}

// ─── TTS failover ────────────────────────────────────────────────────────────

func TestTTSFailover_MaxTextLenIsTightestLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		limits []int
		want   int
	}{
		{name: "smallest positive wins", limits: []int{4096, 550, 1000}, want: 550},
		{name: "unlimited entries ignored", limits: []int{0, 4096}, want: 4096},
		{name: "all unlimited", limits: []int{0, 0}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := NewTTSFailover(&ttsmock.Provider{MaxTextLenResult: tt.limits[0]}, "p0", CircuitBreakerConfig{})
			for i, l := range tt.limits[1:] {
				f.AddFallback(fmt.Sprintf("p%d", i+1), &ttsmock.Provider{MaxTextLenResult: l})
			}
			if got := f.MaxTextLen(); got != tt.want {
				t.Errorf("MaxTextLen() = %d, want %d", got, tt.want)
			}
		})
	}
}
