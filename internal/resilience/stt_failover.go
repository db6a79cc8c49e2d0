package resilience

import (
	"context"
	"errors"

	"github.com/hexlantern/sibyl/pkg/provider/stt"
)

// STTFailover implements [stt.Provider] with automatic failover across
// multiple STT backends. Each backend has its own circuit breaker.
//
// [stt.ErrNoSpeech] is an expected outcome, not a provider fault: it is
// returned immediately without trying further backends and without counting
// against the producing backend's breaker.
type STTFailover struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFailover)(nil)

// NewSTTFailover creates an [STTFailover] with primary as the preferred backend.
func NewSTTFailover(primary stt.Provider, primaryName string, cfg CircuitBreakerConfig) *STTFailover {
	return &STTFailover{
		group: NewFallbackGroup(primary, primaryName, FallbackConfig{
			CircuitBreaker: cfg,
			Terminal: func(err error) bool {
				return errors.Is(err, stt.ErrNoSpeech)
			},
		}),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFailover) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe runs the transcription against the first healthy backend.
func (f *STTFailover) Transcribe(ctx context.Context, audio stt.Audio, languageHint string) (string, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (string, error) {
		return p.Transcribe(ctx, audio, languageHint)
	})
}
