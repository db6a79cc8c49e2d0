package resilience

import (
	"context"

	"github.com/hexlantern/sibyl/pkg/provider/tts"
)

// TTSFailover implements [tts.Provider] with automatic failover across
// multiple synthesis backends. Each backend has its own circuit breaker.
type TTSFailover struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFailover)(nil)

// NewTTSFailover creates a [TTSFailover] with primary as the preferred backend.
func NewTTSFailover(primary tts.Provider, primaryName string, cfg CircuitBreakerConfig) *TTSFailover {
	return &TTSFailover{
		group: NewFallbackGroup(primary, primaryName, FallbackConfig{CircuitBreaker: cfg}),
	}
}

// AddFallback registers an additional synthesis provider as a fallback.
func (f *TTSFailover) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize renders text using the first healthy backend.
func (f *TTSFailover) Synthesize(ctx context.Context, text string, voice tts.Voice) (tts.Clip, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (tts.Clip, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// MaxTextLen returns the tightest positive limit across all registered
// backends, so that split text fits whichever backend ends up serving the
// request. Zero means every backend accepts unbounded input.
func (f *TTSFailover) MaxTextLen() int {
	limit := 0
	for i := range f.group.entries {
		l := f.group.entries[i].value.MaxTextLen()
		if l > 0 && (limit == 0 || l < limit) {
			limit = l
		}
	}
	return limit
}
