package resilience

import (
	"context"

	"github.com/hexlantern/sibyl/pkg/provider/llm"
)

// LLMFailover implements [llm.Provider] with automatic failover across
// multiple answer backends. Each backend has its own circuit breaker.
type LLMFailover struct {
	group *FallbackGroup[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFailover)(nil)

// NewLLMFailover creates an [LLMFailover] with primary as the preferred backend.
func NewLLMFailover(primary llm.Provider, primaryName string, cfg CircuitBreakerConfig) *LLMFailover {
	return &LLMFailover{
		group: NewFallbackGroup(primary, primaryName, FallbackConfig{CircuitBreaker: cfg}),
	}
}

// AddFallback registers an additional answer provider as a fallback.
func (f *LLMFailover) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Answer generates a reply using the first healthy backend.
func (f *LLMFailover) Answer(ctx context.Context, req llm.AnswerRequest) (string, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (string, error) {
		return p.Answer(ctx, req)
	})
}
