// Package mock provides an in-memory mock implementation of [llm.Provider]
// for use in unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/hexlantern/sibyl/pkg/provider/llm"
)

// Provider is a mock implementation of [llm.Provider].
type Provider struct {
	mu sync.Mutex

	// Result is the answer returned by Answer.
	Result string

	// Err is the error returned by Answer.
	Err error

	// Fn, when non-nil, is invoked instead of returning Result/Err.
	Fn func(ctx context.Context, req llm.AnswerRequest) (string, error)

	// Calls records all Answer invocations.
	Calls []llm.AnswerRequest
}

// Answer implements [llm.Provider].
func (p *Provider) Answer(ctx context.Context, req llm.AnswerRequest) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, req)
	fn := p.Fn
	result, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return result, err
}

// CallCount returns the number of Answer invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
