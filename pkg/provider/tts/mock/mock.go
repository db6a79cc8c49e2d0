// Package mock provides an in-memory mock implementation of [tts.Provider]
// for use in unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/hexlantern/sibyl/pkg/provider/tts"
)

// SynthesizeCall records the arguments of a single Synthesize invocation.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice tts.Voice
}

// Provider is a mock implementation of [tts.Provider].
type Provider struct {
	mu sync.Mutex

	// Result is the clip returned by Synthesize.
	Result tts.Clip

	// Err is the error returned by Synthesize.
	Err error

	// Fn, when non-nil, is invoked instead of returning Result/Err.
	// Useful for per-call behavior such as delaying individual segments.
	Fn func(ctx context.Context, text string, voice tts.Voice) (tts.Clip, error)

	// MaxTextLenResult is returned by MaxTextLen. Zero means unlimited.
	MaxTextLenResult int

	// Calls records all Synthesize invocations.
	Calls []SynthesizeCall
}

// Synthesize implements [tts.Provider].
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.Voice) (tts.Clip, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Voice: voice})
	fn := p.Fn
	result, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, text, voice)
	}
	return result, err
}

// MaxTextLen implements [tts.Provider].
func (p *Provider) MaxTextLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.MaxTextLenResult
}

// CallCount returns the number of Synthesize invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
