// Package mock provides an in-memory mock implementation of [stt.Provider]
// for use in unit tests. It records every call and returns configurable
// results, following the same conventions as the other provider mocks.
package mock

import (
	"context"
	"sync"

	"github.com/hexlantern/sibyl/pkg/provider/stt"
)

// TranscribeCall records the arguments of a single Transcribe invocation.
type TranscribeCall struct {
	// Audio is the payload passed to Transcribe.
	Audio stt.Audio
	// LanguageHint is the language hint passed to Transcribe.
	LanguageHint string
}

// Provider is a mock implementation of [stt.Provider].
// Set Result/Err before use; inspect Calls after.
type Provider struct {
	mu sync.Mutex

	// Result is the transcript returned by Transcribe.
	Result string

	// Err is the error returned by Transcribe.
	Err error

	// Fn, when non-nil, is invoked instead of returning Result/Err.
	Fn func(ctx context.Context, audio stt.Audio, languageHint string) (string, error)

	// Calls records all Transcribe invocations.
	Calls []TranscribeCall
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio, languageHint string) (string, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Audio: audio, LanguageHint: languageHint})
	fn := p.Fn
	result, err := p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio, languageHint)
	}
	return result, err
}

// CallCount returns the number of Transcribe invocations so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
