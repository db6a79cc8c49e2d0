// Package mock provides an in-memory [notify.Notifier] for unit tests.
package mock

import (
	"context"
	"sync"

	"github.com/hexlantern/sibyl/internal/notify"
)

// Compile-time interface check.
var _ notify.Notifier = (*Notifier)(nil)

// SendCall records the arguments of a single Send invocation.
type SendCall struct {
	ChannelID string
	Text      string
}

// Notifier is a mock implementation of [notify.Notifier].
type Notifier struct {
	mu sync.Mutex

	// Err is the error returned by Send.
	Err error

	// Calls records all Send invocations.
	Calls []SendCall
}

// Send implements [notify.Notifier].
func (n *Notifier) Send(_ context.Context, channelID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Calls = append(n.Calls, SendCall{ChannelID: channelID, Text: text})
	return n.Err
}

// CallCount returns the number of Send invocations so far.
func (n *Notifier) CallCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Calls)
}
