// Package notify reports pipeline failures to the text channel of the call
// they happened in, so a failed turn is visible to the user and not just to
// the logs.
package notify

import "context"

// Notifier sends a short text message to a channel.
type Notifier interface {
	Send(ctx context.Context, channelID, text string) error
}

// Func adapts a function to the [Notifier] interface.
type Func func(ctx context.Context, channelID, text string) error

// Send implements [Notifier].
func (f Func) Send(ctx context.Context, channelID, text string) error {
	return f(ctx, channelID, text)
}
