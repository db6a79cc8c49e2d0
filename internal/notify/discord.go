package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// Compile-time interface check.
var _ Notifier = (*Discord)(nil)

// Discord sends notifications as plain messages via a Discord session.
type Discord struct {
	session *discordgo.Session
}

// NewDiscord creates a notifier on top of an open session.
func NewDiscord(session *discordgo.Session) *Discord {
	return &Discord{session: session}
}

// Send implements [Notifier].
func (d *Discord) Send(_ context.Context, channelID, text string) error {
	if _, err := d.session.ChannelMessageSend(channelID, text); err != nil {
		return fmt.Errorf("notify: send to %s: %w", channelID, err)
	}
	return nil
}
