// Package discord provides a [call.Transport] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges
// Discord's Opus-based voice transport with Sibyl's capture and playback
// pipeline: incoming packets are demuxed per speaker and handed through
// compressed, outgoing answers are encoded to Opus and muxed onto the
// connection's single send stream.
//
// The transport requires an active *discordgo.Session (owned by the bot
// layer). Each call to [Transport.Join] joins the specified voice channel
// and returns a [Conn].
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/hexlantern/sibyl/pkg/call"
)

// Compile-time interface assertion.
var _ call.Transport = (*Transport)(nil)

// Transport implements [call.Transport] using discordgo voice connections.
//
// Transport is safe for concurrent use.
type Transport struct {
	session *discordgo.Session
}

// New creates a new Discord Transport for the given session.
func New(session *discordgo.Session) *Transport {
	return &Transport{session: session}
}

// Join implements [call.Transport]. mute=false (we send audio), deaf=false
// (we receive audio).
func (t *Transport) Join(ctx context.Context, guildID, channelID string) (call.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}

	vc, err := t.session.ChannelVoiceJoin(guildID, channelID, false, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newConn(vc, t.session, guildID), nil
}
