package voice

import (
	"context"
	"errors"
	"fmt"

	"github.com/hexlantern/sibyl/pkg/call"
	"github.com/hexlantern/sibyl/pkg/provider/stt"
)

// ErrNoAudio is returned when a capture ended before any frame was decoded,
// e.g. a speaking signal with no packets behind it. Callers should drop the
// capture quietly rather than treat it as a failure.
var ErrNoAudio = errors.New("voice: capture produced no audio")

// CapturePayload is the finished, fully-buffered result of one utterance
// capture. Immutable once produced; consumed exactly once by the answer
// pipeline.
type CapturePayload struct {
	GuildID   string
	ChannelID string
	UserID    string
	Audio     stt.Audio
}

// CaptureSession owns the lifecycle of one utterance capture: it drives a
// speaker's packet stream through a [CodecBridge] and tags the result with
// call identity. A session serves exactly one utterance and is then
// discarded; Run a second time returns an error.
type CaptureSession struct {
	guildID   string
	channelID string
	userID    string
	bridge    *CodecBridge
	used      bool
}

// NewCaptureSession creates a session for one utterance of userID in the
// given call, producing a payload in the given container format.
func NewCaptureSession(guildID, channelID, userID string, format stt.Format) (*CaptureSession, error) {
	bridge, err := NewCodecBridge(format)
	if err != nil {
		return nil, err
	}
	return &CaptureSession{
		guildID:   guildID,
		channelID: channelID,
		userID:    userID,
		bridge:    bridge,
	}, nil
}

// Run transcodes the packet stream to completion and returns the payload.
// The codec state is released before Run returns, on success and on error.
func (s *CaptureSession) Run(ctx context.Context, packets <-chan call.Packet) (CapturePayload, error) {
	if s.used {
		return CapturePayload{}, fmt.Errorf("voice: capture session already consumed")
	}
	s.used = true
	defer s.bridge.Close()

	audio, err := s.bridge.Transcode(ctx, packets)
	if err != nil {
		return CapturePayload{}, err
	}
	return CapturePayload{
		GuildID:   s.guildID,
		ChannelID: s.channelID,
		UserID:    s.userID,
		Audio:     audio,
	}, nil
}
