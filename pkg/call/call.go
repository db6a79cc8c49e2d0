// Package call defines the interfaces and types for voice-call connectivity
// within Sibyl.
//
// The three primary abstractions are:
//
//   - [Transport] — joins a voice channel and returns a [Conn].
//   - [Conn] — an active session on that channel, giving callers per-speaker
//     compressed packet streams, speaking-activity signals, and a single
//     output [Sink].
//   - [Sink] — the one output binding through which synthesized answers are
//     played into the call.
//
// Implementations are provided by platform-specific adapter packages
// (e.g., call/discord). The interfaces are intentionally narrow so the voice
// pipeline stays decoupled from provider details.
//
// This package lives under pkg/ because external code (third-party call
// adapters) is expected to implement [Transport] and [Conn].
package call

import (
	"context"
	"time"
)

// Packet is a single opaque compressed audio frame captured from one speaker.
// Packets within one subscription arrive in capture order and must be decoded
// in that order — the downstream codecs are stateful.
type Packet struct {
	// UserID is the platform-specific identifier of the speaking participant.
	UserID string

	// Opus is the raw compressed frame as delivered by the transport.
	Opus []byte

	// Timestamp marks when this packet was captured, relative to stream start.
	Timestamp time.Duration
}

// Segment is one playable unit of synthesized speech handed to a [Sink].
// Exactly one of URI or PCM is set: URI references a remote audio resource,
// PCM holds 16-bit little-endian interleaved samples.
type Segment struct {
	// ID uniquely identifies the segment for finished/error event correlation.
	ID string

	// URI is a remote audio resource location, when the segment is not buffered.
	URI string

	// PCM is the in-memory audio buffer, when the segment is not a URI.
	PCM []byte

	// SampleRate in Hz of the PCM data. Ignored for URI segments.
	SampleRate int

	// Channels of the PCM data (1 = mono, 2 = stereo). Ignored for URI segments.
	Channels int
}

// IsZero reports whether the segment carries neither a URI nor a buffer.
func (s Segment) IsZero() bool {
	return s.URI == "" && len(s.PCM) == 0
}

// Sink is the single audio output binding of a call.
//
// A Sink plays at most one segment at a time. Play replaces whatever is
// currently playing. The Sink emits a finished event when a segment plays to
// natural completion, and an error event when playback of a segment fails;
// neither fires for segments cut short by a subsequent Play or Stop.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Play starts playback of seg, stopping the current segment first if one
	// is playing. Returns an error only if playback cannot be started at all
	// (e.g., the segment is empty or the connection is gone); mid-playback
	// faults are reported through the error callback instead.
	Play(seg Segment) error

	// Stop halts the current segment, if any. No finished event is emitted
	// for a stopped segment. Stop while idle is a no-op.
	Stop()

	// OnFinished registers cb to be invoked with the segment ID whenever a
	// segment plays to natural completion. Only one callback may be
	// registered; subsequent calls replace the previous registration.
	// The callback runs on an internal goroutine — it must not block.
	OnFinished(cb func(segmentID string))

	// OnError registers cb for mid-playback faults, identified by segment ID.
	// Registration semantics match OnFinished.
	OnError(cb func(segmentID string, err error))

	// Close detaches all listeners and releases the output binding. Safe to
	// call more than once; subsequent calls are no-ops.
	Close() error
}

// Conn represents an active session on a voice channel.
//
// A Conn is obtained from [Transport.Join] and remains valid until
// [Conn.Close] is called or the underlying platform connection is destroyed.
//
// Implementations must be safe for concurrent use.
type Conn interface {
	// Subscribe opens a per-speaker packet stream for userID. The returned
	// channel delivers packets in arrival order and is closed by the
	// implementation once the speaker has been continuously silent for
	// silenceTimeout, or when ctx is cancelled, whichever comes first.
	//
	// At most one subscription per speaker may be open at a time; a second
	// Subscribe for the same speaker returns an error.
	Subscribe(ctx context.Context, userID string, silenceTimeout time.Duration) (<-chan Packet, error)

	// OnSpeaking registers cb as the callback for speaking start/stop signals.
	// Only one callback may be registered; subsequent calls replace it.
	// The callback is invoked on an internal goroutine — it must not block.
	OnSpeaking(cb func(userID string, speaking bool))

	// Sink returns the call's output sink, creating it lazily on first call.
	// The same Sink is returned for the lifetime of the Conn.
	Sink() Sink

	// OnClosed registers cb to be invoked once when the underlying platform
	// connection is destroyed (voluntarily or not).
	OnClosed(cb func())

	// Close cleanly tears down the connection: closes all open subscriptions,
	// closes the sink, and detaches platform listeners. Safe to call more
	// than once; subsequent calls return nil.
	Close() error
}

// Transport is the entry point for a voice-call provider.
//
// Implementations must be safe for concurrent use.
type Transport interface {
	// Join connects to the voice channel identified by guildID/channelID and
	// returns an active [Conn]. The supplied ctx governs only the join
	// attempt; once joined, the Conn lives until [Conn.Close].
	Join(ctx context.Context, guildID, channelID string) (Conn, error)
}
