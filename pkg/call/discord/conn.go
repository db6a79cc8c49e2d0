package discord

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hexlantern/sibyl/pkg/call"
)

// Compile-time interface assertion.
var _ call.Conn = (*Conn)(nil)

const packetChannelBuffer = 64

// Conn wraps a discordgo.VoiceConnection and adapts it to the [call.Conn]
// interface. Incoming Opus packets are demuxed by SSRC into per-speaker
// subscriptions; packets are handed through compressed, undecoded, because the
// capture pipeline owns the codec state.
//
// Conn is safe for concurrent use.
type Conn struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string

	mu       sync.Mutex
	subs     map[string]*subscription // keyed by userID
	ssrcUser map[uint32]string        // SSRC -> userID, from speaking updates

	speakingCb func(userID string, speaking bool)
	closedCb   func()

	sinkOnce sync.Once
	sink     *Sink

	done      chan struct{}
	closeOnce sync.Once

	// disconnectVC tears down the voice connection during Close.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// subscription is one open per-speaker packet stream. Sends on ch and its
// close both happen under the owning Conn's mutex.
type subscription struct {
	userID  string
	ch      chan call.Packet
	timeout time.Duration
	timer   *time.Timer

	baseSet bool
	baseTS  uint32

	endOnce sync.Once
	ended   chan struct{}
}

// newConn initialises a Conn for an already-joined voice channel and starts
// the receive loop.
func newConn(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string) *Conn {
	c := &Conn{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		subs:         make(map[string]*subscription),
		ssrcUser:     make(map[uint32]string),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}

	// Speaking updates carry the SSRC/userID association Discord never puts
	// in the RTP stream itself.
	vc.AddHandler(func(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
		c.handleSpeakingUpdate(vs)
	})

	go c.recvLoop()
	return c
}

// Subscribe implements [call.Conn].
func (c *Conn) Subscribe(ctx context.Context, userID string, silenceTimeout time.Duration) (<-chan call.Packet, error) {
	if userID == "" {
		return nil, fmt.Errorf("discord: subscribe: userID must not be empty")
	}
	if silenceTimeout <= 0 {
		return nil, fmt.Errorf("discord: subscribe %q: silenceTimeout must be positive", userID)
	}

	select {
	case <-c.done:
		return nil, fmt.Errorf("discord: subscribe %q: connection closed", userID)
	default:
	}

	c.mu.Lock()
	if _, exists := c.subs[userID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("discord: subscribe %q: already subscribed", userID)
	}
	sub := &subscription{
		userID:  userID,
		ch:      make(chan call.Packet, packetChannelBuffer),
		timeout: silenceTimeout,
		ended:   make(chan struct{}),
	}
	sub.timer = time.AfterFunc(silenceTimeout, func() {
		c.endSubscription(sub)
	})
	c.subs[userID] = sub
	c.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			c.endSubscription(sub)
		case <-sub.ended:
		case <-c.done:
			c.endSubscription(sub)
		}
	}()

	return sub.ch, nil
}

// endSubscription closes the stream and removes the subscription. Closing is
// guarded so the timer, ctx watcher, and Close can all race safely.
func (c *Conn) endSubscription(sub *subscription) {
	sub.endOnce.Do(func() {
		sub.timer.Stop()

		// The channel must be closed while holding the lock: recvLoop sends
		// under the same lock, so a packet racing the end of the stream can
		// never hit a closed channel.
		c.mu.Lock()
		if c.subs[sub.userID] == sub {
			delete(c.subs, sub.userID)
		}
		close(sub.ch)
		c.mu.Unlock()

		close(sub.ended)
	})
}

// OnSpeaking implements [call.Conn].
func (c *Conn) OnSpeaking(cb func(userID string, speaking bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speakingCb = cb
}

// Sink implements [call.Conn]. The sink is created on first use and shared
// for the lifetime of the connection.
func (c *Conn) Sink() call.Sink {
	c.sinkOnce.Do(func() {
		c.sink = newSink(c.vc)
	})
	return c.sink
}

// OnClosed implements [call.Conn].
func (c *Conn) OnClosed(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closedCb = cb
}

// Close implements [call.Conn]. It ends all open subscriptions, closes the
// sink, disconnects from the voice channel, and fires the closed callback.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		subs := make([]*subscription, 0, len(c.subs))
		for _, sub := range c.subs {
			subs = append(subs, sub)
		}
		sink := c.sink
		closedCb := c.closedCb
		c.mu.Unlock()

		for _, sub := range subs {
			c.endSubscription(sub)
		}
		if sink != nil {
			_ = sink.Close()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
		if closedCb != nil {
			go closedCb()
		}
	})
	return err
}

// recvLoop reads Opus packets from the voice connection and routes them to
// the matching speaker subscription. Packets from speakers without an open
// subscription, or whose SSRC has not yet been associated with a user, are
// dropped.
func (c *Conn) recvLoop() {
	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				_ = c.Close()
				return
			}
			if pkt == nil {
				continue
			}

			c.mu.Lock()
			userID, known := c.ssrcUser[pkt.SSRC]
			var sub *subscription
			if known {
				sub = c.subs[userID]
			}
			if sub == nil {
				c.mu.Unlock()
				continue
			}

			// Any packet counts as activity.
			sub.timer.Reset(sub.timeout)

			if !sub.baseSet {
				sub.baseSet = true
				sub.baseTS = pkt.Timestamp
			}
			elapsed := time.Duration(pkt.Timestamp-sub.baseTS) * time.Second / time.Duration(opusSampleRate)

			p := call.Packet{
				UserID:    userID,
				Opus:      pkt.Opus,
				Timestamp: elapsed,
			}
			// The send stays inside the critical section: endSubscription
			// closes sub.ch under the same lock, and the buffered
			// non-blocking send never stalls the loop.
			select {
			case sub.ch <- p:
			default:
				// Subscriber is not keeping up, drop rather than block.
			}
			c.mu.Unlock()
		}
	}
}

// handleSpeakingUpdate records the SSRC/userID association and forwards the
// speaking signal to the registered callback.
func (c *Conn) handleSpeakingUpdate(vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}

	c.mu.Lock()
	c.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	cb := c.speakingCb
	c.mu.Unlock()

	if cb != nil {
		go cb(vs.UserID, vs.Speaking)
	}
}
