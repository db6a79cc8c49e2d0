// Package mock provides in-memory mock implementations of the [call.Transport],
// [call.Conn], and [call.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported
// fields the test can set to control return values.
//
// Typical usage:
//
//	sink := &mock.Sink{}
//	conn := &mock.Conn{SinkResult: sink}
//	transport := &mock.Transport{JoinResult: conn}
//	got, err := transport.Join(ctx, "guild-1", "channel-42")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/hexlantern/sibyl/pkg/call"
)

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [call.Sink].
// Set PlayError before use; inspect PlayCalls and CallCountStop after.
type Sink struct {
	mu sync.Mutex

	// PlayError is returned by [Sink.Play].
	PlayError error

	// PlayCalls records every segment passed to Play, in order.
	PlayCalls []call.Segment

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	finishedCb func(string)
	errorCb    func(string, error)
}

// Play implements [call.Sink]. Records the segment and returns PlayError.
func (s *Sink) Play(seg call.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayCalls = append(s.PlayCalls, seg)
	return s.PlayError
}

// Stop implements [call.Sink].
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
}

// OnFinished implements [call.Sink].
func (s *Sink) OnFinished(cb func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedCb = cb
}

// OnError implements [call.Sink].
func (s *Sink) OnError(cb func(string, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCb = cb
}

// Close implements [call.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// EmitFinished invokes the registered finished callback with segmentID.
// Use in tests to simulate a segment playing to completion.
func (s *Sink) EmitFinished(segmentID string) {
	s.mu.Lock()
	cb := s.finishedCb
	s.mu.Unlock()
	if cb != nil {
		cb(segmentID)
	}
}

// EmitError invokes the registered error callback.
// Use in tests to simulate a mid-playback fault.
func (s *Sink) EmitError(segmentID string, err error) {
	s.mu.Lock()
	cb := s.errorCb
	s.mu.Unlock()
	if cb != nil {
		cb(segmentID, err)
	}
}

// Playing returns the most recently played segment, or a zero segment if
// Play has not been called.
func (s *Sink) Playing() call.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.PlayCalls) == 0 {
		return call.Segment{}
	}
	return s.PlayCalls[len(s.PlayCalls)-1]
}

// ─── Conn ─────────────────────────────────────────────────────────────────────

// SubscribeCall records the arguments of a single [Conn.Subscribe] invocation.
type SubscribeCall struct {
	// UserID is the userID argument passed to Subscribe.
	UserID string
	// SilenceTimeout is the silence timeout passed to Subscribe.
	SilenceTimeout time.Duration
}

// Conn is a mock implementation of [call.Conn].
type Conn struct {
	mu sync.Mutex

	// SubscribeStream is returned by [Conn.Subscribe]. Defaults to a closed
	// channel if left nil.
	SubscribeStream <-chan call.Packet

	// SubscribeError is returned by [Conn.Subscribe].
	SubscribeError error

	// SinkResult is returned by [Conn.Sink]. Defaults to a new [Sink].
	SinkResult call.Sink

	// SubscribeCalls records all Subscribe invocations.
	SubscribeCalls []SubscribeCall

	// CallCountClose records how many times Close was called.
	CallCountClose int

	speakingCb func(string, bool)
	closedCbs  []func()
}

// Subscribe implements [call.Conn]. Records the call and returns
// SubscribeStream / SubscribeError.
func (c *Conn) Subscribe(_ context.Context, userID string, silenceTimeout time.Duration) (<-chan call.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SubscribeCalls = append(c.SubscribeCalls, SubscribeCall{UserID: userID, SilenceTimeout: silenceTimeout})
	if c.SubscribeError != nil {
		return nil, c.SubscribeError
	}
	if c.SubscribeStream == nil {
		ch := make(chan call.Packet)
		close(ch)
		return ch, nil
	}
	return c.SubscribeStream, nil
}

// OnSpeaking implements [call.Conn].
func (c *Conn) OnSpeaking(cb func(string, bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speakingCb = cb
}

// Sink implements [call.Conn]. Returns SinkResult, creating a [Sink] lazily
// if none was set.
func (c *Conn) Sink() call.Sink {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SinkResult == nil {
		c.SinkResult = &Sink{}
	}
	return c.SinkResult
}

// OnClosed implements [call.Conn].
func (c *Conn) OnClosed(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closedCbs = append(c.closedCbs, cb)
}

// Close implements [call.Conn].
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	return nil
}

// EmitSpeaking invokes the registered speaking callback.
// Use in tests to simulate speaking start/stop signals.
func (c *Conn) EmitSpeaking(userID string, speaking bool) {
	c.mu.Lock()
	cb := c.speakingCb
	c.mu.Unlock()
	if cb != nil {
		cb(userID, speaking)
	}
}

// EmitClosed invokes all registered closed callbacks.
func (c *Conn) EmitClosed() {
	c.mu.Lock()
	cbs := make([]func(), len(c.closedCbs))
	copy(cbs, c.closedCbs)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
}

// ─── Transport ────────────────────────────────────────────────────────────────

// JoinCall records the arguments of a single [Transport.Join] invocation.
type JoinCall struct {
	// GuildID is the guildID argument passed to Join.
	GuildID string
	// ChannelID is the channelID argument passed to Join.
	ChannelID string
}

// Transport is a mock implementation of [call.Transport].
type Transport struct {
	mu sync.Mutex

	// JoinResult is the [call.Conn] returned by Join.
	JoinResult call.Conn

	// JoinError is the error returned by Join.
	JoinError error

	// JoinCalls records all Join invocations.
	JoinCalls []JoinCall
}

// Join implements [call.Transport]. Records the call and returns
// JoinResult / JoinError.
func (t *Transport) Join(_ context.Context, guildID, channelID string) (call.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.JoinCalls = append(t.JoinCalls, JoinCall{GuildID: guildID, ChannelID: channelID})
	return t.JoinResult, t.JoinError
}
