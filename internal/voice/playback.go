package voice

import (
	"log/slog"
	"sync"

	"github.com/hexlantern/sibyl/pkg/call"
)

// Controller owns the single output sink of one call and the queue of
// answer segments feeding it.
//
// A controller is created per call and reused across turns. Segments of one
// answer play strictly in the order supplied; starting a new answer discards
// whatever the previous one still had queued. It is safe for concurrent use:
// when two answers race, the later [Controller.StartAnswer] wins.
type Controller struct {
	fallback call.Segment

	mu      sync.Mutex
	sink    call.Sink
	queue   []call.Segment
	current string // ID of the playing segment, "" when idle
}

// NewController creates a controller. fallback is the segment played when an
// answer produced nothing playable, so a failed turn is audible rather than
// silent.
func NewController(fallback call.Segment) *Controller {
	return &Controller{fallback: fallback}
}

// EnsureBound idempotently attaches the controller to the call's output sink,
// creating the sink on first use and registering the finished/error handlers.
// Must be called before the first Preempt or StartAnswer on a call.
func (c *Controller) EnsureBound(conn call.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink != nil {
		return
	}
	c.sink = conn.Sink()
	c.sink.OnFinished(c.handleFinished)
	c.sink.OnError(c.handleError)
}

// Preempt immediately stops whatever is playing and plays seg out-of-band,
// without touching the queue. Used for audible "please wait" feedback while
// the real answer is still being generated; the next StartAnswer cuts it off.
func (c *Controller) Preempt(seg call.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink == nil || seg.IsZero() {
		return
	}
	if err := c.sink.Play(seg); err != nil {
		slog.Warn("voice: preempt playback failed", "segment", seg.ID, "error", err)
		return
	}
	c.current = seg.ID
}

// StartAnswer replaces the queue wholesale with segments and begins playing
// the first one, pre-empting the waiting sound or any previous in-flight
// answer. Leftover segments of an interrupted answer are discarded, never
// interleaved.
//
// An empty or all-unplayable segment list plays the fallback segment instead,
// so the turn is always audibly closed out.
func (c *Controller) StartAnswer(segments []call.Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink == nil {
		slog.Warn("voice: answer dropped, controller not bound")
		return
	}

	playable := segments[:0:0]
	for _, seg := range segments {
		if !seg.IsZero() {
			playable = append(playable, seg)
		}
	}
	if len(playable) == 0 {
		playable = []call.Segment{c.fallback}
	}

	c.queue = playable
	c.playNextLocked()
}

// playNextLocked dequeues and plays segments until one starts successfully or
// the queue is empty. Caller holds c.mu.
func (c *Controller) playNextLocked() {
	for len(c.queue) > 0 {
		seg := c.queue[0]
		c.queue = c.queue[1:]
		if err := c.sink.Play(seg); err != nil {
			slog.Warn("voice: segment playback failed to start, skipping",
				"segment", seg.ID, "error", err)
			continue
		}
		c.current = seg.ID
		return
	}
	c.current = ""
}

// handleFinished advances the queue when the sink reports natural completion
// of the current segment. Completions of already-superseded segments are
// ignored.
func (c *Controller) handleFinished(segmentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if segmentID != c.current {
		return
	}
	c.playNextLocked()
}

// handleError logs a mid-playback fault and moves on to the next queued
// segment. A single bad segment must not stall the session.
func (c *Controller) handleError(segmentID string, err error) {
	slog.Warn("voice: segment playback error", "segment", segmentID, "error", err)
	c.mu.Lock()
	defer c.mu.Unlock()
	if segmentID != c.current {
		return
	}
	c.playNextLocked()
}

// Idle reports whether nothing is playing and the queue is empty.
func (c *Controller) Idle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == "" && len(c.queue) == 0
}

// Teardown stops playback, drops the queue, and releases the sink binding.
// Called when the call connection is destroyed. The controller can be bound
// again afterwards.
func (c *Controller) Teardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink == nil {
		return
	}
	c.sink.Stop()
	if err := c.sink.Close(); err != nil {
		slog.Warn("voice: sink close", "error", err)
	}
	c.sink = nil
	c.queue = nil
	c.current = ""
}
