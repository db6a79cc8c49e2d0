package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hexlantern/sibyl/internal/observe"
	"github.com/hexlantern/sibyl/pkg/call"
	"github.com/hexlantern/sibyl/pkg/provider/stt"
)

// DefaultSilenceTimeout is how long a speaker must stay silent before the
// transport ends their packet stream. Configured at subscription time.
const DefaultSilenceTimeout = 750 * time.Millisecond

// TrackerConfig configures a [SpeakerTracker].
type TrackerConfig struct {
	// GuildID and ChannelID identify the call; stamped onto every payload.
	GuildID   string
	ChannelID string

	// SelfID is the assistant's own user ID. Its speaking signals are
	// ignored so the assistant never captures itself.
	SelfID string

	// SilenceTimeout ends a capture after this much continuous silence.
	// Zero means [DefaultSilenceTimeout].
	SilenceTimeout time.Duration

	// Format is the payload container produced by captures.
	Format stt.Format

	// OnPayload receives each finished capture. Called on a per-capture
	// goroutine, never concurrently with itself for the same speaker's
	// capture, and may block (the tracker has already returned to idle).
	OnPayload func(payload CapturePayload)

	// OnError receives capture failures (codec or transport faults). The
	// tracker is already idle when it fires. Optional.
	OnError func(userID string, err error)

	// Metrics is optional; nil disables instrumentation.
	Metrics *observe.Metrics
}

// SpeakerTracker observes start/stop speaking signals for every participant
// in one call and arbitrates whose stream is captured: at most one capture is
// active per call, and signals from the assistant itself are ignored.
//
// The tracker returns to idle the moment the tracked speaker stops, without
// waiting for the capture to finalize, so a new utterance can begin while the
// previous one is still being answered.
type SpeakerTracker struct {
	conn call.Conn
	cfg  TrackerConfig

	mu     sync.Mutex
	active string             // user ID being captured, "" when idle
	cancel context.CancelFunc // ends the active subscription

	wg sync.WaitGroup
}

// NewSpeakerTracker creates a tracker for conn. Call
// [SpeakerTracker.HandleSpeaking] from the connection's speaking callback.
func NewSpeakerTracker(conn call.Conn, cfg TrackerConfig) *SpeakerTracker {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.Format == "" {
		cfg.Format = stt.FormatFLAC
	}
	return &SpeakerTracker{conn: conn, cfg: cfg}
}

// Active returns the user ID currently being captured, if any.
func (t *SpeakerTracker) Active() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active, t.active != ""
}

// HandleSpeaking processes one speaking start/stop signal.
//
// A start signal begins a capture unless one is already active or the signal
// is the assistant's own. A stop signal ends the capture only when it comes
// from the tracked speaker; anything else is a no-op.
func (t *SpeakerTracker) HandleSpeaking(userID string, speaking bool) {
	if speaking {
		t.startCapture(userID)
		return
	}
	t.stopCapture(userID)
}

func (t *SpeakerTracker) startCapture(userID string) {
	if userID == t.cfg.SelfID {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active != "" {
		slog.Debug("voice: speaker ignored, capture already active",
			"user", userID, "active", t.active)
		return
	}

	session, err := NewCaptureSession(t.cfg.GuildID, t.cfg.ChannelID, userID, t.cfg.Format)
	if err != nil {
		slog.Error("voice: create capture session", "user", userID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	packets, err := t.conn.Subscribe(ctx, userID, t.cfg.SilenceTimeout)
	if err != nil {
		cancel()
		slog.Error("voice: subscribe speaker", "user", userID, "error", err)
		return
	}

	t.active = userID
	t.cancel = cancel
	slog.Debug("voice: capture started", "user", userID, "channel", t.cfg.ChannelID)

	if t.cfg.Metrics != nil {
		t.cfg.Metrics.ActiveCaptures.Add(ctx, 1)
	}

	t.wg.Add(1)
	go t.runCapture(ctx, session, userID, packets)
}

// runCapture drives one capture to completion and hands the payload off.
// The tracker may already be idle (or capturing someone else) by the time
// this finishes.
func (t *SpeakerTracker) runCapture(ctx context.Context, session *CaptureSession, userID string, packets <-chan call.Packet) {
	defer t.wg.Done()

	start := time.Now()
	payload, err := session.Run(ctx, packets)

	if t.cfg.Metrics != nil {
		t.cfg.Metrics.ActiveCaptures.Add(context.Background(), -1)
		t.cfg.Metrics.CaptureDuration.Record(context.Background(), time.Since(start).Seconds())
	}

	// Reset to idle if this capture is still the active one. A stop signal
	// usually got here first; a stream that ended on silence timeout did not.
	t.mu.Lock()
	if t.active == userID {
		t.active = ""
		t.cancel = nil
	}
	t.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrNoAudio) {
			slog.Debug("voice: empty capture dropped", "user", userID)
			return
		}
		slog.Error("voice: capture failed", "user", userID, "error", err)
		if t.cfg.Metrics != nil {
			t.cfg.Metrics.CaptureErrors.Add(context.Background(), 1)
		}
		if t.cfg.OnError != nil {
			t.cfg.OnError(userID, err)
		}
		return
	}

	slog.Debug("voice: capture finished",
		"user", userID, "bytes", len(payload.Audio.Data), "format", payload.Audio.Format)
	if t.cfg.OnPayload != nil {
		t.cfg.OnPayload(payload)
	}
}

func (t *SpeakerTracker) stopCapture(userID string) {
	t.mu.Lock()
	if t.active != userID {
		t.mu.Unlock()
		return
	}
	cancel := t.cancel
	t.active = ""
	t.cancel = nil
	t.mu.Unlock()

	// Cancelling the subscription closes the packet stream, which resolves
	// the capture with the frames received so far.
	if cancel != nil {
		cancel()
	}
}

// Stop ends any active capture and waits for in-flight finalization to
// complete. The tracker must not be used afterwards.
func (t *SpeakerTracker) Stop() {
	t.mu.Lock()
	cancel := t.cancel
	t.active = ""
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}
