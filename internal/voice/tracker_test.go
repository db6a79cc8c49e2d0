package voice

import (
	"sync"
	"testing"
	"time"

	"github.com/hexlantern/sibyl/pkg/call"
	"github.com/hexlantern/sibyl/pkg/call/mock"
	"github.com/hexlantern/sibyl/pkg/provider/stt"
)

// ─── test helpers ─────────────────────────────────────────────────────────────

// payloadRecorder collects capture handoffs.
type payloadRecorder struct {
	mu       sync.Mutex
	payloads []CapturePayload
	errs     []error
	gotOne   chan struct{}
}

func newPayloadRecorder() *payloadRecorder {
	return &payloadRecorder{gotOne: make(chan struct{}, 8)}
}

func (r *payloadRecorder) onPayload(p CapturePayload) {
	r.mu.Lock()
	r.payloads = append(r.payloads, p)
	r.mu.Unlock()
	r.gotOne <- struct{}{}
}

func (r *payloadRecorder) onError(_ string, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *payloadRecorder) wait(t *testing.T) CapturePayload {
	t.Helper()
	select {
	case <-r.gotOne:
	case <-time.After(2 * time.Second):
		t.Fatal("no payload handed off")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.payloads[len(r.payloads)-1]
}

func newTestTracker(conn *mock.Conn, rec *payloadRecorder) *SpeakerTracker {
	return NewSpeakerTracker(conn, TrackerConfig{
		GuildID:   "guild-1",
		ChannelID: "channel-1",
		SelfID:    "bot",
		Format:    stt.FormatWAV,
		OnPayload: rec.onPayload,
		OnError:   rec.onError,
	})
}

// ─── SpeakerTracker tests ─────────────────────────────────────────────────────

// TestSpeakerTracker_SingleActiveSpeaker verifies that a second speaker
// starting mid-capture is ignored until the tracker returns to idle.
func TestSpeakerTracker_SingleActiveSpeaker(t *testing.T) {
	t.Parallel()

	stream := make(chan call.Packet) // stays open for the whole test
	conn := &mock.Conn{SubscribeStream: stream}
	rec := newPayloadRecorder()
	tr := newTestTracker(conn, rec)
	defer tr.Stop()

	tr.HandleSpeaking("alice", true)
	if active, ok := tr.Active(); !ok || active != "alice" {
		t.Fatalf("active = %q/%v, want alice", active, ok)
	}

	tr.HandleSpeaking("bob", true)
	if active, _ := tr.Active(); active != "alice" {
		t.Fatalf("active = %q, want alice after bob ignored", active)
	}
	if n := len(conn.SubscribeCalls); n != 1 {
		t.Fatalf("subscriptions = %d, want 1 (bob must not be subscribed)", n)
	}
}

// TestSpeakerTracker_WrongUserStopIsNoOp verifies that a stop signal for a
// user other than the tracked speaker changes nothing.
func TestSpeakerTracker_WrongUserStopIsNoOp(t *testing.T) {
	t.Parallel()

	stream := make(chan call.Packet)
	conn := &mock.Conn{SubscribeStream: stream}
	rec := newPayloadRecorder()
	tr := newTestTracker(conn, rec)
	defer tr.Stop()

	tr.HandleSpeaking("alice", true)
	tr.HandleSpeaking("bob", false)

	if active, _ := tr.Active(); active != "alice" {
		t.Fatalf("active = %q, want alice after wrong-user stop", active)
	}
}

// TestSpeakerTracker_SelfIgnored verifies that the assistant's own speaking
// signals never start a capture.
func TestSpeakerTracker_SelfIgnored(t *testing.T) {
	t.Parallel()

	conn := &mock.Conn{}
	rec := newPayloadRecorder()
	tr := newTestTracker(conn, rec)
	defer tr.Stop()

	tr.HandleSpeaking("bot", true)
	if _, ok := tr.Active(); ok {
		t.Fatal("tracker captured the assistant's own audio")
	}
	if len(conn.SubscribeCalls) != 0 {
		t.Fatal("subscription opened for the assistant itself")
	}
}

// TestSpeakerTracker_StreamEndHandsOffPayload verifies the full happy path:
// the transport closes the stream (silence timeout) and the finished payload
// reaches the handler, identity attached, with the tracker back at idle.
func TestSpeakerTracker_StreamEndHandsOffPayload(t *testing.T) {
	t.Parallel()

	frames := encodeOpusFrames(t, 3)
	stream := make(chan call.Packet, len(frames))
	for _, f := range frames {
		stream <- call.Packet{UserID: "alice", Opus: f}
	}
	conn := &mock.Conn{SubscribeStream: stream}
	rec := newPayloadRecorder()
	tr := newTestTracker(conn, rec)
	defer tr.Stop()

	tr.HandleSpeaking("alice", true)
	close(stream)

	payload := rec.wait(t)
	if payload.UserID != "alice" || payload.GuildID != "guild-1" || payload.ChannelID != "channel-1" {
		t.Errorf("payload identity = %s/%s/%s, want guild-1/channel-1/alice",
			payload.GuildID, payload.ChannelID, payload.UserID)
	}
	if len(payload.Audio.Data) == 0 {
		t.Error("payload audio is empty")
	}
	if payload.Audio.Format != stt.FormatWAV {
		t.Errorf("payload format = %q, want wav", payload.Audio.Format)
	}

	if _, ok := tr.Active(); ok {
		t.Error("tracker still capturing after stream end")
	}
}

// TestSpeakerTracker_StopSignalFinalizes verifies that a stop signal from the
// tracked speaker ends the subscription, resets the tracker to idle
// immediately, and still delivers the captured audio.
func TestSpeakerTracker_StopSignalFinalizes(t *testing.T) {
	t.Parallel()

	frames := encodeOpusFrames(t, 2)
	stream := make(chan call.Packet, len(frames))
	for _, f := range frames {
		stream <- call.Packet{UserID: "alice", Opus: f}
	}
	conn := &mock.Conn{SubscribeStream: stream}
	rec := newPayloadRecorder()
	tr := newTestTracker(conn, rec)
	defer tr.Stop()

	tr.HandleSpeaking("alice", true)
	// Stop immediately: the frames already buffered on the stream belong to
	// the utterance and must survive the cancellation.
	tr.HandleSpeaking("alice", false)

	if _, ok := tr.Active(); ok {
		t.Fatal("tracker not idle immediately after stop signal")
	}

	payload := rec.wait(t)
	if payload.UserID != "alice" {
		t.Errorf("payload user = %q, want alice", payload.UserID)
	}
	if want := len(frames) * pcmFrameSize * pcmChannels * 2; len(payload.Audio.Data) < want {
		t.Errorf("payload audio is %d bytes, want at least %d: buffered frames were dropped",
			len(payload.Audio.Data), want)
	}
}

// TestSpeakerTracker_NewCaptureWhileFinalizing verifies that a new speaker
// can start the moment the tracker is idle, even though the previous
// capture's handoff has not completed yet.
func TestSpeakerTracker_NewCaptureWhileFinalizing(t *testing.T) {
	t.Parallel()

	stream := make(chan call.Packet)
	conn := &mock.Conn{SubscribeStream: stream}
	rec := newPayloadRecorder()
	tr := newTestTracker(conn, rec)
	defer tr.Stop()

	tr.HandleSpeaking("alice", true)
	tr.HandleSpeaking("alice", false)

	tr.HandleSpeaking("bob", true)
	if active, _ := tr.Active(); active != "bob" {
		t.Fatalf("active = %q, want bob right after alice stopped", active)
	}
	if n := len(conn.SubscribeCalls); n != 2 {
		t.Fatalf("subscriptions = %d, want 2", n)
	}
}

// TestSpeakerTracker_SilenceTimeoutConfigured verifies the silence timeout is
// passed to the transport at subscription time, defaulting when unset.
func TestSpeakerTracker_SilenceTimeoutConfigured(t *testing.T) {
	t.Parallel()

	stream := make(chan call.Packet)
	conn := &mock.Conn{SubscribeStream: stream}
	tr := NewSpeakerTracker(conn, TrackerConfig{SelfID: "bot", Format: stt.FormatWAV})
	defer tr.Stop()

	tr.HandleSpeaking("alice", true)
	if n := len(conn.SubscribeCalls); n != 1 {
		t.Fatalf("subscriptions = %d, want 1", n)
	}
	if got := conn.SubscribeCalls[0].SilenceTimeout; got != DefaultSilenceTimeout {
		t.Errorf("silence timeout = %v, want %v", got, DefaultSilenceTimeout)
	}
}
