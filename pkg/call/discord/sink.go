package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/hexlantern/sibyl/pkg/call"
)

// Compile-time interface assertion.
var _ call.Sink = (*Sink)(nil)

// Sink plays synthesized segments into a Discord voice channel. Segment PCM
// is converted to 48 kHz stereo, chopped into 20 ms Opus frames, and written
// to the voice connection's send channel. At most one segment plays at a
// time; Play preempts the current one.
//
// Sink is safe for concurrent use.
type Sink struct {
	vc         *discordgo.VoiceConnection
	httpClient *http.Client

	mu         sync.Mutex
	finishedCb func(segmentID string)
	errorCb    func(segmentID string, err error)
	cancel     context.CancelFunc
	closed     bool
	gen        uint64 // bumped per Play; stale playbacks may not touch the speaking state
	speaking   bool

	wg sync.WaitGroup
}

func newSink(vc *discordgo.VoiceConnection) *Sink {
	return &Sink{
		vc:         vc,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Play implements [call.Sink]. URI segments are fetched and decoded on the
// playback goroutine; fetch failures surface through the error callback.
func (s *Sink) Play(seg call.Segment) error {
	if seg.IsZero() {
		return errors.New("discord: play: segment carries no audio")
	}
	if len(seg.PCM) > 0 && seg.SampleRate <= 0 {
		return fmt.Errorf("discord: play %q: PCM segment without sample rate", seg.ID)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("discord: play: sink closed")
	}
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.gen++
	gen := s.gen
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		s.play(ctx, gen, seg)
	}()
	return nil
}

// Stop implements [call.Sink]. The interrupted segment emits neither a
// finished nor an error event.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// OnFinished implements [call.Sink].
func (s *Sink) OnFinished(cb func(segmentID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedCb = cb
}

// OnError implements [call.Sink].
func (s *Sink) OnError(cb func(segmentID string, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorCb = cb
}

// Close implements [call.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.finishedCb = nil
	s.errorCb = nil
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// play resolves the segment to playback-format PCM and streams it out as
// Opus frames. The final partial frame is zero-padded to a full 20 ms.
func (s *Sink) play(ctx context.Context, gen uint64, seg call.Segment) {
	pcm, err := s.resolvePCM(ctx, seg)
	if err != nil {
		s.emitError(seg.ID, err)
		return
	}

	enc, err := newOpusEncoder()
	if err != nil {
		s.emitError(seg.ID, err)
		return
	}

	s.speak(gen, true)
	defer s.speak(gen, false)

	for off := 0; off < len(pcm); off += opusFrameBytes {
		frame := pcm[off:min(off+opusFrameBytes, len(pcm))]
		if len(frame) < opusFrameBytes {
			padded := make([]byte, opusFrameBytes)
			copy(padded, frame)
			frame = padded
		}

		opus, err := enc.encode(frame)
		if err != nil {
			s.emitError(seg.ID, err)
			return
		}

		select {
		case s.vc.OpusSend <- opus:
		case <-ctx.Done():
			return
		}
	}

	// A Stop racing the last frame still counts as interrupted.
	select {
	case <-ctx.Done():
		return
	default:
	}
	s.emitFinished(seg.ID)
}

// resolvePCM returns the segment audio as 48 kHz stereo int16 PCM.
func (s *Sink) resolvePCM(ctx context.Context, seg call.Segment) ([]byte, error) {
	pcm := seg.PCM
	sampleRate := seg.SampleRate
	channels := seg.Channels

	if seg.URI != "" {
		data, err := s.fetch(ctx, seg.URI)
		if err != nil {
			return nil, err
		}
		pcm, sampleRate, channels, err = decodeWAV(data)
		if err != nil {
			return nil, fmt.Errorf("discord: segment %q: %w", seg.ID, err)
		}
	}

	out, err := toPlaybackFormat(pcm, sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("discord: segment %q: %w", seg.ID, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("discord: segment %q: no playable audio", seg.ID)
	}
	return out, nil
}

func (s *Sink) fetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("discord: fetch %q: %w", uri, err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord: fetch %q: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discord: fetch %q: unexpected status %d", uri, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("discord: fetch %q: %w", uri, err)
	}
	return data, nil
}

// speak sends a speaking notification to Discord on behalf of playback
// generation gen. A playback that has been superseded by a newer Play call
// must not touch the speaking state: its deferred off would otherwise race
// the replacement's on and leave the indicator cleared mid-playback.
func (s *Sink) speak(gen uint64, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	s.speaking = on
	if err := s.vc.Speaking(on); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", on, "error", err)
	}
}

func (s *Sink) emitFinished(segmentID string) {
	s.mu.Lock()
	cb := s.finishedCb
	s.mu.Unlock()
	if cb != nil {
		cb(segmentID)
	}
}

func (s *Sink) emitError(segmentID string, err error) {
	s.mu.Lock()
	cb := s.errorCb
	s.mu.Unlock()
	if cb != nil {
		cb(segmentID, err)
	}
}
