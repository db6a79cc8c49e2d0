package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hexlantern/sibyl/internal/notify"
	"github.com/hexlantern/sibyl/internal/observe"
	"github.com/hexlantern/sibyl/internal/voice"
	"github.com/hexlantern/sibyl/pkg/call"
	"github.com/hexlantern/sibyl/pkg/provider/stt"
)

// ErrNotInCall is returned by [CallManager.Leave] when the guild has no
// active call.
var ErrNotInCall = errors.New("bot: not in a voice call")

// captureFailureMessage is posted when an utterance could not be recorded.
const captureFailureMessage = "Sorry, I could not hear that. Please try again."

// CallManagerConfig holds the dependencies for a [CallManager].
type CallManagerConfig struct {
	// Transport joins voice channels.
	Transport call.Transport

	// Pipeline turns finished captures into played answers.
	Pipeline *voice.Pipeline

	// SelfID is the assistant's own user ID, excluded from capture.
	SelfID string

	// Format is the upload container produced from captured speech.
	Format stt.Format

	// SilenceTimeout ends a capture after this much continuous silence.
	SilenceTimeout time.Duration

	// Fallback is the audible apology segment for failed turns.
	Fallback call.Segment

	// Notifier reports capture failures to the text channel. Optional.
	Notifier notify.Notifier

	// Metrics is optional; nil disables instrumentation.
	Metrics *observe.Metrics
}

// activeCall bundles the per-guild voice machinery.
type activeCall struct {
	guildID   string
	channelID string
	conn      call.Conn
	tracker   *voice.SpeakerTracker
	pc        *voice.Controller
	cancel    context.CancelFunc
}

// CallManager tracks at most one active voice call per guild and wires each
// call's connection into the capture tracker and answer pipeline.
//
// CallManager is safe for concurrent use.
type CallManager struct {
	cfg CallManagerConfig

	mu    sync.Mutex
	calls map[string]*activeCall // keyed by guildID
}

// NewCallManager creates a CallManager.
func NewCallManager(cfg CallManagerConfig) *CallManager {
	return &CallManager{
		cfg:   cfg,
		calls: make(map[string]*activeCall),
	}
}

// Join connects to the given voice channel and starts answering speech in it.
// A guild can be in only one call at a time.
func (cm *CallManager) Join(ctx context.Context, guildID, channelID string) error {
	cm.mu.Lock()
	if existing, ok := cm.calls[guildID]; ok {
		cm.mu.Unlock()
		return fmt.Errorf("bot: already in voice channel %q", existing.channelID)
	}
	cm.mu.Unlock()

	conn, err := cm.cfg.Transport.Join(ctx, guildID, channelID)
	if err != nil {
		return fmt.Errorf("bot: join %s/%s: %w", guildID, channelID, err)
	}

	pc := voice.NewController(cm.cfg.Fallback)
	pc.EnsureBound(conn)

	callCtx, cancel := context.WithCancel(context.Background())

	tracker := voice.NewSpeakerTracker(conn, voice.TrackerConfig{
		GuildID:        guildID,
		ChannelID:      channelID,
		SelfID:         cm.cfg.SelfID,
		SilenceTimeout: cm.cfg.SilenceTimeout,
		Format:         cm.cfg.Format,
		OnPayload: func(payload voice.CapturePayload) {
			cm.cfg.Pipeline.HandleCapture(callCtx, pc, payload)
		},
		OnError: func(userID string, err error) {
			slog.Error("capture failed", "guild", guildID, "user", userID, "error", err)
			if cm.cfg.Notifier != nil {
				if nerr := cm.cfg.Notifier.Send(callCtx, channelID, captureFailureMessage); nerr != nil {
					slog.Warn("capture failure not reported", "guild", guildID, "error", nerr)
				}
			}
		},
		Metrics: cm.cfg.Metrics,
	})

	ac := &activeCall{
		guildID:   guildID,
		channelID: channelID,
		conn:      conn,
		tracker:   tracker,
		pc:        pc,
		cancel:    cancel,
	}

	conn.OnSpeaking(tracker.HandleSpeaking)
	conn.OnClosed(func() {
		// Fires for voluntary leaves too; dropCall is a no-op then.
		cm.dropCall(guildID, ac)
	})

	cm.mu.Lock()
	if existing, ok := cm.calls[guildID]; ok {
		cm.mu.Unlock()
		// A concurrent join won the race while we were connecting; tear
		// down this attempt so its tracker and connection don't linger.
		cancel()
		tracker.Stop()
		pc.Teardown()
		if cerr := conn.Close(); cerr != nil {
			slog.Warn("error closing losing join attempt", "guild", guildID, "error", cerr)
		}
		return fmt.Errorf("bot: already in voice channel %q", existing.channelID)
	}
	cm.calls[guildID] = ac
	cm.mu.Unlock()

	if cm.cfg.Metrics != nil {
		cm.cfg.Metrics.ActiveCalls.Add(ctx, 1)
	}
	slog.Info("joined voice channel", "guild", guildID, "channel", channelID)
	return nil
}

// Leave tears down the guild's active call.
func (cm *CallManager) Leave(ctx context.Context, guildID string) error {
	cm.mu.Lock()
	ac, ok := cm.calls[guildID]
	if ok {
		delete(cm.calls, guildID)
	}
	cm.mu.Unlock()

	if !ok {
		return ErrNotInCall
	}

	cm.teardown(ctx, ac)
	slog.Info("left voice channel", "guild", guildID, "channel", ac.channelID)
	return nil
}

// ChannelID returns the voice channel of the guild's active call.
func (cm *CallManager) ChannelID(guildID string) (string, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	ac, ok := cm.calls[guildID]
	if !ok {
		return "", false
	}
	return ac.channelID, true
}

// Shutdown leaves every active call.
func (cm *CallManager) Shutdown(ctx context.Context) {
	cm.mu.Lock()
	calls := make([]*activeCall, 0, len(cm.calls))
	for _, ac := range cm.calls {
		calls = append(calls, ac)
	}
	cm.calls = make(map[string]*activeCall)
	cm.mu.Unlock()

	for _, ac := range calls {
		cm.teardown(ctx, ac)
	}
}

// dropCall handles an externally-destroyed connection.
func (cm *CallManager) dropCall(guildID string, ac *activeCall) {
	cm.mu.Lock()
	current, ok := cm.calls[guildID]
	if !ok || current != ac {
		cm.mu.Unlock()
		return
	}
	delete(cm.calls, guildID)
	cm.mu.Unlock()

	slog.Warn("voice connection lost", "guild", guildID, "channel", ac.channelID)
	cm.teardown(context.Background(), ac)
}

func (cm *CallManager) teardown(ctx context.Context, ac *activeCall) {
	ac.cancel()
	ac.tracker.Stop()
	ac.pc.Teardown()
	if err := ac.conn.Close(); err != nil {
		slog.Warn("error closing voice connection", "guild", ac.guildID, "error", err)
	}
	if cm.cfg.Metrics != nil {
		cm.cfg.Metrics.ActiveCalls.Add(ctx, -1)
	}
}
