// Package settings manages per-channel voice configuration and recent
// conversation history, persisted as JSON blobs in a [store.Store].
//
// Every call reads its own settings record; there is no process-wide
// "current voice" or "current language". Two calls on different channels can
// use different voices, languages, and models at the same time.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hexlantern/sibyl/pkg/provider/llm"
	"github.com/hexlantern/sibyl/pkg/provider/tts"
	"github.com/hexlantern/sibyl/pkg/store"
)

// historyLimit caps how many conversation messages are retained per channel.
const historyLimit = 40

// Channel holds the voice configuration of one channel.
type Channel struct {
	// Language is the BCP-47 tag used as STT hint and TTS language.
	Language string `json:"language,omitempty"`

	// VoiceID selects the TTS voice.
	VoiceID string `json:"voiceId,omitempty"`

	// SpeedFactor adjusts TTS speaking rate (0 = provider default).
	SpeedFactor float64 `json:"speedFactor,omitempty"`

	// Model overrides the LLM provider's default model.
	Model string `json:"model,omitempty"`

	// SystemPrompt is prepended to every answer-generation request.
	SystemPrompt string `json:"systemPrompt,omitempty"`

	// ActivationPhrase gates answering: utterances that do not contain it
	// are transcribed and dropped. Empty disables the gate.
	ActivationPhrase string `json:"activationPhrase,omitempty"`

	// WaitingURI is an audio resource played while the answer is generated.
	WaitingURI string `json:"waitingUri,omitempty"`
}

// Voice returns the TTS voice configuration for the channel.
func (c Channel) Voice() tts.Voice {
	return tts.Voice{ID: c.VoiceID, Language: c.Language, SpeedFactor: c.SpeedFactor}
}

// Service reads and writes channel settings. Safe for concurrent use; all
// state lives in the backing store.
type Service struct {
	store    store.Store
	defaults Channel
}

// NewService creates a settings service. defaults fill in any field a stored
// record leaves zero.
func NewService(st store.Store, defaults Channel) *Service {
	return &Service{store: st, defaults: defaults}
}

func settingsKey(channelID string) string { return "settings:" + channelID }
func historyKey(channelID string) string  { return "history:" + channelID }

// Get returns the settings for channelID, falling back to the defaults for
// unset fields and for channels never configured.
func (s *Service) Get(ctx context.Context, channelID string) (Channel, error) {
	blob, err := s.store.Get(ctx, settingsKey(channelID))
	if errors.Is(err, store.ErrNotFound) {
		return s.defaults, nil
	}
	if err != nil {
		return Channel{}, fmt.Errorf("settings: get %s: %w", channelID, err)
	}

	var ch Channel
	if err := json.Unmarshal(blob, &ch); err != nil {
		return Channel{}, fmt.Errorf("settings: decode %s: %w", channelID, err)
	}
	return s.merge(ch), nil
}

// Put stores ch as the settings for channelID.
func (s *Service) Put(ctx context.Context, channelID string, ch Channel) error {
	blob, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("settings: encode %s: %w", channelID, err)
	}
	if err := s.store.Put(ctx, settingsKey(channelID), blob); err != nil {
		return fmt.Errorf("settings: put %s: %w", channelID, err)
	}
	return nil
}

// merge fills zero fields of ch from the defaults.
func (s *Service) merge(ch Channel) Channel {
	if ch.Language == "" {
		ch.Language = s.defaults.Language
	}
	if ch.VoiceID == "" {
		ch.VoiceID = s.defaults.VoiceID
	}
	if ch.SpeedFactor == 0 {
		ch.SpeedFactor = s.defaults.SpeedFactor
	}
	if ch.Model == "" {
		ch.Model = s.defaults.Model
	}
	if ch.SystemPrompt == "" {
		ch.SystemPrompt = s.defaults.SystemPrompt
	}
	if ch.ActivationPhrase == "" {
		ch.ActivationPhrase = s.defaults.ActivationPhrase
	}
	if ch.WaitingURI == "" {
		ch.WaitingURI = s.defaults.WaitingURI
	}
	return ch
}

// History returns the retained conversation for channelID, oldest first.
// A channel with no history returns an empty slice, not an error.
func (s *Service) History(ctx context.Context, channelID string) ([]llm.Message, error) {
	blob, err := s.store.Get(ctx, historyKey(channelID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("settings: get history %s: %w", channelID, err)
	}

	var msgs []llm.Message
	if err := json.Unmarshal(blob, &msgs); err != nil {
		return nil, fmt.Errorf("settings: decode history %s: %w", channelID, err)
	}
	return msgs, nil
}

// AppendHistory appends msgs to the channel's conversation, trimming the
// oldest entries beyond the retention cap.
func (s *Service) AppendHistory(ctx context.Context, channelID string, msgs ...llm.Message) error {
	existing, err := s.History(ctx, channelID)
	if err != nil {
		return err
	}

	all := append(existing, msgs...)
	if len(all) > historyLimit {
		all = all[len(all)-historyLimit:]
	}

	blob, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("settings: encode history %s: %w", channelID, err)
	}
	if err := s.store.Put(ctx, historyKey(channelID), blob); err != nil {
		return fmt.Errorf("settings: put history %s: %w", channelID, err)
	}
	return nil
}

// ClearHistory drops the channel's retained conversation.
func (s *Service) ClearHistory(ctx context.Context, channelID string) error {
	err := s.store.Delete(ctx, historyKey(channelID))
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}
