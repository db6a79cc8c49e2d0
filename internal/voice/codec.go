// Package voice implements the streaming audio pipeline that turns live call
// audio into answered speech: per-utterance capture and transcoding
// ([CodecBridge], [CaptureSession]), speaker arbitration ([SpeakerTracker]),
// the shared playback queue ([Controller]), and the end-to-end answer
// orchestration ([Pipeline]).
package voice

import (
	"context"
	"fmt"

	"layeh.com/gopus"

	"github.com/hexlantern/sibyl/pkg/call"
	"github.com/hexlantern/sibyl/pkg/provider/stt"
)

// Voice audio is 48 kHz stereo Opus at 20 ms frame size throughout.
const (
	pcmSampleRate  = 48000
	pcmChannels    = 2
	pcmFrameSizeMs = 20
	// pcmFrameSize is the number of samples per channel per 20 ms frame.
	pcmFrameSize = pcmSampleRate * pcmFrameSizeMs / 1000 // 960
)

// payloadEncoder turns decoded PCM into the transport container uploaded to
// the STT backend. Implementations are stateful across frames of one capture
// and are not safe for concurrent use.
type payloadEncoder interface {
	// WritePCM appends one block of interleaved int16 samples.
	WritePCM(samples []int16) error
	// Finish flushes the container and returns the complete payload. The
	// encoder must not be written to afterwards.
	Finish() ([]byte, error)
}

// CodecBridge decodes one speaker's compressed packet stream into PCM and
// re-encodes it into a container an STT backend accepts.
//
// Both codecs are stateful, so packets must be fed in arrival order. A bridge
// serves exactly one capture and is released with [CodecBridge.Close] when the
// capture ends, successfully or not.
type CodecBridge struct {
	dec    *gopus.Decoder
	enc    payloadEncoder
	format stt.Format
	frames int
	closed bool
}

// NewCodecBridge creates a bridge producing payloads in the given container
// format.
func NewCodecBridge(format stt.Format) (*CodecBridge, error) {
	if !format.IsValid() {
		return nil, fmt.Errorf("voice: unsupported payload format %q", format)
	}

	dec, err := gopus.NewDecoder(pcmSampleRate, pcmChannels)
	if err != nil {
		return nil, fmt.Errorf("voice: create opus decoder: %w", err)
	}

	var enc payloadEncoder
	switch format {
	case stt.FormatFLAC:
		enc, err = newFLACEncoder(pcmSampleRate, pcmChannels)
	case stt.FormatWAV:
		enc, err = newWAVEncoder(pcmSampleRate, pcmChannels)
	}
	if err != nil {
		return nil, fmt.Errorf("voice: create %s encoder: %w", format, err)
	}

	return &CodecBridge{dec: dec, enc: enc, format: format}, nil
}

// Transcode drains packets until the stream is closed by the transport,
// decoding and re-encoding each frame as it arrives, and returns the complete
// encoded utterance.
//
// The capture ends when the channel closes (silence timeout or cancelled
// subscription); ctx is a fallback exit for transports that fail to close
// the stream, in which case the frames received so far are returned.
//
// A decode or encode fault on any frame fails the whole transcode: partial
// audio is useless to the transcription call downstream.
func (b *CodecBridge) Transcode(ctx context.Context, packets <-chan call.Packet) (stt.Audio, error) {
	for {
		select {
		case <-ctx.Done():
			return b.drain(packets)
		case pkt, ok := <-packets:
			if !ok {
				return b.finish()
			}
			if err := b.push(pkt.Opus); err != nil {
				return stt.Audio{}, err
			}
		}
	}
}

// drain consumes whatever the stream already buffered before finishing. A
// stop signal ends the capture, but frames that arrived ahead of it are part
// of the utterance and must not be thrown away.
func (b *CodecBridge) drain(packets <-chan call.Packet) (stt.Audio, error) {
	for {
		select {
		case pkt, ok := <-packets:
			if !ok {
				return b.finish()
			}
			if err := b.push(pkt.Opus); err != nil {
				return stt.Audio{}, err
			}
		default:
			return b.finish()
		}
	}
}

// push decodes one compressed frame and forwards the PCM to the payload
// encoder.
func (b *CodecBridge) push(opus []byte) error {
	pcm, err := b.dec.Decode(opus, pcmFrameSize, false)
	if err != nil {
		return fmt.Errorf("voice: opus decode frame %d: %w", b.frames, err)
	}
	if err := b.enc.WritePCM(pcm); err != nil {
		return fmt.Errorf("voice: encode frame %d: %w", b.frames, err)
	}
	b.frames++
	return nil
}

// finish flushes the encoder and assembles the payload.
func (b *CodecBridge) finish() (stt.Audio, error) {
	if b.frames == 0 {
		return stt.Audio{}, ErrNoAudio
	}
	data, err := b.enc.Finish()
	if err != nil {
		return stt.Audio{}, fmt.Errorf("voice: finish %s payload: %w", b.format, err)
	}
	return stt.Audio{
		Format:     b.format,
		Data:       data,
		SampleRate: pcmSampleRate,
		Channels:   pcmChannels,
	}, nil
}

// Close releases the codec state. Safe to call more than once.
func (b *CodecBridge) Close() {
	if b.closed {
		return
	}
	b.closed = true
	b.dec = nil
	b.enc = nil
}
