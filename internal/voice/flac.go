package voice

import (
	"bytes"
	"fmt"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// flacBlockSize is the number of samples per channel per emitted FLAC frame.
const flacBlockSize = 4096

// flacEncoder encodes interleaved int16 PCM into a FLAC stream held in
// memory. Frames use verbatim prediction: the output is lossless and
// deterministic, which is all an STT upload needs, and sidesteps the cost of
// picking predictors for seconds-long utterances.
type flacEncoder struct {
	buf      bytes.Buffer
	enc      *flac.Encoder
	channels int
	pending  []int16 // interleaved samples not yet forming a full block
	frameNum uint64
}

var _ payloadEncoder = (*flacEncoder)(nil)

func newFLACEncoder(sampleRate, channels int) (payloadEncoder, error) {
	e := &flacEncoder{channels: channels}
	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     uint8(channels),
		BitsPerSample: 16,
	}
	enc, err := flac.NewEncoder(&e.buf, info)
	if err != nil {
		return nil, fmt.Errorf("flac: new encoder: %w", err)
	}
	e.enc = enc
	return e, nil
}

// WritePCM buffers samples and writes out every full block.
func (e *flacEncoder) WritePCM(samples []int16) error {
	e.pending = append(e.pending, samples...)
	blockLen := flacBlockSize * e.channels
	for len(e.pending) >= blockLen {
		if err := e.writeBlock(e.pending[:blockLen]); err != nil {
			return err
		}
		e.pending = e.pending[blockLen:]
	}
	return nil
}

// Finish writes the remaining partial block and closes the stream.
func (e *flacEncoder) Finish() ([]byte, error) {
	if len(e.pending) > 0 {
		// Trim to whole sample tuples in case the input was misaligned.
		rem := e.pending[: len(e.pending)-len(e.pending)%e.channels : len(e.pending)]
		if len(rem) > 0 {
			if err := e.writeBlock(rem); err != nil {
				return nil, err
			}
		}
		e.pending = nil
	}
	if err := e.enc.Close(); err != nil {
		return nil, fmt.Errorf("flac: close encoder: %w", err)
	}
	return e.buf.Bytes(), nil
}

// writeBlock emits one FLAC frame with a verbatim subframe per channel.
func (e *flacEncoder) writeBlock(interleaved []int16) error {
	n := len(interleaved) / e.channels

	subframes := make([]*frame.Subframe, e.channels)
	for ch := range subframes {
		samples := make([]int32, n)
		for i := 0; i < n; i++ {
			samples[i] = int32(interleaved[i*e.channels+ch])
		}
		subframes[ch] = &frame.Subframe{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  n,
		}
	}

	channels := frame.ChannelsMono
	if e.channels == 2 {
		channels = frame.ChannelsLR
	}

	f := &frame.Frame{
		Header: frame.Header{
			HasFixedBlockSize: false,
			BlockSize:         uint16(n),
			SampleRate:        uint32(pcmSampleRate),
			Channels:          channels,
			BitsPerSample:     16,
			Num:               e.frameNum,
		},
		Subframes: subframes,
	}
	if err := e.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("flac: write frame: %w", err)
	}
	e.frameNum += uint64(n)
	return nil
}
