package voice

import (
	"bytes"
	"encoding/binary"
)

// wavEncoder accumulates interleaved int16 PCM and wraps it in a RIFF/WAVE
// container on Finish. The header needs the final data length, so it is
// written last rather than streamed.
type wavEncoder struct {
	data       bytes.Buffer
	sampleRate int
	channels   int
}

var _ payloadEncoder = (*wavEncoder)(nil)

func newWAVEncoder(sampleRate, channels int) (payloadEncoder, error) {
	return &wavEncoder{sampleRate: sampleRate, channels: channels}, nil
}

func (e *wavEncoder) WritePCM(samples []int16) error {
	for _, s := range samples {
		e.data.WriteByte(byte(s))
		e.data.WriteByte(byte(s >> 8))
	}
	return nil
}

func (e *wavEncoder) Finish() ([]byte, error) {
	const (
		headerLen     = 44
		fmtChunkLen   = 16
		pcmFormatCode = 1
		bytesPerSamp  = 2
	)
	dataLen := e.data.Len()

	out := bytes.NewBuffer(make([]byte, 0, headerLen+dataLen))
	out.WriteString("RIFF")
	binary.Write(out, binary.LittleEndian, uint32(headerLen-8+dataLen))
	out.WriteString("WAVE")

	blockAlign := e.channels * bytesPerSamp
	out.WriteString("fmt ")
	binary.Write(out, binary.LittleEndian, uint32(fmtChunkLen))
	binary.Write(out, binary.LittleEndian, uint16(pcmFormatCode))
	binary.Write(out, binary.LittleEndian, uint16(e.channels))
	binary.Write(out, binary.LittleEndian, uint32(e.sampleRate))
	binary.Write(out, binary.LittleEndian, uint32(e.sampleRate*blockAlign))
	binary.Write(out, binary.LittleEndian, uint16(blockAlign))
	binary.Write(out, binary.LittleEndian, uint16(8*bytesPerSamp))

	out.WriteString("data")
	binary.Write(out, binary.LittleEndian, uint32(dataLen))
	out.Write(e.data.Bytes())

	return out.Bytes(), nil
}
