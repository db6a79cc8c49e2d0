package discord

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// monoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func monoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// resampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate, the input is returned unchanged.
func resampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// resampleStereo16 resamples 16-bit stereo PCM from srcRate to dstRate using
// linear interpolation. Each stereo frame is 4 bytes (L+R interleaved).
// If srcRate == dstRate, the input is returned unchanged.
func resampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		l0 := int16(pcm[srcIdx*4]) | int16(pcm[srcIdx*4+1])<<8
		r0 := int16(pcm[srcIdx*4+2]) | int16(pcm[srcIdx*4+3])<<8

		var l1, r1 int16
		if srcIdx+1 < srcFrames {
			l1 = int16(pcm[(srcIdx+1)*4]) | int16(pcm[(srcIdx+1)*4+1])<<8
			r1 = int16(pcm[(srcIdx+1)*4+2]) | int16(pcm[(srcIdx+1)*4+3])<<8
		} else {
			l1 = l0
			r1 = r0
		}

		lInterp := int16(float64(l0)*(1-frac) + float64(l1)*frac)
		rInterp := int16(float64(r0)*(1-frac) + float64(r1)*frac)

		out[i*4] = byte(lInterp)
		out[i*4+1] = byte(lInterp >> 8)
		out[i*4+2] = byte(rInterp)
		out[i*4+3] = byte(rInterp >> 8)
	}
	return out
}

// toPlaybackFormat converts int16 PCM of the given source format to Discord's
// 48 kHz stereo playback format. Resampling happens before channel conversion
// to avoid resampling both channels of mono-origin audio.
func toPlaybackFormat(pcm []byte, srcRate, srcChannels int) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.New("discord: odd byte count in PCM data")
	}
	switch srcChannels {
	case 1:
		pcm = resampleMono16(pcm, srcRate, opusSampleRate)
		return monoToStereo(pcm), nil
	case 2:
		return resampleStereo16(pcm, srcRate, opusSampleRate), nil
	default:
		return nil, fmt.Errorf("discord: unsupported channel count %d", srcChannels)
	}
}

// decodeWAV extracts 16-bit PCM and its format from a RIFF/WAVE container.
func decodeWAV(data []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, 0, errors.New("discord: not a RIFF/WAVE payload")
	}

	var haveFmt bool
	for off := 12; off+8 <= len(data); {
		chunkID := string(data[off : off+4])
		chunkLen := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+chunkLen > len(data) {
			return nil, 0, 0, errors.New("discord: truncated WAVE chunk")
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, 0, 0, errors.New("discord: short fmt chunk")
			}
			if format := binary.LittleEndian.Uint16(data[body : body+2]); format != 1 {
				return nil, 0, 0, fmt.Errorf("discord: unsupported WAVE format code %d", format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			if bits := binary.LittleEndian.Uint16(data[body+14 : body+16]); bits != 16 {
				return nil, 0, 0, fmt.Errorf("discord: unsupported bit depth %d", bits)
			}
			haveFmt = true
		case "data":
			pcm = data[body : body+chunkLen]
		}

		off = body + chunkLen + chunkLen%2
	}

	if !haveFmt || pcm == nil {
		return nil, 0, 0, errors.New("discord: missing fmt or data chunk")
	}
	return pcm, sampleRate, channels, nil
}
