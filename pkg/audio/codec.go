// codec.go defines the wire codecs carried on the telephony leg and the
// conversions between them and 16-bit little-endian linear PCM.
//
// All wire codecs run at 8kHz mono in this system:
//   - PCMU: μ-law, 1 byte per sample
//   - PCMA: A-law, 1 byte per sample
//   - L16:  16-bit linear little-endian, 2 bytes per sample (passthrough)

package audio

import (
	"fmt"
	"strings"
	"time"
)

// WireSampleRate is the sample rate of the telephony leg.
const WireSampleRate = 8000

// FrameDuration is the wire frame duration used when pacing outbound audio.
const FrameDuration = 20 * time.Millisecond

// Codec identifies the audio encoding used on the telephony leg.
type Codec string

const (
	CodecPCMU Codec = "PCMU"
	CodecPCMA Codec = "PCMA"
	CodecL16  Codec = "L16"
)

// ParseCodec parses a codec name case-insensitively. An empty name resolves
// to PCMU, the provider default.
func ParseCodec(name string) (Codec, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "PCMU":
		return CodecPCMU, nil
	case "PCMA":
		return CodecPCMA, nil
	case "L16":
		return CodecL16, nil
	default:
		return "", fmt.Errorf("unsupported codec %q", name)
	}
}

// Decode converts wire-encoded audio to 16-bit little-endian linear PCM.
// L16 is a passthrough copy.
func (c Codec) Decode(wire []byte) []byte {
	switch c {
	case CodecPCMA:
		return ALawToPCM(wire)
	case CodecL16:
		pcm := make([]byte, len(wire))
		copy(pcm, wire)
		return pcm
	default:
		return MuLawToPCM(wire)
	}
}

// Encode converts 16-bit little-endian linear PCM to the wire encoding.
// L16 is a passthrough copy.
func (c Codec) Encode(pcm []byte) []byte {
	switch c {
	case CodecPCMA:
		return PCMToALaw(pcm)
	case CodecL16:
		wire := make([]byte, len(pcm))
		copy(wire, pcm)
		return wire
	default:
		return PCMToMuLaw(pcm)
	}
}

// SilenceByte returns the byte value that encodes silence for the codec.
func (c Codec) SilenceByte() byte {
	switch c {
	case CodecPCMA:
		return 0xD5
	case CodecL16:
		return 0x00
	default:
		return 0xFF
	}
}

// BytesPerSecond returns the wire byte rate: 8000 B/s for the G.711 codecs
// (1 byte per sample at 8kHz) and 16000 B/s for L16.
func (c Codec) BytesPerSecond() int {
	if c == CodecL16 {
		return WireSampleRate * 2
	}
	return WireSampleRate
}

// FrameBytes returns the size of one 20ms wire frame.
func (c Codec) FrameBytes() int {
	return c.BytesPerSecond() * int(FrameDuration/time.Millisecond) / 1000
}

// SilenceFrame returns a single 20ms frame of encoded silence.
func (c Codec) SilenceFrame() []byte {
	frame := make([]byte, c.FrameBytes())
	b := c.SilenceByte()
	for i := range frame {
		frame[i] = b
	}
	return frame
}

// SilenceFrames returns enough 20ms silence frames to cover the duration.
func (c Codec) SilenceFrames(d time.Duration) [][]byte {
	n := int(d / FrameDuration)
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, c.SilenceFrame())
	}
	return frames
}

// PlaybackDuration returns how long the given number of wire bytes takes to
// play out at the codec's byte rate.
func (c Codec) PlaybackDuration(bytes int) time.Duration {
	return time.Duration(float64(bytes) / float64(c.BytesPerSecond()) * float64(time.Second))
}
