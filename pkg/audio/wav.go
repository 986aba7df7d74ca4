package audio

import "encoding/binary"

// WAVHeaderSize is the size of the canonical PCM WAV header produced and
// consumed here: RIFF chunk, one fmt chunk, one data chunk.
const WAVHeaderSize = 44

// defaultWAVRate is assumed when a header is missing or unreadable.
// Synthesis backends emit 24 kHz mono PCM unless told otherwise.
const defaultWAVRate = 24000

// BuildWAVHeader returns a 44-byte PCM WAV header for mono 16-bit audio
// with dataLen bytes of payload at the given sample rate.
func BuildWAVHeader(sampleRate, dataLen int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	h := make([]byte, WAVHeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], uint32(36+dataLen))
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], channels)
	binary.LittleEndian.PutUint32(h[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], bitsPerSample)
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], uint32(dataLen))
	return h
}

// WrapWAV prepends a WAV header to raw mono 16-bit PCM.
func WrapWAV(pcm []byte, sampleRate int) []byte {
	out := make([]byte, 0, WAVHeaderSize+len(pcm))
	out = append(out, BuildWAVHeader(sampleRate, len(pcm))...)
	return append(out, pcm...)
}

// ParseWAVHeader reads the sample rate from a WAV header and returns it
// together with the header length to skip. Data that is too short or does
// not start with a RIFF chunk is treated as headerless PCM at the default
// synthesis rate.
func ParseWAVHeader(data []byte) (sampleRate, headerLen int) {
	if len(data) < WAVHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return defaultWAVRate, 0
	}
	rate := int(binary.LittleEndian.Uint32(data[24:28]))
	if rate <= 0 {
		rate = defaultWAVRate
	}
	return rate, WAVHeaderSize
}
