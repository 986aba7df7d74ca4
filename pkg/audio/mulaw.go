// Package audio provides the audio plumbing for the call bridge: G.711
// codecs (μ-law/A-law), 16-bit linear passthrough, WAV header handling, a
// streaming resampler, and the outbound TTS transcoder.
//
// mulaw.go implements μ-law (G.711) conversions, the standard telephone
// encoding in North America and Japan.
//
// Reference: ITU-T G.711 specification

package audio

import "math/bits"

// μ-law codec constants
const (
	MuLawSignBit   = 0x80 // Sign bit in a μ-law byte
	MuLawSegShift  = 4
	MuLawSegMask   = 0x70
	MuLawQuantMask = 0x0f
	MuLawBias      = 0x84  // Offset added before the segment search
	MuLawClip      = 32635 // Maximum linear magnitude
)

// MuLawDecode converts a single μ-law byte to a 16-bit signed PCM sample.
func MuLawDecode(mulaw byte) int16 {
	// μ-law is transmitted with all bits inverted
	mulaw = ^mulaw

	t := (int16(mulaw&MuLawQuantMask) << 3) + MuLawBias
	t <<= (mulaw & MuLawSegMask) >> MuLawSegShift

	if mulaw&MuLawSignBit != 0 {
		return MuLawBias - t
	}
	return t - MuLawBias
}

// MuLawEncode converts a 16-bit signed PCM sample to μ-law.
func MuLawEncode(pcm int16) byte {
	var sign byte
	magnitude := int32(pcm)
	if magnitude < 0 {
		sign = MuLawSignBit
		magnitude = -magnitude
	}
	if magnitude > MuLawClip {
		magnitude = MuLawClip
	}
	magnitude += MuLawBias

	// The segment is the position of the highest magnitude bit above the
	// base chord. The bias guarantees at least 8 significant bits.
	segment := bits.Len32(uint32(magnitude)) - 8

	quant := byte(magnitude>>(segment+3)) & MuLawQuantMask
	return ^(sign | byte(segment)<<MuLawSegShift | quant)
}

// MuLawDecodeBuf converts μ-law encoded bytes to 16-bit signed PCM.
// Output buffer must be 2x the size of input (2 bytes per sample).
func MuLawDecodeBuf(mulaw []byte, pcm []byte) {
	for i, b := range mulaw {
		sample := MuLawDecode(b)
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}
}

// MuLawEncodeBuf converts 16-bit signed PCM to μ-law encoded bytes.
// Output buffer must be half the size of input.
func MuLawEncodeBuf(pcm []byte, mulaw []byte) {
	numSamples := len(pcm) / 2
	for i := 0; i < numSamples; i++ {
		sample := int16(pcm[i*2]) | (int16(pcm[i*2+1]) << 8)
		mulaw[i] = MuLawEncode(sample)
	}
}

// MuLawToPCM converts μ-law encoded audio to 16-bit signed PCM.
// Returns a new slice containing the PCM data.
func MuLawToPCM(mulaw []byte) []byte {
	pcm := make([]byte, len(mulaw)*2)
	MuLawDecodeBuf(mulaw, pcm)
	return pcm
}

// PCMToMuLaw converts 16-bit signed PCM audio to μ-law.
// Returns a new slice containing the μ-law data.
func PCMToMuLaw(pcm []byte) []byte {
	mulaw := make([]byte, len(pcm)/2)
	MuLawEncodeBuf(pcm, mulaw)
	return mulaw
}
