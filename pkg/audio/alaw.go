// alaw.go implements A-law (G.711) audio codec conversions.
// A-law is the standard telephone encoding in Europe and most of the world
// outside North America and Japan.
//
// Reference: ITU-T G.711 specification

package audio

// A-law codec constants
const (
	ALawSignBit   = 0x80 // Sign bit in an A-law byte
	ALawSegShift  = 4
	ALawSegMask   = 0x70
	ALawQuantMask = 0x0f
)

// aLawSegmentTable is the segment end lookup for A-law encoding.
// Values are in the 13-bit magnitude domain (16-bit PCM >> 3).
var aLawSegmentTable = [8]int16{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

// ALawDecode converts a single A-law byte to a 16-bit signed PCM sample.
func ALawDecode(alaw byte) int16 {
	alaw ^= 0x55

	t := int16(alaw&ALawQuantMask) << 4
	segment := (alaw & ALawSegMask) >> ALawSegShift
	switch segment {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= segment - 1
	}

	if alaw&ALawSignBit != 0 {
		return t
	}
	return -t
}

// ALawEncode converts a 16-bit signed PCM sample to A-law.
func ALawEncode(pcm int16) byte {
	// Reduce to the 13-bit magnitude domain
	sample := pcm >> 3

	var mask int16
	if sample >= 0 {
		mask = 0xD5 // Even bits inverted, positive sign
	} else {
		mask = 0x55 // Even bits inverted, negative sign
		sample = -sample - 1
	}

	// Find segment
	segment := 8
	for i := 0; i < 8; i++ {
		if sample <= aLawSegmentTable[i] {
			segment = i
			break
		}
	}

	// Out of range: return maximum value
	if segment >= 8 {
		return byte(0x7F ^ mask)
	}

	aval := int16(segment) << ALawSegShift
	if segment < 2 {
		aval |= (sample >> 1) & ALawQuantMask
	} else {
		aval |= (sample >> segment) & ALawQuantMask
	}
	return byte(aval ^ mask)
}

// ALawDecodeBuf converts A-law encoded bytes to 16-bit signed PCM.
// Output buffer must be 2x the size of input (2 bytes per sample).
func ALawDecodeBuf(alaw []byte, pcm []byte) {
	for i, b := range alaw {
		sample := ALawDecode(b)
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}
}

// ALawEncodeBuf converts 16-bit signed PCM to A-law encoded bytes.
// Output buffer must be half the size of input.
func ALawEncodeBuf(pcm []byte, alaw []byte) {
	numSamples := len(pcm) / 2
	for i := 0; i < numSamples; i++ {
		sample := int16(pcm[i*2]) | (int16(pcm[i*2+1]) << 8)
		alaw[i] = ALawEncode(sample)
	}
}

// ALawToPCM converts A-law encoded audio to 16-bit signed PCM.
// Returns a new slice containing the PCM data.
func ALawToPCM(alaw []byte) []byte {
	pcm := make([]byte, len(alaw)*2)
	ALawDecodeBuf(alaw, pcm)
	return pcm
}

// PCMToALaw converts 16-bit signed PCM audio to A-law.
// Returns a new slice containing the A-law data.
func PCMToALaw(pcm []byte) []byte {
	alaw := make([]byte, len(pcm)/2)
	ALawEncodeBuf(pcm, alaw)
	return alaw
}
