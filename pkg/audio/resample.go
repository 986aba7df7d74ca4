// resample.go implements a streaming sample-rate converter for 16-bit
// little-endian mono PCM.
//
// The converter is stateful: the fractional read position and the tail
// sample of the previous block carry across calls, so feeding a signal in
// arbitrary block sizes produces exactly the same output as converting it
// in one pass. Resetting the state between blocks of one stream introduces
// an audible discontinuity at every block boundary and must not be done.

package audio

import (
	"encoding/binary"
	"fmt"
)

// Resampler converts 16-bit little-endian mono PCM between sample rates
// using linear interpolation with persistent filter state.
type Resampler struct {
	inRate  int
	outRate int

	// Streaming state: the last input sample of the previous block and the
	// fractional read position relative to it.
	last    int16
	hasLast bool
	frac    float64
}

// NewResampler creates a resampler converting from inRate to outRate.
func NewResampler(inRate, outRate int) (*Resampler, error) {
	if inRate <= 0 {
		return nil, fmt.Errorf("invalid input sample rate: %d", inRate)
	}
	if outRate <= 0 {
		return nil, fmt.Errorf("invalid output sample rate: %d", outRate)
	}
	return &Resampler{inRate: inRate, outRate: outRate}, nil
}

// Reset clears the streaming state. Call between independent streams only,
// never between blocks of one stream.
func (r *Resampler) Reset() {
	r.last = 0
	r.hasLast = false
	r.frac = 0
}

// Resample converts one block of PCM. The block length must be even.
// Returns the converted samples; an empty slice is valid when the block is
// too short to advance the read position past a sample gap.
func (r *Resampler) Resample(block []byte) ([]byte, error) {
	if len(block)%2 != 0 {
		return nil, fmt.Errorf("odd PCM block length %d", len(block))
	}
	if r.inRate == r.outRate {
		out := make([]byte, len(block))
		copy(out, block)
		return out, nil
	}
	if len(block) == 0 {
		return nil, nil
	}

	n := len(block) / 2
	samples := make([]int16, 0, n+1)
	if r.hasLast {
		samples = append(samples, r.last)
	}
	for i := 0; i < n; i++ {
		samples = append(samples, int16(binary.LittleEndian.Uint16(block[i*2:])))
	}

	step := float64(r.inRate) / float64(r.outRate)
	pos := r.frac

	out := make([]byte, 0, (n*r.outRate/r.inRate+2)*2)
	for int(pos)+1 < len(samples) {
		i := int(pos)
		f := pos - float64(i)
		v := float64(samples[i])*(1.0-f) + float64(samples[i+1])*f
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(clampSample(v))))
		pos += step
	}

	// Carry the tail: the next block continues interpolating from the last
	// input sample of this one.
	r.last = samples[len(samples)-1]
	r.hasLast = true
	r.frac = pos - float64(len(samples)-1)

	return out, nil
}

func clampSample(v float64) float64 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}
