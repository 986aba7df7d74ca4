package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ther3zz/llm-communications-gateway/pkg/audio"
)

func TestHangupDelay(t *testing.T) {
	floor := 100 * time.Millisecond

	// 8000 PCMU bytes play for 1s; 300ms already elapsed.
	d := HangupDelay(audio.CodecPCMU, 8000, 300*time.Millisecond, floor)
	assert.Equal(t, 700*time.Millisecond, d)

	// L16 runs at twice the byte rate.
	d = HangupDelay(audio.CodecL16, 16000, 0, floor)
	assert.Equal(t, time.Second, d)
}

func TestHangupDelayClampsToFloor(t *testing.T) {
	floor := 100 * time.Millisecond

	// Playback already finished: clamp, never negative.
	d := HangupDelay(audio.CodecPCMU, 8000, 5*time.Second, floor)
	assert.Equal(t, floor, d)

	// Nothing sent at all.
	d = HangupDelay(audio.CodecPCMU, 0, 0, floor)
	assert.Equal(t, floor, d)
}
