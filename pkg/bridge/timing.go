package bridge

import (
	"time"

	"github.com/ther3zz/llm-communications-gateway/pkg/audio"
)

// HangupDelay computes how long to wait before tearing a call down so the
// far end hears the full sign-off. The provider buffers outbound frames,
// so audio accepted by the socket is not audio played yet: playback takes
// sentBytes at the codec's byte rate, of which elapsed has already passed.
// The result never drops below floor, a small buffer against clock skew.
func HangupDelay(codec audio.Codec, sentBytes int, elapsed, floor time.Duration) time.Duration {
	remaining := codec.PlaybackDuration(sentBytes) - elapsed
	if remaining < floor {
		return floor
	}
	return remaining
}
