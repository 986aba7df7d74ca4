// Package vad provides voice activity detection for the telephony leg.
//
// Detection is energy based: each frame's RMS amplitude is compared against
// a fixed threshold, and utterance boundaries are drawn where sustained
// silence follows buffered speech. This is deliberately simple. The wire
// audio is narrowband 8kHz telephone speech where an RMS gate performs
// close to model-based detectors at a fraction of the cost, and the
// downstream transcriber tolerates loose boundaries.
package vad

import (
	"math"
	"time"
)

// Reason identifies why a segment was cut.
type Reason string

const (
	// ReasonSilence means the caller stopped talking long enough.
	ReasonSilence Reason = "silence_detected"
	// ReasonMaxDuration means the utterance hit the hard length cap.
	ReasonMaxDuration Reason = "max_duration"
)

// Config controls segmentation behavior.
type Config struct {
	// SampleRate of the incoming PCM in Hz.
	SampleRate int
	// EnergyThreshold is the RMS amplitude above which a frame counts as
	// speech.
	EnergyThreshold float64
	// SilenceHold is how long silence must persist before a buffered
	// utterance is cut.
	SilenceHold time.Duration
	// MinUtterance is the shortest buffer worth cutting on silence.
	MinUtterance time.Duration
	// MaxUtterance is the hard cap. The buffer is cut when it reaches
	// this length regardless of silence.
	MaxUtterance time.Duration
}

// DefaultConfig returns the tuning used on the telephone leg.
func DefaultConfig() Config {
	return Config{
		SampleRate:      8000,
		EnergyThreshold: 500,
		SilenceHold:     1200 * time.Millisecond,
		MinUtterance:    500 * time.Millisecond,
		MaxUtterance:    15 * time.Second,
	}
}

// Segment is one cut utterance.
type Segment struct {
	// PCM is the buffered 16-bit little-endian audio of the utterance,
	// including any trailing silence.
	PCM []byte
	// Duration is the audio length of PCM.
	Duration time.Duration
	// Reason is why the cut happened.
	Reason Reason
	// Discard is set when no frame in the segment crossed the energy
	// threshold. Such segments are line noise and must not be
	// transcribed.
	Discard bool
}

// Segmenter accumulates PCM frames and cuts them into utterances.
// Not safe for concurrent use; each call leg owns one.
type Segmenter struct {
	cfg Config

	buf        []byte
	silence    time.Duration
	speechSeen bool
}

// NewSegmenter creates a segmenter. Zero config fields take defaults.
func NewSegmenter(cfg Config) *Segmenter {
	def := DefaultConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = def.EnergyThreshold
	}
	if cfg.SilenceHold <= 0 {
		cfg.SilenceHold = def.SilenceHold
	}
	if cfg.MinUtterance <= 0 {
		cfg.MinUtterance = def.MinUtterance
	}
	if cfg.MaxUtterance <= 0 {
		cfg.MaxUtterance = def.MaxUtterance
	}
	return &Segmenter{cfg: cfg}
}

// Push feeds one PCM frame. When the frame completes an utterance, the
// segment is returned with ok true and the internal buffer starts over.
func (s *Segmenter) Push(pcm []byte) (Segment, bool) {
	if len(pcm) == 0 {
		return Segment{}, false
	}

	s.buf = append(s.buf, pcm...)
	frameDur := s.pcmDuration(len(pcm))

	if RMS(pcm) >= s.cfg.EnergyThreshold {
		s.speechSeen = true
		s.silence = 0
	} else {
		s.silence += frameDur
	}

	buffered := s.pcmDuration(len(s.buf))
	switch {
	case s.silence > s.cfg.SilenceHold && buffered > s.cfg.MinUtterance:
		return s.cut(ReasonSilence), true
	case buffered >= s.cfg.MaxUtterance:
		return s.cut(ReasonMaxDuration), true
	}
	return Segment{}, false
}

// Buffered returns the audio length currently accumulated.
func (s *Segmenter) Buffered() time.Duration {
	return s.pcmDuration(len(s.buf))
}

// Reset drops the buffer and all state. Call when the bot starts speaking
// so its own echo does not leak into the next utterance.
func (s *Segmenter) Reset() {
	s.buf = nil
	s.silence = 0
	s.speechSeen = false
}

func (s *Segmenter) cut(reason Reason) Segment {
	seg := Segment{
		PCM:      s.buf,
		Duration: s.pcmDuration(len(s.buf)),
		Reason:   reason,
		Discard:  !s.speechSeen,
	}
	s.buf = nil
	s.silence = 0
	s.speechSeen = false
	return seg
}

func (s *Segmenter) pcmDuration(n int) time.Duration {
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(s.cfg.SampleRate)
}

// RMS returns the root-mean-square amplitude of 16-bit little-endian PCM.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
