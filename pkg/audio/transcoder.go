package audio

import "log"

// pcmBlockSize is the number of source PCM bytes converted per step.
// Keeping blocks small bounds the latency between receiving synthesized
// audio and putting frames on the wire.
const pcmBlockSize = 960

// StreamTranscoder converts a synthesized WAV byte stream into wire frames
// for one call leg: it strips the WAV header, downsamples the PCM to the
// wire rate, encodes with the leg's codec and slices the result into
// fixed-size frames.
//
// It is a push API. Feed chunks in arrival order with Write; each call
// returns the wire frames that became complete. Call Flush once the source
// stream ends to drain the remainder. Not safe for concurrent use.
type StreamTranscoder struct {
	codec Codec

	headerDone bool
	srcRate    int
	resampler  *Resampler

	pending []byte // source PCM not yet converted
	encoded []byte // encoded bytes not yet sliced into frames
}

// NewStreamTranscoder creates a transcoder targeting the given wire codec.
func NewStreamTranscoder(codec Codec) *StreamTranscoder {
	return &StreamTranscoder{codec: codec}
}

// SourceRate returns the sample rate announced by the stream's WAV header,
// or zero before the header has been seen.
func (t *StreamTranscoder) SourceRate() int {
	if !t.headerDone {
		return 0
	}
	return t.srcRate
}

// Write feeds one chunk of the source stream and returns the wire frames
// completed by it. The first chunk is expected to carry the WAV header;
// headerless streams are treated as raw PCM at the default synthesis rate.
func (t *StreamTranscoder) Write(chunk []byte) [][]byte {
	t.pending = append(t.pending, chunk...)

	if !t.headerDone {
		if len(t.pending) < WAVHeaderSize {
			return nil
		}
		rate, skip := ParseWAVHeader(t.pending)
		t.srcRate = rate
		t.pending = t.pending[skip:]
		t.headerDone = true
	}

	for len(t.pending) >= pcmBlockSize {
		block := t.pending[:pcmBlockSize]
		t.pending = t.pending[pcmBlockSize:]
		t.convert(block)
	}
	return t.takeFrames(false)
}

// Flush converts the buffered remainder and returns the final frames,
// including a trailing short frame if the stream did not end on a frame
// boundary. The transcoder must not be written to afterwards.
func (t *StreamTranscoder) Flush() [][]byte {
	if !t.headerDone && len(t.pending) > 0 {
		rate, skip := ParseWAVHeader(t.pending)
		t.srcRate = rate
		t.pending = t.pending[skip:]
		t.headerDone = true
	}
	// A trailing odd byte cannot form a sample and is dropped.
	if rem := len(t.pending) &^ 1; rem > 0 {
		t.convert(t.pending[:rem])
	}
	t.pending = nil
	return t.takeFrames(true)
}

func (t *StreamTranscoder) convert(block []byte) {
	pcm := block
	if t.srcRate != WireSampleRate {
		if t.resampler == nil {
			r, err := NewResampler(t.srcRate, WireSampleRate)
			if err != nil {
				log.Printf("[Transcoder] resampler init failed for %d Hz: %v", t.srcRate, err)
				t.srcRate = WireSampleRate
			} else {
				t.resampler = r
			}
		}
		if t.resampler != nil {
			out, err := t.resampler.Resample(block)
			if err != nil {
				log.Printf("[Transcoder] dropping block: %v", err)
				return
			}
			pcm = out
		}
	}
	if len(pcm) == 0 {
		return
	}
	t.encoded = append(t.encoded, t.codec.Encode(pcm)...)
}

func (t *StreamTranscoder) takeFrames(final bool) [][]byte {
	size := t.codec.FrameBytes()
	var frames [][]byte
	for len(t.encoded) >= size {
		frames = append(frames, t.encoded[:size:size])
		t.encoded = t.encoded[size:]
	}
	if final && len(t.encoded) > 0 {
		frames = append(frames, t.encoded)
		t.encoded = nil
	}
	return frames
}
