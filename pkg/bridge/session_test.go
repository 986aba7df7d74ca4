package bridge

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ther3zz/llm-communications-gateway/pkg/audio"
	"github.com/ther3zz/llm-communications-gateway/pkg/llm"
	"github.com/ther3zz/llm-communications-gateway/pkg/telephony"
)

// fakeSocket is an in-memory MediaSocket. Inbound messages are fed through
// push; outbound writes are recorded. Close unblocks pending reads.
type fakeSocket struct {
	inbound chan StreamMessage
	closed  chan struct{}
	once    sync.Once

	mu  sync.Mutex
	out []StreamMessage
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan StreamMessage, 256),
		closed:  make(chan struct{}),
	}
}

func (f *fakeSocket) ReadMessage() (StreamMessage, error) {
	select {
	case msg := <-f.inbound:
		return msg, nil
	case <-f.closed:
		return StreamMessage{}, errors.New("use of closed connection")
	}
}

func (f *fakeSocket) WriteJSON(msg StreamMessage) error {
	select {
	case <-f.closed:
		return errors.New("use of closed connection")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, msg)
	return nil
}

func (f *fakeSocket) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSocket) push(msg StreamMessage) {
	f.inbound <- msg
}

func (f *fakeSocket) mediaFrames(t *testing.T) [][]byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var frames [][]byte
	for _, msg := range f.out {
		if msg.Event != EventMedia {
			continue
		}
		frame, err := msg.DecodePayload()
		require.NoError(t, err)
		frames = append(frames, frame)
	}
	return frames
}

func (f *fakeSocket) mediaCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, msg := range f.out {
		if msg.Event == EventMedia {
			n++
		}
	}
	return n
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, wav []byte, timeout time.Duration) (string, error) {
	return f.text, f.err
}

type fakeCompleter struct {
	reply string
	err   error

	mu   sync.Mutex
	seen [][]llm.Message
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	f.mu.Lock()
	f.seen = append(f.seen, messages)
	f.mu.Unlock()
	return f.reply, f.err
}

func (f *fakeCompleter) requests() [][]llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]llm.Message(nil), f.seen...)
}

// fakeSynthesizer yields a short 8kHz WAV clip for any text.
type fakeSynthesizer struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeSynthesizer) StreamSynthesize(ctx context.Context, text, voiceID string, timeout time.Duration) (<-chan []byte, <-chan error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()

	audioChan := make(chan []byte, 1)
	errChan := make(chan error, 1)
	audioChan <- audio.WrapWAV(pcmTone(100*time.Millisecond, 3000), audio.WireSampleRate)
	close(audioChan)
	errChan <- nil
	return audioChan, errChan
}

func (f *fakeSynthesizer) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeController struct {
	mu      sync.Mutex
	hangups []string
}

func (f *fakeController) Dial(ctx context.Context, params telephony.DialParams) (string, error) {
	return "dialed", nil
}

func (f *fakeController) Answer(ctx context.Context, callID string, params telephony.AnswerParams) error {
	return nil
}

func (f *fakeController) Hangup(ctx context.Context, callID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hangups = append(f.hangups, callID)
	return nil
}

func (f *fakeController) hangupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hangups)
}

type fakeRecorder struct {
	mu       sync.Mutex
	calls    int
	recordID int64
	callID   string
	result   CallResult
}

func (f *fakeRecorder) FinalizeCall(ctx context.Context, recordID int64, providerCallID string, result CallResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.recordID = recordID
	f.callID = providerCallID
	f.result = result
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	calls  int
	call   CallContext
	result CallResult
}

func (f *fakeNotifier) NotifyCallEnded(ctx context.Context, call CallContext, result CallResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.call = call
	f.result = result
}

// pcmTone builds d of 440Hz sine at the given amplitude, 16-bit LE 8kHz.
func pcmTone(d time.Duration, amplitude float64) []byte {
	n := int(d.Seconds() * audio.WireSampleRate)
	pcm := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/audio.WireSampleRate))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

func pcmSilence(d time.Duration) []byte {
	n := int(d.Seconds() * audio.WireSampleRate)
	return make([]byte, n*2)
}

// testSessionConfig shrinks every timing knob so sessions run without
// real-time pacing. L16 keeps the wire payload equal to the PCM, so tests
// can feed the segmenter directly.
func testSessionConfig() SessionConfig {
	return SessionConfig{
		Codec:            audio.CodecL16,
		HandshakeSilence: 100 * time.Millisecond,
		SenderSilence:    20 * time.Millisecond,
		PadSilence:       20 * time.Millisecond,
		EchoTail:         time.Millisecond,
		HangupFloor:      time.Millisecond,
		MonitorTail:      time.Millisecond,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func runSession(s *Session) chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()
	return done
}

func awaitRun(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func TestSessionStopDuringHandshakeAborts(t *testing.T) {
	socket := newFakeSocket()
	recorder := &fakeRecorder{}
	s := NewSession(CallContext{ProviderCallID: "call-1"}, testSessionConfig(), SessionDeps{
		Socket:   socket,
		Recorder: recorder,
	})

	socket.push(StreamMessage{Event: EventStop})
	require.NoError(t, awaitRun(t, runSession(s)))

	assert.Zero(t, recorder.calls, "aborted handshake must not touch the record")
	select {
	case <-socket.closed:
	default:
		t.Fatal("socket left open after abort")
	}
}

func TestSessionConnectedTriggersSilenceBurst(t *testing.T) {
	socket := newFakeSocket()
	s := NewSession(CallContext{ProviderCallID: "call-1"}, testSessionConfig(), SessionDeps{
		Socket: socket,
	})

	socket.push(StreamMessage{Event: EventConnected})
	done := runSession(s)
	waitFor(t, func() bool { return socket.mediaCount() >= 5 }, "handshake silence burst")
	socket.push(StreamMessage{Event: EventStop})
	require.NoError(t, awaitRun(t, done))

	frames := socket.mediaFrames(t)
	// 100ms of handshake silence at 20ms per frame.
	require.GreaterOrEqual(t, len(frames), 5)
	for _, frame := range frames[:5] {
		assert.Equal(t, audio.CodecL16.SilenceFrame(), frame)
	}
}

func TestSessionConversationTurn(t *testing.T) {
	socket := newFakeSocket()
	recorder := &fakeRecorder{}
	completer := &fakeCompleter{reply: "Happy to help with that."}
	synth := &fakeSynthesizer{}

	cfg := testSessionConfig()
	cfg.SystemPrompt = "You are a phone assistant."
	cfg.ForwardContext = true

	s := NewSession(CallContext{ProviderCallID: "call-1", RecordID: 7}, cfg, SessionDeps{
		Socket:      socket,
		Transcriber: &fakeTranscriber{text: "hello there"},
		Completer:   completer,
		Synthesizer: synth,
		Recorder:    recorder,
	})

	socket.push(StreamMessage{Event: EventStart, StreamID: "ms-1"})
	done := runSession(s)

	// Wait out the initial-audio sequence before the gate would swallow
	// the caller audio. The sender always emits at least one silence frame,
	// so frames-then-gate-clear means it finished.
	waitFor(t, func() bool { return socket.mediaCount() >= 1 && !s.botSpeaking.Load() }, "listening enabled")

	socket.push(NewMediaMessage("ms-1", pcmTone(600*time.Millisecond, 3000)))
	socket.push(NewMediaMessage("ms-1", pcmSilence(1300*time.Millisecond)))

	waitFor(t, func() bool { return len(synth.spoken()) == 1 }, "reply synthesis")
	waitFor(t, func() bool { return !s.botSpeaking.Load() }, "turn gate release")
	socket.push(StreamMessage{Event: EventStop})
	require.NoError(t, awaitRun(t, done))

	requests := completer.requests()
	require.Len(t, requests, 1)
	require.GreaterOrEqual(t, len(requests[0]), 2)
	assert.Equal(t, llm.RoleSystem, requests[0][0].Role)
	assert.Contains(t, requests[0][0].Content, "You are a phone assistant.")
	assert.Equal(t, llm.RoleUser, requests[0][1].Role)
	assert.Equal(t, "hello there", requests[0][1].Content)

	assert.Equal(t, []string{"Happy to help with that."}, synth.spoken())

	assert.Equal(t, 1, recorder.calls)
	assert.Equal(t, int64(7), recorder.recordID)
	assert.Equal(t, "call-1", recorder.callID)
	assert.Equal(t, "completed", recorder.result.Status)
	assert.Contains(t, recorder.result.Transcript, "User: hello there")
	assert.Contains(t, recorder.result.Transcript, "Assistant: Happy to help with that.")
	assert.Greater(t, recorder.result.Cost, 0.0)
}

func TestSessionHangupDirectiveEndsCall(t *testing.T) {
	socket := newFakeSocket()
	controller := &fakeController{}
	recorder := &fakeRecorder{}
	synth := &fakeSynthesizer{}

	reply := "Goodbye for now. {\"action\": \"hangup\", \"reason\": \"caller done\"}"
	s := NewSession(CallContext{ProviderCallID: "call-1"}, testSessionConfig(), SessionDeps{
		Socket:      socket,
		Controller:  controller,
		Transcriber: &fakeTranscriber{text: "that is all, thanks"},
		Completer:   &fakeCompleter{reply: reply},
		Synthesizer: synth,
		Recorder:    recorder,
	})

	socket.push(StreamMessage{Event: EventStart, StreamID: "ms-1"})
	done := runSession(s)
	waitFor(t, func() bool { return socket.mediaCount() >= 1 && !s.botSpeaking.Load() }, "listening enabled")

	socket.push(NewMediaMessage("ms-1", pcmTone(600*time.Millisecond, 3000)))
	socket.push(NewMediaMessage("ms-1", pcmSilence(1300*time.Millisecond)))

	// The directive turn closes the socket itself; no stop event needed.
	require.NoError(t, awaitRun(t, done))

	assert.Equal(t, 1, controller.hangupCount(), "exactly one provider hangup")
	assert.Equal(t, []string{"Goodbye for now."}, synth.spoken(), "directive JSON must not be spoken")
	assert.Equal(t, 1, recorder.calls)
	assert.Equal(t, "completed", recorder.result.Status)
}

func TestSessionDurationLimit(t *testing.T) {
	socket := newFakeSocket()
	controller := &fakeController{}
	recorder := &fakeRecorder{}
	synth := &fakeSynthesizer{}

	call := CallContext{
		ProviderCallID: "call-1",
		MaxDuration:    50 * time.Millisecond,
		LimitMessage:   "This call has reached its time limit. Goodbye.",
	}
	s := NewSession(call, testSessionConfig(), SessionDeps{
		Socket:      socket,
		Controller:  controller,
		Synthesizer: synth,
		Recorder:    recorder,
	})

	socket.push(StreamMessage{Event: EventStart, StreamID: "ms-1"})
	require.NoError(t, awaitRun(t, runSession(s)))

	assert.Equal(t, 1, controller.hangupCount())
	assert.Contains(t, synth.spoken(), call.LimitMessage)
	assert.Equal(t, 1, recorder.calls)
}

func TestSessionOutboundPreloadDrain(t *testing.T) {
	socket := newFakeSocket()
	recorder := &fakeRecorder{}
	broker := NewBroker()

	queue, err := broker.Create("call-1")
	require.NoError(t, err)
	preloaded := [][]byte{{0x01}, {0x02}, {0x03}}
	for _, frame := range preloaded {
		require.True(t, queue.Push(frame))
	}
	queue.SetGreeting("Hi there, this is a callback.")
	queue.Finish()

	s := NewSession(CallContext{ProviderCallID: "call-1"}, testSessionConfig(), SessionDeps{
		Socket:   socket,
		Broker:   broker,
		Recorder: recorder,
	})

	socket.push(StreamMessage{Event: EventStart, StreamID: "ms-1"})
	done := runSession(s)
	waitFor(t, func() bool { return socket.mediaCount() >= 4 && !s.botSpeaking.Load() }, "preload drained")
	socket.push(StreamMessage{Event: EventStop})
	require.NoError(t, awaitRun(t, done))

	var short [][]byte
	for _, frame := range socket.mediaFrames(t) {
		if len(frame) < audio.CodecL16.FrameBytes() {
			short = append(short, frame)
		}
	}
	assert.Equal(t, preloaded, short, "preloaded frames in push order")

	assert.Contains(t, recorder.result.Transcript, "Assistant: Hi there, this is a callback.")
}

func TestSessionInboundLatePreloadAndAlert(t *testing.T) {
	socket := newFakeSocket()
	recorder := &fakeRecorder{}
	notifier := &fakeNotifier{}
	broker := NewBroker()

	call := CallContext{
		ProviderCallID: "call-1",
		Prompt:         "Greet the caller warmly.",
		Inbound:        true,
		UserID:         "user-9",
		ChatID:         "chat-3",
	}
	s := NewSession(call, testSessionConfig(), SessionDeps{
		Socket:   socket,
		Broker:   broker,
		Recorder: recorder,
		Notifier: notifier,
	})

	// Inbound generation registers its queue after the socket attaches.
	go func() {
		time.Sleep(150 * time.Millisecond)
		queue, err := broker.Create("call-1")
		if err != nil {
			return
		}
		queue.Push([]byte{0xAA})
		queue.SetGreeting("Hello, how can I help?")
		queue.Finish()
	}()

	socket.push(StreamMessage{Event: EventStart, StreamID: "ms-1"})
	done := runSession(s)
	waitFor(t, func() bool { return socket.mediaCount() >= 2 && !s.botSpeaking.Load() }, "late preload drained")
	socket.push(StreamMessage{Event: EventStop})
	require.NoError(t, awaitRun(t, done))

	found := false
	for _, frame := range socket.mediaFrames(t) {
		if len(frame) == 1 && frame[0] == 0xAA {
			found = true
		}
	}
	assert.True(t, found, "late preload audio reached the wire")
	assert.Contains(t, recorder.result.Transcript, "Assistant: Hello, how can I help?")

	assert.Equal(t, 1, notifier.calls, "inbound call with a user gets an alert")
	assert.Equal(t, "user-9", notifier.call.UserID)
	assert.Equal(t, recorder.result.Status, notifier.result.Status)
}

func TestSessionOutboundFramesCarryMediaID(t *testing.T) {
	socket := newFakeSocket()
	s := NewSession(CallContext{ProviderCallID: "call-1"}, testSessionConfig(), SessionDeps{
		Socket: socket,
	})

	socket.push(StreamMessage{Event: EventStart, StreamID: "ms-77"})
	done := runSession(s)
	waitFor(t, func() bool { return socket.mediaCount() >= 1 }, "sender silence")
	socket.push(StreamMessage{Event: EventStop})
	require.NoError(t, awaitRun(t, done))

	socket.mu.Lock()
	defer socket.mu.Unlock()
	for _, msg := range socket.out {
		if msg.Event == EventMedia {
			assert.Equal(t, "ms-77", msg.StreamID)
		}
	}
}
