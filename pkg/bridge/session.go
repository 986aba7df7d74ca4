package bridge

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ther3zz/llm-communications-gateway/pkg/audio"
	"github.com/ther3zz/llm-communications-gateway/pkg/llm"
	"github.com/ther3zz/llm-communications-gateway/pkg/telephony"
	"github.com/ther3zz/llm-communications-gateway/pkg/vad"
)

// costPerMinute estimates call cost at teardown.
const costPerMinute = 0.005

// Transcriber turns one buffered utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, timeout time.Duration) (string, error)
}

// Synthesizer streams WAV audio for a piece of text.
type Synthesizer interface {
	StreamSynthesize(ctx context.Context, text, voiceID string, timeout time.Duration) (<-chan []byte, <-chan error)
}

// Completer produces one full chat reply.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// CallResult is the final state written to the call record.
type CallResult struct {
	Status     string
	Duration   time.Duration
	Transcript string
	Cost       float64
}

// Recorder persists final call state. Failures are logged, never fatal.
type Recorder interface {
	FinalizeCall(ctx context.Context, recordID int64, providerCallID string, result CallResult) error
}

// Notifier delivers a best-effort out-of-band alert after an inbound call.
type Notifier interface {
	NotifyCallEnded(ctx context.Context, call CallContext, result CallResult)
}

// SessionConfig carries per-deployment tuning for one session. The timing
// knobs exist so tests can run without real-time pacing; production uses
// the defaults.
type SessionConfig struct {
	Codec          audio.Codec
	VoiceID        string
	SystemPrompt   string
	ForwardContext bool

	STTTimeout time.Duration
	TTSTimeout time.Duration
	LLMTimeout time.Duration

	// HandshakeSilence is the burst answered to the connected event.
	HandshakeSilence time.Duration
	// SenderSilence is the burst opening the initial-audio sequence.
	SenderSilence time.Duration
	// PadSilence precedes each spoken reply to avoid edge clipping.
	PadSilence time.Duration
	// EchoTail keeps the gate up after speech so the segmenter does not
	// catch tail audio as new speech.
	EchoTail time.Duration
	// FrameInterval paces outbound frames. Zero disables pacing.
	FrameInterval time.Duration
	// HangupFloor is the minimum wait before a directive hangup.
	HangupFloor time.Duration
	// MonitorTail is the playback allowance after the limit message.
	MonitorTail time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.Codec == "" {
		c.Codec = audio.CodecPCMU
	}
	if c.VoiceID == "" {
		c.VoiceID = "default"
	}
	if c.STTTimeout <= 0 {
		c.STTTimeout = 10 * time.Second
	}
	if c.TTSTimeout <= 0 {
		c.TTSTimeout = 10 * time.Second
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 10 * time.Second
	}
	if c.HandshakeSilence <= 0 {
		c.HandshakeSilence = time.Second
	}
	if c.SenderSilence <= 0 {
		c.SenderSilence = 500 * time.Millisecond
	}
	if c.PadSilence <= 0 {
		c.PadSilence = 100 * time.Millisecond
	}
	if c.EchoTail <= 0 {
		c.EchoTail = time.Second
	}
	if c.HangupFloor <= 0 {
		c.HangupFloor = 100 * time.Millisecond
	}
	if c.MonitorTail <= 0 {
		c.MonitorTail = 2 * time.Second
	}
	return c
}

// SessionDeps are the collaborators a session drives. Recorder and
// Notifier may be nil; persistence and alerting are then skipped.
type SessionDeps struct {
	Socket      MediaSocket
	Broker      *Broker
	Controller  telephony.CallController
	Transcriber Transcriber
	Synthesizer Synthesizer
	Completer   Completer
	Recorder    Recorder
	Notifier    Notifier
}

// Session supervises one live call leg from socket attach to teardown.
//
// Lifecycle: Handshaking (connected then start), Active (sender, duration
// monitor and per-turn tasks around the main receive loop), Terminating
// (cancel children, close socket), Closed (finalize record, alert).
type Session struct {
	cfg  SessionConfig
	call CallContext
	deps SessionDeps

	// mediaID is the media-session id from the start event, required on
	// every outbound frame.
	mediaID string

	// botSpeaking gates the segmenter: inbound audio is ignored while
	// our own audio is in flight, or its echo would become a turn.
	botSpeaking atomic.Bool
	// hangingUp is set once teardown is decided; turns stop clearing
	// the gate and no further hangup is issued.
	hangingUp atomic.Bool

	mu         sync.Mutex
	history    []llm.Message
	transcript []string

	turnWG   sync.WaitGroup
	finalize sync.Once

	// cancelSender and cancelTurns let the duration monitor stop those
	// tasks without cancelling itself.
	cancelSender context.CancelFunc
	cancelTurns  context.CancelFunc
}

// NewSession wires a session for one attached socket.
func NewSession(call CallContext, cfg SessionConfig, deps SessionDeps) *Session {
	return &Session{
		cfg:  cfg.withDefaults(),
		call: call,
		deps: deps,
	}
}

// Run drives the session to completion. It returns when the call is fully
// torn down; the error reports abnormal handshakes only.
func (s *Session) Run(ctx context.Context) error {
	stopped, err := s.handshake(ctx)
	if err != nil {
		// Handshake failures never touch the call record.
		s.deps.Socket.Close()
		return err
	}
	if stopped {
		s.deps.Socket.Close()
		return nil
	}

	log.Printf("[Session] call %s active, media session %s", s.call.ProviderCallID, s.mediaID)
	activeStart := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	senderCtx, cancelSender := context.WithCancel(ctx)
	turnCtx, cancelTurns := context.WithCancel(ctx)
	s.cancelSender = cancelSender
	s.cancelTurns = cancelTurns
	defer cancelSender()
	defer cancelTurns()

	s.botSpeaking.Store(true)

	var helpers sync.WaitGroup
	helpers.Add(2)
	go func() {
		defer helpers.Done()
		s.runSender(senderCtx)
	}()
	go func() {
		defer helpers.Done()
		s.runMonitor(ctx)
	}()

	s.receiveLoop(ctx, turnCtx)

	// Terminating: cancel children, close defensively, await turns.
	cancel()
	s.deps.Socket.Close()
	s.turnWG.Wait()
	helpers.Wait()

	s.close(time.Since(activeStart))
	return nil
}

// handshake waits for connected then start. A stop event or read error
// aborts the session before any audio work.
func (s *Session) handshake(ctx context.Context) (stopped bool, err error) {
	for {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		msg, err := s.deps.Socket.ReadMessage()
		if err != nil {
			return false, fmt.Errorf("handshake read: %w", err)
		}

		switch msg.Event {
		case EventConnected:
			// Prime the audio path so the provider opens the return
			// stream.
			s.sendSilence(ctx, s.cfg.HandshakeSilence)
		case EventStart:
			if msg.StreamID == "" {
				return false, fmt.Errorf("start event missing media-session id")
			}
			s.mediaID = msg.StreamID
			return false, nil
		case EventMedia:
			// Media before start means the start event was lost in
			// transit. The id rides on media frames too.
			if msg.StreamID != "" {
				log.Printf("[Session] media before start for call %s, assuming started", s.call.ProviderCallID)
				s.mediaID = msg.StreamID
				return false, nil
			}
		case EventStop:
			log.Printf("[Session] stop during handshake for call %s", s.call.ProviderCallID)
			return true, nil
		}
	}
}

// receiveLoop is the Active-state main loop: inbound frames feed the
// segmenter, segments spawn turns on turnCtx so the monitor can cancel
// them as a set.
func (s *Session) receiveLoop(ctx, turnCtx context.Context) {
	seg := vad.NewSegmenter(vad.Config{SampleRate: audio.WireSampleRate})

	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := s.deps.Socket.ReadMessage()
		if err != nil {
			log.Printf("[Session] socket closed for call %s: %v", s.call.ProviderCallID, err)
			return
		}

		switch msg.Event {
		case EventMedia:
			if s.botSpeaking.Load() {
				continue
			}
			frame, err := msg.DecodePayload()
			if err != nil {
				log.Printf("[Session] dropping undecodable frame: %v", err)
				continue
			}
			pcm := s.cfg.Codec.Decode(frame)
			if segment, ok := seg.Push(pcm); ok {
				s.dispatchSegment(ctx, turnCtx, segment)
			}
		case EventStop:
			log.Printf("[Session] stop event for call %s", s.call.ProviderCallID)
			return
		}
	}
}

func (s *Session) dispatchSegment(ctx, turnCtx context.Context, segment vad.Segment) {
	if segment.Discard {
		log.Printf("[Session] dropping silent buffer (%.2fs), no speech activity", segment.Duration.Seconds())
		return
	}
	log.Printf("[Session] processing audio (%s), duration %.2fs", segment.Reason, segment.Duration.Seconds())

	wav := audio.WrapWAV(segment.PCM, audio.WireSampleRate)
	text, err := s.deps.Transcriber.Transcribe(ctx, wav, s.cfg.STTTimeout)
	if err != nil {
		log.Printf("[Session] transcription failed: %v", err)
		return
	}
	if strings.TrimSpace(text) == "" {
		log.Printf("[Session] transcription empty, skipping turn")
		return
	}

	s.turnWG.Add(1)
	go func() {
		defer s.turnWG.Done()
		s.runTurn(turnCtx, text)
	}()
}

// runSender plays the initial audio sequence: a silence burst, the
// configured delay as continuous silence, then any preloaded audio.
func (s *Session) runSender(ctx context.Context) {
	defer func() {
		log.Printf("[Sender] listening enabled for call %s", s.call.ProviderCallID)
		s.botSpeaking.Store(false)
	}()

	s.sendSilence(ctx, s.cfg.SenderSilence)

	// The delay is silence, not a pause: the audio path must stay warm.
	if s.call.Delay > 0 {
		s.sendSilence(ctx, s.call.Delay)
	}

	queue := s.awaitPreload(ctx)
	if queue != nil {
		s.bindGreeting(queue)
		sent := s.drainPreload(ctx, queue)
		log.Printf("[Sender] preload finished for call %s, %d frames", s.call.ProviderCallID, sent)
		s.bindGreeting(queue)
	}

	s.sleep(ctx, s.cfg.EchoTail)
}

// awaitPreload resolves the preload queue. Inbound generation starts after
// the socket can attach, so absence is polled through a bounded wait
// instead of failing.
func (s *Session) awaitPreload(ctx context.Context) *Queue {
	if s.deps.Broker == nil {
		return nil
	}
	if s.call.Inbound && s.call.Prompt != "" {
		maxWait := s.cfg.LLMTimeout + s.cfg.TTSTimeout
		queue, ok := s.deps.Broker.Await(ctx, s.call.ProviderCallID, maxWait)
		if !ok {
			log.Printf("[Sender] preload queue never appeared for call %s", s.call.ProviderCallID)
			return nil
		}
		return queue
	}
	queue, ok := s.deps.Broker.Get(s.call.ProviderCallID)
	if !ok {
		return nil
	}
	return queue
}

func (s *Session) drainPreload(ctx context.Context, queue *Queue) int {
	sent := 0
	for {
		select {
		case <-ctx.Done():
			return sent
		case <-queue.Done():
			return sent
		case frame, ok := <-queue.Frames():
			if !ok {
				return sent
			}
			if err := s.deps.Socket.WriteJSON(NewMediaMessage(s.mediaID, frame)); err != nil {
				log.Printf("[Sender] write failed: %v", err)
				return sent
			}
			sent++
			s.sleep(ctx, s.cfg.FrameInterval)
		}
	}
}

// bindGreeting seeds history with the greeting text once generation has
// produced it. Called before and after draining: the text can arrive at
// either point relative to attachment.
func (s *Session) bindGreeting(queue *Queue) {
	greeting := queue.Greeting()
	if greeting == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.history {
		if m.Role == llm.RoleAssistant {
			return
		}
	}
	log.Printf("[Sender] binding initial greeting for call %s", s.call.ProviderCallID)
	s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: greeting})
	s.transcript = append(s.transcript, "Assistant: "+greeting)
}

// runMonitor enforces the call duration limit: it plays the limit message,
// waits out its playback, hangs up with the provider and closes the
// socket.
func (s *Session) runMonitor(ctx context.Context) {
	if s.call.MaxDuration <= 0 {
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.call.MaxDuration):
	}

	log.Printf("[Monitor] duration limit reached for call %s", s.call.ProviderCallID)
	s.hangingUp.Store(true)
	s.botSpeaking.Store(true)

	// Stop the sender and all in-flight turns before speaking over them.
	if s.cancelSender != nil {
		s.cancelSender()
	}
	if s.cancelTurns != nil {
		s.cancelTurns()
	}

	if s.call.LimitMessage != "" {
		if _, _, err := s.speak(ctx, s.call.LimitMessage); err != nil {
			log.Printf("[Monitor] limit message playback failed: %v", err)
		}
		s.sleep(ctx, s.cfg.MonitorTail)
	}

	s.issueHangup()
	s.deps.Socket.Close()
}

// speak synthesizes text and streams the transcoded frames to the socket.
// Returns the wire byte count and the time the first frame went out.
func (s *Session) speak(ctx context.Context, text string) (sentBytes int, started time.Time, err error) {
	audioChan, errChan := s.deps.Synthesizer.StreamSynthesize(ctx, text, s.cfg.VoiceID, s.cfg.TTSTimeout)
	transcoder := audio.NewStreamTranscoder(s.cfg.Codec)

	send := func(frames [][]byte) error {
		for _, frame := range frames {
			if started.IsZero() {
				started = time.Now()
			}
			if werr := s.deps.Socket.WriteJSON(NewMediaMessage(s.mediaID, frame)); werr != nil {
				return werr
			}
			sentBytes += len(frame)
			s.sleep(ctx, s.cfg.FrameInterval)
		}
		return nil
	}

	for chunk := range audioChan {
		if err := send(transcoder.Write(chunk)); err != nil {
			return sentBytes, started, fmt.Errorf("stream write: %w", err)
		}
	}
	if serr := <-errChan; serr != nil {
		return sentBytes, started, fmt.Errorf("synthesis: %w", serr)
	}
	if err := send(transcoder.Flush()); err != nil {
		return sentBytes, started, fmt.Errorf("stream write: %w", err)
	}
	return sentBytes, started, nil
}

// sendSilence streams encoded silence for the duration, paced at the
// frame interval.
func (s *Session) sendSilence(ctx context.Context, d time.Duration) {
	for _, frame := range s.cfg.Codec.SilenceFrames(d) {
		if ctx.Err() != nil {
			return
		}
		if err := s.deps.Socket.WriteJSON(NewMediaMessage(s.mediaID, frame)); err != nil {
			return
		}
		s.sleep(ctx, s.cfg.FrameInterval)
	}
}

func (s *Session) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// issueHangup asks the provider to end the call, at most once. Provider
// rejections are logged; the session still closes locally.
func (s *Session) issueHangup() {
	if s.deps.Controller == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.deps.Controller.Hangup(ctx, s.call.ProviderCallID); err != nil {
		log.Printf("[Session] provider hangup failed for call %s: %v", s.call.ProviderCallID, err)
	}
}

// close runs the Closed state exactly once: finalize the record, then
// best-effort alerting for inbound calls with an assigned user.
func (s *Session) close(duration time.Duration) {
	s.finalize.Do(func() {
		s.mu.Lock()
		transcript := strings.Join(s.transcript, "\n")
		s.mu.Unlock()

		result := CallResult{
			Status:     "completed",
			Duration:   duration,
			Transcript: transcript,
			Cost:       duration.Minutes() * costPerMinute,
		}

		if s.deps.Recorder != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.deps.Recorder.FinalizeCall(ctx, s.call.RecordID, s.call.ProviderCallID, result); err != nil {
				log.Printf("[Session] failed to finalize call record: %v", err)
			}
		}

		if s.deps.Notifier != nil && s.call.Inbound && s.call.UserID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			s.deps.Notifier.NotifyCallEnded(ctx, s.call, result)
		}

		log.Printf("[Session] call %s closed: %.0fs, %d transcript lines",
			s.call.ProviderCallID, duration.Seconds(), len(s.transcript))
	})
}
