package bridge

import (
	"context"
	"log"
	"time"

	"github.com/ther3zz/llm-communications-gateway/pkg/llm"
)

// runTurn executes one conversation turn: user text in, reply generated,
// directive extracted, speech out, optional hangup. Backend failures
// degrade the turn to silence; the gate is always released.
func (s *Session) runTurn(ctx context.Context, userText string) {
	s.botSpeaking.Store(true)
	log.Printf("[Turn] speaking gate enabled (user: %s)", userText)

	defer func() {
		if s.hangingUp.Load() {
			return
		}
		// Let our tail audio die out before listening again.
		s.sleep(ctx, s.cfg.EchoTail)
		s.botSpeaking.Store(false)
		log.Printf("[Turn] speaking gate released")
	}()

	messages := s.appendUserTurn(userText)

	reply, err := s.deps.Completer.Complete(ctx, messages)
	if err != nil {
		log.Printf("[Turn] completion failed, degrading to silence: %v", err)
		return
	}

	spoken, directive := llm.ExtractDirective(reply)
	if directive.Hangup() {
		log.Printf("[Turn] hangup directive received (reason: %s)", directive.Reason)
	}

	var sentBytes int
	var started time.Time
	if spoken != "" {
		// Pad against edge clipping before the reply starts.
		s.sendSilence(ctx, s.cfg.PadSilence)

		sentBytes, started, err = s.speak(ctx, spoken)
		if err != nil {
			log.Printf("[Turn] speech failed after %d bytes: %v", sentBytes, err)
		}
		s.appendAssistantTurn(spoken)
	}

	if directive.Hangup() && !s.hangingUp.Swap(true) {
		s.waitForPlayback(ctx, sentBytes, started)
		s.issueHangup()
		s.deps.Socket.Close()
	}
}

// appendUserTurn records the user utterance and returns the message list
// for the backend: full history when context forwarding is on, a stateless
// system+user pair otherwise.
func (s *Session) appendUserTurn(userText string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, llm.Message{Role: llm.RoleUser, Content: userText})
	s.transcript = append(s.transcript, "User: "+userText)

	system := llm.Message{Role: llm.RoleSystem, Content: s.systemPrompt()}
	if s.cfg.ForwardContext {
		messages := make([]llm.Message, 0, len(s.history)+1)
		messages = append(messages, system)
		return append(messages, s.history...)
	}
	return []llm.Message{system, {Role: llm.RoleUser, Content: userText}}
}

func (s *Session) appendAssistantTurn(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, llm.Message{Role: llm.RoleAssistant, Content: text})
	s.transcript = append(s.transcript, "Assistant: "+text)
}

func (s *Session) systemPrompt() string {
	return llm.ComposeSystemPrompt(llm.PromptParams{
		SystemPrompt: s.cfg.SystemPrompt,
		CallGoal:     s.call.Prompt,
		UserID:       s.call.UserID,
		ChatID:       s.call.ChatID,
	})
}

// waitForPlayback sleeps until the far end has heard everything we sent.
// Frames accepted by the socket are still queued provider-side; tearing
// down immediately would clip the sign-off.
func (s *Session) waitForPlayback(ctx context.Context, sentBytes int, started time.Time) {
	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = time.Since(started)
	}
	delay := HangupDelay(s.cfg.Codec, sentBytes, elapsed, s.cfg.HangupFloor)
	log.Printf("[Turn] waiting %.2fs for playback before hangup", delay.Seconds())
	s.sleep(ctx, delay)
}
