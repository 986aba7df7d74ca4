package server

import (
	"context"
	"log"

	"github.com/ther3zz/llm-communications-gateway/pkg/audio"
	"github.com/ther3zz/llm-communications-gateway/pkg/bridge"
	"github.com/ther3zz/llm-communications-gateway/pkg/llm"
)

// greetingTrigger is the user turn that makes the model speak first.
const greetingTrigger = "Introduce yourself."

// generateGreeting produces the initial greeting into the preload queue:
// one completion against the call goal, synthesized and transcoded to wire
// frames. Finish always runs so a draining session never hangs on a failed
// generation.
func (s *Server) generateGreeting(ctx context.Context, queue *bridge.Queue, goal string) {
	defer queue.Finish()

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: llm.ComposeSystemPrompt(llm.PromptParams{
			SystemPrompt: s.cfg.Voice.SystemPrompt,
			CallGoal:     goal,
		})},
		{Role: llm.RoleUser, Content: greetingTrigger},
	}

	reply, err := s.deps.Completer.Complete(ctx, messages)
	if err != nil {
		log.Printf("[Server] greeting generation failed: %v", err)
		return
	}
	spoken, _ := llm.ExtractDirective(reply)
	if spoken == "" {
		log.Printf("[Server] greeting generation produced no speakable text")
		return
	}
	queue.SetGreeting(spoken)

	codec, err := audio.ParseCodec(s.cfg.Voice.Codec)
	if err != nil {
		codec = audio.CodecPCMU
	}
	transcoder := audio.NewStreamTranscoder(codec)

	audioChan, errChan := s.deps.Synthesizer.StreamSynthesize(ctx, spoken, s.cfg.Voice.VoiceID, s.cfg.TTS.Timeout)
	pushed := 0
	push := func(frames [][]byte) bool {
		for _, frame := range frames {
			if !queue.Push(frame) {
				return false
			}
			pushed++
		}
		return true
	}

	for chunk := range audioChan {
		if !push(transcoder.Write(chunk)) {
			// Queue dropped: drain the stream so the synthesis
			// goroutine can exit.
			for range audioChan {
			}
			<-errChan
			log.Printf("[Server] greeting preload cancelled after %d frames", pushed)
			return
		}
	}
	if serr := <-errChan; serr != nil {
		log.Printf("[Server] greeting synthesis failed after %d frames: %v", pushed, serr)
	}
	push(transcoder.Flush())
	log.Printf("[Server] greeting preloaded: %d frames", pushed)
}

func (s *Server) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
