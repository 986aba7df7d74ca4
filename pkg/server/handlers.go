package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ther3zz/llm-communications-gateway/pkg/audio"
	"github.com/ther3zz/llm-communications-gateway/pkg/bridge"
	"github.com/ther3zz/llm-communications-gateway/pkg/store"
	"github.com/ther3zz/llm-communications-gateway/pkg/telephony"
	"github.com/ther3zz/llm-communications-gateway/pkg/trace"
)

// handleStream is the media socket attach point. The provider connects here
// with the stream id it was handed at dial or answer time.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") != s.cfg.Server.WebhookToken {
		log.Printf("[Server] stream attach rejected: bad token from %s", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusForbidden)
		return
	}

	streamID := chi.URLParam(r, "streamID")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[Server] websocket upgrade failed: %v", err)
		return
	}
	socket := bridge.NewMediaSocket(conn)

	call, ok := s.registry.Resolve(streamID)
	if !ok {
		log.Printf("[Server] unknown or replayed stream id %s, closing", streamID)
		socket.Close()
		return
	}

	codec, err := audio.ParseCodec(s.cfg.Voice.Codec)
	if err != nil {
		codec = audio.CodecPCMU
	}

	session := bridge.NewSession(call, bridge.SessionConfig{
		Codec:          codec,
		VoiceID:        s.cfg.Voice.VoiceID,
		SystemPrompt:   s.cfg.Voice.SystemPrompt,
		ForwardContext: s.cfg.Voice.ForwardContext,
		STTTimeout:     s.cfg.STT.Timeout,
		TTSTimeout:     s.cfg.TTS.Timeout,
		LLMTimeout:     s.cfg.LLM.Timeout,
	}, bridge.SessionDeps{
		Socket:      socket,
		Broker:      s.broker,
		Controller:  s.deps.Controller,
		Transcriber: s.deps.Transcriber,
		Synthesizer: s.deps.Synthesizer,
		Completer:   s.deps.Completer,
		Recorder:    s.deps.Store,
		Notifier:    s.deps.Notifier,
	})

	direction := "outbound"
	if call.Inbound {
		direction = "inbound"
	}
	ctx, span := trace.StartSpan(r.Context(), "voice.session")
	trace.SetAttributes(span, trace.CallAttrs(call.ProviderCallID, direction)...)
	trace.SetAttributes(span, trace.StreamAttrs(streamID, string(codec))...)
	defer span.End()

	s.sessions.Add(1)
	defer s.sessions.Add(-1)
	defer s.broker.Drop(call.ProviderCallID)

	log.Printf("[Server] stream %s attached for call %s (trace %s)", streamID, call.ProviderCallID, trace.TraceID(ctx))

	if err := session.Run(ctx); err != nil {
		trace.RecordError(span, err)
		log.Printf("[Server] session for call %s ended with error: %v", call.ProviderCallID, err)
	}
}

type callRequest struct {
	ToNumber string `json:"to_number"`
	Prompt   string `json:"prompt,omitempty"`
	DelayMS  int    `json:"delay_ms,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	ChatID   string `json:"chat_id,omitempty"`
}

type callResponse struct {
	Status   string `json:"status"`
	CallID   string `json:"call_id"`
	RecordID int64  `json:"record_id"`
}

// handleCall initiates an outbound call: dial with a fresh stream URL,
// persist the record, register the session context and kick off greeting
// generation into the preload queue.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ToNumber) == "" {
		http.Error(w, "to_number is required", http.StatusBadRequest)
		return
	}

	ctx, span := trace.StartSpan(r.Context(), "voice.call")
	defer span.End()

	streamID := strings.ReplaceAll(uuid.NewString(), "-", "")
	callID, err := s.deps.Controller.Dial(ctx, telephony.DialParams{
		To:           req.ToNumber,
		From:         s.cfg.Telephony.FromNumber,
		ConnectionID: s.cfg.Telephony.ConnectionID,
		StreamURL:    s.streamURL(streamID),
		Codec:        s.cfg.Voice.Codec,
	})

	status := "initiated"
	if err != nil {
		status = "failed"
	}
	rec := &store.CallRecord{
		ProviderCallID: callID,
		ToNumber:       req.ToNumber,
		FromNumber:     s.cfg.Telephony.FromNumber,
		Direction:      "outbound",
		Status:         status,
		UserID:         req.UserID,
		ChatID:         req.ChatID,
	}
	recordID, storeErr := s.deps.Store.CreateCall(ctx, rec)
	if storeErr != nil {
		log.Printf("[Server] failed to persist call record: %v", storeErr)
	}

	if err != nil {
		trace.RecordError(span, err)
		log.Printf("[Server] dial to %s failed: %v", req.ToNumber, err)
		http.Error(w, "call initiation failed", http.StatusBadGateway)
		return
	}
	trace.SetAttributes(span, trace.CallAttrs(callID, "outbound")...)

	if err := s.registry.Register(streamID, bridge.CallContext{
		ProviderCallID: callID,
		RecordID:       recordID,
		To:             req.ToNumber,
		From:           s.cfg.Telephony.FromNumber,
		Prompt:         req.Prompt,
		Delay:          time.Duration(req.DelayMS) * time.Millisecond,
		MaxDuration:    s.cfg.Voice.MaxDuration,
		LimitMessage:   s.cfg.Voice.LimitMessage,
		UserID:         req.UserID,
		ChatID:         req.ChatID,
	}); err != nil {
		log.Printf("[Server] stream registration failed: %v", err)
		http.Error(w, "stream registration failed", http.StatusInternalServerError)
		return
	}

	// Greeting generation runs concurrently with call setup so the session
	// finds audio waiting when the socket attaches.
	if req.Prompt != "" {
		if queue, err := s.broker.Create(callID); err == nil {
			go s.generateGreeting(s.ctxOrBackground(), queue, req.Prompt)
		} else {
			log.Printf("[Server] preload queue creation failed: %v", err)
		}
	}

	log.Printf("[Server] call initiated to %s (call %s, record %d, stream %s)",
		req.ToNumber, callID, recordID, streamID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(callResponse{Status: "initiated", CallID: callID, RecordID: recordID})
}

// webhookEvent is the provider's event envelope.
type webhookEvent struct {
	Data struct {
		EventType string `json:"event_type"`
		Payload   struct {
			CallControlID string `json:"call_control_id"`
			Direction     string `json:"direction"`
			To            string `json:"to"`
			From          string `json:"from"`
		} `json:"payload"`
	} `json:"data"`
}

// handleWebhook receives provider call events. Inbound call.initiated is
// the interesting one: answer with a stream URL and preload a greeting.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("token") != s.cfg.Server.WebhookToken {
		log.Printf("[Server] unauthorized webhook attempt from %s", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusForbidden)
		return
	}

	var event webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid event body", http.StatusBadRequest)
		return
	}

	eventType := event.Data.EventType
	payload := event.Data.Payload
	log.Printf("[Server] webhook event %s (call %s, direction %s)", eventType, payload.CallControlID, payload.Direction)

	w.Header().Set("Content-Type", "application/json")

	switch eventType {
	case "call.initiated":
		if payload.Direction != "inbound" && payload.Direction != "incoming" {
			break
		}
		if !s.cfg.Telephony.InboundEnabled {
			log.Printf("[Server] inbound call rejected: inbound disabled")
			json.NewEncoder(w).Encode(map[string]string{"status": "rejected"})
			return
		}
		if err := s.acceptInbound(r, payload.CallControlID, payload.To, payload.From); err != nil {
			log.Printf("[Server] inbound accept failed for %s: %v", payload.CallControlID, err)
		}
	case "call.answered":
		log.Printf("[Server] call answered: %s", payload.CallControlID)
	case "call.hangup":
		log.Printf("[Server] call hangup: %s", payload.CallControlID)
	}

	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// acceptInbound registers the stream context, starts greeting generation
// and answers the call with the stream URL.
func (s *Server) acceptInbound(r *http.Request, callID, to, from string) error {
	ctx, span := trace.StartSpan(r.Context(), "voice.inbound")
	defer span.End()
	trace.SetAttributes(span, trace.CallAttrs(callID, "inbound")...)

	recordID, err := s.deps.Store.CreateCall(ctx, &store.CallRecord{
		ProviderCallID: callID,
		ToNumber:       to,
		FromNumber:     from,
		Direction:      "inbound",
		Status:         "ringing",
		UserID:         s.cfg.Telephony.InboundUserID,
		ChatID:         s.cfg.Telephony.InboundChatID,
	})
	if err != nil {
		log.Printf("[Server] failed to persist inbound record: %v", err)
	}

	streamID := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.registry.Register(streamID, bridge.CallContext{
		ProviderCallID: callID,
		RecordID:       recordID,
		To:             to,
		From:           from,
		Prompt:         s.cfg.Voice.InboundPrompt,
		Inbound:        true,
		MaxDuration:    s.cfg.Voice.MaxDuration,
		LimitMessage:   s.cfg.Voice.LimitMessage,
		UserID:         s.cfg.Telephony.InboundUserID,
		ChatID:         s.cfg.Telephony.InboundChatID,
	}); err != nil {
		return err
	}

	if s.cfg.Voice.InboundPrompt != "" {
		if queue, qerr := s.broker.Create(callID); qerr == nil {
			go s.generateGreeting(s.ctxOrBackground(), queue, s.cfg.Voice.InboundPrompt)
		} else {
			log.Printf("[Server] inbound preload queue creation failed: %v", qerr)
		}
	}

	if err := s.deps.Controller.Answer(ctx, callID, telephony.AnswerParams{
		StreamURL: s.streamURL(streamID),
		Codec:     s.cfg.Voice.Codec,
	}); err != nil {
		trace.RecordError(span, err)
		return err
	}
	return nil
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices := s.deps.Synthesizer.Voices(r.Context())
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"voices": voices})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"sessions": s.ActiveSessions(),
	})
}
