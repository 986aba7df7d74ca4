// Package server exposes the gateway's HTTP surface: the media stream
// WebSocket the provider attaches to, the call initiation endpoint, the
// provider webhook, the voice listing proxy and a health probe.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ther3zz/llm-communications-gateway/pkg/bridge"
	"github.com/ther3zz/llm-communications-gateway/pkg/config"
	"github.com/ther3zz/llm-communications-gateway/pkg/store"
	"github.com/ther3zz/llm-communications-gateway/pkg/telephony"
	"github.com/ther3zz/llm-communications-gateway/pkg/tts"
)

// CallStore persists call records and finalizes them at session teardown.
type CallStore interface {
	CreateCall(ctx context.Context, rec *store.CallRecord) (int64, error)
	bridge.Recorder
}

// VoiceSynthesizer is the synthesis backend plus its voice catalog.
type VoiceSynthesizer interface {
	bridge.Synthesizer
	Voices(ctx context.Context) []tts.Voice
}

// Deps are the collaborators the server hands to each session.
type Deps struct {
	Controller  telephony.CallController
	Transcriber bridge.Transcriber
	Synthesizer VoiceSynthesizer
	Completer   bridge.Completer
	Store       CallStore
	Notifier    bridge.Notifier
}

// Server owns the HTTP listener and the process-wide registry and broker.
type Server struct {
	cfg  *config.Config
	deps Deps

	registry *bridge.Registry
	broker   *bridge.Broker
	upgrader websocket.Upgrader

	httpServer *http.Server
	sessions   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server. Start must be called before it serves anything.
func New(cfg *config.Config, deps Deps) *Server {
	return &Server{
		cfg:      cfg,
		deps:     deps,
		registry: bridge.NewRegistry(),
		broker:   bridge.NewBroker(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the chi router. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/voice", func(r chi.Router) {
		r.Get("/stream/{streamID}", s.handleStream)
		r.Post("/call", s.handleCall)
		r.Post("/webhook", s.handleWebhook)
		r.Get("/voices", s.handleVoices)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start begins serving on the configured address.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}

	log.Printf("[Server] listening on %s", addr)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Server] serve error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the listener down and waits for it.
func (s *Server) Stop() error {
	log.Printf("[Server] stopping")
	if s.cancel != nil {
		s.cancel()
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}
	s.wg.Wait()
	s.registry.Close()
	log.Printf("[Server] stopped")
	return nil
}

// ActiveSessions reports the number of live media sessions.
func (s *Server) ActiveSessions() int {
	return int(s.sessions.Load())
}

// streamURL builds the externally reachable media socket URL handed to the
// provider, ws(s) scheme derived from the public base URL.
func (s *Server) streamURL(streamID string) string {
	base := s.cfg.Server.PublicBaseURL
	scheme := "ws"
	if strings.HasPrefix(base, "https://") {
		scheme = "wss"
	}
	base = strings.TrimPrefix(base, "https://")
	base = strings.TrimPrefix(base, "http://")
	base = strings.TrimPrefix(base, "wss://")
	base = strings.TrimPrefix(base, "ws://")
	base = strings.TrimRight(base, "/")
	return scheme + "://" + base + "/api/voice/stream/" + streamID + "?token=" + s.cfg.Server.WebhookToken
}
