package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ther3zz/llm-communications-gateway/pkg/alert"
	"github.com/ther3zz/llm-communications-gateway/pkg/config"
	"github.com/ther3zz/llm-communications-gateway/pkg/llm"
	"github.com/ther3zz/llm-communications-gateway/pkg/server"
	"github.com/ther3zz/llm-communications-gateway/pkg/store"
	"github.com/ther3zz/llm-communications-gateway/pkg/stt"
	"github.com/ther3zz/llm-communications-gateway/pkg/telephony"
	"github.com/ther3zz/llm-communications-gateway/pkg/trace"
	"github.com/ther3zz/llm-communications-gateway/pkg/tts"
)

func main() {
	godotenv.Load()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[Main] failed to load config: %v", err)
	}

	ctx := context.Background()

	if cfg.Trace.Enabled {
		traceCfg := trace.DefaultConfig()
		traceCfg.ExporterType = cfg.Trace.Exporter
		if cfg.Trace.Endpoint != "" {
			traceCfg.OTLPEndpoint = cfg.Trace.Endpoint
		}
		if err := trace.Initialize(ctx, traceCfg); err != nil {
			log.Fatalf("[Main] failed to initialize tracing: %v", err)
		}
		defer trace.Shutdown(context.Background())
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Fatalf("[Main] failed to open store at %s: %v", cfg.Store.Path, err)
	}
	defer st.Close()

	controller, err := telephony.NewTelnyxClient(cfg.Telephony.APIKey)
	if err != nil {
		log.Fatalf("[Main] failed to create telephony client: %v", err)
	}
	if cfg.Telephony.BaseURL != "" {
		controller.SetBaseURL(cfg.Telephony.BaseURL)
	}

	deps := server.Deps{
		Controller:  controller,
		Transcriber: stt.NewClient(cfg.STT.BaseURL),
		Synthesizer: tts.NewClient(cfg.TTS.BaseURL),
		Completer: llm.NewClient(llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		}),
		Store: st,
	}
	if cfg.Alert.BaseURL != "" {
		deps.Notifier = alert.NewClient(cfg.Alert.BaseURL, cfg.Alert.AdminToken, cfg.Alert.ChannelName, st)
	} else {
		log.Printf("[Main] alerting disabled: no Open WebUI base URL configured")
	}

	srv := server.New(cfg, deps)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("[Main] failed to start server: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("[Main] received %v, shutting down", sig)

	if err := srv.Stop(); err != nil {
		log.Printf("[Main] shutdown error: %v", err)
	}
}
