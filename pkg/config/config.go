// Package config loads the gateway configuration from an optional YAML file
// and LCG_-prefixed environment variables. The resulting Config is resolved
// once at startup and treated as immutable afterwards.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Telephony TelephonyConfig `koanf:"telephony"`
	Voice     VoiceConfig     `koanf:"voice"`
	LLM       LLMConfig       `koanf:"llm"`
	STT       STTConfig       `koanf:"stt"`
	TTS       TTSConfig       `koanf:"tts"`
	Alert     AlertConfig     `koanf:"alert"`
	Store     StoreConfig     `koanf:"store"`
	Trace     TraceConfig     `koanf:"trace"`
}

type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
	// PublicBaseURL is the externally reachable base used when building the
	// stream URL handed to the provider, e.g. "wss://gw.example.com".
	PublicBaseURL string `koanf:"public_base_url"`
	// WebhookToken authenticates both the provider webhook and the media
	// socket attach.
	WebhookToken string `koanf:"webhook_token"`
}

type TelephonyConfig struct {
	APIKey       string `koanf:"api_key"`
	BaseURL      string `koanf:"base_url"`
	ConnectionID string `koanf:"connection_id"`
	FromNumber   string `koanf:"from_number"`
	// InboundEnabled answers provider-initiated calls; InboundUserID is the
	// chat account those calls are assigned to.
	InboundEnabled bool   `koanf:"inbound_enabled"`
	InboundUserID  string `koanf:"inbound_user_id"`
	InboundChatID  string `koanf:"inbound_chat_id"`
}

type VoiceConfig struct {
	Codec          string        `koanf:"codec"`
	VoiceID        string        `koanf:"voice_id"`
	SystemPrompt   string        `koanf:"system_prompt"`
	ForwardContext bool          `koanf:"forward_context"`
	InboundPrompt  string        `koanf:"inbound_prompt"`
	MaxDuration    time.Duration `koanf:"max_duration"`
	LimitMessage   string        `koanf:"limit_message"`
}

type LLMConfig struct {
	BaseURL string        `koanf:"base_url"`
	APIKey  string        `koanf:"api_key"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

type STTConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type TTSConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type AlertConfig struct {
	BaseURL     string `koanf:"base_url"`
	AdminToken  string `koanf:"admin_token"`
	ChannelName string `koanf:"channel_name"`
}

type StoreConfig struct {
	Path string `koanf:"path"`
}

type TraceConfig struct {
	Enabled bool `koanf:"enabled"`
	// Exporter is "stdout" or "otlp".
	Exporter string `koanf:"exporter"`
	Endpoint string `koanf:"endpoint"`
}

var defaults = map[string]any{
	"server.host":          "0.0.0.0",
	"server.port":          8080,
	"voice.codec":          "PCMU",
	"voice.max_duration":   "5m",
	"voice.limit_message":  "This call has reached its time limit. Goodbye.",
	"voice.inbound_prompt": "Introduce yourself.",
	"llm.timeout":          "30s",
	"stt.timeout":          "10s",
	"tts.timeout":          "15s",
	"store.path":           "gateway.db",
	"trace.exporter":       "stdout",
	"telephony.base_url":   "https://api.telnyx.com",
}

// Load resolves the configuration: defaults, then the YAML file at path (if
// any), then LCG_ environment variables on top. A missing file is only an
// error when it was explicitly requested.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		k.Set(key, value)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	// LCG_SERVER__PORT=9090 becomes server.port.
	if err := k.Load(env.Provider("LCG_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "LCG_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
