// Package config loads the gateway's runtime configuration: a YAML file for
// the structural settings listed in the protocol's configuration table, with
// environment-variable overrides for provider API credentials (godotenv for
// secrets, an explicit struct for everything else).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every recognized option from the protocol's configuration
// table, plus the provider credentials loaded from the environment.
type Config struct {
	ListenPort      int    `yaml:"listenPort"`
	ChannelPath     string `yaml:"channelPath"`
	MaxPayloadBytes int    `yaml:"maxPayloadBytes"`

	SessionIdleTimeout     time.Duration `yaml:"sessionIdleTimeout"`
	MaxSessionDuration     time.Duration `yaml:"maxSessionDuration"`
	SessionCleanupInterval time.Duration `yaml:"sessionCleanupInterval"`

	SttConnectTimeout    time.Duration `yaml:"sttConnectTimeout"`
	SttInactivityTimeout time.Duration `yaml:"sttInactivityTimeout"`

	TtsSynthesisTimeout      time.Duration `yaml:"ttsSynthesisTimeout"`
	TtsKeepaliveInterval     time.Duration `yaml:"ttsKeepaliveInterval"`
	TtsMaxConcurrentSessions int           `yaml:"ttsMaxConcurrentSessions"`

	LlmRequestTimeout        time.Duration `yaml:"llmRequestTimeout"`
	LlmMaxMessagesPerContext int           `yaml:"llmMaxMessagesPerContext"`

	DefaultVoiceID string `yaml:"defaultVoiceId"`
	DefaultModel   string `yaml:"defaultModel"`

	// Credentials, never read from the YAML file: loaded from the
	// environment (optionally populated from a .env file by Load).
	SttAPIKey string `yaml:"-"`
	LlmAPIKey string `yaml:"-"`
	TtsAPIKey string `yaml:"-"`

	// SttServerURL points at a locally running whisper.cpp server when
	// SttProvider is "whisper"; unused by every other provider.
	SttServerURL string `yaml:"-"`

	// Vendor selection, also environment-only: which Provider
	// implementation cmd/gateway wires into each engine. Defaults to the
	// loopback "echo" adapters so the gateway runs end to end without any
	// vendor credentials.
	SttProvider string `yaml:"-"`
	TtsProvider string `yaml:"-"`
	LlmProvider string `yaml:"-"`
}

// Default returns the protocol's documented defaults.
func Default() Config {
	return Config{
		ListenPort:      8080,
		ChannelPath:     "/ws",
		MaxPayloadBytes: 1 << 20,

		SessionIdleTimeout:     30 * time.Minute,
		MaxSessionDuration:     2 * time.Hour,
		SessionCleanupInterval: 5 * time.Minute,

		SttConnectTimeout:    10 * time.Second,
		SttInactivityTimeout: 5 * time.Minute,

		TtsSynthesisTimeout:      30 * time.Second,
		TtsKeepaliveInterval:     8 * time.Second,
		TtsMaxConcurrentSessions: 50,

		LlmRequestTimeout:        30 * time.Second,
		LlmMaxMessagesPerContext: 40,

		DefaultVoiceID: "F1",
		DefaultModel:   "default",
	}
}

// Load reads envPath (if it exists) into the process environment via
// godotenv, then reads yamlPath into a Config seeded with Default, then
// layers STT/LLM/TTS API keys from the environment on top. Either path may
// be empty to skip that source.
func Load(yamlPath, envPath string) (Config, error) {
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return Config{}, fmt.Errorf("config: loading env file: %w", err)
			}
		}
	}

	cfg := Default()

	if yamlPath != "" {
		b, err := os.ReadFile(yamlPath)
		if err != nil {
			return Config{}, fmt.Errorf("config: reading %s: %w", yamlPath, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", yamlPath, err)
		}
	}

	cfg.SttAPIKey = os.Getenv("STT_API_KEY")
	cfg.LlmAPIKey = os.Getenv("LLM_API_KEY")
	cfg.TtsAPIKey = os.Getenv("TTS_API_KEY")
	cfg.SttServerURL = envOrDefault("STT_SERVER_URL", "http://localhost:8081")

	cfg.SttProvider = envOrDefault("STT_PROVIDER", "echo")
	cfg.TtsProvider = envOrDefault("TTS_PROVIDER", "echo")
	cfg.LlmProvider = envOrDefault("LLM_PROVIDER", "echo")

	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
