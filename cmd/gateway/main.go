// Command gateway is the server entrypoint: it wires configuration,
// logging, the session registry, the three engines and their vendor
// providers, metrics, the Orchestrator, and the Connection Gateway
// together, then serves channels until it receives a termination signal.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/lokutor-ai/voicegateway/pkg/config"
	"github.com/lokutor-ai/voicegateway/pkg/gateway"
	"github.com/lokutor-ai/voicegateway/pkg/llmengine"
	"github.com/lokutor-ai/voicegateway/pkg/logging"
	"github.com/lokutor-ai/voicegateway/pkg/orchestrator"
	llmProvider "github.com/lokutor-ai/voicegateway/pkg/providers/llm"
	sttProvider "github.com/lokutor-ai/voicegateway/pkg/providers/stt"
	ttsProvider "github.com/lokutor-ai/voicegateway/pkg/providers/tts"
	"github.com/lokutor-ai/voicegateway/pkg/session"
	"github.com/lokutor-ai/voicegateway/pkg/sttengine"
	"github.com/lokutor-ai/voicegateway/pkg/telemetry"
	"github.com/lokutor-ai/voicegateway/pkg/ttsengine"
)

func main() {
	cfg, err := config.Load(os.Getenv("GATEWAY_CONFIG"), ".env")
	if err != nil {
		log.Fatalf("gateway: loading config: %v", err)
	}

	logger := logging.NewSlogLogger()

	metrics, metricsShutdown, err := telemetry.Init("voicegateway")
	if err != nil {
		log.Fatalf("gateway: initializing telemetry: %v", err)
	}

	registry := session.NewRegistry(
		session.WithIdleTimeout(cfg.SessionIdleTimeout),
		session.WithMaxDuration(cfg.MaxSessionDuration),
		session.WithCleanupInterval(cfg.SessionCleanupInterval),
		session.WithLogger(logger),
	)
	registry.StartSweep()

	stt := buildSttEngine(cfg, logger)
	tts := buildTtsEngine(cfg, logger)
	llm := buildLlmEngine(cfg, logger)
	llm.StartSweep()

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.SynthesisTimeout = cfg.TtsSynthesisTimeout
	orchCfg.ResponseDeadline = cfg.LlmRequestTimeout + cfg.TtsSynthesisTimeout
	orch := orchestrator.New(registry, stt, tts, llm, orchCfg, logger, metrics)

	gw := gateway.New(orch, registry, gateway.Config{
		ListenPort:      cfg.ListenPort,
		ChannelPath:     cfg.ChannelPath,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		DefaultVoiceID:  cfg.DefaultVoiceID,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("gateway: listening", "port", cfg.ListenPort, "channelPath", cfg.ChannelPath)
	if err := gw.Run(ctx); err != nil {
		logger.Error("gateway: server error", "err", err)
	}

	registry.Stop()
	shutCtx, cancel := context.WithTimeout(context.Background(), orchCfg.ChannelCloseGrace)
	defer cancel()
	if err := metricsShutdown(shutCtx); err != nil {
		logger.Warn("gateway: telemetry shutdown error", "err", err)
	}
}

func buildSttEngine(cfg config.Config, logger logging.Logger) *sttengine.Engine {
	var provider sttProvider.Provider
	switch cfg.SttProvider {
	case "deepgram":
		provider = sttProvider.NewDeepgramSTT(cfg.SttAPIKey, "nova-2")
	case "openai":
		provider = sttProvider.NewOpenAISTT(cfg.SttAPIKey, "whisper-1")
	case "groq":
		provider = sttProvider.NewGroqSTT(cfg.SttAPIKey, "whisper-large-v3-turbo")
	case "assemblyai":
		provider = sttProvider.NewAssemblyAISTT(cfg.SttAPIKey)
	case "whisper":
		provider = sttProvider.NewWhisperSTT(cfg.SttServerURL, "")
	case "echo":
		fallthrough
	default:
		provider = sttProvider.NewEchoSTT()
	}
	return sttengine.New(provider, sttengine.Default(), logger)
}

func buildTtsEngine(cfg config.Config, logger logging.Logger) *ttsengine.Engine {
	var provider ttsProvider.Provider
	switch cfg.TtsProvider {
	case "lokutor":
		provider = ttsProvider.NewLokutorTTS(cfg.TtsAPIKey)
	case "elevenlabs":
		provider = ttsProvider.NewElevenLabsTTS(cfg.TtsAPIKey, "eleven_turbo_v2_5")
	case "echo":
		fallthrough
	default:
		provider = ttsProvider.NewEchoTTS(3200)
	}
	ttsCfg := ttsengine.Default()
	ttsCfg.PingInterval = cfg.TtsKeepaliveInterval
	return ttsengine.New(provider, ttsCfg, logger)
}

func buildLlmEngine(cfg config.Config, logger logging.Logger) *llmengine.Engine {
	var provider llmProvider.Provider
	switch cfg.LlmProvider {
	case "anthropic":
		provider = llmProvider.NewAnthropicLLM(cfg.LlmAPIKey, cfg.DefaultModel)
	case "openai":
		provider = llmProvider.NewOpenAILLM(cfg.LlmAPIKey, cfg.DefaultModel)
	case "groq":
		provider = llmProvider.NewGroqLLM(cfg.LlmAPIKey, cfg.DefaultModel)
	case "google":
		googleProvider, err := llmProvider.NewGoogleLLM(context.Background(), cfg.LlmAPIKey, cfg.DefaultModel)
		if err != nil {
			log.Fatalf("gateway: initializing google LLM provider: %v", err)
		}
		provider = googleProvider
	case "echo":
		fallthrough
	default:
		provider = llmProvider.NewEchoLLM()
	}

	llmCfg := llmengine.Default()
	llmCfg.SystemPrompt = "You are a helpful and concise voice assistant. Use short sentences suitable for speech."
	if cfg.LlmMaxMessagesPerContext > 0 {
		llmCfg.MaxMessages = cfg.LlmMaxMessagesPerContext
	}
	if cfg.LlmRequestTimeout > 0 {
		llmCfg.GlobalDeadline = cfg.LlmRequestTimeout
	}
	return llmengine.New(provider, llmCfg, logger)
}
