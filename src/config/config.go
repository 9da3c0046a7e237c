// Package config reads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/bluewing-labs/tablevoice/src/delivery"
)

// Config holds everything the process needs to start
type Config struct {
	// Port the WebSocket listener binds to
	Port int
	// Path is the upgrade path the provider connects to
	Path string

	// Mode selects the delivery strategy for the deployment
	Mode delivery.Mode

	// LLMProvider is "openai" or "gemini"
	LLMProvider string
	OpenAIKey   string
	OpenAIModel string
	GeminiKey   string
	GeminiModel string
	MaxTokens   int
	Temperature float64

	// Voice and language for synthesis and recognition
	Voice               string
	Language            string
	RecognitionLanguage string
}

// FromEnv builds a Config from environment variables, applying defaults
// for everything but the provider API key.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:                envInt("PORT", 8080),
		Path:                envStr("WS_PATH", "/voice"),
		Mode:                delivery.Mode(envStr("VOICE_MODE", string(delivery.Batched))),
		LLMProvider:         envStr("LLM_PROVIDER", "openai"),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         envStr("OPENAI_MODEL", "gpt-4o-mini"),
		GeminiKey:           os.Getenv("GEMINI_API_KEY"),
		GeminiModel:         envStr("GEMINI_MODEL", "gemini-2.0-flash"),
		MaxTokens:           envInt("LLM_MAX_TOKENS", 150),
		Temperature:         envFloat("LLM_TEMPERATURE", 0.7),
		Voice:               envStr("VOICE_NAME", "alena"),
		Language:            envStr("VOICE_LANGUAGE", "ru-RU"),
		RecognitionLanguage: envStr("RECOGNITION_LANGUAGE", "ru-RU"),
	}

	if cfg.Mode != delivery.Batched && cfg.Mode != delivery.Streamed {
		return nil, fmt.Errorf("invalid VOICE_MODE %q", cfg.Mode)
	}

	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required")
		}
	case "gemini":
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required")
		}
	default:
		return nil, fmt.Errorf("invalid LLM_PROVIDER %q", cfg.LLMProvider)
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
