// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// LLM is the OpenAI-compatible chat endpoint used for routing decisions
	// and specialist replies.
	LLM LLMConfig

	// STT is the speech-to-text endpoint.
	STT STTConfig

	// TTS is the text-to-speech endpoint.
	TTS TTSConfig

	// TurnTimeout bounds one routing+specialist pass.
	TurnTimeout time.Duration

	// Audio framing for streamed speech.
	FrameMillis int
	QueueDepth  int
}

// LLMConfig configures the chat completions client.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// STTConfig configures the transcription client.
type STTConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// TTSConfig configures the synthesis client.
type TTSConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Voice      string
	SampleRate int
	// ChunkSize is a provider hint for streamed audio chunk granularity.
	ChunkSize int
	Timeout   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/slicetalk.db"),
		LLM: LLMConfig{
			BaseURL: getEnv("LLM_BASE_URL", ""),
			APIKey:  getEnv("LLM_API_KEY", ""),
			Model:   getEnv("LLM_MODEL", ""),
			Timeout: getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		},
		STT: STTConfig{
			BaseURL: getEnv("STT_BASE_URL", ""),
			APIKey:  getEnv("STT_API_KEY", ""),
			Model:   getEnv("STT_MODEL", "whisper-1"),
			Timeout: getEnvDuration("STT_TIMEOUT", 30*time.Second),
		},
		TTS: TTSConfig{
			BaseURL:    getEnv("TTS_BASE_URL", ""),
			APIKey:     getEnv("TTS_API_KEY", ""),
			Model:      getEnv("TTS_MODEL", ""),
			Voice:      getEnv("TTS_VOICE", ""),
			SampleRate: getEnvInt("TTS_SAMPLE_RATE", 24000),
			ChunkSize:  getEnvInt("TTS_AUDIO_CHUNK_SIZE", 5),
			Timeout:    getEnvDuration("TTS_TIMEOUT", 30*time.Second),
		},
		TurnTimeout: getEnvDuration("TURN_TIMEOUT", 45*time.Second),
		FrameMillis: getEnvInt("AUDIO_FRAME_MS", 40),
		QueueDepth:  getEnvInt("AUDIO_QUEUE_DEPTH", 8),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL cannot be empty")
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("TURN_TIMEOUT must be > 0")
	}
	if c.FrameMillis <= 0 {
		return fmt.Errorf("AUDIO_FRAME_MS must be > 0")
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("AUDIO_QUEUE_DEPTH must be > 0")
	}
	if c.TTS.SampleRate <= 0 {
		return fmt.Errorf("TTS_SAMPLE_RATE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		// Accept bare seconds for compatibility with older deployments.
		if n, convErr := strconv.Atoi(strings.TrimSpace(value)); convErr == nil {
			return time.Duration(n) * time.Second
		}
		return fallback
	}
	return d
}
