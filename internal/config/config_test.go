package config

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LLM_BASE_URL", "http://localhost:9000/v1")
	t.Setenv("LLM_MODEL", "test-model")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.DBPath != "./data/slicetalk.db" {
		t.Errorf("expected default db path, got %s", cfg.DBPath)
	}
	if cfg.TurnTimeout != 45*time.Second {
		t.Errorf("expected default turn timeout 45s, got %v", cfg.TurnTimeout)
	}
	if cfg.FrameMillis != 40 {
		t.Errorf("expected default frame duration 40ms, got %d", cfg.FrameMillis)
	}
	if cfg.QueueDepth != 8 {
		t.Errorf("expected default queue depth 8, got %d", cfg.QueueDepth)
	}
	if cfg.TTS.SampleRate != 24000 {
		t.Errorf("expected default sample rate 24000, got %d", cfg.TTS.SampleRate)
	}
	if cfg.STT.Model != "whisper-1" {
		t.Errorf("expected default STT model whisper-1, got %s", cfg.STT.Model)
	}
}

func TestLoadRequiresLLMConfig(t *testing.T) {
	t.Setenv("LLM_BASE_URL", "")
	t.Setenv("LLM_MODEL", "test-model")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when LLM_BASE_URL is empty")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "9999")
	t.Setenv("TURN_TIMEOUT", "90s")
	t.Setenv("AUDIO_FRAME_MS", "20")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("expected port 9999, got %s", cfg.Port)
	}
	if cfg.TurnTimeout != 90*time.Second {
		t.Errorf("expected turn timeout 90s, got %v", cfg.TurnTimeout)
	}
	if cfg.FrameMillis != 20 {
		t.Errorf("expected frame duration 20ms, got %d", cfg.FrameMillis)
	}
}

func TestGetEnvDurationAcceptsBareSeconds(t *testing.T) {
	t.Setenv("TEST_DURATION", "45")
	if got := getEnvDuration("TEST_DURATION", time.Second); got != 45*time.Second {
		t.Errorf("expected 45s from bare seconds, got %v", got)
	}

	t.Setenv("TEST_DURATION", "garbage")
	if got := getEnvDuration("TEST_DURATION", 7*time.Second); got != 7*time.Second {
		t.Errorf("expected fallback for garbage, got %v", got)
	}
}

func TestIsDevelopment(t *testing.T) {
	cases := []struct {
		frontendURL string
		want        bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"http://127.0.0.1:5173", true},
		{"https://slicetalk.example.com", false},
	}
	for _, tc := range cases {
		cfg := &Config{FrontendURL: tc.frontendURL}
		if got := cfg.IsDevelopment(); got != tc.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tc.frontendURL, got, tc.want)
		}
	}
}

func TestValidateRejectsBadAudioSettings(t *testing.T) {
	cfg := &Config{
		Port:        "8080",
		DBPath:      "x.db",
		LLM:         LLMConfig{BaseURL: "http://x", Model: "m"},
		TurnTimeout: time.Second,
		FrameMillis: 0,
		QueueDepth:  8,
		TTS:         TTSConfig{SampleRate: 24000},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero frame duration")
	}

	cfg.FrameMillis = 40
	cfg.QueueDepth = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero queue depth")
	}
}
