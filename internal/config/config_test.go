package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "8002")
	t.Setenv("REGISTRY_URL", "")
	t.Setenv("TRUST_USER_HEADER", "")
	t.Setenv("AI_PROMPT_TIMEOUT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Agent.HistoryCap != 50 {
		t.Fatalf("expected history cap 50, got %d", cfg.Agent.HistoryCap)
	}
	if cfg.AI.OpenAIModel != "gpt-3.5-turbo" {
		t.Fatalf("unexpected default model %q", cfg.AI.OpenAIModel)
	}
	if cfg.AI.BedrockModelID != "amazon.nova-pro-v1:0" {
		t.Fatalf("unexpected bedrock model %q", cfg.AI.BedrockModelID)
	}
	if !cfg.SimulatedBackend() {
		t.Fatal("expected simulated backend when REGISTRY_URL is empty")
	}
	if cfg.TrustUserHeader {
		t.Fatal("expected user header to be untrusted by default")
	}
	if cfg.AI.PromptTimeout != 2*time.Minute {
		t.Fatalf("expected 2m prompt timeout, got %s", cfg.AI.PromptTimeout)
	}
	if cfg.Agent.HistoryRetention != 30*24*time.Hour {
		t.Fatalf("expected 30d retention, got %s", cfg.Agent.HistoryRetention)
	}
}

func TestLoadParsesDurationsAndSeconds(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "12")
	t.Setenv("AI_TIMEOUT", "750ms")
	t.Setenv("REGISTRY_URL", "http://registry.local:8000/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Registry.RequestTimeout != 12*time.Second {
		t.Fatalf("expected 12s, got %s", cfg.Registry.RequestTimeout)
	}
	if cfg.AI.Timeout != 750*time.Millisecond {
		t.Fatalf("expected 750ms, got %s", cfg.AI.Timeout)
	}
	if cfg.Registry.URL != "http://registry.local:8000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Registry.URL)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "zero history cap", env: map[string]string{"HISTORY_CAP": "0"}},
		{name: "unknown provider", env: map[string]string{"AI_PROVIDER": "llama"}},
		{name: "confidence out of range", env: map[string]string{"AI_MIN_CONFIDENCE": "1.5"}},
		{name: "no retries", env: map[string]string{"RETRY_ATTEMPTS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("X_FLAG", "off")
	if getEnvBool("X_FLAG", true) {
		t.Fatal("expected false for off")
	}
	t.Setenv("X_FLAG", "garbage")
	if !getEnvBool("X_FLAG", true) {
		t.Fatal("expected fallback for unparsable value")
	}
}
