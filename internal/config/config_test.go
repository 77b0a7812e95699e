package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.CompletionMode != "auto" {
		t.Fatalf("CompletionMode = %q, want %q", cfg.CompletionMode, "auto")
	}
	if cfg.CompletionURL != "" {
		t.Fatalf("CompletionURL = %q, want empty default", cfg.CompletionURL)
	}
	if cfg.DefaultSemanticWeight != 0.7 {
		t.Fatalf("DefaultSemanticWeight = %v, want 0.7", cfg.DefaultSemanticWeight)
	}
	if cfg.DefaultMaxTurns != 10 {
		t.Fatalf("DefaultMaxTurns = %v, want 10", cfg.DefaultMaxTurns)
	}
}

func TestLoadUsesExplicitCompletionURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("COMPLETION_URL", "http://localhost:7777/v1/complete")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CompletionURL != "http://localhost:7777/v1/complete" {
		t.Fatalf("CompletionURL = %q, want explicit value", cfg.CompletionURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"COMPLETION_MODE":           "psychic",
		"RETRIEVAL_SEMANTIC_WEIGHT": "1.5",
		"SCREENING_MAX_TURNS":       "0",
		"KNOWLEDGE_EMBEDDING_DIM":   "-1",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%s should fail", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_LOG_MODE",
		"DATABASE_URL",
		"KNOWLEDGE_EMBEDDING_DIM",
		"COMPLETION_MODE",
		"COMPLETION_URL",
		"COMPLETION_TIMEOUT",
		"SCREENING_MAX_TURNS",
		"RETRIEVAL_SEMANTIC_WEIGHT",
		"RETRIEVAL_GROUNDING_LIMIT",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
