package completion

import (
	"context"
	"strings"
)

// Request is the normalized prompt context sent to the completion service.
// Grounding passages anchor the reply to retrieved source material. When
// Schema is set the service must answer with a JSON object carrying exactly
// those fields; free-text replies go in Text otherwise.
type Request struct {
	System    string   `json:"system,omitempty"`
	Prompt    string   `json:"prompt"`
	Grounding []string `json:"grounding,omitempty"`
	Schema    []string `json:"schema,omitempty"`
}

// Result is the completion outcome. Fields is populated only for
// structured (Schema) requests; absent fields are simply missing keys.
type Result struct {
	Text   string            `json:"text"`
	Fields map[string]string `json:"fields,omitempty"`
}

// Client is the language-model completion capability. Calls must honor the
// caller's context deadline; implementations may suspend on network I/O.
type Client interface {
	Complete(ctx context.Context, req Request) (Result, error)
}

// Config controls client construction.
type Config struct {
	Mode string
	URL  string
}

// NewClient builds a client for the configured mode. "auto" prefers the
// HTTP endpoint when one is configured and falls back to the deterministic
// mock otherwise.
func NewClient(cfg Config) Client {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}
	switch mode {
	case "http":
		return NewHTTPClient(cfg.URL)
	case "mock":
		return NewMockClient()
	default:
		if strings.TrimSpace(cfg.URL) != "" {
			return NewHTTPClient(cfg.URL)
		}
		return NewMockClient()
	}
}
