package completion

import (
	"context"
	"fmt"
	"strings"
)

// MockClient provides deterministic local replies when no completion
// service is configured. It never invents structured field values; schema
// requests come back with empty Fields so literal extraction methods stay
// authoritative in dev runs.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(ctx context.Context, req Request) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	default:
	}

	if len(req.Schema) > 0 {
		return Result{Fields: map[string]string{}}, nil
	}
	return Result{Text: buildMockReply(req)}, nil
}

func buildMockReply(req Request) string {
	topic := ""
	for _, line := range strings.Split(req.Prompt, "\n") {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(line), "Topic:"); ok {
			topic = strings.TrimSpace(rest)
		}
	}
	if topic == "" {
		return "Could you tell me a bit more?"
	}

	question := fmt.Sprintf("Could you tell me about your %s?", humanize(topic))
	if len(req.Grounding) > 0 {
		snippet := strings.TrimSpace(req.Grounding[0])
		if len(snippet) > 80 {
			snippet = snippet[:80]
		}
		if snippet != "" {
			return fmt.Sprintf("%s (This helps because: %s)", question, snippet)
		}
	}
	return question
}

func humanize(field string) string {
	return strings.ReplaceAll(strings.ReplaceAll(field, "_", " "), "-", " ")
}
