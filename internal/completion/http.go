package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/openscreen/triage/internal/reliability"
)

const (
	httpMaxAttempts  = 2
	httpBackoffBase  = 200 * time.Millisecond
	httpBackoffCap   = time.Second
	httpResponseByte = 1 << 20
)

// HTTPClient forwards requests to a completion-service HTTP endpoint.
type HTTPClient struct {
	url    string
	client *http.Client
}

func NewHTTPClient(url string) *HTTPClient {
	return &HTTPClient{
		url: strings.TrimSpace(url),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (Result, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < httpMaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, reliability.ExponentialBackoff(attempt, httpBackoffBase, httpBackoffCap)); err != nil {
				return Result{}, err
			}
		}
		res, retryable, err := c.once(ctx, payload, req.Schema)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return Result{}, lastErr
}

func (c *HTTPClient) once(ctx context.Context, payload []byte, schema []string) (Result, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, false, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return Result{}, reliability.IsRetryableTransportError(err), fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		err := fmt.Errorf("completion http status %d: %s", res.StatusCode, string(body))
		return Result{}, reliability.IsRetryableHTTPStatus(res.StatusCode), err
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, httpResponseByte))
	if err != nil {
		return Result{}, true, fmt.Errorf("read response: %w", err)
	}
	return parseBody(body, schema), false, nil
}

// parseBody tolerates several response shapes: a JSON object with a "text"
// field and either a nested "fields" object or schema fields at top level,
// or a bare text body.
func parseBody(body []byte, schema []string) Result {
	trimmed := strings.TrimSpace(string(body))
	if !gjson.Valid(trimmed) {
		return Result{Text: trimmed}
	}

	out := Result{Text: strings.TrimSpace(gjson.Get(trimmed, "text").String())}
	if out.Text == "" {
		out.Text = strings.TrimSpace(gjson.Get(trimmed, "content").String())
	}

	if len(schema) > 0 {
		out.Fields = make(map[string]string, len(schema))
		for _, field := range schema {
			v := gjson.Get(trimmed, "fields."+field)
			if !v.Exists() {
				v = gjson.Get(trimmed, field)
			}
			if v.Exists() && strings.TrimSpace(v.String()) != "" {
				out.Fields[field] = strings.TrimSpace(v.String())
			}
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
