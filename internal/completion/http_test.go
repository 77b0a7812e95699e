package completion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTPClientParsesStructuredFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"ok","fields":{"age":"42","family_history":"mother:breast_cancer"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	res, err := c.Complete(context.Background(), Request{Prompt: "extract", Schema: []string{"age", "family_history", "missing"}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Fields["age"] != "42" || res.Fields["family_history"] != "mother:breast_cancer" {
		t.Fatalf("fields = %+v", res.Fields)
	}
	if _, ok := res.Fields["missing"]; ok {
		t.Fatalf("absent schema field must stay absent, got %+v", res.Fields)
	}
}

func TestHTTPClientTopLevelFieldsFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"age":"61"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	res, err := c.Complete(context.Background(), Request{Prompt: "extract", Schema: []string{"age"}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Fields["age"] != "61" {
		t.Fatalf("fields = %+v", res.Fields)
	}
}

func TestHTTPClientBareTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("What is your age?"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	res, err := c.Complete(context.Background(), Request{Prompt: "ask"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Text != "What is your age?" {
		t.Fatalf("text = %q", res.Text)
	}
}

func TestHTTPClientRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"text":"recovered"}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	res, err := c.Complete(context.Background(), Request{Prompt: "ask"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if res.Text != "recovered" {
		t.Fatalf("text = %q", res.Text)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2", calls.Load())
	}
}

func TestHTTPClientDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL)
	if _, err := c.Complete(context.Background(), Request{Prompt: "ask"}); err == nil {
		t.Fatalf("expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestHTTPClientHonorsContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"text":"late"}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	c := NewHTTPClient(srv.URL)
	if _, err := c.Complete(ctx, Request{Prompt: "ask"}); err == nil {
		t.Fatalf("expected deadline error")
	}
}

func TestMockClientQuestionFromTopic(t *testing.T) {
	c := NewMockClient()
	res, err := c.Complete(context.Background(), Request{
		Prompt:    "Ask the patient one question.\nTopic: family_history",
		Grounding: []string{"First-degree relatives with breast cancer raise risk."},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if !strings.Contains(res.Text, "family history") {
		t.Fatalf("question should mention the topic, got %q", res.Text)
	}
}

func TestMockClientNeverInventsFields(t *testing.T) {
	c := NewMockClient()
	res, err := c.Complete(context.Background(), Request{Prompt: "extract", Schema: []string{"age"}})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if len(res.Fields) != 0 {
		t.Fatalf("mock must not invent field values, got %+v", res.Fields)
	}
}

func TestNewClientAutoPrefersHTTP(t *testing.T) {
	if _, ok := NewClient(Config{Mode: "auto", URL: "http://localhost:9"}).(*HTTPClient); !ok {
		t.Fatalf("auto with URL should build HTTPClient")
	}
	if _, ok := NewClient(Config{Mode: "auto"}).(*MockClient); !ok {
		t.Fatalf("auto without URL should build MockClient")
	}
}
