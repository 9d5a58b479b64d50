package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/topicheat/internal/config"
	"github.com/TobiSchelling/topicheat/internal/logging"
)

func ollamaServer(t *testing.T, reply string) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var requests []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[{"name":"qwen2.5:14b"}]}`))
		case "/api/chat":
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			requests = append(requests, body)
			json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"content": reply}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestOllamaClassify(t *testing.T) {
	srv, requests := ollamaServer(t, `{"话题簇":"x"}`)
	p := NewOllamaProvider("qwen2.5:14b", srv.URL+"/", 512)

	if !p.IsConfigured() {
		t.Fatal("expected provider to be configured")
	}
	out, err := p.Classify(context.Background(), "sys", "user text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"话题簇":"x"}` {
		t.Errorf("unexpected output %q", out)
	}

	if len(*requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(*requests))
	}
	msgs := (*requests)[0]["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(msgs))
	}
	first := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "sys" {
		t.Errorf("unexpected system message %v", first)
	}
}

func TestOllamaNotConfiguredForMissingModel(t *testing.T) {
	srv, _ := ollamaServer(t, "")
	if NewOllamaProvider("llama3", srv.URL, 512).IsConfigured() {
		t.Error("expected missing model to be reported")
	}
}

func TestOllamaErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewOllamaProvider("m", srv.URL, 10).Classify(context.Background(), "", "x")
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("expected status error, got %v", err)
	}
}

func TestOpenAINotConfiguredWithoutKey(t *testing.T) {
	t.Setenv("TOPICHEAT_TEST_KEY", "")
	p := NewOpenAIProvider("gpt-4o-mini", "TOPICHEAT_TEST_KEY", "", 100)
	if p.IsConfigured() {
		t.Error("expected provider without key to be unconfigured")
	}
	if _, err := p.Classify(context.Background(), "", "x"); err == nil {
		t.Error("expected error without key")
	}
}

// flakyProvider fails a fixed number of times before answering.
type flakyProvider struct {
	failures int
	calls    int
}

func (f *flakyProvider) Classify(_ context.Context, _, _ string) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("temporary failure")
	}
	return "ok", nil
}

func (f *flakyProvider) IsConfigured() bool { return true }

func recordSleeps(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
}

func TestRetryingRecovers(t *testing.T) {
	var waits []time.Duration
	inner := &flakyProvider{failures: 2}
	r := &Retrying{Provider: inner, Attempts: 3, Backoff: 1200 * time.Millisecond, Sleep: recordSleeps(&waits)}

	out, err := r.Classify(context.Background(), "", "x")
	if err != nil || out != "ok" {
		t.Fatalf("expected success, got %q, %v", out, err)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
	want := []time.Duration{1200 * time.Millisecond, 2400 * time.Millisecond}
	if len(waits) != 2 || waits[0] != want[0] || waits[1] != want[1] {
		t.Errorf("expected linear backoff %v, got %v", want, waits)
	}
}

func TestRetryingGivesUp(t *testing.T) {
	var waits []time.Duration
	inner := &flakyProvider{failures: 10}
	r := &Retrying{Provider: inner, Attempts: 3, Backoff: time.Second, Sleep: recordSleeps(&waits), Logger: logging.Nop()}

	_, err := r.Classify(context.Background(), "", "x")
	if err == nil {
		t.Fatal("expected error after retries")
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 calls, got %d", inner.calls)
	}
	if len(waits) != 2 {
		t.Errorf("expected no sleep after the last attempt, got %v", waits)
	}
	if !strings.Contains(err.Error(), "temporary failure") {
		t.Errorf("expected cause in error, got %v", err)
	}
}

func TestRetryingStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inner := &flakyProvider{failures: 10}
	r := &Retrying{Provider: inner, Attempts: 3, Backoff: time.Hour}
	if _, err := r.Classify(ctx, "", "x"); err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Errorf("expected a single call on cancelled context, got %d", inner.calls)
	}
}

func TestCreateProviderPrefersOllama(t *testing.T) {
	srv, _ := ollamaServer(t, "hi")
	cfg := config.Default().LLM
	cfg.Provider = "ollama"
	cfg.OllamaURL = srv.URL

	p := CreateProvider(cfg, logging.Nop())
	r, ok := p.(*Retrying)
	if !ok {
		t.Fatalf("expected retrying wrapper, got %T", p)
	}
	if _, ok := r.Provider.(*OllamaProvider); !ok {
		t.Errorf("expected ollama provider, got %T", r.Provider)
	}
	if r.Attempts != 3 || r.Backoff != 1200*time.Millisecond {
		t.Errorf("unexpected retry policy %+v", r)
	}
}

func TestCreateProviderNone(t *testing.T) {
	t.Setenv("TOPICHEAT_TEST_KEY", "")
	cfg := config.Default().LLM
	cfg.APIKeyEnv = "TOPICHEAT_TEST_KEY"
	if p := CreateProvider(cfg, logging.Nop()); p != nil {
		t.Errorf("expected nil provider, got %T", p)
	}
}

func TestSchemaHint(t *testing.T) {
	type sample struct {
		TopicTitle string   `json:"topic_title"`
		Members    []string `json:"sub_clusters"`
	}
	hint, err := SchemaHint[sample]()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(hint, "topic_title") || !strings.Contains(hint, "sub_clusters") {
		t.Errorf("schema missing fields: %s", hint)
	}
}
