package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
)

var plannerRequest = analyst.CompletionRequest{
	Prompt:    "Question: How many rows?\nThought:",
	Stop:      "\nObservation:",
	MaxTokens: 2000,
}

func decodeBody(t *testing.T, r *http.Request) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("failed to decode request body: %v", err)
	}
	return body
}

func TestOpenAIBackend_Complete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", auth)
		}
		got = decodeBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","object":"text_completion","created":1,"model":"gpt-3.5-turbo-instruct",
			"choices":[{"text":" I should query the table.\nAction: FooBar DB\nAction Input: count rows","index":0,"finish_reason":"stop","logprobs":null}]}`))
	}))
	defer srv.Close()

	b, err := NewOpenAIBackend(srv.URL+"/v1/", "sk-test", "", nil)
	if err != nil {
		t.Fatalf("NewOpenAIBackend failed: %v", err)
	}
	text, err := b.Complete(context.Background(), plannerRequest)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if !strings.Contains(text, "Action: FooBar DB") {
		t.Errorf("unexpected completion %q", text)
	}
	if got["model"] != DefaultOpenAIModel {
		t.Errorf("model = %v, want %s", got["model"], DefaultOpenAIModel)
	}
	if got["stop"] != "\nObservation:" {
		t.Errorf("stop = %q", got["stop"])
	}
	if got["max_tokens"] != float64(2000) {
		t.Errorf("max_tokens = %v", got["max_tokens"])
	}
}

func TestOpenAIBackend_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cmpl-1","object":"text_completion","created":1,"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	b, _ := NewOpenAIBackend(srv.URL+"/v1/", "sk-test", "m", nil)
	_, err := b.Complete(context.Background(), plannerRequest)
	if analyst.ErrorCode(err) != analyst.ErrCodeGateway {
		t.Errorf("expected gateway error, got %v", err)
	}
}

func TestAnthropicBackend_Complete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if key := r.Header.Get("X-Api-Key"); key != "ak-test" {
			t.Errorf("unexpected api key header %q", key)
		}
		got = decodeBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",
			"content":[{"type":"text","text":" I now know the final answer"}],
			"stop_reason":"stop_sequence","stop_sequence":"\nObservation:",
			"usage":{"input_tokens":10,"output_tokens":5}}`))
	}))
	defer srv.Close()

	b, err := NewAnthropicBackend(srv.URL, "ak-test", "claude-test", nil)
	if err != nil {
		t.Fatalf("NewAnthropicBackend failed: %v", err)
	}
	text, err := b.Complete(context.Background(), plannerRequest)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != " I now know the final answer" {
		t.Errorf("unexpected completion %q", text)
	}
	if got["model"] != "claude-test" {
		t.Errorf("model = %v", got["model"])
	}
	stops, _ := got["stop_sequences"].([]interface{})
	if len(stops) != 1 || stops[0] != "\nObservation:" {
		t.Errorf("stop_sequences = %v", got["stop_sequences"])
	}
}

func TestOllamaBackend_Complete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		got = decodeBody(t, r)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.1","response":"SELECT count(*) FROM sales","done":true}` + "\n"))
	}))
	defer srv.Close()

	b, err := NewOllamaBackend(srv.URL, "", nil)
	if err != nil {
		t.Fatalf("NewOllamaBackend failed: %v", err)
	}
	text, err := b.Complete(context.Background(), plannerRequest)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "SELECT count(*) FROM sales" {
		t.Errorf("unexpected completion %q", text)
	}
	if got["raw"] != true || got["stream"] != false {
		t.Errorf("expected a raw non-streaming request, got %v", got)
	}
	options, _ := got["options"].(map[string]interface{})
	if options["num_predict"] != float64(2000) {
		t.Errorf("num_predict = %v", options["num_predict"])
	}
}

func TestOllamaBackend_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer srv.Close()

	b, _ := NewOllamaBackend(srv.URL, "missing", nil)
	if _, err := b.Complete(context.Background(), plannerRequest); err == nil {
		t.Error("expected error for a missing model")
	}
}

func TestNewProvider(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"openai", Config{Provider: ProviderOpenAI, APIKey: "k"}, false},
		{"openai without key", Config{Provider: ProviderOpenAI}, true},
		{"anthropic", Config{Provider: ProviderAnthropic, APIKey: "k"}, false},
		{"anthropic without key", Config{Provider: ProviderAnthropic}, true},
		{"ollama", Config{Provider: ProviderOllama}, false},
		{"ollama bad url", Config{Provider: ProviderOllama, BaseURL: "://bad"}, true},
		{"genkit", Config{Provider: ProviderGenkit, APIKey: "k"}, false},
		{"genkit without key", Config{Provider: ProviderGenkit}, true},
		{"unknown", Config{Provider: "mystery"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewProvider(ctx, tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewProvider error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewProvider_Genkit(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{Provider: ProviderGenkit, APIKey: "test-key"}, nil)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	b, ok := p.(*GenkitBackend)
	if !ok {
		t.Fatalf("expected *GenkitBackend, got %T", p)
	}
	if b.model != DefaultGenkitModel {
		t.Errorf("model = %q, want %q", b.model, DefaultGenkitModel)
	}
	if b.flow == nil {
		t.Error("completion flow was not defined")
	}
}

func TestParseProviderType(t *testing.T) {
	tests := map[string]ProviderType{
		"":          ProviderOpenAI,
		"OpenAI":    ProviderOpenAI,
		"anthropic": ProviderAnthropic,
		" ollama ":  ProviderOllama,
		"googleai":  ProviderGenkit,
		"genkit":    ProviderGenkit,
	}
	for in, want := range tests {
		got, err := ParseProviderType(in)
		if err != nil || got != want {
			t.Errorf("ParseProviderType(%q) = %v, %v, want %v", in, got, err, want)
		}
	}
	if _, err := ParseProviderType("cohere"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestGenerationConfig(t *testing.T) {
	cfg := generationConfig(plannerRequest)
	if cfg.MaxOutputTokens != 2000 || len(cfg.StopSequences) != 1 || cfg.StopSequences[0] != "\nObservation:" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg := generationConfig(analyst.CompletionRequest{MaxTokens: 5}); cfg.StopSequences != nil {
		t.Errorf("empty stop should send no stop sequences, got %v", cfg.StopSequences)
	}
}
