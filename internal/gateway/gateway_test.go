package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/cache"
)

type countingBackend struct {
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (b *countingBackend) Complete(ctx context.Context, req analyst.CompletionRequest) (string, error) {
	b.calls.Add(1)
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	if b.err != nil {
		return "", b.err
	}
	return "completion for " + req.Prompt, nil
}

func TestHashID_KeyFormat(t *testing.T) {
	tests := []struct {
		name string
		req  analyst.CompletionRequest
		want string
	}{
		{
			name: "no stop",
			req:  analyst.CompletionRequest{Prompt: "hello", Model: "text-davinci-003", MaxTokens: 2000},
			want: "2f55480eaff5f8d5bdb5d69539aad1ce41ad91d7aa843de0a52e22b6b14dd533",
		},
		{
			name: "stop and rounded temperature",
			req: analyst.CompletionRequest{
				Prompt:      "Question: x\nThought:",
				Stop:        "\nObservation:",
				Model:       "text-davinci-003",
				MaxTokens:   2000,
				Temperature: 0.256,
			},
			want: "5baa37c1597aecb648e341f417b97d1b7b1e739feed93972a59aef5f405e7d33",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HashID(tt.req); got != tt.want {
				t.Errorf("HashID = %s, want %s", got, tt.want)
			}
		})
	}

	base := analyst.CompletionRequest{Prompt: "p", Stop: "s", Model: "m", MaxTokens: 10, Temperature: 0.1}
	variants := []analyst.CompletionRequest{
		{Prompt: "p2", Stop: "s", Model: "m", MaxTokens: 10, Temperature: 0.1},
		{Prompt: "p", Stop: "s2", Model: "m", MaxTokens: 10, Temperature: 0.1},
		{Prompt: "p", Stop: "s", Model: "m2", MaxTokens: 10, Temperature: 0.1},
		{Prompt: "p", Stop: "s", Model: "m", MaxTokens: 11, Temperature: 0.1},
		{Prompt: "p", Stop: "s", Model: "m", MaxTokens: 10, Temperature: 0.2},
	}
	for _, v := range variants {
		if HashID(v) == HashID(base) {
			t.Errorf("expected different hash for %+v", v)
		}
	}
	same := base
	same.Temperature = 0.1001
	if HashID(same) != HashID(base) {
		t.Error("temperatures equal after rounding should share a key")
	}
}

func TestFormatTemperature(t *testing.T) {
	tests := map[float64]string{0: "0.0", 1: "1.0", 0.256: "0.26", 0.7: "0.7"}
	for in, want := range tests {
		if got := formatTemperature(in); got != want {
			t.Errorf("formatTemperature(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestGateway_Idempotence(t *testing.T) {
	backend := &countingBackend{}
	g, err := New(backend, WithDefaultModel("gpt-3.5-turbo-instruct"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx := context.Background()
	req := analyst.CompletionRequest{Prompt: "p", Stop: "\nObservation:", MaxTokens: 2000}

	first, err := g.Complete(ctx, req)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	second, err := g.Complete(ctx, req)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if first != second {
		t.Errorf("identical requests returned %q and %q", first, second)
	}
	if n := backend.calls.Load(); n != 1 {
		t.Errorf("expected 1 backend call, got %d", n)
	}
	stats := g.Stats()
	if stats.Hits != 1 || stats.Misses != 1 || stats.Generations != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	history, err := g.History(ctx)
	if err != nil || len(history) != 1 {
		t.Fatalf("History = %v, %v", history, err)
	}
	if history[0].Model != "gpt-3.5-turbo-instruct" {
		t.Errorf("default model should be recorded, got %q", history[0].Model)
	}
}

func TestGateway_ConcurrentMissesShareOneCall(t *testing.T) {
	backend := &countingBackend{delay: 50 * time.Millisecond}
	g, err := New(backend)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	req := analyst.CompletionRequest{Prompt: "p", Model: "m", MaxTokens: 10}

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text, err := g.Complete(context.Background(), req)
			if err != nil {
				t.Errorf("Complete failed: %v", err)
			}
			results[i] = text
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		if r != results[0] {
			t.Errorf("concurrent callers got different completions: %q vs %q", r, results[0])
		}
	}
	if n := backend.calls.Load(); n != 1 {
		t.Errorf("expected 1 backend call, got %d", n)
	}
}

func TestGateway_BackendErrorIsNotCached(t *testing.T) {
	backend := &countingBackend{err: errors.New("rate limited")}
	g, err := New(backend)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	req := analyst.CompletionRequest{Prompt: "p", Model: "m", MaxTokens: 10}

	if _, err := g.Complete(context.Background(), req); err == nil {
		t.Fatal("expected backend error")
	}
	backend.err = nil
	if _, err := g.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete after recovery failed: %v", err)
	}
	if n := backend.calls.Load(); n != 2 {
		t.Errorf("expected 2 backend calls, got %d", n)
	}
}

func TestGateway_PersistentStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.sqlite")
	req := analyst.CompletionRequest{Prompt: "p", Model: "m", MaxTokens: 10}

	store, err := cache.NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	backend := &countingBackend{}
	g, _ := New(backend, WithStore(store))
	if _, err := g.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	store.Close()

	reopened, err := cache.NewSQLiteStore(path, nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	g2, _ := New(backend, WithStore(reopened))
	if _, err := g2.Complete(context.Background(), req); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if n := backend.calls.Load(); n != 1 {
		t.Errorf("a stored completion should survive a restart, got %d backend calls", n)
	}
}

func TestGateway_Validation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("expected error without backend")
	}
	g, _ := New(&countingBackend{})
	if _, err := g.Complete(context.Background(), analyst.CompletionRequest{Prompt: "p"}); err == nil {
		t.Error("expected error for zero max tokens")
	}
}
