// Package gateway memoizes model completions by a content hash of the request.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/cache"
	"golang.org/x/sync/singleflight"
)

// Gateway wraps a backend with a CompletionStore. Identical requests return
// the stored completion; concurrent misses on one key share a single call.
type Gateway struct {
	backend      analyst.ModelGateway
	store        analyst.CompletionStore
	group        singleflight.Group
	defaultModel string
	logger       *slog.Logger

	hits        atomic.Int64
	misses      atomic.Int64
	generations atomic.Int64
}

var _ analyst.ModelGateway = (*Gateway)(nil)

// Stats counts lookups and backend calls since creation.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Generations int64 `json:"generations"`
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithStore sets the completion store. The default is an unbounded in-memory store.
func WithStore(store analyst.CompletionStore) Option {
	return func(g *Gateway) {
		g.store = store
	}
}

// WithDefaultModel sets the model used for requests without one.
func WithDefaultModel(model string) Option {
	return func(g *Gateway) {
		g.defaultModel = model
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// New wraps backend.
func New(backend analyst.ModelGateway, options ...Option) (*Gateway, error) {
	if backend == nil {
		return nil, analyst.NewConfigurationError("model backend is required", nil)
	}
	g := &Gateway{
		backend: backend,
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(g)
	}
	g.logger = g.logger.With("component", "gateway")
	if g.store == nil {
		g.store = cache.NewInMemoryStore(0, g.logger)
	}
	return g, nil
}

// HashID is the sha256 of prompt, stop, model, max tokens and the temperature
// rounded to two decimals, concatenated. An empty stop renders as "None".
func HashID(req analyst.CompletionRequest) string {
	stop := req.Stop
	if stop == "" {
		stop = "None"
	}
	repr := req.Prompt + stop + req.Model + strconv.Itoa(req.MaxTokens) + formatTemperature(req.Temperature)
	sum := sha256.Sum256([]byte(repr))
	return hex.EncodeToString(sum[:])
}

// formatTemperature renders like a Python float repr, so 0 becomes "0.0".
func formatTemperature(t float64) string {
	s := strconv.FormatFloat(math.Round(t*100)/100, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// Complete returns the memoized completion for req, calling the backend on a miss.
// Store failures are logged and never fail the call.
func (g *Gateway) Complete(ctx context.Context, req analyst.CompletionRequest) (string, error) {
	if req.Model == "" {
		req.Model = g.defaultModel
	}
	if req.MaxTokens <= 0 {
		return "", analyst.NewValidationError("gateway", "max tokens must be positive", nil)
	}
	id := HashID(req)

	if text, ok := g.lookup(ctx, id); ok {
		g.hits.Add(1)
		return text, nil
	}
	g.misses.Add(1)

	v, err, shared := g.group.Do(id, func() (interface{}, error) {
		// A concurrent call may have stored the key while this one waited.
		if text, ok := g.lookup(ctx, id); ok {
			return text, nil
		}

		start := time.Now()
		text, err := g.backend.Complete(ctx, req)
		if err != nil {
			return "", err
		}
		g.generations.Add(1)
		g.logger.Debug("completion generated",
			"hash_id", id,
			"model", req.Model,
			"duration_ms", time.Since(start).Milliseconds())

		record := &analyst.CachedCompletion{
			HashID:      id,
			Prompt:      req.Prompt,
			Stop:        req.Stop,
			Model:       req.Model,
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
			Completion:  text,
			CreatedAt:   time.Now().UTC(),
		}
		if err := g.store.Save(context.WithoutCancel(ctx), record); err != nil {
			g.logger.Warn("failed to store completion", "hash_id", id, "error", err)
		}
		return text, nil
	})
	if err != nil {
		return "", fmt.Errorf("model %s: %w", req.Model, err)
	}
	if shared {
		g.logger.Debug("completion shared with a concurrent call", "hash_id", id)
	}
	return v.(string), nil
}

func (g *Gateway) lookup(ctx context.Context, id string) (string, bool) {
	cached, found, err := g.store.Lookup(ctx, id)
	if err != nil {
		g.logger.Warn("completion lookup failed", "hash_id", id, "error", err)
		return "", false
	}
	if !found {
		return "", false
	}
	return cached.Completion, true
}

// Stats returns the current counters.
func (g *Gateway) Stats() Stats {
	return Stats{
		Hits:        g.hits.Load(),
		Misses:      g.misses.Load(),
		Generations: g.generations.Load(),
	}
}

// History returns every stored completion.
func (g *Gateway) History(ctx context.Context) ([]analyst.CachedCompletion, error) {
	return g.store.List(ctx)
}
