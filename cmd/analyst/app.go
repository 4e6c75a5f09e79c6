package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/cache"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/config"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/gateway"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/llm"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/store"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/tools"
)

// app holds every wired component and what must be closed on exit.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	gateway *gateway.Gateway
	store   *store.SQLiteStore
	analyst *analyst.Analyst
	closers []io.Closer
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func newCompletionStore(cfg *config.Config, logger *slog.Logger) (analyst.CompletionStore, io.Closer, error) {
	switch cfg.Cache.Backend {
	case "memory":
		s := cache.NewInMemoryStore(cfg.Cache.TTL, logger)
		return s, closerFunc(s.Close), nil
	case "file":
		s, err := cache.NewFileStore(cfg.Cache.TTL, cfg.CachePath(), logger)
		return s, nil, err
	default:
		s, err := cache.NewSQLiteStore(cfg.CachePath(), logger)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

func openDataset(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.SQLiteStore, error) {
	opts := []store.Option{store.WithLogger(logger), store.WithSampleRows(cfg.Store.SampleRows)}
	if len(cfg.Store.IncludeTables) > 0 {
		opts = append(opts, store.WithIncludeTables(cfg.Store.IncludeTables...))
	}
	if len(cfg.Store.IgnoreTables) > 0 {
		opts = append(opts, store.WithIgnoreTables(cfg.Store.IgnoreTables...))
	}
	if cfg.Store.Database != "" {
		return store.Open(ctx, cfg.Store.Database, opts...)
	}
	return store.LoadDirectory(ctx, cfg.FilesDir(), opts...)
}

// newApp wires config into a ready analyst. Partially built apps are closed on error.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	backend, err := llm.NewProvider(ctx, cfg.LLM, logger)
	if err != nil {
		return a, err
	}

	completions, closer, err := newCompletionStore(cfg, logger)
	if err != nil {
		return a, fmt.Errorf("open completion store: %w", err)
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	model := cfg.LLM.Model
	if model == "" {
		model = llm.DefaultModel(cfg.LLM.Provider)
	}
	a.gateway, err = gateway.New(backend,
		gateway.WithStore(completions),
		gateway.WithDefaultModel(model),
		gateway.WithLogger(logger),
	)
	if err != nil {
		return a, err
	}

	a.store, err = openDataset(ctx, cfg, logger)
	if err != nil {
		return a, fmt.Errorf("open dataset: %w", err)
	}
	a.closers = append(a.closers, a.store)

	toolset, err := tools.SetupTools(a.gateway, a.store,
		tools.WithModel(model),
		tools.WithMaxTokens(cfg.Planner.MaxTokens),
		tools.WithTemperature(cfg.Planner.Temperature),
		tools.WithPreviewRows(cfg.Store.PreviewRows),
		tools.WithLogger(logger),
	)
	if err != nil {
		return a, err
	}

	a.analyst, err = analyst.New(
		analyst.WithConfig(cfg.AnalystConfig()),
		analyst.WithGateway(a.gateway),
		analyst.WithTools(toolset...),
		analyst.WithLogger(logger),
	)
	if err != nil {
		return a, err
	}
	a.closers = append(a.closers, closerFunc(a.analyst.Close))
	return a, nil
}

// Run answers one question under the configured session timeout.
func (a *app) Run(ctx context.Context, question string) (*analyst.PresentationResult, error) {
	if a.cfg.Session.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Session.Timeout)
		defer cancel()
	}
	return a.analyst.Run(ctx, question)
}

// Close releases components in reverse order of creation.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
