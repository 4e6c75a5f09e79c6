// Package tools builds the Query, Chart and Summarizer tools the planner dispatches to.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/adapters"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/prompt"
)

// Stop sequences for the tool prompts.
const (
	SQLStop  = "\nSQLResult:"
	PlotStop = "\nfig.show()"
)

const (
	defaultMaxTokens   = 2000
	defaultPreviewRows = 5
)

type settings struct {
	name        string
	model       string
	maxTokens   int
	temperature float64
	previewRows int
	prompts     *prompt.Registry
	logger      *slog.Logger
}

// Option configures a tool.
type Option func(*settings)

// WithName overrides the name the planner uses for the tool.
func WithName(name string) Option {
	return func(s *settings) {
		s.name = name
	}
}

// WithModel sets the model for the tool's own completions.
func WithModel(model string) Option {
	return func(s *settings) {
		s.model = model
	}
}

// WithMaxTokens sets the completion budget.
func WithMaxTokens(n int) Option {
	return func(s *settings) {
		s.maxTokens = n
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(s *settings) {
		s.temperature = t
	}
}

// WithPreviewRows sets how many result rows the Query tool shows the planner.
func WithPreviewRows(n int) Option {
	return func(s *settings) {
		s.previewRows = n
	}
}

// WithPrompts sets the template registry.
func WithPrompts(r *prompt.Registry) Option {
	return func(s *settings) {
		s.prompts = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

func newSettings(name string, opts []Option) *settings {
	s := &settings{
		name:        name,
		maxTokens:   defaultMaxTokens,
		previewRows: defaultPreviewRows,
		prompts:     prompt.Default(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "data", "tool", s.name)
	return s
}

func (s *settings) request(p, stop string) analyst.CompletionRequest {
	return analyst.CompletionRequest{
		Prompt:      p,
		Stop:        stop,
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}
}

// NewQueryTool translates a question into SQL with the gateway and runs it on
// store. Execution failures come back as *analyst.QueryExecutionError.
func NewQueryTool(gateway analyst.ModelGateway, store analyst.TabularStore, opts ...Option) (*adapters.GoToolAdapter, error) {
	if gateway == nil || store == nil {
		return nil, analyst.NewConfigurationError("query tool needs a gateway and a store", nil)
	}
	s := newSettings(analyst.DefaultQueryToolName, opts)

	run := func(ctx context.Context, req analyst.ToolRequest) (*analyst.Observation, error) {
		tablesInfo, err := store.DescribeSchema(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe schema: %w", err)
		}
		p, err := s.prompts.SQL(tablesInfo, req.Input)
		if err != nil {
			return nil, err
		}
		completion, err := gateway.Complete(ctx, s.request(p, SQLStop))
		if err != nil {
			return nil, err
		}
		query := strings.TrimSpace(completion)
		s.logger.Debug("sql generated", "question", req.Input, "query", query)

		result, err := store.Execute(ctx, query)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, &analyst.QueryExecutionError{Query: query, Cause: err}
		}
		data, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		s.logger.Info("query executed", "rows", result.Len())
		return &analyst.Observation{
			DisplayText: "\n" + result.Preview(s.previewRows),
			Query:       query,
			Data:        data,
		}, nil
	}

	return adapters.NewGoToolAdapter(s.name, analyst.ToolQuery, run,
		adapters.WithDescription(analyst.DefaultQueryDescription),
		adapters.WithCategory("Data"),
		adapters.WithReturns("A markdown preview of the query result."),
		adapters.WithExamples([]string{"What is the most common movie rating?"}),
	), nil
}

// NewChartTool generates chart code from the transcript context and the question.
func NewChartTool(gateway analyst.ModelGateway, opts ...Option) (*adapters.GoToolAdapter, error) {
	if gateway == nil {
		return nil, analyst.NewConfigurationError("chart tool needs a gateway", nil)
	}
	s := newSettings(analyst.DefaultChartToolName, opts)

	run := func(ctx context.Context, req analyst.ToolRequest) (*analyst.Observation, error) {
		p, err := s.prompts.Plot(req.Context, req.Input)
		if err != nil {
			return nil, err
		}
		code, err := gateway.Complete(ctx, s.request(p, PlotStop))
		if err != nil {
			return nil, err
		}
		s.logger.Debug("chart code generated", "bytes", len(code))
		return &analyst.Observation{DisplayText: code, Code: code}, nil
	}

	return adapters.NewGoToolAdapter(s.name, analyst.ToolChart, run,
		adapters.WithDescription(analyst.DefaultChartDescription),
		adapters.WithCategory("Visualization"),
		adapters.WithReturns("Source code that renders the chart."),
		adapters.WithExamples([]string{"Show how the mean movie rating has changed over time"}),
	), nil
}

// NewSummarizerTool condenses its input text.
func NewSummarizerTool(gateway analyst.ModelGateway, opts ...Option) (*adapters.GoToolAdapter, error) {
	if gateway == nil {
		return nil, analyst.NewConfigurationError("summarizer tool needs a gateway", nil)
	}
	s := newSettings(analyst.DefaultSummarizerToolName, opts)

	run := func(ctx context.Context, req analyst.ToolRequest) (*analyst.Observation, error) {
		p, err := s.prompts.Summary(req.Input)
		if err != nil {
			return nil, err
		}
		summary, err := gateway.Complete(ctx, s.request(p, ""))
		if err != nil {
			return nil, err
		}
		return &analyst.Observation{DisplayText: strings.TrimSpace(summary)}, nil
	}

	return adapters.NewGoToolAdapter(s.name, analyst.ToolSummarizer, run,
		adapters.WithDescription(analyst.DefaultSummarizerDescription),
		adapters.WithCategory("Text"),
		adapters.WithReturns("A concise summary."),
	), nil
}

// SetupTools creates the three tools in preamble order: Summarizer, Plotter, FooBar DB.
// opts apply to every tool, so WithName belongs on the individual constructors.
func SetupTools(gateway analyst.ModelGateway, store analyst.TabularStore, opts ...Option) ([]analyst.Tool, error) {
	summarizer, err := NewSummarizerTool(gateway, opts...)
	if err != nil {
		return nil, err
	}
	chart, err := NewChartTool(gateway, opts...)
	if err != nil {
		return nil, err
	}
	query, err := NewQueryTool(gateway, store, opts...)
	if err != nil {
		return nil, err
	}
	return []analyst.Tool{summarizer, chart, query}, nil
}
