package adapters

import (
	"context"
	"errors"
	"testing"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
)

type dummyTool struct {
	fail error
}

func (d *dummyTool) Run(ctx context.Context, req analyst.ToolRequest) (*analyst.Observation, error) {
	if d.fail != nil {
		return nil, d.fail
	}
	return &analyst.Observation{DisplayText: "echo: " + req.Input}, nil
}

func TestGoToolAdapter_Run_SuccessAndFailure(t *testing.T) {
	adapter := NewGoToolAdapter("dummy", analyst.ToolSummarizer, (&dummyTool{}).Run)
	obs, err := adapter.Run(context.Background(), analyst.ToolRequest{Input: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obs.DisplayText != "echo: hello" {
		t.Errorf("unexpected observation %q", obs.DisplayText)
	}

	queryErr := &analyst.QueryExecutionError{Query: "SELECT 1", Cause: errors.New("boom")}
	adapterFail := NewGoToolAdapter("dummy", analyst.ToolQuery, (&dummyTool{fail: queryErr}).Run)
	_, err = adapterFail.Run(context.Background(), analyst.ToolRequest{Input: "hello"})
	var got *analyst.QueryExecutionError
	if !errors.As(err, &got) {
		t.Errorf("expected the tool error to pass through, got %v", err)
	}

	nilObs := NewGoToolAdapter("dummy", analyst.ToolChart, func(context.Context, analyst.ToolRequest) (*analyst.Observation, error) {
		return nil, nil
	})
	if _, err := nilObs.Run(context.Background(), analyst.ToolRequest{Input: "x"}); err == nil {
		t.Error("expected error for a nil observation")
	}
}

func TestGoToolAdapter_Validate(t *testing.T) {
	adapter := NewGoToolAdapter("dummy", analyst.ToolSummarizer, (&dummyTool{}).Run)
	if err := adapter.Validate(analyst.ToolRequest{Input: "  "}); err == nil {
		t.Error("expected error for empty input, got nil")
	}
	if err := adapter.Validate(analyst.ToolRequest{Input: "text"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := adapter.Run(context.Background(), analyst.ToolRequest{}); err == nil {
		t.Error("Run should validate its input")
	}

	custom := NewGoToolAdapter("dummy", analyst.ToolSummarizer, (&dummyTool{}).Run,
		WithValidator(func(req analyst.ToolRequest) error {
			if req.Context == "" {
				return errors.New("context required")
			}
			return nil
		}))
	if err := custom.Validate(analyst.ToolRequest{Input: "x"}); err == nil {
		t.Error("expected custom validator to reject a request without context")
	}
}

func TestGoToolAdapter_Schema(t *testing.T) {
	adapter := NewGoToolAdapter("Plotter", analyst.ToolChart, (&dummyTool{}).Run,
		WithDescription("useful for when you need to show a graph."),
		WithCategory("Visualization"),
		WithReturns("Plotly source code"),
		WithExamples([]string{"mean rating per year"}),
	)

	schema := adapter.Schema()
	if schema["name"] != "Plotter" || schema["kind"] != "chart" {
		t.Errorf("unexpected schema %v", schema)
	}
	if schema["description"] != "useful for when you need to show a graph." {
		t.Errorf("unexpected description %v", schema["description"])
	}
	if adapter.Kind() != analyst.ToolChart || adapter.Category() != "Visualization" {
		t.Errorf("unexpected kind or category: %s %s", adapter.Kind(), adapter.Category())
	}
}
