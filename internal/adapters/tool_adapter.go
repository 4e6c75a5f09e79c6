// Package adapters turns plain Go functions into planner tools.
package adapters

import (
	"context"
	"fmt"
	"strings"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
)

// ToolFunc is the function a GoToolAdapter dispatches to.
type ToolFunc func(ctx context.Context, req analyst.ToolRequest) (*analyst.Observation, error)

// GoToolAdapter adapts a standard Go function to the analyst.Tool interface.
type GoToolAdapter struct {
	toolFunc    ToolFunc
	schema      map[string]interface{}
	name        string
	kind        analyst.ToolKind
	validator   func(analyst.ToolRequest) error
	description string
	category    string
}

var _ analyst.Tool = (*GoToolAdapter)(nil)

// ToolOption represents an option for configuring a GoToolAdapter.
type ToolOption func(*GoToolAdapter)

// WithValidator sets a custom validator function for the tool.
func WithValidator(validator func(analyst.ToolRequest) error) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.validator = validator
	}
}

// WithCategory sets the tool's category.
func WithCategory(category string) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.category = category
		adapter.schema["category"] = category
	}
}

// WithDescription sets the line shown for the tool in the planner preamble.
func WithDescription(description string) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.description = description
		adapter.schema["description"] = description
	}
}

// WithReturns sets the return value description in the schema.
func WithReturns(returns string) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.schema["returns"] = returns
	}
}

// WithExamples adds usage examples to the schema.
func WithExamples(examples []string) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.schema["examples"] = examples
	}
}

// NewGoToolAdapter creates a new adapter for a Go function.
func NewGoToolAdapter(name string, kind analyst.ToolKind, toolFunc ToolFunc, options ...ToolOption) *GoToolAdapter {
	adapter := &GoToolAdapter{
		toolFunc: toolFunc,
		schema: map[string]interface{}{
			"name": name,
			"kind": string(kind),
		},
		name: name,
		kind: kind,
		validator: func(req analyst.ToolRequest) error {
			if strings.TrimSpace(req.Input) == "" {
				return fmt.Errorf("input cannot be empty")
			}
			return nil
		},
	}

	for _, option := range options {
		option(adapter)
	}

	return adapter
}

// Run implements the analyst.Tool interface. Errors from the wrapped
// function are returned unchanged so callers can match them with errors.As.
func (a *GoToolAdapter) Run(ctx context.Context, req analyst.ToolRequest) (*analyst.Observation, error) {
	if a.toolFunc == nil {
		return nil, fmt.Errorf("tool function is nil")
	}

	if err := a.Validate(req); err != nil {
		return nil, fmt.Errorf("input validation failed for %s: %w", a.name, err)
	}

	obs, err := a.toolFunc(ctx, req)
	if err != nil {
		return nil, err
	}
	if obs == nil {
		return nil, fmt.Errorf("tool %s returned no observation", a.name)
	}
	return obs, nil
}

// Schema implements the analyst.Tool interface.
func (a *GoToolAdapter) Schema() map[string]interface{} {
	return a.schema
}

// Validate implements the analyst.Tool interface.
func (a *GoToolAdapter) Validate(req analyst.ToolRequest) error {
	if a.validator != nil {
		return a.validator(req)
	}
	return nil
}

// Name implements the analyst.Tool interface.
func (a *GoToolAdapter) Name() string {
	return a.name
}

// Kind implements the analyst.Tool interface.
func (a *GoToolAdapter) Kind() analyst.ToolKind {
	return a.kind
}

// Category returns the category set with WithCategory.
func (a *GoToolAdapter) Category() string {
	return a.category
}
