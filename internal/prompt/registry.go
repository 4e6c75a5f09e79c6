// Package prompt holds the fixed prompt templates the planner and tools render.
package prompt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// Names of the built-in prompts.
const (
	PlannerPreamble = "planner_preamble"
	PlannerQuestion = "planner_question"
	SQLQuery        = "sql_query"
	PlotCode        = "plot_code"
	Summarize       = "summarize"
)

// ToolLine is one tool entry in the planner preamble.
type ToolLine struct {
	Name        string
	Description string
}

// Registry manages named dotprompt templates on its own genkit instance.
// Prompts are rendered only; nothing here calls a model.
type Registry struct {
	g   *genkit.Genkit
	err error
	// dotprompt compiles into shared state, so renders are serialized.
	mu sync.Mutex
}

// NewRegistry initializes genkit and defines the built-in prompts.
func NewRegistry(ctx context.Context) (*Registry, error) {
	g, err := genkit.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genkit: %w", err)
	}
	r := &Registry{g: g}
	for name, text := range builtin {
		if err := r.DefinePrompt(name, text); err != nil {
			return nil, fmt.Errorf("builtin prompt %s: %w", name, err)
		}
	}
	return r, nil
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r, err := NewRegistry(context.Background())
	if err != nil {
		return &Registry{err: err}
	}
	return r
})

// Default returns the shared registry with the built-in prompts.
// If initialization failed, every render returns that error.
func Default() *Registry { return defaultRegistry() }

// DefinePrompt registers a template. Names are unique; parse errors are
// reported here by rendering the template once with no input.
func (r *Registry) DefinePrompt(name, text string) error {
	if r.err != nil {
		return r.err
	}
	if genkit.LookupPrompt(r.g, name) != nil {
		return fmt.Errorf("prompt '%s' is already defined", name)
	}
	p, err := genkit.DefinePrompt(r.g, name, ai.WithPromptFn(func(context.Context, any) (string, error) {
		return text, nil
	}))
	if err != nil {
		return fmt.Errorf("failed to define prompt '%s': %w", name, err)
	}
	if _, err := r.render(p, map[string]any{}); err != nil {
		return fmt.Errorf("failed to define prompt '%s': %w", name, err)
	}
	return nil
}

// GetPrompt retrieves a prompt by name.
func (r *Registry) GetPrompt(name string) (*ai.Prompt, error) {
	if r.err != nil {
		return nil, r.err
	}
	p := genkit.LookupPrompt(r.g, name)
	if p == nil {
		return nil, fmt.Errorf("prompt '%s' not found", name)
	}
	return p, nil
}

// RenderPrompt renders a named prompt and returns the text of its messages.
func (r *Registry) RenderPrompt(name string, input map[string]any) (string, error) {
	p, err := r.GetPrompt(name)
	if err != nil {
		return "", err
	}
	text, err := r.render(p, input)
	if err != nil {
		return "", fmt.Errorf("failed to render prompt '%s': %w", name, err)
	}
	return text, nil
}

func (r *Registry) render(p *ai.Prompt, input map[string]any) (string, error) {
	if input == nil {
		input = map[string]any{}
	}
	r.mu.Lock()
	opts, err := p.Render(context.Background(), input)
	r.mu.Unlock()
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, m := range opts.Messages {
		for _, part := range m.Content {
			if part != nil && part.IsText() {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String(), nil
}

// Preamble renders the planner instructions for the given tools, in order.
func (r *Registry) Preamble(tools []ToolLine) (string, error) {
	var lines strings.Builder
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
		lines.WriteString(t.Name + ": " + t.Description + "\n")
	}
	return r.RenderPrompt(PlannerPreamble, map[string]any{
		"tools":      lines.String(),
		"tool_names": strings.Join(names, ", "),
	})
}

// Question renders the question framing appended after the preamble.
func (r *Registry) Question(question string) (string, error) {
	return r.RenderPrompt(PlannerQuestion, map[string]any{"question": question})
}

// SQL renders the query generation prompt.
func (r *Registry) SQL(tablesInfo, question string) (string, error) {
	return r.RenderPrompt(SQLQuery, map[string]any{"tables_info": tablesInfo, "question": question})
}

// Plot renders the chart code prompt.
func (r *Registry) Plot(inputSummary, question string) (string, error) {
	return r.RenderPrompt(PlotCode, map[string]any{"input_summary": inputSummary, "question": question})
}

// Summary renders the summarizer prompt.
func (r *Registry) Summary(text string) (string, error) {
	return r.RenderPrompt(Summarize, map[string]any{"text": text})
}
