package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/batch"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func validFormat(f string) bool {
	switch f {
	case formatText, formatJSON, formatYAML:
		return true
	}
	return false
}

func encode(w io.Writer, format string, v interface{}) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported output format %q", format)
}

// writeResult renders one session result.
func writeResult(w io.Writer, format string, res *analyst.PresentationResult) error {
	if format != formatText {
		return encode(w, format, res)
	}
	switch res.FinalTool {
	case analyst.FinalPlot:
		if res.Text != "" {
			fmt.Fprintln(w, res.Text)
		}
		fmt.Fprintln(w, "```python")
		fmt.Fprintln(w, strings.TrimSpace(res.ChartCode))
		fmt.Fprintln(w, "```")
	case analyst.FinalAborted:
		fmt.Fprintln(w, res.Text)
		if res.Reason != "" {
			fmt.Fprintf(w, "(%s)\n", res.Reason)
		}
	default:
		fmt.Fprintln(w, res.Text)
	}
	return nil
}

// writeOutcomes renders a batch run, one block per question.
func writeOutcomes(w io.Writer, format string, outcomes []batch.Outcome) error {
	if format != formatText {
		return encode(w, format, outcomes)
	}
	for i, o := range outcomes {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "[%s] %s (%s)\n", o.ID, o.Question, o.Duration.Round(time.Millisecond))
		if o.Result != nil {
			if err := writeResult(w, formatText, o.Result); err != nil {
				return err
			}
		}
		if o.Error != "" {
			fmt.Fprintf(w, "error: %s\n", o.Error)
		}
	}
	return nil
}

type historyEntry struct {
	HashID    string    `json:"hash_id" yaml:"hash_id"`
	Model     string    `json:"model" yaml:"model"`
	Stop      string    `json:"stop,omitempty" yaml:"stop,omitempty"`
	Prompt    string    `json:"prompt" yaml:"prompt"`
	Response  string    `json:"response" yaml:"response"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// writeHistory renders stored completions, truncating long prompts in text mode.
func writeHistory(w io.Writer, format string, completions []analyst.CachedCompletion) error {
	entries := make([]historyEntry, 0, len(completions))
	for _, c := range completions {
		entries = append(entries, historyEntry{
			HashID:    c.HashID,
			Model:     c.Model,
			Stop:      c.Stop,
			Prompt:    c.Prompt,
			Response:  c.Completion,
			CreatedAt: c.CreatedAt,
		})
	}
	if format != formatText {
		return encode(w, format, entries)
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s  %s  %s\n  %s\n", e.CreatedAt.Format(time.RFC3339), e.HashID[:min(12, len(e.HashID))], e.Model, oneLine(e.Response, 80))
	}
	fmt.Fprintf(w, "%d completions\n", len(entries))
	return nil
}

type toolEntry struct {
	Name        string   `json:"name" yaml:"name"`
	Kind        string   `json:"kind" yaml:"kind"`
	Category    string   `json:"category,omitempty" yaml:"category,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Returns     string   `json:"returns,omitempty" yaml:"returns,omitempty"`
	Examples    []string `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// writeTools renders each tool's schema.
func writeTools(w io.Writer, format string, tools []analyst.Tool) error {
	entries := make([]toolEntry, 0, len(tools))
	for _, t := range tools {
		schema := t.Schema()
		e := toolEntry{Name: t.Name(), Kind: string(t.Kind())}
		e.Category, _ = schema["category"].(string)
		e.Description, _ = schema["description"].(string)
		e.Returns, _ = schema["returns"].(string)
		e.Examples, _ = schema["examples"].([]string)
		entries = append(entries, e)
	}
	if format != formatText {
		return encode(w, format, entries)
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s (%s", e.Name, e.Kind)
		if e.Category != "" {
			fmt.Fprintf(w, ", %s", e.Category)
		}
		fmt.Fprintln(w, ")")
		if e.Description != "" {
			fmt.Fprintf(w, "  %s\n", e.Description)
		}
		if e.Returns != "" {
			fmt.Fprintf(w, "  returns: %s\n", e.Returns)
		}
		for _, ex := range e.Examples {
			fmt.Fprintf(w, "  e.g. %q\n", ex)
		}
	}
	return nil
}

func oneLine(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
