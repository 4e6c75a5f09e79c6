package analyst

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ToolKind is the closed set of tool variants the planner can dispatch to.
type ToolKind string

const (
	// ToolUnrecognized marks a name outside the configured tool set.
	ToolUnrecognized ToolKind = "unrecognized"
	// ToolQuery translates a question into SQL and runs it.
	ToolQuery ToolKind = "query"
	// ToolChart generates chart-rendering source code.
	ToolChart ToolKind = "chart"
	// ToolSummarizer condenses a piece of text.
	ToolSummarizer ToolKind = "summarizer"
)

// Default tool names used by the planner preamble.
const (
	DefaultQueryToolName      = "FooBar DB"
	DefaultChartToolName      = "Plotter"
	DefaultSummarizerToolName = "Summarizer"
)

// ToolSet maps tool names, matched case-sensitively, to their variant.
type ToolSet map[string]ToolKind

// DefaultToolSet returns the names the default preamble documents.
func DefaultToolSet() ToolSet {
	return ToolSet{
		DefaultSummarizerToolName: ToolSummarizer,
		DefaultChartToolName:      ToolChart,
		DefaultQueryToolName:      ToolQuery,
	}
}

// Resolve maps a parsed tool name to its kind. Unknown names map to ToolUnrecognized.
func (s ToolSet) Resolve(name string) ToolKind {
	if kind, ok := s[name]; ok {
		return kind
	}
	return ToolUnrecognized
}

// Names returns the configured names in a stable order.
func (s ToolSet) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Action is one parsed planner step.
type Action struct {
	Thought  string   `json:"thought,omitempty"`
	Name     string   `json:"tool"`
	Input    string   `json:"input"`
	Tool     ToolKind `json:"kind"`
	Terminal bool     `json:"terminal"`
	Raw      string   `json:"-"`
}

// ToolRequest is what the orchestrator hands to a tool for one Action.
type ToolRequest struct {
	// Input is the text after the last colon of the Action Input line.
	Input string
	// Context is the transcript without the preamble, used by the Chart Tool.
	Context string
}

// Observation is the result of dispatching an Action. Only DisplayText
// re-enters the transcript.
type Observation struct {
	DisplayText string          `json:"display_text"`
	Query       string          `json:"query,omitempty"`
	Code        string          `json:"code,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
}

// FinalTool tells the presentation layer how to render a session.
type FinalTool string

const (
	FinalText    FinalTool = "Text"
	FinalPlot    FinalTool = "Plot"
	FinalAborted FinalTool = "Aborted"
)

// AbortedText is shown to the user whenever a session cannot produce an answer.
const AbortedText = "I could not complete this request"

// PresentationResult is what one completed session yields to the caller.
type PresentationResult struct {
	SessionID string          `json:"session_id" yaml:"session_id"`
	Question  string          `json:"question" yaml:"question"`
	FinalTool FinalTool       `json:"final_tool" yaml:"final_tool"`
	Text      string          `json:"text,omitempty" yaml:"text,omitempty"`
	ChartCode string          `json:"chart_code,omitempty" yaml:"chart_code,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty" yaml:"-"`
	Reason    string          `json:"reason,omitempty" yaml:"reason,omitempty"`
	Steps     int             `json:"steps" yaml:"steps"`
}

// CompletionRequest is the full input of one Model Gateway call.
type CompletionRequest struct {
	Prompt      string  `json:"prompt"`
	Stop        string  `json:"stop,omitempty"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// CachedCompletion is a memoized gateway call.
type CachedCompletion struct {
	HashID      string    `json:"hash_id"`
	Prompt      string    `json:"prompt"`
	Stop        string    `json:"stop,omitempty"`
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Completion  string    `json:"completion"`
	CreatedAt   time.Time `json:"created_at"`
}

// TabularResult is the rows returned by a query.
type TabularResult struct {
	Columns []string
	Rows    [][]interface{}
}

// Len returns the number of rows.
func (r *TabularResult) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Preview renders the first n rows as a markdown table with a row index column.
func (r *TabularResult) Preview(n int) string {
	if r == nil || len(r.Columns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("|    |")
	for _, c := range r.Columns {
		b.WriteString(" " + c + " |")
	}
	b.WriteString("\n|---:|")
	for range r.Columns {
		b.WriteString(":---|")
	}
	for i, row := range r.Rows {
		if i >= n {
			break
		}
		fmt.Fprintf(&b, "\n| %d |", i)
		for _, v := range row {
			b.WriteString(" " + formatCell(v) + " |")
		}
	}
	return b.String()
}

// MarshalJSON encodes the result column oriented, {"col": {"0": v, ...}}.
func (r *TabularResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for ci, col := range r.Columns {
		if ci > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteString(":{")
		for ri, row := range r.Rows {
			if ri > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(strconv.Quote(strconv.Itoa(ri)))
			buf.WriteByte(':')
			var cell interface{}
			if ci < len(row) {
				cell = row[ci]
			}
			v, err := json.Marshal(cell)
			if err != nil {
				return nil, err
			}
			buf.Write(v)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func formatCell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}
