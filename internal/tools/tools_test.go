package tools

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/store"
)

// stopGateway answers from a queue per stop sequence, so planner, SQL, plot
// and summary prompts can be scripted independently.
type stopGateway struct {
	mu        sync.Mutex
	responses map[string][]string
	calls     []analyst.CompletionRequest
}

func (g *stopGateway) Complete(ctx context.Context, req analyst.CompletionRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	queue := g.responses[req.Stop]
	if len(queue) == 0 {
		return "", errors.New("no scripted response for stop " + req.Stop)
	}
	g.responses[req.Stop] = queue[1:]
	return queue[0], nil
}

func movieStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	content := "Title,Rating,Year\nAlien,8,1979\nHeat,8,1995\nCats,3,2019\n"
	if err := os.WriteFile(filepath.Join(dir, "movies.csv"), []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	s, err := store.LoadDirectory(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadDirectory failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestQueryTool_Run(t *testing.T) {
	gw := &stopGateway{responses: map[string][]string{
		SQLStop: {" SELECT rating, count(*) AS n FROM movies GROUP BY rating ORDER BY n DESC"},
	}}
	tool, err := NewQueryTool(gw, movieStore(t))
	if err != nil {
		t.Fatalf("NewQueryTool failed: %v", err)
	}
	if tool.Name() != analyst.DefaultQueryToolName || tool.Kind() != analyst.ToolQuery {
		t.Errorf("unexpected identity %s/%s", tool.Name(), tool.Kind())
	}

	obs, err := tool.Run(context.Background(), analyst.ToolRequest{Input: "most common rating"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if obs.Query != "SELECT rating, count(*) AS n FROM movies GROUP BY rating ORDER BY n DESC" {
		t.Errorf("unexpected query %q", obs.Query)
	}
	if !strings.HasPrefix(obs.DisplayText, "\n|    | rating | n |") || !strings.Contains(obs.DisplayText, "| 0 | 8 | 2 |") {
		t.Errorf("unexpected preview %q", obs.DisplayText)
	}
	var payload map[string]map[string]interface{}
	if err := json.Unmarshal(obs.Data, &payload); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if payload["rating"]["0"] != float64(8) {
		t.Errorf("unexpected payload %s", obs.Data)
	}

	req := gw.calls[0]
	if req.MaxTokens != 2000 || req.Stop != SQLStop {
		t.Errorf("unexpected completion request %+v", req)
	}
	if !strings.Contains(req.Prompt, "Table 'movies' has columns: title (TEXT), rating (INTEGER), year (INTEGER).") ||
		!strings.HasSuffix(req.Prompt, "Question: most common rating\nSQLQuery: ") {
		t.Errorf("unexpected prompt:\n%s", req.Prompt)
	}
}

func TestQueryTool_ExecutionError(t *testing.T) {
	gw := &stopGateway{responses: map[string][]string{SQLStop: {"SELECT nope FROM movies"}}}
	tool, _ := NewQueryTool(gw, movieStore(t))

	_, err := tool.Run(context.Background(), analyst.ToolRequest{Input: "anything"})
	var queryErr *analyst.QueryExecutionError
	if !errors.As(err, &queryErr) {
		t.Fatalf("expected QueryExecutionError, got %v", err)
	}
	if queryErr.Query != "SELECT nope FROM movies" {
		t.Errorf("error should carry the query, got %q", queryErr.Query)
	}
}

func TestChartTool_Run(t *testing.T) {
	code := "import plotly.express as px\nfig = px.line(df, x='year', y='rating')"
	gw := &stopGateway{responses: map[string][]string{PlotStop: {code}}}
	tool, err := NewChartTool(gw, WithModel("plot-model"))
	if err != nil {
		t.Fatalf("NewChartTool failed: %v", err)
	}

	obs, err := tool.Run(context.Background(), analyst.ToolRequest{
		Input:   "rating over time",
		Context: "Question: q\nThought: t",
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if obs.Code != code || obs.DisplayText != code {
		t.Errorf("unexpected observation %+v", obs)
	}
	req := gw.calls[0]
	if req.Model != "plot-model" {
		t.Errorf("model = %q", req.Model)
	}
	if !strings.Contains(req.Prompt, "### Input Summary\nQuestion: q\nThought: t\n###") ||
		!strings.HasSuffix(req.Prompt, "Question: rating over time\nCode:") {
		t.Errorf("unexpected prompt:\n%s", req.Prompt)
	}
}

func TestSummarizerTool_Run(t *testing.T) {
	gw := &stopGateway{responses: map[string][]string{"": {"  Short.  "}}}
	tool, _ := NewSummarizerTool(gw)

	obs, err := tool.Run(context.Background(), analyst.ToolRequest{Input: "a very long text"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if obs.DisplayText != "Short." {
		t.Errorf("unexpected summary %q", obs.DisplayText)
	}
	if _, err := tool.Run(context.Background(), analyst.ToolRequest{Input: " "}); err == nil {
		t.Error("expected validation error for empty input")
	}
}

func TestConstructors_RequireCollaborators(t *testing.T) {
	if _, err := NewQueryTool(nil, nil); err == nil {
		t.Error("expected error without gateway and store")
	}
	if _, err := NewChartTool(nil); err == nil {
		t.Error("expected error without gateway")
	}
	if _, err := NewSummarizerTool(nil); err == nil {
		t.Error("expected error without gateway")
	}
}

func TestSetupTools_PreambleOrder(t *testing.T) {
	tools, err := SetupTools(&stopGateway{}, movieStore(t))
	if err != nil {
		t.Fatalf("SetupTools failed: %v", err)
	}
	preamble, err := analyst.BuildPreamble(tools)
	if err != nil {
		t.Fatalf("BuildPreamble failed: %v", err)
	}
	want, _ := analyst.DefaultPreamble()
	if preamble != want {
		t.Errorf("tool preamble differs from the default:\n%s\n---\n%s", preamble, want)
	}
}

func TestSession_EndToEnd(t *testing.T) {
	gw := &stopGateway{responses: map[string][]string{
		analyst.ObservationStop: {
			" I need the ratings.\nAction: FooBar DB\nAction Input: What is the most common movie rating?",
			" I should plot it.\nAction: Plotter\nAction Input: Show the rating counts",
			" I now know the final answer\nFinal Action: Plot\nFinal Answer: Here is the chart",
		},
		SQLStop:  {"SELECT rating, count(*) AS n FROM movies GROUP BY rating ORDER BY n DESC"},
		PlotStop: {"fig = px.bar(df, x='rating', y='n')"},
	}}
	tools, err := SetupTools(gw, movieStore(t))
	if err != nil {
		t.Fatalf("SetupTools failed: %v", err)
	}
	config := analyst.DefaultConfig()
	config.EnableEventBus = false
	a, err := analyst.New(analyst.WithGateway(gw), analyst.WithTools(tools...), analyst.WithConfig(config))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	result, err := a.Run(context.Background(), "Show how often each rating occurs")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.FinalTool != analyst.FinalPlot {
		t.Fatalf("FinalTool = %s, want Plot (reason %s)", result.FinalTool, result.Reason)
	}
	if result.ChartCode != "fig = px.bar(df, x='rating', y='n')" {
		t.Errorf("unexpected chart code %q", result.ChartCode)
	}
	if len(result.Payload) == 0 {
		t.Error("query payload should be carried to the result")
	}

	// The plot prompt sees the transcript so far, including the query preview.
	var plotPrompt string
	for _, c := range gw.calls {
		if c.Stop == PlotStop {
			plotPrompt = c.Prompt
		}
	}
	if !strings.Contains(plotPrompt, "Observation: \n|    | rating | n |") {
		t.Errorf("plot prompt should include the query observation:\n%s", plotPrompt)
	}
}
