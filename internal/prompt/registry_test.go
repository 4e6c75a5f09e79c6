package prompt

import (
	"context"
	"strings"
	"sync"
	"testing"
)

func TestPreamble_ListsToolsInOrder(t *testing.T) {
	got, err := Default().Preamble([]ToolLine{
		{Name: "Summarizer", Description: "useful for when you need to summarize a text."},
		{Name: "Plotter", Description: "useful for when you need to show a graph."},
		{Name: "FooBar DB", Description: "useful for when you need to answer questions about FooBar."},
	})
	if err != nil {
		t.Fatalf("Preamble failed: %v", err)
	}
	if !strings.Contains(got, "Action: the action to take, should be one of [Summarizer, Plotter, FooBar DB]") {
		t.Errorf("tool list missing from preamble:\n%s", got)
	}
	if !strings.Contains(got, "tools:\n\nSummarizer: useful for when you need to summarize a text.\nPlotter: useful for when you need to show a graph.\nFooBar DB: useful for when you need to answer questions about FooBar.\n\nUse the following format:") {
		t.Errorf("tool lines not in order:\n%s", got)
	}
	if !strings.HasSuffix(got, "Begin!\n\n") {
		t.Errorf("preamble must end with the Begin! marker, got %q", got[len(got)-20:])
	}
}

func TestQuestion(t *testing.T) {
	got, err := Default().Question("What is the most common movie rating?")
	if err != nil {
		t.Fatalf("Question failed: %v", err)
	}
	want := "Question: What is the most common movie rating?\nThought:"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestSQL_EmbedsSchemaAndQuestion(t *testing.T) {
	got, err := Default().SQL("Table 'movies' has columns: rating (TEXT).\n", "most common rating")
	if err != nil {
		t.Fatalf("SQL failed: %v", err)
	}
	if !strings.Contains(got, "Only use the following tables:\n\nTable 'movies' has columns: rating (TEXT).\n\n\nQuestion:") {
		t.Errorf("schema missing from prompt:\n%s", got)
	}
	if !strings.HasSuffix(got, "Question: most common rating\nSQLQuery: ") {
		t.Errorf("unexpected prompt tail: %q", got[len(got)-40:])
	}
}

func TestRender_ValuesAreNotEscaped(t *testing.T) {
	summary := "Observation: \n| a | b |\n|---|---|\n| <x> & \"y\" | {{z}} |"
	got, err := Default().Plot(summary, "plot a & b")
	if err != nil {
		t.Fatalf("Plot failed: %v", err)
	}
	if !strings.Contains(got, "### Input Summary\n"+summary+"\n###\n\n\nQuestion: plot a & b\nCode:") {
		t.Errorf("values should be inserted verbatim:\n%s", got)
	}
}

func TestRegistry_DefineAndRender(t *testing.T) {
	r, err := NewRegistry(context.Background())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if _, err := r.RenderPrompt("missing", nil); err == nil {
		t.Error("expected error for unknown prompt")
	}
	if err := r.DefinePrompt("broken", "Hello {{#if name}}unclosed"); err == nil {
		t.Error("expected parse error")
	}
	if err := r.DefinePrompt("greeting", "Hello {{{name}}}!"); err != nil {
		t.Fatalf("DefinePrompt failed: %v", err)
	}
	if err := r.DefinePrompt("greeting", "again"); err == nil {
		t.Error("expected error for a duplicate name")
	}
	got, err := r.RenderPrompt("greeting", map[string]any{"name": "analyst"})
	if err != nil {
		t.Fatalf("RenderPrompt failed: %v", err)
	}
	if got != "Hello analyst!" {
		t.Errorf("got %q", got)
	}
}

func TestRegistry_ConcurrentRenders(t *testing.T) {
	r := Default()
	var wg sync.WaitGroup
	errs := make(chan string, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if got, err := r.Summary("some text"); err != nil || !strings.HasPrefix(got, "Write a concise summary") {
				errs <- "summary: " + got
			}
		}()
		go func() {
			defer wg.Done()
			if got, err := r.Question("q"); err != nil || got != "Question: q\nThought:" {
				errs <- "question: " + got
			}
		}()
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Errorf("render mixed up templates: %s", e)
	}
}
