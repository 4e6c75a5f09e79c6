package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/ollama/ollama/api"
)

// OllamaBackend runs raw generations against a local Ollama server, so the
// planner transcript reaches the model without a chat template around it.
type OllamaBackend struct {
	client *api.Client
	model  string
	logger *slog.Logger
}

var _ analyst.ModelGateway = (*OllamaBackend)(nil)

// NewOllamaBackend creates a backend. An empty baseURL uses http://localhost:11434.
func NewOllamaBackend(baseURL, model string, logger *slog.Logger) (*OllamaBackend, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, analyst.NewConfigurationError(fmt.Sprintf("invalid Ollama URL %q", baseURL), err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaBackend{
		client: api.NewClient(parsedURL, http.DefaultClient),
		model:  pickModel(model, DefaultOllamaModel),
		logger: logger,
	}, nil
}

// Complete implements analyst.ModelGateway.
func (b *OllamaBackend) Complete(ctx context.Context, req analyst.CompletionRequest) (string, error) {
	model := pickModel(req.Model, b.model)
	stream := false
	options := map[string]any{
		"num_predict": req.MaxTokens,
		"temperature": req.Temperature,
	}
	if stops := stopSequences(req.Stop); stops != nil {
		options["stop"] = stops
	}

	start := time.Now()
	var text strings.Builder
	err := b.client.Generate(ctx, &api.GenerateRequest{
		Model:   model,
		Prompt:  req.Prompt,
		Raw:     true,
		Stream:  &stream,
		Options: options,
	}, func(resp api.GenerateResponse) error {
		text.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", analyst.NewGatewayError("ollama", err)
	}
	b.logger.Debug("completion received", "model", model, "duration_ms", time.Since(start).Milliseconds())
	return text.String(), nil
}
