package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIBackend calls the legacy completions endpoint, which takes a raw
// prompt and a stop sequence the way the planner grammar needs.
type OpenAIBackend struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

var _ analyst.ModelGateway = (*OpenAIBackend)(nil)

// NewOpenAIBackend creates a backend. An empty baseURL uses the public API.
func NewOpenAIBackend(baseURL, apiKey, model string, logger *slog.Logger) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, analyst.NewConfigurationError("OpenAI API key is required", nil)
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1/"
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)
	return &OpenAIBackend{
		client: client,
		model:  pickModel(model, DefaultOpenAIModel),
		logger: logger,
	}, nil
}

// Complete implements analyst.ModelGateway.
func (b *OpenAIBackend) Complete(ctx context.Context, req analyst.CompletionRequest) (string, error) {
	model := pickModel(req.Model, b.model)
	params := openai.CompletionNewParams{
		Model:       openai.CompletionNewParamsModel(model),
		Prompt:      openai.CompletionNewParamsPromptUnion{OfString: openai.String(req.Prompt)},
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
		Temperature: openai.Float(req.Temperature),
	}
	if req.Stop != "" {
		params.Stop = openai.CompletionNewParamsStopUnion{OfString: openai.String(req.Stop)}
	}

	start := time.Now()
	res, err := b.client.Completions.New(ctx, params)
	if err != nil {
		return "", analyst.NewGatewayError("openai", err)
	}
	if len(res.Choices) == 0 {
		return "", analyst.NewGatewayError("openai", errors.New("response has no choices"))
	}
	b.logger.Debug("completion received", "model", model, "duration_ms", time.Since(start).Milliseconds())
	return res.Choices[0].Text, nil
}
