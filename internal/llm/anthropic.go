package llm

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicBackend sends the prompt as a single user message.
type AnthropicBackend struct {
	client *anthropic.Client
	model  string
	logger *slog.Logger
}

var _ analyst.ModelGateway = (*AnthropicBackend)(nil)

// NewAnthropicBackend creates a backend. An empty baseURL uses the public API.
func NewAnthropicBackend(baseURL, apiKey, model string, logger *slog.Logger) (*AnthropicBackend, error) {
	if apiKey == "" {
		return nil, analyst.NewConfigurationError("Anthropic API key is required", nil)
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if logger == nil {
		logger = slog.Default()
	}
	client := anthropic.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)
	return &AnthropicBackend{
		client: &client,
		model:  pickModel(model, DefaultAnthropicModel),
		logger: logger,
	}, nil
}

// Complete implements analyst.ModelGateway. Text blocks of the reply are concatenated.
func (b *AnthropicBackend) Complete(ctx context.Context, req analyst.CompletionRequest) (string, error) {
	model := pickModel(req.Model, b.model)
	start := time.Now()
	msg, err := b.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:         anthropic.Model(model),
		MaxTokens:     int64(req.MaxTokens),
		Temperature:   anthropic.Float(req.Temperature),
		StopSequences: stopSequences(req.Stop),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	})
	if err != nil {
		return "", analyst.NewGatewayError("anthropic", err)
	}

	var text strings.Builder
	found := false
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
			found = true
		}
	}
	if !found {
		return "", analyst.NewGatewayError("anthropic", errors.New("response has no text content"))
	}
	b.logger.Debug("completion received", "model", model, "duration_ms", time.Since(start).Milliseconds())
	return text.String(), nil
}
