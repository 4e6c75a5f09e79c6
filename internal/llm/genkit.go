package llm

import (
	"context"
	"log/slog"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
)

// GenkitBackend routes completions through a genkit flow backed by the
// Google AI plugin, so every call shows up as a traced flow run.
type GenkitBackend struct {
	g      *genkit.Genkit
	flow   *core.Flow[*analyst.CompletionRequest, string, struct{}]
	model  string
	logger *slog.Logger
}

var _ analyst.ModelGateway = (*GenkitBackend)(nil)

// NewGenkitBackend initializes genkit with the Google AI plugin.
func NewGenkitBackend(ctx context.Context, apiKey, model string, logger *slog.Logger) (*GenkitBackend, error) {
	if apiKey == "" {
		return nil, analyst.NewConfigurationError("Gemini API key is required", nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	g, err := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{APIKey: apiKey}))
	if err != nil {
		return nil, analyst.NewConfigurationError("failed to initialize genkit", err)
	}

	b := &GenkitBackend{
		g:      g,
		model:  pickModel(model, DefaultGenkitModel),
		logger: logger,
	}
	b.flow = genkit.DefineFlow(g, "completionFlow",
		func(ctx context.Context, req *analyst.CompletionRequest) (string, error) {
			resp, err := genkit.Generate(ctx, g,
				ai.WithModelName(pickModel(req.Model, b.model)),
				ai.WithMessages(ai.NewUserTextMessage(req.Prompt)),
				ai.WithConfig(generationConfig(*req)),
			)
			if err != nil {
				return "", err
			}
			return resp.Text(), nil
		})
	return b, nil
}

// Complete implements analyst.ModelGateway.
func (b *GenkitBackend) Complete(ctx context.Context, req analyst.CompletionRequest) (string, error) {
	start := time.Now()
	text, err := b.flow.Run(ctx, &req)
	if err != nil {
		return "", analyst.NewGatewayError("genkit", err)
	}
	b.logger.Debug("completion received", "model", pickModel(req.Model, b.model), "duration_ms", time.Since(start).Milliseconds())
	return text, nil
}

func generationConfig(req analyst.CompletionRequest) *ai.GenerationCommonConfig {
	return &ai.GenerationCommonConfig{
		MaxOutputTokens: req.MaxTokens,
		StopSequences:   stopSequences(req.Stop),
		Temperature:     req.Temperature,
	}
}
