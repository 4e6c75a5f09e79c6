// Package llm holds the model backends behind the completion gateway.
//
// Each backend turns one analyst.CompletionRequest into generated text with a
// single non-streaming call. Memoization lives in internal/gateway, not here.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
)

// ProviderType names a supported backend.
type ProviderType string

const (
	ProviderOpenAI    ProviderType = "openai"
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOllama    ProviderType = "ollama"
	ProviderGenkit    ProviderType = "genkit"
)

// Default models per provider.
const (
	DefaultOpenAIModel    = "gpt-3.5-turbo-instruct"
	DefaultAnthropicModel = "claude-3-5-haiku-20241022"
	DefaultOllamaModel    = "llama3.1"
	DefaultGenkitModel    = "googleai/gemini-2.0-flash"
)

// Config selects and configures a backend.
type Config struct {
	Provider ProviderType `yaml:"provider" json:"provider"`
	BaseURL  string       `yaml:"base_url" json:"base_url"`
	APIKey   string       `yaml:"api_key" json:"-"`
	Model    string       `yaml:"model" json:"model"`
}

// ParseProviderType maps a config value to a ProviderType. "googleai" is an alias for genkit.
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai", "":
		return ProviderOpenAI, nil
	case "anthropic":
		return ProviderAnthropic, nil
	case "ollama":
		return ProviderOllama, nil
	case "genkit", "googleai":
		return ProviderGenkit, nil
	default:
		return "", fmt.Errorf("unknown provider type: %s", s)
	}
}

// DefaultModel returns the model used when the config names none.
func DefaultModel(p ProviderType) string {
	switch p {
	case ProviderAnthropic:
		return DefaultAnthropicModel
	case ProviderOllama:
		return DefaultOllamaModel
	case ProviderGenkit:
		return DefaultGenkitModel
	default:
		return DefaultOpenAIModel
	}
}

// NewProvider creates the backend named by cfg.Provider.
func NewProvider(ctx context.Context, cfg Config, logger *slog.Logger) (analyst.ModelGateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "llm", "provider", string(cfg.Provider))

	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAIBackend(cfg.BaseURL, cfg.APIKey, cfg.Model, logger)
	case ProviderAnthropic:
		return NewAnthropicBackend(cfg.BaseURL, cfg.APIKey, cfg.Model, logger)
	case ProviderOllama:
		return NewOllamaBackend(cfg.BaseURL, cfg.Model, logger)
	case ProviderGenkit:
		return NewGenkitBackend(ctx, cfg.APIKey, cfg.Model, logger)
	default:
		return nil, analyst.NewConfigurationError(fmt.Sprintf("unknown provider type: %s", cfg.Provider), nil)
	}
}

func pickModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

func stopSequences(stop string) []string {
	if stop == "" {
		return nil
	}
	return []string{stop}
}
