// Package config loads the analyst configuration from a YAML file and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	analyst "github.com/ZanzyTHEbar/dragonscale-analyst"
	"github.com/ZanzyTHEbar/dragonscale-analyst/internal/llm"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// PlannerConfig bounds one session.
type PlannerConfig struct {
	MaxSteps    int     `yaml:"max_steps"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// SessionConfig controls failure handling.
type SessionConfig struct {
	MalformedPolicy string        `yaml:"malformed_policy"`
	AbortExpression string        `yaml:"abort_expression"`
	Timeout         time.Duration `yaml:"timeout"`
}

// StoreConfig describes the dataset.
type StoreConfig struct {
	// FilesDir holds CSV/TSV files to load; empty means DataDir/files.
	FilesDir string `yaml:"files_dir"`
	// Database opens an existing sqlite file instead of loading FilesDir.
	Database      string   `yaml:"database"`
	IncludeTables []string `yaml:"include_tables"`
	IgnoreTables  []string `yaml:"ignore_tables"`
	SampleRows    int      `yaml:"sample_rows"`
	PreviewRows   int      `yaml:"preview_rows"`
}

// CacheConfig selects the completion store.
type CacheConfig struct {
	Backend string        `yaml:"backend"` // sqlite, file or memory
	Path    string        `yaml:"path"`
	TTL     time.Duration `yaml:"ttl"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
	File   bool   `yaml:"file"`
}

// BatchConfig configures batch runs.
type BatchConfig struct {
	Workers int           `yaml:"workers"`
	Timeout time.Duration `yaml:"timeout"`
}

// Config is the full application configuration.
type Config struct {
	DataDir string        `yaml:"data_dir"`
	LLM     llm.Config    `yaml:"llm"`
	Planner PlannerConfig `yaml:"planner"`
	Session SessionConfig `yaml:"session"`
	Store   StoreConfig   `yaml:"store"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
	Batch   BatchConfig   `yaml:"batch"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	planner := analyst.DefaultPlannerConfig()
	return &Config{
		DataDir: "data",
		LLM:     llm.Config{Provider: llm.ProviderOpenAI},
		Planner: PlannerConfig{
			MaxSteps:    planner.MaxSteps,
			MaxTokens:   planner.MaxTokens,
			Temperature: planner.Temperature,
		},
		Session: SessionConfig{
			MalformedPolicy: string(analyst.MalformedRetry),
			AbortExpression: analyst.DefaultAbortExpression,
		},
		Store: StoreConfig{PreviewRows: 5},
		Cache: CacheConfig{Backend: "sqlite"},
		Log:   LogConfig{Level: "info", Format: "text", File: true},
		Batch: BatchConfig{Workers: 4},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	applyEnv(cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides cfg from the environment. Provider keys only fill an empty api_key.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(dst *string, keys ...string) {
		for _, key := range keys {
			if v, ok := lookup(key); ok && v != "" {
				*dst = v
				return
			}
		}
	}

	set(&cfg.DataDir, "ANALYST_DATA_DIR", "DATA_DIR")
	var provider string
	set(&provider, "ANALYST_PROVIDER")
	if provider != "" {
		cfg.LLM.Provider = llm.ProviderType(provider)
	}
	set(&cfg.LLM.Model, "ANALYST_MODEL")
	set(&cfg.LLM.BaseURL, "ANALYST_BASE_URL")
	set(&cfg.LLM.APIKey, "ANALYST_API_KEY")
	set(&cfg.Log.Level, "ANALYST_LOG_LEVEL")

	if cfg.LLM.APIKey == "" {
		switch cfg.LLM.Provider {
		case llm.ProviderOpenAI:
			set(&cfg.LLM.APIKey, "OPENAI_API_KEY")
		case llm.ProviderAnthropic:
			set(&cfg.LLM.APIKey, "ANTHROPIC_API_KEY")
		case llm.ProviderGenkit, "googleai":
			set(&cfg.LLM.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
		}
	}
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == llm.ProviderOllama {
		set(&cfg.LLM.BaseURL, "OLLAMA_HOST")
	}
}

// Validate normalizes the provider name and checks the bounds.
func (c *Config) Validate() error {
	provider, err := llm.ParseProviderType(string(c.LLM.Provider))
	if err != nil {
		return analyst.NewConfigurationError("invalid llm provider", err)
	}
	c.LLM.Provider = provider

	if c.Planner.MaxSteps <= 0 {
		return analyst.NewConfigurationError("planner.max_steps must be positive", nil)
	}
	if c.Planner.MaxTokens <= 0 {
		return analyst.NewConfigurationError("planner.max_tokens must be positive", nil)
	}
	switch analyst.MalformedPolicy(c.Session.MalformedPolicy) {
	case analyst.MalformedRetry, analyst.MalformedAbort:
	default:
		return analyst.NewConfigurationError(fmt.Sprintf("unknown session.malformed_policy %q", c.Session.MalformedPolicy), nil)
	}
	switch c.Cache.Backend {
	case "sqlite", "file", "memory":
	default:
		return analyst.NewConfigurationError(fmt.Sprintf("unknown cache.backend %q", c.Cache.Backend), nil)
	}
	if len(c.Store.IncludeTables) > 0 && len(c.Store.IgnoreTables) > 0 {
		return analyst.NewConfigurationError("store.include_tables and store.ignore_tables are exclusive", nil)
	}
	if c.Batch.Workers <= 0 {
		c.Batch.Workers = 1
	}
	return nil
}

// FilesDir is the directory of data files to load.
func (c *Config) FilesDir() string {
	if c.Store.FilesDir != "" {
		return c.Store.FilesDir
	}
	return filepath.Join(c.DataDir, "files")
}

// CachePath is the completion store location for the configured backend.
func (c *Config) CachePath() string {
	if c.Cache.Path != "" {
		return c.Cache.Path
	}
	if c.Cache.Backend == "file" {
		return filepath.Join(c.DataDir, "databases", "completions.json")
	}
	return filepath.Join(c.DataDir, "databases", "db.sqlite")
}

// LogPath is where the log file goes when Log.File is set.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "logs", "analyst.log")
}

// AnalystConfig converts the file settings into an analyst.Config.
func (c *Config) AnalystConfig() analyst.Config {
	ac := analyst.DefaultConfig()
	ac.Planner.MaxSteps = c.Planner.MaxSteps
	ac.Planner.MaxTokens = c.Planner.MaxTokens
	ac.Planner.Temperature = c.Planner.Temperature
	ac.Planner.Model = c.LLM.Model
	ac.MalformedPolicy = analyst.MalformedPolicy(c.Session.MalformedPolicy)
	ac.AbortExpression = c.Session.AbortExpression
	return ac
}
