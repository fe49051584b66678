package config

import (
	"fmt"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Model    ModelConfig
	Search   SearchConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port      int
	AuthToken string
}

type ModelConfig struct {
	BaseURL string
	APIKey  string
	Name    string
}

type SearchConfig struct {
	BaseURL    string
	APIKey     string
	MaxResults int
}

type StorageConfig struct {
	DataDir            string
	CacheRetentionDays int
}

type PipelineConfig struct {
	MaxToolRounds int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		Model: ModelConfig{
			BaseURL: "https://openrouter.ai/api/v1",
			Name:    "openai/gpt-4o-mini",
		},
		Search: SearchConfig{
			BaseURL:    "https://api.tavily.com",
			MaxResults: 5,
		},
		Storage: StorageConfig{
			DataDir:            defaultDataDir(),
			CacheRetentionDays: 30,
		},
		Pipeline: PipelineConfig{
			MaxToolRounds: 5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration in precedence order: defaults, then the JSON file
// at $XDG_CONFIG_HOME/scribe/config.json, then a .env file in the working
// directory, then SCRIBE_* environment variables. The model API key is
// required.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	// A .env file only fills variables not already set in the environment.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if cfg.Model.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: model API key. Set it via environment variable SCRIBE_MODEL_API_KEY")
	}

	return cfg, nil
}
