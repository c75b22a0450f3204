// Package config defines and loads the tabletalk configuration.
package config

import (
	"fmt"
	"time"
)

// Config is the main configuration.
type Config struct {
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	AI       AIConfig       `json:"ai" mapstructure:"ai"`
	Index    IndexConfig    `json:"index" mapstructure:"index"`
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// ServerConfig holds gateway settings.
type ServerConfig struct {
	Port int `json:"port" mapstructure:"port"`
}

// AIConfig holds language-model and embedding settings.
type AIConfig struct {
	Provider       string        `json:"provider" mapstructure:"provider"` // openai, anthropic
	APIKey         string        `json:"api_key" mapstructure:"api_key"`
	Model          string        `json:"model" mapstructure:"model"`
	EmbeddingKey   string        `json:"embedding_key" mapstructure:"embedding_key"` // defaults to api_key
	EmbeddingModel string        `json:"embedding_model" mapstructure:"embedding_model"`
	Temperature    float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens      int           `json:"max_tokens" mapstructure:"max_tokens"`
	MaxToolTurns   int           `json:"max_tool_turns" mapstructure:"max_tool_turns"`
	MaxRetries     int           `json:"max_retries" mapstructure:"max_retries"`
	TurnTimeout    time.Duration `json:"turn_timeout" mapstructure:"turn_timeout"`
}

// IndexConfig bounds the per-session semantic index.
type IndexConfig struct {
	MaxChunks  int `json:"max_chunks" mapstructure:"max_chunks"`
	SampleRows int `json:"sample_rows" mapstructure:"sample_rows"`
	TopK       int `json:"top_k" mapstructure:"top_k"`
}

// SessionsConfig holds session lifecycle policy.
type SessionsConfig struct {
	IdleTTL       time.Duration `json:"idle_ttl" mapstructure:"idle_ttl"`
	SweepSchedule string        `json:"sweep_schedule" mapstructure:"sweep_schedule"`
	WatchDataset  bool          `json:"watch_dataset" mapstructure:"watch_dataset"`
	HistoryWindow int           `json:"history_window" mapstructure:"history_window"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		AI: AIConfig{
			Provider:       "openai",
			Model:          "gpt-4o-mini",
			EmbeddingModel: "text-embedding-3-small",
			Temperature:    0.7,
			MaxTokens:      4096,
			MaxToolTurns:   5,
			MaxRetries:     3,
			TurnTimeout:    60 * time.Second,
		},
		Index: IndexConfig{
			MaxChunks:  40,
			SampleRows: 25,
			TopK:       5,
		},
		Sessions: SessionsConfig{
			IdleTTL:       30 * time.Minute,
			SweepSchedule: "@every 1m",
			WatchDataset:  true,
			HistoryWindow: 10,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.AI.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("ai.provider must be openai or anthropic, got %q", c.AI.Provider)
	}
	if c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required")
	}
	if c.AI.Model == "" {
		return fmt.Errorf("ai.model is required")
	}
	if c.AI.Temperature < 0 || c.AI.Temperature > 1 {
		return fmt.Errorf("ai.temperature must be between 0 and 1")
	}
	if c.AI.MaxToolTurns < 1 {
		return fmt.Errorf("ai.max_tool_turns must be at least 1")
	}
	if c.AI.TurnTimeout <= 0 {
		return fmt.Errorf("ai.turn_timeout must be positive")
	}
	if c.Index.MaxChunks < 1 {
		return fmt.Errorf("index.max_chunks must be at least 1")
	}
	if c.Index.TopK < 1 {
		return fmt.Errorf("index.top_k must be at least 1")
	}
	if c.Sessions.IdleTTL <= 0 {
		return fmt.Errorf("sessions.idle_ttl must be positive")
	}
	return nil
}
