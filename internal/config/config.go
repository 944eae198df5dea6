package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all caremate configuration. Defaults come from Default();
// Load layers .env and CAREMATE_* environment variables on top.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	LLM       LLMConfig
	Auth      AuthConfig
	Memory    MemoryConfig
	Scheduler SchedulerConfig
	Notify    NotifyConfig
}

type ServerConfig struct {
	Bind string `env:"CAREMATE_BIND"`
	Port int    `env:"CAREMATE_PORT"`
}

type DatabaseConfig struct {
	Path string `env:"CAREMATE_DB_PATH"`
}

type LLMConfig struct {
	Provider     string `env:"CAREMATE_LLM_PROVIDER"` // "anthropic", "ollama", "none"
	Model        string `env:"CAREMATE_LLM_MODEL"`
	OllamaURL    string `env:"CAREMATE_OLLAMA_URL"`
	AnthropicKey string `env:"ANTHROPIC_API_KEY"`
}

type AuthConfig struct {
	TokenTTLDays int `env:"CAREMATE_TOKEN_TTL_DAYS"`
	TokenBytes   int `env:"CAREMATE_TOKEN_BYTES"`
}

type MemoryConfig struct {
	RefreshHours   int `env:"CAREMATE_MEMORY_REFRESH_HOURS"`
	MaxMessages    int `env:"CAREMATE_MEMORY_MAX_MESSAGES"`
	WindowDays     int `env:"CAREMATE_SESSION_HISTORY_DAYS"` // trailing activity window
	SummaryDays    int `env:"CAREMATE_SUMMARY_WINDOW_DAYS"`
	MaxContentLen  int `env:"CAREMATE_MAX_CONTENT_LEN"`
	HistoryPerChat int `env:"CAREMATE_CHAT_HISTORY_MESSAGES"`
}

type SchedulerConfig struct {
	Enabled bool `env:"CAREMATE_SCHEDULER_ENABLED"`
}

type NotifyConfig struct {
	WebhookURL string `env:"CAREMATE_NOTIFY_WEBHOOK"` // empty means log-only
}

// Default returns a Config with the stock CareMate settings.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 8000,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		LLM: LLMConfig{
			Provider:  "ollama",
			OllamaURL: "http://localhost:11434",
			Model:     "",
		},
		Auth: AuthConfig{
			TokenTTLDays: 30,
			TokenBytes:   32,
		},
		Memory: MemoryConfig{
			RefreshHours:   6,
			MaxMessages:    200,
			WindowDays:     30,
			SummaryDays:    7,
			MaxContentLen:  10000,
			HistoryPerChat: 20,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
		Notify: NotifyConfig{},
	}
}

// Load returns the default config with .env and environment overrides
// applied. A missing .env file is not an error.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
