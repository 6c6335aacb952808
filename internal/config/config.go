// Package config loads service configuration from a JSON config file,
// with CONVOANCHOR_* environment variables overriding file values.
package config

import (
	"fmt"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Source    SourceConfig
	Scheduler SchedulerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken protects the control API. When empty a token is
	// generated and persisted under the data dir on first start.
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type SourceConfig struct {
	BaseURL     string
	APIKey      string
	DefaultUser string
}

type SchedulerConfig struct {
	FetchIntervalHours       int
	MaxConversationsPerFetch int
	AutoStart                bool
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Source: SourceConfig{
			BaseURL:     "https://apis.getbuddi.ai/v1/dev",
			DefaultUser: "default_user",
		},
		Scheduler: SchedulerConfig{
			FetchIntervalHours:       2,
			MaxConversationsPerFetch: 50,
			AutoStart:                true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/convoanchor/config.json. Environment variables
// (CONVOANCHOR_*) override file values. Secrets are read from the
// environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if h := c.Scheduler.FetchIntervalHours; h < 1 || h > 24 {
		return fmt.Errorf("scheduler fetch interval must be between 1 and 24 hours, got %d", h)
	}
	if n := c.Scheduler.MaxConversationsPerFetch; n < 1 || n > 1000 {
		return fmt.Errorf("scheduler batch size must be between 1 and 1000, got %d", n)
	}
	return nil
}
