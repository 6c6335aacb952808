package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "CONVOANCHOR_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "CONVOANCHOR_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "CONVOANCHOR_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "source.base_url", typ: kString, env: "CONVOANCHOR_SOURCE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Source.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.BaseURL },
	},
	{
		key: "source.api_key", typ: kString, env: "CONVOANCHOR_SOURCE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Source.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.APIKey },
	},
	{
		key: "source.default_user", typ: kString, env: "CONVOANCHOR_SOURCE_DEFAULT_USER",
		apply:   func(cfg *Config, v any) { cfg.Source.DefaultUser = v.(string) },
		extract: func(cfg Config) any { return cfg.Source.DefaultUser },
	},
	{
		key: "scheduler.fetch_interval_hours", typ: kInt, env: "CONVOANCHOR_SCHEDULER_FETCH_INTERVAL_HOURS",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.FetchIntervalHours = v.(int) },
		extract: func(cfg Config) any { return cfg.Scheduler.FetchIntervalHours },
	},
	{
		key: "scheduler.max_conversations_per_fetch", typ: kInt, env: "CONVOANCHOR_SCHEDULER_MAX_PER_FETCH",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.MaxConversationsPerFetch = v.(int) },
		extract: func(cfg Config) any { return cfg.Scheduler.MaxConversationsPerFetch },
	},
	{
		key: "scheduler.auto_start", typ: kBool, env: "CONVOANCHOR_SCHEDULER_AUTO_START",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.AutoStart = v.(bool) },
		extract: func(cfg Config) any { return cfg.Scheduler.AutoStart },
	},
	{
		key: "log.level", typ: kString, env: "CONVOANCHOR_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
