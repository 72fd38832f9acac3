// Package config loads rattler's configuration from defaults, an
// optional config.yaml, and RATTLER_*-prefixed environment variables, in
// that precedence order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable the solver, gateway, and package cache need.
type Config struct {
	Channels        []string    `mapstructure:"channels"`
	Platforms       []string    `mapstructure:"platforms"`
	CacheDir        string      `mapstructure:"cache_dir"`
	Strategy        string      `mapstructure:"strategy"`         // "highest" | "lowest" | "lowest-direct"
	ChannelPriority string      `mapstructure:"channel_priority"` // "strict" | "disabled"
	ExcludeNewer    *time.Time  `mapstructure:"-"`
	ExcludeNewerRaw string      `mapstructure:"exclude_newer"` // RFC3339, parsed into ExcludeNewer
	Concurrency     int         `mapstructure:"concurrency"`
	Log             LogConfig   `mapstructure:"log"`
	Gateway         GatewayConfig `mapstructure:"gateway"`
}

// LogConfig controls internal/logger's output.
type LogConfig struct {
	Format string `mapstructure:"format"` // "json" or "text"
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
}

// GatewayConfig controls the repodata gateway's HTTP and JLAP behavior.
type GatewayConfig struct {
	UseJLAP      bool `mapstructure:"use_jlap"`
	MaxRetries   int  `mapstructure:"max_retries"`
	TimeoutSecs  int  `mapstructure:"timeout_secs"`
}

// Load reads configuration from config.yaml (if present) and
// RATTLER_*-prefixed environment variables, falling back to defaults for
// a single-user local solve/install session.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("channels", []string{"conda-forge"})
	v.SetDefault("platforms", []string{"noarch"})
	v.SetDefault("cache_dir", "~/.cache/rattler/pkgs")
	v.SetDefault("strategy", "highest")
	v.SetDefault("channel_priority", "strict")
	v.SetDefault("exclude_newer", "")
	v.SetDefault("concurrency", 16)
	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")
	v.SetDefault("gateway.use_jlap", true)
	v.SetDefault("gateway.max_retries", 5)
	v.SetDefault("gateway.timeout_secs", 60)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/rattler/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found, using defaults.
	}

	v.SetEnvPrefix("RATTLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.ExcludeNewerRaw != "" {
		t, err := time.Parse(time.RFC3339, cfg.ExcludeNewerRaw)
		if err != nil {
			return nil, fmt.Errorf("parsing exclude_newer %q: %w", cfg.ExcludeNewerRaw, err)
		}
		cfg.ExcludeNewer = &t
	}

	return &cfg, nil
}
