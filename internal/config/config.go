// Package config provides application configuration with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (LITTLETONE_* prefix)
//  2. Config file (./config.yaml)
//  3. Default values
//
// Validation is fail-fast with sentinel errors for errors.Is() checks.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature value is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxTokens indicates the max output tokens value is out of range.
	ErrInvalidMaxTokens = errors.New("invalid max output tokens")

	// ErrInvalidCooldown indicates the rate-limit cooldown is out of range.
	ErrInvalidCooldown = errors.New("invalid rate limit cooldown")

	// ErrInvalidHistoryWindow indicates the history window size is out of range.
	ErrInvalidHistoryWindow = errors.New("invalid history window")

	// ErrInvalidStoreDriver indicates an unknown session/rate-limit store driver.
	ErrInvalidStoreDriver = errors.New("invalid store driver")

	// ErrMissingRedisAddr indicates the redis driver was selected without an address.
	ErrMissingRedisAddr = errors.New("missing redis address")
)

// Store driver identifiers used in Config.StoreDriver.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config stores application configuration.
type Config struct {
	// HTTP server
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy"` // trust X-Forwarded-For (set true behind reverse proxy)

	// Model configuration. Decoding parameters are fixed per request so the
	// normalizer's behavior is reproducible.
	ModelName       string  `mapstructure:"model_name"`
	Temperature     float32 `mapstructure:"temperature"`
	PresencePenalty float32 `mapstructure:"presence_penalty"`
	MaxOutputTokens int     `mapstructure:"max_output_tokens"`

	// Pipeline configuration
	CooldownSeconds int    `mapstructure:"cooldown_seconds"` // min seconds between admitted requests per client
	HistoryWindow   int    `mapstructure:"history_window"`   // turns passed to the model
	DictionaryPath  string `mapstructure:"dictionary_path"`
	ScenarioPath    string `mapstructure:"scenario_path"`

	// Store configuration ("memory" or "redis")
	StoreDriver     string `mapstructure:"store_driver"`
	RedisAddr       string `mapstructure:"redis_addr"`
	RedisTTLMinutes int    `mapstructure:"redis_ttl_minutes"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Cooldown returns the rate-limit cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// RedisTTL returns the TTL applied to Redis-backed session and rate-limit keys.
func (c *Config) RedisTTL() time.Duration {
	return time.Duration(c.RedisTTLMinutes) * time.Minute
}

// Load loads configuration.
// Priority: environment variables > config file > defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	setDefaults(v)

	v.SetEnvPrefix("LITTLETONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("trust_proxy", false)

	v.SetDefault("model_name", "googleai/gemini-2.5-flash")
	v.SetDefault("temperature", 0.3)
	v.SetDefault("presence_penalty", 0.6)
	v.SetDefault("max_output_tokens", 800)

	v.SetDefault("cooldown_seconds", 5)
	v.SetDefault("history_window", 10)
	v.SetDefault("dictionary_path", "data/localization_dictionary.json")
	v.SetDefault("scenario_path", "data/emotion_scenarios.json")

	v.SetDefault("store_driver", StoreMemory)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_ttl_minutes", 24*60)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// Validate checks configuration ranges. Fail-fast at startup.
func (c *Config) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("%w: model name cannot be empty", ErrInvalidModelName)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %v (must be 0-2)", ErrInvalidTemperature, c.Temperature)
	}
	if c.MaxOutputTokens <= 0 || c.MaxOutputTokens > 65536 {
		return fmt.Errorf("%w: %d (must be 1-65536)", ErrInvalidMaxTokens, c.MaxOutputTokens)
	}
	if c.CooldownSeconds < 0 || c.CooldownSeconds > 3600 {
		return fmt.Errorf("%w: %d (must be 0-3600 seconds)", ErrInvalidCooldown, c.CooldownSeconds)
	}
	if c.HistoryWindow <= 0 || c.HistoryWindow > 100 {
		return fmt.Errorf("%w: %d (must be 1-100)", ErrInvalidHistoryWindow, c.HistoryWindow)
	}

	switch c.StoreDriver {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: store_driver is redis", ErrMissingRedisAddr)
		}
	default:
		return fmt.Errorf("%w: %q (must be %q or %q)", ErrInvalidStoreDriver, c.StoreDriver, StoreMemory, StoreRedis)
	}

	return nil
}
