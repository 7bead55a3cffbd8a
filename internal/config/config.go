// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Results   ResultsConfig   `mapstructure:"results"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	Events    EventsConfig    `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// RedisConfig controls access to the Redis instance backing results and
// rate limiting.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// DatabaseConfig controls access to the relational database. An empty DSN
// disables the database provider entirely.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// ResultsConfig governs harvested-record retention.
type ResultsConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// RateLimitConfig tunes the fixed-window admission limiter.
type RateLimitConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	Ceiling       int  `mapstructure:"ceiling"`
	WindowSeconds int  `mapstructure:"window_seconds"`
}

// RuntimeConfig governs crawl job execution.
type RuntimeConfig struct {
	UserAgent             string `mapstructure:"user_agent"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	DelaySeconds          int    `mapstructure:"delay_seconds"`
	Parallelism           int    `mapstructure:"parallelism"`
	MaxDepthDefault       int    `mapstructure:"max_depth_default"`
	MaxItemsDefault       int    `mapstructure:"max_items_default"`
	StopTimeoutSeconds    int    `mapstructure:"stop_timeout_seconds"`
	BatchSize             int    `mapstructure:"batch_size"`
	BatchFlushMs          int    `mapstructure:"batch_flush_ms"`
}

// EventsConfig selects the terminal-event publisher backend.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SPIDERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 1)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("results.ttl_seconds", 3600)
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.ceiling", 60)
	v.SetDefault("ratelimit.window_seconds", 60)
	v.SetDefault("runtime.user_agent", "spider-orchestrator/0.1")
	v.SetDefault("runtime.request_timeout_seconds", 15)
	v.SetDefault("runtime.delay_seconds", 1)
	v.SetDefault("runtime.parallelism", 2)
	v.SetDefault("runtime.max_depth_default", 2)
	v.SetDefault("runtime.max_items_default", 1000)
	v.SetDefault("runtime.stop_timeout_seconds", 10)
	v.SetDefault("runtime.batch_size", 50)
	v.SetDefault("runtime.batch_flush_ms", 500)
	v.SetDefault("events.provider", "noop")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set")
	}
	if c.Results.TTLSeconds <= 0 {
		return fmt.Errorf("results.ttl_seconds must be > 0")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Ceiling <= 0 {
			return fmt.Errorf("ratelimit.ceiling must be > 0 when rate limiting is enabled")
		}
		if c.RateLimit.WindowSeconds <= 0 {
			return fmt.Errorf("ratelimit.window_seconds must be > 0 when rate limiting is enabled")
		}
	}
	if c.Runtime.Parallelism <= 0 {
		return fmt.Errorf("runtime.parallelism must be > 0")
	}
	if c.Runtime.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("runtime.request_timeout_seconds must be > 0")
	}
	if c.Runtime.StopTimeoutSeconds <= 0 {
		return fmt.Errorf("runtime.stop_timeout_seconds must be > 0")
	}
	if c.Runtime.BatchSize <= 0 {
		return fmt.Errorf("runtime.batch_size must be > 0")
	}
	switch c.Events.Provider {
	case "noop", "memory":
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.TopicID == "" {
			return fmt.Errorf("events.project_id and events.topic_id must be set for the pubsub provider")
		}
	default:
		return fmt.Errorf("events.provider must be one of noop, memory, pubsub")
	}
	return nil
}

// ResultsTTL converts the retention knob into a duration.
func (c Config) ResultsTTL() time.Duration {
	return time.Duration(c.Results.TTLSeconds) * time.Second
}

// RateWindow converts the limiter window knob into a duration.
func (c Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.WindowSeconds) * time.Second
}

// RequestTimeout converts the per-request timeout knob into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Runtime.RequestTimeoutSeconds) * time.Second
}

// StopTimeout bounds how long a stop waits for job teardown.
func (c Config) StopTimeout() time.Duration {
	return time.Duration(c.Runtime.StopTimeoutSeconds) * time.Second
}

// BatchFlushInterval converts the batch flush knob into a duration.
func (c Config) BatchFlushInterval() time.Duration {
	return time.Duration(c.Runtime.BatchFlushMs) * time.Millisecond
}
