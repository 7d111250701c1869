// Package config loads relay and client settings from defaults, an
// optional YAML file, and environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "1.5s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// SessionConfig holds the transport-session timing knobs.
type SessionConfig struct {
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	AckTimeout        Duration `yaml:"ack_timeout"`
	BackoffBase       Duration `yaml:"backoff_base"`
	BackoffGrowth     float64  `yaml:"backoff_growth"`
	MaxAttempts       int      `yaml:"max_attempts"`
	TypingIdle        Duration `yaml:"typing_idle"`
}

// Config is the full settings tree.
type Config struct {
	// Addr is the relay listen address.
	Addr string `yaml:"addr"`

	// RedisURL selects the Redis pub/sub backbone when set; empty keeps
	// the in-process backbone.
	RedisURL string `yaml:"redis_url"`

	LogLevel string `yaml:"log_level"`

	Session SessionConfig `yaml:"session"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Addr:     ":8080",
		LogLevel: "info",
		Session: SessionConfig{
			HeartbeatInterval: Duration(30 * time.Second),
			BackoffBase:       Duration(time.Second),
			BackoffGrowth:     2,
			MaxAttempts:       5,
			TypingIdle:        Duration(1500 * time.Millisecond),
		},
	}
}

// Load builds the configuration. A missing .env file is not an error; a
// missing config file is an error only when a path was given explicitly.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if v := os.Getenv("FANSPHERE_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("FANSPHERE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}
