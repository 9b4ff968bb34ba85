// Package config loads reactor configuration from an optional YAML file
// and the process environment (spec.md §6 external interfaces, §4.3
// worker-pool knobs), the way llm-mux's bootstrap layer loads its
// config.yaml plus .env before CLI flags are applied on top.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/fenwicklabs/evcore/internal/constants"
	"github.com/fenwicklabs/evcore/internal/logging"
)

// Config holds the worker-pool knobs, shutdown deadline, and log level
// that the reactor binary reads from a YAML file, then .env, then the
// process environment, in that order of increasing precedence. The
// binary's only CLI flag (--config) selects the file; no flag overrides
// an individual field.
type Config struct {
	MinThreads       int           `yaml:"min_threads"`
	MaxThreads       int           `yaml:"max_threads"`
	IdleDecaySeconds float64       `yaml:"idle_decay_seconds"`
	MaxCleanupDelay  time.Duration `yaml:"-"`
	LogLevel         string        `yaml:"log_level"`
}

// Default returns the spec's documented defaults: min_threads=1,
// max_threads=8, idle_decay_seconds=3.
func Default() *Config {
	return &Config{
		MinThreads:       constants.DefaultMinThreads,
		MaxThreads:       constants.DefaultMaxThreads,
		IdleDecaySeconds: constants.DefaultIdleDecay.Seconds(),
		MaxCleanupDelay:  constants.DefaultMaxCleanupDelay,
		LogLevel:         "info",
	}
}

// IdleDecay returns IdleDecaySeconds as a time.Duration.
func (c *Config) IdleDecay() time.Duration {
	return time.Duration(c.IdleDecaySeconds * float64(time.Second))
}

// Level maps LogLevel's string form to a logging.LogLevel, defaulting to
// LevelInfo for an empty or unrecognized value.
func (c *Config) Level() logging.LogLevel {
	switch c.LogLevel {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// Load builds a Config from defaults, an optional YAML file at path (a
// missing file is not an error), a local .env during development, and
// the MIN_THREADS / MAX_THREADS / IDLE_DECAY_SECONDS / MAX_CLEANUP_DELAY
// / LOG_LEVEL environment variables, each overriding the previous layer.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if unmarshalErr := yaml.Unmarshal(data, cfg); unmarshalErr != nil {
				return nil, unmarshalErr
			}
		case errors.Is(err, os.ErrNotExist):
			// Optional: fall through with defaults.
		default:
			return nil, err
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupInt("MIN_THREADS"); ok {
		cfg.MinThreads = v
	}
	if v, ok := lookupInt("MAX_THREADS"); ok {
		cfg.MaxThreads = v
	}
	if v, ok := lookupFloat("IDLE_DECAY_SECONDS"); ok {
		cfg.IdleDecaySeconds = v
	}
	if v, ok := os.LookupEnv("MAX_CLEANUP_DELAY"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.MaxCleanupDelay = d
		} else if seconds, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.MaxCleanupDelay = time.Duration(seconds * float64(time.Second))
		}
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		cfg.LogLevel = v
	}
}

func lookupInt(name string) (int, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupFloat(name string) (float64, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
