// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Loanguard Contributors

// Package config loads service configuration from a YAML file with
// command-line flag overrides.
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/loanguard/loanguard/internal/authz/rule"
)

// Config is the full service configuration.
type Config struct {
	Database      DatabaseConfig      `koanf:"database"`
	Cache         CacheConfig         `koanf:"cache"`
	Aggregation   AggregationConfig   `koanf:"aggregation"`
	Observability ObservabilityConfig `koanf:"observability"`
	Log           LogConfig           `koanf:"log"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// CacheConfig holds resolver cache settings.
type CacheConfig struct {
	TTL time.Duration `koanf:"ttl"`
}

// AggregationConfig selects the cross-role conflict strategy.
type AggregationConfig struct {
	Strategy string `koanf:"strategy"`
}

// ObservabilityConfig holds the metrics/health listener settings.
type ObservabilityConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Cache:         CacheConfig{TTL: 5 * time.Minute},
		Aggregation:   AggregationConfig{Strategy: "take_maximum"},
		Observability: ObservabilityConfig{Addr: "127.0.0.1:9100"},
		Log:           LogConfig{Format: "json", Level: "info"},
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and flag overrides, in that precedence order. A missing file at the
// default path is ignored; an explicitly named missing file is an
// error. flags may be nil.
func Load(path string, explicit bool, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if explicit || !os.IsNotExist(err) {
				return nil, oops.Code("CONFIG_INVALID").With("path", path).
					Wrapf(err, "loading config file")
			}
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "loading flags")
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrapf(err, "unmarshaling config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if _, err := rule.ParseStrategy(c.Aggregation.Strategy); err != nil {
		return err
	}
	if c.Cache.TTL <= 0 {
		return oops.Code("CONFIG_INVALID").
			With("ttl", c.Cache.TTL.String()).
			Errorf("cache ttl must be positive")
	}
	return nil
}

// Strategy returns the parsed aggregation strategy. Call after
// Validate.
func (c *Config) Strategy() rule.Strategy {
	s, err := rule.ParseStrategy(c.Aggregation.Strategy)
	if err != nil {
		return rule.TakeMaximum
	}
	return s
}
