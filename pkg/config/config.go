// Package config loads process settings for the srack command from an
// optional YAML file and SRACK_ environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	// DefaultFile is read when no file is named. It may be absent.
	DefaultFile = "srack.yaml"

	// EnvPrefix prefixes environment overrides. A double underscore separates
	// levels: SRACK_SERVER__ADDR sets server.addr.
	EnvPrefix = "SRACK_"
)

// Config is the full set of srack settings.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Script  ScriptConfig  `koanf:"script"`
	Builder BuilderConfig `koanf:"builder"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Name              string        `koanf:"name"`
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

// ScriptConfig locates the configuration script and controls reloading.
type ScriptConfig struct {
	Path     string        `koanf:"path"`
	Watch    bool          `koanf:"watch"`
	Debounce time.Duration `koanf:"debounce"`
	Timeout  time.Duration `koanf:"timeout"` // Bounds one evaluation
}

// BuilderConfig holds options passed to every pipeline builder.
type BuilderConfig struct {
	// DistinctPostHooks sends run_after hooks to the post-hook list instead of
	// appending them to the pre-hooks.
	DistinctPostHooks bool `koanf:"distinct_post_hooks"`
}

// LogConfig selects the zap logger.
type LogConfig struct {
	Level       string `koanf:"level"`
	Development bool   `koanf:"development"`
}

// MetricsConfig controls the Prometheus registry and collectors.
type MetricsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Namespace string `koanf:"namespace"`
}

// Default returns the settings used for keys no source sets.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Name:              "srack",
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Script: ScriptConfig{
			Path:     "config.lua",
			Debounce: 250 * time.Millisecond,
			Timeout:  5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "srack",
		},
	}
}

// Load reads path, then the environment, over Default. An empty path means
// DefaultFile, which is skipped if it does not exist; a named file must exist.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	optional := path == ""
	if optional {
		path = DefaultFile
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !optional || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var err error
	if c.Server.Addr == "" {
		err = multierr.Append(err, errors.New("config: server.addr is empty"))
	}
	if c.Server.ShutdownTimeout < 0 {
		err = multierr.Append(err, errors.New("config: server.shutdown_timeout is negative"))
	}
	if c.Script.Path == "" {
		err = multierr.Append(err, errors.New("config: script.path is empty"))
	}
	if c.Script.Debounce < 0 {
		err = multierr.Append(err, errors.New("config: script.debounce is negative"))
	}
	if c.Script.Timeout < 0 {
		err = multierr.Append(err, errors.New("config: script.timeout is negative"))
	}
	if _, lerr := zapcore.ParseLevel(c.Log.Level); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("config: log.level: %w", lerr))
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		err = multierr.Append(err, errors.New("config: metrics.namespace is empty"))
	}
	return err
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
