package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/lapboard/internal/scheduler"
	"github.com/ChuLiYu/lapboard/internal/speedhive"
	"github.com/ChuLiYu/lapboard/pkg/types"
)

// Config represents the complete configuration file
// Maps config file fields through YAML tags
type Config struct {
	Timing struct {
		BaseURL        string        `yaml:"base_url"`
		Origin         string        `yaml:"origin"`
		Referer        string        `yaml:"referer"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		Concurrency    int           `yaml:"concurrency"`
	} `yaml:"timing"`

	Session types.Input `yaml:"session"`

	Refresh struct {
		Interval     time.Duration `yaml:"interval"`
		CycleTimeout time.Duration `yaml:"cycle_timeout"`
	} `yaml:"refresh"`

	Server struct {
		Enabled  bool `yaml:"enabled"`
		Port     int  `yaml:"port"`
		GRPCPort int  `yaml:"grpc_port"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// DefaultConfig is used for every key the file leaves out.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Timing.BaseURL = speedhive.DefaultBaseURL
	cfg.Timing.Origin = speedhive.DefaultOrigin
	cfg.Timing.Referer = speedhive.DefaultReferer
	cfg.Timing.RequestTimeout = speedhive.DefaultTimeout
	cfg.Timing.Concurrency = speedhive.DefaultConcurrency
	cfg.Session = types.Input{Laps: "5", Method: string(types.MethodBest)}
	cfg.Refresh.Interval = scheduler.DefaultInterval
	cfg.Refresh.CycleTimeout = scheduler.DefaultCycleTimeout
	cfg.Server.Port = 8080
	cfg.Metrics.Port = 9090
	cfg.Log.Level = "info"
	return cfg
}

// loadConfig reads path over the defaults. A missing file yields the defaults.
func loadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if cfg.Refresh.Interval <= 0 {
		return nil, fmt.Errorf("refresh.interval must be positive, got %s", cfg.Refresh.Interval)
	}
	if cfg.Timing.Concurrency < 1 {
		return nil, fmt.Errorf("timing.concurrency must be at least 1, got %d", cfg.Timing.Concurrency)
	}
	return cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func (c *Config) clientConfig(logger *slog.Logger) speedhive.Config {
	return speedhive.Config{
		BaseURL:     c.Timing.BaseURL,
		Origin:      c.Timing.Origin,
		Referer:     c.Timing.Referer,
		Timeout:     c.Timing.RequestTimeout,
		Concurrency: c.Timing.Concurrency,
		Logger:      logger,
	}
}
