// Copyright 2026 The scraperfleet Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads supervisor configuration and per-source baselines.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the runtime configuration for the fleet supervisor.
type Config struct {
	// StorePath is the SQLite database file holding scrape runs and raw events.
	StorePath string `yaml:"store_path"`

	// ScrapersDir is the directory containing the job definition files.
	ScrapersDir string `yaml:"scrapers_dir"`

	// StagingDir is where generated exploration probes are written before execution.
	StagingDir string `yaml:"staging_dir"`

	// OutputDir receives diagnostic reports, exploration results, and fleet reports.
	OutputDir string `yaml:"output_dir"`

	// ScreenshotsDir is where job runs and exploration probes drop screenshots.
	ScreenshotsDir string `yaml:"screenshots_dir"`

	// BaselinesPath is the YAML document describing per-source expectations.
	BaselinesPath string `yaml:"baselines_path"`

	// Runtime is the binary used to execute job definitions (default: node).
	Runtime string `yaml:"runtime"`

	// MaxRetries is the healing budget per source. A healing episode never
	// launches the job more than this many times.
	MaxRetries int `yaml:"max_retries"`

	// RunTimeout bounds a single job execution.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// RetryDelay is the pause between healing attempts.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// ProbeTimeout bounds a single exploration probe execution.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// Telemetry configures the remote browser session inspection endpoint.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Vision configures the screenshot analysis model endpoint.
	Vision VisionConfig `yaml:"vision"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// TelemetryConfig configures the remote session telemetry client.
type TelemetryConfig struct {
	// Endpoint is the base URL of the session inspection API.
	Endpoint string `yaml:"endpoint"`

	// APIKey authenticates against the endpoint. Usually supplied via the
	// SESSION_API_KEY environment variable rather than the config file.
	APIKey string `yaml:"api_key"`

	// Timeout bounds a single diagnostics fetch.
	Timeout time.Duration `yaml:"timeout"`
}

// VisionConfig configures the vision analysis client used by exploration.
type VisionConfig struct {
	// Endpoint is the base URL of an OpenAI-compatible chat completions API.
	Endpoint string `yaml:"endpoint"`

	// Model names the vision-capable model to use.
	Model string `yaml:"model"`

	// APIKey authenticates against the endpoint. Usually supplied via the
	// VISION_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// Timeout bounds a single analysis call.
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig configures log destinations.
type LoggingConfig struct {
	// ToFile sends logs to a rotating file under Dir instead of stdout.
	ToFile bool `yaml:"to_file"`

	// Dir is the log directory used when ToFile is set.
	Dir string `yaml:"dir"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		StorePath:      "data/events.db",
		ScrapersDir:    "src/scrapers",
		StagingDir:     "src/scrapers-staging",
		OutputDir:      "data/output",
		ScreenshotsDir: "screenshots",
		BaselinesPath:  "src/config/venue_baselines.yaml",
		Runtime:        "node",
		MaxRetries:     3,
		RunTimeout:     10 * time.Minute,
		RetryDelay:     5 * time.Second,
		ProbeTimeout:   3 * time.Minute,
		Telemetry: TelemetryConfig{
			Timeout: 30 * time.Second,
		},
		Vision: VisionConfig{
			Model:   "gpt-4o",
			Timeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Dir: "logs",
		},
	}
}

// fileConfig mirrors Config for YAML decoding, with durations as strings
// ("10m", "30s") so the file format stays human-editable.
type fileConfig struct {
	StorePath      string `yaml:"store_path"`
	ScrapersDir    string `yaml:"scrapers_dir"`
	StagingDir     string `yaml:"staging_dir"`
	OutputDir      string `yaml:"output_dir"`
	ScreenshotsDir string `yaml:"screenshots_dir"`
	BaselinesPath  string `yaml:"baselines_path"`
	Runtime        string `yaml:"runtime"`
	MaxRetries     int    `yaml:"max_retries"`
	RunTimeout     string `yaml:"run_timeout"`
	RetryDelay     string `yaml:"retry_delay"`
	ProbeTimeout   string `yaml:"probe_timeout"`
	Telemetry      struct {
		Endpoint string `yaml:"endpoint"`
		APIKey   string `yaml:"api_key"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"telemetry"`
	Vision struct {
		Endpoint string `yaml:"endpoint"`
		Model    string `yaml:"model"`
		APIKey   string `yaml:"api_key"`
		Timeout  string `yaml:"timeout"`
	} `yaml:"vision"`
	Logging struct {
		ToFile bool   `yaml:"to_file"`
		Dir    string `yaml:"dir"`
	} `yaml:"logging"`
}

// Load reads configuration from the given YAML file, applying defaults for
// missing fields and environment overrides for secrets. A missing config
// file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	// .env is optional; ignore a missing file.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		} else {
			var fc fileConfig
			if err := yaml.Unmarshal(data, &fc); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			if err := cfg.applyFile(&fc); err != nil {
				return nil, fmt.Errorf("invalid config file %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 10 * time.Minute
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}

	return cfg, nil
}

// applyFile overlays the decoded config file onto defaults.
func (c *Config) applyFile(fc *fileConfig) error {
	setStr := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setDur := func(dst *time.Duration, v string) error {
		if v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("bad duration %q: %w", v, err)
		}
		*dst = d
		return nil
	}

	setStr(&c.StorePath, fc.StorePath)
	setStr(&c.ScrapersDir, fc.ScrapersDir)
	setStr(&c.StagingDir, fc.StagingDir)
	setStr(&c.OutputDir, fc.OutputDir)
	setStr(&c.ScreenshotsDir, fc.ScreenshotsDir)
	setStr(&c.BaselinesPath, fc.BaselinesPath)
	setStr(&c.Runtime, fc.Runtime)
	if fc.MaxRetries > 0 {
		c.MaxRetries = fc.MaxRetries
	}
	if err := setDur(&c.RunTimeout, fc.RunTimeout); err != nil {
		return err
	}
	if err := setDur(&c.RetryDelay, fc.RetryDelay); err != nil {
		return err
	}
	if err := setDur(&c.ProbeTimeout, fc.ProbeTimeout); err != nil {
		return err
	}

	setStr(&c.Telemetry.Endpoint, fc.Telemetry.Endpoint)
	setStr(&c.Telemetry.APIKey, fc.Telemetry.APIKey)
	if err := setDur(&c.Telemetry.Timeout, fc.Telemetry.Timeout); err != nil {
		return err
	}

	setStr(&c.Vision.Endpoint, fc.Vision.Endpoint)
	setStr(&c.Vision.Model, fc.Vision.Model)
	setStr(&c.Vision.APIKey, fc.Vision.APIKey)
	if err := setDur(&c.Vision.Timeout, fc.Vision.Timeout); err != nil {
		return err
	}

	c.Logging.ToFile = c.Logging.ToFile || fc.Logging.ToFile
	setStr(&c.Logging.Dir, fc.Logging.Dir)

	return nil
}

// applyEnv overlays secrets and endpoints from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("SESSION_API_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
	}
	if v := os.Getenv("SESSION_API_KEY"); v != "" {
		c.Telemetry.APIKey = v
	}
	if v := os.Getenv("VISION_API_ENDPOINT"); v != "" {
		c.Vision.Endpoint = v
	}
	if v := os.Getenv("VISION_API_KEY"); v != "" {
		c.Vision.APIKey = v
	}
	if v := os.Getenv("VISION_MODEL"); v != "" {
		c.Vision.Model = v
	}
	if v := os.Getenv("SCRAPER_RUNTIME"); v != "" {
		c.Runtime = v
	}
}
