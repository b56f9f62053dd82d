// Package config loads the EVOSEAL environment/configuration options
// recognized across every component, from a YAML file plus functional
// overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RemoteConfig mirrors one adapter's {baseUrl, authToken?, requestTimeout,
// pollInterval} remote block.
type RemoteConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	AuthToken      string        `yaml:"authToken"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	PollInterval   time.Duration `yaml:"pollInterval"`
}

// UnmarshalYAML decodes the duration fields from their human-readable
// form ("30s", "5m"), which yaml.v3 does not handle for time.Duration
// on its own.
func (rc *RemoteConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		BaseURL        string `yaml:"baseUrl"`
		AuthToken      string `yaml:"authToken"`
		RequestTimeout string `yaml:"requestTimeout"`
		PollInterval   string `yaml:"pollInterval"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	rc.BaseURL = raw.BaseURL
	rc.AuthToken = raw.AuthToken
	if raw.RequestTimeout != "" {
		d, err := time.ParseDuration(raw.RequestTimeout)
		if err != nil {
			return fmt.Errorf("requestTimeout: %w", err)
		}
		rc.RequestTimeout = d
	}
	if raw.PollInterval != "" {
		d, err := time.ParseDuration(raw.PollInterval)
		if err != nil {
			return fmt.Errorf("pollInterval: %w", err)
		}
		rc.PollInterval = d
	}
	return nil
}

// MetricThreshold mirrors one metric's {regression, critical} pair.
type MetricThreshold struct {
	Regression float64 `yaml:"regression"`
	Critical   float64 `yaml:"critical"`
}

// Config is the full recognized configuration surface.
type Config struct {
	CheckpointDirectory string `yaml:"checkpointDirectory"`
	MaxCheckpoints      int    `yaml:"maxCheckpoints"`
	AutoCleanup         bool   `yaml:"autoCleanup"`
	Compression         string `yaml:"compression"`

	RegressionThreshold float64                    `yaml:"regressionThreshold"`
	MetricThresholds    map[string]MetricThreshold `yaml:"metricThresholds"`

	AutoCheckpoint      bool `yaml:"autoCheckpoint"`
	AutoRollback        bool `yaml:"autoRollback"`
	SafetyChecksEnabled bool `yaml:"safetyChecksEnabled"`

	MaxRollbackAttempts           int  `yaml:"maxRollbackAttempts"`
	EnableCascadingRollback       bool `yaml:"enableCascadingRollback"`
	EnableRollbackFailureRecovery bool `yaml:"enableRollbackFailureRecovery"`

	Adapters map[string]RemoteConfig `yaml:"adapters"`
}

// Default returns a Config with every documented default applied.
func Default() Config {
	return Config{
		MaxCheckpoints:                100,
		AutoCleanup:                   true,
		Compression:                   "false",
		RegressionThreshold:           0.05,
		AutoCheckpoint:                true,
		AutoRollback:                  true,
		SafetyChecksEnabled:           true,
		MaxRollbackAttempts:           3,
		EnableCascadingRollback:       false,
		EnableRollbackFailureRecovery: false,
	}
}

// Option mutates a Config after loading, for callers that want to
// override individual fields without hand-writing YAML (e.g. in
// tests).
type Option func(*Config)

// WithCheckpointDirectory overrides the checkpoint root.
func WithCheckpointDirectory(dir string) Option {
	return func(c *Config) { c.CheckpointDirectory = dir }
}

// WithAdapter sets or overrides the remote block for a named adapter
// ("dgm", "openevolve", "seal").
func WithAdapter(name string, rc RemoteConfig) Option {
	return func(c *Config) {
		if c.Adapters == nil {
			c.Adapters = make(map[string]RemoteConfig)
		}
		c.Adapters[name] = rc
	}
}

// Load reads a YAML configuration file at path, applying Default()
// first so any field the file omits keeps its documented default, then
// applies opts.
func Load(path string, opts ...Option) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.CheckpointDirectory == "" {
		return Config{}, fmt.Errorf("config: checkpointDirectory is required")
	}
	return cfg, nil
}
