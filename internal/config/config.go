// Package config loads the node's policy file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"FedGuard/internal/logger"
	"FedGuard/internal/trust"
)

// Ledger backends.
const (
	BackendFile   = "file"
	BackendPebble = "pebble"
)

// Config holds every named policy value.
type Config struct {
	Ledger     LedgerConfig     `yaml:"ledger"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Trust      TrustConfig      `yaml:"trust"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LedgerConfig locates the hash ledger.
type LedgerConfig struct {
	Backend string `yaml:"backend"` // file or pebble
	Path    string `yaml:"path"`    // JSON document for file, directory for pebble
}

// CheckpointConfig locates the global model checkpoint.
type CheckpointConfig struct {
	Path string `yaml:"path"`
}

// TrustConfig is the data filter policy.
type TrustConfig struct {
	Significance   float64      `yaml:"significance"`
	WeightFloor    float64      `yaml:"weight_floor"`
	WeightCap      float64      `yaml:"weight_cap"`
	WeightScale    float64      `yaml:"weight_scale"`
	Regularization float64      `yaml:"regularization"`
	Rules          []trust.Rule `yaml:"rules"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn or error
}

// Default returns the built-in policy.
func Default() *Config {
	opts := trust.DefaultOptions()

	return &Config{
		Ledger:     LedgerConfig{Backend: BackendFile, Path: "blockchain_ledger.json"},
		Checkpoint: CheckpointConfig{Path: "global_model.fgw"},
		Trust: TrustConfig{
			Significance:   opts.Significance,
			WeightFloor:    opts.Floor,
			WeightCap:      opts.Cap,
			WeightScale:    opts.Scale,
			Regularization: opts.Regularization,
			Rules:          opts.Rules,
		},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load overlays the file at path onto the defaults and validates the result.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("config file not found, using defaults", "path", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config:\n%w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config %s:\n%w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s:\n%w", path, err)
	}

	return cfg, nil
}

// Save writes cfg as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create config dir:\n%w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config:\n%w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config:\n%w", err)
	}

	return nil
}

// Validate checks the policy values.
func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case BackendFile, BackendPebble:
	default:
		return fmt.Errorf("ledger backend %q, want %s or %s", c.Ledger.Backend, BackendFile, BackendPebble)
	}
	if c.Ledger.Path == "" {
		return errors.New("ledger path is empty")
	}

	t := c.Trust
	if !(t.Significance > 0 && t.Significance < 1) {
		return fmt.Errorf("significance %v outside (0, 1)", t.Significance)
	}
	if !(t.WeightFloor > 0 && t.WeightFloor <= t.WeightCap) {
		return fmt.Errorf("weight bounds [%v, %v] invalid", t.WeightFloor, t.WeightCap)
	}
	if !(t.WeightScale > 0) {
		return fmt.Errorf("weight scale %v must be positive", t.WeightScale)
	}
	if t.Regularization < 0 {
		return fmt.Errorf("regularization %v is negative", t.Regularization)
	}

	seen := make(map[string]bool, len(t.Rules))
	for _, r := range t.Rules {
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.Field] {
			return fmt.Errorf("duplicate rule for %s", r.Field)
		}
		seen[r.Field] = true
	}

	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// TrustOptions converts the trust policy for the filter.
func (c *Config) TrustOptions() trust.Options {
	return trust.Options{
		Significance:   c.Trust.Significance,
		Floor:          c.Trust.WeightFloor,
		Cap:            c.Trust.WeightCap,
		Scale:          c.Trust.WeightScale,
		Regularization: c.Trust.Regularization,
		Rules:          c.Trust.Rules,
	}
}
