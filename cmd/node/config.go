package main

import (
	"flag"
	"path/filepath"
	"time"

	"FedGuard/internal/config"
)

// Flags holds the command-line overrides.
type Flags struct {
	// ConfigPath is the YAML policy file.
	ConfigPath string

	// DataPath is the directory relative ledger and checkpoint paths resolve against.
	DataPath string

	// HTTPAddress overrides the HTTP API listen address.
	HTTPAddress string

	// LedgerBackend overrides the ledger backend (file or pebble).
	LedgerBackend string

	// LedgerPath overrides the ledger location.
	LedgerPath string

	// CheckpointPath overrides the global model checkpoint location.
	CheckpointPath string

	// LogLevel overrides the logging level.
	LogLevel string

	// SnapshotInterval is how often the served ledger snapshot is rebuilt.
	SnapshotInterval time.Duration

	// Strict refuses to start on a ledger that fails verification.
	Strict bool
}

// parseFlags parses command-line flags into Flags.
func parseFlags(args []string) (*Flags, error) {
	f := &Flags{}

	fs := flag.NewFlagSet("node", flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", "fedguard.yaml", "Policy file path")
	fs.StringVar(&f.DataPath, "data", ".", "Data directory path")
	fs.StringVar(&f.HTTPAddress, "http", "", "HTTP API address (overrides config)")
	fs.StringVar(&f.LedgerBackend, "ledger", "", "Ledger backend: file or pebble (overrides config)")
	fs.StringVar(&f.LedgerPath, "ledger-path", "", "Ledger path (overrides config)")
	fs.StringVar(&f.CheckpointPath, "checkpoint", "", "Checkpoint path (overrides config)")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (overrides config)")
	fs.DurationVar(&f.SnapshotInterval, "snapshot-interval", 0, "Snapshot refresh interval (0 keeps the default)")
	fs.BoolVar(&f.Strict, "strict", false, "Refuse to start when the ledger fails verification")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	return f, nil
}

// loadConfig loads the policy file and applies the flag overrides.
func loadConfig(f *Flags) (*config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}

	if f.HTTPAddress != "" {
		cfg.HTTP.Addr = f.HTTPAddress
	}
	if f.LedgerBackend != "" {
		cfg.Ledger.Backend = f.LedgerBackend
	}
	if f.LedgerPath != "" {
		cfg.Ledger.Path = f.LedgerPath
	}
	if f.CheckpointPath != "" {
		cfg.Checkpoint.Path = f.CheckpointPath
	}
	if f.LogLevel != "" {
		cfg.Logging.Level = f.LogLevel
	}

	cfg.Ledger.Path = resolvePath(f.DataPath, cfg.Ledger.Path)
	cfg.Checkpoint.Path = resolvePath(f.DataPath, cfg.Checkpoint.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// resolvePath joins relative paths onto the data directory.
func resolvePath(dataPath, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dataPath, path)
}
