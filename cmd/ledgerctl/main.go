// Command ledgerctl inspects a FedGuard node's ledger, checkpoint and
// training data offline.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"FedGuard/internal/config"
	"FedGuard/internal/ledger"
	"FedGuard/internal/logger"
	"FedGuard/internal/storage"
)

// errViolations is returned by verify when the ledger fails its checks.
var errViolations = errors.New("ledger failed verification")

// exitViolations is the exit code for a ledger that fails verification.
const exitViolations = 2

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	backend    string
	ledgerPath string
	logLevel   string
}

func main() {
	err := newRootCmd().Execute()
	switch {
	case err == nil:
	case errors.Is(err, errViolations):
		os.Exit(exitViolations)
	default:
		os.Exit(1)
	}
}

// newRootCmd builds the command tree.
func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:          "ledgerctl",
		Short:        "Inspect FedGuard ledgers, checkpoints and training data",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logger.ParseLevel(opts.logLevel)
			if err != nil {
				return err
			}
			logger.Init(level)
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "fedguard.yaml", "Policy file path")
	pf.StringVar(&opts.backend, "backend", "", "Ledger backend: file or pebble (overrides config)")
	pf.StringVar(&opts.ledgerPath, "ledger", "", "Ledger path (overrides config)")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "Log level")

	root.AddCommand(
		newShowCmd(opts),
		newTipCmd(opts),
		newVerifyCmd(opts),
		newDigestCmd(opts),
		newFilterCmd(opts),
		newVerifyAuditCmd(),
		newSnapshotCmd(opts),
		newInspectSnapshotCmd(),
		newInitConfigCmd(),
	)

	return root
}

// loadConfig loads the policy file and applies the ledger flag overrides.
func (o *options) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	if o.backend != "" {
		cfg.Ledger.Backend = o.backend
	}
	if o.ledgerPath != "" {
		cfg.Ledger.Path = o.ledgerPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// openLedger opens the configured ledger read-only. The returned close
// function releases the pebble database when one was opened.
func (o *options) openLedger() (*ledger.Ledger, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}

	var (
		store   ledger.Store
		closeFn = func() {}
	)

	switch cfg.Ledger.Backend {
	case config.BackendPebble:
		db, err := storage.New(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open pebble ledger %s:\n%w", cfg.Ledger.Path, err)
		}
		store = ledger.NewPebbleStore(db)
		closeFn = func() { db.Close() }
	default:
		store = ledger.NewFileStore(cfg.Ledger.Path)
	}

	l, err := ledger.Open(store, ledger.ReadOnly())
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	return l, closeFn, nil
}
