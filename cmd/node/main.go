package main

import (
	"fmt"
	"os"

	"FedGuard/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run(args []string) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return fmt.Errorf("load config:\n%w", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logger.Init(level)

	node, err := NewNode(cfg, flags.SnapshotInterval)
	if err != nil {
		return fmt.Errorf("create node:\n%w", err)
	}

	printStartupInfo(flags, node)

	return node.Run(flags.Strict)
}

// printStartupInfo displays node configuration at startup.
func printStartupInfo(flags *Flags, n *Node) {
	tip, _ := n.ledger.Tip()

	logger.Info("starting FedGuard node",
		"config", flags.ConfigPath,
		"http", n.cfg.HTTP.Addr,
		"ledger", n.cfg.Ledger.Backend,
		"ledger_path", n.cfg.Ledger.Path,
		"checkpoint", n.cfg.Checkpoint.Path,
		"tip", tip.Index,
	)

	if rec := n.ledger.Recovered(); rec != nil {
		logger.Warn("ledger was reset after corruption", "cause", rec.Error())
	}
}
