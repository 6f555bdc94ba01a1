package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FedGuard/internal/aggregation"
	"FedGuard/internal/api"
	"FedGuard/internal/config"
	"FedGuard/internal/integrity"
	"FedGuard/internal/ledger"
	"FedGuard/internal/logger"
	"FedGuard/internal/storage"
	"FedGuard/internal/sync"
	"FedGuard/internal/trust"
)

// Node represents a running FedGuard node.
type Node struct {
	cfg         *config.Config
	storage     *storage.Storage // storage is set for the pebble backend only
	ledger      *ledger.Ledger
	gate        *integrity.Gate
	filter      *trust.Filter
	collector   *aggregation.Collector
	aggregator  *aggregation.Aggregator
	api         *api.Server
	snapManager *sync.SnapshotManager
}

// NewNode creates and initializes a new node.
func NewNode(cfg *config.Config, snapshotInterval time.Duration) (*Node, error) {
	n := &Node{cfg: cfg}

	if err := n.initLedger(); err != nil {
		n.Close()
		return nil, err
	}

	if err := n.initServices(); err != nil {
		n.Close()
		return nil, err
	}

	n.snapManager = sync.NewSnapshotManager(n.ledger)
	if snapshotInterval > 0 {
		n.snapManager.SetInterval(snapshotInterval)
	}

	n.api = api.New(cfg.HTTP.Addr, api.Services{
		Ledger:     n.ledger,
		Gate:       n.gate,
		Filter:     n.filter,
		Collector:  n.collector,
		Aggregator: n.aggregator,
		Snapshots:  n.snapManager,
	})

	return n, nil
}

// Run starts the node and blocks until shutdown signal. With strict set, a
// ledger that fails verification stops startup.
func (n *Node) Run(strict bool) error {
	if err := n.checkLedger(strict); err != nil {
		n.Close()
		return err
	}

	n.snapManager.Start()

	if err := n.api.Start(); err != nil {
		n.Close()
		return fmt.Errorf("start api:\n%w", err)
	}

	return n.waitForShutdown()
}

// checkLedger verifies the loaded ledger. Violations are always logged and
// only returned as an error when strict is set.
func (n *Node) checkLedger(strict bool) error {
	violations := n.ledger.Verify()
	if len(violations) == 0 {
		return nil
	}

	logger.Error("security alert: ledger failed verification", "violations", len(violations), "first", violations[0].Error())

	if strict {
		return fmt.Errorf("ledger failed verification: %d violations:\n%w", len(violations), violations[0])
	}
	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM is received.
func (n *Node) waitForShutdown() error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	return n.Close()
}

// Close shuts down all node components gracefully.
func (n *Node) Close() error {
	if n.api != nil {
		n.api.Stop()
	}

	if n.snapManager != nil {
		n.snapManager.Stop()
	}

	if n.storage != nil {
		return n.storage.Close()
	}

	return nil
}
