package main

import (
	"fmt"
	"os"
	"path/filepath"

	"FedGuard/internal/aggregation"
	"FedGuard/internal/checkpoint"
	"FedGuard/internal/config"
	"FedGuard/internal/integrity"
	"FedGuard/internal/ledger"
	"FedGuard/internal/storage"
	"FedGuard/internal/trust"
)

// initStorage opens the ledger store for the configured backend.
func (n *Node) initStorage() (ledger.Store, error) {
	path := n.cfg.Ledger.Path

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory:\n%w", err)
	}

	if n.cfg.Ledger.Backend == config.BackendFile {
		return ledger.NewFileStore(path), nil
	}

	db, err := storage.New(path)
	if err != nil {
		return nil, fmt.Errorf("init storage:\n%w", err)
	}

	n.storage = db

	return ledger.NewPebbleStore(db), nil
}

// initLedger opens the hash ledger, recovering from corruption if needed.
func (n *Node) initLedger() error {
	store, err := n.initStorage()
	if err != nil {
		return err
	}

	l, err := ledger.Open(store)
	if err != nil {
		return fmt.Errorf("open ledger:\n%w", err)
	}

	n.ledger = l

	return nil
}

// initServices wires the gate, filter and aggregation on top of the ledger.
func (n *Node) initServices() error {
	n.gate = integrity.NewGate(n.ledger)
	n.filter = trust.NewFilter(n.cfg.TrustOptions())
	n.collector = aggregation.NewCollector()
	n.aggregator = aggregation.NewAggregator(n.gate, checkpoint.NewStore(n.cfg.Checkpoint.Path))

	return n.restoreModel()
}

// restoreModel reloads the global model when the checkpoint matches the tip.
func (n *Node) restoreModel() error {
	tip, err := n.ledger.Tip()
	if err != nil {
		return fmt.Errorf("read tip:\n%w", err)
	}

	return n.aggregator.Restore(tip)
}
