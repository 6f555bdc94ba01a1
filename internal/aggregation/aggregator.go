// Package aggregation averages participant updates into the next global
// model and commits it to the ledger.
package aggregation

import (
	"errors"
	"fmt"
	"sync"

	"FedGuard/internal/checkpoint"
	"FedGuard/internal/digest"
	"FedGuard/internal/integrity"
	"FedGuard/internal/ledger"
	"FedGuard/internal/logger"
)

// Aggregator turns a round's updates into a committed global model.
type Aggregator struct {
	gate        *integrity.Gate   // gate commits the aggregated digest
	checkpoints *checkpoint.Store // checkpoints persists the global model, may be nil

	mu     sync.RWMutex
	global []digest.Tensor // global is the last committed model
}

// NewAggregator creates an Aggregator committing through gate.
func NewAggregator(gate *integrity.Gate, checkpoints *checkpoint.Store) *Aggregator {
	return &Aggregator{gate: gate, checkpoints: checkpoints}
}

// Restore loads the checkpoint if it matches tip. A missing or stale
// checkpoint is not an error; the aggregator then has no global model until
// the next round is committed or Seed is called.
func (a *Aggregator) Restore(tip ledger.Block) error {
	if a.checkpoints == nil {
		return nil
	}

	weights, err := a.checkpoints.LoadVerified(tip)
	switch {
	case err == nil:
		a.mu.Lock()
		a.global = weights
		a.mu.Unlock()
		logger.Info("global model restored", "block", tip.Index, "path", a.checkpoints.Path())
		return nil
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		logger.Info("no global model checkpoint, starting fresh")
		return nil
	case errors.Is(err, checkpoint.ErrCheckpointMismatch):
		logger.Warn("checkpoint does not match ledger, starting fresh", "error", err)
		return nil
	default:
		return fmt.Errorf("restore checkpoint:\n%w", err)
	}
}

// Seed installs initial global weights before the first round.
func (a *Aggregator) Seed(weights []digest.Tensor) error {
	if err := digest.Validate(weights); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.global = digest.Clone(weights)
	return nil
}

// Global returns a copy of the current global model, or nil.
func (a *Aggregator) Global() []digest.Tensor {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.global == nil {
		return nil
	}
	return digest.Clone(a.global)
}

// Aggregate averages updates, commits the result as round and saves the
// checkpoint. A failed commit is returned and leaves the global model
// unchanged; a failed checkpoint save is only logged.
func (a *Aggregator) Aggregate(round uint64, updates []Update, failures []Failure) (Result, error) {
	weights, err := FedAvg(updates)
	if err != nil {
		return Result{}, fmt.Errorf("average round %d:\n%w", round, err)
	}

	metadata := map[string]any{
		"client_count":  len(updates),
		"failure_count": len(failures),
	}

	block, err := a.gate.CommitRound(round, weights, metadata)
	if err != nil {
		return Result{}, err
	}

	a.mu.Lock()
	a.global = weights
	a.mu.Unlock()

	if a.checkpoints != nil {
		if _, err := a.checkpoints.Save(weights); err != nil {
			logger.Error("save checkpoint", "round", round, "error", err)
		}
	}

	logger.Info("round aggregated", "round", round, "clients", len(updates), "failures", len(failures))

	return Result{
		Round:    round,
		Block:    block,
		Clients:  len(updates),
		Failures: len(failures),
		Weights:  digest.Clone(weights),
	}, nil
}
