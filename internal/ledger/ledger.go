// Package ledger implements the tamper-evident chain of round commitments.
//
// Every block commits one round's model digest and links to its predecessor
// by hash. Hashes read from storage are never trusted: they are recomputed
// from block content on load, and the stored values are kept only so Verify
// can report where the persisted chain was edited.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"FedGuard/internal/logger"
)

// genesisInfo is the metadata carried by a fresh genesis block.
const genesisInfo = "Network Start"

// Option configures a Ledger.
type Option func(*Ledger)

// ReadOnly opens the ledger as a reader: no genesis is written for a missing
// chain, a corrupt chain is reported instead of reset, and Append fails.
func ReadOnly() Option {
	return func(l *Ledger) {
		l.readOnly = true
	}
}

// WithClock overrides the time source used for block timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Ledger is an append-only chain of blocks persisted in a Store.
// It is safe for concurrent use within one process; the store itself
// assumes a single writer process.
type Ledger struct {
	mu        sync.RWMutex
	store     Store            // store persists the chain, nil for in-memory views
	readOnly  bool             // readOnly disables writes and corruption resets
	now       func() time.Time // now stamps new blocks
	chain     []Block          // chain holds blocks with recomputed hashes
	stored    []string         // stored holds the hash values found in storage
	recovered error            // recovered is the corruption that caused the last reset
}

// Open loads the chain from store and re-verifies it.
// A missing chain is initialized with a persisted genesis block. A chain
// that fails to decode is discarded and replaced by a fresh genesis.
func Open(store Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadLocked(); err != nil {
		return nil, err
	}

	return l, nil
}

// FromBlocks builds a read-only, in-memory ledger from blocks received
// from elsewhere, recomputing every hash exactly as Open does.
func FromBlocks(blocks []Block) (*Ledger, error) {
	for i, b := range blocks {
		if err := validateRecord(b); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrChainCorrupted, i, err)
		}
	}

	l := &Ledger{readOnly: true, now: time.Now}
	if err := l.adoptLocked(blocks); err != nil {
		return nil, err
	}

	return l, nil
}

// Refresh reloads the chain from the store, picking up blocks appended by
// the writer process.
func (l *Ledger) Refresh() error {
	if l.store == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.loadLocked()
}

// loadLocked loads and adopts the persisted chain (caller must hold lock).
func (l *Ledger) loadLocked() error {
	blocks, err := l.store.Load()
	if err == nil && len(blocks) > 0 {
		err = l.adoptLocked(blocks)
	}

	switch {
	case err == nil && len(blocks) > 0:
		return nil

	case err == nil, errors.Is(err, ErrNotFound):
		if l.readOnly {
			l.chain, l.stored = nil, nil
			return nil
		}
		return l.writeGenesisLocked()

	case errors.Is(err, ErrChainCorrupted):
		if l.readOnly {
			return err
		}
		return l.resetLocked(err)

	default:
		return fmt.Errorf("load ledger:\n%w", err)
	}
}

// adoptLocked installs blocks, recomputing their hashes (caller must hold lock).
func (l *Ledger) adoptLocked(blocks []Block) error {
	chain := make([]Block, len(blocks))
	stored := make([]string, len(blocks))

	for i, b := range blocks {
		b = b.clone()
		stored[i] = b.Hash

		hash, err := b.ComputeHash()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrChainCorrupted, err)
		}
		b.Hash = hash

		chain[i] = b
	}

	l.chain, l.stored = chain, stored
	return nil
}

// resetLocked discards a corrupt chain and starts over from genesis.
// The whole chain is dropped, never just the corrupt suffix, so a truncation
// attack always surfaces as a full reset.
func (l *Ledger) resetLocked(cause error) error {
	logger.Warn("ledger corrupted, resetting to genesis", "error", cause)

	if q, ok := l.store.(Quarantiner); ok {
		dest, err := q.Quarantine()
		if err != nil {
			logger.Warn("ledger quarantine failed", "error", err)
		} else {
			logger.Warn("corrupt ledger moved aside", "path", dest)
		}
	}

	l.recovered = cause
	return l.writeGenesisLocked()
}

// writeGenesisLocked creates and persists the genesis block (caller must hold lock).
func (l *Ledger) writeGenesisLocked() error {
	genesis, err := newBlock(0, GenesisModelHash, GenesisPrevHash, map[string]any{"info": genesisInfo}, l.now())
	if err != nil {
		return err
	}

	if err := l.store.Save([]Block{genesis}); err != nil {
		return fmt.Errorf("persist genesis:\n%w", err)
	}

	l.chain = []Block{genesis}
	l.stored = []string{genesis.Hash}

	logger.Info("ledger initialized", "genesis", genesis.Hash[:12])

	return nil
}

// Append commits a new block for round. The round must be exactly one past
// the tip (0 for an empty chain). The block is persisted before it becomes
// visible; a persistence failure is returned and leaves the chain unchanged.
func (l *Ledger) Append(round uint64, modelHash string, metadata map[string]any) (Block, error) {
	if l.readOnly {
		return Block{}, ErrReadOnly
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var expected uint64
	prevHash := GenesisPrevHash
	if n := len(l.chain); n > 0 {
		tip := l.chain[n-1]
		expected = tip.Index + 1
		prevHash = tip.Hash
	}

	if round != expected {
		return Block{}, fmt.Errorf("%w: got round %d, want %d", ErrRoundOutOfOrder, round, expected)
	}

	b, err := newBlock(round, modelHash, prevHash, metadata, l.now())
	if err != nil {
		return Block{}, err
	}

	if err := l.persistLocked(b); err != nil {
		return Block{}, fmt.Errorf("persist block %d:\n%w", round, err)
	}

	l.chain = append(l.chain, b)
	l.stored = append(l.stored, b.Hash)

	logger.Info("block appended", "index", b.Index, "model", shortHash(b.ModelHash), "hash", shortHash(b.Hash))

	return b.clone(), nil
}

// persistLocked writes b through the store (caller must hold lock).
func (l *Ledger) persistLocked(b Block) error {
	if a, ok := l.store.(Appender); ok {
		return a.Append(b)
	}

	next := make([]Block, len(l.chain), len(l.chain)+1)
	copy(next, l.chain)

	return l.store.Save(append(next, b))
}

// Tip returns the last block.
func (l *Ledger) Tip() (Block, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if len(l.chain) == 0 {
		return Block{}, ErrEmptyLedger
	}

	return l.chain[len(l.chain)-1].clone(), nil
}

// Len returns the number of blocks.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.chain)
}

// Block returns the block at index.
func (l *Ledger) Block(index uint64) (Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if index >= uint64(len(l.chain)) {
		return Block{}, false
	}

	return l.chain[index].clone(), true
}

// Chain returns a copy of every block.
func (l *Ledger) Chain() []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Block, len(l.chain))
	for i, b := range l.chain {
		out[i] = b.clone()
	}

	return out
}

// Recovered returns the corruption error that made Open or Refresh reset
// the chain to genesis, or nil.
func (l *Ledger) Recovered() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.recovered
}

// Verify checks every block: stored hash against recomputed hash, index
// continuity, and prev_hash linkage to the predecessor's recomputed hash.
// It reports violations and never repairs them.
func (l *Ledger) Verify() []Violation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var violations []Violation

	for i, b := range l.chain {
		if b.Index != uint64(i) {
			violations = append(violations, Violation{
				Index:  uint64(i),
				Kind:   KindIndexGap,
				Detail: fmt.Sprintf("block at position %d has index %d", i, b.Index),
			})
		}

		if stored := l.stored[i]; stored != "" && stored != b.Hash {
			violations = append(violations, Violation{
				Index:  uint64(i),
				Kind:   KindHashMismatch,
				Detail: fmt.Sprintf("stored %s, recomputed %s", shortHash(stored), shortHash(b.Hash)),
			})
		}

		if i == 0 {
			if b.PrevHash != GenesisPrevHash {
				violations = append(violations, Violation{
					Index:  0,
					Kind:   KindBadGenesisLink,
					Detail: fmt.Sprintf("first block prev_hash %q, want %q", b.PrevHash, GenesisPrevHash),
				})
			}
			continue
		}

		if prev := l.chain[i-1].Hash; b.PrevHash != prev {
			violations = append(violations, Violation{
				Index:  uint64(i),
				Kind:   KindLinkMismatch,
				Detail: fmt.Sprintf("prev_hash %s, predecessor hash %s", shortHash(b.PrevHash), shortHash(prev)),
			})
		}
	}

	if len(violations) > 0 {
		logger.Warn("ledger integrity violations", "count", len(violations), "first", violations[0].Error())
	}

	return violations
}

// shortHash truncates a hash for log output.
func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
