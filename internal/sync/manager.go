package sync

import (
	"sync"
	"time"

	"FedGuard/internal/ledger"
	"FedGuard/internal/logger"
)

const (
	// defaultSnapshotInterval is the default interval between snapshot refreshes.
	defaultSnapshotInterval = 10 * time.Second
)

// ChainProvider provides the chain to snapshot.
type ChainProvider interface {
	// Len returns the number of blocks.
	Len() int

	// Chain returns a copy of every block.
	Chain() []ledger.Block
}

// SnapshotManager keeps a compressed snapshot of the ledger ready to serve.
// It is rebuilt when the chain grows, either by the background loop or on
// demand by Latest.
type SnapshotManager struct {
	provider ChainProvider
	interval time.Duration

	mu      sync.RWMutex
	current []byte // compressed snapshot data
	length  int    // chain length of current snapshot
	tip     uint64 // tip index of current snapshot

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSnapshotManager creates a snapshot manager for provider.
func NewSnapshotManager(provider ChainProvider) *SnapshotManager {
	return &SnapshotManager{
		provider: provider,
		interval: defaultSnapshotInterval,
		stop:     make(chan struct{}),
	}
}

// SetInterval changes the refresh interval. It must be called before Start.
func (m *SnapshotManager) SetInterval(d time.Duration) {
	m.interval = d
}

// Start begins the periodic snapshot refresh loop.
func (m *SnapshotManager) Start() {
	m.wg.Add(1)
	go m.loop()
}

// Stop stops the snapshot manager and waits for it to finish.
func (m *SnapshotManager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// Latest returns a snapshot covering the whole chain and its tip index,
// rebuilding it first if blocks were appended since the last one.
func (m *SnapshotManager) Latest() ([]byte, uint64, error) {
	if err := m.refresh(); err != nil {
		return nil, 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current, m.tip, nil
}

// loop runs the periodic snapshot refresh.
func (m *SnapshotManager) loop() {
	defer m.wg.Done()

	m.logRefresh()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.logRefresh()
		}
	}
}

// logRefresh refreshes and logs failures.
func (m *SnapshotManager) logRefresh() {
	if err := m.refresh(); err != nil {
		logger.Error("create snapshot", "error", err)
	}
}

// refresh rebuilds the snapshot if the chain length changed.
func (m *SnapshotManager) refresh() error {
	length := m.provider.Len()

	m.mu.RLock()
	fresh := m.current != nil && m.length == length
	m.mu.RUnlock()

	if fresh {
		return nil
	}

	chain := m.provider.Chain()

	data, err := CreateSnapshot(chain)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.current = data
	m.length = len(chain)
	m.tip = chain[len(chain)-1].Index
	m.mu.Unlock()

	logger.Debug("snapshot created",
		"blocks", len(chain),
		"tip", chain[len(chain)-1].Index,
		"compressed", len(data),
	)

	return nil
}
