package aggregation

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"FedGuard/internal/logger"
)

// ErrDuplicateUpdate is returned when a participant submits twice for a round.
var ErrDuplicateUpdate = errors.New("aggregation: duplicate update")

// Collector gathers updates and failures per round until they are drained
// for aggregation.
type Collector struct {
	mu     sync.Mutex
	rounds map[uint64]*roundState // rounds holds pending rounds by number
}

// roundState holds what one round has collected so far.
type roundState struct {
	updates  map[string]Update
	failures []Failure
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{rounds: make(map[uint64]*roundState)}
}

// Submit records a participant's update for round.
func (c *Collector) Submit(round uint64, u Update) error {
	if u.Participant == "" {
		return fmt.Errorf("%w: missing participant", ErrInvalidUpdate)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rs := c.roundLocked(round)
	if _, exists := rs.updates[u.Participant]; exists {
		return fmt.Errorf("%w: %s in round %d", ErrDuplicateUpdate, u.Participant, round)
	}

	ref := u
	for _, existing := range rs.updates {
		ref = existing
		break
	}
	if err := checkUpdate(ref, u); err != nil {
		return err
	}

	rs.updates[u.Participant] = u
	logger.Debug("update collected", "round", round, "participant", u.Participant, "samples", u.NumSamples)

	return nil
}

// Fail records a participant that failed round.
func (c *Collector) Fail(round uint64, f Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rs := c.roundLocked(round)
	rs.failures = append(rs.failures, f)
	logger.Warn("participant failed round", "round", round, "participant", f.Participant, "reason", f.Reason)
}

// Pending returns the number of updates collected for round.
func (c *Collector) Pending(round uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rs, ok := c.rounds[round]; ok {
		return len(rs.updates)
	}
	return 0
}

// Drain removes and returns everything collected for round. Updates are
// ordered by participant so aggregation does not depend on arrival order.
func (c *Collector) Drain(round uint64) ([]Update, []Failure) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rs, ok := c.rounds[round]
	if !ok {
		return nil, nil
	}
	delete(c.rounds, round)

	updates := make([]Update, 0, len(rs.updates))
	for _, u := range rs.updates {
		updates = append(updates, u)
	}
	slices.SortFunc(updates, func(a, b Update) int {
		return strings.Compare(a.Participant, b.Participant)
	})

	return updates, rs.failures
}

// Requeue puts drained updates and failures back into round after a failed
// aggregation. An update from a participant that has resubmitted since the
// drain is dropped in favor of the newer one.
func (c *Collector) Requeue(round uint64, updates []Update, failures []Failure) {
	if len(updates) == 0 && len(failures) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rs := c.roundLocked(round)
	for _, u := range updates {
		if _, exists := rs.updates[u.Participant]; !exists {
			rs.updates[u.Participant] = u
		}
	}
	rs.failures = append(slices.Clone(failures), rs.failures...)

	logger.Info("round requeued", "round", round, "updates", len(updates), "failures", len(failures))
}

// roundLocked returns the state for round, creating it (caller must hold lock).
func (c *Collector) roundLocked(round uint64) *roundState {
	rs, ok := c.rounds[round]
	if !ok {
		rs = &roundState{updates: make(map[string]Update)}
		c.rounds[round] = rs
	}
	return rs
}
