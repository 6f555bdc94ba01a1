// Package integrity gates training rounds on the ledger.
//
// Before a trainer fits locally, the candidate global weights are digested
// and compared against the model hash committed at the ledger tip. After
// aggregation, the new global weights are digested and committed as the
// next block.
package integrity

import (
	"errors"
	"fmt"
	"sync"

	"FedGuard/internal/digest"
	"FedGuard/internal/ledger"
	"FedGuard/internal/logger"
)

// ErrHashMismatch is returned by Verdict.Err for a tampered or substituted model.
var ErrHashMismatch = errors.New("integrity: model hash mismatch")

// ErrLedgerUnavailable is returned by Verdict.Err when the tip could not be read.
var ErrLedgerUnavailable = errors.New("integrity: ledger unavailable")

// State is a step of the verification state machine.
type State int

const (
	// AwaitCandidate waits for candidate weights.
	AwaitCandidate State = iota

	// Digesting computes the candidate digest.
	Digesting

	// Comparing reads the tip and compares digests.
	Comparing

	// Accepted allows training on the candidate unmodified.
	Accepted

	// Rejected forbids training on the candidate.
	Rejected
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case AwaitCandidate:
		return "await_candidate"
	case Digesting:
		return "digesting"
	case Comparing:
		return "comparing"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for candidate := AwaitCandidate; candidate <= Rejected; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Verdict codes. They are stable strings for auditing.
const (
	CodeGenesisBootstrap  = "genesis_bootstrap"
	CodeHashMatch         = "hash_match"
	CodeHashMismatch      = "hash_mismatch"
	CodeLedgerUnavailable = "ledger_unavailable"
)

// Verdict is the outcome of verifying one candidate weight set.
type Verdict struct {
	Outcome  State  `json:"status"`    // Outcome is Accepted or Rejected
	Code     string `json:"code"`      // Code is the machine-checkable reason
	Reason   string `json:"reason"`    // Reason is a human-readable explanation
	Digest   string `json:"digest"`    // Digest is the candidate fingerprint
	TipIndex uint64 `json:"tip_index"` // TipIndex is the ledger tip compared against
	TipModel string `json:"tip_model"` // TipModel is the model hash committed at the tip
}

// Accepted reports whether training may proceed.
func (v Verdict) Accepted() bool {
	return v.Outcome == Accepted
}

// Err returns nil for an accepted verdict and a wrapped sentinel otherwise.
func (v Verdict) Err() error {
	switch {
	case v.Accepted():
		return nil
	case v.Code == CodeLedgerUnavailable:
		return fmt.Errorf("%w: %s", ErrLedgerUnavailable, v.Reason)
	default:
		return fmt.Errorf("%w: %s", ErrHashMismatch, v.Reason)
	}
}

// Ledger is the part of the hash ledger the gate depends on.
type Ledger interface {
	Tip() (ledger.Block, error)
	Append(round uint64, modelHash string, metadata map[string]any) (ledger.Block, error)
}

// Gate runs the verification state machine against one ledger.
type Gate struct {
	mu     sync.Mutex
	ledger Ledger // ledger is owned by the caller and shared with the commit path
	state  State  // state is the last state reached
}

// NewGate creates a gate over l.
func NewGate(l Ledger) *Gate {
	return &Gate{ledger: l, state: AwaitCandidate}
}

// State returns the last state reached.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state
}

// VerifyRound decides whether candidate weights may be trained on.
// At the genesis tip every candidate is accepted since no model has been
// committed yet; afterwards the digest must equal the tip's model hash.
// A rejection is terminal for the round; the caller decides what to do.
func (g *Gate) VerifyRound(weights []digest.Tensor) Verdict {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.state = Digesting
	sum := digest.Sum(weights)

	g.state = Comparing
	tip, err := g.ledger.Tip()
	if err != nil {
		return g.finish(Verdict{
			Outcome: Rejected,
			Code:    CodeLedgerUnavailable,
			Reason:  fmt.Sprintf("cannot read ledger tip: %v", err),
			Digest:  sum,
		})
	}

	v := Verdict{Digest: sum, TipIndex: tip.Index, TipModel: tip.ModelHash}

	switch {
	case tip.Index == 0:
		v.Outcome = Accepted
		v.Code = CodeGenesisBootstrap
		v.Reason = "no committed round yet, accepting initial global model"
	case sum == tip.ModelHash:
		v.Outcome = Accepted
		v.Code = CodeHashMatch
		v.Reason = fmt.Sprintf("digest matches block %d", tip.Index)
	default:
		v.Outcome = Rejected
		v.Code = CodeHashMismatch
		v.Reason = fmt.Sprintf("digest %s does not match block %d model hash %s", short(sum), tip.Index, short(tip.ModelHash))
	}

	return g.finish(v)
}

// finish records the terminal state and logs the verdict (caller must hold lock).
func (g *Gate) finish(v Verdict) Verdict {
	g.state = v.Outcome

	if v.Accepted() {
		logger.Info("round verified", "code", v.Code, "tip", v.TipIndex, "digest", short(v.Digest))
	} else {
		logger.Error("security alert: candidate model rejected", "code", v.Code, "reason", v.Reason)
	}

	return v
}

// CommitRound digests aggregated weights and appends them as block round.
// The round must be exactly tip.Index+1.
func (g *Gate) CommitRound(round uint64, weights []digest.Tensor, metadata map[string]any) (ledger.Block, error) {
	tip, err := g.ledger.Tip()
	if err != nil {
		return ledger.Block{}, fmt.Errorf("read tip:\n%w", err)
	}

	if round != tip.Index+1 {
		return ledger.Block{}, fmt.Errorf("%w: got round %d, tip is %d", ledger.ErrRoundOutOfOrder, round, tip.Index)
	}

	b, err := g.ledger.Append(round, digest.Sum(weights), metadata)
	if err != nil {
		return ledger.Block{}, fmt.Errorf("commit round %d:\n%w", round, err)
	}

	return b, nil
}

// short truncates a digest for messages.
func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
