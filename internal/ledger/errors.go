package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by a Store that holds no persisted chain.
	ErrNotFound = errors.New("ledger: no persisted chain")

	// ErrChainCorrupted is returned when a persisted chain cannot be decoded or fails schema checks.
	ErrChainCorrupted = errors.New("ledger: chain corrupted")

	// ErrEmptyLedger is returned by Tip when the chain holds no block.
	ErrEmptyLedger = errors.New("ledger: empty ledger")

	// ErrRoundOutOfOrder is returned when a block index is not tip.Index+1.
	ErrRoundOutOfOrder = errors.New("ledger: round out of order")

	// ErrIntegrityViolation matches every Violation reported by Verify.
	ErrIntegrityViolation = errors.New("ledger: integrity violation")

	// ErrInvalidMetadata is returned when block metadata is not JSON-serializable.
	ErrInvalidMetadata = errors.New("ledger: invalid metadata")

	// ErrReadOnly is returned when a read-only ledger is asked to append.
	ErrReadOnly = errors.New("ledger: read-only")
)

// ViolationKind classifies an integrity violation.
type ViolationKind string

const (
	// KindHashMismatch means the stored hash differs from the recomputed one.
	KindHashMismatch ViolationKind = "hash_mismatch"

	// KindLinkMismatch means prev_hash differs from the predecessor's recomputed hash.
	KindLinkMismatch ViolationKind = "link_mismatch"

	// KindIndexGap means a block index does not equal its position in the chain.
	KindIndexGap ViolationKind = "index_gap"

	// KindBadGenesisLink means the first block does not carry the "0" prev_hash sentinel.
	KindBadGenesisLink ViolationKind = "bad_genesis_link"
)

// Violation reports one failed integrity check.
type Violation struct {
	Index  uint64        `json:"index"`  // Index is the position of the offending block
	Kind   ViolationKind `json:"kind"`   // Kind is the machine-checkable violation class
	Detail string        `json:"detail"` // Detail is a human-readable description
}

// Error implements error.
func (v Violation) Error() string {
	return fmt.Sprintf("block %d: %s: %s", v.Index, v.Kind, v.Detail)
}

// Is makes every Violation match ErrIntegrityViolation.
func (v Violation) Is(target error) bool {
	return target == ErrIntegrityViolation
}
