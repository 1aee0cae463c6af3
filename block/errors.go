package block

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFreeBlocks is returned when the pool has no free slot and no
	// evictable slot. It is a back-pressure signal: the caller should preempt
	// a sequence or retry on a later scheduling step, not fail hard.
	ErrNoFreeBlocks = errors.New("pagedkv: no free blocks")

	// ErrIncompleteBlock is returned when an immutable allocation is asked to
	// store less than a full block of tokens. Prefix caching is defined over
	// full blocks only; partial tails must use mutable allocation.
	ErrIncompleteBlock = errors.New("pagedkv: immutable allocation requires a full block")
)

// ErrCapacityExceeded indicates an append that does not fit into the block's
// remaining capacity. This is a caller contract violation for correctly
// chunked input; the block is left unchanged.
type ErrCapacityExceeded struct {
	Requested  int
	EmptySlots int
}

func (e *ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("block capacity exceeded: appending %d tokens with %d empty slots", e.Requested, e.EmptySlots)
}

// ErrInvariantViolation indicates corrupted allocator bookkeeping: refcount
// underflow, freeing an already-free slot, operating on a foreign or unbound
// ID, or prefix-cache content diverging from its registered hash. These are
// programming errors; they are never retried or silently healed, since
// healing would corrupt shared cache content across unrelated sequences.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrInvariantViolation struct {
	Op      string
	BlockID ID
	Reason  string
	cause   error
}

func (e *ErrInvariantViolation) Error() string {
	return fmt.Sprintf("allocator invariant violated in %s (block %d): %s", e.Op, e.BlockID, e.Reason)
}

func (e *ErrInvariantViolation) Unwrap() error { return e.cause }

// Invariant builds an ErrInvariantViolation.
func Invariant(op string, id ID, reason string) error {
	return &ErrInvariantViolation{Op: op, BlockID: id, Reason: reason}
}
