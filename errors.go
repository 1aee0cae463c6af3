package pagedkv

import (
	"errors"

	"github.com/hupe1980/pagedkv/block"
)

var (
	// ErrNoFreeBlocks mirrors block.ErrNoFreeBlocks at the facade for
	// callers that never import the leaf package. Treat it as back-pressure:
	// preempt a sequence or retry on a later scheduling step.
	ErrNoFreeBlocks = block.ErrNoFreeBlocks

	// ErrUnknownDevice is returned when an operation names a device that was
	// not configured via WithDevice.
	ErrUnknownDevice = errors.New("pagedkv: unknown device")

	// ErrInvalidConfig is returned by New for unusable configurations
	// (no devices, non-positive pool sizes or block size, duplicate tiers).
	ErrInvalidConfig = errors.New("pagedkv: invalid configuration")
)

// IsNoFreeBlocks reports whether err is pool exhaustion, on any tier.
func IsNoFreeBlocks(err error) bool {
	return errors.Is(err, block.ErrNoFreeBlocks)
}
