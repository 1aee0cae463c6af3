package block

import (
	"fmt"
	"time"
)

// ID identifies one physical slot within an allocator's pool. IDs are dense
// integers; across tiers they live in disjoint ranges so an ID is globally
// unambiguous once tiers are composed.
type ID int

// None marks a Block handle that is not bound to a physical slot.
const None ID = -1

// Device tags a memory tier with its own independent slot pool.
type Device uint8

const (
	// DeviceGPU is the fast device-memory tier.
	DeviceGPU Device = iota
	// DeviceCPU is the overflow host-memory tier.
	DeviceCPU
)

func (d Device) String() string {
	switch d {
	case DeviceGPU:
		return "gpu"
	case DeviceCPU:
		return "cpu"
	default:
		return fmt.Sprintf("device(%d)", uint8(d))
	}
}

// Block is a handle over one fixed-capacity slice of token storage.
//
// Accessors are side-effect free. AppendTokenIDs mutates only the handle's
// token metadata; if the underlying slot is shared, the allocator rebinds the
// handle to a fresh slot and records a copy-on-write instead of mutating
// shared content.
type Block interface {
	// AppendTokenIDs extends the block's tokens. It fails with
	// *ErrCapacityExceeded if the tokens do not fit, leaving the block
	// unchanged (no partial append).
	AppendTokenIDs(tokenIDs []int) error

	// ID returns the bound physical slot, or None for an unbound placeholder.
	ID() ID

	// TokenIDs returns the tokens currently stored in this block. The
	// returned slice must be treated as read-only.
	TokenIDs() []int

	// NumEmptySlots returns the remaining token capacity.
	NumEmptySlots() int

	// IsFull reports whether the block has no empty slots left.
	IsFull() bool

	// PrevBlock returns the preceding block in the chain, or nil at the root.
	PrevBlock() Block

	// ContentHash returns the chained content hash of a full,
	// content-addressed block. ok is false for hashless block variants and
	// for blocks that are not yet full.
	ContentHash() (hash uint64, ok bool)
}

// Factory constructs a Block variant bound to the given allocator's
// bookkeeping scheme (plain vs. content-addressed). It is chosen once at
// allocator construction; the chain-traversal code never cares which variant
// is in play. id may be None for a logical placeholder.
type Factory func(prev Block, tokenIDs []int, blockSize int, alloc Allocator, id ID) Block

// Allocator owns the pool of physical slots for one memory tier.
//
// An Allocator instance is single-writer: all calls for one tier must be
// linearized by the caller (one mutex, one goroutine, or one scheduler step).
// No operation blocks; pool exhaustion surfaces synchronously as
// ErrNoFreeBlocks and is a back-pressure signal, not a fatal error.
type Allocator interface {
	// AllocateMutable returns a block with refcount 1 that is safe to append
	// to directly.
	AllocateMutable(prev Block) (Block, error)

	// AllocateImmutable allocates a full block of already-known tokens. With
	// prefix caching enabled, identical content deduplicates onto one slot.
	AllocateImmutable(prev Block, tokenIDs []int) (Block, error)

	// Free releases one owner's reference. The slot returns to the free pool
	// only when every owner has freed it.
	Free(b Block) error

	// Fork registers a new logical owner for the whole chain ending at last,
	// incrementing refcounts along the way. It returns the new owner's view
	// of the chain, root first. No content is copied.
	Fork(last Block) ([]Block, error)

	// NumFreeBlocks counts slots available for allocation, including
	// evictable slots whose content is still intact.
	NumFreeBlocks() int

	// NumTotalBlocks is the fixed pool size.
	NumTotalBlocks() int

	// AllBlockIDs returns the identity set of every valid slot ID, for
	// diagnostics and accounting.
	AllBlockIDs() []ID

	// ClearCopyOnWrites drains the source → destinations copy mapping
	// deferred during the current scheduling step. The caller performs the
	// physical copies before the next forward pass.
	ClearCopyOnWrites() map[ID][]ID

	// MarkBlocksAsAccessed updates recency metadata for eviction ranking.
	MarkBlocksAsAccessed(ids []ID, now time.Time)

	// MarkBlocksAsComputed records that the execution collaborator has
	// populated the given slots.
	MarkBlocksAsComputed(ids []ID)

	// CommonComputedBlockIDs returns the longest common prefix of block IDs
	// that is identical in every sequence and fully computed, root outward.
	CommonComputedBlockIDs(seqBlockIDs [][]ID) []ID
}

// DeviceAware composes one Allocator per memory tier.
//
// Allocation and capacity queries take an explicit Device; calls that carry a
// block or block IDs are routed by the IDs' tier. DeviceAware performs no
// cross-tier data movement — it only exposes per-tier counts so an external
// scheduler can decide to migrate a chain between tiers.
type DeviceAware interface {
	AllocateMutable(device Device, prev Block) (Block, error)
	AllocateImmutable(device Device, prev Block, tokenIDs []int) (Block, error)
	Free(b Block) error
	Fork(last Block) ([]Block, error)
	NumFreeBlocks(device Device) int
	NumTotalBlocks(device Device) int
	AllBlockIDs() []ID
	ClearCopyOnWrites() map[ID][]ID
	MarkBlocksAsAccessed(ids []ID, now time.Time)
	MarkBlocksAsComputed(ids []ID)
	CommonComputedBlockIDs(seqBlockIDs [][]ID) []ID
}
