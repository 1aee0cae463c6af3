package naive

import (
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/pagedkv/block"
	"github.com/hupe1980/pagedkv/internal/chain"
	"github.com/hupe1980/pagedkv/internal/refcount"
)

// Config sizes an allocator. FirstBlockID offsets the pool's ID range so
// tiers composed by a device-aware allocator never overlap.
type Config struct {
	BlockSize    int
	NumBlocks    int
	FirstBlockID block.ID

	// Factory overrides block construction. Nil selects BlockFactory.
	Factory block.Factory
}

// Stats is a point-in-time snapshot of allocator activity.
type Stats struct {
	Allocs       uint64
	Frees        uint64
	CopyOnWrites uint64
	Forks        uint64
}

// Allocator is the hashless block.Allocator. Single-writer; the caller
// linearizes all access (see block.Allocator).
type Allocator struct {
	blockSize int
	first     block.ID
	numBlocks int

	free         []block.ID
	refs         *refcount.RefCounter
	cow          *refcount.CopyOnWriteTracker
	factory      block.Factory
	computed     *roaring.Bitmap
	lastAccessed map[block.ID]time.Time

	stats Stats
}

var _ block.Allocator = (*Allocator)(nil)

// New creates an allocator with cfg.NumBlocks free slots.
func New(cfg Config) *Allocator {
	a := &Allocator{
		blockSize:    cfg.BlockSize,
		first:        cfg.FirstBlockID,
		numBlocks:    cfg.NumBlocks,
		free:         make([]block.ID, 0, cfg.NumBlocks),
		refs:         refcount.NewRefCounter(cfg.FirstBlockID, cfg.NumBlocks),
		cow:          refcount.NewCopyOnWriteTracker(),
		factory:      cfg.Factory,
		computed:     roaring.New(),
		lastAccessed: make(map[block.ID]time.Time),
	}

	if a.factory == nil {
		a.factory = BlockFactory
	}

	// LIFO reuse keeps recently touched slots hot.
	for i := cfg.NumBlocks - 1; i >= 0; i-- {
		a.free = append(a.free, cfg.FirstBlockID+block.ID(i))
	}

	return a
}

func (a *Allocator) allocateBlockID() (block.ID, error) {
	if len(a.free) == 0 {
		return block.None, block.ErrNoFreeBlocks
	}

	id := a.free[len(a.free)-1]
	a.free = a.free[:len(a.free)-1]

	if _, err := a.refs.Incr(id); err != nil {
		return block.None, err
	}

	a.computed.Remove(uint32(id))
	a.stats.Allocs++

	return id, nil
}

// AllocateMutable returns an empty block with refcount 1.
func (a *Allocator) AllocateMutable(prev block.Block) (block.Block, error) {
	id, err := a.allocateBlockID()
	if err != nil {
		return nil, err
	}
	return a.factory(prev, nil, a.blockSize, a, id), nil
}

// AllocateImmutable allocates a fresh slot and writes tokenIDs into it. The
// hashless allocator never returns a cache hit.
func (a *Allocator) AllocateImmutable(prev block.Block, tokenIDs []int) (block.Block, error) {
	if len(tokenIDs) > a.blockSize {
		return nil, &block.ErrCapacityExceeded{Requested: len(tokenIDs), EmptySlots: a.blockSize}
	}

	id, err := a.allocateBlockID()
	if err != nil {
		return nil, err
	}

	tokens := make([]int, len(tokenIDs))
	copy(tokens, tokenIDs)

	return a.factory(prev, tokens, a.blockSize, a, id), nil
}

// Free releases one owner's reference and unbinds the handle. The slot
// returns to the free list when the last owner frees it.
func (a *Allocator) Free(b block.Block) error {
	id := b.ID()
	if id == block.None {
		return block.Invariant("free", id, "block is not bound to a slot")
	}

	remaining, err := a.refs.Decr(id)
	if err != nil {
		return err
	}

	if remaining == 0 {
		a.free = append(a.free, id)
		a.computed.Remove(uint32(id))
		delete(a.lastAccessed, id)
	}

	if h, ok := b.(*blockHandle); ok {
		h.id = block.None
	}
	a.stats.Frees++

	return nil
}

// Fork walks the chain ending at last and registers a new owner for every
// block, returning the new owner's view root first.
func (a *Allocator) Fork(last block.Block) ([]block.Block, error) {
	blocks, err := chain.RootFirst(last)
	if err != nil {
		return nil, err
	}

	forked := make([]block.Block, 0, len(blocks))
	var prev block.Block
	for _, b := range blocks {
		if _, err := a.refs.Incr(b.ID()); err != nil {
			return nil, err
		}

		tokens := make([]int, len(b.TokenIDs()))
		copy(tokens, b.TokenIDs())

		view := a.factory(prev, tokens, a.blockSize, a, b.ID())
		forked = append(forked, view)
		prev = view
	}

	a.stats.Forks++

	return forked, nil
}

// NumFreeBlocks counts immediately allocatable slots.
func (a *Allocator) NumFreeBlocks() int { return len(a.free) }

// NumTotalBlocks is the fixed pool size.
func (a *Allocator) NumTotalBlocks() int { return a.numBlocks }

// AllBlockIDs returns every valid slot ID in this pool.
func (a *Allocator) AllBlockIDs() []block.ID {
	ids := make([]block.ID, a.numBlocks)
	for i := range ids {
		ids[i] = a.first + block.ID(i)
	}
	return ids
}

// ClearCopyOnWrites drains the deferred copy mapping.
func (a *Allocator) ClearCopyOnWrites() map[block.ID][]block.ID {
	return a.cow.Drain()
}

// MarkBlocksAsAccessed records access times. The hashless allocator keeps
// them only for accounting; there is no evictable pool to rank. IDs outside
// the pool range are ignored.
func (a *Allocator) MarkBlocksAsAccessed(ids []block.ID, now time.Time) {
	for _, id := range ids {
		if _, err := a.refs.Get(id); err != nil {
			continue
		}
		a.lastAccessed[id] = now
	}
}

// MarkBlocksAsComputed flags slots whose KV content has been produced.
func (a *Allocator) MarkBlocksAsComputed(ids []block.ID) {
	for _, id := range ids {
		a.computed.Add(uint32(id))
	}
}

// CommonComputedBlockIDs returns the longest prefix of block IDs identical
// in every sequence with every block computed.
func (a *Allocator) CommonComputedBlockIDs(seqBlockIDs [][]block.ID) []block.ID {
	return chain.CommonComputedPrefix(func(id block.ID) bool {
		return a.computed.Contains(uint32(id))
	}, seqBlockIDs)
}

// Stats returns a snapshot of allocator activity.
func (a *Allocator) Stats() Stats { return a.stats }

// RefCount reports the number of owners of a slot, for tests and accounting.
func (a *Allocator) RefCount(id block.ID) (int, error) {
	return a.refs.Get(id)
}

// cowBlockIfNotAppendable implements the copy-on-write protocol: appending
// to an exclusively owned slot keeps its ID, while a shared slot is left
// untouched and the append lands on a fresh slot. The physical content copy
// is deferred to the executor via the CoW mapping.
func (a *Allocator) cowBlockIfNotAppendable(id block.ID) (block.ID, error) {
	count, err := a.refs.Get(id)
	if err != nil {
		return block.None, err
	}
	if count == 0 {
		return block.None, block.Invariant("append", id, "appending to an unreferenced slot")
	}
	if count == 1 {
		return id, nil
	}

	dst, err := a.allocateBlockID()
	if err != nil {
		return block.None, err
	}

	if _, err := a.refs.Decr(id); err != nil {
		return block.None, err
	}

	a.cow.Record(id, dst)
	a.stats.CopyOnWrites++

	return dst, nil
}

