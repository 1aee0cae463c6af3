package prefixcache

import (
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/pagedkv/block"
	"github.com/hupe1980/pagedkv/internal/chain"
	"github.com/hupe1980/pagedkv/internal/evictor"
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
	CacheHits    uint64
	CacheMisses  uint64
	Evictions    uint64
	Promotions   uint64
	CopyOnWrites uint64
	Forks        uint64
}

// slotMeta describes a registered (content-addressed) slot. Unregistered
// mutable slots carry no meta until they are promoted.
type slotMeta struct {
	hash     uint64
	tokenIDs []int
}

// Allocator is the content-addressed block.Allocator. Single-writer; the
// caller linearizes all access (see block.Allocator).
type Allocator struct {
	blockSize int
	first     block.ID
	numBlocks int

	free    []block.ID
	refs    *refcount.RefCounter
	cow     *refcount.CopyOnWriteTracker
	factory block.Factory

	byHash       map[uint64]block.ID
	slots        map[block.ID]*slotMeta
	evict        *evictor.LRU
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
		byHash:       make(map[uint64]block.ID),
		slots:        make(map[block.ID]*slotMeta),
		evict:        evictor.NewLRU(),
		computed:     roaring.New(),
		lastAccessed: make(map[block.ID]time.Time),
	}

	if a.factory == nil {
		a.factory = BlockFactory
	}

	for i := cfg.NumBlocks - 1; i >= 0; i-- {
		a.free = append(a.free, cfg.FirstBlockID+block.ID(i))
	}

	return a
}

// claimBlockID takes a slot from the free list, falling back to evicting the
// least recently used intact slot. Eviction is the moment an old slot's
// content is finally discarded: its hash registration and computed flag are
// dropped before the slot is reused.
func (a *Allocator) claimBlockID() (block.ID, error) {
	var id block.ID

	if n := len(a.free); n > 0 {
		id = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		evicted, hash, err := a.evict.Evict()
		if err != nil {
			return block.None, err
		}
		if cur, ok := a.byHash[hash]; ok && cur == evicted {
			delete(a.byHash, hash)
		}
		delete(a.slots, evicted)
		a.stats.Evictions++
		id = evicted
	}

	if _, err := a.refs.Incr(id); err != nil {
		return block.None, err
	}

	a.computed.Remove(uint32(id))
	a.stats.Allocs++

	return id, nil
}

// AllocateMutable returns an empty, hashless block with refcount 1.
func (a *Allocator) AllocateMutable(prev block.Block) (block.Block, error) {
	id, err := a.claimBlockID()
	if err != nil {
		return nil, err
	}
	return a.factory(prev, nil, a.blockSize, a, id), nil
}

// AllocateImmutable allocates one full block of already-known tokens,
// deduplicating onto an existing slot when the chained content hash is
// already registered. A hit increments the slot's refcount — resurrecting it
// from the evictable pool if necessary — and preserves its computed state; a
// not-yet-computed hit simply stays invisible to CommonComputedBlockIDs
// until the executor marks it.
func (a *Allocator) AllocateImmutable(prev block.Block, tokenIDs []int) (block.Block, error) {
	if len(tokenIDs) > a.blockSize {
		return nil, &block.ErrCapacityExceeded{Requested: len(tokenIDs), EmptySlots: a.blockSize}
	}
	if len(tokenIDs) < a.blockSize {
		return nil, block.ErrIncompleteBlock
	}

	prevHash, err := a.prevHash(prev)
	if err != nil {
		return nil, err
	}
	hash := chainHash(prevHash, tokenIDs)

	tokens := make([]int, len(tokenIDs))
	copy(tokens, tokenIDs)

	if id, ok := a.byHash[hash]; ok {
		meta := a.slots[id]
		if !slices.Equal(meta.tokenIDs, tokens) {
			return nil, block.Invariant("allocate", id, "content hash collision: registered tokens differ")
		}

		a.evict.Remove(id)
		if _, err := a.refs.Incr(id); err != nil {
			return nil, err
		}

		a.stats.CacheHits++

		return a.factory(prev, tokens, a.blockSize, a, id), nil
	}

	a.stats.CacheMisses++

	id, err := a.claimBlockID()
	if err != nil {
		return nil, err
	}

	a.slots[id] = &slotMeta{hash: hash, tokenIDs: tokens}
	a.byHash[hash] = id

	return a.factory(prev, tokens, a.blockSize, a, id), nil
}

// Free releases one owner's reference and unbinds the handle. A registered
// slot whose last owner leaves moves to the evictable pool with content
// intact; an unregistered one returns straight to the free list.
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
		if meta, registered := a.slots[id]; registered {
			a.evict.Add(id, meta.hash, a.lastAccessed[id])
		} else {
			a.free = append(a.free, id)
		}
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

// NumFreeBlocks counts free-list slots plus evictable slots; both are
// claimable capacity.
func (a *Allocator) NumFreeBlocks() int { return len(a.free) + a.evict.Num() }

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

// MarkBlocksAsAccessed refreshes recency for both live and evictable slots;
// eviction order follows these timestamps. IDs outside the pool range are
// ignored so the recency map only ever holds this pool's slots.
func (a *Allocator) MarkBlocksAsAccessed(ids []block.ID, now time.Time) {
	for _, id := range ids {
		if _, err := a.refs.Get(id); err != nil {
			continue
		}
		if a.evict.Update(id, now) {
			continue
		}
		a.lastAccessed[id] = now
	}
}

// MarkBlocksAsComputed flags slots whose KV content the executor has
// produced. Until a slot is marked it never contributes to
// CommonComputedBlockIDs, even when shared via a cache hit.
func (a *Allocator) MarkBlocksAsComputed(ids []block.ID) {
	for _, id := range ids {
		a.computed.Add(uint32(id))
	}
}

// CommonComputedBlockIDs returns the longest prefix of block IDs identical
// in every sequence with every block computed, root outward.
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

func (a *Allocator) prevHash(prev block.Block) (uint64, error) {
	if prev == nil {
		return rootHash, nil
	}
	h, ok := prev.ContentHash()
	if !ok {
		return 0, block.Invariant("allocate", prev.ID(), "previous block has no content hash")
	}
	return h, nil
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

	dst, err := a.claimBlockID()
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

// promote registers a freshly filled mutable block under its content hash.
// If the hash is already registered to another slot, the filled slot is
// released and the caller's handle rebinds to the registered one — the
// append-path twin of the AllocateImmutable dedup.
func (a *Allocator) promote(id block.ID, hash uint64, tokenIDs []int) (block.ID, error) {
	if existing, ok := a.byHash[hash]; ok {
		meta := a.slots[existing]
		if !slices.Equal(meta.tokenIDs, tokenIDs) {
			return block.None, block.Invariant("promote", existing, "content hash collision: registered tokens differ")
		}

		remaining, err := a.refs.Decr(id)
		if err != nil {
			return block.None, err
		}
		if remaining != 0 {
			// cowBlockIfNotAppendable guarantees exclusivity before any
			// append, so a filled mutable block has exactly one owner.
			return block.None, block.Invariant("promote", id, "promoted block is still shared")
		}
		a.free = append(a.free, id)
		delete(a.lastAccessed, id)

		a.evict.Remove(existing)
		if _, err := a.refs.Incr(existing); err != nil {
			return block.None, err
		}

		a.stats.CacheHits++
		a.stats.Promotions++

		return existing, nil
	}

	tokens := make([]int, len(tokenIDs))
	copy(tokens, tokenIDs)

	a.slots[id] = &slotMeta{hash: hash, tokenIDs: tokens}
	a.byHash[hash] = id
	a.stats.Promotions++

	return id, nil
}
