package pagedkv

import (
	"time"

	"github.com/hupe1980/pagedkv/block"
	"github.com/hupe1980/pagedkv/internal/naive"
	"github.com/hupe1980/pagedkv/internal/prefixcache"
	"github.com/hupe1980/pagedkv/resource"
)

// tier binds one device's allocator to its slice of the global ID space.
type tier struct {
	device block.Device
	alloc  block.Allocator
	first  block.ID
	count  int
}

func (t *tier) owns(id block.ID) bool {
	return id >= t.first && id < t.first+block.ID(t.count)
}

// TieredAllocator routes block allocation across memory tiers.
//
// Allocation and capacity queries take an explicit device; calls carrying
// blocks or block IDs are routed by the ID's range. The composite performs
// no cross-tier data movement — an external scheduler reads per-tier counts,
// frees a chain on one tier and reallocates it on another, and content
// hashes make the migrated chain hit the same cache entries.
//
// Each tier is single-writer (see block.Allocator); since tiers own disjoint
// slot pools, different tiers may be driven from different exclusive-access
// domains.
type TieredAllocator struct {
	blockSize int
	tiers     []*tier
	byDevice  map[block.Device]*tier

	logger  *Logger
	metrics MetricsCollector

	rc            *resource.Controller
	reservedBytes int64
	closed        bool
}

var _ block.DeviceAware = (*TieredAllocator)(nil)

func (t *TieredAllocator) tierByDevice(d block.Device) (*tier, error) {
	tr, ok := t.byDevice[d]
	if !ok {
		return nil, ErrUnknownDevice
	}
	return tr, nil
}

func (t *TieredAllocator) tierByID(id block.ID) (*tier, error) {
	for _, tr := range t.tiers {
		if tr.owns(id) {
			return tr, nil
		}
	}
	return nil, block.Invariant("route", id, "id outside every tier's range")
}

// BlockSize returns the fixed token capacity of every block.
func (t *TieredAllocator) BlockSize() int { return t.blockSize }

// AllocateMutable returns a block on the given device with refcount 1 that
// is safe to append to directly.
func (t *TieredAllocator) AllocateMutable(d block.Device, prev block.Block) (block.Block, error) {
	tr, err := t.tierByDevice(d)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	b, err := tr.alloc.AllocateMutable(prev)
	t.metrics.RecordAllocate(d, time.Since(start), err)

	if err != nil {
		t.warnExhausted(d, err)
		return nil, err
	}
	return b, nil
}

// AllocateImmutable allocates a full block of known tokens on the given
// device, deduplicating via the tier's prefix cache when enabled.
func (t *TieredAllocator) AllocateImmutable(d block.Device, prev block.Block, tokenIDs []int) (block.Block, error) {
	tr, err := t.tierByDevice(d)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	b, err := tr.alloc.AllocateImmutable(prev, tokenIDs)
	t.metrics.RecordAllocate(d, time.Since(start), err)

	if err != nil {
		t.warnExhausted(d, err)
		return nil, err
	}
	return b, nil
}

// Free releases one owner's reference, routed to the tier owning the
// block's ID.
func (t *TieredAllocator) Free(b block.Block) error {
	tr, err := t.tierByID(b.ID())
	if err != nil {
		return err
	}

	start := time.Now()
	err = tr.alloc.Free(b)
	t.metrics.RecordFree(tr.device, time.Since(start), err)

	return err
}

// Fork registers a new owner for the chain ending at last, on the tier that
// owns it.
func (t *TieredAllocator) Fork(last block.Block) ([]block.Block, error) {
	tr, err := t.tierByID(last.ID())
	if err != nil {
		return nil, err
	}

	start := time.Now()
	blocks, err := tr.alloc.Fork(last)
	t.metrics.RecordFork(tr.device, len(blocks), time.Since(start), err)

	return blocks, err
}

// NumFreeBlocks counts allocatable slots on the device, including evictable
// ones. Unknown devices report zero.
func (t *TieredAllocator) NumFreeBlocks(d block.Device) int {
	tr, ok := t.byDevice[d]
	if !ok {
		return 0
	}
	return tr.alloc.NumFreeBlocks()
}

// NumTotalBlocks is the device's fixed pool size. Unknown devices report
// zero.
func (t *TieredAllocator) NumTotalBlocks(d block.Device) int {
	tr, ok := t.byDevice[d]
	if !ok {
		return 0
	}
	return tr.alloc.NumTotalBlocks()
}

// AllBlockIDs returns every valid slot ID across all tiers, in global ID
// order.
func (t *TieredAllocator) AllBlockIDs() []block.ID {
	var ids []block.ID
	for _, tr := range t.tiers {
		ids = append(ids, tr.alloc.AllBlockIDs()...)
	}
	return ids
}

// ClearCopyOnWrites drains the pending copy mapping of every tier into one
// map; tiers own disjoint ID ranges, so entries never collide.
func (t *TieredAllocator) ClearCopyOnWrites() map[block.ID][]block.ID {
	merged := make(map[block.ID][]block.ID)
	copies := 0
	for _, tr := range t.tiers {
		for src, dsts := range tr.alloc.ClearCopyOnWrites() {
			merged[src] = append(merged[src], dsts...)
			copies += len(dsts)
		}
	}

	t.metrics.RecordCopyOnWriteDrain(copies)

	return merged
}

// MarkBlocksAsAccessed updates recency metadata, routing each ID to its
// tier.
func (t *TieredAllocator) MarkBlocksAsAccessed(ids []block.ID, now time.Time) {
	for tr, tierIDs := range t.groupByTier(ids) {
		tr.alloc.MarkBlocksAsAccessed(tierIDs, now)
	}
}

// MarkBlocksAsComputed records executor-produced slots, routing each ID to
// its tier.
func (t *TieredAllocator) MarkBlocksAsComputed(ids []block.ID) {
	for tr, tierIDs := range t.groupByTier(ids) {
		tr.alloc.MarkBlocksAsComputed(tierIDs)
	}
}

// CommonComputedBlockIDs returns the longest common computed prefix of the
// given sequences. A sequence's chain lives on one tier, so the query is
// routed by the first block ID.
func (t *TieredAllocator) CommonComputedBlockIDs(seqBlockIDs [][]block.ID) []block.ID {
	for _, ids := range seqBlockIDs {
		if len(ids) == 0 {
			return nil
		}
	}
	if len(seqBlockIDs) == 0 {
		return nil
	}

	tr, err := t.tierByID(seqBlockIDs[0][0])
	if err != nil {
		return nil
	}
	return tr.alloc.CommonComputedBlockIDs(seqBlockIDs)
}

// Close releases the reserved memory budget. Safe to call once; the
// allocator must not be used afterwards.
func (t *TieredAllocator) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	if t.rc != nil && t.reservedBytes > 0 {
		t.rc.ReleaseMemory(t.reservedBytes)
	}

	return nil
}

func (t *TieredAllocator) groupByTier(ids []block.ID) map[*tier][]block.ID {
	grouped := make(map[*tier][]block.ID)
	for _, id := range ids {
		tr, err := t.tierByID(id)
		if err != nil {
			t.logger.Warn("dropping id outside every tier", "block_id", int(id))
			continue
		}
		grouped[tr] = append(grouped[tr], id)
	}
	return grouped
}

func (t *TieredAllocator) warnExhausted(d block.Device, err error) {
	if !IsNoFreeBlocks(err) {
		return
	}
	if t.rc.AllowWarn() {
		t.logger.WithDevice(d).Warn("block pool exhausted", "free", t.NumFreeBlocks(d))
	}
}

// DeviceStats is a point-in-time snapshot of one tier.
type DeviceStats struct {
	Device      block.Device
	TotalBlocks int
	FreeBlocks  int
	UsedBlocks  int

	Allocs       uint64
	Frees        uint64
	CacheHits    uint64
	CacheMisses  uint64
	Evictions    uint64
	Promotions   uint64
	CopyOnWrites uint64
	Forks        uint64
}

// Stats is a point-in-time snapshot across tiers.
type Stats struct {
	Devices     []DeviceStats
	MemoryUsage int64
}

// Stats returns a snapshot of every tier plus the tracked memory usage.
func (t *TieredAllocator) Stats() Stats {
	s := Stats{MemoryUsage: t.rc.MemoryUsage()}

	for _, tr := range t.tiers {
		ds := DeviceStats{
			Device:      tr.device,
			TotalBlocks: tr.alloc.NumTotalBlocks(),
			FreeBlocks:  tr.alloc.NumFreeBlocks(),
		}
		ds.UsedBlocks = ds.TotalBlocks - ds.FreeBlocks

		switch a := tr.alloc.(type) {
		case *prefixcache.Allocator:
			as := a.Stats()
			ds.Allocs = as.Allocs
			ds.Frees = as.Frees
			ds.CacheHits = as.CacheHits
			ds.CacheMisses = as.CacheMisses
			ds.Evictions = as.Evictions
			ds.Promotions = as.Promotions
			ds.CopyOnWrites = as.CopyOnWrites
			ds.Forks = as.Forks
		case *naive.Allocator:
			as := a.Stats()
			ds.Allocs = as.Allocs
			ds.Frees = as.Frees
			ds.CopyOnWrites = as.CopyOnWrites
			ds.Forks = as.Forks
		}

		s.Devices = append(s.Devices, ds)
	}

	return s
}
