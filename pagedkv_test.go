package pagedkv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pagedkv/block"
	"github.com/hupe1980/pagedkv/resource"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{
			name: "no devices",
			opts: nil,
		},
		{
			name: "non-positive block size",
			opts: []Option{WithBlockSize(0), WithDevice(block.DeviceGPU, 4)},
		},
		{
			name: "non-positive pool size",
			opts: []Option{WithDevice(block.DeviceGPU, 0)},
		},
		{
			name: "duplicate device",
			opts: []Option{WithDevice(block.DeviceGPU, 4), WithDevice(block.DeviceGPU, 4)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	a, err := New(WithDevice(block.DeviceGPU, 4))
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, DefaultBlockSize, a.BlockSize())
	assert.Equal(t, 4, a.NumTotalBlocks(block.DeviceGPU))
	assert.Equal(t, 4, a.NumFreeBlocks(block.DeviceGPU))
}

func TestTieredAllocator_DisjointIDRanges(t *testing.T) {
	a, err := New(
		WithBlockSize(4),
		WithDevice(block.DeviceGPU, 4),
		WithDevice(block.DeviceCPU, 4),
	)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, []block.ID{0, 1, 2, 3, 4, 5, 6, 7}, a.AllBlockIDs())

	g, err := a.AllocateMutable(block.DeviceGPU, nil)
	require.NoError(t, err)
	c, err := a.AllocateMutable(block.DeviceCPU, nil)
	require.NoError(t, err)

	assert.Less(t, int(g.ID()), 4)
	assert.GreaterOrEqual(t, int(c.ID()), 4)

	// Per-device accounting is independent.
	assert.Equal(t, 3, a.NumFreeBlocks(block.DeviceGPU))
	assert.Equal(t, 3, a.NumFreeBlocks(block.DeviceCPU))

	// Free routes by ID range, no device argument needed.
	require.NoError(t, a.Free(c))
	assert.Equal(t, 3, a.NumFreeBlocks(block.DeviceGPU))
	assert.Equal(t, 4, a.NumFreeBlocks(block.DeviceCPU))
}

func TestTieredAllocator_UnknownDevice(t *testing.T) {
	a, err := New(WithBlockSize(4), WithDevice(block.DeviceGPU, 4))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.AllocateMutable(block.DeviceCPU, nil)
	require.ErrorIs(t, err, ErrUnknownDevice)

	_, err = a.AllocateImmutable(block.DeviceCPU, nil, []int{1, 2, 3, 4})
	require.ErrorIs(t, err, ErrUnknownDevice)

	assert.Equal(t, 0, a.NumFreeBlocks(block.DeviceCPU))
	assert.Equal(t, 0, a.NumTotalBlocks(block.DeviceCPU))
}

func TestTieredAllocator_Exhaustion(t *testing.T) {
	a, err := New(WithBlockSize(4), WithDevice(block.DeviceGPU, 1))
	require.NoError(t, err)
	defer a.Close()

	_, err = a.AllocateMutable(block.DeviceGPU, nil)
	require.NoError(t, err)

	_, err = a.AllocateMutable(block.DeviceGPU, nil)
	require.ErrorIs(t, err, ErrNoFreeBlocks)
	assert.True(t, IsNoFreeBlocks(err))
}

func TestTieredAllocator_ForkAndCopyOnWriteDrain(t *testing.T) {
	a, err := New(
		WithBlockSize(4),
		WithDevice(block.DeviceGPU, 4),
		WithDevice(block.DeviceCPU, 4),
	)
	require.NoError(t, err)
	defer a.Close()

	// Diverge a forked block on each tier; the drain merges both tiers'
	// pending copies.
	srcs := make(map[block.Device]block.ID)
	dsts := make(map[block.Device]block.ID)
	for _, d := range []block.Device{block.DeviceGPU, block.DeviceCPU} {
		b, err := a.AllocateImmutable(d, nil, []int{1, 2})
		require.NoError(t, err)
		srcs[d] = b.ID()

		forked, err := a.Fork(b)
		require.NoError(t, err)
		require.Len(t, forked, 1)

		require.NoError(t, forked[0].AppendTokenIDs([]int{3}))
		dsts[d] = forked[0].ID()
	}

	copies := a.ClearCopyOnWrites()
	assert.Equal(t, map[block.ID][]block.ID{
		srcs[block.DeviceGPU]: {dsts[block.DeviceGPU]},
		srcs[block.DeviceCPU]: {dsts[block.DeviceCPU]},
	}, copies)

	assert.Empty(t, a.ClearCopyOnWrites())
}

func TestTieredAllocator_PrefixCaching(t *testing.T) {
	a, err := New(
		WithBlockSize(4),
		WithDevice(block.DeviceGPU, 4),
		WithPrefixCaching(true),
	)
	require.NoError(t, err)
	defer a.Close()

	tokens := []int{1, 2, 3, 4}
	b1, err := a.AllocateImmutable(block.DeviceGPU, nil, tokens)
	require.NoError(t, err)
	b2, err := a.AllocateImmutable(block.DeviceGPU, nil, tokens)
	require.NoError(t, err)

	assert.Equal(t, b1.ID(), b2.ID())
	assert.Equal(t, 3, a.NumFreeBlocks(block.DeviceGPU))

	// Partial content must use mutable allocation when caching is on.
	_, err = a.AllocateImmutable(block.DeviceGPU, nil, []int{1, 2})
	require.ErrorIs(t, err, block.ErrIncompleteBlock)
}

func TestTieredAllocator_CommonComputedBlockIDs(t *testing.T) {
	a, err := New(WithBlockSize(4), WithDevice(block.DeviceGPU, 4))
	require.NoError(t, err)
	defer a.Close()

	b1, err := a.AllocateMutable(block.DeviceGPU, nil)
	require.NoError(t, err)
	b2, err := a.AllocateMutable(block.DeviceGPU, b1)
	require.NoError(t, err)

	ids := []block.ID{b1.ID(), b2.ID()}
	assert.Empty(t, a.CommonComputedBlockIDs([][]block.ID{ids}))

	a.MarkBlocksAsComputed([]block.ID{b1.ID()})
	assert.Equal(t, []block.ID{b1.ID()}, a.CommonComputedBlockIDs([][]block.ID{ids}))

	a.MarkBlocksAsComputed([]block.ID{b2.ID()})
	assert.Equal(t, ids, a.CommonComputedBlockIDs([][]block.ID{ids}))

	// Sequences with an empty block list have no common prefix.
	assert.Nil(t, a.CommonComputedBlockIDs([][]block.ID{ids, {}}))
	assert.Nil(t, a.CommonComputedBlockIDs(nil))
}

func TestTieredAllocator_MarkBlocksAsAccessed(t *testing.T) {
	a, err := New(
		WithBlockSize(4),
		WithDevice(block.DeviceGPU, 2),
		WithDevice(block.DeviceCPU, 2),
		WithPrefixCaching(true),
	)
	require.NoError(t, err)
	defer a.Close()

	g, err := a.AllocateImmutable(block.DeviceGPU, nil, []int{1, 2, 3, 4})
	require.NoError(t, err)
	c, err := a.AllocateImmutable(block.DeviceCPU, nil, []int{1, 2, 3, 4})
	require.NoError(t, err)

	// Routing accepts a mixed-tier batch, including stale IDs that no tier
	// owns.
	a.MarkBlocksAsAccessed([]block.ID{g.ID(), c.ID(), 999}, time.Now())
}

func TestNew_ResourceBudget(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})

	_, err := New(
		WithBlockSize(4),
		WithDevice(block.DeviceGPU, 6),
		WithDevice(block.DeviceCPU, 6),
		WithResourceController(rc, 10),
	)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, int64(0), rc.MemoryUsage())

	a, err := New(
		WithBlockSize(4),
		WithDevice(block.DeviceGPU, 6),
		WithDevice(block.DeviceCPU, 4),
		WithResourceController(rc, 10),
	)
	require.NoError(t, err)
	assert.Equal(t, int64(100), rc.MemoryUsage())

	require.NoError(t, a.Close())
	assert.Equal(t, int64(0), rc.MemoryUsage())

	// Close is idempotent.
	require.NoError(t, a.Close())
	assert.Equal(t, int64(0), rc.MemoryUsage())
}

func TestTieredAllocator_Stats(t *testing.T) {
	a, err := New(
		WithBlockSize(4),
		WithDevice(block.DeviceGPU, 4),
		WithPrefixCaching(true),
	)
	require.NoError(t, err)
	defer a.Close()

	tokens := []int{1, 2, 3, 4}
	_, err = a.AllocateImmutable(block.DeviceGPU, nil, tokens)
	require.NoError(t, err)
	_, err = a.AllocateImmutable(block.DeviceGPU, nil, tokens)
	require.NoError(t, err)

	s := a.Stats()
	require.Len(t, s.Devices, 1)

	ds := s.Devices[0]
	assert.Equal(t, block.DeviceGPU, ds.Device)
	assert.Equal(t, 4, ds.TotalBlocks)
	assert.Equal(t, 3, ds.FreeBlocks)
	assert.Equal(t, 1, ds.UsedBlocks)
	assert.Equal(t, uint64(1), ds.Allocs)
	assert.Equal(t, uint64(1), ds.CacheHits)
	assert.Equal(t, uint64(1), ds.CacheMisses)
}

func TestTieredAllocator_Metrics(t *testing.T) {
	mc := &BasicMetricsCollector{}

	a, err := New(
		WithBlockSize(4),
		WithDevice(block.DeviceGPU, 2),
		WithMetricsCollector(mc),
	)
	require.NoError(t, err)
	defer a.Close()

	b, err := a.AllocateImmutable(block.DeviceGPU, nil, []int{1, 2})
	require.NoError(t, err)

	// The copy-on-write divergence claims the pool's second slot.
	forked, err := a.Fork(b)
	require.NoError(t, err)
	require.NoError(t, forked[0].AppendTokenIDs([]int{3}))
	a.ClearCopyOnWrites()

	// The pool is exhausted, so an allocation error is recorded too.
	require.Equal(t, 0, a.NumFreeBlocks(block.DeviceGPU))
	_, err = a.AllocateMutable(block.DeviceGPU, nil)
	require.ErrorIs(t, err, ErrNoFreeBlocks)

	require.NoError(t, a.Free(b))

	assert.Equal(t, int64(2), mc.AllocCount.Load())
	assert.Equal(t, int64(1), mc.AllocErrors.Load())
	assert.Equal(t, int64(1), mc.FreeCount.Load())
	assert.Equal(t, int64(1), mc.ForkCount.Load())
	assert.Equal(t, int64(1), mc.ForkBlocks.Load())
	assert.Equal(t, int64(1), mc.CopyOnWrites.Load())
}
