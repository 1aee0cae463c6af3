package evictor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pagedkv/block"
)

func TestLRU_EvictOldest(t *testing.T) {
	l := NewLRU()
	base := time.Unix(1000, 0)

	l.Add(1, 0xa, base.Add(3*time.Second))
	l.Add(2, 0xb, base.Add(1*time.Second))
	l.Add(3, 0xc, base.Add(2*time.Second))

	id, hash, err := l.Evict()
	require.NoError(t, err)
	assert.Equal(t, block.ID(2), id)
	assert.Equal(t, uint64(0xb), hash)

	id, _, err = l.Evict()
	require.NoError(t, err)
	assert.Equal(t, block.ID(3), id)

	id, _, err = l.Evict()
	require.NoError(t, err)
	assert.Equal(t, block.ID(1), id)

	_, _, err = l.Evict()
	require.ErrorIs(t, err, block.ErrNoFreeBlocks)
}

func TestLRU_TieBreakByInsertionOrder(t *testing.T) {
	l := NewLRU()
	ts := time.Unix(1000, 0)

	l.Add(7, 0, ts)
	l.Add(4, 0, ts)
	l.Add(9, 0, ts)

	// Equal timestamps fall back to insertion order.
	var got []block.ID
	for range 3 {
		id, _, err := l.Evict()
		require.NoError(t, err)
		got = append(got, id)
	}

	assert.Equal(t, []block.ID{7, 4, 9}, got)
}

func TestLRU_UpdateReordersEviction(t *testing.T) {
	l := NewLRU()
	base := time.Unix(1000, 0)

	l.Add(1, 0, base.Add(1*time.Second))
	l.Add(2, 0, base.Add(2*time.Second))

	// Touching block 1 makes block 2 the oldest.
	require.True(t, l.Update(1, base.Add(5*time.Second)))
	assert.False(t, l.Update(99, base))

	id, _, err := l.Evict()
	require.NoError(t, err)
	assert.Equal(t, block.ID(2), id)
}

func TestLRU_Remove(t *testing.T) {
	l := NewLRU()
	l.Add(5, 0xdead, time.Unix(1000, 0))

	require.True(t, l.Contains(5))
	assert.Equal(t, 1, l.Num())

	hash, ok := l.Remove(5)
	require.True(t, ok)
	assert.Equal(t, uint64(0xdead), hash)

	assert.False(t, l.Contains(5))
	assert.Equal(t, 0, l.Num())

	_, ok = l.Remove(5)
	assert.False(t, ok)
}
