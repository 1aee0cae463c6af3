package evictor

import (
	"time"

	"github.com/hupe1980/pagedkv/block"
)

type entry struct {
	id           block.ID
	contentHash  uint64
	lastAccessed time.Time
	seq          uint64
}

// LRU tracks zero-refcount blocks whose content is still intact and picks
// the least recently accessed one when a slot must be reclaimed. Not safe
// for concurrent use; the owning allocator linearizes access.
type LRU struct {
	entries map[block.ID]*entry
	seq     uint64
}

// NewLRU creates an empty evictor.
func NewLRU() *LRU {
	return &LRU{entries: make(map[block.ID]*entry)}
}

// Add registers an evictable block. lastAccessed is the block's most recent
// access time while it was live.
func (l *LRU) Add(id block.ID, contentHash uint64, lastAccessed time.Time) {
	l.seq++
	l.entries[id] = &entry{
		id:           id,
		contentHash:  contentHash,
		lastAccessed: lastAccessed,
		seq:          l.seq,
	}
}

// Update refreshes the access time of an evictable block. It reports whether
// the block was tracked.
func (l *LRU) Update(id block.ID, now time.Time) bool {
	e, ok := l.entries[id]
	if !ok {
		return false
	}
	e.lastAccessed = now
	l.seq++
	e.seq = l.seq
	return true
}

// Remove takes a block out of the evictable pool, typically because a cache
// hit resurrected it. It returns the tracked content hash.
func (l *LRU) Remove(id block.ID) (contentHash uint64, ok bool) {
	e, ok := l.entries[id]
	if !ok {
		return 0, false
	}
	delete(l.entries, id)
	return e.contentHash, true
}

// Evict removes and returns the least recently accessed block. It fails with
// ErrNoFreeBlocks when nothing is evictable.
func (l *LRU) Evict() (id block.ID, contentHash uint64, err error) {
	if len(l.entries) == 0 {
		return block.None, 0, block.ErrNoFreeBlocks
	}

	var oldest *entry
	for _, e := range l.entries {
		if oldest == nil ||
			e.lastAccessed.Before(oldest.lastAccessed) ||
			(e.lastAccessed.Equal(oldest.lastAccessed) && e.seq < oldest.seq) {
			oldest = e
		}
	}

	delete(l.entries, oldest.id)
	return oldest.id, oldest.contentHash, nil
}

// Contains reports whether the block is currently evictable.
func (l *LRU) Contains(id block.ID) bool {
	_, ok := l.entries[id]
	return ok
}

// Num returns the number of evictable blocks. Evictable slots count as free
// for capacity planning.
func (l *LRU) Num() int {
	return len(l.entries)
}
