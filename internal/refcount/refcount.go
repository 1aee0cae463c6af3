package refcount

import (
	"fmt"

	"github.com/hupe1980/pagedkv/block"
)

// RefCounter counts chain owners per physical slot over the dense ID range
// [First, First+Count). It is not safe for concurrent use; the owning
// allocator linearizes access.
type RefCounter struct {
	first  block.ID
	counts []int
}

// NewRefCounter creates a counter for count slots starting at first. All
// slots start unreferenced.
func NewRefCounter(first block.ID, count int) *RefCounter {
	return &RefCounter{
		first:  first,
		counts: make([]int, count),
	}
}

func (r *RefCounter) index(id block.ID) (int, error) {
	i := int(id - r.first)
	if id == block.None || i < 0 || i >= len(r.counts) {
		return 0, block.Invariant("refcount", id, fmt.Sprintf("id outside pool range [%d, %d)", r.first, int(r.first)+len(r.counts)))
	}
	return i, nil
}

// Incr adds one owner and returns the new count.
func (r *RefCounter) Incr(id block.ID) (int, error) {
	i, err := r.index(id)
	if err != nil {
		return 0, err
	}
	r.counts[i]++
	return r.counts[i], nil
}

// Decr removes one owner and returns the remaining count. Decrementing an
// unreferenced slot is a double free and fails loudly.
func (r *RefCounter) Decr(id block.ID) (int, error) {
	i, err := r.index(id)
	if err != nil {
		return 0, err
	}
	if r.counts[i] == 0 {
		return 0, block.Invariant("free", id, "refcount underflow (double free)")
	}
	r.counts[i]--
	return r.counts[i], nil
}

// Get returns the current owner count.
func (r *RefCounter) Get(id block.ID) (int, error) {
	i, err := r.index(id)
	if err != nil {
		return 0, err
	}
	return r.counts[i], nil
}

// CopyOnWriteTracker accumulates deferred physical copies. A record is added
// whenever a shared slot must diverge: the allocator claims a destination
// slot and the external executor later copies tensor content source → each
// destination, driven by the drained mapping.
type CopyOnWriteTracker struct {
	copies map[block.ID][]block.ID
}

// NewCopyOnWriteTracker creates an empty tracker.
func NewCopyOnWriteTracker() *CopyOnWriteTracker {
	return &CopyOnWriteTracker{copies: make(map[block.ID][]block.ID)}
}

// Record notes that dst must receive a copy of src's content.
func (t *CopyOnWriteTracker) Record(src, dst block.ID) {
	t.copies[src] = append(t.copies[src], dst)
}

// Drain returns the accumulated mapping and resets the tracker. A second
// drain with no interleaved records returns an empty map.
func (t *CopyOnWriteTracker) Drain() map[block.ID][]block.ID {
	out := t.copies
	t.copies = make(map[block.ID][]block.ID)
	return out
}
