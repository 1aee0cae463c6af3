// Package evictor ranks evictable blocks for reuse.
//
// A block becomes evictable when its last owner frees it: the slot's content
// and content hash stay intact so a future prefix-cache lookup can resurrect
// it without recomputation. Eviction is lazy — content is discarded only when
// the slot is actually claimed for a new allocation. The policy is least
// recently used, ordered by the access timestamps the scheduler reports via
// MarkBlocksAsAccessed, with insertion order breaking ties.
package evictor
