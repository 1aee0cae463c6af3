// Package prefixcache implements the content-addressed block allocator.
//
// Every full block carries a chained content hash over its predecessor's
// hash and its own tokens, so a block's hash identifies the entire token
// prefix leading up to it. Immutable allocations deduplicate through a
// hash → slot index: identical prompt prefixes across requests, or identical
// branches of one sequence, never occupy more than one physical slot.
//
// Freed slots are not wiped. They move to an LRU evictable pool with hash
// and content intact, where a later lookup can resurrect them refcount
// 0 → 1 without recomputation; content is discarded only when the slot is
// claimed for a new allocation.
//
// Mutable blocks are hashless until they fill up. On fill they are promoted:
// the hash is computed and either registered, or — if already registered to
// another slot — the freshly filled slot is released and the handle rebound
// to the registered one.
package prefixcache
