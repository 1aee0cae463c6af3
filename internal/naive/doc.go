// Package naive implements the hashless block allocator used when prefix
// caching is disabled.
//
// Slots are handed out from a free-list stack and shared only through
// explicit forks. AllocateImmutable never hits a cache — identical content in
// two chains occupies two slots. Copy-on-write and refcount semantics are
// identical to the content-addressed allocator, so chain-handling code works
// against either variant.
package naive
