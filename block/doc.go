// Package block defines the shared types of the pagedkv allocator: the
// Block handle, the Allocator contracts, device tags and the error taxonomy.
//
// # Blocks and Chains
//
// A Block is a fixed-capacity handle over one physical KV-cache slot. Blocks
// link backwards via PrevBlock, forming a per-sequence chain. A physical slot
// may back several chains at once (shared prefixes, forked sequences); the
// allocator tracks this with reference counts. A Block handle owns only its
// token-id metadata and the chain link — the physical slot is owned by the
// allocator that issued the ID.
//
// # Allocators
//
// Allocator is the single-tier contract: allocation, sharing (fork),
// copy-on-write bookkeeping and prefix-cache queries over one pool of slots.
// DeviceAware composes one Allocator per memory tier and routes calls by
// Device. Neither moves any tensor data; callers drive physical copies using
// the block IDs and the copy-on-write mapping returned here.
package block
