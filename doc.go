// Package pagedkv provides a paged KV-cache block allocator for LLM
// inference serving.
//
// The allocator manages the attention key/value cache as pools of
// fixed-size physical blocks shared across concurrent generation sequences.
// It decides which physical slot backs which logical chunk of a sequence's
// cache, reuses blocks across sequences with identical prefixes (prefix
// caching), lets concurrent branches of one sequence share blocks safely
// (copy-on-write), and partitions scarce device memory across tiers.
//
// pagedkv is pure bookkeeping: it consumes token-id sequences and emits
// block IDs and block metadata. It never touches tensor storage — the
// execution engine indexes its own device buffers with the IDs returned
// here and performs the physical copies described by ClearCopyOnWrites.
//
// # Quick Start
//
//	alloc, err := pagedkv.New(
//	    pagedkv.WithBlockSize(16),
//	    pagedkv.WithDevice(block.DeviceGPU, 4096),
//	    pagedkv.WithDevice(block.DeviceCPU, 16384),
//	    pagedkv.WithPrefixCaching(true),
//	)
//	if err != nil {
//	    panic(err)
//	}
//	defer alloc.Close()
//
// Grow a sequence by whole blocks of prompt tokens, then a mutable tail:
//
//	b1, _ := alloc.AllocateImmutable(block.DeviceGPU, nil, prompt[:16])
//	b2, _ := alloc.AllocateImmutable(block.DeviceGPU, b1, prompt[16:32])
//	tail, _ := alloc.AllocateMutable(block.DeviceGPU, b2)
//	_ = tail.AppendTokenIDs(sampled)
//
// Branch a sequence for parallel sampling without copying cache memory:
//
//	branch, _ := alloc.Fork(tail)
//
// Before each forward pass, drain the deferred copies and hand them to the
// execution engine:
//
//	for src, dsts := range alloc.ClearCopyOnWrites() {
//	    engine.CopyBlocks(src, dsts)
//	}
//
// # Back-pressure
//
// Pool exhaustion surfaces as ErrNoFreeBlocks. It is a scheduling signal,
// not a failure: preempt a sequence, free its blocks and retry, or queue the
// request for a later step.
package pagedkv
