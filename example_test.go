package pagedkv_test

import (
	"fmt"
	"log"

	"github.com/hupe1980/pagedkv"
	"github.com/hupe1980/pagedkv/block"
)

// Example demonstrates growing a sequence block by block.
func Example() {
	alloc, err := pagedkv.New(
		pagedkv.WithBlockSize(4),
		pagedkv.WithDevice(block.DeviceGPU, 16),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer alloc.Close()

	// Prompt tokens arrive in full blocks, the decode tail is mutable.
	prompt, err := alloc.AllocateImmutable(block.DeviceGPU, nil, []int{101, 7592, 2088, 102})
	if err != nil {
		log.Fatal(err)
	}

	tail, err := alloc.AllocateMutable(block.DeviceGPU, prompt)
	if err != nil {
		log.Fatal(err)
	}
	if err := tail.AppendTokenIDs([]int{2023}); err != nil {
		log.Fatal(err)
	}

	fmt.Println("free blocks:", alloc.NumFreeBlocks(block.DeviceGPU))
	// Output: free blocks: 14
}

// Example_prefixCaching demonstrates content-addressed block reuse across
// sequences sharing a prompt prefix.
func Example_prefixCaching() {
	alloc, err := pagedkv.New(
		pagedkv.WithBlockSize(4),
		pagedkv.WithDevice(block.DeviceGPU, 16),
		pagedkv.WithPrefixCaching(true),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer alloc.Close()

	systemPrompt := []int{101, 7592, 2088, 102}

	seq1, err := alloc.AllocateImmutable(block.DeviceGPU, nil, systemPrompt)
	if err != nil {
		log.Fatal(err)
	}
	seq2, err := alloc.AllocateImmutable(block.DeviceGPU, nil, systemPrompt)
	if err != nil {
		log.Fatal(err)
	}

	// Both sequences share one physical slot.
	fmt.Println("shared:", seq1.ID() == seq2.ID())
	fmt.Println("free blocks:", alloc.NumFreeBlocks(block.DeviceGPU))
	// Output:
	// shared: true
	// free blocks: 15
}

// Example_fork demonstrates zero-copy sequence duplication with deferred
// copy-on-write.
func Example_fork() {
	alloc, err := pagedkv.New(
		pagedkv.WithBlockSize(4),
		pagedkv.WithDevice(block.DeviceGPU, 16),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer alloc.Close()

	last, err := alloc.AllocateImmutable(block.DeviceGPU, nil, []int{1, 2})
	if err != nil {
		log.Fatal(err)
	}

	// Fork shares every slot; nothing is copied yet.
	forked, err := alloc.Fork(last)
	if err != nil {
		log.Fatal(err)
	}

	// Appending to the forked view diverges it onto a fresh slot.
	if err := forked[0].AppendTokenIDs([]int{3}); err != nil {
		log.Fatal(err)
	}

	// The executor drains the pending physical copies once per step.
	copies := alloc.ClearCopyOnWrites()
	fmt.Println("pending copies:", len(copies))
	// Output: pending copies: 1
}
