package pagedkv

import (
	"fmt"

	"github.com/hupe1980/pagedkv/block"
	"github.com/hupe1980/pagedkv/internal/naive"
	"github.com/hupe1980/pagedkv/internal/prefixcache"
)

// New creates a TieredAllocator with one block pool per configured device.
//
// Tiers receive disjoint block-ID ranges in configuration order: the first
// tier owns [0, n0), the second [n0, n0+n1), and so on, so a block ID alone
// identifies its tier. With WithPrefixCaching, every tier is
// content-addressed; content hashes are comparable across tiers, so a chain
// migrated by an external scheduler keeps its cache identity.
func New(opts ...Option) (*TieredAllocator, error) {
	o := &options{
		blockSize: DefaultBlockSize,
		logger:    NoopLogger(),
		metrics:   NoopMetricsCollector{},
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.blockSize <= 0 {
		return nil, fmt.Errorf("block size %d: %w", o.blockSize, ErrInvalidConfig)
	}
	if len(o.devices) == 0 {
		return nil, fmt.Errorf("no devices configured: %w", ErrInvalidConfig)
	}

	seen := make(map[block.Device]bool, len(o.devices))
	totalBlocks := 0
	for _, dc := range o.devices {
		if dc.NumBlocks <= 0 {
			return nil, fmt.Errorf("device %s: pool size %d: %w", dc.Device, dc.NumBlocks, ErrInvalidConfig)
		}
		if seen[dc.Device] {
			return nil, fmt.Errorf("device %s configured twice: %w", dc.Device, ErrInvalidConfig)
		}
		seen[dc.Device] = true
		totalBlocks += dc.NumBlocks
	}

	var reserved int64
	if o.rc != nil && o.bytesPerBlock > 0 {
		reserved = int64(totalBlocks) * o.bytesPerBlock
		if !o.rc.TryAcquireMemory(reserved) {
			return nil, fmt.Errorf("memory budget cannot cover %d blocks (%d bytes): %w",
				totalBlocks, reserved, ErrInvalidConfig)
		}
	}

	t := &TieredAllocator{
		blockSize:     o.blockSize,
		byDevice:      make(map[block.Device]*tier, len(o.devices)),
		logger:        o.logger,
		metrics:       o.metrics,
		rc:            o.rc,
		reservedBytes: reserved,
	}

	first := block.ID(0)
	for _, dc := range o.devices {
		var alloc block.Allocator
		if o.prefixCaching {
			alloc = prefixcache.New(prefixcache.Config{
				BlockSize:    o.blockSize,
				NumBlocks:    dc.NumBlocks,
				FirstBlockID: first,
			})
		} else {
			alloc = naive.New(naive.Config{
				BlockSize:    o.blockSize,
				NumBlocks:    dc.NumBlocks,
				FirstBlockID: first,
			})
		}

		tr := &tier{
			device: dc.Device,
			alloc:  alloc,
			first:  first,
			count:  dc.NumBlocks,
		}
		t.tiers = append(t.tiers, tr)
		t.byDevice[dc.Device] = tr

		first += block.ID(dc.NumBlocks)
	}

	t.logger.Info("allocator created",
		"block_size", o.blockSize,
		"tiers", len(t.tiers),
		"total_blocks", totalBlocks,
		"prefix_caching", o.prefixCaching,
	)

	return t, nil
}
