package prefixcache

import (
	"github.com/hupe1980/pagedkv/block"
)

// blockHandle is one owner's view of a slot. Token metadata lives in the
// handle; the physical slot binding and its hash registration are shared
// through the allocator.
type blockHandle struct {
	alloc     *Allocator
	prev      block.Block
	tokenIDs  []int
	blockSize int
	id        block.ID

	hash   uint64
	hashed bool
}

var _ block.Block = (*blockHandle)(nil)

// BlockFactory is the default block.Factory for the prefix-caching
// allocator. It must be paired with a *prefixcache.Allocator.
func BlockFactory(prev block.Block, tokenIDs []int, blockSize int, alloc block.Allocator, id block.ID) block.Block {
	a, ok := alloc.(*Allocator)
	if !ok {
		panic("prefixcache.BlockFactory requires a *prefixcache.Allocator")
	}
	return &blockHandle{
		alloc:     a,
		prev:      prev,
		tokenIDs:  tokenIDs,
		blockSize: blockSize,
		id:        id,
	}
}

// AppendTokenIDs extends the handle's tokens. A shared slot is rebound to a
// fresh one first (copy-on-write); a block that fills up is promoted into
// the content-addressed index, which may dedup it onto an existing slot.
func (b *blockHandle) AppendTokenIDs(tokenIDs []int) error {
	if len(tokenIDs) == 0 {
		return nil
	}
	if len(tokenIDs) > b.NumEmptySlots() {
		return &block.ErrCapacityExceeded{Requested: len(tokenIDs), EmptySlots: b.NumEmptySlots()}
	}

	if b.id != block.None {
		id, err := b.alloc.cowBlockIfNotAppendable(b.id)
		if err != nil {
			return err
		}
		b.id = id
	}

	b.tokenIDs = append(b.tokenIDs, tokenIDs...)

	if b.id != block.None && b.IsFull() {
		if hash, ok := b.ContentHash(); ok {
			id, err := b.alloc.promote(b.id, hash, b.tokenIDs)
			if err != nil {
				return err
			}
			b.id = id
		}
	}

	return nil
}

func (b *blockHandle) ID() block.ID { return b.id }

func (b *blockHandle) TokenIDs() []int { return b.tokenIDs }

func (b *blockHandle) NumEmptySlots() int { return b.blockSize - len(b.tokenIDs) }

func (b *blockHandle) IsFull() bool { return b.NumEmptySlots() == 0 }

func (b *blockHandle) PrevBlock() block.Block { return b.prev }

// ContentHash lazily computes and caches the chained content hash. Only a
// full block whose whole prefix is hashed has an identity; anything else
// reports ok == false and stays out of the prefix cache.
func (b *blockHandle) ContentHash() (uint64, bool) {
	if b.hashed {
		return b.hash, true
	}
	if !b.IsFull() {
		return 0, false
	}

	prevHash := rootHash
	if b.prev != nil {
		h, ok := b.prev.ContentHash()
		if !ok {
			return 0, false
		}
		prevHash = h
	}

	b.hash = chainHash(prevHash, b.tokenIDs)
	b.hashed = true

	return b.hash, true
}
