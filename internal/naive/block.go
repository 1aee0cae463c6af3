package naive

import (
	"github.com/hupe1980/pagedkv/block"
)

// blockHandle is one owner's view of a slot. Token metadata lives in the
// handle, not in the slot: after a fork each owner appends to its own copy
// and only the physical slot binding is shared.
type blockHandle struct {
	alloc     *Allocator
	prev      block.Block
	tokenIDs  []int
	blockSize int
	id        block.ID
}

var _ block.Block = (*blockHandle)(nil)

// BlockFactory is the default block.Factory for the hashless allocator. It
// must be paired with a *naive.Allocator.
func BlockFactory(prev block.Block, tokenIDs []int, blockSize int, alloc block.Allocator, id block.ID) block.Block {
	a, ok := alloc.(*Allocator)
	if !ok {
		panic("naive.BlockFactory requires a *naive.Allocator")
	}
	return &blockHandle{
		alloc:     a,
		prev:      prev,
		tokenIDs:  tokenIDs,
		blockSize: blockSize,
		id:        id,
	}
}

// AppendTokenIDs extends the handle's tokens. If the underlying slot is
// shared, the allocator rebinds the handle to a fresh slot first and records
// a copy-on-write.
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

	return nil
}

func (b *blockHandle) ID() block.ID { return b.id }

func (b *blockHandle) TokenIDs() []int { return b.tokenIDs }

func (b *blockHandle) NumEmptySlots() int { return b.blockSize - len(b.tokenIDs) }

func (b *blockHandle) IsFull() bool { return b.NumEmptySlots() == 0 }

func (b *blockHandle) PrevBlock() block.Block { return b.prev }

// ContentHash always reports no hash: hashless blocks never participate in
// prefix caching.
func (b *blockHandle) ContentHash() (uint64, bool) { return 0, false }
