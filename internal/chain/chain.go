// Package chain holds helpers over prev-linked block chains shared by the
// allocator variants.
package chain

import (
	"github.com/hupe1980/pagedkv/block"
)

// RootFirst collects the chain ending at last in root-first order, rejecting
// chains that contain unbound blocks.
func RootFirst(last block.Block) ([]block.Block, error) {
	var chain []block.Block
	for b := last; b != nil; b = b.PrevBlock() {
		if b.ID() == block.None {
			return nil, block.Invariant("fork", block.None, "chain contains an unbound block")
		}
		chain = append(chain, b)
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}

	return chain, nil
}

// CommonComputedPrefix returns the longest per-position-identical prefix of
// block IDs across all sequences for which computed reports true, stopping
// at the first divergence or the first not-yet-computed block.
func CommonComputedPrefix(computed func(block.ID) bool, seqBlockIDs [][]block.ID) []block.ID {
	if len(seqBlockIDs) == 0 {
		return nil
	}

	limit := len(seqBlockIDs[0])
	for _, ids := range seqBlockIDs[1:] {
		if len(ids) < limit {
			limit = len(ids)
		}
	}

	var common []block.ID
	for i := 0; i < limit; i++ {
		id := seqBlockIDs[0][i]
		for _, ids := range seqBlockIDs[1:] {
			if ids[i] != id {
				return common
			}
		}
		if !computed(id) {
			return common
		}
		common = append(common, id)
	}

	return common
}
