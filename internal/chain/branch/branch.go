// Package branch implements the immutable, height-anchored linked list of
// candidate blocks rooted at a known chain block (spec.md §4.1).
package branch

import (
	"math/big"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/nodecore/blockorganizer/internal/chain/model"
	"github.com/nodecore/blockorganizer/internal/chain/work"
)

// Branch is an ordered, non-empty list of pool blocks b0..bn rooted at a
// known on-chain parent. It owns its internal slice exclusively but shares
// the *model.Block values inside with the pool.
type Branch struct {
	mu         sync.RWMutex
	blocks     []*model.Block
	heightSet  bool
	parentHash chainhash.Hash
	height     int32 // height of the on-chain parent; set at most once
}

// New returns an empty branch. Empty branches report an orphan per
// spec.md §4.2's get_path contract.
func New() *Branch {
	return &Branch{}
}

// Push appends block if it continues the branch (its previous-hash equals
// the current top's hash), or if the branch is empty. It rejects otherwise.
func (b *Branch) Push(blk *model.Block) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.blocks) == 0 {
		b.blocks = append(b.blocks, blk)
		return true
	}
	top := b.blocks[len(b.blocks)-1]
	if blk.PreviousHash() != top.Hash() {
		return false
	}
	b.blocks = append(b.blocks, blk)
	return true
}

// SetHeight records the height of the on-chain parent. May be called at
// most once; subsequent calls are no-ops, matching "may be set at most once."
func (b *Branch) SetHeight(height int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.heightSet {
		return
	}
	b.height = height
	b.heightSet = true
}

// HeightSet reports whether SetHeight has been called.
func (b *Branch) HeightSet() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.heightSet
}

// Height returns the recorded on-chain parent height.
func (b *Branch) Height() int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.height
}

// Empty reports whether the branch holds no blocks (the orphan case).
func (b *Branch) Empty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blocks) == 0
}

// Size returns the number of blocks in the branch.
func (b *Branch) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.blocks)
}

// Top returns the branch's last block, or nil if empty.
func (b *Branch) Top() *model.Block {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.blocks) == 0 {
		return nil
	}
	return b.blocks[len(b.blocks)-1]
}

// TopHeight is the absolute height of Top(): the on-chain parent height
// plus the number of blocks in the branch.
func (b *Branch) TopHeight() int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.height + int32(len(b.blocks))
}

// Work sums the proof of every block's header bits.
func (b *Branch) Work() *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := new(big.Int)
	for _, blk := range b.blocks {
		total.Add(total, work.Proof(blk.Header.Bits))
	}
	return total
}

// ForkPoint returns the (hash, height) of the on-chain parent that this
// branch is rooted at.
func (b *Branch) ForkPoint() (chainhash.Hash, int32) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.parentHash, b.height
}

// SetForkPointHash records the hash of the on-chain parent block. Separate
// from SetHeight because the pool discovers the hash first (from the root
// block's previous-hash) and the height afterward (from a store lookup).
func (b *Branch) SetForkPointHash(hash chainhash.Hash) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.parentHash = hash
}

// Blocks returns an immutable view of the branch's sequence. The returned
// slice must not be mutated by the caller.
func (b *Branch) Blocks() []*model.Block {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*model.Block, len(b.blocks))
	copy(out, b.blocks)
	return out
}

// HeightOf returns the absolute height of the block at position i within
// the branch (0-indexed), which is Height()+1+i.
func (b *Branch) HeightOf(i int) int32 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.height + 1 + int32(i)
}
