// Package pool holds disconnected or competing blocks that have been
// structurally validated but are not (yet) on the best chain (spec.md §4.2).
package pool

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/nodecore/blockorganizer/internal/chain/branch"
	"github.com/nodecore/blockorganizer/internal/chain/model"
)

// ChainReader is the minimal store surface get_path needs: resolving the
// height of a block already committed to the main chain.
type ChainReader interface {
	// HeightOf returns the height of hash on the main chain, or ok=false.
	HeightOf(hash chainhash.Hash) (height int32, ok bool)
	// Contains reports whether hash is a committed block.
	Contains(hash chainhash.Hash) bool
}

type entry struct {
	block      *model.Block
	heightHint int32
	parentHash chainhash.Hash
	seq        uint64
}

// Pool is a hash-keyed mapping of pending blocks, guarded implicitly by the
// organizer mutex (spec.md §5: "never touched from any other context") —
// its own mutex exists only so tests and query paths that don't hold the
// organizer lock can still inspect it safely.
type Pool struct {
	mu                  sync.Mutex
	entries             map[chainhash.Hash]*entry
	reorganizationLimit int32
	capacity            int32 // 0 means unbounded (spec.md §6 block_pool_capacity)
	nextSeq             uint64
}

// New constructs an empty Pool. reorganizationLimit bounds how far below
// the tip an entry may survive (spec.md §3, §4.2 prune).
func New(reorganizationLimit int32) *Pool {
	return &Pool{
		entries:             make(map[chainhash.Hash]*entry),
		reorganizationLimit: reorganizationLimit,
	}
}

// SetCapacity bounds the total number of entries the pool retains
// (spec.md §6 block_pool_capacity: "max pool entries kept above
// reorganization_limit"). Once exceeded, the oldest-inserted entry is
// evicted on every subsequent insert, oldest first, regardless of its
// height hint — Prune already protects against unbounded depth; this
// guards against unbounded breadth (many competing tips/orphans at
// similar heights). n<=0 disables the bound.
func (p *Pool) SetCapacity(n int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.capacity = n
}

// Add inserts block if its hash is not already present. Returns false if
// it was already in the pool.
func (p *Pool) Add(blk *model.Block) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(blk, -1)
}

// AddWithHeightHint inserts block recording heightHint as its height hint
// (used when re-pooling outgoing blocks after a reorganization; the
// organizer passes the fork-point height as the hint for each of them).
func (p *Pool) AddWithHeightHint(blk *model.Block, heightHint int32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(blk, heightHint)
}

func (p *Pool) addLocked(blk *model.Block, heightHint int32) bool {
	hash := blk.Hash()
	if _, exists := p.entries[hash]; exists {
		return false
	}
	p.nextSeq++
	p.entries[hash] = &entry{
		block:      blk,
		heightHint: heightHint,
		parentHash: blk.PreviousHash(),
		seq:        p.nextSeq,
	}
	p.evictOverCapacityLocked()
	return true
}

// evictOverCapacityLocked drops the oldest-inserted entries until the pool
// is back within capacity. Called with p.mu held.
func (p *Pool) evictOverCapacityLocked() {
	if p.capacity <= 0 {
		return
	}
	for int32(len(p.entries)) > p.capacity {
		var oldestHash chainhash.Hash
		var oldestSeq uint64
		found := false
		for hash, e := range p.entries {
			if !found || e.seq < oldestSeq {
				oldestHash, oldestSeq, found = hash, e.seq, true
			}
		}
		if !found {
			return
		}
		delete(p.entries, oldestHash)
	}
}

// AddList inserts every block in blocks, skipping any already present.
func (p *Pool) AddList(blocks []*model.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, blk := range blocks {
		p.addLocked(blk, -1)
	}
}

// Remove deletes exactly the hashes of the given blocks, used after a
// commit moves them into the store.
func (p *Pool) Remove(blocks []*model.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, blk := range blocks {
		delete(p.entries, blk.Hash())
	}
}

// Contains reports whether hash is present in the pool.
func (p *Pool) Contains(hash chainhash.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[hash]
	return ok
}

// Prune evicts entries whose height hint is more than reorganizationLimit
// below newTopHeight. Entries with no height hint (heightHint < 0, i.e.
// never-yet-connected orphans) are never pruned by this rule alone — they
// are bounded instead by pool capacity at the caller.
func (p *Pool) Prune(newTopHeight int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for hash, e := range p.entries {
		if e.heightHint >= 0 && newTopHeight-e.heightHint > p.reorganizationLimit {
			delete(p.entries, hash)
		}
	}
}

// Size returns the number of entries currently pooled.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// GetPath walks previous_hash links backwards from blk, assembling a
// reversed chain of pool blocks, until either:
//   - the parent is known on the main chain: returns that branch, rooted
//     at the chain block's (hash, height); or
//   - no parent exists in pool or chain: returns an empty (orphan) branch.
//
// blk itself is included in the returned branch but is not added to the
// pool by GetPath; the caller (organizer) pools it only after resolving
// what kind of branch it roots.
func (p *Pool) GetPath(blk *model.Block, chain ChainReader) *branch.Branch {
	p.mu.Lock()
	// Collect the chain pool-side first (under lock), then release before
	// constructing the Branch, since Branch.Push does its own locking.
	chainUp := []*model.Block{blk}
	cursor := blk
	for {
		if height, ok := chain.HeightOf(cursor.PreviousHash()); ok {
			p.mu.Unlock()
			b := branch.New()
			for i := len(chainUp) - 1; i >= 0; i-- {
				b.Push(chainUp[i])
			}
			b.SetForkPointHash(cursor.PreviousHash())
			b.SetHeight(height)
			return b
		}
		parent, ok := p.entries[cursor.PreviousHash()]
		if !ok {
			p.mu.Unlock()
			return branch.New() // orphan: no known parent anywhere
		}
		chainUp = append(chainUp, parent.block)
		cursor = parent.block
	}
}

// PeekChild returns a pooled block whose previous hash is parentHash,
// without removing it, so the organizer can extend a branch forward
// through blocks that arrived (and were pooled as orphans) before their
// parent did. If more than one pooled block claims parentHash as its
// parent, an arbitrary one is returned; the rest stay pooled for a later
// attempt once the chosen one either commits or is rejected.
func (p *Pool) PeekChild(parentHash chainhash.Hash) (*model.Block, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.parentHash == parentHash {
			return e.block, true
		}
	}
	return nil, false
}

// InventoryFilter removes from hashes any already known to the pool,
// matching spec.md §4.2's filter(inventory) contract.
func (p *Pool) InventoryFilter(hashes []chainhash.Hash) []chainhash.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := hashes[:0:0]
	for _, h := range hashes {
		if _, known := p.entries[h]; !known {
			out = append(out, h)
		}
	}
	return out
}
