// Package model defines the domain types the organizer core operates on:
// blocks, transactions, outpoints and the chain-state consensus parameters
// active at a given height.
package model

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// NotSpent is the sentinel spender height for an unspent output.
const NotSpent = -1

// Header is a block header: the content that is double-hashed to produce
// the block's identity. It is a direct alias of wire.BlockHeader so that
// header hashing and wire (de)serialization stay in the wire package,
// where this core's external collaborators expect it to live.
type Header = wire.BlockHeader

// Validation is the one mutable field carried by a Block. It is written
// only inside the organizer's single-writer critical section.
type Validation struct {
	ErrorCode      int
	Height         int32
	Activation     *ChainState
	StartOfNotify  time.Time
	Simulation     bool
}

// Block is a header plus an ordered sequence of transactions. Blocks are
// reference-counted, shared-immutable values once constructed; Validation
// is the only field any component may mutate after construction, and only
// the organizer does so.
type Block struct {
	Header       Header
	Transactions []*Transaction

	hashOnce sync.Once
	hash     chainhash.Hash
	Valid    Validation
}

// Hash returns (and memoizes) the block's content address. Safe for
// concurrent use: FetchBlock hands the same *Block to every caller, and
// query-surface goroutines may call Hash concurrently on it.
func (b *Block) Hash() chainhash.Hash {
	b.hashOnce.Do(func() {
		b.hash = b.Header.BlockHash()
	})
	return b.hash
}

// PreviousHash is shorthand for the header's previous-block-hash.
func (b *Block) PreviousHash() chainhash.Hash {
	return b.Header.PrevBlock
}

// IsCoinbasePresent reports whether the first transaction is a coinbase,
// which check(block) requires of every block.
func (b *Block) IsCoinbasePresent() bool {
	return len(b.Transactions) > 0 && b.Transactions[0].IsCoinbase()
}

// SerializeSize is an approximation sufficient for the block-size bound
// check in check(block): header (80 bytes) plus each transaction's own
// approximation.
func (b *Block) SerializeSize() int {
	size := 80
	for _, tx := range b.Transactions {
		size += tx.SerializeSize()
	}
	return size
}
