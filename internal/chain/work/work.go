// Package work computes proof-of-work values from compact difficulty bits,
// reusing btcd's arithmetic instead of re-deriving 2^256/(target+1).
package work

import (
	"math/big"

	"github.com/btcsuite/btcd/blockchain"
)

// Proof returns the amount of work represented by a block whose header
// encodes the compact-difficulty target bits. This is Branch.work()'s
// per-block term, spec.md §4.1.
func Proof(bits uint32) *big.Int {
	return blockchain.CalcWork(bits)
}

// Target decodes compact-difficulty bits into the full target value.
func Target(bits uint32) *big.Int {
	return blockchain.CompactToBig(bits)
}

// Compact re-encodes a target value into compact-difficulty bits.
func Compact(target *big.Int) uint32 {
	return blockchain.BigToCompact(target)
}

// Sum adds the proof of every bits value in order. Branch.Work and the
// store's GetBranchWork accumulate Proof per block themselves and do not
// call it.
func Sum(bitsSeq []uint32) *big.Int {
	total := new(big.Int)
	for _, bits := range bitsSeq {
		total.Add(total, Proof(bits))
	}
	return total
}
