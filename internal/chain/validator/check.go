// Package validator implements the three-stage check/accept/connect
// validation pipeline over a branch (spec.md §4.4).
package validator

import (
	"github.com/btcsuite/btcd/txscript"

	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/model"
)

const (
	// maxBlockSize bounds check(block)'s size rule.
	maxBlockSize = 4_000_000
	// maxBlockSigOps bounds check(block)'s signature-operation rule, as
	// counted by estimateSigOps: txscript's legacy per-script count, a
	// stateless figure available before contextual validation runs.
	maxBlockSigOps = 80_000
)

// Check performs stateless, syntactic validation of a single block: merkle
// root, proof-of-work against the claimed target, size/sigop bounds, no
// duplicate transactions, coinbase presence. It does not touch the pool or
// store.
func (v *Validator) Check(blk *model.Block) error {
	if len(blk.Transactions) == 0 {
		return chainerr.New(chainerr.InvalidBlock, errNoTransactions)
	}
	if !blk.IsCoinbasePresent() {
		return chainerr.New(chainerr.InvalidBlock, errMissingCoinbase)
	}
	for i, tx := range blk.Transactions {
		if i > 0 && tx.IsCoinbase() {
			return chainerr.New(chainerr.InvalidBlock, errExtraCoinbase)
		}
	}
	if dup := findDuplicateTx(blk.Transactions); dup {
		return chainerr.New(chainerr.InvalidBlock, errDuplicateTx)
	}
	if blk.SerializeSize() > maxBlockSize {
		return chainerr.New(chainerr.InvalidBlock, errBlockTooLarge)
	}
	if estimateSigOps(blk) > maxBlockSigOps {
		return chainerr.New(chainerr.InvalidBlock, errTooManySigOps)
	}
	if got, want := blk.Header.MerkleRoot, CalcMerkleRoot(blk.Transactions); got != want {
		return chainerr.New(chainerr.InvalidHeader, errMerkleMismatch)
	}
	if err := v.checkProofOfWork(&blk.Header); err != nil {
		return err
	}
	return nil
}

func findDuplicateTx(txs []*model.Transaction) bool {
	seen := make(map[[32]byte]struct{}, len(txs))
	for _, tx := range txs {
		h := tx.Hash()
		if _, ok := seen[h]; ok {
			return true
		}
		seen[h] = struct{}{}
	}
	return false
}

// estimateSigOps sums txscript's legacy sigop count across every script.
// check(block) runs before any prevout is resolved, so it cannot do the
// p2sh-aware precise count GetPreciseSigOpCount needs; no later stage
// recounts sigops.
func estimateSigOps(blk *model.Block) int {
	count := 0
	for _, tx := range blk.Transactions {
		for _, in := range tx.TxIn {
			count += txscript.GetSigOpCount(in.SignatureScript)
		}
		for _, out := range tx.TxOut {
			count += txscript.GetSigOpCount(out.LockingScript)
		}
	}
	return count
}
