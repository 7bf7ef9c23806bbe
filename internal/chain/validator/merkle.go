package validator

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/nodecore/blockorganizer/internal/chain/model"
)

// CalcMerkleRoot computes the merkle root of a transaction list via
// blockchain.BuildMerkleTreeStore, which duplicates the last node at each
// odd-count level exactly as btcd's block validation does. The duplicated
// node is what lets a block with a repeated transaction reproduce a valid
// root (CVE-2012-2459); check(block) rejects such blocks separately, by
// comparing transaction hashes in findDuplicateTx.
func CalcMerkleRoot(txs []*model.Transaction) chainhash.Hash {
	if len(txs) == 0 {
		return chainhash.Hash{}
	}
	wrapped := make([]*btcutil.Tx, len(txs))
	for i, tx := range txs {
		wrapped[i] = btcutil.NewTx(tx.ToWire())
	}
	tree := blockchain.BuildMerkleTreeStore(wrapped, false)
	root := tree[len(tree)-1]
	if root == nil {
		return chainhash.Hash{}
	}
	return *root
}
