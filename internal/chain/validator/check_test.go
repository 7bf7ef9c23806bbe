package validator

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/nodecore/blockorganizer/internal/chain/model"
	"github.com/stretchr/testify/require"
)

// regtestPowLimitBits is a minimum-difficulty target under which almost
// any header hash satisfies the proof-of-work check, so these stateless
// tests never need to actually mine a block.
const regtestPowLimitBits = 0x207fffff

func coinbaseTx() *model.Transaction {
	in := &model.TxIn{
		PreviousOutpoint: model.Outpoint{Index: 0xffffffff},
		SignatureScript:  []byte{0x01, 0x02},
	}
	out := &model.TxOut{Value: 5_000_000_000, LockingScript: []byte{0x51}}
	return model.NewTransaction(1, []*model.TxIn{in}, []*model.TxOut{out}, 0)
}

func spendTx(prev chainhash.Hash) *model.Transaction {
	in := &model.TxIn{PreviousOutpoint: model.Outpoint{Hash: prev, Index: 0}}
	out := &model.TxOut{Value: 1, LockingScript: []byte{0x51}}
	return model.NewTransaction(1, []*model.TxIn{in}, []*model.TxOut{out}, 0)
}

func buildBlock(txs []*model.Transaction) *model.Block {
	blk := &model.Block{
		Header: model.Header{
			Version:   1,
			Bits:      regtestPowLimitBits,
			Timestamp: time.Unix(1231006505, 0),
		},
		Transactions: txs,
	}
	blk.Header.MerkleRoot = CalcMerkleRoot(txs)
	return blk
}

func newCheckValidator() *Validator {
	return New(regtestPowLimitBits, nil, nil, nil)
}

func TestCheckAcceptsWellFormedBlock(t *testing.T) {
	blk := buildBlock([]*model.Transaction{coinbaseTx()})
	require.NoError(t, newCheckValidator().Check(blk))
}

func TestCheckRejectsMissingCoinbase(t *testing.T) {
	tx := spendTx(chainhash.Hash{0x01})
	blk := buildBlock([]*model.Transaction{tx})
	require.Error(t, newCheckValidator().Check(blk))
}

func TestCheckRejectsExtraCoinbase(t *testing.T) {
	blk := buildBlock([]*model.Transaction{coinbaseTx(), coinbaseTx()})
	require.Error(t, newCheckValidator().Check(blk))
}

func TestCheckRejectsDuplicateTransactions(t *testing.T) {
	spend := spendTx(chainhash.Hash{0x01})
	blk := buildBlock([]*model.Transaction{coinbaseTx(), spend, spend})
	require.Error(t, newCheckValidator().Check(blk))
}

func TestCheckRejectsMerkleMismatch(t *testing.T) {
	blk := buildBlock([]*model.Transaction{coinbaseTx()})
	blk.Header.MerkleRoot = chainhash.Hash{0xff} // deliberately wrong
	require.Error(t, newCheckValidator().Check(blk))
}

func TestCheckRejectsTargetWeakerThanNetworkMinimum(t *testing.T) {
	blk := buildBlock([]*model.Transaction{coinbaseTx()})
	blk.Header.Bits = 0x2100ffff // looser than the configured pow limit
	require.Error(t, newCheckValidator().Check(blk))
}

func TestCheckRejectsEmptyBlock(t *testing.T) {
	blk := buildBlock(nil)
	require.Error(t, newCheckValidator().Check(blk))
}
