package validator

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/nodecore/blockorganizer/internal/chain/branch"
	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/dispatch"
	"github.com/nodecore/blockorganizer/internal/chain/model"
	"github.com/stretchr/testify/require"
)

func TestConnectAcceptsAnyoneCanSpendScript(t *testing.T) {
	coinbase := coinbaseTx()
	spend := spendTx(coinbase.Hash())
	// OP_TRUE locking script with an empty witness/signature script: the
	// script engine leaves a truthy value on the stack with no signature
	// check required.
	spend.TxIn[0].SetPrevout(&model.TxOut{Value: 5_000_000_000, LockingScript: []byte{0x51}})

	blk := buildBlock([]*model.Transaction{coinbase, spend})
	b := branch.New()
	b.Push(blk)

	v := New(regtestPowLimitBits, nil, nil, nil)
	err := v.Connect(context.Background(), b, &model.ChainState{})
	require.NoError(t, err)
}

func TestConnectRejectsFailingScript(t *testing.T) {
	coinbase := coinbaseTx()
	spend := spendTx(coinbase.Hash())
	// OP_FALSE leaves nothing truthy on the stack: script validation fails.
	spend.TxIn[0].SetPrevout(&model.TxOut{Value: 5_000_000_000, LockingScript: []byte{0x00}})

	blk := buildBlock([]*model.Transaction{coinbase, spend})
	b := branch.New()
	b.Push(blk)

	v := New(regtestPowLimitBits, nil, nil, nil)
	err := v.Connect(context.Background(), b, &model.ChainState{})
	require.Error(t, err)
	require.True(t, chainerr.Is(err, chainerr.InvalidScript))
}

func TestConnectRequiresResolvedPrevout(t *testing.T) {
	coinbase := coinbaseTx()
	spend := spendTx(coinbase.Hash())
	// SetPrevout is never called: Accept should have populated this.

	blk := buildBlock([]*model.Transaction{coinbase, spend})
	b := branch.New()
	b.Push(blk)

	v := New(regtestPowLimitBits, nil, nil, nil)
	err := v.Connect(context.Background(), b, &model.ChainState{})
	require.Error(t, err)
}

func TestConnectSkipsCoinbaseInputs(t *testing.T) {
	coinbase := coinbaseTx()
	blk := buildBlock([]*model.Transaction{coinbase})
	b := branch.New()
	b.Push(blk)

	v := New(regtestPowLimitBits, nil, nil, nil)
	require.NoError(t, v.Connect(context.Background(), b, &model.ChainState{}))
}

// multiInputSpendTx builds one transaction with n inputs, each spending a
// distinct anyone-can-spend prevout, so verifying it fans out into n
// separate connect.go jobs for the *same* tx pointer.
func multiInputSpendTx(n int) *model.Transaction {
	ins := make([]*model.TxIn, n)
	for i := range ins {
		ins[i] = &model.TxIn{PreviousOutpoint: model.Outpoint{Hash: chainhash.Hash{byte(i + 1)}, Index: 0}}
	}
	out := &model.TxOut{Value: 1, LockingScript: []byte{0x51}}
	tx := model.NewTransaction(1, ins, []*model.TxOut{out}, 0)
	for _, in := range ins {
		in.SetPrevout(&model.TxOut{Value: 1, LockingScript: []byte{0x51}})
	}
	return tx
}

// TestConnectFansOutMultiInputTransactionAcrossPriorityPool exercises the
// real dispatch.Dispatcher, not a nil fallback, so every input of a
// multi-input transaction is verified on its own goroutine
// (connect.go's connectBlock building one job per (tx, input) pair), all
// reading the same shared *model.Transaction. Every input verifies, so no
// job takes the error-message path that calls tx.Hash().
func TestConnectFansOutMultiInputTransactionAcrossPriorityPool(t *testing.T) {
	coinbase := coinbaseTx()
	spend := multiInputSpendTx(8)

	blk := buildBlock([]*model.Transaction{coinbase, spend})
	b := branch.New()
	b.Push(blk)

	d := dispatch.New(4, 4, false)
	v := New(regtestPowLimitBits, nil, nil, d)
	err := v.Connect(context.Background(), b, &model.ChainState{})
	require.NoError(t, err)
}

func TestConnectShortCircuitsWhenStopped(t *testing.T) {
	b := branch.New()
	b.Push(buildBlock([]*model.Transaction{coinbaseTx()}))

	v := New(regtestPowLimitBits, nil, nil, nil)
	v.Stop()

	err := v.Connect(context.Background(), b, &model.ChainState{})
	require.True(t, chainerr.Is(err, chainerr.ServiceStopped))
}
