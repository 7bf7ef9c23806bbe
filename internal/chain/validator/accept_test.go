package validator

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/txscript"

	"github.com/nodecore/blockorganizer/internal/chain/branch"
	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/model"
	"github.com/stretchr/testify/require"
)

type fixedPopulator struct {
	state *model.ChainState
	err   error
}

func (f *fixedPopulator) PopulateBranch(ctx context.Context, previous *model.ChainState, b *branch.Branch) (*model.ChainState, error) {
	return f.state, f.err
}

type mapResolver map[model.Outpoint]*model.TxOut

func (m mapResolver) ResolvePrevout(ctx context.Context, outpoint model.Outpoint) (*model.TxOut, error) {
	out, ok := m[outpoint]
	if !ok {
		return nil, chainerr.New(chainerr.NotFound, nil)
	}
	return out, nil
}

func acceptState() *model.ChainState {
	return &model.ChainState{
		Height:         10,
		MedianTimePast: time.Unix(1231006000, 0),
		WorkRequired:   regtestPowLimitBits,
	}
}

func branchAtHeight(height int32, blk *model.Block) *branch.Branch {
	b := branch.New()
	b.SetHeight(height)
	b.Push(blk)
	return b
}

func TestAcceptRejectsTimestampNotAfterMedian(t *testing.T) {
	blk := buildBlock([]*model.Transaction{coinbaseTx()})
	blk.Header.Timestamp = time.Unix(1231006000, 0) // equal to, not after, the median
	b := branchAtHeight(10, blk)

	v := New(regtestPowLimitBits, &fixedPopulator{state: acceptState()}, mapResolver{}, nil)
	_, err := v.Accept(context.Background(), nil, b)
	require.Error(t, err)
	require.True(t, chainerr.Is(err, chainerr.InvalidHeader))
}

func TestAcceptRejectsTimestampTooFarInFuture(t *testing.T) {
	blk := buildBlock([]*model.Transaction{coinbaseTx()})
	blk.Header.Timestamp = time.Now().Add(3 * time.Hour)
	b := branchAtHeight(10, blk)

	v := New(regtestPowLimitBits, &fixedPopulator{state: acceptState()}, mapResolver{}, nil)
	_, err := v.Accept(context.Background(), nil, b)
	require.Error(t, err)
}

func TestAcceptRejectsWrongDifficulty(t *testing.T) {
	blk := buildBlock([]*model.Transaction{coinbaseTx()})
	blk.Header.Timestamp = time.Unix(1231006600, 0)
	blk.Header.Bits = 0x1d00ffff
	b := branchAtHeight(10, blk)

	v := New(regtestPowLimitBits, &fixedPopulator{state: acceptState()}, mapResolver{}, nil)
	_, err := v.Accept(context.Background(), nil, b)
	require.Error(t, err)
}

func TestAcceptRejectsValueOverflow(t *testing.T) {
	coinbase := coinbaseTx()
	spend := spendTx(coinbase.Hash())
	spend.TxOut[0].Value = 10 // spend claims more than the resolved prevout

	blk := buildBlock([]*model.Transaction{coinbase, spend})
	blk.Header.Timestamp = time.Unix(1231006600, 0)
	b := branchAtHeight(10, blk)

	resolver := mapResolver{
		spend.TxIn[0].PreviousOutpoint: {Value: 1, LockingScript: []byte{0x51}},
	}
	v := New(regtestPowLimitBits, &fixedPopulator{state: acceptState()}, resolver, nil)
	_, err := v.Accept(context.Background(), nil, b)
	require.Error(t, err)
	require.True(t, chainerr.Is(err, chainerr.InvalidTransaction))
}

func TestAcceptRejectsNegativeOutputValue(t *testing.T) {
	coinbase := coinbaseTx()
	spend := spendTx(coinbase.Hash())
	spend.TxOut[0].Value = -1

	blk := buildBlock([]*model.Transaction{coinbase, spend})
	blk.Header.Timestamp = time.Unix(1231006600, 0)
	b := branchAtHeight(10, blk)

	resolver := mapResolver{
		spend.TxIn[0].PreviousOutpoint: {Value: 1, LockingScript: []byte{0x51}},
	}
	v := New(regtestPowLimitBits, &fixedPopulator{state: acceptState()}, resolver, nil)
	_, err := v.Accept(context.Background(), nil, b)
	require.Error(t, err)
}

func TestAcceptPopulatesPrevoutForConnect(t *testing.T) {
	coinbase := coinbaseTx()
	spend := spendTx(coinbase.Hash())

	blk := buildBlock([]*model.Transaction{coinbase, spend})
	blk.Header.Timestamp = time.Unix(1231006600, 0)
	b := branchAtHeight(10, blk)

	prevout := &model.TxOut{Value: 5_000_000_000, LockingScript: []byte{0x51}}
	resolver := mapResolver{spend.TxIn[0].PreviousOutpoint: prevout}
	state := acceptState()
	v := New(regtestPowLimitBits, &fixedPopulator{state: state}, resolver, nil)

	result, err := v.Accept(context.Background(), nil, b)
	require.NoError(t, err)
	require.Same(t, state, result.ChainState, "Accept wraps whatever the populator returns without copying it")
	require.Same(t, prevout, spend.TxIn[0].Prevout(), "Accept must populate the input's prevout for Connect")
}

func TestCheckCoinbaseHeightRejectsMismatch(t *testing.T) {
	coinbase := coinbaseTx()
	blk := buildBlock([]*model.Transaction{coinbase})
	blk.Header.Timestamp = time.Unix(1231006600, 0)
	b := branchAtHeight(10, blk)

	state := acceptState()
	state.Forks = model.ForkBIP34
	v := New(regtestPowLimitBits, &fixedPopulator{state: state}, mapResolver{}, nil)
	_, err := v.Accept(context.Background(), nil, b)
	require.Error(t, err)
}

func TestCheckCoinbaseHeightAcceptsEncodedHeight(t *testing.T) {
	height := int32(11)
	script, err := txscript.NewScriptBuilder().AddInt64(int64(height)).Script()
	require.NoError(t, err)

	coinbase := coinbaseTx()
	coinbase.TxIn[0].SignatureScript = script
	blk := buildBlock([]*model.Transaction{coinbase})
	blk.Header.Timestamp = time.Unix(1231006600, 0)
	b := branchAtHeight(10, blk)

	state := acceptState()
	state.Forks = model.ForkBIP34
	v := New(regtestPowLimitBits, &fixedPopulator{state: state}, mapResolver{}, nil)
	_, err = v.Accept(context.Background(), nil, b)
	require.NoError(t, err)
}
