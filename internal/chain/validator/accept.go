package validator

import (
	"context"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"

	"github.com/nodecore/blockorganizer/internal/chain/branch"
	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/model"
	"github.com/nodecore/blockorganizer/pkg/safe"
)

// AcceptResult carries the contextual state Accept derived, so Connect and
// the organizer don't need to re-derive it.
type AcceptResult struct {
	ChainState *model.ChainState
}

// Accept performs contextual validation of a branch against the chain
// state PopulateBranch derives for its top: version-bits, difficulty, timestamp
// ordering, coinbase height commitment, and value conservation. It
// populates each input's prevout along the way so Connect never touches
// the store directly.
func (v *Validator) Accept(ctx context.Context, previous *model.ChainState, b *branch.Branch) (*AcceptResult, error) {
	if v.Stopped() {
		return nil, chainerr.New(chainerr.ServiceStopped, nil)
	}

	state, err := v.populator.PopulateBranch(ctx, previous, b)
	if err != nil {
		return nil, chainerr.New(chainerr.OperationFailed, err)
	}

	for i, blk := range b.Blocks() {
		height := b.HeightOf(i)
		if err := v.acceptBlock(ctx, blk, height, state); err != nil {
			return nil, err
		}
	}
	return &AcceptResult{ChainState: state}, nil
}

func (v *Validator) acceptBlock(ctx context.Context, blk *model.Block, height int32, state *model.ChainState) error {
	if err := v.checkVersionBits(blk, state); err != nil {
		return err
	}
	if blk.Header.Bits != state.WorkRequired {
		return chainerr.New(chainerr.InvalidHeader, errBadDifficulty)
	}
	if !blk.Header.Timestamp.After(state.MedianTimePast) {
		return chainerr.New(chainerr.InvalidHeader, errBadTimestamp)
	}
	if blk.Header.Timestamp.After(v.now().Add(MaxFutureDrift)) {
		return chainerr.New(chainerr.InvalidHeader, errTimestampFuture)
	}
	if state.IsActive(model.ForkBIP34) {
		if err := checkCoinbaseHeight(blk, height); err != nil {
			return err
		}
	}
	if err := v.resolveAndCheckValues(ctx, blk, height); err != nil {
		return err
	}
	return nil
}

// checkVersionBits enforces that a block's version is compatible with
// every soft fork already active, the same rule BIP9 depends on: a miner
// may not downgrade below a fork's minimum signaled version once that
// fork is locked in for the branch.
func (v *Validator) checkVersionBits(blk *model.Block, state *model.ChainState) error {
	if state.IsActive(model.ForkBIP66) && blk.Header.Version < 3 {
		return chainerr.New(chainerr.InvalidHeader, errVersionBits)
	}
	if state.IsActive(model.ForkBIP65) && blk.Header.Version < 4 {
		return chainerr.New(chainerr.InvalidHeader, errVersionBits)
	}
	return nil
}

// checkCoinbaseHeight enforces BIP34: the coinbase's signature script
// must begin with the serialized branch height as a minimally-encoded
// push, so a block can't be replayed at the wrong height.
func checkCoinbaseHeight(blk *model.Block, height int32) error {
	coinbase := btcutil.NewTx(blk.Transactions[0].ToWire())
	committed, err := blockchain.ExtractCoinbaseHeight(coinbase)
	if err != nil || committed != height {
		return chainerr.New(chainerr.InvalidBlock, errBadCoinbaseHeight)
	}
	return nil
}

// resolveAndCheckValues populates each non-coinbase input's prevout via
// the resolver and enforces that total input value is not less than total
// output value. Outputs of earlier transactions in the same block or
// branch are not consulted; only the resolver is.
func (v *Validator) resolveAndCheckValues(ctx context.Context, blk *model.Block, height int32) error {
	for txIdx, tx := range blk.Transactions {
		if txIdx == 0 {
			continue // coinbase has no real prevouts
		}
		var inputSum uint64
		for _, in := range tx.TxIn {
			out, err := v.resolver.ResolvePrevout(ctx, in.PreviousOutpoint)
			if err != nil {
				return chainerr.New(chainerr.NotFound, errMissingPrevout)
			}
			in.SetPrevout(out)
			// safe.Uint64 rejects a negative prevout value outright,
			// which int64 addition alone would silently fold into the sum.
			amount, err := safe.Uint64(out.Value)
			if err != nil {
				return chainerr.New(chainerr.InvalidTransaction, err)
			}
			inputSum += amount
		}
		outputSum, err := safe.Uint64(tx.OutputValueSum())
		if err != nil {
			return chainerr.New(chainerr.InvalidTransaction, err)
		}
		if outputSum > inputSum {
			return chainerr.New(chainerr.InvalidTransaction, errValueOverflow)
		}
	}
	return nil
}
