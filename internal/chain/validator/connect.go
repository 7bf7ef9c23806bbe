package validator

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/nodecore/blockorganizer/internal/chain/branch"
	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/model"
)

// Connect runs script validation over every non-coinbase input in the
// branch, in parallel across the priority pool (spec.md §4.4's connect
// stage, §5's per-input fan-out). Accept must have already populated every
// input's prevout.
func (v *Validator) Connect(ctx context.Context, b *branch.Branch, state *model.ChainState) error {
	if v.Stopped() {
		return chainerr.New(chainerr.ServiceStopped, nil)
	}

	flags := scriptFlags(state)
	for _, blk := range b.Blocks() {
		if err := v.connectBlock(ctx, blk, flags); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) connectBlock(ctx context.Context, blk *model.Block, flags txscript.ScriptFlags) error {
	type job struct {
		tx  *model.Transaction
		in  *model.TxIn
		idx int
	}
	var jobs []job
	for _, tx := range blk.Transactions {
		if tx.IsCoinbase() {
			continue
		}
		for i, in := range tx.TxIn {
			jobs = append(jobs, job{tx: tx, in: in, idx: i})
		}
	}
	if len(jobs) == 0 {
		return nil
	}

	verify := func(ctx context.Context, i int) error {
		j := jobs[i]
		return verifyInput(j.tx, j.idx, j.in, flags)
	}

	if v.dispatcher == nil {
		for i := range jobs {
			if err := verify(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}
	return v.dispatcher.Priority(ctx, len(jobs), verify)
}

// verifyInput executes the spending script against the prevout's locking
// script using the real script interpreter; accept() must have already
// resolved in.Prevout().
func verifyInput(tx *model.Transaction, idx int, in *model.TxIn, flags txscript.ScriptFlags) error {
	prevout := in.Prevout()
	if prevout == nil {
		return chainerr.New(chainerr.InvalidTransaction, errMissingPrevout)
	}

	msgTx := tx.ToWire()
	prevFetcher := txscript.NewCannedPrevOutputFetcher(prevout.LockingScript, prevout.Value)
	sigHashes := txscript.NewTxSigHashes(msgTx, prevFetcher)

	engine, err := txscript.NewEngine(
		prevout.LockingScript,
		msgTx,
		idx,
		flags,
		nil,
		sigHashes,
		prevout.Value,
		prevFetcher,
	)
	if err != nil {
		return chainerr.New(chainerr.InvalidScript, fmt.Errorf("tx %s input %d: %w", tx.Hash(), idx, err))
	}
	if err := engine.Execute(); err != nil {
		return chainerr.New(chainerr.InvalidScript, fmt.Errorf("tx %s input %d: %w", tx.Hash(), idx, err))
	}
	return nil
}

// scriptFlags derives the active txscript.ScriptFlags from the resolved
// soft-fork set, the one place this core's ForkFlag bitmask is translated
// into the script interpreter's own flag vocabulary.
func scriptFlags(state *model.ChainState) txscript.ScriptFlags {
	var flags txscript.ScriptFlags
	if state.IsActive(model.ForkBIP16) {
		flags |= txscript.ScriptBip16
	}
	if state.IsActive(model.ForkBIP66) {
		flags |= txscript.ScriptVerifyDERSignatures
	}
	if state.IsActive(model.ForkBIP65) {
		flags |= txscript.ScriptVerifyCheckLockTimeVerify
	}
	if state.IsActive(model.ForkCSV) {
		flags |= txscript.ScriptVerifyCheckSequenceVerify
	}
	if state.IsActive(model.ForkSegwit) {
		flags |= txscript.ScriptVerifyWitness
		flags |= txscript.ScriptVerifyCleanStack
	}
	return flags
}

