package validator

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/nodecore/blockorganizer/internal/chain/branch"
	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/model"
	"github.com/nodecore/blockorganizer/internal/chain/work"
)

// MaxFutureDrift bounds how far a block's timestamp may exceed the local
// clock, the consensus rule accept(branch) enforces.
const MaxFutureDrift = 2 * time.Hour

// PrevoutResolver resolves a previous output. accept() sends every
// non-coinbase input to it; outputs created earlier in the same block or
// branch are not looked up separately, so they resolve only if the
// resolver itself knows them.
type PrevoutResolver interface {
	ResolvePrevout(ctx context.Context, outpoint model.Outpoint) (*model.TxOut, error)
}

// ChainStatePopulator produces the chain_state active at a branch's top
// (component C3); the validator depends on it only through this interface
// so accept() never imports the chainstate package's retarget internals.
type ChainStatePopulator interface {
	PopulateBranch(ctx context.Context, previous *model.ChainState, b *branch.Branch) (*model.ChainState, error)
}

// Dispatcher fans work out across the priority pool, joining when every
// task completes (spec.md §5). It is satisfied by internal/chain/dispatch.
type Dispatcher interface {
	Priority(ctx context.Context, n int, task func(ctx context.Context, i int) error) error
}

// Validator runs the check/accept/connect pipeline.
type Validator struct {
	powLimitBits uint32
	populator    ChainStatePopulator
	resolver     PrevoutResolver
	dispatcher   Dispatcher
	now          func() time.Time
	stopped      atomic.Bool
}

// New builds a Validator.
func New(powLimitBits uint32, populator ChainStatePopulator, resolver PrevoutResolver, dispatcher Dispatcher) *Validator {
	return &Validator{
		powLimitBits: powLimitBits,
		populator:    populator,
		resolver:     resolver,
		dispatcher:   dispatcher,
		now:          time.Now,
	}
}

// Stop makes every stage call that starts afterwards short-circuit with
// service_stopped (spec.md §5); each stage tests the flag on entry, so a
// stage call already running completes.
func (v *Validator) Stop() { v.stopped.Store(true) }

// Stopped reports whether Stop has been called.
func (v *Validator) Stopped() bool { return v.stopped.Load() }

func (v *Validator) checkProofOfWork(h *model.Header) error {
	target := work.Target(h.Bits)
	powLimit := work.Target(v.powLimitBits)
	if target.Sign() <= 0 || target.Cmp(powLimit) > 0 {
		return chainerr.New(chainerr.InvalidHeader, errPowUnderflow)
	}
	hash := h.BlockHash()
	hashNum := hashToBig(hash[:])
	if hashNum.Cmp(target) > 0 {
		return chainerr.New(chainerr.InvalidHeader, errPowMismatch)
	}
	return nil
}

// hashToBig interprets a hash's bytes as a big-endian integer after
// reversing them, since chainhash.Hash stores a block hash in
// little-endian (internal, as-computed) byte order.
func hashToBig(hash []byte) *big.Int {
	buf := make([]byte, len(hash))
	for i, b := range hash {
		buf[len(hash)-1-i] = b
	}
	return new(big.Int).SetBytes(buf)
}
