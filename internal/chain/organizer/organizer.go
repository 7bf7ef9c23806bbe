// Package organizer implements the single-writer organize(block) critical
// section (spec.md §4.6): check, accept, connect, then, if the resulting
// branch outweighs the current tip, an atomic store reorganize, pool
// cleanup, and subscriber notification.
package organizer

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nodecore/blockorganizer/internal/chain/branch"
	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/model"
	"github.com/nodecore/blockorganizer/internal/chain/pool"
	"github.com/nodecore/blockorganizer/internal/chain/store"
	"github.com/nodecore/blockorganizer/internal/chain/subscriber"
	"github.com/nodecore/blockorganizer/internal/chain/validator"
	"go.uber.org/zap"
)

// Validator is the subset of *validator.Validator the organizer drives.
type Validator interface {
	Check(blk *model.Block) error
	Accept(ctx context.Context, previous *model.ChainState, b *branch.Branch) (*validator.AcceptResult, error)
	Connect(ctx context.Context, b *branch.Branch, state *model.ChainState) error
	Stopped() bool
}

// Organizer runs organize(block) under a single process-wide writer mutex.
type Organizer struct {
	mu sync.Mutex

	pool       *pool.Pool
	store      store.Store
	validator  Validator
	subscriber *subscriber.Subscriber
	logger     *zap.Logger

	stopped     atomic.Bool
	cachedState *model.ChainState
	stateMu     sync.RWMutex
}

// New builds an Organizer over the given pool, store, validator, and
// reorganize subscriber.
func New(p *pool.Pool, s store.Store, v Validator, sub *subscriber.Subscriber, logger *zap.Logger) *Organizer {
	return &Organizer{pool: p, store: s, validator: v, subscriber: sub, logger: logger}
}

// Stop marks the organizer stopped; future Organize calls short-circuit
// with service_stopped, and an in-flight call does so at its next stage
// boundary (after accept, after connect) before anything is committed.
// Idempotent.
func (o *Organizer) Stop() {
	o.stopped.Store(true)
}

// Close stops the organizer (if not already) and notifies the
// subscriber's handlers that the service has shut down.
func (o *Organizer) Close() {
	o.Stop()
	o.subscriber.Shutdown()
}

// Organize runs the full check/accept/connect/reorganize pipeline for a
// single candidate block and returns the resulting chainerr.Code.
func (o *Organizer) Organize(ctx context.Context, blk *model.Block) chainerr.Code {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped.Load() {
		return chainerr.ServiceStopped
	}

	if err := o.validator.Check(blk); err != nil {
		return chainerr.CodeOf(err)
	}

	b := o.pool.GetPath(blk, o.store)
	if b.Empty() {
		// GetPath doesn't pool blk itself; without this, a later block
		// that extends it would never find it as a parent.
		o.pool.AddWithHeightHint(blk, -1)
		return chainerr.OrphanBlock
	}
	if o.store.Contains(blk.Hash()) {
		return chainerr.DuplicateBlock
	}

	// Extend the branch forward through any blocks already pooled as
	// orphans of its tip: they arrived before this one did, and their
	// own check(block) already passed when they were first submitted.
	for {
		child, ok := o.pool.PeekChild(b.Top().Hash())
		if !ok {
			break
		}
		b.Push(child)
	}

	// pool.GetPath sets the branch's height whenever it returns a
	// non-empty branch (it only takes the empty-orphan path otherwise),
	// so forkHeight is always valid here.
	_, forkHeight := b.ForkPoint()

	previousState := o.chainState()
	result, err := o.validator.Accept(ctx, previousState, b)
	if err != nil {
		return chainerr.CodeOf(err)
	}
	if o.stopped.Load() {
		return chainerr.ServiceStopped
	}
	if err := o.validator.Connect(ctx, b, result.ChainState); err != nil {
		return chainerr.CodeOf(err)
	}
	if o.stopped.Load() {
		return chainerr.ServiceStopped
	}

	threshold, err := o.store.GetBranchWork(ctx, forkHeight+1, b.Work())
	if err != nil {
		return chainerr.OperationFailed
	}
	if b.Work().Cmp(threshold) <= 0 {
		o.pool.AddWithHeightHint(b.Top(), -1)
		return chainerr.InsufficientWork
	}

	outgoing := make([]*model.Block, 0)
	if err := o.commit(ctx, forkHeight, b, &outgoing); err != nil {
		o.logger.Error("FATAL: reorganize failed and could not be rolled back",
			zap.Error(err), zap.Int32("fork_height", forkHeight))
		return chainerr.StoreCorrupted
	}

	o.setChainState(result.ChainState)
	o.pool.Remove(b.Blocks())
	o.pool.Prune(b.TopHeight())
	for _, blk := range outgoing {
		o.pool.AddWithHeightHint(blk, forkHeight)
	}
	o.subscriber.Relay(chainerr.Success, forkHeight, b.Blocks(), outgoing)
	return chainerr.Success
}

// CurrentForks returns the active fork flag set from the most recently
// committed chain_state, or 0 before anything has been organized. Callers
// building an unpooled model.Transaction for OrganizeTransaction use this
// to fill in its forks argument without re-deriving chain_state themselves.
func (o *Organizer) CurrentForks() model.ForkFlag {
	if s := o.chainState(); s != nil {
		return s.Forks
	}
	return 0
}

// OrganizeTransaction admits an unconfirmed transaction under the same
// write mutex Organize uses (spec.md §5: "transaction-pool organize...
// shares the same mutex"). It does not run mempool admission policy
// (spec.md §1 non-goal) and does not validate the transaction; it only
// hands it to store.Push, which indexes its spends so the query surface
// can see it.
func (o *Organizer) OrganizeTransaction(ctx context.Context, tx *model.Transaction, forks model.ForkFlag) chainerr.Code {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.stopped.Load() {
		return chainerr.ServiceStopped
	}
	if err := o.store.Push(ctx, tx, forks); err != nil {
		return chainerr.CodeOf(err)
	}
	return chainerr.Success
}

func (o *Organizer) commit(ctx context.Context, forkHeight int32, b *branch.Branch, outgoing *[]*model.Block) error {
	blocks := b.Blocks()
	*outgoing = make([]*model.Block, countAbove(forkHeight, o.storeHeight(ctx)))
	onFatal := func(err error) {
		o.logger.Error("FATAL: store marked corrupted, reorganize could not roll back", zap.Error(err))
	}
	return o.store.Reorganize(ctx, forkHeight, blocks, *outgoing, onFatal)
}

func (o *Organizer) storeHeight(ctx context.Context) int32 {
	h, err := o.store.FetchLastHeight(ctx)
	if err != nil {
		return 0
	}
	return h
}

func countAbove(forkHeight, tip int32) int {
	if tip <= forkHeight {
		return 0
	}
	return int(tip - forkHeight)
}

func (o *Organizer) chainState() *model.ChainState {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.cachedState
}

func (o *Organizer) setChainState(s *model.ChainState) {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	o.cachedState = s
}
