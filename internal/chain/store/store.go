// Package store defines the fast-chain reader/writer contract (spec.md
// §4.5): point queries over persisted blocks, a sequence-lock based
// concurrent read protocol, and the atomic insert/reorganize writers the
// organizer depends on. No on-disk format is defined here; that is left
// to a concrete implementation (see store/memstore for the in-memory
// reference one used by tests and single-process deployments).
package store

import (
	"context"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/nodecore/blockorganizer/internal/chain/model"
)

// FatalHandler is invoked when Reorganize fails midway and rollback is
// impossible; the store is marked corrupted and every subsequent write
// fails fast. The organizer logs FATAL and surfaces the error to its
// caller.
type FatalHandler func(err error)

// Locator carries the inventory-request parameters the block locator
// algorithms (spec.md §4.5.3) consume.
type Locator struct {
	StartHashes []chainhash.Hash
	StopHash    chainhash.Hash
}

// HistoryEntry is one row of an address's transaction history.
type HistoryEntry struct {
	TxHash chainhash.Hash
	Height int32
	Index  uint32
}

// SpendInfo identifies the input that spends a given output.
type SpendInfo struct {
	Hash  chainhash.Hash
	Index uint32
}

// Store is the fast-chain interface the organizer, validator, and query
// layer depend on.
type Store interface {
	// --- sequence-lock primitives (spec.md §4.5.1) ---
	BeginRead() uint64
	IsWriteLocked(seq uint64) bool
	IsReadValid(seq uint64) bool
	BeginWrite()
	EndWrite()
	FlushLock()
	FlushUnlock()

	// --- writes (spec.md §4.5.2) ---
	Insert(ctx context.Context, blk *model.Block, height int32) error
	Push(ctx context.Context, tx *model.Transaction, forks model.ForkFlag) error
	Reorganize(ctx context.Context, forkPoint int32, incoming, outgoing []*model.Block, onFatal FatalHandler) error
	BeginInsert()
	EndInsert()

	// --- queries (spec.md §4.5.3) ---
	FetchBlock(ctx context.Context, height int32) (*model.Block, error)
	FetchBlockByHash(ctx context.Context, hash chainhash.Hash) (*model.Block, int32, error)
	FetchBlockHeader(ctx context.Context, height int32) (*model.Header, error)
	FetchLastHeight(ctx context.Context) (int32, error)
	FetchTransaction(ctx context.Context, hash chainhash.Hash) (*model.Transaction, int32, int, error)
	FetchOutput(ctx context.Context, outpoint model.Outpoint) (*model.TxOut, error)
	FetchSpend(ctx context.Context, outpoint model.Outpoint) (SpendInfo, error)
	FetchHistory(ctx context.Context, script []byte, limit int, fromHeight int32) ([]HistoryEntry, error)
	FetchBlockLocator(ctx context.Context, heights []int32) (Locator, error)
	FetchLocatorBlockHashes(ctx context.Context, loc Locator, threshold chainhash.Hash, limit int) ([]chainhash.Hash, error)
	FetchLocatorBlockHeaders(ctx context.Context, loc Locator, threshold chainhash.Hash, limit int) ([]*model.Header, error)

	// GetBranchWork returns the cumulative proof of work stored in
	// [from, tip], used by organize's step 8 weaker/heavier-fork
	// comparison. A non-nil maximum is a work bound: summing stops at the
	// first block that brings the running total to or above it.
	GetBranchWork(ctx context.Context, from int32, maximum *big.Int) (*big.Int, error)

	// Contains and HeightOf satisfy pool.ChainReader directly (no ctx
	// parameter, since they are bounded in-memory-index lookups under the
	// sequence lock, not operations that might block on I/O) so the
	// organizer can hand its Store straight to pool.GetPath.
	Contains(hash chainhash.Hash) bool
	HeightOf(hash chainhash.Hash) (int32, bool)

	// HeaderAt satisfies chainstate.Ancestors so the populator can read
	// below a branch's fork point.
	HeaderAt(ctx context.Context, height int32) (timestamp time.Time, bits uint32, ok bool)

	// ResolvePrevout satisfies validator.PrevoutResolver from the
	// store's persisted outputs.
	ResolvePrevout(ctx context.Context, outpoint model.Outpoint) (*model.TxOut, error)

	// Corrupted reports whether a prior Reorganize failed unrecoverably;
	// once true every write fails fast with chainerr.StoreCorrupted.
	Corrupted() bool
}
