// Package memstore is an in-memory reference implementation of
// store.Store, used by tests and single-process deployments that don't
// need a persistent on-disk engine. It follows the teacher's
// cos/memstore pattern (a map keyed by position, guarded by a lock) but
// swaps the plain mutex for store.SeqLock so reads observe spec.md
// §4.5.1's wait-free-on-the-happy-path protocol rather than blocking on
// every write.
package memstore

import (
	"context"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/model"
	"github.com/nodecore/blockorganizer/internal/chain/store"
	"github.com/nodecore/blockorganizer/internal/chain/work"
)

type txLocation struct {
	height int32
	index  int
}

// Store keeps every block, transaction, and spend record in memory.
type Store struct {
	lock store.SeqLock

	blocksByHeight map[int32]*model.Block
	heightByHash   map[chainhash.Hash]int32
	txLocations    map[chainhash.Hash]txLocation
	spends         map[model.Outpoint]store.SpendInfo
	height         int32

	insertBatching bool
	corrupted      bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		blocksByHeight: make(map[int32]*model.Block),
		heightByHash:   make(map[chainhash.Hash]int32),
		txLocations:    make(map[chainhash.Hash]txLocation),
		spends:         make(map[model.Outpoint]store.SpendInfo),
		height:         -1,
	}
}

// --- sequence-lock primitives, delegated to the embedded SeqLock ---

func (s *Store) BeginRead() uint64             { return s.lock.BeginRead() }
func (s *Store) IsWriteLocked(seq uint64) bool { return s.lock.IsWriteLocked(seq) }
func (s *Store) IsReadValid(seq uint64) bool   { return s.lock.IsReadValid(seq) }
func (s *Store) BeginWrite()                   { s.lock.BeginWrite() }
func (s *Store) EndWrite()                     { s.lock.EndWrite() }
func (s *Store) FlushLock()                    { s.lock.FlushLock() }
func (s *Store) FlushUnlock()                  { s.lock.FlushUnlock() }

// Corrupted reports whether a prior Reorganize left the store in an
// unrecoverable state.
func (s *Store) Corrupted() bool {
	return s.corrupted
}

// BeginInsert and EndInsert bracket a batch of Insert calls so the
// sequence goes through a single odd/even write cycle for the whole
// batch rather than one per Insert, matching spec.md
// §4.5.2's begin_insert/end_insert scope bracket used during initial
// block download.
func (s *Store) BeginInsert() {
	s.insertBatching = true
	s.FlushLock()
}

func (s *Store) EndInsert() {
	s.insertBatching = false
	s.FlushUnlock()
}

// Insert appends a fully validated block extending the tip.
func (s *Store) Insert(ctx context.Context, blk *model.Block, height int32) error {
	if s.corrupted {
		return chainerr.New(chainerr.StoreCorrupted, nil)
	}
	if height != s.height+1 {
		return chainerr.New(chainerr.OperationFailed, errHeightOccupied)
	}
	if !s.insertBatching {
		s.BeginWrite()
		defer s.EndWrite()
	}
	s.commitBlock(blk, height)
	return nil
}

// Push admits an unconfirmed transaction record. The in-memory store
// keeps no mempool of its own (that belongs to the wire/mempool layer
// spec.md §1 excludes); it only indexes the transaction's spends so
// FetchSpend/FetchOutput can see it, matching what a fast-chain store is
// asked to remember about unconfirmed activity.
func (s *Store) Push(ctx context.Context, tx *model.Transaction, forks model.ForkFlag) error {
	if s.corrupted {
		return chainerr.New(chainerr.StoreCorrupted, nil)
	}
	s.BeginWrite()
	defer s.EndWrite()
	s.indexSpends(tx, -1, 0)
	return nil
}

// Reorganize atomically pops every block above forkPoint into outgoing
// (in reverse order) and pushes incoming (in order). On failure it rolls
// back to the pre-call tip; if rollback itself fails, the store is
// marked corrupted and onFatal is invoked, mirroring spec.md §4.5.2.
func (s *Store) Reorganize(ctx context.Context, forkPoint int32, incoming, outgoing []*model.Block, onFatal store.FatalHandler) error {
	if s.corrupted {
		return chainerr.New(chainerr.StoreCorrupted, nil)
	}
	s.BeginWrite()
	defer s.EndWrite()

	popped := s.popAbove(forkPoint)

	if err := s.pushAll(forkPoint, incoming); err != nil {
		if rollbackErr := s.rollback(forkPoint, popped); rollbackErr != nil {
			s.corrupted = true
			if onFatal != nil {
				onFatal(rollbackErr)
			}
			return chainerr.New(chainerr.StoreCorrupted, rollbackErr)
		}
		return chainerr.New(chainerr.OperationFailed, err)
	}

	for i, blk := range popped {
		if i < len(outgoing) {
			outgoing[i] = blk
		}
	}
	return nil
}

func (s *Store) popAbove(forkPoint int32) []*model.Block {
	var popped []*model.Block
	for h := s.height; h > forkPoint; h-- {
		blk := s.blocksByHeight[h]
		popped = append(popped, blk)
		s.removeBlock(blk, h)
	}
	s.height = forkPoint
	return popped
}

func (s *Store) pushAll(forkPoint int32, incoming []*model.Block) error {
	height := forkPoint
	for _, blk := range incoming {
		height++
		s.commitBlock(blk, height)
	}
	return nil
}

func (s *Store) rollback(forkPoint int32, popped []*model.Block) error {
	// popped is in pop order (highest first); replay it in ascending
	// height order to restore the pre-reorganize tip exactly.
	for i := len(popped) - 1; i >= 0; i-- {
		height := forkPoint + int32(len(popped)-i)
		s.commitBlock(popped[i], height)
	}
	return nil
}

func (s *Store) commitBlock(blk *model.Block, height int32) {
	s.blocksByHeight[height] = blk
	s.heightByHash[blk.Hash()] = height
	for idx, tx := range blk.Transactions {
		s.txLocations[tx.Hash()] = txLocation{height: height, index: idx}
		s.indexSpends(tx, height, idx)
	}
	if height > s.height {
		s.height = height
	}
}

func (s *Store) removeBlock(blk *model.Block, height int32) {
	delete(s.blocksByHeight, height)
	delete(s.heightByHash, blk.Hash())
	for _, tx := range blk.Transactions {
		delete(s.txLocations, tx.Hash())
		for _, in := range tx.TxIn {
			delete(s.spends, in.PreviousOutpoint)
		}
	}
}

func (s *Store) indexSpends(tx *model.Transaction, height int32, index int) {
	if tx.IsCoinbase() {
		return
	}
	for i, in := range tx.TxIn {
		s.spends[in.PreviousOutpoint] = store.SpendInfo{Hash: tx.Hash(), Index: uint32(i)}
	}
}

// --- queries, each wrapped in the sequence-lock read protocol ---

func (s *Store) FetchBlock(ctx context.Context, height int32) (*model.Block, error) {
	return store.ReadContext(ctx, &s.lock, func(context.Context) (*model.Block, error) {
		blk, ok := s.blocksByHeight[height]
		if !ok {
			return nil, chainerr.New(chainerr.NotFound, nil)
		}
		return blk, nil
	})
}

func (s *Store) FetchBlockByHash(ctx context.Context, hash chainhash.Hash) (*model.Block, int32, error) {
	type result struct {
		blk    *model.Block
		height int32
	}
	r, err := store.ReadContext(ctx, &s.lock, func(context.Context) (result, error) {
		height, ok := s.heightByHash[hash]
		if !ok {
			return result{}, chainerr.New(chainerr.NotFound, nil)
		}
		return result{blk: s.blocksByHeight[height], height: height}, nil
	})
	return r.blk, r.height, err
}

func (s *Store) FetchBlockHeader(ctx context.Context, height int32) (*model.Header, error) {
	blk, err := s.FetchBlock(ctx, height)
	if err != nil {
		return nil, err
	}
	hdr := blk.Header
	return &hdr, nil
}

func (s *Store) FetchLastHeight(ctx context.Context) (int32, error) {
	return store.ReadContext(ctx, &s.lock, func(context.Context) (int32, error) {
		return s.height, nil
	})
}

func (s *Store) FetchTransaction(ctx context.Context, hash chainhash.Hash) (*model.Transaction, int32, int, error) {
	type result struct {
		tx     *model.Transaction
		height int32
		index  int
	}
	r, err := store.ReadContext(ctx, &s.lock, func(context.Context) (result, error) {
		loc, ok := s.txLocations[hash]
		if !ok {
			return result{}, chainerr.New(chainerr.NotFound, nil)
		}
		blk := s.blocksByHeight[loc.height]
		return result{tx: blk.Transactions[loc.index], height: loc.height, index: loc.index}, nil
	})
	return r.tx, r.height, r.index, err
}

func (s *Store) FetchOutput(ctx context.Context, outpoint model.Outpoint) (*model.TxOut, error) {
	return store.ReadContext(ctx, &s.lock, func(context.Context) (*model.TxOut, error) {
		loc, ok := s.txLocations[outpoint.Hash]
		if !ok {
			return nil, chainerr.New(chainerr.NotFound, nil)
		}
		blk := s.blocksByHeight[loc.height]
		tx := blk.Transactions[loc.index]
		if int(outpoint.Index) >= len(tx.TxOut) {
			return nil, chainerr.New(chainerr.NotFound, nil)
		}
		return tx.TxOut[outpoint.Index], nil
	})
}

func (s *Store) FetchSpend(ctx context.Context, outpoint model.Outpoint) (store.SpendInfo, error) {
	return store.ReadContext(ctx, &s.lock, func(context.Context) (store.SpendInfo, error) {
		info, ok := s.spends[outpoint]
		if !ok {
			return store.SpendInfo{}, chainerr.New(chainerr.NotFound, nil)
		}
		return info, nil
	})
}

// FetchHistory is not implemented by the in-memory reference store: the
// spec assigns address history to a dedicated read-side projection (see
// internal/history), not the point-lookup fast-chain store.
func (s *Store) FetchHistory(ctx context.Context, script []byte, limit int, fromHeight int32) ([]store.HistoryEntry, error) {
	return nil, chainerr.New(chainerr.NotImplemented, nil)
}

func (s *Store) FetchBlockLocator(ctx context.Context, heights []int32) (store.Locator, error) {
	return store.ReadContext(ctx, &s.lock, func(context.Context) (store.Locator, error) {
		loc := store.Locator{}
		for _, h := range heights {
			if blk, ok := s.blocksByHeight[h]; ok {
				loc.StartHashes = append(loc.StartHashes, blk.Hash())
			}
		}
		return loc, nil
	})
}

// FetchLocatorBlockHashes implements the locator walk of spec.md §4.5.3:
// the first start_hash present on chain anchors the window, clamped by
// stop_hash, and threshold moves the window's start forward.
func (s *Store) FetchLocatorBlockHashes(ctx context.Context, loc store.Locator, threshold chainhash.Hash, limit int) ([]chainhash.Hash, error) {
	return store.ReadContext(ctx, &s.lock, func(context.Context) ([]chainhash.Hash, error) {
		begin, stop := s.locatorWindow(loc, threshold, limit)
		var out []chainhash.Hash
		for h := begin; h < stop; h++ {
			blk, ok := s.blocksByHeight[h]
			if !ok {
				break
			}
			out = append(out, blk.Hash())
		}
		return out, nil
	})
}

func (s *Store) FetchLocatorBlockHeaders(ctx context.Context, loc store.Locator, threshold chainhash.Hash, limit int) ([]*model.Header, error) {
	return store.ReadContext(ctx, &s.lock, func(context.Context) ([]*model.Header, error) {
		begin, stop := s.locatorWindow(loc, threshold, limit)
		var out []*model.Header
		for h := begin; h < stop; h++ {
			blk, ok := s.blocksByHeight[h]
			if !ok {
				break
			}
			hdr := blk.Header
			out = append(out, &hdr)
		}
		return out, nil
	})
}

// locatorWindow implements the shared five-step algorithm spec.md
// §4.5.3 describes for both the hash and header locator queries. Caller
// must hold a valid read snapshot.
func (s *Store) locatorWindow(loc store.Locator, threshold chainhash.Hash, limit int) (begin, stop int32) {
	start := int32(0)
	for _, h := range loc.StartHashes {
		if height, ok := s.heightByHash[h]; ok {
			start = height
			break
		}
	}
	begin = start + 1
	stop = begin + int32(limit)
	if stopHeight, ok := s.heightByHash[loc.StopHash]; ok && stopHeight < stop {
		stop = stopHeight
	}
	if thresholdHeight, ok := s.heightByHash[threshold]; ok && thresholdHeight > start {
		begin = thresholdHeight + 1
	}
	if begin < 0 {
		begin = 0
	}
	return begin, stop
}

func (s *Store) GetBranchWork(ctx context.Context, from int32, maximum *big.Int) (*big.Int, error) {
	return store.ReadContext(ctx, &s.lock, func(context.Context) (*big.Int, error) {
		total := new(big.Int)
		for h := from; h <= s.height; h++ {
			blk, ok := s.blocksByHeight[h]
			if !ok {
				break
			}
			total.Add(total, work.Proof(blk.Header.Bits))
			if maximum != nil && total.Cmp(maximum) >= 0 {
				break
			}
		}
		return total, nil
	})
}

func (s *Store) Contains(hash chainhash.Hash) bool {
	found, _ := store.Read(&s.lock, func() (bool, error) {
		_, ok := s.heightByHash[hash]
		return ok, nil
	})
	return found
}

func (s *Store) HeightOf(hash chainhash.Hash) (int32, bool) {
	type result struct {
		height int32
		ok     bool
	}
	r, _ := store.Read(&s.lock, func() (result, error) {
		height, found := s.heightByHash[hash]
		return result{height: height, ok: found}, nil
	})
	return r.height, r.ok
}

func (s *Store) HeaderAt(ctx context.Context, height int32) (time.Time, uint32, bool) {
	type result struct {
		timestamp time.Time
		bits      uint32
		ok        bool
	}
	r, _ := store.ReadContext(ctx, &s.lock, func(context.Context) (result, error) {
		blk, ok := s.blocksByHeight[height]
		if !ok {
			return result{}, nil
		}
		return result{timestamp: blk.Header.Timestamp, bits: blk.Header.Bits, ok: true}, nil
	})
	return r.timestamp, r.bits, r.ok
}

func (s *Store) ResolvePrevout(ctx context.Context, outpoint model.Outpoint) (*model.TxOut, error) {
	return s.FetchOutput(ctx, outpoint)
}
