// Package history is the read-only ClickHouse projection spec.md §3 names
// as "history and stealth indices (read-only consumers of the same atomic
// writes)": it observes committed reorganize notifications and maintains
// a locking-script → transaction index answering the fetch_history half
// of spec.md §4.5.3's query surface, without becoming an address index in
// the sense SPEC_FULL.md §9's non-goal excludes (it stores only what that
// one query needs, derived from blocks already accepted by the organizer).
package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/model"
	"github.com/nodecore/blockorganizer/pkg/batcher"
)

const (
	rowBatcherCapacity      = 2000
	rowBatcherFlushInterval = 5 * time.Second
	rowBatcherFlushRPS      = 20
)

// Entry is one row of a script's transaction history.
type Entry struct {
	TxHash      [32]byte
	Height      int32
	TxIndex     uint32
	OutputIndex uint32
	Value       int64
}

// row is what OnReorganize queues; applyRows turns a batch of these into a
// single ClickHouse insert.
type row struct {
	scriptHash [32]byte
	txHash     [32]byte
	height     int32
	txIndex    uint32
	outIndex   uint32
	value      int64
	sign       int8
}

// Projection maintains chain_history in ClickHouse via a
// CollapsingMergeTree sign column: incoming blocks write sign=+1 rows,
// outgoing blocks (the reorganize undo side) write sign=-1 rows for the
// exact same keys, so ClickHouse's background merge collapses undone
// history back out without an explicit DELETE. Writes are queued through
// a rate-limited batcher rather than sent inline from OnReorganize; once
// the batcher's buffer (twice the flush size) is full, OnReorganize blocks
// until the flush loop takes rows out, which holds up the reorganize
// dispatch that called it.
type Projection struct {
	conn    clickhouse.Conn
	logger  *zap.Logger
	batcher *batcher.Batcher[row]
}

// New opens a Projection against dsn and starts its background flush loop.
func New(dsn string, logger *zap.Logger) (*Projection, error) {
	if dsn == "" {
		return nil, errors.New("clickhouse dsn is required")
	}
	options, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open clickhouse connection: %w", err)
	}
	p := &Projection{conn: conn, logger: logger}
	p.batcher = batcher.New[row](
		logger.Named("historyBatcher"),
		p.flush,
		rowBatcherCapacity,
		rowBatcherFlushInterval,
		rowBatcherFlushRPS,
	)
	p.batcher.Start(context.Background())
	return p, nil
}

// ScriptHash derives the index key for a locking script: sha256, matching
// the Electrum-style "scripthash" convention the rest of the Go Bitcoin
// ecosystem uses for script-keyed indices.
func ScriptHash(lockingScript []byte) [32]byte {
	return sha256.Sum256(lockingScript)
}

// OnReorganize is a subscriber.Handler: it queues +1 rows for every output
// in incoming blocks and -1 rows for every output in outgoing blocks,
// keeping the projection consistent with the store's committed state
// (spec.md §3's "read-only consumers of the same atomic writes").
// Non-success codes (including service_stopped) are ignored: no commit
// happened, so there is nothing to project.
func (p *Projection) OnReorganize(code chainerr.Code, forkHeight int32, incoming, outgoing []*model.Block) {
	if code != chainerr.Success {
		return
	}
	ctx := context.Background()
	p.queueBlocks(ctx, incoming, forkHeight+1, +1)
	p.queueBlocks(ctx, outgoing, forkHeight+int32(len(outgoing)), -1)
}

func (p *Projection) queueBlocks(ctx context.Context, blocks []*model.Block, startHeight int32, sign int8) {
	height := startHeight
	for _, blk := range blocks {
		for txIdx, tx := range blk.Transactions {
			txHash := tx.Hash()
			for outIdx, out := range tx.TxOut {
				r := row{
					scriptHash: ScriptHash(out.LockingScript),
					txHash:     txHash,
					height:     height,
					txIndex:    uint32(txIdx),
					outIndex:   uint32(outIdx),
					value:      out.Value,
					sign:       sign,
				}
				if err := p.batcher.Add(ctx, r); err != nil {
					p.logger.Error("history projection: queue row failed", zap.Error(err))
				}
			}
		}
		if sign > 0 {
			height++
		} else {
			height--
		}
	}
}

func (p *Projection) flush(ctx context.Context, rows []row) error {
	if len(rows) == 0 {
		return nil
	}
	const query = `
INSERT INTO chain_history (
	script_hash,
	tx_hash,
	height,
	tx_index,
	output_index,
	value,
	sign
) VALUES`
	batch, err := p.conn.PrepareBatch(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare history batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(
			hex.EncodeToString(r.scriptHash[:]),
			hex.EncodeToString(r.txHash[:]),
			r.height,
			r.txIndex,
			r.outIndex,
			r.value,
			r.sign,
		); err != nil {
			return fmt.Errorf("append history row: %w", err)
		}
	}
	return batch.Send()
}

// FetchHistory answers spec.md §4.5.3's fetch_history(address, limit,
// from_height) for a locking script, summing collapsed sign columns so
// undone rows drop out even before ClickHouse's background merge runs.
func (p *Projection) FetchHistory(ctx context.Context, lockingScript []byte, limit int, fromHeight int32) ([]Entry, error) {
	scriptHash := ScriptHash(lockingScript)
	const query = `
SELECT tx_hash, height, tx_index, output_index, sum(value * sign) AS value
FROM chain_history
WHERE script_hash = ? AND height >= ?
GROUP BY tx_hash, height, tx_index, output_index
HAVING sum(sign) > 0
ORDER BY height ASC
LIMIT ?`
	rows, err := p.conn.Query(ctx, query, hex.EncodeToString(scriptHash[:]), fromHeight, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var txHash string
		if err := rows.Scan(&txHash, &e.Height, &e.TxIndex, &e.OutputIndex, &e.Value); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		decoded, err := hex.DecodeString(txHash)
		if err != nil {
			return nil, fmt.Errorf("decode tx_hash: %w", err)
		}
		copy(e.TxHash[:], decoded)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close stops the flush loop, which writes the batch it is currently
// building, then releases the underlying ClickHouse connection. Rows still
// waiting in the batcher's channel at that moment are not written.
func (p *Projection) Close() error {
	if p.batcher != nil {
		p.batcher.Stop()
	}
	return p.conn.Close()
}
