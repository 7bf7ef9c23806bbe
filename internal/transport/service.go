// Package transport exposes the organizer core over gRPC (inbound
// organize, outbound query surface) using a hand-written
// grpc.ServiceDesc and internal/transport/jsoncodec in place of generated
// *.pb.go stubs, since the teacher's proto module is unavailable here
// (SPEC_FULL.md §6).
package transport

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/store"
	"github.com/nodecore/blockorganizer/internal/history"
	"go.uber.org/zap"
)

// organizeFunc adapts *organizer.Organizer.Organize (which operates on
// the already-decoded *model.Block) to the wire-level request this
// service receives; cmd/organizerd supplies the closure that decodes and
// calls through.
type organizeFunc func(ctx context.Context, raw *wire.MsgBlock) chainerr.Code

// organizeTxFunc is organizeFunc's counterpart for spec.md §6's
// organize(transaction) operation; cmd/organizerd's closure decodes the
// wire transaction and calls (*organizer.Organizer).OrganizeTransaction
// with the organizer's current fork set.
type organizeTxFunc func(ctx context.Context, raw *wire.MsgTx) chainerr.Code

// HistoryReader answers the fetch_history half of spec.md §4.5.3's query
// surface from the read-only ClickHouse projection (internal/history);
// it is optional — a Service built with a nil HistoryReader rejects
// FetchHistory with chainerr.NotImplemented, matching spec.md §7's
// reserved code for query surface a deployment hasn't wired up.
type HistoryReader interface {
	FetchHistory(ctx context.Context, lockingScript []byte, limit int, fromHeight int32) ([]history.Entry, error)
}

// Service implements OrganizerServer against a live organizer and store.
type Service struct {
	organize   organizeFunc
	organizeTx organizeTxFunc
	store      store.Store
	history    HistoryReader
	logger     *zap.Logger
}

// NewService builds a Service. organize and organizeTx are typically
// (*organizer.Organizer).Organize/OrganizeTransaction wrapped to accept
// wire blocks/transactions; see cmd/organizerd for the concrete wiring.
// history may be nil if the deployment has no ClickHouse projection
// configured.
func NewService(organize organizeFunc, organizeTx organizeTxFunc, s store.Store, h HistoryReader, logger *zap.Logger) *Service {
	return &Service{organize: organize, organizeTx: organizeTx, store: s, history: h, logger: logger}
}

// OrganizerServer is the hand-written interface HandlerType binds to.
type OrganizerServer interface {
	Organize(ctx context.Context, req *OrganizeRequest) (*OrganizeResponse, error)
	OrganizeTransaction(ctx context.Context, req *OrganizeTransactionRequest) (*OrganizeTransactionResponse, error)
	FetchBlock(ctx context.Context, req *FetchBlockRequest) (*FetchBlockResponse, error)
	FetchLastHeight(ctx context.Context, req *struct{}) (*FetchLastHeightResponse, error)
	FetchBlockLocator(ctx context.Context, req *FetchBlockLocatorRequest) (*FetchBlockLocatorResponse, error)
	FetchHistory(ctx context.Context, req *FetchHistoryRequest) (*FetchHistoryResponse, error)
}

func (s *Service) Organize(ctx context.Context, req *OrganizeRequest) (*OrganizeResponse, error) {
	raw, err := hex.DecodeString(req.BlockHex)
	if err != nil {
		return nil, fmt.Errorf("decode block_hex: %w", err)
	}
	msg := &wire.MsgBlock{}
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("deserialize block: %w", err)
	}
	code := s.organize(ctx, msg)
	return &OrganizeResponse{Code: code.String()}, nil
}

func (s *Service) OrganizeTransaction(ctx context.Context, req *OrganizeTransactionRequest) (*OrganizeTransactionResponse, error) {
	raw, err := hex.DecodeString(req.TxHex)
	if err != nil {
		return nil, fmt.Errorf("decode tx_hex: %w", err)
	}
	msg := &wire.MsgTx{}
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("deserialize transaction: %w", err)
	}
	code := s.organizeTx(ctx, msg)
	return &OrganizeTransactionResponse{Code: code.String()}, nil
}

func (s *Service) FetchBlock(ctx context.Context, req *FetchBlockRequest) (*FetchBlockResponse, error) {
	blk, err := s.store.FetchBlock(ctx, req.Height)
	if err != nil {
		return nil, err
	}
	hash := blk.Hash()
	prev := blk.PreviousHash()
	return &FetchBlockResponse{
		Hash:         hash.String(),
		Height:       req.Height,
		PreviousHash: prev.String(),
		Bits:         blk.Header.Bits,
		TimestampSec: blk.Header.Timestamp.Unix(),
		TxCount:      len(blk.Transactions),
	}, nil
}

func (s *Service) FetchLastHeight(ctx context.Context, _ *struct{}) (*FetchLastHeightResponse, error) {
	height, err := s.store.FetchLastHeight(ctx)
	if err != nil {
		return nil, err
	}
	return &FetchLastHeightResponse{Height: height}, nil
}

func (s *Service) FetchBlockLocator(ctx context.Context, req *FetchBlockLocatorRequest) (*FetchBlockLocatorResponse, error) {
	loc, err := s.store.FetchBlockLocator(ctx, req.Heights)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(loc.StartHashes))
	for i, h := range loc.StartHashes {
		hashes[i] = h.String()
	}
	return &FetchBlockLocatorResponse{StartHashesHex: hashes}, nil
}

func (s *Service) FetchHistory(ctx context.Context, req *FetchHistoryRequest) (*FetchHistoryResponse, error) {
	if s.history == nil {
		return nil, chainerr.New(chainerr.NotImplemented, nil)
	}
	script, err := hex.DecodeString(req.ScriptHex)
	if err != nil {
		return nil, fmt.Errorf("decode script_hex: %w", err)
	}
	rows, err := s.history.FetchHistory(ctx, script, req.Limit, req.FromHeight)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, len(rows))
	for i, row := range rows {
		entries[i] = HistoryEntry{
			TxHash:      hex.EncodeToString(row.TxHash[:]),
			Height:      row.Height,
			TxIndex:     row.TxIndex,
			OutputIndex: row.OutputIndex,
			Value:       row.Value,
		}
	}
	return &FetchHistoryResponse{Entries: entries}, nil
}
