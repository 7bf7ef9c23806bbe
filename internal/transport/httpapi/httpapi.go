// Package httpapi mirrors internal/transport's gRPC query surface over
// plain net/http + JSON (SPEC_FULL.md §6), the way cmd/api-gateway/main.go
// mirrors its gRPC service through a REST gateway mux, plus /metrics and
// CORS for browser-based block explorers.
package httpapi

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/nodecore/blockorganizer/internal/chain/chainerr"
	"github.com/nodecore/blockorganizer/internal/chain/store"
	"github.com/nodecore/blockorganizer/internal/transport"
)

// OrganizeFunc decodes and submits a wire block to the organizer.
type OrganizeFunc func(ctx context.Context, raw *wire.MsgBlock) chainerr.Code

// OrganizeTransactionFunc decodes and submits a wire transaction to the
// organizer's organize(transaction) path.
type OrganizeTransactionFunc func(ctx context.Context, raw *wire.MsgTx) chainerr.Code

// Server exposes the organizer's query and submit surface over HTTP.
type Server struct {
	organize   OrganizeFunc
	organizeTx OrganizeTransactionFunc
	store      store.Store
	history    transport.HistoryReader
	logger     *zap.Logger
}

// New builds a Server. history may be nil if the deployment has no
// ClickHouse projection configured; /v1/history then answers 501.
func New(organize OrganizeFunc, organizeTx OrganizeTransactionFunc, s store.Store, h transport.HistoryReader, logger *zap.Logger) *Server {
	return &Server{organize: organize, organizeTx: organizeTx, store: s, history: h, logger: logger}
}

// Handler builds the CORS-wrapped mux: the query/submit endpoints plus
// /metrics, following cmd/api-gateway/main.go's cors.Default().Handler(mux)
// pattern.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/organize", s.handleOrganize)
	mux.HandleFunc("/v1/transactions", s.handleOrganizeTransaction)
	mux.HandleFunc("/v1/blocks", s.handleFetchBlock)
	mux.HandleFunc("/v1/height", s.handleFetchLastHeight)
	mux.HandleFunc("/v1/locator", s.handleFetchBlockLocator)
	mux.HandleFunc("/v1/history", s.handleFetchHistory)
	mux.Handle("/metrics", promhttp.Handler())
	return cors.Default().Handler(mux)
}

// NewServer builds the *http.Server cmd/organizerd runs, with the same
// timeouts cmd/api-gateway/main.go sets on its REST listener.
func NewServer(addr string, organize OrganizeFunc, organizeTx OrganizeTransactionFunc, s store.Store, h transport.HistoryReader, logger *zap.Logger) *http.Server {
	srv := New(organize, organizeTx, s, h, logger)
	return &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}
}

func (s *Server) handleOrganize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req transport.OrganizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	raw, err := hex.DecodeString(req.BlockHex)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg := &wire.MsgBlock{}
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	code := s.organize(r.Context(), msg)
	writeJSON(w, transport.OrganizeResponse{Code: code.String()})
}

func (s *Server) handleOrganizeTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req transport.OrganizeTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	raw, err := hex.DecodeString(req.TxHex)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	msg := &wire.MsgTx{}
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	code := s.organizeTx(r.Context(), msg)
	writeJSON(w, transport.OrganizeTransactionResponse{Code: code.String()})
}

func (s *Server) handleFetchBlock(w http.ResponseWriter, r *http.Request) {
	height, err := parseInt32(r.URL.Query().Get("height"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	blk, err := s.store.FetchBlock(r.Context(), height)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	hash := blk.Hash()
	prev := blk.PreviousHash()
	writeJSON(w, transport.FetchBlockResponse{
		Hash:         hash.String(),
		Height:       height,
		PreviousHash: prev.String(),
		Bits:         blk.Header.Bits,
		TimestampSec: blk.Header.Timestamp.Unix(),
		TxCount:      len(blk.Transactions),
	})
}

func (s *Server) handleFetchLastHeight(w http.ResponseWriter, r *http.Request) {
	height, err := s.store.FetchLastHeight(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, transport.FetchLastHeightResponse{Height: height})
}

func (s *Server) handleFetchBlockLocator(w http.ResponseWriter, r *http.Request) {
	var req transport.FetchBlockLocatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	loc, err := s.store.FetchBlockLocator(r.Context(), req.Heights)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	hashes := make([]string, len(loc.StartHashes))
	for i, h := range loc.StartHashes {
		hashes[i] = h.String()
	}
	writeJSON(w, transport.FetchBlockLocatorResponse{StartHashesHex: hashes})
}

func (s *Server) handleFetchHistory(w http.ResponseWriter, r *http.Request) {
	var req transport.FetchHistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if s.history == nil {
		http.Error(w, chainerr.NotImplemented.String(), http.StatusNotImplemented)
		return
	}
	script, err := hex.DecodeString(req.ScriptHex)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := s.history.FetchHistory(r.Context(), script, req.Limit, req.FromHeight)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	entries := make([]transport.HistoryEntry, len(rows))
	for i, row := range rows {
		entries[i] = transport.HistoryEntry{
			TxHash:      hex.EncodeToString(row.TxHash[:]),
			Height:      row.Height,
			TxIndex:     row.TxIndex,
			OutputIndex: row.OutputIndex,
			Value:       row.Value,
		}
	}
	writeJSON(w, transport.FetchHistoryResponse{Entries: entries})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if chainerr.Is(err, chainerr.NotFound) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func parseInt32(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 10, 32)
	return int32(v), err
}
