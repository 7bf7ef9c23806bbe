package transport

// OrganizeRequest carries a candidate block, wire-serialized
// (wire.MsgBlock.BtcEncode) and hex-encoded so it round-trips through the
// JSON codec without a binary-safe transport.
type OrganizeRequest struct {
	BlockHex string `json:"block_hex"`
}

// OrganizeResponse reports the chainerr.Code the organizer produced.
type OrganizeResponse struct {
	Code string `json:"code"`
}

// OrganizeTransactionRequest carries a candidate unconfirmed transaction,
// wire-serialized (wire.MsgTx.BtcEncode) and hex-encoded, the same way
// OrganizeRequest carries a block.
type OrganizeTransactionRequest struct {
	TxHex string `json:"tx_hex"`
}

// OrganizeTransactionResponse reports the chainerr.Code
// organize(transaction) produced.
type OrganizeTransactionResponse struct {
	Code string `json:"code"`
}

// FetchBlockRequest selects a block by height.
type FetchBlockRequest struct {
	Height int32 `json:"height"`
}

// FetchBlockResponse carries the block's header fields and hash; full
// transaction payloads are left to the wire/block-fetch external
// collaborator spec.md §1 names, not this query surface.
type FetchBlockResponse struct {
	Hash         string `json:"hash"`
	Height       int32  `json:"height"`
	PreviousHash string `json:"previous_hash"`
	Bits         uint32 `json:"bits"`
	TimestampSec int64  `json:"timestamp_sec"`
	TxCount      int    `json:"tx_count"`
}

// FetchLastHeightResponse reports the current tip height.
type FetchLastHeightResponse struct {
	Height int32 `json:"height"`
}

// FetchBlockLocatorRequest carries the caller's best-known heights.
type FetchBlockLocatorRequest struct {
	Heights []int32 `json:"heights"`
}

// FetchBlockLocatorResponse carries the resolved start hashes, hex-encoded.
type FetchBlockLocatorResponse struct {
	StartHashesHex []string `json:"start_hashes_hex"`
}

// FetchHistoryRequest selects a locking script's transaction history
// (spec.md §4.5.3 fetch_history(address, limit, from_height)); "address"
// resolves to a locking script one layer up, outside this core's scope,
// so the query surface takes the script directly.
type FetchHistoryRequest struct {
	ScriptHex  string `json:"script_hex"`
	Limit      int    `json:"limit"`
	FromHeight int32  `json:"from_height"`
}

// HistoryEntry is one row of FetchHistoryResponse.
type HistoryEntry struct {
	TxHash      string `json:"tx_hash"`
	Height      int32  `json:"height"`
	TxIndex     uint32 `json:"tx_index"`
	OutputIndex uint32 `json:"output_index"`
	Value       int64  `json:"value"`
}

// FetchHistoryResponse carries the resolved history slice.
type FetchHistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}
