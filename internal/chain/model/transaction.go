package model

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Outpoint identifies one UTXO slot: a previous transaction's hash and the
// index of the output within it.
type Outpoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// TxIn references a previous outpoint with the witness/script that spends it.
type TxIn struct {
	PreviousOutpoint Outpoint
	SignatureScript  []byte
	Witness          wire.TxWitness
	Sequence         uint32

	// prevout is populated by the validator during accept(), from its
	// prevout resolver, and consumed by connect(). It is not
	// part of the transaction's identity.
	prevout *TxOut
}

// SetPrevout records the resolved output this input spends. Populated only
// during accept(); never serialized, never hashed.
func (in *TxIn) SetPrevout(out *TxOut) { in.prevout = out }

// Prevout returns the previously resolved output, or nil if accept() has
// not yet populated it.
func (in *TxIn) Prevout() *TxOut { return in.prevout }

// TxOut is a value and a locking script. SpenderHeight caches the height of
// the transaction that first spends this output, or NotSpent.
type TxOut struct {
	Value        int64
	LockingScript []byte

	SpenderHeight int32
}

// Transaction is an ordered input list and ordered output list.
type Transaction struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32

	coinbase bool
	hashOnce sync.Once
	hash     chainhash.Hash
}

// NewTransaction builds a Transaction, marking it coinbase if its sole
// input references the null outpoint (index 0xffffffff, zero hash) as
// Bitcoin consensus defines a coinbase.
func NewTransaction(version int32, txIn []*TxIn, txOut []*TxOut, lockTime uint32) *Transaction {
	tx := &Transaction{Version: version, TxIn: txIn, TxOut: txOut, LockTime: lockTime}
	const nullOutputIndex = 0xffffffff
	tx.coinbase = len(txIn) == 1 &&
		txIn[0].PreviousOutpoint.Index == nullOutputIndex &&
		txIn[0].PreviousOutpoint.Hash == (chainhash.Hash{})
	return tx
}

// IsCoinbase reports whether this transaction is the block-reward transaction.
func (t *Transaction) IsCoinbase() bool { return t.coinbase }

// ToWire converts to a wire.MsgTx for hashing and script execution; wire
// format concerns are deliberately confined to this boundary.
func (t *Transaction) ToWire() *wire.MsgTx {
	msg := wire.NewMsgTx(t.Version)
	msg.LockTime = t.LockTime
	for _, in := range t.TxIn {
		msg.AddTxIn(&wire.TxIn{
			PreviousOutPoint: wire.OutPoint{Hash: in.PreviousOutpoint.Hash, Index: in.PreviousOutpoint.Index},
			SignatureScript:  in.SignatureScript,
			Witness:          in.Witness,
			Sequence:         in.Sequence,
		})
	}
	for _, out := range t.TxOut {
		msg.AddTxOut(&wire.TxOut{Value: out.Value, PkScript: out.LockingScript})
	}
	return msg
}

// Hash returns (and memoizes) the transaction's txid. Safe for concurrent
// use: connectBlock fans separate (tx, input) jobs for the same
// multi-input transaction across the priority dispatcher's goroutines,
// and any of them may call Hash on its error path.
func (t *Transaction) Hash() chainhash.Hash {
	t.hashOnce.Do(func() {
		t.hash = t.ToWire().TxHash()
	})
	return t.hash
}

// SerializeSize approximates the transaction's on-wire size for the
// block-size bound check.
func (t *Transaction) SerializeSize() int {
	return t.ToWire().SerializeSize()
}

// OutputValueSum sums transaction output values; used by accept(branch)'s
// input/output value comparison.
func (t *Transaction) OutputValueSum() int64 {
	var sum int64
	for _, out := range t.TxOut {
		sum += out.Value
	}
	return sum
}
