package transport

import (
	"github.com/btcsuite/btcd/wire"
	"github.com/nodecore/blockorganizer/internal/chain/model"
)

// BlockFromWire converts a wire.MsgBlock (the raw wire format this core
// treats as an external collaborator per spec.md §1) into the domain
// *model.Block the organizer operates on. Exported so cmd/organizerd can
// build the OrganizeFunc closure NewService/httpapi.New expect.
func BlockFromWire(msg *wire.MsgBlock) *model.Block {
	txs := make([]*model.Transaction, len(msg.Transactions))
	for i, tx := range msg.Transactions {
		txs[i] = transactionFromWire(tx)
	}
	return &model.Block{Header: msg.Header, Transactions: txs}
}

// TransactionFromWire converts a wire.MsgTx into the domain
// *model.Transaction OrganizeTransaction operates on. Exported for the
// same reason BlockFromWire is: cmd/organizerd builds the
// OrganizeTransactionFunc closure from it.
func TransactionFromWire(tx *wire.MsgTx) *model.Transaction {
	return transactionFromWire(tx)
}

func transactionFromWire(tx *wire.MsgTx) *model.Transaction {
	txIn := make([]*model.TxIn, len(tx.TxIn))
	for i, in := range tx.TxIn {
		txIn[i] = &model.TxIn{
			PreviousOutpoint: model.Outpoint{Hash: in.PreviousOutPoint.Hash, Index: in.PreviousOutPoint.Index},
			SignatureScript:  in.SignatureScript,
			Witness:          in.Witness,
			Sequence:         in.Sequence,
		}
	}
	txOut := make([]*model.TxOut, len(tx.TxOut))
	for i, out := range tx.TxOut {
		txOut[i] = &model.TxOut{Value: out.Value, LockingScript: out.PkScript, SpenderHeight: model.NotSpent}
	}
	return model.NewTransaction(tx.Version, txIn, txOut, tx.LockTime)
}
