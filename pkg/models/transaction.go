package models

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// MaxTransactionSize is the wire size ceiling enforced by the validator.
const MaxTransactionSize = 1 << 20 // 1 MiB

// TxInput spends a previous output. Signature is excluded from the
// canonical txid derivation (see validator.DeriveTxid).
type TxInput struct {
	PreviousOutput OutPoint `json:"previousOutput"`
	Sequence       uint32   `json:"sequence"`
	Signature      []byte   `json:"signature"`
	PublicKey      []byte   `json:"publicKey"`
}

// Transaction is the unit of instant finality (C5) and block inclusion (C7).
type Transaction struct {
	Txid      chainhash.Hash `json:"txid"`
	Version   uint64         `json:"version"`
	Inputs    []TxInput      `json:"inputs"`
	Outputs   []TxOutput     `json:"outputs"`
	LockTime  uint64         `json:"lockTime"`
	Timestamp uint64         `json:"timestamp"`
}

// IsCoinbase reports whether the transaction spends no inputs.
func (t *Transaction) IsCoinbase() bool { return len(t.Inputs) == 0 }

// TotalOutput sums all output amounts.
func (t *Transaction) TotalOutput() uint64 {
	var sum uint64
	for _, o := range t.Outputs {
		sum += o.Amount
	}
	return sum
}

// MempoolEntry wraps a transaction with its insertion time for TTL eviction.
type MempoolEntry struct {
	Tx        Transaction `json:"tx"`
	InsertedAt time.Time  `json:"insertedAt"`
}
