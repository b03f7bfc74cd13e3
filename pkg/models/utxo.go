package models

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// OutPoint identifies a specific transaction output.
type OutPoint struct {
	Txid chainhash.Hash `json:"txid"`
	Vout uint32         `json:"vout"`
}

func (o OutPoint) String() string {
	return fmt.Sprintf("%s:%d", o.Txid.String(), o.Vout)
}

// TxOutput is a single transaction output.
type TxOutput struct {
	Amount  uint64 `json:"amount"`
	Address string `json:"address"`
}

// UTXOStateKind discriminates the lifecycle position of a UTXO.
type UTXOStateKind int

const (
	UTXOAbsent UTXOStateKind = iota
	UTXOUnspent
	UTXOConfirmed
	UTXOLocked
	UTXOSpent
)

func (k UTXOStateKind) String() string {
	switch k {
	case UTXOUnspent:
		return "unspent"
	case UTXOConfirmed:
		return "confirmed"
	case UTXOLocked:
		return "locked"
	case UTXOSpent:
		return "spent"
	default:
		return "absent"
	}
}

// UTXOState is the full lifecycle state of a tracked output, including
// the state-specific payload (confirmation height, locking tx, etc).
type UTXOState struct {
	Kind UTXOStateKind

	Output TxOutput

	ConfirmedHeight uint64

	LockedByTx chainhash.Hash
	LockedAt   time.Time

	SpentByTx chainhash.Hash
}
