// Package validator implements transaction structural/balance/signature
// validation, canonical txid derivation, and block hash/merkle-root
// derivation.
package validator

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/timecoin/node/internal/utxo"
	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

// AddressPrefix is prepended to every derived address.
const AddressPrefix = "TIME1"

// DeriveAddress computes the canonical address for a public key: the
// prefix plus the first 40 hex characters (20 bytes) of its SHA-256
// digest.
func DeriveAddress(pubKey []byte) string {
	sum := sha256.Sum256(pubKey)
	return AddressPrefix + hex.EncodeToString(sum[:])[:40]
}

func putUint64BE(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func putUint32BE(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

// DeriveTxid computes the canonical, signature-independent transaction
// ID: SHA-256 over version, lock_time, timestamp, the
// input list (previous output + sequence only — signatures are
// excluded), and the output list.
func DeriveTxid(tx *models.Transaction) chainhash.Hash {
	var buf bytes.Buffer
	putUint64BE(&buf, tx.Version)
	putUint64BE(&buf, tx.LockTime)
	putUint64BE(&buf, tx.Timestamp)

	putUint32BE(&buf, uint32(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf.WriteString(hex.EncodeToString(in.PreviousOutput.Txid[:]))
		putUint32BE(&buf, in.PreviousOutput.Vout)
		putUint32BE(&buf, in.Sequence)
	}

	putUint32BE(&buf, uint32(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		putUint64BE(&buf, out.Amount)
		putUint32BE(&buf, uint32(len(out.Address)))
		buf.WriteString(out.Address)
	}

	return chainhash.Hash(sha256.Sum256(buf.Bytes()))
}

// MerkleRoot folds H(prev || txid_i) over the txids in order, starting
// from the zero hash.
func MerkleRoot(txids []chainhash.Hash) chainhash.Hash {
	prev := chainhash.Hash{}
	for _, txid := range txids {
		var buf bytes.Buffer
		buf.Write(prev[:])
		buf.Write(txid[:])
		prev = chainhash.Hash(sha256.Sum256(buf.Bytes()))
	}
	return prev
}

// BlockHash computes the canonical block header hash.
func BlockHash(h *models.BlockHeader) chainhash.Hash {
	var buf bytes.Buffer
	putUint64BE(&buf, h.BlockNumber)
	putUint64BE(&buf, h.Timestamp)
	buf.WriteString(hex.EncodeToString(h.PreviousHash[:]))
	buf.WriteString(hex.EncodeToString(h.MerkleRoot[:]))
	putUint32BE(&buf, uint32(len(h.ProducerID)))
	buf.WriteString(h.ProducerID)
	return chainhash.Hash(sha256.Sum256(buf.Bytes()))
}

// VerifySignature checks a single input's signature against the
// public key it carries, using the transaction's canonical txid as the
// signed digest.
func VerifySignature(txid chainhash.Hash, in *models.TxInput) bool {
	pubKey, err := btcec.ParsePubKey(in.PublicKey)
	if err != nil {
		return false
	}
	sig, err := ecdsa.ParseDERSignature(in.Signature)
	if err != nil {
		return false
	}
	return sig.Verify(txid[:], pubKey)
}

// Validate runs the full validation pipeline against an
// immutable UTXO snapshot, returning a rich error on the first
// failure. It is a pure function: it neither mutates the UTXO set nor
// depends on anything but tx and set's current contents. Coinbase
// transactions (block rewards) bypass this validator entirely — they
// are constructed directly by the block producer.
func Validate(tx *models.Transaction, set *utxo.Set) error {
	if tx.IsCoinbase() {
		return timeerr.New(timeerr.KindInvalidTransaction, "validate rejects coinbase-shaped (input-less) transactions")
	}

	if len(tx.Outputs) == 0 {
		return timeerr.New(timeerr.KindInvalidTransaction, "transaction has no outputs")
	}
	for i, out := range tx.Outputs {
		if out.Amount == 0 {
			return timeerr.Newf(timeerr.KindInvalidTransaction, "output %d has zero amount", i)
		}
	}

	canonical := DeriveTxid(tx)
	var totalIn uint64
	for _, in := range tx.Inputs {
		out, ok := set.Get(in.PreviousOutput)
		if !ok {
			return timeerr.Newf(timeerr.KindUtxoNotFound, "previous output %s not found", in.PreviousOutput)
		}
		derived := DeriveAddress(in.PublicKey)
		if derived != out.Address {
			return timeerr.Newf(timeerr.KindInvalidSignature, "input public key does not match owning address %s", out.Address)
		}
		if !VerifySignature(canonical, &in) {
			return timeerr.Newf(timeerr.KindInvalidSignature, "signature verification failed for input spending %s", in.PreviousOutput)
		}
		totalIn += out.Amount
	}

	if totalIn < tx.TotalOutput() {
		return timeerr.Newf(timeerr.KindInsufficientBalance, "inputs total %d is less than outputs total %d", totalIn, tx.TotalOutput())
	}

	if canonical != tx.Txid {
		return timeerr.New(timeerr.KindInvalidTransaction, "declared txid does not match canonical derivation")
	}

	encoded, err := json.Marshal(tx)
	if err != nil {
		return timeerr.Wrap(timeerr.KindSerialization, "failed to serialize transaction for size check", err)
	}
	if len(encoded) > models.MaxTransactionSize {
		return timeerr.Newf(timeerr.KindInvalidTransaction, "transaction size %d exceeds maximum %d", len(encoded), models.MaxTransactionSize)
	}

	return nil
}
