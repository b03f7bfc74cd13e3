// Package utxo implements the authoritative spendable-coin map:
// a reader/writer-locked key-value store keyed by OutPoint, with an
// atomic lock/confirm/spend state machine per output.
package utxo

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

// Set is the process-wide UTXO map. Exactly one goroutine at a time may
// be inside a mutating operation (apply_transaction, lock_inputs,
// unlock_inputs, confirm_at); reads share the lock.
type Set struct {
	mu   sync.RWMutex
	outs map[models.OutPoint]*models.UTXOState

	// byAddress indexes outpoints for get_utxos_by_address/balance_of.
	byAddress map[string]map[models.OutPoint]struct{}
}

// New creates an empty UTXO set.
func New() *Set {
	return &Set{
		outs:      make(map[models.OutPoint]*models.UTXOState),
		byAddress: make(map[string]map[models.OutPoint]struct{}),
	}
}

// Seed inserts a genesis or externally-minted output directly as
// Unspent, bypassing apply_transaction. Used at startup / in tests.
func (s *Set) Seed(op models.OutPoint, out models.TxOutput) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outs[op] = &models.UTXOState{Kind: models.UTXOUnspent, Output: out}
	s.indexLocked(op, out.Address)
}

func (s *Set) indexLocked(op models.OutPoint, addr string) {
	set, ok := s.byAddress[addr]
	if !ok {
		set = make(map[models.OutPoint]struct{})
		s.byAddress[addr] = set
	}
	set[op] = struct{}{}
}

// spendableBy reports whether st can be consumed by txid: Unspent and
// Confirmed outputs always, Locked outputs only by the transaction
// holding the lock (the finality path applies a transaction whose
// inputs it locked itself; a lock held by any other tx still rejects).
func spendableBy(st *models.UTXOState, txid chainhash.Hash) bool {
	if st == nil {
		return false
	}
	switch st.Kind {
	case models.UTXOUnspent, models.UTXOConfirmed:
		return true
	case models.UTXOLocked:
		return st.LockedByTx == txid
	default:
		return false
	}
}

// spendable reports whether st is Unspent or Confirmed, ignoring any
// Locked state (use spendableBy to check against a specific locking tx).
func spendable(st *models.UTXOState) bool {
	if st == nil {
		return false
	}
	switch st.Kind {
	case models.UTXOUnspent, models.UTXOConfirmed:
		return true
	default:
		return false
	}
}

// ApplyTransaction atomically verifies every non-coinbase input is
// spendable by tx, marks them Spent, and creates the new outputs
// Unspent. On any failure nothing is mutated — a double-spend attempt
// never partially applies.
func (s *Set) ApplyTransaction(tx *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !tx.IsCoinbase() {
		for _, in := range tx.Inputs {
			st := s.outs[in.PreviousOutput]
			if st == nil || st.Kind == models.UTXOAbsent {
				return timeerr.Newf(timeerr.KindUtxoNotFound, "outpoint %s not found", in.PreviousOutput)
			}
			if !spendableBy(st, tx.Txid) {
				return timeerr.Newf(timeerr.KindDoubleSpend, "outpoint %s is %s, not spendable", in.PreviousOutput, st.Kind)
			}
		}
	}

	for _, in := range tx.Inputs {
		st := s.outs[in.PreviousOutput]
		st.Kind = models.UTXOSpent
		st.SpentByTx = tx.Txid
		st.LockedByTx = chainhash.Hash{}
		st.LockedAt = time.Time{}
	}
	for vout, out := range tx.Outputs {
		op := models.OutPoint{Txid: tx.Txid, Vout: uint32(vout)}
		s.outs[op] = &models.UTXOState{Kind: models.UTXOUnspent, Output: out}
		s.indexLocked(op, out.Address)
	}
	return nil
}

// LockInputs transitions every input of tx from Unspent to Locked,
// recording the timestamp and the locking tx. Fails, with nothing
// mutated, if any input is not currently Unspent.
func (s *Set) LockInputs(tx *models.Transaction, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range tx.Inputs {
		st := s.outs[in.PreviousOutput]
		if st == nil || st.Kind != models.UTXOUnspent {
			return timeerr.Newf(timeerr.KindDoubleSpend, "outpoint %s is not Unspent, cannot lock", in.PreviousOutput)
		}
	}
	for _, in := range tx.Inputs {
		st := s.outs[in.PreviousOutput]
		st.Kind = models.UTXOLocked
		st.LockedByTx = tx.Txid
		st.LockedAt = ts
	}
	return nil
}

// UnlockInputs reverses a prior lock on rejection or timeout, moving
// every output currently Locked by txid back to Unspent.
func (s *Set) UnlockInputs(txid chainhash.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.outs {
		if st.Kind == models.UTXOLocked && st.LockedByTx == txid {
			st.Kind = models.UTXOUnspent
			st.LockedByTx = chainhash.Hash{}
			st.LockedAt = time.Time{}
		}
	}
}

// ConfirmAt transitions an Unspent output to Confirmed at the given
// block height. Idempotent if already Confirmed (height is updated).
func (s *Set) ConfirmAt(op models.OutPoint, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.outs[op]
	if !ok || st.Kind == models.UTXOAbsent {
		return timeerr.Newf(timeerr.KindUtxoNotFound, "outpoint %s not found", op)
	}
	if st.Kind != models.UTXOUnspent && st.Kind != models.UTXOConfirmed {
		return timeerr.Newf(timeerr.KindInvalidTransaction, "outpoint %s is %s, cannot confirm", op, st.Kind)
	}
	st.Kind = models.UTXOConfirmed
	st.ConfirmedHeight = height
	return nil
}

// Get returns the output at op, if it exists and has not been spent.
func (s *Set) Get(op models.OutPoint) (models.TxOutput, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.outs[op]
	if !ok || !spendable(st) {
		if !ok || st == nil {
			return models.TxOutput{}, false
		}
		if st.Kind == models.UTXOLocked {
			return st.Output, true
		}
		return models.TxOutput{}, false
	}
	return st.Output, true
}

// State returns the full lifecycle state at op, including Absent.
func (s *Set) State(op models.OutPoint) models.UTXOState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.outs[op]
	if !ok {
		return models.UTXOState{Kind: models.UTXOAbsent}
	}
	return *st
}

// OutpointOutput pairs an OutPoint with its current output payload.
type OutpointOutput struct {
	OutPoint models.OutPoint
	Output   models.TxOutput
}

// GetUTXOsByAddress returns every outpoint owned by addr that is not
// yet Spent (Unspent, Confirmed, or Locked).
func (s *Set) GetUTXOsByAddress(addr string) []OutpointOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []OutpointOutput
	for op := range s.byAddress[addr] {
		st := s.outs[op]
		if st == nil {
			continue
		}
		switch st.Kind {
		case models.UTXOUnspent, models.UTXOConfirmed, models.UTXOLocked:
			out = append(out, OutpointOutput{OutPoint: op, Output: st.Output})
		}
	}
	return out
}

// BalanceOf sums every non-Spent output owned by addr, including Locked.
func (s *Set) BalanceOf(addr string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for op := range s.byAddress[addr] {
		st := s.outs[op]
		if st == nil {
			continue
		}
		switch st.Kind {
		case models.UTXOUnspent, models.UTXOConfirmed, models.UTXOLocked:
			total += st.Output.Amount
		}
	}
	return total
}

// AvailableBalanceOf sums Unspent and Confirmed outputs only, excluding
// anything currently Locked in a pending finality round.
func (s *Set) AvailableBalanceOf(addr string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for op := range s.byAddress[addr] {
		st := s.outs[op]
		if st == nil {
			continue
		}
		switch st.Kind {
		case models.UTXOUnspent, models.UTXOConfirmed:
			total += st.Output.Amount
		}
	}
	return total
}
