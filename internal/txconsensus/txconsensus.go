// Package txconsensus implements the per-transaction instant-finality
// voting engine: weighted Approve/Reject votes from active masternodes
// drive a transaction to finality at a two-thirds approve quorum or to
// rejection at a one-third reject quorum, ahead of block inclusion.
// The finalize-or-reject step is a single critical section, which is
// what makes it the double-spend firewall.
package txconsensus

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/timecoin/node/internal/finalizedstore"
	"github.com/timecoin/node/internal/registry"
	"github.com/timecoin/node/internal/utxo"
	"github.com/timecoin/node/internal/validator"
	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

// DefaultTimeout is the per-round voting deadline.
const DefaultTimeout = 10 * time.Second

var logger = log.New(log.Writer(), "[txconsensus] ", log.LstdFlags)

// Outcome is the terminal state of a finality round.
type Outcome int

const (
	OutcomeUnresolved Outcome = iota
	OutcomeFinalized
	OutcomeRejected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFinalized:
		return "finalized"
	case OutcomeRejected:
		return "rejected"
	default:
		return "unresolved"
	}
}

// Result summarizes how a submitted transaction's round concluded.
type Result struct {
	Txid          chainhash.Hash
	Outcome       Outcome
	ApproveWeight uint64
	RejectWeight  uint64
	TotalWeight   uint64
}

// Notifier is implemented by whatever broadcasts consensus events to
// peers/clients (the engine facade's websocket hub, in production).
type Notifier interface {
	NotifyFinalized(tx models.Transaction)
	NotifyRejected(txid chainhash.Hash)
	NotifyUnresolved(txid chainhash.Hash)
}

type round struct {
	tx            *models.Transaction
	votes         map[string]models.Vote
	approveWeight uint64
	rejectWeight  uint64
	done          chan Result
}

// Engine runs the voting protocol against the UTXO set, registry, and
// finalized-tx store it is given — it does not own them; the engine
// facade does.
type Engine struct {
	mu       sync.Mutex
	rounds   map[chainhash.Hash]*round
	utxo     *utxo.Set
	registry *registry.Registry
	store    *finalizedstore.Store
	notifier Notifier
	timeout  time.Duration
}

// New builds a transaction-consensus engine. notifier may be nil.
func New(utxoSet *utxo.Set, reg *registry.Registry, store *finalizedstore.Store, notifier Notifier) *Engine {
	return &Engine{
		rounds:   make(map[chainhash.Hash]*round),
		utxo:     utxoSet,
		registry: reg,
		store:    store,
		notifier: notifier,
		timeout:  DefaultTimeout,
	}
}

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// SubmitTransaction runs the full protocol: validate, lock inputs,
// open a voting round, and block until finality, rejection, or
// timeout.
func (e *Engine) SubmitTransaction(ctx context.Context, tx *models.Transaction) (Result, error) {
	if err := validator.Validate(tx, e.utxo); err != nil {
		return Result{}, err
	}
	if err := e.utxo.LockInputs(tx, time.Now()); err != nil {
		return Result{}, err
	}

	r := &round{
		tx:    tx,
		votes: make(map[string]models.Vote),
		done:  make(chan Result, 1),
	}
	e.mu.Lock()
	e.rounds[tx.Txid] = r
	e.mu.Unlock()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case res := <-r.done:
		return res, nil
	case <-timer.C:
		return e.resolveTimeout(tx.Txid), nil
	case <-ctx.Done():
		return e.resolveTimeout(tx.Txid), ctx.Err()
	}
}

// Vote records a single masternode's weighted decision on an
// in-flight transaction round, evaluating the finality/rejection
// thresholds after each vote. Duplicate (txid, voterID) votes are
// rejected: (subject, voter) is unique within a round.
func (e *Engine) Vote(voterID string, txid chainhash.Hash, choice models.VoteChoice, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rounds[txid]
	if !ok {
		return timeerr.Newf(timeerr.KindInvalidProposal, "no active finality round for tx %s", txid)
	}
	if _, voted := r.votes[voterID]; voted {
		return timeerr.Newf(timeerr.KindDuplicateVote, "voter %s already voted on tx %s", voterID, txid)
	}

	weight := e.registry.EffectiveWeight(voterID, now)
	r.votes[voterID] = models.Vote{
		Subject:   models.TxSubject(txid),
		VoterID:   voterID,
		Choice:    choice,
		Weight:    weight,
		Timestamp: now,
	}
	switch choice {
	case models.VoteApprove:
		r.approveWeight += weight
	case models.VoteReject:
		r.rejectWeight += weight
	}

	total := e.registry.TotalWeightAt(now)
	if total == 0 {
		// No active voting weight; no quorum is reachable, leave the
		// round open until timeout.
		return nil
	}
	approveThreshold := ceilDiv(2*total, 3)
	rejectThreshold := ceilDiv(total, 3)

	switch {
	case r.rejectWeight >= rejectThreshold:
		e.rejectLocked(txid, r, total)
	case r.approveWeight >= approveThreshold:
		e.finalizeLocked(txid, r, total)
	}
	return nil
}

func (e *Engine) finalizeLocked(txid chainhash.Hash, r *round, total uint64) {
	delete(e.rounds, txid)

	// The inputs are still Locked by this tx from SubmitTransaction;
	// ApplyTransaction accepts its own lock and consumes them.
	if err := e.utxo.ApplyTransaction(r.tx); err != nil {
		logger.Printf("finality reached for %s but apply failed: %v", txid, err)
		r.done <- Result{Txid: txid, Outcome: OutcomeUnresolved, ApproveWeight: r.approveWeight, RejectWeight: r.rejectWeight, TotalWeight: total}
		return
	}

	if e.store != nil {
		rec := models.FinalizedTxRecord{
			Tx:            *r.tx,
			FinalizedAt:   time.Now().Unix(),
			VotesReceived: len(r.votes),
			TotalVoters:   len(r.votes),
		}
		if err := e.store.Put(txid, rec); err != nil {
			logger.Printf("failed to persist finalized tx %s: %v", txid, err)
		}
	}
	if e.notifier != nil {
		e.notifier.NotifyFinalized(*r.tx)
	}
	r.done <- Result{Txid: txid, Outcome: OutcomeFinalized, ApproveWeight: r.approveWeight, RejectWeight: r.rejectWeight, TotalWeight: total}
}

func (e *Engine) rejectLocked(txid chainhash.Hash, r *round, total uint64) {
	delete(e.rounds, txid)
	e.utxo.UnlockInputs(txid)
	if e.notifier != nil {
		e.notifier.NotifyRejected(txid)
	}
	r.done <- Result{Txid: txid, Outcome: OutcomeRejected, ApproveWeight: r.approveWeight, RejectWeight: r.rejectWeight, TotalWeight: total}
}

func (e *Engine) resolveTimeout(txid chainhash.Hash) Result {
	e.mu.Lock()
	r, ok := e.rounds[txid]
	if ok {
		delete(e.rounds, txid)
	}
	e.mu.Unlock()

	if !ok {
		// Resolved by a concurrent vote between the timer firing and
		// this call acquiring the lock; nothing left to unwind.
		return Result{Txid: txid, Outcome: OutcomeUnresolved}
	}

	e.utxo.UnlockInputs(txid)
	if e.notifier != nil {
		e.notifier.NotifyUnresolved(txid)
	}
	return Result{Txid: txid, Outcome: OutcomeUnresolved, ApproveWeight: r.approveWeight, RejectWeight: r.rejectWeight}
}
