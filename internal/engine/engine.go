// Package engine implements the consensus engine facade: the single
// entry point every other surface (HTTP, CLI, P2P message handler)
// calls into. It exclusively owns the registry, mempool, UTXO set,
// finalized-tx store, quarantine list, and rate limiter — every
// concurrent reader reaches them through this facade.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/timecoin/node/internal/blockconsensus"
	"github.com/timecoin/node/internal/finalizedstore"
	"github.com/timecoin/node/internal/mempool"
	"github.com/timecoin/node/internal/quarantine"
	"github.com/timecoin/node/internal/registry"
	"github.com/timecoin/node/internal/treasury"
	"github.com/timecoin/node/internal/txconsensus"
	"github.com/timecoin/node/internal/utxo"
	"github.com/timecoin/node/internal/validator"
	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

var logger = log.New(log.Writer(), "[engine] ", log.LstdFlags)

// Engine orchestrates every consensus subsystem behind one surface.
type Engine struct {
	Registry       *registry.Registry
	UTXO           *utxo.Set
	Mempool        *mempool.Pool
	FinalizedStore *finalizedstore.Store
	Quarantine     *quarantine.List
	RateLimiter    *quarantine.RateLimiter
	TxConsensus    *txconsensus.Engine
	BlockProducer  *blockconsensus.Producer
	Treasury       *treasury.Manager

	mu            sync.RWMutex
	wallets       map[string]string // nodeID -> payout address
	currentHeight uint64
	lastBlockHash chainhash.Hash
	blockRound    *blockVoteRound
}

// New wires every subsystem together. notifier may be nil; it is
// forwarded to the tx-consensus engine for finality/rejection
// broadcast (the engine's own websocket hub, in production).
func New(store *finalizedstore.Store, treasuryAddr string, notifier txconsensus.Notifier) *Engine {
	reg := registry.New()
	utxoSet := utxo.New()

	e := &Engine{
		Registry:       reg,
		UTXO:           utxoSet,
		Mempool:        mempool.New(),
		FinalizedStore: store,
		Quarantine:     quarantine.NewList(),
		RateLimiter:    quarantine.NewRateLimiter(),
		TxConsensus:    txconsensus.New(utxoSet, reg, store, notifier),
		BlockProducer:  blockconsensus.New(reg, store, treasuryAddr),
		Treasury:       treasury.New(reg),
		wallets:        make(map[string]string),
	}
	return e
}

// AddMasternode registers a new masternode at the engine's current
// chain height.
func (e *Engine) AddMasternode(nodeID string, collateral uint64, netInfo models.NetworkInfo) (models.Masternode, error) {
	return e.Registry.Register(nodeID, collateral, netInfo, e.CurrentHeight())
}

// RegisterWallet associates a payout address with a masternode ID,
// returned by WalletAddress. The block producer's coinbase does not
// read it: it pays the address derived from the node's public key.
func (e *Engine) RegisterWallet(nodeID, address string) error {
	if _, ok := e.Registry.Get(nodeID); !ok {
		return timeerr.Newf(timeerr.KindNotFound, "masternode %s not found", nodeID)
	}
	e.mu.Lock()
	e.wallets[nodeID] = address
	e.mu.Unlock()
	return nil
}

// WalletAddress returns the registered payout address for nodeID, if any.
func (e *Engine) WalletAddress(nodeID string) (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	addr, ok := e.wallets[nodeID]
	return addr, ok
}

// IsMasternode reports whether nodeID is a known registered masternode.
func (e *Engine) IsMasternode(nodeID string) bool {
	_, ok := e.Registry.Get(nodeID)
	return ok
}

// GetMasternodes returns every registered masternode.
func (e *Engine) GetMasternodes() map[string]models.Masternode {
	return e.Registry.All()
}

// MasternodeCount returns the number of registered masternodes.
func (e *Engine) MasternodeCount() int {
	return e.Registry.Count()
}

// ProposalManager returns the treasury proposal manager handle.
func (e *Engine) ProposalManager() *treasury.Manager {
	return e.Treasury
}

// CurrentHeight returns the engine's view of the chain height.
func (e *Engine) CurrentHeight() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentHeight
}

// LastBlockHash returns the hash of the most recently committed block.
func (e *Engine) LastBlockHash() chainhash.Hash {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastBlockHash
}

// Restore sets the chain position from a loaded hot-state snapshot,
// before any block production or sync begins.
func (e *Engine) Restore(height uint64, lastHash chainhash.Hash) {
	e.mu.Lock()
	e.currentHeight = height
	e.lastBlockHash = lastHash
	e.mu.Unlock()
	e.Registry.AdvanceHeight(height)
	e.RateLimiter.AdvanceHeight(height)
}

// AdvanceHeight records a new chain height, propagating it to the
// registry's vote-maturity checks and the rate limiter's eviction
// window.
func (e *Engine) AdvanceHeight(height uint64) {
	e.mu.Lock()
	e.currentHeight = height
	e.mu.Unlock()
	e.Registry.AdvanceHeight(height)
	e.RateLimiter.AdvanceHeight(height)
}

// CommitBlock folds a produced or synced block into local state:
// applies the coinbase reward outputs to the UTXO set, drains every
// folded transaction from the finalized-tx store and mempool, and
// advances the chain height. Non-coinbase transactions already had
// their UTXO effect applied at finality, so only bookkeeping remains
// for them here.
func (e *Engine) CommitBlock(b *models.Block) error {
	for i := range b.Transactions {
		tx := &b.Transactions[i]
		if tx.IsCoinbase() {
			if err := e.UTXO.ApplyTransaction(tx); err != nil {
				return err
			}
			continue
		}
		if err := e.FinalizedStore.Remove(tx.Txid); err != nil {
			logger.Printf("failed to drain finalized tx %s: %v", tx.Txid, err)
		}
		e.Mempool.Remove(tx.Txid)
	}
	e.mu.Lock()
	e.lastBlockHash = b.Hash
	e.mu.Unlock()
	e.AdvanceHeight(b.Header.BlockNumber)
	return nil
}

// FinalityResult is returned by SubmitTransaction: the tx-consensus
// outcome plus any mempool bookkeeping performed around it.
type FinalityResult struct {
	txconsensus.Result
}

// SubmitTransaction is the entry point other surfaces call to
// submit a new transaction into the instant-finality pipeline. On
// validation failure the tx is rejected without ever entering a
// voting round.
func (e *Engine) SubmitTransaction(ctx context.Context, tx *models.Transaction) (FinalityResult, error) {
	if err := e.Mempool.Add(*tx, time.Now()); err != nil {
		return FinalityResult{}, err
	}

	res, err := e.TxConsensus.SubmitTransaction(ctx, tx)
	if err != nil {
		logger.Printf("tx %s finality round error: %v", tx.Txid, err)
		// Validation/lock failures never opened a round; the tx leaves
		// the mempool immediately. A timed-out round stays resident,
		// eligible for the next round.
		if timeerr.KindOf(err) != timeerr.KindUnknown {
			e.Mempool.Remove(tx.Txid)
		}
	}

	switch res.Outcome {
	case txconsensus.OutcomeFinalized, txconsensus.OutcomeRejected:
		e.Mempool.Remove(tx.Txid)
	}
	return FinalityResult{Result: res}, err
}

// VoteOnTransaction submits a masternode's weighted vote on an
// in-flight finality round, after checking the peer is not
// quarantined and has not exceeded its per-height vote quota.
func (e *Engine) VoteOnTransaction(peerIP, voterID string, txid chainhash.Hash, choice models.VoteChoice) error {
	if e.Quarantine.IsQuarantined(peerIP, time.Now()) {
		return timeerr.Newf(timeerr.KindQuarantined, "peer %s is quarantined", peerIP)
	}
	if !e.RateLimiter.TryAcceptVote(peerIP, e.CurrentHeight()) {
		e.QuarantinePeer(peerIP, models.ReasonRateLimitExceeded)
		return timeerr.Newf(timeerr.KindRateLimited, "peer %s exceeded per-height vote quota", peerIP)
	}
	return e.TxConsensus.Vote(voterID, txid, choice, time.Now())
}

// BanThreshold is the repeat-offense count at which a quarantined
// peer's masternode is banned outright.
const BanThreshold = 3

// QuarantinePeer records a quarantine offense for peerIP and, once
// the peer is a repeat offender (BanThreshold offenses within one
// quarantine window) or the reason is critical, bans the masternode
// registered behind that IP. Banned nodes leave the active set and
// never re-enter it on heartbeat.
func (e *Engine) QuarantinePeer(peerIP string, reason models.QuarantineReason) {
	rec := e.Quarantine.Offend(peerIP, reason, time.Now())
	if rec.Attempts < BanThreshold && rec.Severity < models.SeverityCritical {
		return
	}
	for id, node := range e.Registry.All() {
		if node.NetworkInfo.IPAddress != peerIP || node.State == models.StateBanned {
			continue
		}
		if err := e.Registry.Ban(id); err != nil {
			logger.Printf("failed to ban masternode %s behind peer %s: %v", id, peerIP, err)
			continue
		}
		logger.Printf("banned masternode %s: peer %s quarantined for %s (%d offenses)", id, peerIP, rec.Reason, rec.Attempts)
	}
}

// BalanceOf returns the total (including Locked) balance for addr.
func (e *Engine) BalanceOf(addr string) uint64 { return e.UTXO.BalanceOf(addr) }

// AvailableBalanceOf returns the spendable (excluding Locked) balance for addr.
func (e *Engine) AvailableBalanceOf(addr string) uint64 { return e.UTXO.AvailableBalanceOf(addr) }

// DeriveAddress is a thin re-export of C3's address derivation, so
// callers outside internal/ don't need to import internal/validator
// directly.
func DeriveAddress(pubKey []byte) string { return validator.DeriveAddress(pubKey) }
