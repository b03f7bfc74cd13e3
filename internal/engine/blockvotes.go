package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/timecoin/node/internal/blockconsensus"
	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

// blockVoteRound tallies weighted Approve votes for a single candidate
// block. Votes are scoped to the candidate's hash; when the strategy
// ladder advances to a new candidate, votes for the superseded one are
// discarded.
type blockVoteRound struct {
	mu            sync.Mutex
	hash          chainhash.Hash
	voters        map[string]struct{}
	approveWeight uint64
	approveVotes  int
	targetWeight  uint64
	minVotes      int
	met           chan struct{}
	closed        bool
}

func (r *blockVoteRound) record(voterID string, weight uint64, choice models.VoteChoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, voted := r.voters[voterID]; voted {
		return
	}
	r.voters[voterID] = struct{}{}
	if choice != models.VoteApprove {
		return
	}
	r.approveWeight += weight
	r.approveVotes++
	if !r.closed && r.approveWeight >= r.targetWeight && r.approveVotes >= r.minVotes {
		r.closed = true
		close(r.met)
	}
}

func (r *blockVoteRound) tally() (uint64, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.approveWeight, r.approveVotes
}

// stageTarget translates a StageSpec into the absolute approve-weight
// target and minimum vote count for the current total active weight.
func stageTarget(stage blockconsensus.StageSpec, total uint64) (uint64, int) {
	if stage.Strategy == blockconsensus.StrategyEmergency {
		return uint64(math.Ceil(blockconsensus.EmergencyMinWeightFraction * float64(total))), 1
	}
	return uint64(math.Ceil(stage.Threshold * float64(total))), 1
}

// GatherBlockVotes is the engine's blockconsensus.VoteGatherer: it
// opens a vote round for the candidate, then blocks until the stage's
// threshold is met or stageCtx expires. Inbound votes arrive through
// VoteOnBlock (called by the P2P message handler).
func (e *Engine) GatherBlockVotes(stageCtx context.Context, candidate *models.Block, stage blockconsensus.StageSpec) (uint64, int, error) {
	total := e.Registry.TotalWeightAt(time.Now())
	target, minVotes := stageTarget(stage, total)

	r := &blockVoteRound{
		hash:         candidate.Hash,
		voters:       make(map[string]struct{}),
		targetWeight: target,
		minVotes:     minVotes,
		met:          make(chan struct{}),
	}

	e.mu.Lock()
	e.blockRound = r
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		if e.blockRound == r {
			e.blockRound = nil
		}
		e.mu.Unlock()
	}()

	select {
	case <-r.met:
	case <-stageCtx.Done():
	}
	weight, votes := r.tally()
	return weight, votes, nil
}

// VoteOnBlock submits a masternode's weighted vote on the candidate
// block currently under consensus, gated by the quarantine list and
// the per-height vote rate limiter. Votes for a
// hash other than the current candidate's are discarded.
func (e *Engine) VoteOnBlock(peerIP, voterID string, blockHash chainhash.Hash, choice models.VoteChoice) error {
	if e.Quarantine.IsQuarantined(peerIP, time.Now()) {
		return timeerr.Newf(timeerr.KindQuarantined, "peer %s is quarantined", peerIP)
	}

	// Superseded-candidate votes are discarded without consuming the
	// peer's quota: they race stage advancement, not spam it.
	e.mu.RLock()
	r := e.blockRound
	e.mu.RUnlock()
	if r == nil || r.hash != blockHash {
		return timeerr.Newf(timeerr.KindInvalidProposal, "no active consensus round for block %s", blockHash)
	}

	if !e.RateLimiter.TryAcceptVote(peerIP, e.CurrentHeight()) {
		e.QuarantinePeer(peerIP, models.ReasonRateLimitExceeded)
		return timeerr.Newf(timeerr.KindRateLimited, "peer %s exceeded per-height vote quota", peerIP)
	}

	r.record(voterID, e.Registry.EffectiveWeight(voterID, time.Now()), choice)
	return nil
}
