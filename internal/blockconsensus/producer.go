package blockconsensus

import (
	"context"
	"encoding/hex"
	"log"
	"sort"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/timecoin/node/internal/finalizedstore"
	"github.com/timecoin/node/internal/registry"
	"github.com/timecoin/node/internal/validator"
	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

var logger = log.New(log.Writer(), "[blockconsensus] ", log.LstdFlags)

// BlockReward is the total coinbase payout per produced block:
// 95 to masternodes, 5 to the treasury.
const (
	BlockReward     = 100
	MasternodeShare = 95
	TreasuryShare   = 5
)

// VoteGatherer collects Approve votes for a candidate block until
// stageCtx expires, returning the total approve weight and vote count
// observed. Implemented by the engine facade, which wires it to the
// actual peer-to-peer vote broadcast/collection.
type VoteGatherer func(stageCtx context.Context, candidate *models.Block, stage StageSpec) (approveWeight uint64, approveVotes int, err error)

// AttemptRecord is one stage's outcome, kept for post-mortem inspection.
type AttemptRecord struct {
	Strategy      Strategy
	Succeeded     bool
	ApproveWeight uint64
	ApproveVotes  int
	TotalWeight   uint64
	Elapsed       time.Duration
}

// ProduceResult is the outcome of a full ladder run.
type ProduceResult struct {
	Block    *models.Block
	Strategy Strategy
	Attempts []AttemptRecord
}

// Producer builds candidate blocks and walks the strategy ladder.
type Producer struct {
	registry       *registry.Registry
	finalizedStore *finalizedstore.Store
	treasuryAddr   string
}

// New builds a block producer.
func New(reg *registry.Registry, store *finalizedstore.Store, treasuryAddr string) *Producer {
	return &Producer{registry: reg, finalizedStore: store, treasuryAddr: treasuryAddr}
}

// ProduceBlock walks the five-stage ladder for height, returning the
// first candidate that meets its stage's threshold, or a
// KindConsensusNotReached error if every stage fails.
func (p *Producer) ProduceBlock(ctx context.Context, height uint64, previousHash chainhash.Hash, gather VoteGatherer) (*ProduceResult, error) {
	activeSet := p.registry.ActiveSet()
	if len(activeSet) == 0 {
		return nil, timeerr.New(timeerr.KindNotEnoughNodes, "no active masternodes to produce a block")
	}

	start := time.Now()
	var attempts []AttemptRecord

	for stageIdx, stage := range Ladder {
		leader := LeaderForHeight(activeSet, height, uint64(stageIdx))
		candidate := p.buildCandidate(height, previousHash, leader, stage.IncludeMempool)

		stageCtx := ctx
		var cancel context.CancelFunc
		if stage.Timeout > 0 {
			stageCtx, cancel = context.WithTimeout(ctx, stage.Timeout)
		}
		approveWeight, approveVotes, err := gather(stageCtx, candidate, stage)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			logger.Printf("height %d stage %s: vote gathering error: %v", height, stage.Strategy, err)
		}

		total := p.registry.TotalWeightAt(time.Now())
		succeeded := EvaluateStage(stage, approveWeight, approveVotes, total)
		attempts = append(attempts, AttemptRecord{
			Strategy:      stage.Strategy,
			Succeeded:     succeeded,
			ApproveWeight: approveWeight,
			ApproveVotes:  approveVotes,
			TotalWeight:   total,
			Elapsed:       time.Since(start),
		})

		if succeeded {
			return &ProduceResult{Block: candidate, Strategy: stage.Strategy, Attempts: attempts}, nil
		}
	}

	return nil, timeerr.Newf(timeerr.KindConsensusNotReached, "exhausted strategy ladder for height %d without producing a block", height)
}

func (p *Producer) buildCandidate(height uint64, previousHash chainhash.Hash, producerID string, includeMempool bool) *models.Block {
	var txs []models.Transaction
	if includeMempool && p.finalizedStore != nil {
		pending := p.finalizedStore.GetAll()
		for _, rec := range pending {
			txs = append(txs, rec.Tx)
		}
		sort.Slice(txs, func(i, j int) bool {
			return txs[i].Txid.String() < txs[j].Txid.String()
		})
	}

	coinbase := p.buildCoinbase(height)
	txs = append([]models.Transaction{coinbase}, txs...)

	txids := make([]chainhash.Hash, len(txs))
	for i, tx := range txs {
		txids[i] = tx.Txid
	}

	header := models.BlockHeader{
		BlockNumber:  height,
		Timestamp:    uint64(time.Now().Unix()),
		PreviousHash: previousHash,
		MerkleRoot:   validator.MerkleRoot(txids),
		ProducerID:   producerID,
	}
	return &models.Block{
		Header:       header,
		Transactions: txs,
		Hash:         validator.BlockHash(&header),
	}
}

// buildCoinbase splits BlockReward 95/5 between the active masternode
// set (proportional to effective weight) and the treasury address.
// The last masternode in lexicographic order absorbs the integer
// rounding remainder so the full MasternodeShare is always distributed.
func (p *Producer) buildCoinbase(height uint64) models.Transaction {
	active := p.registry.ActiveSet()
	now := time.Now()

	weights := make(map[string]uint64, len(active))
	var totalWeight uint64
	for _, id := range active {
		w := p.registry.EffectiveWeight(id, now)
		weights[id] = w
		totalWeight += w
	}

	var outputs []models.TxOutput
	if totalWeight > 0 {
		var distributed uint64
		for i, id := range active {
			node, ok := p.registry.Get(id)
			if !ok {
				continue
			}
			addr, err := payoutAddress(node.NetworkInfo.PublicKey)
			if err != nil {
				logger.Printf("skipping reward payout for %s: %v", id, err)
				continue
			}

			var share uint64
			if i == len(active)-1 {
				share = MasternodeShare - distributed
			} else {
				share = weights[id] * MasternodeShare / totalWeight
				distributed += share
			}
			if share > 0 {
				outputs = append(outputs, models.TxOutput{Amount: share, Address: addr})
			}
		}
	}
	outputs = append(outputs, models.TxOutput{Amount: TreasuryShare, Address: p.treasuryAddr})

	tx := models.Transaction{
		Version:   1,
		Timestamp: uint64(time.Now().Unix()),
		Outputs:   outputs,
	}
	tx.Txid = validator.DeriveTxid(&tx)
	return tx
}

func payoutAddress(pubKeyHex string) (string, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return "", err
	}
	return validator.DeriveAddress(pubKey), nil
}
