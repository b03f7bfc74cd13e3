package blockconsensus

import (
	"context"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/timecoin/node/internal/finalizedstore"
	"github.com/timecoin/node/internal/registry"
	"github.com/timecoin/node/pkg/models"
)

func sixVerifiedNodes(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	ids := []string{"node-a", "node-b", "node-c", "node-d", "node-e", "node-f"}
	for i, id := range ids {
		pubKey := make([]byte, 33)
		pubKey[0] = byte(i + 1)
		netInfo := models.NetworkInfo{PublicKey: hex.EncodeToString(pubKey)}
		if _, err := reg.Register(id, 10_000, netInfo, 0); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		if err := reg.Activate(id); err != nil {
			t.Fatalf("activate %s: %v", id, err)
		}
	}
	reg.SyncWithConnectedPeers(ids)
	reg.AdvanceHeight(5) // clear the Verified tier's 3-block vote maturity
	return reg
}

func gatherForStage(succeedOn Strategy, approveWeight uint64, approveVotes int) VoteGatherer {
	return func(ctx context.Context, candidate *models.Block, stage StageSpec) (uint64, int, error) {
		if stage.Strategy == succeedOn {
			return approveWeight, approveVotes, nil
		}
		return 0, 0, nil
	}
}

func TestProduceBlockNormalBFTSucceeds(t *testing.T) {
	reg := sixVerifiedNodes(t)
	p := New(reg, nil, "TIME1treasury")

	result, err := p.ProduceBlock(context.Background(), 1, chainhash.Hash{}, gatherForStage(StrategyNormalBFT, 40, 4))
	if err != nil {
		t.Fatalf("ProduceBlock: %v", err)
	}
	if result.Strategy != StrategyNormalBFT {
		t.Errorf("expected NormalBFT to succeed, got %v", result.Strategy)
	}
	if len(result.Attempts) != 1 {
		t.Errorf("expected exactly 1 attempt, got %d", len(result.Attempts))
	}
}

func TestProduceBlockFallsBackToLeaderRotation(t *testing.T) {
	reg := sixVerifiedNodes(t)
	p := New(reg, nil, "TIME1treasury")

	result, err := p.ProduceBlock(context.Background(), 1, chainhash.Hash{}, gatherForStage(StrategyLeaderRotation, 40, 4))
	if err != nil {
		t.Fatalf("ProduceBlock: %v", err)
	}
	if result.Strategy != StrategyLeaderRotation {
		t.Errorf("expected LeaderRotation to succeed, got %v", result.Strategy)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("expected attempt history of 2 entries, got %d", len(result.Attempts))
	}
	if result.Attempts[0].Succeeded {
		t.Error("expected the first (NormalBFT) attempt to have failed")
	}
	if !result.Attempts[1].Succeeded {
		t.Error("expected the second (LeaderRotation) attempt to have succeeded")
	}
}

func TestProduceBlockRewardOnlyExcludesMempool(t *testing.T) {
	reg := sixVerifiedNodes(t)
	dir := t.TempDir()
	store, err := finalizedstore.Open(filepath.Join(dir, "finalized.json"))
	if err != nil {
		t.Fatalf("finalizedstore.Open: %v", err)
	}
	var pendingTxid chainhash.Hash
	pendingTxid[0] = 9
	if err := store.Put(pendingTxid, models.FinalizedTxRecord{Tx: models.Transaction{Txid: pendingTxid}}); err != nil {
		t.Fatalf("store.Put: %v", err)
	}

	p := New(reg, store, "TIME1treasury")
	result, err := p.ProduceBlock(context.Background(), 1, chainhash.Hash{}, gatherForStage(StrategyRewardOnly, 20, 2))
	if err != nil {
		t.Fatalf("ProduceBlock: %v", err)
	}
	if result.Strategy != StrategyRewardOnly {
		t.Fatalf("expected RewardOnly to succeed, got %v", result.Strategy)
	}
	if len(result.Block.Transactions) != 1 {
		t.Errorf("expected RewardOnly block to contain only the coinbase tx, got %d transactions", len(result.Block.Transactions))
	}
}

func TestProduceBlockExhaustsLadder(t *testing.T) {
	reg := sixVerifiedNodes(t)
	p := New(reg, nil, "TIME1treasury")

	gather := func(ctx context.Context, candidate *models.Block, stage StageSpec) (uint64, int, error) {
		return 0, 0, nil
	}
	_, err := p.ProduceBlock(context.Background(), 1, chainhash.Hash{}, gather)
	if err == nil {
		t.Fatal("expected an error when every stage fails")
	}
}

func TestProduceBlockNoActiveMasternodes(t *testing.T) {
	reg := registry.New()
	p := New(reg, nil, "TIME1treasury")
	_, err := p.ProduceBlock(context.Background(), 1, chainhash.Hash{}, gatherForStage(StrategyNormalBFT, 100, 10))
	if err == nil {
		t.Fatal("expected an error with no active masternodes")
	}
}

func TestBuildCoinbaseSplitsProportionallyAndSumsTo100(t *testing.T) {
	reg := sixVerifiedNodes(t)
	p := New(reg, nil, "TIME1treasury")

	tx := p.buildCoinbase(1)
	var total uint64
	var treasuryFound bool
	for _, out := range tx.Outputs {
		total += out.Amount
		if out.Address == "TIME1treasury" {
			treasuryFound = true
			if out.Amount != TreasuryShare {
				t.Errorf("expected treasury share %d, got %d", TreasuryShare, out.Amount)
			}
		}
	}
	if !treasuryFound {
		t.Error("expected a treasury output in the coinbase")
	}
	if total != BlockReward {
		t.Errorf("expected coinbase outputs to sum to %d, got %d", BlockReward, total)
	}
	// Six equal-weight Verified nodes should each get an equal share of
	// the 95 masternode portion (95/6 ≈ 15, with the remainder on the
	// lexicographically-last node).
	if len(tx.Outputs) != 7 { // 6 masternodes + treasury
		t.Errorf("expected 7 outputs (6 masternodes + treasury), got %d", len(tx.Outputs))
	}
}
