package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/timecoin/node/internal/api"
	"github.com/timecoin/node/internal/blockconsensus"
	"github.com/timecoin/node/internal/engine"
	"github.com/timecoin/node/internal/finalizedstore"
	"github.com/timecoin/node/internal/registry"
	"github.com/timecoin/node/internal/store"
	"github.com/timecoin/node/pkg/timeerr"
)

// defaultTreasuryAddr receives the 5-unit treasury share of every
// block reward unless TREASURY_ADDR overrides it.
const defaultTreasuryAddr = "TIME10000000000000000000000000000000000000000"

func main() {
	log.Println("Starting time-coin masternode node...")

	nodeID := requireEnv("NODE_PUBLIC_IP")
	network := getEnvOrDefault("NETWORK", "mainnet")
	dataDir := getEnvOrDefault("DATA_DIR", "./data")
	treasuryAddr := getEnvOrDefault("TREASURY_ADDR", defaultTreasuryAddr)

	log.Printf("node identity %s on %s", nodeID, network)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("FATAL: cannot create data dir %s: %v", dataDir, err)
	}

	// Corrupt or unreadable stores refuse to run rather than recover
	// silently.
	fstore, err := finalizedstore.Open(filepath.Join(dataDir, "finalized_txs.json"))
	if err != nil {
		log.Fatalf("FATAL: cannot open finalized-tx store: %v", err)
	}

	ctx := context.Background()

	var blockStore *store.Store
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		blockStore, err = store.Connect(ctx, dbURL)
		if err != nil {
			log.Fatalf("FATAL: cannot open block store: %v", err)
		}
		defer blockStore.Close()
		if err := blockStore.InitSchema(ctx); err != nil {
			log.Fatalf("FATAL: block store schema init failed: %v", err)
		}
	} else {
		log.Println("WARNING: DATABASE_URL not set — running without block persistence")
	}

	wsHub := api.NewHub()
	go wsHub.Run()

	eng := engine.New(fstore, treasuryAddr, wsHub)

	if blockStore != nil {
		restoreHotState(ctx, eng, blockStore)
	}

	go runProducerLoop(ctx, eng, blockStore, wsHub)

	var blocks api.BlockSource
	if blockStore != nil {
		blocks = blockStore
	}
	r := api.SetupRouter(eng, wsHub, blocks)

	port := getEnvOrDefault("PORT", "5339")
	log.Printf("node API listening on :%s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// restoreHotState replays the persisted snapshot into the engine. A
// missing snapshot on an empty block store is a valid cold start;
// anything else is fatal.
func restoreHotState(ctx context.Context, eng *engine.Engine, blockStore *store.Store) {
	snap, err := blockStore.LoadSnapshot(ctx)
	if err != nil {
		height, found, herr := blockStore.HighestBlockHeight(ctx)
		if timeerr.KindOf(err) == timeerr.KindSnapshotNotFound && herr == nil && !found {
			log.Println("no hot-state snapshot, cold start at height 0")
			return
		}
		log.Fatalf("FATAL: cannot load hot-state snapshot at height %d: %v", height, err)
	}

	var lastHash chainhash.Hash
	if snap.LastBlockHash != "" {
		h, err := chainhash.NewHashFromStr(snap.LastBlockHash)
		if err != nil {
			log.Fatalf("FATAL: corrupt last block hash in snapshot: %v", err)
		}
		lastHash = *h
	}
	eng.Restore(snap.CurrentHeight, lastHash)
	for _, entry := range snap.Mempool {
		if err := eng.Mempool.Add(entry.Tx, entry.InsertedAt); err != nil {
			log.Printf("skipping mempool entry %s from snapshot: %v", entry.Tx.Txid, err)
		}
	}
	log.Printf("restored hot state: height %d, %d mempool entries", snap.CurrentHeight, len(snap.Mempool))
}

// runProducerLoop drives the 24-hour block cadence: sleep until the
// next UTC midnight, verify network health, walk the strategy ladder,
// and commit/persist whatever candidate succeeds.
func runProducerLoop(ctx context.Context, eng *engine.Engine, blockStore *store.Store, wsHub *api.Hub) {
	checker := heartbeatChecker{reg: eng.Registry}
	for {
		wait := time.Until(nextUTCMidnight(time.Now()))
		log.Printf("next block production in %s", wait.Round(time.Second))
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		peers := eng.Registry.ActiveSet()
		if !blockconsensus.IsNetworkHealthy(ctx, eng.MasternodeCount(), peers, checker) {
			log.Println("network unhealthy, refusing to produce a block this round")
			continue
		}

		height := eng.CurrentHeight() + 1
		result, err := eng.BlockProducer.ProduceBlock(ctx, height, eng.LastBlockHash(), eng.GatherBlockVotes)
		if err != nil {
			log.Printf("block production failed at height %d: %v", height, err)
			continue
		}

		if err := eng.CommitBlock(result.Block); err != nil {
			log.Printf("failed to commit block %d: %v", height, err)
			continue
		}
		log.Printf("produced block %d via %s (%d attempts)", height, result.Strategy, len(result.Attempts))
		wsHub.NotifyBlockProduced(*result.Block)

		if blockStore != nil {
			persistChainState(ctx, eng, blockStore, result)
		}
	}
}

func persistChainState(ctx context.Context, eng *engine.Engine, blockStore *store.Store, result *blockconsensus.ProduceResult) {
	if err := blockStore.PutBlock(ctx, result.Block); err != nil {
		log.Printf("failed to persist block %d: %v", result.Block.Header.BlockNumber, err)
	}
	snap := store.HotState{
		CurrentHeight: eng.CurrentHeight(),
		Mempool:       eng.Mempool.List(),
		LastBlockHash: eng.LastBlockHash().String(),
	}
	if err := blockStore.SaveSnapshot(ctx, snap); err != nil {
		log.Printf("failed to persist hot-state snapshot: %v", err)
	}
}

// nextUTCMidnight returns the first UTC midnight strictly after now.
func nextUTCMidnight(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// heartbeatChecker treats a peer as responsive if its last recorded
// heartbeat is within the registry's grace period. The wire-level
// Ping/Pong probe lives with the P2P transport, which feeds the same
// heartbeat timestamps.
type heartbeatChecker struct {
	reg *registry.Registry
}

func (h heartbeatChecker) Ping(_ context.Context, peerID string) bool {
	node, ok := h.reg.Get(peerID)
	if !ok {
		return false
	}
	return time.Since(node.LastHeartbeat) < registry.GracePeriod
}

// requireEnv reads a required environment variable and exits if it is
// not set, so the node never starts half-configured.
func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set", key)
	}
	return val
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
