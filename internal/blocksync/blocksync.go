// Package blocksync implements peer block fetching, parallel
// structural validation, and strictly sequential state application:
// for each height the first successful peer response wins, blocks are
// validated concurrently, and only then applied in order.
package blocksync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/timecoin/node/internal/utxo"
	"github.com/timecoin/node/internal/validator"
	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

var logger = log.New(log.Writer(), "[blocksync] ", log.LstdFlags)

// DefaultPeerTimeout bounds a single peer fetch attempt, in seconds.
const DefaultPeerTimeout = 30

// PeerFetcher fetches the block at height from a single peer.
// Implemented by the engine facade, wired to the actual
// P2P transport (an external-collaborator concern this package never
// touches directly).
type PeerFetcher interface {
	FetchBlock(ctx context.Context, peer string, height uint64) (*models.Block, error)
}

// SyncBlocks fetches every height in [startHeight, endHeight] by
// trying peers in order, the first successful response winning.
// A response is accepted only if its BlockNumber matches the
// requested height; otherwise the next peer is tried.
func SyncBlocks(ctx context.Context, fetcher PeerFetcher, peers []string, startHeight, endHeight uint64) ([]models.Block, error) {
	if startHeight > endHeight {
		return nil, timeerr.New(timeerr.KindInvalidPeerResponse, "invalid height range: start > end")
	}
	if len(peers) == 0 {
		return nil, timeerr.New(timeerr.KindConnectionFailed, "no peers available for block sync")
	}

	var blocks []models.Block
	for height := startHeight; height <= endHeight; height++ {
		block, err := fetchFromPeers(ctx, fetcher, peers, height)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, *block)
	}
	logger.Printf("synced %d blocks (%d-%d)", len(blocks), startHeight, endHeight)
	return blocks, nil
}

func fetchFromPeers(ctx context.Context, fetcher PeerFetcher, peers []string, height uint64) (*models.Block, error) {
	for _, peer := range peers {
		pctx, cancel := context.WithTimeout(ctx, DefaultPeerTimeout*time.Second)
		block, err := fetcher.FetchBlock(pctx, peer, height)
		cancel()
		if err != nil {
			logger.Printf("height %d: peer %s failed: %v", height, peer, err)
			continue
		}
		if block.Header.BlockNumber != height {
			logger.Printf("height %d: peer %s returned mismatched height %d", height, peer, block.Header.BlockNumber)
			continue
		}
		return block, nil
	}
	return nil, timeerr.Newf(timeerr.KindConnectionFailed, "failed to fetch block %d from any of %d peers", height, len(peers))
}

// VerifyChain checks height monotonicity, previous-hash linkage, and
// recomputed block hash across a contiguous slice of blocks.
func VerifyChain(blocks []models.Block) error {
	for i := 1; i < len(blocks); i++ {
		prev, cur := &blocks[i-1], &blocks[i]
		if cur.Header.BlockNumber != prev.Header.BlockNumber+1 {
			return timeerr.Newf(timeerr.KindInvalidPeerResponse,
				"height discontinuity: %d -> %d", prev.Header.BlockNumber, cur.Header.BlockNumber)
		}
		if cur.Header.PreviousHash != prev.Hash {
			return timeerr.Newf(timeerr.KindInvalidPeerResponse,
				"previous_hash mismatch at height %d", cur.Header.BlockNumber)
		}
	}
	for i := range blocks {
		if err := verifyBlockHash(&blocks[i]); err != nil {
			return err
		}
	}
	return nil
}

func verifyBlockHash(b *models.Block) error {
	if validator.BlockHash(&b.Header) != b.Hash {
		return timeerr.Newf(timeerr.KindInvalidPeerResponse, "invalid block hash at height %d", b.Header.BlockNumber)
	}
	return nil
}

// BlockValidationResult pairs a block's index with its structural
// validation outcome.
type BlockValidationResult struct {
	Index int
	Block models.Block
	Err   error
}

// MaxParallelValidators bounds the worker pool used by
// ValidateBlocksParallel.
const MaxParallelValidators = 8

// ValidateBlocksParallel runs structural + transaction-format checks
// across blocks concurrently,
// using snapshot as the immutable UTXO view every transaction is
// checked against. Results are returned in input order; callers must
// apply them sequentially afterward (state application is never
// parallel).
func ValidateBlocksParallel(blocks []models.Block, snapshot *utxo.Set) []BlockValidationResult {
	results := make([]BlockValidationResult, len(blocks))

	sem := make(chan struct{}, MaxParallelValidators)
	var wg sync.WaitGroup
	for i := range blocks {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			err := validateBlockStructure(&blocks[idx], snapshot)
			results[idx] = BlockValidationResult{Index: idx, Block: blocks[idx], Err: err}
		}(i)
	}
	wg.Wait()
	return results
}

func validateBlockStructure(b *models.Block, snapshot *utxo.Set) error {
	if err := verifyBlockHash(b); err != nil {
		return err
	}
	for i, tx := range b.Transactions {
		if tx.IsCoinbase() {
			continue // coinbase rewards bypass validator.Validate
		}
		txCopy := tx
		if err := validator.Validate(&txCopy, snapshot); err != nil {
			return timeerr.Wrapf(timeerr.KindInvalidTransaction, err, "transaction at index %d failed validation", i)
		}
	}
	return nil
}

// ApplySequential applies validated blocks to the UTXO set strictly
// in order — blocks[0] fully applied before blocks[1] begins.
func ApplySequential(blocks []models.Block, set *utxo.Set) error {
	for i := range blocks {
		for _, tx := range blocks[i].Transactions {
			txCopy := tx
			if err := set.ApplyTransaction(&txCopy); err != nil {
				return timeerr.Wrapf(timeerr.KindInvalidTransaction, err, "failed to apply block %d", blocks[i].Header.BlockNumber)
			}
		}
	}
	return nil
}
