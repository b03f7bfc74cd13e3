// Package store persists the block store (`block:<height>`) and the
// hot-state snapshot (`snapshot:hot_state`) over Postgres via pgx.
package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

//go:embed schema.sql
var schemaSQL string

var logger = log.New(log.Writer(), "[store] ", log.LstdFlags)

// Store is the Postgres-backed block/hot-state persistence layer.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against connStr and pings it.
func Connect(ctx context.Context, connStr string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, timeerr.Wrap(timeerr.KindIO, "unable to connect to database", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, timeerr.Wrap(timeerr.KindIO, "database ping failed", err)
	}
	logger.Println("connected to PostgreSQL block store")
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the blocks/hot_state tables if they do not exist.
// Callers should treat a failure here as reason to refuse to run
// rather than continue.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return timeerr.Wrap(timeerr.KindIO, "failed to initialize block store schema", err)
	}
	logger.Println("schema initialized")
	return nil
}

// PutBlock persists a block under its height.
func (s *Store) PutBlock(ctx context.Context, b *models.Block) error {
	encoded, err := json.Marshal(b)
	if err != nil {
		return timeerr.Wrap(timeerr.KindSerialization, "failed to encode block", err)
	}
	sql := `
		INSERT INTO blocks (height, block_hash, encoded)
		VALUES ($1, $2, $3)
		ON CONFLICT (height) DO UPDATE SET block_hash = EXCLUDED.block_hash, encoded = EXCLUDED.encoded;
	`
	if _, err := s.pool.Exec(ctx, sql, b.Header.BlockNumber, b.Hash.String(), encoded); err != nil {
		return timeerr.Wrap(timeerr.KindIO, "failed to persist block", err)
	}
	return nil
}

// GetBlock retrieves the block at height, if present.
func (s *Store) GetBlock(ctx context.Context, height uint64) (*models.Block, error) {
	var encoded []byte
	err := s.pool.QueryRow(ctx, `SELECT encoded FROM blocks WHERE height = $1`, height).Scan(&encoded)
	if err != nil {
		return nil, timeerr.Wrapf(timeerr.KindSnapshotNotFound, err, "block %d not found", height)
	}
	var b models.Block
	if err := json.Unmarshal(encoded, &b); err != nil {
		return nil, timeerr.Wrap(timeerr.KindSerialization, "failed to decode block", err)
	}
	return &b, nil
}

// HighestBlockHeight returns the highest stored height, or (0, false)
// if the store is empty.
func (s *Store) HighestBlockHeight(ctx context.Context) (uint64, bool, error) {
	var height uint64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(height), 0) FROM blocks`).Scan(&height)
	if err != nil {
		return 0, false, timeerr.Wrap(timeerr.KindIO, "failed to query highest block height", err)
	}
	var count int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&count); err != nil {
		return 0, false, timeerr.Wrap(timeerr.KindIO, "failed to query block count", err)
	}
	return height, count > 0, nil
}

// HotState is the persisted snapshot of in-memory state restored on
// startup.
type HotState struct {
	CurrentHeight  uint64               `json:"currentHeight"`
	Mempool        []models.MempoolEntry `json:"mempool"`
	LastBlockHash  string               `json:"lastBlockHash"`
}

const hotStateKey = "snapshot:hot_state"

// SaveSnapshot persists the hot-state snapshot, overwriting any prior
// value under the same key.
func (s *Store) SaveSnapshot(ctx context.Context, snap HotState) error {
	encoded, err := json.Marshal(snap)
	if err != nil {
		return timeerr.Wrap(timeerr.KindSerialization, "failed to encode hot-state snapshot", err)
	}
	sql := `
		INSERT INTO hot_state (key, encoded, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET encoded = EXCLUDED.encoded, updated_at = NOW();
	`
	if _, err := s.pool.Exec(ctx, sql, hotStateKey, encoded); err != nil {
		return timeerr.Wrap(timeerr.KindIO, "failed to persist hot-state snapshot", err)
	}
	return nil
}

// LoadSnapshot retrieves the hot-state snapshot. Returns
// KindSnapshotNotFound if none has ever been saved — fatal at startup
// unless the caller treats "no snapshot yet" as a valid cold start.
func (s *Store) LoadSnapshot(ctx context.Context) (HotState, error) {
	var encoded []byte
	err := s.pool.QueryRow(ctx, `SELECT encoded FROM hot_state WHERE key = $1`, hotStateKey).Scan(&encoded)
	if err != nil {
		return HotState{}, timeerr.Wrap(timeerr.KindSnapshotNotFound, "no hot-state snapshot found", err)
	}
	var snap HotState
	if err := json.Unmarshal(encoded, &snap); err != nil {
		return HotState{}, timeerr.Wrap(timeerr.KindSerialization, "failed to decode hot-state snapshot", err)
	}
	return snap, nil
}
