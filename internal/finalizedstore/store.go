// Package finalizedstore holds transactions that have reached instant
// finality but have not yet been folded into a block — the bridge
// between vote-based finality and eventual block inclusion.
package finalizedstore

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

var logger = log.New(log.Writer(), "[finalizedstore] ", log.LstdFlags)

// Store is an append-only txid→record map, durable across restarts.
// Mutations are persisted via write-temp-then-rename so a crash never
// leaves a half-written file.
type Store struct {
	mu      sync.RWMutex
	records map[chainhash.Hash]models.FinalizedTxRecord
	path    string
}

// Open loads an existing store from path, or starts empty if the file
// does not yet exist.
func Open(path string) (*Store, error) {
	s := &Store{records: make(map[chainhash.Hash]models.FinalizedTxRecord), path: path}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, timeerr.Wrap(timeerr.KindIO, "failed to read finalized-tx store", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	var onDisk map[string]models.FinalizedTxRecord
	if err := json.Unmarshal(data, &onDisk); err != nil {
		return nil, timeerr.Wrap(timeerr.KindSerialization, "failed to decode finalized-tx store", err)
	}
	for hexTxid, rec := range onDisk {
		txid, err := chainhash.NewHashFromStr(hexTxid)
		if err != nil {
			return nil, timeerr.Wrap(timeerr.KindSerialization, "invalid txid key in finalized-tx store", err)
		}
		s.records[*txid] = rec
	}
	logger.Printf("loaded %d finalized transaction(s) from %s", len(s.records), path)
	return s, nil
}

// Put persists rec under txid, overwriting any prior record.
func (s *Store) Put(txid chainhash.Hash, rec models.FinalizedTxRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[txid] = rec
	return s.flushLocked()
}

// Remove deletes txid, e.g. once it has been folded into a block.
func (s *Store) Remove(txid chainhash.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[txid]; !ok {
		return nil
	}
	delete(s.records, txid)
	return s.flushLocked()
}

// Get returns the record for txid, if present.
func (s *Store) Get(txid chainhash.Hash) (models.FinalizedTxRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[txid]
	return rec, ok
}

// GetAll returns every finalized-but-unmined transaction, for the block
// producer to drain.
func (s *Store) GetAll() map[chainhash.Hash]models.FinalizedTxRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[chainhash.Hash]models.FinalizedTxRecord, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

// Len returns the number of finalized-but-unmined transactions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) flushLocked() error {
	onDisk := make(map[string]models.FinalizedTxRecord, len(s.records))
	for txid, rec := range s.records {
		onDisk[txid.String()] = rec
	}
	data, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return timeerr.Wrap(timeerr.KindSerialization, "failed to encode finalized-tx store", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".finalizedstore-*.tmp")
	if err != nil {
		return timeerr.Wrap(timeerr.KindIO, "failed to create temp file for finalized-tx store", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return timeerr.Wrap(timeerr.KindIO, "failed to write temp file for finalized-tx store", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return timeerr.Wrap(timeerr.KindIO, "failed to close temp file for finalized-tx store", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return timeerr.Wrap(timeerr.KindIO, "failed to rename temp file into place for finalized-tx store", err)
	}
	return nil
}
