// Package mempool holds transactions that have been submitted but
// have not yet resolved to instant finality. Entries are at-most-once
// per txid, bounded to MaxSize, and evicted on inclusion in a block,
// TTL expiry, or explicit clear.
package mempool

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

var logger = log.New(log.Writer(), "[mempool] ", log.LstdFlags)

// MaxSize is the default bounded mempool capacity.
const MaxSize = 10_000

// DefaultTTL is how long an entry may sit unresolved before eviction.
const DefaultTTL = 1 * time.Hour

// Pool is the bounded, TTL-evicted set of pending transactions.
type Pool struct {
	mu      sync.RWMutex
	entries map[chainhash.Hash]models.MempoolEntry
	order   []chainhash.Hash // insertion order, for oldest-eviction
	maxSize int
	ttl     time.Duration
}

// New creates an empty pool with the default size cap and TTL.
func New() *Pool {
	return &Pool{
		entries: make(map[chainhash.Hash]models.MempoolEntry),
		maxSize: MaxSize,
		ttl:     DefaultTTL,
	}
}

// Add inserts tx at insertedAt, evicting the oldest entry if the pool
// is at capacity. Fails with KindInvalidTransaction if txid is already
// present.
func (p *Pool) Add(tx models.Transaction, insertedAt time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[tx.Txid]; exists {
		return timeerr.Newf(timeerr.KindInvalidTransaction, "transaction %s already in mempool", tx.Txid)
	}

	if len(p.entries) >= p.maxSize {
		p.evictOldestLocked()
	}

	p.entries[tx.Txid] = models.MempoolEntry{Tx: tx, InsertedAt: insertedAt}
	p.order = append(p.order, tx.Txid)
	return nil
}

func (p *Pool) evictOldestLocked() {
	for len(p.order) > 0 {
		oldest := p.order[0]
		p.order = p.order[1:]
		if _, ok := p.entries[oldest]; ok {
			delete(p.entries, oldest)
			logger.Printf("evicted %s: mempool at capacity", oldest)
			return
		}
	}
}

// Remove evicts txid, e.g. on block inclusion or explicit clear.
func (p *Pool) Remove(txid chainhash.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, txid)
}

// Get returns the mempool entry for txid, if present.
func (p *Pool) Get(txid chainhash.Hash) (models.MempoolEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[txid]
	return e, ok
}

// EvictExpired removes every entry older than the pool's TTL as of now.
func (p *Pool) EvictExpired(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	evicted := 0
	for txid, e := range p.entries {
		if now.Sub(e.InsertedAt) >= p.ttl {
			delete(p.entries, txid)
			evicted++
		}
	}
	return evicted
}

// Clear removes every entry.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[chainhash.Hash]models.MempoolEntry)
	p.order = nil
}

// Len reports the current number of pending entries.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}

// List returns every pending entry, sorted by insertion time (oldest
// first) for stable CLI/API listing.
func (p *Pool) List() []models.MempoolEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.MempoolEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].InsertedAt.Before(out[j].InsertedAt)
	})
	return out
}
