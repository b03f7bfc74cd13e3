package finalizedstore

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/timecoin/node/pkg/models"
)

func hashFromByte(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func TestPutGetRemove(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "finalized.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	txid := hashFromByte(1)
	rec := models.FinalizedTxRecord{Tx: models.Transaction{Txid: txid}, VotesReceived: 4, TotalVoters: 6}
	if err := s.Put(txid, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok := s.Get(txid)
	if !ok || got.VotesReceived != 4 {
		t.Fatalf("Get = %+v, ok=%v", got, ok)
	}

	if err := s.Remove(txid); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok := s.Get(txid); ok {
		t.Error("expected record to be gone after Remove")
	}
}

func TestOpenReloadsPersistedRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "finalized.json")

	s1, err := Open(path)
	if err != nil {
		t.Fatalf("Open (1st): %v", err)
	}
	txid := hashFromByte(7)
	if err := s1.Put(txid, models.FinalizedTxRecord{Tx: models.Transaction{Txid: txid}, VotesReceived: 5, TotalVoters: 6}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("Open (2nd): %v", err)
	}
	got, ok := s2.Get(txid)
	if !ok || got.VotesReceived != 5 {
		t.Fatalf("expected reloaded record, got %+v ok=%v", got, ok)
	}
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", s.Len())
	}
}

func TestGetAllReturnsACopy(t *testing.T) {
	dir := t.TempDir()
	s, _ := Open(filepath.Join(dir, "finalized.json"))
	txid := hashFromByte(3)
	s.Put(txid, models.FinalizedTxRecord{Tx: models.Transaction{Txid: txid}})

	all := s.GetAll()
	delete(all, txid)
	if s.Len() != 1 {
		t.Error("expected mutating the GetAll() result not to affect the store")
	}
}
