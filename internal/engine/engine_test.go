package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/timecoin/node/internal/finalizedstore"
	"github.com/timecoin/node/internal/txconsensus"
	"github.com/timecoin/node/internal/validator"
	"github.com/timecoin/node/pkg/models"
)

func newTestStore(t *testing.T) *finalizedstore.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "finalized.json")
	store, err := finalizedstore.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func mkActiveVerified(t *testing.T, e *Engine, id string) {
	t.Helper()
	if _, err := e.AddMasternode(id, 10_000, models.NetworkInfo{}); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	if err := e.Registry.SetSyncStatus(id, models.SyncStatus{Kind: models.SyncSynced}); err != nil {
		t.Fatal(err)
	}
	if err := e.Registry.Heartbeat(id, time.Now()); err != nil {
		t.Fatal(err)
	}
}

// TestHappyPathFinality: 6 active
// Verified masternodes (weight 10 each, total 60), a tx spending a
// 1,000-unit UTXO with a 990-unit output reaches finality after 4
// Approve votes (40 >= ceil(2*60/3)=40).
func TestHappyPathFinality(t *testing.T) {
	store := newTestStore(t)
	e := New(store, "TIME1treasuryaddr0000000000000000000000000", nil)

	ids := []string{"n1", "n2", "n3", "n4", "n5", "n6"}
	for _, id := range ids {
		mkActiveVerified(t, e, id)
	}
	e.Registry.SyncWithConnectedPeers(ids)
	e.AdvanceHeight(5) // clears Verified tier's 3-block vote-maturity requirement

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("NewPrivateKey: %v", err)
	}
	sourceAddr := validator.DeriveAddress(priv.PubKey().SerializeCompressed())
	outpoint := models.OutPoint{Txid: zeroHash(1), Vout: 0}
	e.UTXO.Seed(outpoint, models.TxOutput{Amount: 1000, Address: sourceAddr})

	tx := models.Transaction{
		Version: 1,
		Inputs: []models.TxInput{{
			PreviousOutput: outpoint,
			PublicKey:      priv.PubKey().SerializeCompressed(),
		}},
		Outputs: []models.TxOutput{{Amount: 990, Address: "TIME1dest0000000000000000000000000000000"}},
	}
	tx.Txid = validator.DeriveTxid(&tx)
	sig := ecdsa.Sign(priv, tx.Txid[:])
	tx.Inputs[0].Signature = sig.Serialize()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	var result FinalityResult
	var submitErr error
	go func() {
		result, submitErr = e.SubmitTransaction(ctx, &tx)
		close(done)
	}()

	// Give SubmitTransaction time to lock inputs and open the round.
	time.Sleep(20 * time.Millisecond)
	for _, id := range ids[:4] {
		if err := e.TxConsensus.Vote(id, tx.Txid, models.VoteApprove, time.Now()); err != nil {
			t.Fatalf("vote from %s: %v", id, err)
		}
	}

	<-done
	if submitErr != nil {
		t.Fatalf("SubmitTransaction error: %v", submitErr)
	}
	if result.Outcome != txconsensus.OutcomeFinalized {
		t.Fatalf("outcome = %v, want Finalized", result.Outcome)
	}

	if _, ok := e.UTXO.Get(outpoint); ok {
		t.Error("expected source outpoint to be spent")
	}
	newOutpoint := models.OutPoint{Txid: tx.Txid, Vout: 0}
	if out, ok := e.UTXO.Get(newOutpoint); !ok || out.Amount != 990 {
		t.Error("expected new 990-unit output to be unspent")
	}
	if _, ok := store.Get(tx.Txid); !ok {
		t.Error("expected finalized-tx store to contain the tx")
	}
}

func TestIsMasternodeAndCount(t *testing.T) {
	store := newTestStore(t)
	e := New(store, "treasury", nil)
	if e.IsMasternode("n1") {
		t.Error("expected n1 to be unknown before registration")
	}
	mkActiveVerified(t, e, "n1")
	if !e.IsMasternode("n1") {
		t.Error("expected n1 to be known after registration")
	}
	if e.MasternodeCount() != 1 {
		t.Errorf("MasternodeCount() = %d, want 1", e.MasternodeCount())
	}
}

func TestRegisterWalletRequiresKnownMasternode(t *testing.T) {
	store := newTestStore(t)
	e := New(store, "treasury", nil)
	if err := e.RegisterWallet("ghost", "addr"); err == nil {
		t.Error("expected error registering wallet for unknown masternode")
	}
	mkActiveVerified(t, e, "n1")
	if err := e.RegisterWallet("n1", "TIME1addr00000000000000000000000000000000"); err != nil {
		t.Fatal(err)
	}
	if addr, ok := e.WalletAddress("n1"); !ok || addr == "" {
		t.Error("expected wallet address to be retrievable")
	}
}

func TestQuarantinePeerEscalatesToBan(t *testing.T) {
	store := newTestStore(t)
	e := New(store, "treasury", nil)

	// A critical offense bans the masternode behind the peer outright.
	if _, err := e.AddMasternode("n1", 10_000, models.NetworkInfo{IPAddress: "10.9.9.9"}); err != nil {
		t.Fatal(err)
	}
	e.QuarantinePeer("10.9.9.9", models.ReasonConsensusViolation)
	if node, _ := e.Registry.Get("n1"); node.State != models.StateBanned {
		t.Fatalf("state = %v, want Banned after a critical offense", node.State)
	}

	// Low-severity offenses ban only once the peer is a repeat offender.
	if _, err := e.AddMasternode("n2", 10_000, models.NetworkInfo{IPAddress: "10.8.8.8"}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < BanThreshold-1; i++ {
		e.QuarantinePeer("10.8.8.8", models.ReasonRateLimitExceeded)
	}
	if node, _ := e.Registry.Get("n2"); node.State == models.StateBanned {
		t.Fatal("banned before reaching BanThreshold offenses")
	}
	e.QuarantinePeer("10.8.8.8", models.ReasonRateLimitExceeded)
	if node, _ := e.Registry.Get("n2"); node.State != models.StateBanned {
		t.Fatalf("state = %v, want Banned after %d offenses", node.State, BanThreshold)
	}
	if !e.Quarantine.IsQuarantined("10.8.8.8", time.Now()) {
		t.Error("expected the offending peer to also be quarantined")
	}
}

func zeroHash(b byte) (h [32]byte) {
	h[0] = b
	return
}
