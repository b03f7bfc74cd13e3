package txconsensus

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/timecoin/node/internal/finalizedstore"
	"github.com/timecoin/node/internal/registry"
	"github.com/timecoin/node/internal/utxo"
	"github.com/timecoin/node/internal/validator"
	"github.com/timecoin/node/pkg/models"
)

func hashFromByte(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

// sixVerifiedNodes registers six active, live, mature Verified
// masternodes (base weight 10 each, total 60).
func sixVerifiedNodes(t *testing.T) (*registry.Registry, []string) {
	t.Helper()
	reg := registry.New()
	ids := []string{"node-a", "node-b", "node-c", "node-d", "node-e", "node-f"}
	for _, id := range ids {
		if _, err := reg.Register(id, 10_000, models.NetworkInfo{}, 0); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
		if err := reg.Activate(id); err != nil {
			t.Fatalf("activate %s: %v", id, err)
		}
	}
	reg.SyncWithConnectedPeers(ids)
	reg.AdvanceHeight(5) // clear the Verified tier's 3-block vote maturity
	return reg, ids
}

func signedSpend(t *testing.T, priv *btcec.PrivateKey, prevOut models.OutPoint, outputs []models.TxOutput) *models.Transaction {
	t.Helper()
	tx := &models.Transaction{
		Version: 1,
		Inputs:  []models.TxInput{{PreviousOutput: prevOut, PublicKey: priv.PubKey().SerializeCompressed()}},
		Outputs: outputs,
	}
	tx.Txid = validator.DeriveTxid(tx)
	sig := ecdsa.Sign(priv, tx.Txid[:])
	tx.Inputs[0].Signature = sig.Serialize()
	return tx
}

func newTestEngine(t *testing.T, reg *registry.Registry, set *utxo.Set) *Engine {
	t.Helper()
	store, err := finalizedstore.Open(t.TempDir() + "/finalized.json")
	if err != nil {
		t.Fatalf("finalizedstore.Open: %v", err)
	}
	return New(set, reg, store, nil)
}

func TestHappyPathFinality(t *testing.T) {
	reg, ids := sixVerifiedNodes(t)
	set := utxo.New()

	priv, _ := btcec.NewPrivateKey()
	addr := validator.DeriveAddress(priv.PubKey().SerializeCompressed())
	prevOut := models.OutPoint{Txid: hashFromByte(1), Vout: 0}
	set.Seed(prevOut, models.TxOutput{Amount: 1000, Address: addr})

	e := newTestEngine(t, reg, set)
	tx := signedSpend(t, priv, prevOut, []models.TxOutput{{Amount: 990, Address: "TIME1recipient"}})

	resultCh := make(chan Result, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := e.SubmitTransaction(context.Background(), tx)
		resultCh <- res
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond) // let the round register

	now := time.Now()
	for i := 0; i < 4; i++ { // 4 * base weight 10 = 40 >= ceil(2*60/3)=40
		if err := e.Vote(ids[i], tx.Txid, models.VoteApprove, now); err != nil {
			t.Fatalf("Vote(%s): %v", ids[i], err)
		}
	}

	res := <-resultCh
	if err := <-errCh; err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}
	if res.Outcome != OutcomeFinalized {
		t.Fatalf("expected OutcomeFinalized, got %v (approve=%d reject=%d total=%d)", res.Outcome, res.ApproveWeight, res.RejectWeight, res.TotalWeight)
	}

	if _, ok := set.Get(prevOut); ok {
		t.Error("expected spent input to be gone from the UTXO set")
	}
	newOp := models.OutPoint{Txid: tx.Txid, Vout: 0}
	if out, ok := set.Get(newOp); !ok || out.Amount != 990 {
		t.Errorf("expected new 990 output, got %+v ok=%v", out, ok)
	}
	if rec, ok := e.store.Get(tx.Txid); !ok || rec.VotesReceived != 4 {
		t.Errorf("expected finalized-tx record with 4 votes, got %+v ok=%v", rec, ok)
	}
}

func TestRejectionOnRejectQuorum(t *testing.T) {
	reg, ids := sixVerifiedNodes(t)
	set := utxo.New()

	priv, _ := btcec.NewPrivateKey()
	addr := validator.DeriveAddress(priv.PubKey().SerializeCompressed())
	prevOut := models.OutPoint{Txid: hashFromByte(1), Vout: 0}
	set.Seed(prevOut, models.TxOutput{Amount: 1000, Address: addr})

	e := newTestEngine(t, reg, set)
	tx := signedSpend(t, priv, prevOut, []models.TxOutput{{Amount: 990, Address: "TIME1recipient"}})

	resultCh := make(chan Result, 1)
	go func() {
		res, _ := e.SubmitTransaction(context.Background(), tx)
		resultCh <- res
	}()
	time.Sleep(20 * time.Millisecond)

	now := time.Now()
	// ceil(60/3) = 20; two Verified nodes (20 weight) is enough to reject.
	for i := 0; i < 2; i++ {
		if err := e.Vote(ids[i], tx.Txid, models.VoteReject, now); err != nil {
			t.Fatalf("Vote: %v", err)
		}
	}

	res := <-resultCh
	if res.Outcome != OutcomeRejected {
		t.Fatalf("expected OutcomeRejected, got %v", res.Outcome)
	}
	if st := set.State(prevOut); st.Kind != models.UTXOUnspent {
		t.Errorf("expected input unlocked back to Unspent after rejection, got %v", st.Kind)
	}
}

func TestDuplicateVoteRejected(t *testing.T) {
	reg, ids := sixVerifiedNodes(t)
	set := utxo.New()

	priv, _ := btcec.NewPrivateKey()
	addr := validator.DeriveAddress(priv.PubKey().SerializeCompressed())
	prevOut := models.OutPoint{Txid: hashFromByte(1), Vout: 0}
	set.Seed(prevOut, models.TxOutput{Amount: 1000, Address: addr})

	e := newTestEngine(t, reg, set)
	e.timeout = 30 * time.Millisecond // keep the test fast; round drains via timeout
	tx := signedSpend(t, priv, prevOut, []models.TxOutput{{Amount: 990, Address: "TIME1recipient"}})

	resultCh := make(chan Result, 1)
	go func() {
		res, _ := e.SubmitTransaction(context.Background(), tx)
		resultCh <- res
	}()
	time.Sleep(10 * time.Millisecond)

	now := time.Now()
	if err := e.Vote(ids[0], tx.Txid, models.VoteApprove, now); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	if err := e.Vote(ids[0], tx.Txid, models.VoteApprove, now); err == nil {
		t.Fatal("expected duplicate vote from the same voter to be rejected")
	}

	<-resultCh
}

func TestTimeoutUnlocksInputs(t *testing.T) {
	reg, _ := sixVerifiedNodes(t)
	set := utxo.New()

	priv, _ := btcec.NewPrivateKey()
	addr := validator.DeriveAddress(priv.PubKey().SerializeCompressed())
	prevOut := models.OutPoint{Txid: hashFromByte(1), Vout: 0}
	set.Seed(prevOut, models.TxOutput{Amount: 1000, Address: addr})

	e := newTestEngine(t, reg, set)
	e.timeout = 30 * time.Millisecond
	tx := signedSpend(t, priv, prevOut, []models.TxOutput{{Amount: 990, Address: "TIME1recipient"}})

	res, err := e.SubmitTransaction(context.Background(), tx)
	if err != nil {
		t.Fatalf("SubmitTransaction: %v", err)
	}
	if res.Outcome != OutcomeUnresolved {
		t.Fatalf("expected OutcomeUnresolved on timeout, got %v", res.Outcome)
	}
	if st := set.State(prevOut); st.Kind != models.UTXOUnspent {
		t.Errorf("expected input unlocked back to Unspent after timeout, got %v", st.Kind)
	}
}

func TestDoubleSpendLosingRaceIsRejectedAtLockTime(t *testing.T) {
	reg, _ := sixVerifiedNodes(t)
	set := utxo.New()

	priv, _ := btcec.NewPrivateKey()
	addr := validator.DeriveAddress(priv.PubKey().SerializeCompressed())
	prevOut := models.OutPoint{Txid: hashFromByte(1), Vout: 0}
	set.Seed(prevOut, models.TxOutput{Amount: 1000, Address: addr})

	e := newTestEngine(t, reg, set)
	txA := signedSpend(t, priv, prevOut, []models.TxOutput{{Amount: 600, Address: "TIME1x"}})
	txB := signedSpend(t, priv, prevOut, []models.TxOutput{{Amount: 700, Address: "TIME1y"}})

	// Lock txA's input first, simulating it winning the race to enter
	// the critical section.
	if err := set.LockInputs(txA, time.Now()); err != nil {
		t.Fatalf("LockInputs(txA): %v", err)
	}

	e.timeout = 10 * time.Millisecond
	_, err := e.SubmitTransaction(context.Background(), txB)
	if err == nil {
		t.Fatal("expected txB submission to fail while txA holds the lock")
	}
}
