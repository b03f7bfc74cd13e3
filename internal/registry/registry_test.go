package registry

import (
	"testing"
	"time"

	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

// registerActiveVerified registers and activates id as a Verified-tier
// node, but does NOT call SyncWithConnectedPeers — callers must do a
// single sync with the full peer set once all nodes are set up, since
// each sync call is authoritative over every registered node's liveness.
func registerActiveVerified(t *testing.T, r *Registry, id string) {
	t.Helper()
	if _, err := r.Register(id, 10_000, models.NetworkInfo{IPAddress: "10.0.0.1", Port: 9000}, 0); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	if err := r.Activate(id); err != nil {
		t.Fatalf("activate %s: %v", id, err)
	}
}

func TestRegisterInsufficientCollateral(t *testing.T) {
	r := New()
	_, err := r.Register("node-a", 500, models.NetworkInfo{}, 0)
	if timeerr.KindOf(err) != timeerr.KindInsufficientCollateral {
		t.Fatalf("expected KindInsufficientCollateral, got %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	if _, err := r.Register("node-a", 10_000, models.NetworkInfo{}, 0); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, err := r.Register("node-a", 10_000, models.NetworkInfo{}, 0)
	if timeerr.KindOf(err) != timeerr.KindAlreadyRegistered {
		t.Fatalf("expected KindAlreadyRegistered, got %v", err)
	}
}

func TestEffectiveWeightZeroWhenUnregistered(t *testing.T) {
	r := New()
	if w := r.EffectiveWeight("ghost", time.Now()); w != 0 {
		t.Errorf("expected 0 weight for unregistered node, got %d", w)
	}
}

func TestEffectiveWeightZeroWhenInactiveOrNotLiveSynced(t *testing.T) {
	r := New()
	now := time.Now()
	if _, err := r.Register("node-a", 10_000, models.NetworkInfo{}, 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	// Registered but never activated nor live-synced.
	if w := r.EffectiveWeight("node-a", now); w != 0 {
		t.Errorf("expected 0 weight for non-active node, got %d", w)
	}

	if err := r.Activate("node-a"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	// Active but not in the last SyncWithConnectedPeers call.
	if w := r.EffectiveWeight("node-a", now); w != 0 {
		t.Errorf("expected 0 weight for active-but-not-live-synced node, got %d", w)
	}
}

func TestEffectiveWeightZeroWhenImmature(t *testing.T) {
	r := New()
	if _, err := r.Register("node-a", 10_000, models.NetworkInfo{}, 100); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Activate("node-a"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	r.SyncWithConnectedPeers([]string{"node-a"})
	r.AdvanceHeight(101) // Verified needs 3 blocks of maturity.
	if w := r.EffectiveWeight("node-a", time.Now()); w != 0 {
		t.Errorf("expected 0 weight for immature node, got %d", w)
	}

	r.AdvanceHeight(103)
	if w := r.EffectiveWeight("node-a", time.Now()); w == 0 {
		t.Errorf("expected nonzero weight once mature, got 0")
	}
}

func TestEffectiveWeightMatchesBaseWeightForFreshRegistration(t *testing.T) {
	r := New()
	now := time.Now()
	registerActiveVerified(t, r, "node-a")
	r.SyncWithConnectedPeers([]string{"node-a"})
	r.AdvanceHeight(5)
	// Fresh registration: longevity multiplier should be ~1.0, so
	// effective weight should equal the Verified base weight (10).
	w := r.EffectiveWeight("node-a", now)
	if w != 10 {
		t.Errorf("expected effective weight 10 for fresh Verified node, got %d", w)
	}
}

func TestTotalWeightAtSumsActiveSet(t *testing.T) {
	r := New()
	now := time.Now()
	registerActiveVerified(t, r, "node-a")
	registerActiveVerified(t, r, "node-b")
	r.SyncWithConnectedPeers([]string{"node-a", "node-b"})
	r.AdvanceHeight(5)

	total := r.TotalWeightAt(now)
	if total != 20 {
		t.Errorf("expected total weight 20 for two fresh Verified nodes, got %d", total)
	}
}

func TestSyncWithConnectedPeersDeactivatesAbsent(t *testing.T) {
	r := New()
	now := time.Now()
	registerActiveVerified(t, r, "node-a")
	registerActiveVerified(t, r, "node-b")
	r.SyncWithConnectedPeers([]string{"node-a", "node-b"})
	r.AdvanceHeight(5)

	r.SyncWithConnectedPeers([]string{"node-a"})

	if w := r.EffectiveWeight("node-b", now); w != 0 {
		t.Errorf("expected node-b weight 0 after being dropped from peer sync, got %d", w)
	}
	node, ok := r.Get("node-b")
	if !ok {
		t.Fatal("expected node-b to still be registered")
	}
	if node.State != models.StateInactive {
		t.Errorf("expected node-b state Inactive after peer sync drop, got %v", node.State)
	}
}

func TestHeartbeatUpgradesToActiveWithinGracePeriod(t *testing.T) {
	r := New()
	if _, err := r.Register("node-a", 10_000, models.NetworkInfo{}, 0); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.SetSyncStatus("node-a", models.SyncStatus{Kind: models.SyncSynced}); err != nil {
		t.Fatalf("set sync status: %v", err)
	}

	t0 := time.Now()
	if err := r.Heartbeat("node-a", t0); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	node, _ := r.Get("node-a")
	if node.State != models.StateActive {
		t.Errorf("expected Active after synced heartbeat, got %v", node.State)
	}
}

func TestActiveSetIsSortedAndFiltered(t *testing.T) {
	r := New()
	registerActiveVerified(t, r, "node-c")
	registerActiveVerified(t, r, "node-a")
	registerActiveVerified(t, r, "node-b")
	r.SyncWithConnectedPeers([]string{"node-a", "node-b", "node-c"})
	r.Deactivate("node-b")

	got := r.ActiveSet()
	want := []string{"node-a", "node-c"}
	if len(got) != len(want) {
		t.Fatalf("ActiveSet() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ActiveSet()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
