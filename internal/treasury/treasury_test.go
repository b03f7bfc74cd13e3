package treasury

import (
	"testing"
	"time"

	"github.com/timecoin/node/internal/registry"
	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

// mkNode registers id at the given collateral and heartbeats it to
// Active. Callers must still run one SyncWithConnectedPeers over the
// full peer set plus an AdvanceHeight past the tier's vote maturity —
// each sync call is authoritative over every node's liveness, so it
// cannot live inside a per-node helper.
func mkNode(t *testing.T, reg *registry.Registry, id string, collateral uint64) {
	t.Helper()
	if _, err := reg.Register(id, collateral, models.NetworkInfo{}, 0); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	if err := reg.SetSyncStatus(id, models.SyncStatus{Kind: models.SyncSynced}); err != nil {
		t.Fatal(err)
	}
	if err := reg.Heartbeat(id, time.Now()); err != nil {
		t.Fatal(err)
	}
}

func mkVerified(t *testing.T, reg *registry.Registry, id string) {
	mkNode(t, reg, id, 10_000)
}

func mkProfessional(t *testing.T, reg *registry.Registry, id string) {
	mkNode(t, reg, id, 100_000)
}

// TestProposalApprovalRejectedByWeight: 3 Verified
// (weight 10 each) + 1 Professional (weight 50) = 80 total. Approve
// from the three Verified (30) + Reject from Professional (50): 30 <
// ceil(2*80/3)=54 and 50 >= ceil(80/3)=27, so the proposal rejects.
func TestProposalApprovalRejectedByWeight(t *testing.T) {
	reg := registry.New()
	ids := []string{"v1", "v2", "v3"}
	for _, id := range ids {
		mkVerified(t, reg, id)
	}
	mkProfessional(t, reg, "pro1")
	reg.SyncWithConnectedPeers(append(ids, "pro1"))
	reg.AdvanceHeight(10) // clears Professional's 10-block vote maturity

	mgr := New(reg)
	p := mgr.CreateProposal("alice", "bob", 500, "grant for tooling")

	for _, id := range ids {
		if err := mgr.Vote(p.ID, id, true); err != nil {
			t.Fatalf("vote from %s: %v", id, err)
		}
	}
	if err := mgr.Vote(p.ID, "pro1", false); err != nil {
		t.Fatalf("vote from pro1: %v", err)
	}

	got, ok := mgr.Get(p.ID)
	if !ok {
		t.Fatal("proposal not found")
	}
	if got.Status != models.ProposalRejected {
		t.Errorf("status = %v, want Rejected", got.Status)
	}
}

func TestProposalApprovalPasses(t *testing.T) {
	reg := registry.New()
	ids := []string{"v1", "v2", "v3", "v4", "v5", "v6"}
	for _, id := range ids {
		mkVerified(t, reg, id)
	}
	reg.SyncWithConnectedPeers(ids)
	reg.AdvanceHeight(5)

	mgr := New(reg)
	p := mgr.CreateProposal("alice", "bob", 500, "grant")

	// total weight = 60; 2/3 = 40, four Verified votes = 40.
	for _, id := range ids[:4] {
		if err := mgr.Vote(p.ID, id, true); err != nil {
			t.Fatalf("vote from %s: %v", id, err)
		}
	}
	got, _ := mgr.Get(p.ID)
	if got.Status != models.ProposalApproved {
		t.Errorf("status = %v, want Approved", got.Status)
	}
}

func TestVoteDuplicateRejected(t *testing.T) {
	reg := registry.New()
	mkVerified(t, reg, "v1")
	mkVerified(t, reg, "v2") // keeps one vote short of quorum
	reg.SyncWithConnectedPeers([]string{"v1", "v2"})
	reg.AdvanceHeight(5)

	mgr := New(reg)
	p := mgr.CreateProposal("alice", "bob", 10, "reason")
	if err := mgr.Vote(p.ID, "v1", true); err != nil {
		t.Fatal(err)
	}
	err := mgr.Vote(p.ID, "v1", true)
	if timeerr.KindOf(err) != timeerr.KindDuplicateVote {
		t.Errorf("expected KindDuplicateVote, got %v", err)
	}
}

func TestVoteUnknownProposal(t *testing.T) {
	reg := registry.New()
	mgr := New(reg)
	err := mgr.Vote("missing", "v1", true)
	if timeerr.KindOf(err) != timeerr.KindInvalidProposal {
		t.Errorf("expected KindInvalidProposal, got %v", err)
	}
}

func TestUpdateStatusesExpiresPastDeadline(t *testing.T) {
	reg := registry.New()
	mgr := New(reg)
	p := mgr.CreateProposal("alice", "bob", 10, "reason")

	mgr.mu.Lock()
	mgr.proposals[p.ID].VotingDeadline = time.Now().Add(-time.Hour)
	mgr.mu.Unlock()

	mgr.UpdateStatuses(0)
	got, _ := mgr.Get(p.ID)
	if got.Status != models.ProposalExpired {
		t.Errorf("status = %v, want Expired", got.Status)
	}
}

func TestMarkExecutedRequiresApproved(t *testing.T) {
	reg := registry.New()
	mgr := New(reg)
	p := mgr.CreateProposal("alice", "bob", 10, "reason")
	if err := mgr.MarkExecuted(p.ID); timeerr.KindOf(err) != timeerr.KindInvalidProposal {
		t.Errorf("expected KindInvalidProposal for non-approved proposal, got %v", err)
	}
}
