// Package treasury implements grant/proposal governance, reusing the
// registry's weighted-vote primitives rather than a second voting
// implementation.
package treasury

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/timecoin/node/internal/registry"
	"github.com/timecoin/node/pkg/models"
	"github.com/timecoin/node/pkg/timeerr"
)

// DefaultVotingPeriod is how long a proposal accepts votes before
// expiring, absent an explicit deadline.
const DefaultVotingPeriod = 14 * 24 * time.Hour

func ceilDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// Manager owns the set of treasury proposals, guarded by a single
// reader/writer lock.
type Manager struct {
	mu        sync.RWMutex
	proposals map[string]*models.Proposal
	registry  *registry.Registry
}

// New builds a proposal manager backed by reg for weight/maturity
// lookups. It does not own the registry (C10 does).
func New(reg *registry.Registry) *Manager {
	return &Manager{
		proposals: make(map[string]*models.Proposal),
		registry:  reg,
	}
}

// CreateProposal opens a new Pending proposal with the default voting
// period.
func (m *Manager) CreateProposal(proposer, recipient string, amount uint64, reason string) models.Proposal {
	now := time.Now()
	p := &models.Proposal{
		ID:             uuid.New().String(),
		Proposer:       proposer,
		Recipient:      recipient,
		Amount:         amount,
		Reason:         reason,
		CreatedAt:      now,
		VotingDeadline: now.Add(DefaultVotingPeriod),
		Status:         models.ProposalPending,
	}
	m.mu.Lock()
	m.proposals[p.ID] = p
	m.mu.Unlock()
	return *p
}

// Vote records an Active, vote-mature masternode's decision on a
// Pending proposal, then re-evaluates the Approved/Rejected thresholds
// against the registry's current total active weight. Duplicate votes
// from the same voter are rejected.
func (m *Manager) Vote(proposalID, voterID string, approve bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[proposalID]
	if !ok {
		return timeerr.Newf(timeerr.KindInvalidProposal, "proposal %s not found", proposalID)
	}
	if p.Status != models.ProposalPending {
		return timeerr.Newf(timeerr.KindInvalidProposal, "proposal %s is not pending (status=%s)", proposalID, p.Status)
	}

	now := time.Now()
	if now.After(p.VotingDeadline) {
		p.Status = models.ProposalExpired
		return timeerr.Newf(timeerr.KindInvalidProposal, "proposal %s voting deadline has passed", proposalID)
	}

	node, ok := m.registry.Get(voterID)
	if !ok || node.State != models.StateActive {
		return timeerr.Newf(timeerr.KindUnauthorizedVoter, "voter %s is not an active masternode", voterID)
	}
	weight := m.registry.EffectiveWeight(voterID, now)
	if weight == 0 {
		return timeerr.Newf(timeerr.KindUnauthorizedVoter, "voter %s has no effective weight (inactive or vote-immature)", voterID)
	}

	for _, v := range p.VotesFor {
		if v.VoterID == voterID {
			return timeerr.Newf(timeerr.KindDuplicateVote, "voter %s already voted on proposal %s", voterID, proposalID)
		}
	}
	for _, v := range p.VotesAgainst {
		if v.VoterID == voterID {
			return timeerr.Newf(timeerr.KindDuplicateVote, "voter %s already voted on proposal %s", voterID, proposalID)
		}
	}

	vote := models.Vote{
		Subject:   models.ProposalSubject(proposalID),
		VoterID:   voterID,
		Weight:    weight,
		Timestamp: now,
	}
	if approve {
		vote.Choice = models.VoteApprove
		p.VotesFor = append(p.VotesFor, vote)
	} else {
		vote.Choice = models.VoteReject
		p.VotesAgainst = append(p.VotesAgainst, vote)
	}

	m.evaluateLocked(p, now)
	return nil
}

func sumWeight(votes []models.Vote) uint64 {
	var total uint64
	for _, v := range votes {
		total += v.Weight
	}
	return total
}

// evaluateLocked applies the quorum thresholds: Approved at
// ceil(2*total/3) for-weight, Rejected at ceil(total/3) against-weight.
func (m *Manager) evaluateLocked(p *models.Proposal, now time.Time) {
	total := m.registry.TotalWeightAt(now)
	forWeight := sumWeight(p.VotesFor)
	againstWeight := sumWeight(p.VotesAgainst)

	approveThreshold := ceilDiv(2*total, 3)
	rejectThreshold := ceilDiv(total, 3)

	switch {
	case againstWeight >= rejectThreshold:
		p.Status = models.ProposalRejected
	case forWeight >= approveThreshold:
		p.Status = models.ProposalApproved
	}
}

// UpdateStatuses sweeps every Pending proposal, expiring those past
// their voting deadline and re-evaluating the rest against the
// registry's current weight totals. masternodeCount is not used.
func (m *Manager) UpdateStatuses(masternodeCount int) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.proposals {
		if p.Status != models.ProposalPending {
			continue
		}
		if now.After(p.VotingDeadline) {
			p.Status = models.ProposalExpired
			continue
		}
		m.evaluateLocked(p, now)
	}
}

// Get returns a copy of a proposal by ID.
func (m *Manager) Get(id string) (models.Proposal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[id]
	if !ok {
		return models.Proposal{}, false
	}
	return *p, true
}

// GetAll returns every proposal, sorted by creation time (oldest first).
func (m *Manager) GetAll() []models.Proposal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Proposal, 0, len(m.proposals))
	for _, p := range m.proposals {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// MarkExecuted transitions an Approved proposal to Executed once the
// out-of-band treasury disbursement (a standard transaction) has been
// submitted.
func (m *Manager) MarkExecuted(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return timeerr.Newf(timeerr.KindInvalidProposal, "proposal %s not found", id)
	}
	if p.Status != models.ProposalApproved {
		return timeerr.Newf(timeerr.KindInvalidProposal, "proposal %s is not approved (status=%s)", id, p.Status)
	}
	p.Status = models.ProposalExecuted
	return nil
}

// AddMilestone appends an informational disbursement checkpoint to a
// proposal. It does not affect vote tallying.
func (m *Manager) AddMilestone(id string, milestone models.Milestone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.proposals[id]
	if !ok {
		return timeerr.Newf(timeerr.KindInvalidProposal, "proposal %s not found", id)
	}
	p.Milestones = append(p.Milestones, milestone)
	return nil
}
