package models

import "time"

// ProposalStatus is the treasury proposal lifecycle position.
type ProposalStatus int

const (
	ProposalPending ProposalStatus = iota
	ProposalApproved
	ProposalRejected
	ProposalExpired
	ProposalExecuted
)

func (s ProposalStatus) String() string {
	switch s {
	case ProposalApproved:
		return "approved"
	case ProposalRejected:
		return "rejected"
	case ProposalExpired:
		return "expired"
	case ProposalExecuted:
		return "executed"
	default:
		return "pending"
	}
}

// Milestone is an informational disbursement checkpoint attached to a
// proposal. It does not affect vote tallying.
type Milestone struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Amount      uint64 `json:"amount"`
	DueDate     int64  `json:"dueDate"`
	Completed   bool   `json:"completed"`
}

// Proposal is a treasury/grant request voted on by active masternodes.
type Proposal struct {
	ID             string    `json:"id"`
	Proposer       string    `json:"proposer"`
	Recipient      string    `json:"recipient"`
	Amount         uint64    `json:"amount"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"createdAt"`
	VotingDeadline time.Time `json:"votingDeadline"`
	VotesFor       []Vote    `json:"votesFor"`
	VotesAgainst   []Vote    `json:"votesAgainst"`
	Status         ProposalStatus `json:"status"`
	Milestones     []Milestone    `json:"milestones,omitempty"`
}
