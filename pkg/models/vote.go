package models

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// VoteChoice is a masternode's decision on a subject.
type VoteChoice int

const (
	VoteApprove VoteChoice = iota
	VoteReject
	VoteAbstain
)

func (c VoteChoice) String() string {
	switch c {
	case VoteApprove:
		return "approve"
	case VoteReject:
		return "reject"
	default:
		return "abstain"
	}
}

// SubjectKind discriminates what a Vote's Subject refers to.
type SubjectKind int

const (
	SubjectTx SubjectKind = iota
	SubjectBlock
	SubjectProposal
)

// Subject is a tagged union over {TxId, BlockHash, ProposalId}: one
// shared record covers transaction, block, and proposal votes.
type Subject struct {
	Kind SubjectKind
	Hash chainhash.Hash // used for SubjectTx / SubjectBlock
	ID   string         // used for SubjectProposal
}

func TxSubject(txid chainhash.Hash) Subject       { return Subject{Kind: SubjectTx, Hash: txid} }
func BlockSubject(hash chainhash.Hash) Subject    { return Subject{Kind: SubjectBlock, Hash: hash} }
func ProposalSubject(id string) Subject           { return Subject{Kind: SubjectProposal, ID: id} }

// Key returns a value usable as a map key for (subject, voter) uniqueness.
func (s Subject) Key() string {
	switch s.Kind {
	case SubjectProposal:
		return "proposal:" + s.ID
	case SubjectBlock:
		return "block:" + s.Hash.String()
	default:
		return "tx:" + s.Hash.String()
	}
}

// Vote is a single masternode's weighted decision on a subject, captured
// at reception time. (Subject, VoterID) is unique within a round.
type Vote struct {
	Subject   Subject    `json:"subject"`
	VoterID   string     `json:"voterId"`
	Choice    VoteChoice `json:"choice"`
	Weight    uint64     `json:"weight"`
	Timestamp time.Time  `json:"timestamp"`
	Signature []byte     `json:"signature"`
}
