// Package timeerr defines the closed error taxonomy shared by every
// consensus subsystem. Callers switch on Kind, never on error strings.
package timeerr

import "fmt"

// Kind identifies the semantic category of a consensus/state/identity/
// network/storage/policy error. The set is closed — do not compare
// against Error() strings to drive control flow.
type Kind int

const (
	KindUnknown Kind = iota

	// Consensus
	KindNotEnoughNodes
	KindConsensusNotReached
	KindInvalidProposal
	KindDuplicateVote
	KindUnauthorizedVoter
	KindInvalidLeader
	KindTimeout
	KindNetworkPartition
	KindByzantineNode

	// State
	KindInsufficientBalance
	KindInvalidTransaction
	KindDoubleSpend
	KindUtxoNotFound

	// Identity
	KindInvalidAddress
	KindInvalidSignature
	KindInvalidPrivateKey
	KindInsufficientCollateral

	// Network
	KindConnectionFailed
	KindInvalidPeerResponse
	KindProtocolMismatch

	// Storage
	KindIO
	KindSerialization
	KindSnapshotNotFound

	// Policy
	KindUnauthorized
	KindRateLimited
	KindQuarantined

	// Registry-specific (still State/Identity family, called out for
	// callers that need to branch precisely)
	KindAlreadyRegistered
	KindNotFound
	KindInvalidTier
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindNotEnoughNodes:         "not_enough_nodes",
	KindConsensusNotReached:    "consensus_not_reached",
	KindInvalidProposal:        "invalid_proposal",
	KindDuplicateVote:          "duplicate_vote",
	KindUnauthorizedVoter:      "unauthorized_voter",
	KindInvalidLeader:          "invalid_leader",
	KindTimeout:                "timeout",
	KindNetworkPartition:       "network_partition",
	KindByzantineNode:          "byzantine_node",
	KindInsufficientBalance:    "insufficient_balance",
	KindInvalidTransaction:     "invalid_transaction",
	KindDoubleSpend:            "double_spend",
	KindUtxoNotFound:           "utxo_not_found",
	KindInvalidAddress:         "invalid_address",
	KindInvalidSignature:       "invalid_signature",
	KindInvalidPrivateKey:      "invalid_private_key",
	KindInsufficientCollateral: "insufficient_collateral",
	KindConnectionFailed:       "connection_failed",
	KindInvalidPeerResponse:    "invalid_peer_response",
	KindProtocolMismatch:       "protocol_mismatch",
	KindIO:                     "io",
	KindSerialization:          "serialization",
	KindSnapshotNotFound:       "snapshot_not_found",
	KindUnauthorized:           "unauthorized",
	KindRateLimited:            "rate_limited",
	KindQuarantined:            "quarantined",
	KindAlreadyRegistered:      "already_registered",
	KindNotFound:               "not_found",
	KindInvalidTier:            "invalid_tier",
}

// String returns the stable machine-readable tag for the kind, the
// same string used in the HTTP gateway's error responses.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Error is the structured error type returned by every consensus
// subsystem. Message is for humans; Kind is for callers.
type Error struct {
	Kind    Kind
	Message string
	Peer    string // offending peer, when known — lets integrity errors reach the quarantine
	Err     error  // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s: %s (peer=%s)", e.Kind, e.Message, e.Peer)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, timeerr.New(KindX, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a plain structured error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf builds a structured error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a structured error that carries an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// WrapPeer is Wrap plus the offending peer ID, for integrity errors
// that the quarantine (C4) needs to act on.
func WrapPeer(kind Kind, message, peer string, err error) *Error {
	return &Error{Kind: kind, Message: message, Peer: peer, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is
// a *Error, else KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return KindUnknown
	}
	return e.Kind
}
