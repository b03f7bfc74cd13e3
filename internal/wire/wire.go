// Package wire implements the length-prefixed JSON envelope and
// message-kind catalog used for peer-to-peer framing. It is a pure
// codec: dialing, listening, and DNS peer discovery live outside this
// package.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"

	"github.com/timecoin/node/pkg/timeerr"
)

// Network discriminates the magic bytes peers exchange so mainnet and
// testnet nodes cannot accidentally interconnect.
type Network uint32

const (
	NetworkMainnet Network = 0x54494d45 // "TIME"
	NetworkTestnet Network = 0x54455354 // "TEST"
)

// ProtocolVersion is the current wire protocol revision.
const ProtocolVersion uint32 = 1

// MaxPayloadSize bounds a single envelope's payload to guard against a
// malicious/confused peer claiming an unbounded length prefix.
const MaxPayloadSize = 16 << 20 // 16 MiB

// Kind identifies the payload carried by an Envelope.
type Kind string

const (
	KindHandshake            Kind = "Handshake"
	KindPing                 Kind = "Ping"
	KindPong                 Kind = "Pong"
	KindTransaction          Kind = "Transaction"
	KindValidationResponse   Kind = "ValidationResponse"
	KindBlockProposal        Kind = "BlockProposal"
	KindGetBlockchainHeight  Kind = "GetBlockchainHeight"
	KindBlockchainHeight     Kind = "BlockchainHeight"
	KindGetBlocks            Kind = "GetBlocks"
	KindBlocksData           Kind = "BlocksData"
	KindPeerListRequest      Kind = "PeerListRequest"
	KindPeerListResponse     Kind = "PeerListResponse"
	KindRegisterXpub         Kind = "RegisterXpub"
	KindXpubRegistered       Kind = "XpubRegistered"
)

// Envelope is the wire unit: a message kind tag plus its JSON payload.
// On the wire it is framed as magic(4) || length(4 BE) || payload,
// where payload is the JSON encoding of Envelope itself.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handshake carries the fields exchanged for peer admission.
type Handshake struct {
	Version         string   `json:"version"`
	ProtocolVersion uint32   `json:"protocolVersion"`
	Network         string   `json:"network"`
	ListenAddr      string   `json:"listenAddr"`
	Timestamp       int64    `json:"timestamp"`
	Capabilities    []string `json:"capabilities"`
}

// Validate checks the handshake against this node's expected network,
// rejecting on protocol_version or network mismatch.
func (h *Handshake) Validate(expectedNetwork string) error {
	if h.Network != expectedNetwork {
		return timeerr.Newf(timeerr.KindProtocolMismatch, "network mismatch: expected %s, got %s", expectedNetwork, h.Network)
	}
	if h.ProtocolVersion != ProtocolVersion {
		return timeerr.Newf(timeerr.KindProtocolMismatch, "protocol version mismatch: expected %d, got %d", ProtocolVersion, h.ProtocolVersion)
	}
	return nil
}

// TransactionValidationMsg is the per-peer ValidationResponse payload.
type TransactionValidationMsg struct {
	Txid      string `json:"txid"`
	Validator string `json:"validator"`
	Approved  bool   `json:"approved"`
	Timestamp int64  `json:"timestamp"`
}

// GetBlocksMsg requests a height range of blocks from a peer.
type GetBlocksMsg struct {
	StartHeight uint64 `json:"startHeight"`
	EndHeight   uint64 `json:"endHeight"`
}

// BlockEnvelope carries one block's raw encoded bytes plus its height,
// as returned in a BlocksData message.
type BlockEnvelope struct {
	Block  json.RawMessage `json:"block"`
	Height uint64          `json:"height"`
}

// PeerAddress is one entry in a PeerListResponse.
type PeerAddress struct {
	NodeID string `json:"nodeId"`
	Addr   string `json:"addr"`
}

// Encode builds an Envelope of the given kind carrying payload,
// marshaled to JSON.
func Encode(kind Kind, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Kind: kind}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, timeerr.Wrap(timeerr.KindSerialization, "failed to encode envelope payload", err)
	}
	return Envelope{Kind: kind, Payload: raw}, nil
}

// WriteEnvelope frames env as magic || BE length || JSON payload and
// writes it to w.
func WriteEnvelope(w io.Writer, network Network, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return timeerr.Wrap(timeerr.KindSerialization, "failed to marshal envelope", err)
	}
	if len(body) > MaxPayloadSize {
		return timeerr.Newf(timeerr.KindSerialization, "envelope payload %d bytes exceeds maximum %d", len(body), MaxPayloadSize)
	}

	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(network))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(body)))

	if _, err := w.Write(header[:]); err != nil {
		return timeerr.Wrap(timeerr.KindIO, "failed to write envelope header", err)
	}
	if _, err := w.Write(body); err != nil {
		return timeerr.Wrap(timeerr.KindIO, "failed to write envelope payload", err)
	}
	return nil
}

// ReadEnvelope reads and decodes one length-prefixed envelope from r,
// verifying the magic matches the expected network.
func ReadEnvelope(r *bufio.Reader, expected Network) (Envelope, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Envelope{}, timeerr.Wrap(timeerr.KindIO, "failed to read envelope header", err)
	}
	network := Network(binary.BigEndian.Uint32(header[0:4]))
	if network != expected {
		return Envelope{}, timeerr.Newf(timeerr.KindProtocolMismatch, "unexpected network magic %x, want %x", uint32(network), uint32(expected))
	}
	length := binary.BigEndian.Uint32(header[4:8])
	if length > MaxPayloadSize {
		return Envelope{}, timeerr.Newf(timeerr.KindSerialization, "declared payload length %d exceeds maximum %d", length, MaxPayloadSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, timeerr.Wrap(timeerr.KindIO, "failed to read envelope payload", err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, timeerr.Wrap(timeerr.KindSerialization, "failed to decode envelope", err)
	}
	return env, nil
}

// Decode unmarshals an envelope's payload into v.
func Decode(env Envelope, v any) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return timeerr.Wrap(timeerr.KindSerialization, "failed to decode envelope payload", err)
	}
	return nil
}
