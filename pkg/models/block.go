package models

import "github.com/btcsuite/btcd/chaincfg/chainhash"

// BlockHeader is the hashed portion of a Block (see validator.BlockHash).
type BlockHeader struct {
	BlockNumber  uint64         `json:"blockNumber"`
	Timestamp    uint64         `json:"timestamp"`
	PreviousHash chainhash.Hash `json:"previousHash"`
	MerkleRoot   chainhash.Hash `json:"merkleRoot"`
	ProducerID   string         `json:"producerId"`
}

// Block is a finalized unit of the chain.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []Transaction  `json:"transactions"`
	Hash         chainhash.Hash `json:"hash"`
}

// FinalizedTxRecord is a transaction that has reached instant finality
// but has not yet been folded into a block.
type FinalizedTxRecord struct {
	Tx             Transaction `json:"tx"`
	FinalizedAt    int64       `json:"finalizedAt"` // unix seconds
	VotesReceived  int         `json:"votesReceived"`
	TotalVoters    int         `json:"totalVoters"`
}
