package starknetrpc

import (
	"encoding/json"
	"time"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

// Block statuses reported by starknet_getBlockWithTxHashes.
const (
	statusPending      = "PENDING"
	statusAcceptedOnL2 = "ACCEPTED_ON_L2"
	statusAcceptedOnL1 = "ACCEPTED_ON_L1"
	statusRejected     = "REJECTED"
)

const tagPending = "pending"

// codeBlockNotFound is the Starknet JSON-RPC error code for an unknown block.
const codeBlockNotFound = 24

// blockID is either a block tag or {"block_number": n}.
type blockID struct {
	Number uint64
	Tag    string
}

func numberID(n uint64) blockID {
	return blockID{Number: n}
}

func (b blockID) MarshalJSON() ([]byte, error) {
	if b.Tag != "" {
		return json.Marshal(b.Tag)
	}
	return json.Marshal(map[string]uint64{"block_number": b.Number})
}

// blockWithTxHashes is the subset of a block the stream needs. Pending blocks
// come without hash and number.
type blockWithTxHashes struct {
	Status       string          `json:"status"`
	BlockHash    *starknet.Felt  `json:"block_hash"`
	ParentHash   starknet.Felt   `json:"parent_hash"`
	BlockNumber  *uint64         `json:"block_number"`
	Timestamp    uint64          `json:"timestamp"`
	Transactions []starknet.Felt `json:"transactions"`
}

func (b *blockWithTxHashes) isPending() bool {
	return b.BlockHash == nil || b.Status == statusPending
}

func (b *blockWithTxHashes) finality() stream.Finality {
	switch {
	case b.isPending():
		return stream.FinalityPending
	case b.Status == statusAcceptedOnL1:
		return stream.FinalityFinalized
	default:
		return stream.FinalityAccepted
	}
}

// header builds the block header; number is used for pending blocks.
func (b *blockWithTxHashes) header(number uint64) stream.BlockHeader {
	h := stream.BlockHeader{
		Number:     number,
		ParentHash: b.ParentHash,
		Timestamp:  time.Unix(int64(b.Timestamp), 0).UTC(), //nolint:gosec
		Finality:   b.finality(),
	}
	if b.BlockNumber != nil {
		h.Number = *b.BlockNumber
	}
	if b.BlockHash != nil && !b.isPending() {
		h.Hash = *b.BlockHash
	}
	return h
}

func (b *blockWithTxHashes) txIndex() map[starknet.Felt]uint32 {
	idx := make(map[starknet.Felt]uint32, len(b.Transactions))
	for i, tx := range b.Transactions {
		idx[tx] = uint32(i) //nolint:gosec
	}
	return idx
}

// eventFilter is the parameter of starknet_getEvents.
type eventFilter struct {
	FromBlock         blockID           `json:"from_block"`
	ToBlock           blockID           `json:"to_block"`
	Address           *starknet.Felt    `json:"address,omitempty"`
	Keys              [][]starknet.Felt `json:"keys,omitempty"`
	ChunkSize         int               `json:"chunk_size"`
	ContinuationToken string            `json:"continuation_token,omitempty"`
}

type emittedEvent struct {
	FromAddress     starknet.Felt   `json:"from_address"`
	Keys            []starknet.Felt `json:"keys"`
	Data            []starknet.Felt `json:"data"`
	BlockHash       *starknet.Felt  `json:"block_hash,omitempty"`
	BlockNumber     *uint64         `json:"block_number,omitempty"`
	TransactionHash starknet.Felt   `json:"transaction_hash"`
}

type eventsChunk struct {
	Events            []emittedEvent `json:"events"`
	ContinuationToken string         `json:"continuation_token,omitempty"`
}
