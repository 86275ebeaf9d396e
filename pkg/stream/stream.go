package stream

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
)

// Cursor identifies a position in the chain: the block number (OrderKey) and the
// block hash (UniqueKey). A zero UniqueKey marks a pending block that has no hash yet.
type Cursor struct {
	OrderKey  uint64        `json:"order_key"`
	UniqueKey starknet.Felt `json:"unique_key"`
}

// IsPending reports whether the cursor points at a pending block.
func (c *Cursor) IsPending() bool {
	return c != nil && c.UniqueKey.IsZero()
}

func (c *Cursor) String() string {
	if c == nil {
		return "<start>"
	}
	if c.UniqueKey.IsZero() {
		return fmt.Sprintf("%d/pending", c.OrderKey)
	}
	return fmt.Sprintf("%d/%s", c.OrderKey, c.UniqueKey.Hex())
}

// BlockHeader carries what continuity checks need about a block.
type BlockHeader struct {
	Number     uint64        `json:"number"`
	Hash       starknet.Felt `json:"hash"`
	ParentHash starknet.Felt `json:"parent_hash"`
	Timestamp  time.Time     `json:"timestamp"`
	Finality   Finality      `json:"finality"`
}

// Cursor returns the cursor addressing this block.
func (h BlockHeader) Cursor() Cursor {
	return Cursor{OrderKey: h.Number, UniqueKey: h.Hash}
}

// RawEvent is an event exactly as emitted on chain.
type RawEvent struct {
	FromAddress      starknet.Felt   `json:"from_address"`
	Keys             []starknet.Felt `json:"keys"`
	Data             []starknet.Felt `json:"data"`
	TransactionHash  starknet.Felt   `json:"transaction_hash"`
	TransactionIndex uint32          `json:"transaction_index"`
	EventIndex       uint32          `json:"event_index"`
	BlockNumber      uint64          `json:"block_number"`
}

// Selector returns the first key, which identifies the event type.
func (e RawEvent) Selector() (starknet.Felt, bool) {
	if len(e.Keys) == 0 {
		return starknet.Felt{}, false
	}
	return e.Keys[0], true
}

// Batch is one block worth of filtered events.
type Batch struct {
	Cursor   Cursor      `json:"cursor"`
	Finality Finality    `json:"finality"`
	Header   BlockHeader `json:"header"`
	Events   []RawEvent  `json:"events"`
}

// EventFilter selects events by emitting contract and first key.
type EventFilter struct {
	Address   starknet.Felt
	Selectors []starknet.Felt
}

// Matches reports whether ev passes the filter. A zero address matches any
// contract and an empty selector list matches any event.
func (f EventFilter) Matches(ev RawEvent) bool {
	if !f.Address.IsZero() && f.Address != ev.FromAddress {
		return false
	}
	if len(f.Selectors) == 0 {
		return true
	}
	selector, ok := ev.Selector()
	return ok && slices.Contains(f.Selectors, selector)
}

// Client delivers batches in chain order. It is pull based: the caller passes the
// last committed cursor and gets the block after it, so resuming after a restart or
// a rollback is just a matter of passing the right cursor. Delivery is at least once.
type Client interface {
	// Next blocks until the batch following after is available.
	// A nil cursor starts at the configured starting block.
	// A pending cursor asks for the same block number again.
	Next(ctx context.Context, after *Cursor, filters []EventFilter) (*Batch, error)

	// HeaderByNumber returns the canonical header at the given height.
	HeaderByNumber(ctx context.Context, number uint64) (*BlockHeader, error)

	// Close releases the connection.
	Close()
}
