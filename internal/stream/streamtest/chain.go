// Package streamtest provides an in-memory chain that implements stream.Client.
package streamtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

// ErrInjected is wrapped in the stream errors returned after FailNext.
var ErrInjected = errors.New("injected stream failure")

var _ stream.Client = (*Chain)(nil)

type block struct {
	header stream.BlockHeader
	events []stream.RawEvent
}

// Chain is a scripted chain. Blocks are appended or forked by the test and
// delivered through Next exactly like a node would.
type Chain struct {
	mu            sync.Mutex
	blocks        []block
	startingBlock uint64
	fork          uint64
	failNext      int
	changed       chan struct{}
	closed        bool
	delivered     int
}

// NewChain creates an empty chain whose first block has number startingBlock.
func NewChain(startingBlock uint64) *Chain {
	return &Chain{
		startingBlock: startingBlock,
		changed:       make(chan struct{}),
	}
}

// Append adds a block on top of the chain. Events get the block number and their
// position as event index.
func (c *Chain) Append(events ...stream.RawEvent) stream.BlockHeader {
	c.mu.Lock()
	defer c.mu.Unlock()

	number := c.startingBlock + uint64(len(c.blocks))
	h := stream.BlockHeader{
		Number:    number,
		Hash:      c.hash(number),
		Timestamp: time.Unix(int64(1700000000+number), 0).UTC(), //nolint:gosec
		Finality:  stream.FinalityAccepted,
	}
	if len(c.blocks) > 0 {
		h.ParentHash = c.blocks[len(c.blocks)-1].header.Hash
	}

	evs := make([]stream.RawEvent, len(events))
	for i, ev := range events {
		ev.BlockNumber = number
		ev.EventIndex = uint32(i) //nolint:gosec
		evs[i] = ev
	}

	c.blocks = append(c.blocks, block{header: h, events: evs})
	c.notify()
	return h
}

// Fork drops every block from number upward. Blocks appended afterwards get
// hashes that differ from the dropped ones.
func (c *Chain) Fork(number uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if number < c.startingBlock {
		number = c.startingBlock
	}
	if keep := number - c.startingBlock; keep < uint64(len(c.blocks)) {
		c.blocks = c.blocks[:keep]
	}
	c.fork++
	c.notify()
}

// FailNext makes the next n calls to Next or HeaderByNumber fail with a stream error.
func (c *Chain) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = n
}

// Head returns the header of the newest block.
func (c *Chain) Head() (stream.BlockHeader, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.blocks) == 0 {
		return stream.BlockHeader{}, false
	}
	return c.blocks[len(c.blocks)-1].header, true
}

// Delivered returns how many batches Next has returned.
func (c *Chain) Delivered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delivered
}

// Next blocks until the block after the cursor exists.
func (c *Chain) Next(ctx context.Context, after *stream.Cursor, filters []stream.EventFilter) (*stream.Batch, error) {
	target := c.startingBlock
	if after != nil {
		target = after.OrderKey
		if !after.IsPending() {
			target++
		}
	}

	for {
		c.mu.Lock()
		if err := c.injected("next"); err != nil {
			c.mu.Unlock()
			return nil, err
		}
		if c.closed {
			c.mu.Unlock()
			return nil, stream.NewStreamError("next", errors.New("chain closed"))
		}

		if b, ok := c.at(target); ok {
			c.delivered++
			c.mu.Unlock()
			return &stream.Batch{
				Cursor:   b.header.Cursor(),
				Finality: b.header.Finality,
				Header:   b.header,
				Events:   filter(b.events, filters),
			}, nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-changed:
		}
	}
}

// HeaderByNumber returns the current header at number.
func (c *Chain) HeaderByNumber(_ context.Context, number uint64) (*stream.BlockHeader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.injected("header"); err != nil {
		return nil, err
	}
	b, ok := c.at(number)
	if !ok {
		return nil, stream.NewStreamError("header", fmt.Errorf("block %d not found", number))
	}
	h := b.header
	return &h, nil
}

// Close wakes up pending Next calls, which then fail.
func (c *Chain) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.notify()
}

func (c *Chain) at(number uint64) (block, bool) {
	if number < c.startingBlock || number-c.startingBlock >= uint64(len(c.blocks)) {
		return block{}, false
	}
	return c.blocks[number-c.startingBlock], true
}

func (c *Chain) injected(op string) error {
	if c.failNext == 0 {
		return nil
	}
	c.failNext--
	return stream.NewStreamError(op, ErrInjected)
}

func (c *Chain) hash(number uint64) starknet.Felt {
	return starknet.FeltFromUint64(c.fork<<40 | (number + 1))
}

func (c *Chain) notify() {
	close(c.changed)
	c.changed = make(chan struct{})
}

func filter(events []stream.RawEvent, filters []stream.EventFilter) []stream.RawEvent {
	if len(filters) == 0 {
		return append([]stream.RawEvent(nil), events...)
	}

	var out []stream.RawEvent
	for _, ev := range events {
		for _, f := range filters {
			if matches(ev, f) {
				out = append(out, ev)
				break
			}
		}
	}
	return out
}

func matches(ev stream.RawEvent, f stream.EventFilter) bool {
	if !f.Address.IsZero() && f.Address != ev.FromAddress {
		return false
	}
	if len(f.Selectors) == 0 {
		return true
	}
	sel, ok := ev.Selector()
	if !ok {
		return false
	}
	for _, s := range f.Selectors {
		if s == sel {
			return true
		}
	}
	return false
}
