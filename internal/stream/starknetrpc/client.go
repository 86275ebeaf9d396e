// Package starknetrpc implements stream.Client on top of a Starknet JSON-RPC node.
package starknetrpc

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/goran-ethernal/StarkIndexor/internal/common"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
)

var _ stream.Client = (*Client)(nil)

var errBlockNotFound = errors.New("block not found")

// Client polls a Starknet node and delivers one block per Next call.
type Client struct {
	rpc *rpc.Client
	cfg config.StreamConfig

	finality      stream.Finality
	startingBlock uint64
	log           *logger.Logger
}

// NewClient connects to cfg.RPCURL. Next starts at startingBlock when called
// without a cursor.
func NewClient(ctx context.Context, cfg config.StreamConfig, startingBlock uint64, log *logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stream config: %w", err)
	}

	finality, err := stream.ParseFinality(cfg.Finality)
	if err != nil {
		return nil, err
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", cfg.RPCURL, err)
	}

	return &Client{
		rpc:           rpcClient,
		cfg:           cfg,
		finality:      finality,
		startingBlock: startingBlock,
		log:           log.WithComponent(common.ComponentStream),
	}, nil
}

// Close closes the RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// Next returns the block after the cursor, waiting for it to reach the
// configured finality.
func (c *Client) Next(ctx context.Context, after *stream.Cursor, filters []stream.EventFilter) (*stream.Batch, error) {
	target := c.startingBlock
	if after != nil {
		target = after.OrderKey
		if !after.IsPending() {
			target++
		}
	}

	for {
		batch, err := c.tryBlock(ctx, target, filters)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if batch != nil {
			return batch, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.cfg.PollInterval.Duration):
		}
	}
}

// HeaderByNumber returns the header of block n as the node currently sees it.
func (c *Client) HeaderByNumber(ctx context.Context, number uint64) (*stream.BlockHeader, error) {
	block, err := c.block(ctx, numberID(number))
	if err != nil {
		return nil, stream.NewStreamError("header", fmt.Errorf("block %d: %w", number, err))
	}
	header := block.header(number)
	return &header, nil
}

// tryBlock returns nil without error when the block is not available yet.
func (c *Client) tryBlock(ctx context.Context, number uint64, filters []stream.EventFilter) (*stream.Batch, error) {
	head, err := c.blockNumber(ctx)
	if err != nil {
		return nil, stream.NewStreamError("head", err)
	}
	headBlock.Set(float64(head))

	if number > head {
		if c.finality == stream.FinalityPending && number == head+1 {
			return c.tryPending(ctx, number, filters)
		}
		return nil, nil
	}

	block, err := c.block(ctx, numberID(number))
	if errors.Is(err, errBlockNotFound) {
		c.log.Debugf("block %d not found below head %d, waiting", number, head)
		return nil, nil
	}
	if err != nil {
		return nil, stream.NewStreamError("block", fmt.Errorf("block %d: %w", number, err))
	}
	if block.Status == statusRejected {
		return nil, nil
	}

	header := block.header(number)
	if !header.Finality.AtLeast(c.finality) {
		c.log.Debugf("block %d is %s, waiting for %s", number, header.Finality, c.finality)
		return nil, nil
	}

	events, err := c.events(ctx, numberID(number), number, filters, block.txIndex())
	if err != nil {
		return nil, stream.NewStreamError("events", fmt.Errorf("block %d: %w", number, err))
	}

	return &stream.Batch{
		Cursor:   header.Cursor(),
		Finality: header.Finality,
		Header:   header,
		Events:   events,
	}, nil
}

func (c *Client) tryPending(ctx context.Context, number uint64, filters []stream.EventFilter) (*stream.Batch, error) {
	pending := blockID{Tag: tagPending}

	block, err := c.block(ctx, pending)
	if errors.Is(err, errBlockNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, stream.NewStreamError("pending", err)
	}
	if !block.isPending() {
		return nil, nil
	}

	events, err := c.events(ctx, pending, number, filters, block.txIndex())
	if err != nil {
		return nil, stream.NewStreamError("events", fmt.Errorf("pending block %d: %w", number, err))
	}

	// The head may have moved while the pending block was being read.
	head, err := c.blockNumber(ctx)
	if err != nil {
		return nil, stream.NewStreamError("head", err)
	}
	if head+1 != number {
		return nil, nil
	}

	header := block.header(number)
	return &stream.Batch{
		Cursor:   header.Cursor(),
		Finality: stream.FinalityPending,
		Header:   header,
		Events:   events,
	}, nil
}

// events collects the events of one block that match any filter, in chain order.
// EventIndex is the position in the returned sequence. Separate getEvents queries
// cannot be merged back into chain order inside a transaction, so several filters
// share one query over the union of their selectors and are matched locally.
func (c *Client) events(
	ctx context.Context,
	id blockID,
	number uint64,
	filters []stream.EventFilter,
	txIndex map[starknet.Felt]uint32,
) ([]stream.RawEvent, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	req := eventFilter{
		FromBlock: id,
		ToBlock:   id,
		ChunkSize: c.cfg.EventsChunkSize,
	}
	req.Address, req.Keys = nodeQuery(filters)

	var out []stream.RawEvent
	for {
		var chunk eventsChunk
		if err := c.call(ctx, &chunk, "starknet_getEvents", req); err != nil {
			return nil, err
		}

		for _, ev := range chunk.Events {
			idx, ok := txIndex[ev.TransactionHash]
			if !ok {
				return nil, fmt.Errorf("event of unknown transaction %s", ev.TransactionHash.Hex())
			}
			raw := stream.RawEvent{
				FromAddress:      ev.FromAddress,
				Keys:             ev.Keys,
				Data:             ev.Data,
				TransactionHash:  ev.TransactionHash,
				TransactionIndex: idx,
				BlockNumber:      number,
			}
			if matchesAny(filters, raw) {
				out = append(out, raw)
			}
		}

		if chunk.ContinuationToken == "" {
			break
		}
		req.ContinuationToken = chunk.ContinuationToken
	}

	// nodes return chain order; the sort only guards against transactions out of order
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TransactionIndex < out[j].TransactionIndex
	})
	for i := range out {
		out[i].EventIndex = uint32(i) //nolint:gosec
	}

	return out, nil
}

// nodeQuery narrows getEvents as far as every filter allows. A single filter is
// pushed down whole; several filters only share their selectors, and a filter
// without selectors means the whole block is read.
func nodeQuery(filters []stream.EventFilter) (*starknet.Felt, [][]starknet.Felt) {
	if len(filters) == 1 {
		f := filters[0]
		var address *starknet.Felt
		if !f.Address.IsZero() {
			addr := f.Address
			address = &addr
		}
		if len(f.Selectors) == 0 {
			return address, nil
		}
		return address, [][]starknet.Felt{f.Selectors}
	}

	var selectors []starknet.Felt
	for _, f := range filters {
		if len(f.Selectors) == 0 {
			return nil, nil
		}
		for _, s := range f.Selectors {
			if !slices.Contains(selectors, s) {
				selectors = append(selectors, s)
			}
		}
	}
	return nil, [][]starknet.Felt{selectors}
}

func matchesAny(filters []stream.EventFilter, ev stream.RawEvent) bool {
	for _, f := range filters {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}

func (c *Client) blockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	if err := c.call(ctx, &head, "starknet_blockNumber"); err != nil {
		return 0, err
	}
	return head, nil
}

func (c *Client) block(ctx context.Context, id blockID) (*blockWithTxHashes, error) {
	var block blockWithTxHashes
	if err := c.call(ctx, &block, "starknet_getBlockWithTxHashes", id); err != nil {
		if isBlockNotFound(err) {
			return nil, errBlockNotFound
		}
		return nil, err
	}
	return &block, nil
}

// call performs one JSON-RPC request with timeout, retries and metrics.
func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	return retryWithBackoff(ctx, c.cfg.Retry, method, func() error {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout.Duration)
		defer cancel()

		rpcMethodInc(method)
		start := time.Now()
		err := c.rpc.CallContext(callCtx, result, method, args...)
		rpcMethodDuration(method, time.Since(start))

		if err != nil {
			rpcMethodError(method, errorType(err))
		}
		return err
	})
}

func isBlockNotFound(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeBlockNotFound
}

func errorType(err error) string {
	var rpcErr rpc.Error
	switch {
	case errors.As(err, &rpcErr):
		return fmt.Sprintf("rpc_%d", rpcErr.ErrorCode())
	case retryableError(err):
		return "transient"
	default:
		return "other"
	}
}
