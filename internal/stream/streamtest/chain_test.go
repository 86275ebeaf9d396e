package streamtest

import (
	"context"
	"testing"
	"time"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
	"github.com/stretchr/testify/require"
)

func TestChain_NextAndFork(t *testing.T) {
	c := NewChain(10)
	contract := starknet.FeltFromUint64(0xc)
	other := starknet.FeltFromUint64(0xd)

	b10 := c.Append()
	b11 := c.Append(
		stream.RawEvent{FromAddress: contract, Keys: []starknet.Felt{starknet.Selector("Transfer")}},
		stream.RawEvent{FromAddress: other, Keys: []starknet.Felt{starknet.Selector("Transfer")}},
	)
	require.Equal(t, b10.Hash, b11.ParentHash)

	ctx := context.Background()
	filters := []stream.EventFilter{{Address: contract}}

	first, err := c.Next(ctx, nil, filters)
	require.NoError(t, err)
	require.Equal(t, uint64(10), first.Cursor.OrderKey)

	second, err := c.Next(ctx, &first.Cursor, filters)
	require.NoError(t, err)
	require.Len(t, second.Events, 1)
	require.Equal(t, uint64(11), second.Events[0].BlockNumber)

	c.Fork(11)
	b11b := c.Append()
	require.NotEqual(t, b11.Hash, b11b.Hash)
	require.Equal(t, b10.Hash, b11b.ParentHash)

	h, err := c.HeaderByNumber(ctx, 11)
	require.NoError(t, err)
	require.Equal(t, b11b.Hash, h.Hash)
}

func TestChain_NextWaitsAndFails(t *testing.T) {
	c := NewChain(0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Append()
	}()
	b, err := c.Next(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0), b.Cursor.OrderKey)

	c.FailNext(1)
	_, err = c.Next(context.Background(), nil, nil)
	require.ErrorIs(t, err, ErrInjected)
	require.True(t, stream.IsStreamError(err))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Next(ctx, &b.Cursor, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
