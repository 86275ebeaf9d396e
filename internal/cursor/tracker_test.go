package cursor

import (
	"context"
	"errors"
	"testing"

	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
	"github.com/stretchr/testify/require"
)

// header builds a block whose hash is derived from (number, fork).
func header(number uint64, fork byte, parent stream.BlockHeader) stream.BlockHeader {
	return stream.BlockHeader{
		Number:     number,
		Hash:       hashOf(number, fork),
		ParentHash: parent.Hash,
		Finality:   stream.FinalityAccepted,
	}
}

func hashOf(number uint64, fork byte) starknet.Felt {
	return starknet.FeltFromUint64(number<<8 | uint64(fork))
}

type headerSource map[uint64]stream.BlockHeader

func (s headerSource) HeaderByNumber(_ context.Context, n uint64) (*stream.BlockHeader, error) {
	h, ok := s[n]
	if !ok {
		return nil, errors.New("unknown block")
	}
	return &h, nil
}

func newLoadedTracker(t *testing.T, window uint64) *Tracker {
	t.Helper()
	tr := NewTracker("test", window, logger.NewNopLogger())
	tr.Load(nil, nil)
	return tr
}

func TestTracker_AdvanceBeforeLoad(t *testing.T) {
	tr := NewTracker("test", 10, logger.NewNopLogger())
	require.Equal(t, StateUninitialized, tr.State())

	v := tr.Advance(header(1, 'a', stream.BlockHeader{}))
	require.Equal(t, Reject, v.Kind)
	require.Error(t, v.Err())
}

func TestTracker_Advance(t *testing.T) {
	a := header(1, 'a', stream.BlockHeader{})
	b := header(2, 'a', a)
	c := header(3, 'a', b)

	tests := []struct {
		name     string
		incoming stream.BlockHeader
		want     VerdictKind
		from     uint64
		state    State
	}{
		{name: "next block", incoming: header(4, 'a', c), want: Accept, from: 4, state: StateSynced},
		{name: "redelivery of head", incoming: c, want: Replace, from: 3, state: StateReorgDetected},
		{name: "replacement of head on same parent", incoming: header(3, 'x', b), want: Replace, from: 3, state: StateReorgDetected},
		{name: "rewind to earlier block", incoming: b, want: Replace, from: 2, state: StateReorgDetected},
		{name: "parent mismatch on next block", incoming: header(4, 'x', header(3, 'x', b)), want: Reorg, from: 3, state: StateReorgDetected},
		{name: "parent mismatch below head", incoming: header(3, 'x', header(2, 'x', a)), want: Reorg, from: 2, state: StateReorgDetected},
		{name: "gap", incoming: header(6, 'a', stream.BlockHeader{}), want: Reject, from: 6, state: StateSynced},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newLoadedTracker(t, 10)
			for _, h := range []stream.BlockHeader{a, b, c} {
				require.Equal(t, Accept, tr.Advance(h).Kind)
				tr.Commit(h)
			}

			v := tr.Advance(tt.incoming)
			require.Equal(t, tt.want, v.Kind, v.Reason)
			require.Equal(t, tt.from, v.FromBlock)
			require.Equal(t, tt.state, tr.State())

			// Advance never moves the committed cursor
			require.Equal(t, c.Cursor(), *tr.Current())
		})
	}
}

func TestTracker_FirstBlockAccepted(t *testing.T) {
	tr := newLoadedTracker(t, 10)
	require.Nil(t, tr.Current())

	v := tr.Advance(header(635900, 'a', header(635899, 'z', stream.BlockHeader{})))
	require.Equal(t, Accept, v.Kind)
	require.NoError(t, v.Err())
}

func TestTracker_PendingBlockIsRefetched(t *testing.T) {
	tr := newLoadedTracker(t, 10)
	a := header(1, 'a', stream.BlockHeader{})
	tr.Commit(a)

	pending := stream.BlockHeader{Number: 2, ParentHash: a.Hash, Finality: stream.FinalityPending}
	require.Equal(t, Accept, tr.Advance(pending).Kind)
	tr.Commit(pending)
	require.True(t, tr.Current().IsPending())

	accepted := header(2, 'a', a)
	v := tr.Advance(accepted)
	require.Equal(t, Replace, v.Kind)
	require.Equal(t, uint64(2), v.FromBlock)
	tr.Commit(accepted)

	// the pending header has no hash, so the next block's parent is checked against the accepted one
	require.Equal(t, Accept, tr.Advance(header(3, 'a', accepted)).Kind)
}

func TestTracker_LoadFromCheckpoint(t *testing.T) {
	a := header(10, 'a', stream.BlockHeader{})
	b := header(11, 'a', a)

	tr := NewTracker("test", 10, logger.NewNopLogger())
	tr.Load(&storage.Checkpoint{Indexer: "test", Cursor: b.Cursor()}, nil)

	// without tracked blocks the checkpoint hash still guards the next parent
	require.Equal(t, Accept, tr.Advance(header(12, 'a', b)).Kind)
	require.Equal(t, Reorg, tr.Advance(header(12, 'x', header(11, 'x', a))).Kind)
}

func TestTracker_ResolveAncestor(t *testing.T) {
	a := header(1, 'a', stream.BlockHeader{})
	b := header(2, 'a', a)
	c := header(3, 'a', b)

	b2 := header(2, 'b', a)
	c2 := header(3, 'b', b2)
	d2 := header(4, 'b', c2)

	tr := newLoadedTracker(t, 10)
	for _, h := range []stream.BlockHeader{a, b, c} {
		tr.Commit(h)
	}

	v := tr.Advance(d2)
	require.Equal(t, Reorg, v.Kind)

	ancestor, err := tr.ResolveAncestor(context.Background(), headerSource{1: a, 2: b2, 3: c2, 4: d2})
	require.NoError(t, err)
	require.Equal(t, a, ancestor)

	tr.Reset(&ancestor)
	require.Equal(t, StateSynced, tr.State())
	require.Equal(t, a.Cursor(), *tr.Current())

	// the fork is now applied block by block on top of the ancestor
	require.Equal(t, Accept, tr.Advance(b2).Kind)
	tr.Commit(b2)
	require.Equal(t, Accept, tr.Advance(c2).Kind)
}

func TestTracker_ResolveAncestorOutsideWindow(t *testing.T) {
	tr := newLoadedTracker(t, 2)

	prev := stream.BlockHeader{}
	for n := uint64(1); n <= 5; n++ {
		h := header(n, 'a', prev)
		tr.Commit(h)
		prev = h
	}

	// only blocks 4 and 5 are tracked, and both were replaced
	src := headerSource{4: header(4, 'b', stream.BlockHeader{}), 5: header(5, 'b', stream.BlockHeader{})}
	_, err := tr.ResolveAncestor(context.Background(), src)
	require.ErrorIs(t, err, ErrAncestorNotFound)
}

func TestTracker_ResetToStart(t *testing.T) {
	tr := newLoadedTracker(t, 4)
	tr.Commit(header(1, 'a', stream.BlockHeader{}))

	tr.Reset(nil)
	require.Nil(t, tr.Current())
	require.Equal(t, Accept, tr.Advance(header(100, 'a', stream.BlockHeader{})).Kind)
}

func TestPruneBelow(t *testing.T) {
	require.Equal(t, uint64(0), PruneBelow(3, 10))
	require.Equal(t, uint64(91), PruneBelow(100, 10))
	require.Equal(t, uint64(100), PruneBelow(100, 1))
}
