package stream

import (
	"testing"

	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/stretchr/testify/require"
)

func TestParseFinality(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Finality
		wantError bool
	}{
		{name: "pending", input: "pending", want: FinalityPending},
		{name: "accepted", input: "accepted", want: FinalityAccepted},
		{name: "finalized", input: "finalized", want: FinalityFinalized},
		{name: "ethereum tag", input: "safe", wantError: true},
		{name: "empty", input: "", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFinality(tt.input)
			if tt.wantError {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.True(t, got.IsValid())
		})
	}
}

func TestFinality_AtLeast(t *testing.T) {
	require.True(t, FinalityFinalized.AtLeast(FinalityAccepted))
	require.True(t, FinalityAccepted.AtLeast(FinalityAccepted))
	require.True(t, FinalityAccepted.AtLeast(FinalityPending))
	require.False(t, FinalityPending.AtLeast(FinalityAccepted))
	require.False(t, FinalityAccepted.AtLeast(FinalityFinalized))
	require.False(t, Finality("latest").AtLeast(FinalityPending))
}

func TestCursor(t *testing.T) {
	var nilCursor *Cursor
	require.Equal(t, "<start>", nilCursor.String())

	pending := &Cursor{OrderKey: 10}
	require.True(t, pending.IsPending())
	require.Equal(t, "10/pending", pending.String())
}

func TestEventFilter_Matches(t *testing.T) {
	lifeform := starknet.FeltFromUint64(0x11)
	transfer := starknet.Selector("Transfer")
	ev := RawEvent{FromAddress: lifeform, Keys: []starknet.Felt{transfer, starknet.FeltFromUint64(42)}}

	tests := []struct {
		name   string
		filter EventFilter
		ev     RawEvent
		want   bool
	}{
		{name: "address and selector", filter: EventFilter{Address: lifeform, Selectors: []starknet.Felt{transfer}}, ev: ev, want: true},
		{name: "any contract", filter: EventFilter{Selectors: []starknet.Felt{transfer}}, ev: ev, want: true},
		{name: "any event", filter: EventFilter{Address: lifeform}, ev: ev, want: true},
		{name: "other contract", filter: EventFilter{Address: starknet.FeltFromUint64(0x12)}, ev: ev},
		{name: "other selector", filter: EventFilter{Selectors: []starknet.Felt{starknet.Selector("Approval")}}, ev: ev},
		{name: "no keys", filter: EventFilter{Selectors: []starknet.Felt{transfer}}, ev: RawEvent{FromAddress: lifeform}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.filter.Matches(tt.ev))
		})
	}
}
