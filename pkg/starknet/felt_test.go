package starknet

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelector(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "NewLifeForm", want: "0x11f46882e19ad05d3762feda18b95af02b4d04ff264658de9665ede8f823262"},
		{name: "Transfer", want: "0x99cd8bde557814842a3121e8ddfd433a539b8c9f14bf31ebf108d12e6196e9"},
		{name: "Approval", want: "0x134692b230b9e1ffa39098904722134159652b09c5bc41d88d6698779d228ff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Selector(tt.name).Hex())
		})
	}
}

func TestFeltFromHex(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "short", input: "0x1a", want: "0x1a"},
		{name: "leading zeros", input: "0x00f92d37", want: "0xf92d37"},
		{name: "zero", input: "0x0", want: "0x0"},
		{name: "no prefix", input: "ff", want: "0xff"},
		{name: "empty", input: "0x", wantErr: true},
		{name: "not hex", input: "0xzz", wantErr: true},
		{
			name:    "above field prime",
			input:   "0x800000000000011000000000000000000000000000000000000000000000001",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := FeltFromHex(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, f.Hex())
		})
	}
}

func TestFelt_JSONAndSQL(t *testing.T) {
	var decoded struct {
		Keys []Felt `json:"keys"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"keys":["0x1","0xabc"]}`), &decoded))
	require.Equal(t, []Felt{FeltFromUint64(1), FeltFromUint64(0xabc)}, decoded.Keys)

	encoded, err := json.Marshal(FeltFromUint64(255))
	require.NoError(t, err)
	require.JSONEq(t, `"0xff"`, string(encoded))

	v, err := FeltFromUint64(42).Value()
	require.NoError(t, err)
	require.Equal(t, "0x000000000000000000000000000000000000000000000000000000000000002a", v)

	var scanned Felt
	require.NoError(t, scanned.Scan(v))
	require.Equal(t, FeltFromUint64(42), scanned)
	require.Equal(t, big.NewInt(42), scanned.Big())
}
