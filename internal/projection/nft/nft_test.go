package nft

import (
	"context"
	"math/big"
	"testing"

	"github.com/goran-ethernal/StarkIndexor/internal/decoder"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/indexer"
	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const lifeformAddress = "0x00f92d3789e679e4ac8e94472ec6a67a63b99d042f772a0227b0d6bd241096c2"

// memView records what a projection writes.
type memView struct {
	entities map[string]storage.Fields
	history  map[string][]storage.Fields
}

func newMemView() *memView {
	return &memView{entities: map[string]storage.Fields{}, history: map[string][]storage.Fields{}}
}

func (v *memView) Entity(_ context.Context, table, id string) (storage.Fields, bool, error) {
	f, ok := v.entities[table+"/"+id]
	return f.Clone(), ok, nil
}

func (v *memView) SetEntity(_ context.Context, table, id string, changes storage.Fields) error {
	key := table + "/" + id
	v.entities[key] = v.entities[key].Merge(changes)
	return nil
}

func (v *memView) AppendHistory(_ context.Context, table, id string, meta decoder.Meta, fields storage.Fields) error {
	row := fields.Clone()
	row["token_id"] = id
	row["event_index"] = meta.EventIndex
	v.history[table] = append(v.history[table], row)
	return nil
}

func lifeformConfig() config.IndexerConfig {
	return config.IndexerConfig{
		Name:          "lifeform_tokens",
		Type:          TypeLifeForm,
		StartingBlock: 635900,
		Contracts:     []config.ContractConfig{{Address: lifeformAddress}},
	}
}

func TestRegistry(t *testing.T) {
	require.NotNil(t, indexer.GetFactory("LifeForm"))
	require.NotNil(t, indexer.GetFactory("erc721"))

	p, err := indexer.Create("lifeform", lifeformConfig(), logger.NewNopLogger())
	require.NoError(t, err)
	require.Equal(t, "lifeform_tokens", p.GetName())
	require.Equal(t, uint64(635900), p.StartBlock())
	require.Equal(t, LifeFormTokens, p.EntityTable())
	require.Len(t, p.Tables().Tables(), 3)
}

func TestBuildFilters(t *testing.T) {
	schemas := []decoder.Schema{decoder.NewLifeFormSchema(), decoder.TransferSchema()}

	filters, err := buildFilters([]config.ContractConfig{
		{Address: lifeformAddress},
		{Address: "0x1", Events: []string{"transfer"}},
	}, schemas)
	require.NoError(t, err)
	require.Len(t, filters, 2)
	require.Equal(t, starknet.MustFeltFromHex(lifeformAddress), filters[0].Address)
	require.Len(t, filters[0].Selectors, 2)
	require.Equal(t, []starknet.Felt{starknet.Selector("Transfer")}, filters[1].Selectors)

	merged, err := buildFilters([]config.ContractConfig{
		{Address: "0x1", Events: []string{"transfer"}},
		{Address: "0x01", Events: []string{"NewLifeForm", "Transfer"}},
	}, schemas)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	require.Equal(t, []starknet.Felt{starknet.Selector("Transfer"), starknet.Selector("NewLifeForm")}, merged[0].Selectors)

	_, err = buildFilters([]config.ContractConfig{{Address: "0x1", Events: []string{"Burn"}}}, schemas)
	require.ErrorContains(t, err, `event "Burn" is not handled`)

	_, err = buildFilters([]config.ContractConfig{{Address: "not-hex"}}, schemas)
	require.ErrorContains(t, err, "invalid contract address")
}

func TestLifeForm_MintThenTransfer(t *testing.T) {
	p, err := NewLifeForm(lifeformConfig(), logger.NewNopLogger())
	require.NoError(t, err)

	aa, bb := starknet.FeltFromUint64(0xaa), starknet.FeltFromUint64(0xbb)
	tx := starknet.FeltFromUint64(0x1234)
	ctx := context.Background()
	view := newMemView()

	created := &decoder.LifeFormCreated{
		Meta:    decoder.Meta{TxHash: tx, EventIndex: 0, BlockNumber: 100},
		Owner:   aa,
		TokenID: big.NewInt(42),
		Data: decoder.LifeFormData{
			IsAlive: true, SequenceLength: 3, CurrentState: big.NewInt(7), Age: 1,
		},
	}
	transfer := &decoder.Transfer{
		Meta:    decoder.Meta{TxHash: tx, EventIndex: 1, BlockNumber: 100},
		From:    aa,
		To:      bb,
		TokenID: big.NewInt(42),
	}

	require.NoError(t, p.Apply(ctx, view, created))
	require.NoError(t, p.Apply(ctx, view, transfer))

	token := view.entities[LifeFormTokens+"/42"]
	require.Equal(t, bb, token.Felt("owner"))
	require.True(t, token.Bool("is_alive"))
	require.Equal(t, int64(3), token.Int("sequence_length"))
	require.True(t, decimal.NewFromInt(7).Equal(token.Decimal("current_state")))
	require.Equal(t, int64(100), token.Int("created_block"))
	require.Equal(t, tx, token.Felt("created_tx"))

	rows := view.history[LifeFormTransfers]
	require.Len(t, rows, 2)
	require.Equal(t, KindMint, rows[0]["kind"])
	require.Equal(t, starknet.ZeroFelt, rows[0]["from_address"])
	require.Equal(t, aa, rows[0]["to_address"])
	require.Equal(t, KindTransfer, rows[1]["kind"])
	require.Equal(t, bb, rows[1]["to_address"])
}

func TestLifeForm_MintTransferDoesNotDuplicateHistory(t *testing.T) {
	p, err := NewLifeForm(lifeformConfig(), logger.NewNopLogger())
	require.NoError(t, err)

	view := newMemView()
	mint := &decoder.Transfer{To: starknet.FeltFromUint64(0xaa), TokenID: big.NewInt(1)}
	require.NoError(t, p.Apply(context.Background(), view, mint))

	require.Empty(t, view.history[LifeFormTransfers])
	require.Equal(t, starknet.FeltFromUint64(0xaa), view.entities[LifeFormTokens+"/1"].Felt("owner"))
}

func TestERC721(t *testing.T) {
	cfg := lifeformConfig()
	cfg.Type = TypeERC721
	p, err := NewERC721(cfg, logger.NewNopLogger())
	require.NoError(t, err)
	require.Len(t, p.Schemas(), 2)

	ctx := context.Background()
	view := newMemView()
	aa, bb := starknet.FeltFromUint64(0xaa), starknet.FeltFromUint64(0xbb)

	require.NoError(t, p.Apply(ctx, view, &decoder.Transfer{
		Meta: decoder.Meta{BlockNumber: 5}, To: aa, TokenID: big.NewInt(9),
	}))
	require.NoError(t, p.Apply(ctx, view, &decoder.Transfer{
		Meta: decoder.Meta{BlockNumber: 6, EventIndex: 1}, From: aa, To: bb, TokenID: big.NewInt(9),
	}))
	require.NoError(t, p.Apply(ctx, view, &decoder.Approval{
		Meta: decoder.Meta{BlockNumber: 6, EventIndex: 2}, Owner: bb, Approved: aa, TokenID: big.NewInt(9),
	}))
	require.NoError(t, p.Apply(ctx, view, &decoder.Unknown{}))

	token := view.entities[ERC721Tokens+"/9"]
	require.Equal(t, bb, token.Felt("owner"))
	require.Equal(t, int64(5), token.Int("created_block"))

	rows := view.history[ERC721Transfers]
	require.Len(t, rows, 2)
	require.Equal(t, KindMint, rows[0]["kind"])
	require.Equal(t, KindTransfer, rows[1]["kind"])
	require.Len(t, view.history[ERC721Approvals], 1)
}

func TestERC721_TokensAreScopedPerContract(t *testing.T) {
	contractA, contractB := starknet.FeltFromUint64(0xa), starknet.FeltFromUint64(0xb)
	aa, bb := starknet.FeltFromUint64(0xaa), starknet.FeltFromUint64(0xbb)

	testCases := []struct {
		name      string
		contracts []config.ContractConfig
		wantKeys  []string
	}{
		{
			name:      "single contract",
			contracts: []config.ContractConfig{{Address: "0xa"}},
			wantKeys:  []string{"1"},
		},
		{
			name:      "same contract listed twice",
			contracts: []config.ContractConfig{{Address: "0xa"}, {Address: "0x0a", Events: []string{"Transfer"}}},
			wantKeys:  []string{"1"},
		},
		{
			name:      "two contracts",
			contracts: []config.ContractConfig{{Address: "0xa"}, {Address: "0xb"}},
			wantKeys:  []string{ScopedTokenKey(contractA, big.NewInt(1)), ScopedTokenKey(contractB, big.NewInt(1))},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.IndexerConfig{Name: "nft", Type: TypeERC721, Contracts: tc.contracts}
			p, err := NewERC721(cfg, logger.NewNopLogger())
			require.NoError(t, err)

			view := newMemView()
			ctx := context.Background()
			require.NoError(t, p.Apply(ctx, view, &decoder.Transfer{
				Meta: decoder.Meta{Contract: contractA, BlockNumber: 1}, To: aa, TokenID: big.NewInt(1),
			}))
			if len(tc.wantKeys) == 1 {
				require.Len(t, view.entities, 1)
				require.Equal(t, aa, view.entities[ERC721Tokens+"/"+tc.wantKeys[0]].Felt("owner"))
				return
			}

			require.NoError(t, p.Apply(ctx, view, &decoder.Transfer{
				Meta: decoder.Meta{Contract: contractB, BlockNumber: 1, EventIndex: 1}, To: bb, TokenID: big.NewInt(1),
			}))
			require.Len(t, view.entities, 2)
			require.Equal(t, aa, view.entities[ERC721Tokens+"/"+tc.wantKeys[0]].Felt("owner"))
			require.Equal(t, bb, view.entities[ERC721Tokens+"/"+tc.wantKeys[1]].Felt("owner"))
			require.Len(t, view.history[ERC721Transfers], 2)
		})
	}
}

func TestTokenKey(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	require.Equal(t, huge.String(), TokenKey(huge))
	require.Equal(t, "42", TokenKey(big.NewInt(42)))
	require.Equal(t, "0", TokenKey(nil))
	require.Equal(t,
		"0x000000000000000000000000000000000000000000000000000000000000000a:42",
		ScopedTokenKey(starknet.FeltFromUint64(0xa), big.NewInt(42)))
}
