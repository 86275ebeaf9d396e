package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const dsnEnv = "STARKINDEXOR_TEST_PG_DSN"

func newTestGateway(t *testing.T, indexer string) *Gateway {
	t.Helper()

	dsn := os.Getenv(dsnEnv)
	if dsn == "" {
		t.Skipf("%s not set", dsnEnv)
	}

	schema, err := storage.NewSchema(
		storage.Table{
			Name:     "tokens",
			Kind:     storage.EntityTable,
			IDColumn: "token_id",
			Columns: []storage.Column{
				{Name: "owner", Type: storage.ColumnFelt},
				{Name: "alive", Type: storage.ColumnBool},
				{Name: "state", Type: storage.ColumnNumeric},
			},
		},
		storage.Table{
			Name:     "transfers",
			Kind:     storage.HistoryTable,
			IDColumn: "token_id",
			Columns:  []storage.Column{{Name: "kind", Type: storage.ColumnText}},
		},
	)
	require.NoError(t, err)

	ctx := context.Background()
	g, err := New(ctx, config.PostgresConfig{DSN: dsn}, indexer, schema, logger.NewNopLogger())
	require.NoError(t, err)

	reset := func() {
		tx, err := g.Begin(ctx)
		require.NoError(t, err)
		for _, tbl := range schema.Tables() {
			_, err := tx.DeleteByBlockRange(ctx, tbl.Name, 0)
			require.NoError(t, err)
		}
		_, err = tx.DeleteBlocksFrom(ctx, 0)
		require.NoError(t, err)
		require.NoError(t, tx.DeleteCursor(ctx))
		require.NoError(t, tx.Commit())
	}
	reset()
	t.Cleanup(func() {
		reset()
		require.NoError(t, g.Close())
	})
	return g
}

func TestTablePrefix(t *testing.T) {
	require.Equal(t, "lifeform_tokens_", TablePrefix("LifeForm Tokens"))
	require.Equal(t, "i_1st_", TablePrefix("1st"))
}

func TestGateway_RoundTrip(t *testing.T) {
	g := newTestGateway(t, "pg-test")
	ctx := context.Background()
	owner := starknet.FeltFromUint64(0xaa)
	big := decimal.RequireFromString("115792089237316195423570985008687907853269984665640564039457584007913129639935")

	tx, err := g.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpsertEntity(ctx, "tokens", "42", 7, storage.Fields{"owner": owner, "alive": true, "state": big}))
	inserted, err := tx.InsertHistoryIfAbsent(ctx, "transfers",
		storage.HistoryKey{EntityID: "42", TxHash: starknet.FeltFromUint64(1)}, 7, storage.Fields{"kind": "mint"})
	require.NoError(t, err)
	require.True(t, inserted)
	require.NoError(t, tx.RecordBlock(ctx, stream.BlockHeader{Number: 7, Hash: starknet.FeltFromUint64(7)}))
	require.NoError(t, tx.WriteCursor(ctx, storage.Checkpoint{
		Cursor:   stream.Cursor{OrderKey: 7, UniqueKey: starknet.FeltFromUint64(7)},
		Finality: stream.FinalityAccepted,
	}))
	require.NoError(t, tx.Commit())

	got, err := g.GetEntity(ctx, "tokens", "42")
	require.NoError(t, err)
	require.Equal(t, owner, got.Felt("owner"))
	require.True(t, got.Bool("alive"))
	require.True(t, big.Equal(got.Decimal("state")))

	rows, total, err := g.ListEntities(ctx, "tokens", storage.Query{Filters: storage.Fields{"owner": owner}})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, rows, 1)

	cp, err := g.ReadCursor(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(7), cp.Cursor.OrderKey)
	require.Equal(t, "pg-test", cp.Indexer)
}
