package indexer

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/internal/projection/nft"
	"github.com/goran-ethernal/StarkIndexor/internal/stream/streamtest"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
	"github.com/stretchr/testify/require"
)

func coordinatorConfig(t *testing.T, names ...string) *config.Config {
	t.Helper()

	cfg := &config.Config{Stream: config.StreamConfig{RPCURL: "http://localhost:5050"}}
	for _, name := range names {
		cfg.Indexers = append(cfg.Indexers, config.IndexerConfig{
			Name:          name,
			Type:          nft.TypeLifeForm,
			StartingBlock: 100,
			Contracts:     []config.ContractConfig{{Address: contract.Hex()}},
			Storage: config.StorageConfig{
				SQLite: &config.DatabaseConfig{Path: filepath.Join(t.TempDir(), name+".sqlite")},
			},
		})
	}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestCoordinator_RunsIndexersInIsolation(t *testing.T) {
	cfg := coordinatorConfig(t, "first", "second")

	chains := map[uint64]*streamtest.Chain{}
	factory := func(_ context.Context, _ config.StreamConfig, startingBlock uint64, _ *logger.Logger) (stream.Client, error) {
		c := streamtest.NewChain(startingBlock)
		c.Append(created(t, 0x1, 3, ownerAA))
		c.Append(transfer(t, 0x2, 3, ownerAA, ownerBB))
		chains[uint64(len(chains))] = c
		return c, nil
	}

	sink := &recordingSink{}
	c, err := NewCoordinator(context.Background(), cfg, logger.NewNopLogger(),
		WithClientFactory(factory), WithSink(sink))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })

	require.Len(t, chains, 2)
	require.Len(t, c.ListAll(), 2)
	require.Nil(t, c.GetByName("missing"))

	first := c.GetByName("first")
	require.NotNil(t, first)
	require.Equal(t, nft.TypeLifeForm, first.GetType())
	require.Equal(t, nft.LifeFormTokens, first.EntityTable())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	for _, r := range c.Runners() {
		waitForHead(t, r, 101)
		require.Equal(t, ownerBB, owner(t, r.Store(), "3"))
	}
	require.Eventually(t, func() bool {
		return len(sink.ofType("batch_committed")) == 4
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator did not stop")
	}
}

func TestCoordinator_UnknownTypeFails(t *testing.T) {
	cfg := coordinatorConfig(t, "first")
	cfg.Indexers[0].Type = "unknown"

	_, err := NewCoordinator(context.Background(), cfg, logger.NewNopLogger(),
		WithClientFactory(func(context.Context, config.StreamConfig, uint64, *logger.Logger) (stream.Client, error) {
			return streamtest.NewChain(0), nil
		}))
	require.ErrorContains(t, err, "failed to create indexer first")
}
