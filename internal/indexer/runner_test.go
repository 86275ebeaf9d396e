package indexer

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goran-ethernal/StarkIndexor/internal/common"
	"github.com/goran-ethernal/StarkIndexor/internal/decoder"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/internal/notify"
	"github.com/goran-ethernal/StarkIndexor/internal/projection/nft"
	"github.com/goran-ethernal/StarkIndexor/internal/storage/sqlite"
	"github.com/goran-ethernal/StarkIndexor/internal/storage/storagetest"
	"github.com/goran-ethernal/StarkIndexor/internal/stream/streamtest"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/indexer"
	"github.com/goran-ethernal/StarkIndexor/pkg/starknet"
	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
	"github.com/stretchr/testify/require"
)

var (
	contract = starknet.MustFeltFromHex("0x00f92d3789e679e4ac8e94472ec6a67a63b99d042f772a0227b0d6bd241096c2")

	ownerAA = starknet.FeltFromUint64(0xaa)
	ownerBB = starknet.FeltFromUint64(0xbb)
	ownerCC = starknet.FeltFromUint64(0xcc)
)

type recordingSink struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (s *recordingSink) Notify(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) ofType(typ string) []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notify.Message
	for _, m := range s.messages {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

type harness struct {
	cfg        config.IndexerConfig
	projection indexer.Projection
	gateway    storage.Gateway
	chain      *streamtest.Chain
	sink       *recordingSink
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.IndexerConfig{
		Name:      "lifeform",
		Type:      nft.TypeLifeForm,
		Contracts: []config.ContractConfig{{Address: contract.Hex()}},
		StorageRetry: &config.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: common.NewDuration(time.Millisecond),
			MaxBackoff:     common.NewDuration(5 * time.Millisecond),
		},
	}
	cfg.ApplyDefaults()

	log := logger.NewNopLogger()
	projection, err := nft.NewLifeForm(cfg, log)
	require.NoError(t, err)

	g, err := sqlite.New(
		config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "runner.sqlite")},
		cfg.Name, projection.Tables(), nil, log,
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, g.Close()) })

	return &harness{
		cfg:        cfg,
		projection: projection,
		gateway:    g,
		chain:      streamtest.NewChain(100),
		sink:       &recordingSink{},
	}
}

func (h *harness) runner(t *testing.T, g storage.Gateway) *Runner {
	t.Helper()

	r, err := NewRunner(h.cfg, h.projection, g, h.chain, h.sink, &config.RetryConfig{
		InitialBackoff: common.NewDuration(time.Millisecond),
		MaxBackoff:     common.NewDuration(5 * time.Millisecond),
	}, logger.NewNopLogger())
	require.NoError(t, err)
	return r
}

// start runs r in the background and returns a function that stops it and
// returns the Run error.
func start(t *testing.T, r *Runner) func() error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	var once sync.Once
	var err error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case err = <-done:
			case <-time.After(5 * time.Second):
				err = errors.New("runner did not stop")
			}
		})
		return err
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func waitForHead(t *testing.T, r *Runner, number uint64) {
	t.Helper()

	require.Eventually(t, func() bool {
		st, err := r.Status(context.Background())
		return err == nil && st.Cursor != nil && st.Cursor.OrderKey == number && st.State == indexer.StateSyncing
	}, 5*time.Second, 5*time.Millisecond)
}

func raw(t *testing.T, ev decoder.Event) stream.RawEvent {
	t.Helper()
	r, err := decoder.Encode(ev)
	require.NoError(t, err)
	return r
}

func meta(tx uint64) decoder.Meta {
	return decoder.Meta{Contract: contract, TxHash: starknet.FeltFromUint64(tx)}
}

func created(t *testing.T, tx uint64, token int64, owner starknet.Felt) stream.RawEvent {
	return raw(t, &decoder.LifeFormCreated{
		Meta:    meta(tx),
		Owner:   owner,
		TokenID: big.NewInt(token),
		Data:    decoder.LifeFormData{IsAlive: true, SequenceLength: 3, CurrentState: big.NewInt(7), Age: 1},
	})
}

func transfer(t *testing.T, tx uint64, token int64, from, to starknet.Felt) stream.RawEvent {
	return raw(t, &decoder.Transfer{Meta: meta(tx), From: from, To: to, TokenID: big.NewInt(token)})
}

func owner(t *testing.T, g storage.Reader, token string) starknet.Felt {
	t.Helper()
	row, err := g.GetEntity(context.Background(), nft.LifeFormTokens, token)
	require.NoError(t, err)
	return row.Felt("owner")
}

func TestRunner_IndexesAndResumes(t *testing.T) {
	h := newHarness(t)
	h.chain.Append(created(t, 0x1, 42, ownerAA))
	h.chain.Append()
	h.chain.Append(transfer(t, 0x2, 42, ownerAA, ownerBB))

	r := h.runner(t, h.gateway)
	stop := start(t, r)
	waitForHead(t, r, 102)
	require.NoError(t, stop())

	require.Equal(t, ownerBB, owner(t, h.gateway, "42"))
	st, err := r.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, indexer.StateStopped, st.State)
	require.Equal(t, uint64(3), st.BatchesApplied)
	require.Equal(t, "sqlite", st.Driver)
	require.Len(t, h.sink.ofType(notify.TypeBatchCommitted), 3)

	// a new runner resumes after the checkpoint instead of replaying
	delivered := h.chain.Delivered()
	h.chain.Append(transfer(t, 0x3, 42, ownerBB, ownerCC))

	r = h.runner(t, h.gateway)
	stop = start(t, r)
	waitForHead(t, r, 103)
	require.NoError(t, stop())

	require.Equal(t, delivered+1, h.chain.Delivered())
	require.Equal(t, ownerCC, owner(t, h.gateway, "42"))

	rows, total, err := h.gateway.ListHistory(context.Background(), nft.LifeFormTransfers, "42", storage.Query{})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Equal(t, nft.KindMint, rows[0].Text("kind"))
}

func TestRunner_ReorgRollsBackToAncestor(t *testing.T) {
	h := newHarness(t)
	h.chain.Append(created(t, 0x1, 7, ownerAA))
	h.chain.Append()
	h.chain.Append(transfer(t, 0x2, 7, ownerAA, ownerBB))

	r := h.runner(t, h.gateway)
	start(t, r)
	waitForHead(t, r, 102)
	require.Equal(t, ownerBB, owner(t, h.gateway, "7"))

	// 102 is replaced by a block that sends the token elsewhere
	h.chain.Fork(102)
	h.chain.Append(transfer(t, 0x3, 7, ownerAA, ownerCC))
	head := h.chain.Append()

	waitForHead(t, r, head.Number)
	require.Equal(t, ownerCC, owner(t, h.gateway, "7"))

	st, err := r.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), st.Rollbacks)
	require.Equal(t, head.Hash, st.Cursor.UniqueKey)

	rollbacks := h.sink.ofType(notify.TypeRollback)
	require.Len(t, rollbacks, 1)
	require.Equal(t, uint64(102), rollbacks[0].FromBlock)
	require.Equal(t, uint64(101), rollbacks[0].Cursor.OrderKey)

	rows, total, err := h.gateway.ListHistory(context.Background(), nft.LifeFormTransfers, "7", storage.Query{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Equal(t, ownerCC, rows[1].Felt("to_address"))
}

func TestRunner_StreamFailuresAreRetried(t *testing.T) {
	h := newHarness(t)
	h.chain.Append(created(t, 0x1, 1, ownerAA))
	h.chain.Append(transfer(t, 0x2, 1, ownerAA, ownerBB))
	h.chain.FailNext(3)

	r := h.runner(t, h.gateway)
	start(t, r)
	waitForHead(t, r, 101)
	require.Equal(t, ownerBB, owner(t, h.gateway, "1"))
}

func TestRunner_StorageFailureRetriesBatch(t *testing.T) {
	h := newHarness(t)
	h.chain.Append(created(t, 0x1, 1, ownerAA), transfer(t, 0x1, 1, ownerAA, ownerBB))

	faulty := storagetest.NewFaulty(h.gateway, 2)
	r := h.runner(t, faulty)
	start(t, r)
	waitForHead(t, r, 100)

	require.Equal(t, 1, faulty.Commits())
	require.Equal(t, ownerBB, owner(t, h.gateway, "1"))

	rows, total, err := h.gateway.ListHistory(context.Background(), nft.LifeFormTransfers, "1", storage.Query{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, rows, 2)
}

// brokenGateway lets the first healthy transactions through and fails every
// later Begin until it is healed.
type brokenGateway struct {
	storage.Gateway

	mu      sync.Mutex
	healthy int
	failed  int
	healed  bool
}

func (g *brokenGateway) Begin(ctx context.Context) (storage.Tx, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.healed || g.healthy > 0 {
		g.healthy--
		return g.Gateway.Begin(ctx)
	}
	g.failed++
	return nil, errors.New("disk full")
}

func (g *brokenGateway) heal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.healed = true
}

func (g *brokenGateway) failures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed
}

func TestRunner_StorageRetriesExhausted(t *testing.T) {
	testCases := []struct {
		name    string
		healthy int
		wantErr string
	}{
		{name: "at startup", healthy: 0, wantErr: "load tracked blocks failed after 3 attempts"},
		{name: "while applying", healthy: 1, wantErr: "apply failed after 3 attempts"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.chain.Append(created(t, 0x1, 1, ownerAA))

			g := &brokenGateway{Gateway: h.gateway, healthy: tc.healthy}
			r := h.runner(t, g)
			err := r.Run(context.Background())
			require.Error(t, err)
			require.ErrorContains(t, err, tc.wantErr)
			require.Equal(t, 3, g.failures())

			st, err := r.Status(context.Background())
			require.NoError(t, err)
			require.Equal(t, indexer.StateFailed, st.State)
			require.Nil(t, st.Cursor)
			require.Contains(t, st.LastError, "disk full")
		})
	}
}

func TestRunner_StartupStorageFailureIsRetried(t *testing.T) {
	h := newHarness(t)
	h.cfg.StorageRetry.MaxAttempts = 1000
	h.chain.Append(created(t, 0x1, 1, ownerAA))

	g := &brokenGateway{Gateway: h.gateway}
	r := h.runner(t, g)
	stop := start(t, r)
	defer func() { require.NoError(t, stop()) }()

	require.Eventually(t, func() bool { return g.failures() >= 1 }, 5*time.Second, time.Millisecond)
	g.heal()
	waitForHead(t, r, 100)

	require.Equal(t, ownerAA, owner(t, h.gateway, "1"))
}

func TestRunner_ReorgBeyondWindowIsFatal(t *testing.T) {
	h := newHarness(t)
	h.cfg.ReorgWindow = 2
	h.chain.Append(created(t, 0x1, 1, ownerAA))
	for range 4 {
		h.chain.Append()
	}

	r := h.runner(t, h.gateway)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	waitForHead(t, r, 104)

	// every tracked block is replaced
	h.chain.Fork(101)
	for range 5 {
		h.chain.Append()
	}

	select {
	case err := <-done:
		require.Error(t, err)
		require.ErrorContains(t, err, "reorg deeper than reorg_window")
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not fail")
	}
}

func TestRunner_WithoutPersistStateReplays(t *testing.T) {
	h := newHarness(t)
	h.chain.Append(created(t, 0x1, 9, ownerAA))
	h.chain.Append(transfer(t, 0x2, 9, ownerAA, ownerBB))

	r := h.runner(t, h.gateway)
	stop := start(t, r)
	waitForHead(t, r, 101)
	require.NoError(t, stop())

	persist := false
	h.cfg.PersistState = &persist
	delivered := h.chain.Delivered()

	r = h.runner(t, h.gateway)
	stop = start(t, r)
	waitForHead(t, r, 101)
	require.NoError(t, stop())

	require.Equal(t, delivered+2, h.chain.Delivered())
	require.Equal(t, ownerBB, owner(t, h.gateway, "9"))

	_, total, err := h.gateway.ListHistory(context.Background(), nft.LifeFormTransfers, "9", storage.Query{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
}

func TestReplacesCommitted(t *testing.T) {
	hash := starknet.FeltFromUint64(0x10)

	tests := []struct {
		name     string
		previous *stream.Cursor
		header   stream.BlockHeader
		want     bool
	}{
		{"no head", nil, stream.BlockHeader{Number: 5, Hash: hash}, false},
		{"below head", &stream.Cursor{OrderKey: 6, UniqueKey: hash}, stream.BlockHeader{Number: 5, Hash: hash}, true},
		{"pending refresh", &stream.Cursor{OrderKey: 5}, stream.BlockHeader{Number: 5}, false},
		{"same block again", &stream.Cursor{OrderKey: 5, UniqueKey: hash}, stream.BlockHeader{Number: 5, Hash: hash}, false},
		{"sibling at head", &stream.Cursor{OrderKey: 5, UniqueKey: hash},
			stream.BlockHeader{Number: 5, Hash: starknet.FeltFromUint64(0x11)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, replacesCommitted(tt.previous, tt.header))
		})
	}
}
