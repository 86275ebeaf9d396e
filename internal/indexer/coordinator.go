package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goran-ethernal/StarkIndexor/internal/common"
	"github.com/goran-ethernal/StarkIndexor/internal/lock"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/internal/metrics"
	"github.com/goran-ethernal/StarkIndexor/internal/notify"
	"github.com/goran-ethernal/StarkIndexor/internal/storage/gateway"
	"github.com/goran-ethernal/StarkIndexor/internal/stream/starknetrpc"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/goran-ethernal/StarkIndexor/pkg/indexer"
	"github.com/goran-ethernal/StarkIndexor/pkg/stream"
	"golang.org/x/sync/errgroup"
)

// ClientFactory opens the stream client of one indexer.
type ClientFactory func(
	ctx context.Context,
	cfg config.StreamConfig,
	startingBlock uint64,
	log *logger.Logger,
) (stream.Client, error)

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithClientFactory replaces the Starknet RPC client.
func WithClientFactory(f ClientFactory) Option {
	return func(c *Coordinator) { c.newClient = f }
}

// WithSink adds a notification sink shared by all indexers.
func WithSink(s notify.Sink) Option {
	return func(c *Coordinator) { c.sinks = append(c.sinks, s) }
}

// Coordinator owns the runners of every configured indexer and runs them in
// isolation: a failed indexer does not stop the others.
type Coordinator struct {
	cfg       *config.Config
	newClient ClientFactory
	sinks     notify.Multi
	locker    *lock.Locker

	mu      sync.RWMutex
	runners []*Runner
	byName  map[string]*Runner

	base *logger.Logger
	log  *logger.Logger
}

// NewCoordinator builds a runner per configured indexer: projection, storage
// gateway, stream client and notification sinks. cfg must be validated.
func NewCoordinator(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Coordinator, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	c := &Coordinator{
		cfg:    cfg,
		byName: make(map[string]*Runner, len(cfg.Indexers)),
		base:   log,
		log:    log.WithComponent(common.ComponentRunner),
		newClient: func(ctx context.Context, sc config.StreamConfig, start uint64, l *logger.Logger) (stream.Client, error) {
			return starknetrpc.NewClient(ctx, sc, start, l)
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.sinks = append(c.sinks, notify.NewLogSink(log.WithComponent(common.ComponentNotifier)), notify.MetricsSink{})
	if cfg.Notifier != nil && cfg.Notifier.Enabled {
		nats, err := notify.NewNATSSink(*cfg.Notifier, log.WithComponent(common.ComponentNotifier))
		if err != nil {
			return nil, fmt.Errorf("failed to start notifier: %w", err)
		}
		c.sinks = append(c.sinks, nats)
	}

	if cfg.Lock != nil && cfg.Lock.Enabled {
		locker, err := lock.New(ctx, *cfg.Lock, log.WithComponent(common.ComponentLock))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect lock: %w", err)
		}
		c.locker = locker
	}

	for _, ic := range cfg.Indexers {
		r, err := c.build(ctx, ic)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create indexer %s: %w", ic.Name, err)
		}
		c.runners = append(c.runners, r)
		c.byName[ic.Name] = r
	}

	c.log.Infow("indexers ready", "count", len(c.runners))
	return c, nil
}

func (c *Coordinator) build(ctx context.Context, ic config.IndexerConfig) (*Runner, error) {
	ilog := c.base.WithIndexer(ic.Name)

	projection, err := indexer.Create(ic.Type, ic, ilog)
	if err != nil {
		return nil, err
	}

	store, err := gateway.Open(ctx, ic, projection.Tables(), ilog)
	if err != nil {
		return nil, err
	}

	start := ic.StartingBlock
	if projection.StartBlock() > start {
		start = projection.StartBlock()
	}
	client, err := c.newClient(ctx, c.cfg.Stream, start, ilog.WithComponent(common.ComponentStream))
	if err != nil {
		store.Close()
		return nil, err
	}

	r, err := NewRunner(ic, projection, store, client, c.sinks, c.cfg.Stream.Retry, c.base)
	if err != nil {
		client.Close()
		store.Close()
		return nil, err
	}
	return r, nil
}

// Run runs every indexer until ctx is cancelled and returns the first fatal error.
func (c *Coordinator) Run(ctx context.Context) error {
	var g errgroup.Group

	for _, r := range c.Runners() {
		g.Go(func() error {
			return c.runOne(ctx, r)
		})
	}

	return g.Wait()
}

// runOne holds the indexer's lease, when configured, for as long as it runs.
// Losing the lease stops that indexer only.
func (c *Coordinator) runOne(ctx context.Context, r *Runner) error {
	if c.locker == nil {
		return r.Run(ctx)
	}

	lease, err := c.locker.Acquire(ctx, r.GetName())
	if err != nil {
		r.setState(indexer.StateFailed, err)
		metrics.ErrorsInc(common.ComponentLock, "fatal")
		return fmt.Errorf("indexer %s: %w", r.GetName(), err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lost error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case err := <-lease.Lost():
			lost = err
			c.log.Errorw("lease lost, stopping indexer", "indexer", r.GetName(), "error", err)
			cancel()
		case <-runCtx.Done():
		}
	}()

	runErr := r.Run(runCtx)
	cancel()
	wg.Wait()

	releaseCtx, done := context.WithTimeout(context.Background(), c.cfg.Lock.TTL.Duration)
	defer done()
	if err := lease.Release(releaseCtx); err != nil {
		c.log.Warnw("failed to release lease", "indexer", r.GetName(), "error", err)
	}

	if lost != nil {
		r.setState(indexer.StateFailed, lost)
		return fmt.Errorf("indexer %s: %w", r.GetName(), lost)
	}
	return runErr
}

// Runners returns the runners in configuration order.
func (c *Coordinator) Runners() []*Runner {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Runner(nil), c.runners...)
}

// GetByName returns the indexer with the given name, or nil.
func (c *Coordinator) GetByName(name string) indexer.Queryable {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if r, ok := c.byName[name]; ok {
		return r
	}
	return nil
}

// ListAll returns every configured indexer.
func (c *Coordinator) ListAll() []indexer.Queryable {
	runners := c.Runners()
	out := make([]indexer.Queryable, 0, len(runners))
	for _, r := range runners {
		out = append(out, r)
	}
	return out
}

// Close releases runners, sinks and the lock client.
func (c *Coordinator) Close() error {
	var errs []error
	for _, r := range c.Runners() {
		errs = append(errs, r.Close())
	}
	errs = append(errs, c.sinks.Close())
	if c.locker != nil {
		errs = append(errs, c.locker.Close())
	}
	return errors.Join(errs...)
}
