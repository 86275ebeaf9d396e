// Package lock keeps a single live process per indexer name with a Redis lease.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goran-ethernal/StarkIndexor/internal/common"
	"github.com/goran-ethernal/StarkIndexor/internal/logger"
	"github.com/goran-ethernal/StarkIndexor/pkg/config"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another process holds the lease.
var ErrHeld = errors.New("lease held by another process")

// ErrLost is delivered on Lost when the lease could not be refreshed.
var ErrLost = errors.New("lease lost")

// Refresh and release only touch the key while it still carries our token.
var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Locker hands out leases from one Redis client.
type Locker struct {
	client *redis.Client
	cfg    config.LockConfig
	log    *logger.Logger
}

// New connects to cfg.RedisURL and pings it.
func New(ctx context.Context, cfg config.LockConfig, log *logger.Logger) (*Locker, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis_url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.DialTimeout = 5 * time.Second  //nolint:mnd
	opts.ReadTimeout = 3 * time.Second  //nolint:mnd
	opts.WriteTimeout = 3 * time.Second //nolint:mnd

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Locker{client: client, cfg: cfg, log: log.WithComponent(common.ComponentLock)}, nil
}

// Key returns the Redis key of an indexer's lease.
func (l *Locker) Key(indexer string) string {
	return l.cfg.KeyPrefix + ":" + common.SQLIdentifier(indexer)
}

// Acquire takes the lease of indexer or fails with ErrHeld. The lease is
// refreshed in the background until Release or ctx is done.
func (l *Locker) Acquire(ctx context.Context, indexer string) (*Lease, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	key := l.Key(indexer)
	ok, err := l.client.SetNX(ctx, key, token, l.cfg.TTL.Duration).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lease %s: %w", key, err)
	}
	if !ok {
		holder, _ := l.client.Get(ctx, key).Result()
		return nil, fmt.Errorf("%w: key=%s holder=%s", ErrHeld, key, holder)
	}

	leaseCtx, cancel := context.WithCancel(ctx)
	lease := &Lease{
		locker: l,
		key:    key,
		token:  token,
		cancel: cancel,
		lost:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go lease.keepAlive(leaseCtx)

	l.log.Infof("lease acquired: key=%s ttl=%s", key, l.cfg.TTL.Duration)
	return lease, nil
}

// Close closes the Redis client.
func (l *Locker) Close() error {
	return l.client.Close()
}

// Lease is a held lock.
type Lease struct {
	locker *Locker
	key    string
	token  string
	cancel context.CancelFunc
	lost   chan error
	done   chan struct{}
}

// Lost receives ErrLost if the lease expires or is taken over.
func (le *Lease) Lost() <-chan error {
	return le.lost
}

// Release stops refreshing and deletes the key if it is still ours.
func (le *Lease) Release(ctx context.Context) error {
	le.cancel()
	<-le.done

	if err := releaseScript.Run(ctx, le.locker.client, []string{le.key}, le.token).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", le.key, err)
	}
	le.locker.log.Infof("lease released: key=%s", le.key)
	return nil
}

func (le *Lease) keepAlive(ctx context.Context) {
	defer close(le.done)

	ttl := le.locker.cfg.TTL.Duration
	ticker := time.NewTicker(ttl / 3) //nolint:mnd
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := refreshScript.Run(ctx, le.locker.client, []string{le.key}, le.token, ttl.Milliseconds()).Int()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				le.locker.log.Warnf("failed to refresh lease %s: %v", le.key, err)
				continue
			}
			if n == 0 {
				le.locker.log.Errorf("lease lost: key=%s", le.key)
				le.lost <- fmt.Errorf("%w: key=%s", ErrLost, le.key)
				return
			}
		}
	}
}

func newToken() (string, error) {
	host, _ := os.Hostname()
	b := make([]byte, 8) //nolint:mnd
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lease token: %w", err)
	}
	return fmt.Sprintf("%s/%d/%s", host, os.Getpid(), hex.EncodeToString(b)), nil
}
