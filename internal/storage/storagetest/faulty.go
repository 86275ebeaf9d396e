// Package storagetest provides storage gateway helpers for tests.
package storagetest

import (
	"context"
	"errors"
	"sync"

	"github.com/goran-ethernal/StarkIndexor/pkg/storage"
)

// ErrInjected is returned by the mutation a Faulty gateway was told to fail.
var ErrInjected = errors.New("injected storage failure")

// Faulty wraps a gateway and fails the Nth entity or history write. Mutations are
// counted across transactions, starting at 1.
type Faulty struct {
	storage.Gateway

	mu        sync.Mutex
	failAt    int
	mutations int
	commits   int
}

// NewFaulty wraps g. A failAt of 0 never fails.
func NewFaulty(g storage.Gateway, failAt int) *Faulty {
	return &Faulty{Gateway: g, failAt: failAt}
}

// FailAt re-arms the gateway to fail the nth mutation from now on.
func (f *Faulty) FailAt(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAt = n
	f.mutations = 0
}

// Mutations returns how many writes were attempted since the last FailAt.
func (f *Faulty) Mutations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutations
}

// Commits returns the number of successful commits.
func (f *Faulty) Commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits
}

func (f *Faulty) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := f.Gateway.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, f: f}, nil
}

func (f *Faulty) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mutations++
	if f.failAt > 0 && f.mutations == f.failAt {
		return ErrInjected
	}
	return nil
}

type faultyTx struct {
	storage.Tx
	f *Faulty
}

func (t *faultyTx) UpsertEntity(ctx context.Context, table, id string, block uint64, fields storage.Fields) error {
	if err := t.f.next(); err != nil {
		return err
	}
	return t.Tx.UpsertEntity(ctx, table, id, block, fields)
}

func (t *faultyTx) InsertHistoryIfAbsent(
	ctx context.Context,
	table string,
	key storage.HistoryKey,
	block uint64,
	fields storage.Fields,
) (bool, error) {
	if err := t.f.next(); err != nil {
		return false, err
	}
	return t.Tx.InsertHistoryIfAbsent(ctx, table, key, block, fields)
}

func (t *faultyTx) Commit() error {
	if err := t.Tx.Commit(); err != nil {
		return err
	}
	t.f.mu.Lock()
	t.f.commits++
	t.f.mu.Unlock()
	return nil
}
