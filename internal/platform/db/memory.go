package db

import (
	"context"
	"sync"
)

// Snapshotter is implemented by in-memory repositories so a MemoryTransactor
// can roll them back when a transaction fails.
type Snapshotter interface {
	Snapshot() (restore func())
}

type memTxKey struct{}

// MemoryTransactor is the Transactor used with the in-memory repositories. It
// serializes all transactions behind one mutex, which makes every
// read-compute-write linearizable, and restores the registered stores when fn
// returns an error.
type MemoryTransactor struct {
	mu     sync.Mutex
	regMu  sync.Mutex
	stores []Snapshotter
}

func NewMemoryTransactor(stores ...Snapshotter) *MemoryTransactor {
	return &MemoryTransactor{stores: stores}
}

// Register adds stores that take part in rollback.
func (m *MemoryTransactor) Register(stores ...Snapshotter) {
	m.regMu.Lock()
	defer m.regMu.Unlock()
	m.stores = append(m.stores, stores...)
}

func (m *MemoryTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) == m {
		return fn(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.regMu.Lock()
	restores := make([]func(), 0, len(m.stores))
	for _, s := range m.stores {
		restores = append(restores, s.Snapshot())
	}
	m.regMu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, m)); err != nil {
		for _, restore := range restores {
			restore()
		}
		return err
	}
	return nil
}
