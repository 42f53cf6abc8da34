package db

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type counterStore struct {
	mu sync.Mutex
	n  int
}

func (s *counterStore) Snapshot() func() {
	s.mu.Lock()
	saved := s.n
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.n = saved
		s.mu.Unlock()
	}
}

func (s *counterStore) inc() {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
}

func (s *counterStore) get() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

func TestMemoryTransactor_CommitKeepsChanges(t *testing.T) {
	store := &counterStore{}
	tx := NewMemoryTransactor(store)

	err := tx.InTx(context.Background(), func(ctx context.Context) error {
		store.inc()
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.get() != 1 {
		t.Errorf("expected 1, got %d", store.get())
	}
}

func TestMemoryTransactor_ErrorRestores(t *testing.T) {
	store := &counterStore{}
	tx := NewMemoryTransactor(store)
	boom := errors.New("boom")

	err := tx.InTx(context.Background(), func(ctx context.Context) error {
		store.inc()
		store.inc()
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if store.get() != 0 {
		t.Errorf("expected rollback to 0, got %d", store.get())
	}
}

func TestMemoryTransactor_NestedJoins(t *testing.T) {
	store := &counterStore{}
	tx := NewMemoryTransactor(store)

	err := tx.InTx(context.Background(), func(ctx context.Context) error {
		store.inc()
		return tx.InTx(ctx, func(ctx context.Context) error {
			store.inc()
			return errors.New("inner")
		})
	})
	if err == nil {
		t.Fatal("expected inner error to propagate")
	}
	if store.get() != 0 {
		t.Errorf("expected whole transaction rolled back, got %d", store.get())
	}
}

func TestMemoryTransactor_Serializes(t *testing.T) {
	store := &counterStore{}
	tx := NewMemoryTransactor(store)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tx.InTx(context.Background(), func(ctx context.Context) error {
				store.inc()
				return nil
			})
		}()
	}
	wg.Wait()
	if store.get() != 50 {
		t.Errorf("expected 50, got %d", store.get())
	}
}

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Error("expected nil tx from empty context")
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Error("expected nil when context value is wrong type")
	}
}

func TestWithTx_NoTransaction(t *testing.T) {
	_, _, err := WithTx(context.Background())
	if !errors.Is(err, ErrNoTransaction) {
		t.Errorf("expected ErrNoTransaction, got %v", err)
	}
}

func TestSavepoint_WithoutTransactionRunsDirectly(t *testing.T) {
	called := false
	err := Savepoint(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Errorf("expected fn to run without error, called=%v err=%v", called, err)
	}
}
