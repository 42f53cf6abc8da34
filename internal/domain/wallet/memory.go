package wallet

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemoryRepository is a thread-safe in-memory Repository. Row locks are
// provided by the transactor, so ForUpdate reads are plain reads here.
type MemoryRepository struct {
	mu      sync.RWMutex
	wallets map[uuid.UUID]Wallet // by patient
	txs     []Transaction
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{wallets: make(map[uuid.UUID]Wallet)}
}

func (r *MemoryRepository) Snapshot() func() {
	r.mu.RLock()
	wallets := make(map[uuid.UUID]Wallet, len(r.wallets))
	for k, v := range r.wallets {
		wallets[k] = v
	}
	txs := append([]Transaction(nil), r.txs...)
	r.mu.RUnlock()
	return func() {
		r.mu.Lock()
		r.wallets, r.txs = wallets, txs
		r.mu.Unlock()
	}
}

func (r *MemoryRepository) GetByPatient(_ context.Context, patientID uuid.UUID) (*Wallet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wallets[patientID]
	if !ok {
		return nil, ErrWalletMissing
	}
	return &w, nil
}

func (r *MemoryRepository) GetByPatientForUpdate(ctx context.Context, patientID uuid.UUID) (*Wallet, error) {
	return r.GetByPatient(ctx, patientID)
}

func (r *MemoryRepository) Create(_ context.Context, w *Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wallets[w.PatientID]; ok {
		return nil
	}
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.CreatedAt = time.Now().UTC()
	w.UpdatedAt = w.CreatedAt
	r.wallets[w.PatientID] = *w
	return nil
}

func (r *MemoryRepository) UpdateBalance(_ context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pid, w := range r.wallets {
		if w.ID == walletID {
			w.Balance = balance
			w.UpdatedAt = time.Now().UTC()
			r.wallets[pid] = w
			return nil
		}
	}
	return ErrWalletMissing
}

func (r *MemoryRepository) AppendTransaction(_ context.Context, t *Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	var seq int64
	for _, x := range r.txs {
		if x.WalletID == t.WalletID && x.Seq > seq {
			seq = x.Seq
		}
	}
	t.Seq = seq + 1
	t.CreatedAt = time.Now().UTC()
	r.txs = append(r.txs, *t)
	return nil
}

func (r *MemoryRepository) ListTransactions(_ context.Context, f TransactionFilter) ([]*Transaction, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Transaction
	for i := len(r.txs) - 1; i >= 0; i-- {
		if f.Match(&r.txs[i]) {
			t := r.txs[i]
			out = append(out, &t)
		}
	}
	total := len(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, total, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (r *MemoryRepository) Journal(_ context.Context, walletID uuid.UUID) ([]*Transaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Transaction
	for i := range r.txs {
		if r.txs[i].WalletID == walletID {
			t := r.txs[i]
			out = append(out, &t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (r *MemoryRepository) ExistsTransaction(_ context.Context, f TransactionFilter) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.txs {
		if f.Match(&r.txs[i]) {
			return true, nil
		}
	}
	return false, nil
}
