package nhia

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a thread-safe in-memory Repository.
type MemoryRepository struct {
	mu    sync.RWMutex
	regs  map[uuid.UUID]Registration
	codes map[uuid.UUID]AuthorizationCode
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		regs:  make(map[uuid.UUID]Registration),
		codes: make(map[uuid.UUID]AuthorizationCode),
	}
}

func (r *MemoryRepository) Snapshot() func() {
	r.mu.RLock()
	regs := make(map[uuid.UUID]Registration, len(r.regs))
	for k, v := range r.regs {
		regs[k] = v
	}
	codes := make(map[uuid.UUID]AuthorizationCode, len(r.codes))
	for k, v := range r.codes {
		codes[k] = v
	}
	r.mu.RUnlock()
	return func() {
		r.mu.Lock()
		r.regs, r.codes = regs, codes
		r.mu.Unlock()
	}
}

func (r *MemoryRepository) GetRegistration(_ context.Context, patientID uuid.UUID) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[patientID]
	if !ok {
		return nil, ErrNotFound
	}
	return &reg, nil
}

func (r *MemoryRepository) SaveRegistration(_ context.Context, reg *Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if cur, ok := r.regs[reg.PatientID]; ok {
		reg.ID, reg.CreatedAt = cur.ID, cur.CreatedAt
	} else {
		if reg.ID == uuid.Nil {
			reg.ID = uuid.New()
		}
		reg.CreatedAt = now
	}
	reg.UpdatedAt = now
	r.regs[reg.PatientID] = *reg
	return nil
}

func (r *MemoryRepository) CreateAuthorization(_ context.Context, a *AuthorizationCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.codes[a.ID] = *a
	return nil
}

func (r *MemoryRepository) ListAuthorizations(_ context.Context, patientID uuid.UUID) ([]*AuthorizationCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*AuthorizationCode
	for _, a := range r.codes {
		if a.PatientID == patientID {
			cp := a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (r *MemoryRepository) UpdateAuthorizationStatus(_ context.Context, id uuid.UUID, status AuthorizationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.codes[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	r.codes[id] = a
	return nil
}

func (r *MemoryRepository) ExpireAuthorizations(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, a := range r.codes {
		if a.Status == AuthorizationActive && !now.Before(a.ExpiresAt) {
			a.Status = AuthorizationExpired
			r.codes[id] = a
			n++
		}
	}
	return n, nil
}
