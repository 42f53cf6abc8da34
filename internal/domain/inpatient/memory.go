package inpatient

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryWardRepository is a thread-safe in-memory WardRepository.
type MemoryWardRepository struct {
	mu    sync.RWMutex
	wards map[uuid.UUID]Ward
	beds  map[uuid.UUID]Bed
}

func NewMemoryWardRepository() *MemoryWardRepository {
	return &MemoryWardRepository{wards: make(map[uuid.UUID]Ward), beds: make(map[uuid.UUID]Bed)}
}

func (r *MemoryWardRepository) Snapshot() func() {
	r.mu.RLock()
	wards := make(map[uuid.UUID]Ward, len(r.wards))
	for k, v := range r.wards {
		wards[k] = v
	}
	beds := make(map[uuid.UUID]Bed, len(r.beds))
	for k, v := range r.beds {
		beds[k] = v
	}
	r.mu.RUnlock()
	return func() {
		r.mu.Lock()
		r.wards, r.beds = wards, beds
		r.mu.Unlock()
	}
}

func (r *MemoryWardRepository) CreateWard(_ context.Context, w *Ward) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.CreatedAt = time.Now().UTC()
	w.UpdatedAt = w.CreatedAt
	r.wards[w.ID] = *w
	return nil
}

func (r *MemoryWardRepository) GetWard(_ context.Context, id uuid.UUID) (*Ward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.wards[id]
	if !ok {
		return nil, ErrWardNotFound
	}
	return &w, nil
}

func (r *MemoryWardRepository) UpdateWard(_ context.Context, w *Ward) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.wards[w.ID]
	if !ok {
		return ErrWardNotFound
	}
	w.CreatedAt = cur.CreatedAt
	w.UpdatedAt = time.Now().UTC()
	r.wards[w.ID] = *w
	return nil
}

func (r *MemoryWardRepository) ListWards(_ context.Context) ([]*Ward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Ward, 0, len(r.wards))
	for _, w := range r.wards {
		w := w
		out = append(out, &w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *MemoryWardRepository) CreateBed(_ context.Context, b *Bed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.wards[b.WardID]; !ok {
		return ErrWardNotFound
	}
	for _, cur := range r.beds {
		if cur.WardID == b.WardID && cur.BedNumber == b.BedNumber {
			return ErrDuplicateBed
		}
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	r.beds[b.ID] = *b
	return nil
}

func (r *MemoryWardRepository) GetBed(_ context.Context, id uuid.UUID) (*Bed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.beds[id]
	if !ok {
		return nil, ErrBedNotFound
	}
	return &b, nil
}

func (r *MemoryWardRepository) GetBedForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return r.GetBed(ctx, id)
}

func (r *MemoryWardRepository) UpdateBed(_ context.Context, b *Bed) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.beds[b.ID]
	if !ok {
		return ErrBedNotFound
	}
	b.CreatedAt = cur.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	r.beds[b.ID] = *b
	return nil
}

func (r *MemoryWardRepository) ListBeds(_ context.Context, wardID uuid.UUID) ([]*Bed, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Bed
	for _, b := range r.beds {
		if b.WardID == wardID {
			b := b
			out = append(out, &b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BedNumber < out[j].BedNumber })
	return out, nil
}

// MemoryAdmissionRepository is a thread-safe in-memory AdmissionRepository.
type MemoryAdmissionRepository struct {
	mu    sync.RWMutex
	items map[uuid.UUID]Admission
}

func NewMemoryAdmissionRepository() *MemoryAdmissionRepository {
	return &MemoryAdmissionRepository{items: make(map[uuid.UUID]Admission)}
}

func (r *MemoryAdmissionRepository) Snapshot() func() {
	r.mu.RLock()
	saved := make(map[uuid.UUID]Admission, len(r.items))
	for k, v := range r.items {
		saved[k] = v
	}
	r.mu.RUnlock()
	return func() {
		r.mu.Lock()
		r.items = saved
		r.mu.Unlock()
	}
}

func (r *MemoryAdmissionRepository) Create(_ context.Context, a *Admission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt
	r.items[a.ID] = *a
	return nil
}

func (r *MemoryAdmissionRepository) GetByID(_ context.Context, id uuid.UUID) (*Admission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (r *MemoryAdmissionRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return r.GetByID(ctx, id)
}

func (r *MemoryAdmissionRepository) Update(_ context.Context, a *Admission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[a.ID]
	if !ok {
		return ErrNotFound
	}
	a.CreatedAt = cur.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	r.items[a.ID] = *a
	return nil
}

func (r *MemoryAdmissionRepository) ListActive(_ context.Context) ([]*Admission, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Admission
	for _, a := range r.items {
		if a.Status == StatusAdmitted {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdmissionDate.Before(out[j].AdmissionDate) })
	return out, nil
}

func (r *MemoryAdmissionRepository) HasActive(_ context.Context, patientID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.items {
		if a.PatientID == patientID && a.Status == StatusAdmitted {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryAdmissionRepository) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Admission, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Admission
	for _, a := range r.items {
		if a.PatientID == patientID {
			a := a
			out = append(out, &a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdmissionDate.After(out[j].AdmissionDate) })
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}
