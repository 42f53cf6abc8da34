package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a thread-safe in-memory Repository.
type MemoryRepository struct {
	mu   sync.RWMutex
	msgs map[uuid.UUID]Message
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{msgs: make(map[uuid.UUID]Message)}
}

func (r *MemoryRepository) Snapshot() func() {
	r.mu.RLock()
	saved := make(map[uuid.UUID]Message, len(r.msgs))
	for k, v := range r.msgs {
		saved[k] = v
	}
	r.mu.RUnlock()
	return func() {
		r.mu.Lock()
		r.msgs = saved
		r.mu.Unlock()
	}
}

func (r *MemoryRepository) Insert(_ context.Context, m *Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[m.ID] = *m
	return nil
}

func (r *MemoryRepository) ClaimPending(_ context.Context, limit, maxAttempts int) ([]*Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Message
	for _, m := range r.msgs {
		if m.DispatchedAt == nil && m.Attempts < maxAttempts {
			cp := m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) MarkDispatched(_ context.Context, id uuid.UUID, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return ErrNotFound
	}
	m.Attempts++
	m.DispatchedAt = &at
	r.msgs[id] = m
	return nil
}

func (r *MemoryRepository) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return ErrNotFound
	}
	m.Attempts++
	m.LastError = &reason
	r.msgs[id] = m
	return nil
}

func (r *MemoryRepository) CountPending(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, m := range r.msgs {
		if m.DispatchedAt == nil {
			n++
		}
	}
	return n, nil
}

// Topics returns the topics of all stored messages, oldest first.
func (r *MemoryRepository) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]Message, 0, len(r.msgs))
	for _, m := range r.msgs {
		all = append(all, m)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	out := make([]string, len(all))
	for i, m := range all {
		out[i] = m.Topic
	}
	return out
}
