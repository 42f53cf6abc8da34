package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryInvoiceRepository is a thread-safe in-memory InvoiceRepository.
type MemoryInvoiceRepository struct {
	mu       sync.RWMutex
	invoices map[uuid.UUID]Invoice
	items    map[uuid.UUID]InvoiceItem
	order    map[uuid.UUID]int // item insertion order
	seq      int
}

func NewMemoryInvoiceRepository() *MemoryInvoiceRepository {
	return &MemoryInvoiceRepository{
		invoices: make(map[uuid.UUID]Invoice),
		items:    make(map[uuid.UUID]InvoiceItem),
		order:    make(map[uuid.UUID]int),
	}
}

func (r *MemoryInvoiceRepository) Snapshot() func() {
	r.mu.RLock()
	invoices := make(map[uuid.UUID]Invoice, len(r.invoices))
	for k, v := range r.invoices {
		invoices[k] = v
	}
	items := make(map[uuid.UUID]InvoiceItem, len(r.items))
	for k, v := range r.items {
		items[k] = v
	}
	order := make(map[uuid.UUID]int, len(r.order))
	for k, v := range r.order {
		order[k] = v
	}
	seq := r.seq
	r.mu.RUnlock()
	return func() {
		r.mu.Lock()
		r.invoices, r.items, r.order, r.seq = invoices, items, order, seq
		r.mu.Unlock()
	}
}

func (r *MemoryInvoiceRepository) Create(_ context.Context, inv *Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.invoices {
		if existing.Number == inv.Number {
			return ErrDuplicateNumber
		}
	}
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	r.seq++
	inv.CreatedAt = time.Now().UTC().Add(time.Duration(r.seq))
	inv.UpdatedAt = inv.CreatedAt
	for i := range inv.Items {
		inv.Items[i].InvoiceID = inv.ID
		r.addItemLocked(&inv.Items[i])
	}
	stored := *inv
	stored.Items = nil
	r.invoices[inv.ID] = stored
	return nil
}

func (r *MemoryInvoiceRepository) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inv, ok := r.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	inv.Items = r.itemsLocked(id)
	return &inv, nil
}

func (r *MemoryInvoiceRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.GetByID(ctx, id)
}

func (r *MemoryInvoiceRepository) Update(_ context.Context, inv *Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[inv.ID]; !ok {
		return ErrNotFound
	}
	inv.UpdatedAt = time.Now().UTC()
	stored := *inv
	stored.Items = nil
	r.invoices[inv.ID] = stored
	return nil
}

func (r *MemoryInvoiceRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[id]; !ok {
		return ErrNotFound
	}
	delete(r.invoices, id)
	for itemID, it := range r.items {
		if it.InvoiceID == id {
			delete(r.items, itemID)
			delete(r.order, itemID)
		}
	}
	return nil
}

func (r *MemoryInvoiceRepository) CountOnDate(_ context.Context, day time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	y, m, d := day.Date()
	n := 0
	for _, inv := range r.invoices {
		iy, im, id := inv.InvoiceDate.Date()
		if iy == y && im == m && id == d {
			n++
		}
	}
	return n, nil
}

func (r *MemoryInvoiceRepository) List(_ context.Context, f InvoiceFilter) ([]*Invoice, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Invoice
	for _, inv := range r.invoices {
		if f.Match(&inv) {
			cp := inv
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].InvoiceDate.Equal(out[j].InvoiceDate) {
			return out[i].InvoiceDate.Before(out[j].InvoiceDate)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Number < out[j].Number
	})
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

func (r *MemoryInvoiceRepository) addItemLocked(it *InvoiceItem) {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	r.seq++
	r.items[it.ID] = *it
	r.order[it.ID] = r.seq
}

func (r *MemoryInvoiceRepository) itemsLocked(invoiceID uuid.UUID) []InvoiceItem {
	var out []InvoiceItem
	for _, it := range r.items {
		if it.InvoiceID == invoiceID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return r.order[out[i].ID] < r.order[out[j].ID] })
	return out
}

func (r *MemoryInvoiceRepository) AddItem(_ context.Context, it *InvoiceItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.invoices[it.InvoiceID]; !ok {
		return ErrNotFound
	}
	r.addItemLocked(it)
	return nil
}

func (r *MemoryInvoiceRepository) UpdateItem(_ context.Context, it *InvoiceItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[it.ID]; !ok {
		return ErrItemNotFound
	}
	r.items[it.ID] = *it
	return nil
}

func (r *MemoryInvoiceRepository) DeleteItem(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return ErrItemNotFound
	}
	delete(r.items, id)
	delete(r.order, id)
	return nil
}

func (r *MemoryInvoiceRepository) GetItem(_ context.Context, id uuid.UUID) (*InvoiceItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it, ok := r.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return &it, nil
}

func (r *MemoryInvoiceRepository) ListItems(_ context.Context, invoiceID uuid.UUID) ([]InvoiceItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.itemsLocked(invoiceID), nil
}

// MemoryPaymentRepository is a thread-safe in-memory PaymentRepository.
type MemoryPaymentRepository struct {
	mu       sync.RWMutex
	payments map[uuid.UUID]Payment
}

func NewMemoryPaymentRepository() *MemoryPaymentRepository {
	return &MemoryPaymentRepository{payments: make(map[uuid.UUID]Payment)}
}

func (r *MemoryPaymentRepository) Snapshot() func() {
	r.mu.RLock()
	saved := make(map[uuid.UUID]Payment, len(r.payments))
	for k, v := range r.payments {
		saved[k] = v
	}
	r.mu.RUnlock()
	return func() {
		r.mu.Lock()
		r.payments = saved
		r.mu.Unlock()
	}
}

func (r *MemoryPaymentRepository) Create(_ context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	r.payments[p.ID] = *p
	return nil
}

func (r *MemoryPaymentRepository) GetByID(_ context.Context, id uuid.UUID) (*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

func (r *MemoryPaymentRepository) Update(_ context.Context, p *Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[p.ID]; !ok {
		return ErrPaymentNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	r.payments[p.ID] = *p
	return nil
}

func (r *MemoryPaymentRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payments[id]; !ok {
		return ErrPaymentNotFound
	}
	delete(r.payments, id)
	return nil
}

func (r *MemoryPaymentRepository) ListByInvoice(_ context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Payment
	for _, p := range r.payments {
		if p.InvoiceID == invoiceID {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
