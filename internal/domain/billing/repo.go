package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type InvoiceRepository interface {
	// Create returns ErrDuplicateNumber when inv.Number is taken.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	// GetForUpdate takes the per-invoice row lock.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	Delete(ctx context.Context, id uuid.UUID) error
	CountOnDate(ctx context.Context, day time.Time) (int, error)
	// List orders by invoice date then creation, oldest first.
	List(ctx context.Context, f InvoiceFilter) ([]*Invoice, int, error)

	AddItem(ctx context.Context, item *InvoiceItem) error
	UpdateItem(ctx context.Context, item *InvoiceItem) error
	DeleteItem(ctx context.Context, id uuid.UUID) error
	GetItem(ctx context.Context, id uuid.UUID) (*InvoiceItem, error)
	ListItems(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceItem, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
}
