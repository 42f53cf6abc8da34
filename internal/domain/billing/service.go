package billing

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/nhia"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/pkg/calendar"
	"github.com/hms/hms/pkg/money"
)

const (
	maxNumberAttempts   = 100
	maxFallbackAttempts = 10
	// maxDailySequence keeps the per-day number at four digits.
	maxDailySequence = 9999
)

// Gate is the NHIA policy the engine consults.
type Gate interface {
	RequireAuthorization(ctx context.Context, patientID uuid.UUID, serviceType string) error
	Classify(ctx context.Context, patientID uuid.UUID, kind nhia.ServiceKind) (nhia.Outcome, error)
}

// Engine creates invoices and is the only writer of invoice totals and status.
type Engine struct {
	invoices InvoiceRepository
	tx       db.Transactor
	bus      *events.Bus
	gate     Gate
	log      zerolog.Logger
	loc      *time.Location
	now      func() time.Time
	jitter   func(n int) int
}

func NewEngine(invoices InvoiceRepository, tx db.Transactor, bus *events.Bus, gate Gate, loc *time.Location, logger zerolog.Logger) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		invoices: invoices,
		tx:       tx,
		bus:      bus,
		gate:     gate,
		log:      logger,
		loc:      loc,
		now:      time.Now,
		jitter:   rand.Intn,
	}
}

func (e *Engine) today() time.Time { return calendar.Today(e.now(), e.loc) }

func validateItem(it *InvoiceItem) error {
	if strings.TrimSpace(it.Description) == "" {
		return fmt.Errorf("item description is required")
	}
	if !it.Quantity.IsPositive() {
		return fmt.Errorf("%w: item quantity", ErrInvalidAmount)
	}
	if it.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: item unit price", ErrInvalidAmount)
	}
	hundred := decimal.NewFromInt(100)
	for _, pct := range []decimal.Decimal{it.TaxPct, it.DiscountPct} {
		if pct.IsNegative() || pct.GreaterThan(hundred) {
			return fmt.Errorf("item percentage must be between 0 and 100")
		}
	}
	return nil
}

// CreateInvoice numbers, totals and stores inv. Clinical invoices for NHIA
// patients need an authorization code.
func (e *Engine) CreateInvoice(ctx context.Context, inv *Invoice) error {
	if inv.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if !inv.SourceApp.Valid() {
		return fmt.Errorf("invalid source_app: %q", inv.SourceApp)
	}
	for i := range inv.Items {
		if err := validateItem(&inv.Items[i]); err != nil {
			return err
		}
	}
	if inv.TaxAmount.IsNegative() || inv.DiscountAmount.IsNegative() {
		return fmt.Errorf("%w: tax and discount must not be negative", ErrInvalidAmount)
	}
	inv.Recompute()
	if inv.TotalAmount.IsNegative() {
		return fmt.Errorf("%w: discount exceeds invoice amount", ErrInvalidAmount)
	}
	if inv.InvoiceDate.IsZero() {
		inv.InvoiceDate = e.today()
	}
	if inv.DueDate.IsZero() {
		inv.DueDate = inv.InvoiceDate
	}
	if inv.Status != StatusDraft {
		inv.Status = StatusPending
	}
	inv.AmountPaid = decimal.Zero
	inv.ManualPaymentProcessed = false
	inv.Status = DeriveStatus(inv.Status, inv.TotalAmount, inv.AmountPaid, inv.AutoPayZero)

	return e.tx.InTx(ctx, func(ctx context.Context) error {
		if e.gate != nil && inv.SourceApp.Clinical() {
			if err := e.gate.RequireAuthorization(ctx, inv.PatientID, string(inv.SourceApp)); err != nil {
				return err
			}
		}
		if err := e.insertNumbered(ctx, inv); err != nil {
			return err
		}
		e.log.Info().
			Str("invoice_id", inv.ID.String()).
			Str("number", inv.Number).
			Str("patient_id", inv.PatientID.String()).
			Str("source_app", string(inv.SourceApp)).
			Str("total", inv.TotalAmount.StringFixed(money.Places)).
			Msg("invoice created")
		if inv.Status == StatusPaid {
			return e.publish(ctx, inv, StatusPending, decimal.Zero)
		}
		return nil
	})
}

// insertNumbered assigns INV<YYYYMMDD><NNNN> from the day's count and retries
// on collision. Past the four-digit sequence, or when every retry collides, it
// falls back to the clock's milliseconds, jittered after the first attempt.
func (e *Engine) insertNumbered(ctx context.Context, inv *Invoice) error {
	prefix := "INV" + inv.InvoiceDate.Format("20060102")
	n, err := e.invoices.CountOnDate(ctx, inv.InvoiceDate)
	if err != nil {
		return fmt.Errorf("count invoices: %w", err)
	}
	for i := 1; i <= maxNumberAttempts && n+i <= maxDailySequence; i++ {
		inv.Number = fmt.Sprintf("%s%04d", prefix, n+i)
		err := e.invoices.Create(ctx, inv)
		if !errors.Is(err, ErrDuplicateNumber) {
			return err
		}
	}
	for i := 0; i < maxFallbackAttempts; i++ {
		seq := e.now().UnixMilli()
		if i > 0 {
			seq += int64(1 + e.jitter(maxDailySequence))
		}
		inv.Number = fmt.Sprintf("%s%04d", prefix, seq%(maxDailySequence+1))
		err := e.invoices.Create(ctx, inv)
		if !errors.Is(err, ErrDuplicateNumber) {
			if err == nil {
				e.log.Warn().Str("number", inv.Number).Int("attempt", i+1).Msg("invoice number allocated from timestamp fallback")
			}
			return err
		}
	}
	return fmt.Errorf("allocate invoice number for %s: %w", prefix, ErrDuplicateNumber)
}

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return e.invoices.GetByID(ctx, id)
}

func (e *Engine) List(ctx context.Context, f InvoiceFilter) ([]*Invoice, int, error) {
	return e.invoices.List(ctx, f)
}

// ListUnpaid returns the patient's pending, partially paid and overdue
// invoices, oldest first.
func (e *Engine) ListUnpaid(ctx context.Context, patientID uuid.UUID) ([]*Invoice, error) {
	items, _, err := e.invoices.List(ctx, InvoiceFilter{PatientID: &patientID, Statuses: UnpaidStatuses})
	return items, err
}

func (e *Engine) AddItem(ctx context.Context, invoiceID uuid.UUID, item *InvoiceItem) (*Invoice, error) {
	if err := validateItem(item); err != nil {
		return nil, err
	}
	var out *Invoice
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := e.lockEditable(ctx, invoiceID)
		if err != nil {
			return err
		}
		item.InvoiceID = inv.ID
		item.Recompute()
		if err := e.invoices.AddItem(ctx, item); err != nil {
			return err
		}
		inv.Items = append(inv.Items, *item)
		out = inv
		return e.saveTotals(ctx, inv)
	})
	return out, err
}

func (e *Engine) UpdateItem(ctx context.Context, item *InvoiceItem) (*Invoice, error) {
	if err := validateItem(item); err != nil {
		return nil, err
	}
	var out *Invoice
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := e.invoices.GetItem(ctx, item.ID)
		if err != nil {
			return err
		}
		inv, err := e.lockEditable(ctx, cur.InvoiceID)
		if err != nil {
			return err
		}
		item.InvoiceID = inv.ID
		item.Recompute()
		if err := e.invoices.UpdateItem(ctx, item); err != nil {
			return err
		}
		for i := range inv.Items {
			if inv.Items[i].ID == item.ID {
				inv.Items[i] = *item
			}
		}
		out = inv
		return e.saveTotals(ctx, inv)
	})
	return out, err
}

func (e *Engine) RemoveItem(ctx context.Context, itemID uuid.UUID) (*Invoice, error) {
	var out *Invoice
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := e.invoices.GetItem(ctx, itemID)
		if err != nil {
			return err
		}
		inv, err := e.lockEditable(ctx, cur.InvoiceID)
		if err != nil {
			return err
		}
		if err := e.invoices.DeleteItem(ctx, itemID); err != nil {
			return err
		}
		kept := inv.Items[:0]
		for _, it := range inv.Items {
			if it.ID != itemID {
				kept = append(kept, it)
			}
		}
		inv.Items = kept
		out = inv
		return e.saveTotals(ctx, inv)
	})
	return out, err
}

// SetAdjustments replaces the invoice-level tax and discount amounts.
func (e *Engine) SetAdjustments(ctx context.Context, invoiceID uuid.UUID, tax, discount decimal.Decimal) (*Invoice, error) {
	if tax.IsNegative() || discount.IsNegative() {
		return nil, fmt.Errorf("%w: tax and discount must not be negative", ErrInvalidAmount)
	}
	var out *Invoice
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := e.lockEditable(ctx, invoiceID)
		if err != nil {
			return err
		}
		inv.TaxAmount, inv.DiscountAmount = tax, discount
		out = inv
		return e.saveTotals(ctx, inv)
	})
	return out, err
}

func (e *Engine) lockEditable(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := e.invoices.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Locked() {
		return nil, fmt.Errorf("%w: invoice %s is %s", ErrInvoiceLocked, inv.Number, inv.Status)
	}
	return inv, nil
}

func (e *Engine) saveTotals(ctx context.Context, inv *Invoice) error {
	old := inv.Status
	inv.Recompute()
	if inv.TotalAmount.IsNegative() {
		return fmt.Errorf("%w: discount exceeds invoice amount", ErrInvalidAmount)
	}
	if inv.TotalAmount.LessThan(inv.AmountPaid) {
		return fmt.Errorf("%w: total %s is below amount paid %s", ErrOverpaymentRejected,
			inv.TotalAmount.StringFixed(money.Places), inv.AmountPaid.StringFixed(money.Places))
	}
	inv.Status = DeriveStatus(inv.Status, inv.TotalAmount, inv.AmountPaid, inv.AutoPayZero)
	if err := e.invoices.Update(ctx, inv); err != nil {
		return err
	}
	if inv.Status != old {
		return e.publish(ctx, inv, old, decimal.Zero)
	}
	return nil
}

// AutoPayZero marks a zero-total invoice paid. Money only reaches an invoice
// through the Recorder, so any other invoice is rejected.
func (e *Engine) AutoPayZero(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error) {
	var out *Invoice
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := e.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if !inv.TotalAmount.IsZero() {
			return fmt.Errorf("%w: invoice %s totals %s; record a payment instead", ErrInvalidAmount,
				inv.Number, inv.TotalAmount.StringFixed(money.Places))
		}
		if err := e.apply(ctx, inv, decimal.Zero, applyOpts{autoPayZero: true}); err != nil {
			return err
		}
		out = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type applyOpts struct {
	manual      bool
	autoPayZero bool
}

// apply moves amount paid by delta on a locked invoice, recomputes status and
// publishes the change.
func (e *Engine) apply(ctx context.Context, inv *Invoice, delta decimal.Decimal, opts applyOpts) error {
	if inv.Status == StatusCancelled {
		return fmt.Errorf("%w: invoice %s is cancelled", ErrInvoiceLocked, inv.Number)
	}
	if delta.IsNegative() && delta.Neg().GreaterThan(inv.AmountPaid) {
		return fmt.Errorf("%w: reversal exceeds amount paid", ErrInvalidAmount)
	}
	if delta.IsPositive() && delta.GreaterThan(inv.Balance()) {
		return fmt.Errorf("%w: %s requested, %s outstanding", ErrOverpaymentRejected,
			delta.StringFixed(money.Places), inv.Balance().StringFixed(money.Places))
	}
	old := inv.Status
	inv.AmountPaid = inv.AmountPaid.Add(delta)
	if opts.autoPayZero {
		inv.AutoPayZero = true
	}
	inv.Status = DeriveStatus(inv.Status, inv.TotalAmount, inv.AmountPaid, inv.AutoPayZero)
	switch {
	case inv.Status == StatusPaid && opts.manual:
		inv.ManualPaymentProcessed = true
	case inv.Status != StatusPaid:
		inv.ManualPaymentProcessed = false
	}
	if err := e.invoices.Update(ctx, inv); err != nil {
		return err
	}
	return e.publish(ctx, inv, old, delta)
}

func (e *Engine) publish(ctx context.Context, inv *Invoice, old Status, delta decimal.Decimal) error {
	if inv.Status == old && delta.IsZero() {
		return nil
	}
	return e.bus.Publish(ctx, InvoiceStatusChanged{
		InvoiceID:              inv.ID,
		PatientID:              inv.PatientID,
		SourceApp:              inv.SourceApp,
		AdmissionID:            inv.AdmissionID,
		PrescriptionID:         inv.PrescriptionID,
		OldStatus:              old,
		NewStatus:              inv.Status,
		TotalAmount:            inv.TotalAmount,
		AmountPaid:             inv.AmountPaid,
		PaidDelta:              delta,
		ManualPaymentProcessed: inv.ManualPaymentProcessed,
		AutoPaidZero:           inv.Status == StatusPaid && inv.TotalAmount.IsZero() && inv.AutoPayZero,
	})
}

// SetStatus applies a manual status: cancelled, or pending for a draft.
func (e *Engine) SetStatus(ctx context.Context, invoiceID uuid.UUID, status Status) (*Invoice, error) {
	var out *Invoice
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := e.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		old := inv.Status
		switch status {
		case StatusCancelled:
			if inv.Status == StatusCancelled {
				out = inv
				return nil
			}
			if inv.Status == StatusPaid || inv.AmountPaid.IsPositive() {
				return fmt.Errorf("%w: invoice %s has payments", ErrInvoiceLocked, inv.Number)
			}
			inv.Status = StatusCancelled
		case StatusPending:
			if inv.Status != StatusDraft {
				return fmt.Errorf("only draft invoices can be moved to pending, invoice is %s", inv.Status)
			}
			inv.Status = DeriveStatus(StatusPending, inv.TotalAmount, inv.AmountPaid, inv.AutoPayZero)
		default:
			return fmt.Errorf("status %q cannot be set manually", status)
		}
		if err := e.invoices.Update(ctx, inv); err != nil {
			return err
		}
		out = inv
		e.log.Info().Str("invoice_id", inv.ID.String()).Str("from", string(old)).Str("to", string(inv.Status)).Msg("invoice status set")
		return e.publish(ctx, inv, old, decimal.Zero)
	})
	return out, err
}

// Delete removes an invoice that has no payments and is not paid or cancelled.
func (e *Engine) Delete(ctx context.Context, invoiceID uuid.UUID) error {
	return e.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := e.lockEditable(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.AmountPaid.IsPositive() {
			return fmt.Errorf("%w: invoice %s has payments", ErrInvoiceLocked, inv.Number)
		}
		return e.invoices.Delete(ctx, invoiceID)
	})
}

// MarkOverdue flips pending and partially paid invoices due before today that
// still have a balance.
func (e *Engine) MarkOverdue(ctx context.Context, today time.Time) (int, error) {
	n := 0
	err := e.tx.InTx(ctx, func(ctx context.Context) error {
		due, _, err := e.invoices.List(ctx, InvoiceFilter{
			Statuses:  []Status{StatusPending, StatusPartiallyPaid},
			DueBefore: &today,
		})
		if err != nil {
			return err
		}
		for _, inv := range due {
			locked, err := e.invoices.GetForUpdate(ctx, inv.ID)
			if err != nil {
				return err
			}
			// zero totals stay pending until auto-paid
			if !locked.TotalAmount.IsPositive() || !locked.Balance().IsPositive() {
				continue
			}
			if locked.Status != StatusPending && locked.Status != StatusPartiallyPaid {
				continue
			}
			old := locked.Status
			locked.Status = StatusOverdue
			if err := e.invoices.Update(ctx, locked); err != nil {
				return err
			}
			if err := e.publish(ctx, locked, old, decimal.Zero); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Info().Int("count", n).Str("today", today.Format(time.DateOnly)).Msg("invoices marked overdue")
	}
	return n, nil
}
