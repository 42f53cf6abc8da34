package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

// -- Invoice --

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository {
	return &invoiceRepoPG{pool: pool}
}

func (r *invoiceRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const invCols = `id, patient_id, number, source_app, admission_id, prescription_id, test_request_id,
	invoice_date, due_date, subtotal, tax_amount, discount_amount, total_amount, amount_paid,
	status, auto_pay_zero, manual_payment_processed, notes, created_by, created_at, updated_at`

func (r *invoiceRepoPG) scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.PatientID, &inv.Number, &inv.SourceApp, &inv.AdmissionID,
		&inv.PrescriptionID, &inv.TestRequestID, &inv.InvoiceDate, &inv.DueDate, &inv.Subtotal,
		&inv.TaxAmount, &inv.DiscountAmount, &inv.TotalAmount, &inv.AmountPaid, &inv.Status,
		&inv.AutoPayZero, &inv.ManualPaymentProcessed, &inv.Notes, &inv.CreatedBy,
		&inv.CreatedAt, &inv.UpdatedAt)
	return &inv, err
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	// the unique violation must not poison the caller's transaction
	return db.Savepoint(ctx, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO invoices (id, patient_id, number, source_app, admission_id, prescription_id,
				test_request_id, invoice_date, due_date, subtotal, tax_amount, discount_amount,
				total_amount, amount_paid, status, auto_pay_zero, manual_payment_processed, notes, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
			RETURNING created_at, updated_at`,
			inv.ID, inv.PatientID, inv.Number, inv.SourceApp, inv.AdmissionID, inv.PrescriptionID,
			inv.TestRequestID, inv.InvoiceDate, inv.DueDate, inv.Subtotal, inv.TaxAmount,
			inv.DiscountAmount, inv.TotalAmount, inv.AmountPaid, inv.Status, inv.AutoPayZero,
			inv.ManualPaymentProcessed, inv.Notes, inv.CreatedBy).Scan(&inv.CreatedAt, &inv.UpdatedAt)
		if db.IsUniqueViolation(err) {
			return ErrDuplicateNumber
		}
		if err != nil {
			return err
		}
		for i := range inv.Items {
			inv.Items[i].InvoiceID = inv.ID
			if err := r.AddItem(ctx, &inv.Items[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *invoiceRepoPG) get(ctx context.Context, id uuid.UUID, lock bool) (*Invoice, error) {
	q := `SELECT ` + invCols + ` FROM invoices WHERE id = $1`
	if lock {
		q += ` FOR UPDATE`
	}
	inv, err := r.scanInvoice(r.conn(ctx).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	inv.Items, err = r.ListItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.get(ctx, id, false)
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return r.get(ctx, id, true)
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *Invoice) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoices SET due_date = $2, subtotal = $3, tax_amount = $4, discount_amount = $5,
			total_amount = $6, amount_paid = $7, status = $8, auto_pay_zero = $9,
			manual_payment_processed = $10, notes = $11, updated_at = NOW()
		WHERE id = $1`,
		inv.ID, inv.DueDate, inv.Subtotal, inv.TaxAmount, inv.DiscountAmount, inv.TotalAmount,
		inv.AmountPaid, inv.Status, inv.AutoPayZero, inv.ManualPaymentProcessed, inv.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *invoiceRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, id); err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoices WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *invoiceRepoPG) CountOnDate(ctx context.Context, day time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM invoices WHERE invoice_date = $1::date`, day.Format("2006-01-02")).Scan(&n)
	return n, err
}

func invoiceWhere(f InvoiceFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if len(f.Statuses) > 0 {
		ss := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			ss[i] = string(s)
		}
		add("status = ANY($%d)", ss)
	}
	if f.SourceApp != "" {
		add("source_app = $%d", f.SourceApp)
	}
	if f.AdmissionID != nil {
		add("admission_id = $%d", *f.AdmissionID)
	}
	if f.PrescriptionID != nil {
		add("prescription_id = $%d", *f.PrescriptionID)
	}
	if f.DueBefore != nil {
		add("due_date < $%d::date", f.DueBefore.Format("2006-01-02"))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *invoiceRepoPG) List(ctx context.Context, f InvoiceFilter) ([]*Invoice, int, error) {
	w, args := invoiceWhere(f)
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM invoices`+w, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	q := `SELECT ` + invCols + ` FROM invoices` + w + ` ORDER BY invoice_date, created_at, number`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Invoice
	for rows.Next() {
		inv, err := r.scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, inv)
	}
	return out, total, rows.Err()
}

// -- Invoice items --

const itemCols = `id, invoice_id, service_id, description, quantity, unit_price, tax_pct,
	discount_pct, tax_amount, discount_amount, line_total`

func scanItem(row pgx.Row) (*InvoiceItem, error) {
	var it InvoiceItem
	err := row.Scan(&it.ID, &it.InvoiceID, &it.ServiceID, &it.Description, &it.Quantity, &it.UnitPrice,
		&it.TaxPct, &it.DiscountPct, &it.TaxAmount, &it.DiscountAmount, &it.LineTotal)
	return &it, err
}

func (r *invoiceRepoPG) AddItem(ctx context.Context, it *InvoiceItem) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO invoice_items (`+itemCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		it.ID, it.InvoiceID, it.ServiceID, it.Description, it.Quantity, it.UnitPrice, it.TaxPct,
		it.DiscountPct, it.TaxAmount, it.DiscountAmount, it.LineTotal)
	return err
}

func (r *invoiceRepoPG) UpdateItem(ctx context.Context, it *InvoiceItem) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE invoice_items SET service_id = $2, description = $3, quantity = $4, unit_price = $5,
			tax_pct = $6, discount_pct = $7, tax_amount = $8, discount_amount = $9, line_total = $10
		WHERE id = $1`,
		it.ID, it.ServiceID, it.Description, it.Quantity, it.UnitPrice, it.TaxPct, it.DiscountPct,
		it.TaxAmount, it.DiscountAmount, it.LineTotal)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *invoiceRepoPG) DeleteItem(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM invoice_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *invoiceRepoPG) GetItem(ctx context.Context, id uuid.UUID) (*InvoiceItem, error) {
	it, err := scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM invoice_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	return it, err
}

func (r *invoiceRepoPG) ListItems(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceItem, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM invoice_items WHERE invoice_id = $1 ORDER BY created_at, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InvoiceItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// -- Payment --

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

func (r *paymentRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const payCols = `id, invoice_id, patient_id, amount, method, source, payment_date, transaction_id,
	notes, received_by, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(&p.ID, &p.InvoiceID, &p.PatientID, &p.Amount, &p.Method, &p.Source, &p.PaymentDate,
		&p.TransactionID, &p.Notes, &p.ReceivedBy, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payments (id, invoice_id, patient_id, amount, method, source, payment_date,
			transaction_id, notes, received_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		p.ID, p.InvoiceID, p.PatientID, p.Amount, p.Method, p.Source, p.PaymentDate,
		p.TransactionID, p.Notes, p.ReceivedBy).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payment, error) {
	p, err := scanPayment(r.conn(ctx).QueryRow(ctx, `SELECT `+payCols+` FROM payments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

func (r *paymentRepoPG) Update(ctx context.Context, p *Payment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payments SET amount = $2, notes = $3, updated_at = NOW() WHERE id = $1`,
		p.ID, p.Amount, p.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM payments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+payCols+` FROM payments WHERE invoice_id = $1 ORDER BY created_at`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
