package pharmacy

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const prescriptionCols = `id, patient_id, prescribed_by, notes, payment_status, invoice_id,
	dispensed_at, dispensed_by, created_at, updated_at`

func (r *repoPG) scan(row pgx.Row) (*Prescription, error) {
	var p Prescription
	err := row.Scan(&p.ID, &p.PatientID, &p.PrescribedBy, &p.Notes, &p.PaymentStatus, &p.InvoiceID,
		&p.DispensedAt, &p.DispensedBy, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &p, err
}

func (r *repoPG) Create(ctx context.Context, p *Prescription) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return db.Savepoint(ctx, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO prescriptions (id, patient_id, prescribed_by, notes, payment_status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING created_at, updated_at`,
			p.ID, p.PatientID, p.PrescribedBy, p.Notes, p.PaymentStatus).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return err
		}
		for i := range p.Items {
			it := &p.Items[i]
			if it.ID == uuid.Nil {
				it.ID = uuid.New()
			}
			it.PrescriptionID = p.ID
			if _, err := r.conn(ctx).Exec(ctx, `
				INSERT INTO prescription_items (id, prescription_id, medication, dosage, quantity, unit_price)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				it.ID, it.PrescriptionID, it.Medication, it.Dosage, it.Quantity, it.UnitPrice); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repoPG) items(ctx context.Context, p *Prescription) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, prescription_id, medication, dosage, quantity, unit_price
		FROM prescription_items WHERE prescription_id = $1 ORDER BY created_at, id`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	p.Items = nil
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.PrescriptionID, &it.Medication, &it.Dosage, &it.Quantity, &it.UnitPrice); err != nil {
			return err
		}
		p.Items = append(p.Items, it)
	}
	return rows.Err()
}

func (r *repoPG) get(ctx context.Context, id uuid.UUID, suffix string) (*Prescription, error) {
	p, err := r.scan(r.conn(ctx).QueryRow(ctx,
		`SELECT `+prescriptionCols+` FROM prescriptions WHERE id = $1`+suffix, id))
	if err != nil {
		return nil, err
	}
	if err := r.items(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.get(ctx, id, "")
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return r.get(ctx, id, " FOR UPDATE")
}

func (r *repoPG) Update(ctx context.Context, p *Prescription) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE prescriptions
		SET payment_status = $2, invoice_id = $3, dispensed_at = $4, dispensed_by = $5, notes = $6, updated_at = NOW()
		WHERE id = $1`,
		p.ID, p.PaymentStatus, p.InvoiceID, p.DispensedAt, p.DispensedBy, p.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM prescriptions WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+prescriptionCols+` FROM prescriptions
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	var out []*Prescription
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			rows.Close()
			return nil, 0, err
		}
		out = append(out, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, p := range out {
		if err := r.items(ctx, p); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}
