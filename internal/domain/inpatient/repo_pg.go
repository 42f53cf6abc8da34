package inpatient

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type wardRepoPG struct{ pool *pgxpool.Pool }

func NewWardRepoPG(pool *pgxpool.Pool) WardRepository { return &wardRepoPG{pool: pool} }

func (r *wardRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const wardCols = `id, name, ward_type, charge_per_day, capacity, is_active, created_at, updated_at`

func scanWard(row pgx.Row) (*Ward, error) {
	var w Ward
	err := row.Scan(&w.ID, &w.Name, &w.WardType, &w.ChargePerDay, &w.Capacity, &w.IsActive, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWardNotFound
	}
	return &w, err
}

func (r *wardRepoPG) CreateWard(ctx context.Context, w *Ward) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO wards (id, name, ward_type, charge_per_day, capacity, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		w.ID, w.Name, w.WardType, w.ChargePerDay, w.Capacity, w.IsActive).Scan(&w.CreatedAt, &w.UpdatedAt)
}

func (r *wardRepoPG) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return scanWard(r.conn(ctx).QueryRow(ctx, `SELECT `+wardCols+` FROM wards WHERE id = $1`, id))
}

func (r *wardRepoPG) UpdateWard(ctx context.Context, w *Ward) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE wards SET name = $2, ward_type = $3, charge_per_day = $4, capacity = $5, is_active = $6, updated_at = NOW()
		WHERE id = $1`,
		w.ID, w.Name, w.WardType, w.ChargePerDay, w.Capacity, w.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWardNotFound
	}
	return nil
}

func (r *wardRepoPG) ListWards(ctx context.Context) ([]*Ward, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+wardCols+` FROM wards ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Ward
	for rows.Next() {
		w, err := scanWard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

const bedCols = `id, ward_id, bed_number, is_occupied, is_active, created_at, updated_at`

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	err := row.Scan(&b.ID, &b.WardID, &b.BedNumber, &b.IsOccupied, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBedNotFound
	}
	return &b, err
}

func (r *wardRepoPG) CreateBed(ctx context.Context, b *Bed) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO beds (id, ward_id, bed_number, is_occupied, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		b.ID, b.WardID, b.BedNumber, b.IsOccupied, b.IsActive).Scan(&b.CreatedAt, &b.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateBed
	}
	return err
}

func (r *wardRepoPG) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return scanBed(r.conn(ctx).QueryRow(ctx, `SELECT `+bedCols+` FROM beds WHERE id = $1`, id))
}

func (r *wardRepoPG) GetBedForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return scanBed(r.conn(ctx).QueryRow(ctx, `SELECT `+bedCols+` FROM beds WHERE id = $1 FOR UPDATE`, id))
}

func (r *wardRepoPG) UpdateBed(ctx context.Context, b *Bed) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE beds SET bed_number = $2, is_occupied = $3, is_active = $4, updated_at = NOW()
		WHERE id = $1`,
		b.ID, b.BedNumber, b.IsOccupied, b.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBedNotFound
	}
	return nil
}

func (r *wardRepoPG) ListBeds(ctx context.Context, wardID uuid.UUID) ([]*Bed, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+bedCols+` FROM beds WHERE ward_id = $1 ORDER BY bed_number`, wardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type admissionRepoPG struct{ pool *pgxpool.Pool }

func NewAdmissionRepoPG(pool *pgxpool.Pool) AdmissionRepository { return &admissionRepoPG{pool: pool} }

func (r *admissionRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const admissionCols = `id, patient_id, bed_id, ward_id, admission_date, discharge_date, status,
	billed_amount, amount_paid, fee_invoice_id, admitted_by, notes, created_at, updated_at`

func scanAdmission(row pgx.Row) (*Admission, error) {
	var a Admission
	err := row.Scan(&a.ID, &a.PatientID, &a.BedID, &a.WardID, &a.AdmissionDate, &a.DischargeDate, &a.Status,
		&a.BilledAmount, &a.AmountPaid, &a.FeeInvoiceID, &a.AdmittedBy, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (r *admissionRepoPG) Create(ctx context.Context, a *Admission) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO admissions (id, patient_id, bed_id, ward_id, admission_date, status,
			billed_amount, amount_paid, admitted_by, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.BedID, a.WardID, a.AdmissionDate, a.Status,
		a.BilledAmount, a.AmountPaid, a.AdmittedBy, a.Notes).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *admissionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admissionCols+` FROM admissions WHERE id = $1`, id))
}

func (r *admissionRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return scanAdmission(r.conn(ctx).QueryRow(ctx, `SELECT `+admissionCols+` FROM admissions WHERE id = $1 FOR UPDATE`, id))
}

func (r *admissionRepoPG) Update(ctx context.Context, a *Admission) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE admissions
		SET bed_id = $2, ward_id = $3, discharge_date = $4, status = $5, billed_amount = $6,
			amount_paid = $7, fee_invoice_id = $8, notes = $9, updated_at = NOW()
		WHERE id = $1`,
		a.ID, a.BedID, a.WardID, a.DischargeDate, a.Status, a.BilledAmount,
		a.AmountPaid, a.FeeInvoiceID, a.Notes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *admissionRepoPG) list(ctx context.Context, q string, args ...interface{}) ([]*Admission, error) {
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Admission
	for rows.Next() {
		a, err := scanAdmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *admissionRepoPG) ListActive(ctx context.Context) ([]*Admission, error) {
	return r.list(ctx, `SELECT `+admissionCols+` FROM admissions WHERE status = $1 ORDER BY admission_date, id`, StatusAdmitted)
}

func (r *admissionRepoPG) HasActive(ctx context.Context, patientID uuid.UUID) (bool, error) {
	var ok bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM admissions WHERE patient_id = $1 AND status = $2)`,
		patientID, StatusAdmitted).Scan(&ok)
	return ok, err
}

func (r *admissionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Admission, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM admissions WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	out, err := r.list(ctx, `
		SELECT `+admissionCols+` FROM admissions
		WHERE patient_id = $1 ORDER BY admission_date DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}
