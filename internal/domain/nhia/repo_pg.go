package nhia

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

func (r *repoPG) GetRegistration(ctx context.Context, patientID uuid.UUID) (*Registration, error) {
	var reg Registration
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, nhia_number, is_active, created_at, updated_at
		FROM nhia_registrations WHERE patient_id = $1`, patientID).
		Scan(&reg.ID, &reg.PatientID, &reg.NHIANumber, &reg.IsActive, &reg.CreatedAt, &reg.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &reg, err
}

func (r *repoPG) SaveRegistration(ctx context.Context, reg *Registration) error {
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO nhia_registrations (id, patient_id, nhia_number, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (patient_id) DO UPDATE
			SET nhia_number = EXCLUDED.nhia_number, is_active = EXCLUDED.is_active, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		reg.ID, reg.PatientID, reg.NHIANumber, reg.IsActive).Scan(&reg.ID, &reg.CreatedAt, &reg.UpdatedAt)
}

const authCols = `id, patient_id, code, service_type, status, issued_by, issued_at, expires_at`

func (r *repoPG) CreateAuthorization(ctx context.Context, a *AuthorizationCode) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO nhia_authorization_codes (`+authCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.PatientID, a.Code, a.ServiceType, a.Status, a.IssuedBy, a.IssuedAt, a.ExpiresAt)
	return err
}

func (r *repoPG) ListAuthorizations(ctx context.Context, patientID uuid.UUID) ([]*AuthorizationCode, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+authCols+` FROM nhia_authorization_codes
		WHERE patient_id = $1 ORDER BY issued_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*AuthorizationCode
	for rows.Next() {
		var a AuthorizationCode
		if err := rows.Scan(&a.ID, &a.PatientID, &a.Code, &a.ServiceType, &a.Status, &a.IssuedBy, &a.IssuedAt, &a.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (r *repoPG) UpdateAuthorizationStatus(ctx context.Context, id uuid.UUID, status AuthorizationStatus) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE nhia_authorization_codes SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ExpireAuthorizations(ctx context.Context, now time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE nhia_authorization_codes SET status = 'expired'
		WHERE status = 'active' AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
