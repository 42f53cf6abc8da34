package inpatient

import (
	"context"

	"github.com/google/uuid"
)

type WardRepository interface {
	CreateWard(ctx context.Context, w *Ward) error
	GetWard(ctx context.Context, id uuid.UUID) (*Ward, error)
	UpdateWard(ctx context.Context, w *Ward) error
	ListWards(ctx context.Context) ([]*Ward, error)

	// CreateBed returns ErrDuplicateBed when the number is taken in the ward.
	CreateBed(ctx context.Context, b *Bed) error
	GetBed(ctx context.Context, id uuid.UUID) (*Bed, error)
	// GetBedForUpdate takes the per-bed row lock.
	GetBedForUpdate(ctx context.Context, id uuid.UUID) (*Bed, error)
	UpdateBed(ctx context.Context, b *Bed) error
	ListBeds(ctx context.Context, wardID uuid.UUID) ([]*Bed, error)
}

type AdmissionRepository interface {
	Create(ctx context.Context, a *Admission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Admission, error)
	Update(ctx context.Context, a *Admission) error
	// ListActive returns admitted admissions, oldest admission first.
	ListActive(ctx context.Context) ([]*Admission, error)
	HasActive(ctx context.Context, patientID uuid.UUID) (bool, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Admission, int, error)
}
