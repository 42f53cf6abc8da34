package nhia

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	// GetRegistration returns ErrNotFound when the patient was never enrolled.
	GetRegistration(ctx context.Context, patientID uuid.UUID) (*Registration, error)
	SaveRegistration(ctx context.Context, r *Registration) error
	CreateAuthorization(ctx context.Context, a *AuthorizationCode) error
	// ListAuthorizations returns the patient's codes, newest first.
	ListAuthorizations(ctx context.Context, patientID uuid.UUID) ([]*AuthorizationCode, error)
	UpdateAuthorizationStatus(ctx context.Context, id uuid.UUID, status AuthorizationStatus) error
	ExpireAuthorizations(ctx context.Context, now time.Time) (int, error)
}
