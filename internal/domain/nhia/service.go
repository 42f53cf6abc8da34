package nhia

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/patient"
)

// DefaultPharmacyShare is the fraction of medication cost an NHIA patient pays.
var DefaultPharmacyShare = decimal.RequireFromString("0.10")

// DefaultAuthorizationTTL is how long a freshly issued code stays valid.
const DefaultAuthorizationTTL = 24 * time.Hour

// Gate is the single place clinical and financial code asks whether an
// NHIA patient may be charged, and how much.
type Gate struct {
	patients      patient.Repository
	repo          Repository
	pharmacyShare decimal.Decimal
	log           zerolog.Logger
	now           func() time.Time
}

func NewGate(patients patient.Repository, repo Repository, pharmacyShare decimal.Decimal, logger zerolog.Logger) *Gate {
	if pharmacyShare.IsZero() {
		pharmacyShare = DefaultPharmacyShare
	}
	return &Gate{
		patients:      patients,
		repo:          repo,
		pharmacyShare: pharmacyShare,
		log:           logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// PharmacyShare returns the configured patient share for medication.
func (g *Gate) PharmacyShare() decimal.Decimal { return g.pharmacyShare }

// IsNHIA is true iff the patient's kind is nhia and an active registration exists.
func (g *Gate) IsNHIA(ctx context.Context, patientID uuid.UUID) (bool, error) {
	p, err := g.patients.GetByID(ctx, patientID)
	if err != nil {
		return false, err
	}
	if p.Kind != patient.KindNHIA {
		return false, nil
	}
	reg, err := g.repo.GetRegistration(ctx, patientID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return reg.IsActive, nil
}

// Classify applies the exemption table to one (patient, service kind).
func (g *Gate) Classify(ctx context.Context, patientID uuid.UUID, kind ServiceKind) (Outcome, error) {
	isNHIA, err := g.IsNHIA(ctx, patientID)
	if err != nil {
		return Outcome{}, err
	}
	if !isNHIA {
		return Outcome{Chargeable: true, Share: decimal.NewFromInt(1)}, nil
	}
	switch kind {
	case ServiceAdmissionFee, ServiceDailyAdmissionCharge:
		return Outcome{IsNHIA: true, Share: decimal.Zero, Reason: "admission charges are covered by NHIA"}, nil
	case ServiceLaboratory, ServiceRadiology:
		return Outcome{IsNHIA: true, Share: decimal.Zero, Reason: "diagnostic tests are covered by NHIA"}, nil
	case ServicePharmacy:
		return Outcome{Chargeable: true, IsNHIA: true, Share: g.pharmacyShare, Reason: "NHIA patient pays a share of medication cost"}, nil
	default:
		return Outcome{Chargeable: true, IsNHIA: true, Share: decimal.NewFromInt(1)}, nil
	}
}

// Lookup answers the registry question for a patient and service type.
func (g *Gate) Lookup(ctx context.Context, patientID uuid.UUID, serviceType string) (*Status, error) {
	isNHIA, err := g.IsNHIA(ctx, patientID)
	if err != nil {
		return nil, err
	}
	st := &Status{IsNHIA: isNHIA}
	if !isNHIA {
		return st, nil
	}
	code, err := g.activeCode(ctx, patientID, serviceType)
	if err != nil {
		return nil, err
	}
	if code != nil {
		st.AuthorizationValid = true
		st.ServiceType = code.ServiceType
	}
	return st, nil
}

// RequireAuthorization returns ErrAuthorizationRequired for an NHIA patient
// without a usable code. Non-NHIA patients always pass.
func (g *Gate) RequireAuthorization(ctx context.Context, patientID uuid.UUID, serviceType string) error {
	st, err := g.Lookup(ctx, patientID, serviceType)
	if err != nil {
		return err
	}
	if st.IsNHIA && !st.AuthorizationValid {
		return ErrAuthorizationRequired
	}
	return nil
}

// HasValidAuthorization reports whether an NHIA patient holds a usable code.
func (g *Gate) HasValidAuthorization(ctx context.Context, patientID uuid.UUID, serviceType string) (bool, error) {
	st, err := g.Lookup(ctx, patientID, serviceType)
	if err != nil {
		return false, err
	}
	return st.IsNHIA && st.AuthorizationValid, nil
}

func (g *Gate) activeCode(ctx context.Context, patientID uuid.UUID, serviceType string) (*AuthorizationCode, error) {
	codes, err := g.repo.ListAuthorizations(ctx, patientID)
	if err != nil {
		return nil, err
	}
	now := g.now()
	for _, c := range codes {
		if c.ValidAt(now, serviceType) {
			return c, nil
		}
	}
	return nil, nil
}

// Enroll records an active registration and moves the patient to kind nhia.
func (g *Gate) Enroll(ctx context.Context, patientID uuid.UUID, nhiaNumber string) (*Registration, error) {
	nhiaNumber = strings.TrimSpace(nhiaNumber)
	if nhiaNumber == "" {
		return nil, fmt.Errorf("nhia_number is required")
	}
	p, err := g.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	reg := &Registration{PatientID: patientID, NHIANumber: nhiaNumber, IsActive: true}
	if err := g.repo.SaveRegistration(ctx, reg); err != nil {
		return nil, fmt.Errorf("save registration: %w", err)
	}
	if p.Kind != patient.KindNHIA {
		p.Kind = patient.KindNHIA
		if err := g.patients.Update(ctx, p); err != nil {
			return nil, fmt.Errorf("update patient kind: %w", err)
		}
	}
	g.log.Info().Str("patient_id", patientID.String()).Str("nhia_number", nhiaNumber).Msg("nhia registration saved")
	return reg, nil
}

// Deactivate keeps the registration on file but stops exemptions.
func (g *Gate) Deactivate(ctx context.Context, patientID uuid.UUID) error {
	reg, err := g.repo.GetRegistration(ctx, patientID)
	if err != nil {
		return err
	}
	reg.IsActive = false
	return g.repo.SaveRegistration(ctx, reg)
}

// IssueAuthorization creates a new active code for an enrolled patient.
func (g *Gate) IssueAuthorization(ctx context.Context, patientID uuid.UUID, serviceType, issuedBy string, ttl time.Duration) (*AuthorizationCode, error) {
	if _, err := g.repo.GetRegistration(ctx, patientID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("patient %s is not enrolled in NHIA", patientID)
		}
		return nil, err
	}
	if serviceType == "" {
		serviceType = ServiceTypeGeneral
	}
	if ttl <= 0 {
		ttl = DefaultAuthorizationTTL
	}
	code, err := newCode()
	if err != nil {
		return nil, err
	}
	now := g.now()
	a := &AuthorizationCode{
		PatientID:   patientID,
		Code:        code,
		ServiceType: serviceType,
		Status:      AuthorizationActive,
		IssuedBy:    issuedBy,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := g.repo.CreateAuthorization(ctx, a); err != nil {
		return nil, fmt.Errorf("create authorization: %w", err)
	}
	return a, nil
}

func (g *Gate) CancelAuthorization(ctx context.Context, id uuid.UUID) error {
	return g.repo.UpdateAuthorizationStatus(ctx, id, AuthorizationCancelled)
}

// ExpireStale marks every active code past its expiry as expired.
func (g *Gate) ExpireStale(ctx context.Context) (int, error) {
	return g.repo.ExpireAuthorizations(ctx, g.now())
}

func newCode() (string, error) {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate authorization code: %w", err)
	}
	return "NHIA-" + strings.ToUpper(hex.EncodeToString(b)), nil
}
