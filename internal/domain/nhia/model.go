package nhia

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound = errors.New("nhia record not found")
	// ErrAuthorizationRequired blocks a clinical workflow on an NHIA patient
	// that has no active, unexpired, compatible authorization code.
	ErrAuthorizationRequired = errors.New("nhia authorization code required")
)

// Registration links a patient to the insurance scheme.
type Registration struct {
	ID         uuid.UUID `json:"id"`
	PatientID  uuid.UUID `json:"patient_id"`
	NHIANumber string    `json:"nhia_number"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type AuthorizationStatus string

const (
	AuthorizationActive    AuthorizationStatus = "active"
	AuthorizationUsed      AuthorizationStatus = "used"
	AuthorizationExpired   AuthorizationStatus = "expired"
	AuthorizationCancelled AuthorizationStatus = "cancelled"
)

// ServiceTypeGeneral on a code authorizes every service type.
const ServiceTypeGeneral = "general"

// AuthorizationCode is the front-desk credential that unlocks a clinical
// workflow for an NHIA patient.
type AuthorizationCode struct {
	ID          uuid.UUID           `json:"id"`
	PatientID   uuid.UUID           `json:"patient_id"`
	Code        string              `json:"code"`
	ServiceType string              `json:"service_type"`
	Status      AuthorizationStatus `json:"status"`
	IssuedBy    string              `json:"issued_by,omitempty"`
	IssuedAt    time.Time           `json:"issued_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

// ValidAt reports whether the code can be used for serviceType at t.
func (a *AuthorizationCode) ValidAt(t time.Time, serviceType string) bool {
	if a.Status != AuthorizationActive || !t.Before(a.ExpiresAt) {
		return false
	}
	return a.ServiceType == ServiceTypeGeneral || serviceType == "" || a.ServiceType == serviceType
}

// ServiceKind is what a charge is for, as far as exemption policy cares.
type ServiceKind string

const (
	ServiceAdmissionFee         ServiceKind = "admission_fee"
	ServiceDailyAdmissionCharge ServiceKind = "daily_admission_charge"
	ServiceLaboratory           ServiceKind = "laboratory"
	ServiceRadiology            ServiceKind = "radiology"
	ServicePharmacy             ServiceKind = "pharmacy"
	ServiceOther                ServiceKind = "other"
)

// Outcome is the gate's decision for one (patient, service kind).
type Outcome struct {
	// Chargeable is false when no invoice or wallet debit may be raised.
	Chargeable bool `json:"chargeable"`
	// Share is the fraction of the list price the patient pays.
	Share  decimal.Decimal `json:"share"`
	IsNHIA bool            `json:"is_nhia"`
	Reason string          `json:"reason,omitempty"`
}

// Status is the registry answer for a patient.
type Status struct {
	IsNHIA             bool   `json:"is_nhia"`
	AuthorizationValid bool   `json:"authorization_valid"`
	ServiceType        string `json:"service_type,omitempty"`
}
