package inpatient

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/pkg/money"
)

var (
	ErrNotFound        = errors.New("admission not found")
	ErrWardNotFound    = errors.New("ward not found")
	ErrBedNotFound     = errors.New("bed not found")
	ErrDuplicateBed    = errors.New("bed number already exists in ward")
	ErrBedUnavailable  = errors.New("bed is inactive or occupied")
	ErrNotAdmitted     = errors.New("admission is not active")
	ErrAlreadyAdmitted = errors.New("patient already has an active admission")
	ErrInvalidStatus   = errors.New("status does not close an admission")
	// ErrInsufficientFunds is returned by wallet-capped paths when the wallet
	// has nothing to give.
	ErrInsufficientFunds = errors.New("wallet balance is not sufficient")
	ErrRecoveryExempt    = errors.New("admission is exempt from recovery")
	// ErrRunInProgress means another worker holds the run lock.
	ErrRunInProgress = errors.New("scheduled run already in progress")
	// ErrFutureDate rejects accruing or discharging on a day after today.
	ErrFutureDate = errors.New("date is after today")
)

type Ward struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	WardType     string          `json:"ward_type"`
	ChargePerDay decimal.Decimal `json:"charge_per_day"`
	Capacity     int             `json:"capacity"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Bed struct {
	ID         uuid.UUID `json:"id"`
	WardID     uuid.UUID `json:"ward_id"`
	BedNumber  string    `json:"bed_number"`
	IsOccupied bool      `json:"is_occupied"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Available reports whether a new admission may take the bed.
func (b *Bed) Available() bool { return b.IsActive && !b.IsOccupied }

type Status string

const (
	StatusAdmitted    Status = "admitted"
	StatusDischarged  Status = "discharged"
	StatusTransferred Status = "transferred"
	StatusDeceased    Status = "deceased"
)

// Closing reports whether s ends an admission.
func (s Status) Closing() bool {
	return s == StatusDischarged || s == StatusTransferred || s == StatusDeceased
}

type Admission struct {
	ID            uuid.UUID       `json:"id"`
	PatientID     uuid.UUID       `json:"patient_id"`
	BedID         uuid.UUID       `json:"bed_id"`
	WardID        uuid.UUID       `json:"ward_id"`
	AdmissionDate time.Time       `json:"admission_date"`
	DischargeDate *time.Time      `json:"discharge_date,omitempty"`
	Status        Status          `json:"status"`
	BilledAmount  decimal.Decimal `json:"billed_amount"`
	AmountPaid    decimal.Decimal `json:"amount_paid"`
	// FeeInvoiceID is the admission fee invoice, kept for later settlement.
	FeeInvoiceID *uuid.UUID `json:"fee_invoice_id,omitempty"`
	AdmittedBy   string     `json:"admitted_by,omitempty"`
	Notes        string     `json:"notes,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DurationDays is max(1, ceil(end - admission_date)) in days, where end is the
// discharge date or now.
func (a *Admission) DurationDays(now time.Time) int {
	end := now
	if a.DischargeDate != nil {
		end = *a.DischargeDate
	}
	days := int(math.Ceil(end.Sub(a.AdmissionDate).Hours() / 24))
	if days < 1 {
		return 1
	}
	return days
}

// Cost is the billing view of an admission. TotalCost projects the ward
// charge over the stay so far; Billed and Outstanding count only charges
// already raised as invoices.
type Cost struct {
	AdmissionID  uuid.UUID       `json:"admission_id"`
	IsNHIA       bool            `json:"is_nhia"`
	DurationDays int             `json:"duration_days"`
	ChargePerDay decimal.Decimal `json:"charge_per_day"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Billed       decimal.Decimal `json:"billed"`
	AmountPaid   decimal.Decimal `json:"amount_paid"`
	Outstanding  decimal.Decimal `json:"outstanding"`
}

// CostOf derives the cost view from the admission's invoices. Outstanding is
// the balance left on its unpaid invoices, so days not yet accrued are never
// owed. NHIA admissions cost nothing.
func CostOf(a *Admission, ward *Ward, invoices []*billing.Invoice, isNHIA bool, now time.Time) Cost {
	c := Cost{
		AdmissionID:  a.ID,
		IsNHIA:       isNHIA,
		DurationDays: a.DurationDays(now),
		ChargePerDay: ward.ChargePerDay,
		TotalCost:    decimal.Zero,
		Billed:       decimal.Zero,
		AmountPaid:   a.AmountPaid,
		Outstanding:  decimal.Zero,
	}
	if isNHIA {
		return c
	}
	c.TotalCost = money.Round(ward.ChargePerDay.Mul(decimal.NewFromInt(int64(c.DurationDays))))
	for _, inv := range invoices {
		if inv.Status == billing.StatusDraft || inv.Status == billing.StatusCancelled {
			continue
		}
		c.Billed = c.Billed.Add(inv.TotalAmount)
		if inv.Status.Unpaid() {
			c.Outstanding = c.Outstanding.Add(inv.Balance())
		}
	}
	return c
}

// AdmissionResult reports what CreateAdmission and ChargeAdmissionFee did.
type AdmissionResult struct {
	Admission *Admission `json:"admission"`
	InvoiceID *uuid.UUID `json:"invoice_id,omitempty"`
	Charged   bool       `json:"charged"`
	Exempt    bool       `json:"exempt"`
	Message   string     `json:"message"`
}

// AccrualReport summarizes one daily accrual run.
type AccrualReport struct {
	Date       time.Time       `json:"date"`
	Admissions int             `json:"admissions"`
	Charged    int             `json:"charged"`
	Skipped    int             `json:"skipped"`
	Exempt     int             `json:"exempt"`
	Failed     int             `json:"failed"`
	Total      decimal.Decimal `json:"total"`
}
