package pharmacy

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/pkg/money"
)

var (
	ErrNotFound         = errors.New("prescription not found")
	ErrAlreadyInvoiced  = errors.New("prescription already has a pharmacy invoice")
	ErrAlreadyDispensed = errors.New("prescription already dispensed")
	// ErrDispenseBlocked is returned when neither a paid invoice nor an NHIA
	// authorization covers the prescription.
	ErrDispenseBlocked = errors.New("prescription is not cleared for dispensing")
)

type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "unpaid"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentPaid          PaymentStatus = "paid"
)

type Prescription struct {
	ID            uuid.UUID     `json:"id"`
	PatientID     uuid.UUID     `json:"patient_id"`
	PrescribedBy  string        `json:"prescribed_by,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	InvoiceID     *uuid.UUID    `json:"invoice_id,omitempty"`
	DispensedAt   *time.Time    `json:"dispensed_at,omitempty"`
	DispensedBy   string        `json:"dispensed_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Items         []Item        `json:"items"`
}

type Item struct {
	ID             uuid.UUID       `json:"id"`
	PrescriptionID uuid.UUID       `json:"prescription_id"`
	Medication     string          `json:"medication"`
	Dosage         string          `json:"dosage,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
}

// LineTotal is unit price times quantity.
func (it *Item) LineTotal() decimal.Decimal {
	return money.Round(it.UnitPrice.Mul(it.Quantity))
}

// TotalPrescribedPrice sums the item line totals.
func (p *Prescription) TotalPrescribedPrice() decimal.Decimal {
	total := decimal.Zero
	for i := range p.Items {
		total = total.Add(p.Items[i].LineTotal())
	}
	return total
}

func (p *Prescription) Dispensed() bool { return p.DispensedAt != nil }

// DispenseCheck explains whether a prescription may be dispensed.
type DispenseCheck struct {
	PrescriptionID uuid.UUID       `json:"prescription_id"`
	Allowed        bool            `json:"allowed"`
	Reason         string          `json:"reason"`
	IsNHIA         bool            `json:"is_nhia"`
	PatientPayable decimal.Decimal `json:"patient_payable"`
}
