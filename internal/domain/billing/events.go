package billing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const TopicInvoiceStatusChanged = "billing.invoice_status_changed"

// InvoiceStatusChanged is published inside the transaction whenever an
// invoice's status or amount paid changes.
type InvoiceStatusChanged struct {
	InvoiceID      uuid.UUID       `json:"invoice_id"`
	PatientID      uuid.UUID       `json:"patient_id"`
	SourceApp      SourceApp       `json:"source_app"`
	AdmissionID    *uuid.UUID      `json:"admission_id,omitempty"`
	PrescriptionID *uuid.UUID      `json:"prescription_id,omitempty"`
	OldStatus      Status          `json:"old_status"`
	NewStatus      Status          `json:"new_status"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	// PaidDelta is the signed change in amount paid carried by this event.
	PaidDelta decimal.Decimal `json:"paid_delta"`
	// ManualPaymentProcessed is true when a recorded payment settled the invoice.
	ManualPaymentProcessed bool `json:"manual_payment_processed"`
	AutoPaidZero           bool `json:"auto_paid_zero"`
}

func (InvoiceStatusChanged) Topic() string { return TopicInvoiceStatusChanged }
