package billing

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/wallet"
	"github.com/hms/hms/pkg/money"
)

var (
	ErrNotFound        = errors.New("invoice not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrItemNotFound    = errors.New("invoice item not found")
	// ErrInvalidAmount is shared with the wallet so callers test one sentinel.
	ErrInvalidAmount       = wallet.ErrInvalidAmount
	ErrOverpaymentRejected = errors.New("payment exceeds invoice balance")
	// ErrInvoiceLocked guards paid and cancelled invoices, and invoices with payments.
	ErrInvoiceLocked   = errors.New("invoice is locked")
	ErrDuplicateNumber = errors.New("invoice number already exists")
)

type Status string

const (
	StatusDraft         Status = "draft"
	StatusPending       Status = "pending"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusOverdue       Status = "overdue"
	StatusCancelled     Status = "cancelled"
)

// UnpaidStatuses are the statuses that still expect money.
var UnpaidStatuses = []Status{StatusPending, StatusPartiallyPaid, StatusOverdue}

func (s Status) Unpaid() bool {
	for _, u := range UnpaidStatuses {
		if s == u {
			return true
		}
	}
	return false
}

type SourceApp string

const (
	SourcePharmacy    SourceApp = "pharmacy"
	SourceLaboratory  SourceApp = "laboratory"
	SourceRadiology   SourceApp = "radiology"
	SourceAppointment SourceApp = "appointment"
	SourceInpatient   SourceApp = "inpatient"
	SourceTheatre     SourceApp = "theatre"
	SourceBilling     SourceApp = "billing"
)

var ledgerKinds = map[SourceApp]wallet.Kind{
	SourcePharmacy:    wallet.KindPharmacyPayment,
	SourceLaboratory:  wallet.KindLabTestPayment,
	SourceRadiology:   wallet.KindLabTestPayment,
	SourceAppointment: wallet.KindConsultationFee,
	SourceTheatre:     wallet.KindProcedureFee,
	SourceInpatient:   wallet.KindAdmissionFee,
	SourceBilling:     wallet.KindPayment,
}

func (s SourceApp) Valid() bool {
	_, ok := ledgerKinds[s]
	return ok
}

// LedgerKind is the journal kind used when a wallet pays an invoice from s.
func (s SourceApp) LedgerKind() wallet.Kind {
	if k, ok := ledgerKinds[s]; ok {
		return k
	}
	return wallet.KindPayment
}

// Clinical sources need an NHIA authorization code before an invoice is raised.
func (s SourceApp) Clinical() bool {
	switch s {
	case SourcePharmacy, SourceLaboratory, SourceRadiology, SourceAppointment, SourceTheatre:
		return true
	}
	return false
}

type Method string

const (
	MethodCash         Method = "cash"
	MethodCard         Method = "card"
	MethodBankTransfer Method = "bank_transfer"
	MethodUPI          Method = "upi"
	MethodNetBanking   Method = "net_banking"
	MethodInsurance    Method = "insurance"
	MethodWallet       Method = "wallet"
	MethodCheque       Method = "cheque"
	MethodOther        Method = "other"
)

var validMethods = map[Method]bool{
	MethodCash: true, MethodCard: true, MethodBankTransfer: true, MethodUPI: true,
	MethodNetBanking: true, MethodInsurance: true, MethodWallet: true, MethodCheque: true, MethodOther: true,
}

func (m Method) Valid() bool { return validMethods[m] }

type PaymentSource string

const (
	SourceBillingOffice PaymentSource = "billing_office"
	SourcePatientWallet PaymentSource = "patient_wallet"
	SourceDepartment    PaymentSource = "department"
	SourceInsurance     PaymentSource = "insurance"
	SourceCorporate     PaymentSource = "corporate"
)

func (p PaymentSource) Valid() bool {
	switch p {
	case SourceBillingOffice, SourcePatientWallet, SourceDepartment, SourceInsurance, SourceCorporate:
		return true
	}
	return false
}

type Invoice struct {
	ID             uuid.UUID       `json:"id"`
	PatientID      uuid.UUID       `json:"patient_id"`
	Number         string          `json:"number"`
	SourceApp      SourceApp       `json:"source_app"`
	AdmissionID    *uuid.UUID      `json:"admission_id,omitempty"`
	PrescriptionID *uuid.UUID      `json:"prescription_id,omitempty"`
	TestRequestID  *uuid.UUID      `json:"test_request_id,omitempty"`
	InvoiceDate    time.Time       `json:"invoice_date"`
	DueDate        time.Time       `json:"due_date"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	Status         Status          `json:"status"`
	// AutoPayZero lets a zero-total invoice become paid.
	AutoPayZero bool `json:"auto_pay_zero"`
	// ManualPaymentProcessed is set when a recorded payment settled the invoice.
	ManualPaymentProcessed bool          `json:"manual_payment_processed"`
	Notes                  string        `json:"notes,omitempty"`
	CreatedBy              string        `json:"created_by,omitempty"`
	CreatedAt              time.Time     `json:"created_at"`
	UpdatedAt              time.Time     `json:"updated_at"`
	Items                  []InvoiceItem `json:"items,omitempty"`
}

// Balance is what remains to be paid, never negative.
func (inv *Invoice) Balance() decimal.Decimal {
	return money.ClampZero(inv.TotalAmount.Sub(inv.AmountPaid))
}

// Locked reports whether items and totals may no longer change.
func (inv *Invoice) Locked() bool {
	return inv.Status == StatusPaid || inv.Status == StatusCancelled
}

// Recompute sets Subtotal from the items and TotalAmount from
// subtotal + tax - discount.
func (inv *Invoice) Recompute() {
	subtotal := decimal.Zero
	for i := range inv.Items {
		inv.Items[i].Recompute()
		subtotal = subtotal.Add(inv.Items[i].LineTotal)
	}
	inv.Subtotal = money.Round(subtotal)
	inv.TaxAmount = money.Round(inv.TaxAmount)
	inv.DiscountAmount = money.Round(inv.DiscountAmount)
	inv.TotalAmount = inv.Subtotal.Add(inv.TaxAmount).Sub(inv.DiscountAmount)
}

type InvoiceItem struct {
	ID             uuid.UUID       `json:"id"`
	InvoiceID      uuid.UUID       `json:"invoice_id"`
	ServiceID      *uuid.UUID      `json:"service_id,omitempty"`
	Description    string          `json:"description"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	TaxPct         decimal.Decimal `json:"tax_pct"`
	DiscountPct    decimal.Decimal `json:"discount_pct"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	LineTotal      decimal.Decimal `json:"line_total"`
}

// Recompute derives tax, discount and line total from price, quantity and rates.
func (it *InvoiceItem) Recompute() {
	gross := it.UnitPrice.Mul(it.Quantity)
	it.TaxAmount = money.Percent(gross, it.TaxPct)
	it.DiscountAmount = money.Percent(gross, it.DiscountPct)
	it.LineTotal = money.Round(gross).Add(it.TaxAmount).Sub(it.DiscountAmount)
}

type Payment struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceID     uuid.UUID       `json:"invoice_id"`
	PatientID     uuid.UUID       `json:"patient_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        Method          `json:"method"`
	Source        PaymentSource   `json:"source"`
	PaymentDate   time.Time       `json:"payment_date"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	ReceivedBy    string          `json:"received_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// PaymentRequest is the input to Recorder.ProcessPayment.
type PaymentRequest struct {
	InvoiceID     uuid.UUID
	Amount        decimal.Decimal
	Source        PaymentSource
	Method        Method
	PaymentDate   time.Time
	TransactionID string
	Notes         string
	ReceivedBy    string
	// LedgerKind overrides the journal kind derived from the invoice source.
	LedgerKind  wallet.Kind
	ServiceDate *time.Time
}

// Outcome is what a payment caller sees.
type Outcome struct {
	OK             bool            `json:"ok"`
	Message        string          `json:"message"`
	Exempt         bool            `json:"exempt,omitempty"`
	Payment        *Payment        `json:"payment,omitempty"`
	InvoiceStatus  Status          `json:"invoice_status,omitempty"`
	InvoiceBalance decimal.Decimal `json:"invoice_balance"`
}

// InvoiceFilter narrows invoice listings. Zero fields match everything.
type InvoiceFilter struct {
	PatientID      *uuid.UUID
	Statuses       []Status
	SourceApp      SourceApp
	AdmissionID    *uuid.UUID
	PrescriptionID *uuid.UUID
	DueBefore      *time.Time
	Limit          int
	Offset         int
}

func (f InvoiceFilter) Match(inv *Invoice) bool {
	if f.PatientID != nil && inv.PatientID != *f.PatientID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if inv.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.SourceApp != "" && inv.SourceApp != f.SourceApp {
		return false
	}
	if f.AdmissionID != nil && (inv.AdmissionID == nil || *inv.AdmissionID != *f.AdmissionID) {
		return false
	}
	if f.PrescriptionID != nil && (inv.PrescriptionID == nil || *inv.PrescriptionID != *f.PrescriptionID) {
		return false
	}
	if f.DueBefore != nil && !inv.DueDate.Before(*f.DueBefore) {
		return false
	}
	return true
}
