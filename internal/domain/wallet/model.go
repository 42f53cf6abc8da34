package wallet

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrWalletMissing is returned by read paths that do not create wallets.
	ErrWalletMissing = errors.New("wallet not found")
	ErrInvalidKind   = errors.New("invalid transaction kind")
)

type Kind string

const (
	KindDeposit                      Kind = "deposit"
	KindRefund                       Kind = "refund"
	KindPayment                      Kind = "payment"
	KindLabTestPayment               Kind = "lab_test_payment"
	KindPharmacyPayment              Kind = "pharmacy_payment"
	KindConsultationFee              Kind = "consultation_fee"
	KindProcedureFee                 Kind = "procedure_fee"
	KindAdmissionFee                 Kind = "admission_fee"
	KindDailyAdmissionCharge         Kind = "daily_admission_charge"
	KindOutstandingAdmissionRecovery Kind = "outstanding_admission_recovery"
	KindAdjustment                   Kind = "adjustment"
	KindReversal                     Kind = "reversal"
)

var validKinds = map[Kind]bool{
	KindDeposit: true, KindRefund: true, KindPayment: true, KindLabTestPayment: true,
	KindPharmacyPayment: true, KindConsultationFee: true, KindProcedureFee: true,
	KindAdmissionFee: true, KindDailyAdmissionCharge: true,
	KindOutstandingAdmissionRecovery: true, KindAdjustment: true, KindReversal: true,
}

func (k Kind) Valid() bool { return validKinds[k] }

type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// Wallet is the per-patient balance. Balance may be negative.
type Wallet struct {
	ID        uuid.UUID       `json:"id"`
	PatientID uuid.UUID       `json:"patient_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is one journal entry. Amount is always a positive magnitude;
// Direction carries the sign.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	WalletID     uuid.UUID       `json:"wallet_id"`
	Seq          int64           `json:"seq"`
	Kind         Kind            `json:"kind"`
	Direction    Direction       `json:"direction"`
	Amount       decimal.Decimal `json:"amount"`
	BalanceAfter decimal.Decimal `json:"balance_after"`
	Description  string          `json:"description"`
	InvoiceID    *uuid.UUID      `json:"invoice_id,omitempty"`
	PaymentID    *uuid.UUID      `json:"payment_id,omitempty"`
	AdmissionID  *uuid.UUID      `json:"admission_id,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	// ServiceDate is the calendar day a dated charge covers (daily accrual).
	ServiceDate *time.Time `json:"service_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Signed returns the amount with the journal sign applied.
func (t *Transaction) Signed() decimal.Decimal {
	if t.Direction == Debit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Posting is the input to Credit and Debit.
type Posting struct {
	Amount      decimal.Decimal
	Kind        Kind
	Description string
	UserID      string
	InvoiceID   *uuid.UUID
	PaymentID   *uuid.UUID
	AdmissionID *uuid.UUID
	ServiceDate *time.Time
	// ApplyToOutstanding settles unpaid invoices with the new funds after a credit.
	ApplyToOutstanding bool
}

// TransactionFilter narrows journal queries. Zero fields match everything.
type TransactionFilter struct {
	WalletID    *uuid.UUID
	Kinds       []Kind
	InvoiceID   *uuid.UUID
	PaymentID   *uuid.UUID
	AdmissionID *uuid.UUID
	ServiceDate *time.Time
	Limit       int
	Offset      int
}

// Match reports whether t satisfies every set field of f.
func (f TransactionFilter) Match(t *Transaction) bool {
	if f.WalletID != nil && t.WalletID != *f.WalletID {
		return false
	}
	if len(f.Kinds) > 0 {
		ok := false
		for _, k := range f.Kinds {
			if t.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.InvoiceID != nil && (t.InvoiceID == nil || *t.InvoiceID != *f.InvoiceID) {
		return false
	}
	if f.PaymentID != nil && (t.PaymentID == nil || *t.PaymentID != *f.PaymentID) {
		return false
	}
	if f.AdmissionID != nil && (t.AdmissionID == nil || *t.AdmissionID != *f.AdmissionID) {
		return false
	}
	if f.ServiceDate != nil && (t.ServiceDate == nil || !sameDay(*t.ServiceDate, *f.ServiceDate)) {
		return false
	}
	return true
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Mismatch is one journal entry whose recorded balance_after disagrees with
// the running sum.
type Mismatch struct {
	Seq      int64           `json:"seq"`
	Recorded decimal.Decimal `json:"recorded"`
	Expected decimal.Decimal `json:"expected"`
}

// Reconciliation is the result of Verify.
type Reconciliation struct {
	PatientID  uuid.UUID       `json:"patient_id"`
	Balance    decimal.Decimal `json:"balance"`
	JournalSum decimal.Decimal `json:"journal_sum"`
	Entries    int             `json:"entries"`
	Mismatches []Mismatch      `json:"mismatches,omitempty"`
	Consistent bool            `json:"consistent"`
}
