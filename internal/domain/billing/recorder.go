package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/nhia"
	"github.com/hms/hms/internal/domain/wallet"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/money"
)

const (
	TopicPaymentRecorded = "billing.payment_recorded"
	TopicPaymentAdjusted = "billing.payment_adjusted"
	TopicPaymentDeleted  = "billing.payment_deleted"
)

// WalletLedger is the part of the wallet the recorder posts through.
type WalletLedger interface {
	EnsureWallet(ctx context.Context, patientID uuid.UUID) (*wallet.Wallet, error)
	Credit(ctx context.Context, patientID uuid.UUID, p wallet.Posting) (*wallet.Transaction, error)
	Debit(ctx context.Context, patientID uuid.UUID, p wallet.Posting) (*wallet.Transaction, error)
}

// Notifier is the best-effort outbox sink.
type Notifier interface {
	Notify(ctx context.Context, topic string, payload interface{})
}

// Recorder reconciles payment, wallet journal and invoice in one transaction.
type Recorder struct {
	engine   *Engine
	payments PaymentRepository
	ledger   WalletLedger
	tx       db.Transactor
	notify   Notifier
	log      zerolog.Logger
}

func NewRecorder(engine *Engine, payments PaymentRepository, ledger WalletLedger, tx db.Transactor, notify Notifier, logger zerolog.Logger) *Recorder {
	return &Recorder{
		engine:   engine,
		payments: payments,
		ledger:   ledger,
		tx:       tx,
		notify:   notify,
		log:      logger,
	}
}

// Failure is the outcome reported for a rejected payment.
func Failure(err error) *Outcome {
	return &Outcome{OK: false, Message: err.Error()}
}

func (r *Recorder) emit(ctx context.Context, topic string, payload interface{}) {
	if r.notify != nil {
		r.notify.Notify(ctx, topic, payload)
	}
}

// ProcessPayment records a payment against an invoice. A wallet source
// debits the patient's wallet with the ledger kind of the invoice's source.
func (r *Recorder) ProcessPayment(ctx context.Context, req PaymentRequest) (*Outcome, error) {
	amount := money.Round(req.Amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.Source == "" {
		req.Source = SourceBillingOffice
	}
	if !req.Source.Valid() {
		return nil, fmt.Errorf("invalid payment source: %q", req.Source)
	}
	switch {
	case req.Source == SourcePatientWallet:
		req.Method = MethodWallet
	case req.Method == "":
		req.Method = MethodCash
	case req.Method == MethodWallet:
		return nil, fmt.Errorf("method wallet requires source %s", SourcePatientWallet)
	}
	if !req.Method.Valid() {
		return nil, fmt.Errorf("invalid payment method: %q", req.Method)
	}

	var out *Outcome
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		inv, err := r.engine.invoices.GetByID(ctx, req.InvoiceID)
		if err != nil {
			return err
		}
		// wallet before invoice
		if _, err := r.ledger.EnsureWallet(ctx, inv.PatientID); err != nil {
			return fmt.Errorf("resolve wallet: %w", err)
		}
		inv, err = r.engine.invoices.GetForUpdate(ctx, req.InvoiceID)
		if err != nil {
			return err
		}
		if inv.Status == StatusCancelled {
			return fmt.Errorf("%w: invoice %s is cancelled", ErrInvoiceLocked, inv.Number)
		}
		if amount.GreaterThan(inv.Balance()) {
			return fmt.Errorf("%w: %s requested, %s outstanding", ErrOverpaymentRejected,
				amount.StringFixed(money.Places), inv.Balance().StringFixed(money.Places))
		}

		paymentDate := req.PaymentDate
		if paymentDate.IsZero() {
			paymentDate = r.engine.today()
		}
		p := &Payment{
			ID:            uuid.New(),
			InvoiceID:     inv.ID,
			PatientID:     inv.PatientID,
			Amount:        amount,
			Method:        req.Method,
			Source:        req.Source,
			PaymentDate:   paymentDate,
			TransactionID: req.TransactionID,
			Notes:         req.Notes,
			ReceivedBy:    req.ReceivedBy,
		}
		if err := r.payments.Create(ctx, p); err != nil {
			return fmt.Errorf("create payment: %w", err)
		}

		if req.Source == SourcePatientWallet {
			kind := req.LedgerKind
			if kind == "" {
				kind = inv.SourceApp.LedgerKind()
			}
			if _, err := r.ledger.Debit(ctx, inv.PatientID, wallet.Posting{
				Amount:      amount,
				Kind:        kind,
				Description: fmt.Sprintf("Payment for invoice %s", inv.Number),
				UserID:      req.ReceivedBy,
				InvoiceID:   &inv.ID,
				PaymentID:   &p.ID,
				AdmissionID: inv.AdmissionID,
				ServiceDate: req.ServiceDate,
			}); err != nil {
				return fmt.Errorf("wallet debit: %w", err)
			}
		}

		if err := r.engine.apply(ctx, inv, amount, applyOpts{manual: true}); err != nil {
			return err
		}

		r.log.Info().
			Str("payment_id", p.ID.String()).
			Str("invoice_id", inv.ID.String()).
			Str("patient_id", inv.PatientID.String()).
			Str("source", string(p.Source)).
			Str("amount", amount.StringFixed(money.Places)).
			Str("status", string(inv.Status)).
			Msg("payment recorded")
		r.emit(ctx, TopicPaymentRecorded, map[string]interface{}{
			"payment_id": p.ID,
			"invoice_id": inv.ID,
			"number":     inv.Number,
			"patient_id": inv.PatientID,
			"amount":     amount,
			"source":     p.Source,
			"status":     inv.Status,
		})

		out = &Outcome{
			OK:             true,
			Message:        fmt.Sprintf("Payment of %s recorded for invoice %s", amount.StringFixed(money.Places), inv.Number),
			Payment:        p,
			InvoiceStatus:  inv.Status,
			InvoiceBalance: inv.Balance(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PayDiagnostic is ProcessPayment for laboratory and radiology invoices. NHIA
// patients are exempt and nothing is posted.
func (r *Recorder) PayDiagnostic(ctx context.Context, req PaymentRequest) (*Outcome, error) {
	inv, err := r.engine.invoices.GetByID(ctx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	kind := nhia.ServiceOther
	switch inv.SourceApp {
	case SourceLaboratory:
		kind = nhia.ServiceLaboratory
	case SourceRadiology:
		kind = nhia.ServiceRadiology
	}
	if kind != nhia.ServiceOther && r.engine.gate != nil {
		outcome, err := r.engine.gate.Classify(ctx, inv.PatientID, kind)
		if err != nil {
			return nil, err
		}
		if !outcome.Chargeable {
			return &Outcome{
				OK:             true,
				Exempt:         true,
				Message:        outcome.Reason,
				InvoiceStatus:  inv.Status,
				InvoiceBalance: inv.Balance(),
			}, nil
		}
	}
	return r.ProcessPayment(ctx, req)
}

// UpdatePaymentAmount changes a payment's amount. Wallet payments post the
// signed difference as an adjustment entry.
func (r *Recorder) UpdatePaymentAmount(ctx context.Context, paymentID uuid.UUID, newAmount decimal.Decimal, userID string) (*Payment, error) {
	newAmount = money.Round(newAmount)
	if !newAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	var out *Payment
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := r.payments.GetByID(ctx, paymentID)
		if err != nil {
			return err
		}
		delta := newAmount.Sub(p.Amount)
		if delta.IsZero() {
			out = p
			return nil
		}
		if _, err := r.ledger.EnsureWallet(ctx, p.PatientID); err != nil {
			return fmt.Errorf("resolve wallet: %w", err)
		}
		inv, err := r.engine.invoices.GetForUpdate(ctx, p.InvoiceID)
		if err != nil {
			return err
		}

		if p.Source == SourcePatientWallet {
			posting := wallet.Posting{
				Amount:      delta.Abs(),
				Kind:        wallet.KindAdjustment,
				Description: fmt.Sprintf("Adjustment of payment on invoice %s", inv.Number),
				UserID:      userID,
				InvoiceID:   &inv.ID,
				PaymentID:   &p.ID,
				AdmissionID: inv.AdmissionID,
			}
			if delta.IsPositive() {
				if delta.GreaterThan(inv.Balance()) {
					return fmt.Errorf("%w: adjustment exceeds invoice balance", ErrOverpaymentRejected)
				}
				_, err = r.ledger.Debit(ctx, p.PatientID, posting)
			} else {
				_, err = r.ledger.Credit(ctx, p.PatientID, posting)
			}
			if err != nil {
				return fmt.Errorf("wallet adjustment: %w", err)
			}
		}

		if err := r.engine.apply(ctx, inv, delta, applyOpts{manual: true}); err != nil {
			return err
		}
		p.Amount = newAmount
		if err := r.payments.Update(ctx, p); err != nil {
			return err
		}
		r.log.Info().Str("payment_id", p.ID.String()).Str("delta", delta.StringFixed(money.Places)).Msg("payment amount adjusted")
		r.emit(ctx, TopicPaymentAdjusted, map[string]interface{}{
			"payment_id": p.ID, "invoice_id": inv.ID, "delta": delta, "user_id": userID,
		})
		out = p
		return nil
	})
	return out, err
}

// DeletePayment removes a payment. Wallet payments are returned with a
// reversal credit.
func (r *Recorder) DeletePayment(ctx context.Context, paymentID uuid.UUID, userID string) error {
	return r.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := r.payments.GetByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if _, err := r.ledger.EnsureWallet(ctx, p.PatientID); err != nil {
			return fmt.Errorf("resolve wallet: %w", err)
		}
		inv, err := r.engine.invoices.GetForUpdate(ctx, p.InvoiceID)
		if err != nil {
			return err
		}
		if p.Source == SourcePatientWallet {
			if _, err := r.ledger.Credit(ctx, p.PatientID, wallet.Posting{
				Amount:      p.Amount,
				Kind:        wallet.KindReversal,
				Description: fmt.Sprintf("Reversal of payment on invoice %s", inv.Number),
				UserID:      userID,
				InvoiceID:   &inv.ID,
				PaymentID:   &p.ID,
				AdmissionID: inv.AdmissionID,
			}); err != nil {
				return fmt.Errorf("wallet reversal: %w", err)
			}
		}
		if err := r.engine.apply(ctx, inv, p.Amount.Neg(), applyOpts{}); err != nil {
			return err
		}
		if err := r.payments.Delete(ctx, p.ID); err != nil {
			return err
		}
		r.log.Info().Str("payment_id", p.ID.String()).Str("invoice_id", inv.ID.String()).Msg("payment deleted")
		r.emit(ctx, TopicPaymentDeleted, map[string]interface{}{
			"payment_id": p.ID, "invoice_id": inv.ID, "amount": p.Amount, "user_id": userID,
		})
		return nil
	})
}

func (r *Recorder) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	return r.payments.ListByInvoice(ctx, invoiceID)
}

// SettleOutstanding pays the patient's unpaid invoices from the wallet,
// oldest first, spending at most funds. It implements wallet.OutstandingSettler.
func (r *Recorder) SettleOutstanding(ctx context.Context, patientID uuid.UUID, funds decimal.Decimal, userID string) (decimal.Decimal, error) {
	applied := decimal.Zero
	err := r.tx.InTx(ctx, func(ctx context.Context) error {
		unpaid, err := r.engine.ListUnpaid(ctx, patientID)
		if err != nil {
			return err
		}
		remaining := money.Round(funds)
		for _, inv := range unpaid {
			if !remaining.IsPositive() {
				break
			}
			amount := money.Min(remaining, inv.Balance())
			if !amount.IsPositive() {
				continue
			}
			if _, err := r.ProcessPayment(ctx, PaymentRequest{
				InvoiceID:  inv.ID,
				Amount:     amount,
				Source:     SourcePatientWallet,
				ReceivedBy: userID,
				Notes:      "applied from wallet credit",
				LedgerKind: wallet.KindPayment,
			}); err != nil {
				return fmt.Errorf("settle invoice %s: %w", inv.Number, err)
			}
			remaining = remaining.Sub(amount)
			applied = applied.Add(amount)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return applied, nil
}
