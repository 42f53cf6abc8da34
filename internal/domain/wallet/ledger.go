package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/money"
)

// OutstandingSettler applies freshly credited funds to a patient's unpaid
// invoices, oldest first, and returns how much it applied.
type OutstandingSettler interface {
	SettleOutstanding(ctx context.Context, patientID uuid.UUID, funds decimal.Decimal, userID string) (decimal.Decimal, error)
}

// Notifier is the best-effort outbox sink.
type Notifier interface {
	Notify(ctx context.Context, topic string, payload interface{})
}

const (
	TopicCredited = "wallet.credited"
	TopicDebited  = "wallet.debited"
)

// Ledger is the only writer of wallet balances and journal entries.
type Ledger struct {
	repo    Repository
	tx      db.Transactor
	settler OutstandingSettler
	notify  Notifier
	log     zerolog.Logger
}

func NewLedger(repo Repository, tx db.Transactor, notify Notifier, logger zerolog.Logger) *Ledger {
	return &Ledger{repo: repo, tx: tx, notify: notify, log: logger}
}

// SetOutstandingSettler wires the invoice side used by ApplyToOutstanding.
func (l *Ledger) SetOutstandingSettler(s OutstandingSettler) { l.settler = s }

// EnsureWallet returns the patient's wallet, creating an empty one on first use.
// Inside a transaction the wallet row stays locked until commit.
func (l *Ledger) EnsureWallet(ctx context.Context, patientID uuid.UUID) (*Wallet, error) {
	var w *Wallet
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		w, err = l.lock(ctx, patientID)
		return err
	})
	return w, err
}

func (l *Ledger) lock(ctx context.Context, patientID uuid.UUID) (*Wallet, error) {
	w, err := l.repo.GetByPatientForUpdate(ctx, patientID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletMissing) {
		return nil, err
	}
	if err := l.repo.Create(ctx, &Wallet{PatientID: patientID, Balance: money.Zero}); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	l.log.Info().Str("patient_id", patientID.String()).Msg("wallet created")
	return l.repo.GetByPatientForUpdate(ctx, patientID)
}

// Credit adds funds. With ApplyToOutstanding the new funds then settle unpaid
// invoices inside the same transaction.
func (l *Ledger) Credit(ctx context.Context, patientID uuid.UUID, p Posting) (*Transaction, error) {
	var out *Transaction
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = l.post(ctx, patientID, Credit, p)
		if err != nil {
			return err
		}
		if p.ApplyToOutstanding && l.settler != nil {
			applied, err := l.settler.SettleOutstanding(ctx, patientID, out.Amount, p.UserID)
			if err != nil {
				return fmt.Errorf("apply to outstanding: %w", err)
			}
			if applied.IsPositive() {
				l.log.Info().Str("patient_id", patientID.String()).
					Str("applied", applied.StringFixed(money.Places)).Msg("credit applied to outstanding invoices")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Debit removes funds. The balance may go negative; callers that need a floor
// check the balance first.
func (l *Ledger) Debit(ctx context.Context, patientID uuid.UUID, p Posting) (*Transaction, error) {
	var out *Transaction
	err := l.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = l.post(ctx, patientID, Debit, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) post(ctx context.Context, patientID uuid.UUID, dir Direction, p Posting) (*Transaction, error) {
	amount := money.Round(p.Amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, p.Kind)
	}
	w, err := l.lock(ctx, patientID)
	if err != nil {
		return nil, err
	}

	balance := w.Balance.Add(amount)
	if dir == Debit {
		balance = w.Balance.Sub(amount)
	}
	t := &Transaction{
		WalletID:     w.ID,
		Kind:         p.Kind,
		Direction:    dir,
		Amount:       amount,
		BalanceAfter: balance,
		Description:  p.Description,
		InvoiceID:    p.InvoiceID,
		PaymentID:    p.PaymentID,
		AdmissionID:  p.AdmissionID,
		UserID:       p.UserID,
		ServiceDate:  p.ServiceDate,
	}
	if err := l.repo.AppendTransaction(ctx, t); err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}
	if err := l.repo.UpdateBalance(ctx, w.ID, balance); err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	msg := "wallet credit posted"
	topic := TopicCredited
	if dir == Debit {
		msg, topic = "wallet debit posted", TopicDebited
	}
	l.log.Info().
		Str("patient_id", patientID.String()).
		Str("kind", string(t.Kind)).
		Str("amount", amount.StringFixed(money.Places)).
		Str("balance_after", balance.StringFixed(money.Places)).
		Msg(msg)
	if l.notify != nil {
		l.notify.Notify(ctx, topic, map[string]interface{}{
			"patient_id":     patientID,
			"transaction_id": t.ID,
			"kind":           t.Kind,
			"amount":         amount,
			"balance_after":  balance,
		})
	}
	return t, nil
}

// Balance reads the current balance without creating a wallet.
func (l *Ledger) Balance(ctx context.Context, patientID uuid.UUID) (decimal.Decimal, error) {
	w, err := l.repo.GetByPatient(ctx, patientID)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

func (l *Ledger) Get(ctx context.Context, patientID uuid.UUID) (*Wallet, error) {
	return l.repo.GetByPatient(ctx, patientID)
}

// History lists the patient's journal, newest first.
func (l *Ledger) History(ctx context.Context, patientID uuid.UUID, f TransactionFilter) ([]*Transaction, int, error) {
	w, err := l.repo.GetByPatient(ctx, patientID)
	if err != nil {
		return nil, 0, err
	}
	f.WalletID = &w.ID
	return l.repo.ListTransactions(ctx, f)
}

// HasEntry reports whether any journal entry matches f, across wallets unless
// f.WalletID is set.
func (l *Ledger) HasEntry(ctx context.Context, f TransactionFilter) (bool, error) {
	return l.repo.ExistsTransaction(ctx, f)
}

// Verify recomputes the journal sum and every running balance.
func (l *Ledger) Verify(ctx context.Context, patientID uuid.UUID) (*Reconciliation, error) {
	w, err := l.repo.GetByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	entries, err := l.repo.Journal(ctx, w.ID)
	if err != nil {
		return nil, err
	}
	rec := &Reconciliation{PatientID: patientID, Balance: w.Balance, Entries: len(entries)}
	running := decimal.Zero
	for _, t := range entries {
		running = running.Add(t.Signed())
		if !running.Equal(t.BalanceAfter) {
			rec.Mismatches = append(rec.Mismatches, Mismatch{Seq: t.Seq, Recorded: t.BalanceAfter, Expected: running})
		}
	}
	rec.JournalSum = running
	rec.Consistent = len(rec.Mismatches) == 0 && running.Equal(w.Balance)
	if !rec.Consistent {
		l.log.Warn().Str("patient_id", patientID.String()).
			Str("balance", w.Balance.String()).Str("journal_sum", running.String()).
			Int("mismatches", len(rec.Mismatches)).Msg("wallet reconciliation failed")
	}
	return rec, nil
}
