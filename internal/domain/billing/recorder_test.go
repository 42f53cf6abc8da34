package billing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/wallet"
)

func (env *testEnv) deposit(t *testing.T, patientID uuid.UUID, amount string) {
	t.Helper()
	if _, err := env.ledger.Credit(context.Background(), patientID, wallet.Posting{Amount: d(amount), Kind: wallet.KindDeposit}); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (env *testEnv) balance(t *testing.T, patientID uuid.UUID) string {
	t.Helper()
	b, err := env.ledger.Balance(context.Background(), patientID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b.StringFixed(2)
}

func (env *testEnv) consistent(t *testing.T, patientID uuid.UUID) {
	t.Helper()
	rec, err := env.ledger.Verify(context.Background(), patientID)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !rec.Consistent {
		t.Errorf("wallet journal inconsistent: %+v", rec)
	}
}

func TestRecorder_WalletPaymentPharmacy(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()
	env.deposit(t, pid, "5000")
	inv := env.invoice(t, pid, SourcePharmacy, "1200")

	out, err := env.recorder.ProcessPayment(ctx, PaymentRequest{
		InvoiceID:  inv.ID,
		Amount:     d("1200"),
		Source:     SourcePatientWallet,
		ReceivedBy: "cashier-1",
	})
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if !out.OK || out.InvoiceStatus != StatusPaid || !out.InvoiceBalance.IsZero() {
		t.Errorf("unexpected outcome %+v", out)
	}
	if out.Payment.Method != MethodWallet {
		t.Errorf("wallet source must force method wallet, got %s", out.Payment.Method)
	}
	if got := env.balance(t, pid); got != "3800.00" {
		t.Errorf("expected wallet 3800.00, got %s", got)
	}

	debits, total, _ := env.ledger.History(ctx, pid, wallet.TransactionFilter{Kinds: []wallet.Kind{wallet.KindPharmacyPayment}})
	if total != 1 || !debits[0].Amount.Equal(d("1200")) || debits[0].Direction != wallet.Debit {
		t.Fatalf("expected one pharmacy_payment debit of 1200, got %+v", debits)
	}
	if debits[0].InvoiceID == nil || *debits[0].InvoiceID != inv.ID || *debits[0].PaymentID != out.Payment.ID {
		t.Error("journal entry must link invoice and payment")
	}

	stored, _ := env.engine.Get(ctx, inv.ID)
	if !stored.ManualPaymentProcessed {
		t.Error("recorded payment should set the manual payment flag")
	}
	last := env.events.got[len(env.events.got)-1]
	if last.NewStatus != StatusPaid || !last.ManualPaymentProcessed || !last.PaidDelta.Equal(d("1200")) {
		t.Errorf("unexpected status event %+v", last)
	}
	env.consistent(t, pid)
}

func TestRecorder_DeskPaymentLeavesWallet(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()
	env.deposit(t, pid, "500")
	inv := env.invoice(t, pid, SourceBilling, "300")

	out, err := env.recorder.ProcessPayment(ctx, PaymentRequest{InvoiceID: inv.ID, Amount: d("100")})
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if out.Payment.Source != SourceBillingOffice || out.Payment.Method != MethodCash {
		t.Errorf("expected billing_office/cash defaults, got %s/%s", out.Payment.Source, out.Payment.Method)
	}
	if out.InvoiceStatus != StatusPartiallyPaid {
		t.Errorf("expected partially_paid, got %s", out.InvoiceStatus)
	}
	if got := env.balance(t, pid); got != "500.00" {
		t.Errorf("desk payment must not touch the wallet, got %s", got)
	}
}

func TestRecorder_Rejections(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()
	env.deposit(t, pid, "1000")
	inv := env.invoice(t, pid, SourceBilling, "300")

	tests := []struct {
		name string
		req  PaymentRequest
		want error
	}{
		{"zero amount", PaymentRequest{InvoiceID: inv.ID, Amount: d("0")}, ErrInvalidAmount},
		{"overpayment", PaymentRequest{InvoiceID: inv.ID, Amount: d("300.01"), Source: SourcePatientWallet}, ErrOverpaymentRejected},
		{"unknown invoice", PaymentRequest{InvoiceID: uuid.New(), Amount: d("1")}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.recorder.ProcessPayment(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := env.recorder.ProcessPayment(ctx, PaymentRequest{InvoiceID: inv.ID, Amount: d("1"), Method: MethodWallet}); err == nil {
		t.Error("method wallet with a desk source must be rejected")
	}
	if _, err := env.recorder.ProcessPayment(ctx, PaymentRequest{InvoiceID: inv.ID, Amount: d("1"), Method: "barter"}); err == nil {
		t.Error("unknown method must be rejected")
	}

	if got := env.balance(t, pid); got != "1000.00" {
		t.Errorf("rejected payments must not move the wallet, got %s", got)
	}
	payments, _ := env.recorder.ListPayments(ctx, inv.ID)
	if len(payments) != 0 {
		t.Errorf("rejected payments must not be stored, got %d", len(payments))
	}
}

func TestRecorder_WalletMayGoNegative(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()
	inv := env.invoice(t, pid, SourceAppointment, "800")

	if _, err := env.recorder.ProcessPayment(ctx, PaymentRequest{InvoiceID: inv.ID, Amount: d("800"), Source: SourcePatientWallet}); err != nil {
		t.Fatalf("process payment: %v", err)
	}
	if got := env.balance(t, pid); got != "-800.00" {
		t.Errorf("expected -800.00, got %s", got)
	}
	entries, _, _ := env.ledger.History(ctx, pid, wallet.TransactionFilter{})
	if entries[0].Kind != wallet.KindConsultationFee {
		t.Errorf("expected consultation_fee, got %s", entries[0].Kind)
	}
}

func TestRecorder_UpdatePaymentAmount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()
	env.deposit(t, pid, "1000")
	inv := env.invoice(t, pid, SourceBilling, "600")
	out, _ := env.recorder.ProcessPayment(ctx, PaymentRequest{InvoiceID: inv.ID, Amount: d("200"), Source: SourcePatientWallet})

	p, err := env.recorder.UpdatePaymentAmount(ctx, out.Payment.ID, d("500"), "admin-1")
	if err != nil {
		t.Fatalf("increase: %v", err)
	}
	if !p.Amount.Equal(d("500")) {
		t.Errorf("expected 500, got %s", p.Amount)
	}
	if got := env.balance(t, pid); got != "500.00" {
		t.Errorf("expected 500.00 after increase, got %s", got)
	}

	if _, err := env.recorder.UpdatePaymentAmount(ctx, out.Payment.ID, d("150"), "admin-1"); err != nil {
		t.Fatalf("decrease: %v", err)
	}
	if got := env.balance(t, pid); got != "850.00" {
		t.Errorf("expected 850.00 after decrease, got %s", got)
	}
	stored, _ := env.engine.Get(ctx, inv.ID)
	if !stored.AmountPaid.Equal(d("150")) || stored.Status != StatusPartiallyPaid {
		t.Errorf("unexpected invoice %s %s", stored.AmountPaid, stored.Status)
	}

	if _, err := env.recorder.UpdatePaymentAmount(ctx, out.Payment.ID, d("601"), "admin-1"); !errors.Is(err, ErrOverpaymentRejected) {
		t.Errorf("expected ErrOverpaymentRejected, got %v", err)
	}
	adjustments, total, _ := env.ledger.History(ctx, pid, wallet.TransactionFilter{Kinds: []wallet.Kind{wallet.KindAdjustment}})
	if total != 2 || adjustments[0].Direction != wallet.Credit || adjustments[1].Direction != wallet.Debit {
		t.Errorf("expected a debit then a credit adjustment, got %+v", adjustments)
	}
	env.consistent(t, pid)
}

func TestRecorder_DeleteAndRecreateRoundTrip(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()
	env.deposit(t, pid, "1000")
	inv := env.invoice(t, pid, SourceBilling, "400")
	req := PaymentRequest{InvoiceID: inv.ID, Amount: d("400"), Source: SourcePatientWallet}
	out, _ := env.recorder.ProcessPayment(ctx, req)

	wantBalance := env.balance(t, pid)
	before, _ := env.engine.Get(ctx, inv.ID)

	if err := env.recorder.DeletePayment(ctx, out.Payment.ID, "admin-1"); err != nil {
		t.Fatalf("delete payment: %v", err)
	}
	if got := env.balance(t, pid); got != "1000.00" {
		t.Errorf("reversal should restore the wallet, got %s", got)
	}
	reverted, _ := env.engine.Get(ctx, inv.ID)
	if reverted.Status != StatusPending || !reverted.AmountPaid.IsZero() || reverted.ManualPaymentProcessed {
		t.Errorf("unexpected invoice after delete %+v", reverted)
	}
	last := env.events.got[len(env.events.got)-1]
	if last.OldStatus != StatusPaid || last.NewStatus != StatusPending || !last.PaidDelta.Equal(d("-400")) {
		t.Errorf("unexpected reversal event %+v", last)
	}
	if err := env.recorder.DeletePayment(ctx, out.Payment.ID, "admin-1"); !errors.Is(err, ErrPaymentNotFound) {
		t.Errorf("expected ErrPaymentNotFound, got %v", err)
	}

	if _, err := env.recorder.ProcessPayment(ctx, req); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	after, _ := env.engine.Get(ctx, inv.ID)
	if got := env.balance(t, pid); got != wantBalance {
		t.Errorf("expected wallet %s after recreate, got %s", wantBalance, got)
	}
	if !after.AmountPaid.Equal(before.AmountPaid) || after.Status != before.Status {
		t.Errorf("expected invoice %s/%s, got %s/%s", before.AmountPaid, before.Status, after.AmountPaid, after.Status)
	}
	env.consistent(t, pid)
}

func TestRecorder_SettleOutstanding(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()
	first := env.invoice(t, pid, SourceBilling, "300")
	env.clock = env.clock.AddDate(0, 0, 1)
	second := env.invoice(t, pid, SourceBilling, "500")
	other := env.invoice(t, uuid.New(), SourceBilling, "100")

	if _, err := env.ledger.Credit(ctx, pid, wallet.Posting{
		Amount:             d("600"),
		Kind:               wallet.KindDeposit,
		ApplyToOutstanding: true,
	}); err != nil {
		t.Fatalf("credit: %v", err)
	}

	got1, _ := env.engine.Get(ctx, first.ID)
	got2, _ := env.engine.Get(ctx, second.ID)
	got3, _ := env.engine.Get(ctx, other.ID)
	if got1.Status != StatusPaid {
		t.Errorf("oldest invoice should be settled first, got %s", got1.Status)
	}
	if !got2.AmountPaid.Equal(d("300")) || got2.Status != StatusPartiallyPaid {
		t.Errorf("expected 300 applied to second invoice, got %s %s", got2.AmountPaid, got2.Status)
	}
	if !got3.AmountPaid.IsZero() {
		t.Error("another patient's invoice must be untouched")
	}
	if got := env.balance(t, pid); got != "0.00" {
		t.Errorf("expected wallet 0.00, got %s", got)
	}
	payments, total, _ := env.ledger.History(ctx, pid, wallet.TransactionFilter{Kinds: []wallet.Kind{wallet.KindPayment}})
	if total != 2 || !payments[0].Amount.Equal(d("300")) {
		t.Errorf("expected two payment entries, got %+v", payments)
	}
	env.consistent(t, pid)
}

func TestRecorder_SettleOutstandingFailureRollsBackCredit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()
	env.engine.invoices = brokenList{env.invoices}

	_, err := env.ledger.Credit(ctx, pid, wallet.Posting{Amount: d("100"), Kind: wallet.KindDeposit, ApplyToOutstanding: true})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, err := env.ledger.Balance(ctx, pid); !errors.Is(err, wallet.ErrWalletMissing) {
		t.Errorf("credit must be rolled back with the failed settlement, got %v", err)
	}
}

type brokenList struct {
	*MemoryInvoiceRepository
}

func (brokenList) List(context.Context, InvoiceFilter) ([]*Invoice, int, error) {
	return nil, 0, errors.New("connection reset")
}

func TestRecorder_PayDiagnostic(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	nhiaPatient, regular := uuid.New(), uuid.New()
	env.gate.exempt[nhiaPatient] = true
	env.deposit(t, nhiaPatient, "1000")
	env.deposit(t, regular, "1000")

	lab := env.invoice(t, nhiaPatient, SourceLaboratory, "700")
	out, err := env.recorder.PayDiagnostic(ctx, PaymentRequest{InvoiceID: lab.ID, Amount: d("700"), Source: SourcePatientWallet})
	if err != nil {
		t.Fatalf("pay diagnostic: %v", err)
	}
	if !out.OK || !out.Exempt || out.Payment != nil {
		t.Errorf("expected exempt outcome, got %+v", out)
	}
	if got := env.balance(t, nhiaPatient); got != "1000.00" {
		t.Errorf("exempt patient must not be charged, got %s", got)
	}

	scan := env.invoice(t, regular, SourceRadiology, "700")
	out, err = env.recorder.PayDiagnostic(ctx, PaymentRequest{InvoiceID: scan.ID, Amount: d("700"), Source: SourcePatientWallet})
	if err != nil {
		t.Fatalf("pay diagnostic: %v", err)
	}
	if out.Exempt || out.InvoiceStatus != StatusPaid {
		t.Errorf("regular patient should pay, got %+v", out)
	}
	entries, _, _ := env.ledger.History(ctx, regular, wallet.TransactionFilter{Kinds: []wallet.Kind{wallet.KindLabTestPayment}})
	if len(entries) != 1 {
		t.Errorf("expected one lab_test_payment entry, got %d", len(entries))
	}
}
