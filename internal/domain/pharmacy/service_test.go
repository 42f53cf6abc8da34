package pharmacy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/nhia"
	"github.com/hms/hms/internal/domain/wallet"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/pkg/money"
)

func d(s string) decimal.Decimal { return money.MustParse(s) }

// fakeGate serves both the billing and pharmacy views of NHIA policy.
type fakeGate struct {
	nhia       map[uuid.UUID]bool
	authorized map[uuid.UUID]bool
}

func (g *fakeGate) IsNHIA(_ context.Context, id uuid.UUID) (bool, error) { return g.nhia[id], nil }

func (g *fakeGate) PharmacyShare() decimal.Decimal { return d("0.10") }

func (g *fakeGate) HasValidAuthorization(_ context.Context, id uuid.UUID, _ string) (bool, error) {
	return g.authorized[id], nil
}

func (g *fakeGate) RequireAuthorization(_ context.Context, id uuid.UUID, _ string) error {
	if g.nhia[id] && !g.authorized[id] {
		return nhia.ErrAuthorizationRequired
	}
	return nil
}

func (g *fakeGate) Classify(_ context.Context, id uuid.UUID, _ nhia.ServiceKind) (nhia.Outcome, error) {
	return nhia.Outcome{Chargeable: true, IsNHIA: g.nhia[id]}, nil
}

type testEnv struct {
	svc      *Service
	repo     *MemoryRepository
	engine   *billing.Engine
	recorder *billing.Recorder
	ledger   *wallet.Ledger
	gate     *fakeGate
}

func newTestEnv() *testEnv {
	repo := NewMemoryRepository()
	invoices := billing.NewMemoryInvoiceRepository()
	payments := billing.NewMemoryPaymentRepository()
	wallets := wallet.NewMemoryRepository()
	tx := db.NewMemoryTransactor(repo, invoices, payments, wallets)
	bus := events.NewBus()
	gate := &fakeGate{nhia: map[uuid.UUID]bool{}, authorized: map[uuid.UUID]bool{}}

	engine := billing.NewEngine(invoices, tx, bus, gate, time.UTC, zerolog.Nop())
	ledger := wallet.NewLedger(wallets, tx, nil, zerolog.Nop())
	recorder := billing.NewRecorder(engine, payments, ledger, tx, nil, zerolog.Nop())
	svc := NewService(repo, engine, gate, tx, zerolog.Nop())
	svc.Subscribe(bus)
	return &testEnv{svc: svc, repo: repo, engine: engine, recorder: recorder, ledger: ledger, gate: gate}
}

func (env *testEnv) prescription(t *testing.T, patientID uuid.UUID, items ...Item) *Prescription {
	t.Helper()
	p := &Prescription{PatientID: patientID, Items: items}
	if err := env.svc.Create(context.Background(), p); err != nil {
		t.Fatalf("create prescription: %v", err)
	}
	return p
}

func (env *testEnv) pay(t *testing.T, invoiceID uuid.UUID, amount string) {
	t.Helper()
	if _, err := env.recorder.ProcessPayment(context.Background(), billing.PaymentRequest{
		InvoiceID: invoiceID,
		Amount:    d(amount),
		Source:    billing.SourcePatientWallet,
	}); err != nil {
		t.Fatalf("process payment: %v", err)
	}
}

func TestService_Create_Validation(t *testing.T) {
	env := newTestEnv()
	tests := []struct {
		name string
		p    *Prescription
	}{
		{"missing patient", &Prescription{Items: []Item{{Medication: "x", Quantity: d("1"), UnitPrice: d("1")}}}},
		{"no items", &Prescription{PatientID: uuid.New()}},
		{"zero quantity", &Prescription{PatientID: uuid.New(), Items: []Item{{Medication: "x", Quantity: d("0"), UnitPrice: d("1")}}}},
		{"missing medication", &Prescription{PatientID: uuid.New(), Items: []Item{{Quantity: d("1"), UnitPrice: d("1")}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := env.svc.Create(context.Background(), tt.p); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPrescription_TotalPrescribedPrice(t *testing.T) {
	p := Prescription{Items: []Item{
		{Quantity: d("3"), UnitPrice: d("150.50")},
		{Quantity: d("1"), UnitPrice: d("748.50")},
	}}
	if !p.TotalPrescribedPrice().Equal(d("1200")) {
		t.Errorf("expected 1200, got %s", p.TotalPrescribedPrice())
	}
}

func TestService_RegularPatientPaysInFull(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()
	env.ledger.Credit(ctx, pid, wallet.Posting{Amount: d("5000"), Kind: wallet.KindDeposit})
	p := env.prescription(t, pid, Item{Medication: "Artemether", Quantity: d("2"), UnitPrice: d("600")})

	inv, err := env.svc.CreateInvoice(ctx, p.ID, "pharm-1")
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if !inv.TotalAmount.Equal(d("1200")) || inv.SourceApp != billing.SourcePharmacy {
		t.Errorf("unexpected invoice %s %s", inv.SourceApp, inv.TotalAmount)
	}
	if _, err := env.svc.CreateInvoice(ctx, p.ID, "pharm-1"); !errors.Is(err, ErrAlreadyInvoiced) {
		t.Errorf("expected ErrAlreadyInvoiced, got %v", err)
	}

	chk, _ := env.svc.CheckDispense(ctx, p.ID)
	if chk.Allowed {
		t.Error("unpaid prescription must not be dispensable")
	}

	env.pay(t, inv.ID, "1200")
	got, _ := env.svc.Get(ctx, p.ID)
	if got.PaymentStatus != PaymentPaid {
		t.Errorf("expected paid, got %s", got.PaymentStatus)
	}
	if b, _ := env.ledger.Balance(ctx, pid); !b.Equal(d("3800")) {
		t.Errorf("expected wallet 3800, got %s", b)
	}

	dispensed, err := env.svc.Dispense(ctx, p.ID, "pharm-1")
	if err != nil {
		t.Fatalf("dispense: %v", err)
	}
	if dispensed.DispensedAt == nil || dispensed.DispensedBy != "pharm-1" {
		t.Errorf("unexpected dispense record %+v", dispensed)
	}
	if _, err := env.svc.Dispense(ctx, p.ID, "pharm-1"); !errors.Is(err, ErrAlreadyDispensed) {
		t.Errorf("expected ErrAlreadyDispensed, got %v", err)
	}
}

func TestService_NHIAPatientPaysShare(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()
	env.gate.nhia[pid] = true
	env.gate.authorized[pid] = true
	env.ledger.Credit(ctx, pid, wallet.Posting{Amount: d("500"), Kind: wallet.KindDeposit})
	p := env.prescription(t, pid,
		Item{Medication: "Metformin", Quantity: d("4"), UnitPrice: d("150")},
		Item{Medication: "Amlodipine", Quantity: d("1"), UnitPrice: d("400")},
	)

	payable, isNHIA, err := env.svc.PatientPayable(ctx, p)
	if err != nil || !isNHIA || !payable.Equal(d("100")) {
		t.Fatalf("expected payable 100 for NHIA, got %s %v %v", payable, isNHIA, err)
	}

	inv, err := env.svc.CreateInvoice(ctx, p.ID, "pharm-1")
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if !inv.Subtotal.Equal(d("100")) || !inv.TotalAmount.Equal(d("100")) {
		t.Errorf("expected NHIA subtotal 100, got %s / %s", inv.Subtotal, inv.TotalAmount)
	}

	env.pay(t, inv.ID, "100")
	if b, _ := env.ledger.Balance(ctx, pid); !b.Equal(d("400")) {
		t.Errorf("expected wallet 400, got %s", b)
	}
	got, _ := env.svc.Get(ctx, p.ID)
	stored, _ := env.engine.Get(ctx, inv.ID)
	if got.PaymentStatus != PaymentPaid || stored.Status != billing.StatusPaid {
		t.Errorf("expected prescription and invoice paid, got %s / %s", got.PaymentStatus, stored.Status)
	}
}

func TestService_NHIAWithoutAuthorization(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()
	env.gate.nhia[pid] = true
	p := env.prescription(t, pid, Item{Medication: "Insulin", Quantity: d("1"), UnitPrice: d("3000")})

	if _, err := env.svc.CreateInvoice(ctx, p.ID, "pharm-1"); !errors.Is(err, nhia.ErrAuthorizationRequired) {
		t.Fatalf("expected ErrAuthorizationRequired, got %v", err)
	}
	got, _ := env.svc.Get(ctx, p.ID)
	if got.InvoiceID != nil {
		t.Error("failed invoicing must not link an invoice")
	}
	if _, err := env.svc.Dispense(ctx, p.ID, "pharm-1"); !errors.Is(err, ErrDispenseBlocked) {
		t.Errorf("expected ErrDispenseBlocked, got %v", err)
	}

	env.gate.authorized[pid] = true
	chk, err := env.svc.CheckDispense(ctx, p.ID)
	if err != nil || !chk.Allowed || !chk.IsNHIA {
		t.Errorf("authorized NHIA patient should be dispensable, got %+v %v", chk, err)
	}
}

func TestService_PaymentStatusFollowsInvoice(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()
	env.ledger.Credit(ctx, pid, wallet.Posting{Amount: d("1000"), Kind: wallet.KindDeposit})
	p := env.prescription(t, pid, Item{Medication: "Ceftriaxone", Quantity: d("1"), UnitPrice: d("800")})
	inv, _ := env.svc.CreateInvoice(ctx, p.ID, "pharm-1")

	env.pay(t, inv.ID, "300")
	got, _ := env.svc.Get(ctx, p.ID)
	if got.PaymentStatus != PaymentPartiallyPaid {
		t.Errorf("expected partially_paid, got %s", got.PaymentStatus)
	}

	env.pay(t, inv.ID, "500")
	payments, _ := env.recorder.ListPayments(ctx, inv.ID)
	for _, pay := range payments {
		if err := env.recorder.DeletePayment(ctx, pay.ID, "admin-1"); err != nil {
			t.Fatalf("delete payment: %v", err)
		}
	}
	got, _ = env.svc.Get(ctx, p.ID)
	if got.PaymentStatus != PaymentUnpaid {
		t.Errorf("expected unpaid after reversals, got %s", got.PaymentStatus)
	}
}

func TestService_AutoPayRejectedForPricedInvoice(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	p := env.prescription(t, uuid.New(), Item{Medication: "ORS", Quantity: d("1"), UnitPrice: d("50")})
	inv, _ := env.svc.CreateInvoice(ctx, p.ID, "pharm-1")

	if _, err := env.engine.AutoPayZero(ctx, inv.ID); !errors.Is(err, billing.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	got, _ := env.svc.Get(ctx, p.ID)
	if got.PaymentStatus == PaymentPaid {
		t.Error("a priced invoice settles only through a recorded payment")
	}
}

func TestService_ZeroInvoiceAutoPay(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	p := env.prescription(t, uuid.New(), Item{Medication: "Sample pack", Quantity: d("1"), UnitPrice: d("0")})
	inv, err := env.svc.CreateInvoice(ctx, p.ID, "pharm-1")
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	if inv.Status != billing.StatusPending {
		t.Fatalf("zero invoice must stay pending, got %s", inv.Status)
	}
	got, _ := env.svc.Get(ctx, p.ID)
	if got.PaymentStatus != PaymentUnpaid {
		t.Errorf("expected unpaid, got %s", got.PaymentStatus)
	}

	if _, err := env.engine.AutoPayZero(ctx, inv.ID); err != nil {
		t.Fatalf("auto pay: %v", err)
	}
	got, _ = env.svc.Get(ctx, p.ID)
	if got.PaymentStatus != PaymentPaid {
		t.Errorf("explicit auto-pay should mark the prescription paid, got %s", got.PaymentStatus)
	}
}

func TestService_HandleInvoiceStatusIgnoresOtherSources(t *testing.T) {
	env := newTestEnv()
	p := env.prescription(t, uuid.New(), Item{Medication: "x", Quantity: d("1"), UnitPrice: d("1")})
	err := env.svc.HandleInvoiceStatus(context.Background(), billing.InvoiceStatusChanged{
		SourceApp:              billing.SourceLaboratory,
		PrescriptionID:         &p.ID,
		NewStatus:              billing.StatusPaid,
		ManualPaymentProcessed: true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := env.svc.Get(context.Background(), p.ID)
	if got.PaymentStatus != PaymentUnpaid {
		t.Errorf("laboratory invoices must not change prescriptions, got %s", got.PaymentStatus)
	}
}
