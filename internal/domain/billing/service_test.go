package billing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/nhia"
	"github.com/hms/hms/internal/domain/wallet"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
)

type fakeGate struct {
	requireErr error
	exempt     map[uuid.UUID]bool
	calls      []string
}

func (g *fakeGate) RequireAuthorization(_ context.Context, _ uuid.UUID, serviceType string) error {
	g.calls = append(g.calls, serviceType)
	return g.requireErr
}

func (g *fakeGate) Classify(_ context.Context, patientID uuid.UUID, _ nhia.ServiceKind) (nhia.Outcome, error) {
	if g.exempt[patientID] {
		return nhia.Outcome{IsNHIA: true, Reason: "covered by NHIA"}, nil
	}
	return nhia.Outcome{Chargeable: true}, nil
}

type recordedEvents struct {
	mu  sync.Mutex
	got []InvoiceStatusChanged
}

func (r *recordedEvents) handle(_ context.Context, evt events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, evt.(InvoiceStatusChanged))
	return nil
}

type testEnv struct {
	engine   *Engine
	recorder *Recorder
	ledger   *wallet.Ledger
	invoices *MemoryInvoiceRepository
	payments *MemoryPaymentRepository
	wallets  *wallet.MemoryRepository
	bus      *events.Bus
	gate     *fakeGate
	events   *recordedEvents
	clock    time.Time
}

func newTestEnv() *testEnv {
	env := &testEnv{
		invoices: NewMemoryInvoiceRepository(),
		payments: NewMemoryPaymentRepository(),
		wallets:  wallet.NewMemoryRepository(),
		bus:      events.NewBus(),
		gate:     &fakeGate{exempt: map[uuid.UUID]bool{}},
		events:   &recordedEvents{},
		clock:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	tx := db.NewMemoryTransactor(env.invoices, env.payments, env.wallets)
	env.ledger = wallet.NewLedger(env.wallets, tx, nil, zerolog.Nop())
	env.engine = NewEngine(env.invoices, tx, env.bus, env.gate, time.UTC, zerolog.Nop())
	env.engine.now = func() time.Time { return env.clock }
	env.recorder = NewRecorder(env.engine, env.payments, env.ledger, tx, nil, zerolog.Nop())
	env.ledger.SetOutstandingSettler(env.recorder)
	env.bus.Subscribe(TopicInvoiceStatusChanged, env.events.handle)
	return env
}

func (env *testEnv) invoice(t *testing.T, patientID uuid.UUID, src SourceApp, total string) *Invoice {
	t.Helper()
	inv := &Invoice{
		PatientID: patientID,
		SourceApp: src,
		Items:     []InvoiceItem{{Description: "service", Quantity: d("1"), UnitPrice: d(total)}},
	}
	if err := env.engine.CreateInvoice(context.Background(), inv); err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv
}

// pay records a cash payment at the billing office.
func (env *testEnv) pay(invoiceID uuid.UUID, amount string) (*Outcome, error) {
	return env.recorder.ProcessPayment(context.Background(), PaymentRequest{
		InvoiceID: invoiceID,
		Amount:    d(amount),
		Source:    SourceBillingOffice,
	})
}

func TestEngine_CreateInvoice(t *testing.T) {
	env := newTestEnv()
	pid := uuid.New()
	inv := &Invoice{
		PatientID:      pid,
		SourceApp:      SourcePharmacy,
		TaxAmount:      d("10"),
		DiscountAmount: d("5"),
		Items: []InvoiceItem{
			{Description: "Amoxicillin", Quantity: d("2"), UnitPrice: d("250")},
			{Description: "Paracetamol", Quantity: d("1"), UnitPrice: d("100")},
		},
	}
	if err := env.engine.CreateInvoice(context.Background(), inv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.Number != "INV202405010001" {
		t.Errorf("unexpected number %s", inv.Number)
	}
	if !inv.Subtotal.Equal(d("600")) || !inv.TotalAmount.Equal(d("605")) {
		t.Errorf("unexpected totals subtotal=%s total=%s", inv.Subtotal, inv.TotalAmount)
	}
	if inv.Status != StatusPending {
		t.Errorf("expected pending, got %s", inv.Status)
	}
	if len(env.gate.calls) != 1 || env.gate.calls[0] != "pharmacy" {
		t.Errorf("expected authorization check for pharmacy, got %v", env.gate.calls)
	}

	second := env.invoice(t, pid, SourceBilling, "50")
	if second.Number != "INV202405010002" {
		t.Errorf("expected daily sequence 0002, got %s", second.Number)
	}
	if len(env.gate.calls) != 1 {
		t.Error("billing invoices must not require authorization")
	}

	stored, _ := env.engine.Get(context.Background(), inv.ID)
	if len(stored.Items) != 2 {
		t.Errorf("expected 2 stored items, got %d", len(stored.Items))
	}
}

func TestEngine_CreateInvoice_Validation(t *testing.T) {
	env := newTestEnv()
	pid := uuid.New()
	tests := []struct {
		name string
		inv  *Invoice
	}{
		{"missing patient", &Invoice{SourceApp: SourceBilling}},
		{"bad source", &Invoice{PatientID: pid, SourceApp: "canteen"}},
		{"zero quantity", &Invoice{PatientID: pid, SourceApp: SourceBilling,
			Items: []InvoiceItem{{Description: "x", Quantity: d("0"), UnitPrice: d("1")}}}},
		{"negative price", &Invoice{PatientID: pid, SourceApp: SourceBilling,
			Items: []InvoiceItem{{Description: "x", Quantity: d("1"), UnitPrice: d("-1")}}}},
		{"missing description", &Invoice{PatientID: pid, SourceApp: SourceBilling,
			Items: []InvoiceItem{{Quantity: d("1"), UnitPrice: d("1")}}}},
		{"discount exceeds total", &Invoice{PatientID: pid, SourceApp: SourceBilling, DiscountAmount: d("10"),
			Items: []InvoiceItem{{Description: "x", Quantity: d("1"), UnitPrice: d("5")}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := env.engine.CreateInvoice(context.Background(), tt.inv); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestEngine_CreateInvoice_AuthorizationRequired(t *testing.T) {
	env := newTestEnv()
	env.gate.requireErr = nhia.ErrAuthorizationRequired
	inv := &Invoice{PatientID: uuid.New(), SourceApp: SourceLaboratory,
		Items: []InvoiceItem{{Description: "FBC", Quantity: d("1"), UnitPrice: d("1500")}}}
	if err := env.engine.CreateInvoice(context.Background(), inv); !errors.Is(err, nhia.ErrAuthorizationRequired) {
		t.Fatalf("expected ErrAuthorizationRequired, got %v", err)
	}
	items, _, _ := env.invoices.List(context.Background(), InvoiceFilter{})
	if len(items) != 0 {
		t.Error("no invoice should be stored")
	}
}

func TestEngine_ZeroAmountInvoice(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()

	plain := &Invoice{PatientID: pid, SourceApp: SourceBilling}
	env.engine.CreateInvoice(ctx, plain)
	if plain.Status != StatusPending {
		t.Errorf("zero invoice must stay pending, got %s", plain.Status)
	}

	auto := &Invoice{PatientID: pid, SourceApp: SourceBilling, AutoPayZero: true}
	env.engine.CreateInvoice(ctx, auto)
	if auto.Status != StatusPaid {
		t.Errorf("auto-pay zero invoice should be paid, got %s", auto.Status)
	}
	if len(env.events.got) != 1 || !env.events.got[0].AutoPaidZero {
		t.Errorf("expected one auto-paid event, got %+v", env.events.got)
	}

	paid, err := env.engine.AutoPayZero(ctx, plain.ID)
	if err != nil || paid.Status != StatusPaid || !paid.AutoPayZero {
		t.Errorf("explicit auto-pay should mark paid, got %+v %v", paid, err)
	}
}

func TestEngine_AutoPayZeroRejectsMoney(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	inv := env.invoice(t, uuid.New(), SourceBilling, "1000")

	if _, err := env.engine.AutoPayZero(ctx, inv.ID); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	stored, _ := env.engine.Get(ctx, inv.ID)
	if stored.Status != StatusPending || !stored.AmountPaid.IsZero() {
		t.Errorf("rejected auto-pay must not move the invoice, got %s / %s", stored.Status, stored.AmountPaid)
	}
	if len(env.events.got) != 0 {
		t.Errorf("expected no events, got %+v", env.events.got)
	}
}

// countingRepo reports a fixed count of invoices for every day.
type countingRepo struct {
	*MemoryInvoiceRepository
	count int
}

func (r countingRepo) CountOnDate(context.Context, time.Time) (int, error) { return r.count, nil }

func TestEngine_NumberCollisionFallback(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.engine.invoices = countingRepo{MemoryInvoiceRepository: env.invoices}
	env.engine.jitter = func(int) int { return 41 }

	for i := 1; i <= maxNumberAttempts; i++ {
		inv := &Invoice{PatientID: uuid.New(), SourceApp: SourceBilling, InvoiceDate: env.engine.today()}
		// CountOnDate always reports 0, so each new invoice walks past the previous ones
		if err := env.engine.insertNumbered(ctx, inv); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	env.clock = time.UnixMilli(1714557601234).UTC()
	inv := &Invoice{PatientID: uuid.New(), SourceApp: SourceBilling, InvoiceDate: day}
	if err := env.engine.insertNumbered(ctx, inv); err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if inv.Number != "INV202405011234" {
		t.Errorf("expected timestamp fallback INV202405011234, got %s", inv.Number)
	}

	// same millisecond: the retry moves off the taken number
	again := &Invoice{PatientID: uuid.New(), SourceApp: SourceBilling, InvoiceDate: day}
	if err := env.engine.insertNumbered(ctx, again); err != nil {
		t.Fatalf("jittered fallback: %v", err)
	}
	if again.Number != "INV202405011276" {
		t.Errorf("expected jittered fallback INV202405011276, got %s", again.Number)
	}

	third := &Invoice{PatientID: uuid.New(), SourceApp: SourceBilling, InvoiceDate: day}
	if err := env.engine.insertNumbered(ctx, third); !errors.Is(err, ErrDuplicateNumber) {
		t.Errorf("fixed clock and jitter should exhaust fallback attempts, got %v", err)
	}
}

func TestEngine_NumberStaysFourDigits(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.engine.invoices = countingRepo{MemoryInvoiceRepository: env.invoices, count: maxDailySequence}
	env.clock = time.UnixMilli(1714557600042).UTC()

	inv := &Invoice{PatientID: uuid.New(), SourceApp: SourceBilling, InvoiceDate: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}
	if err := env.engine.insertNumbered(ctx, inv); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inv.Number != "INV202405010042" {
		t.Errorf("expected the clock fallback once the sequence is full, got %s", inv.Number)
	}
	if !strings.HasPrefix(inv.Number, "INV20240501") || len(inv.Number) != 15 {
		t.Errorf("number must keep the format, got %s", inv.Number)
	}
}

func TestEngine_Items(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	inv := env.invoice(t, uuid.New(), SourceBilling, "100")

	it := &InvoiceItem{Description: "dressing", Quantity: d("2"), UnitPrice: d("50")}
	updated, err := env.engine.AddItem(ctx, inv.ID, it)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if !updated.TotalAmount.Equal(d("200")) {
		t.Errorf("expected 200, got %s", updated.TotalAmount)
	}

	it.Quantity = d("4")
	updated, err = env.engine.UpdateItem(ctx, it)
	if err != nil {
		t.Fatalf("update item: %v", err)
	}
	if !updated.TotalAmount.Equal(d("300")) {
		t.Errorf("expected 300, got %s", updated.TotalAmount)
	}

	updated, err = env.engine.RemoveItem(ctx, it.ID)
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if !updated.TotalAmount.Equal(d("100")) {
		t.Errorf("expected 100, got %s", updated.TotalAmount)
	}
	stored, _ := env.engine.Get(ctx, inv.ID)
	if !stored.TotalAmount.Equal(d("100")) || len(stored.Items) != 1 {
		t.Errorf("stored invoice out of date: %+v", stored)
	}
}

func TestEngine_ItemsBelowPaidRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	inv := env.invoice(t, uuid.New(), SourceBilling, "100")
	extra := &InvoiceItem{Description: "extra", Quantity: d("1"), UnitPrice: d("100")}
	env.engine.AddItem(ctx, inv.ID, extra)
	if _, err := env.pay(inv.ID, "150"); err != nil {
		t.Fatalf("pay: %v", err)
	}

	if _, err := env.engine.RemoveItem(ctx, extra.ID); !errors.Is(err, ErrOverpaymentRejected) {
		t.Fatalf("expected ErrOverpaymentRejected, got %v", err)
	}
	stored, _ := env.engine.Get(ctx, inv.ID)
	if len(stored.Items) != 2 || !stored.TotalAmount.Equal(d("200")) {
		t.Errorf("failed removal must roll back, got %+v", stored)
	}
}

// Amount paid always equals the sum of recorded payments.
func TestEngine_PaymentsMoveStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	inv := env.invoice(t, uuid.New(), SourceBilling, "1000")

	out, err := env.pay(inv.ID, "400")
	if err != nil || out.InvoiceStatus != StatusPartiallyPaid {
		t.Fatalf("expected partially_paid, got %+v %v", out, err)
	}
	if _, err := env.pay(inv.ID, "600.01"); !errors.Is(err, ErrOverpaymentRejected) {
		t.Fatalf("expected ErrOverpaymentRejected, got %v", err)
	}
	out, _ = env.pay(inv.ID, "600")
	if out.InvoiceStatus != StatusPaid {
		t.Errorf("expected paid, got %s", out.InvoiceStatus)
	}
	stored, _ := env.engine.Get(ctx, inv.ID)
	if !stored.ManualPaymentProcessed {
		t.Error("a recorded payment that settles the invoice must set the manual payment flag")
	}
	payments, _ := env.recorder.ListPayments(ctx, inv.ID)
	sum := d("0")
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	if len(payments) != 2 || !sum.Equal(stored.AmountPaid) {
		t.Errorf("amount paid %s must equal %d payments totalling %s", stored.AmountPaid, len(payments), sum)
	}
	if len(env.events.got) != 2 || !env.events.got[1].PaidDelta.Equal(d("600")) {
		t.Errorf("unexpected events %+v", env.events.got)
	}
}

func TestEngine_ConcurrentPaymentsNeverOverpay(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	inv := env.invoice(t, uuid.New(), SourceBilling, "1000")

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.pay(inv.ID, "150"); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	stored, _ := env.engine.Get(ctx, inv.ID)
	if ok != 6 || !stored.AmountPaid.Equal(d("900")) {
		t.Errorf("expected 6 accepted payments totalling 900, got %d and %s", ok, stored.AmountPaid)
	}
	if payments, _ := env.recorder.ListPayments(ctx, inv.ID); len(payments) != 6 {
		t.Errorf("expected 6 payment rows, got %d", len(payments))
	}
}

func TestEngine_SetStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()

	open := env.invoice(t, pid, SourceBilling, "100")
	cancelled, err := env.engine.SetStatus(ctx, open.ID, StatusCancelled)
	if err != nil || cancelled.Status != StatusCancelled {
		t.Fatalf("cancel: %s %v", cancelled.Status, err)
	}
	if _, err := env.engine.AddItem(ctx, open.ID, &InvoiceItem{Description: "x", Quantity: d("1"), UnitPrice: d("1")}); !errors.Is(err, ErrInvoiceLocked) {
		t.Errorf("cancelled invoice must be locked, got %v", err)
	}
	if _, err := env.pay(open.ID, "10"); !errors.Is(err, ErrInvoiceLocked) {
		t.Errorf("payments on cancelled invoice must be rejected, got %v", err)
	}

	partly := env.invoice(t, pid, SourceBilling, "100")
	env.pay(partly.ID, "10")
	if _, err := env.engine.SetStatus(ctx, partly.ID, StatusCancelled); !errors.Is(err, ErrInvoiceLocked) {
		t.Errorf("invoice with payments cannot be cancelled, got %v", err)
	}

	draft := &Invoice{PatientID: pid, SourceApp: SourceBilling, Status: StatusDraft,
		Items: []InvoiceItem{{Description: "x", Quantity: d("1"), UnitPrice: d("80")}}}
	env.engine.CreateInvoice(ctx, draft)
	if draft.Status != StatusDraft {
		t.Fatalf("expected draft, got %s", draft.Status)
	}
	promoted, err := env.engine.SetStatus(ctx, draft.ID, StatusPending)
	if err != nil || promoted.Status != StatusPending {
		t.Errorf("promote draft: %s %v", promoted.Status, err)
	}
	if _, err := env.engine.SetStatus(ctx, draft.ID, StatusPending); err == nil {
		t.Error("only drafts can be promoted")
	}
	if _, err := env.engine.SetStatus(ctx, draft.ID, StatusPaid); err == nil {
		t.Error("paid cannot be set manually")
	}
}

func TestEngine_Delete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()

	fresh := env.invoice(t, pid, SourceBilling, "100")
	if err := env.engine.Delete(ctx, fresh.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.engine.Get(ctx, fresh.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}

	partly := env.invoice(t, pid, SourceBilling, "100")
	env.pay(partly.ID, "1")
	if err := env.engine.Delete(ctx, partly.ID); !errors.Is(err, ErrInvoiceLocked) {
		t.Errorf("expected ErrInvoiceLocked, got %v", err)
	}
}

func TestEngine_MarkOverdue(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	pid := uuid.New()
	past := &Invoice{PatientID: pid, SourceApp: SourceBilling, DueDate: time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC),
		Items: []InvoiceItem{{Description: "x", Quantity: d("1"), UnitPrice: d("100")}}}
	env.engine.CreateInvoice(ctx, past)
	current := env.invoice(t, pid, SourceBilling, "100")

	n, err := env.engine.MarkOverdue(ctx, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 overdue, got %d %v", n, err)
	}
	stored, _ := env.engine.Get(ctx, past.ID)
	if stored.Status != StatusOverdue {
		t.Errorf("expected overdue, got %s", stored.Status)
	}
	still, _ := env.engine.Get(ctx, current.ID)
	if still.Status != StatusPending {
		t.Errorf("invoice due today must stay pending, got %s", still.Status)
	}

	unpaid, _ := env.engine.ListUnpaid(ctx, pid)
	if len(unpaid) != 2 {
		t.Errorf("overdue invoices are unpaid, got %d", len(unpaid))
	}

	zero := &Invoice{PatientID: pid, SourceApp: SourceBilling, DueDate: time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC)}
	env.engine.CreateInvoice(ctx, zero)
	if n, err := env.engine.MarkOverdue(ctx, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)); err != nil || n != 0 {
		t.Errorf("zero-total invoices must not go overdue, got %d %v", n, err)
	}
	if stored, _ := env.engine.Get(ctx, zero.ID); stored.Status != StatusPending {
		t.Errorf("zero-total invoice must stay pending, got %s", stored.Status)
	}

	out, err := env.pay(past.ID, "40")
	if err != nil || out.InvoiceStatus != StatusPartiallyPaid {
		t.Errorf("payment on overdue invoice should recompute, got %+v %v", out, err)
	}
}
