package billing

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/wallet"
	"github.com/hms/hms/pkg/money"
)

func d(s string) decimal.Decimal { return money.MustParse(s) }

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		name    string
		current Status
		total   string
		paid    string
		autoPay bool
		want    Status
	}{
		{"cancelled unchanged", StatusCancelled, "100", "100", false, StatusCancelled},
		{"draft unchanged", StatusDraft, "100", "100", false, StatusDraft},
		{"fully paid", StatusPending, "100", "100", false, StatusPaid},
		{"partially paid", StatusPending, "100", "40", false, StatusPartiallyPaid},
		{"nothing paid", StatusPartiallyPaid, "100", "0", false, StatusPending},
		{"zero total stays pending", StatusPending, "0", "0", false, StatusPending},
		{"zero total auto pay", StatusPending, "0", "0", true, StatusPaid},
		{"overdue unpaid stays overdue", StatusOverdue, "100", "0", false, StatusOverdue},
		{"overdue partial payment", StatusOverdue, "100", "10", false, StatusPartiallyPaid},
		{"overdue settled", StatusOverdue, "100", "100", false, StatusPaid},
		{"paid reversed", StatusPaid, "100", "0", false, StatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DeriveStatus(tt.current, d(tt.total), d(tt.paid), tt.autoPay)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestInvoiceItem_Recompute(t *testing.T) {
	it := InvoiceItem{Quantity: d("3"), UnitPrice: d("200"), TaxPct: d("7.5"), DiscountPct: d("10")}
	it.Recompute()
	if !it.TaxAmount.Equal(d("45")) || !it.DiscountAmount.Equal(d("60")) || !it.LineTotal.Equal(d("585")) {
		t.Errorf("unexpected item totals tax=%s discount=%s line=%s", it.TaxAmount, it.DiscountAmount, it.LineTotal)
	}
}

func TestInvoice_Recompute(t *testing.T) {
	inv := Invoice{
		TaxAmount:      d("50"),
		DiscountAmount: d("20"),
		Items: []InvoiceItem{
			{Quantity: d("2"), UnitPrice: d("100")},
			{Quantity: d("1"), UnitPrice: d("300.25")},
		},
	}
	inv.Recompute()
	if !inv.Subtotal.Equal(d("500.25")) {
		t.Errorf("expected subtotal 500.25, got %s", inv.Subtotal)
	}
	if !inv.TotalAmount.Equal(d("530.25")) {
		t.Errorf("expected total 530.25, got %s", inv.TotalAmount)
	}
}

func TestInvoice_Balance(t *testing.T) {
	inv := Invoice{TotalAmount: d("100"), AmountPaid: d("30")}
	if !inv.Balance().Equal(d("70")) {
		t.Errorf("expected 70, got %s", inv.Balance())
	}
	inv.AmountPaid = d("120")
	if !inv.Balance().IsZero() {
		t.Errorf("balance must not go negative, got %s", inv.Balance())
	}
}

func TestSourceApp_LedgerKind(t *testing.T) {
	tests := map[SourceApp]wallet.Kind{
		SourcePharmacy:    wallet.KindPharmacyPayment,
		SourceLaboratory:  wallet.KindLabTestPayment,
		SourceRadiology:   wallet.KindLabTestPayment,
		SourceAppointment: wallet.KindConsultationFee,
		SourceTheatre:     wallet.KindProcedureFee,
		SourceInpatient:   wallet.KindAdmissionFee,
		SourceBilling:     wallet.KindPayment,
	}
	for src, want := range tests {
		if got := src.LedgerKind(); got != want {
			t.Errorf("%s: expected %s, got %s", src, want, got)
		}
	}
	if SourceApp("canteen").Valid() {
		t.Error("unknown source must be invalid")
	}
	if SourceInpatient.Clinical() || SourceBilling.Clinical() || !SourcePharmacy.Clinical() {
		t.Error("unexpected clinical classification")
	}
}
