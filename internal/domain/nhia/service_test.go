package nhia

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/patient"
)

type fixture struct {
	gate     *Gate
	patients *patient.MemoryRepository
	repo     *MemoryRepository
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		patients: patient.NewMemoryRepository(),
		repo:     NewMemoryRepository(),
		clock:    time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	f.gate = NewGate(f.patients, f.repo, decimal.Zero, zerolog.Nop())
	f.gate.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) addPatient(t *testing.T, kind patient.Kind) uuid.UUID {
	t.Helper()
	p := &patient.Patient{FullName: "Ada Obi", Kind: kind}
	if err := f.patients.Create(context.Background(), p); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return p.ID
}

func TestGate_IsNHIA(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	regular := f.addPatient(t, patient.KindRegular)
	noReg := f.addPatient(t, patient.KindNHIA)
	inactive := f.addPatient(t, patient.KindNHIA)
	active := f.addPatient(t, patient.KindNHIA)

	f.repo.SaveRegistration(ctx, &Registration{PatientID: inactive, NHIANumber: "N-1", IsActive: false})
	f.repo.SaveRegistration(ctx, &Registration{PatientID: active, NHIANumber: "N-2", IsActive: true})
	// a registration alone does not make a regular patient NHIA
	f.repo.SaveRegistration(ctx, &Registration{PatientID: regular, NHIANumber: "N-3", IsActive: true})

	tests := []struct {
		name string
		id   uuid.UUID
		want bool
	}{
		{"regular kind", regular, false},
		{"no registration", noReg, false},
		{"inactive registration", inactive, false},
		{"active registration", active, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.gate.IsNHIA(ctx, tt.id)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestGate_IsNHIA_UnknownPatient(t *testing.T) {
	f := newFixture(t)
	if _, err := f.gate.IsNHIA(context.Background(), uuid.New()); !errors.Is(err, patient.ErrNotFound) {
		t.Fatalf("expected patient.ErrNotFound, got %v", err)
	}
}

func TestGate_Classify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	regular := f.addPatient(t, patient.KindRegular)
	insured := f.addPatient(t, patient.KindRegular)
	if _, err := f.gate.Enroll(ctx, insured, "NHIA-0001"); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	tests := []struct {
		name       string
		id         uuid.UUID
		kind       ServiceKind
		chargeable bool
		share      string
	}{
		{"regular admission", regular, ServiceAdmissionFee, true, "1"},
		{"regular pharmacy", regular, ServicePharmacy, true, "1"},
		{"nhia admission fee", insured, ServiceAdmissionFee, false, "0"},
		{"nhia daily charge", insured, ServiceDailyAdmissionCharge, false, "0"},
		{"nhia laboratory", insured, ServiceLaboratory, false, "0"},
		{"nhia radiology", insured, ServiceRadiology, false, "0"},
		{"nhia pharmacy", insured, ServicePharmacy, true, "0.1"},
		{"nhia other", insured, ServiceOther, true, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.gate.Classify(ctx, tt.id, tt.kind)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if out.Chargeable != tt.chargeable {
				t.Errorf("chargeable: expected %v, got %v", tt.chargeable, out.Chargeable)
			}
			if !out.Share.Equal(decimal.RequireFromString(tt.share)) {
				t.Errorf("share: expected %s, got %s", tt.share, out.Share)
			}
		})
	}
}

func TestGate_Enroll_ChangesKind(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.addPatient(t, patient.KindRegular)
	if _, err := f.gate.Enroll(ctx, id, "  "); err == nil {
		t.Fatal("expected error for blank nhia number")
	}
	if _, err := f.gate.Enroll(ctx, id, "NHIA-42"); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	p, _ := f.patients.GetByID(ctx, id)
	if p.Kind != patient.KindNHIA {
		t.Errorf("expected kind nhia, got %s", p.Kind)
	}
	if err := f.gate.Deactivate(ctx, id); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if ok, _ := f.gate.IsNHIA(ctx, id); ok {
		t.Error("expected deactivated patient to lose NHIA status")
	}
}

func TestGate_RequireAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	regular := f.addPatient(t, patient.KindRegular)
	insured := f.addPatient(t, patient.KindRegular)
	f.gate.Enroll(ctx, insured, "NHIA-7")

	if err := f.gate.RequireAuthorization(ctx, regular, "laboratory"); err != nil {
		t.Errorf("regular patient should pass, got %v", err)
	}
	if err := f.gate.RequireAuthorization(ctx, insured, "laboratory"); !errors.Is(err, ErrAuthorizationRequired) {
		t.Fatalf("expected ErrAuthorizationRequired, got %v", err)
	}

	code, err := f.gate.IssueAuthorization(ctx, insured, "laboratory", "frontdesk", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := f.gate.RequireAuthorization(ctx, insured, "laboratory"); err != nil {
		t.Errorf("expected pass with valid code, got %v", err)
	}
	if err := f.gate.RequireAuthorization(ctx, insured, "radiology"); !errors.Is(err, ErrAuthorizationRequired) {
		t.Errorf("laboratory code must not authorize radiology, got %v", err)
	}

	f.clock = f.clock.Add(2 * time.Hour)
	if err := f.gate.RequireAuthorization(ctx, insured, "laboratory"); !errors.Is(err, ErrAuthorizationRequired) {
		t.Errorf("expired code should not authorize, got %v", err)
	}
	n, _ := f.gate.ExpireStale(ctx)
	if n != 1 {
		t.Errorf("expected 1 expired code, got %d", n)
	}
	codes, _ := f.repo.ListAuthorizations(ctx, insured)
	if codes[0].ID != code.ID || codes[0].Status != AuthorizationExpired {
		t.Errorf("expected code to be marked expired, got %+v", codes[0])
	}
}

func TestGate_GeneralCodeAuthorizesAnyService(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := f.addPatient(t, patient.KindRegular)
	f.gate.Enroll(ctx, id, "NHIA-9")
	code, err := f.gate.IssueAuthorization(ctx, id, "", "frontdesk", 0)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if code.ServiceType != ServiceTypeGeneral {
		t.Errorf("expected general service type, got %s", code.ServiceType)
	}
	st, err := f.gate.Lookup(ctx, id, "pharmacy")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !st.IsNHIA || !st.AuthorizationValid || st.ServiceType != ServiceTypeGeneral {
		t.Errorf("unexpected status %+v", st)
	}

	f.gate.CancelAuthorization(ctx, code.ID)
	if ok, _ := f.gate.HasValidAuthorization(ctx, id, "pharmacy"); ok {
		t.Error("cancelled code should not authorize")
	}
}

func TestGate_IssueAuthorization_NotEnrolled(t *testing.T) {
	f := newFixture(t)
	id := f.addPatient(t, patient.KindNHIA)
	if _, err := f.gate.IssueAuthorization(context.Background(), id, "", "", 0); err == nil {
		t.Fatal("expected error for patient without registration")
	}
}
