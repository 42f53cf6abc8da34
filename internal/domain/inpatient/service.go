package inpatient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/nhia"
	"github.com/hms/hms/internal/domain/wallet"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/lock"
	"github.com/hms/hms/pkg/calendar"
)

const (
	TopicAdmissionCreated = "inpatient.admission_created"
	TopicAdmissionBilled  = "inpatient.admission_billed"
	TopicAdmissionClosed  = "inpatient.admission_closed"
	TopicAccrualCompleted = "inpatient.daily_accrual_completed"
	TopicRecoveryExecuted = "inpatient.recovery_executed"
)

// Gate is the NHIA policy the driver consults.
type Gate interface {
	Classify(ctx context.Context, patientID uuid.UUID, kind nhia.ServiceKind) (nhia.Outcome, error)
}

// Invoicer raises and reads admission invoices.
type Invoicer interface {
	CreateInvoice(ctx context.Context, inv *billing.Invoice) error
	Get(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
	List(ctx context.Context, f billing.InvoiceFilter) ([]*billing.Invoice, int, error)
}

// Payer settles invoices; the billing Recorder in production.
type Payer interface {
	ProcessPayment(ctx context.Context, req billing.PaymentRequest) (*billing.Outcome, error)
}

// WalletLedger is the part of the wallet the driver reads and posts through.
type WalletLedger interface {
	EnsureWallet(ctx context.Context, patientID uuid.UUID) (*wallet.Wallet, error)
	Balance(ctx context.Context, patientID uuid.UUID) (decimal.Decimal, error)
	Debit(ctx context.Context, patientID uuid.UUID, p wallet.Posting) (*wallet.Transaction, error)
	HasEntry(ctx context.Context, f wallet.TransactionFilter) (bool, error)
}

// Notifier is the best-effort outbox sink.
type Notifier interface {
	Notify(ctx context.Context, topic string, payload interface{})
}

// Deps are the collaborators of Service.
type Deps struct {
	Wards      WardRepository
	Admissions AdmissionRepository
	Gate       Gate
	Invoices   Invoicer
	Payer      Payer
	Ledger     WalletLedger
	Tx         db.Transactor
	// Locker guards scheduled runs. Nil disables run locking.
	Locker lock.Locker
	Notify Notifier
}

// Service owns wards, beds and admissions, and drives the financial
// lifecycle of an admission through the billing and wallet APIs.
type Service struct {
	wards      WardRepository
	admissions AdmissionRepository
	gate       Gate
	invoices   Invoicer
	payer      Payer
	ledger     WalletLedger
	tx         db.Transactor
	locker     lock.Locker
	notify     Notifier
	loc        *time.Location
	log        zerolog.Logger
	now        func() time.Time
	runTTL     time.Duration
}

func NewService(d Deps, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		wards:      d.Wards,
		admissions: d.Admissions,
		gate:       d.Gate,
		invoices:   d.Invoices,
		payer:      d.Payer,
		ledger:     d.Ledger,
		tx:         d.Tx,
		locker:     d.Locker,
		notify:     d.Notify,
		loc:        loc,
		log:        logger,
		now:        time.Now,
		runTTL:     30 * time.Minute,
	}
}

// Subscribe keeps admission amount_paid in step with its invoices.
func (s *Service) Subscribe(bus *events.Bus) {
	bus.Subscribe(billing.TopicInvoiceStatusChanged, s.HandleInvoiceStatus)
}

func (s *Service) emit(ctx context.Context, topic string, payload interface{}) {
	if s.notify != nil {
		s.notify.Notify(ctx, topic, payload)
	}
}

func (s *Service) today() time.Time { return calendar.Today(s.now(), s.loc) }

func (s *Service) CreateWard(ctx context.Context, w *Ward) error {
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("ward name is required")
	}
	if w.ChargePerDay.IsNegative() {
		return fmt.Errorf("%w: charge per day", billing.ErrInvalidAmount)
	}
	if w.Capacity < 0 {
		return fmt.Errorf("ward capacity must not be negative")
	}
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.wards.CreateWard(ctx, w)
	})
}

func (s *Service) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	return s.wards.GetWard(ctx, id)
}

func (s *Service) ListWards(ctx context.Context) ([]*Ward, error) {
	return s.wards.ListWards(ctx)
}

// SetWardCharge changes the daily rate used by future accrual days.
func (s *Service) SetWardCharge(ctx context.Context, id uuid.UUID, charge decimal.Decimal) (*Ward, error) {
	if charge.IsNegative() {
		return nil, fmt.Errorf("%w: charge per day", billing.ErrInvalidAmount)
	}
	var out *Ward
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		w, err := s.wards.GetWard(ctx, id)
		if err != nil {
			return err
		}
		w.ChargePerDay = charge
		if err := s.wards.UpdateWard(ctx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	return out, err
}

func (s *Service) CreateBed(ctx context.Context, b *Bed) error {
	if strings.TrimSpace(b.BedNumber) == "" {
		return fmt.Errorf("bed number is required")
	}
	b.IsOccupied = false
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.wards.GetWard(ctx, b.WardID); err != nil {
			return err
		}
		return s.wards.CreateBed(ctx, b)
	})
}

func (s *Service) ListBeds(ctx context.Context, wardID uuid.UUID) ([]*Bed, error) {
	return s.wards.ListBeds(ctx, wardID)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Admission, error) {
	return s.admissions.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Admission, int, error) {
	return s.admissions.ListByPatient(ctx, patientID, limit, offset)
}

func (s *Service) ListActive(ctx context.Context) ([]*Admission, error) {
	return s.admissions.ListActive(ctx)
}

// Cost reports the admission's projected cost and the unpaid balance of the
// charges raised against it.
func (s *Service) Cost(ctx context.Context, id uuid.UUID) (*Cost, error) {
	a, err := s.admissions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ward, err := s.wards.GetWard(ctx, a.WardID)
	if err != nil {
		return nil, err
	}
	out, err := s.gate.Classify(ctx, a.PatientID, nhia.ServiceDailyAdmissionCharge)
	if err != nil {
		return nil, err
	}
	var invoices []*billing.Invoice
	if out.Chargeable {
		if invoices, _, err = s.invoices.List(ctx, billing.InvoiceFilter{AdmissionID: &a.ID}); err != nil {
			return nil, err
		}
	}
	c := CostOf(a, ward, invoices, !out.Chargeable, s.now())
	return &c, nil
}
