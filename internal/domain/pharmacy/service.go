package pharmacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/pkg/money"
)

const authorizationServiceType = "pharmacy"

// Invoicer raises and reads pharmacy invoices.
type Invoicer interface {
	CreateInvoice(ctx context.Context, inv *billing.Invoice) error
	Get(ctx context.Context, id uuid.UUID) (*billing.Invoice, error)
}

// Gate is the NHIA policy the pharmacy needs.
type Gate interface {
	IsNHIA(ctx context.Context, patientID uuid.UUID) (bool, error)
	PharmacyShare() decimal.Decimal
	HasValidAuthorization(ctx context.Context, patientID uuid.UUID, serviceType string) (bool, error)
}

type Service struct {
	repo     Repository
	invoices Invoicer
	gate     Gate
	tx       db.Transactor
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, invoices Invoicer, gate Gate, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{repo: repo, invoices: invoices, gate: gate, tx: tx, log: logger, now: time.Now}
}

// Subscribe attaches the prescription payment status to invoice transitions.
func (s *Service) Subscribe(bus *events.Bus) {
	bus.Subscribe(billing.TopicInvoiceStatusChanged, s.HandleInvoiceStatus)
}

func (s *Service) Create(ctx context.Context, p *Prescription) error {
	if p.PatientID == uuid.Nil {
		return fmt.Errorf("patient_id is required")
	}
	if len(p.Items) == 0 {
		return fmt.Errorf("prescription needs at least one item")
	}
	for i := range p.Items {
		it := &p.Items[i]
		if strings.TrimSpace(it.Medication) == "" {
			return fmt.Errorf("item medication is required")
		}
		if !it.Quantity.IsPositive() {
			return fmt.Errorf("%w: item quantity", billing.ErrInvalidAmount)
		}
		if it.UnitPrice.IsNegative() {
			return fmt.Errorf("%w: item unit price", billing.ErrInvalidAmount)
		}
	}
	p.PaymentStatus = PaymentUnpaid
	p.InvoiceID = nil
	p.DispensedAt = nil
	return s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.repo.Create(ctx, p)
	})
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// PatientPayable is the patient's share of the prescription: the NHIA share
// for enrolled patients, otherwise the full price.
func (s *Service) PatientPayable(ctx context.Context, p *Prescription) (decimal.Decimal, bool, error) {
	total := p.TotalPrescribedPrice()
	isNHIA, err := s.gate.IsNHIA(ctx, p.PatientID)
	if err != nil {
		return decimal.Zero, false, err
	}
	if !isNHIA {
		return total, false, nil
	}
	return money.Share(total, s.gate.PharmacyShare()), true, nil
}

// CreateInvoice raises the prescription's pharmacy invoice. NHIA patients are
// billed their share only: each line carries the covered part as a discount.
func (s *Service) CreateInvoice(ctx context.Context, prescriptionID uuid.UUID, userID string) (*billing.Invoice, error) {
	var out *billing.Invoice
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetForUpdate(ctx, prescriptionID)
		if err != nil {
			return err
		}
		if p.InvoiceID != nil {
			return fmt.Errorf("%w: %s", ErrAlreadyInvoiced, p.InvoiceID)
		}
		isNHIA, err := s.gate.IsNHIA(ctx, p.PatientID)
		if err != nil {
			return err
		}
		covered := decimal.Zero
		if isNHIA {
			covered = decimal.NewFromInt(1).Sub(s.gate.PharmacyShare()).Mul(decimal.NewFromInt(100))
		}

		inv := &billing.Invoice{
			PatientID:      p.PatientID,
			SourceApp:      billing.SourcePharmacy,
			PrescriptionID: &p.ID,
			CreatedBy:      userID,
		}
		if isNHIA {
			inv.Notes = "NHIA patient share"
		}
		for _, it := range p.Items {
			desc := it.Medication
			if it.Dosage != "" {
				desc += " " + it.Dosage
			}
			inv.Items = append(inv.Items, billing.InvoiceItem{
				Description: desc,
				Quantity:    it.Quantity,
				UnitPrice:   it.UnitPrice,
				DiscountPct: covered,
			})
		}
		if err := s.invoices.CreateInvoice(ctx, inv); err != nil {
			return err
		}
		p.InvoiceID = &inv.ID
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		s.log.Info().
			Str("prescription_id", p.ID.String()).
			Str("invoice_id", inv.ID.String()).
			Bool("nhia", isNHIA).
			Str("total", inv.TotalAmount.StringFixed(money.Places)).
			Msg("pharmacy invoice raised")
		out = inv
		return nil
	})
	return out, err
}

// CheckDispense reports whether the prescription may be dispensed: its
// invoice is paid, or the patient is NHIA with a valid authorization code.
func (s *Service) CheckDispense(ctx context.Context, prescriptionID uuid.UUID) (*DispenseCheck, error) {
	p, err := s.repo.GetByID(ctx, prescriptionID)
	if err != nil {
		return nil, err
	}
	return s.check(ctx, p)
}

func (s *Service) check(ctx context.Context, p *Prescription) (*DispenseCheck, error) {
	payable, isNHIA, err := s.PatientPayable(ctx, p)
	if err != nil {
		return nil, err
	}
	out := &DispenseCheck{PrescriptionID: p.ID, IsNHIA: isNHIA, PatientPayable: payable}
	if p.Dispensed() {
		out.Reason = "already dispensed"
		return out, nil
	}
	if isNHIA {
		ok, err := s.gate.HasValidAuthorization(ctx, p.PatientID, authorizationServiceType)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Allowed, out.Reason = true, "NHIA authorization on file"
			return out, nil
		}
	}
	if p.InvoiceID == nil {
		out.Reason = "no pharmacy invoice"
		return out, nil
	}
	inv, err := s.invoices.Get(ctx, *p.InvoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Status != billing.StatusPaid {
		out.Reason = fmt.Sprintf("pharmacy invoice %s is %s", inv.Number, inv.Status)
		return out, nil
	}
	out.Allowed, out.Reason = true, fmt.Sprintf("pharmacy invoice %s is paid", inv.Number)
	return out, nil
}

func (s *Service) Dispense(ctx context.Context, prescriptionID uuid.UUID, userID string) (*Prescription, error) {
	var out *Prescription
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err := s.repo.GetForUpdate(ctx, prescriptionID)
		if err != nil {
			return err
		}
		if p.Dispensed() {
			return ErrAlreadyDispensed
		}
		chk, err := s.check(ctx, p)
		if err != nil {
			return err
		}
		if !chk.Allowed {
			return fmt.Errorf("%w: %s", ErrDispenseBlocked, chk.Reason)
		}
		now := s.now().UTC()
		p.DispensedAt = &now
		p.DispensedBy = userID
		if err := s.repo.Update(ctx, p); err != nil {
			return err
		}
		s.log.Info().Str("prescription_id", p.ID.String()).Str("reason", chk.Reason).Msg("prescription dispensed")
		out = p
		return nil
	})
	return out, err
}

// HandleInvoiceStatus keeps payment_status in step with the linked pharmacy
// invoice. Only a real payment or an explicit zero auto-pay marks it paid.
func (s *Service) HandleInvoiceStatus(ctx context.Context, evt events.Event) error {
	e, ok := evt.(billing.InvoiceStatusChanged)
	if !ok || e.SourceApp != billing.SourcePharmacy || e.PrescriptionID == nil {
		return nil
	}
	p, err := s.repo.GetForUpdate(ctx, *e.PrescriptionID)
	if errors.Is(err, ErrNotFound) {
		s.log.Warn().Str("prescription_id", e.PrescriptionID.String()).Msg("invoice references unknown prescription")
		return nil
	}
	if err != nil {
		return err
	}

	next := p.PaymentStatus
	switch {
	case e.NewStatus == billing.StatusPaid && (e.ManualPaymentProcessed || e.AutoPaidZero):
		next = PaymentPaid
	case e.NewStatus == billing.StatusPaid:
	case e.NewStatus == billing.StatusPartiallyPaid:
		next = PaymentPartiallyPaid
	case e.AmountPaid.IsZero():
		next = PaymentUnpaid
	}
	if next == p.PaymentStatus {
		return nil
	}
	p.PaymentStatus = next
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("update prescription payment status: %w", err)
	}
	s.log.Info().
		Str("prescription_id", p.ID.String()).
		Str("invoice_id", e.InvoiceID.String()).
		Str("payment_status", string(next)).
		Msg("prescription payment status changed")
	return nil
}
