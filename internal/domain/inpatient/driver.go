package inpatient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/nhia"
	"github.com/hms/hms/internal/domain/wallet"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/pkg/calendar"
	"github.com/hms/hms/pkg/money"
)

// SystemUser is recorded on postings made by scheduled runs.
const SystemUser = "system"

type AdmitRequest struct {
	PatientID     uuid.UUID
	BedID         uuid.UUID
	AdmissionDate time.Time
	AdmittedBy    string
	Notes         string
}

// CreateAdmission occupies the bed and, unless the patient is NHIA exempt,
// raises the admission fee invoice and settles it from the wallet when the
// balance covers it. An uncovered fee leaves the invoice pending.
func (s *Service) CreateAdmission(ctx context.Context, req AdmitRequest) (*AdmissionResult, error) {
	if req.PatientID == uuid.Nil {
		return nil, fmt.Errorf("patient_id is required")
	}
	if req.BedID == uuid.Nil {
		return nil, fmt.Errorf("bed_id is required")
	}
	if req.AdmissionDate.IsZero() {
		req.AdmissionDate = s.now()
	}

	var res *AdmissionResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		outcome, err := s.gate.Classify(ctx, req.PatientID, nhia.ServiceAdmissionFee)
		if err != nil {
			return err
		}
		active, err := s.admissions.HasActive(ctx, req.PatientID)
		if err != nil {
			return err
		}
		if active {
			return ErrAlreadyAdmitted
		}
		// wallet, then invoice, then bed
		if outcome.Chargeable {
			if _, err := s.ledger.EnsureWallet(ctx, req.PatientID); err != nil {
				return fmt.Errorf("resolve wallet: %w", err)
			}
		}
		bed, err := s.wards.GetBed(ctx, req.BedID)
		if err != nil {
			return err
		}
		if !bed.Available() {
			return fmt.Errorf("%w: bed %s", ErrBedUnavailable, bed.BedNumber)
		}
		ward, err := s.wards.GetWard(ctx, bed.WardID)
		if err != nil {
			return err
		}
		if !ward.IsActive {
			return fmt.Errorf("%w: ward %s is inactive", ErrBedUnavailable, ward.Name)
		}

		a := &Admission{
			PatientID:     req.PatientID,
			BedID:         bed.ID,
			WardID:        ward.ID,
			AdmissionDate: req.AdmissionDate.UTC(),
			Status:        StatusAdmitted,
			BilledAmount:  decimal.Zero,
			AmountPaid:    decimal.Zero,
			AdmittedBy:    req.AdmittedBy,
			Notes:         req.Notes,
		}
		if err := s.admissions.Create(ctx, a); err != nil {
			return fmt.Errorf("create admission: %w", err)
		}
		if outcome.Chargeable {
			if res, err = s.chargeFee(ctx, a, ward, req.AdmittedBy); err != nil {
				return err
			}
			a = res.Admission
		} else {
			res = &AdmissionResult{Admission: a, Exempt: true, Message: outcome.Reason}
		}

		// the bed may have been taken since the unlocked read
		bed, err = s.wards.GetBedForUpdate(ctx, req.BedID)
		if err != nil {
			return err
		}
		if !bed.Available() {
			return fmt.Errorf("%w: bed %s", ErrBedUnavailable, bed.BedNumber)
		}
		bed.IsOccupied = true
		if err := s.wards.UpdateBed(ctx, bed); err != nil {
			return err
		}
		s.log.Info().
			Str("admission_id", a.ID.String()).
			Str("patient_id", a.PatientID.String()).
			Str("ward", ward.Name).
			Str("bed", bed.BedNumber).
			Bool("nhia", outcome.IsNHIA).
			Msg("patient admitted")
		s.emit(ctx, TopicAdmissionCreated, map[string]interface{}{
			"admission_id": a.ID,
			"patient_id":   a.PatientID,
			"ward_id":      ward.ID,
			"bed_id":       bed.ID,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ChargeAdmissionFee retries the admission fee settlement. It is a no-op once
// an admission_fee entry exists for the admission.
func (s *Service) ChargeAdmissionFee(ctx context.Context, admissionID uuid.UUID, userID string) (*AdmissionResult, error) {
	var res *AdmissionResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.admissions.GetByID(ctx, admissionID)
		if err != nil {
			return err
		}
		outcome, err := s.gate.Classify(ctx, a.PatientID, nhia.ServiceAdmissionFee)
		if err != nil {
			return err
		}
		if !outcome.Chargeable {
			res = &AdmissionResult{Admission: a, Exempt: true, Message: outcome.Reason}
			return nil
		}
		ward, err := s.wards.GetWard(ctx, a.WardID)
		if err != nil {
			return err
		}
		res, err = s.chargeFee(ctx, a, ward, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) chargeFee(ctx context.Context, a *Admission, ward *Ward, userID string) (*AdmissionResult, error) {
	res := &AdmissionResult{Admission: a, InvoiceID: a.FeeInvoiceID}
	charged := false
	if a.FeeInvoiceID != nil {
		// other inpatient invoices also post admission_fee entries
		var err error
		charged, err = s.ledger.HasEntry(ctx, wallet.TransactionFilter{
			Kinds:       []wallet.Kind{wallet.KindAdmissionFee},
			AdmissionID: &a.ID,
			InvoiceID:   a.FeeInvoiceID,
		})
		if err != nil {
			return nil, err
		}
	}
	if charged {
		res.Message = "admission fee already charged"
		return res, nil
	}
	if !ward.ChargePerDay.IsPositive() && a.FeeInvoiceID == nil {
		res.Message = fmt.Sprintf("ward %s has no admission fee", ward.Name)
		return res, nil
	}

	w, err := s.ledger.EnsureWallet(ctx, a.PatientID)
	if err != nil {
		return nil, fmt.Errorf("resolve wallet: %w", err)
	}
	inv, err := s.feeInvoice(ctx, a, ward, userID)
	if err != nil {
		return nil, err
	}
	res.InvoiceID = &inv.ID
	due := inv.Balance()
	if inv.Status == billing.StatusPaid || inv.Status == billing.StatusCancelled || !due.IsPositive() {
		res.Message = fmt.Sprintf("admission fee invoice %s is %s", inv.Number, inv.Status)
		return res, nil
	}
	if w.Balance.LessThan(due) {
		res.Message = fmt.Sprintf("wallet balance %s does not cover admission fee %s; invoice %s left pending",
			w.Balance.StringFixed(money.Places), due.StringFixed(money.Places), inv.Number)
		s.log.Info().
			Str("admission_id", a.ID.String()).
			Str("invoice_id", inv.ID.String()).
			Str("balance", w.Balance.StringFixed(money.Places)).
			Str("amount", due.StringFixed(money.Places)).
			Msg("admission fee left pending")
		return res, nil
	}

	if _, err := s.payer.ProcessPayment(ctx, billing.PaymentRequest{
		InvoiceID:  inv.ID,
		Amount:     due,
		Source:     billing.SourcePatientWallet,
		ReceivedBy: userID,
		Notes:      "admission fee",
		LedgerKind: wallet.KindAdmissionFee,
	}); err != nil {
		return nil, fmt.Errorf("settle admission fee: %w", err)
	}
	// amount_paid moved with the invoice event; reload before writing
	a, err = s.admissions.GetForUpdate(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	a.BilledAmount = a.BilledAmount.Add(due)
	if err := s.admissions.Update(ctx, a); err != nil {
		return nil, err
	}
	s.log.Info().
		Str("admission_id", a.ID.String()).
		Str("patient_id", a.PatientID.String()).
		Str("invoice_id", inv.ID.String()).
		Str("amount", due.StringFixed(money.Places)).
		Msg("admission billed")
	s.emit(ctx, TopicAdmissionBilled, map[string]interface{}{
		"admission_id": a.ID,
		"invoice_id":   inv.ID,
		"amount":       due,
	})
	res.Admission = a
	res.Charged = true
	res.Message = fmt.Sprintf("admission fee %s paid from wallet", due.StringFixed(money.Places))
	return res, nil
}

// feeInvoice returns the admission's fee invoice, raising it on first use.
func (s *Service) feeInvoice(ctx context.Context, a *Admission, ward *Ward, userID string) (*billing.Invoice, error) {
	if a.FeeInvoiceID != nil {
		inv, err := s.invoices.Get(ctx, *a.FeeInvoiceID)
		if err == nil {
			return inv, nil
		}
		if !errors.Is(err, billing.ErrNotFound) {
			return nil, err
		}
	}
	inv := &billing.Invoice{
		PatientID:   a.PatientID,
		SourceApp:   billing.SourceInpatient,
		AdmissionID: &a.ID,
		CreatedBy:   userID,
		Notes:       "Admission fee",
		Items: []billing.InvoiceItem{{
			Description: fmt.Sprintf("Admission fee: %s", ward.Name),
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   ward.ChargePerDay,
		}},
	}
	if err := s.invoices.CreateInvoice(ctx, inv); err != nil {
		return nil, fmt.Errorf("create admission fee invoice: %w", err)
	}
	a.FeeInvoiceID = &inv.ID
	if err := s.admissions.Update(ctx, a); err != nil {
		return nil, err
	}
	return inv, nil
}

// acquire takes the named run lock. The returned release is always safe to call.
func (s *Service) acquire(ctx context.Context, key string) (func(), error) {
	if s.locker == nil {
		return func() {}, nil
	}
	token, err := s.locker.TryLock(ctx, key, s.runTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", key, err)
	}
	if token == "" {
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, key)
	}
	return func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("release run lock")
		}
	}, nil
}

type accrual struct {
	charged int
	skipped int
	exempt  bool
	total   decimal.Decimal
}

// DailyAccrualTick charges every active admission for each uncharged day up
// to day. Each admission commits on its own; a failure is counted and the run
// continues. Running it again for the same day changes nothing.
func (s *Service) DailyAccrualTick(ctx context.Context, day time.Time) (*AccrualReport, error) {
	day = calendar.DateOf(day, day.Location())
	if today := s.today(); day.After(today) {
		return nil, fmt.Errorf("%w: accrual for %s, today is %s", ErrFutureDate,
			day.Format(time.DateOnly), today.Format(time.DateOnly))
	}
	release, err := s.acquire(ctx, "accrual:"+day.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer release()

	active, err := s.admissions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	report := &AccrualReport{Date: day, Total: decimal.Zero}
	for _, a := range active {
		if calendar.DateOf(a.AdmissionDate, s.loc).After(day) {
			continue
		}
		report.Admissions++
		var r accrual
		err := s.tx.InTx(ctx, func(ctx context.Context) error {
			var err error
			r, err = s.accrue(ctx, a.ID, day, SystemUser)
			return err
		})
		if err != nil {
			report.Failed++
			s.log.Error().Err(err).Str("admission_id", a.ID.String()).
				Str("date", day.Format(time.DateOnly)).Msg("daily accrual failed")
			continue
		}
		if r.exempt {
			report.Exempt++
		}
		report.Charged += r.charged
		report.Skipped += r.skipped
		report.Total = report.Total.Add(r.total)
	}

	s.log.Info().
		Str("date", day.Format(time.DateOnly)).
		Int("admissions", report.Admissions).
		Int("charged", report.Charged).
		Int("skipped", report.Skipped).
		Int("exempt", report.Exempt).
		Int("failed", report.Failed).
		Str("total", report.Total.StringFixed(money.Places)).
		Msg("daily accrual completed")
	s.emit(ctx, TopicAccrualCompleted, report)
	return report, nil
}

// accrue charges the admission for every day from its admission date through
// the given day that has no daily_admission_charge entry yet. Days after
// today are never charged.
func (s *Service) accrue(ctx context.Context, admissionID uuid.UUID, through time.Time, userID string) (accrual, error) {
	r := accrual{total: decimal.Zero}
	a, err := s.admissions.GetByID(ctx, admissionID)
	if err != nil {
		return r, err
	}
	if a.Status != StatusAdmitted {
		return r, nil
	}
	outcome, err := s.gate.Classify(ctx, a.PatientID, nhia.ServiceDailyAdmissionCharge)
	if err != nil {
		return r, err
	}
	if !outcome.Chargeable {
		r.exempt = true
		return r, nil
	}
	if _, err := s.ledger.EnsureWallet(ctx, a.PatientID); err != nil {
		return r, fmt.Errorf("resolve wallet: %w", err)
	}
	ward, err := s.wards.GetWard(ctx, a.WardID)
	if err != nil {
		return r, err
	}
	if !ward.ChargePerDay.IsPositive() {
		return r, nil
	}

	end := through
	if today := s.today(); end.After(today) {
		end = today
	}
	if a.DischargeDate != nil {
		if d := calendar.DateOf(*a.DischargeDate, s.loc); d.Before(end) {
			end = d
		}
	}
	for _, day := range calendar.Days(calendar.DateOf(a.AdmissionDate, s.loc), end) {
		day := day
		done, err := s.ledger.HasEntry(ctx, wallet.TransactionFilter{
			Kinds:       []wallet.Kind{wallet.KindDailyAdmissionCharge},
			AdmissionID: &a.ID,
			ServiceDate: &day,
		})
		if err != nil {
			return r, err
		}
		if done {
			r.skipped++
			continue
		}
		if err := s.chargeDay(ctx, a, ward, day, userID); err != nil {
			return r, fmt.Errorf("charge %s: %w", day.Format(time.DateOnly), err)
		}
		r.charged++
		r.total = r.total.Add(ward.ChargePerDay)
	}
	if r.charged == 0 {
		return r, nil
	}

	a, err = s.admissions.GetForUpdate(ctx, a.ID)
	if err != nil {
		return r, err
	}
	a.BilledAmount = a.BilledAmount.Add(r.total)
	if err := s.admissions.Update(ctx, a); err != nil {
		return r, err
	}
	s.log.Info().
		Str("admission_id", a.ID.String()).
		Str("patient_id", a.PatientID.String()).
		Int("days", r.charged).
		Str("amount", r.total.StringFixed(money.Places)).
		Msg("daily admission charges posted")
	return r, nil
}

// chargeDay raises one day's ward invoice and settles it from the wallet. The
// wallet may go negative.
func (s *Service) chargeDay(ctx context.Context, a *Admission, ward *Ward, day time.Time, userID string) error {
	inv := &billing.Invoice{
		PatientID:   a.PatientID,
		SourceApp:   billing.SourceInpatient,
		AdmissionID: &a.ID,
		CreatedBy:   userID,
		Notes:       "Daily admission charge " + day.Format(time.DateOnly),
		Items: []billing.InvoiceItem{{
			Description: fmt.Sprintf("%s ward, %s", ward.Name, day.Format(time.DateOnly)),
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   ward.ChargePerDay,
		}},
	}
	if err := s.invoices.CreateInvoice(ctx, inv); err != nil {
		return fmt.Errorf("create daily invoice: %w", err)
	}
	_, err := s.payer.ProcessPayment(ctx, billing.PaymentRequest{
		InvoiceID:   inv.ID,
		Amount:      inv.TotalAmount,
		Source:      billing.SourcePatientWallet,
		ReceivedBy:  userID,
		Notes:       "daily admission charge",
		LedgerKind:  wallet.KindDailyAdmissionCharge,
		ServiceDate: &day,
	})
	return err
}

type DischargeRequest struct {
	Status Status
	At     time.Time
	UserID string
}

// Discharge closes the admission. Uncharged days up to the discharge day are
// accrued first, then the bed is released.
func (s *Service) Discharge(ctx context.Context, admissionID uuid.UUID, req DischargeRequest) (*Admission, error) {
	if req.Status == "" {
		req.Status = StatusDischarged
	}
	if !req.Status.Closing() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, req.Status)
	}
	if req.At.IsZero() {
		req.At = s.now()
	}
	at := req.At.UTC()

	var out *Admission
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.admissions.GetByID(ctx, admissionID)
		if err != nil {
			return err
		}
		if a.Status != StatusAdmitted {
			return fmt.Errorf("%w: admission is %s", ErrNotAdmitted, a.Status)
		}
		if at.Before(a.AdmissionDate) {
			return fmt.Errorf("discharge at %s precedes admission", at.Format(time.RFC3339))
		}
		if calendar.DateOf(at, s.loc).After(s.today()) {
			return fmt.Errorf("%w: discharge at %s", ErrFutureDate, at.Format(time.RFC3339))
		}
		if _, err := s.accrue(ctx, a.ID, calendar.DateOf(at, s.loc), req.UserID); err != nil {
			return fmt.Errorf("discharge catch-up: %w", err)
		}

		a, err = s.admissions.GetForUpdate(ctx, a.ID)
		if err != nil {
			return err
		}
		bed, err := s.wards.GetBedForUpdate(ctx, a.BedID)
		if err != nil {
			return err
		}
		bed.IsOccupied = false
		if err := s.wards.UpdateBed(ctx, bed); err != nil {
			return err
		}
		a.Status = req.Status
		a.DischargeDate = &at
		if err := s.admissions.Update(ctx, a); err != nil {
			return err
		}
		s.log.Info().
			Str("admission_id", a.ID.String()).
			Str("status", string(a.Status)).
			Int("days", a.DurationDays(at)).
			Str("billed", a.BilledAmount.StringFixed(money.Places)).
			Msg("admission closed")
		s.emit(ctx, TopicAdmissionClosed, map[string]interface{}{
			"admission_id": a.ID,
			"patient_id":   a.PatientID,
			"status":       a.Status,
			"billed":       a.BilledAmount,
			"paid":         a.AmountPaid,
		})
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Transfer moves an admitted patient to another bed. Days up to today are
// charged at the old ward's rate; later days follow the new ward.
func (s *Service) Transfer(ctx context.Context, admissionID, bedID uuid.UUID, userID string) (*Admission, error) {
	var out *Admission
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.admissions.GetByID(ctx, admissionID)
		if err != nil {
			return err
		}
		if a.Status != StatusAdmitted {
			return fmt.Errorf("%w: admission is %s", ErrNotAdmitted, a.Status)
		}
		if a.BedID == bedID {
			return fmt.Errorf("%w: patient already in this bed", ErrBedUnavailable)
		}
		if _, err := s.accrue(ctx, a.ID, s.today(), userID); err != nil {
			return fmt.Errorf("transfer catch-up: %w", err)
		}

		// beds lock in id order
		first, second := a.BedID, bedID
		if bytes.Compare(first[:], second[:]) > 0 {
			first, second = second, first
		}
		locked := make(map[uuid.UUID]*Bed, 2)
		for _, id := range []uuid.UUID{first, second} {
			b, err := s.wards.GetBedForUpdate(ctx, id)
			if err != nil {
				return err
			}
			locked[id] = b
		}
		from, to := locked[a.BedID], locked[bedID]
		if !to.Available() {
			return fmt.Errorf("%w: bed %s", ErrBedUnavailable, to.BedNumber)
		}
		ward, err := s.wards.GetWard(ctx, to.WardID)
		if err != nil {
			return err
		}
		if !ward.IsActive {
			return fmt.Errorf("%w: ward %s is inactive", ErrBedUnavailable, ward.Name)
		}
		from.IsOccupied = false
		to.IsOccupied = true
		for _, b := range []*Bed{from, to} {
			if err := s.wards.UpdateBed(ctx, b); err != nil {
				return err
			}
		}

		a, err = s.admissions.GetForUpdate(ctx, a.ID)
		if err != nil {
			return err
		}
		a.BedID = to.ID
		a.WardID = to.WardID
		if err := s.admissions.Update(ctx, a); err != nil {
			return err
		}
		s.log.Info().
			Str("admission_id", a.ID.String()).
			Str("from_bed", from.BedNumber).
			Str("to_bed", to.BedNumber).
			Str("ward", ward.Name).
			Msg("patient transferred")
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WalletPaymentResult reports PayAdmissionFromWallet.
type WalletPaymentResult struct {
	Admission *Admission         `json:"admission"`
	Applied   decimal.Decimal    `json:"applied"`
	Payments  []*billing.Payment `json:"payments"`
}

// PayAdmissionFromWallet settles the admission's unpaid invoices from the
// wallet, oldest first, spending at most amount and never more than the
// wallet holds.
func (s *Service) PayAdmissionFromWallet(ctx context.Context, admissionID uuid.UUID, amount decimal.Decimal, userID string) (*WalletPaymentResult, error) {
	amount = money.Round(amount)
	if !amount.IsPositive() {
		return nil, billing.ErrInvalidAmount
	}
	var out *WalletPaymentResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.admissions.GetByID(ctx, admissionID)
		if err != nil {
			return err
		}
		w, err := s.ledger.EnsureWallet(ctx, a.PatientID)
		if err != nil {
			return fmt.Errorf("resolve wallet: %w", err)
		}
		budget := money.Min(amount, money.ClampZero(w.Balance))
		if !budget.IsPositive() {
			return fmt.Errorf("%w: balance %s", ErrInsufficientFunds, w.Balance.StringFixed(money.Places))
		}
		unpaid, _, err := s.invoices.List(ctx, billing.InvoiceFilter{
			AdmissionID: &a.ID,
			Statuses:    billing.UnpaidStatuses,
		})
		if err != nil {
			return err
		}

		res := &WalletPaymentResult{Applied: decimal.Zero}
		for _, inv := range unpaid {
			if !budget.IsPositive() {
				break
			}
			pay := money.Min(budget, inv.Balance())
			if !pay.IsPositive() {
				continue
			}
			outcome, err := s.payer.ProcessPayment(ctx, billing.PaymentRequest{
				InvoiceID:  inv.ID,
				Amount:     pay,
				Source:     billing.SourcePatientWallet,
				ReceivedBy: userID,
				Notes:      "admission payment from wallet",
				LedgerKind: wallet.KindPayment,
			})
			if err != nil {
				return fmt.Errorf("pay invoice %s: %w", inv.Number, err)
			}
			res.Payments = append(res.Payments, outcome.Payment)
			res.Applied = res.Applied.Add(pay)
			budget = budget.Sub(pay)
		}
		if res.Admission, err = s.admissions.GetByID(ctx, a.ID); err != nil {
			return err
		}
		s.log.Info().
			Str("admission_id", a.ID.String()).
			Str("applied", res.Applied.StringFixed(money.Places)).
			Int("invoices", len(res.Payments)).
			Msg("admission paid from wallet")
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// HandleInvoiceStatus moves admission amount_paid with its invoices' payments.
func (s *Service) HandleInvoiceStatus(ctx context.Context, evt events.Event) error {
	e, ok := evt.(billing.InvoiceStatusChanged)
	if !ok || e.SourceApp != billing.SourceInpatient || e.AdmissionID == nil || e.PaidDelta.IsZero() {
		return nil
	}
	a, err := s.admissions.GetForUpdate(ctx, *e.AdmissionID)
	if errors.Is(err, ErrNotFound) {
		s.log.Warn().Str("admission_id", e.AdmissionID.String()).Msg("invoice references unknown admission")
		return nil
	}
	if err != nil {
		return err
	}
	a.AmountPaid = money.ClampZero(a.AmountPaid.Add(e.PaidDelta))
	if err := s.admissions.Update(ctx, a); err != nil {
		return fmt.Errorf("update admission amount paid: %w", err)
	}
	return nil
}
