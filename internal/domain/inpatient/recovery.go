package inpatient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/wallet"
	"github.com/hms/hms/pkg/money"
)

type Strategy string

const (
	StrategyImmediate           Strategy = "immediate"
	StrategyGradual             Strategy = "gradual"
	StrategyDailyPlus           Strategy = "daily_plus"
	StrategyBalanceAware        Strategy = "balance_aware"
	StrategyBalanceProportional Strategy = "balance_proportional"
	StrategyBalanceLimited      Strategy = "balance_limited"
	StrategyBalanceAggressive   Strategy = "balance_aggressive"
)

var strategies = map[Strategy]bool{
	StrategyImmediate: true, StrategyGradual: true, StrategyDailyPlus: true,
	StrategyBalanceAware: true, StrategyBalanceProportional: true,
	StrategyBalanceLimited: true, StrategyBalanceAggressive: true,
}

var ErrInvalidStrategy = errors.New("unknown recovery strategy")

// ParseStrategy accepts the strategy names; empty means balance_aware.
func ParseStrategy(s string) (Strategy, error) {
	if s == "" {
		return StrategyBalanceAware, nil
	}
	st := Strategy(s)
	if !strategies[st] {
		return "", fmt.Errorf("%w: %q", ErrInvalidStrategy, s)
	}
	return st, nil
}

type RecoveryConfig struct {
	Strategy Strategy
	// BalanceThreshold is the wallet floor balance_aware keeps untouched.
	BalanceThreshold decimal.Decimal
	// MaxNegativeBalance is how far below zero balance_limited may push.
	MaxNegativeBalance decimal.Decimal
	// MaxDailyCap bounds a single recovery. Zero means no cap.
	MaxDailyCap decimal.Decimal
}

func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Strategy:           StrategyBalanceAware,
		BalanceThreshold:   decimal.NewFromInt(1000),
		MaxNegativeBalance: decimal.NewFromInt(10000),
		MaxDailyCap:        decimal.Zero,
	}
}

var (
	half    = decimal.NewFromFloat(0.5)
	quarter = decimal.NewFromFloat(0.25)
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
	three   = decimal.NewFromInt(3)
	five    = decimal.NewFromInt(5)
)

// RecoveryAmount selects R for outstanding, the wallet balance and the daily
// ward charge. The result is never negative and never exceeds outstanding.
func RecoveryAmount(cfg RecoveryConfig, outstanding, balance, charge decimal.Decimal) decimal.Decimal {
	if !outstanding.IsPositive() {
		return decimal.Zero
	}
	var r decimal.Decimal
	switch cfg.Strategy {
	case StrategyImmediate:
		r = outstanding
	case StrategyGradual:
		r = money.Min(outstanding, charge)
	case StrategyDailyPlus:
		r = money.Min(outstanding, charge, outstanding.Mul(half))
	case StrategyBalanceProportional:
		switch {
		case !charge.IsPositive():
			r = decimal.Zero
		case balance.IsPositive():
			r = money.Min(outstanding, charge.Mul(money.Min(balance.Div(charge.Mul(five)), one)))
		default:
			r = money.Min(outstanding, charge.Mul(quarter))
		}
	case StrategyBalanceLimited:
		room := cfg.MaxNegativeBalance.Add(balance)
		if room.IsPositive() {
			r = money.Min(outstanding, room, charge.Mul(two))
		}
	case StrategyBalanceAggressive:
		r = money.Min(outstanding, charge.Mul(three))
	default:
		if balance.GreaterThan(cfg.BalanceThreshold) {
			r = money.Min(outstanding, balance.Sub(cfg.BalanceThreshold), charge)
		}
	}
	if cfg.MaxDailyCap.IsPositive() {
		r = money.Min(r, cfg.MaxDailyCap)
	}
	return money.Round(money.ClampZero(money.Min(r, outstanding)))
}

// RecoveryPlan is the planner's decision for one admission.
type RecoveryPlan struct {
	AdmissionID  uuid.UUID       `json:"admission_id"`
	Strategy     Strategy        `json:"strategy"`
	Exempt       bool            `json:"exempt"`
	Outstanding  decimal.Decimal `json:"outstanding"`
	Balance      decimal.Decimal `json:"balance"`
	ChargePerDay decimal.Decimal `json:"charge_per_day"`
	Amount       decimal.Decimal `json:"amount"`
}

// PlanRecovery computes how much to recover now. It reads without locking;
// a missing wallet counts as a zero balance.
func (s *Service) PlanRecovery(ctx context.Context, admissionID uuid.UUID, cfg RecoveryConfig) (*RecoveryPlan, error) {
	st, err := ParseStrategy(string(cfg.Strategy))
	if err != nil {
		return nil, err
	}
	cfg.Strategy = st
	cost, err := s.Cost(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	a, err := s.admissions.GetByID(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	plan := &RecoveryPlan{
		AdmissionID:  admissionID,
		Strategy:     cfg.Strategy,
		Exempt:       cost.IsNHIA,
		Outstanding:  cost.Outstanding,
		ChargePerDay: cost.ChargePerDay,
		Balance:      decimal.Zero,
		Amount:       decimal.Zero,
	}
	if plan.Exempt {
		return plan, nil
	}
	balance, err := s.ledger.Balance(ctx, a.PatientID)
	switch {
	case errors.Is(err, wallet.ErrWalletMissing):
	case err != nil:
		return nil, err
	default:
		plan.Balance = balance
	}
	plan.Amount = RecoveryAmount(cfg, plan.Outstanding, plan.Balance, plan.ChargePerDay)
	return plan, nil
}

// RecoveryResult reports ExecuteRecovery.
type RecoveryResult struct {
	Admission    *Admission         `json:"admission"`
	Amount       decimal.Decimal    `json:"amount"`
	Payments     []*billing.Payment `json:"payments"`
	BalanceAfter decimal.Decimal    `json:"balance_after"`
}

// ExecuteRecovery settles amount of the admission's unpaid invoices from the
// wallet, oldest first. Each settlement posts an outstanding admission
// recovery debit, and amount paid moves with the invoices. The wallet may go
// negative.
func (s *Service) ExecuteRecovery(ctx context.Context, admissionID uuid.UUID, amount decimal.Decimal, userID string) (*RecoveryResult, error) {
	amount = money.Round(amount)
	if !amount.IsPositive() {
		return nil, wallet.ErrInvalidAmount
	}
	var out *RecoveryResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		cost, err := s.Cost(ctx, admissionID)
		if err != nil {
			return err
		}
		if cost.IsNHIA {
			return ErrRecoveryExempt
		}
		if amount.GreaterThan(cost.Outstanding) {
			return fmt.Errorf("recovery %s exceeds outstanding %s",
				amount.StringFixed(money.Places), cost.Outstanding.StringFixed(money.Places))
		}
		a, err := s.admissions.GetByID(ctx, admissionID)
		if err != nil {
			return err
		}
		if _, err := s.ledger.EnsureWallet(ctx, a.PatientID); err != nil {
			return fmt.Errorf("resolve wallet: %w", err)
		}
		unpaid, _, err := s.invoices.List(ctx, billing.InvoiceFilter{
			AdmissionID: &a.ID,
			Statuses:    billing.UnpaidStatuses,
		})
		if err != nil {
			return err
		}

		res := &RecoveryResult{Amount: decimal.Zero}
		left := amount
		for _, inv := range unpaid {
			if !left.IsPositive() {
				break
			}
			pay := money.Min(left, inv.Balance())
			if !pay.IsPositive() {
				continue
			}
			outcome, err := s.payer.ProcessPayment(ctx, billing.PaymentRequest{
				InvoiceID:  inv.ID,
				Amount:     pay,
				Source:     billing.SourcePatientWallet,
				ReceivedBy: userID,
				Notes:      "outstanding admission balance recovery",
				LedgerKind: wallet.KindOutstandingAdmissionRecovery,
			})
			if err != nil {
				return fmt.Errorf("recover invoice %s: %w", inv.Number, err)
			}
			res.Payments = append(res.Payments, outcome.Payment)
			res.Amount = res.Amount.Add(pay)
			left = left.Sub(pay)
		}
		if res.BalanceAfter, err = s.ledger.Balance(ctx, a.PatientID); err != nil {
			return err
		}
		// amount_paid moved with the invoice events
		if res.Admission, err = s.admissions.GetByID(ctx, a.ID); err != nil {
			return err
		}
		s.log.Info().
			Str("admission_id", a.ID.String()).
			Str("patient_id", a.PatientID.String()).
			Str("amount", res.Amount.StringFixed(money.Places)).
			Int("invoices", len(res.Payments)).
			Str("balance_after", res.BalanceAfter.StringFixed(money.Places)).
			Msg("outstanding admission balance recovered")
		s.emit(ctx, TopicRecoveryExecuted, map[string]interface{}{
			"admission_id":  a.ID,
			"amount":        res.Amount,
			"invoices":      len(res.Payments),
			"balance_after": res.BalanceAfter,
		})
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecoveryReport summarizes RunRecovery.
type RecoveryReport struct {
	Date       time.Time       `json:"date"`
	Strategy   Strategy        `json:"strategy"`
	Admissions int             `json:"admissions"`
	Recovered  int             `json:"recovered"`
	Failed     int             `json:"failed"`
	Total      decimal.Decimal `json:"total"`
}

// RunRecovery plans and executes recovery for every active admission, once
// per calendar day.
func (s *Service) RunRecovery(ctx context.Context, cfg RecoveryConfig) (*RecoveryReport, error) {
	st, err := ParseStrategy(string(cfg.Strategy))
	if err != nil {
		return nil, err
	}
	cfg.Strategy = st
	day := s.today()
	release, err := s.acquire(ctx, "recovery:"+day.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	defer release()

	active, err := s.admissions.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	report := &RecoveryReport{Date: day, Strategy: cfg.Strategy, Total: decimal.Zero}
	for _, a := range active {
		report.Admissions++
		plan, err := s.PlanRecovery(ctx, a.ID, cfg)
		if err != nil {
			report.Failed++
			s.log.Error().Err(err).Str("admission_id", a.ID.String()).Msg("recovery plan failed")
			continue
		}
		if !plan.Amount.IsPositive() {
			continue
		}
		if _, err := s.ExecuteRecovery(ctx, a.ID, plan.Amount, SystemUser); err != nil {
			report.Failed++
			s.log.Error().Err(err).Str("admission_id", a.ID.String()).Msg("recovery failed")
			continue
		}
		report.Recovered++
		report.Total = report.Total.Add(plan.Amount)
	}
	s.log.Info().
		Str("date", day.Format(time.DateOnly)).
		Str("strategy", string(cfg.Strategy)).
		Int("admissions", report.Admissions).
		Int("recovered", report.Recovered).
		Int("failed", report.Failed).
		Str("total", report.Total.StringFixed(money.Places)).
		Msg("recovery run completed")
	return report, nil
}
