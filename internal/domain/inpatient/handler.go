package inpatient

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/wallet"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/calendar"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	svc      *Service
	recovery RecoveryConfig
}

// NewHandler serves wards and admissions. recovery is the configured default
// for plan requests that name no strategy.
func NewHandler(svc *Service, recovery RecoveryConfig) *Handler {
	return &Handler{svc: svc, recovery: recovery}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("nurse", "billing", "cashier", "admin"))
	read.GET("/wards", h.ListWards)
	read.GET("/wards/:id", h.GetWard)
	read.GET("/wards/:id/beds", h.ListBeds)
	read.GET("/admissions", h.ListAdmissions)
	read.GET("/admissions/:id", h.GetAdmission)
	read.GET("/admissions/:id/cost", h.Cost)
	read.GET("/admissions/:id/recovery-plan", h.PlanRecovery)

	admin := api.Group("", auth.RequireRole("admin"))
	admin.POST("/wards", h.CreateWard)
	admin.PATCH("/wards/:id/charge", h.SetWardCharge)
	admin.POST("/wards/:id/beds", h.CreateBed)
	admin.POST("/admissions/:id/recovery", h.ExecuteRecovery)
	admin.POST("/accrual/run", h.RunAccrual)

	clinical := api.Group("", auth.RequireRole("nurse", "admin"))
	clinical.POST("/admissions", h.CreateAdmission)
	clinical.POST("/admissions/:id/discharge", h.Discharge)
	clinical.POST("/admissions/:id/transfer", h.Transfer)

	pay := api.Group("", auth.RequireRole("billing", "cashier"))
	pay.POST("/admissions/:id/charge-fee", h.ChargeAdmissionFee)
	pay.POST("/admissions/:id/wallet-payment", h.PayFromWallet)
}

type wardRequest struct {
	Name         string          `json:"name" validate:"required,max=100"`
	WardType     string          `json:"ward_type" validate:"max=50"`
	ChargePerDay decimal.Decimal `json:"charge_per_day" validate:"gte=0"`
	Capacity     int             `json:"capacity" validate:"gte=0"`
}

type chargeRequest struct {
	ChargePerDay decimal.Decimal `json:"charge_per_day" validate:"gte=0"`
}

type bedRequest struct {
	BedNumber string `json:"bed_number" validate:"required,max=20"`
}

type admitRequest struct {
	PatientID     uuid.UUID `json:"patient_id" validate:"required"`
	BedID         uuid.UUID `json:"bed_id" validate:"required"`
	AdmissionDate time.Time `json:"admission_date"`
	Notes         string    `json:"notes"`
}

type dischargeRequest struct {
	Status Status    `json:"status" validate:"omitempty,oneof=discharged transferred deceased"`
	At     time.Time `json:"at"`
}

type transferRequest struct {
	BedID uuid.UUID `json:"bed_id" validate:"required"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

func idParam(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func bindValid(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.Validate(v)
}

// -- Wards --

func (h *Handler) CreateWard(c echo.Context) error {
	var req wardRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	w := &Ward{Name: req.Name, WardType: req.WardType, ChargePerDay: req.ChargePerDay, Capacity: req.Capacity, IsActive: true}
	if err := h.svc.CreateWard(c.Request().Context(), w); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetWard(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	w, err := h.svc.GetWard(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ListWards(c echo.Context) error {
	wards, err := h.svc.ListWards(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, wards)
}

func (h *Handler) SetWardCharge(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req chargeRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	w, err := h.svc.SetWardCharge(c.Request().Context(), id, req.ChargePerDay)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) CreateBed(c echo.Context) error {
	wardID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req bedRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	b := &Bed{WardID: wardID, BedNumber: req.BedNumber, IsActive: true}
	if err := h.svc.CreateBed(c.Request().Context(), b); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ListBeds(c echo.Context) error {
	wardID, err := idParam(c, "id")
	if err != nil {
		return err
	}
	beds, err := h.svc.ListBeds(c.Request().Context(), wardID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, beds)
}

// -- Admissions --

func (h *Handler) CreateAdmission(c echo.Context) error {
	var req admitRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	res, err := h.svc.CreateAdmission(ctx, AdmitRequest{
		PatientID:     req.PatientID,
		BedID:         req.BedID,
		AdmissionDate: req.AdmissionDate,
		AdmittedBy:    auth.UserIDFromContext(ctx),
		Notes:         req.Notes,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// ListAdmissions lists a patient's admissions, or every active admission when
// no patient_id is given.
func (h *Handler) ListAdmissions(c echo.Context) error {
	ctx := c.Request().Context()
	if raw := c.QueryParam("patient_id"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		pg := pagination.FromContext(c)
		items, total, err := h.svc.ListByPatient(ctx, pid, pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
	items, err := h.svc.ListActive(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Cost(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	cost, err := h.svc.Cost(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, cost)
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req dischargeRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	a, err := h.svc.Discharge(ctx, id, DischargeRequest{Status: req.Status, At: req.At, UserID: auth.UserIDFromContext(ctx)})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Transfer(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req transferRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	a, err := h.svc.Transfer(ctx, id, req.BedID, auth.UserIDFromContext(ctx))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ChargeAdmissionFee(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	res, err := h.svc.ChargeAdmissionFee(ctx, id, auth.UserIDFromContext(ctx))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) PayFromWallet(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req amountRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	res, err := h.svc.PayAdmissionFromWallet(ctx, id, req.Amount, auth.UserIDFromContext(ctx))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// -- Recovery and accrual --

func (h *Handler) PlanRecovery(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	cfg := h.recovery
	if raw := c.QueryParam("strategy"); raw != "" {
		st, err := ParseStrategy(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		cfg.Strategy = st
	}
	plan, err := h.svc.PlanRecovery(c.Request().Context(), id, cfg)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, plan)
}

func (h *Handler) ExecuteRecovery(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req amountRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	res, err := h.svc.ExecuteRecovery(ctx, id, req.Amount, auth.UserIDFromContext(ctx))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

// RunAccrual runs the daily accrual for ?date=YYYY-MM-DD, default today.
func (h *Handler) RunAccrual(c echo.Context) error {
	day := h.svc.today()
	if raw := c.QueryParam("date"); raw != "" {
		d, err := calendar.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		day = d
	}
	report, err := h.svc.DailyAccrualTick(c.Request().Context(), day)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrWardNotFound), errors.Is(err, ErrBedNotFound),
		errors.Is(err, billing.ErrNotFound), errors.Is(err, wallet.ErrWalletMissing):
		return http.StatusNotFound
	case errors.Is(err, ErrBedUnavailable), errors.Is(err, ErrAlreadyAdmitted), errors.Is(err, ErrNotAdmitted),
		errors.Is(err, ErrDuplicateBed), errors.Is(err, ErrRunInProgress), errors.Is(err, ErrRecoveryExempt),
		errors.Is(err, db.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, billing.ErrOverpaymentRejected):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func toHTTPError(err error) error {
	return echo.NewHTTPError(statusFor(err), err.Error())
}
