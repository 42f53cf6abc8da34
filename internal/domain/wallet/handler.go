package wallet

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/wallets", auth.RequireRole("billing", "cashier", "nurse"))
	read.GET("/:patient_id", h.GetWallet)
	read.GET("/:patient_id/transactions", h.ListTransactions)

	cash := api.Group("/wallets", auth.RequireRole("billing", "cashier"))
	cash.POST("/:patient_id/deposits", h.Deposit)
	cash.POST("/:patient_id/refunds", h.Refund)

	admin := api.Group("/wallets", auth.RequireRole("admin"))
	admin.POST("/:patient_id/debits", h.Debit)
	admin.GET("/:patient_id/verify", h.Verify)
}

type creditRequest struct {
	Amount             decimal.Decimal `json:"amount" validate:"gt=0"`
	Description        string          `json:"description" validate:"max=255"`
	ApplyToOutstanding bool            `json:"apply_to_outstanding"`
}

type debitRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"gt=0"`
	Kind        Kind            `json:"kind" validate:"required"`
	Description string          `json:"description" validate:"max=255"`
	AdmissionID *uuid.UUID      `json:"admission_id"`
	InvoiceID   *uuid.UUID      `json:"invoice_id"`
}

func patientParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	return id, nil
}

func (h *Handler) GetWallet(c echo.Context) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	w, err := h.ledger.Get(c.Request().Context(), pid)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) Deposit(c echo.Context) error {
	return h.credit(c, KindDeposit)
}

func (h *Handler) Refund(c echo.Context) error {
	return h.credit(c, KindRefund)
}

func (h *Handler) credit(c echo.Context, kind Kind) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	var req creditRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	t, err := h.ledger.Credit(ctx, pid, Posting{
		Amount:             req.Amount,
		Kind:               kind,
		Description:        req.Description,
		UserID:             auth.UserIDFromContext(ctx),
		ApplyToOutstanding: req.ApplyToOutstanding,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Debit(c echo.Context) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	var req debitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	t, err := h.ledger.Debit(ctx, pid, Posting{
		Amount:      req.Amount,
		Kind:        req.Kind,
		Description: req.Description,
		UserID:      auth.UserIDFromContext(ctx),
		AdmissionID: req.AdmissionID,
		InvoiceID:   req.InvoiceID,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) ListTransactions(c echo.Context) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := TransactionFilter{Limit: pg.Limit, Offset: pg.Offset}
	for _, k := range c.QueryParams()["kind"] {
		f.Kinds = append(f.Kinds, Kind(k))
	}
	if v := c.QueryParam("invoice_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid invoice_id")
		}
		f.InvoiceID = &id
	}
	if v := c.QueryParam("admission_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid admission_id")
		}
		f.AdmissionID = &id
	}
	items, total, err := h.ledger.History(c.Request().Context(), pid, f)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Verify(c echo.Context) error {
	pid, err := patientParam(c)
	if err != nil {
		return err
	}
	rec, err := h.ledger.Verify(c.Request().Context(), pid)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidKind):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrWalletMissing):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, db.ErrConcurrentModification):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
