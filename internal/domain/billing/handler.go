package billing

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/domain/nhia"
	"github.com/hms/hms/internal/domain/wallet"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/pkg/calendar"
	"github.com/hms/hms/pkg/pagination"
)

type Handler struct {
	engine   *Engine
	recorder *Recorder
}

func NewHandler(engine *Engine, recorder *Recorder) *Handler {
	return &Handler{engine: engine, recorder: recorder}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – billing, cashier
	read := api.Group("", auth.RequireRole("billing", "cashier"))
	read.GET("/invoices", h.ListInvoices)
	read.GET("/invoices/:id", h.GetInvoice)
	read.GET("/invoices/:id/payments", h.ListPayments)

	// Write endpoints – billing
	write := api.Group("", auth.RequireRole("billing"))
	write.POST("/invoices", h.CreateInvoice)
	write.POST("/invoices/:id/items", h.AddItem)
	write.PUT("/invoice-items/:item_id", h.UpdateItem)
	write.DELETE("/invoice-items/:item_id", h.RemoveItem)
	write.PATCH("/invoices/:id/status", h.SetStatus)
	write.POST("/invoices/:id/auto-pay", h.AutoPayZero)
	write.DELETE("/invoices/:id", h.DeleteInvoice)

	// Payments – billing, cashier
	pay := api.Group("", auth.RequireRole("billing", "cashier"))
	pay.POST("/invoices/:id/payments", h.ProcessPayment)

	// Payment corrections and sweeps – admin
	admin := api.Group("", auth.RequireRole("admin"))
	admin.PUT("/payments/:id", h.UpdatePayment)
	admin.DELETE("/payments/:id", h.DeletePayment)
	admin.POST("/invoices/mark-overdue", h.MarkOverdue)
}

type itemRequest struct {
	ServiceID   *uuid.UUID      `json:"service_id"`
	Description string          `json:"description" validate:"required,max=255"`
	Quantity    decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
	TaxPct      decimal.Decimal `json:"tax_pct" validate:"gte=0,lte=100"`
	DiscountPct decimal.Decimal `json:"discount_pct" validate:"gte=0,lte=100"`
}

func (r itemRequest) item() InvoiceItem {
	return InvoiceItem{
		ServiceID:   r.ServiceID,
		Description: r.Description,
		Quantity:    r.Quantity,
		UnitPrice:   r.UnitPrice,
		TaxPct:      r.TaxPct,
		DiscountPct: r.DiscountPct,
	}
}

type createInvoiceRequest struct {
	PatientID      uuid.UUID       `json:"patient_id" validate:"required"`
	SourceApp      SourceApp       `json:"source_app" validate:"required"`
	AdmissionID    *uuid.UUID      `json:"admission_id"`
	PrescriptionID *uuid.UUID      `json:"prescription_id"`
	TestRequestID  *uuid.UUID      `json:"test_request_id"`
	DueDate        string          `json:"due_date"`
	TaxAmount      decimal.Decimal `json:"tax_amount" validate:"gte=0"`
	DiscountAmount decimal.Decimal `json:"discount_amount" validate:"gte=0"`
	Draft          bool            `json:"draft"`
	AutoPayZero    bool            `json:"auto_pay_zero"`
	Notes          string          `json:"notes"`
	Items          []itemRequest   `json:"items" validate:"dive"`
}

type statusRequest struct {
	Status Status `json:"status" validate:"required,oneof=cancelled pending"`
}

type paymentRequest struct {
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
	Source        PaymentSource   `json:"source"`
	Method        Method          `json:"method"`
	TransactionID string          `json:"transaction_id"`
	Notes         string          `json:"notes"`
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

// -- Invoice Handlers --

func (h *Handler) CreateInvoice(c echo.Context) error {
	var req createInvoiceRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	inv := &Invoice{
		PatientID:      req.PatientID,
		SourceApp:      req.SourceApp,
		AdmissionID:    req.AdmissionID,
		PrescriptionID: req.PrescriptionID,
		TestRequestID:  req.TestRequestID,
		TaxAmount:      req.TaxAmount,
		DiscountAmount: req.DiscountAmount,
		AutoPayZero:    req.AutoPayZero,
		Notes:          req.Notes,
		CreatedBy:      auth.UserIDFromContext(ctx),
	}
	if req.DueDate != "" {
		d, err := calendar.Parse(req.DueDate)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		inv.DueDate = d
	}
	if req.Draft {
		inv.Status = StatusDraft
	}
	for _, it := range req.Items {
		inv.Items = append(inv.Items, it.item())
	}
	if err := h.engine.CreateInvoice(ctx, inv); err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.engine.Get(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := InvoiceFilter{Limit: pg.Limit, Offset: pg.Offset, SourceApp: SourceApp(c.QueryParam("source_app"))}
	if v := c.QueryParam("patient_id"); v != "" {
		pid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &pid
	}
	if v := c.QueryParam("admission_id"); v != "" {
		aid, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid admission_id")
		}
		f.AdmissionID = &aid
	}
	for _, s := range c.QueryParams()["status"] {
		f.Statuses = append(f.Statuses, Status(s))
	}
	items, total, err := h.engine.List(c.Request().Context(), f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) AddItem(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req itemRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	it := req.item()
	inv, err := h.engine.AddItem(c.Request().Context(), id, &it)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) UpdateItem(c echo.Context) error {
	id, err := idParam(c, "item_id")
	if err != nil {
		return err
	}
	var req itemRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	it := req.item()
	it.ID = id
	inv, err := h.engine.UpdateItem(c.Request().Context(), &it)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) RemoveItem(c echo.Context) error {
	id, err := idParam(c, "item_id")
	if err != nil {
		return err
	}
	inv, err := h.engine.RemoveItem(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req statusRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	inv, err := h.engine.SetStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) AutoPayZero(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.engine.AutoPayZero(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) DeleteInvoice(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	if err := h.engine.Delete(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkOverdue(c echo.Context) error {
	today := h.engine.today()
	if v := c.QueryParam("date"); v != "" {
		d, err := calendar.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		today = d
	}
	n, err := h.engine.MarkOverdue(c.Request().Context(), today)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"marked": n, "date": today.Format(time.DateOnly)})
}

// -- Payment Handlers --

func (h *Handler) ProcessPayment(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req paymentRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	out, err := h.recorder.PayDiagnostic(ctx, PaymentRequest{
		InvoiceID:     id,
		Amount:        req.Amount,
		Source:        req.Source,
		Method:        req.Method,
		TransactionID: req.TransactionID,
		Notes:         req.Notes,
		ReceivedBy:    auth.UserIDFromContext(ctx),
	})
	if err != nil {
		return c.JSON(statusFor(err), Failure(err))
	}
	if out.Exempt {
		return c.JSON(http.StatusOK, out)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	items, err := h.recorder.ListPayments(c.Request().Context(), id)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UpdatePayment(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	var req amountRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	p, err := h.recorder.UpdatePaymentAmount(ctx, id, req.Amount, auth.UserIDFromContext(ctx))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) DeletePayment(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if err := h.recorder.DeletePayment(ctx, id, auth.UserIDFromContext(ctx)); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrOverpaymentRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvoiceLocked), errors.Is(err, db.ErrConcurrentModification):
		return http.StatusConflict
	case errors.Is(err, nhia.ErrAuthorizationRequired):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrPaymentNotFound),
		errors.Is(err, ErrItemNotFound), errors.Is(err, wallet.ErrWalletMissing):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func toHTTPError(err error) error {
	return echo.NewHTTPError(statusFor(err), err.Error())
}
