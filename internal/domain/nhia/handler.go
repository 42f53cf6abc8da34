package nhia

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/domain/patient"
	"github.com/hms/hms/internal/platform/auth"
)

type Handler struct {
	gate *Gate
}

func NewHandler(gate *Gate) *Handler {
	return &Handler{gate: gate}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/nhia", auth.RequireRole("admin", "billing", "nurse", "pharmacist"))
	read.GET("/:patient_id/status", h.GetStatus)

	write := api.Group("/nhia", auth.RequireRole("admin", "billing"))
	write.PUT("/:patient_id/registration", h.Enroll)
	write.DELETE("/:patient_id/registration", h.Deactivate)
	write.POST("/:patient_id/authorizations", h.IssueAuthorization)
	write.DELETE("/authorizations/:id", h.CancelAuthorization)
}

type enrollRequest struct {
	NHIANumber string `json:"nhia_number" validate:"required"`
}

type issueRequest struct {
	ServiceType string `json:"service_type"`
	TTLHours    int    `json:"ttl_hours" validate:"gte=0"`
}

func (h *Handler) GetStatus(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	st, err := h.gate.Lookup(c.Request().Context(), pid, c.QueryParam("service_type"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Enroll(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	var req enrollRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	reg, err := h.gate.Enroll(c.Request().Context(), pid, req.NHIANumber)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, reg)
}

func (h *Handler) Deactivate(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	if err := h.gate.Deactivate(c.Request().Context(), pid); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) IssueAuthorization(c echo.Context) error {
	pid, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	var req issueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	code, err := h.gate.IssueAuthorization(c.Request().Context(), pid, req.ServiceType,
		auth.UserIDFromContext(c.Request().Context()), time.Duration(req.TTLHours)*time.Hour)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, code)
}

func (h *Handler) CancelAuthorization(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.gate.CancelAuthorization(c.Request().Context(), id); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, patient.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrAuthorizationRequired):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
