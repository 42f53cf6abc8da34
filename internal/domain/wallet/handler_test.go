package wallet

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/validate"
)

func newTestHandler() (*Handler, *echo.Echo) {
	l, _, _ := newTestLedger()
	e := echo.New()
	e.Validator = validate.New()
	return NewHandler(l), e
}

func TestHandler_Deposit(t *testing.T) {
	h, e := newTestHandler()
	pid := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"2500.00","description":"cash"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patient_id")
	c.SetParamValues(pid.String())

	if err := h.Deposit(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var tx Transaction
	json.Unmarshal(rec.Body.Bytes(), &tx)
	if tx.Kind != KindDeposit || tx.BalanceAfter.String() != "2500" {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_Deposit_ZeroAmount(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":0}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patient_id")
	c.SetParamValues(uuid.New().String())

	err := h.Deposit(c)
	if err == nil {
		t.Fatal("expected error for zero amount")
	}
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetWallet_NotFound(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patient_id")
	c.SetParamValues(uuid.New().String())

	err := h.GetWallet(c)
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_InvalidPatientID(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patient_id")
	c.SetParamValues("not-a-uuid")

	if err := h.ListTransactions(c); err == nil {
		t.Error("expected error for invalid patient_id")
	}
}

func TestHandler_ListTransactionsAndVerify(t *testing.T) {
	h, e := newTestHandler()
	pid := uuid.New()
	for _, body := range []string{`{"amount":100}`, `{"amount":"50.25"}`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		c := e.NewContext(req, httptest.NewRecorder())
		c.SetParamNames("patient_id")
		c.SetParamValues(pid.String())
		if err := h.Deposit(c); err != nil {
			t.Fatalf("deposit: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/?kind=deposit&limit=1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patient_id")
	c.SetParamValues(pid.String())
	if err := h.ListTransactions(c); err != nil {
		t.Fatalf("list: %v", err)
	}
	var page struct {
		Total   int  `json:"total"`
		HasMore bool `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 2 || !page.HasMore {
		t.Errorf("unexpected page %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("patient_id")
	c.SetParamValues(pid.String())
	if err := h.Verify(c); err != nil {
		t.Fatalf("verify: %v", err)
	}
	var r Reconciliation
	json.Unmarshal(rec.Body.Bytes(), &r)
	if !r.Consistent || r.Entries != 2 {
		t.Errorf("unexpected reconciliation %s", rec.Body.String())
	}
}
