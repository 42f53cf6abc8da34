package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/validate"
)

func newTestHandler() (*Handler, *echo.Echo, *testEnv) {
	env := newTestEnv()
	h := NewHandler(env.engine, env.recorder)
	e := echo.New()
	e.Validator = validate.New()
	return h, e, env
}

func jsonContext(e *echo.Echo, method, body string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func httpCode(t *testing.T, err error) int {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestHandler_CreateInvoice(t *testing.T) {
	h, e, _ := newTestHandler()
	body := `{"patient_id":"` + uuid.New().String() + `","source_app":"billing","due_date":"2024-05-10",
		"items":[{"description":"Consultation","quantity":"1","unit_price":"2500"}]}`
	c, rec := jsonContext(e, http.MethodPost, body)

	if err := h.CreateInvoice(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var inv Invoice
	json.Unmarshal(rec.Body.Bytes(), &inv)
	if inv.Status != StatusPending || !inv.TotalAmount.Equal(d("2500")) {
		t.Errorf("unexpected invoice %s %s", inv.Status, inv.TotalAmount)
	}
	if inv.DueDate.Format("2006-01-02") != "2024-05-10" {
		t.Errorf("unexpected due date %s", inv.DueDate)
	}
}

func TestHandler_CreateInvoice_BadRequest(t *testing.T) {
	h, e, _ := newTestHandler()
	tests := []struct {
		name string
		body string
	}{
		{"missing patient", `{"source_app":"billing"}`},
		{"negative price", `{"patient_id":"` + uuid.New().String() + `","source_app":"billing","items":[{"description":"x","quantity":"1","unit_price":"-1"}]}`},
		{"bad due date", `{"patient_id":"` + uuid.New().String() + `","source_app":"billing","due_date":"10/05/2024"}`},
		{"unknown source", `{"patient_id":"` + uuid.New().String() + `","source_app":"canteen"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := jsonContext(e, http.MethodPost, tt.body)
			err := h.CreateInvoice(c)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := httpCode(t, err); code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", code)
			}
		})
	}
}

func TestHandler_GetInvoice_NotFound(t *testing.T) {
	h, e, _ := newTestHandler()
	c, _ := jsonContext(e, http.MethodGet, "")
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	if code := httpCode(t, h.GetInvoice(c)); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestHandler_ListInvoices(t *testing.T) {
	h, e, env := newTestHandler()
	pid := uuid.New()
	env.invoice(t, pid, SourceBilling, "100")
	env.invoice(t, pid, SourcePharmacy, "200")
	env.invoice(t, uuid.New(), SourceBilling, "300")

	req := httptest.NewRequest(http.MethodGet, "/?patient_id="+pid.String()+"&source_app=billing", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.ListInvoices(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data  []Invoice `json:"data"`
		Total int       `json:"total"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 1 || len(page.Data) != 1 {
		t.Errorf("expected 1 invoice, got %d", page.Total)
	}
}

func TestHandler_ProcessPayment(t *testing.T) {
	h, e, env := newTestHandler()
	pid := uuid.New()
	env.deposit(t, pid, "1000")
	inv := env.invoice(t, pid, SourceBilling, "600")

	c, rec := jsonContext(e, http.MethodPost, `{"amount":"600","source":"patient_wallet"}`)
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())
	if err := h.ProcessPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var out Outcome
	json.Unmarshal(rec.Body.Bytes(), &out)
	if !out.OK || out.InvoiceStatus != StatusPaid {
		t.Errorf("unexpected outcome %+v", out)
	}

	c, rec = jsonContext(e, http.MethodPost, `{"amount":"1"}`)
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())
	if err := h.ProcessPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Errorf("paying a paid invoice should conflict, got %d", rec.Code)
	}
	out = Outcome{}
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out.OK || out.Message == "" {
		t.Errorf("expected failure outcome, got %+v", out)
	}
}

func TestHandler_ProcessPayment_Overpayment(t *testing.T) {
	h, e, env := newTestHandler()
	inv := env.invoice(t, uuid.New(), SourceBilling, "100")

	c, rec := jsonContext(e, http.MethodPost, `{"amount":"150"}`)
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())
	if err := h.ProcessPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d", rec.Code)
	}
}

func TestHandler_ProcessPayment_Exempt(t *testing.T) {
	h, e, env := newTestHandler()
	pid := uuid.New()
	env.gate.exempt[pid] = true
	inv := env.invoice(t, pid, SourceLaboratory, "900")

	c, rec := jsonContext(e, http.MethodPost, `{"amount":"900","source":"patient_wallet"}`)
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())
	if err := h.ProcessPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for exempt patient, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"exempt":true`) {
		t.Errorf("expected exempt outcome, got %s", rec.Body.String())
	}
}

func TestHandler_SetStatus(t *testing.T) {
	h, e, env := newTestHandler()
	inv := env.invoice(t, uuid.New(), SourceBilling, "100")

	c, _ := jsonContext(e, http.MethodPatch, `{"status":"paid"}`)
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())
	if code := httpCode(t, h.SetStatus(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 for paid, got %d", code)
	}

	c, rec := jsonContext(e, http.MethodPatch, `{"status":"cancelled"}`)
	c.SetParamNames("id")
	c.SetParamValues(inv.ID.String())
	if err := h.SetStatus(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"cancelled"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_AutoPayZero(t *testing.T) {
	h, e, env := newTestHandler()
	zero := &Invoice{PatientID: uuid.New(), SourceApp: SourceBilling}
	if err := env.engine.CreateInvoice(context.Background(), zero); err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	priced := env.invoice(t, uuid.New(), SourceBilling, "100")

	c, _ := jsonContext(e, http.MethodPost, "")
	c.SetParamNames("id")
	c.SetParamValues(priced.ID.String())
	if code := httpCode(t, h.AutoPayZero(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400 for an invoice with a total, got %d", code)
	}

	c, rec := jsonContext(e, http.MethodPost, "")
	c.SetParamNames("id")
	c.SetParamValues(zero.ID.String())
	if err := h.AutoPayZero(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"status":"paid"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_DeletePayment(t *testing.T) {
	h, e, env := newTestHandler()
	pid := uuid.New()
	inv := env.invoice(t, pid, SourceBilling, "100")
	out, err := env.recorder.ProcessPayment(context.Background(), PaymentRequest{InvoiceID: inv.ID, Amount: d("100"), Source: SourcePatientWallet})
	if err != nil {
		t.Fatalf("process payment: %v", err)
	}

	c, rec := jsonContext(e, http.MethodDelete, "")
	c.SetParamNames("id")
	c.SetParamValues(out.Payment.ID.String())
	if err := h.DeletePayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if got := env.balance(t, pid); got != "0.00" {
		t.Errorf("expected wallet restored to 0.00, got %s", got)
	}

	c, _ = jsonContext(e, http.MethodDelete, "")
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	if code := httpCode(t, h.DeletePayment(c)); code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", code)
	}
}

func TestHandler_MarkOverdue(t *testing.T) {
	h, e, env := newTestHandler()
	env.invoice(t, uuid.New(), SourceBilling, "100")

	req := httptest.NewRequest(http.MethodPost, "/?date=2024-06-01", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.MarkOverdue(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"marked":1`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
