package exam

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo, *mockDirectory) {
	svc, _, dir := newService()
	h := NewHandler(svc)
	e := echo.New()
	return h, e, dir
}

func registerBody(patientID uuid.UUID, key string) string {
	return `{"name":"Chest X-Ray","modality":"CR","patient_id":"` + patientID.String() +
		`","idempotency_key":"` + key + `"}`
}

func postExam(e *echo.Echo, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestHandler_Register(t *testing.T) {
	h, e, dir := newTestHandler()
	patientID := dir.add(true)

	c, rec := postExam(e, registerBody(patientID, "req-handler-0001"))
	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_Register_ReplayIsOK(t *testing.T) {
	h, e, dir := newTestHandler()
	patientID := dir.add(true)
	body := registerBody(patientID, "req-handler-0002")

	c, rec := postExam(e, body)
	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 on first call, got %d", rec.Code)
	}

	c, rec = postExam(e, body)
	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for a replay, got %d", rec.Code)
	}
}

func TestHandler_Register_ErrorMapping(t *testing.T) {
	h, e, dir := newTestHandler()
	inactiveID := dir.add(false)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"unknown patient", registerBody(uuid.New(), "req-handler-0003"), http.StatusBadRequest},
		{"inactive patient", registerBody(inactiveID, "req-handler-0004"), http.StatusConflict},
		{"bad payload", `{"name":"X","modality":"ZZ","patient_id":"` + uuid.New().String() + `","idempotency_key":"req-handler-0005"}`, http.StatusBadRequest},
		{"malformed patient_id", `{"name":"X","modality":"CR","patient_id":"nope","idempotency_key":"req-handler-0006"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, _ := postExam(e, tc.body)
			err := h.Register(c)
			var he *echo.HTTPError
			if !errors.As(err, &he) {
				t.Fatalf("expected an HTTP error, got %v", err)
			}
			if he.Code != tc.want {
				t.Errorf("expected %d, got %d", tc.want, he.Code)
			}
		})
	}
}

func TestHandler_Get_NotFound(t *testing.T) {
	h, e, _ := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.Get(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_UpdateAndDelete(t *testing.T) {
	h, e, dir := newTestHandler()
	patientID := dir.add(true)

	c, _ := postExam(e, registerBody(patientID, "req-handler-0007"))
	if err := h.Register(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	exams, _, _ := h.svc.List(c.Request().Context(), 10, 0)
	if len(exams) != 1 {
		t.Fatalf("expected 1 exam, got %d", len(exams))
	}
	id := exams[0].ID.String()

	body := `{"name":"Thorax X-Ray"}`
	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	uc := e.NewContext(req, rec)
	uc.SetParamNames("id")
	uc.SetParamValues(id)
	if err := h.Update(uc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/", nil)
	rec = httptest.NewRecorder()
	dc := e.NewContext(req, rec)
	dc.SetParamNames("id")
	dc.SetParamValues(id)
	if err := h.Delete(dc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
