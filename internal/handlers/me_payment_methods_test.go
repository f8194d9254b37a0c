package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/panierapp/api/internal/services"
)

func TestMeHandlersListPaymentMethods(t *testing.T) {
	created := time.Date(2024, 2, 10, 11, 0, 0, 0, time.UTC)
	svc := &stubUserService{
		methods: []services.PaymentMethod{
			{ID: "pm-1", Provider: "stripe", Reference: "pm_abc", Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2027, CreatedAt: created},
		},
	}

	req := withTestIdentity(httptest.NewRequest(http.MethodGet, "/payment-methods", nil), "user-1")
	rr := httptest.NewRecorder()
	newMeRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body []struct {
		ID       string `json:"id"`
		Provider string `json:"provider"`
		Brand    string `json:"brand"`
		Last4    string `json:"last4"`
		ExpMonth int    `json:"exp_month"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body) != 1 || body[0].Last4 != "4242" || body[0].ExpMonth != 12 {
		t.Fatalf("unexpected payment methods: %+v", body)
	}
}

func TestMeHandlersAddPaymentMethod(t *testing.T) {
	svc := &stubUserService{
		method: services.PaymentMethod{ID: "pm-2", Provider: "stripe", Reference: "pm_def", Brand: "mastercard", Last4: "4444"},
	}

	payload := `{"provider":"stripe","token":"tok_123"}`
	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/payment-methods", strings.NewReader(payload)), "user-1")
	rr := httptest.NewRecorder()
	newMeRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); !strings.HasSuffix(loc, "/pm-2") {
		t.Fatalf("expected Location ending in /pm-2, got %q", loc)
	}
	if svc.addMethodCmd.UserID != "user-1" || svc.addMethodCmd.Provider != "stripe" || svc.addMethodCmd.Token != "tok_123" {
		t.Fatalf("unexpected add command: %+v", svc.addMethodCmd)
	}
}

func TestMeHandlersAddPaymentMethodValidation(t *testing.T) {
	cases := map[string]string{
		"missing provider": `{"token":"tok_123"}`,
		"missing token":    `{"provider":"stripe"}`,
	}

	for name, payload := range cases {
		req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/payment-methods", strings.NewReader(payload)), "user-1")
		rr := httptest.NewRecorder()
		newMeRouter(&stubUserService{}).ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", name, rr.Code)
		}
	}
}

func TestMeHandlersAddPaymentMethodDuplicate(t *testing.T) {
	svc := &stubUserService{methodErr: services.ErrUserPaymentMethodDuplicate}
	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/payment-methods", strings.NewReader(`{"provider":"stripe","token":"tok_123"}`)), "user-1")
	rr := httptest.NewRecorder()
	newMeRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Error != "payment_method_conflict" {
		t.Fatalf("expected payment_method_conflict, got %s", body.Error)
	}
}

func TestMeHandlersRemovePaymentMethod(t *testing.T) {
	svc := &stubUserService{}
	req := withTestIdentity(httptest.NewRequest(http.MethodDelete, "/payment-methods/pm-1", nil), "user-1")
	rr := httptest.NewRecorder()
	newMeRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if svc.removeMethCmd.PaymentMethodID != "pm-1" {
		t.Fatalf("unexpected remove command: %+v", svc.removeMethCmd)
	}
}

func TestMeHandlersRemovePaymentMethodNotFound(t *testing.T) {
	svc := &stubUserService{methodErr: services.ErrUserPaymentMethodNotFound}
	req := withTestIdentity(httptest.NewRequest(http.MethodDelete, "/payment-methods/ghost", nil), "user-1")
	rr := httptest.NewRecorder()
	newMeRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
