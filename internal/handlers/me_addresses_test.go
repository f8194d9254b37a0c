package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/panierapp/api/internal/services"
)

func TestMeHandlersListAddresses(t *testing.T) {
	line2 := "Bât. B"
	svc := &stubUserService{
		addresses: []services.Address{
			{ID: "addr-1", Recipient: "Camille Durand", Line1: "12 rue de la Paix", Line2: &line2, City: "Paris", PostalCode: "75002", Country: "FR", IsDefault: true},
		},
	}

	req := withTestIdentity(httptest.NewRequest(http.MethodGet, "/addresses", nil), "user-1")
	rr := httptest.NewRecorder()
	newMeRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body []struct {
		ID        string `json:"id"`
		Recipient string `json:"recipient"`
		Country   string `json:"country"`
		IsDefault bool   `json:"is_default"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(body) != 1 || body[0].ID != "addr-1" || !body[0].IsDefault {
		t.Fatalf("unexpected addresses: %+v", body)
	}
}

func TestMeHandlersCreateAddress(t *testing.T) {
	svc := &stubUserService{
		address: services.Address{ID: "addr-2", Recipient: "Camille Durand", Line1: "3 avenue Foch", City: "Lyon", PostalCode: "69006", Country: "FR"},
	}

	payload := `{"recipient":"Camille Durand","line1":"3 avenue Foch","city":"Lyon","postal_code":"69006","country":"fr","is_default":true}`
	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/addresses", strings.NewReader(payload)), "user-1")
	rr := httptest.NewRecorder()
	newMeRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); !strings.HasSuffix(loc, "/addr-2") {
		t.Fatalf("expected Location ending in /addr-2, got %q", loc)
	}
	if svc.upsertCmd.UserID != "user-1" || svc.upsertCmd.AddressID != nil {
		t.Fatalf("unexpected upsert command: %+v", svc.upsertCmd)
	}
	if svc.upsertCmd.Address.Country != "FR" {
		t.Fatalf("expected uppercased country, got %q", svc.upsertCmd.Address.Country)
	}
	if !svc.upsertCmd.IsDefault {
		t.Fatal("expected default flag to be carried")
	}
}

func TestMeHandlersCreateAddressValidation(t *testing.T) {
	cases := map[string]string{
		"missing recipient":   `{"line1":"3 avenue Foch","city":"Lyon","postal_code":"69006","country":"FR"}`,
		"missing line1":       `{"recipient":"C","city":"Lyon","postal_code":"69006","country":"FR"}`,
		"missing city":        `{"recipient":"C","line1":"3 avenue Foch","postal_code":"69006","country":"FR"}`,
		"missing postal_code": `{"recipient":"C","line1":"3 avenue Foch","city":"Lyon","country":"FR"}`,
		"missing country":     `{"recipient":"C","line1":"3 avenue Foch","city":"Lyon","postal_code":"69006"}`,
	}

	for name, payload := range cases {
		req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/addresses", strings.NewReader(payload)), "user-1")
		rr := httptest.NewRecorder()
		newMeRouter(&stubUserService{}).ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected status 400, got %d", name, rr.Code)
		}
	}
}

func TestMeHandlersUpdateAddress(t *testing.T) {
	svc := &stubUserService{
		address: services.Address{ID: "addr-1", Recipient: "Camille Durand", Line1: "12 rue de la Paix", City: "Paris", PostalCode: "75002", Country: "FR"},
	}

	payload := `{"recipient":"Camille Durand","line1":"12 rue de la Paix","city":"Paris","postal_code":"75002","country":"FR"}`
	req := withTestIdentity(httptest.NewRequest(http.MethodPut, "/addresses/addr-1", strings.NewReader(payload)), "user-1")
	rr := httptest.NewRecorder()
	newMeRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.upsertCmd.AddressID == nil || *svc.upsertCmd.AddressID != "addr-1" {
		t.Fatalf("expected upsert targeting addr-1, got %+v", svc.upsertCmd.AddressID)
	}
}

func TestMeHandlersDeleteAddress(t *testing.T) {
	svc := &stubUserService{}
	req := withTestIdentity(httptest.NewRequest(http.MethodDelete, "/addresses/addr-1", nil), "user-1")
	rr := httptest.NewRecorder()
	newMeRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if svc.deleteCmd.UserID != "user-1" || svc.deleteCmd.AddressID != "addr-1" {
		t.Fatalf("unexpected delete command: %+v", svc.deleteCmd)
	}
}

func TestMeHandlersDeleteAddressNotFound(t *testing.T) {
	svc := &stubUserService{addressErr: services.ErrUserAddressNotFound}
	req := withTestIdentity(httptest.NewRequest(http.MethodDelete, "/addresses/ghost", nil), "user-1")
	rr := httptest.NewRecorder()
	newMeRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
