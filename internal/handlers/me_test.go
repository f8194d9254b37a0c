package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/panierapp/api/internal/services"
)

type stubUserService struct {
	profile        services.UserProfile
	profileErr     error
	updateCmd      services.UpdateProfileCommand
	addresses      []services.Address
	address        services.Address
	addressErr     error
	upsertCmd      services.UpsertAddressCommand
	deleteCmd      services.DeleteAddressCommand
	methods        []services.PaymentMethod
	method         services.PaymentMethod
	methodErr      error
	addMethodCmd   services.AddPaymentMethodCommand
	removeMethCmd  services.RemovePaymentMethodCommand
}

func (s *stubUserService) GetProfile(_ context.Context, userID string) (services.UserProfile, error) {
	if s.profileErr != nil {
		return services.UserProfile{}, s.profileErr
	}
	profile := s.profile
	profile.ID = userID
	return profile, nil
}

func (s *stubUserService) UpdateProfile(_ context.Context, cmd services.UpdateProfileCommand) (services.UserProfile, error) {
	s.updateCmd = cmd
	return s.profile, s.profileErr
}

func (s *stubUserService) ListAddresses(_ context.Context, _ string) ([]services.Address, error) {
	return s.addresses, s.addressErr
}

func (s *stubUserService) UpsertAddress(_ context.Context, cmd services.UpsertAddressCommand) (services.Address, error) {
	s.upsertCmd = cmd
	return s.address, s.addressErr
}

func (s *stubUserService) DeleteAddress(_ context.Context, cmd services.DeleteAddressCommand) error {
	s.deleteCmd = cmd
	return s.addressErr
}

func (s *stubUserService) ListPaymentMethods(_ context.Context, _ string) ([]services.PaymentMethod, error) {
	return s.methods, s.methodErr
}

func (s *stubUserService) AddPaymentMethod(_ context.Context, cmd services.AddPaymentMethodCommand) (services.PaymentMethod, error) {
	s.addMethodCmd = cmd
	return s.method, s.methodErr
}

func (s *stubUserService) RemovePaymentMethod(_ context.Context, cmd services.RemovePaymentMethodCommand) error {
	s.removeMethCmd = cmd
	return s.methodErr
}

var _ services.UserService = (*stubUserService)(nil)

func newMeRouter(svc services.UserService) http.Handler {
	r := chi.NewRouter()
	NewMeHandlers(nil, svc).Routes(r)
	return r
}

func TestMeHandlersGetProfile(t *testing.T) {
	created := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	svc := &stubUserService{
		profile: services.UserProfile{
			DisplayName:       "Camille",
			Email:             "Camille@Example.com",
			PreferredLanguage: "fr",
			Roles:             []string{"user"},
			IsActive:          true,
			NotificationPrefs: map[string]bool{"order_updates": true},
			CreatedAt:         created,
		},
	}

	req := withTestIdentity(httptest.NewRequest(http.MethodGet, "/", nil), "user-1")
	rr := httptest.NewRecorder()
	newMeRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var body struct {
		Profile struct {
			ID                string          `json:"id"`
			DisplayName       string          `json:"display_name"`
			Email             string          `json:"email"`
			NotificationPrefs map[string]bool `json:"notification_prefs"`
		} `json:"profile"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Profile.ID != "user-1" {
		t.Fatalf("expected profile id user-1, got %s", body.Profile.ID)
	}
	if body.Profile.Email != "camille@example.com" {
		t.Fatalf("expected lowercased email, got %s", body.Profile.Email)
	}
	if !body.Profile.NotificationPrefs["order_updates"] {
		t.Fatalf("expected order_updates pref, got %v", body.Profile.NotificationPrefs)
	}
}

func TestMeHandlersUpdateProfile(t *testing.T) {
	svc := &stubUserService{profile: services.UserProfile{DisplayName: "Camille D."}}

	payload := `{"display_name":"Camille D.","preferred_language":"fr","notification_prefs":{"order_updates":false}}`
	req := withTestIdentity(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(payload)), "user-1")
	rr := httptest.NewRecorder()
	newMeRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.updateCmd.UserID != "user-1" || svc.updateCmd.ActorID != "user-1" {
		t.Fatalf("unexpected update command: %+v", svc.updateCmd)
	}
	if svc.updateCmd.DisplayName == nil || *svc.updateCmd.DisplayName != "Camille D." {
		t.Fatalf("expected display name, got %+v", svc.updateCmd.DisplayName)
	}
	if svc.updateCmd.PreferredLanguage == nil || *svc.updateCmd.PreferredLanguage != "fr" {
		t.Fatalf("expected preferred language fr, got %+v", svc.updateCmd.PreferredLanguage)
	}
	if enabled, ok := svc.updateCmd.NotificationPrefs["order_updates"]; !ok || enabled {
		t.Fatalf("expected order_updates disabled, got %v", svc.updateCmd.NotificationPrefs)
	}
}

func TestMeHandlersUpdateProfileRejectsUnknownField(t *testing.T) {
	req := withTestIdentity(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"email":"new@example.com"}`)), "user-1")
	rr := httptest.NewRecorder()
	newMeRouter(&stubUserService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestMeHandlersUpdateProfileConflict(t *testing.T) {
	svc := &stubUserService{profileErr: services.ErrUserProfileConflict}
	req := withTestIdentity(httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"display_name":"X"}`)), "user-1")
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
	if body.Error != "profile_conflict" {
		t.Fatalf("expected profile_conflict, got %s", body.Error)
	}
}

func TestMeHandlersUpdateProfileRequiresBody(t *testing.T) {
	req := withTestIdentity(httptest.NewRequest(http.MethodPut, "/", nil), "user-1")
	rr := httptest.NewRecorder()
	newMeRouter(&stubUserService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestMeHandlersRequireIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	newMeRouter(&stubUserService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
