package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/go-chi/chi/v5"

	domain "github.com/panierapp/api/internal/domain"
	"github.com/panierapp/api/internal/platform/auth"
	"github.com/panierapp/api/internal/platform/httpx"
	"github.com/panierapp/api/internal/repositories"
	"github.com/panierapp/api/internal/services"
)

const maxProfileBodySize = 64 * 1024

var (
	errBodyTooLarge     = errors.New("request body too large")
	errEmptyBody        = errors.New("request body is required")
	errNoEditableFields = errors.New("no editable fields provided")
)

// MeHandlers exposes the authenticated buyer's own profile, addresses and
// payment methods.
type MeHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewMeHandlers constructs handlers enforcing Firebase authentication before
// invoking the user service.
func NewMeHandlers(authn *auth.Authenticator, users services.UserService) *MeHandlers {
	return &MeHandlers{
		authn: authn,
		users: users,
	}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getProfile)
	r.Put("/", h.updateProfile)
	r.Route("/addresses", h.addressRoutes)
	r.Route("/payment-methods", h.paymentMethodRoutes)
}

// requireCaller resolves the authenticated identity or writes the error
// response itself and reports false.
func (h *MeHandlers) requireCaller(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return nil, false
	}
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCaller(w, r)
	if !ok {
		return
	}

	profile, err := h.users.GetProfile(ctx, identity.UID)
	if err != nil {
		writeUserProfileError(ctx, w, err)
		return
	}

	record, _ := identity.User(ctx)
	writeJSONResponse(w, http.StatusOK, meResponse{Profile: buildProfilePayload(profile, identity, record)})
}

func (h *MeHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCaller(w, r)
	if !ok {
		return
	}

	body, ok := readProfileBody(ctx, w, r)
	if !ok {
		return
	}

	updateReq, err := parseUpdateProfileRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	updated, err := h.users.UpdateProfile(ctx, updateReq.toCommand(identity.UID))
	if err != nil {
		writeUserProfileError(ctx, w, err)
		return
	}

	record, _ := identity.User(ctx)
	writeJSONResponse(w, http.StatusOK, meResponse{Profile: buildProfilePayload(updated, identity, record)})
}

type meResponse struct {
	Profile meProfilePayload `json:"profile"`
}

type meProfilePayload struct {
	ID                string            `json:"id"`
	DisplayName       string            `json:"display_name"`
	Email             string            `json:"email"`
	EmailVerified     bool              `json:"email_verified"`
	PhoneNumber       string            `json:"phone_number,omitempty"`
	PhotoURL          string            `json:"photo_url,omitempty"`
	PreferredLanguage string            `json:"preferred_language,omitempty"`
	Locale            string            `json:"locale,omitempty"`
	Roles             []string          `json:"roles"`
	IsActive          bool              `json:"is_active"`
	NotificationPrefs map[string]bool   `json:"notification_prefs"`
	ProviderData      []providerPayload `json:"provider_data,omitempty"`
	CreatedAt         string            `json:"created_at,omitempty"`
	UpdatedAt         string            `json:"updated_at,omitempty"`
	LastSyncTime      string            `json:"last_sync_time,omitempty"`
}

type providerPayload struct {
	ProviderID  string `json:"provider_id"`
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

type updateProfileRequest struct {
	displayName          *string
	preferredLanguage    *string
	locale               *string
	notificationPrefs    map[string]bool
	expectedSync         *time.Time
	hasDisplayName       bool
	hasPreferredLanguage bool
	hasLocale            bool
	hasNotificationPrefs bool
}

func (req updateProfileRequest) toCommand(userID string) services.UpdateProfileCommand {
	cmd := services.UpdateProfileCommand{
		UserID:  userID,
		ActorID: userID,
	}
	if req.hasDisplayName {
		cmd.DisplayName = req.displayName
	}
	if req.hasPreferredLanguage {
		cmd.PreferredLanguage = req.preferredLanguage
	}
	if req.hasLocale {
		cmd.Locale = req.locale
	}
	if req.hasNotificationPrefs {
		cmd.NotificationPrefs = cloneNotificationPrefs(req.notificationPrefs)
	}
	if req.expectedSync != nil {
		cmd.ExpectedSyncTime = req.expectedSync
	}
	return cmd
}

// readProfileBody reads a bounded request body, writing the error response
// itself when the payload is missing or oversized.
func readProfileBody(ctx context.Context, w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := readLimitedBody(r, maxProfileBodySize)
	if err == nil {
		return body, true
	}
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	} else {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
	return nil, false
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxProfileBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// parseUpdateProfileRequest accepts only the editable profile fields and
// distinguishes absent fields from explicit nulls.
func parseUpdateProfileRequest(data []byte) (updateProfileRequest, error) {
	var req updateProfileRequest
	if len(strings.TrimSpace(string(data))) == 0 {
		return req, errEmptyBody
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return req, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if len(raw) == 0 {
		return req, errNoEditableFields
	}

	for key, value := range raw {
		var err error
		switch key {
		case "display_name":
			if isJSONNull(value) {
				return req, errors.New("display_name must not be null")
			}
			req.displayName, err = decodeStringField(value, "display_name")
			req.hasDisplayName = err == nil
		case "preferred_language":
			req.preferredLanguage, err = decodeNullableString(value, "preferred_language")
			req.hasPreferredLanguage = err == nil
		case "locale":
			req.locale, err = decodeNullableString(value, "locale")
			req.hasLocale = err == nil
		case "notification_prefs":
			req.hasNotificationPrefs = true
			if isJSONNull(value) {
				req.notificationPrefs = nil
				continue
			}
			var prefs map[string]bool
			if json.Unmarshal(value, &prefs) != nil {
				return req, errors.New("notification_prefs must be an object with boolean values")
			}
			if prefs == nil {
				prefs = map[string]bool{}
			}
			req.notificationPrefs = prefs
		case "last_sync_time":
			req.expectedSync, err = decodeSyncTime(value)
		default:
			return req, fmt.Errorf("field %q is not editable", key)
		}
		if err != nil {
			return req, err
		}
	}

	if !req.hasDisplayName && !req.hasPreferredLanguage && !req.hasLocale && !req.hasNotificationPrefs && req.expectedSync == nil {
		return req, errNoEditableFields
	}
	return req, nil
}

func decodeStringField(value json.RawMessage, name string) (*string, error) {
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return nil, fmt.Errorf("%s must be a string", name)
	}
	return &s, nil
}

// decodeNullableString maps an explicit null to the empty string, which the
// service treats as a clear.
func decodeNullableString(value json.RawMessage, name string) (*string, error) {
	if isJSONNull(value) {
		empty := ""
		return &empty, nil
	}
	return decodeStringField(value, name)
}

func decodeSyncTime(value json.RawMessage) (*time.Time, error) {
	if isJSONNull(value) {
		return nil, errors.New("last_sync_time must be a string")
	}
	var ts string
	if err := json.Unmarshal(value, &ts); err != nil {
		return nil, errors.New("last_sync_time must be a string")
	}
	parsed, err := parseRFC3339(ts)
	if err != nil {
		return nil, fmt.Errorf("last_sync_time must be RFC3339 timestamp: %w", err)
	}
	return &parsed, nil
}

func isJSONNull(value json.RawMessage) bool {
	return strings.EqualFold(strings.TrimSpace(string(value)), "null")
}

func parseRFC3339(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}

// buildProfilePayload merges the stored profile with the Firebase identity;
// token claims fill any gaps the profile document has not synced yet.
func buildProfilePayload(profile services.UserProfile, identity *auth.Identity, record *firebaseauth.UserRecord) meProfilePayload {
	payload := meProfilePayload{
		ID:                strings.TrimSpace(profile.ID),
		DisplayName:       profile.DisplayName,
		Email:             strings.TrimSpace(strings.ToLower(profile.Email)),
		PhoneNumber:       profile.PhoneNumber,
		PhotoURL:          profile.PhotoURL,
		PreferredLanguage: strings.TrimSpace(profile.PreferredLanguage),
		Locale:            strings.TrimSpace(profile.Locale),
		Roles:             slices.Clone(profile.Roles),
		IsActive:          profile.IsActive,
		NotificationPrefs: cloneNotificationPrefs(profile.NotificationPrefs),
		ProviderData:      providerPayloads(profile.ProviderData),
		CreatedAt:         formatTime(profile.CreatedAt),
		UpdatedAt:         formatTime(profile.UpdatedAt),
		LastSyncTime:      formatTime(profile.LastSyncTime),
	}

	if identity != nil {
		if payload.Email == "" {
			payload.Email = strings.TrimSpace(strings.ToLower(identity.Email))
		}
		if payload.Locale == "" {
			payload.Locale = strings.TrimSpace(identity.Locale)
		}
		if len(payload.Roles) == 0 {
			payload.Roles = slices.Clone(identity.Roles)
		}
	}
	if payload.Roles == nil {
		payload.Roles = []string{}
	}
	if payload.NotificationPrefs == nil {
		payload.NotificationPrefs = map[string]bool{}
	}
	if record != nil {
		payload.EmailVerified = record.EmailVerified
		if len(payload.ProviderData) == 0 {
			payload.ProviderData = providerPayloads(providersFromRecord(record))
		}
	}
	return payload
}

func providerPayloads(providers []domain.AuthProvider) []providerPayload {
	if len(providers) == 0 {
		return nil
	}
	payload := make([]providerPayload, 0, len(providers))
	for _, provider := range providers {
		payload = append(payload, providerPayload{
			ProviderID:  provider.ProviderID,
			UID:         provider.UID,
			Email:       provider.Email,
			DisplayName: provider.DisplayName,
			PhoneNumber: provider.PhoneNumber,
			PhotoURL:    provider.PhotoURL,
		})
	}
	return payload
}

// providersFromRecord flattens the Firebase user record into providers,
// deduplicating on (provider id, uid).
func providersFromRecord(record *firebaseauth.UserRecord) []domain.AuthProvider {
	if record == nil {
		return nil
	}

	infos := make([]*firebaseauth.UserInfo, 0, len(record.ProviderUserInfo)+1)
	infos = append(infos, record.UserInfo)
	infos = append(infos, record.ProviderUserInfo...)

	seen := make(map[string]struct{}, len(infos))
	var providers []domain.AuthProvider
	for _, info := range infos {
		if info == nil {
			continue
		}
		providerID := strings.TrimSpace(info.ProviderID)
		uid := strings.TrimSpace(info.UID)
		dedupe := providerID + "\x00" + uid
		if _, ok := seen[dedupe]; ok {
			continue
		}
		seen[dedupe] = struct{}{}
		providers = append(providers, domain.AuthProvider{
			ProviderID:  providerID,
			UID:         uid,
			Email:       strings.TrimSpace(strings.ToLower(info.Email)),
			DisplayName: strings.TrimSpace(info.DisplayName),
			PhoneNumber: strings.TrimSpace(info.PhoneNumber),
			PhotoURL:    strings.TrimSpace(info.PhotoURL),
		})
	}
	return providers
}

func cloneNotificationPrefs(prefs map[string]bool) map[string]bool {
	if prefs == nil {
		return nil
	}
	cloned := make(map[string]bool, len(prefs))
	for key, value := range prefs {
		cloned[key] = value
	}
	return cloned
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func cloneStringPointer(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func writeUserProfileError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, services.ErrUserProfileConflict):
		httpx.WriteError(ctx, w, httpx.NewError("profile_conflict", "profile has changed; refresh and retry", http.StatusConflict))
		return
	case errors.Is(err, services.ErrUserInvalidDisplayName),
		errors.Is(err, services.ErrUserInvalidLanguageTag),
		errors.Is(err, services.ErrUserInvalidNotificationKey):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_profile_field", err.Error(), http.StatusBadRequest))
		return
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			httpx.WriteError(ctx, w, httpx.NewError("profile_not_found", "profile not found", http.StatusNotFound))
			return
		case repoErr.IsUnavailable():
			httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile repository unavailable", http.StatusServiceUnavailable))
			return
		}
	}

	httpx.WriteError(ctx, w, httpx.NewError("profile_error", err.Error(), http.StatusInternalServerError))
}
