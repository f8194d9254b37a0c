package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/panierapp/api/internal/platform/httpx"
	"github.com/panierapp/api/internal/repositories"
	"github.com/panierapp/api/internal/services"
)

func (h *MeHandlers) addressRoutes(r chi.Router) {
	r.Get("/", h.listAddresses)
	r.Post("/", h.createAddress)
	r.Route("/{addressID}", func(r chi.Router) {
		r.Put("/", h.updateAddress)
		r.Delete("/", h.deleteAddress)
	})
}

func (h *MeHandlers) listAddresses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCaller(w, r)
	if !ok {
		return
	}

	addresses, err := h.users.ListAddresses(ctx, identity.UID)
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}

	payload := make([]addressPayload, 0, len(addresses))
	for _, addr := range addresses {
		payload = append(payload, buildAddressPayload(addr))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *MeHandlers) createAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCaller(w, r)
	if !ok {
		return
	}

	req, ok := h.decodeAddressBody(ctx, w, r)
	if !ok {
		return
	}

	saved, err := h.users.UpsertAddress(ctx, services.UpsertAddressCommand{
		UserID:    identity.UID,
		Address:   req.toDomainAddress(),
		IsDefault: req.IsDefault != nil && *req.IsDefault,
	})
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}

	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+saved.ID)
	writeJSONResponse(w, http.StatusCreated, buildAddressPayload(saved))
}

func (h *MeHandlers) updateAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCaller(w, r)
	if !ok {
		return
	}

	addressID := strings.TrimSpace(chi.URLParam(r, "addressID"))
	if addressID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "address id is required", http.StatusBadRequest))
		return
	}

	req, ok := h.decodeAddressBody(ctx, w, r)
	if !ok {
		return
	}

	saved, err := h.users.UpsertAddress(ctx, services.UpsertAddressCommand{
		UserID:    identity.UID,
		AddressID: &addressID,
		Address:   req.toDomainAddress(),
		IsDefault: req.IsDefault != nil && *req.IsDefault,
	})
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAddressPayload(saved))
}

func (h *MeHandlers) deleteAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCaller(w, r)
	if !ok {
		return
	}

	addressID := strings.TrimSpace(chi.URLParam(r, "addressID"))
	if addressID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "address id is required", http.StatusBadRequest))
		return
	}

	err := h.users.DeleteAddress(ctx, services.DeleteAddressCommand{
		UserID:    identity.UID,
		AddressID: addressID,
	})
	if err != nil {
		writeAddressError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MeHandlers) decodeAddressBody(ctx context.Context, w http.ResponseWriter, r *http.Request) (addressRequest, bool) {
	body, ok := readProfileBody(ctx, w, r)
	if !ok {
		return addressRequest{}, false
	}
	req, err := decodeAddressRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return addressRequest{}, false
	}
	return req, true
}

type addressRequest struct {
	Recipient  *string `json:"recipient"`
	Line1      *string `json:"line1"`
	Line2      *string `json:"line2"`
	City       *string `json:"city"`
	State      *string `json:"state"`
	PostalCode *string `json:"postal_code"`
	Country    *string `json:"country"`
	Phone      *string `json:"phone"`
	IsDefault  *bool   `json:"is_default"`
}

func decodeAddressRequest(data []byte) (addressRequest, error) {
	var req addressRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return addressRequest{}, err
	}

	required := []struct {
		value *string
		name  string
	}{
		{req.Recipient, "recipient"},
		{req.Line1, "line1"},
		{req.City, "city"},
		{req.PostalCode, "postal_code"},
		{req.Country, "country"},
	}
	for _, field := range required {
		if field.value == nil || strings.TrimSpace(*field.value) == "" {
			return addressRequest{}, errors.New(field.name + " is required")
		}
	}
	return req, nil
}

func (req addressRequest) toDomainAddress() services.Address {
	addr := services.Address{
		Recipient:  strings.TrimSpace(valueOrEmpty(req.Recipient)),
		Line1:      strings.TrimSpace(valueOrEmpty(req.Line1)),
		City:       strings.TrimSpace(valueOrEmpty(req.City)),
		PostalCode: strings.TrimSpace(valueOrEmpty(req.PostalCode)),
		Country:    strings.ToUpper(strings.TrimSpace(valueOrEmpty(req.Country))),
	}
	addr.Line2 = trimmedOptional(req.Line2)
	addr.State = trimmedOptional(req.State)
	addr.Phone = trimmedOptional(req.Phone)
	if req.IsDefault != nil {
		addr.IsDefault = *req.IsDefault
	}
	return addr
}

func trimmedOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

type addressPayload struct {
	ID         string  `json:"id"`
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
	IsDefault  bool    `json:"is_default"`
}

func buildAddressPayload(addr services.Address) addressPayload {
	return addressPayload{
		ID:         addr.ID,
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
		IsDefault:  addr.IsDefault,
	}
}

func valueOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func writeAddressError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrUserAddressNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "address not found", http.StatusNotFound))
		return
	case errors.Is(err, services.ErrUserInvalidAddressRecipient),
		errors.Is(err, services.ErrUserInvalidAddressLine1),
		errors.Is(err, services.ErrUserInvalidAddressCity),
		errors.Is(err, services.ErrUserInvalidAddressCountry),
		errors.Is(err, services.ErrUserInvalidAddressPostalCode),
		errors.Is(err, services.ErrUserInvalidAddressPhone):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_address", err.Error(), http.StatusBadRequest))
		return
	case errors.Is(err, services.ErrUserProfileConflict):
		httpx.WriteError(ctx, w, httpx.NewError("address_conflict", err.Error(), http.StatusConflict))
		return
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			httpx.WriteError(ctx, w, httpx.NewError("address_not_found", "address not found", http.StatusNotFound))
			return
		case repoErr.IsConflict():
			httpx.WriteError(ctx, w, httpx.NewError("address_conflict", "address conflict", http.StatusConflict))
			return
		}
	}

	httpx.WriteError(ctx, w, httpx.NewError("address_error", err.Error(), http.StatusInternalServerError))
}
