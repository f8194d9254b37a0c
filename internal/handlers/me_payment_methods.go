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

func (h *MeHandlers) paymentMethodRoutes(r chi.Router) {
	r.Get("/", h.listPaymentMethods)
	r.Post("/", h.createPaymentMethod)
	r.Route("/{paymentMethodID}", func(r chi.Router) {
		r.Delete("/", h.deletePaymentMethod)
	})
}

func (h *MeHandlers) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCaller(w, r)
	if !ok {
		return
	}

	methods, err := h.users.ListPaymentMethods(ctx, identity.UID)
	if err != nil {
		writePaymentMethodError(ctx, w, err)
		return
	}

	payload := make([]paymentMethodPayload, 0, len(methods))
	for _, method := range methods {
		payload = append(payload, buildPaymentMethodPayload(method))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *MeHandlers) createPaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCaller(w, r)
	if !ok {
		return
	}

	body, ok := readProfileBody(ctx, w, r)
	if !ok {
		return
	}

	req, err := decodePaymentMethodRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	method, err := h.users.AddPaymentMethod(ctx, services.AddPaymentMethodCommand{
		UserID:   identity.UID,
		Provider: req.Provider,
		Token:    req.Token,
	})
	if err != nil {
		writePaymentMethodError(ctx, w, err)
		return
	}

	payload := buildPaymentMethodPayload(method)
	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+payload.ID)
	writeJSONResponse(w, http.StatusCreated, payload)
}

func (h *MeHandlers) deletePaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := h.requireCaller(w, r)
	if !ok {
		return
	}

	paymentMethodID := strings.TrimSpace(chi.URLParam(r, "paymentMethodID"))
	if paymentMethodID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment method id is required", http.StatusBadRequest))
		return
	}

	err := h.users.RemovePaymentMethod(ctx, services.RemovePaymentMethodCommand{
		UserID:          identity.UID,
		PaymentMethodID: paymentMethodID,
	})
	if err != nil {
		writePaymentMethodError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type paymentMethodRequest struct {
	Provider string `json:"provider"`
	Token    string `json:"token"`
}

// decodePaymentMethodRequest accepts only a provider name and an opaque
// token. Raw card numbers never reach this API.
func decodePaymentMethodRequest(body []byte) (paymentMethodRequest, error) {
	if len(body) == 0 {
		return paymentMethodRequest{}, errors.New("request body is required")
	}

	var req paymentMethodRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return paymentMethodRequest{}, err
	}

	req.Provider = strings.TrimSpace(req.Provider)
	req.Token = strings.TrimSpace(req.Token)
	switch {
	case req.Provider == "":
		return paymentMethodRequest{}, errors.New("provider is required")
	case req.Token == "":
		return paymentMethodRequest{}, errors.New("token is required")
	}
	return req, nil
}

type paymentMethodPayload struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Reference string `json:"reference"`
	Brand     string `json:"brand,omitempty"`
	Last4     string `json:"last4,omitempty"`
	ExpMonth  int    `json:"exp_month,omitempty"`
	ExpYear   int    `json:"exp_year,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

func buildPaymentMethodPayload(method services.PaymentMethod) paymentMethodPayload {
	return paymentMethodPayload{
		ID:        method.ID,
		Provider:  method.Provider,
		Reference: method.Reference,
		Brand:     method.Brand,
		Last4:     method.Last4,
		ExpMonth:  method.ExpMonth,
		ExpYear:   method.ExpYear,
		CreatedAt: formatTime(method.CreatedAt),
	}
}

func writePaymentMethodError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, services.ErrUserPaymentMethodNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_not_found", "payment method not found", http.StatusNotFound))
		return
	case errors.Is(err, services.ErrUserPaymentMethodDuplicate):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_conflict", "payment method already exists", http.StatusConflict))
		return
	case errors.Is(err, services.ErrUserPaymentProviderRequired),
		errors.Is(err, services.ErrUserPaymentTokenRequired):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payment_method", err.Error(), http.StatusBadRequest))
		return
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			httpx.WriteError(ctx, w, httpx.NewError("payment_method_not_found", "payment method not found", http.StatusNotFound))
			return
		case repoErr.IsConflict():
			httpx.WriteError(ctx, w, httpx.NewError("payment_method_conflict", "payment method conflict", http.StatusConflict))
			return
		}
	}

	httpx.WriteError(ctx, w, httpx.NewError("payment_method_error", err.Error(), http.StatusInternalServerError))
}
