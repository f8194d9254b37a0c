package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/panierapp/api/internal/platform/auth"
	"github.com/panierapp/api/internal/platform/httpx"
	"github.com/panierapp/api/internal/services"
)

// CheckoutHandlers converts the authenticated user's cart into an order and
// manages PSP session hand-off.
type CheckoutHandlers struct {
	authn    *auth.Authenticator
	checkout services.CheckoutService
}

// NewCheckoutHandlers constructs handlers for the checkout flow.
func NewCheckoutHandlers(authn *auth.Authenticator, checkout services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{
		authn:    authn,
		checkout: checkout,
	}
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.submit)
	r.Post("/orders/{orderID}/payment", h.retryPayment)
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	cmd := services.SubmitOrderCommand{UserID: identity.UID}
	if r.Body != nil && r.ContentLength != 0 {
		body, err := readLimitedBody(r, maxCartBodySize)
		if err != nil && !errors.Is(err, errEmptyBody) {
			switch {
			case errors.Is(err, errBodyTooLarge):
				httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
			default:
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			}
			return
		}
		if len(body) > 0 {
			req, err := decodeSubmitOrderRequest(body)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
				return
			}
			cmd.AddressID = req.AddressID
			cmd.PaymentMethodID = req.PaymentMethodID
			cmd.PSP = req.PSP
			cmd.SuccessURL = req.SuccessURL
			cmd.CancelURL = req.CancelURL
			cmd.Metadata = req.Metadata
		}
	}

	result, err := h.checkout.Submit(ctx, cmd)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, buildCheckoutResultPayload(result))
}

func (h *CheckoutHandlers) retryPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	cmd := services.RetryPaymentCommand{
		UserID:  identity.UID,
		OrderID: orderID,
	}
	if r.Body != nil && r.ContentLength != 0 {
		body, err := readLimitedBody(r, maxCartBodySize)
		if err != nil && !errors.Is(err, errEmptyBody) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		if len(body) > 0 {
			var req retryPaymentRequest
			if err := json.Unmarshal(body, &req); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
				return
			}
			cmd.PSP = strings.TrimSpace(req.PSP)
			cmd.SuccessURL = strings.TrimSpace(req.SuccessURL)
			cmd.CancelURL = strings.TrimSpace(req.CancelURL)
		}
	}

	result, err := h.checkout.RetryPayment(ctx, cmd)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildCheckoutResultPayload(result))
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart has no items to submit", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutPaymentFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_session_failed", "payment session could not be created", http.StatusBadGateway))
	case errors.Is(err, services.ErrCheckoutUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "checkout failed", http.StatusInternalServerError))
	}
}

type submitOrderRequest struct {
	AddressID       *string           `json:"address_id"`
	PaymentMethodID *string           `json:"payment_method_id"`
	PSP             string            `json:"psp"`
	SuccessURL      string            `json:"success_url"`
	CancelURL       string            `json:"cancel_url"`
	Metadata        map[string]string `json:"metadata"`
}

func decodeSubmitOrderRequest(body []byte) (submitOrderRequest, error) {
	var req submitOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return submitOrderRequest{}, errors.New("invalid JSON payload")
	}
	if req.AddressID != nil {
		trimmed := strings.TrimSpace(*req.AddressID)
		req.AddressID = &trimmed
	}
	if req.PaymentMethodID != nil {
		trimmed := strings.TrimSpace(*req.PaymentMethodID)
		req.PaymentMethodID = &trimmed
	}
	req.PSP = strings.TrimSpace(req.PSP)
	req.SuccessURL = strings.TrimSpace(req.SuccessURL)
	req.CancelURL = strings.TrimSpace(req.CancelURL)
	return req, nil
}

type retryPaymentRequest struct {
	PSP        string `json:"psp"`
	SuccessURL string `json:"success_url"`
	CancelURL  string `json:"cancel_url"`
}

type checkoutResultPayload struct {
	Order   orderPayload           `json:"order"`
	Session *checkoutSessionPayload `json:"payment_session,omitempty"`
}

type checkoutSessionPayload struct {
	SessionID    string `json:"session_id"`
	PSP          string `json:"psp"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

func buildCheckoutResultPayload(result services.CheckoutResult) checkoutResultPayload {
	payload := checkoutResultPayload{Order: buildOrderPayload(result.Order)}
	if result.Session != nil {
		payload.Session = &checkoutSessionPayload{
			SessionID:    result.Session.SessionID,
			PSP:          result.Session.PSP,
			ClientSecret: result.Session.ClientSecret,
			RedirectURL:  result.Session.RedirectURL,
			ExpiresAt:    formatTime(result.Session.ExpiresAt),
		}
	}
	return payload
}
