package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/panierapp/api/internal/platform/auth"
	"github.com/panierapp/api/internal/platform/httpx"
	"github.com/panierapp/api/internal/services"
)

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

const maxCartBodySize = 16 * 1024

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Delete("/items/{itemID}", h.removeItem)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	cart, err := h.carts.GetCart(ctx, identity.UID)
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	payload := cartResponse{Cart: buildCartPayload(cart)}
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	draft, err := decodeCartItemRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		UserID: identity.UID,
		Draft:  draft,
	})
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	payload := cartResponse{Cart: buildCartPayload(cart)}
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusCreated, payload)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "item id is required", http.StatusBadRequest))
		return
	}

	all := false
	if raw := strings.TrimSpace(r.URL.Query().Get("all")); raw != "" {
		parsed, parseErr := strconv.ParseBool(raw)
		if parseErr != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "all must be a boolean", http.StatusBadRequest))
			return
		}
		all = parsed
	}

	cmd := services.RemoveCartItemCommand{UserID: identity.UID, ItemID: itemID}
	var (
		cart services.Cart
		err  error
	)
	if all {
		cart, err = h.carts.RemoveItemAll(ctx, cmd)
	} else {
		cart, err = h.carts.RemoveItemOne(ctx, cmd)
	}
	if err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	payload := cartResponse{Cart: buildCartPayload(cart)}
	setCartResponseHeaders(w, cart)
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if err := h.carts.ClearCart(ctx, identity.UID); err != nil {
		h.writeCartError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartPriceRequired):
		httpx.WriteError(ctx, w, httpx.NewError("price_required", "product price is missing or not positive", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "cart item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartConflict):
		httpx.WriteError(ctx, w, httpx.NewError("cart_conflict", "cart has been modified; refresh and retry", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

func setCartResponseHeaders(w http.ResponseWriter, cart services.Cart) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	if !cart.UpdatedAt.IsZero() {
		w.Header().Set("Last-Modified", cart.UpdatedAt.UTC().Format(http.TimeFormat))
	}
	if etag := buildCartETag(cart); etag != "" {
		w.Header().Set("ETag", etag)
	}
}

func buildCartETag(cart services.Cart) string {
	if strings.TrimSpace(cart.ID) == "" || cart.UpdatedAt.IsZero() {
		return ""
	}
	input := fmt.Sprintf("%s:%d", strings.TrimSpace(cart.ID), cart.UpdatedAt.UTC().UnixNano())
	sum := sha256.Sum256([]byte(input))
	token := hex.EncodeToString(sum[:8])
	return fmt.Sprintf(`W/"%s"`, token)
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Currency  string            `json:"currency"`
	Items     []cartItemPayload `json:"items"`
	Totals    cartTotalsPayload `json:"totals"`
	UpdatedAt string            `json:"updated_at,omitempty"`
}

type cartTotalsPayload struct {
	ItemCount int   `json:"item_count"`
	Subtotal  int64 `json:"subtotal"`
}

type cartItemPayload struct {
	ID         string  `json:"id"`
	URL        string  `json:"url"`
	SiteName   string  `json:"site_name,omitempty"`
	Title      string  `json:"title"`
	ImageURL   string  `json:"image_url,omitempty"`
	MirrorRef  *string `json:"mirror_ref,omitempty"`
	UnitPrice  int64   `json:"unit_price"`
	Quantity   int     `json:"quantity"`
	LineTotal  int64   `json:"line_total"`
	Color      string  `json:"color,omitempty"`
	Size       string  `json:"size,omitempty"`
	Note       string  `json:"note,omitempty"`
	InsertedAt string  `json:"inserted_at,omitempty"`
	UpdatedAt  string  `json:"updated_at,omitempty"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:       strings.TrimSpace(cart.ID),
		UserID:   strings.TrimSpace(cart.UserID),
		Currency: strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Items:    buildCartItems(cart.Items),
		Totals: cartTotalsPayload{
			ItemCount: cart.Totals.ItemCount,
			Subtotal:  cart.Totals.Subtotal,
		},
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}
	return payload
}

func buildCartItems(items []services.CartItem) []cartItemPayload {
	if len(items) == 0 {
		return []cartItemPayload{}
	}

	payload := make([]cartItemPayload, 0, len(items))
	for _, item := range items {
		entry := cartItemPayload{
			ID:        strings.TrimSpace(item.ID),
			URL:       item.URL,
			SiteName:  item.SiteName,
			Title:     item.Title,
			ImageURL:  item.ImageURL,
			MirrorRef: cloneStringPointer(item.MirrorRef),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal(),
			Color:     item.Color,
			Size:      item.Size,
			Note:      item.Note,
		}
		if !item.InsertedAt.IsZero() {
			entry.InsertedAt = formatTime(item.InsertedAt)
		}
		if item.UpdatedAt != nil && !item.UpdatedAt.IsZero() {
			entry.UpdatedAt = formatTime(*item.UpdatedAt)
		}
		payload = append(payload, entry)
	}
	return payload
}

type cartItemRequest struct {
	URL      string `json:"url"`
	SiteName string `json:"site_name"`
	Title    string `json:"title"`
	Price    string `json:"price"`
	ImageURL string `json:"image_url"`
	Quantity int    `json:"quantity"`
	Color    string `json:"color"`
	Size     string `json:"size"`
	Note     string `json:"note"`
}

func decodeCartItemRequest(body []byte) (services.ProductDraft, error) {
	var req cartItemRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return services.ProductDraft{}, errors.New("invalid JSON payload")
	}
	if strings.TrimSpace(req.URL) == "" {
		return services.ProductDraft{}, errors.New("url is required")
	}
	return services.ProductDraft{
		URL:      strings.TrimSpace(req.URL),
		SiteName: strings.TrimSpace(req.SiteName),
		Title:    req.Title,
		Price:    req.Price,
		ImageURL: strings.TrimSpace(req.ImageURL),
		Quantity: req.Quantity,
		Color:    req.Color,
		Size:     req.Size,
		Note:     req.Note,
	}, nil
}
