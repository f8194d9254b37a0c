package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/panierapp/api/internal/domain"
	"github.com/panierapp/api/internal/platform/auth"
	"github.com/panierapp/api/internal/platform/httpx"
	"github.com/panierapp/api/internal/repositories"
	"github.com/panierapp/api/internal/services"
)

// OrderHandlers exposes the authenticated user's order history.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs handlers for user-facing order reads.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	filter, err := parseOrderListQuery(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	// Users only ever see their own orders.
	filter.UserID = identity.UID

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListPayload(page))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
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

	order, err := h.orders.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	// A foreign order is indistinguishable from a missing one.
	if order.UserID != identity.UID && !identity.HasAnyRole(auth.RoleAdmin, auth.RoleStaff) {
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func parseOrderListQuery(r *http.Request) (services.OrderListFilter, error) {
	filter := services.OrderListFilter{}
	query := r.URL.Query()

	for _, raw := range query["status"] {
		for _, status := range strings.Split(raw, ",") {
			status = strings.ToLower(strings.TrimSpace(status))
			if status == "" {
				continue
			}
			switch domain.OrderStatus(status) {
			case domain.OrderStatusPending, domain.OrderStatusApproved, domain.OrderStatusRejected:
				filter.Status = append(filter.Status, status)
			default:
				return services.OrderListFilter{}, errors.New("status must be one of pending, approved, rejected")
			}
		}
	}

	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return services.OrderListFilter{}, errors.New("page_size must be a positive integer")
		}
		filter.Pagination.PageSize = size
	}
	filter.Pagination.PageToken = strings.TrimSpace(query.Get("page_token"))

	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		from, err := parseRFC3339(raw)
		if err != nil {
			return services.OrderListFilter{}, errors.New("from must be an RFC3339 timestamp")
		}
		filter.DateRange.From = &from
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		to, err := parseRFC3339(raw)
		if err != nil {
			return services.OrderListFilter{}, errors.New("to must be an RFC3339 timestamp")
		}
		filter.DateRange.To = &to
	}

	return filter, nil
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
		return
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
		return
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order has been modified; refresh and retry", http.StatusConflict))
		return
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
			return
		case repoErr.IsUnavailable():
			httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order repository unavailable", http.StatusServiceUnavailable))
			return
		}
	}

	httpx.WriteError(ctx, w, httpx.NewError("order_error", "order operation failed", http.StatusInternalServerError))
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListPayload struct {
	Orders        []orderPayload `json:"orders"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type orderPayload struct {
	ID              string              `json:"id"`
	OrderNumber     string              `json:"order_number"`
	UserID          string              `json:"user_id"`
	Status          string              `json:"status"`
	PaymentStatus   string              `json:"payment_status"`
	Currency        string              `json:"currency"`
	Totals          orderTotalsPayload  `json:"totals"`
	Items           []orderItemPayload  `json:"items"`
	ShippingAddress *addressPayload     `json:"shipping_address,omitempty"`
	PaymentMethod   string              `json:"payment_method,omitempty"`
	Review          *orderReviewPayload `json:"review,omitempty"`
	CreatedAt       string              `json:"created_at,omitempty"`
	UpdatedAt       string              `json:"updated_at,omitempty"`
	ReviewedAt      string              `json:"reviewed_at,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal     int64 `json:"subtotal"`
	Surcharge    int64 `json:"surcharge"`
	TotalCharged int64 `json:"total_charged"`
}

type orderItemPayload struct {
	ID        string  `json:"id"`
	URL       string  `json:"url"`
	SiteName  string  `json:"site_name,omitempty"`
	Title     string  `json:"title"`
	ImageURL  string  `json:"image_url,omitempty"`
	MirrorRef *string `json:"mirror_ref,omitempty"`
	UnitPrice int64   `json:"unit_price"`
	Quantity  int     `json:"quantity"`
	Total     int64   `json:"total"`
	Color     string  `json:"color,omitempty"`
	Size      string  `json:"size,omitempty"`
	Note      string  `json:"note,omitempty"`
}

type orderReviewPayload struct {
	ReviewerID string `json:"reviewer_id"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
	DecidedAt  string `json:"decided_at,omitempty"`
}

func buildOrderPayload(order services.Order) orderPayload {
	payload := orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		Status:        string(order.Status),
		PaymentStatus: string(order.PaymentStatus),
		Currency:      strings.ToUpper(strings.TrimSpace(order.Currency)),
		Totals: orderTotalsPayload{
			Subtotal:     order.Totals.Subtotal,
			Surcharge:    order.Totals.Surcharge,
			TotalCharged: order.Totals.TotalCharged,
		},
		Items:         buildOrderItems(order.Items),
		PaymentMethod: order.PaymentMethod,
		CreatedAt:     formatTime(order.CreatedAt),
		UpdatedAt:     formatTime(order.UpdatedAt),
	}
	if order.ShippingAddress != nil {
		addr := buildAddressPayload(*order.ShippingAddress)
		payload.ShippingAddress = &addr
	}
	if order.Review != nil {
		payload.Review = &orderReviewPayload{
			ReviewerID: order.Review.ReviewerID,
			Decision:   string(order.Review.Decision),
			Reason:     order.Review.Reason,
			DecidedAt:  formatTime(order.Review.DecidedAt),
		}
	}
	if order.ReviewedAt != nil {
		payload.ReviewedAt = formatTime(*order.ReviewedAt)
	}
	return payload
}

func buildOrderItems(items []services.OrderLineItem) []orderItemPayload {
	if len(items) == 0 {
		return []orderItemPayload{}
	}
	payload := make([]orderItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, orderItemPayload{
			ID:        item.ID,
			URL:       item.URL,
			SiteName:  item.SiteName,
			Title:     item.Title,
			ImageURL:  item.ImageURL,
			MirrorRef: cloneStringPointer(item.MirrorRef),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			Total:     item.Total,
			Color:     item.Color,
			Size:      item.Size,
			Note:      item.Note,
		})
	}
	return payload
}

func buildOrderListPayload(page domain.CursorPage[services.Order]) orderListPayload {
	payload := orderListPayload{
		Orders:        make([]orderPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, order := range page.Items {
		payload.Orders = append(payload.Orders, buildOrderPayload(order))
	}
	return payload
}
