package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/panierapp/api/internal/domain"
	"github.com/panierapp/api/internal/platform/auth"
	"github.com/panierapp/api/internal/platform/httpx"
	"github.com/panierapp/api/internal/services"
)

// AdminHandlers exposes the order review queue and system utilities to
// staff and admin roles.
type AdminHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
	system services.SystemService
}

// NewAdminHandlers constructs the admin surface handlers.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, system services.SystemService) *AdminHandlers {
	return &AdminHandlers{
		authn:  authn,
		orders: orders,
		system: system,
	}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin, auth.RoleStaff))
	}
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Route("/{orderID}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Post("/approve", h.approveOrder)
			r.Post("/reject", h.rejectOrder)
		})
	})
	r.Get("/audit-logs", h.listAuditLogs)
	r.Post("/counters/next", h.nextCounterValue)
}

func (h *AdminHandlers) requireReviewer(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	ctx := r.Context()
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	if !identity.HasAnyRole(auth.RoleAdmin, auth.RoleStaff) {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "admin or staff role required", http.StatusForbidden))
		return nil, false
	}
	return identity, true
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireReviewer(w, r); !ok {
		return
	}

	filter, err := parseOrderListQuery(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	filter.UserID = strings.TrimSpace(r.URL.Query().Get("user_id"))

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListPayload(page))
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireReviewer(w, r); !ok {
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

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) approveOrder(w http.ResponseWriter, r *http.Request) {
	h.reviewOrder(w, r, domain.OrderStatusApproved)
}

func (h *AdminHandlers) rejectOrder(w http.ResponseWriter, r *http.Request) {
	h.reviewOrder(w, r, domain.OrderStatusRejected)
}

func (h *AdminHandlers) reviewOrder(w http.ResponseWriter, r *http.Request, target domain.OrderStatus) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}
	identity, ok := h.requireReviewer(w, r)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	cmd := services.OrderStatusTransitionCommand{
		OrderID:      orderID,
		TargetStatus: target,
		ActorID:      identity.UID,
	}

	if r.Body != nil && r.ContentLength != 0 {
		body, err := readLimitedBody(r, maxCartBodySize)
		if err != nil && !errors.Is(err, errEmptyBody) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
			return
		}
		if len(body) > 0 {
			var req orderReviewRequest
			if err := json.Unmarshal(body, &req); err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
				return
			}
			cmd.Reason = strings.TrimSpace(req.Reason)
			if expected := strings.ToLower(strings.TrimSpace(req.ExpectedStatus)); expected != "" {
				status := domain.OrderStatus(expected)
				switch status {
				case domain.OrderStatusPending, domain.OrderStatusApproved, domain.OrderStatusRejected:
					cmd.ExpectedStatus = &status
				default:
					httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be one of pending, approved, rejected", http.StatusBadRequest))
					return
				}
			}
		}
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("system_service_unavailable", "system service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireReviewer(w, r); !ok {
		return
	}

	query := r.URL.Query()
	filter := services.AuditLogFilter{
		TargetRef: strings.TrimSpace(query.Get("target_ref")),
		Actor:     strings.TrimSpace(query.Get("actor")),
		ActorType: strings.TrimSpace(query.Get("actor_type")),
		Action:    strings.TrimSpace(query.Get("action")),
	}
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be a positive integer", http.StatusBadRequest))
			return
		}
		filter.Pagination.PageSize = size
	}
	filter.Pagination.PageToken = strings.TrimSpace(query.Get("page_token"))
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		from, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.DateRange.From = &from
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		to, err := parseRFC3339(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to must be an RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.DateRange.To = &to
	}

	page, err := h.system.ListAuditLogs(ctx, filter)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("audit_log_error", err.Error(), http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, buildAuditLogListPayload(page))
}

func (h *AdminHandlers) nextCounterValue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.system == nil {
		httpx.WriteError(ctx, w, httpx.NewError("system_service_unavailable", "system service is unavailable", http.StatusServiceUnavailable))
		return
	}
	if _, ok := h.requireReviewer(w, r); !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	var req counterRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.CounterID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "counter_id is required", http.StatusBadRequest))
		return
	}

	value, err := h.system.NextCounterValue(ctx, services.CounterCommand{
		CounterID: req.CounterID,
		Step:      req.Step,
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("counter_error", err.Error(), http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, counterResponse{
		CounterID: strings.TrimSpace(req.CounterID),
		Value:     value,
	})
}

type orderReviewRequest struct {
	Reason         string `json:"reason"`
	ExpectedStatus string `json:"expected_status"`
}

type counterRequest struct {
	CounterID string `json:"counter_id"`
	Step      int64  `json:"step"`
}

type counterResponse struct {
	CounterID string `json:"counter_id"`
	Value     int64  `json:"value"`
}

type auditLogListPayload struct {
	Entries       []auditLogEntryPayload `json:"entries"`
	NextPageToken string                 `json:"next_page_token,omitempty"`
}

type auditLogEntryPayload struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	ActorType string         `json:"actor_type,omitempty"`
	Action    string         `json:"action"`
	TargetRef string         `json:"target_ref,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Severity  string         `json:"severity,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
}

func buildAuditLogListPayload(page domain.CursorPage[domain.AuditLogEntry]) auditLogListPayload {
	payload := auditLogListPayload{
		Entries:       make([]auditLogEntryPayload, 0, len(page.Items)),
		NextPageToken: page.NextPageToken,
	}
	for _, entry := range page.Items {
		payload.Entries = append(payload.Entries, auditLogEntryPayload{
			ID:        entry.ID,
			Actor:     entry.Actor,
			ActorType: entry.ActorType,
			Action:    entry.Action,
			TargetRef: entry.TargetRef,
			Metadata:  entry.Metadata,
			Severity:  entry.Severity,
			RequestID: entry.RequestID,
			CreatedAt: formatTime(entry.CreatedAt),
		})
	}
	return payload
}
