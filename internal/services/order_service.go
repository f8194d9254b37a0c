package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/panierapp/api/internal/domain"
	"github.com/panierapp/api/internal/repositories"
)

const (
	orderEventStatusChanged = "order.status.changed"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
)

// Review decisions are only taken once: an order leaves pending exactly one
// way and never comes back.
var orderStateTransitions = map[string][]string{
	string(domain.OrderStatusPending): {string(domain.OrderStatusApproved), string(domain.OrderStatusRejected)},
}

func canTransition(from, to domain.OrderStatus) bool {
	targets, ok := orderStateTransitions[string(from)]
	if !ok {
		return false
	}
	return slices.Contains(targets, string(to))
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders repositories.OrderRepository
	Audit  AuditLogService
	Clock  func() time.Time
	Events OrderEventPublisher
	Logger func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders repositories.OrderRepository
	audit  AuditLogService
	clock  func() time.Time
	events OrderEventPublisher
	logger func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders: deps.Orders,
		audit:  deps.Audit,
		clock:  func() time.Time { return clock().UTC() },
		events: deps.Events,
		logger: logger,
	}, nil
}

// ListOrders returns orders matching the filter, newest-first.
func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// GetOrder loads a single order by ID. Ownership checks belong to the
// caller; admins read any order, users only their own.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

// TransitionStatus applies an admin review decision. Only pending orders
// accept a decision; rejections require a reason.
func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := strings.TrimSpace(cmd.ActorID)
	if actor == "" {
		return Order{}, fmt.Errorf("%w: actor id is required", ErrOrderInvalidInput)
	}
	target := cmd.TargetStatus
	if target != domain.OrderStatusApproved && target != domain.OrderStatusRejected {
		return Order{}, fmt.Errorf("%w: unsupported target status %q", ErrOrderInvalidInput, target)
	}
	reason := strings.TrimSpace(cmd.Reason)
	if target == domain.OrderStatusRejected && reason == "" {
		return Order{}, fmt.Errorf("%w: rejection requires a reason", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	if cmd.ExpectedStatus != nil && order.Status != *cmd.ExpectedStatus {
		return Order{}, ErrOrderConflict
	}
	if !canTransition(order.Status, target) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrOrderInvalidState, order.Status, target)
	}

	now := s.clock()
	previous := order.Status
	order.Status = target
	order.UpdatedAt = now
	order.ReviewedAt = &now
	order.Review = &domain.OrderReview{
		ReviewerID: actor,
		Decision:   target,
		Reason:     reason,
		DecidedAt:  now,
	}

	if err := s.orders.Update(ctx, order); err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.status_changed", map[string]any{
		"orderID":  order.ID,
		"previous": string(previous),
		"current":  string(target),
		"actorID":  actor,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(previous),
		CurrentStatus:  string(target),
		ActorID:        actor,
		OccurredAt:     now,
	})
	if s.audit != nil {
		s.audit.Record(ctx, AuditLogRecord{
			Actor:      actor,
			ActorType:  "admin",
			Action:     "order.review." + string(target),
			TargetRef:  "orders/" + order.ID,
			Severity:   "notice",
			OccurredAt: now,
			Metadata: map[string]any{
				"previousStatus": string(previous),
				"reason":         reason,
			},
		})
	}

	return order, nil
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event_publish_failed", map[string]any{
			"orderID": event.OrderID,
			"type":    event.Type,
			"error":   err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrOrderNotFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		}
	}
	return err
}
