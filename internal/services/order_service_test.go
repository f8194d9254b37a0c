package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/panierapp/api/internal/domain"
	"github.com/panierapp/api/internal/repositories"
)

type stubOrderEventPublisher struct {
	events []OrderEvent
	err    error
}

func (s *stubOrderEventPublisher) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func pendingOrder(id string) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: "PC-000001",
		UserID:      "user-1",
		Status:      domain.OrderStatusPending,
		Totals:      domain.OrderTotals{Subtotal: 2999, Surcharge: 150, TotalCharged: 3149},
		CreatedAt:   time.Date(2025, 3, 2, 14, 0, 0, 0, time.UTC),
	}
}

func newTestOrderService(t *testing.T, deps OrderServiceDeps) OrderService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC) }
	}
	svc, err := NewOrderService(deps)
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}
	return svc
}

func TestOrderServiceTransitionStatusApprove(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return pendingOrder(orderID), nil
		},
	}
	audit := &recordingAuditService{}
	events := &stubOrderEventPublisher{}
	svc := newTestOrderService(t, OrderServiceDeps{
		Orders: orders,
		Audit:  audit,
		Events: events,
		Clock:  func() time.Time { return now },
	})

	order, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "order-1",
		TargetStatus: domain.OrderStatusApproved,
		ActorID:      "admin-1",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if order.Status != domain.OrderStatusApproved {
		t.Fatalf("expected approved, got %s", order.Status)
	}
	if order.Review == nil || order.Review.ReviewerID != "admin-1" {
		t.Fatalf("expected review recorded, got %+v", order.Review)
	}
	if order.ReviewedAt == nil || !order.ReviewedAt.Equal(now) {
		t.Fatalf("expected reviewedAt %s, got %v", now, order.ReviewedAt)
	}
	if len(orders.updated) != 1 {
		t.Fatalf("expected order persisted once, got %d", len(orders.updated))
	}
	if len(events.events) != 1 || events.events[0].CurrentStatus != string(domain.OrderStatusApproved) {
		t.Fatalf("expected status change event, got %+v", events.events)
	}
	if len(audit.records) != 1 || audit.records[0].Action != "order.review.approved" {
		t.Fatalf("expected audit record, got %+v", audit.records)
	}
}

func TestOrderServiceTransitionStatusRejectRequiresReason(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{Orders: &stubOrderRepo{}})

	_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "order-1",
		TargetStatus: domain.OrderStatusRejected,
		ActorID:      "admin-1",
	})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}
}

func TestOrderServiceTransitionStatusRejectWithReason(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return pendingOrder(orderID), nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	order, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "order-1",
		TargetStatus: domain.OrderStatusRejected,
		ActorID:      "admin-1",
		Reason:       "item unavailable",
	})
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if order.Status != domain.OrderStatusRejected {
		t.Fatalf("expected rejected, got %s", order.Status)
	}
	if order.Review.Reason != "item unavailable" {
		t.Fatalf("expected reason stored, got %q", order.Review.Reason)
	}
}

func TestOrderServiceTransitionStatusTerminalState(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			order := pendingOrder(orderID)
			order.Status = domain.OrderStatusApproved
			return order, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:      "order-1",
		TargetStatus: domain.OrderStatusRejected,
		ActorID:      "admin-1",
		Reason:       "too late",
	})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
	if len(orders.updated) != 0 {
		t.Fatalf("expected no persistence on invalid transition")
	}
}

func TestOrderServiceTransitionStatusExpectedMismatch(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			order := pendingOrder(orderID)
			order.Status = domain.OrderStatusRejected
			return order, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	expected := domain.OrderStatusPending
	_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
		OrderID:        "order-1",
		TargetStatus:   domain.OrderStatusApproved,
		ActorID:        "admin-1",
		ExpectedStatus: &expected,
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict, got %v", err)
	}
}

func TestOrderServiceGetOrderNotFound(t *testing.T) {
	svc := newTestOrderService(t, OrderServiceDeps{Orders: &stubOrderRepo{}})

	_, err := svc.GetOrder(context.Background(), "missing")
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderServiceListOrdersPassesFilter(t *testing.T) {
	var captured repositories.OrderListFilter
	orders := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			captured = filter
			return domain.CursorPage[domain.Order]{Items: []domain.Order{pendingOrder("order-1")}}, nil
		},
	}
	svc := newTestOrderService(t, OrderServiceDeps{Orders: orders})

	page, err := svc.ListOrders(context.Background(), OrderListFilter{
		UserID: "user-1",
		Status: []string{string(domain.OrderStatusPending)},
	})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected one order, got %d", len(page.Items))
	}
	if captured.UserID != "user-1" || len(captured.Status) != 1 {
		t.Fatalf("filter not forwarded: %+v", captured)
	}
}
