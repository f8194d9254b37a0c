package workers

import (
	"context"
	"errors"
	"testing"

	domain "github.com/panierapp/api/internal/domain"
	"github.com/panierapp/api/internal/repositories"
	"github.com/panierapp/api/internal/services"
)

type stubMirror struct {
	stored string
	err    error

	sourceURL  string
	objectPath string
	calls      int
}

func (m *stubMirror) MirrorImage(_ context.Context, sourceURL string, objectPath string) (string, error) {
	m.calls++
	m.sourceURL = sourceURL
	m.objectPath = objectPath
	if m.err != nil {
		return "", m.err
	}
	if m.stored != "" {
		return m.stored, nil
	}
	return objectPath, nil
}

type stubCopier struct {
	err error

	sources []string
	dests   []string
}

func (c *stubCopier) CopyObject(_ context.Context, _ string, sourceObject string, _ string, destObject string) error {
	if c.err != nil {
		return c.err
	}
	c.sources = append(c.sources, sourceObject)
	c.dests = append(c.dests, destObject)
	return nil
}

type stubWorkerCartRepo struct {
	cart domain.Cart
	err  error

	replaced []domain.CartItem
	calls    int
}

func (r *stubWorkerCartRepo) GetCart(_ context.Context, _ string) (domain.Cart, error) {
	return r.cart, r.err
}

func (r *stubWorkerCartRepo) AppendItem(_ context.Context, userID string, item domain.CartItem, currency string) (domain.Cart, error) {
	return domain.Cart{UserID: userID, Currency: currency, Items: []domain.CartItem{item}}, nil
}

func (r *stubWorkerCartRepo) ReplaceItems(_ context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	r.calls++
	r.replaced = items
	return domain.Cart{UserID: userID, Items: items}, nil
}

func (r *stubWorkerCartRepo) ClearCart(context.Context, string) error { return nil }

type stubWorkerOrderRepo struct {
	order domain.Order
	err   error

	updated *domain.Order
}

func (r *stubWorkerOrderRepo) Insert(context.Context, domain.Order) error { return nil }

func (r *stubWorkerOrderRepo) Update(_ context.Context, order domain.Order) error {
	r.updated = &order
	return nil
}

func (r *stubWorkerOrderRepo) FindByID(_ context.Context, _ string) (domain.Order, error) {
	return r.order, r.err
}

func (r *stubWorkerOrderRepo) List(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	return domain.CursorPage[domain.Order]{}, nil
}

func newTestWorker(t *testing.T, mirror ImageMirrorer, copier ObjectCopier, carts repositories.CartRepository, orders repositories.OrderRepository) *Worker {
	t.Helper()
	worker, err := New(Deps{
		Mirror:       mirror,
		Copier:       copier,
		AssetsBucket: "panier-assets",
		Carts:        carts,
		Orders:       orders,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return worker
}

func TestWorkerHandleImageMirror(t *testing.T) {
	mirror := &stubMirror{}
	carts := &stubWorkerCartRepo{
		cart: domain.Cart{
			UserID: "user-1",
			Items:  []domain.CartItem{{ID: "item-1", Title: "pull marine"}},
		},
	}
	worker := newTestWorker(t, mirror, nil, carts, &stubWorkerOrderRepo{})

	err := worker.Handle(context.Background(), services.TaskMessage{
		TaskID: "task-1",
		Topic:  "cart.image_mirror",
		Attrs: map[string]string{
			"userId":    "user-1",
			"itemId":    "item-1",
			"sourceUrl": "https://cdn.example/images/pull.jpg",
		},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if mirror.calls != 1 {
		t.Fatalf("expected one mirror call, got %d", mirror.calls)
	}
	if mirror.objectPath != "assets/carts/user-1/items/item-1/pull.jpg" {
		t.Fatalf("unexpected object path: %s", mirror.objectPath)
	}
	if carts.calls != 1 || len(carts.replaced) != 1 {
		t.Fatalf("expected items replaced once, got %d calls", carts.calls)
	}
	ref := carts.replaced[0].MirrorRef
	if ref == nil || *ref != "assets/carts/user-1/items/item-1/pull.jpg" {
		t.Fatalf("unexpected mirror ref: %+v", ref)
	}
}

func TestWorkerHandleImageMirrorSkipsRemovedItem(t *testing.T) {
	mirror := &stubMirror{}
	carts := &stubWorkerCartRepo{
		cart: domain.Cart{UserID: "user-1", Items: []domain.CartItem{{ID: "other-item"}}},
	}
	worker := newTestWorker(t, mirror, nil, carts, &stubWorkerOrderRepo{})

	err := worker.Handle(context.Background(), services.TaskMessage{
		Topic: "cart.image_mirror",
		Attrs: map[string]string{
			"userId":    "user-1",
			"itemId":    "item-1",
			"sourceUrl": "https://cdn.example/images/pull.jpg",
		},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if carts.calls != 0 {
		t.Fatal("expected no item replacement for a removed item")
	}
}

func TestWorkerHandleImageMirrorMissingAttrs(t *testing.T) {
	mirror := &stubMirror{}
	worker := newTestWorker(t, mirror, nil, &stubWorkerCartRepo{}, &stubWorkerOrderRepo{})

	err := worker.Handle(context.Background(), services.TaskMessage{
		Topic: "cart.image_mirror",
		Attrs: map[string]string{"userId": "user-1"},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if mirror.calls != 0 {
		t.Fatal("expected mirror to be skipped for incomplete attributes")
	}
}

func TestWorkerHandleImageMirrorPropagatesError(t *testing.T) {
	mirror := &stubMirror{err: errors.New("fetch failed")}
	worker := newTestWorker(t, mirror, nil, &stubWorkerCartRepo{}, &stubWorkerOrderRepo{})

	err := worker.Handle(context.Background(), services.TaskMessage{
		Topic: "cart.image_mirror",
		Attrs: map[string]string{
			"userId":    "user-1",
			"itemId":    "item-1",
			"sourceUrl": "https://cdn.example/images/pull.jpg",
		},
	})
	if err == nil {
		t.Fatal("expected mirror failure to be reported for retry")
	}
}

func TestWorkerHandleOrderNotificationPinsImages(t *testing.T) {
	mirrorRef := "assets/carts/user-1/items/item-1/pull.jpg"
	copier := &stubCopier{}
	orders := &stubWorkerOrderRepo{
		order: domain.Order{
			ID: "order-1",
			Items: []domain.OrderLineItem{
				{ID: "item-1", MirrorRef: &mirrorRef},
				{ID: "item-2"},
			},
		},
	}
	worker := newTestWorker(t, &stubMirror{}, copier, &stubWorkerCartRepo{}, orders)

	err := worker.Handle(context.Background(), services.TaskMessage{
		Topic: "order.notification",
		Attrs: map[string]string{"orderId": "order-1", "event": "order.submitted"},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}

	if len(copier.sources) != 1 || copier.sources[0] != mirrorRef {
		t.Fatalf("unexpected copy sources: %v", copier.sources)
	}
	if copier.dests[0] != "assets/orders/order-1/items/item-1/pull.jpg" {
		t.Fatalf("unexpected copy destination: %s", copier.dests[0])
	}
	if orders.updated == nil {
		t.Fatal("expected order to be updated")
	}
	updatedRef := orders.updated.Items[0].MirrorRef
	if updatedRef == nil || *updatedRef != "assets/orders/order-1/items/item-1/pull.jpg" {
		t.Fatalf("unexpected updated ref: %+v", updatedRef)
	}
}

func TestWorkerHandleOrderNotificationIgnoresOtherEvents(t *testing.T) {
	copier := &stubCopier{}
	orders := &stubWorkerOrderRepo{order: domain.Order{ID: "order-1"}}
	worker := newTestWorker(t, &stubMirror{}, copier, &stubWorkerCartRepo{}, orders)

	err := worker.Handle(context.Background(), services.TaskMessage{
		Topic: "order.notification",
		Attrs: map[string]string{"orderId": "order-1", "event": "order.status_changed"},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(copier.sources) != 0 {
		t.Fatal("expected no copies for non-submission events")
	}
	if orders.updated != nil {
		t.Fatal("expected no order update for non-submission events")
	}
}

func TestWorkerHandleUnknownTopic(t *testing.T) {
	worker := newTestWorker(t, &stubMirror{}, nil, &stubWorkerCartRepo{}, &stubWorkerOrderRepo{})

	if err := worker.Handle(context.Background(), services.TaskMessage{Topic: "cart.unknown"}); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}
