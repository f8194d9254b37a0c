package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/panierapp/api/internal/domain"
)

// repoError is a minimal repositories.RepositoryError for stubbing
// persistence failures.
type repoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *repoError) Error() string       { return "repo error" }
func (e *repoError) IsNotFound() bool    { return e.notFound }
func (e *repoError) IsConflict() bool    { return e.conflict }
func (e *repoError) IsUnavailable() bool { return e.unavailable }

var errRepoNotFound = &repoError{notFound: true}

type stubCartRepository struct {
	getFunc     func(ctx context.Context, userID string) (domain.Cart, error)
	appendFunc  func(ctx context.Context, userID string, item domain.CartItem, currency string) (domain.Cart, error)
	replaceFunc func(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error)
	clearFunc   func(ctx context.Context, userID string) error
}

func (s *stubCartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, userID)
	}
	return domain.Cart{}, errRepoNotFound
}

func (s *stubCartRepository) AppendItem(ctx context.Context, userID string, item domain.CartItem, currency string) (domain.Cart, error) {
	if s.appendFunc != nil {
		return s.appendFunc(ctx, userID, item, currency)
	}
	return domain.Cart{UserID: userID, Currency: currency, Items: []domain.CartItem{item}}, nil
}

func (s *stubCartRepository) ReplaceItems(ctx context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
	if s.replaceFunc != nil {
		return s.replaceFunc(ctx, userID, items)
	}
	return domain.Cart{UserID: userID, Items: items}, nil
}

func (s *stubCartRepository) ClearCart(ctx context.Context, userID string) error {
	if s.clearFunc != nil {
		return s.clearFunc(ctx, userID)
	}
	return nil
}

type recordingDispatcher struct {
	mirrors       []ImageMirrorPayload
	notifications []OrderNotificationPayload
	mirrorErr     error
}

func (d *recordingDispatcher) EnqueueImageMirror(_ context.Context, payload ImageMirrorPayload) (string, error) {
	if d.mirrorErr != nil {
		return "", d.mirrorErr
	}
	d.mirrors = append(d.mirrors, payload)
	return "job-" + payload.ItemID, nil
}

func (d *recordingDispatcher) EnqueueOrderNotification(_ context.Context, payload OrderNotificationPayload) (string, error) {
	d.notifications = append(d.notifications, payload)
	return "job-" + payload.OrderID, nil
}

func newTestCartService(t *testing.T, deps CartServiceDeps) CartService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	}
	svc, err := NewCartService(deps)
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	return svc
}

func TestCartServiceGetCartReturnsEmptyCartWhenMissing(t *testing.T) {
	svc := newTestCartService(t, CartServiceDeps{
		Repository: &stubCartRepository{},
	})

	cart, err := svc.GetCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if cart.UserID != "user-1" {
		t.Fatalf("expected user id carried over, got %q", cart.UserID)
	}
	if len(cart.Items) != 0 {
		t.Fatalf("expected empty cart, got %d items", len(cart.Items))
	}
	if cart.Currency != "EUR" {
		t.Fatalf("expected default EUR currency, got %q", cart.Currency)
	}
}

func TestCartServiceGetCartComputesTotalsAndOrder(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	repo := &stubCartRepository{
		getFunc: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				UserID:   userID,
				Currency: "EUR",
				Items: []domain.CartItem{
					{ID: "old", Title: "Scarf", UnitPrice: 1000, Quantity: 2, InsertedAt: base},
					{ID: "new", Title: "Gloves", UnitPrice: 4500, Quantity: 1, InsertedAt: base.Add(time.Hour)},
				},
			}, nil
		},
	}
	svc := newTestCartService(t, CartServiceDeps{Repository: repo})

	cart, err := svc.GetCart(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("get cart: %v", err)
	}
	if cart.Totals.Subtotal != 6500 {
		t.Fatalf("expected subtotal 6500, got %d", cart.Totals.Subtotal)
	}
	if cart.Totals.ItemCount != 3 {
		t.Fatalf("expected item count 3, got %d", cart.Totals.ItemCount)
	}
	if cart.Items[0].ID != "new" {
		t.Fatalf("expected newest item first, got %q", cart.Items[0].ID)
	}
}

func TestCartServiceAddItemConfirmsDraft(t *testing.T) {
	var saved domain.Cart
	repo := &stubCartRepository{
		appendFunc: func(_ context.Context, userID string, item domain.CartItem, currency string) (domain.Cart, error) {
			saved = domain.Cart{UserID: userID, Currency: currency, Items: []domain.CartItem{item}}
			return saved, nil
		},
	}
	jobs := &recordingDispatcher{}
	svc := newTestCartService(t, CartServiceDeps{
		Repository:  repo,
		Jobs:        jobs,
		IDGenerator: func() string { return "item-1" },
	})

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{
		UserID: "user-1",
		Draft: ProductDraft{
			URL:      "https://shop.example.com/p/1",
			SiteName: "shop.example.com",
			Title:    "  Wool scarf  ",
			ImageURL: "https://shop.example.com/img/1.jpg",
			Price:    "29,99 €",
			Quantity: 2,
		},
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(saved.Items) != 1 {
		t.Fatalf("expected one persisted item, got %d", len(saved.Items))
	}
	item := saved.Items[0]
	if item.ID != "item-1" {
		t.Fatalf("expected generated id, got %q", item.ID)
	}
	if item.UnitPrice != 2999 {
		t.Fatalf("expected price 2999 cents, got %d", item.UnitPrice)
	}
	if item.Title != "Wool scarf" {
		t.Fatalf("expected trimmed title, got %q", item.Title)
	}
	if cart.Totals.Subtotal != 5998 {
		t.Fatalf("expected subtotal 5998, got %d", cart.Totals.Subtotal)
	}
	if len(jobs.mirrors) != 1 || jobs.mirrors[0].SourceURL != "https://shop.example.com/img/1.jpg" {
		t.Fatalf("expected image mirror job, got %+v", jobs.mirrors)
	}
}

func TestCartServiceAddItemKeepsSimultaneousAdds(t *testing.T) {
	store := domain.Cart{UserID: "user-1", Currency: "EUR"}
	repo := &stubCartRepository{
		// A stale read: another device already wrote an item this
		// snapshot does not show.
		getFunc: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Currency: "EUR"}, nil
		},
		appendFunc: func(_ context.Context, _ string, item domain.CartItem, _ string) (domain.Cart, error) {
			store.Items = append(store.Items, item)
			return store, nil
		},
	}
	seq := 0
	svc := newTestCartService(t, CartServiceDeps{
		Repository: repo,
		IDGenerator: func() string {
			seq++
			return fmt.Sprintf("item-%d", seq)
		},
	})

	for _, url := range []string{"https://shop.example.com/p/1", "https://shop.example.com/p/2"} {
		if _, err := svc.AddItem(context.Background(), AddCartItemCommand{
			UserID: "user-1",
			Draft:  ProductDraft{URL: url, Price: "10.00"},
		}); err != nil {
			t.Fatalf("add item %s: %v", url, err)
		}
	}

	if len(store.Items) != 2 {
		t.Fatalf("expected both adds persisted, got %d items", len(store.Items))
	}
	if store.Items[0].ID == store.Items[1].ID {
		t.Fatalf("expected distinct item ids, got %q twice", store.Items[0].ID)
	}
}

func TestCartServiceAddItemSurfacesWriteConflict(t *testing.T) {
	repo := &stubCartRepository{
		appendFunc: func(context.Context, string, domain.CartItem, string) (domain.Cart, error) {
			return domain.Cart{}, &repoError{conflict: true}
		},
	}
	svc := newTestCartService(t, CartServiceDeps{Repository: repo})

	_, err := svc.AddItem(context.Background(), AddCartItemCommand{
		UserID: "user-1",
		Draft:  ProductDraft{URL: "https://shop.example.com/p/1", Price: "10.00"},
	})
	if !errors.Is(err, ErrCartConflict) {
		t.Fatalf("expected ErrCartConflict, got %v", err)
	}
}

func TestCartServiceAddItemDefaultsTitleAndQuantity(t *testing.T) {
	repo := &stubCartRepository{}
	svc := newTestCartService(t, CartServiceDeps{Repository: repo})

	cart, err := svc.AddItem(context.Background(), AddCartItemCommand{
		UserID: "user-1",
		Draft:  ProductDraft{URL: "https://shop.example.com/p/2", Price: "12.00"},
	})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if cart.Items[0].Title != DefaultProductTitle {
		t.Fatalf("expected default title, got %q", cart.Items[0].Title)
	}
	if cart.Items[0].Quantity != 1 {
		t.Fatalf("expected quantity default 1, got %d", cart.Items[0].Quantity)
	}
}

func TestCartServiceAddItemRejectsMissingPrice(t *testing.T) {
	svc := newTestCartService(t, CartServiceDeps{Repository: &stubCartRepository{}})

	for _, price := range []string{"", "gratuit", "0", "0,00"} {
		_, err := svc.AddItem(context.Background(), AddCartItemCommand{
			UserID: "user-1",
			Draft:  ProductDraft{URL: "https://shop.example.com/p/3", Price: price},
		})
		if !errors.Is(err, ErrCartPriceRequired) {
			t.Fatalf("price %q: expected ErrCartPriceRequired, got %v", price, err)
		}
	}
}

func TestCartServiceAddItemRejectsInvalidInput(t *testing.T) {
	svc := newTestCartService(t, CartServiceDeps{Repository: &stubCartRepository{}})

	cases := []struct {
		name string
		cmd  AddCartItemCommand
	}{
		{"missing user", AddCartItemCommand{Draft: ProductDraft{URL: "https://x", Price: "1.00"}}},
		{"missing url", AddCartItemCommand{UserID: "user-1", Draft: ProductDraft{Price: "1.00"}}},
		{"quantity too high", AddCartItemCommand{UserID: "user-1", Draft: ProductDraft{URL: "https://x", Price: "1.00", Quantity: 100}}},
	}
	for _, tc := range cases {
		if _, err := svc.AddItem(context.Background(), tc.cmd); !errors.Is(err, ErrCartInvalidInput) {
			t.Fatalf("%s: expected ErrCartInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestCartServiceRemoveItemOneDecrementsQuantity(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var replaced []domain.CartItem
	repo := &stubCartRepository{
		getFunc: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				UserID:   userID,
				Currency: "EUR",
				Items: []domain.CartItem{
					{ID: "item-1", Title: "Scarf", UnitPrice: 1000, Quantity: 3, InsertedAt: now},
				},
			}, nil
		},
		replaceFunc: func(_ context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
			replaced = items
			return domain.Cart{UserID: userID, Currency: "EUR", Items: items}, nil
		},
	}
	svc := newTestCartService(t, CartServiceDeps{Repository: repo})

	cart, err := svc.RemoveItemOne(context.Background(), RemoveCartItemCommand{UserID: "user-1", ItemID: "item-1"})
	if err != nil {
		t.Fatalf("remove one: %v", err)
	}
	if len(replaced) != 1 || replaced[0].Quantity != 2 {
		t.Fatalf("expected quantity decremented to 2, got %+v", replaced)
	}
	if cart.Totals.Subtotal != 2000 {
		t.Fatalf("expected subtotal 2000, got %d", cart.Totals.Subtotal)
	}
}

func TestCartServiceRemoveItemOneDeletesLastUnit(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var replaced []domain.CartItem
	repo := &stubCartRepository{
		getFunc: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				UserID: userID,
				Items: []domain.CartItem{
					{ID: "item-1", Title: "Scarf", UnitPrice: 1000, Quantity: 1, InsertedAt: now},
				},
			}, nil
		},
		replaceFunc: func(_ context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
			replaced = items
			return domain.Cart{UserID: userID, Items: items}, nil
		},
	}
	svc := newTestCartService(t, CartServiceDeps{Repository: repo})

	if _, err := svc.RemoveItemOne(context.Background(), RemoveCartItemCommand{UserID: "user-1", ItemID: "item-1"}); err != nil {
		t.Fatalf("remove one: %v", err)
	}
	if len(replaced) != 0 {
		t.Fatalf("expected line removed, got %+v", replaced)
	}
}

func TestCartServiceRemoveItemAllDeletesLine(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var replaced []domain.CartItem
	repo := &stubCartRepository{
		getFunc: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{
				UserID: userID,
				Items: []domain.CartItem{
					{ID: "item-1", Title: "Scarf", UnitPrice: 1000, Quantity: 5, InsertedAt: now},
					{ID: "item-2", Title: "Gloves", UnitPrice: 2000, Quantity: 1, InsertedAt: now},
				},
			}, nil
		},
		replaceFunc: func(_ context.Context, userID string, items []domain.CartItem) (domain.Cart, error) {
			replaced = items
			return domain.Cart{UserID: userID, Items: items}, nil
		},
	}
	svc := newTestCartService(t, CartServiceDeps{Repository: repo})

	if _, err := svc.RemoveItemAll(context.Background(), RemoveCartItemCommand{UserID: "user-1", ItemID: "item-1"}); err != nil {
		t.Fatalf("remove all: %v", err)
	}
	if len(replaced) != 1 || replaced[0].ID != "item-2" {
		t.Fatalf("expected only item-2 left, got %+v", replaced)
	}
}

func TestCartServiceRemoveItemUnknownID(t *testing.T) {
	repo := &stubCartRepository{
		getFunc: func(_ context.Context, userID string) (domain.Cart, error) {
			return domain.Cart{UserID: userID, Items: []domain.CartItem{{ID: "other", Quantity: 1, UnitPrice: 100}}}, nil
		},
	}
	svc := newTestCartService(t, CartServiceDeps{Repository: repo})

	_, err := svc.RemoveItemOne(context.Background(), RemoveCartItemCommand{UserID: "user-1", ItemID: "missing"})
	if !errors.Is(err, ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
}

func TestCartServiceClearCartIgnoresMissingCart(t *testing.T) {
	repo := &stubCartRepository{
		clearFunc: func(context.Context, string) error { return errRepoNotFound },
	}
	svc := newTestCartService(t, CartServiceDeps{Repository: repo})

	if err := svc.ClearCart(context.Background(), "user-1"); err != nil {
		t.Fatalf("expected clear to ignore missing cart, got %v", err)
	}
}
