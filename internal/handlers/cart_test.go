package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/panierapp/api/internal/platform/auth"
	"github.com/panierapp/api/internal/services"
)

type stubCartService struct {
	cart         services.Cart
	err          error
	addCmd       services.AddCartItemCommand
	removeOneCmd *services.RemoveCartItemCommand
	removeAllCmd *services.RemoveCartItemCommand
	clearedUser  string
}

func (s *stubCartService) GetCart(_ context.Context, userID string) (services.Cart, error) {
	if s.err != nil {
		return services.Cart{}, s.err
	}
	cart := s.cart
	cart.UserID = userID
	return cart, nil
}

func (s *stubCartService) AddItem(_ context.Context, cmd services.AddCartItemCommand) (services.Cart, error) {
	s.addCmd = cmd
	if s.err != nil {
		return services.Cart{}, s.err
	}
	return s.cart, nil
}

func (s *stubCartService) RemoveItemOne(_ context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	s.removeOneCmd = &cmd
	return s.cart, s.err
}

func (s *stubCartService) RemoveItemAll(_ context.Context, cmd services.RemoveCartItemCommand) (services.Cart, error) {
	s.removeAllCmd = &cmd
	return s.cart, s.err
}

func (s *stubCartService) ClearCart(_ context.Context, userID string) error {
	s.clearedUser = userID
	return s.err
}

var _ services.CartService = (*stubCartService)(nil)

func newCartRouter(svc services.CartService) http.Handler {
	r := chi.NewRouter()
	NewCartHandlers(nil, svc).Routes(r)
	return r
}

func withTestIdentity(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func TestCartHandlersGetCart(t *testing.T) {
	updated := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	svc := &stubCartService{
		cart: services.Cart{
			ID:       "cart-1",
			Currency: "eur",
			Items: []services.CartItem{
				{ID: "item-1", URL: "https://www.zalando.fr/baskets", Title: "Baskets", UnitPrice: 4999, Quantity: 2, InsertedAt: updated},
			},
			Totals:    services.CartTotals{ItemCount: 2, Subtotal: 9998},
			UpdatedAt: updated,
		},
	}

	req := withTestIdentity(httptest.NewRequest(http.MethodGet, "/", nil), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if etag := rr.Header().Get("ETag"); !strings.HasPrefix(etag, `W/"`) {
		t.Fatalf("expected weak ETag, got %q", etag)
	}
	if cc := rr.Header().Get("Cache-Control"); !strings.Contains(cc, "no-store") {
		t.Fatalf("expected no-store cache control, got %q", cc)
	}

	var body struct {
		Cart struct {
			ID       string `json:"id"`
			UserID   string `json:"user_id"`
			Currency string `json:"currency"`
			Items    []struct {
				ID        string `json:"id"`
				LineTotal int64  `json:"line_total"`
			} `json:"items"`
			Totals struct {
				ItemCount int   `json:"item_count"`
				Subtotal  int64 `json:"subtotal"`
			} `json:"totals"`
		} `json:"cart"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Cart.ID != "cart-1" {
		t.Fatalf("expected cart id cart-1, got %s", body.Cart.ID)
	}
	if body.Cart.UserID != "user-1" {
		t.Fatalf("expected cart scoped to user-1, got %s", body.Cart.UserID)
	}
	if body.Cart.Currency != "EUR" {
		t.Fatalf("expected currency EUR, got %s", body.Cart.Currency)
	}
	if len(body.Cart.Items) != 1 || body.Cart.Items[0].LineTotal != 9998 {
		t.Fatalf("unexpected items payload: %+v", body.Cart.Items)
	}
	if body.Cart.Totals.Subtotal != 9998 {
		t.Fatalf("expected subtotal 9998, got %d", body.Cart.Totals.Subtotal)
	}
}

func TestCartHandlersGetCartRequiresIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	newCartRouter(&stubCartService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestCartHandlersAddItem(t *testing.T) {
	svc := &stubCartService{cart: services.Cart{ID: "cart-1"}}
	payload := `{"url":"https://www.amazon.fr/dp/B1","title":"Lampe","price":"19.99","quantity":2}`

	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(payload)), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if svc.addCmd.UserID != "user-1" {
		t.Fatalf("expected add command for user-1, got %q", svc.addCmd.UserID)
	}
	if svc.addCmd.Draft.URL != "https://www.amazon.fr/dp/B1" || svc.addCmd.Draft.Quantity != 2 {
		t.Fatalf("unexpected draft: %+v", svc.addCmd.Draft)
	}
}

func TestCartHandlersAddItemRequiresURL(t *testing.T) {
	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"title":"sans lien"}`)), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(&stubCartService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestCartHandlersAddItemMissingPrice(t *testing.T) {
	svc := &stubCartService{err: services.ErrCartPriceRequired}
	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(`{"url":"https://x.example/p"}`)), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d: %s", rr.Code, rr.Body.String())
	}

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Error != "price_required" {
		t.Fatalf("expected price_required, got %s", body.Error)
	}
}

func TestCartHandlersRemoveItemDecrements(t *testing.T) {
	svc := &stubCartService{cart: services.Cart{ID: "cart-1"}}
	req := withTestIdentity(httptest.NewRequest(http.MethodDelete, "/items/item-1", nil), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if svc.removeOneCmd == nil || svc.removeOneCmd.ItemID != "item-1" {
		t.Fatalf("expected single-unit removal of item-1, got %+v", svc.removeOneCmd)
	}
	if svc.removeAllCmd != nil {
		t.Fatalf("did not expect full removal, got %+v", svc.removeAllCmd)
	}
}

func TestCartHandlersRemoveItemAll(t *testing.T) {
	svc := &stubCartService{cart: services.Cart{ID: "cart-1"}}
	req := withTestIdentity(httptest.NewRequest(http.MethodDelete, "/items/item-1?all=true", nil), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if svc.removeAllCmd == nil || svc.removeAllCmd.ItemID != "item-1" {
		t.Fatalf("expected full removal of item-1, got %+v", svc.removeAllCmd)
	}
}

func TestCartHandlersRemoveItemNotFound(t *testing.T) {
	svc := &stubCartService{err: services.ErrCartNotFound}
	req := withTestIdentity(httptest.NewRequest(http.MethodDelete, "/items/ghost", nil), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestCartHandlersClearCart(t *testing.T) {
	svc := &stubCartService{}
	req := withTestIdentity(httptest.NewRequest(http.MethodDelete, "/", nil), "user-1")
	rr := httptest.NewRecorder()
	newCartRouter(svc).ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if svc.clearedUser != "user-1" {
		t.Fatalf("expected clear for user-1, got %q", svc.clearedUser)
	}
}
