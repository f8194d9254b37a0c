package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testClock = time.Date(2025, time.March, 10, 9, 30, 0, 0, time.UTC)

func submitRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/carts/current/submit", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func decodeErrorCode(t *testing.T, payload []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return body.Error
}

func TestMiddlewareRequiresHeader(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testClock }))

	rr := httptest.NewRecorder()
	middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run without the idempotency header")
	})).ServeHTTP(rr, submitRequest("", `{"note":"merci"}`))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "idempotency_key_required" {
		t.Fatalf("expected idempotency_key_required, got %s", code)
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testClock }))

	var calls int
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderId":"order-1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, submitRequest("submit-abc", `{"note":"merci"}`))
	if first.Code != http.StatusCreated || calls != 1 {
		t.Fatalf("unexpected first response: status=%d calls=%d", first.Code, calls)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, submitRequest("submit-abc", `{"note":"merci"}`))

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatal("expected the replay marker header")
	}
	if got := second.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected replayed content type, got %s", got)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("expected body %s replayed, got %s", first.Body.String(), second.Body.String())
	}
}

func TestMiddlewareRejectsReusedKeyWithDifferentBody(t *testing.T) {
	middleware := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testClock }))
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, submitRequest("same-key", `{"note":"merci"}`))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, submitRequest("same-key", `{"note":"autre"}`))

	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", second.Code)
	}
	if code := decodeErrorCode(t, second.Body.Bytes()); code != "idempotency_key_conflict" {
		t.Fatalf("expected idempotency_key_conflict, got %s", code)
	}
}

func TestMiddlewarePendingReservationConflicts(t *testing.T) {
	store := NewMemoryStore()
	middleware := Middleware(store, WithClock(func() time.Time { return testClock }))
	handler := middleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is pending")
	}))

	// Seed a pending reservation the same way the middleware would.
	req := submitRequest("pending-key", `{"note":"merci"}`)
	body, err := readAndReplayBody(req)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	identity := extractRequester(req.Context())
	fingerprint := requestFingerprint(req, body, identity)
	if _, err := store.Reserve(req.Context(), scopedKey("pending-key", identity), fingerprint, testClock, time.Hour); err != nil {
		t.Fatalf("seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 while pending, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "idempotency_in_progress" {
		t.Fatalf("expected idempotency_in_progress, got %s", code)
	}
}

func TestMiddlewareReleasesKeyWhenSaveFails(t *testing.T) {
	store := &failingSaveStore{}
	middleware := Middleware(store, WithClock(func() time.Time { return testClock }))

	rr := httptest.NewRecorder()
	middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	})).ServeHTTP(rr, submitRequest("fail-key", `{"note":"merci"}`))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "idempotency_store_error" {
		t.Fatalf("expected idempotency_store_error, got %s", code)
	}
	if !store.released {
		t.Fatal("expected the reservation to be released after the save failure")
	}
}

type failingSaveStore struct {
	released bool
}

func (s *failingSaveStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew}, nil
}

func (s *failingSaveStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	return errors.New("save failed")
}

func (s *failingSaveStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *failingSaveStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
