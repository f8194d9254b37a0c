package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/panierapp/api/internal/services"
)

func newIngestRouter(ingest services.IngestService, opts ...IngestOption) http.Handler {
	r := chi.NewRouter()
	NewIngestHandlers(nil, ingest, opts...).Routes(r)
	return r
}

func TestIngestHandlersStagesProduct(t *testing.T) {
	ingest := &stubIngestService{
		draft: services.ProductDraft{
			URL:      "https://www.shein.com/p/123",
			SiteName: "shein.com",
			Title:    "Robe d'été",
			Price:    "12.99",
			Quantity: 1,
		},
	}

	payload := `{"url":"https://www.shein.com/p/123","title":"Robe d'été","price":"12.99","image":"https://img.shein.com/1.jpg"}`
	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/product", strings.NewReader(payload)), "user-1")
	rr := httptest.NewRecorder()
	newIngestRouter(ingest).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if ingest.msg.URL != "https://www.shein.com/p/123" || ingest.msg.Image != "https://img.shein.com/1.jpg" {
		t.Fatalf("unexpected staged message: %+v", ingest.msg)
	}

	var body struct {
		Status string `json:"status"`
		Draft  struct {
			Title    string `json:"title"`
			SiteName string `json:"site_name"`
		} `json:"draft"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != "staged" {
		t.Fatalf("expected staged, got %s", body.Status)
	}
	if body.Draft.Title != "Robe d'été" || body.Draft.SiteName != "shein.com" {
		t.Fatalf("unexpected draft: %+v", body.Draft)
	}
}

func TestIngestHandlersDiscardsMalformedMessage(t *testing.T) {
	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/product", strings.NewReader(`{"url": broken`)), "user-1")
	rr := httptest.NewRecorder()
	newIngestRouter(&stubIngestService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != "discarded" {
		t.Fatalf("expected discarded, got %s", body.Status)
	}
}

func TestIngestHandlersDiscardsOversizedMessage(t *testing.T) {
	ingest := &stubIngestService{}
	payload := `{"url":"https://x.example/p","title":"` + strings.Repeat("a", maxIngestBodySize) + `"}`
	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/product", strings.NewReader(payload)), "user-1")
	rr := httptest.NewRecorder()
	newIngestRouter(ingest).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}

	var body struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != "discarded" || body.Reason != "message too large" {
		t.Fatalf("expected oversized message discarded, got %+v", body)
	}
	if ingest.msg.URL != "" {
		t.Fatalf("expected no staging for oversized message, got %+v", ingest.msg)
	}
}

func TestIngestHandlersDiscardsMessageWithoutURL(t *testing.T) {
	ingest := &stubIngestService{err: services.ErrIngestInvalidMessage}
	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/product", strings.NewReader(`{"title":"sans lien"}`)), "user-1")
	rr := httptest.NewRecorder()
	newIngestRouter(ingest).ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d", rr.Code)
	}

	var body struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Status != "discarded" || body.Reason == "" {
		t.Fatalf("expected discarded with reason, got %+v", body)
	}
}

func TestIngestHandlersRequiresIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/product", strings.NewReader(`{"url":"https://x.example/p"}`))
	rr := httptest.NewRecorder()
	newIngestRouter(&stubIngestService{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestIngestHandlersRateLimitsPerUser(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	router := newIngestRouter(
		&stubIngestService{draft: services.ProductDraft{URL: "https://x.example/p", Quantity: 1}},
		WithIngestRateLimit(2, time.Minute),
		WithIngestClock(func() time.Time { return now }),
	)

	for i := 0; i < 2; i++ {
		req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/product", strings.NewReader(`{"url":"https://x.example/p"}`)), "user-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusAccepted {
			t.Fatalf("request %d: expected status 202, got %d", i+1, rr.Code)
		}
	}

	req := withTestIdentity(httptest.NewRequest(http.MethodPost, "/product", strings.NewReader(`{"url":"https://x.example/p"}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", rr.Code)
	}

	// Another user is unaffected.
	req = withTestIdentity(httptest.NewRequest(http.MethodPost, "/product", strings.NewReader(`{"url":"https://x.example/p"}`)), "user-2")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202 for second user, got %d", rr.Code)
	}
}
