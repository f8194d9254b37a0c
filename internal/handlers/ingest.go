package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/panierapp/api/internal/platform/auth"
	"github.com/panierapp/api/internal/platform/httpx"
	"github.com/panierapp/api/internal/services"
)

// maxIngestBodySize bounds channel messages and extraction payloads. Pages
// post small JSON objects; anything larger is not a product message.
const maxIngestBodySize = 64 * 1024

const (
	defaultIngestRateLimit  = 60
	defaultIngestRateWindow = time.Minute
)

// IngestHandlers receives product messages posted by the embedded browser
// channel. The endpoint is deliberately forgiving: the page script runs in a
// hostile environment, so malformed messages are acknowledged and dropped
// rather than surfaced as errors the app cannot act on.
type IngestHandlers struct {
	authn   *auth.Authenticator
	ingest  services.IngestService
	limiter rateLimiter
}

// IngestOption configures optional ingest handler behaviour.
type IngestOption func(*ingestConfig)

type ingestConfig struct {
	rateLimit  int
	rateWindow time.Duration
	clock      func() time.Time
}

// WithIngestRateLimit overrides the per-user message rate limit. A
// non-positive limit or window disables rate limiting.
func WithIngestRateLimit(limit int, window time.Duration) IngestOption {
	return func(cfg *ingestConfig) {
		cfg.rateLimit = limit
		cfg.rateWindow = window
	}
}

// WithIngestClock overrides the rate limiter clock.
func WithIngestClock(clock func() time.Time) IngestOption {
	return func(cfg *ingestConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// NewIngestHandlers constructs the ingest channel handlers.
func NewIngestHandlers(authn *auth.Authenticator, ingest services.IngestService, opts ...IngestOption) *IngestHandlers {
	cfg := ingestConfig{
		rateLimit:  defaultIngestRateLimit,
		rateWindow: defaultIngestRateWindow,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &IngestHandlers{
		authn:   authn,
		ingest:  ingest,
		limiter: newSimpleRateLimiter(cfg.rateLimit, cfg.rateWindow, cfg.clock),
	}
}

// Routes wires the /ingest endpoints onto the provided router.
func (h *IngestHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/product", h.receiveProduct)
}

func (h *IngestHandlers) receiveProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.ingest == nil {
		httpx.WriteError(ctx, w, httpx.NewError("ingest_unavailable", "ingest service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || identity.UID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	if h.limiter != nil && !h.limiter.Allow(identity.UID) {
		httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many product messages; slow down", http.StatusTooManyRequests))
		return
	}

	body, err := readLimitedBody(r, maxIngestBodySize)
	if err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeJSONResponse(w, http.StatusAccepted, ingestResponse{Status: "discarded", Reason: "message too large"})
			return
		}
		writeJSONResponse(w, http.StatusAccepted, ingestResponse{Status: "discarded", Reason: "empty message"})
		return
	}

	var msg ingestMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		writeJSONResponse(w, http.StatusAccepted, ingestResponse{Status: "discarded", Reason: "malformed message"})
		return
	}

	draft, err := h.ingest.StageProduct(ctx, services.RawProduct{
		URL:   msg.URL,
		Title: msg.Title,
		Price: msg.Price,
		Image: msg.Image,
	})
	if err != nil {
		if errors.Is(err, services.ErrIngestInvalidMessage) {
			writeJSONResponse(w, http.StatusAccepted, ingestResponse{Status: "discarded", Reason: "missing product url"})
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("ingest_error", "product message could not be staged", http.StatusInternalServerError))
		return
	}

	payload := buildDraftPayload(draft)
	writeJSONResponse(w, http.StatusAccepted, ingestResponse{Status: "staged", Draft: &payload})
}

type ingestMessage struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Price string `json:"price"`
	Image string `json:"image"`
}

type ingestResponse struct {
	Status string        `json:"status"`
	Reason string        `json:"reason,omitempty"`
	Draft  *draftPayload `json:"draft,omitempty"`
}
