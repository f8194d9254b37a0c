package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/panierapp/api/internal/extraction"
	"github.com/panierapp/api/internal/platform/auth"
	"github.com/panierapp/api/internal/platform/httpx"
	"github.com/panierapp/api/internal/services"
)

// ExtractionHandlers serves the retailer extraction surface: the script the
// mobile app injects into its embedded browser, the list of supported
// retailers, and a server-side HTML extraction fallback.
type ExtractionHandlers struct {
	authn    *auth.Authenticator
	registry *extraction.Registry
	ingest   services.IngestService
}

// NewExtractionHandlers constructs the extraction handlers.
func NewExtractionHandlers(authn *auth.Authenticator, registry *extraction.Registry, ingest services.IngestService) *ExtractionHandlers {
	return &ExtractionHandlers{
		authn:    authn,
		registry: registry,
		ingest:   ingest,
	}
}

// Routes wires the /extraction endpoints onto the provided router.
func (h *ExtractionHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/script", h.getScript)
	r.Get("/retailers", h.listRetailers)
	r.Post("/extract", h.extract)
}

func (h *ExtractionHandlers) getScript(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.registry == nil {
		httpx.WriteError(ctx, w, httpx.NewError("extraction_unavailable", "extraction registry is unavailable", http.StatusServiceUnavailable))
		return
	}

	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "url query parameter is required", http.StatusBadRequest))
		return
	}

	strategy := h.registry.Resolve(rawURL)
	writeJSONResponse(w, http.StatusOK, scriptPayload{
		Retailer: strategy.Name,
		SiteName: extraction.SiteName(rawURL),
		Script:   h.registry.BuildScript(rawURL),
	})
}

func (h *ExtractionHandlers) listRetailers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.registry == nil {
		httpx.WriteError(ctx, w, httpx.NewError("extraction_unavailable", "extraction registry is unavailable", http.StatusServiceUnavailable))
		return
	}

	writeJSONResponse(w, http.StatusOK, retailersPayload{Retailers: h.registry.Retailers()})
}

func (h *ExtractionHandlers) extract(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.registry == nil || h.ingest == nil {
		httpx.WriteError(ctx, w, httpx.NewError("extraction_unavailable", "extraction service is unavailable", http.StatusServiceUnavailable))
		return
	}

	if _, ok := auth.IdentityFromContext(ctx); !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxIngestBodySize)
	if err != nil {
		status := http.StatusBadRequest
		code := "invalid_request"
		if errors.Is(err, errBodyTooLarge) {
			status = http.StatusRequestEntityTooLarge
			code = "payload_too_large"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, err.Error(), status))
		return
	}

	var req extractRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "url is required", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.HTML) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "html is required", http.StatusBadRequest))
		return
	}

	raw, err := h.registry.ExtractFromHTML(req.URL, req.HTML)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("extraction_failed", "page could not be parsed", http.StatusUnprocessableEntity))
		return
	}

	draft, err := h.ingest.StageProduct(ctx, raw)
	if err != nil {
		if errors.Is(err, services.ErrIngestInvalidMessage) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "extracted product is not usable", http.StatusUnprocessableEntity))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("extraction_failed", "product could not be staged", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, extractResponse{
		Retailer: h.registry.Resolve(req.URL).Name,
		Draft:    buildDraftPayload(draft),
	})
}

type scriptPayload struct {
	Retailer string `json:"retailer"`
	SiteName string `json:"site_name,omitempty"`
	Script   string `json:"script"`
}

type retailersPayload struct {
	Retailers []string `json:"retailers"`
}

type extractRequest struct {
	URL  string `json:"url"`
	HTML string `json:"html"`
}

type extractResponse struct {
	Retailer string       `json:"retailer"`
	Draft    draftPayload `json:"draft"`
}

type draftPayload struct {
	URL      string `json:"url"`
	SiteName string `json:"site_name,omitempty"`
	Title    string `json:"title"`
	Price    string `json:"price,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Quantity int    `json:"quantity"`
	Color    string `json:"color,omitempty"`
	Size     string `json:"size,omitempty"`
	Note     string `json:"note,omitempty"`
}

func buildDraftPayload(draft services.ProductDraft) draftPayload {
	return draftPayload{
		URL:      draft.URL,
		SiteName: draft.SiteName,
		Title:    draft.Title,
		Price:    draft.Price,
		ImageURL: draft.ImageURL,
		Quantity: draft.Quantity,
		Color:    draft.Color,
		Size:     draft.Size,
		Note:     draft.Note,
	}
}
