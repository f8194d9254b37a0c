package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/panierapp/api/internal/platform/httpx"
	"github.com/panierapp/api/internal/platform/storage"
)

const (
	maxInternalBodySize   = 8 * 1024
	maxDownloadURLExpiry  = 15 * time.Minute
	assetObjectRootPrefix = "assets/"
)

type assetURLSigner interface {
	SignedURL(ctx context.Context, bucket, object string, opts storage.SignedURLOptions) (storage.SignedURLResult, error)
}

// InternalHandlers serves server-to-server endpoints mounted under /internal.
// Callers are authenticated by the OIDC middleware configured on the group,
// not by Firebase tokens.
type InternalHandlers struct {
	signer assetURLSigner
	bucket string
}

// NewInternalHandlers constructs the internal handlers.
func NewInternalHandlers(signer assetURLSigner, bucket string) *InternalHandlers {
	return &InternalHandlers{
		signer: signer,
		bucket: strings.TrimSpace(bucket),
	}
}

// Routes wires the /internal endpoints onto the provided router.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/assets/download-url", h.signDownloadURL)
}

func (h *InternalHandlers) signDownloadURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.signer == nil || h.bucket == "" {
		httpx.WriteError(ctx, w, httpx.NewError("signing_unavailable", "asset signing is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxInternalBodySize)
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

	var req downloadURLRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	object := strings.TrimSpace(req.Object)
	if object == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "object is required", http.StatusBadRequest))
		return
	}
	if !strings.HasPrefix(object, assetObjectRootPrefix) || strings.Contains(object, "..") {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "object is outside the assets namespace", http.StatusBadRequest))
		return
	}

	expiresIn := time.Duration(req.ExpiresInSeconds) * time.Second
	if expiresIn > maxDownloadURLExpiry {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expiry exceeds the permitted maximum", http.StatusBadRequest))
		return
	}

	result, err := h.signer.SignedURL(ctx, h.bucket, object, storage.SignedURLOptions{
		Download: &storage.DownloadOptions{
			ExpiresIn:      expiresIn,
			Disposition:    strings.TrimSpace(req.Disposition),
			AllowAnonymous: true,
		},
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("signing_failed", "download url could not be signed", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, downloadURLResponse{
		URL:       result.URL,
		Method:    result.Method,
		ExpiresAt: formatTime(result.ExpiresAt),
	})
}

type downloadURLRequest struct {
	Object           string `json:"object"`
	Disposition      string `json:"disposition,omitempty"`
	ExpiresInSeconds int    `json:"expires_in_seconds,omitempty"`
}

type downloadURLResponse struct {
	URL       string `json:"url"`
	Method    string `json:"method"`
	ExpiresAt string `json:"expires_at"`
}
