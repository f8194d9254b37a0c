package services

import (
	"context"
	"errors"
	"strings"

	"github.com/panierapp/api/internal/extraction"
)

// ErrIngestInvalidMessage indicates the channel payload cannot be staged.
var ErrIngestInvalidMessage = errors.New("ingest service: invalid message")

// DefaultProductTitle replaces an empty extracted title so a cart line is
// never nameless.
const DefaultProductTitle = "untitled"

// IngestServiceDeps wires the dependencies for product message staging.
type IngestServiceDeps struct {
	Logger func(context.Context, string, map[string]any)
}

type ingestService struct {
	logger func(context.Context, string, map[string]any)
}

// NewIngestService constructs an IngestService.
func NewIngestService(deps IngestServiceDeps) (IngestService, error) {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &ingestService{logger: logger}, nil
}

// StageProduct normalizes a raw channel message into a product draft. The
// URL is the only required field; everything else degrades gracefully.
func (s *ingestService) StageProduct(ctx context.Context, msg RawProduct) (ProductDraft, error) {
	url := strings.TrimSpace(msg.URL)
	if url == "" {
		return ProductDraft{}, ErrIngestInvalidMessage
	}

	title := extraction.CleanTitle(msg.Title)
	if title == "" {
		title = DefaultProductTitle
	}

	draft := ProductDraft{
		URL:      url,
		SiteName: extraction.SiteName(url),
		Title:    title,
		Price:    strings.TrimSpace(msg.Price),
		ImageURL: strings.TrimSpace(msg.Image),
		Quantity: 1,
	}

	s.logger(ctx, "ingest.product_staged", map[string]any{
		"site":     draft.SiteName,
		"hasPrice": draft.Price != "",
		"hasImage": draft.ImageURL != "",
	})
	return draft, nil
}
