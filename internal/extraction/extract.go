package extraction

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/panierapp/api/internal/domain"
)

// ExtractFromHTML parses page HTML and applies the retailer strategy for
// rawURL. Fields that cannot be located come back empty; only a parse
// failure is an error.
func (r *Registry) ExtractFromHTML(rawURL, pageHTML string) (domain.RawProduct, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(pageHTML))
	if err != nil {
		return domain.RawProduct{}, fmt.Errorf("parse page: %w", err)
	}
	strategy := r.Resolve(rawURL)
	return domain.RawProduct{
		URL:   strings.TrimSpace(rawURL),
		Title: CleanTitle(firstOf(doc, strategy.Title)),
		Price: firstOf(doc, strategy.Price),
		Image: firstOf(doc, strategy.Image),
	}, nil
}
