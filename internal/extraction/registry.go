// Package extraction resolves per-retailer product extraction strategies.
//
// A strategy bundles the ordered selector candidates used to pull the
// product title, price and image out of a retailer page, plus the script
// injected into the embedded browser so the page itself can post the
// product over the message channel. Strategies are matched by hostname
// substring, first match wins, and a generic strategy always matches so
// resolution never fails.
package extraction

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FieldFunc extracts a single product field from a parsed document.
// It returns the empty string when the field is not present.
type FieldFunc func(doc *goquery.Document) string

// Strategy describes how products are extracted for one retailer.
type Strategy struct {
	// Name identifies the retailer ("amazon", "zalando", ...).
	Name string
	// Hosts are hostname substrings this strategy claims.
	Hosts []string
	// Title, Price and Image are tried in order until one yields a value.
	Title []FieldFunc
	Price []FieldFunc
	Image []FieldFunc
	// Script is the JavaScript injected into the embedded browser page.
	Script string
}

func (s Strategy) matches(host string) bool {
	for _, h := range s.Hosts {
		if strings.Contains(host, h) {
			return true
		}
	}
	return false
}

// Registry resolves retailer strategies by URL.
type Registry struct {
	strategies []Strategy
	fallback   Strategy
}

// NewRegistry returns a registry with the built-in retailer strategies.
func NewRegistry() *Registry {
	return &Registry{
		strategies: []Strategy{
			amazonStrategy(),
			sheinStrategy(),
			zalandoStrategy(),
			asosStrategy(),
			zaraStrategy(),
			hmStrategy(),
		},
		fallback: genericStrategy(),
	}
}

// Resolve returns the strategy for rawURL. Unknown or unparseable hosts
// fall back to the generic strategy.
func (r *Registry) Resolve(rawURL string) Strategy {
	host := hostOf(rawURL)
	for _, s := range r.strategies {
		if s.matches(host) {
			return s
		}
	}
	return r.fallback
}

// Retailers lists the named strategies, fallback last.
func (r *Registry) Retailers() []string {
	names := make([]string, 0, len(r.strategies)+1)
	for _, s := range r.strategies {
		names = append(names, s.Name)
	}
	return append(names, r.fallback.Name)
}

// SiteName derives the display site name for a product URL: the URL host
// with any "www." prefix stripped. Unparseable input yields "".
func SiteName(rawURL string) string {
	host := hostOf(rawURL)
	return strings.TrimPrefix(host, "www.")
}

func hostOf(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
