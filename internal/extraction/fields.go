package extraction

import (
	"html"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// priceRe matches the first amount-looking token in page text, e.g.
// "29,99" or "1299.00".
var priceRe = regexp.MustCompile(`[0-9]+(?:[.,][0-9]{3})*[.,][0-9]{2}`)

var titlePolicy = bluemonday.StrictPolicy()

// CleanTitle strips markup from a scraped title and collapses whitespace.
func CleanTitle(raw string) string {
	cleaned := titlePolicy.Sanitize(raw)
	cleaned = html.UnescapeString(cleaned)
	return strings.Join(strings.Fields(cleaned), " ")
}

// text returns the trimmed text of the first node matching selector.
func text(selector string) FieldFunc {
	return func(doc *goquery.Document) string {
		return strings.TrimSpace(doc.Find(selector).First().Text())
	}
}

// attr returns the named attribute of the first node matching selector.
func attr(selector, name string) FieldFunc {
	return func(doc *goquery.Document) string {
		val, _ := doc.Find(selector).First().Attr(name)
		return strings.TrimSpace(val)
	}
}

// metaProperty reads an Open Graph style meta tag content.
func metaProperty(property string) FieldFunc {
	return func(doc *goquery.Document) string {
		val, _ := doc.Find(`meta[property="` + property + `"]`).First().Attr("content")
		return strings.TrimSpace(val)
	}
}

// docTitleSegment takes the document title up to the first "|" or " - "
// separator, the part retailers put the product name in.
func docTitleSegment() FieldFunc {
	return func(doc *goquery.Document) string {
		title := strings.TrimSpace(doc.Find("title").First().Text())
		for _, sep := range []string{"|", " - "} {
			if idx := strings.Index(title, sep); idx >= 0 {
				title = title[:idx]
			}
		}
		return strings.TrimSpace(title)
	}
}

// priceText returns the first amount-looking token inside the nodes
// matching selector.
func priceText(selector string) FieldFunc {
	return func(doc *goquery.Document) string {
		var found string
		doc.Find(selector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			if m := priceRe.FindString(sel.Text()); m != "" {
				found = m
				return false
			}
			return true
		})
		return found
	}
}

// joinWholeFraction glues split price markup into "whole,fraction". The
// fraction defaults to "00" when the node is absent, matching how Amazon
// renders round prices.
func joinWholeFraction(wholeSel, fracSel string) FieldFunc {
	return func(doc *goquery.Document) string {
		whole := strings.TrimSpace(doc.Find(wholeSel).First().Text())
		if whole == "" {
			return ""
		}
		whole = strings.Trim(whole, ".,")
		frac := strings.TrimSpace(doc.Find(fracSel).First().Text())
		if frac == "" {
			frac = "00"
		}
		return whole + "," + frac
	}
}

// imageSrcContains returns the src of the first img whose src contains
// needle.
func imageSrcContains(needle string) FieldFunc {
	return attr(`img[src*="`+needle+`"]`, "src")
}

// firstOf applies candidate funcs in order and returns the first
// non-empty value.
func firstOf(doc *goquery.Document, candidates []FieldFunc) string {
	for _, f := range candidates {
		if v := f(doc); v != "" {
			return v
		}
	}
	return ""
}
