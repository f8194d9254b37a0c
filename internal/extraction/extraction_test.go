package extraction

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveByHostSubstring(t *testing.T) {
	reg := NewRegistry()
	cases := []struct {
		url  string
		want string
	}{
		{"https://www.amazon.fr/dp/B0ABC123", "amazon"},
		{"https://www.amazon.de/gp/product/1", "amazon"},
		{"https://fr.shein.com/item.html", "shein"},
		{"https://www.zalando.fr/article.html", "zalando"},
		{"https://www.asos.com/fr/prd/123", "asos"},
		{"https://www.zara.com/fr/fr/p.html", "zara"},
		{"https://www2.hm.com/fr_fr/prod.html", "hm"},
		{"https://www.example-shop.com/product/1", "generic"},
		{"not a url at all", "generic"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, reg.Resolve(tc.url).Name, "url %s", tc.url)
	}
}

func TestRetailersIncludesFallbackLast(t *testing.T) {
	names := NewRegistry().Retailers()
	require.NotEmpty(t, names)
	assert.Equal(t, "generic", names[len(names)-1])
}

func TestSiteName(t *testing.T) {
	assert.Equal(t, "amazon.fr", SiteName("https://www.amazon.fr/dp/B0ABC123"))
	assert.Equal(t, "www2.hm.com", SiteName("https://www2.hm.com/fr_fr/p.html"))
	assert.Equal(t, "", SiteName("%%%"))
}

const amazonPage = `<html><head>
<meta property="og:image" content="https://images.example/og.jpg"/>
</head><body>
<span id="productTitle">  Montre connectée
	Ultra  </span>
<div id="corePrice_feature_div">
  <span class="a-price-whole">29<span>,</span></span>
  <span class="a-price-fraction">99</span>
</div>
<div id="imgTagWrapperId"><img id="landingImage" src="https://m.media-amazon.com/images/I/watch.jpg"/></div>
</body></html>`

func TestExtractAmazon(t *testing.T) {
	reg := NewRegistry()
	got, err := reg.ExtractFromHTML("https://www.amazon.fr/dp/B0ABC123", amazonPage)
	require.NoError(t, err)
	assert.Equal(t, "Montre connectée Ultra", got.Title)
	assert.Equal(t, "https://m.media-amazon.com/images/I/watch.jpg", got.Image)
	assert.True(t, strings.HasPrefix(got.Price, "29,"), "price %q", got.Price)
}

func TestExtractAmazonRoundPriceDefaultsFraction(t *testing.T) {
	page := `<html><body>
<span id="productTitle">Câble USB</span>
<span class="a-price-whole">10</span>
</body></html>`
	got, err := NewRegistry().ExtractFromHTML("https://www.amazon.fr/dp/B1", page)
	require.NoError(t, err)
	assert.Equal(t, "10,00", got.Price)
}

func TestExtractZalando(t *testing.T) {
	page := `<html><head>
<meta property="og:image" content="https://img01.ztat.net/article/sneaker.jpg"/>
</head><body>
<h1 data-testid="product-title">Baskets basses</h1>
<span>Taille unique</span>
<span>89,95 €</span>
</body></html>`
	got, err := NewRegistry().ExtractFromHTML("https://www.zalando.fr/baskets.html", page)
	require.NoError(t, err)
	assert.Equal(t, "Baskets basses", got.Title)
	assert.Equal(t, "89,95", got.Price)
	assert.Equal(t, "https://img01.ztat.net/article/sneaker.jpg", got.Image)
}

func TestExtractHMTitleFromDocumentTitle(t *testing.T) {
	page := `<html><head>
<title>Robe en maille | Noir | H&amp;M FR</title>
</head><body>
<span class="product-price">24,99 €</span>
<img src="https://image.hm.com/assets/robe.jpg"/>
</body></html>`
	got, err := NewRegistry().ExtractFromHTML("https://www2.hm.com/fr_fr/productpage.html", page)
	require.NoError(t, err)
	assert.Equal(t, "Robe en maille", got.Title)
	assert.Equal(t, "24,99", got.Price)
	assert.Equal(t, "https://image.hm.com/assets/robe.jpg", got.Image)
}

func TestExtractGenericMissingFieldsStayEmpty(t *testing.T) {
	got, err := NewRegistry().ExtractFromHTML("https://shop.example.com/p/1", `<html><body><p>rien</p></body></html>`)
	require.NoError(t, err)
	assert.Equal(t, "", got.Title)
	assert.Equal(t, "", got.Price)
	assert.Equal(t, "", got.Image)
}

func TestCleanTitleStripsMarkup(t *testing.T) {
	assert.Equal(t, "Robe d'été", CleanTitle("<b>Robe</b>   d&#39;été "))
}

func TestBuildScriptPostsChannelPayload(t *testing.T) {
	reg := NewRegistry()
	script := reg.BuildScript("https://www.amazon.fr/dp/B0ABC123")
	assert.Contains(t, script, "Ajouter au panier")
	assert.Contains(t, script, "window.ReactNativeWebView.postMessage")
	assert.Contains(t, script, "#productTitle")
	for _, field := range []string{"url:", "title:", "price:", "image:"} {
		assert.Contains(t, script, field)
	}

	generic := reg.BuildScript("https://unknown.example.com/p")
	assert.Contains(t, generic, "og:title")
}

func TestBuildScriptGenericShowsSupportNotice(t *testing.T) {
	reg := NewRegistry()

	generic := reg.BuildScript("https://unknown.example.com/p")
	assert.Contains(t, generic, "__panier_notice")
	assert.Contains(t, generic, "partiellement pris en charge")

	// Named retailers never render the banner, even those sharing the
	// generic selector sweep.
	for _, url := range []string{
		"https://www.amazon.fr/dp/B0ABC123",
		"https://www.shein.com/p/123",
		"https://www.zara.com/fr/p/456",
		"https://www2.hm.com/fr_fr/p/789",
	} {
		assert.NotContains(t, reg.BuildScript(url), "__panier_notice", url)
	}
}
