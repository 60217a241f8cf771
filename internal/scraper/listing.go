package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/catalog-importer/internal/models"
	"github.com/maltedev/catalog-importer/internal/parser"
)

// listingMatcher locates product cards and the fields inside one card.
type listingMatcher struct {
	name  string
	card  string
	link  string
	title string
	brand string
	label string
}

const (
	defaultTitle = `[data-testid="product-name"], [itemprop="name"], .product-name, .product-title, [class*="productName"], [class*="product-name"], h2, h3, h4`
	defaultBrand = `[data-testid="product-brand"], [itemprop="brand"], .product-brand, .brand, [class*="brand"]`
	defaultLabel = `[data-testid="package-label"], .package-label, .product-size, [class*="size"], [class*="count"]`
)

// Ordered from most specific to most generic. The first matcher whose
// candidates all look like products wins.
var listingMatchers = []listingMatcher{
	{name: "testid", card: `[data-testid="product-card"]`},
	{name: "schema.org", card: `[itemtype*="schema.org/Product"]`},
	{name: "card class", card: `.product-card, .product-item, [class*="ProductCard"]`},
	{name: "tile class", card: `[class*="product-tile"], [class*="ProductTile"], [class*="product-grid-item"]`},
	{name: "article", card: `article:has(a[href])`},
	{name: "list item", card: `ul li:has(img), ol li:has(img)`},
}

type listingCandidate struct {
	item     models.RawListingItem
	hasLink  bool
	hasImage bool
}

func (c listingCandidate) plausible() bool {
	return c.hasLink || (c.hasImage && c.item.ProductName != "")
}

// ParseListing reads the product cards currently rendered in html, in
// document order. Relative links are resolved against baseURL.
func ParseListing(html, baseURL string) []models.RawListingItem {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	for _, m := range listingMatchers {
		cards := doc.Find(m.card)
		if cards.Length() == 0 {
			continue
		}

		candidates := make([]listingCandidate, 0, cards.Length())
		accepted := true
		cards.EachWithBreak(func(_ int, card *goquery.Selection) bool {
			c := readCard(card, m, baseURL)
			if !c.plausible() {
				accepted = false
				return false
			}
			candidates = append(candidates, c)
			return true
		})
		if !accepted {
			continue
		}

		items := make([]models.RawListingItem, 0, len(candidates))
		for _, c := range candidates {
			items = append(items, c.item)
		}
		return items
	}

	return nil
}

func readCard(card *goquery.Selection, m listingMatcher, baseURL string) listingCandidate {
	var c listingCandidate

	link := card.Find(or(m.link, `a[href]`)).First()
	if goquery.NodeName(card) == "a" {
		link = card
	}
	if href := strings.TrimSpace(link.AttrOr("href", "")); href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
		c.item.DetailURL = parser.ResolveURL(baseURL, href)
		c.hasLink = true
	}

	img := card.Find("img").First()
	for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
		if src := strings.TrimSpace(img.AttrOr(attr, "")); src != "" && !strings.HasPrefix(src, "data:") {
			c.item.ThumbnailURL = parser.ResolveURL(baseURL, src)
			c.hasImage = true
			break
		}
	}

	c.item.Brand = firstText(card, or(m.brand, defaultBrand))
	c.item.ProductName = firstText(card, or(m.title, defaultTitle))
	if c.item.ProductName == "" {
		c.item.ProductName = parser.CollapseWhitespace(link.AttrOr("title", ""))
	}
	if c.item.ProductName == "" {
		c.item.ProductName = parser.CollapseWhitespace(img.AttrOr("alt", ""))
	}
	c.item.PackageLabel = firstText(card, or(m.label, defaultLabel))

	return c
}

func firstText(s *goquery.Selection, selector string) string {
	var text string
	s.Find(selector).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		text = parser.CollapseWhitespace(el.Text())
		return text == ""
	})
	return text
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
