package parser

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	backLabelHints = []string{"back", "label", "supplement facts", "nutrition facts", "facts panel"}
	backSrcHints   = []string{"back", "_label", "-label", "facts"}
	frontHints     = []string{"front"}
	srcAttributes  = []string{"src", "data-src", "data-zoom-image", "data-large"}
)

// ExtractLabelImages picks front and back label image URLs from a detail page
// using alt text and URL substring heuristics. Relative URLs are resolved
// against baseURL.
func ExtractLabelImages(page, baseURL, productName string) (front, back string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", ""
	}

	name := strings.ToLower(CollapseWhitespace(productName))
	var firstNamed string

	doc.Find("img").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := imageSource(s, baseURL)
		if src == "" {
			return true
		}
		alt := strings.ToLower(s.AttrOr("alt", ""))
		lowerSrc := strings.ToLower(src)

		isFront := containsAny(alt, frontHints) || containsAny(lowerSrc, frontHints)
		isBack := !isFront && (containsAny(alt, backLabelHints) || containsAny(lowerSrc, backSrcHints))

		switch {
		case isFront && front == "":
			front = src
		case isBack && back == "":
			back = src
		case !isFront && !isBack && firstNamed == "" && name != "" && strings.Contains(alt, name):
			firstNamed = src
		}
		return front == "" || back == ""
	})

	if front == "" {
		front = firstNamed
	}
	return front, back
}

func imageSource(s *goquery.Selection, baseURL string) string {
	for _, attr := range srcAttributes {
		v := strings.TrimSpace(s.AttrOr(attr, ""))
		if v == "" || strings.HasPrefix(v, "data:") {
			continue
		}
		return ResolveURL(baseURL, v)
	}
	return ""
}

// ResolveURL resolves ref against base. Unparsable input is returned as is.
func ResolveURL(base, ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.IsAbs() {
		return r.String()
	}
	b, err := url.Parse(base)
	if err != nil || base == "" {
		return ref
	}
	return b.ResolveReference(r).String()
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}
