package classifier

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const slugSeparator = '-'

// DisplayName renders "Brand - Name".
func DisplayName(brand, name string) string {
	return strings.TrimSpace(brand) + " - " + strings.TrimSpace(name)
}

// CanonicalID is the slug of brand and product name.
func CanonicalID(brand, name string) string {
	return Slugify(brand + " " + name)
}

// Slugify lowercases s, folds diacritics, collapses every run of other
// characters into a single '-' and trims separators at both ends. It is
// idempotent.
func Slugify(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	pending := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteRune(slugSeparator)
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}
