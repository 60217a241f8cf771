package parser

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const maxBadgeLength = 80

var certificationPattern = regexp.MustCompile(`(?i)\b(?:c?gmp|nsf|usp|organic|certified|verified)\b`)

type dietaryRule struct {
	tag     string
	pattern *regexp.Regexp
}

var dietaryRules = []dietaryRule{
	{"gluten-free", regexp.MustCompile(`(?i)\bgluten[\s-]?free\b`)},
	{"dairy-free", regexp.MustCompile(`(?i)\b(?:dairy|milk)[\s-]?free\b`)},
	{"soy-free", regexp.MustCompile(`(?i)\bsoy[\s-]?free\b`)},
	{"nut-free", regexp.MustCompile(`(?i)\b(?:tree[\s-]?)?nut[\s-]?free\b`)},
	{"egg-free", regexp.MustCompile(`(?i)\begg[\s-]?free\b`)},
	{"sugar-free", regexp.MustCompile(`(?i)\bsugar[\s-]?free\b`)},
	{"non-gmo", regexp.MustCompile(`(?i)\bnon[\s-]?gmo\b`)},
	{"vegan", regexp.MustCompile(`(?i)\bvegan\b`)},
	{"vegetarian", regexp.MustCompile(`(?i)\bvegetarian\b`)},
	{"kosher", regexp.MustCompile(`(?i)\bkosher\b`)},
	{"halal", regexp.MustCompile(`(?i)\bhalal\b`)},
	{"keto", regexp.MustCompile(`(?i)\bketo(?:[\s-]?friendly)?\b`)},
	{"paleo", regexp.MustCompile(`(?i)\bpaleo(?:[\s-]?friendly)?\b`)},
}

var allergenTags = map[string]string{
	"gluten-free": "gluten",
	"dairy-free":  "dairy",
	"soy-free":    "soy",
	"nut-free":    "tree nuts",
	"egg-free":    "egg",
}

var containsPattern = regexp.MustCompile(`(?i)\bcontains\s*:?\s*([^.;]+)`)

// ParseCertifications returns the certification badges found in image alt
// text and short text nodes, de-duplicated case-insensitively in document order.
func ParseCertifications(fragment string) []string {
	set := newOrderedSet()
	for _, text := range badgeTexts(fragment) {
		if len(text) > maxBadgeLength {
			continue
		}
		if certificationPattern.MatchString(text) {
			set.add(text)
		}
	}
	return set.values()
}

// ParseDietaryTags returns the canonical dietary tags mentioned in fragment.
func ParseDietaryTags(fragment string) []string {
	texts := badgeTexts(fragment)
	set := newOrderedSet()
	for _, rule := range dietaryRules {
		for _, text := range texts {
			if rule.pattern.MatchString(text) {
				set.add(rule.tag)
				break
			}
		}
	}
	return set.values()
}

// ParseAllergens reads "Contains: ..." clauses from warnings and maps
// free-from dietary tags to allergens.
func ParseAllergens(warnings string, dietary []string) (contains, freeOf []string) {
	containsSet := newOrderedSet()
	for _, m := range containsPattern.FindAllStringSubmatch(StripTags(warnings), -1) {
		list := strings.ReplaceAll(m[1], " and ", ", ")
		for _, item := range SplitTopLevel(list) {
			containsSet.add(strings.ToLower(item))
		}
	}

	freeSet := newOrderedSet()
	for _, tag := range dietary {
		if allergen, ok := allergenTags[tag]; ok {
			freeSet.add(allergen)
		}
	}

	return containsSet.values(), freeSet.values()
}

// badgeTexts collects image alt/title attributes and the text of leaf
// elements. Plain text input is returned as a single entry.
func badgeTexts(fragment string) []string {
	if strings.TrimSpace(fragment) == "" {
		return nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return []string{CollapseWhitespace(fragment)}
	}

	var texts []string
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"alt", "title"} {
			if v, ok := s.Attr(attr); ok {
				if v = CollapseWhitespace(v); v != "" {
					texts = append(texts, v)
				}
			}
		}
	})

	doc.Find("body *").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() > 0 && !inlineOnly(s) {
			return
		}
		if p := s.Parent(); goquery.NodeName(p) != "body" && inlineOnly(p) {
			// already read as part of the parent's text
			return
		}
		if text := CollapseWhitespace(s.Text()); text != "" {
			texts = append(texts, text)
		}
	})

	if len(texts) == 0 {
		if text := CollapseWhitespace(doc.Text()); text != "" {
			texts = append(texts, text)
		}
	}

	return texts
}

// inlineOnly reports whether every child of s is inline formatting, so that
// "<li><strong>NSF</strong> Certified</li>" is read as one badge.
func inlineOnly(s *goquery.Selection) bool {
	inline := true
	s.Children().Each(func(_ int, c *goquery.Selection) {
		switch goquery.NodeName(c) {
		case "strong", "b", "em", "i", "span", "small", "sup", "a", "img", "br":
		default:
			inline = false
		}
	})
	return inline
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]bool)}
}

func (o *orderedSet) add(v string) {
	v = CollapseWhitespace(v)
	key := strings.ToLower(v)
	if v == "" || o.seen[key] {
		return
	}
	o.seen[key] = true
	o.items = append(o.items, v)
}

func (o *orderedSet) values() []string {
	return o.items
}
