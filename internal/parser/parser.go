// Package parser turns semi-structured label and marketing HTML into typed
// fields. Every function here is pure and tolerates malformed input by
// returning empty results.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/maltedev/catalog-importer/internal/models"
)

// MoreBlock is the parsed serving/ingredient disclosure of a detail page.
type MoreBlock struct {
	SuggestedUse     *string
	ServingSize      *string
	Ingredients      []models.Ingredient
	OtherIngredients []string
}

var (
	amountPerServingPattern = regexp.MustCompile(`(?i)amount\s+per\s+serving`)
	otherIngredientsPattern = regexp.MustCompile(`(?i)other\s+ingredients`)
	otherValuePattern       = regexp.MustCompile(`(?is)other\s+ingredients\s*:?\s*(?:</(?:strong|b)>)?\s*:?\s*(.*?)(?:</p>|</div>|</li>|<strong|<b[\s>]|$)`)

	segmentSplitPattern = regexp.MustCompile(`(?i)<br\s*/?>|</?p(?:\s[^>]*)?>|</?li(?:\s[^>]*)?>|</?tr(?:\s[^>]*)?>`)
	lineSplitPattern    = regexp.MustCompile(`\r?\n`)
	boldPattern         = regexp.MustCompile(`(?is)<(?:strong|b)(?:\s[^>]*)?>(.*?)</(?:strong|b)>`)
	italicPattern       = regexp.MustCompile(`(?is)<(?:em|i)(?:\s[^>]*)?>(.*?)</(?:em|i)>`)
	parenPattern        = regexp.MustCompile(`\(([^()]*)\)`)
	amountPattern       = regexp.MustCompile(`(?i)(?:^|\.{2,}|…|\s)\s*(\d[\d,]*(?:\.\d+)?)\s*(billion|million)?\s*([a-zµμ]+|%)`)
	blendPattern        = regexp.MustCompile(`(?i)\b(?:blend|proprietary|complex|matrix)\b`)
	indentPattern       = regexp.MustCompile(`^\s*(?:&nbsp;|\x{00a0}|&#160;|[-•–*])+\s*`)
)

var headerNames = map[string]bool{
	"amount per serving":     true,
	"% daily value":          true,
	"%daily value":           true,
	"daily value":            true,
	"% dv":                   true,
	"serving size":           true,
	"servings per container": true,
	"other ingredients":      true,
	"suggested use":          true,
	"supplement facts":       true,
}

// ParseMoreBlock parses the serving/ingredient disclosure. It never panics;
// unparsable input yields an empty block.
func ParseMoreBlock(fragment string) (block MoreBlock) {
	defer func() {
		if r := recover(); r != nil {
			block = MoreBlock{}
		}
	}()

	block.SuggestedUse = ExtractSuggestedUse(fragment)
	block.ServingSize = ExtractServingSize(fragment)
	block.Ingredients = ParseIngredients(fragment)
	block.OtherIngredients = ParseOtherIngredients(fragment)
	return block
}

// ParseIngredients reads the ingredient lines bounded by "Amount Per Serving"
// and "Other Ingredients" (or the end of the fragment).
func ParseIngredients(fragment string) []models.Ingredient {
	loc := amountPerServingPattern.FindStringIndex(fragment)
	if loc == nil {
		return nil
	}
	section := fragment[loc[1]:]
	if end := otherIngredientsPattern.FindStringIndex(section); end != nil {
		section = section[:end[0]]
	}

	var (
		ingredients []models.Ingredient
		blend       string
	)

	splitter := lineSplitPattern
	if segmentSplitPattern.MatchString(section) {
		splitter = segmentSplitPattern
	}

	for _, segment := range splitter.Split(section, -1) {
		if strings.TrimSpace(StripTags(segment)) == "" {
			continue
		}

		indented := indentPattern.MatchString(segment)
		name, rest, hasBold := splitName(segment)

		if !hasBold {
			// Unbolded lines only count as members of an open blend.
			if blend == "" {
				continue
			}
			ing, ok := parseLine(segment, "")
			if !ok {
				continue
			}
			ing.Parent = models.StringPtr(blend)
			ingredients = append(ingredients, ing)
			continue
		}

		if isHeader(name) {
			continue
		}

		ing, ok := parseLine(rest, name)
		if !ok {
			continue
		}

		if indented && blend != "" {
			ing.Parent = models.StringPtr(blend)
		} else if blendPattern.MatchString(ing.Name) {
			blend = ing.Name
		} else {
			blend = ""
		}

		ingredients = append(ingredients, ing)
	}

	return ingredients
}

// splitName returns the first bolded text of a segment and the markup after it.
func splitName(segment string) (string, string, bool) {
	loc := boldPattern.FindStringSubmatchIndex(segment)
	if loc == nil {
		return "", segment, false
	}
	name := StripTags(segment[loc[2]:loc[3]])
	return name, segment[loc[1]:], name != ""
}

// parseLine builds an ingredient from the markup following its name. When name
// is empty it is taken from the text preceding the amount.
func parseLine(rest, name string) (models.Ingredient, bool) {
	var standardization, equivalent *string

	if m := italicPattern.FindStringSubmatch(rest); m != nil {
		if note := trimNote(StripTags(m[1])); note != "" {
			standardization = models.StringPtr(note)
		}
		rest = italicPattern.ReplaceAllString(rest, " ")
	}

	text := StripTags(rest)
	for _, m := range parenPattern.FindAllStringSubmatch(text, -1) {
		note := CollapseWhitespace(m[1])
		lower := strings.ToLower(note)
		switch {
		case strings.Contains(lower, "equiv") || strings.HasPrefix(lower, "providing") || strings.HasPrefix(lower, "yielding"):
			if equivalent == nil {
				equivalent = models.StringPtr(note)
			}
		case note != "" && standardization == nil:
			standardization = models.StringPtr(note)
		}
	}
	text = CollapseWhitespace(parenPattern.ReplaceAllString(text, " "))

	var amount *float64
	var unit *string
	loc := amountPattern.FindStringSubmatchIndex(text)
	if loc != nil {
		value := strings.ReplaceAll(text[loc[2]:loc[3]], ",", "")
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			u := strings.ToLower(text[loc[6]:loc[7]])
			if loc[4] >= 0 {
				u = strings.ToLower(text[loc[4]:loc[5]]) + " " + u
			}
			amount = &f
			unit = &u
		}
	}

	if name == "" {
		if loc == nil {
			name = text
		} else {
			name = text[:loc[0]]
		}
		name = strings.Trim(CollapseWhitespace(indentPattern.ReplaceAllString(name, "")), ".:… ")
	} else {
		name = strings.TrimSuffix(strings.TrimSpace(name), ":")
	}

	if name == "" || strings.HasPrefix(name, "†") || strings.HasPrefix(name, "*") {
		return models.Ingredient{}, false
	}

	return models.Ingredient{
		Name:            name,
		Amount:          amount,
		Unit:            unit,
		Standardization: standardization,
		Equivalent:      equivalent,
	}, true
}

func trimNote(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "()"))
}

func isHeader(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	return headerNames[strings.TrimSpace(strings.TrimSuffix(n, ":"))]
}

// ParseOtherIngredients splits the "Other Ingredients" list, keeping
// parenthesised sub-lists intact.
func ParseOtherIngredients(fragment string) []string {
	m := otherValuePattern.FindStringSubmatch(fragment)
	if len(m) < 2 {
		return nil
	}
	text := StripTags(m[1])
	if text == "" {
		return nil
	}
	return SplitTopLevel(text)
}
