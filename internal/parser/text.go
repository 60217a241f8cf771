package parser

import (
	"html"
	"regexp"
	"strings"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`[\s\x{00a0}]+`)
)

func isMarkup(s string) bool {
	return tagPattern.MatchString(s)
}

// StripTags removes markup, decodes entities and collapses whitespace.
func StripTags(fragment string) string {
	text := tagPattern.ReplaceAllString(fragment, " ")
	text = html.UnescapeString(text)
	return CollapseWhitespace(text)
}

// CollapseWhitespace turns every whitespace run into a single space and trims the ends.
func CollapseWhitespace(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// labelPattern matches `Label:` optionally wrapped in <strong>/<b> and captures
// the value up to the end of the paragraph, line or next bold label.
func labelPattern(label string) *regexp.Regexp {
	words := strings.Fields(label)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	return regexp.MustCompile(`(?is)` + strings.Join(words, `\s+`) +
		`\s*:?\s*(?:</(?:strong|b)>)?\s*:?\s*(.*?)(?:</p>|<br\s*/?>|</li>|</div>|</td>|<strong|<b[\s>]|\n|$)`)
}

var (
	suggestedUsePattern = labelPattern("Suggested Use")
	servingSizePattern  = labelPattern("Serving Size")
)

func extractWith(re *regexp.Regexp, fragment string) (string, bool) {
	if isMarkup(fragment) {
		// line breaks inside markup are formatting, not field boundaries
		fragment = strings.NewReplacer("\r", " ", "\n", " ").Replace(fragment)
	}
	m := re.FindStringSubmatch(fragment)
	if len(m) < 2 {
		return "", false
	}
	value := StripTags(m[1])
	if value == "" {
		return "", false
	}
	return value, true
}

// ExtractSuggestedUse reads the "Suggested Use" label. Nil when absent.
func ExtractSuggestedUse(fragment string) *string {
	if v, ok := extractWith(suggestedUsePattern, fragment); ok {
		return &v
	}
	return nil
}

// ExtractServingSize reads the "Serving Size" label. Nil when absent.
func ExtractServingSize(fragment string) *string {
	if v, ok := extractWith(servingSizePattern, fragment); ok {
		return &v
	}
	return nil
}
