package parser

import "strings"

// SplitTopLevel splits s on commas that are not inside (), [] or {}.
// "cellulose (water, glycerin), silica" yields two entries.
func SplitTopLevel(s string) []string {
	var (
		parts []string
		depth int
		start int
	)

	for i, r := range s {
		switch r {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			if depth > 0 {
				depth--
			}
		case ',':
			if depth == 0 {
				parts = appendPart(parts, s[start:i])
				start = i + 1
			}
		}
	}
	parts = appendPart(parts, s[start:])

	return parts
}

func appendPart(parts []string, raw string) []string {
	p := strings.TrimSpace(raw)
	p = strings.TrimSuffix(p, ".")
	p = strings.TrimSpace(p)
	if p == "" {
		return parts
	}
	return append(parts, p)
}
