package scraper

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/catalog-importer/internal/parser"
)

// Disclosure labels read from every detail page.
const (
	LabelDescription = "Description"
	LabelWarnings    = "Warnings"
	LabelDietary     = "Dietary restrictions"
	LabelCertified   = "Certifications"
	LabelMore        = "More"
)

var disclosureLabels = []string{LabelDescription, LabelWarnings, LabelDietary, LabelCertified, LabelMore}

// labelCandidates are the elements that may carry a disclosure label.
const labelCandidates = `button, summary, [role="button"], [aria-expanded], h2, h3, h4, h5, dt, span, div, a`

// locateScript finds the innermost element whose text equals the label, walks
// up to the element carrying the expanded state and tags it with a key so it
// can be clicked through a plain attribute selector.
const locateScript = `({ label, key, attr }) => {
  const norm = (s) => (s || '').replace(/\s+/g, ' ').trim().toLowerCase();
  const target = norm(label);
  const matches = Array.from(document.querySelectorAll('` + labelCandidates + `'))
    .filter((el) => norm(el.textContent) === target);
  const labelEl = matches.find((el) => !matches.some((o) => o !== el && el.contains(o)));
  if (!labelEl) return { found: false };
  let toggle = labelEl;
  while (toggle && toggle !== document.body) {
    if (toggle.hasAttribute('aria-expanded') || toggle.tagName === 'SUMMARY') break;
    if (toggle.tagName === 'DETAILS') { toggle = toggle.querySelector('summary') || toggle; break; }
    toggle = toggle.parentElement;
  }
  if (!toggle || toggle === document.body) toggle = labelEl;
  toggle.setAttribute(attr, key);
  if (toggle.hasAttribute('aria-expanded')) return { found: true, known: true, expanded: toggle.getAttribute('aria-expanded') === 'true' };
  if (toggle.tagName === 'SUMMARY' && toggle.parentElement) return { found: true, known: true, expanded: !!toggle.parentElement.open };
  return { found: true, known: false, expanded: true };
}`

// stateScript re-reads the expanded state of a tagged toggle.
const stateScript = `({ key, attr }) => {
  const toggle = document.querySelector('[' + attr + '="' + key + '"]');
  if (!toggle) return false;
  if (toggle.hasAttribute('aria-expanded')) return toggle.getAttribute('aria-expanded') === 'true';
  if (toggle.tagName === 'SUMMARY' && toggle.parentElement) return !!toggle.parentElement.open;
  return true;
}`

// contentScript returns the panel markup controlled by a tagged toggle.
const contentScript = `({ key, attr }) => {
  const toggle = document.querySelector('[' + attr + '="' + key + '"]');
  if (!toggle) return '';
  const controls = toggle.getAttribute('aria-controls');
  if (controls) {
    const panel = document.getElementById(controls);
    if (panel) return panel.innerHTML;
  }
  if (toggle.tagName === 'SUMMARY' && toggle.parentElement) {
    const clone = toggle.parentElement.cloneNode(true);
    const summary = clone.querySelector('summary');
    if (summary) summary.remove();
    return clone.innerHTML;
  }
  let next = toggle.nextElementSibling;
  if (!next && toggle.parentElement) next = toggle.parentElement.nextElementSibling;
  return next ? next.innerHTML : '';
}`

// readDisclosure expands the disclosure titled label and returns its panel
// markup. When the toggle cannot be driven, the panel is read from the DOM as
// rendered, which keeps collapsed content on most storefronts.
func (v *DetailVisitor) readDisclosure(ctx context.Context, page Page, label string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	key := disclosureKey(label)
	attr := v.selectors.DisclosureKey
	arg := map[string]interface{}{"label": label, "key": key, "attr": attr}

	html, err := v.expandAndRead(ctx, page, arg, fmt.Sprintf(`[%s="%s"]`, attr, key))
	if err == nil && strings.TrimSpace(html) != "" {
		return html, nil
	}
	if err != nil {
		v.logger.Debug("disclosure toggle unusable, reading collapsed DOM", "label", label, "error", err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, cerr := page.Content()
	if cerr != nil {
		return "", fmt.Errorf("%w: read page for %q: %w", ErrExtraction, label, cerr)
	}
	return DisclosureFromHTML(content, label), nil
}

func (v *DetailVisitor) expandAndRead(ctx context.Context, page Page, arg map[string]interface{}, selector string) (string, error) {
	raw, err := page.Evaluate(locateScript, arg)
	if err != nil {
		return "", err
	}
	state, ok := raw.(map[string]interface{})
	if !ok {
		return "", fmt.Errorf("unexpected locate result %T", raw)
	}
	if found, _ := state["found"].(bool); !found {
		return "", fmt.Errorf("label %q not found", arg["label"])
	}

	if expanded, _ := state["expanded"].(bool); !expanded {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if err := page.Click(selector); err != nil {
			return "", fmt.Errorf("expand: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		again, err := page.Evaluate(stateScript, arg)
		if err != nil {
			return "", err
		}
		if open, _ := again.(bool); !open {
			return "", fmt.Errorf("still collapsed after click")
		}
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err = page.Evaluate(contentScript, arg)
	if err != nil {
		return "", err
	}
	html, _ := raw.(string)
	return html, nil
}

func disclosureKey(label string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(label)), " ", "-")
}

// DisclosureFromHTML finds the panel belonging to the disclosure titled label
// in a static page and returns its inner markup, or "" when absent.
func DisclosureFromHTML(page, label string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return ""
	}

	target := strings.ToLower(parser.CollapseWhitespace(label))
	matchesLabel := func(_ int, s *goquery.Selection) bool {
		return strings.ToLower(parser.CollapseWhitespace(s.Text())) == target
	}

	var labelEl *goquery.Selection
	doc.Find(labelCandidates).FilterFunction(matchesLabel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if s.Find(labelCandidates).FilterFunction(matchesLabel).Length() == 0 {
			labelEl = s
			return false
		}
		return true
	})
	if labelEl == nil {
		return ""
	}

	toggle := labelEl
	for cur := labelEl; cur.Length() > 0 && goquery.NodeName(cur) != "body"; cur = cur.Parent() {
		if _, ok := cur.Attr("aria-expanded"); ok || goquery.NodeName(cur) == "summary" {
			toggle = cur
			break
		}
		if goquery.NodeName(cur) == "details" {
			toggle = cur.ChildrenFiltered("summary").First()
			if toggle.Length() == 0 {
				toggle = cur
			}
			break
		}
	}

	if id, ok := toggle.Attr("aria-controls"); ok && id != "" {
		panel := doc.Find(fmt.Sprintf(`[id=%q]`, id)).First()
		if panel.Length() > 0 {
			return innerHTML(panel)
		}
	}

	if goquery.NodeName(toggle) == "summary" {
		details := toggle.Parent().Clone()
		details.ChildrenFiltered("summary").Remove()
		return innerHTML(details)
	}

	next := toggle.Next()
	if next.Length() == 0 {
		next = toggle.Parent().Next()
	}
	return innerHTML(next)
}

func innerHTML(s *goquery.Selection) string {
	if s.Length() == 0 {
		return ""
	}
	html, err := s.Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(html)
}
