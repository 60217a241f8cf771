package scraper

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-importer/internal/models"
)

const detailHTML = `<html><body>
<h1>Magnesium Bisglycinate</h1>
<img src="/img/mag-front.jpg" alt="Magnesium Bisglycinate front">
<img src="/img/mag-back.jpg" alt="Supplement Facts">
<div class="accordion">
  <button aria-expanded="false" aria-controls="panel-desc"><span>Description</span></button>
  <div id="panel-desc" hidden><p>Highly absorbable magnesium.</p></div>
  <button aria-expanded="false" aria-controls="panel-warn">Warnings</button>
  <div id="panel-warn" hidden><p>Contains: soy. Keep out of reach of children.</p></div>
  <button aria-expanded="false" aria-controls="panel-diet">Dietary restrictions</button>
  <div id="panel-diet" hidden><ul><li>Gluten Free</li><li>Dairy Free</li></ul></div>
  <details><summary>Certifications</summary><ul><li>NSF Certified for Sport</li></ul></details>
  <h3>More</h3>
  <div><p><strong>Suggested Use:</strong> Mix 1 scoop with water daily.</p><p><strong>Serving Size:</strong> 1 Scoop (3.5 g)</p><p><strong>Amount Per Serving</strong><br><strong>Magnesium</strong> 200 mg</p></div>
</div>
</body></html>`

func detailItem() models.RawListingItem {
	return models.RawListingItem{
		Brand:       "Thorne",
		ProductName: "Magnesium Bisglycinate",
		DetailURL:   "https://shop.example.com/products/mag",
	}
}

func newTestVisitor(budget time.Duration) *DetailVisitor {
	return NewDetailVisitor(testSite(), DefaultSelectors(), budget, nil)
}

func TestVisitReadsCollapsedDOM(t *testing.T) {
	page := &fakePage{content: func() string { return detailHTML }}

	fields, err := newTestVisitor(time.Second).Visit(context.Background(), page, detailItem())

	require.NoError(t, err)
	require.NotNil(t, fields)
	assert.Equal(t, "Highly absorbable magnesium.", fields.Description)
	assert.Equal(t, "Contains: soy. Keep out of reach of children.", fields.Warnings)
	assert.Equal(t, []string{"gluten-free", "dairy-free"}, fields.DietaryRestrictions)
	assert.Equal(t, []string{"NSF Certified for Sport"}, fields.Certifications)
	assert.Equal(t, "Mix 1 scoop with water daily.", fields.SuggestedUse)
	assert.Equal(t, "1 Scoop (3.5 g)", fields.ServingSize)
	assert.Contains(t, fields.IngredientHTML, "Amount Per Serving")
	assert.Equal(t, "https://shop.example.com/img/mag-front.jpg", fields.FrontImageURL)
	assert.Equal(t, "https://shop.example.com/img/mag-back.jpg", fields.BackLabelImageURL)
}

func TestVisitExpandsCollapsedToggles(t *testing.T) {
	panels := map[string]string{
		"description": "<p>Expanded description.</p>",
		"more":        "<p><strong>Serving Size:</strong> 2 Capsules</p>",
	}
	expanded := map[string]bool{}

	page := &fakePage{content: func() string { return "<html><body><h1>Item</h1></body></html>" }}
	page.clickFn = func(selector string) error {
		expanded[selector] = true
		return nil
	}
	page.evaluateFn = func(script string, arg interface{}) (interface{}, error) {
		key := arg.(map[string]interface{})["key"].(string)
		selector := `[data-disclosure-key="` + key + `"]`
		switch script {
		case locateScript:
			if _, ok := panels[key]; !ok {
				return map[string]interface{}{"found": false}, nil
			}
			return map[string]interface{}{"found": true, "known": true, "expanded": false}, nil
		case stateScript:
			return expanded[selector], nil
		case contentScript:
			return panels[key], nil
		}
		return nil, errUnsupported
	}

	fields, err := newTestVisitor(time.Second).Visit(context.Background(), page, detailItem())

	require.NoError(t, err)
	assert.Equal(t, "Expanded description.", fields.Description)
	assert.Equal(t, "2 Capsules", fields.ServingSize)
	assert.Empty(t, fields.Warnings)
	assert.ElementsMatch(t, []string{`[data-disclosure-key="description"]`, `[data-disclosure-key="more"]`}, page.clicks)
}

func TestVisitBudgetExceeded(t *testing.T) {
	page := &fakePage{
		gotoFn: func(ctx context.Context, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}

	start := time.Now()
	fields, err := newTestVisitor(50*time.Millisecond).Visit(context.Background(), page, detailItem())

	assert.Nil(t, fields)
	assert.ErrorIs(t, err, ErrNavigationTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestVisitBudgetStopsPageWork(t *testing.T) {
	var calls atomic.Int32

	page := &fakePage{content: func() string { return detailHTML }}
	page.clickFn = func(string) error {
		calls.Add(1)
		return nil
	}
	page.evaluateFn = func(script string, _ interface{}) (interface{}, error) {
		calls.Add(1)
		if script == locateScript {
			time.Sleep(150 * time.Millisecond)
			return map[string]interface{}{"found": true, "known": true, "expanded": false}, nil
		}
		return true, nil
	}

	_, err := newTestVisitor(50*time.Millisecond).Visit(context.Background(), page, detailItem())
	require.ErrorIs(t, err, ErrNavigationTimeout)

	after := calls.Load()
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, after, calls.Load(), "no page calls once Visit has returned")
	assert.Equal(t, int32(1), after, "only the in-flight locate ran")
	assert.Empty(t, page.clicks)
}

func TestVisitWithoutDetailURL(t *testing.T) {
	_, err := newTestVisitor(time.Second).Visit(context.Background(), &fakePage{}, models.RawListingItem{ProductName: "x"})

	assert.ErrorIs(t, err, ErrExtraction)
}

func TestVisitRedirectedToLogin(t *testing.T) {
	page := &fakePage{}
	page.gotoFn = func(context.Context, string) error {
		page.setURL("https://shop.example.com/login")
		return nil
	}

	_, err := newTestVisitor(time.Second).Visit(context.Background(), page, detailItem())

	assert.ErrorIs(t, err, ErrAuthLost)
}

func TestDisclosureFromHTML(t *testing.T) {
	tests := []struct {
		name  string
		html  string
		label string
		want  string
	}{
		{
			name:  "aria-controls panel",
			html:  `<button aria-expanded="false" aria-controls="p1"><span>Warnings</span></button><div id="p1"><p>Do not exceed.</p></div>`,
			label: "Warnings",
			want:  "<p>Do not exceed.</p>",
		},
		{
			name:  "details element",
			html:  `<details><summary>Certifications</summary><p>USP Verified</p></details>`,
			label: "certifications",
			want:  "<p>USP Verified</p>",
		},
		{
			name:  "sibling panel",
			html:  `<div><h3> More </h3><div><p>Serving Size: 1</p></div></div>`,
			label: "More",
			want:  "<p>Serving Size: 1</p>",
		},
		{
			name:  "toggle wrapped in header",
			html:  `<div class="acc"><div class="hdr" aria-expanded="false"><span>Description</span></div><div class="body">Text</div></div>`,
			label: "Description",
			want:  "Text",
		},
		{
			name:  "absent",
			html:  `<p>nothing</p>`,
			label: "Warnings",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, strings.TrimSpace(DisclosureFromHTML(tt.html, tt.label)))
		})
	}
}
