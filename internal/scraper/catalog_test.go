package scraper

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-importer/internal/browser"
	"github.com/maltedev/catalog-importer/internal/models"
)

func productCards(brand string, from, to int) string {
	var b strings.Builder
	for i := from; i <= to; i++ {
		fmt.Fprintf(&b, `<div data-testid="product-card">
			<a href="/products/%d"><img src="/img/%d.jpg" alt="Product %d"></a>
			<span data-testid="product-brand">%s</span>
			<h3 data-testid="product-name">Product %d</h3>
			<span data-testid="package-label">60 Capsules</span>
		</div>`, i, i, i, brand, i)
	}
	return b.String()
}

func listingPage(cards string, withReveal bool) string {
	reveal := ""
	if withReveal {
		reveal = `<button data-testid="load-more">Load More</button>`
	}
	return `<html><body><nav><ul><li><a href="/">Home</a></li></ul></nav><main>` + cards + reveal + `</main></body></html>`
}

// growingListing renders batch more cards after every reveal click.
func growingListing(brand string, batch, total int) *fakePage {
	shown := batch
	page := &fakePage{}
	page.content = func() string {
		return listingPage(productCards(brand, 1, shown), shown < total)
	}
	page.countFn = func(selector string) int {
		if selector == `[data-testid="load-more"]` && shown < total {
			return 1
		}
		return 0
	}
	page.clickFn = func(selector string) error {
		shown += batch
		if shown > total {
			shown = total
		}
		return nil
	}
	return page
}

func newTestWalker() *CatalogWalker {
	return NewCatalogWalker(testSite(), DefaultSelectors(), DefaultWalkerOptions(), nil, nil)
}

func TestWalkBrandStopsAtTarget(t *testing.T) {
	page := growingListing("Thorne", 3, 20)

	items, err := newTestWalker().Walk(context.Background(), page, ListingQuery{
		Mode: models.ModeBrand, Filter: "Thorne", Target: 5,
	})

	require.NoError(t, err)
	require.Len(t, items, 5)
	for i, item := range items {
		assert.Equal(t, "Thorne", item.Brand)
		assert.Equal(t, fmt.Sprintf("Product %d", i+1), item.ProductName)
		assert.Equal(t, fmt.Sprintf("https://shop.example.com/products/%d", i+1), item.DetailURL)
		assert.Equal(t, "60 Capsules", item.PackageLabel)
	}
	assert.Equal(t, []string{"https://shop.example.com/products?brand=Thorne"}, page.visited)
	assert.Len(t, page.clicks, 1, "one reveal round covers the target")
}

func TestWalkEndsWhenRevealControlIsGone(t *testing.T) {
	page := growingListing("Pure Encapsulations", 2, 4)

	items, err := newTestWalker().Walk(context.Background(), page, ListingQuery{
		Mode: models.ModeFullCatalog, Target: 50,
	})

	require.NoError(t, err)
	assert.Len(t, items, 4)
	assert.Len(t, page.clicks, 1)
	assert.Equal(t, len(page.clicks), page.humanized, "pointer moves before every reveal click")
}

func TestWalkSkipsDisabledRevealControl(t *testing.T) {
	page := growingListing("Thorne", 2, 10)
	page.attrFn = func(selector, name string) (string, bool) {
		if name == "aria-disabled" {
			return "true", true
		}
		return "", false
	}

	items, err := newTestWalker().Walk(context.Background(), page, ListingQuery{
		Mode: models.ModeFullCatalog, Target: 10,
	})

	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Empty(t, page.clicks)
}

func TestWalkFailsWhenSessionIsLost(t *testing.T) {
	page := growingListing("Thorne", 2, 10)
	page.clickFn = func(string) error {
		page.setURL("https://shop.example.com/login?expired=1")
		return nil
	}

	items, err := newTestWalker().Walk(context.Background(), page, ListingQuery{
		Mode: models.ModeFullCatalog, Target: 10,
	})

	require.ErrorIs(t, err, ErrAuthLost)
	assert.Len(t, items, 2)
}

func TestWalkRenderTimeoutYieldsNoItems(t *testing.T) {
	page := growingListing("Thorne", 2, 2)
	page.waitFn = func(string) error {
		return fmt.Errorf("wait for listing: %w", browser.ErrTimeout)
	}

	items, err := newTestWalker().Walk(context.Background(), page, ListingQuery{
		Mode: models.ModeFullCatalog, Target: 10,
	})

	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestWalkInitialNavigationFailure(t *testing.T) {
	page := &fakePage{
		gotoFn: func(context.Context, string) error {
			return fmt.Errorf("goto: %w", browser.ErrTimeout)
		},
	}

	_, err := newTestWalker().Walk(context.Background(), page, ListingQuery{
		Mode: models.ModeFullCatalog, Target: 10,
	})

	assert.ErrorIs(t, err, ErrNavigationTimeout)
}

func TestWalkRejectsInvalidQuery(t *testing.T) {
	_, err := newTestWalker().Walk(context.Background(), &fakePage{}, ListingQuery{
		Mode: models.ModeCategory, Target: 10,
	})

	assert.ErrorIs(t, err, ErrInvalidQuery)
}
