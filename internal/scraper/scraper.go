// Package scraper drives the supplier's web catalog: it signs in, walks the
// filtered listing and visits each product's detail page. All browser access
// goes through the Page interface so the crawl logic can run against fakes.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/maltedev/catalog-importer/internal/browser"
	"github.com/maltedev/catalog-importer/internal/models"
)

var (
	ErrAuthentication    = errors.New("authentication failed")
	ErrAuthLost          = errors.New("session lost authentication")
	ErrNavigationTimeout = errors.New("navigation timed out")
	ErrExtraction        = errors.New("extraction failed")
	ErrInvalidQuery      = errors.New("invalid listing query")
)

// Page is the subset of a browser tab the crawl needs. Selector based calls
// act on the first matching element.
type Page interface {
	Goto(ctx context.Context, url string) error
	URL() string
	Content() (string, error)
	WaitForSelector(selector string, timeout time.Duration) error
	Count(selector string) (int, error)
	Attribute(selector, name string) (string, bool, error)
	Fill(selector, value string) error
	Click(selector string) error
	Evaluate(script string, arg interface{}) (interface{}, error)
	// HumanizeInteraction moves the pointer and scrolls a little.
	HumanizeInteraction(ctx context.Context) error
}

// Site describes where the catalog lives.
type Site struct {
	BaseURL      string
	LoginPath    string
	ListingPath  string
	SearchPath   string
	ExpectedHost string
}

// Selectors are the CSS selectors for the fixed parts of the site.
type Selectors struct {
	Username      string
	Password      string
	Submit        string
	ListingReady  string
	RevealMore    []string
	Heading       string
	DisclosureKey string
}

func DefaultSelectors() Selectors {
	return Selectors{
		Username:     `input[type="email"], input[name="email"], input[name="username"]`,
		Password:     `input[type="password"]`,
		Submit:       `button[type="submit"], input[type="submit"]`,
		ListingReady: `[data-testid="product-card"], .product-card, [class*="product-tile"], article a[href], li img`,
		RevealMore: []string{
			`[data-testid="load-more"]`,
			`button.load-more`,
			`button:has-text("Load More")`,
			`button:has-text("Show More")`,
			`a[rel="next"]`,
		},
		Heading:       `h1`,
		DisclosureKey: `data-disclosure-key`,
	}
}

// ListingQuery selects which slice of the catalog to walk.
type ListingQuery struct {
	Mode   models.JobMode
	Filter string
	Target int
}

// Validate checks the mode and that a filter accompanies every mode but
// full_catalog.
func (q ListingQuery) Validate() error {
	if _, ok := models.ParseJobMode(string(q.Mode)); !ok {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, q.Mode)
	}
	if q.Mode != models.ModeFullCatalog && strings.TrimSpace(q.Filter) == "" {
		return fmt.Errorf("%w: mode %s requires a filter", ErrInvalidQuery, q.Mode)
	}
	if q.Target < 1 {
		return fmt.Errorf("%w: target must be positive", ErrInvalidQuery)
	}
	return nil
}

// ListingURL builds the entry URL for a query.
func (s Site) ListingURL(q ListingQuery) (string, error) {
	if err := q.Validate(); err != nil {
		return "", err
	}

	filter := strings.TrimSpace(q.Filter)
	switch q.Mode {
	case models.ModeFullCatalog:
		return s.resolve(s.ListingPath, nil)
	case models.ModeCategory:
		return s.resolve(s.ListingPath, url.Values{"category": {filter}})
	case models.ModeBrand:
		return s.resolve(s.ListingPath, url.Values{"brand": {filter}})
	default:
		return s.resolve(s.SearchPath, url.Values{"q": {filter}})
	}
}

// LoginURL is the absolute sign-in URL.
func (s Site) LoginURL() (string, error) {
	return s.resolve(s.LoginPath, nil)
}

func (s Site) resolve(path string, query url.Values) (string, error) {
	base, err := url.Parse(s.BaseURL)
	if err != nil || base.Host == "" {
		return "", fmt.Errorf("%w: bad base url %q", ErrInvalidQuery, s.BaseURL)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("%w: bad path %q", ErrInvalidQuery, path)
	}
	u := base.ResolveReference(ref)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// IsLoginURL reports whether raw points at the sign-in surface.
func (s Site) IsLoginURL(raw string) bool {
	if s.LoginPath == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	login := strings.TrimSuffix(s.LoginPath, "/")
	if login == "" {
		return false
	}
	return u.Path == login || strings.HasPrefix(u.Path, login+"/")
}

// OnExpectedHost reports whether raw is served by the catalog host.
func (s Site) OnExpectedHost(raw string) bool {
	host := s.ExpectedHost
	if host == "" {
		if base, err := url.Parse(s.BaseURL); err == nil {
			host = base.Hostname()
		}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), host)
}

// isTimeout reports whether err came from a browser or context deadline.
func isTimeout(err error) bool {
	return errors.Is(err, browser.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// navigationError classifies a failed Goto.
func navigationError(target string, err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %s: %w", ErrNavigationTimeout, target, err)
	}
	return fmt.Errorf("navigate to %s: %w", target, err)
}
