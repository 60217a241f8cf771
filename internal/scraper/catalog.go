package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/catalog-importer/internal/models"
)

// Delayer paces consecutive browser steps.
type Delayer interface {
	Wait(ctx context.Context) error
}

type WalkerOptions struct {
	RoundTimeout   time.Duration
	MaxRounds      int
	MaxStaleRounds int
}

func DefaultWalkerOptions() WalkerOptions {
	return WalkerOptions{
		RoundTimeout:   15 * time.Second,
		MaxRounds:      60,
		MaxStaleRounds: 3,
	}
}

type CatalogWalker struct {
	site      Site
	selectors Selectors
	opts      WalkerOptions
	delay     Delayer
	logger    *slog.Logger
}

func NewCatalogWalker(site Site, selectors Selectors, opts WalkerOptions, delay Delayer, logger *slog.Logger) *CatalogWalker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxStaleRounds < 1 {
		opts.MaxStaleRounds = 1
	}
	if opts.MaxRounds < 1 {
		opts.MaxRounds = 1
	}
	return &CatalogWalker{
		site:      site,
		selectors: selectors,
		opts:      opts,
		delay:     delay,
		logger:    logger.With("component", "catalog_walker"),
	}
}

// Walk opens the listing for q and collects at most q.Target items in listing
// order, clicking the reveal control until the target is met or the control
// is gone. A round that fails to render contributes no items; only a failed
// initial navigation or a redirect to the login page aborts the walk.
func (w *CatalogWalker) Walk(ctx context.Context, page Page, q ListingQuery) ([]models.RawListingItem, error) {
	listingURL, err := w.site.ListingURL(q)
	if err != nil {
		return nil, err
	}

	log := w.logger.With("mode", q.Mode, "filter", q.Filter, "target", q.Target)
	log.Info("opening listing", "url", listingURL)

	if err := page.Goto(ctx, listingURL); err != nil {
		return nil, navigationError(listingURL, err)
	}

	items := newItemSet(q.Target)
	stale := 0

	for round := 1; round <= w.opts.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			return items.list(), err
		}
		if w.site.IsLoginURL(page.URL()) {
			return items.list(), fmt.Errorf("%w: redirected to login while walking listing", ErrAuthLost)
		}

		added := w.readRound(page, items, log.With("round", round))
		log.Debug("listing round", "round", round, "added", added, "total", items.len())

		if items.full() {
			break
		}

		if added == 0 {
			stale++
			if stale >= w.opts.MaxStaleRounds {
				log.Info("listing stopped growing", "rounds", stale)
				break
			}
		} else {
			stale = 0
		}

		control, ok := w.revealControl(page)
		if !ok {
			log.Info("no reveal control, listing exhausted")
			break
		}
		if err := page.HumanizeInteraction(ctx); err != nil {
			if ctx.Err() != nil {
				return items.list(), ctx.Err()
			}
			log.Debug("pointer movement failed", "error", err)
		}
		if err := page.Click(control); err != nil {
			log.Warn("reveal click failed", "selector", control, "error", err)
			break
		}
		if w.delay != nil {
			if err := w.delay.Wait(ctx); err != nil {
				return items.list(), err
			}
		}
	}

	if w.site.IsLoginURL(page.URL()) {
		return items.list(), fmt.Errorf("%w: redirected to login while walking listing", ErrAuthLost)
	}

	log.Info("listing walked", "items", items.len())
	return items.list(), nil
}

// readRound parses the rendered listing and returns how many new items it
// contributed.
func (w *CatalogWalker) readRound(page Page, items *itemSet, log *slog.Logger) int {
	if err := page.WaitForSelector(w.selectors.ListingReady, w.opts.RoundTimeout); err != nil {
		log.Warn("listing did not render", "error", err)
		return 0
	}

	html, err := page.Content()
	if err != nil {
		log.Warn("failed to read listing content", "error", err)
		return 0
	}

	added := 0
	for _, item := range ParseListing(html, page.URL()) {
		if items.full() {
			break
		}
		if items.add(item) {
			added++
		}
	}
	return added
}

// revealControl returns the first enabled "load more" selector.
func (w *CatalogWalker) revealControl(page Page) (string, bool) {
	for _, selector := range w.selectors.RevealMore {
		n, err := page.Count(selector)
		if err != nil || n == 0 {
			continue
		}
		if _, disabled, err := page.Attribute(selector, "disabled"); err == nil && disabled {
			continue
		}
		if v, ok, err := page.Attribute(selector, "aria-disabled"); err == nil && ok && v == "true" {
			continue
		}
		return selector, true
	}
	return "", false
}

// itemSet keeps listing items unique and in first-seen order.
type itemSet struct {
	limit int
	seen  map[string]bool
	items []models.RawListingItem
}

func newItemSet(limit int) *itemSet {
	return &itemSet{limit: limit, seen: make(map[string]bool)}
}

func (s *itemSet) add(item models.RawListingItem) bool {
	key := item.DetailURL
	if key == "" {
		key = item.Brand + "\x00" + item.ProductName + "\x00" + item.ThumbnailURL
	}
	if s.seen[key] {
		return false
	}
	s.seen[key] = true
	s.items = append(s.items, item)
	return true
}

func (s *itemSet) full() bool {
	return s.limit > 0 && len(s.items) >= s.limit
}

func (s *itemSet) len() int {
	return len(s.items)
}

func (s *itemSet) list() []models.RawListingItem {
	return s.items
}
