package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/catalog-importer/internal/models"
	"github.com/maltedev/catalog-importer/internal/parser"
)

const DefaultVisitBudget = 45 * time.Second

type DetailVisitor struct {
	site           Site
	selectors      Selectors
	budget         time.Duration
	headingTimeout time.Duration
	logger         *slog.Logger
}

func NewDetailVisitor(site Site, selectors Selectors, budget time.Duration, logger *slog.Logger) *DetailVisitor {
	if logger == nil {
		logger = slog.Default()
	}
	if budget <= 0 {
		budget = DefaultVisitBudget
	}
	return &DetailVisitor{
		site:           site,
		selectors:      selectors,
		budget:         budget,
		headingTimeout: budget / 3,
		logger:         logger.With("component", "detail_visitor"),
	}
}

// Visit reads the detail page of item within the visit budget. Individual
// disclosures that fail come back empty; an error means the visit as a whole
// produced nothing usable.
//
// Page calls are bounded by the browser's operation timeout and the budget is
// checked between them, so no page work outlives Visit.
func (v *DetailVisitor) Visit(ctx context.Context, page Page, item models.RawListingItem) (*models.DetailFields, error) {
	if item.DetailURL == "" {
		return nil, fmt.Errorf("%w: %q has no detail link", ErrExtraction, item.ProductName)
	}

	visitCtx, cancel := context.WithTimeout(ctx, v.budget)
	defer cancel()

	fields, err := v.visit(visitCtx, page, item)
	if visitCtx.Err() != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: visit of %s exceeded %s", ErrNavigationTimeout, item.DetailURL, v.budget)
	}
	return fields, err
}

func (v *DetailVisitor) visit(ctx context.Context, page Page, item models.RawListingItem) (*models.DetailFields, error) {
	log := v.logger.With("url", item.DetailURL)

	if err := page.Goto(ctx, item.DetailURL); err != nil {
		return nil, navigationError(item.DetailURL, err)
	}
	if v.site.IsLoginURL(page.URL()) {
		return nil, fmt.Errorf("%w: redirected to login visiting %s", ErrAuthLost, item.DetailURL)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := page.WaitForSelector(v.selectors.Heading, v.headingTimeout); err != nil {
		log.Warn("product heading did not render", "error", err)
	}

	sections := make(map[string]string, len(disclosureLabels))
	for _, label := range disclosureLabels {
		html, err := v.readDisclosure(ctx, page, label)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return nil, err
			}
			log.Warn("disclosure extraction failed", "label", label, "error", err)
			continue
		}
		sections[label] = html
	}

	fields := &models.DetailFields{
		Description:         parser.StripTags(sections[LabelDescription]),
		Warnings:            parser.StripTags(sections[LabelWarnings]),
		Certifications:      parser.ParseCertifications(sections[LabelCertified]),
		DietaryRestrictions: parser.ParseDietaryTags(sections[LabelDietary]),
		IngredientHTML:      sections[LabelMore],
	}
	if s := parser.ExtractSuggestedUse(sections[LabelMore]); s != nil {
		fields.SuggestedUse = *s
	}
	if s := parser.ExtractServingSize(sections[LabelMore]); s != nil {
		fields.ServingSize = *s
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if content, err := page.Content(); err != nil {
		log.Warn("failed to read page for label images", "error", err)
	} else {
		fields.FrontImageURL, fields.BackLabelImageURL = parser.ExtractLabelImages(content, page.URL(), item.ProductName)
	}

	return fields, nil
}
