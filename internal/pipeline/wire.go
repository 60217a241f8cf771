package pipeline

import (
	"log/slog"

	"github.com/maltedev/catalog-importer/internal/config"
	"github.com/maltedev/catalog-importer/internal/scraper"
	"github.com/maltedev/catalog-importer/internal/validator"
)

// FromConfig assembles an orchestrator that drives a real browser against the
// configured site and records jobs in store.
func FromConfig(cfg *config.Config, store JobStore, logger *slog.Logger) *Orchestrator {
	site := cfg.Site.Scraper()
	selectors := scraper.DefaultSelectors()
	pacer := cfg.Job.Pacer()
	v := validator.Default()

	return New(Deps{
		Sessions:  BrowserSessions(cfg.Browser.Options(), logger),
		Auth:      scraper.NewAuthenticator(site, selectors, cfg.Job.AuthTimeout, logger),
		Walker:    scraper.NewCatalogWalker(site, selectors, cfg.Job.WalkerOptions(), pacer, logger),
		Visitor:   scraper.NewDetailVisitor(site, selectors, cfg.Job.VisitBudget, logger),
		Store:     store,
		Pacer:     pacer,
		Converter: NewConverter(v, cfg.Job.ValidationPenalty, logger),
		Validator: v,
		Logger:    logger,
	}, Options{
		MaxItems:            cfg.Job.MaxItems,
		ConfidenceThreshold: cfg.Job.ConfidenceThreshold,
		FailureTimeout:      cfg.Job.FailureTimeout,
	})
}
