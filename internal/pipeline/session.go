package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/maltedev/catalog-importer/internal/browser"
	"github.com/maltedev/catalog-importer/internal/scraper"
)

type browserSession struct {
	browser *browser.Browser
	page    *browser.Page
}

func (s *browserSession) Page() scraper.Page {
	return s.page
}

func (s *browserSession) Close() error {
	return errors.Join(s.page.Close(), s.browser.Close())
}

// BrowserSessions launches a fresh Chromium context and page per job.
func BrowserSessions(opts *browser.Options, logger *slog.Logger) SessionFactory {
	return func(ctx context.Context) (Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := browser.New(opts, logger)
		if err != nil {
			return nil, err
		}
		page, err := b.NewPage()
		if err != nil {
			b.Close()
			return nil, err
		}
		return &browserSession{browser: b, page: page}, nil
	}
}
