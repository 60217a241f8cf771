package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/catalog-importer/internal/ratelimit"
)

// Credentials for the catalog account.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.Username) == "" || c.Password == ""
}

type Authenticator struct {
	site         Site
	selectors    Selectors
	formTimeout  time.Duration
	loginTimeout time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewAuthenticator(site Site, selectors Selectors, timeout time.Duration, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		site:         site,
		selectors:    selectors,
		formTimeout:  timeout,
		loginTimeout: timeout,
		pollInterval: 250 * time.Millisecond,
		logger:       logger.With("component", "authenticator"),
	}
}

// Login signs in on page. It fails with ErrAuthentication when the browser is
// still on the login surface afterwards or lands on a foreign host.
func (a *Authenticator) Login(ctx context.Context, page Page, creds Credentials) error {
	if creds.Empty() {
		return fmt.Errorf("%w: missing credentials", ErrAuthentication)
	}

	loginURL, err := a.site.LoginURL()
	if err != nil {
		return err
	}

	a.logger.Info("signing in", "url", loginURL)
	if err := page.Goto(ctx, loginURL); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthentication, navigationError(loginURL, err))
	}

	if err := page.WaitForSelector(a.selectors.Username, a.formTimeout); err != nil {
		return fmt.Errorf("%w: login form not rendered: %w", ErrAuthentication, err)
	}
	if err := page.Fill(a.selectors.Username, creds.Username); err != nil {
		return fmt.Errorf("%w: fill username: %w", ErrAuthentication, err)
	}
	if err := page.Fill(a.selectors.Password, creds.Password); err != nil {
		return fmt.Errorf("%w: fill password: %w", ErrAuthentication, err)
	}
	if err := page.Click(a.selectors.Submit); err != nil {
		return fmt.Errorf("%w: submit: %w", ErrAuthentication, err)
	}

	landed, err := a.waitForRedirect(ctx, page)
	if err != nil {
		return err
	}

	if a.site.IsLoginURL(landed) {
		return fmt.Errorf("%w: still on login page", ErrAuthentication)
	}
	if !a.site.OnExpectedHost(landed) {
		return fmt.Errorf("%w: landed on unexpected host %s", ErrAuthentication, landed)
	}

	a.logger.Info("signed in", "url", landed)
	return nil
}

// waitForRedirect polls until the page leaves the login path or the login
// timeout elapses, and returns the final URL.
func (a *Authenticator) waitForRedirect(ctx context.Context, page Page) (string, error) {
	deadline := time.Now().Add(a.loginTimeout)
	for {
		current := page.URL()
		if !a.site.IsLoginURL(current) || time.Now().After(deadline) {
			return current, nil
		}
		if err := ratelimit.Sleep(ctx, a.pollInterval); err != nil {
			return current, fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
	}
}
