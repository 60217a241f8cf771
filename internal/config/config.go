package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maltedev/catalog-importer/internal/browser"
	"github.com/maltedev/catalog-importer/internal/database"
	"github.com/maltedev/catalog-importer/internal/ratelimit"
	"github.com/maltedev/catalog-importer/internal/scraper"
)

type Config struct {
	Server   ServerConfig
	Site     SiteConfig
	Browser  BrowserConfig
	Job      JobConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

type SiteConfig struct {
	BaseURL      string
	LoginPath    string
	ListingPath  string
	SearchPath   string
	ExpectedHost string
	Username     string
	Password     string
}

type BrowserConfig struct {
	Headless          bool
	Timeout           time.Duration
	ViewportWidth     int
	ViewportHeight    int
	AcceptLanguage    string
	TimezoneID        string
	Locale            string
	UserAgent         string
	ProxyServer       string
	NavigationRetries int
}

type JobConfig struct {
	MinDelay            time.Duration
	MaxDelay            time.Duration
	VisitBudget         time.Duration
	AuthTimeout         time.Duration
	RoundTimeout        time.Duration
	FailureTimeout      time.Duration
	MaxItems            int
	MaxRounds           int
	MaxStaleRounds      int
	ConfidenceThreshold float64
	ValidationPenalty   float64
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	MaxConns    int
	MinConns    int
	AutoMigrate bool
}

type RedisConfig struct {
	Enabled       bool
	Addr          string
	Password      string
	DB            int
	RelayInterval time.Duration
	RelayBatch    int
	StreamMaxLen  int
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvOrDefault("SERVER_PORT", "8080"),
			Host:        getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout: getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			// the trigger answers only after the job finishes
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 2*time.Hour),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Site: SiteConfig{
			BaseURL:      getEnvOrDefault("SITE_BASE_URL", ""),
			LoginPath:    getEnvOrDefault("SITE_LOGIN_PATH", "/login"),
			ListingPath:  getEnvOrDefault("SITE_LISTING_PATH", "/products"),
			SearchPath:   getEnvOrDefault("SITE_SEARCH_PATH", "/search"),
			ExpectedHost: getEnvOrDefault("SITE_EXPECTED_HOST", ""),
			Username:     getEnvOrDefault("SITE_USERNAME", ""),
			Password:     getEnvOrDefault("SITE_PASSWORD", ""),
		},
		Browser: BrowserConfig{
			Headless:          getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:           getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:     getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight:    getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage:    getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:        getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:            getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			UserAgent:         getEnvOrDefault("BROWSER_USER_AGENT", ""),
			ProxyServer:       getEnvOrDefault("BROWSER_PROXY", ""),
			NavigationRetries: getIntOrDefault("BROWSER_NAVIGATION_RETRIES", 3),
		},
		Job: JobConfig{
			MinDelay:            getDurationOrDefault("JOB_MIN_DELAY", 1*time.Second),
			MaxDelay:            getDurationOrDefault("JOB_MAX_DELAY", 3*time.Second),
			VisitBudget:         getDurationOrDefault("JOB_VISIT_BUDGET", scraper.DefaultVisitBudget),
			AuthTimeout:         getDurationOrDefault("JOB_AUTH_TIMEOUT", 30*time.Second),
			RoundTimeout:        getDurationOrDefault("JOB_ROUND_TIMEOUT", 15*time.Second),
			FailureTimeout:      getDurationOrDefault("JOB_FAILURE_TIMEOUT", 10*time.Second),
			MaxItems:            getIntOrDefault("JOB_MAX_ITEMS", 500),
			MaxRounds:           getIntOrDefault("JOB_MAX_ROUNDS", 60),
			MaxStaleRounds:      getIntOrDefault("JOB_MAX_STALE_ROUNDS", 3),
			ConfidenceThreshold: getFloatOrDefault("JOB_CONFIDENCE_THRESHOLD", 0.7),
			ValidationPenalty:   getFloatOrDefault("JOB_VALIDATION_PENALTY", 0.20),
		},
		Database: DatabaseConfig{
			Host:        getEnvOrDefault("DB_HOST", "localhost"),
			Port:        getIntOrDefault("DB_PORT", 5432),
			User:        getEnvOrDefault("DB_USER", "postgres"),
			Password:    getEnvOrDefault("DB_PASSWORD", ""),
			DBName:      getEnvOrDefault("DB_NAME", "catalog_importer"),
			SSLMode:     getEnvOrDefault("DB_SSL_MODE", "disable"),
			MaxConns:    getIntOrDefault("DB_MAX_CONNS", 10),
			MinConns:    getIntOrDefault("DB_MIN_CONNS", 1),
			AutoMigrate: getBoolOrDefault("DB_AUTO_MIGRATE", true),
		},
		Redis: RedisConfig{
			Enabled:       getBoolOrDefault("REDIS_ENABLED", true),
			Addr:          getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password:      getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:            getIntOrDefault("REDIS_DB", 0),
			RelayInterval: getDurationOrDefault("RELAY_POLL_INTERVAL", 5*time.Second),
			RelayBatch:    getIntOrDefault("RELAY_BATCH_SIZE", 100),
			StreamMaxLen:  getIntOrDefault("REDIS_STREAM_MAXLEN", 10000),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Site.BaseURL == "" {
		errs = append(errs, errors.New("SITE_BASE_URL is required"))
	} else if u, err := url.Parse(c.Site.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("SITE_BASE_URL %q is not an absolute URL", c.Site.BaseURL))
	}

	if c.Job.MinDelay > c.Job.MaxDelay {
		errs = append(errs, errors.New("JOB_MIN_DELAY cannot be greater than JOB_MAX_DELAY"))
	}
	if c.Job.MaxItems < 1 {
		errs = append(errs, errors.New("JOB_MAX_ITEMS must be at least 1"))
	}
	if c.Job.VisitBudget <= 0 {
		errs = append(errs, errors.New("JOB_VISIT_BUDGET must be positive"))
	}
	if c.Job.ConfidenceThreshold < 0 || c.Job.ConfidenceThreshold > 1 {
		errs = append(errs, errors.New("JOB_CONFIDENCE_THRESHOLD must be within [0,1]"))
	}
	if c.Job.ValidationPenalty < 0 || c.Job.ValidationPenalty > 1 {
		errs = append(errs, errors.New("JOB_VALIDATION_PENALTY must be within [0,1]"))
	}
	if c.Browser.NavigationRetries < 1 {
		errs = append(errs, errors.New("BROWSER_NAVIGATION_RETRIES must be at least 1"))
	}

	return errors.Join(errs...)
}

// Scraper returns the site layout. The expected host defaults to the base
// URL's host.
func (s SiteConfig) Scraper() scraper.Site {
	host := s.ExpectedHost
	if host == "" {
		if u, err := url.Parse(s.BaseURL); err == nil {
			host = u.Hostname()
		}
	}
	return scraper.Site{
		BaseURL:      strings.TrimRight(s.BaseURL, "/"),
		LoginPath:    s.LoginPath,
		ListingPath:  s.ListingPath,
		SearchPath:   s.SearchPath,
		ExpectedHost: host,
	}
}

func (s SiteConfig) Credentials() scraper.Credentials {
	return scraper.Credentials{Username: s.Username, Password: s.Password}
}

// Options layers the configured values over the browser defaults.
func (b BrowserConfig) Options() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = b.Headless
	opts.Timeout = b.Timeout
	opts.ViewportWidth = b.ViewportWidth
	opts.ViewportHeight = b.ViewportHeight
	opts.AcceptLanguage = b.AcceptLanguage
	opts.TimezoneID = b.TimezoneID
	opts.Locale = b.Locale
	opts.ProxyServer = b.ProxyServer
	opts.NavigationRetries = b.NavigationRetries
	if b.UserAgent != "" {
		opts.UserAgent = b.UserAgent
	}
	return opts
}

func (j JobConfig) WalkerOptions() scraper.WalkerOptions {
	return scraper.WalkerOptions{
		RoundTimeout:   j.RoundTimeout,
		MaxRounds:      j.MaxRounds,
		MaxStaleRounds: j.MaxStaleRounds,
	}
}

// Pacer builds the adaptive limiter shared by the walker and the detail loop.
func (j JobConfig) Pacer() *ratelimit.AdaptiveRateLimiter {
	return ratelimit.NewAdaptiveRateLimiter(j.MinDelay, j.MaxDelay)
}

func (d DatabaseConfig) Database() database.Config {
	return database.Config{
		Host:        d.Host,
		Port:        d.Port,
		User:        d.User,
		Password:    d.Password,
		Database:    d.DBName,
		SSLMode:     d.SSLMode,
		MaxConns:    int32(d.MaxConns),
		MinConns:    int32(d.MinConns),
		MaxConnLife: time.Hour,
		MaxConnIdle: 30 * time.Minute,
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
