package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/maltedev/catalog-importer/internal/config"
	"github.com/maltedev/catalog-importer/internal/database"
	"github.com/maltedev/catalog-importer/internal/models"
	"github.com/maltedev/catalog-importer/internal/pipeline"
	"github.com/maltedev/catalog-importer/internal/storage"
	"github.com/maltedev/catalog-importer/pkg/logger"
)

func main() {
	var (
		mode     = flag.String("mode", string(models.ModeFullCatalog), "Listing mode: full_catalog, category, brand, search")
		filter   = flag.String("filter", "", "Category, brand or search term for the chosen mode")
		target   = flag.Int("target", 50, "Number of catalog items to import")
		out      = flag.String("out", "", "Write the import envelope to this JSON file")
		jobsFile = flag.String("jobs-file", "", "Record the job in this JSON file instead of the database")
		headless = flag.Bool("headless", true, "Run browser in headless mode")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	cfg.Browser.Headless = *headless && cfg.Browser.Headless

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	// a signal fails the running job; the failure is still recorded
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store pipeline.JobStore
	if *jobsFile != "" {
		jf, err := storage.NewJobFile(*jobsFile)
		if err != nil {
			logger.Error("Failed to open jobs file", "path", *jobsFile, "error", err)
			os.Exit(1)
		}
		store = jf
	} else {
		dbCfg := cfg.Database.Database()
		if cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx, dbCfg); err != nil {
				logger.Error("Failed to run migrations", "error", err)
				os.Exit(1)
			}
		}
		db, err := database.New(ctx, dbCfg)
		if err != nil {
			logger.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = database.NewJobStore(db)
	}

	orchestrator := pipeline.FromConfig(cfg, store, logger)

	jobMode, _ := models.ParseJobMode(*mode)
	if jobMode == "" {
		jobMode = models.JobMode(*mode)
	}

	logger.Info("Starting import job", "mode", jobMode, "filter", *filter, "target", *target)

	summary, runErr := orchestrator.Run(ctx, pipeline.Request{
		Credentials: cfg.Site.Credentials(),
		Mode:        jobMode,
		Filter:      *filter,
		TargetCount: *target,
	})

	if runErr == nil && *out != "" {
		if err := storage.WriteEnvelope(*out, summary.Import); err != nil {
			logger.Error("Failed to write import envelope", "path", *out, "error", err)
			os.Exit(1)
		}
		logger.Info("Import envelope written", "path", *out)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	if runErr != nil {
		os.Exit(1)
	}
}
