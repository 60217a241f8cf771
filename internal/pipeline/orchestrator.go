// Package pipeline runs one catalog import job end to end: sign in, walk the
// listing, visit every detail page, convert and persist the import envelope.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/catalog-importer/internal/models"
	"github.com/maltedev/catalog-importer/internal/scraper"
	"github.com/maltedev/catalog-importer/internal/validator"
)

var (
	ErrPersistence    = errors.New("persistence failed")
	ErrInvalidRequest = errors.New("invalid import request")
)

// State is a step of the job state machine.
type State string

const (
	StateCreated         State = "created"
	StateAuthenticating  State = "authenticating"
	StateWalkingCatalog  State = "walking-catalog"
	StateVisitingDetails State = "visiting-details"
	StateConverting      State = "converting"
	StatePersisting      State = "persisting"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// Session owns the single browser page of a job.
type Session interface {
	Page() scraper.Page
	Close() error
}

type SessionFactory func(ctx context.Context) (Session, error)

type Authenticator interface {
	Login(ctx context.Context, page scraper.Page, creds scraper.Credentials) error
}

type Walker interface {
	Walk(ctx context.Context, page scraper.Page, q scraper.ListingQuery) ([]models.RawListingItem, error)
}

type Visitor interface {
	Visit(ctx context.Context, page scraper.Page, item models.RawListingItem) (*models.DetailFields, error)
}

// JobStore persists the job record at start, during detail visits and at the end.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.JobRecord) error
	UpdateProgress(ctx context.Context, jobID string, progress models.JobProgress) error
	CompleteJob(ctx context.Context, jobID string, imp *models.Import, errs []models.JobError) error
	FailJob(ctx context.Context, jobID string, jobErr models.JobError) error
}

// Pacer spaces detail visits and adapts to failures.
type Pacer interface {
	Wait(ctx context.Context) error
	RecordSuccess()
	RecordError()
}

// Request triggers one job.
type Request struct {
	Credentials scraper.Credentials
	Mode        models.JobMode
	Filter      string
	TargetCount int
}

// Validate checks the request against the item ceiling.
func (r Request) Validate(maxItems int) error {
	if _, ok := models.ParseJobMode(string(r.Mode)); !ok {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, r.Mode)
	}
	if r.Mode != models.ModeFullCatalog && strings.TrimSpace(r.Filter) == "" {
		return fmt.Errorf("%w: mode %s requires a filter", ErrInvalidRequest, r.Mode)
	}
	if r.TargetCount < 1 || (maxItems > 0 && r.TargetCount > maxItems) {
		return fmt.Errorf("%w: target count must be between 1 and %d", ErrInvalidRequest, maxItems)
	}
	if r.Credentials.Empty() {
		return fmt.Errorf("%w: credentials are required", ErrInvalidRequest)
	}
	return nil
}

// Summary is what the trigger returns. Success stays true when individual
// items degraded; their problems are listed in Errors.
type Summary struct {
	Success   bool              `json:"success"`
	JobID     string            `json:"job_id,omitempty"`
	Status    models.JobStatus  `json:"status,omitempty"`
	ItemCount int               `json:"item_count"`
	Message   string            `json:"message"`
	Errors    []models.JobError `json:"errors"`

	Import *models.Import `json:"-"`
}

type Options struct {
	MaxItems            int
	ConfidenceThreshold float64
	FailureTimeout      time.Duration
}

type Deps struct {
	Sessions  SessionFactory
	Auth      Authenticator
	Walker    Walker
	Visitor   Visitor
	Store     JobStore
	Pacer     Pacer
	Converter *Converter
	Validator *validator.Validator
	Logger    *slog.Logger
}

type Orchestrator struct {
	deps   Deps
	opts   Options
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

func New(deps Deps, opts Options) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Validator == nil {
		deps.Validator = validator.Default()
	}
	if deps.Converter == nil {
		deps.Converter = NewConverter(deps.Validator, validator.Penalty, deps.Logger)
	}
	if opts.FailureTimeout <= 0 {
		opts.FailureTimeout = 10 * time.Second
	}
	return &Orchestrator{
		deps:   deps,
		opts:   opts,
		now:    time.Now,
		newID:  uuid.NewString,
		logger: deps.Logger.With("component", "orchestrator"),
	}
}

// job is the mutable state of one run.
type job struct {
	id       string
	state    State
	started  time.Time
	progress models.JobProgress
	errors   []models.JobError
	logger   *slog.Logger
}

func (o *Orchestrator) transition(j *job, next State) {
	j.logger.Info("job state", "from", j.state, "to", next)
	j.state = next
}

func (o *Orchestrator) note(j *job, url string, err error) {
	j.errors = append(j.errors, models.JobError{
		Stage:   string(j.state),
		Message: err.Error(),
		URL:     url,
		Time:    o.now().UTC(),
	})
}

// Run executes one job. The returned summary is always populated; the error
// is non-nil exactly when the job failed.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Summary, error) {
	if err := req.Validate(o.opts.MaxItems); err != nil {
		return &Summary{
			Success: false,
			Status:  models.JobStatusFailed,
			Message: err.Error(),
			Errors:  []models.JobError{{Stage: string(StateCreated), Message: err.Error(), Time: o.now().UTC()}},
		}, err
	}

	j := &job{
		id:      o.newID(),
		state:   StateCreated,
		started: o.now().UTC(),
		errors:  make([]models.JobError, 0),
	}
	j.logger = o.logger.With("job_id", j.id, "mode", req.Mode, "filter", req.Filter)

	record := &models.JobRecord{
		ID:          j.id,
		Status:      models.JobStatusRunning,
		Mode:        req.Mode,
		Filter:      req.Filter,
		TargetCount: req.TargetCount,
		Errors:      make([]models.JobError, 0),
		StartedAt:   j.started,
	}
	if err := o.deps.Store.CreateJob(ctx, record); err != nil {
		err = fmt.Errorf("%w: create job: %w", ErrPersistence, err)
		return o.fail(ctx, j, err), err
	}
	j.logger.Info("job created", "target", req.TargetCount)

	session, err := o.deps.Sessions(ctx)
	if err != nil {
		err = fmt.Errorf("open browser session: %w", err)
		return o.fail(ctx, j, err), err
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			j.logger.Warn("failed to close browser session", "error", cerr)
		}
	}()
	page := session.Page()

	o.transition(j, StateAuthenticating)
	if err := o.deps.Auth.Login(ctx, page, req.Credentials); err != nil {
		return o.fail(ctx, j, err), err
	}

	o.transition(j, StateWalkingCatalog)
	items, err := o.deps.Walker.Walk(ctx, page, scraper.ListingQuery{
		Mode:   req.Mode,
		Filter: req.Filter,
		Target: req.TargetCount,
	})
	if err != nil {
		return o.fail(ctx, j, err), err
	}
	j.progress.ItemsFound = len(items)
	o.updateProgress(ctx, j)

	o.transition(j, StateVisitingDetails)
	enriched, err := o.visitAll(ctx, j, page, items)
	if err != nil {
		return o.fail(ctx, j, err), err
	}

	o.transition(j, StateConverting)
	products, convErrs := o.deps.Converter.Convert(enriched, o.now())
	j.errors = append(j.errors, convErrs...)

	notes := fmt.Sprintf("mode=%s filter=%q target=%d found=%d failed_visits=%d",
		req.Mode, req.Filter, req.TargetCount, j.progress.ItemsFound, j.progress.ItemsFailed)
	imp := models.NewImport(products, o.opts.ConfidenceThreshold, notes, j.started)
	if res := o.deps.Validator.Envelope(imp); !res.Valid {
		err := fmt.Errorf("import envelope invalid: %w", res.Error())
		return o.fail(ctx, j, err), err
	}

	o.transition(j, StatePersisting)
	if err := o.deps.Store.CompleteJob(ctx, j.id, imp, j.errors); err != nil {
		err = fmt.Errorf("%w: complete job: %w", ErrPersistence, err)
		return o.fail(ctx, j, err), err
	}

	o.transition(j, StateCompleted)
	j.logger.Info("job completed",
		"products", len(products),
		"failed_visits", j.progress.ItemsFailed,
		"errors", len(j.errors),
		"duration", o.now().Sub(j.started),
	)

	return &Summary{
		Success:   true,
		JobID:     j.id,
		Status:    models.JobStatusCompleted,
		ItemCount: len(products),
		Message:   fmt.Sprintf("imported %d products", len(products)),
		Errors:    j.errors,
		Import:    imp,
	}, nil
}

// visitAll enriches items one at a time in listing order. A failed visit
// keeps the listing data; losing the session or the context ends the job.
func (o *Orchestrator) visitAll(ctx context.Context, j *job, page scraper.Page, items []models.RawListingItem) ([]models.DetailEnrichedItem, error) {
	enriched := make([]models.DetailEnrichedItem, 0, len(items))

	for i, item := range items {
		if i > 0 && o.deps.Pacer != nil {
			if err := o.deps.Pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}

		fields, err := o.deps.Visitor.Visit(ctx, page, item)
		switch {
		case err == nil:
			if o.deps.Pacer != nil {
				o.deps.Pacer.RecordSuccess()
			}
		case errors.Is(err, scraper.ErrAuthLost):
			return nil, err
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			j.logger.Warn("detail visit failed, keeping listing data", "url", item.DetailURL, "error", err)
			o.note(j, item.DetailURL, err)
			j.progress.ItemsFailed++
			fields = nil
			if o.deps.Pacer != nil {
				o.deps.Pacer.RecordError()
			}
		}

		enriched = append(enriched, models.Merge(item, fields))
		j.progress.ItemsProcessed++
		o.updateProgress(ctx, j)
	}

	return enriched, nil
}

func (o *Orchestrator) updateProgress(ctx context.Context, j *job) {
	if err := o.deps.Store.UpdateProgress(ctx, j.id, j.progress); err != nil {
		j.logger.Warn("failed to update job progress", "error", err)
	}
}

// fail records err as the job's fatal error and attempts one failure write.
func (o *Orchestrator) fail(ctx context.Context, j *job, err error) *Summary {
	jobErr := models.JobError{
		Stage:   string(j.state),
		Message: err.Error(),
		Time:    o.now().UTC(),
	}
	j.errors = append(j.errors, jobErr)
	j.logger.Error("job failed", "state", j.state, "error", err)
	j.state = StateFailed

	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.FailureTimeout)
	defer cancel()
	if ferr := o.deps.Store.FailJob(failCtx, j.id, jobErr); ferr != nil {
		j.logger.Error("failed to record job failure", "error", ferr)
	}

	return &Summary{
		Success: false,
		JobID:   j.id,
		Status:  models.JobStatusFailed,
		Message: err.Error(),
		Errors:  j.errors,
	}
}
