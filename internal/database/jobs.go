package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/catalog-importer/internal/models"
)

// JobStore keeps import job records and their persisted envelopes. Terminal
// transitions enqueue an outbox event in the same transaction.
type JobStore struct {
	db     *DB
	outbox *OutboxRepository
	now    func() time.Time
}

func NewJobStore(db *DB) *JobStore {
	return &JobStore{
		db:     db,
		outbox: NewOutboxRepository(db),
		now:    time.Now,
	}
}

func (s *JobStore) CreateJob(ctx context.Context, job *models.JobRecord) error {
	errs, err := marshalErrors(job.Errors)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO import_jobs (
			id, status, mode, filter, target_count,
			items_found, items_processed, items_failed,
			product_count, errors, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = s.db.pool.Exec(ctx, query,
		job.ID, job.Status, job.Mode, job.Filter, job.TargetCount,
		job.Progress.ItemsFound, job.Progress.ItemsProcessed, job.Progress.ItemsFailed,
		job.ProductCount, errs, job.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *JobStore) UpdateProgress(ctx context.Context, jobID string, progress models.JobProgress) error {
	query := `
		UPDATE import_jobs
		SET items_found = $1, items_processed = $2, items_failed = $3
		WHERE id = $4 AND status = $5`

	result, err := s.db.pool.Exec(ctx, query,
		progress.ItemsFound, progress.ItemsProcessed, progress.ItemsFailed,
		jobID, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("running job %s: %w", jobID, ErrNotFound)
	}
	return nil
}

// CompleteJob stores the envelope, marks the job completed and enqueues
// IMPORT_COMPLETED atomically.
func (s *JobStore) CompleteJob(ctx context.Context, jobID string, imp *models.Import, jobErrs []models.JobError) error {
	payload, err := json.Marshal(imp)
	if err != nil {
		return fmt.Errorf("failed to marshal import: %w", err)
	}
	errs, err := marshalErrors(jobErrs)
	if err != nil {
		return err
	}

	importID := uuid.New()
	now := s.now().UTC()

	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO product_imports (id, job_id, payload, product_count, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			importID, jobID, payload, len(imp.Products), now)
		if err != nil {
			return fmt.Errorf("failed to insert import: %w", err)
		}

		var mode, filter string
		err = tx.QueryRow(ctx, `
			UPDATE import_jobs
			SET status = $1, product_count = $2, errors = $3, completed_at = $4
			WHERE id = $5
			RETURNING mode, filter`,
			models.JobStatusCompleted, len(imp.Products), errs, now, jobID).Scan(&mode, &filter)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to complete job: %w", err)
		}

		return s.enqueue(ctx, tx, EventImportCompleted, ImportEventPayload{
			JobID:        jobID,
			ImportID:     importID.String(),
			Status:       string(models.JobStatusCompleted),
			Mode:         mode,
			Filter:       filter,
			ProductCount: len(imp.Products),
			ErrorCount:   len(jobErrs),
			OccurredAt:   now,
		})
	})
}

// FailJob appends jobErr to the job's errors, marks it failed and enqueues
// IMPORT_FAILED.
func (s *JobStore) FailJob(ctx context.Context, jobID string, jobErr models.JobError) error {
	entry, err := json.Marshal([]models.JobError{jobErr})
	if err != nil {
		return fmt.Errorf("failed to marshal job error: %w", err)
	}
	now := s.now().UTC()

	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		var mode, filter string
		var errorCount int
		err := tx.QueryRow(ctx, `
			UPDATE import_jobs
			SET status = $1, errors = errors || $2::jsonb, completed_at = $3
			WHERE id = $4
			RETURNING mode, filter, jsonb_array_length(errors)`,
			models.JobStatusFailed, entry, now, jobID).Scan(&mode, &filter, &errorCount)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to mark job failed: %w", err)
		}

		return s.enqueue(ctx, tx, EventImportFailed, ImportEventPayload{
			JobID:      jobID,
			Status:     string(models.JobStatusFailed),
			Mode:       mode,
			Filter:     filter,
			ErrorCount: errorCount,
			Stage:      jobErr.Stage,
			Reason:     jobErr.Message,
			OccurredAt: now,
		})
	})
}

// GetJob returns the stored record including the envelope of a completed job.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}

	query := `
		SELECT
			j.id, j.status, j.mode, j.filter, j.target_count,
			j.items_found, j.items_processed, j.items_failed,
			j.product_count, j.errors, j.started_at, j.completed_at,
			i.id, i.payload
		FROM import_jobs j
		LEFT JOIN product_imports i ON i.job_id = j.id
		WHERE j.id = $1`

	var (
		job      models.JobRecord
		id       uuid.UUID
		errs     []byte
		importID *uuid.UUID
		payload  []byte
	)
	err := s.db.pool.QueryRow(ctx, query, jobID).Scan(
		&id, &job.Status, &job.Mode, &job.Filter, &job.TargetCount,
		&job.Progress.ItemsFound, &job.Progress.ItemsProcessed, &job.Progress.ItemsFailed,
		&job.ProductCount, &errs, &job.StartedAt, &job.CompletedAt,
		&importID, &payload,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	job.ID = id.String()
	if err := json.Unmarshal(errs, &job.Errors); err != nil {
		return nil, fmt.Errorf("failed to decode job errors: %w", err)
	}
	if job.Errors == nil {
		job.Errors = make([]models.JobError, 0)
	}
	if importID != nil {
		v := importID.String()
		job.ImportID = &v
		job.Import = payload
	}
	return &job, nil
}

func (s *JobStore) enqueue(ctx context.Context, tx pgx.Tx, eventType string, payload ImportEventPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return s.outbox.InsertWithTx(ctx, tx, &OutboxEvent{
		AggregateType: AggregateImportJob,
		AggregateID:   payload.JobID,
		EventType:     eventType,
		Payload:       data,
		TargetStream:  StreamCatalogImports,
	})
}

func marshalErrors(errs []models.JobError) ([]byte, error) {
	if errs == nil {
		errs = make([]models.JobError, 0)
	}
	data, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job errors: %w", err)
	}
	return data, nil
}
