// Package storage keeps job records and import envelopes in local JSON files.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/catalog-importer/internal/models"
)

var ErrJobNotFound = errors.New("job not found")

// JobFile is a file-backed job store for runs without a database. Every
// change rewrites the whole file.
type JobFile struct {
	mu       sync.RWMutex
	jobs     map[string]*models.JobRecord
	filename string
	now      func() time.Time
}

func NewJobFile(filename string) (*JobFile, error) {
	jf := &JobFile{
		jobs:     make(map[string]*models.JobRecord),
		filename: filename,
		now:      time.Now,
	}

	if err := jf.load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	return jf, nil
}

func (jf *JobFile) CreateJob(_ context.Context, job *models.JobRecord) error {
	jf.mu.Lock()
	defer jf.mu.Unlock()

	if job.ID == "" {
		return errors.New("job id is required")
	}
	if _, exists := jf.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}

	record := *job
	if record.Errors == nil {
		record.Errors = make([]models.JobError, 0)
	}
	jf.jobs[job.ID] = &record
	return jf.save()
}

func (jf *JobFile) UpdateProgress(_ context.Context, jobID string, progress models.JobProgress) error {
	jf.mu.Lock()
	defer jf.mu.Unlock()

	job, err := jf.running(jobID)
	if err != nil {
		return err
	}
	job.Progress = progress
	return jf.save()
}

func (jf *JobFile) CompleteJob(_ context.Context, jobID string, imp *models.Import, errs []models.JobError) error {
	jf.mu.Lock()
	defer jf.mu.Unlock()

	job, err := jf.running(jobID)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(imp)
	if err != nil {
		return fmt.Errorf("failed to marshal import: %w", err)
	}

	importID := uuid.NewString()
	completed := jf.now().UTC()
	job.Status = models.JobStatusCompleted
	job.ProductCount = len(imp.Products)
	job.Errors = append(make([]models.JobError, 0, len(errs)), errs...)
	job.ImportID = &importID
	job.Import = payload
	job.CompletedAt = &completed
	return jf.save()
}

func (jf *JobFile) FailJob(_ context.Context, jobID string, jobErr models.JobError) error {
	jf.mu.Lock()
	defer jf.mu.Unlock()

	job, exists := jf.jobs[jobID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	completed := jf.now().UTC()
	job.Status = models.JobStatusFailed
	job.Errors = append(job.Errors, jobErr)
	job.CompletedAt = &completed
	return jf.save()
}

func (jf *JobFile) GetJob(_ context.Context, jobID string) (*models.JobRecord, error) {
	jf.mu.RLock()
	defer jf.mu.RUnlock()

	job, exists := jf.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	record := *job
	return &record, nil
}

func (jf *JobFile) running(jobID string) (*models.JobRecord, error) {
	job, exists := jf.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status != models.JobStatusRunning {
		return nil, fmt.Errorf("job %s is %s", jobID, job.Status)
	}
	return job, nil
}

func (jf *JobFile) save() error {
	data, err := json.MarshalIndent(jf.jobs, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(jf.filename, data)
}

func (jf *JobFile) load() error {
	data, err := os.ReadFile(jf.filename)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &jf.jobs)
}

// WriteEnvelope writes imp as indented JSON to path, replacing any previous
// file only once the new content is fully written.
func WriteEnvelope(path string, imp *models.Import) error {
	if imp == nil {
		return errors.New("no import to write")
	}
	data, err := json.MarshalIndent(imp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal import: %w", err)
	}
	return writeAtomic(path, data)
}

// ReadEnvelope loads an envelope written by WriteEnvelope.
func ReadEnvelope(path string) (*models.Import, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var imp models.Import
	if err := json.Unmarshal(data, &imp); err != nil {
		return nil, fmt.Errorf("failed to decode import %s: %w", path, err)
	}
	return &imp, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}
