package pipeline

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/maltedev/catalog-importer/internal/models"
	"github.com/maltedev/catalog-importer/internal/scraper"
)

type MockJobStore struct {
	mock.Mock
}

func (m *MockJobStore) CreateJob(ctx context.Context, job *models.JobRecord) error {
	return m.Called(ctx, job).Error(0)
}

func (m *MockJobStore) UpdateProgress(ctx context.Context, jobID string, progress models.JobProgress) error {
	return m.Called(ctx, jobID, progress).Error(0)
}

func (m *MockJobStore) CompleteJob(ctx context.Context, jobID string, imp *models.Import, errs []models.JobError) error {
	return m.Called(ctx, jobID, imp, errs).Error(0)
}

func (m *MockJobStore) FailJob(ctx context.Context, jobID string, jobErr models.JobError) error {
	return m.Called(ctx, jobID, jobErr).Error(0)
}

type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Login(ctx context.Context, page scraper.Page, creds scraper.Credentials) error {
	return m.Called(ctx, page, creds).Error(0)
}

type MockWalker struct {
	mock.Mock
}

func (m *MockWalker) Walk(ctx context.Context, page scraper.Page, q scraper.ListingQuery) ([]models.RawListingItem, error) {
	args := m.Called(ctx, page, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RawListingItem), args.Error(1)
}

type MockVisitor struct {
	mock.Mock
}

func (m *MockVisitor) Visit(ctx context.Context, page scraper.Page, item models.RawListingItem) (*models.DetailFields, error) {
	args := m.Called(ctx, page, item)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.DetailFields), args.Error(1)
}

// stubSession hands out a nil page; the mocked collaborators never touch it.
type stubSession struct {
	mu     sync.Mutex
	closed int
}

func (s *stubSession) Page() scraper.Page { return nil }

func (s *stubSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// countingPacer records how it was used without sleeping.
type countingPacer struct {
	waits, successes, failures int
}

func (p *countingPacer) Wait(context.Context) error { p.waits++; return nil }
func (p *countingPacer) RecordSuccess()             { p.successes++ }
func (p *countingPacer) RecordError()               { p.failures++ }
