package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-importer/internal/database"
	"github.com/maltedev/catalog-importer/internal/models"
	"github.com/maltedev/catalog-importer/internal/pipeline"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, req pipeline.Request) (*pipeline.Summary, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(*pipeline.Summary), args.Error(1)
}

type MockJobReader struct {
	mock.Mock
}

func (m *MockJobReader) GetJob(ctx context.Context, jobID string) (*models.JobRecord, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.JobRecord), args.Error(1)
}

// blockingRunner holds the first Run call until release is closed.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRunner) Run(ctx context.Context, req pipeline.Request) (*pipeline.Summary, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return &pipeline.Summary{Success: true, JobID: "job-1", Status: models.JobStatusCompleted}, nil
}

func newTestServer(runner Runner, jobs JobReader, backlog BacklogFunc) *httptest.Server {
	logger := slog.Default()
	h := NewHandlers(runner, jobs, backlog, "test", logger)
	h.now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	return httptest.NewServer(NewRouter(h, RouterConfig{}, logger))
}

const triggerBody = `{
	"credentials": {"username": "buyer@example.com", "password": "secret"},
	"mode": "Brand",
	"filter": "Thorne",
	"target_count": 5
}`

func TestTriggerImport(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Run", mock.Anything, mock.MatchedBy(func(req pipeline.Request) bool {
			return req.Mode == models.ModeBrand &&
				req.Filter == "Thorne" &&
				req.TargetCount == 5 &&
				req.Credentials.Username == "buyer@example.com"
		})).Return(&pipeline.Summary{
			Success:   true,
			JobID:     "job-1",
			Status:    models.JobStatusCompleted,
			ItemCount: 5,
			Message:   "imported 5 products",
			Errors: []models.JobError{{
				Stage:   "visiting-details",
				Message: "navigation timed out",
				URL:     "https://shop.example.com/products/3",
			}},
		}, nil)

		srv := newTestServer(runner, new(MockJobReader), nil)
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/api/v1/imports", "application/json", strings.NewReader(triggerBody))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, true, body["success"])
		assert.Equal(t, "job-1", body["job_id"])
		assert.Equal(t, float64(5), body["item_count"])
		assert.Len(t, body["errors"], 1)
		assert.NotContains(t, body, "Import")
		runner.AssertExpectations(t)
	})

	t.Run("invalid request", func(t *testing.T) {
		runner := new(MockRunner)
		err := fmt.Errorf("%w: mode brand requires a filter", pipeline.ErrInvalidRequest)
		runner.On("Run", mock.Anything, mock.Anything).Return(&pipeline.Summary{
			Success: false,
			Status:  models.JobStatusFailed,
			Message: err.Error(),
		}, err)

		srv := newTestServer(runner, new(MockJobReader), nil)
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/api/v1/imports", "application/json", strings.NewReader(`{"mode":"brand"}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("job failure", func(t *testing.T) {
		runner := new(MockRunner)
		runner.On("Run", mock.Anything, mock.Anything).Return(&pipeline.Summary{
			Success: false,
			JobID:   "job-2",
			Status:  models.JobStatusFailed,
			Message: "authentication failed",
			Errors:  []models.JobError{{Stage: "authenticating", Message: "authentication failed"}},
		}, errors.New("authentication failed"))

		srv := newTestServer(runner, new(MockJobReader), nil)
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/api/v1/imports", "application/json", strings.NewReader(triggerBody))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

		var summary pipeline.Summary
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
		assert.False(t, summary.Success)
		assert.Equal(t, models.JobStatusFailed, summary.Status)
		require.Len(t, summary.Errors, 1)
		assert.Equal(t, "authenticating", summary.Errors[0].Stage)
	})

	t.Run("malformed body", func(t *testing.T) {
		runner := new(MockRunner)
		srv := newTestServer(runner, new(MockJobReader), nil)
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/api/v1/imports", "application/json", strings.NewReader(`{`))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
	})
}

func TestTriggerImportRejectsConcurrentJob(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	srv := newTestServer(runner, new(MockJobReader), nil)
	defer srv.Close()

	first := make(chan int, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/api/v1/imports", "application/json", strings.NewReader(triggerBody))
		if err != nil {
			first <- 0
			return
		}
		resp.Body.Close()
		first <- resp.StatusCode
	}()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first job never started")
	}

	resp, err := http.Post(srv.URL+"/api/v1/imports", "application/json", strings.NewReader(triggerBody))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(runner.release)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestGetJob(t *testing.T) {
	jobs := new(MockJobReader)
	jobs.On("GetJob", mock.Anything, "job-1").Return(&models.JobRecord{
		ID:     "job-1",
		Status: models.JobStatusCompleted,
		Mode:   models.ModeSearch,
		Filter: "omega",
		Errors: []models.JobError{},
		Import: json.RawMessage(`{"schema_version":"1.0"}`),
	}, nil)
	jobs.On("GetJob", mock.Anything, "missing").Return(nil, fmt.Errorf("job missing: %w", database.ErrNotFound))
	jobs.On("GetJob", mock.Anything, "broken").Return(nil, errors.New("connection reset"))

	srv := newTestServer(new(MockRunner), jobs, nil)
	defer srv.Close()

	tests := []struct {
		id         string
		wantStatus int
	}{
		{"job-1", http.StatusOK},
		{"missing", http.StatusNotFound},
		{"broken", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/api/v1/imports/" + tt.id)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			if tt.wantStatus == http.StatusOK {
				var job models.JobRecord
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
				assert.Equal(t, models.ModeSearch, job.Mode)
				assert.JSONEq(t, `{"schema_version":"1.0"}`, string(job.Import))
			}
		})
	}
}

func TestHealth(t *testing.T) {
	t.Run("static payload", func(t *testing.T) {
		srv := newTestServer(new(MockRunner), new(MockJobReader), nil)
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		var health HealthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.Equal(t, "ok", health.Status)
		assert.Equal(t, ServiceName, health.Service)
		assert.Equal(t, "test", health.Version)
		assert.Equal(t, time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC), health.Timestamp)
		assert.Nil(t, health.Outbox)
	})

	t.Run("dead letters degrade status", func(t *testing.T) {
		backlog := func(ctx context.Context) (int64, int64, error) { return 4, 2, nil }
		srv := newTestServer(new(MockRunner), new(MockJobReader), backlog)
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		var health HealthResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.Equal(t, "degraded", health.Status)
		require.NotNil(t, health.Outbox)
		assert.Equal(t, int64(4), health.Outbox.Pending)
	})
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(new(MockRunner), new(MockJobReader), nil)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/imports", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
