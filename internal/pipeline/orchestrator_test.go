package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-importer/internal/models"
	"github.com/maltedev/catalog-importer/internal/scraper"
)

type harness struct {
	store   *MockJobStore
	auth    *MockAuthenticator
	walker  *MockWalker
	visitor *MockVisitor
	session *stubSession
	pacer   *countingPacer
	orch    *Orchestrator
}

func newHarness() *harness {
	h := &harness{
		store:   new(MockJobStore),
		auth:    new(MockAuthenticator),
		walker:  new(MockWalker),
		visitor: new(MockVisitor),
		session: &stubSession{},
		pacer:   &countingPacer{},
	}
	h.orch = New(Deps{
		Sessions: func(context.Context) (Session, error) { return h.session, nil },
		Auth:     h.auth,
		Walker:   h.walker,
		Visitor:  h.visitor,
		Store:    h.store,
		Pacer:    h.pacer,
	}, Options{MaxItems: 500, ConfidenceThreshold: 0.5})
	h.orch.newID = func() string { return "job-1" }
	return h
}

func validRequest() Request {
	return Request{
		Credentials: scraper.Credentials{Username: "buyer@example.com", Password: "secret"},
		Mode:        models.ModeBrand,
		Filter:      "Thorne",
		TargetCount: 2,
	}
}

func listingItems() []models.RawListingItem {
	return []models.RawListingItem{
		{Brand: "Thorne", ProductName: "Magnesium Bisglycinate Powder", DetailURL: "https://shop.example.com/products/1"},
		{Brand: "Thorne", ProductName: "Vitamin D-5,000 Capsules", DetailURL: "https://shop.example.com/products/2"},
	}
}

func magnesiumDetail() *models.DetailFields {
	return &models.DetailFields{
		Description:    "Highly absorbable magnesium.",
		Certifications: []string{"NSF Certified for Sport"},
		IngredientHTML: `<p><strong>Serving Size:</strong> 1 Scoop</p><p><strong>Amount Per Serving</strong><br><strong>Magnesium</strong> 200 mg</p>`,
		FrontImageURL:  "https://cdn.example.com/front.jpg",
	}
}

func TestRunCompletesWithDegradedItem(t *testing.T) {
	h := newHarness()
	items := listingItems()

	h.store.On("CreateJob", mock.Anything, mock.MatchedBy(func(j *models.JobRecord) bool {
		return j.ID == "job-1" && j.Status == models.JobStatusRunning && j.Mode == models.ModeBrand && j.Filter == "Thorne"
	})).Return(nil)
	h.auth.On("Login", mock.Anything, mock.Anything, validRequest().Credentials).Return(nil)
	h.walker.On("Walk", mock.Anything, mock.Anything, scraper.ListingQuery{Mode: models.ModeBrand, Filter: "Thorne", Target: 2}).Return(items, nil)
	h.visitor.On("Visit", mock.Anything, mock.Anything, items[0]).Return(magnesiumDetail(), nil)
	h.visitor.On("Visit", mock.Anything, mock.Anything, items[1]).Return(nil, fmt.Errorf("visit: %w", scraper.ErrNavigationTimeout))
	h.store.On("UpdateProgress", mock.Anything, "job-1", mock.Anything).Return(nil)

	var persisted *models.Import
	h.store.On("CompleteJob", mock.Anything, "job-1", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { persisted = args.Get(2).(*models.Import) }).
		Return(nil)

	summary, err := h.orch.Run(context.Background(), validRequest())

	require.NoError(t, err)
	assert.True(t, summary.Success)
	assert.Equal(t, "job-1", summary.JobID)
	assert.Equal(t, models.JobStatusCompleted, summary.Status)
	assert.Equal(t, 2, summary.ItemCount)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, string(StateVisitingDetails), summary.Errors[0].Stage)
	assert.Equal(t, items[1].DetailURL, summary.Errors[0].URL)

	require.NotNil(t, persisted)
	assert.Equal(t, models.SchemaVersion, persisted.SchemaVersion)
	assert.Equal(t, models.ImportSource, persisted.ImportMetadata.ImportSource)
	assert.Nil(t, persisted.ImportMetadata.LLMModel)
	require.Len(t, persisted.Products, 2)
	assert.Equal(t, "Magnesium Bisglycinate Powder", persisted.Products[0].ProductName, "listing order is kept")
	assert.Equal(t, "Vitamin D-5,000 Capsules", persisted.Products[1].ProductName)
	assert.Equal(t, models.CategoryMineral, persisted.Products[0].Category)
	assert.Greater(t, persisted.Products[0].Confidence, persisted.Products[1].Confidence, "degraded item scores lower")

	h.store.AssertNumberOfCalls(t, "UpdateProgress", 3)
	h.store.AssertNotCalled(t, "FailJob", mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, h.session.closed)
	assert.Equal(t, 1, h.pacer.waits)
	assert.Equal(t, 1, h.pacer.successes)
	assert.Equal(t, 1, h.pacer.failures)
}

func TestRunMissingCategoryIsPenalizedNotDropped(t *testing.T) {
	h := newHarness()
	h.orch.deps.Converter.classifyCategory = func(string, string) models.Category { return "" }
	items := listingItems()[:1]

	h.store.On("CreateJob", mock.Anything, mock.Anything).Return(nil)
	h.auth.On("Login", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	h.walker.On("Walk", mock.Anything, mock.Anything, mock.Anything).Return(items, nil)
	h.visitor.On("Visit", mock.Anything, mock.Anything, items[0]).Return(magnesiumDetail(), nil)
	h.store.On("UpdateProgress", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	var persisted *models.Import
	h.store.On("CompleteJob", mock.Anything, "job-1", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { persisted = args.Get(2).(*models.Import) }).
		Return(nil)

	summary, err := h.orch.Run(context.Background(), validRequest())

	require.NoError(t, err)
	assert.True(t, summary.Success)
	require.Len(t, persisted.Products, 1)

	p := persisted.Products[0]
	assert.Empty(t, p.Category)
	// dosage 0.15 + brand 0.1 + name 0.1 + ingredients 0.1 + dose 0.075 +
	// key ingredients 0.05 + certifications 0.05 + front image 0.05 = 0.675,
	// rounded 0.68, minus the 0.2 penalty.
	assert.InDelta(t, 0.48, p.Confidence, 1e-9)

	require.Len(t, summary.Errors, 1)
	assert.Equal(t, string(StateConverting), summary.Errors[0].Stage)
	assert.Contains(t, summary.Errors[0].Message, "category")
}

func TestRunAuthenticationFailure(t *testing.T) {
	h := newHarness()

	h.store.On("CreateJob", mock.Anything, mock.Anything).Return(nil)
	h.auth.On("Login", mock.Anything, mock.Anything, mock.Anything).Return(fmt.Errorf("%w: still on login page", scraper.ErrAuthentication))
	h.store.On("FailJob", mock.Anything, "job-1", mock.MatchedBy(func(e models.JobError) bool {
		return e.Stage == string(StateAuthenticating)
	})).Return(nil)

	summary, err := h.orch.Run(context.Background(), validRequest())

	require.ErrorIs(t, err, scraper.ErrAuthentication)
	assert.False(t, summary.Success)
	assert.Equal(t, models.JobStatusFailed, summary.Status)
	assert.Equal(t, "job-1", summary.JobID)
	require.Len(t, summary.Errors, 1)
	h.walker.AssertNotCalled(t, "Walk", mock.Anything, mock.Anything, mock.Anything)
	h.store.AssertExpectations(t)
	assert.Equal(t, 1, h.session.closed)
}

func TestRunSessionLostDuringVisits(t *testing.T) {
	h := newHarness()
	items := listingItems()

	h.store.On("CreateJob", mock.Anything, mock.Anything).Return(nil)
	h.auth.On("Login", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	h.walker.On("Walk", mock.Anything, mock.Anything, mock.Anything).Return(items, nil)
	h.store.On("UpdateProgress", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	h.visitor.On("Visit", mock.Anything, mock.Anything, items[0]).Return(nil, fmt.Errorf("%w: redirected", scraper.ErrAuthLost))
	h.store.On("FailJob", mock.Anything, "job-1", mock.MatchedBy(func(e models.JobError) bool {
		return e.Stage == string(StateVisitingDetails)
	})).Return(nil)

	summary, err := h.orch.Run(context.Background(), validRequest())

	require.ErrorIs(t, err, scraper.ErrAuthLost)
	assert.False(t, summary.Success)
	h.visitor.AssertNumberOfCalls(t, "Visit", 1)
	h.store.AssertNotCalled(t, "CompleteJob", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	h.store.AssertExpectations(t)
}

func TestRunWalkFailure(t *testing.T) {
	h := newHarness()

	h.store.On("CreateJob", mock.Anything, mock.Anything).Return(nil)
	h.auth.On("Login", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	h.walker.On("Walk", mock.Anything, mock.Anything, mock.Anything).Return(nil, fmt.Errorf("%w: listing", scraper.ErrNavigationTimeout))
	h.store.On("FailJob", mock.Anything, "job-1", mock.MatchedBy(func(e models.JobError) bool {
		return e.Stage == string(StateWalkingCatalog)
	})).Return(nil)

	_, err := h.orch.Run(context.Background(), validRequest())

	require.ErrorIs(t, err, scraper.ErrNavigationTimeout)
	h.store.AssertExpectations(t)
}

func TestRunPersistenceFailure(t *testing.T) {
	h := newHarness()
	items := listingItems()[:1]

	h.store.On("CreateJob", mock.Anything, mock.Anything).Return(nil)
	h.auth.On("Login", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	h.walker.On("Walk", mock.Anything, mock.Anything, mock.Anything).Return(items, nil)
	h.store.On("UpdateProgress", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	h.visitor.On("Visit", mock.Anything, mock.Anything, items[0]).Return(magnesiumDetail(), nil)
	h.store.On("CompleteJob", mock.Anything, "job-1", mock.Anything, mock.Anything).Return(errors.New("connection reset"))
	h.store.On("FailJob", mock.Anything, "job-1", mock.MatchedBy(func(e models.JobError) bool {
		return e.Stage == string(StatePersisting)
	})).Return(errors.New("still down"))

	summary, err := h.orch.Run(context.Background(), validRequest())

	require.ErrorIs(t, err, ErrPersistence)
	assert.False(t, summary.Success)
	assert.Nil(t, summary.Import)
	h.store.AssertExpectations(t)
}

func TestRunRejectsInvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		req  func(*Request)
	}{
		{"missing filter", func(r *Request) { r.Filter = "" }},
		{"unknown mode", func(r *Request) { r.Mode = "random" }},
		{"zero target", func(r *Request) { r.TargetCount = 0 }},
		{"target above ceiling", func(r *Request) { r.TargetCount = 501 }},
		{"missing credentials", func(r *Request) { r.Credentials = scraper.Credentials{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			req := validRequest()
			tt.req(&req)

			summary, err := h.orch.Run(context.Background(), req)

			require.ErrorIs(t, err, ErrInvalidRequest)
			assert.False(t, summary.Success)
			assert.NotEmpty(t, summary.Errors)
			h.store.AssertNotCalled(t, "CreateJob", mock.Anything, mock.Anything)
		})
	}
}

func TestRunFullCatalogNeedsNoFilter(t *testing.T) {
	req := validRequest()
	req.Mode = models.ModeFullCatalog
	req.Filter = ""

	assert.NoError(t, req.Validate(500))
}

func TestFailureIsRecordedAfterCancellation(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())

	h.store.On("CreateJob", mock.Anything, mock.Anything).Return(nil)
	h.auth.On("Login", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(context.Canceled)
	h.store.On("FailJob", mock.MatchedBy(func(c context.Context) bool {
		_, hasDeadline := c.Deadline()
		return c.Err() == nil && hasDeadline
	}), "job-1", mock.Anything).Return(nil)

	start := time.Now()
	_, err := h.orch.Run(ctx, validRequest())

	require.ErrorIs(t, err, context.Canceled)
	h.store.AssertExpectations(t)
	assert.Less(t, time.Since(start), time.Second)
}
