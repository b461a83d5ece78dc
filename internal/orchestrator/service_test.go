package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/chainscope/social-pulse/internal/models"
	"github.com/chainscope/social-pulse/internal/rules"
	"github.com/chainscope/social-pulse/internal/sources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRuleStore is a mock implementation of RuleStore
type MockRuleStore struct {
	mock.Mock
}

func (m *MockRuleStore) GetByID(ctx context.Context, id uint) (*models.CrawlRule, error) {
	args := m.Called(ctx, id)
	rule, _ := args.Get(0).(*models.CrawlRule)
	return rule, args.Error(1)
}

func (m *MockRuleStore) ListActive(ctx context.Context) ([]*models.CrawlRule, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]*models.CrawlRule)
	return list, args.Error(1)
}

func (m *MockRuleStore) SavePerformance(ctx context.Context, rule *models.CrawlRule) error {
	args := m.Called(ctx, rule)
	return args.Error(0)
}

// MockCrawler is a mock implementation of sources.Crawler
type MockCrawler struct {
	mock.Mock
	platform models.Platform
}

func (m *MockCrawler) Platform() models.Platform {
	return m.platform
}

func (m *MockCrawler) ValidateCredentials() error {
	return nil
}

func (m *MockCrawler) Crawl(ctx context.Context, rule *models.CrawlRule) (*models.CrawlResult, error) {
	args := m.Called(ctx, rule)
	result, _ := args.Get(0).(*models.CrawlResult)
	return result, args.Error(1)
}

// MockPostCounter is a mock implementation of rules.PostCounter
type MockPostCounter struct {
	mock.Mock
}

func (m *MockPostCounter) CountForRuleSince(ctx context.Context, ruleID uint, since time.Time) (int64, error) {
	args := m.Called(ctx, ruleID, since)
	return args.Get(0).(int64), args.Error(1)
}

var fixedNow = time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

func newTestService(store *MockRuleStore, counter *MockPostCounter, crawlers ...sources.Crawler) *Service {
	engine := rules.NewEngine(counter).WithClock(func() time.Time { return fixedNow })
	return NewService(store, engine, sources.NewRegistry(crawlers...))
}

func activeRule(id uint) *models.CrawlRule {
	return &models.CrawlRule{
		ID:                   id,
		Name:                 "defi-exploits",
		Active:               true,
		Priority:             models.PriorityNormal,
		Platforms:            []models.Platform{models.PlatformTwitter, models.PlatformReddit},
		Keywords:             []string{"exploit"},
		CrawlIntervalMinutes: 60,
	}
}

func TestFollowUpDelay(t *testing.T) {
	tests := []struct {
		postsFound int
		expected   time.Duration
	}{
		{75, 5 * time.Minute},
		{51, 5 * time.Minute},
		{50, 15 * time.Minute},
		{21, 15 * time.Minute},
		{20, 0},
		{5, 0},
		{0, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FollowUpDelay(tt.postsFound), "posts found %d", tt.postsFound)
	}
}

func TestService_ExecuteCrawlJob(t *testing.T) {
	rule := activeRule(1)
	store := new(MockRuleStore)
	store.On("GetByID", mock.Anything, uint(1)).Return(rule, nil)
	store.On("SavePerformance", mock.Anything, rule).Return(nil).Once()

	crawler := &MockCrawler{platform: models.PlatformTwitter}
	crawler.On("Crawl", mock.Anything, rule).Return(&models.CrawlResult{
		Platform:      models.PlatformTwitter,
		PostsFound:    75,
		PostsStored:   12,
		Errors:        []string{},
		ExecutionTime: 4 * time.Second,
	}, nil).Once()

	service := newTestService(store, new(MockPostCounter), crawler)
	outcome, err := service.ExecuteCrawlJob(context.Background(), CrawlRequest{
		RuleID:   1,
		Platform: models.PlatformTwitter,
		JobID:    "job-1",
	})

	require.NoError(t, err)
	assert.False(t, outcome.Skipped)
	assert.Equal(t, 5*time.Minute, outcome.FollowUp)
	assert.Equal(t, 12, outcome.Result.PostsStored)

	require.NotNil(t, rule.PerformanceMetrics)
	require.NotNil(t, rule.PerformanceMetrics.LastExecution)
	assert.Equal(t, int64(1), rule.PerformanceMetrics.TotalRuns)
	assert.Equal(t, "job-1", rule.PerformanceMetrics.LastExecution.JobID)
	assert.Equal(t, 5, rule.PerformanceMetrics.LastExecution.FollowUpMinutes)
	assert.Equal(t, 4.0, rule.PerformanceMetrics.LastExecution.ExecutionSeconds)

	snapshot := service.Snapshot()
	assert.Equal(t, 1, snapshot.TotalCrawls)
	assert.Equal(t, 75, snapshot.PostsFound)
	assert.Equal(t, 1, snapshot.FollowUpsScheduled)
	assert.Equal(t, 12, snapshot.PlatformMetrics["twitter"])

	store.AssertExpectations(t)
	crawler.AssertExpectations(t)
}

func TestService_ExecuteCrawlJob_NoFollowUpForQuietRule(t *testing.T) {
	rule := activeRule(1)
	store := new(MockRuleStore)
	store.On("GetByID", mock.Anything, uint(1)).Return(rule, nil)
	store.On("SavePerformance", mock.Anything, rule).Return(errors.New("db down"))

	crawler := &MockCrawler{platform: models.PlatformTwitter}
	crawler.On("Crawl", mock.Anything, rule).Return(&models.CrawlResult{PostsFound: 5}, nil)

	service := newTestService(store, new(MockPostCounter), crawler)
	outcome, err := service.ExecuteCrawlJob(context.Background(), CrawlRequest{RuleID: 1, Platform: models.PlatformTwitter})

	require.NoError(t, err, "failing to save metrics does not fail the job")
	assert.Equal(t, time.Duration(0), outcome.FollowUp)
}

func TestService_ExecuteCrawlJob_RuleNotFound(t *testing.T) {
	store := new(MockRuleStore)
	store.On("GetByID", mock.Anything, uint(9)).Return(nil, nil)

	service := newTestService(store, new(MockPostCounter))
	_, err := service.ExecuteCrawlJob(context.Background(), CrawlRequest{RuleID: 9, Platform: models.PlatformTwitter})

	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestService_ExecuteCrawlJob_UnknownPlatform(t *testing.T) {
	rule := activeRule(1)
	store := new(MockRuleStore)
	store.On("GetByID", mock.Anything, uint(1)).Return(rule, nil)

	service := newTestService(store, new(MockPostCounter), &MockCrawler{platform: models.PlatformTwitter})
	_, err := service.ExecuteCrawlJob(context.Background(), CrawlRequest{RuleID: 1, Platform: models.PlatformReddit})

	assert.ErrorIs(t, err, sources.ErrUnknownPlatform)
}

func TestService_ExecuteCrawlJob_Skips(t *testing.T) {
	recent := fixedNow.Add(-10 * time.Minute)
	future := fixedNow.Add(24 * time.Hour)

	tests := []struct {
		name   string
		modify func(r *models.CrawlRule)
		req    CrawlRequest
		reason string
	}{
		{
			name:   "Inactive rule",
			modify: func(r *models.CrawlRule) { r.Active = false },
			req:    CrawlRequest{RuleID: 1, Platform: models.PlatformTwitter},
			reason: "rule inactive",
		},
		{
			name:   "Platform not targeted",
			modify: func(r *models.CrawlRule) { r.Platforms = []models.Platform{models.PlatformReddit} },
			req:    CrawlRequest{RuleID: 1, Platform: models.PlatformTwitter},
			reason: "platform not targeted by rule",
		},
		{
			name:   "Interval not elapsed",
			modify: func(r *models.CrawlRule) { r.LastCrawlAt = &recent },
			req:    CrawlRequest{RuleID: 1, Platform: models.PlatformTwitter},
			reason: "interval, window or hourly quota not satisfied",
		},
		{
			name:   "Forced crawl still honours the window",
			modify: func(r *models.CrawlRule) { r.StartDate = &future },
			req:    CrawlRequest{RuleID: 1, Platform: models.PlatformTwitter, Force: true},
			reason: "outside rule window",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := activeRule(1)
			tt.modify(rule)
			store := new(MockRuleStore)
			store.On("GetByID", mock.Anything, uint(1)).Return(rule, nil)
			crawler := &MockCrawler{platform: models.PlatformTwitter}

			service := newTestService(store, new(MockPostCounter), crawler)
			outcome, err := service.ExecuteCrawlJob(context.Background(), tt.req)

			require.NoError(t, err)
			assert.True(t, outcome.Skipped)
			assert.Equal(t, tt.reason, outcome.SkipReason)
			crawler.AssertNotCalled(t, "Crawl", mock.Anything, mock.Anything)
			assert.Equal(t, 1, service.Snapshot().SkippedCrawls)
		})
	}
}

func TestService_ExecuteCrawlJob_ForceBypassesInterval(t *testing.T) {
	recent := fixedNow.Add(-10 * time.Minute)
	rule := activeRule(1)
	rule.LastCrawlAt = &recent

	store := new(MockRuleStore)
	store.On("GetByID", mock.Anything, uint(1)).Return(rule, nil)
	store.On("SavePerformance", mock.Anything, rule).Return(nil)
	crawler := &MockCrawler{platform: models.PlatformTwitter}
	crawler.On("Crawl", mock.Anything, rule).Return(&models.CrawlResult{PostsFound: 30}, nil).Once()

	service := newTestService(store, new(MockPostCounter), crawler)
	outcome, err := service.ExecuteCrawlJob(context.Background(), CrawlRequest{RuleID: 1, Platform: models.PlatformTwitter, Force: true})

	require.NoError(t, err)
	assert.False(t, outcome.Skipped)
	assert.Equal(t, 15*time.Minute, outcome.FollowUp)
	crawler.AssertExpectations(t)
}

func TestService_ExecuteCrawlJob_CrawlerError(t *testing.T) {
	rule := activeRule(1)
	store := new(MockRuleStore)
	store.On("GetByID", mock.Anything, uint(1)).Return(rule, nil)
	crawler := &MockCrawler{platform: models.PlatformTwitter}
	crawler.On("Crawl", mock.Anything, rule).Return(
		&models.CrawlResult{Errors: []string{"missing token"}},
		sources.ErrMissingCredentials,
	)

	service := newTestService(store, new(MockPostCounter), crawler)
	outcome, err := service.ExecuteCrawlJob(context.Background(), CrawlRequest{RuleID: 1, Platform: models.PlatformTwitter})

	assert.ErrorIs(t, err, sources.ErrMissingCredentials)
	require.NotNil(t, outcome)
	assert.Equal(t, []string{"missing token"}, outcome.Result.Errors)
	store.AssertNotCalled(t, "SavePerformance", mock.Anything, mock.Anything)

	snapshot := service.Snapshot()
	assert.Equal(t, 1, snapshot.FailedCrawls)
	assert.Equal(t, 1, snapshot.ErrorCount)
}

func TestService_DueRules(t *testing.T) {
	recent := fixedNow.Add(-10 * time.Minute)
	due := activeRule(1)
	cooling := activeRule(2)
	cooling.LastCrawlAt = &recent
	quotaSpent := activeRule(3)
	quotaSpent.MaxPostsPerHour = 10
	broken := activeRule(4)
	broken.MaxPostsPerHour = 10

	store := new(MockRuleStore)
	store.On("ListActive", mock.Anything).Return([]*models.CrawlRule{due, cooling, quotaSpent, broken}, nil)
	counter := new(MockPostCounter)
	counter.On("CountForRuleSince", mock.Anything, uint(3), fixedNow.Add(-time.Hour)).Return(int64(10), nil)
	counter.On("CountForRuleSince", mock.Anything, uint(4), fixedNow.Add(-time.Hour)).Return(int64(0), errors.New("db down"))

	service := newTestService(store, counter)
	got, err := service.DueRules(context.Background())

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint(1), got[0].ID)
}

func TestService_RecordFailure(t *testing.T) {
	rule := activeRule(1)
	store := new(MockRuleStore)
	store.On("GetByID", mock.Anything, uint(1)).Return(rule, nil)
	store.On("SavePerformance", mock.Anything, rule).Return(errors.New("db down"))

	service := newTestService(store, new(MockPostCounter))
	assert.NotPanics(t, func() {
		service.RecordFailure(context.Background(), CrawlRequest{RuleID: 1, Platform: models.PlatformReddit, JobID: "job-7"}, errors.New("timeout"), 3)
	})

	require.NotNil(t, rule.PerformanceMetrics)
	failure := rule.PerformanceMetrics.LastFailure
	require.NotNil(t, failure)
	assert.Equal(t, "timeout", failure.Error)
	assert.Equal(t, 3, failure.Attempts)
	assert.Equal(t, models.PlatformReddit, failure.Platform)
	assert.Equal(t, fixedNow, failure.Timestamp)
	assert.Equal(t, int64(1), rule.PerformanceMetrics.FailedRuns)
}

func TestService_Metrics(t *testing.T) {
	service := newTestService(new(MockRuleStore), new(MockPostCounter))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(service.Metrics()), &decoded))
	assert.Contains(t, decoded, "total_crawls")
	assert.Contains(t, decoded, "platform_metrics")
}
