package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chainscope/social-pulse/internal/config"
	"github.com/chainscope/social-pulse/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRunner struct{ mock.Mock }

func (m *MockRunner) DispatchDueRules(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockRunner) DispatchPendingBatches(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockRunner) DispatchAggregate(ctx context.Context, req jobs.AggregateRequest) error {
	return m.Called(ctx, req).Error(0)
}

type MockCleaner struct{ mock.Mock }

func (m *MockCleaner) CleanupCompletedBatches(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func testConfig() *config.Config {
	return &config.Config{
		CrawlSweepSchedule:       "0 * * * * *",
		PipelineSchedule:         "0 */15 * * * *",
		AggregateSchedule:        "0 30 0 * * *",
		AggregateRefreshSchedule: "0 5 * * * *",
		TimeZone:                 "UTC",
		BatchRetention:           30 * 24 * time.Hour,
	}
}

func TestStartRegistersSchedules(t *testing.T) {
	svc, err := NewService(testConfig(), new(MockRunner), new(MockCleaner))
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	defer svc.Stop()

	assert.Len(t, svc.cron.Entries(), 4)
}

func TestStartSkipsDisabledAndRejectsInvalid(t *testing.T) {
	cfg := testConfig()
	cfg.AggregateRefreshSchedule = ""
	svc, err := NewService(cfg, new(MockRunner), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start())
	assert.Len(t, svc.cron.Entries(), 3)
	svc.Stop()

	cfg = testConfig()
	cfg.CrawlSweepSchedule = "every minute"
	svc, err = NewService(cfg, new(MockRunner), nil)
	require.NoError(t, err)
	assert.Error(t, svc.Start())

	cfg = testConfig()
	cfg.TimeZone = "Mars/Olympus"
	_, err = NewService(cfg, new(MockRunner), nil)
	assert.Error(t, err)
}

func TestAggregateYesterday(t *testing.T) {
	runner := new(MockRunner)
	cleaner := new(MockCleaner)
	svc, err := NewService(testConfig(), runner, cleaner)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2026, 10, 18, 0, 30, 0, 0, time.UTC) }

	runner.On("DispatchAggregate", mock.Anything, jobs.AggregateRequest{Date: "2026-10-17", Export: true, Digest: true}).
		Return(errors.New("dispatcher stopped"))
	cleaner.On("CleanupCompletedBatches", mock.Anything, 30*24*time.Hour).Return(int64(4), nil)

	svc.AggregateYesterday(context.Background())
	runner.AssertExpectations(t)
	cleaner.AssertExpectations(t)
}

func TestSweepPipelineAndRefresh(t *testing.T) {
	runner := new(MockRunner)
	svc, err := NewService(testConfig(), runner, nil)
	require.NoError(t, err)
	svc.now = func() time.Time { return time.Date(2026, 10, 18, 13, 5, 0, 0, time.UTC) }

	runner.On("DispatchDueRules", mock.Anything).Return(2, nil)
	runner.On("DispatchPendingBatches", mock.Anything).Return(0, errors.New("daily sentiment budget exceeded"))
	runner.On("DispatchAggregate", mock.Anything, jobs.AggregateRequest{Date: "2026-10-18"}).Return(nil)

	svc.SweepRules(context.Background())
	svc.RunPipeline(context.Background())
	svc.RefreshToday(context.Background())

	runner.AssertCalled(t, "DispatchDueRules", mock.Anything)
	runner.AssertCalled(t, "DispatchPendingBatches", mock.Anything)
	runner.AssertCalled(t, "DispatchAggregate", mock.Anything, jobs.AggregateRequest{Date: "2026-10-18"})
}
