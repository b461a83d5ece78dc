package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/chainscope/social-pulse/internal/config"
	"github.com/chainscope/social-pulse/internal/jobs"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// tickTimeout bounds the work done inside one cron tick; jobs themselves run on the queue
const tickTimeout = time.Minute

// Runner dispatches the periodic work; jobs.Factory implements it
type Runner interface {
	DispatchDueRules(ctx context.Context) (int, error)
	DispatchPendingBatches(ctx context.Context) (int, error)
	DispatchAggregate(ctx context.Context, req jobs.AggregateRequest) error
}

// Cleaner removes old completed sentiment batches
type Cleaner interface {
	CleanupCompletedBatches(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Service handles scheduling of crawl sweeps, sentiment pipeline runs and aggregation
type Service struct {
	config   *config.Config
	runner   Runner
	cleaner  Cleaner
	cron     *cron.Cron
	location *time.Location
	now      func() time.Time
}

// NewService creates a new scheduler service
func NewService(cfg *config.Config, runner Runner, cleaner Cleaner) (*Service, error) {
	location := time.UTC
	if cfg.TimeZone != "" {
		loc, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("invalid time zone %q: %w", cfg.TimeZone, err)
		}
		location = loc
	}

	return &Service{
		config:   cfg,
		runner:   runner,
		cleaner:  cleaner,
		cron:     cron.New(cron.WithSeconds(), cron.WithLocation(location)),
		location: location,
		now:      time.Now,
	}, nil
}

// Start registers every schedule and starts the cron runner
func (s *Service) Start() error {
	schedules := []struct {
		name string
		spec string
		task func(ctx context.Context)
	}{
		{"crawl sweep", s.config.CrawlSweepSchedule, s.SweepRules},
		{"sentiment pipeline", s.config.PipelineSchedule, s.RunPipeline},
		{"daily aggregation", s.config.AggregateSchedule, s.AggregateYesterday},
		{"aggregate refresh", s.config.AggregateRefreshSchedule, s.RefreshToday},
	}

	for _, sched := range schedules {
		if sched.spec == "" {
			logrus.Infof("Schedule %q disabled", sched.name)
			continue
		}
		task := sched.task
		name := sched.name
		_, err := s.cron.AddFunc(sched.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
			defer cancel()
			logrus.WithField("schedule", name).Debug("Running scheduled task")
			task(ctx)
		})
		if err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", name, sched.spec, err)
		}
	}

	s.cron.Start()
	logrus.Infof("Scheduler started with %d entries in %s", len(s.cron.Entries()), s.location)
	return nil
}

// Stop stops the scheduler and waits for running ticks
func (s *Service) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
		logrus.Info("Scheduler stopped")
	}
}

// SweepRules queues crawls for due rules
func (s *Service) SweepRules(ctx context.Context) {
	if _, err := s.runner.DispatchDueRules(ctx); err != nil {
		logrus.WithError(err).Error("Crawl sweep failed")
	}
}

// RunPipeline batches pending posts and queues their processing
func (s *Service) RunPipeline(ctx context.Context) {
	if _, err := s.runner.DispatchPendingBatches(ctx); err != nil {
		logrus.WithError(err).Error("Sentiment pipeline run failed")
	}
}

// AggregateYesterday finalises the previous day: aggregates, export, digest and batch cleanup
func (s *Service) AggregateYesterday(ctx context.Context) {
	date := s.now().UTC().AddDate(0, 0, -1).Format(time.DateOnly)
	err := s.runner.DispatchAggregate(ctx, jobs.AggregateRequest{Date: date, Export: true, Digest: true})
	if err != nil {
		logrus.WithError(err).WithField("date", date).Error("Failed to queue daily aggregation")
	}

	if s.cleaner == nil {
		return
	}
	if _, err := s.cleaner.CleanupCompletedBatches(ctx, s.config.BatchRetention); err != nil {
		logrus.WithError(err).Error("Sentiment batch cleanup failed")
	}
}

// RefreshToday regenerates today's aggregates with the documents processed so far
func (s *Service) RefreshToday(ctx context.Context) {
	date := s.now().UTC().Format(time.DateOnly)
	if err := s.runner.DispatchAggregate(ctx, jobs.AggregateRequest{Date: date}); err != nil {
		logrus.WithError(err).WithField("date", date).Error("Failed to queue aggregate refresh")
	}
}
