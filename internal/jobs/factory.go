package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainscope/social-pulse/internal/models"
	"github.com/chainscope/social-pulse/internal/orchestrator"
	"github.com/chainscope/social-pulse/internal/queue"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Dispatcher queues jobs; queue.Dispatcher implements it
type Dispatcher interface {
	Dispatch(ctx context.Context, job queue.Job) error
	DispatchAfter(ctx context.Context, job queue.Job, delay time.Duration) error
}

// CrawlRunner executes crawl requests; orchestrator.Service implements it
type CrawlRunner interface {
	ExecuteCrawlJob(ctx context.Context, req orchestrator.CrawlRequest) (*orchestrator.CrawlOutcome, error)
	RecordFailure(ctx context.Context, req orchestrator.CrawlRequest, cause error, attempts int)
	DueRules(ctx context.Context) ([]*models.CrawlRule, error)
}

// BatchProcessor drives stored sentiment batches; sentiment.BatchService implements it
type BatchProcessor interface {
	CreateBatchFromPosts(ctx context.Context, limit int) ([]*models.SentimentBatch, error)
	ProcessStoredBatch(ctx context.Context, batchID string) (*models.SentimentBatch, error)
	MarkFailed(ctx context.Context, batchID string, cause error)
}

// Aggregator regenerates and publishes daily aggregates; aggregate.Engine implements it
type Aggregator interface {
	GenerateDailyAggregates(ctx context.Context, date string, platform models.Platform, keyword string) ([]models.DailySentimentAggregate, error)
	ExportDay(ctx context.Context, date string) (string, error)
	Digest(ctx context.Context, date string) (*models.Digest, error)
}

// Notifier delivers operator alerts and daily digests
type Notifier interface {
	SendAlert(ctx context.Context, alert *models.Alert) error
	SendDigest(ctx context.Context, digest *models.Digest) error
}

// Deps wires the factory. Notifier may be nil.
type Deps struct {
	Dispatcher Dispatcher
	Crawls     CrawlRunner
	Batches    BatchProcessor
	Aggregator Aggregator
	Notifier   Notifier
	// PipelineBatchLimit caps how many pending posts one pipeline sweep batches
	PipelineBatchLimit int
}

// Factory builds jobs bound to their services and dispatches sweeps
type Factory struct {
	deps Deps
	now  func() time.Time
}

// NewFactory creates a job factory
func NewFactory(deps Deps) *Factory {
	if deps.PipelineBatchLimit <= 0 {
		deps.PipelineBatchLimit = 1000
	}
	return &Factory{deps: deps, now: time.Now}
}

// Crawl builds a crawl job routed by the rule priority
func (f *Factory) Crawl(req orchestrator.CrawlRequest, priority models.Priority) *CrawlJob {
	if req.JobID == "" {
		req.JobID = uuid.NewString()
	}
	return &CrawlJob{factory: f, req: req, priority: priority}
}

// SentimentPipeline builds a size-routed job that processes one batch of size
// documents and optionally refreshes its aggregates
func (f *Factory) SentimentPipeline(batchID string, size int, generateAggregates bool) *SentimentPipelineJob {
	return &SentimentPipelineJob{factory: f, batchID: batchID, size: size, generateAggregates: generateAggregates}
}

// Aggregate builds an aggregation job. Empty platform and keyword aggregate the whole day.
func (f *Factory) Aggregate(req AggregateRequest) *AggregateJob {
	return &AggregateJob{factory: f, req: req}
}

// DispatchForRule queues one crawl per platform of rule. The rule was already
// checked by the caller, so the interval check is skipped.
func (f *Factory) DispatchForRule(ctx context.Context, rule *models.CrawlRule) error {
	var errs []error
	for _, platform := range rule.Platforms {
		job := f.Crawl(orchestrator.CrawlRequest{
			RuleID:   rule.ID,
			Platform: platform,
			Force:    true,
		}, rule.Priority)
		if err := f.deps.Dispatcher.Dispatch(ctx, job); err != nil {
			errs = append(errs, fmt.Errorf("rule %d on %s: %w", rule.ID, platform, err))
		}
	}
	return errors.Join(errs...)
}

// DispatchCrawl queues a single crawl request as given. Manual crawls leave
// Force unset so the interval check still applies.
func (f *Factory) DispatchCrawl(ctx context.Context, req orchestrator.CrawlRequest, priority models.Priority) error {
	return f.deps.Dispatcher.Dispatch(ctx, f.Crawl(req, priority))
}

// DispatchDueRules queues crawls for every rule that is due and returns how many rules were dispatched
func (f *Factory) DispatchDueRules(ctx context.Context) (int, error) {
	due, err := f.deps.Crawls.DueRules(ctx)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	var errs []error
	for _, rule := range due {
		if err := f.DispatchForRule(ctx, rule); err != nil {
			errs = append(errs, err)
			continue
		}
		dispatched++
	}
	if len(due) > 0 {
		logrus.Infof("Dispatched crawls for %d of %d due rules", dispatched, len(due))
	}
	return dispatched, errors.Join(errs...)
}

// DispatchPendingBatches batches pending posts and queues a pipeline job per batch
func (f *Factory) DispatchPendingBatches(ctx context.Context) (int, error) {
	batches, err := f.deps.Batches.CreateBatchFromPosts(ctx, f.deps.PipelineBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("failed to create sentiment batches: %w", err)
	}

	dispatched := 0
	var errs []error
	for _, batch := range batches {
		if err := f.deps.Dispatcher.Dispatch(ctx, f.SentimentPipeline(batch.BatchID, batch.TotalDocuments, true)); err != nil {
			errs = append(errs, fmt.Errorf("batch %s: %w", batch.BatchID, err))
			continue
		}
		dispatched++
	}
	if len(batches) > 0 {
		logrus.Infof("Dispatched %d sentiment pipeline jobs", dispatched)
	}
	return dispatched, errors.Join(errs...)
}

// DispatchAggregate queues an aggregation job
func (f *Factory) DispatchAggregate(ctx context.Context, req AggregateRequest) error {
	return f.deps.Dispatcher.Dispatch(ctx, f.Aggregate(req))
}

// alert sends a critical alert when a notifier is configured. Errors are logged only.
func (f *Factory) alert(ctx context.Context, source, title string, cause error) {
	if f.deps.Notifier == nil {
		return
	}
	alert := &models.Alert{
		ID:        uuid.NewString(),
		Type:      "critical",
		Title:     title,
		Message:   cause.Error(),
		Source:    source,
		CreatedAt: f.now().UTC(),
	}
	if err := f.deps.Notifier.SendAlert(ctx, alert); err != nil {
		logrus.WithError(err).WithField("source", source).Warn("Failed to send alert")
	}
}
