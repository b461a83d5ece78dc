package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chainscope/social-pulse/internal/aggregate"
	"github.com/chainscope/social-pulse/internal/models"
	"github.com/chainscope/social-pulse/internal/queue"
	"github.com/chainscope/social-pulse/internal/sentiment"
	"github.com/sirupsen/logrus"
)

var sentimentPipelinePolicy = queue.Policy{
	Timeout:   time.Hour,
	Tries:     3,
	Backoff:   []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second},
	UniqueFor: time.Hour,
}

// SentimentPipelineJob processes one stored batch on the queue matching its
// size and, when asked, regenerates the aggregates of the batch's day
type SentimentPipelineJob struct {
	factory            *Factory
	batchID            string
	size               int
	generateAggregates bool
}

func (j *SentimentPipelineJob) Name() string         { return "sentiment-pipeline" }
func (j *SentimentPipelineJob) Queue() string        { return queue.RouteSentiment(j.size) }
func (j *SentimentPipelineJob) Policy() queue.Policy { return sentimentPipelinePolicy }
func (j *SentimentPipelineJob) UniqueKey() string    { return j.batchID }

func (j *SentimentPipelineJob) Handle(ctx context.Context) error {
	batch, err := j.factory.deps.Batches.ProcessStoredBatch(ctx, j.batchID)
	if err != nil {
		return batchError(err)
	}
	if !j.generateAggregates || batch.ProcessedDocuments == 0 {
		return nil
	}

	// aggregation errors do not fail the job
	aggs, err := j.factory.deps.Aggregator.GenerateDailyAggregates(ctx, batch.ProcessingDate, "", "")
	log := logrus.WithFields(logrus.Fields{
		"batch_id": j.batchID,
		"date":     batch.ProcessingDate,
	})
	if err != nil {
		log.WithError(err).Error("Failed to generate daily aggregates")
		return nil
	}
	log.WithField("aggregates", len(aggs)).Info("Daily aggregates refreshed")
	return nil
}

func (j *SentimentPipelineJob) Failed(ctx context.Context, err error) {
	j.factory.deps.Batches.MarkFailed(ctx, j.batchID, err)
	j.factory.alert(ctx, j.Name(), fmt.Sprintf("Sentiment pipeline for batch %s failed", j.batchID), err)
}

func batchError(err error) error {
	if errors.Is(err, sentiment.ErrBatchNotFound) {
		return queue.Permanent(err)
	}
	return err
}

var aggregatePolicy = queue.Policy{
	Timeout: 2 * time.Hour,
	Tries:   2,
	Backoff: []time.Duration{120 * time.Second, 300 * time.Second},
}

// AggregateRequest selects the aggregates to regenerate and what to do afterwards
type AggregateRequest struct {
	Date     string
	Platform models.Platform
	Keyword  string
	// Export archives the day's aggregates after regeneration
	Export bool
	// Digest sends the day's digest through the notifier
	Digest bool
}

// AggregateJob regenerates daily aggregates
type AggregateJob struct {
	factory *Factory
	req     AggregateRequest
}

func (j *AggregateJob) Name() string         { return "aggregate" }
func (j *AggregateJob) Queue() string        { return queue.Aggregates }
func (j *AggregateJob) Policy() queue.Policy { return aggregatePolicy }
func (j *AggregateJob) UniqueKey() string    { return "" }

func (j *AggregateJob) Handle(ctx context.Context) error {
	deps := j.factory.deps
	aggs, err := deps.Aggregator.GenerateDailyAggregates(ctx, j.req.Date, j.req.Platform, j.req.Keyword)
	if errors.Is(err, aggregate.ErrNoValidDocuments) {
		return queue.Permanent(err)
	}
	if err != nil {
		return err
	}

	log := logrus.WithFields(logrus.Fields{"date": j.req.Date, "aggregates": len(aggs)})
	if j.req.Export {
		if _, err := deps.Aggregator.ExportDay(ctx, j.req.Date); err != nil {
			log.WithError(err).Warn("Failed to export daily aggregates")
		}
	}
	if j.req.Digest && deps.Notifier != nil {
		digest, err := deps.Aggregator.Digest(ctx, j.req.Date)
		if err != nil {
			log.WithError(err).Warn("Failed to build digest")
			return nil
		}
		if err := deps.Notifier.SendDigest(ctx, digest); err != nil {
			log.WithError(err).Warn("Failed to send digest")
		}
	}
	return nil
}

func (j *AggregateJob) Failed(ctx context.Context, err error) {
	j.factory.alert(ctx, j.Name(), fmt.Sprintf("Aggregation for %s failed", j.req.Date), err)
}
