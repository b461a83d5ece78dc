package sentiment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chainscope/social-pulse/internal/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultRetention is how long completed batches are kept by CleanupCompletedBatches
const DefaultRetention = 30 * 24 * time.Hour

// BatchStore persists batches and their documents
type BatchStore interface {
	CreateWithDocuments(ctx context.Context, batch *models.SentimentBatch, docs []models.SentimentBatchDocument) error
	GetByBatchID(ctx context.Context, batchID string) (*models.SentimentBatch, error)
	Documents(ctx context.Context, batchPK uint, statuses ...string) ([]models.SentimentBatchDocument, error)
	Update(ctx context.Context, batch *models.SentimentBatch) error
	SaveResults(ctx context.Context, batch *models.SentimentBatch, docs []models.SentimentBatchDocument) error
	RemoveDocuments(ctx context.Context, batchPK uint, ids []uint) error
	MarkFailed(ctx context.Context, batchID, msg string, at time.Time) error
	CostSince(ctx context.Context, since time.Time) (float64, error)
	DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error)
}

// PostStore exposes the post state transitions driven by sentiment processing
type PostStore interface {
	ListPending(ctx context.Context, limit int) ([]models.SocialPost, error)
	MarkQueued(ctx context.Context, ids []uint) error
	ResetToPending(ctx context.Context, ids []uint) error
	MarkProcessed(ctx context.Context, id uint, score float64, label string) error
	MarkFailed(ctx context.Context, id uint) error
}

// DocumentInput is one text to place in a new batch
type DocumentInput struct {
	PostID     *uint
	Text       string
	Keywords   []string
	Engagement int64
	PostedAt   time.Time
}

// BatchRequest describes a batch to create
type BatchRequest struct {
	Platform        models.Platform
	KeywordCategory string
	// ProcessingDate is YYYY-MM-DD; empty means today in UTC
	ProcessingDate string
	Priority       models.Priority
	// CostLimit of zero uses the service default
	CostLimit float64
	Documents []DocumentInput
}

// BatchService manages the stored lifecycle of sentiment batches
type BatchService struct {
	batches     BatchStore
	posts       PostStore
	processor   *Processor
	opts        Options
	dailyBudget float64
	now         func() time.Time
}

// NewBatchService creates a batch service. dailyBudget of zero disables the daily guard.
func NewBatchService(batches BatchStore, posts PostStore, processor *Processor, opts Options, dailyBudget float64) *BatchService {
	return &BatchService{
		batches:     batches,
		posts:       posts,
		processor:   processor,
		opts:        opts,
		dailyBudget: dailyBudget,
		now:         time.Now,
	}
}

// SetClock replaces the time source
func (s *BatchService) SetClock(now func() time.Time) {
	s.now = now
}

// CreateBatch stores a pending batch with its documents
func (s *BatchService) CreateBatch(ctx context.Context, req BatchRequest) (*models.SentimentBatch, error) {
	if len(req.Documents) == 0 {
		return nil, errors.New("batch has no documents")
	}
	if err := s.checkDailyBudget(ctx); err != nil {
		return nil, err
	}

	date := req.ProcessingDate
	if date == "" {
		date = s.now().UTC().Format(time.DateOnly)
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return nil, fmt.Errorf("invalid processing date %q: %w", date, err)
	}
	category := req.KeywordCategory
	if category == "" {
		category = CategoryGeneral
	}
	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	costLimit := req.CostLimit
	if costLimit == 0 {
		costLimit = s.opts.CostLimit
	}

	batch := &models.SentimentBatch{
		BatchID:         "batch_" + uuid.NewString(),
		Status:          models.BatchStatusPending,
		Platform:        req.Platform,
		KeywordCategory: category,
		ProcessingDate:  date,
		Priority:        priority,
		TotalDocuments:  len(req.Documents),
		CostLimit:       costLimit,
	}

	docs := make([]models.SentimentBatchDocument, len(req.Documents))
	for i, in := range req.Documents {
		docs[i] = models.SentimentBatchDocument{
			DocumentIndex:   i,
			PostID:          in.PostID,
			Platform:        req.Platform,
			KeywordCategory: category,
			ProcessingDate:  date,
			Keywords:        in.Keywords,
			Text:            in.Text,
			Engagement:      in.Engagement,
			PostedAt:        in.PostedAt.UTC(),
			Status:          models.DocumentStatusPending,
		}
	}

	if err := s.batches.CreateWithDocuments(ctx, batch, docs); err != nil {
		return nil, fmt.Errorf("failed to create sentiment batch: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"batch_id":  batch.BatchID,
		"platform":  batch.Platform,
		"category":  batch.KeywordCategory,
		"documents": batch.TotalDocuments,
	}).Info("Created sentiment batch")
	return batch, nil
}

type batchKey struct {
	platform models.Platform
	category string
	date     string
}

// CreateBatchFromPosts groups up to limit pending posts by platform, category and
// posting day, creates one batch per group and marks the posts queued
func (s *BatchService) CreateBatchFromPosts(ctx context.Context, limit int) ([]*models.SentimentBatch, error) {
	posts, err := s.posts.ListPending(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending posts: %w", err)
	}
	if len(posts) == 0 {
		return nil, nil
	}

	groups := make(map[batchKey][]models.SocialPost)
	var keys []batchKey
	for _, post := range posts {
		key := batchKey{
			platform: post.Platform,
			category: DetermineCategory(post.Content, post.MatchedKeywords),
			date:     post.PostedAt.UTC().Format(time.DateOnly),
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], post)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].date != keys[j].date {
			return keys[i].date < keys[j].date
		}
		if keys[i].platform != keys[j].platform {
			return keys[i].platform < keys[j].platform
		}
		return keys[i].category < keys[j].category
	})

	var created []*models.SentimentBatch
	for _, key := range keys {
		group := groups[key]
		docs := make([]DocumentInput, len(group))
		ids := make([]uint, len(group))
		for i, post := range group {
			id := post.ID
			ids[i] = id
			docs[i] = DocumentInput{
				PostID:     &id,
				Text:       post.Content,
				Keywords:   post.MatchedKeywords,
				Engagement: post.TotalEngagement(),
				PostedAt:   post.PostedAt,
			}
		}

		batch, err := s.CreateBatch(ctx, BatchRequest{
			Platform:        key.platform,
			KeywordCategory: key.category,
			ProcessingDate:  key.date,
			Documents:       docs,
		})
		if err != nil {
			return created, err
		}
		if err := s.posts.MarkQueued(ctx, ids); err != nil {
			return created, fmt.Errorf("failed to mark posts queued: %w", err)
		}
		created = append(created, batch)
	}
	return created, nil
}

// ProcessStoredBatch analyses the pending documents of a stored batch and persists the results
func (s *BatchService) ProcessStoredBatch(ctx context.Context, batchID string) (*models.SentimentBatch, error) {
	batch, err := s.batches.GetByBatchID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	if batch.Status == models.BatchStatusCompleted {
		return batch, nil
	}

	log := logrus.WithField("batch_id", batchID)
	started := s.now().UTC()
	batch.Status = models.BatchStatusProcessing
	batch.StartedAt = &started
	batch.ErrorMessage = ""
	if err := s.batches.Update(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to mark batch %s processing: %w", batchID, err)
	}

	docs, err := s.batches.Documents(ctx, batch.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents of batch %s: %w", batchID, err)
	}

	var pending []int
	texts := make([]Text, 0, len(docs))
	for i, doc := range docs {
		if doc.Status != models.DocumentStatusPending {
			continue
		}
		pending = append(pending, i)
		texts = append(texts, Text{Key: fmt.Sprint(doc.ID), Content: doc.Text})
	}

	var outcome *BatchOutcome
	remaining := batch.CostLimit - batch.ProcessingCost
	if batch.CostLimit > 0 && remaining <= 0 {
		outcome = unsubmitted(texts)
	} else {
		opts := s.opts
		opts.CostLimit = max(remaining, 0)
		outcome, err = s.processor.ProcessBatch(ctx, texts, opts)
		if err != nil && !errors.Is(err, ErrCostLimitReached) {
			s.MarkFailed(ctx, batchID, err)
			return nil, err
		}
	}

	changed := make([]models.SentimentBatchDocument, 0, len(pending))
	for n, idx := range pending {
		applyResult(&docs[idx], outcome.Results[n])
		changed = append(changed, docs[idx])
	}
	if outcome.CostLimitReached {
		docs, changed = s.releaseUnsubmitted(ctx, batch, docs, changed)
	}

	completed := s.now().UTC()
	batch.Status = models.BatchStatusCompleted
	batch.CompletedAt = &completed
	batch.ProcessingCost = round(batch.ProcessingCost+outcome.TotalCost, 6)
	batch.CostLimitReached = outcome.CostLimitReached
	summarize(batch, docs, completed.Sub(started))

	if err := s.batches.SaveResults(ctx, batch, changed); err != nil {
		s.MarkFailed(ctx, batchID, err)
		return nil, fmt.Errorf("failed to save results of batch %s: %w", batchID, err)
	}

	s.updatePosts(ctx, changed)

	log.WithFields(logrus.Fields{
		"processed":          batch.ProcessedDocuments,
		"failed":             batch.FailedDocuments,
		"invalid":            batch.InvalidDocuments,
		"skipped":            batch.SkippedDocuments,
		"cost":               batch.ProcessingCost,
		"cost_limit_reached": batch.CostLimitReached,
	}).Info("Sentiment batch completed")
	return batch, nil
}

// RetryFailedDocuments resets failed documents to pending and processes the batch again
func (s *BatchService) RetryFailedDocuments(ctx context.Context, batchID string) (*models.SentimentBatch, error) {
	batch, err := s.batches.GetByBatchID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	if batch == nil {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}

	failed, err := s.batches.Documents(ctx, batch.ID, models.DocumentStatusFailed)
	if err != nil {
		return nil, fmt.Errorf("failed to load failed documents of batch %s: %w", batchID, err)
	}
	if len(failed) == 0 {
		return batch, nil
	}

	for i := range failed {
		failed[i].Status = models.DocumentStatusPending
		failed[i].ErrorMessage = ""
	}
	batch.Status = models.BatchStatusPending
	batch.FailedDocuments = 0
	batch.CompletedAt = nil
	if err := s.batches.SaveResults(ctx, batch, failed); err != nil {
		return nil, fmt.Errorf("failed to reset documents of batch %s: %w", batchID, err)
	}

	logrus.WithFields(logrus.Fields{
		"batch_id":  batchID,
		"documents": len(failed),
	}).Info("Retrying failed sentiment documents")
	return s.ProcessStoredBatch(ctx, batchID)
}

// CleanupCompletedBatches deletes completed batches older than olderThan.
// A non-positive value uses DefaultRetention.
func (s *BatchService) CleanupCompletedBatches(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		olderThan = DefaultRetention
	}
	deleted, err := s.batches.DeleteCompletedBefore(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up sentiment batches: %w", err)
	}
	if deleted > 0 {
		logrus.Infof("Deleted %d completed sentiment batches", deleted)
	}
	return deleted, nil
}

// MarkFailed records a permanent batch failure. Storage errors are logged only.
func (s *BatchService) MarkFailed(ctx context.Context, batchID string, cause error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	if err := s.batches.MarkFailed(ctx, batchID, msg, s.now()); err != nil {
		logrus.WithError(err).WithField("batch_id", batchID).Error("Failed to mark sentiment batch failed")
	}
}

// SpentToday returns the sentiment cost of batches started today in UTC
func (s *BatchService) SpentToday(ctx context.Context) (float64, error) {
	now := s.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return s.batches.CostSince(ctx, midnight)
}

func (s *BatchService) checkDailyBudget(ctx context.Context) error {
	if s.dailyBudget <= 0 {
		return nil
	}
	spent, err := s.SpentToday(ctx)
	if err != nil {
		return fmt.Errorf("failed to read daily sentiment spend: %w", err)
	}
	if spent >= s.dailyBudget {
		return fmt.Errorf("%w: spent %.4f of %.2f", ErrDailyBudgetExceeded, spent, s.dailyBudget)
	}
	return nil
}

func (s *BatchService) updatePosts(ctx context.Context, docs []models.SentimentBatchDocument) {
	for _, doc := range docs {
		if doc.PostID == nil {
			continue
		}
		var err error
		switch doc.Status {
		case models.DocumentStatusCompleted:
			err = s.posts.MarkProcessed(ctx, *doc.PostID, *doc.SentimentScore, doc.Label)
		case models.DocumentStatusFailed, models.DocumentStatusInvalid, models.DocumentStatusSkipped:
			err = s.posts.MarkFailed(ctx, *doc.PostID)
		default:
			continue
		}
		if err != nil {
			logrus.WithError(err).WithField("post_id", *doc.PostID).Warn("Failed to update post sentiment status")
		}
	}
}

// releaseUnsubmitted settles documents the cost limit kept from submission so
// a completed batch never strands work. Post-backed documents leave the batch
// and their posts return to the pending pool; free-text documents are skipped.
func (s *BatchService) releaseUnsubmitted(ctx context.Context, batch *models.SentimentBatch, docs, changed []models.SentimentBatchDocument) ([]models.SentimentBatchDocument, []models.SentimentBatchDocument) {
	released := make(map[uint]bool)
	var docIDs, postIDs []uint
	for _, doc := range changed {
		if doc.Status == models.DocumentStatusPending && doc.PostID != nil {
			released[doc.ID] = true
			docIDs = append(docIDs, doc.ID)
			postIDs = append(postIDs, *doc.PostID)
		}
	}

	log := logrus.WithField("batch_id", batch.BatchID)
	if len(docIDs) > 0 {
		if err := s.batches.RemoveDocuments(ctx, batch.ID, docIDs); err != nil {
			log.WithError(err).Warn("Failed to release unsubmitted documents")
			released = nil
		} else if err := s.posts.ResetToPending(ctx, postIDs); err != nil {
			log.WithError(err).Warn("Failed to return unsubmitted posts to the pending pool")
		} else {
			log.WithField("posts", len(postIDs)).Info("Returned unsubmitted posts to the pending pool")
		}
	}

	settle := func(in []models.SentimentBatchDocument) []models.SentimentBatchDocument {
		out := make([]models.SentimentBatchDocument, 0, len(in))
		for _, doc := range in {
			if released[doc.ID] {
				continue
			}
			if doc.Status == models.DocumentStatusPending {
				doc.Status = models.DocumentStatusSkipped
				doc.ErrorMessage = ErrCostLimitReached.Error()
			}
			out = append(out, doc)
		}
		return out
	}
	kept := settle(docs)
	batch.TotalDocuments = len(kept)
	return kept, settle(changed)
}

// unsubmitted is the outcome of a batch whose cost limit is already spent
func unsubmitted(texts []Text) *BatchOutcome {
	out := &BatchOutcome{Results: make([]Result, len(texts)), CostLimitReached: true, Pending: len(texts)}
	for i, t := range texts {
		out.Results[i] = Result{Index: i, Key: t.Key, Status: models.DocumentStatusPending}
	}
	return out
}

func applyResult(doc *models.SentimentBatchDocument, r Result) {
	doc.Status = r.Status
	doc.Attempts += r.Attempts
	doc.Cost = round(doc.Cost+r.Cost, 6)
	doc.ValidationError = r.ValidationError
	doc.ErrorMessage = r.Error
	doc.Valid = r.Status == models.DocumentStatusCompleted
	if doc.Valid {
		doc.SentimentScore = r.Score
		doc.Magnitude = r.Magnitude
		doc.Label = r.Label
		doc.Confidence = r.Confidence
		doc.Language = r.Language
	}
}

// summarize recounts the batch totals from every document and derives the stats
func summarize(batch *models.SentimentBatch, docs []models.SentimentBatchDocument, took time.Duration) {
	batch.ProcessedDocuments = 0
	batch.FailedDocuments = 0
	batch.InvalidDocuments = 0
	batch.SkippedDocuments = 0

	var scoreSum, magnitudeSum float64
	for _, doc := range docs {
		switch doc.Status {
		case models.DocumentStatusCompleted:
			batch.ProcessedDocuments++
			scoreSum += *doc.SentimentScore
			magnitudeSum += *doc.Magnitude
		case models.DocumentStatusFailed:
			batch.FailedDocuments++
		case models.DocumentStatusInvalid:
			batch.InvalidDocuments++
		case models.DocumentStatusSkipped:
			batch.SkippedDocuments++
		}
	}

	stats := &models.BatchStats{DurationSeconds: round(took.Seconds(), 3)}
	attempted := batch.ProcessedDocuments + batch.FailedDocuments + batch.InvalidDocuments
	if attempted > 0 {
		stats.SuccessRate = round(float64(batch.ProcessedDocuments)/float64(attempted)*100, 2)
		stats.CostPerDocument = round(batch.ProcessingCost/float64(attempted), 4)
	}
	if batch.ProcessedDocuments > 0 {
		stats.AvgSentiment = round(scoreSum/float64(batch.ProcessedDocuments), 4)
		stats.AvgMagnitude = round(magnitudeSum/float64(batch.ProcessedDocuments), 4)
	}
	batch.Stats = stats
}
