package aggregate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chainscope/social-pulse/internal/metrics"
	"github.com/chainscope/social-pulse/internal/models"
	"github.com/chainscope/social-pulse/internal/storage"
	"github.com/sirupsen/logrus"
)

// DocumentSource returns the finished documents of a processing date.
// Empty platform or keyword means no filter.
type DocumentSource interface {
	DocumentsForDay(ctx context.Context, date string, platform models.Platform, keyword string) ([]models.SentimentBatchDocument, error)
}

// Store persists aggregate rows
type Store interface {
	Upsert(ctx context.Context, agg *models.DailySentimentAggregate) error
	ListByDate(ctx context.Context, date string) ([]models.DailySentimentAggregate, error)
}

// Engine regenerates daily aggregates from batch documents
type Engine struct {
	docs    DocumentSource
	store   Store
	archive storage.ArchiveInterface
	now     func() time.Time
}

// NewEngine creates an aggregate engine. archive may be nil when exports are disabled.
func NewEngine(docs DocumentSource, store Store, archive storage.ArchiveInterface) *Engine {
	return &Engine{
		docs:    docs,
		store:   store,
		archive: archive,
		now:     time.Now,
	}
}

// GenerateDailyAggregates recomputes and upserts every aggregate of date, optionally
// narrowed to one platform and keyword category. When both are given the key is
// explicit and a key without valid documents returns ErrNoValidDocuments; during a
// sweep such keys are skipped.
func (e *Engine) GenerateDailyAggregates(ctx context.Context, date string, platform models.Platform, keyword string) ([]models.DailySentimentAggregate, error) {
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return nil, fmt.Errorf("invalid aggregate date %q: %w", date, err)
	}
	explicit := platform != "" && keyword != ""
	log := logrus.WithFields(logrus.Fields{
		"date":     date,
		"platform": platform,
		"keyword":  keyword,
	})

	docs, err := e.docs.DocumentsForDay(ctx, date, platform, keyword)
	if err != nil {
		return nil, fmt.Errorf("failed to load documents for %s: %w", date, err)
	}

	groups := make(map[Key][]models.SentimentBatchDocument)
	for _, doc := range docs {
		key := KeyOf(doc)
		groups[key] = append(groups[key], doc)
	}
	if explicit && len(groups) == 0 {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrNoValidDocuments, date, platform, keyword)
	}

	keys := make([]Key, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Platform != keys[j].Platform {
			return keys[i].Platform < keys[j].Platform
		}
		return keys[i].KeywordCategory < keys[j].KeywordCategory
	})

	out := make([]models.DailySentimentAggregate, 0, len(keys))
	for _, key := range keys {
		agg, err := Compute(key, groups[key])
		if errors.Is(err, ErrNoValidDocuments) {
			if explicit {
				return nil, fmt.Errorf("%w: %s/%s/%s", err, key.Date, key.Platform, key.KeywordCategory)
			}
			log.WithFields(logrus.Fields{
				"key_platform": key.Platform,
				"key_keyword":  key.KeywordCategory,
				"documents":    len(groups[key]),
			}).Warn("Skipping aggregate without valid documents")
			continue
		}
		if err != nil {
			return nil, err
		}

		if err := e.store.Upsert(ctx, agg); err != nil {
			return nil, fmt.Errorf("failed to upsert aggregate %s/%s/%s: %w", key.Date, key.Platform, key.KeywordCategory, err)
		}
		metrics.AggregatesWritten.Inc()
		out = append(out, *agg)
	}

	log.WithField("aggregates", len(out)).Info("Daily aggregates generated")
	return out, nil
}

type export struct {
	Date        string                           `json:"date"`
	GeneratedAt time.Time                        `json:"generated_at"`
	Aggregates  []models.DailySentimentAggregate `json:"aggregates"`
}

// ExportDay writes the stored aggregates of date as JSON to the archive and returns the blob name
func (e *Engine) ExportDay(ctx context.Context, date string) (string, error) {
	if e.archive == nil {
		return "", errors.New("no archive configured")
	}
	aggs, err := e.store.ListByDate(ctx, date)
	if err != nil {
		return "", fmt.Errorf("failed to list aggregates for %s: %w", date, err)
	}

	data, err := json.MarshalIndent(export{
		Date:        date,
		GeneratedAt: e.now().UTC(),
		Aggregates:  aggs,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode aggregates: %w", err)
	}

	name := fmt.Sprintf("aggregates/%s.json", date)
	if err := e.archive.Store(ctx, name, data); err != nil {
		return "", fmt.Errorf("failed to archive aggregates for %s: %w", date, err)
	}
	logrus.WithFields(logrus.Fields{"date": date, "blob": name, "aggregates": len(aggs)}).Info("Exported daily aggregates")
	return name, nil
}

// Digest summarises the stored aggregates of date for notifications
func (e *Engine) Digest(ctx context.Context, date string) (*models.Digest, error) {
	aggs, err := e.store.ListByDate(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregates for %s: %w", date, err)
	}
	return BuildDigest(date, aggs, e.now()), nil
}

// BuildDigest computes overall totals across aggregates
func BuildDigest(date string, aggs []models.DailySentimentAggregate, now time.Time) *models.Digest {
	var total, analyzed, positive, negative int
	var weighted float64
	platforms := map[string]int{}
	var mostNegative *models.DailySentimentAggregate

	for i := range aggs {
		agg := &aggs[i]
		total += agg.TotalPosts
		analyzed += agg.AnalyzedPosts
		positive += agg.PositiveCount
		negative += agg.NegativeCount
		weighted += agg.AvgSentimentScore * float64(agg.AnalyzedPosts)
		platforms[string(agg.Platform)] += agg.AnalyzedPosts
		if mostNegative == nil || agg.AvgSentimentScore < mostNegative.AvgSentimentScore {
			mostNegative = agg
		}
	}

	summary := map[string]interface{}{
		"aggregates":     len(aggs),
		"total_posts":    total,
		"analyzed_posts": analyzed,
		"positive_posts": positive,
		"negative_posts": negative,
		"platforms":      platforms,
	}
	if analyzed > 0 {
		summary["avg_sentiment"] = round(weighted/float64(analyzed), 4)
	}
	if mostNegative != nil {
		summary["most_negative"] = fmt.Sprintf("%s/%s", mostNegative.Platform, mostNegative.KeywordCategory)
	}

	return &models.Digest{
		Date:        date,
		GeneratedAt: now.UTC(),
		Aggregates:  aggs,
		Summary:     summary,
	}
}
