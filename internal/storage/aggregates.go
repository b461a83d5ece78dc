package storage

import (
	"context"
	"errors"

	"github.com/chainscope/social-pulse/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AggregateRepository provides daily aggregate persistence
type AggregateRepository struct {
	db *gorm.DB
}

// NewAggregateRepository creates a new aggregate repository
func NewAggregateRepository(db *DB) *AggregateRepository {
	return &AggregateRepository{db: db.DB}
}

// Upsert inserts the aggregate or replaces every column of the row with the same key
func (r *AggregateRepository) Upsert(ctx context.Context, agg *models.DailySentimentAggregate) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "aggregate_date"},
				{Name: "platform"},
				{Name: "keyword_category"},
			},
			UpdateAll: true,
		}).
		Create(agg).Error
}

// Get returns the aggregate for the key or nil
func (r *AggregateRepository) Get(ctx context.Context, date string, platform models.Platform, keyword string) (*models.DailySentimentAggregate, error) {
	var agg models.DailySentimentAggregate
	err := r.db.WithContext(ctx).
		Where("aggregate_date = ? AND platform = ? AND keyword_category = ?", date, platform, keyword).
		First(&agg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &agg, nil
}

// ListByDate returns every aggregate of a date ordered by platform and keyword
func (r *AggregateRepository) ListByDate(ctx context.Context, date string) ([]models.DailySentimentAggregate, error) {
	var aggs []models.DailySentimentAggregate
	err := r.db.WithContext(ctx).
		Where("aggregate_date = ?", date).
		Order("platform, keyword_category").
		Find(&aggs).Error
	return aggs, err
}
