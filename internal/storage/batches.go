package storage

import (
	"context"
	"errors"
	"time"

	"github.com/chainscope/social-pulse/internal/models"
	"gorm.io/gorm"
)

// BatchRepository provides sentiment batch and document persistence
type BatchRepository struct {
	db *gorm.DB
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *DB) *BatchRepository {
	return &BatchRepository{db: db.DB}
}

// CreateWithDocuments inserts the batch and its documents atomically
func (r *BatchRepository) CreateWithDocuments(ctx context.Context, batch *models.SentimentBatch, docs []models.SentimentBatchDocument) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(batch).Error; err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		for i := range docs {
			docs[i].SentimentBatchID = batch.ID
		}
		return tx.CreateInBatches(docs, 100).Error
	})
}

// GetByBatchID returns the batch or nil
func (r *BatchRepository) GetByBatchID(ctx context.Context, batchID string) (*models.SentimentBatch, error) {
	var batch models.SentimentBatch
	if err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).First(&batch).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &batch, nil
}

// Documents returns the documents of a batch in submission order, optionally filtered by status
func (r *BatchRepository) Documents(ctx context.Context, batchPK uint, statuses ...string) ([]models.SentimentBatchDocument, error) {
	var docs []models.SentimentBatchDocument
	query := r.db.WithContext(ctx).Where("sentiment_batch_id = ?", batchPK)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	err := query.Order("document_index").Find(&docs).Error
	return docs, err
}

// Update writes every column of the batch
func (r *BatchRepository) Update(ctx context.Context, batch *models.SentimentBatch) error {
	return r.db.WithContext(ctx).Save(batch).Error
}

// SaveResults writes the batch row and the analysed documents in one transaction
func (r *BatchRepository) SaveResults(ctx context.Context, batch *models.SentimentBatch, docs []models.SentimentBatchDocument) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range docs {
			if err := tx.Save(&docs[i]).Error; err != nil {
				return err
			}
		}
		return tx.Save(batch).Error
	})
}

// RemoveDocuments deletes documents of a batch that were never analysed
func (r *BatchRepository) RemoveDocuments(ctx context.Context, batchPK uint, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Where("sentiment_batch_id = ? AND id IN ?", batchPK, ids).
		Delete(&models.SentimentBatchDocument{}).Error
}

// MarkFailed sets the batch status to failed with msg
func (r *BatchRepository) MarkFailed(ctx context.Context, batchID, msg string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.SentimentBatch{}).
		Where("batch_id = ?", batchID).
		Updates(map[string]interface{}{
			"status":        models.BatchStatusFailed,
			"error_message": msg,
			"completed_at":  at.UTC(),
		}).Error
}

// CostSince sums the processing cost of batches started since the given time
func (r *BatchRepository) CostSince(ctx context.Context, since time.Time) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).
		Model(&models.SentimentBatch{}).
		Select("COALESCE(SUM(processing_cost), 0)").
		Where("started_at >= ?", since.UTC()).
		Scan(&total).Error
	return total, err
}

// DocumentsForDay returns finished documents of one processing date.
// Empty platform or keyword means no filter on that column.
func (r *BatchRepository) DocumentsForDay(ctx context.Context, date string, platform models.Platform, keyword string) ([]models.SentimentBatchDocument, error) {
	var docs []models.SentimentBatchDocument
	query := r.db.WithContext(ctx).
		Where("processing_date = ?", date).
		Where("status IN ?", []string{
			models.DocumentStatusCompleted,
			models.DocumentStatusInvalid,
			models.DocumentStatusSkipped,
		})
	if platform != "" {
		query = query.Where("platform = ?", platform)
	}
	if keyword != "" {
		query = query.Where("keyword_category = ?", keyword)
	}
	err := query.Order("id").Find(&docs).Error
	return docs, err
}

// DeleteCompletedBefore removes completed batches finished before the cutoff together with their documents
func (r *BatchRepository) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&models.SentimentBatch{}).
			Where("status = ? AND completed_at < ?", models.BatchStatusCompleted, before.UTC()).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("sentiment_batch_id IN ?", ids).Delete(&models.SentimentBatchDocument{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", ids).Delete(&models.SentimentBatch{})
		deleted = result.RowsAffected
		return result.Error
	})
	return deleted, err
}
