package storage

import (
	"context"
	"errors"
	"time"

	"github.com/chainscope/social-pulse/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostRepository provides normalized post persistence
type PostRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *DB) *PostRepository {
	return &PostRepository{db: db.DB}
}

// CreateIfNotExists inserts post unless (platform, external_id) is already stored.
// When the post exists, post is overwritten with the stored row and created is false.
func (r *PostRepository) CreateIfNotExists(ctx context.Context, post *models.SocialPost) (bool, error) {
	if post.ProcessingStatus == "" {
		post.ProcessingStatus = models.PostStatusPending
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "platform"}, {Name: "external_id"}},
			DoNothing: true,
		}).
		Create(post)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	existing, err := r.GetByExternalID(ctx, post.Platform, post.ExternalID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		*post = *existing
	}
	return false, nil
}

// GetByExternalID returns the stored post or nil
func (r *PostRepository) GetByExternalID(ctx context.Context, platform models.Platform, externalID string) (*models.SocialPost, error) {
	var post models.SocialPost
	err := r.db.WithContext(ctx).
		Where("platform = ? AND external_id = ?", platform, externalID).
		First(&post).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &post, nil
}

// CountForRuleSince counts posts stored for ruleID since the given time
func (r *PostRepository) CountForRuleSince(ctx context.Context, ruleID uint, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SocialPost{}).
		Where("crawl_rule_id = ? AND created_at >= ?", ruleID, since.UTC()).
		Count(&count).Error
	return count, err
}

// ListPending returns posts waiting for sentiment analysis, oldest first
func (r *PostRepository) ListPending(ctx context.Context, limit int) ([]models.SocialPost, error) {
	var posts []models.SocialPost
	query := r.db.WithContext(ctx).
		Where("processing_status = ?", models.PostStatusPending).
		Order("id")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&posts).Error
	return posts, err
}

// MarkQueued flags posts that were placed in a sentiment batch
func (r *PostRepository) MarkQueued(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.SocialPost{}).
		Where("id IN ?", ids).
		Update("processing_status", models.PostStatusQueued).Error
}

// ResetToPending returns queued posts to the pending pool
func (r *PostRepository) ResetToPending(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.SocialPost{}).
		Where("id IN ?", ids).
		Update("processing_status", models.PostStatusPending).Error
}

// MarkProcessed stores the sentiment outcome of a post
func (r *PostRepository) MarkProcessed(ctx context.Context, id uint, score float64, label string) error {
	return r.db.WithContext(ctx).
		Model(&models.SocialPost{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing_status": models.PostStatusProcessed,
			"sentiment_score":   score,
			"sentiment_label":   label,
		}).Error
}

// MarkFailed flags a post whose analysis could not complete
func (r *PostRepository) MarkFailed(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).
		Model(&models.SocialPost{}).
		Where("id = ?", id).
		Update("processing_status", models.PostStatusFailed).Error
}
