package storage

import (
	"context"
	"errors"

	"github.com/chainscope/social-pulse/internal/models"
	"gorm.io/gorm"
)

// RuleRepository provides crawl rule persistence
type RuleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *DB) *RuleRepository {
	return &RuleRepository{db: db.DB}
}

// GetByID returns the rule or nil when it does not exist
func (r *RuleRepository) GetByID(ctx context.Context, id uint) (*models.CrawlRule, error) {
	var rule models.CrawlRule
	if err := r.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

// GetByName returns the rule or nil when it does not exist
func (r *RuleRepository) GetByName(ctx context.Context, name string) (*models.CrawlRule, error) {
	var rule models.CrawlRule
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

// ListActive returns active rules, highest priority first
func (r *RuleRepository) ListActive(ctx context.Context) ([]*models.CrawlRule, error) {
	var rules []*models.CrawlRule
	err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("id").
		Find(&rules).Error
	if err != nil {
		return nil, err
	}
	sortByPriority(rules)
	return rules, nil
}

// Create inserts a new rule
func (r *RuleRepository) Create(ctx context.Context, rule *models.CrawlRule) error {
	return r.db.WithContext(ctx).Create(rule).Error
}

// Save writes every column of the rule
func (r *RuleRepository) Save(ctx context.Context, rule *models.CrawlRule) error {
	return r.db.WithContext(ctx).Save(rule).Error
}

// SaveStats adds the last crawl's counts to the stored totals and writes the
// last crawl snapshot. Totals are incremented in SQL so concurrent crawls of
// the same rule do not overwrite each other; the rule is refreshed with the
// stored totals afterwards.
func (r *RuleRepository) SaveStats(ctx context.Context, rule *models.CrawlRule) error {
	var found, processed int
	if rule.LastCrawlStats != nil {
		found = rule.LastCrawlStats.PostsFound
		processed = rule.LastCrawlStats.PostsProcessed
	}

	db := r.db.WithContext(ctx)
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.CrawlRule{}).
			Where("id = ?", rule.ID).
			Updates(map[string]interface{}{
				"total_posts_found":     gorm.Expr("total_posts_found + ?", found),
				"total_posts_processed": gorm.Expr("total_posts_processed + ?", processed),
			}).Error; err != nil {
			return err
		}
		return tx.Model(rule).
			Select("last_crawl_at", "last_crawl_stats").
			Updates(rule).Error
	})
	if err != nil {
		return err
	}

	var totals struct {
		TotalPostsFound     int64
		TotalPostsProcessed int64
	}
	if err := db.Model(&models.CrawlRule{}).
		Select("total_posts_found", "total_posts_processed").
		Where("id = ?", rule.ID).
		Scan(&totals).Error; err != nil {
		return err
	}
	rule.TotalPostsFound = totals.TotalPostsFound
	rule.TotalPostsProcessed = totals.TotalPostsProcessed
	return nil
}

// SavePerformance writes only the performance metrics blob
func (r *RuleRepository) SavePerformance(ctx context.Context, rule *models.CrawlRule) error {
	return r.db.WithContext(ctx).
		Model(rule).
		Select("performance_metrics").
		Updates(rule).Error
}

// UpsertDefinition creates the rule or replaces the definition of the rule with the same name.
// Crawl statistics of an existing rule are preserved.
func (r *RuleRepository) UpsertDefinition(ctx context.Context, rule *models.CrawlRule) (bool, error) {
	existing, err := r.GetByName(ctx, rule.Name)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return true, r.Create(ctx, rule)
	}

	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	rule.TotalPostsFound = existing.TotalPostsFound
	rule.TotalPostsProcessed = existing.TotalPostsProcessed
	rule.LastCrawlAt = existing.LastCrawlAt
	rule.LastCrawlStats = existing.LastCrawlStats
	rule.PerformanceMetrics = existing.PerformanceMetrics
	return false, r.Save(ctx, rule)
}

var priorityRank = map[models.Priority]int{
	models.PriorityUrgent: 0,
	models.PriorityHigh:   1,
	models.PriorityNormal: 2,
	models.PriorityLow:    3,
}

func sortByPriority(rules []*models.CrawlRule) {
	rank := func(p models.Priority) int {
		if r, ok := priorityRank[p]; ok {
			return r
		}
		return priorityRank[models.PriorityNormal]
	}
	// insertion sort keeps id order stable within a priority
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rank(rules[j].Priority) < rank(rules[j-1].Priority); j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}
