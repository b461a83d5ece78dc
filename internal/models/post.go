package models

import "time"

// Post processing states
const (
	PostStatusPending   = "pending"
	PostStatusQueued    = "queued"
	PostStatusProcessed = "processed"
	PostStatusFailed    = "failed"
)

// Engagement weights used for the content score
const (
	LikeWeight    = 1.0
	ShareWeight   = 2.0
	CommentWeight = 1.5
	ViewWeight    = 0.1
)

// SocialPost is a platform post normalized into the common schema.
// (Platform, ExternalID) is unique; writes are insert-or-skip.
type SocialPost struct {
	ID         uint     `gorm:"primaryKey" json:"id"`
	Platform   Platform `gorm:"size:32;not null;uniqueIndex:idx_platform_external" json:"platform"`
	ExternalID string   `gorm:"size:191;not null;uniqueIndex:idx_platform_external" json:"external_id"`
	PostType   string   `gorm:"size:32" json:"post_type"`
	Content    string   `gorm:"type:text" json:"content"`
	URL        string   `gorm:"type:text" json:"url"`
	Language   string   `gorm:"size:16" json:"language"`

	AuthorID          string `gorm:"size:191" json:"author_id"`
	AuthorUsername    string `gorm:"size:191;index" json:"author_username"`
	AuthorDisplayName string `gorm:"size:191" json:"author_display_name"`
	AuthorFollowers   int64  `json:"author_followers"`
	AuthorVerified    bool   `json:"author_verified"`

	Likes           int64   `json:"likes"`
	Shares          int64   `json:"shares"`
	Comments        int64   `json:"comments"`
	Views           int64   `json:"views"`
	EngagementScore float64 `json:"engagement_score"`

	Hashtags []string               `gorm:"type:text;serializer:json" json:"hashtags"`
	Mentions []string               `gorm:"type:text;serializer:json" json:"mentions"`
	URLs     []string               `gorm:"type:text;serializer:json" json:"urls"`
	Metadata map[string]interface{} `gorm:"type:text;serializer:json" json:"metadata"`

	MatchedKeywords []string `gorm:"type:text;serializer:json" json:"matched_keywords"`
	MatchedHashtags []string `gorm:"type:text;serializer:json" json:"matched_hashtags"`
	CrawlRuleID     uint     `gorm:"index" json:"crawl_rule_id"`

	PostedAt         time.Time `gorm:"index" json:"posted_at"`
	ProcessingStatus string    `gorm:"size:16;index;not null;default:pending" json:"processing_status"`
	SentimentScore   *float64  `json:"sentiment_score,omitempty"`
	SentimentLabel   string    `gorm:"size:16" json:"sentiment_label,omitempty"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the default table name
func (SocialPost) TableName() string {
	return "social_media_posts"
}

// TotalEngagement is the raw interaction count used to weight sentiment
func (p *SocialPost) TotalEngagement() int64 {
	return p.Likes + p.Shares + p.Comments
}

// ComputeEngagementScore applies the weighted content score formula
func ComputeEngagementScore(likes, shares, comments, views int64) float64 {
	return float64(likes)*LikeWeight +
		float64(shares)*ShareWeight +
		float64(comments)*CommentWeight +
		float64(views)*ViewWeight
}
