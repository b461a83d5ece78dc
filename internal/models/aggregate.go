package models

// DailySentimentAggregate is the derived daily summary for (date, platform, keyword category).
// It is regenerated from source documents, so it carries no wall-clock columns.
type DailySentimentAggregate struct {
	ID              uint     `gorm:"primaryKey" json:"id"`
	AggregateDate   string   `gorm:"size:10;not null;uniqueIndex:idx_aggregate_key" json:"aggregate_date"`
	Platform        Platform `gorm:"size:32;not null;uniqueIndex:idx_aggregate_key" json:"platform"`
	KeywordCategory string   `gorm:"size:64;not null;uniqueIndex:idx_aggregate_key" json:"keyword_category"`

	TotalPosts    int `json:"total_posts"`
	AnalyzedPosts int `json:"analyzed_posts"`
	InvalidPosts  int `json:"invalid_posts"`

	AvgSentimentScore      float64 `json:"avg_sentiment_score"`
	WeightedSentimentScore float64 `json:"weighted_sentiment_score"`
	AvgMagnitude           float64 `json:"avg_magnitude"`
	AvgConfidence          float64 `json:"avg_confidence"`
	Volatility             float64 `json:"volatility"`
	MinSentiment           float64 `json:"min_sentiment"`
	MaxSentiment           float64 `json:"max_sentiment"`

	VeryPositiveCount int `json:"very_positive_count"`
	PositiveBandCount int `json:"positive_band_count"`
	NeutralBandCount  int `json:"neutral_band_count"`
	NegativeBandCount int `json:"negative_band_count"`
	VeryNegativeCount int `json:"very_negative_count"`

	PositiveCount      int     `json:"positive_count"`
	NeutralCount       int     `json:"neutral_count"`
	NegativeCount      int     `json:"negative_count"`
	MixedCount         int     `json:"mixed_count"`
	PositivePercentage float64 `json:"positive_percentage"`
	NeutralPercentage  float64 `json:"neutral_percentage"`
	NegativePercentage float64 `json:"negative_percentage"`
	MixedPercentage    float64 `json:"mixed_percentage"`

	TotalEngagement      int64          `json:"total_engagement"`
	TopKeywords          []KeywordCount `gorm:"type:text;serializer:json" json:"top_keywords"`
	HourlyDistribution   []int          `gorm:"type:text;serializer:json" json:"hourly_distribution"`
	LanguageDistribution map[string]int `gorm:"type:text;serializer:json" json:"language_distribution"`
}

// TableName overrides the default table name
func (DailySentimentAggregate) TableName() string {
	return "daily_sentiment_aggregates"
}

// KeywordCount is one entry of an aggregate's top keyword list
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}
