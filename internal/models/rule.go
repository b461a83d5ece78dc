package models

import "time"

// CrawlRule is an operator-defined description of what to collect and from where.
// Rules are never deleted; set Active to false to retire one.
type CrawlRule struct {
	ID          uint     `gorm:"primaryKey" json:"id"`
	Name        string   `gorm:"size:191;uniqueIndex;not null" json:"name"`
	Description string   `gorm:"type:text" json:"description"`
	Active      bool     `gorm:"index;not null" json:"active"`
	Priority    Priority `gorm:"size:16;not null;default:normal" json:"priority"`

	Platforms       []Platform                  `gorm:"type:text;serializer:json" json:"platforms"`
	PlatformConfigs map[Platform]PlatformConfig `gorm:"type:text;serializer:json" json:"platform_configs"`

	Keywords        []string `gorm:"type:text;serializer:json" json:"keywords"`
	Hashtags        []string `gorm:"type:text;serializer:json" json:"hashtags"`
	Accounts        []string `gorm:"type:text;serializer:json" json:"accounts"`
	ExcludeKeywords []string `gorm:"type:text;serializer:json" json:"exclude_keywords"`

	EngagementThreshold int64           `json:"engagement_threshold"`
	FollowerThreshold   int64           `json:"follower_threshold"`
	SentimentThreshold  *float64        `json:"sentiment_threshold,omitempty"`
	Language            string          `gorm:"size:16" json:"language"`
	AllowNSFW           bool            `gorm:"column:allow_nsfw" json:"allow_nsfw"`
	Filters             []ContentFilter `gorm:"type:text;serializer:json" json:"filters"`

	StartDate            *time.Time `json:"start_date,omitempty"`
	EndDate              *time.Time `json:"end_date,omitempty"`
	MaxPostsPerHour      int        `json:"max_posts_per_hour"`
	CrawlIntervalMinutes int        `gorm:"not null;default:60" json:"crawl_interval_minutes"`

	TotalPostsFound     int64               `json:"total_posts_found"`
	TotalPostsProcessed int64               `json:"total_posts_processed"`
	LastCrawlAt         *time.Time          `json:"last_crawl_at,omitempty"`
	LastCrawlStats      *CrawlStats         `gorm:"type:text;serializer:json" json:"last_crawl_stats,omitempty"`
	PerformanceMetrics  *PerformanceMetrics `gorm:"type:text;serializer:json" json:"performance_metrics,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName overrides the default table name
func (CrawlRule) TableName() string {
	return "crawler_rules"
}

// PlatformConfig carries per-platform crawl tuning for a rule
type PlatformConfig struct {
	Strategy        string   `json:"strategy,omitempty" mapstructure:"strategy"` // search, subreddits, users, timeline
	Sort            string   `json:"sort,omitempty" mapstructure:"sort"`
	TimeWindow      string   `json:"time_window,omitempty" mapstructure:"time_window"`
	MaxResults      int      `json:"max_results,omitempty" mapstructure:"max_results"`
	MinRetweets     int      `json:"min_retweets,omitempty" mapstructure:"min_retweets"`
	MinFaves        int      `json:"min_faves,omitempty" mapstructure:"min_faves"`
	MinReplies      int      `json:"min_replies,omitempty" mapstructure:"min_replies"`
	ExcludeRetweets bool     `json:"exclude_retweets,omitempty" mapstructure:"exclude_retweets"`
	ExcludeReplies  bool     `json:"exclude_replies,omitempty" mapstructure:"exclude_replies"`
	Subreddits      []string `json:"subreddits,omitempty" mapstructure:"subreddits"`
	Channels        []string `json:"channels,omitempty" mapstructure:"channels"`
}

// ConfigFor returns the rule's tuning for platform, or the zero value
func (r *CrawlRule) ConfigFor(platform Platform) PlatformConfig {
	if r.PlatformConfigs == nil {
		return PlatformConfig{}
	}
	return r.PlatformConfigs[platform]
}

// HasPlatform reports whether the rule targets platform
func (r *CrawlRule) HasPlatform(platform Platform) bool {
	for _, p := range r.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// Filter types and operators understood by the rule engine
const (
	FilterTextLength = "text_length"
	FilterWordCount  = "word_count"
	FilterMetadata   = "metadata"
	FilterRegex      = "regex"

	OpEquals       = "equals"
	OpNotEquals    = "not_equals"
	OpGreaterThan  = "greater_than"
	OpLessThan     = "less_than"
	OpGreaterEqual = "greater_equal"
	OpLessEqual    = "less_equal"
	OpContains     = "contains"
	OpNotContains  = "not_contains"
)

// ContentFilter is a custom predicate applied after keyword matching
type ContentFilter struct {
	Type     string      `json:"type" mapstructure:"type"`
	Field    string      `json:"field,omitempty" mapstructure:"field"`
	Operator string      `json:"operator,omitempty" mapstructure:"operator"`
	Value    interface{} `json:"value" mapstructure:"value"`
}

// CrawlStatsVersion is bumped whenever CrawlStats changes shape
const CrawlStatsVersion = 1

// CrawlStats is the snapshot of the most recent crawl of a rule
type CrawlStats struct {
	Version                    int       `json:"version"`
	Platform                   Platform  `json:"platform"`
	PostsFound                 int       `json:"posts_found"`
	PostsProcessed             int       `json:"posts_processed"`
	PostsStored                int       `json:"posts_stored"`
	Duplicates                 int       `json:"duplicates"`
	SpamDiscarded              int       `json:"spam_discarded"`
	ErrorCount                 int       `json:"error_count"`
	ExecutionSeconds           float64   `json:"execution_seconds"`
	AvgEngagement              float64   `json:"avg_engagement"`
	SuccessRate                float64   `json:"success_rate"`
	EfficiencyScore            float64   `json:"efficiency_score"`
	RecommendedIntervalMinutes int       `json:"recommended_interval_minutes"`
	Query                      string    `json:"query,omitempty"`
	Strategy                   string    `json:"strategy,omitempty"`
	Timestamp                  time.Time `json:"timestamp"`
}

// PerformanceMetricsVersion is bumped whenever PerformanceMetrics changes shape
const PerformanceMetricsVersion = 1

// PerformanceMetrics tracks job-level execution history of a rule
type PerformanceMetrics struct {
	Version       int               `json:"version"`
	LastUpdated   time.Time         `json:"last_updated"`
	TotalRuns     int64             `json:"total_runs"`
	FailedRuns    int64             `json:"failed_runs"`
	LastExecution *ExecutionMetrics `json:"last_execution,omitempty"`
	LastFailure   *FailureMetrics   `json:"last_failure,omitempty"`
}

// ExecutionMetrics describes one successful crawl job
type ExecutionMetrics struct {
	JobID            string    `json:"job_id,omitempty"`
	Platform         Platform  `json:"platform"`
	PostsFound       int       `json:"posts_found"`
	PostsStored      int       `json:"posts_stored"`
	ExecutionSeconds float64   `json:"execution_seconds"`
	FollowUpMinutes  int       `json:"follow_up_minutes,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// FailureMetrics describes the last permanently failed crawl job
type FailureMetrics struct {
	JobID     string    `json:"job_id,omitempty"`
	Platform  Platform  `json:"platform"`
	Error     string    `json:"error"`
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}
