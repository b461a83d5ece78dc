package models

import "time"

// CrawlResult is what a platform crawler reports for one rule.
// Errors holds non-fatal problems (quota, a failing subreddit or channel);
// fatal problems are returned separately as an error by the crawler.
type CrawlResult struct {
	Platform                   Platform      `json:"platform"`
	PostsFound                 int           `json:"posts_found"`
	PostsProcessed             int           `json:"posts_processed"`
	PostsStored                int           `json:"posts_stored"`
	Duplicates                 int           `json:"duplicates"`
	SpamDiscarded              int           `json:"spam_discarded"`
	Errors                     []string      `json:"errors"`
	ExecutionTime              time.Duration `json:"execution_time"`
	AvgEngagement              float64       `json:"avg_engagement"`
	RecommendedIntervalMinutes int           `json:"recommended_interval_minutes"`
	Query                      string        `json:"query,omitempty"`
	Strategy                   string        `json:"strategy,omitempty"`
	SubResources               []string      `json:"sub_resources,omitempty"`
}

// NewCrawlResult returns an empty result for platform
func NewCrawlResult(platform Platform) *CrawlResult {
	return &CrawlResult{Platform: platform, Errors: []string{}}
}

// AddError records a non-fatal problem
func (r *CrawlResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
}

// SuccessRate is the share of processed posts that ended up stored or already known
func (r *CrawlResult) SuccessRate() float64 {
	if r.PostsProcessed == 0 {
		return 0
	}
	return float64(r.PostsStored+r.Duplicates) / float64(r.PostsProcessed) * 100
}

// EfficiencyScore is stored posts per second of crawl time
func (r *CrawlResult) EfficiencyScore() float64 {
	seconds := r.ExecutionTime.Seconds()
	if seconds <= 0 {
		return float64(r.PostsStored)
	}
	return float64(r.PostsStored) / seconds
}
