package rules

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/chainscope/social-pulse/internal/models"
)

// PostCounter counts posts a rule stored since a point in time
type PostCounter interface {
	CountForRuleSince(ctx context.Context, ruleID uint, since time.Time) (int64, error)
}

// Engine evaluates crawl eligibility and quotas for rules
type Engine struct {
	posts PostCounter
	now   func() time.Time
}

// NewEngine creates a rule engine backed by posts
func NewEngine(posts PostCounter) *Engine {
	return &Engine{posts: posts, now: time.Now}
}

// WithClock overrides the engine clock
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Now returns the engine clock's current time
func (e *Engine) Now() time.Time {
	return e.now()
}

// IsWithinWindow reports whether t falls inside the rule's optional start/end window
func IsWithinWindow(rule *models.CrawlRule, t time.Time) bool {
	if rule.StartDate != nil && t.Before(*rule.StartDate) {
		return false
	}
	if rule.EndDate != nil && t.After(*rule.EndDate) {
		return false
	}
	return true
}

// IntervalElapsed reports whether enough time passed since the last crawl
func IntervalElapsed(rule *models.CrawlRule, t time.Time) bool {
	if rule.LastCrawlAt == nil || rule.CrawlIntervalMinutes <= 0 {
		return true
	}
	next := rule.LastCrawlAt.Add(time.Duration(rule.CrawlIntervalMinutes) * time.Minute)
	return !t.Before(next)
}

// CanCrawlNow reports whether rule may be crawled at the engine's current time
func (e *Engine) CanCrawlNow(ctx context.Context, rule *models.CrawlRule) (bool, error) {
	if rule == nil || !rule.Active {
		return false, nil
	}
	now := e.now()
	if !IsWithinWindow(rule, now) || !IntervalElapsed(rule, now) {
		return false, nil
	}

	remaining, err := e.RemainingHourlyQuota(ctx, rule)
	if err != nil {
		return false, err
	}
	return remaining > 0, nil
}

// RemainingHourlyQuota is MaxPostsPerHour minus posts stored for the rule in the
// last hour. Rules without a quota get math.MaxInt.
func (e *Engine) RemainingHourlyQuota(ctx context.Context, rule *models.CrawlRule) (int, error) {
	if rule.MaxPostsPerHour <= 0 {
		return math.MaxInt, nil
	}

	stored, err := e.posts.CountForRuleSince(ctx, rule.ID, e.now().Add(-time.Hour))
	if err != nil {
		return 0, fmt.Errorf("failed to count recent posts for rule %d: %w", rule.ID, err)
	}

	remaining := rule.MaxPostsPerHour - int(stored)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

// UpdateCrawlStats folds a crawl result into the rule's running totals
func UpdateCrawlStats(rule *models.CrawlRule, result *models.CrawlResult, now time.Time) {
	if result == nil {
		return
	}
	rule.TotalPostsFound += int64(result.PostsFound)
	rule.TotalPostsProcessed += int64(result.PostsProcessed)
	crawledAt := now
	rule.LastCrawlAt = &crawledAt
	rule.LastCrawlStats = &models.CrawlStats{
		Version:                    models.CrawlStatsVersion,
		Platform:                   result.Platform,
		PostsFound:                 result.PostsFound,
		PostsProcessed:             result.PostsProcessed,
		PostsStored:                result.PostsStored,
		Duplicates:                 result.Duplicates,
		SpamDiscarded:              result.SpamDiscarded,
		ErrorCount:                 len(result.Errors),
		ExecutionSeconds:           round(result.ExecutionTime.Seconds(), 3),
		AvgEngagement:              round(result.AvgEngagement, 2),
		SuccessRate:                round(result.SuccessRate(), 2),
		EfficiencyScore:            round(result.EfficiencyScore(), 4),
		RecommendedIntervalMinutes: result.RecommendedIntervalMinutes,
		Query:                      result.Query,
		Strategy:                   result.Strategy,
		Timestamp:                  now,
	}
}

// RecordExecution stores job-level metrics of a successful crawl
func RecordExecution(rule *models.CrawlRule, exec models.ExecutionMetrics, now time.Time) {
	pm := performanceMetrics(rule)
	pm.TotalRuns++
	pm.LastUpdated = now
	exec.Timestamp = now
	pm.LastExecution = &exec
}

// RecordFailure stores the last permanent failure of a crawl job
func RecordFailure(rule *models.CrawlRule, platform models.Platform, jobID string, cause error, attempts int, now time.Time) {
	pm := performanceMetrics(rule)
	pm.TotalRuns++
	pm.FailedRuns++
	pm.LastUpdated = now

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	pm.LastFailure = &models.FailureMetrics{
		JobID:     jobID,
		Platform:  platform,
		Error:     msg,
		Attempts:  attempts,
		Timestamp: now,
	}
}

func performanceMetrics(rule *models.CrawlRule) *models.PerformanceMetrics {
	if rule.PerformanceMetrics == nil {
		rule.PerformanceMetrics = &models.PerformanceMetrics{}
	}
	rule.PerformanceMetrics.Version = models.PerformanceMetricsVersion
	return rule.PerformanceMetrics
}

// EfficiencyScore is the share of found posts that were processed, as a percentage
func EfficiencyScore(rule *models.CrawlRule) float64 {
	if rule.TotalPostsFound == 0 {
		return 0
	}
	return round(float64(rule.TotalPostsProcessed)/float64(rule.TotalPostsFound)*100, 2)
}

// Validate checks a rule definition before it is stored
func Validate(rule *models.CrawlRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("rule name is required")
	}
	if len(rule.Platforms) == 0 {
		return fmt.Errorf("rule %q targets no platforms", rule.Name)
	}
	for _, p := range rule.Platforms {
		if !p.Valid() {
			return fmt.Errorf("rule %q: unsupported platform %q", rule.Name, p)
		}
	}
	switch rule.Priority {
	case models.PriorityUrgent, models.PriorityHigh, models.PriorityNormal, models.PriorityLow:
	default:
		return fmt.Errorf("rule %q: unknown priority %q", rule.Name, rule.Priority)
	}
	if rule.StartDate != nil && rule.EndDate != nil && rule.EndDate.Before(*rule.StartDate) {
		return fmt.Errorf("rule %q: end date before start date", rule.Name)
	}
	if rule.MaxPostsPerHour < 0 || rule.CrawlIntervalMinutes < 0 {
		return fmt.Errorf("rule %q: negative quota or interval", rule.Name)
	}
	return nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
