package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chainscope/social-pulse/internal/models"
	"github.com/chainscope/social-pulse/internal/rules"
	"github.com/chainscope/social-pulse/internal/sources"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrRuleNotFound is returned when a crawl request names a rule that does not exist
var ErrRuleNotFound = errors.New("crawl rule not found")

// sweepConcurrency bounds how many rules DueRules evaluates at once
const sweepConcurrency = 4

// RuleStore is the subset of rule persistence the orchestrator needs
type RuleStore interface {
	GetByID(ctx context.Context, id uint) (*models.CrawlRule, error)
	ListActive(ctx context.Context) ([]*models.CrawlRule, error)
	SavePerformance(ctx context.Context, rule *models.CrawlRule) error
}

// CrawlerRegistry resolves the crawler for a platform
type CrawlerRegistry interface {
	Get(platform models.Platform) (sources.Crawler, error)
}

// CrawlRequest asks for one rule to be crawled on one platform
type CrawlRequest struct {
	RuleID   uint            `json:"rule_id"`
	Platform models.Platform `json:"platform"`
	JobID    string          `json:"job_id,omitempty"`
	// Force skips the crawl interval check. Sweeps set it after DueRules already
	// checked the rule, follow-ups set it to re-crawl inside the interval.
	Force bool `json:"force,omitempty"`
}

// CrawlOutcome is the result of ExecuteCrawlJob
type CrawlOutcome struct {
	Request    CrawlRequest        `json:"request"`
	Skipped    bool                `json:"skipped"`
	SkipReason string              `json:"skip_reason,omitempty"`
	Result     *models.CrawlResult `json:"result,omitempty"`
	// FollowUp is the delay before the next crawl of this rule and platform; zero means none
	FollowUp time.Duration `json:"follow_up"`
}

// Service runs crawl requests against the platform crawlers
type Service struct {
	rules    RuleStore
	engine   *rules.Engine
	crawlers CrawlerRegistry
	metrics  *Metrics
	mu       sync.RWMutex
}

// Metrics holds orchestrator run counters
type Metrics struct {
	TotalCrawls        int            `json:"total_crawls"`
	SkippedCrawls      int            `json:"skipped_crawls"`
	FailedCrawls       int            `json:"failed_crawls"`
	PostsFound         int            `json:"posts_found"`
	PostsStored        int            `json:"posts_stored"`
	FollowUpsScheduled int            `json:"follow_ups_scheduled"`
	ErrorCount         int            `json:"error_count"`
	LastRun            time.Time      `json:"last_run"`
	LastRunDuration    string         `json:"last_run_duration"`
	PlatformMetrics    map[string]int `json:"platform_metrics"`
}

// NewService creates a new crawl orchestrator
func NewService(ruleStore RuleStore, engine *rules.Engine, crawlers CrawlerRegistry) *Service {
	return &Service{
		rules:    ruleStore,
		engine:   engine,
		crawlers: crawlers,
		metrics: &Metrics{
			PlatformMetrics: make(map[string]int),
		},
	}
}

// FollowUpDelay maps observed activity to a re-crawl delay: busy rules are polled sooner
func FollowUpDelay(postsFound int) time.Duration {
	switch {
	case postsFound > 50:
		return 5 * time.Minute
	case postsFound > 20:
		return 15 * time.Minute
	default:
		return 0
	}
}

// ExecuteCrawlJob crawls one rule on one platform and records the run on the rule
func (s *Service) ExecuteCrawlJob(ctx context.Context, req CrawlRequest) (*CrawlOutcome, error) {
	start := s.engine.Now()
	log := logrus.WithFields(logrus.Fields{
		"rule_id":  req.RuleID,
		"platform": req.Platform,
		"job_id":   req.JobID,
	})
	outcome := &CrawlOutcome{Request: req}

	rule, err := s.rules.GetByID(ctx, req.RuleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule %d: %w", req.RuleID, err)
	}
	if rule == nil {
		return nil, fmt.Errorf("%w: %d", ErrRuleNotFound, req.RuleID)
	}

	reason, err := s.skipReason(ctx, rule, req)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		log.WithField("reason", reason).Info("Skipping crawl")
		outcome.Skipped = true
		outcome.SkipReason = reason
		s.recordSkip()
		return outcome, nil
	}

	crawler, err := s.crawlers.Get(req.Platform)
	if err != nil {
		return nil, err
	}

	log.Info("Starting crawl")
	result, err := crawler.Crawl(ctx, rule)
	outcome.Result = result
	if err != nil {
		log.WithError(err).Error("Crawl failed")
		s.recordRun(req.Platform, result, 0, s.engine.Now().Sub(start), true)
		return outcome, fmt.Errorf("crawl of rule %d on %s failed: %w", rule.ID, req.Platform, err)
	}

	outcome.FollowUp = FollowUpDelay(result.PostsFound)

	rules.RecordExecution(rule, models.ExecutionMetrics{
		JobID:            req.JobID,
		Platform:         req.Platform,
		PostsFound:       result.PostsFound,
		PostsStored:      result.PostsStored,
		ExecutionSeconds: result.ExecutionTime.Seconds(),
		FollowUpMinutes:  int(outcome.FollowUp / time.Minute),
	}, s.engine.Now())
	if err := s.rules.SavePerformance(ctx, rule); err != nil {
		log.WithError(err).Warn("Failed to save performance metrics")
	}

	s.recordRun(req.Platform, result, outcome.FollowUp, s.engine.Now().Sub(start), false)

	log.WithFields(logrus.Fields{
		"posts_found":  result.PostsFound,
		"posts_stored": result.PostsStored,
		"errors":       len(result.Errors),
		"follow_up":    outcome.FollowUp.String(),
	}).Info("Crawl job completed")
	return outcome, nil
}

func (s *Service) skipReason(ctx context.Context, rule *models.CrawlRule, req CrawlRequest) (string, error) {
	if !rule.Active {
		return "rule inactive", nil
	}
	if !rule.HasPlatform(req.Platform) {
		return "platform not targeted by rule", nil
	}
	if req.Force {
		if !rules.IsWithinWindow(rule, s.engine.Now()) {
			return "outside rule window", nil
		}
		return "", nil
	}

	ok, err := s.engine.CanCrawlNow(ctx, rule)
	if err != nil {
		return "", fmt.Errorf("failed to check crawl gate for rule %d: %w", rule.ID, err)
	}
	if !ok {
		return "interval, window or hourly quota not satisfied", nil
	}
	return "", nil
}

// DueRules returns every active rule that may be crawled now, highest priority first
func (s *Service) DueRules(ctx context.Context) ([]*models.CrawlRule, error) {
	active, err := s.rules.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}

	due := make([]bool, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for i, rule := range active {
		i, rule := i, rule
		g.Go(func() error {
			ok, err := s.engine.CanCrawlNow(gctx, rule)
			if err != nil {
				logrus.WithError(err).WithField("rule_id", rule.ID).Warn("Could not evaluate rule, skipping")
				return nil
			}
			due[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*models.CrawlRule
	for i, rule := range active {
		if due[i] {
			out = append(out, rule)
		}
	}
	logrus.Infof("%d of %d active rules are due for crawling", len(out), len(active))
	return out, nil
}

// RecordFailure stores the last permanent failure of a crawl job on its rule.
// Errors are logged and never returned.
func (s *Service) RecordFailure(ctx context.Context, req CrawlRequest, cause error, attempts int) {
	log := logrus.WithFields(logrus.Fields{
		"rule_id":  req.RuleID,
		"platform": req.Platform,
		"job_id":   req.JobID,
		"attempts": attempts,
	})
	log.WithError(cause).Error("Crawl job permanently failed")

	rule, err := s.rules.GetByID(ctx, req.RuleID)
	if err != nil {
		log.WithError(err).Error("Failed to load rule for failure metrics")
		return
	}
	if rule == nil {
		return
	}

	rules.RecordFailure(rule, req.Platform, req.JobID, cause, attempts, s.engine.Now())
	if err := s.rules.SavePerformance(ctx, rule); err != nil {
		log.WithError(err).Error("Failed to update rule failure metrics")
	}
}

func (s *Service) recordSkip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.SkippedCrawls++
}

func (s *Service) recordRun(platform models.Platform, result *models.CrawlResult, followUp, duration time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.TotalCrawls++
	s.metrics.LastRun = s.engine.Now()
	s.metrics.LastRunDuration = duration.String()
	if failed {
		s.metrics.FailedCrawls++
	}
	if followUp > 0 {
		s.metrics.FollowUpsScheduled++
	}
	if result == nil {
		return
	}
	s.metrics.PostsFound += result.PostsFound
	s.metrics.PostsStored += result.PostsStored
	s.metrics.ErrorCount += len(result.Errors)
	s.metrics.PlatformMetrics[string(platform)] += result.PostsStored
}

// Snapshot returns a copy of the current metrics
func (s *Service) Snapshot() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := *s.metrics
	snapshot.PlatformMetrics = make(map[string]int, len(s.metrics.PlatformMetrics))
	for k, v := range s.metrics.PlatformMetrics {
		snapshot.PlatformMetrics[k] = v
	}
	return snapshot
}

// Metrics returns current metrics as JSON
func (s *Service) Metrics() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, _ := json.MarshalIndent(s.metrics, "", "  ")
	return string(data)
}
