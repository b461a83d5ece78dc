package sources

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/chainscope/social-pulse/internal/cache"
	"github.com/chainscope/social-pulse/internal/metrics"
	"github.com/chainscope/social-pulse/internal/models"
	"github.com/chainscope/social-pulse/internal/rules"
	"github.com/sirupsen/logrus"
)

// PostStore persists normalized posts with insert-or-skip semantics
type PostStore interface {
	CreateIfNotExists(ctx context.Context, post *models.SocialPost) (bool, error)
}

// QuotaChecker reports how many posts a rule may still store this hour
type QuotaChecker interface {
	RemainingHourlyQuota(ctx context.Context, rule *models.CrawlRule) (int, error)
}

// StatsStore persists a rule's crawl statistics
type StatsStore interface {
	SaveStats(ctx context.Context, rule *models.CrawlRule) error
}

// Deps are the collaborators shared by every crawler
type Deps struct {
	Cache   *cache.Cache
	Limiter *cache.PlatformLimiter
	Posts   PostStore
	Quota   QuotaChecker
	Stats   StatsStore
	Now     func() time.Time
	// Sleep replaces the inter-request delay; tests pass a no-op
	Sleep func(ctx context.Context, d time.Duration) error
}

type baseCrawler struct {
	platform models.Platform
	deps     Deps
}

func newBaseCrawler(platform models.Platform, deps Deps) baseCrawler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	return baseCrawler{platform: platform, deps: deps}
}

func (b *baseCrawler) Platform() models.Platform {
	return b.platform
}

// crawlRun tracks one crawl of one rule
type crawlRun struct {
	rule          *models.CrawlRule
	result        *models.CrawlResult
	budget        int
	engagementSum float64
	seen          map[string]bool
}

func (r *crawlRun) remaining() int {
	return r.budget - r.result.PostsFound
}

func (r *crawlRun) exhausted() bool {
	return r.remaining() <= 0
}

// run wraps a platform crawl with precondition and quota checks. A non-nil precondition
// (missing credentials, no channels) fails the crawl. Rule statistics are updated and
// saved whatever the outcome.
func (b *baseCrawler) run(ctx context.Context, rule *models.CrawlRule, precondition error, maxResults int, crawl func(ctx context.Context, run *crawlRun) error) (*models.CrawlResult, error) {
	start := b.deps.Now()
	run := &crawlRun{
		rule:   rule,
		result: models.NewCrawlResult(b.platform),
		seen:   make(map[string]bool),
	}
	log := logrus.WithFields(logrus.Fields{
		"platform": b.platform,
		"rule_id":  rule.ID,
		"rule":     rule.Name,
	})

	defer b.finish(ctx, run, start, log)

	if precondition != nil {
		run.result.AddError(precondition.Error())
		return run.result, precondition
	}

	quota := math.MaxInt
	if b.deps.Quota != nil {
		remaining, err := b.deps.Quota.RemainingHourlyQuota(ctx, rule)
		if err != nil {
			run.result.AddError(err.Error())
			return run.result, err
		}
		quota = remaining
	}

	run.budget = maxResults
	if quota < run.budget {
		run.budget = quota
	}
	if run.budget <= 0 {
		log.Warn("Hourly quota exhausted, skipping crawl")
		run.result.AddError(ErrQuotaExhausted.Error())
		return run.result, nil
	}

	if err := crawl(ctx, run); err != nil {
		run.result.AddError(err.Error())
		return run.result, err
	}
	return run.result, nil
}

func (b *baseCrawler) finish(ctx context.Context, run *crawlRun, start time.Time, log *logrus.Entry) {
	result := run.result
	now := b.deps.Now()
	result.ExecutionTime = now.Sub(start)
	if result.PostsFound > 0 {
		result.AvgEngagement = run.engagementSum / float64(result.PostsFound)
	}
	result.RecommendedIntervalMinutes = RecommendCrawlInterval(result.PostsFound, result.AvgEngagement)

	rules.UpdateCrawlStats(run.rule, result, now)
	if b.deps.Stats != nil {
		if err := b.deps.Stats.SaveStats(context.WithoutCancel(ctx), run.rule); err != nil {
			log.WithError(err).Error("Failed to save crawl statistics")
		}
	}

	status := "success"
	if len(result.Errors) > 0 {
		status = "partial"
	}
	metrics.CrawlTotal.WithLabelValues(string(b.platform), status).Inc()
	metrics.CrawlDuration.WithLabelValues(string(b.platform)).Observe(result.ExecutionTime.Seconds())

	log.WithFields(logrus.Fields{
		"posts_found":     result.PostsFound,
		"posts_processed": result.PostsProcessed,
		"posts_stored":    result.PostsStored,
		"duplicates":      result.Duplicates,
		"spam":            result.SpamDiscarded,
		"errors":          len(result.Errors),
		"duration":        result.ExecutionTime.String(),
	}).Info("Crawl completed")
}

// process normalizes, filters and stores raw posts. It stops once the budget is spent.
func (b *baseCrawler) process(ctx context.Context, run *crawlRun, raws []RawPost) {
	platform := string(b.platform)

	for _, raw := range raws {
		if run.exhausted() {
			return
		}
		if raw.ExternalID == "" || run.seen[raw.ExternalID] {
			continue
		}
		run.seen[raw.ExternalID] = true
		run.result.PostsFound++

		post := NormalizePost(b.platform, raw)
		run.engagementSum += post.EngagementScore

		if post.Content == "" {
			metrics.PostsDiscarded.WithLabelValues(platform, "empty").Inc()
			continue
		}
		if IsLikelySpam(post.Content) {
			run.result.SpamDiscarded++
			metrics.PostsDiscarded.WithLabelValues(platform, "spam").Inc()
			continue
		}

		run.result.PostsProcessed++
		if !rules.MatchesContent(run.rule, post.Content, rules.MetadataFor(post)) {
			metrics.PostsDiscarded.WithLabelValues(platform, "unmatched").Inc()
			continue
		}

		post.CrawlRuleID = run.rule.ID
		post.MatchedKeywords = rules.MatchedKeywords(run.rule, post.Content)
		post.MatchedHashtags = rules.MatchedHashtags(run.rule, post.Content)

		created, err := b.deps.Posts.CreateIfNotExists(ctx, post)
		if err != nil {
			logrus.WithError(err).WithField("external_id", post.ExternalID).Error("Failed to store post")
			run.result.AddError(fmt.Sprintf("store %s: %v", post.ExternalID, err))
			continue
		}
		if created {
			run.result.PostsStored++
			metrics.PostsStored.WithLabelValues(platform).Inc()
		} else {
			run.result.Duplicates++
		}
	}
}

// pause waits d between sub-resource requests
func (b *baseCrawler) pause(ctx context.Context, d time.Duration) error {
	return b.deps.Sleep(ctx, d)
}

// throttle waits for the platform's shared rate limiter
func (b *baseCrawler) throttle(ctx context.Context) error {
	return b.deps.Limiter.Wait(ctx, string(b.platform))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
