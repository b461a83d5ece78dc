package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chainscope/social-pulse/internal/models"
	"github.com/chainscope/social-pulse/internal/orchestrator"
	"github.com/chainscope/social-pulse/internal/queue"
	"github.com/chainscope/social-pulse/internal/sources"
	"github.com/sirupsen/logrus"
)

var crawlPolicy = queue.Policy{
	Timeout: 5 * time.Minute,
	Tries:   3,
	Backoff: []time.Duration{60 * time.Second, 180 * time.Second, 540 * time.Second},
}

// CrawlJob crawls one rule on one platform and schedules the follow-up crawl
type CrawlJob struct {
	factory  *Factory
	req      orchestrator.CrawlRequest
	priority models.Priority
	attempts atomic.Int32
}

func (j *CrawlJob) Name() string         { return "crawl" }
func (j *CrawlJob) Queue() string        { return queue.RouteCrawler(j.priority) }
func (j *CrawlJob) Policy() queue.Policy { return crawlPolicy }
func (j *CrawlJob) UniqueKey() string    { return "" }

// Request returns the crawl request the job runs
func (j *CrawlJob) Request() orchestrator.CrawlRequest { return j.req }

func (j *CrawlJob) Handle(ctx context.Context) error {
	j.attempts.Add(1)
	outcome, err := j.factory.deps.Crawls.ExecuteCrawlJob(ctx, j.req)
	if err != nil {
		if errors.Is(err, orchestrator.ErrRuleNotFound) ||
			errors.Is(err, sources.ErrUnknownPlatform) ||
			errors.Is(err, sources.ErrMissingCredentials) {
			return queue.Permanent(err)
		}
		return err
	}
	if outcome.Skipped || outcome.FollowUp <= 0 {
		return nil
	}

	next := j.factory.Crawl(orchestrator.CrawlRequest{
		RuleID:   j.req.RuleID,
		Platform: j.req.Platform,
		Force:    true,
	}, j.priority)
	if err := j.factory.deps.Dispatcher.DispatchAfter(ctx, next, outcome.FollowUp); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"rule_id":  j.req.RuleID,
			"platform": j.req.Platform,
		}).Warn("Failed to schedule follow-up crawl")
	}
	return nil
}

func (j *CrawlJob) Failed(ctx context.Context, err error) {
	j.factory.deps.Crawls.RecordFailure(ctx, j.req, err, int(j.attempts.Load()))
	j.factory.alert(ctx, j.Name(),
		fmt.Sprintf("Crawl of rule %d on %s failed", j.req.RuleID, j.req.Platform), err)
}
