package queue

import (
	"context"
	"time"

	"github.com/chainscope/social-pulse/internal/models"
)

// Queue names
const (
	CrawlerHigh     = "crawler-high"
	CrawlerNormal   = "crawler-normal"
	CrawlerLow      = "crawler-low"
	SentimentLarge  = "sentiment-large"
	SentimentMedium = "sentiment-medium"
	SentimentSmall  = "sentiment-small"
	Aggregates      = "aggregates"
)

// RouteCrawler picks the crawler queue for a rule priority
func RouteCrawler(priority models.Priority) string {
	switch priority {
	case models.PriorityUrgent, models.PriorityHigh:
		return CrawlerHigh
	case models.PriorityLow:
		return CrawlerLow
	default:
		return CrawlerNormal
	}
}

// RouteSentiment picks the sentiment queue for a batch of size texts
func RouteSentiment(size int) string {
	switch {
	case size > 1000:
		return SentimentLarge
	case size > 100:
		return SentimentMedium
	default:
		return SentimentSmall
	}
}

// Policy is the execution policy a job declares
type Policy struct {
	Timeout time.Duration
	Tries   int
	// Backoff[i] is the wait before attempt i+2; the last entry repeats
	Backoff []time.Duration
	// UniqueFor bounds the uniqueness lock of jobs with a UniqueKey
	UniqueFor time.Duration
}

// BackoffFor returns the wait after the given failed attempt (1-based)
func (p Policy) BackoffFor(attempt int) time.Duration {
	if len(p.Backoff) == 0 || attempt < 1 {
		return 0
	}
	if attempt > len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[attempt-1]
}

func (p Policy) tries() int {
	if p.Tries < 1 {
		return 1
	}
	return p.Tries
}

// lockTTL covers every attempt and backoff when UniqueFor is not set
func (p Policy) lockTTL() time.Duration {
	if p.UniqueFor > 0 {
		return p.UniqueFor
	}
	ttl := p.Timeout * time.Duration(p.tries())
	for i := 1; i < p.tries(); i++ {
		ttl += p.BackoffFor(i)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return ttl
}

// Job is a unit of work run by the Dispatcher
type Job interface {
	Name() string
	Queue() string
	Policy() Policy
	// UniqueKey is empty for jobs that may run concurrently with copies of themselves
	UniqueKey() string
	Handle(ctx context.Context) error
	// Failed runs once after the final attempt failed
	Failed(ctx context.Context, err error)
}
