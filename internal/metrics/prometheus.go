package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	CrawlTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_pulse_crawl_total",
			Help: "Crawls executed per platform and outcome",
		},
		[]string{"platform", "status"},
	)

	CrawlDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "social_pulse_crawl_duration_seconds",
			Help:    "Duration of a single rule crawl",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"platform"},
	)

	PostsStored = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_pulse_posts_stored_total",
			Help: "Posts newly stored per platform",
		},
		[]string{"platform"},
	)

	PostsDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_pulse_posts_discarded_total",
			Help: "Posts dropped before storage per platform and reason",
		},
		[]string{"platform", "reason"},
	)

	CacheRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_pulse_api_cache_requests_total",
			Help: "Platform API cache lookups by result",
		},
		[]string{"platform", "operation", "result"},
	)

	SentimentDocuments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_pulse_sentiment_documents_total",
			Help: "Documents submitted for sentiment analysis by outcome",
		},
		[]string{"status"},
	)

	SentimentCost = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "social_pulse_sentiment_cost_usd",
			Help: "Estimated sentiment API spend in USD",
		},
	)

	AggregatesWritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "social_pulse_aggregates_written_total",
			Help: "Daily aggregate rows upserted",
		},
	)

	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "social_pulse_jobs_total",
			Help: "Job attempts by queue, job and outcome",
		},
		[]string{"queue", "job", "status"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "social_pulse_job_duration_seconds",
			Help:    "Job attempt duration",
			Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"queue", "job"},
	)

	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "social_pulse_queue_depth",
			Help: "Jobs waiting in each queue",
		},
		[]string{"queue"},
	)
)

var initOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			CrawlTotal,
			CrawlDuration,
			PostsStored,
			PostsDiscarded,
			CacheRequests,
			SentimentDocuments,
			SentimentCost,
			AggregatesWritten,
			JobsTotal,
			JobDuration,
			QueueDepth,
		)
	})
}
