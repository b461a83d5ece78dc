package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Schedule configuration
	CrawlSweepSchedule       string
	PipelineSchedule         string
	AggregateSchedule        string
	AggregateRefreshSchedule string
	TimeZone                 string

	// Database configuration
	DatabaseDriver string // "postgres" or "sqlite"
	DatabaseURL    string
	DBMaxIdleConns int
	DBMaxOpenConns int
	DBLogLevel     string
	RulesFile      string

	// Cache configuration
	RedisEnabled   bool
	RedisURL       string
	CacheNamespace string

	// Azure Storage configuration
	StorageAccount   string
	StorageContainer string
	ArchiveDir       string

	// Notification configuration
	WebhookURL        string
	WebhookFormat     string // "slack", "discord" or "teams"
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string

	// Twitter
	TwitterBearerToken string
	TwitterBaseURL     string
	TwitterMaxResults  int
	TwitterRateLimit   int
	TwitterRateWindow  time.Duration

	// Reddit
	RedditClientID          string
	RedditClientSecret      string
	RedditUsername          string
	RedditPassword          string
	RedditUserAgent         string
	RedditAuthURL           string
	RedditBaseURL           string
	RedditMaxResults        int
	RedditDefaultSubreddits []string
	RedditRateLimit         int
	RedditRateWindow        time.Duration

	// Telegram
	TelegramBotToken   string
	TelegramBotAPIURL  string
	TelegramWebURL     string
	TelegramChannels   []string
	TelegramMaxResults int
	TelegramRateLimit  int
	TelegramRateWindow time.Duration

	// Sentiment analysis
	GoogleAPIKey            string
	GoogleNLPEndpoint       string
	SentimentBatchSize      int
	SentimentConcurrency    int
	SentimentCostPerRequest float64
	SentimentCostLimit      float64
	SentimentDailyBudget    float64
	SentimentMinTextLength  int
	SentimentMaxTextLength  int
	PipelineBatchLimit      int
	BatchRetention          time.Duration

	// Queue workers
	QueueWorkers    int
	QueueBufferSize int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:  getEnv("PORT", "8080"),
		Debug: getBoolEnv("DEBUG", false),

		CrawlSweepSchedule:       getEnv("CRAWL_SWEEP_SCHEDULE", "0 * * * * *"),
		PipelineSchedule:         getEnv("PIPELINE_SCHEDULE", "0 */15 * * * *"),
		AggregateSchedule:        getEnv("AGGREGATE_SCHEDULE", "0 30 0 * * *"),
		AggregateRefreshSchedule: getEnv("AGGREGATE_REFRESH_SCHEDULE", "0 5 * * * *"),
		TimeZone:                 getEnv("TIMEZONE", "UTC"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "postgres"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBMaxIdleConns: getIntEnv("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getIntEnv("DB_MAX_OPEN_CONNS", 50),
		DBLogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
		RulesFile:      getEnv("RULES_FILE", ""),

		RedisEnabled:   getBoolEnv("REDIS_ENABLED", false),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		CacheNamespace: getEnv("CACHE_NAMESPACE", "social-pulse"),

		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "sentiment-exports"),
		ArchiveDir:       getEnv("ARCHIVE_DIR", "archive"),

		WebhookURL:        getEnv("WEBHOOK_URL", ""),
		WebhookFormat:     getEnv("WEBHOOK_FORMAT", "slack"),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),

		TwitterBearerToken: getEnv("TWITTER_BEARER_TOKEN", ""),
		TwitterBaseURL:     getEnv("TWITTER_BASE_URL", "https://api.twitter.com/2"),
		TwitterMaxResults:  getIntEnv("TWITTER_MAX_RESULTS", 100),
		TwitterRateLimit:   getIntEnv("TWITTER_RATE_LIMIT", 300),
		TwitterRateWindow:  getDurationEnv("TWITTER_RATE_WINDOW", 15*time.Minute),

		RedditClientID:     getEnv("REDDIT_CLIENT_ID", ""),
		RedditClientSecret: getEnv("REDDIT_CLIENT_SECRET", ""),
		RedditUsername:     getEnv("REDDIT_USERNAME", ""),
		RedditPassword:     getEnv("REDDIT_PASSWORD", ""),
		RedditUserAgent:    getEnv("REDDIT_USER_AGENT", "SocialPulse/1.0"),
		RedditAuthURL:      getEnv("REDDIT_AUTH_URL", "https://www.reddit.com/api/v1/access_token"),
		RedditBaseURL:      getEnv("REDDIT_BASE_URL", "https://oauth.reddit.com"),
		RedditMaxResults:   getIntEnv("REDDIT_MAX_RESULTS", 100),
		RedditDefaultSubreddits: getSliceEnv("REDDIT_DEFAULT_SUBREDDITS", []string{
			"cryptocurrency",
			"bitcoin",
			"ethereum",
			"defi",
			"altcoin",
		}),
		RedditRateLimit:  getIntEnv("REDDIT_RATE_LIMIT", 100),
		RedditRateWindow: getDurationEnv("REDDIT_RATE_WINDOW", 10*time.Minute),

		TelegramBotToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramBotAPIURL:  getEnv("TELEGRAM_BOT_API_URL", "https://api.telegram.org"),
		TelegramWebURL:     getEnv("TELEGRAM_WEB_URL", "https://t.me"),
		TelegramChannels:   getSliceEnv("TELEGRAM_CHANNELS", nil),
		TelegramMaxResults: getIntEnv("TELEGRAM_MAX_RESULTS", 100),
		TelegramRateLimit:  getIntEnv("TELEGRAM_RATE_LIMIT", 30),
		TelegramRateWindow: getDurationEnv("TELEGRAM_RATE_WINDOW", time.Minute),

		GoogleAPIKey:            getEnv("GOOGLE_NLP_API_KEY", ""),
		GoogleNLPEndpoint:       getEnv("GOOGLE_NLP_ENDPOINT", ""),
		SentimentBatchSize:      getIntEnv("SENTIMENT_BATCH_SIZE", 25),
		SentimentConcurrency:    getIntEnv("SENTIMENT_CONCURRENCY", 5),
		SentimentCostPerRequest: getFloatEnv("SENTIMENT_COST_PER_REQUEST", 0.001),
		SentimentCostLimit:      getFloatEnv("SENTIMENT_COST_LIMIT", 10.0),
		SentimentDailyBudget:    getFloatEnv("SENTIMENT_DAILY_BUDGET", 50.0),
		SentimentMinTextLength:  getIntEnv("SENTIMENT_MIN_TEXT_LENGTH", 10),
		SentimentMaxTextLength:  getIntEnv("SENTIMENT_MAX_TEXT_LENGTH", 5000),
		PipelineBatchLimit:      getIntEnv("PIPELINE_BATCH_LIMIT", 500),
		BatchRetention:          getDurationEnv("BATCH_RETENTION", 30*24*time.Hour),

		QueueWorkers:    getIntEnv("QUEUE_WORKERS", 2),
		QueueBufferSize: getIntEnv("QUEUE_BUFFER_SIZE", 256),
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseDriver != "postgres" && c.DatabaseDriver != "sqlite" {
		return fmt.Errorf("DATABASE_DRIVER must be 'postgres' or 'sqlite'")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	switch c.WebhookFormat {
	case "slack", "discord", "teams":
	default:
		return fmt.Errorf("WEBHOOK_FORMAT must be 'slack', 'discord' or 'teams'")
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return fmt.Errorf("SMTP configuration is required when NOTIFICATION_EMAIL is set")
		}
	}

	if c.SentimentBatchSize <= 0 {
		return fmt.Errorf("SENTIMENT_BATCH_SIZE must be positive")
	}

	if c.SentimentCostLimit < 0 || c.SentimentDailyBudget < 0 {
		return fmt.Errorf("sentiment cost limits must not be negative")
	}

	if c.QueueWorkers <= 0 {
		return fmt.Errorf("QUEUE_WORKERS must be positive")
	}

	return nil
}

// HasTwitterCredentials reports whether the Twitter crawler can authenticate
func (c *Config) HasTwitterCredentials() bool {
	return c.TwitterBearerToken != ""
}

// HasRedditCredentials reports whether the Reddit password grant can be used
func (c *Config) HasRedditCredentials() bool {
	return c.RedditClientID != "" && c.RedditClientSecret != "" &&
		c.RedditUsername != "" && c.RedditPassword != ""
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}
