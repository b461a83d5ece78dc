package sources

import (
	"context"
	"errors"

	"github.com/chainscope/social-pulse/internal/models"
)

var (
	// ErrMissingCredentials means the crawler cannot authenticate with its platform
	ErrMissingCredentials = errors.New("platform credentials not configured")

	// ErrQuotaExhausted means the rule has no hourly budget left
	ErrQuotaExhausted = errors.New("rate limit quota exhausted")

	// ErrRateLimited means the platform answered HTTP 429
	ErrRateLimited = errors.New("platform rate limit hit")

	// ErrUnknownPlatform is returned by the registry for platforms without a crawler
	ErrUnknownPlatform = errors.New("no crawler registered for platform")

	// ErrNoChannels means a Telegram crawl has nothing to read
	ErrNoChannels = errors.New("no telegram channels configured")
)

// Crawler collects posts for a rule from one platform.
// A returned error is fatal for the crawl; recoverable problems are listed in CrawlResult.Errors.
type Crawler interface {
	Platform() models.Platform
	ValidateCredentials() error
	Crawl(ctx context.Context, rule *models.CrawlRule) (*models.CrawlResult, error)
}
