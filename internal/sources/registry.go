package sources

import (
	"fmt"
	"sort"

	"github.com/chainscope/social-pulse/internal/config"
	"github.com/chainscope/social-pulse/internal/models"
	"github.com/sirupsen/logrus"
)

// Registry maps each platform to its crawler. It is built once at startup.
type Registry struct {
	crawlers map[models.Platform]Crawler
}

// NewRegistry creates a registry from crawlers; a later crawler replaces an earlier one for the same platform
func NewRegistry(crawlers ...Crawler) *Registry {
	r := &Registry{crawlers: make(map[models.Platform]Crawler, len(crawlers))}
	for _, c := range crawlers {
		r.crawlers[c.Platform()] = c
	}
	return r
}

// BuildRegistry wires the Twitter, Reddit and Telegram crawlers from configuration
func BuildRegistry(cfg *config.Config, deps Deps) *Registry {
	twitter := NewTwitterCrawler(cfg.TwitterBearerToken, cfg.TwitterBaseURL, cfg.TwitterMaxResults, deps)
	reddit := NewRedditCrawler(RedditCredentials{
		ClientID:     cfg.RedditClientID,
		ClientSecret: cfg.RedditClientSecret,
		Username:     cfg.RedditUsername,
		Password:     cfg.RedditPassword,
		UserAgent:    cfg.RedditUserAgent,
		AuthURL:      cfg.RedditAuthURL,
		BaseURL:      cfg.RedditBaseURL,
	}, cfg.RedditMaxResults, cfg.RedditDefaultSubreddits, deps)
	telegram := NewTelegramCrawler(TelegramOptions{
		BotToken:   cfg.TelegramBotToken,
		BotAPIURL:  cfg.TelegramBotAPIURL,
		WebURL:     cfg.TelegramWebURL,
		Channels:   cfg.TelegramChannels,
		MaxResults: cfg.TelegramMaxResults,
	}, deps)

	registry := NewRegistry(twitter, reddit, telegram)
	for _, c := range []Crawler{twitter, reddit, telegram} {
		if err := c.ValidateCredentials(); err != nil {
			logrus.WithField("platform", c.Platform()).Warnf("Crawler registered without credentials: %v", err)
		}
	}
	return registry
}

// Get returns the crawler for platform
func (r *Registry) Get(platform models.Platform) (Crawler, error) {
	c, ok := r.crawlers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	return c, nil
}

// Platforms lists registered platforms in name order
func (r *Registry) Platforms() []models.Platform {
	platforms := make([]models.Platform, 0, len(r.crawlers))
	for p := range r.crawlers {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}
