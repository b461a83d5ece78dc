package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chainscope/social-pulse/internal/cache"
	"github.com/chainscope/social-pulse/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

const (
	redditMaxPage       = 100
	redditRequestDelay  = 2 * time.Second
	redditTokenCacheKey = "reddit_oauth_token"
)

// RedditCredentials configures the Reddit OAuth client
type RedditCredentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
	AuthURL      string
	BaseURL      string
}

// RedditCrawler reads Reddit search, subreddit and user listings through the OAuth API
type RedditCrawler struct {
	baseCrawler
	creds             RedditCredentials
	maxResults        int
	defaultSubreddits []string
	client            *resty.Client
}

type redditAuthResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

type redditListing struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Kind string     `json:"kind"`
			Data redditPost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type redditPost struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Selftext      string  `json:"selftext"`
	Author        string  `json:"author"`
	AuthorID      string  `json:"author_fullname"`
	Subreddit     string  `json:"subreddit"`
	URL           string  `json:"url"`
	Permalink     string  `json:"permalink"`
	Domain        string  `json:"domain"`
	Created       float64 `json:"created_utc"`
	Score         int64   `json:"score"`
	Ups           int64   `json:"ups"`
	NumComments   int64   `json:"num_comments"`
	NumCrossposts int64   `json:"num_crossposts"`
	Over18        bool    `json:"over_18"`
	IsSelf        bool    `json:"is_self"`
	IsVideo       bool    `json:"is_video"`
	PostHint      string  `json:"post_hint"`
	Stickied      bool    `json:"stickied"`
}

// NewRedditCrawler creates a Reddit crawler
func NewRedditCrawler(creds RedditCredentials, maxResults int, defaultSubreddits []string, deps Deps) *RedditCrawler {
	if creds.UserAgent == "" {
		creds.UserAgent = "SocialPulse/1.0"
	}
	return &RedditCrawler{
		baseCrawler:       newBaseCrawler(models.PlatformReddit, deps),
		creds:             creds,
		maxResults:        maxResults,
		defaultSubreddits: defaultSubreddits,
		client: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", creds.UserAgent),
	}
}

func (r *RedditCrawler) ValidateCredentials() error {
	if r.creds.ClientID == "" || r.creds.ClientSecret == "" {
		return fmt.Errorf("reddit client id/secret: %w", ErrMissingCredentials)
	}
	return nil
}

func (r *RedditCrawler) Crawl(ctx context.Context, rule *models.CrawlRule) (*models.CrawlResult, error) {
	cfg := rule.ConfigFor(models.PlatformReddit)
	maxResults := r.maxResults
	if cfg.MaxResults > 0 {
		maxResults = cfg.MaxResults
	}

	return r.run(ctx, rule, r.ValidateCredentials(), maxResults, func(ctx context.Context, run *crawlRun) error {
		token, err := r.token(ctx)
		if err != nil {
			return fmt.Errorf("reddit authentication failed: %w", err)
		}

		switch cfg.Strategy {
		case "subreddits":
			return r.crawlSubreddits(ctx, run, cfg, token)
		case "users":
			return r.crawlUsers(ctx, run, cfg, token)
		default:
			return r.crawlSearch(ctx, run, cfg, token)
		}
	})
}

// token returns a cached OAuth token, using the password grant when a username is configured
func (r *RedditCrawler) token(ctx context.Context) (string, error) {
	auth, err := cache.CacheOrRetrieve(ctx, r.deps.Cache, cache.Request{
		Platform:  string(models.PlatformReddit),
		Operation: "oauth",
		Key:       redditTokenCacheKey,
		TTL:       cache.OAuthTokenTTL,
	}, func(ctx context.Context) (redditAuthResponse, error) {
		form := map[string]string{"grant_type": "client_credentials"}
		if r.creds.Username != "" {
			form = map[string]string{
				"grant_type": "password",
				"username":   r.creds.Username,
				"password":   r.creds.Password,
			}
		}

		resp, err := r.client.R().
			SetContext(ctx).
			SetBasicAuth(r.creds.ClientID, r.creds.ClientSecret).
			SetFormData(form).
			Post(r.creds.AuthURL)
		if err != nil {
			return redditAuthResponse{}, err
		}
		if resp.StatusCode() != http.StatusOK {
			return redditAuthResponse{}, fmt.Errorf("token endpoint returned status %d", resp.StatusCode())
		}

		var out redditAuthResponse
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return redditAuthResponse{}, err
		}
		if out.AccessToken == "" {
			return redditAuthResponse{}, fmt.Errorf("no access token in response: %s", out.Error)
		}
		return out, nil
	})
	if err != nil {
		return "", err
	}
	return auth.AccessToken, nil
}

func (r *RedditCrawler) crawlSearch(ctx context.Context, run *crawlRun, cfg models.PlatformConfig, token string) error {
	query := BuildRedditQuery(run.rule, cfg)
	run.result.Query = query
	run.result.Strategy = "search"
	if query == "" {
		run.result.AddError("rule has no reddit search terms")
		return nil
	}

	after := ""
	for !run.exhausted() {
		params := map[string]string{
			"q":        query,
			"sort":     orDefault(cfg.Sort, "new"),
			"t":        orDefault(cfg.TimeWindow, "day"),
			"limit":    strconv.Itoa(minInt(run.remaining(), redditMaxPage)),
			"type":     "link",
			"raw_json": "1",
		}
		if after != "" {
			params["after"] = after
		}

		listing, err := r.listing(ctx, token, "/search", "search", params, cache.SearchTTL)
		if err != nil {
			logrus.WithError(err).WithField("query", query).Warn("Reddit search failed")
			run.result.AddError(fmt.Sprintf("reddit search: %v", err))
			return nil
		}

		before := run.result.PostsFound
		r.process(ctx, run, redditToRaw(listing))
		if listing.Data.After == "" || run.result.PostsFound == before {
			break
		}
		after = listing.Data.After
	}
	return nil
}

func (r *RedditCrawler) crawlSubreddits(ctx context.Context, run *crawlRun, cfg models.PlatformConfig, token string) error {
	run.result.Strategy = "subreddits"
	subreddits := cfg.Subreddits
	if len(subreddits) == 0 {
		subreddits = r.defaultSubreddits
	}
	if len(subreddits) == 0 {
		run.result.AddError("no subreddits configured")
		return nil
	}

	perSub := run.budget / len(subreddits)
	if perSub < 1 {
		perSub = 1
	}
	perSub = minInt(perSub, redditMaxPage)

	keywordQuery := BuildRedditQuery(&models.CrawlRule{
		Keywords:        run.rule.Keywords,
		ExcludeKeywords: run.rule.ExcludeKeywords,
		AllowNSFW:       run.rule.AllowNSFW,
	}, models.PlatformConfig{})
	if len(run.rule.Keywords) > 0 {
		run.result.Query = keywordQuery
	}

	for i, sub := range subreddits {
		if run.exhausted() {
			break
		}
		if i > 0 {
			if err := r.pause(ctx, redditRequestDelay); err != nil {
				return err
			}
		}

		sub = strings.TrimPrefix(sub, "r/")
		run.result.SubResources = append(run.result.SubResources, "r/"+sub)

		var (
			listing *redditListing
			err     error
		)
		limit := strconv.Itoa(minInt(perSub, run.remaining()))
		if len(run.rule.Keywords) > 0 {
			listing, err = r.listing(ctx, token, "/r/"+sub+"/search", "subreddit_search", map[string]string{
				"q":           keywordQuery,
				"restrict_sr": "1",
				"sort":        orDefault(cfg.Sort, "new"),
				"t":           orDefault(cfg.TimeWindow, "day"),
				"limit":       limit,
				"raw_json":    "1",
			}, cache.SubredditTTL)
		} else {
			listing, err = r.listing(ctx, token, "/r/"+sub+"/"+orDefault(cfg.Sort, "new"), "subreddit", map[string]string{
				"limit":    limit,
				"raw_json": "1",
			}, cache.SubredditTTL)
		}
		if err != nil {
			logrus.WithError(err).WithField("subreddit", sub).Warn("Subreddit crawl failed, skipping")
			run.result.AddError(fmt.Sprintf("r/%s: %v", sub, err))
			continue
		}

		r.process(ctx, run, redditToRaw(listing))
	}
	return nil
}

func (r *RedditCrawler) crawlUsers(ctx context.Context, run *crawlRun, cfg models.PlatformConfig, token string) error {
	run.result.Strategy = "users"
	if len(run.rule.Accounts) == 0 {
		run.result.AddError("users strategy requires accounts")
		return nil
	}

	for i, account := range run.rule.Accounts {
		if run.exhausted() {
			break
		}
		if i > 0 {
			if err := r.pause(ctx, redditRequestDelay); err != nil {
				return err
			}
		}

		user := strings.TrimPrefix(strings.TrimPrefix(account, "u/"), "@")
		run.result.SubResources = append(run.result.SubResources, "u/"+user)

		listing, err := r.listing(ctx, token, "/user/"+user+"/submitted", "user_listing", map[string]string{
			"sort":     orDefault(cfg.Sort, "new"),
			"limit":    strconv.Itoa(minInt(run.remaining(), redditMaxPage)),
			"raw_json": "1",
		}, cache.UserListingTTL)
		if err != nil {
			logrus.WithError(err).WithField("user", user).Warn("Reddit user listing failed, skipping")
			run.result.AddError(fmt.Sprintf("u/%s: %v", user, err))
			continue
		}

		r.process(ctx, run, redditToRaw(listing))
	}
	return nil
}

func (r *RedditCrawler) listing(ctx context.Context, token, path, operation string, params map[string]string, ttl time.Duration) (*redditListing, error) {
	return cache.CacheOrRetrieve(ctx, r.deps.Cache, cache.Request{
		Platform:  string(models.PlatformReddit),
		Endpoint:  path,
		Operation: operation,
		Params:    params,
		TTL:       ttl,
	}, func(ctx context.Context) (*redditListing, error) {
		if err := r.throttle(ctx); err != nil {
			return nil, err
		}

		resp, err := r.client.R().
			SetContext(ctx).
			SetAuthToken(token).
			SetQueryParams(params).
			Get(strings.TrimRight(r.creds.BaseURL, "/") + path)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode() == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w (reset in %ss)", ErrRateLimited, resp.Header().Get("x-ratelimit-reset"))
		}
		if resp.StatusCode() == http.StatusUnauthorized {
			// force a fresh token on the next crawl
			if err := r.deps.Cache.Forget(ctx, cache.Request{Key: redditTokenCacheKey}); err != nil {
				logrus.WithError(err).Warn("Failed to drop cached Reddit token")
			}
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("reddit API returned status %d", resp.StatusCode())
		}

		var out redditListing
		if err := json.Unmarshal(resp.Body(), &out); err != nil {
			return nil, fmt.Errorf("failed to parse Reddit response: %w", err)
		}
		return &out, nil
	})
}

// BuildRedditQuery renders a rule as a Reddit search query
func BuildRedditQuery(rule *models.CrawlRule, cfg models.PlatformConfig) string {
	var parts []string

	if group := orGroup(rule.Keywords, quoteIfSpaced); group != "" {
		parts = append(parts, group)
	}
	if cfg.Strategy == "" || cfg.Strategy == "search" {
		if group := orGroup(cfg.Subreddits, func(sub string) string {
			return "subreddit:" + strings.TrimPrefix(sub, "r/")
		}); group != "" {
			parts = append(parts, group)
		}
	}
	if group := orGroup(rule.Accounts, func(acct string) string {
		return "author:" + strings.TrimPrefix(strings.TrimPrefix(acct, "u/"), "@")
	}); group != "" {
		parts = append(parts, group)
	}

	if len(parts) == 0 {
		return ""
	}

	for _, excluded := range rule.ExcludeKeywords {
		if excluded != "" {
			parts = append(parts, "NOT "+quoteIfSpaced(excluded))
		}
	}
	if !rule.AllowNSFW {
		parts = append(parts, "NOT nsfw:1")
	}
	return strings.Join(parts, " ")
}

func redditToRaw(listing *redditListing) []RawPost {
	if listing == nil {
		return nil
	}

	raws := make([]RawPost, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		post := child.Data
		content := post.Title
		if body := strings.TrimSpace(post.Selftext); body != "" && body != "[removed]" && body != "[deleted]" {
			content += "\n\n" + body
		}

		raws = append(raws, RawPost{
			ExternalID:     post.ID,
			PostType:       redditPostType(post),
			Content:        content,
			URL:            "https://reddit.com" + post.Permalink,
			AuthorID:       post.AuthorID,
			AuthorUsername: post.Author,
			PostedAt:       time.Unix(int64(post.Created), 0).UTC(),
			Metrics: map[string]int64{
				"ups":            post.Ups,
				"score":          post.Score,
				"num_comments":   post.NumComments,
				"num_crossposts": post.NumCrossposts,
			},
			Metadata: map[string]interface{}{
				"subreddit":  post.Subreddit,
				"nsfw":       post.Over18,
				"stickied":   post.Stickied,
				"link_url":   post.URL,
				"domain":     post.Domain,
				"post_score": post.Score,
			},
		})
	}
	return raws
}

func redditPostType(post redditPost) string {
	switch {
	case post.IsVideo:
		return "video"
	case post.PostHint == "image" || hasImageSuffix(post.URL):
		return "image"
	case post.IsSelf:
		return "text"
	default:
		return "link"
	}
}

func hasImageSuffix(url string) bool {
	lower := strings.ToLower(url)
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
