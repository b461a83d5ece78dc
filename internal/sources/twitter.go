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
	twitterMinPage      = 10
	twitterMaxPage      = 100
	twitterAccountDelay = 3 * time.Second

	twitterTweetFields = "created_at,author_id,public_metrics,referenced_tweets,lang,conversation_id"
	twitterUserFields  = "username,name,verified,public_metrics"
)

// TwitterCrawler reads the v2 recent search and user timeline endpoints
type TwitterCrawler struct {
	baseCrawler
	bearerToken string
	maxResults  int
	client      *resty.Client
}

type twitterSearchResponse struct {
	Data     []twitterTweet `json:"data"`
	Includes struct {
		Users []twitterUser `json:"users"`
	} `json:"includes"`
	Meta struct {
		ResultCount int    `json:"result_count"`
		NextToken   string `json:"next_token"`
	} `json:"meta"`
}

type twitterTweet struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	AuthorID       string `json:"author_id"`
	CreatedAt      string `json:"created_at"`
	Lang           string `json:"lang"`
	ConversationID string `json:"conversation_id"`
	PublicMetrics  struct {
		RetweetCount    int64 `json:"retweet_count"`
		ReplyCount      int64 `json:"reply_count"`
		LikeCount       int64 `json:"like_count"`
		QuoteCount      int64 `json:"quote_count"`
		ImpressionCount int64 `json:"impression_count"`
	} `json:"public_metrics"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

type twitterUser struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Name          string `json:"name"`
	Verified      bool   `json:"verified"`
	PublicMetrics struct {
		FollowersCount int64 `json:"followers_count"`
	} `json:"public_metrics"`
}

type twitterUserResponse struct {
	Data twitterUser `json:"data"`
}

// NewTwitterCrawler creates a Twitter crawler against baseURL (normally https://api.twitter.com/2)
func NewTwitterCrawler(bearerToken, baseURL string, maxResults int, deps Deps) *TwitterCrawler {
	return &TwitterCrawler{
		baseCrawler: newBaseCrawler(models.PlatformTwitter, deps),
		bearerToken: bearerToken,
		maxResults:  maxResults,
		client: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "SocialPulse/1.0"),
	}
}

func (t *TwitterCrawler) ValidateCredentials() error {
	if t.bearerToken == "" {
		return fmt.Errorf("twitter bearer token: %w", ErrMissingCredentials)
	}
	return nil
}

func (t *TwitterCrawler) Crawl(ctx context.Context, rule *models.CrawlRule) (*models.CrawlResult, error) {
	cfg := rule.ConfigFor(models.PlatformTwitter)
	maxResults := t.maxResults
	if cfg.MaxResults > 0 {
		maxResults = cfg.MaxResults
	}

	return t.run(ctx, rule, t.ValidateCredentials(), maxResults, func(ctx context.Context, run *crawlRun) error {
		if cfg.Strategy == "timeline" {
			return t.crawlTimelines(ctx, run)
		}
		return t.crawlSearch(ctx, run, cfg)
	})
}

func (t *TwitterCrawler) crawlSearch(ctx context.Context, run *crawlRun, cfg models.PlatformConfig) error {
	query := BuildTwitterQuery(run.rule, cfg)
	run.result.Query = query
	run.result.Strategy = "search"
	if query == "" {
		run.result.AddError("rule has no twitter search terms")
		return nil
	}

	nextToken := ""
	for !run.exhausted() {
		params := map[string]string{
			"query":        query,
			"max_results":  strconv.Itoa(clampPage(run.remaining())),
			"tweet.fields": twitterTweetFields,
			"expansions":   "author_id",
			"user.fields":  twitterUserFields,
		}
		if nextToken != "" {
			params["next_token"] = nextToken
		}

		resp, err := cache.CacheOrRetrieve(ctx, t.deps.Cache, cache.Request{
			Platform:  string(models.PlatformTwitter),
			Endpoint:  "tweets/search/recent",
			Operation: "search",
			Params:    params,
			TTL:       cache.SearchTTL,
		}, func(ctx context.Context) (twitterSearchResponse, error) {
			var out twitterSearchResponse
			err := t.get(ctx, "/tweets/search/recent", params, &out)
			return out, err
		})
		if err != nil {
			logrus.WithError(err).WithField("query", query).Warn("Twitter search failed")
			run.result.AddError(fmt.Sprintf("twitter search: %v", err))
			return nil
		}

		before := run.result.PostsFound
		t.process(ctx, run, tweetsToRaw(resp.Data, resp.Includes.Users))

		if resp.Meta.NextToken == "" || run.result.PostsFound == before {
			break
		}
		nextToken = resp.Meta.NextToken
	}
	return nil
}

func (t *TwitterCrawler) crawlTimelines(ctx context.Context, run *crawlRun) error {
	run.result.Strategy = "timeline"
	if len(run.rule.Accounts) == 0 {
		run.result.AddError("timeline strategy requires accounts")
		return nil
	}

	for i, account := range run.rule.Accounts {
		if run.exhausted() {
			break
		}
		if i > 0 {
			if err := t.pause(ctx, twitterAccountDelay); err != nil {
				return err
			}
		}

		username := strings.TrimPrefix(account, "@")
		run.result.SubResources = append(run.result.SubResources, "@"+username)

		if err := t.crawlTimeline(ctx, run, username); err != nil {
			logrus.WithError(err).WithField("account", username).Warn("Twitter timeline failed, skipping account")
			run.result.AddError(fmt.Sprintf("@%s: %v", username, err))
		}
	}
	return nil
}

func (t *TwitterCrawler) crawlTimeline(ctx context.Context, run *crawlRun, username string) error {
	user, err := cache.CacheOrRetrieve(ctx, t.deps.Cache, cache.Request{
		Platform:  string(models.PlatformTwitter),
		Endpoint:  "users/by/username/" + username,
		Operation: "user",
		TTL:       cache.UserInfoTTL,
	}, func(ctx context.Context) (twitterUserResponse, error) {
		var out twitterUserResponse
		err := t.get(ctx, "/users/by/username/"+username, map[string]string{"user.fields": twitterUserFields}, &out)
		return out, err
	})
	if err != nil {
		return err
	}
	if user.Data.ID == "" {
		return fmt.Errorf("user not found")
	}

	params := map[string]string{
		"max_results":  strconv.Itoa(clampPage(run.remaining())),
		"tweet.fields": twitterTweetFields,
	}
	timeline, err := cache.CacheOrRetrieve(ctx, t.deps.Cache, cache.Request{
		Platform:  string(models.PlatformTwitter),
		Endpoint:  "users/" + user.Data.ID + "/tweets",
		Operation: "timeline",
		Params:    params,
		TTL:       cache.TimelineTTL,
	}, func(ctx context.Context) (twitterSearchResponse, error) {
		var out twitterSearchResponse
		err := t.get(ctx, "/users/"+user.Data.ID+"/tweets", params, &out)
		return out, err
	})
	if err != nil {
		return err
	}

	for i := range timeline.Data {
		if timeline.Data[i].AuthorID == "" {
			timeline.Data[i].AuthorID = user.Data.ID
		}
	}
	t.process(ctx, run, tweetsToRaw(timeline.Data, []twitterUser{user.Data}))
	return nil
}

func (t *TwitterCrawler) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	if err := t.throttle(ctx); err != nil {
		return err
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetAuthToken(t.bearerToken).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return err
	}

	if resp.StatusCode() == http.StatusTooManyRequests {
		reset := resp.Header().Get("x-rate-limit-reset")
		logrus.WithField("reset", reset).Warn("Twitter API rate limit hit")
		return fmt.Errorf("%w (resets at %s)", ErrRateLimited, reset)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("twitter API returned status %d: %s", resp.StatusCode(), truncate(string(resp.Body()), 200))
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to parse Twitter response: %w", err)
	}
	return nil
}

// BuildTwitterQuery renders a rule as a v2 search query
func BuildTwitterQuery(rule *models.CrawlRule, cfg models.PlatformConfig) string {
	var parts []string

	if group := orGroup(rule.Keywords, quoteIfSpaced); group != "" {
		parts = append(parts, group)
	}
	if group := orGroup(rule.Hashtags, func(tag string) string {
		return "#" + strings.TrimPrefix(tag, "#")
	}); group != "" {
		parts = append(parts, group)
	}
	if group := orGroup(rule.Accounts, func(acct string) string {
		return "from:" + strings.TrimPrefix(acct, "@")
	}); group != "" {
		parts = append(parts, group)
	}

	if len(parts) == 0 {
		return ""
	}

	for _, excluded := range rule.ExcludeKeywords {
		if excluded != "" {
			parts = append(parts, "-"+quoteIfSpaced(excluded))
		}
	}
	if rule.Language != "" && rule.Language != "all" {
		parts = append(parts, "lang:"+rule.Language)
	}
	if cfg.MinRetweets > 0 {
		parts = append(parts, fmt.Sprintf("min_retweets:%d", cfg.MinRetweets))
	}
	if cfg.MinFaves > 0 {
		parts = append(parts, fmt.Sprintf("min_faves:%d", cfg.MinFaves))
	}
	if cfg.MinReplies > 0 {
		parts = append(parts, fmt.Sprintf("min_replies:%d", cfg.MinReplies))
	}
	if cfg.ExcludeRetweets {
		parts = append(parts, "-is:retweet")
	}
	if cfg.ExcludeReplies {
		parts = append(parts, "-is:reply")
	}

	return strings.Join(parts, " ")
}

func tweetsToRaw(tweets []twitterTweet, users []twitterUser) []RawPost {
	byID := make(map[string]twitterUser, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	raws := make([]RawPost, 0, len(tweets))
	for _, tweet := range tweets {
		author := byID[tweet.AuthorID]
		postedAt, err := time.Parse(time.RFC3339, tweet.CreatedAt)
		if err != nil {
			logrus.WithField("tweet_id", tweet.ID).Debug("Unparseable tweet timestamp")
		}

		url := fmt.Sprintf("https://twitter.com/i/status/%s", tweet.ID)
		if author.Username != "" {
			url = fmt.Sprintf("https://twitter.com/%s/status/%s", author.Username, tweet.ID)
		}

		raws = append(raws, RawPost{
			ExternalID:        tweet.ID,
			PostType:          tweetType(tweet),
			Content:           tweet.Text,
			URL:               url,
			Language:          tweet.Lang,
			AuthorID:          tweet.AuthorID,
			AuthorUsername:    author.Username,
			AuthorDisplayName: author.Name,
			AuthorFollowers:   author.PublicMetrics.FollowersCount,
			AuthorVerified:    author.Verified,
			PostedAt:          postedAt,
			Metrics: map[string]int64{
				"like_count":       tweet.PublicMetrics.LikeCount,
				"retweet_count":    tweet.PublicMetrics.RetweetCount,
				"reply_count":      tweet.PublicMetrics.ReplyCount,
				"quote_count":      tweet.PublicMetrics.QuoteCount,
				"impression_count": tweet.PublicMetrics.ImpressionCount,
			},
			Metadata: map[string]interface{}{
				"conversation_id": tweet.ConversationID,
				"tweet_type":      tweetType(tweet),
			},
		})
	}
	return raws
}

func tweetType(tweet twitterTweet) string {
	for _, ref := range tweet.ReferencedTweets {
		switch ref.Type {
		case "retweeted":
			return "retweet"
		case "quoted":
			return "quote"
		case "replied_to":
			return "reply"
		}
	}
	return "original"
}

func clampPage(n int) int {
	if n < twitterMinPage {
		return twitterMinPage
	}
	if n > twitterMaxPage {
		return twitterMaxPage
	}
	return n
}

func quoteIfSpaced(term string) string {
	if strings.Contains(term, " ") {
		return `"` + term + `"`
	}
	return term
}

// orGroup renders terms as "a" or "(a OR b ...)"
func orGroup(terms []string, render func(string) string) string {
	var rendered []string
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term != "" {
			rendered = append(rendered, render(term))
		}
	}
	switch len(rendered) {
	case 0:
		return ""
	case 1:
		return rendered[0]
	default:
		return "(" + strings.Join(rendered, " OR ") + ")"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
