package sources

import (
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/chainscope/social-pulse/internal/models"
)

var (
	whitespacePattern  = regexp.MustCompile(`\s+`)
	hashtagPattern     = regexp.MustCompile(`#(\w+)`)
	mentionPattern     = regexp.MustCompile(`@(\w+)`)
	urlPattern         = regexp.MustCompile(`https?://[^\s]+`)
	punctuationPattern = regexp.MustCompile(`[!?]{3,}`)

	spamPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(buy now|click here|limited time|act fast)\b`),
		regexp.MustCompile(`(?i)\b(make money|get rich|earn \$\d+)\b`),
		regexp.MustCompile(`(?i)\b(free gift|no cost|risk free)\b`),
	}
)

// RawPost is a platform post before normalization. Metrics use the platform's own names.
type RawPost struct {
	ExternalID        string
	PostType          string
	Content           string
	URL               string
	Language          string
	AuthorID          string
	AuthorUsername    string
	AuthorDisplayName string
	AuthorFollowers   int64
	AuthorVerified    bool
	PostedAt          time.Time
	Metrics           map[string]int64
	Metadata          map[string]interface{}
}

// CleanText collapses whitespace, drops control characters and trims
func CleanText(text string) string {
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(text)
}

// ExtractHashtags returns unique hashtags without the leading '#', in order of appearance
func ExtractHashtags(text string) []string {
	return uniqueSubmatches(hashtagPattern, text)
}

// ExtractMentions returns unique @mentions without the leading '@'
func ExtractMentions(text string) []string {
	return uniqueSubmatches(mentionPattern, text)
}

// ExtractURLs returns unique http(s) URLs found in text
func ExtractURLs(text string) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, u := range urlPattern.FindAllString(text, -1) {
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}

func uniqueSubmatches(re *regexp.Regexp, text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}

// IsLikelySpam applies repetition, shouting, punctuation and phrase heuristics
func IsLikelySpam(content string) bool {
	if content == "" {
		return false
	}

	words := strings.Split(strings.ToLower(content), " ")
	counts := make(map[string]int, len(words))
	maxRepetition := 0
	for _, w := range words {
		counts[w]++
		if counts[w] > maxRepetition {
			maxRepetition = counts[w]
		}
	}
	if maxRepetition > 5 && len(words) > 10 {
		return true
	}

	length := utf8.RuneCountInString(content)
	upper := 0
	for _, r := range content {
		if r >= 'A' && r <= 'Z' {
			upper++
		}
	}
	if length > 20 && float64(upper)/float64(length) > 0.5 {
		return true
	}

	if len(punctuationPattern.FindAllString(content, -1)) > 2 {
		return true
	}

	for _, pattern := range spamPatterns {
		if pattern.MatchString(content) {
			return true
		}
	}
	return false
}

// RecommendCrawlInterval suggests minutes between crawls from observed activity
func RecommendCrawlInterval(postsFound int, avgEngagement float64) int {
	switch {
	case postsFound > 100 || avgEngagement > 1000:
		return 5
	case postsFound > 50 || avgEngagement > 500:
		return 15
	case postsFound > 10 || avgEngagement > 100:
		return 60
	default:
		return 240
	}
}

// NormalizePost maps a raw platform post onto the common schema
func NormalizePost(platform models.Platform, raw RawPost) *models.SocialPost {
	content := CleanText(raw.Content)
	likes, shares, comments, views := engagement(platform, raw.Metrics)

	metadata := make(map[string]interface{}, len(raw.Metadata)+1)
	for k, v := range raw.Metadata {
		metadata[k] = v
	}
	metadata["platform"] = string(platform)

	language := raw.Language
	if language == "" {
		language = "unknown"
	}
	postedAt := raw.PostedAt
	if postedAt.IsZero() {
		postedAt = time.Now()
	}

	return &models.SocialPost{
		Platform:          platform,
		ExternalID:        raw.ExternalID,
		PostType:          raw.PostType,
		Content:           content,
		URL:               raw.URL,
		Language:          language,
		AuthorID:          raw.AuthorID,
		AuthorUsername:    raw.AuthorUsername,
		AuthorDisplayName: raw.AuthorDisplayName,
		AuthorFollowers:   raw.AuthorFollowers,
		AuthorVerified:    raw.AuthorVerified,
		Likes:             likes,
		Shares:            shares,
		Comments:          comments,
		Views:             views,
		EngagementScore:   models.ComputeEngagementScore(likes, shares, comments, views),
		Hashtags:          ExtractHashtags(content),
		Mentions:          ExtractMentions(content),
		URLs:              ExtractURLs(content),
		Metadata:          metadata,
		PostedAt:          postedAt.UTC(),
		ProcessingStatus:  models.PostStatusPending,
	}
}

func engagement(platform models.Platform, m map[string]int64) (likes, shares, comments, views int64) {
	switch platform {
	case models.PlatformTwitter:
		return m["like_count"], m["retweet_count"] + m["quote_count"], m["reply_count"], m["impression_count"]
	case models.PlatformReddit:
		likes = m["ups"]
		if likes == 0 {
			likes = m["score"]
		}
		return likes, m["num_crossposts"], m["num_comments"], 0
	case models.PlatformTelegram:
		return m["reactions"], m["forwards"], m["replies"], m["views"]
	default:
		return 0, 0, 0, 0
	}
}
