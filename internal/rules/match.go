package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chainscope/social-pulse/internal/models"
	"github.com/sirupsen/logrus"
)

// Metadata is what a crawler knows about a post beyond its text
type Metadata struct {
	Author     string
	Hashtags   []string
	Mentions   []string
	Engagement int64
	Followers  int64
	Sentiment  *float64
	Language   string
	NSFW       bool
	Fields     map[string]interface{}
}

// MetadataFor builds match metadata from a normalized post
func MetadataFor(post *models.SocialPost) Metadata {
	meta := Metadata{
		Author:     post.AuthorUsername,
		Hashtags:   post.Hashtags,
		Mentions:   post.Mentions,
		Engagement: post.TotalEngagement(),
		Followers:  post.AuthorFollowers,
		Sentiment:  post.SentimentScore,
		Language:   post.Language,
		Fields:     post.Metadata,
	}
	if nsfw, ok := post.Metadata["nsfw"].(bool); ok {
		meta.NSFW = nsfw
	}
	return meta
}

// MatchesContent decides whether a post satisfies the rule's criteria.
// Excluded keywords win over everything; empty allow-lists match anything.
func MatchesContent(rule *models.CrawlRule, text string, meta Metadata) bool {
	lower := strings.ToLower(text)

	for _, excluded := range rule.ExcludeKeywords {
		if excluded != "" && strings.Contains(lower, strings.ToLower(excluded)) {
			return false
		}
	}

	if !matchesAllowList(rule, text, lower, meta) {
		return false
	}

	if rule.EngagementThreshold > 0 && meta.Engagement < rule.EngagementThreshold {
		return false
	}
	if rule.FollowerThreshold > 0 && meta.Followers < rule.FollowerThreshold {
		return false
	}
	if rule.SentimentThreshold != nil && meta.Sentiment != nil && *meta.Sentiment < *rule.SentimentThreshold {
		return false
	}
	if rule.Language != "" && rule.Language != "all" && meta.Language != "" &&
		!strings.EqualFold(rule.Language, meta.Language) {
		return false
	}
	if meta.NSFW && !rule.AllowNSFW {
		return false
	}

	for _, filter := range rule.Filters {
		if !applyFilter(filter, text, meta) {
			return false
		}
	}
	return true
}

// matchesAllowList passes when any configured allow-list has a hit, or when none is configured
func matchesAllowList(rule *models.CrawlRule, text, lower string, meta Metadata) bool {
	if len(rule.Keywords) == 0 && len(rule.Hashtags) == 0 && len(rule.Accounts) == 0 {
		return true
	}
	if len(rule.Keywords) > 0 && len(MatchedKeywords(rule, text)) > 0 {
		return true
	}
	if len(rule.Hashtags) > 0 && len(matchedHashtags(rule, lower, meta.Hashtags)) > 0 {
		return true
	}
	return len(rule.Accounts) > 0 && matchesAccount(rule.Accounts, lower, meta)
}

// MatchedKeywords returns the rule keywords present in text, in rule order
func MatchedKeywords(rule *models.CrawlRule, text string) []string {
	lower := strings.ToLower(text)
	var matched []string
	for _, kw := range rule.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			matched = append(matched, kw)
		}
	}
	return matched
}

// MatchedHashtags returns the rule hashtags present in text; tags may be configured with or without '#'
func MatchedHashtags(rule *models.CrawlRule, text string) []string {
	return matchedHashtags(rule, strings.ToLower(text), nil)
}

func matchedHashtags(rule *models.CrawlRule, lower string, extracted []string) []string {
	var matched []string
	for _, tag := range rule.Hashtags {
		bare := strings.ToLower(strings.TrimPrefix(tag, "#"))
		if bare == "" {
			continue
		}
		if strings.Contains(lower, "#"+bare) || containsFold(extracted, bare) {
			matched = append(matched, tag)
		}
	}
	return matched
}

func matchesAccount(accounts []string, lower string, meta Metadata) bool {
	for _, account := range accounts {
		bare := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(account, "u/"), "@"))
		if bare == "" {
			continue
		}
		if strings.EqualFold(meta.Author, bare) ||
			strings.Contains(lower, "@"+bare) ||
			containsFold(meta.Mentions, bare) {
			return true
		}
	}
	return false
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimLeft(v, "#@"), want) {
			return true
		}
	}
	return false
}

func applyFilter(filter models.ContentFilter, text string, meta Metadata) bool {
	switch filter.Type {
	case models.FilterTextLength:
		return compare(float64(utf8.RuneCountInString(text)), filter.Operator, filter.Value)
	case models.FilterWordCount:
		return compare(float64(len(strings.Fields(text))), filter.Operator, filter.Value)
	case models.FilterMetadata:
		value, ok := meta.Fields[filter.Field]
		if !ok {
			// absent fields only satisfy negative operators
			return filter.Operator == models.OpNotEquals || filter.Operator == models.OpNotContains
		}
		return compare(value, filter.Operator, filter.Value)
	case models.FilterRegex:
		pattern := fmt.Sprint(filter.Value)
		re, err := regexp.Compile(pattern)
		if err != nil {
			logrus.WithError(err).WithField("pattern", pattern).Warn("Ignoring invalid regex filter")
			return true
		}
		found := re.MatchString(text)
		if filter.Operator == models.OpNotContains || filter.Operator == models.OpNotEquals {
			return !found
		}
		return found
	default:
		logrus.WithField("filter_type", filter.Type).Debug("Ignoring unknown content filter")
		return true
	}
}

func compare(actual interface{}, operator string, expected interface{}) bool {
	a, aNum := toFloat(actual)
	e, eNum := toFloat(expected)
	numeric := aNum && eNum

	switch operator {
	case models.OpEquals:
		if numeric {
			return a == e
		}
		return strings.EqualFold(fmt.Sprint(actual), fmt.Sprint(expected))
	case models.OpNotEquals:
		if numeric {
			return a != e
		}
		return !strings.EqualFold(fmt.Sprint(actual), fmt.Sprint(expected))
	case models.OpGreaterThan:
		return numeric && a > e
	case models.OpLessThan:
		return numeric && a < e
	case models.OpGreaterEqual:
		return numeric && a >= e
	case models.OpLessEqual:
		return numeric && a <= e
	case models.OpContains:
		return strings.Contains(strings.ToLower(fmt.Sprint(actual)), strings.ToLower(fmt.Sprint(expected)))
	case models.OpNotContains:
		return !strings.Contains(strings.ToLower(fmt.Sprint(actual)), strings.ToLower(fmt.Sprint(expected)))
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
