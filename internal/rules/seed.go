package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chainscope/social-pulse/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// RuleSeed is the file representation of a crawl rule
type RuleSeed struct {
	Name                 string                           `mapstructure:"name"`
	Description          string                           `mapstructure:"description"`
	Active               *bool                            `mapstructure:"active"`
	Priority             string                           `mapstructure:"priority"`
	Platforms            []string                         `mapstructure:"platforms"`
	PlatformConfigs      map[string]models.PlatformConfig `mapstructure:"platform_configs"`
	Keywords             []string                         `mapstructure:"keywords"`
	Hashtags             []string                         `mapstructure:"hashtags"`
	Accounts             []string                         `mapstructure:"accounts"`
	ExcludeKeywords      []string                         `mapstructure:"exclude_keywords"`
	EngagementThreshold  int64                            `mapstructure:"engagement_threshold"`
	FollowerThreshold    int64                            `mapstructure:"follower_threshold"`
	SentimentThreshold   *float64                         `mapstructure:"sentiment_threshold"`
	Language             string                           `mapstructure:"language"`
	AllowNSFW            bool                             `mapstructure:"allow_nsfw"`
	Filters              []models.ContentFilter           `mapstructure:"filters"`
	StartDate            string                           `mapstructure:"start_date"`
	EndDate              string                           `mapstructure:"end_date"`
	MaxPostsPerHour      int                              `mapstructure:"max_posts_per_hour"`
	CrawlIntervalMinutes int                              `mapstructure:"crawl_interval_minutes"`
}

// DefinitionStore persists rule definitions by name
type DefinitionStore interface {
	UpsertDefinition(ctx context.Context, rule *models.CrawlRule) (bool, error)
}

// LoadRuleFile reads the "rules" list from a YAML or JSON file
func LoadRuleFile(path string) ([]RuleSeed, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading rules file %s: %w", path, err)
	}

	var seeds []RuleSeed
	if err := v.UnmarshalKey("rules", &seeds); err != nil {
		return nil, fmt.Errorf("error decoding rules file %s: %w", path, err)
	}
	return seeds, nil
}

// ToRule converts a seed into a validated CrawlRule
func (s RuleSeed) ToRule() (*models.CrawlRule, error) {
	rule := &models.CrawlRule{
		Name:                 strings.TrimSpace(s.Name),
		Description:          s.Description,
		Active:               s.Active == nil || *s.Active,
		Priority:             models.Priority(strings.ToLower(s.Priority)),
		Keywords:             s.Keywords,
		Hashtags:             s.Hashtags,
		Accounts:             s.Accounts,
		ExcludeKeywords:      s.ExcludeKeywords,
		EngagementThreshold:  s.EngagementThreshold,
		FollowerThreshold:    s.FollowerThreshold,
		SentimentThreshold:   s.SentimentThreshold,
		Language:             s.Language,
		AllowNSFW:            s.AllowNSFW,
		Filters:              s.Filters,
		MaxPostsPerHour:      s.MaxPostsPerHour,
		CrawlIntervalMinutes: s.CrawlIntervalMinutes,
	}
	if rule.Priority == "" {
		rule.Priority = models.PriorityNormal
	}
	if rule.CrawlIntervalMinutes == 0 {
		rule.CrawlIntervalMinutes = 60
	}

	for _, p := range s.Platforms {
		rule.Platforms = append(rule.Platforms, models.Platform(strings.ToLower(p)))
	}
	if len(s.PlatformConfigs) > 0 {
		rule.PlatformConfigs = make(map[models.Platform]models.PlatformConfig, len(s.PlatformConfigs))
		for p, cfg := range s.PlatformConfigs {
			rule.PlatformConfigs[models.Platform(strings.ToLower(p))] = cfg
		}
	}

	var err error
	if rule.StartDate, err = parseSeedDate(s.StartDate); err != nil {
		return nil, fmt.Errorf("rule %q: invalid start_date: %w", s.Name, err)
	}
	if rule.EndDate, err = parseSeedDate(s.EndDate); err != nil {
		return nil, fmt.Errorf("rule %q: invalid end_date: %w", s.Name, err)
	}

	if err := Validate(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func parseSeedDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", value)
}

// Seed upserts every seed by name. Invalid seeds are skipped and reported.
func Seed(ctx context.Context, store DefinitionStore, seeds []RuleSeed) (int, error) {
	var invalid []string
	created := 0

	for _, seed := range seeds {
		rule, err := seed.ToRule()
		if err != nil {
			logrus.WithError(err).WithField("rule", seed.Name).Warn("Skipping invalid rule seed")
			invalid = append(invalid, seed.Name)
			continue
		}

		isNew, err := store.UpsertDefinition(ctx, rule)
		if err != nil {
			return created, fmt.Errorf("failed to upsert rule %q: %w", rule.Name, err)
		}
		if isNew {
			created++
		}
		logrus.WithFields(logrus.Fields{
			"rule":    rule.Name,
			"created": isNew,
		}).Info("Rule seeded")
	}

	if len(invalid) > 0 {
		return created, fmt.Errorf("%d invalid rule seeds: %s", len(invalid), strings.Join(invalid, ", "))
	}
	return created, nil
}
