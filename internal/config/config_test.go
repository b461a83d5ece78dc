package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "file::memory:")
	t.Setenv("DATABASE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 25, cfg.SentimentBatchSize)
	assert.Equal(t, 0.001, cfg.SentimentCostPerRequest)
	assert.Equal(t, 50.0, cfg.SentimentDailyBudget)
	assert.Equal(t, 15*time.Minute, cfg.TwitterRateWindow)
	assert.Equal(t, []string{"cryptocurrency", "bitcoin", "ethereum", "defi", "altcoin"}, cfg.RedditDefaultSubreddits)
	assert.Empty(t, cfg.TelegramChannels)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/pulse")
	t.Setenv("TELEGRAM_CHANNELS", "whale_alert, cointelegraph ,")
	t.Setenv("REDDIT_RATE_WINDOW", "5m")
	t.Setenv("SENTIMENT_COST_LIMIT", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"whale_alert", "cointelegraph"}, cfg.TelegramChannels)
	assert.Equal(t, 5*time.Minute, cfg.RedditRateWindow)
	assert.Equal(t, 2.5, cfg.SentimentCostLimit)
}

func TestConfig_validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DatabaseDriver:     "postgres",
			DatabaseURL:        "postgres://localhost/pulse",
			WebhookFormat:      "slack",
			SentimentBatchSize: 25,
			QueueWorkers:       2,
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.DatabaseDriver = "mysql" }, wantErr: true},
		{name: "missing database url", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: true},
		{name: "bad webhook format", mutate: func(c *Config) { c.WebhookFormat = "irc" }, wantErr: true},
		{name: "email without smtp", mutate: func(c *Config) { c.NotificationEmail = "ops@example.com" }, wantErr: true},
		{name: "zero batch size", mutate: func(c *Config) { c.SentimentBatchSize = 0 }, wantErr: true},
		{name: "negative budget", mutate: func(c *Config) { c.SentimentDailyBudget = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_HasRedditCredentials(t *testing.T) {
	cfg := &Config{RedditClientID: "id", RedditClientSecret: "secret", RedditUsername: "bot"}
	assert.False(t, cfg.HasRedditCredentials())

	cfg.RedditPassword = "pw"
	assert.True(t, cfg.HasRedditCredentials())
}
