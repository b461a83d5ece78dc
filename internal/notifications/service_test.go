package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chainscope/social-pulse/internal/config"
	"github.com/chainscope/social-pulse/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeMailer struct {
	sent []*gomail.Message
	err  error
}

func (f *fakeMailer) DialAndSend(m ...*gomail.Message) error {
	f.sent = append(f.sent, m...)
	return f.err
}

func capture(t *testing.T, status int) (*httptest.Server, *[]map[string]interface{}) {
	var bodies []map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &body))
		bodies = append(bodies, body)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, &bodies
}

func testAlert() *models.Alert {
	return &models.Alert{
		ID:        "a1",
		Type:      "critical",
		Title:     "Crawl for rule 7 failed",
		Message:   "quota exhausted",
		Source:    "crawl",
		CreatedAt: time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC),
	}
}

func TestSendAlertFormats(t *testing.T) {
	tests := []struct {
		format string
		check  func(t *testing.T, body map[string]interface{})
	}{
		{
			format: "slack",
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "*[CRITICAL] Crawl for rule 7 failed*", body["text"])
				attachment := body["attachments"].([]interface{})[0].(map[string]interface{})
				assert.Equal(t, "#d13438", attachment["color"])
				assert.Equal(t, "quota exhausted", attachment["text"])
			},
		},
		{
			format: "discord",
			check: func(t *testing.T, body map[string]interface{}) {
				embed := body["embeds"].([]interface{})[0].(map[string]interface{})
				assert.Equal(t, "[CRITICAL] Crawl for rule 7 failed", embed["title"])
				assert.Equal(t, float64(0xd13438), embed["color"])
				assert.Len(t, embed["fields"], 2)
			},
		},
		{
			format: "teams",
			check: func(t *testing.T, body map[string]interface{}) {
				assert.Equal(t, "MessageCard", body["@type"])
				assert.Equal(t, "d13438", body["themeColor"])
				assert.Equal(t, "quota exhausted", body["text"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			server, bodies := capture(t, http.StatusOK)
			svc := NewService(&config.Config{WebhookURL: server.URL, WebhookFormat: tt.format})

			require.NoError(t, svc.SendAlert(context.Background(), testAlert()))
			require.Len(t, *bodies, 1)
			tt.check(t, (*bodies)[0])
		})
	}
}

func TestWebhookErrorStatus(t *testing.T) {
	server, _ := capture(t, http.StatusBadRequest)
	svc := NewService(&config.Config{WebhookURL: server.URL, WebhookFormat: "slack"})

	err := svc.SendAlert(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestSendDigestByEmail(t *testing.T) {
	mailer := &fakeMailer{}
	svc := NewService(&config.Config{
		NotificationEmail: "ops@example.com",
		SMTPHost:          "smtp.example.com",
		SMTPPort:          587,
		SMTPUsername:      "bot@example.com",
		SMTPPassword:      "secret",
	})
	svc.SetMailer(mailer)
	assert.True(t, svc.Enabled())

	digest := &models.Digest{
		Date: "2026-10-17",
		Aggregates: []models.DailySentimentAggregate{
			{Platform: models.PlatformReddit, KeywordCategory: "defi", AvgSentimentScore: -0.25, AnalyzedPosts: 12},
		},
		Summary: map[string]interface{}{"total_posts": 12, "avg_sentiment": -0.25},
	}
	require.NoError(t, svc.SendDigest(context.Background(), digest))

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"Daily sentiment digest - 2026-10-17"}, mailer.sent[0].GetHeader("Subject"))
	assert.Equal(t, []string{"ops@example.com"}, mailer.sent[0].GetHeader("To"))
}

func TestDeliverJoinsChannelErrors(t *testing.T) {
	server, bodies := capture(t, http.StatusNoContent)
	mailer := &fakeMailer{err: errors.New("connection refused")}
	svc := NewService(&config.Config{WebhookURL: server.URL, WebhookFormat: "discord", NotificationEmail: "ops@example.com"})
	svc.SetMailer(mailer)

	err := svc.SendAlert(context.Background(), testAlert())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email")
	assert.NotContains(t, err.Error(), "webhook")
	assert.Len(t, *bodies, 1)
}

func TestBuildDigestMessage(t *testing.T) {
	aggs := make([]models.DailySentimentAggregate, 12)
	for i := range aggs {
		aggs[i] = models.DailySentimentAggregate{Platform: models.PlatformTwitter, KeywordCategory: "bitcoin"}
	}
	msg := buildDigestMessage(&models.Digest{
		Date:       "2026-10-17",
		Aggregates: aggs,
		Summary:    map[string]interface{}{"total_posts": 40, "most_negative": "twitter/bitcoin"},
	})

	assert.Equal(t, []fact{{"Total Posts", "40"}, {"Most Negative", "twitter/bitcoin"}}, msg.Facts)
	assert.Len(t, msg.Lines, maxDigestLines+1)
	assert.Equal(t, "... and 2 more", msg.Lines[maxDigestLines])

	empty := buildDigestMessage(&models.Digest{Date: "2026-10-17"})
	assert.Empty(t, empty.Lines)
	assert.Contains(t, empty.Text, "No sentiment aggregates")
}

func TestRenderEmailHTMLEscapes(t *testing.T) {
	html, err := renderEmailHTML(message{Title: "Alert", Text: "<script>x</script>", Level: "warning"})
	require.NoError(t, err)
	assert.Contains(t, html, `class="header warning"`)
	assert.NotContains(t, html, "<script>x</script>")
}
