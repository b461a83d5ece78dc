package notifications

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/chainscope/social-pulse/internal/config"
	"github.com/chainscope/social-pulse/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

const maxDigestLines = 10

// Service sends alerts and digests to a chat webhook and by email
type Service struct {
	config *config.Config
	client *resty.Client
	mailer Mailer
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// message is the channel independent form of a notification
type message struct {
	Title string
	Text  string
	Level string
	Facts []fact
	Lines []string
}

type fact struct {
	Name  string
	Value string
}

// NewService creates a new notification service. The SMTP dialer is only
// built when an email recipient is configured.
func NewService(cfg *config.Config) *Service {
	s := &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
	if cfg.NotificationEmail != "" {
		s.mailer = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword)
	}
	return s
}

// SetMailer replaces the SMTP dialer
func (s *Service) SetMailer(m Mailer) {
	s.mailer = m
}

// Enabled reports whether at least one channel is configured
func (s *Service) Enabled() bool {
	return s.config.WebhookURL != "" || (s.config.NotificationEmail != "" && s.mailer != nil)
}

// SendAlert delivers an operator alert on every configured channel
func (s *Service) SendAlert(ctx context.Context, alert *models.Alert) error {
	msg := message{
		Title: fmt.Sprintf("[%s] %s", strings.ToUpper(alert.Type), alert.Title),
		Text:  alert.Message,
		Level: alert.Type,
		Facts: []fact{
			{Name: "Source", Value: alert.Source},
			{Name: "Time", Value: alert.CreatedAt.UTC().Format(time.RFC3339)},
		},
	}
	return s.deliver(ctx, msg)
}

// SendDigest delivers the daily sentiment digest on every configured channel
func (s *Service) SendDigest(ctx context.Context, digest *models.Digest) error {
	return s.deliver(ctx, buildDigestMessage(digest))
}

func (s *Service) deliver(ctx context.Context, msg message) error {
	var errs []error

	if s.config.WebhookURL != "" {
		if err := s.sendWebhook(ctx, msg); err != nil {
			logrus.WithError(err).Error("Failed to send webhook notification")
			errs = append(errs, fmt.Errorf("webhook: %w", err))
		} else {
			logrus.WithField("format", s.config.WebhookFormat).Debugf("Sent %q to webhook", msg.Title)
		}
	}

	if s.config.NotificationEmail != "" && s.mailer != nil {
		if err := s.sendEmail(msg); err != nil {
			logrus.WithError(err).Error("Failed to send email notification")
			errs = append(errs, fmt.Errorf("email: %w", err))
		} else {
			logrus.Debugf("Sent %q to %s", msg.Title, s.config.NotificationEmail)
		}
	}

	return errors.Join(errs...)
}

func (s *Service) sendWebhook(ctx context.Context, msg message) error {
	var payload interface{}
	switch s.config.WebhookFormat {
	case "discord":
		payload = discordPayload(msg)
	case "teams":
		payload = teamsPayload(msg)
	default:
		payload = slackPayload(msg)
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(s.config.WebhookURL)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}

func (s *Service) sendEmail(msg message) error {
	htmlBody, err := renderEmailHTML(msg)
	if err != nil {
		return fmt.Errorf("failed to build email HTML: %w", err)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", msg.Title)
	m.SetBody("text/plain", renderText(msg))
	m.AddAlternative("text/html", htmlBody)

	if err := s.mailer.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func buildDigestMessage(digest *models.Digest) message {
	msg := message{
		Title: fmt.Sprintf("Daily sentiment digest - %s", digest.Date),
		Level: "info",
	}

	labels := []struct{ key, name string }{
		{"total_posts", "Total Posts"},
		{"analyzed_posts", "Analyzed Posts"},
		{"positive_posts", "Positive"},
		{"negative_posts", "Negative"},
		{"avg_sentiment", "Average Sentiment"},
		{"most_negative", "Most Negative"},
	}
	for _, l := range labels {
		if v, ok := digest.Summary[l.key]; ok {
			msg.Facts = append(msg.Facts, fact{Name: l.name, Value: fmt.Sprint(v)})
		}
	}

	if len(digest.Aggregates) == 0 {
		msg.Text = "No sentiment aggregates were produced for this day."
		return msg
	}
	msg.Text = fmt.Sprintf("%d aggregates across platforms and categories.", len(digest.Aggregates))
	for i, agg := range digest.Aggregates {
		if i == maxDigestLines {
			msg.Lines = append(msg.Lines, fmt.Sprintf("... and %d more", len(digest.Aggregates)-maxDigestLines))
			break
		}
		msg.Lines = append(msg.Lines, fmt.Sprintf("%s / %s: avg %.4f over %d posts (%.2f%% positive, %.2f%% negative)",
			agg.Platform, agg.KeywordCategory, agg.AvgSentimentScore, agg.AnalyzedPosts,
			agg.PositivePercentage, agg.NegativePercentage))
	}
	return msg
}

func renderText(msg message) string {
	var text strings.Builder
	text.WriteString(msg.Title + "\n\n")
	if msg.Text != "" {
		text.WriteString(msg.Text + "\n\n")
	}
	for _, f := range msg.Facts {
		fmt.Fprintf(&text, "%s: %s\n", f.Name, f.Value)
	}
	if len(msg.Lines) > 0 {
		text.WriteString("\n")
		for _, line := range msg.Lines {
			text.WriteString("- " + line + "\n")
		}
	}
	return text.String()
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #0078d4; color: white; padding: 20px; border-radius: 5px; }
        .critical { background-color: #d13438; }
        .warning { background-color: #ff8c00; }
        .facts { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
    </style>
</head>
<body>
    <div class="header {{.Level}}"><h1>{{.Title}}</h1></div>
    {{if .Text}}<p>{{.Text}}</p>{{end}}
    {{if .Facts}}
    <div class="facts">
        {{range .Facts}}<p><strong>{{.Name}}:</strong> {{.Value}}</p>
        {{end}}
    </div>
    {{end}}
    {{if .Lines}}
    <ul>
        {{range .Lines}}<li>{{.}}</li>
        {{end}}
    </ul>
    {{end}}
</body>
</html>
`))

func renderEmailHTML(msg message) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, msg); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func colorOf(level string) int {
	switch level {
	case "critical":
		return 0xd13438
	case "warning":
		return 0xff8c00
	default:
		return 0x0078d4
	}
}

func hexColor(level string) string {
	return fmt.Sprintf("#%06x", colorOf(level))
}
