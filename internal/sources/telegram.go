package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chainscope/social-pulse/internal/cache"
	"github.com/chainscope/social-pulse/internal/models"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
)

const telegramChannelDelay = 1 * time.Second

// TelegramOptions configures the Telegram crawler
type TelegramOptions struct {
	BotToken   string
	BotAPIURL  string
	WebURL     string
	Channels   []string
	MaxResults int
}

// TelegramCrawler scrapes public channel previews and falls back to the Bot API for private chats
type TelegramCrawler struct {
	baseCrawler
	opts   TelegramOptions
	client *resty.Client
}

type telegramAPIResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	Description string          `json:"description"`
}

type telegramChat struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Username string `json:"username"`
	Type     string `json:"type"`
}

type telegramMessage struct {
	MessageID int64           `json:"message_id"`
	Date      int64           `json:"date"`
	Text      string          `json:"text"`
	Caption   string          `json:"caption"`
	Chat      telegramChat    `json:"chat"`
	Views     int64           `json:"views"`
	Photo     json.RawMessage `json:"photo"`
	Video     json.RawMessage `json:"video"`
	Document  json.RawMessage `json:"document"`
	Audio     json.RawMessage `json:"audio"`
	Sticker   json.RawMessage `json:"sticker"`
}

type telegramUpdate struct {
	UpdateID    int64            `json:"update_id"`
	ChannelPost *telegramMessage `json:"channel_post"`
}

// NewTelegramCrawler creates a Telegram crawler
func NewTelegramCrawler(opts TelegramOptions, deps Deps) *TelegramCrawler {
	if opts.WebURL == "" {
		opts.WebURL = "https://t.me"
	}
	if opts.BotAPIURL == "" {
		opts.BotAPIURL = "https://api.telegram.org"
	}
	return &TelegramCrawler{
		baseCrawler: newBaseCrawler(models.PlatformTelegram, deps),
		opts:        opts,
		client: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "Mozilla/5.0 (compatible; SocialPulse/1.0)"),
	}
}

// ValidateCredentials always succeeds: public channels need no token. A missing bot
// token only limits the crawler to public channels.
func (t *TelegramCrawler) ValidateCredentials() error {
	if t.opts.BotToken == "" {
		logrus.Debug("Telegram bot token not configured, only public channels can be crawled")
	}
	return nil
}

func (t *TelegramCrawler) Crawl(ctx context.Context, rule *models.CrawlRule) (*models.CrawlResult, error) {
	cfg := rule.ConfigFor(models.PlatformTelegram)
	channels := cfg.Channels
	if len(channels) == 0 {
		channels = t.opts.Channels
	}

	var precondition error
	if len(channels) == 0 {
		precondition = ErrNoChannels
	}

	maxResults := t.opts.MaxResults
	if cfg.MaxResults > 0 {
		maxResults = cfg.MaxResults
	}

	return t.run(ctx, rule, precondition, maxResults, func(ctx context.Context, run *crawlRun) error {
		run.result.Strategy = "channels"
		perChannel := run.budget / len(channels)
		if perChannel < 1 {
			perChannel = 1
		}

		for i, channel := range channels {
			if run.exhausted() {
				break
			}
			if i > 0 {
				if err := t.pause(ctx, telegramChannelDelay); err != nil {
					return err
				}
			}

			channel = strings.TrimPrefix(strings.TrimSpace(channel), "@")
			run.result.SubResources = append(run.result.SubResources, channel)
			limit := minInt(perChannel, run.remaining())

			var (
				raws []RawPost
				err  error
			)
			if IsPublicChannel(channel) {
				raws, err = t.scrapeChannel(ctx, channel, limit)
			} else if t.opts.BotToken == "" {
				logrus.WithField("channel", channel).Warn("Bot token required for private Telegram channel")
				run.result.AddError(fmt.Sprintf("%s: bot token required for private channels", channel))
				continue
			} else {
				raws, err = t.botMessages(ctx, channel, limit)
			}
			if err != nil {
				logrus.WithError(err).WithField("channel", channel).Warn("Telegram channel crawl failed, skipping")
				run.result.AddError(fmt.Sprintf("%s: %v", channel, err))
				continue
			}

			t.process(ctx, run, raws)
		}
		return nil
	})
}

// IsPublicChannel reports whether channel is a username that has a t.me/s preview page
func IsPublicChannel(channel string) bool {
	if channel == "" || strings.HasPrefix(channel, "-") {
		return false
	}
	_, err := strconv.ParseInt(channel, 10, 64)
	return err != nil
}

func (t *TelegramCrawler) scrapeChannel(ctx context.Context, channel string, limit int) ([]RawPost, error) {
	page, err := cache.CacheOrRetrieve(ctx, t.deps.Cache, cache.Request{
		Platform:  string(models.PlatformTelegram),
		Endpoint:  "channel/" + channel,
		Operation: "channel_messages",
		Params:    map[string]interface{}{"channel": channel},
		TTL:       cache.ChannelTTL,
	}, func(ctx context.Context) (string, error) {
		if err := t.throttle(ctx); err != nil {
			return "", err
		}
		resp, err := t.client.R().
			SetContext(ctx).
			Get(strings.TrimRight(t.opts.WebURL, "/") + "/s/" + channel)
		if err != nil {
			return "", err
		}
		if resp.StatusCode() == http.StatusTooManyRequests {
			return "", ErrRateLimited
		}
		if resp.StatusCode() != http.StatusOK {
			return "", fmt.Errorf("failed to access channel: HTTP %d", resp.StatusCode())
		}
		return string(resp.Body()), nil
	})
	if err != nil {
		return nil, err
	}

	raws, err := ParseChannelHTML(page, channel)
	if err != nil {
		return nil, err
	}
	// the preview lists oldest first; keep the newest
	if len(raws) > limit {
		raws = raws[len(raws)-limit:]
	}
	return raws, nil
}

// ParseChannelHTML extracts messages from a t.me/s/{channel} preview page
func ParseChannelHTML(page, channel string) ([]RawPost, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel page: %w", err)
	}

	channelTitle := strings.TrimSpace(doc.Find(".tgme_channel_info_header_title").First().Text())

	var raws []RawPost
	doc.Find(".tgme_widget_message").Each(func(_ int, s *goquery.Selection) {
		dataPost, ok := s.Attr("data-post")
		if !ok || dataPost == "" {
			return
		}

		text := messageText(s.Find(".tgme_widget_message_text").First())
		messageType := telegramMessageType(s)
		if text == "" && messageType == "text" {
			return
		}

		var postedAt time.Time
		if dt, ok := s.Find(".tgme_widget_message_date time").First().Attr("datetime"); ok {
			if parsed, err := time.Parse(time.RFC3339, dt); err == nil {
				postedAt = parsed
			}
		}

		link, _ := s.Find("a.tgme_widget_message_date").First().Attr("href")
		if link == "" {
			link = "https://t.me/" + dataPost
		}

		raws = append(raws, RawPost{
			ExternalID:        strings.ReplaceAll(dataPost, "/", "_"),
			PostType:          messageType,
			Content:           text,
			URL:               link,
			AuthorUsername:    channel,
			AuthorDisplayName: strings.TrimSpace(s.Find(".tgme_widget_message_owner_name").First().Text()),
			PostedAt:          postedAt,
			Metrics: map[string]int64{
				"views": ParseCount(s.Find(".tgme_widget_message_views").First().Text()),
			},
			Metadata: map[string]interface{}{
				"channel":       channel,
				"channel_title": channelTitle,
				"message_type":  messageType,
				"source":        "web_preview",
			},
		})
	})
	return raws, nil
}

// messageText flattens a message body, keeping <br> as line breaks
func messageText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, n := range sel.Nodes {
		writeNodeText(&b, n)
	}
	return strings.TrimSpace(b.String())
}

func writeNodeText(b *strings.Builder, n *html.Node) {
	switch {
	case n.Type == html.TextNode:
		b.WriteString(n.Data)
	case n.Type == html.ElementNode && n.Data == "br":
		b.WriteString("\n")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeNodeText(b, c)
	}
}

func telegramMessageType(s *goquery.Selection) string {
	switch {
	case s.Find(".tgme_widget_message_photo_wrap").Length() > 0:
		return "photo"
	case s.Find(".tgme_widget_message_video_player, .tgme_widget_message_video").Length() > 0:
		return "video"
	case s.Find(".tgme_widget_message_document").Length() > 0:
		return "document"
	case s.Find(".tgme_widget_message_voice, .tgme_widget_message_audio").Length() > 0:
		return "audio"
	case s.Find(".tgme_widget_message_sticker, .tgme_widget_message_sticker_wrap").Length() > 0:
		return "sticker"
	default:
		return "text"
	}
}

// ParseCount turns preview counters such as "1.2K" or "3M" into integers
func ParseCount(value string) int64 {
	value = strings.TrimSpace(strings.ToUpper(value))
	if value == "" {
		return 0
	}

	multiplier := 1.0
	switch {
	case strings.HasSuffix(value, "K"):
		multiplier = 1e3
		value = strings.TrimSuffix(value, "K")
	case strings.HasSuffix(value, "M"):
		multiplier = 1e6
		value = strings.TrimSuffix(value, "M")
	}

	n, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return int64(n*multiplier + 0.5)
}

func (t *TelegramCrawler) botMessages(ctx context.Context, channel string, limit int) ([]RawPost, error) {
	chat, err := cache.CacheOrRetrieve(ctx, t.deps.Cache, cache.Request{
		Platform:  string(models.PlatformTelegram),
		Endpoint:  "getChat",
		Operation: "channel_info",
		Params:    map[string]string{"chat_id": channel},
		TTL:       cache.UserInfoTTL,
	}, func(ctx context.Context) (telegramChat, error) {
		var out telegramChat
		err := t.callBot(ctx, "getChat", map[string]interface{}{"chat_id": channel}, &out)
		return out, err
	})
	if err != nil {
		return nil, err
	}

	var updates []telegramUpdate
	if err := t.callBot(ctx, "getUpdates", map[string]interface{}{
		"offset":          -limit,
		"limit":           minInt(limit, 100),
		"allowed_updates": []string{"channel_post"},
	}, &updates); err != nil {
		return nil, err
	}

	var raws []RawPost
	for _, update := range updates {
		msg := update.ChannelPost
		if msg == nil || msg.Chat.ID != chat.ID {
			continue
		}

		text := msg.Text
		if text == "" {
			text = msg.Caption
		}
		messageType := botMessageType(msg)

		url := ""
		if msg.Chat.Username != "" {
			url = fmt.Sprintf("https://t.me/%s/%d", msg.Chat.Username, msg.MessageID)
		}

		raws = append(raws, RawPost{
			ExternalID:        fmt.Sprintf("%d_%d", msg.Chat.ID, msg.MessageID),
			PostType:          messageType,
			Content:           text,
			URL:               url,
			AuthorID:          strconv.FormatInt(msg.Chat.ID, 10),
			AuthorUsername:    msg.Chat.Username,
			AuthorDisplayName: msg.Chat.Title,
			PostedAt:          time.Unix(msg.Date, 0).UTC(),
			Metrics:           map[string]int64{"views": msg.Views},
			Metadata: map[string]interface{}{
				"channel_id":    msg.Chat.ID,
				"channel_title": msg.Chat.Title,
				"message_type":  messageType,
				"source":        "bot_api",
			},
		})
	}
	return raws, nil
}

func botMessageType(msg *telegramMessage) string {
	switch {
	case len(msg.Photo) > 0:
		return "photo"
	case len(msg.Video) > 0:
		return "video"
	case len(msg.Document) > 0:
		return "document"
	case len(msg.Audio) > 0:
		return "audio"
	case len(msg.Sticker) > 0:
		return "sticker"
	default:
		return "text"
	}
}

func (t *TelegramCrawler) callBot(ctx context.Context, method string, body map[string]interface{}, out interface{}) error {
	if err := t.throttle(ctx); err != nil {
		return err
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(fmt.Sprintf("%s/bot%s/%s", strings.TrimRight(t.opts.BotAPIURL, "/"), t.opts.BotToken, method))
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return ErrRateLimited
	}

	var apiResp telegramAPIResponse
	if err := json.Unmarshal(resp.Body(), &apiResp); err != nil {
		return fmt.Errorf("telegram Bot API error: HTTP %d", resp.StatusCode())
	}
	if !apiResp.OK {
		return fmt.Errorf("telegram API error: %s", apiResp.Description)
	}
	return json.Unmarshal(apiResp.Result, out)
}
