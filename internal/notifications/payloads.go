package notifications

import "strings"

// SlackMessage is an incoming webhook payload for Slack
type SlackMessage struct {
	Text        string            `json:"text"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

type SlackAttachment struct {
	Color  string       `json:"color"`
	Text   string       `json:"text,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
}

type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// DiscordMessage is a webhook payload for Discord
type DiscordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds"`
}

type DiscordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color"`
	Fields      []DiscordField `json:"fields,omitempty"`
}

type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// TeamsMessage represents a Microsoft Teams message card
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle string      `json:"activityTitle,omitempty"`
	ActivityText  string      `json:"activityText,omitempty"`
	Facts         []TeamsFact `json:"facts,omitempty"`
	Markdown      bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func body(msg message) string {
	if len(msg.Lines) == 0 {
		return msg.Text
	}
	return msg.Text + "\n" + strings.Join(msg.Lines, "\n")
}

func slackPayload(msg message) *SlackMessage {
	attachment := SlackAttachment{Color: hexColor(msg.Level), Text: body(msg)}
	for _, f := range msg.Facts {
		attachment.Fields = append(attachment.Fields, SlackField{Title: f.Name, Value: f.Value, Short: true})
	}
	return &SlackMessage{Text: "*" + msg.Title + "*", Attachments: []SlackAttachment{attachment}}
}

func discordPayload(msg message) *DiscordMessage {
	embed := DiscordEmbed{Title: msg.Title, Description: body(msg), Color: colorOf(msg.Level)}
	for _, f := range msg.Facts {
		embed.Fields = append(embed.Fields, DiscordField{Name: f.Name, Value: f.Value, Inline: true})
	}
	return &DiscordMessage{Embeds: []DiscordEmbed{embed}}
}

func teamsPayload(msg message) *TeamsMessage {
	card := &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: strings.TrimPrefix(hexColor(msg.Level), "#"),
		Title:      msg.Title,
		Text:       msg.Text,
	}
	if len(msg.Facts) > 0 {
		section := TeamsSection{ActivityTitle: "Summary", Markdown: true}
		for _, f := range msg.Facts {
			section.Facts = append(section.Facts, TeamsFact{Name: f.Name, Value: f.Value})
		}
		card.Sections = append(card.Sections, section)
	}
	if len(msg.Lines) > 0 {
		card.Sections = append(card.Sections, TeamsSection{
			ActivityTitle: "Details",
			ActivityText:  strings.Join(msg.Lines, "\n\n"),
			Markdown:      true,
		})
	}
	return card
}
