package models

import "time"

// Platform identifies a social network the crawlers understand
type Platform string

const (
	PlatformTwitter  Platform = "twitter"
	PlatformReddit   Platform = "reddit"
	PlatformTelegram Platform = "telegram"
)

// AllPlatforms lists every platform with a crawler implementation
var AllPlatforms = []Platform{PlatformTwitter, PlatformReddit, PlatformTelegram}

// Valid reports whether p is one of the supported platforms
func (p Platform) Valid() bool {
	for _, known := range AllPlatforms {
		if p == known {
			return true
		}
	}
	return false
}

func (p Platform) String() string {
	return string(p)
}

// Priority drives crawler queue selection
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Alert represents an operator notification, usually a job that exhausted its retries
type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // "critical", "warning", "info"
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Source    string    `json:"source"` // job or component name
	CreatedAt time.Time `json:"created_at"`
}

// Digest summarises one day of sentiment aggregates
type Digest struct {
	Date        string                    `json:"date"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Aggregates  []DailySentimentAggregate `json:"aggregates"`
	Summary     map[string]interface{}    `json:"summary"`
}
