package sentiment

import (
	"context"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrCostLimitReached means the batch stopped submitting texts to stay within its cost limit
	ErrCostLimitReached = errors.New("sentiment cost limit reached")

	// ErrDailyBudgetExceeded means today's spend already reached the daily budget
	ErrDailyBudgetExceeded = errors.New("daily sentiment budget exceeded")

	// ErrBatchNotFound is returned for unknown batch ids
	ErrBatchNotFound = errors.New("sentiment batch not found")

	// ErrMissingAPIKey means the sentiment API cannot be called
	ErrMissingAPIKey = errors.New("sentiment API key not configured")
)

// Sentiment labels, from most positive to most negative
const (
	LabelVeryPositive = "very_positive"
	LabelPositive     = "positive"
	LabelNeutral      = "neutral"
	LabelNegative     = "negative"
	LabelVeryNegative = "very_negative"
)

// Strength bands derived from magnitude
const (
	StrengthVeryStrong = "very_strong"
	StrengthStrong     = "strong"
	StrengthModerate   = "moderate"
	StrengthWeak       = "weak"
)

// RawSentiment is an analyzer response before validation. Missing fields stay nil.
type RawSentiment struct {
	Score     *float64 `json:"score" validate:"required,gte=-1,lte=1"`
	Magnitude *float64 `json:"magnitude" validate:"required,gte=0"`
	Language  string   `json:"language,omitempty"`
}

// NewRawSentiment builds a complete response
func NewRawSentiment(score, magnitude float64, language string) *RawSentiment {
	return &RawSentiment{Score: &score, Magnitude: &magnitude, Language: language}
}

// Analyzer scores the sentiment of one text
type Analyzer interface {
	AnalyzeSentiment(ctx context.Context, text string) (*RawSentiment, error)
}

// Label maps a score onto the five symmetric bands
func Label(score float64) string {
	switch {
	case score >= 0.6:
		return LabelVeryPositive
	case score >= 0.2:
		return LabelPositive
	case score >= -0.2:
		return LabelNeutral
	case score >= -0.6:
		return LabelNegative
	default:
		return LabelVeryNegative
	}
}

// Strength maps a magnitude onto its band
func Strength(magnitude float64) string {
	switch {
	case magnitude > 1.5:
		return StrengthVeryStrong
	case magnitude > 1.0:
		return StrengthStrong
	case magnitude > 0.5:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

// Confidence blends magnitude (0.7) and absolute score (0.3), capped at 1
func Confidence(score, magnitude float64) float64 {
	return math.Min(1, 0.7*magnitude+0.3*math.Abs(score))
}

func describe(raw *RawSentiment) string {
	if raw == nil {
		return "<nil>"
	}
	format := func(v *float64) string {
		if v == nil {
			return "missing"
		}
		return fmt.Sprintf("%g", *v)
	}
	return fmt.Sprintf("score=%s magnitude=%s", format(raw.Score), format(raw.Magnitude))
}
