package sentiment

import (
	"context"
	"math"
	"strings"
)

var (
	positiveWords = []string{
		"good", "great", "excellent", "love", "awesome", "bullish", "moon", "pump",
		"gain", "profit", "success", "surge", "rally", "breakout", "adoption", "upgrade",
	}
	negativeWords = []string{
		"bad", "terrible", "awful", "hate", "bearish", "dump", "crash", "scam",
		"exploit", "hack", "loss", "rug", "fail", "drained", "panic", "fraud",
	}
)

// LexiconAnalyzer scores text by counting positive and negative crypto-market terms.
// It needs no network access.
type LexiconAnalyzer struct{}

// NewLexiconAnalyzer creates an offline analyzer
func NewLexiconAnalyzer() *LexiconAnalyzer {
	return &LexiconAnalyzer{}
}

func (LexiconAnalyzer) AnalyzeSentiment(_ context.Context, text string) (*RawSentiment, error) {
	content := strings.ToLower(text)

	positive := 0
	for _, word := range positiveWords {
		if strings.Contains(content, word) {
			positive++
		}
	}
	negative := 0
	for _, word := range negativeWords {
		if strings.Contains(content, word) {
			negative++
		}
	}

	hits := float64(positive + negative)
	score := float64(positive-negative) / (hits + 1)
	magnitude := 0.4 * hits

	return NewRawSentiment(math.Round(score*1000)/1000, math.Round(magnitude*1000)/1000, "en"), nil
}
