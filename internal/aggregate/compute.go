package aggregate

import (
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/chainscope/social-pulse/internal/models"
	"github.com/chainscope/social-pulse/internal/sentiment"
)

// ErrNoValidDocuments means a key has no analysed document to aggregate
var ErrNoValidDocuments = errors.New("no valid documents for aggregate")

const (
	topKeywordLimit = 10
	// mixedMagnitude is the magnitude from which a neutral score counts as mixed
	mixedMagnitude = 1.0
)

// Key identifies one aggregate row
type Key struct {
	Date            string          `json:"date"`
	Platform        models.Platform `json:"platform"`
	KeywordCategory string          `json:"keyword_category"`
}

// KeyOf returns the aggregate key a document belongs to
func KeyOf(doc models.SentimentBatchDocument) Key {
	return Key{Date: doc.ProcessingDate, Platform: doc.Platform, KeywordCategory: doc.KeywordCategory}
}

type scored struct {
	score      float64
	magnitude  float64
	confidence float64
	weight     float64
	engagement int64
	hour       int
	language   string
	keywords   []string
}

// Compute folds the documents of one key into an aggregate row. The result does not
// depend on document order. Documents without a valid score only count towards
// TotalPosts and InvalidPosts.
func Compute(key Key, docs []models.SentimentBatchDocument) (*models.DailySentimentAggregate, error) {
	agg := &models.DailySentimentAggregate{
		AggregateDate:        key.Date,
		Platform:             key.Platform,
		KeywordCategory:      key.KeywordCategory,
		TotalPosts:           len(docs),
		TopKeywords:          []models.KeywordCount{},
		HourlyDistribution:   make([]int, 24),
		LanguageDistribution: map[string]int{},
	}

	valid := make([]scored, 0, len(docs))
	for _, doc := range docs {
		if !usable(doc) {
			agg.InvalidPosts++
			continue
		}
		weight := float64(doc.Engagement)
		if weight <= 0 {
			weight = 1
		}
		valid = append(valid, scored{
			score:      *doc.SentimentScore,
			magnitude:  *doc.Magnitude,
			confidence: doc.Confidence,
			weight:     weight,
			engagement: doc.Engagement,
			hour:       doc.PostedAt.UTC().Hour(),
			language:   doc.Language,
			keywords:   doc.Keywords,
		})
	}
	if len(valid) == 0 {
		return nil, ErrNoValidDocuments
	}

	// fixed summation order
	sort.Slice(valid, func(i, j int) bool {
		a, b := valid[i], valid[j]
		if a.score != b.score {
			return a.score < b.score
		}
		if a.magnitude != b.magnitude {
			return a.magnitude < b.magnitude
		}
		if a.weight != b.weight {
			return a.weight < b.weight
		}
		return a.confidence < b.confidence
	})

	n := float64(len(valid))
	agg.AnalyzedPosts = len(valid)
	agg.MinSentiment = valid[0].score
	agg.MaxSentiment = valid[len(valid)-1].score

	var scoreSum, weightedSum, weightSum, magnitudeSum, confidenceSum float64
	keywords := map[string]int{}
	for _, v := range valid {
		scoreSum += v.score
		weightedSum += v.score * v.weight
		weightSum += v.weight
		magnitudeSum += v.magnitude
		confidenceSum += v.confidence
		agg.TotalEngagement += v.engagement
		agg.HourlyDistribution[v.hour]++

		language := v.language
		if language == "" {
			language = "unknown"
		}
		agg.LanguageDistribution[language]++

		for _, kw := range v.keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				keywords[kw]++
			}
		}

		switch sentiment.Label(v.score) {
		case sentiment.LabelVeryPositive:
			agg.VeryPositiveCount++
			agg.PositiveCount++
		case sentiment.LabelPositive:
			agg.PositiveBandCount++
			agg.PositiveCount++
		case sentiment.LabelNeutral:
			agg.NeutralBandCount++
			if v.magnitude >= mixedMagnitude {
				agg.MixedCount++
			} else {
				agg.NeutralCount++
			}
		case sentiment.LabelNegative:
			agg.NegativeBandCount++
			agg.NegativeCount++
		default:
			agg.VeryNegativeCount++
			agg.NegativeCount++
		}
	}

	mean := scoreSum / n
	var squares float64
	for _, v := range valid {
		squares += (v.score - mean) * (v.score - mean)
	}

	agg.AvgSentimentScore = round(mean, 4)
	agg.WeightedSentimentScore = round(weightedSum/weightSum, 4)
	agg.AvgMagnitude = round(magnitudeSum/n, 4)
	agg.AvgConfidence = round(confidenceSum/n, 4)
	agg.Volatility = round(math.Sqrt(squares/n), 4)
	agg.MinSentiment = round(agg.MinSentiment, 4)
	agg.MaxSentiment = round(agg.MaxSentiment, 4)

	agg.PositivePercentage = percentage(agg.PositiveCount, len(valid))
	agg.NeutralPercentage = percentage(agg.NeutralCount, len(valid))
	agg.NegativePercentage = percentage(agg.NegativeCount, len(valid))
	agg.MixedPercentage = percentage(agg.MixedCount, len(valid))

	agg.TopKeywords = topKeywords(keywords, topKeywordLimit)
	return agg, nil
}

func usable(doc models.SentimentBatchDocument) bool {
	if doc.Status != models.DocumentStatusCompleted || doc.SentimentScore == nil || doc.Magnitude == nil {
		return false
	}
	score, magnitude := *doc.SentimentScore, *doc.Magnitude
	if math.IsNaN(score) || math.IsNaN(magnitude) {
		return false
	}
	return score >= -1 && score <= 1 && magnitude >= 0
}

func topKeywords(counts map[string]int, limit int) []models.KeywordCount {
	out := make([]models.KeywordCount, 0, len(counts))
	for kw, count := range counts {
		out = append(out, models.KeywordCount{Keyword: kw, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Keyword < out[j].Keyword
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round(float64(part)/float64(total)*100, 2)
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
