package sentiment

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chainscope/social-pulse/internal/config"
	"github.com/chainscope/social-pulse/internal/metrics"
	"github.com/chainscope/social-pulse/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	// longTextRunes is the length above which a text is billed at longTextFactor
	longTextRunes = 1000
	microsPerUSD  = 1_000_000
)

// Options tunes a single ProcessBatch call
type Options struct {
	ChunkSize      int
	Concurrency    int
	CostPerRequest float64
	// CostLimit caps the spend of one call; zero or less disables the cap
	CostLimit     float64
	MinTextLength int
	MaxTextLength int
	MaxRetries    int
	RetryDelay    time.Duration
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		ChunkSize:      25,
		Concurrency:    5,
		CostPerRequest: 0.001,
		CostLimit:      10.0,
		MinTextLength:  10,
		MaxTextLength:  5000,
		MaxRetries:     2,
		RetryDelay:     2 * time.Second,
	}
}

// OptionsFromConfig builds options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.ChunkSize = cfg.SentimentBatchSize
	opts.Concurrency = cfg.SentimentConcurrency
	opts.CostPerRequest = cfg.SentimentCostPerRequest
	opts.CostLimit = cfg.SentimentCostLimit
	opts.MinTextLength = cfg.SentimentMinTextLength
	opts.MaxTextLength = cfg.SentimentMaxTextLength
	return opts
}

func (o Options) withDefaults() Options {
	defaults := DefaultOptions()
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaults.ChunkSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = defaults.Concurrency
	}
	if o.MinTextLength <= 0 {
		o.MinTextLength = defaults.MinTextLength
	}
	if o.MaxTextLength <= 0 {
		o.MaxTextLength = defaults.MaxTextLength
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	return o
}

// Text is one input of a batch. Key is echoed back on the matching Result.
type Text struct {
	Key     string
	Content string
}

// Result is the analysis of one input text, at the same index as its input
type Result struct {
	Index           int      `json:"index"`
	Key             string   `json:"key,omitempty"`
	Status          string   `json:"status"`
	Score           *float64 `json:"score,omitempty"`
	Magnitude       *float64 `json:"magnitude,omitempty"`
	Label           string   `json:"label,omitempty"`
	Strength        string   `json:"strength,omitempty"`
	Confidence      float64  `json:"confidence"`
	Language        string   `json:"language,omitempty"`
	Cost            float64  `json:"cost"`
	Attempts        int      `json:"attempts"`
	Truncated       bool     `json:"truncated,omitempty"`
	ValidationError string   `json:"validation_error,omitempty"`
	Error           string   `json:"error,omitempty"`

	costMicros int64
}

// BatchOutcome summarises a ProcessBatch call
type BatchOutcome struct {
	Results          []Result `json:"results"`
	Processed        int      `json:"processed"`
	Invalid          int      `json:"invalid"`
	Failed           int      `json:"failed"`
	Skipped          int      `json:"skipped"`
	Pending          int      `json:"pending"`
	Chunks           int      `json:"chunks"`
	TotalCost        float64  `json:"total_cost"`
	CostLimitReached bool     `json:"cost_limit_reached"`
}

// Processor runs texts through an Analyzer under a cost limit
type Processor struct {
	analyzer Analyzer
	validate *validator.Validate
}

// NewProcessor creates a processor around analyzer
func NewProcessor(analyzer Analyzer) *Processor {
	return &Processor{
		analyzer: analyzer,
		validate: validator.New(),
	}
}

// ProcessBatch analyses texts chunk by chunk. Results keep input order. Texts never
// submitted because the cost limit was reached stay pending and the call returns
// the outcome together with ErrCostLimitReached.
func (p *Processor) ProcessBatch(ctx context.Context, texts []Text, opts Options) (*BatchOutcome, error) {
	opts = opts.withDefaults()
	out := &BatchOutcome{Results: make([]Result, len(texts))}
	for i, t := range texts {
		out.Results[i] = Result{Index: i, Key: t.Key, Status: models.DocumentStatusPending}
	}

	unitCost := toMicros(opts.CostPerRequest)
	limit := toMicros(opts.CostLimit)
	var spent int64

	for start := 0; start < len(texts); start += opts.ChunkSize {
		if err := ctx.Err(); err != nil {
			out.tally()
			return out, err
		}
		end := min(start+opts.ChunkSize, len(texts))

		prepared := make(map[int]string, end-start)
		for i := start; i < end; i++ {
			r := &out.Results[i]
			content, truncated, ok := prepare(texts[i].Content, opts)
			if !ok {
				r.Status = models.DocumentStatusSkipped
				r.Error = fmt.Sprintf("text shorter than %d characters", opts.MinTextLength)
				continue
			}
			if out.CostLimitReached {
				continue
			}

			cost := unitCost
			if utf8.RuneCountInString(content) > longTextRunes {
				cost = cost * 3 / 2
			}
			if limit > 0 && spent+cost > limit {
				out.CostLimitReached = true
				continue
			}
			spent += cost
			r.costMicros = cost
			r.Truncated = truncated
			prepared[i] = content
		}

		if len(prepared) == 0 {
			continue
		}

		var g errgroup.Group
		g.SetLimit(opts.Concurrency)
		for i, content := range prepared {
			i, content := i, content
			g.Go(func() error {
				p.analyzeInto(ctx, &out.Results[i], content, opts)
				return nil
			})
		}
		_ = g.Wait()
		out.Chunks++

		for i := range prepared {
			if out.Results[i].Status == models.DocumentStatusFailed {
				spent -= out.Results[i].costMicros
				out.Results[i].costMicros = 0
			}
		}
	}

	out.tally()
	logrus.WithFields(logrus.Fields{
		"texts":      len(texts),
		"processed":  out.Processed,
		"invalid":    out.Invalid,
		"failed":     out.Failed,
		"skipped":    out.Skipped,
		"pending":    out.Pending,
		"cost":       out.TotalCost,
		"cost_limit": out.CostLimitReached,
	}).Info("Sentiment batch processed")

	if out.CostLimitReached {
		return out, ErrCostLimitReached
	}
	return out, nil
}

func (p *Processor) analyzeInto(ctx context.Context, r *Result, content string, opts Options) {
	raw, attempts, err := p.analyze(ctx, content, opts)
	r.Attempts = attempts
	if err != nil {
		r.Status = models.DocumentStatusFailed
		r.Error = err.Error()
		return
	}
	r.Cost = float64(r.costMicros) / microsPerUSD

	if err := p.validateResponse(raw); err != nil {
		r.Status = models.DocumentStatusInvalid
		r.ValidationError = err.Error()
		return
	}

	score, magnitude := *raw.Score, *raw.Magnitude
	r.Status = models.DocumentStatusCompleted
	r.Score = &score
	r.Magnitude = &magnitude
	r.Label = Label(score)
	r.Strength = Strength(magnitude)
	r.Confidence = round(Confidence(score, magnitude), 4)
	r.Language = raw.Language
}

func (p *Processor) analyze(ctx context.Context, content string, opts Options) (*RawSentiment, int, error) {
	var lastErr error
	attempts := 0
	for attempts <= opts.MaxRetries {
		attempts++
		raw, err := p.analyzer.AnalyzeSentiment(ctx, content)
		if err == nil {
			return raw, attempts, nil
		}
		lastErr = err
		if attempts > opts.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, attempts, ctx.Err()
		case <-time.After(opts.RetryDelay):
		}
	}
	return nil, attempts, lastErr
}

func (p *Processor) validateResponse(raw *RawSentiment) error {
	if raw == nil {
		return fmt.Errorf("validation failed: empty response")
	}
	if err := p.validate.Struct(raw); err != nil {
		return fmt.Errorf("validation failed for %s: %w", describe(raw), err)
	}
	return nil
}

func (o *BatchOutcome) tally() {
	var spent int64
	for _, r := range o.Results {
		switch r.Status {
		case models.DocumentStatusCompleted:
			o.Processed++
		case models.DocumentStatusInvalid:
			o.Invalid++
		case models.DocumentStatusFailed:
			o.Failed++
		case models.DocumentStatusSkipped:
			o.Skipped++
		default:
			o.Pending++
		}
		metrics.SentimentDocuments.WithLabelValues(r.Status).Inc()
		spent += r.costMicros
	}
	o.TotalCost = float64(spent) / microsPerUSD
	metrics.SentimentCost.Add(o.TotalCost)
}

// prepare normalizes whitespace and enforces the length bounds
func prepare(text string, opts Options) (string, bool, bool) {
	content := strings.Join(strings.Fields(text), " ")
	n := utf8.RuneCountInString(content)
	if n < opts.MinTextLength {
		return "", false, false
	}
	if n > opts.MaxTextLength {
		return string([]rune(content)[:opts.MaxTextLength]), true, true
	}
	return content, false, true
}

func toMicros(usd float64) int64 {
	if usd <= 0 {
		return 0
	}
	return int64(math.Round(usd * microsPerUSD))
}

func round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
