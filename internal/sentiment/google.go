package sentiment

import (
	"context"
	"fmt"

	language "google.golang.org/api/language/v1"
	"google.golang.org/api/option"
)

// GoogleAnalyzer calls the Cloud Natural Language analyzeSentiment endpoint
type GoogleAnalyzer struct {
	svc *language.Service
}

// NewGoogleAnalyzer creates an analyzer authenticated with an API key.
// An empty endpoint uses the public Google endpoint.
func NewGoogleAnalyzer(ctx context.Context, apiKey, endpoint string) (*GoogleAnalyzer, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	opts := []option.ClientOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	svc, err := language.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create natural language client: %w", err)
	}
	return &GoogleAnalyzer{svc: svc}, nil
}

func (g *GoogleAnalyzer) AnalyzeSentiment(ctx context.Context, text string) (*RawSentiment, error) {
	resp, err := g.svc.Documents.AnalyzeSentiment(&language.AnalyzeSentimentRequest{
		Document: &language.Document{
			Content: text,
			Type:    "PLAIN_TEXT",
		},
		EncodingType: "UTF8",
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("natural language request failed: %w", err)
	}

	out := &RawSentiment{Language: resp.Language}
	if resp.DocumentSentiment != nil {
		score := resp.DocumentSentiment.Score
		magnitude := resp.DocumentSentiment.Magnitude
		out.Score = &score
		out.Magnitude = &magnitude
	}
	return out, nil
}
