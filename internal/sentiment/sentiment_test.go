package sentiment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/chainscope/social-pulse/internal/models"
	"github.com/chainscope/social-pulse/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type analyzerFunc func(ctx context.Context, text string) (*RawSentiment, error)

func (f analyzerFunc) AnalyzeSentiment(ctx context.Context, text string) (*RawSentiment, error) {
	return f(ctx, text)
}

func fixed(score, magnitude float64) Analyzer {
	return analyzerFunc(func(context.Context, string) (*RawSentiment, error) {
		return NewRawSentiment(score, magnitude, "en"), nil
	})
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.RetryDelay = 0
	return opts
}

func TestLabel(t *testing.T) {
	tests := []struct {
		score float64
		want  string
	}{
		{1.0, LabelVeryPositive},
		{0.6, LabelVeryPositive},
		{0.59, LabelPositive},
		{0.2, LabelPositive},
		{0.0, LabelNeutral},
		{-0.2, LabelNeutral},
		{-0.21, LabelNegative},
		{-0.6, LabelNegative},
		{-0.61, LabelVeryNegative},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Label(tt.score), "score %v", tt.score)
	}
}

func TestStrengthAndConfidence(t *testing.T) {
	assert.Equal(t, StrengthVeryStrong, Strength(1.6))
	assert.Equal(t, StrengthStrong, Strength(1.5))
	assert.Equal(t, StrengthModerate, Strength(0.8))
	assert.Equal(t, StrengthWeak, Strength(0.5))

	assert.InDelta(t, 0.7*0.5+0.3*0.4, Confidence(-0.4, 0.5), 1e-9)
	assert.Equal(t, 1.0, Confidence(0.9, 2.0))
}

func TestDetermineCategory(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		keywords []string
		want     string
	}{
		{"security wins", "Uniswap pool exploited, funds drained", nil, CategorySecurity},
		{"defi", "New Uniswap liquidity incentives live", nil, CategoryDeFi},
		{"nft", "Minting our NFT collection tomorrow", nil, CategoryNFT},
		{"bitcoin", "BTC halving is close", nil, CategoryBitcoin},
		{"ethereum", "ETH gas fees dropped again", nil, CategoryEthereum},
		{"keywords count", "what a day", []string{"ethereum"}, CategoryEthereum},
		{"no substring match", "a new method for everything", nil, CategoryGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetermineCategory(tt.text, tt.keywords))
		})
	}
}

func TestLexiconAnalyzer(t *testing.T) {
	a := NewLexiconAnalyzer()

	raw, err := a.AnalyzeSentiment(context.Background(), "Great rally, very bullish on this")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, *raw.Score, 1e-9)
	assert.InDelta(t, 1.2, *raw.Magnitude, 1e-9)

	raw, err = a.AnalyzeSentiment(context.Background(), "Protocol hack, funds drained")
	require.NoError(t, err)
	assert.Less(t, *raw.Score, -0.6)

	raw, err = a.AnalyzeSentiment(context.Background(), "Release notes for version two")
	require.NoError(t, err)
	assert.Zero(t, *raw.Score)
	assert.Zero(t, *raw.Magnitude)
}

func TestProcessBatch_CostLimitStopsSubmission(t *testing.T) {
	var calls atomic.Int64
	analyzer := analyzerFunc(func(context.Context, string) (*RawSentiment, error) {
		calls.Add(1)
		return NewRawSentiment(0.3, 0.6, "en"), nil
	})

	texts := make([]Text, 1000)
	for i := range texts {
		texts[i] = Text{Content: "bitcoin is trading sideways today"}
	}

	opts := testOptions()
	opts.CostPerRequest = 0.002
	opts.CostLimit = 1.00

	out, err := NewProcessor(analyzer).ProcessBatch(context.Background(), texts, opts)
	require.ErrorIs(t, err, ErrCostLimitReached)
	require.NotNil(t, out)

	assert.True(t, out.CostLimitReached)
	assert.Equal(t, int64(500), calls.Load())
	assert.Equal(t, 500, out.Processed)
	assert.Equal(t, 500, out.Pending)
	assert.InDelta(t, 1.00, out.TotalCost, 1e-9)
	assert.Equal(t, models.DocumentStatusCompleted, out.Results[499].Status)
	assert.Equal(t, models.DocumentStatusPending, out.Results[500].Status)
}

func TestProcessBatch_ShortTextsAfterCostLimitAreSkipped(t *testing.T) {
	texts := []Text{
		{Key: "a", Content: "bitcoin is trading sideways today"},
		{Key: "b", Content: "ethereum gas fees are rising again"},
		{Key: "c", Content: "ok"},
		{Key: "d", Content: "solana validators are upgrading"},
	}
	opts := testOptions()
	opts.ChunkSize = 2
	opts.CostLimit = 0.001

	out, err := NewProcessor(fixed(0.2, 0.3)).ProcessBatch(context.Background(), texts, opts)
	require.ErrorIs(t, err, ErrCostLimitReached)

	assert.Equal(t, models.DocumentStatusCompleted, out.Results[0].Status)
	assert.Equal(t, models.DocumentStatusPending, out.Results[1].Status)
	assert.Equal(t, models.DocumentStatusSkipped, out.Results[2].Status)
	assert.Contains(t, out.Results[2].Error, "shorter than")
	assert.Equal(t, models.DocumentStatusPending, out.Results[3].Status)
	assert.Equal(t, 1, out.Processed)
	assert.Equal(t, 1, out.Skipped)
	assert.Equal(t, 2, out.Pending)
	assert.Equal(t, 1, out.Chunks)
}

func TestProcessBatch_LengthBoundsAndPricing(t *testing.T) {
	var mu sync.Mutex
	seen := map[int]bool{}
	analyzer := analyzerFunc(func(_ context.Context, text string) (*RawSentiment, error) {
		mu.Lock()
		seen[utf8.RuneCountInString(text)] = true
		mu.Unlock()
		return NewRawSentiment(0, 0.1, "en"), nil
	})

	texts := []Text{
		{Key: "short", Content: "  gm  "},
		{Key: "normal", Content: "ethereum   upgrade\nscheduled"},
		{Key: "long", Content: strings.Repeat("ü", 6000)},
	}

	out, err := NewProcessor(analyzer).ProcessBatch(context.Background(), texts, testOptions())
	require.NoError(t, err)

	assert.Equal(t, models.DocumentStatusSkipped, out.Results[0].Status)
	assert.Zero(t, out.Results[0].Attempts)

	assert.Equal(t, "normal", out.Results[1].Key)
	assert.InDelta(t, 0.001, out.Results[1].Cost, 1e-12)
	assert.False(t, out.Results[1].Truncated)

	assert.True(t, out.Results[2].Truncated)
	assert.InDelta(t, 0.0015, out.Results[2].Cost, 1e-12)
	assert.True(t, seen[5000])
	assert.True(t, seen[len("ethereum upgrade scheduled")])

	assert.Equal(t, 2, out.Processed)
	assert.Equal(t, 1, out.Skipped)
	assert.InDelta(t, 0.0025, out.TotalCost, 1e-12)
}

func TestProcessBatch_InvalidResponses(t *testing.T) {
	missing := 0.5
	responses := map[string]*RawSentiment{
		"out of range score": NewRawSentiment(1.5, 0.2, "en"),
		"negative magnitude": NewRawSentiment(0.1, -1, "en"),
		"missing magnitude":  {Score: &missing},
		"empty response":     nil,
		"valid response one": NewRawSentiment(-0.7, 1.8, "es"),
	}
	analyzer := analyzerFunc(func(_ context.Context, text string) (*RawSentiment, error) {
		return responses[text], nil
	})

	var texts []Text
	for key := range responses {
		texts = append(texts, Text{Key: key, Content: key})
	}

	out, err := NewProcessor(analyzer).ProcessBatch(context.Background(), texts, testOptions())
	require.NoError(t, err)
	assert.Equal(t, 4, out.Invalid)
	assert.Equal(t, 1, out.Processed)

	for _, r := range out.Results {
		if r.Key == "valid response one" {
			assert.Equal(t, models.DocumentStatusCompleted, r.Status)
			assert.Equal(t, LabelVeryNegative, r.Label)
			assert.Equal(t, StrengthVeryStrong, r.Strength)
			assert.Equal(t, 1.0, r.Confidence)
			assert.Equal(t, "es", r.Language)
			continue
		}
		assert.Equal(t, models.DocumentStatusInvalid, r.Status, r.Key)
		assert.Contains(t, r.ValidationError, "validation failed", r.Key)
		assert.Nil(t, r.Score, r.Key)
	}
}

func TestProcessBatch_FailedRequestsRetriedAndNotCharged(t *testing.T) {
	var calls atomic.Int64
	analyzer := analyzerFunc(func(context.Context, string) (*RawSentiment, error) {
		calls.Add(1)
		return nil, errors.New("503 backend unavailable")
	})

	out, err := NewProcessor(analyzer).ProcessBatch(context.Background(),
		[]Text{{Content: "solana outage again today"}}, testOptions())
	require.NoError(t, err)

	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, 1, out.Failed)
	assert.Equal(t, 3, out.Results[0].Attempts)
	assert.Contains(t, out.Results[0].Error, "503")
	assert.Zero(t, out.TotalCost)
}

func TestProcessBatch_ChunksKeepOrder(t *testing.T) {
	texts := make([]Text, 60)
	for i := range texts {
		texts[i] = Text{Key: string(rune('A' + i%26)), Content: "crypto markets are calm"}
	}
	opts := testOptions()
	opts.ChunkSize = 25

	out, err := NewProcessor(fixed(0.1, 0.1)).ProcessBatch(context.Background(), texts, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Chunks)
	for i, r := range out.Results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, texts[i].Key, r.Key)
	}
}

func TestGoogleAnalyzer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "documents:analyzeSentiment"), r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))

		var body struct {
			Document struct {
				Content string `json:"content"`
				Type    string `json:"type"`
			} `json:"document"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "PLAIN_TEXT", body.Document.Type)

		if body.Document.Content == "break" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"documentSentiment":{"score":0.8,"magnitude":1.2},"language":"en"}`))
	}))
	defer server.Close()

	analyzer, err := NewGoogleAnalyzer(context.Background(), "test-key", server.URL+"/")
	require.NoError(t, err)

	raw, err := analyzer.AnalyzeSentiment(context.Background(), "ethereum looks strong")
	require.NoError(t, err)
	require.NotNil(t, raw.Score)
	assert.InDelta(t, 0.8, *raw.Score, 1e-9)
	assert.InDelta(t, 1.2, *raw.Magnitude, 1e-9)
	assert.Equal(t, "en", raw.Language)

	_, err = analyzer.AnalyzeSentiment(context.Background(), "break")
	assert.Error(t, err)
}

func TestNewGoogleAnalyzer_RequiresKey(t *testing.T) {
	_, err := NewGoogleAnalyzer(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

type batchFixture struct {
	service *BatchService
	batches *storage.BatchRepository
	posts   *storage.PostRepository
}

func newBatchFixture(t *testing.T, analyzer Analyzer, dailyBudget float64) batchFixture {
	t.Helper()
	db, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	opts := testOptions()
	opts.MaxRetries = 0
	batches := storage.NewBatchRepository(db)
	posts := storage.NewPostRepository(db)
	return batchFixture{
		service: NewBatchService(batches, posts, NewProcessor(analyzer), opts, dailyBudget),
		batches: batches,
		posts:   posts,
	}
}

func TestBatchService_PostsToProcessedBatch(t *testing.T) {
	ctx := context.Background()
	f := newBatchFixture(t, NewLexiconAnalyzer(), 0)

	posted := time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)
	seed := []models.SocialPost{
		{ExternalID: "t1", Content: "Uniswap liquidity rally looks great", Likes: 10, Shares: 2},
		{ExternalID: "t2", Content: "Aave lending rates are bullish for yield", Comments: 4},
		{ExternalID: "t3", Content: "BTC halving countdown"},
		{ExternalID: "t4", Content: "gm", MatchedKeywords: []string{"defi"}},
	}
	for i := range seed {
		seed[i].Platform = models.PlatformTwitter
		seed[i].PostedAt = posted
		_, err := f.posts.CreateIfNotExists(ctx, &seed[i])
		require.NoError(t, err)
	}

	batches, err := f.service.CreateBatchFromPosts(ctx, 100)
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, CategoryBitcoin, batches[0].KeywordCategory)
	assert.Equal(t, CategoryDeFi, batches[1].KeywordCategory)
	assert.Equal(t, "2026-10-17", batches[1].ProcessingDate)
	assert.Equal(t, 3, batches[1].TotalDocuments)

	pending, err := f.posts.ListPending(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, pending)

	batch, err := f.service.ProcessStoredBatch(ctx, batches[1].BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 2, batch.ProcessedDocuments)
	assert.Equal(t, 1, batch.SkippedDocuments)
	assert.InDelta(t, 0.002, batch.ProcessingCost, 1e-9)
	require.NotNil(t, batch.Stats)
	assert.Equal(t, 100.0, batch.Stats.SuccessRate)
	assert.InDelta(t, 0.001, batch.Stats.CostPerDocument, 1e-9)

	processed, err := f.posts.GetByExternalID(ctx, models.PlatformTwitter, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusProcessed, processed.ProcessingStatus)
	require.NotNil(t, processed.SentimentScore)
	assert.Equal(t, LabelVeryPositive, processed.SentimentLabel)

	short, err := f.posts.GetByExternalID(ctx, models.PlatformTwitter, "t4")
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusFailed, short.ProcessingStatus)

	docs, err := f.batches.Documents(ctx, batch.ID)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, int64(12), docs[0].Engagement)
	assert.True(t, docs[0].Valid)

	// a completed batch is returned untouched
	again, err := f.service.ProcessStoredBatch(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, batch.ProcessingCost, again.ProcessingCost)
}

func TestBatchService_RetryFailedDocuments(t *testing.T) {
	ctx := context.Background()
	var healthy atomic.Bool
	analyzer := analyzerFunc(func(context.Context, string) (*RawSentiment, error) {
		if !healthy.Load() {
			return nil, errors.New("connection reset")
		}
		return NewRawSentiment(-0.3, 0.9, "en"), nil
	})
	f := newBatchFixture(t, analyzer, 0)

	batch, err := f.service.CreateBatch(ctx, BatchRequest{
		Platform: models.PlatformReddit,
		Documents: []DocumentInput{
			{Text: "bearish divergence on the daily"},
			{Text: "funding rates turning negative"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, CategoryGeneral, batch.KeywordCategory)

	batch, err = f.service.ProcessStoredBatch(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.FailedDocuments)
	assert.Zero(t, batch.ProcessingCost)

	healthy.Store(true)
	batch, err = f.service.RetryFailedDocuments(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 2, batch.ProcessedDocuments)
	assert.Zero(t, batch.FailedDocuments)
	assert.InDelta(t, -0.3, batch.Stats.AvgSentiment, 1e-9)

	docs, err := f.batches.Documents(ctx, batch.ID)
	require.NoError(t, err)
	for _, doc := range docs {
		assert.Equal(t, 2, doc.Attempts)
		assert.Equal(t, LabelNegative, doc.Label)
	}
}

func TestBatchService_CostLimitSkipsFreeText(t *testing.T) {
	ctx := context.Background()
	f := newBatchFixture(t, fixed(0.4, 0.4), 0)

	batch, err := f.service.CreateBatch(ctx, BatchRequest{
		Platform:  models.PlatformTelegram,
		CostLimit: 0.002,
		Documents: []DocumentInput{
			{Text: "first message in the channel"},
			{Text: "second message in the channel"},
			{Text: "third message in the channel"},
		},
	})
	require.NoError(t, err)

	batch, err = f.service.ProcessStoredBatch(ctx, batch.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, batch.Status)
	assert.True(t, batch.CostLimitReached)
	assert.Equal(t, 2, batch.ProcessedDocuments)
	assert.Equal(t, 1, batch.SkippedDocuments)

	pending, err := f.batches.Documents(ctx, batch.ID, models.DocumentStatusPending)
	require.NoError(t, err)
	assert.Empty(t, pending)

	skipped, err := f.batches.Documents(ctx, batch.ID, models.DocumentStatusSkipped)
	require.NoError(t, err)
	require.Len(t, skipped, 1)
	assert.Equal(t, "third message in the channel", skipped[0].Text)
	assert.Equal(t, ErrCostLimitReached.Error(), skipped[0].ErrorMessage)
}

func TestBatchService_CostLimitReturnsPostsToPool(t *testing.T) {
	ctx := context.Background()
	f := newBatchFixture(t, fixed(0.4, 0.4), 0)
	f.service.opts.CostLimit = 0.002

	posted := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"m1", "m2", "m3"} {
		post := models.SocialPost{
			Platform:   models.PlatformTelegram,
			ExternalID: id,
			Content:    "validators voted on the upgrade " + id,
			PostedAt:   posted,
		}
		_, err := f.posts.CreateIfNotExists(ctx, &post)
		require.NoError(t, err)
	}

	created, err := f.service.CreateBatchFromPosts(ctx, 100)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, 3, created[0].TotalDocuments)

	batch, err := f.service.ProcessStoredBatch(ctx, created[0].BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusCompleted, batch.Status)
	assert.True(t, batch.CostLimitReached)
	assert.Equal(t, 2, batch.ProcessedDocuments)
	assert.Equal(t, 2, batch.TotalDocuments)

	docs, err := f.batches.Documents(ctx, batch.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	pending, err := f.posts.ListPending(ctx, 100)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "m3", pending[0].ExternalID)

	// the released post is picked up by the next batch
	next, err := f.service.CreateBatchFromPosts(ctx, 100)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.NotEqual(t, batch.BatchID, next[0].BatchID)
	assert.Equal(t, 1, next[0].TotalDocuments)

	batch, err = f.service.ProcessStoredBatch(ctx, next[0].BatchID)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.ProcessedDocuments)
	assert.False(t, batch.CostLimitReached)

	post, err := f.posts.GetByExternalID(ctx, models.PlatformTelegram, "m3")
	require.NoError(t, err)
	assert.Equal(t, models.PostStatusProcessed, post.ProcessingStatus)
}

func TestBatchService_DailyBudget(t *testing.T) {
	ctx := context.Background()
	f := newBatchFixture(t, fixed(0.1, 0.1), 0.001)

	req := BatchRequest{
		Platform:  models.PlatformReddit,
		Documents: []DocumentInput{{Text: "daily budget guard check"}},
	}
	batch, err := f.service.CreateBatch(ctx, req)
	require.NoError(t, err)
	_, err = f.service.ProcessStoredBatch(ctx, batch.BatchID)
	require.NoError(t, err)

	_, err = f.service.CreateBatch(ctx, req)
	assert.ErrorIs(t, err, ErrDailyBudgetExceeded)
}

func TestBatchService_NotFoundFailAndCleanup(t *testing.T) {
	ctx := context.Background()
	f := newBatchFixture(t, fixed(0.1, 0.1), 0)

	_, err := f.service.ProcessStoredBatch(ctx, "batch_missing")
	assert.ErrorIs(t, err, ErrBatchNotFound)

	_, err = f.service.CreateBatch(ctx, BatchRequest{Platform: models.PlatformReddit})
	assert.Error(t, err)

	failing, err := f.service.CreateBatch(ctx, BatchRequest{
		Platform:  models.PlatformReddit,
		Documents: []DocumentInput{{Text: "this batch will be marked failed"}},
	})
	require.NoError(t, err)
	f.service.MarkFailed(ctx, failing.BatchID, errors.New("worker crashed"))

	stored, err := f.batches.GetByBatchID(ctx, failing.BatchID)
	require.NoError(t, err)
	assert.Equal(t, models.BatchStatusFailed, stored.Status)
	assert.Equal(t, "worker crashed", stored.ErrorMessage)

	done, err := f.service.CreateBatch(ctx, BatchRequest{
		Platform:  models.PlatformReddit,
		Documents: []DocumentInput{{Text: "this batch completes and expires"}},
	})
	require.NoError(t, err)
	_, err = f.service.ProcessStoredBatch(ctx, done.BatchID)
	require.NoError(t, err)

	deleted, err := f.service.CleanupCompletedBatches(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, deleted)

	f.service.SetClock(func() time.Time { return time.Now().Add(31 * 24 * time.Hour) })
	deleted, err = f.service.CleanupCompletedBatches(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}
