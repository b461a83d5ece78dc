package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/chainscope/social-pulse/internal/aggregate"
	"github.com/chainscope/social-pulse/internal/models"
	"github.com/chainscope/social-pulse/internal/sentiment"
	"github.com/chainscope/social-pulse/internal/storage"
	"github.com/sirupsen/logrus"
)

const demoPlatform = models.Platform("demo")

// sampleTexts is five positive, five negative and five neutral posts for the lexicon analyzer
var sampleTexts = []string{
	"Bitcoin rally looks great this week",
	"Ethereum upgrade was a success",
	"Bullish momentum across DeFi markets",
	"Strong adoption of stablecoins is good news",
	"Awesome profit on the latest breakout",
	"Exchange hack drained user funds",
	"Bearish crash wiped out leverage",
	"Another rug pull scam on a new token",
	"Terrible loss after the dump",
	"Panic selling after the fraud news",
	"Node operators met to discuss the roadmap",
	"The validator set changes next epoch",
	"Developers published the meeting notes",
	"Block times remain around twelve seconds",
	"Governance vote opens on Thursday",
}

func main() {
	dbPath := flag.String("db", ":memory:", "SQLite database path")
	outDir := flag.String("out", "demo_output", "directory for the exported aggregates, empty to skip")
	flag.Parse()

	logrus.SetLevel(logrus.WarnLevel)
	ctx := context.Background()

	fmt.Println("🧪 Social Pulse - Sentiment Pipeline Demo")
	fmt.Println("=========================================")

	db, err := storage.OpenSQLite(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	batchRepo := storage.NewBatchRepository(db)
	service := sentiment.NewBatchService(
		batchRepo,
		storage.NewPostRepository(db),
		sentiment.NewProcessor(sentiment.NewLexiconAnalyzer()),
		sentiment.DefaultOptions(),
		0,
	)

	today := time.Now().UTC().Format(time.DateOnly)
	docs := make([]sentiment.DocumentInput, len(sampleTexts))
	for i, text := range sampleTexts {
		docs[i] = sentiment.DocumentInput{
			Text:       text,
			Keywords:   []string{"cryptocurrency"},
			Engagement: int64(10 * (i + 1)),
			PostedAt:   time.Now().UTC(),
		}
	}

	batch, err := service.CreateBatch(ctx, sentiment.BatchRequest{
		Platform:        demoPlatform,
		KeywordCategory: "cryptocurrency",
		ProcessingDate:  today,
		Documents:       docs,
	})
	if err != nil {
		log.Fatalf("Failed to create batch: %v", err)
	}
	fmt.Printf("\n📦 Created batch %s with %d documents\n", batch.BatchID, batch.TotalDocuments)

	batch, err = service.ProcessStoredBatch(ctx, batch.BatchID)
	if err != nil {
		log.Fatalf("Failed to process batch: %v", err)
	}
	fmt.Printf("⚙️  Processed %d, failed %d, invalid %d, cost $%.4f\n",
		batch.ProcessedDocuments, batch.FailedDocuments, batch.InvalidDocuments, batch.ProcessingCost)

	var archive storage.ArchiveInterface
	if *outDir != "" {
		local, err := storage.NewLocalArchive(*outDir)
		if err != nil {
			log.Fatalf("Failed to open output directory: %v", err)
		}
		archive = local
	}

	engine := aggregate.NewEngine(batchRepo, storage.NewAggregateRepository(db), archive)
	aggs, err := engine.GenerateDailyAggregates(ctx, today, demoPlatform, "cryptocurrency")
	if err != nil {
		log.Fatalf("Failed to aggregate: %v", err)
	}
	for _, agg := range aggs {
		printAggregate(agg)
	}

	if archive != nil {
		name, err := engine.ExportDay(ctx, today)
		if err != nil {
			fmt.Printf("\n⚠️  Warning: Could not export aggregates: %v\n", err)
		} else {
			fmt.Printf("\n💾 Exported to %s/%s\n", *outDir, name)
		}
	}
	fmt.Println("\n" + strings.Repeat("=", 60))
}

func printAggregate(agg models.DailySentimentAggregate) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Printf("📊 %s / %s on %s\n", agg.Platform, agg.KeywordCategory, agg.AggregateDate)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("📈 Posts: %d analyzed of %d\n", agg.AnalyzedPosts, agg.TotalPosts)
	fmt.Printf("💭 Average sentiment: %.4f (weighted %.4f)\n", agg.AvgSentimentScore, agg.WeightedSentimentScore)
	fmt.Printf("📏 Magnitude %.4f, confidence %.4f, volatility %.4f\n", agg.AvgMagnitude, agg.AvgConfidence, agg.Volatility)
	fmt.Printf("   😊 positive %d (%.2f%%)\n", agg.PositiveCount, agg.PositivePercentage)
	fmt.Printf("   😐 neutral  %d (%.2f%%)\n", agg.NeutralCount, agg.NeutralPercentage)
	fmt.Printf("   😞 negative %d (%.2f%%)\n", agg.NegativeCount, agg.NegativePercentage)
	fmt.Printf("   🤔 mixed    %d (%.2f%%)\n", agg.MixedCount, agg.MixedPercentage)
	fmt.Printf("🔥 Engagement: %d\n", agg.TotalEngagement)
	if len(agg.TopKeywords) > 0 {
		parts := make([]string, len(agg.TopKeywords))
		for i, k := range agg.TopKeywords {
			parts[i] = fmt.Sprintf("%s (%d)", k.Keyword, k.Count)
		}
		fmt.Printf("🏷️  Keywords: %s\n", strings.Join(parts, ", "))
	}
}
