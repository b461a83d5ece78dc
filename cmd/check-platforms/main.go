package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/chainscope/social-pulse/internal/cache"
	"github.com/chainscope/social-pulse/internal/config"
	"github.com/chainscope/social-pulse/internal/models"
	"github.com/chainscope/social-pulse/internal/rules"
	"github.com/chainscope/social-pulse/internal/sources"
	"github.com/chainscope/social-pulse/internal/storage"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	keywords := flag.String("keywords", "bitcoin,ethereum", "comma separated keywords to search for")
	limit := flag.Int("limit", 10, "maximum posts per platform")
	timeout := flag.Duration("timeout", 60*time.Second, "overall timeout")
	flag.Parse()

	fmt.Println("🔍 Social Pulse - Platform Connectivity Check")
	fmt.Println("=============================================")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logrus.SetLevel(logrus.WarnLevel)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// posts land in a throwaway database so the check never touches production data
	db, err := storage.OpenSQLite(":memory:")
	if err != nil {
		log.Fatalf("Failed to open scratch database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to migrate scratch database: %v", err)
	}

	ruleRepo := storage.NewRuleRepository(db)
	postRepo := storage.NewPostRepository(db)
	registry := sources.BuildRegistry(cfg, sources.Deps{
		Cache: cache.New(cache.NewMemoryStore()),
		Posts: postRepo,
		Quota: rules.NewEngine(postRepo),
		Stats: ruleRepo,
	})

	rule := &models.CrawlRule{
		Name:                 "connectivity-check",
		Active:               true,
		Priority:             models.PriorityNormal,
		Platforms:            registry.Platforms(),
		Keywords:             splitKeywords(*keywords),
		MaxPostsPerHour:      *limit,
		CrawlIntervalMinutes: 60,
	}
	if err := ruleRepo.Create(ctx, rule); err != nil {
		log.Fatalf("Failed to create check rule: %v", err)
	}

	fmt.Printf("\n📡 Checking platforms for %s...\n", strings.Join(rule.Keywords, ", "))
	fmt.Println(strings.Repeat("-", 45))

	failed := 0
	for _, platform := range registry.Platforms() {
		crawler, err := registry.Get(platform)
		if err != nil {
			continue
		}
		if !checkPlatform(ctx, crawler, rule) {
			failed++
		}
	}

	fmt.Println()
	if failed > 0 {
		log.Fatalf("❌ %d platform checks failed", failed)
	}
	fmt.Println("✅ Platform connectivity check completed!")
}

func checkPlatform(ctx context.Context, crawler sources.Crawler, rule *models.CrawlRule) bool {
	fmt.Printf("🔸 %-10s ", crawler.Platform())

	if err := crawler.ValidateCredentials(); err != nil {
		fmt.Printf("⚠️  SKIPPED (%v)\n", err)
		return true
	}

	result, err := crawler.Crawl(ctx, rule)
	if err != nil {
		fmt.Printf("❌ ERROR: %v\n", err)
		return false
	}

	fmt.Printf("✅ %d found, %d stored, %d spam, %s\n",
		result.PostsFound, result.PostsStored, result.SpamDiscarded, result.ExecutionTime.Round(time.Millisecond))
	for _, msg := range result.Errors {
		fmt.Printf("   ⚠️  %s\n", msg)
	}
	return true
}

func splitKeywords(raw string) []string {
	var keywords []string
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	return keywords
}
