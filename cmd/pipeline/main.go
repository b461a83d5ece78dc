package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainscope/social-pulse/internal/aggregate"
	"github.com/chainscope/social-pulse/internal/cache"
	"github.com/chainscope/social-pulse/internal/config"
	"github.com/chainscope/social-pulse/internal/jobs"
	"github.com/chainscope/social-pulse/internal/metrics"
	"github.com/chainscope/social-pulse/internal/notifications"
	"github.com/chainscope/social-pulse/internal/orchestrator"
	"github.com/chainscope/social-pulse/internal/queue"
	"github.com/chainscope/social-pulse/internal/rules"
	"github.com/chainscope/social-pulse/internal/scheduler"
	"github.com/chainscope/social-pulse/internal/sentiment"
	"github.com/chainscope/social-pulse/internal/sources"
	"github.com/chainscope/social-pulse/internal/storage"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load environment variables from .env file if it exists
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})

	logrus.Info("Starting social sentiment pipeline")
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg)
	if err != nil {
		logrus.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		logrus.Fatalf("Failed to migrate database: %v", err)
	}

	ruleRepo := storage.NewRuleRepository(db)
	postRepo := storage.NewPostRepository(db)
	batchRepo := storage.NewBatchRepository(db)
	aggregateRepo := storage.NewAggregateRepository(db)

	if cfg.RulesFile != "" {
		seeds, err := rules.LoadRuleFile(cfg.RulesFile)
		if err != nil {
			logrus.Fatalf("Failed to load rules: %v", err)
		}
		created, err := rules.Seed(ctx, ruleRepo, seeds)
		if err != nil {
			logrus.WithError(err).Warn("Some rule seeds were rejected")
		}
		logrus.Infof("Seeded %d new rules from %s", created, cfg.RulesFile)
	}

	store := cacheStore(ctx, cfg)
	engine := rules.NewEngine(postRepo)
	registry := sources.BuildRegistry(cfg, sources.Deps{
		Cache:   cache.New(store),
		Limiter: cache.NewPlatformLimiter(platformLimits(cfg)),
		Posts:   postRepo,
		Quota:   engine,
		Stats:   ruleRepo,
	})
	crawls := orchestrator.NewService(ruleRepo, engine, registry)

	analyzer := sentimentAnalyzer(ctx, cfg)
	batches := sentiment.NewBatchService(batchRepo, postRepo, sentiment.NewProcessor(analyzer),
		sentiment.OptionsFromConfig(cfg), cfg.SentimentDailyBudget)

	archive, err := openArchive(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize archive: %v", err)
	}
	aggregator := aggregate.NewEngine(batchRepo, aggregateRepo, archive)

	notifier := notifications.NewService(cfg)
	var jobNotifier jobs.Notifier
	if notifier.Enabled() {
		jobNotifier = notifier
	}

	dispatcher := queue.NewDispatcher(cache.NewLocker(store), queue.Options{
		WorkersPerQueue: cfg.QueueWorkers,
		BufferSize:      cfg.QueueBufferSize,
	})
	factory := jobs.NewFactory(jobs.Deps{
		Dispatcher:         dispatcher,
		Crawls:             crawls,
		Batches:            batches,
		Aggregator:         aggregator,
		Notifier:           jobNotifier,
		PipelineBatchLimit: cfg.PipelineBatchLimit,
	})

	schedulerService, err := scheduler.NewService(cfg, factory, batches)
	if err != nil {
		logrus.Fatalf("Failed to create scheduler: %v", err)
	}
	if err := schedulerService.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	api := &API{
		health:     db,
		crawls:     crawls,
		factory:    factory,
		queue:      dispatcher,
		aggregates: aggregateRepo,
		platforms:  registry.Platforms(),
	}
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      api.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logrus.Infof("HTTP server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}
	schedulerService.Stop()
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logrus.Errorf("Queue workers did not drain: %v", err)
	}

	logrus.Info("Server exited")
}

// cacheStore prefers Redis so that API cache entries and job locks are shared
// between replicas, and falls back to process memory
func cacheStore(ctx context.Context, cfg *config.Config) cache.Store {
	if cfg.RedisEnabled {
		store, err := cache.NewRedisStore(ctx, cfg.RedisURL, cfg.CacheNamespace)
		if err == nil {
			return store
		}
		logrus.WithError(err).Warn("Redis unavailable, using in-memory cache")
	}
	return cache.NewMemoryStore()
}

func platformLimits(cfg *config.Config) map[string]cache.Limit {
	return map[string]cache.Limit{
		"twitter":  {Requests: cfg.TwitterRateLimit, Per: cfg.TwitterRateWindow},
		"reddit":   {Requests: cfg.RedditRateLimit, Per: cfg.RedditRateWindow},
		"telegram": {Requests: cfg.TelegramRateLimit, Per: cfg.TelegramRateWindow},
	}
}

func sentimentAnalyzer(ctx context.Context, cfg *config.Config) sentiment.Analyzer {
	google, err := sentiment.NewGoogleAnalyzer(ctx, cfg.GoogleAPIKey, cfg.GoogleNLPEndpoint)
	if err != nil {
		logrus.WithError(err).Warn("Google Natural Language unavailable, using lexicon analyzer")
		return sentiment.NewLexiconAnalyzer()
	}
	return google
}

// openArchive returns the Azure archive when a storage account is configured,
// a local directory archive otherwise, or nil when exports are disabled
func openArchive(ctx context.Context, cfg *config.Config) (storage.ArchiveInterface, error) {
	if cfg.StorageAccount != "" {
		archive, err := storage.NewAzureArchive(ctx, cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			return nil, err
		}
		return archive, nil
	}
	if cfg.ArchiveDir == "" {
		return nil, nil
	}
	archive, err := storage.NewLocalArchive(cfg.ArchiveDir)
	if err != nil {
		return nil, err
	}
	return archive, nil
}
