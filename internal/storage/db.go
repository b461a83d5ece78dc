package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chainscope/social-pulse/internal/config"
	"github.com/chainscope/social-pulse/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB wraps the GORM connection shared by all repositories
type DB struct {
	*gorm.DB
}

// Open connects to the database selected by cfg.DatabaseDriver and migrates the schema
func Open(cfg *config.Config) (*DB, error) {
	var (
		db  *DB
		err error
	)

	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err = OpenSQLite(cfg.DatabaseURL)
	default:
		db, err = OpenPostgres(cfg.DatabaseURL, cfg.DBMaxIdleConns, cfg.DBMaxOpenConns, cfg.DBLogLevel)
	}
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenPostgres opens a pooled Postgres connection
func OpenPostgres(dsn string, maxIdle, maxOpen int, logLevel string) (*DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), gormConfig(logLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logrus.Info("Database connection established")
	return &DB{DB: gdb}, nil
}

// OpenSQLite opens a SQLite database; ":memory:" gives a private in-memory store.
// SQLite allows a single writer, so the pool is pinned to one connection.
func OpenSQLite(path string) (*DB, error) {
	if path == "" || path == ":memory:" {
		path = "file::memory:"
	}

	gdb, err := gorm.Open(sqlite.Open(path), gormConfig("error"))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &DB{DB: gdb}, nil
}

func gormConfig(logLevel string) *gorm.Config {
	var level logger.LogLevel
	switch strings.ToLower(logLevel) {
	case "debug":
		level = logger.Info
	case "info", "warn", "warning":
		level = logger.Warn
	case "error":
		level = logger.Error
	case "silent":
		level = logger.Silent
	default:
		level = logger.Warn
	}

	return &gorm.Config{
		Logger: logger.New(logrus.StandardLogger(), logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		}),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Migrate creates or updates every table owned by the pipeline
func (d *DB) Migrate() error {
	err := d.AutoMigrate(
		&models.CrawlRule{},
		&models.SocialPost{},
		&models.SentimentBatch{},
		&models.SentimentBatchDocument{},
		&models.DailySentimentAggregate{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (d *DB) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health checks database health
func (d *DB) Health(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
