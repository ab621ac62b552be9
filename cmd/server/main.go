// Package main provides the HTTP entry point for the trial matching server.
// It wires PostgreSQL-backed trial and profile storage, the match cache,
// the history store and the registry import client behind the REST API.
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/trial-match-server/internal/api"
	"github.com/trial-match-server/internal/cache"
	"github.com/trial-match-server/internal/config"
	"github.com/trial-match-server/internal/database"
	"github.com/trial-match-server/internal/history"
	"github.com/trial-match-server/internal/normalize"
	"github.com/trial-match-server/internal/repository"
	"github.com/trial-match-server/internal/service"
	"github.com/trial-match-server/pkg/registry"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(&cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	// Connect to PostgreSQL and run migrations
	dbCfg := configManager.GetDatabaseConfig()
	db, err := database.NewConnection(ctx, database.Config{
		Host:        dbCfg.Host,
		Port:        dbCfg.Port,
		Database:    dbCfg.Database,
		Username:    dbCfg.Username,
		Password:    dbCfg.Password,
		SSLMode:     dbCfg.SSLMode,
		MaxConns:    int32(dbCfg.MaxOpenConns),
		MinConns:    int32(dbCfg.MaxIdleConns),
		MaxConnLife: dbCfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	runner, err := database.NewMigrationRunner(migrationURL(dbCfg), "migrations", logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create migration runner")
	}
	if err := runner.Up(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}

	trials := repository.NewTrialRepository(db.Pool, logger)
	profiles := repository.NewProfileRepository(db.Pool, logger)

	// History store selected by driver
	historyStore, err := newHistoryStore(&cfg.History)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create history store")
	}
	defer historyStore.Close()

	// Match cache: LRU tier always, Redis tier when enabled
	matchCache, err := newMatchCache(&cfg.Cache, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create match cache")
	}

	// Matching pipeline
	policy := configManager.ScoringPolicy()
	normalizer := normalize.NewService(logger)
	engine := service.NewRuleEngine(logger, policy, nil)
	matcher := service.NewMatcherService(logger, normalizer, engine, policy, cfg.Matching.Workers)
	screener := service.NewScreenerService(logger, normalizer, matcher)

	// Registry import client
	registryClient := newRegistryClient(configManager.GetRegistryConfig(), logger)

	// One-shot import mode: fetch trials for a condition and store them.
	if len(os.Args) > 2 && os.Args[1] == "import" {
		if err := importTrials(ctx, logger, registryClient, trials, os.Args[2:]); err != nil {
			logger.WithError(err).Fatal("Trial import failed")
		}
		return
	}

	server := api.NewServer(configManager, logger, api.Dependencies{
		Normalizer: normalizer,
		Matcher:    matcher,
		Screener:   screener,
		Cache:      matchCache,
		History:    historyStore,
		Trials:     trials,
		Profiles:   profiles,
	})

	logger.WithFields(logrus.Fields{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Starting trial matching server")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newLogger builds the process logger from the logging configuration.
func newLogger(cfg *config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return logger
}

// migrationURL builds the postgres URL golang-migrate expects.
func migrationURL(cfg *config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.Username), url.QueryEscape(cfg.Password),
		cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)
}

// newHistoryStore creates the match-history store for the configured driver.
func newHistoryStore(cfg *config.HistoryConfig) (history.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return history.NewPostgresStoreFromURL(cfg.DSN)
	default:
		return history.NewSQLiteStore(cfg.SQLitePath)
	}
}

// newMatchCache creates the two-tier match cache. The Redis tier is only
// attached when enabled in configuration.
func newMatchCache(cfg *config.CacheConfig, logger *logrus.Logger) (*cache.MatchCache, error) {
	cacheConfig := cache.Config{
		MaxEntries: cfg.LRUSize,
		DefaultTTL: cfg.DefaultTTL,
		Enabled:    true,
	}

	if cfg.RedisEnabled {
		opts, err := redisv8.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		opts.PoolSize = cfg.PoolSize
		opts.PoolTimeout = cfg.PoolTimeout
		opts.MaxRetries = cfg.MaxRetries
		cacheConfig.RedisClient = redisv8.NewClient(opts)
	}

	return cache.NewMatchCache(cacheConfig, logger)
}

// newRegistryClient builds the circuit-broken registry client, with a Redis
// response cache when one is configured.
func newRegistryClient(cfg *config.RegistryConfig, logger *logrus.Logger) *registry.ResilientClient {
	client := registry.NewClient(registry.Config{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		RateLimit:  cfg.RateLimit,
		RetryCount: cfg.RetryCount,
		PageSize:   cfg.PageSize,
	})

	var responseCache *registry.CacheClient
	if cfg.CacheEnable {
		var err error
		responseCache, err = registry.NewCacheClient(registry.CacheConfig{
			RedisURL:   cfg.CacheURL,
			DefaultTTL: cfg.CacheTTL,
		})
		if err != nil {
			logger.WithError(err).Warn("Registry cache unavailable, continuing without it")
		}
	}

	return registry.NewResilientClient(client, responseCache, cfg.CacheTTL, logger)
}

// importTrials fetches recruiting trials for a condition from the registry
// and upserts them into the trial store.
func importTrials(ctx context.Context, logger *logrus.Logger, client *registry.ResilientClient, trials *repository.TrialRepository, args []string) error {
	condition := args[0]
	limit := 100
	if len(args) > 1 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid import limit %q: %w", args[1], err)
		}
		limit = parsed
	}

	logger.WithFields(logrus.Fields{
		"condition": condition,
		"limit":     limit,
	}).Info("Importing trials from registry")

	fetched, err := client.SearchByCondition(ctx, condition, limit)
	if err != nil {
		return fmt.Errorf("registry search failed: %w", err)
	}

	stored := 0
	for _, trial := range fetched {
		if err := trials.Upsert(ctx, trial); err != nil {
			logger.WithError(err).WithField("trial_id", trial.ID).Warn("Failed to store trial")
			continue
		}
		stored++
	}

	logger.WithFields(logrus.Fields{
		"fetched": len(fetched),
		"stored":  stored,
	}).Info("Trial import complete")
	return nil
}
