package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/Ecolojia/internal/aiscorer"
	"github.com/MikeSquared-Agency/Ecolojia/internal/api"
	"github.com/MikeSquared-Agency/Ecolojia/internal/cache"
	"github.com/MikeSquared-Agency/Ecolojia/internal/config"
	"github.com/MikeSquared-Agency/Ecolojia/internal/ecoscore"
	"github.com/MikeSquared-Agency/Ecolojia/internal/enricher"
	"github.com/MikeSquared-Agency/Ecolojia/internal/events"
	"github.com/MikeSquared-Agency/Ecolojia/internal/metrics"
	"github.com/MikeSquared-Agency/Ecolojia/internal/search"
	"github.com/MikeSquared-Agency/Ecolojia/internal/similar"
	"github.com/MikeSquared-Agency/Ecolojia/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.Logging, os.Stdout)
	logger = logger.With("service", "ecolojia")
	slog.SetDefault(logger)

	metrics.Register()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Scoring tables
	var analyzer *ecoscore.Analyzer
	if cfg.Scoring.SignalsPath != "" {
		tables, err := ecoscore.LoadTables(cfg.Scoring.SignalsPath)
		if err != nil {
			logger.Error("failed to load signal tables", "path", cfg.Scoring.SignalsPath, "error", err)
			os.Exit(1)
		}
		analyzer = ecoscore.NewAnalyzer(tables)
		logger.Info("loaded signal tables", "path", cfg.Scoring.SignalsPath)
	}

	// Database
	db, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Events (optional)
	var eventsClient events.Client
	if cfg.NATS.URL != "" {
		nc, err := events.NewNATSClient(ctx, cfg.NATS.URL, "ecolojia", logger)
		if err != nil {
			logger.Warn("failed to connect to NATS, running without events", "error", err)
		} else {
			eventsClient = nc
			defer nc.Close()
			logger.Info("connected to NATS")
		}
	}

	// Remote scorer (optional)
	var remote ecoscore.RemoteScorer
	var suggester similar.Suggester
	if cfg.AI.Enabled && cfg.AI.APIKey != "" {
		ai := aiscorer.New(aiscorer.Config{
			BaseURL: cfg.AI.BaseURL,
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.AI.Model,
			Timeout: cfg.AITimeout(),
		}, logger)
		remote, suggester = ai, ai
		logger.Info("remote scorer enabled", "model", cfg.AI.Model)
	} else {
		logger.Info("remote scorer disabled, using heuristic scores")
	}

	resolver := ecoscore.NewResolver(db, remote, analyzer, logger)
	if eventsClient != nil {
		resolver.SetEvents(eventsClient)
	}

	// Cache (optional)
	var similarCache cache.Cache
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.Cache.RedisURL)
		if err != nil {
			logger.Warn("failed to connect to redis, similar results will not be cached", "error", err)
		} else {
			similarCache = rc
			defer rc.Close()
			logger.Info("connected to redis")
		}
	}

	// Search index (optional)
	var index similar.Searcher
	var indexSyncer enricher.IndexSyncer
	if cfg.Search.Host != "" {
		mi := search.NewMeiliIndex(cfg.Search.Host, cfg.Search.APIKey, cfg.Search.Index)
		if err := mi.EnsureIndex(ctx); err != nil {
			logger.Warn("search index not ready", "host", cfg.Search.Host, "error", err)
		}
		index = mi
		syncer := search.NewSyncer(db, mi, logger)
		indexSyncer = syncer
		if eventsClient != nil {
			if err := syncer.Subscribe(eventsClient); err != nil {
				logger.Warn("failed to subscribe search sync to product events", "error", err)
			}
		}
	}

	sim := similar.NewService(db, similar.Options{
		Index:     index,
		Suggester: suggester,
		Cache:     similarCache,
		CacheTTL:  cfg.CacheTTL(),
	}, logger)

	// Background enrichment
	enr := enricher.New(resolver, indexSyncer, cfg.RescoreInterval(), cfg.SyncInterval(), logger)
	enr.Start(ctx)
	defer enr.Stop()

	// API server
	router := api.NewRouter(db, resolver, sim, eventsClient, cfg, logger)
	apiServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Metrics server
	metricsRouter := api.NewMetricsRouter()
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsRouter,
	}

	go func() {
		logger.Info("API server starting", "port", cfg.Server.Port)
		if err := apiServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("API server error", "error", err)
		}
	}()

	go func() {
		logger.Info("metrics server starting", "port", cfg.Server.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = apiServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("shutdown complete")
}
