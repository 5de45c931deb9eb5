// Command searchsync pushes the product catalog into the search index. With
// -watch it keeps running and applies product events as they arrive.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/MikeSquared-Agency/Ecolojia/internal/config"
	"github.com/MikeSquared-Agency/Ecolojia/internal/events"
	"github.com/MikeSquared-Agency/Ecolojia/internal/metrics"
	"github.com/MikeSquared-Agency/Ecolojia/internal/search"
	"github.com/MikeSquared-Agency/Ecolojia/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	watch := flag.Bool("watch", false, "keep running and apply product events")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Logging, os.Stdout).With("service", "searchsync")
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	index := search.NewMeiliIndex(cfg.Search.Host, cfg.Search.APIKey, cfg.Search.Index)
	if err := index.EnsureIndex(ctx); err != nil {
		logger.Error("failed to prepare search index", "host", cfg.Search.Host, "error", err)
		os.Exit(1)
	}

	syncer := search.NewSyncer(db, index, logger)
	n, err := syncer.SyncAll(ctx)
	if err != nil {
		logger.Error("full sync failed", "synced", n, "error", err)
		os.Exit(1)
	}
	if !*watch {
		return
	}

	nc, err := events.NewNATSClient(ctx, cfg.NATS.URL, "searchsync", logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	if err := syncer.Subscribe(nc); err != nil {
		logger.Error("failed to subscribe to product events", "error", err)
		os.Exit(1)
	}

	logger.Info("watching product events", "subject", events.SubjectAllProducts)
	<-ctx.Done()
	logger.Info("shutdown complete")
}
