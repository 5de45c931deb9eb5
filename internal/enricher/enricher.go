package enricher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/Ecolojia/internal/ecoscore"
)

type Rescorer interface {
	ResolveAllAndPersist(ctx context.Context) (ecoscore.BatchResult, error)
}

type IndexSyncer interface {
	SyncAll(ctx context.Context) (int, error)
}

// Enricher periodically re-scores the catalog and re-syncs the search index.
type Enricher struct {
	rescorer        Rescorer
	syncer          IndexSyncer
	rescoreInterval time.Duration
	syncInterval    time.Duration
	logger          *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds an enricher. A nil collaborator or a non-positive interval
// disables the corresponding loop.
func New(r Rescorer, s IndexSyncer, rescoreInterval, syncInterval time.Duration, logger *slog.Logger) *Enricher {
	return &Enricher{
		rescorer:        r,
		syncer:          s,
		rescoreInterval: rescoreInterval,
		syncInterval:    syncInterval,
		logger:          logger,
		stopCh:          make(chan struct{}),
	}
}

func (e *Enricher) Start(ctx context.Context) {
	if e.rescorer != nil && e.rescoreInterval > 0 {
		e.wg.Add(1)
		go e.loop(ctx, e.rescoreInterval, e.rescore)
	}
	if e.syncer != nil && e.syncInterval > 0 {
		e.wg.Add(1)
		go e.loop(ctx, e.syncInterval, e.sync)
	}
}

func (e *Enricher) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Enricher) loop(ctx context.Context, interval time.Duration, tick func(context.Context)) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (e *Enricher) rescore(ctx context.Context) {
	start := time.Now()
	res, err := e.rescorer.ResolveAllAndPersist(ctx)
	if err != nil {
		e.logger.Error("periodic rescore failed", "error", err, "updated", res.Updated, "errors", res.Errors)
		return
	}
	e.logger.Info("periodic rescore done", "updated", res.Updated, "errors", res.Errors, "duration_ms", time.Since(start).Milliseconds())
}

func (e *Enricher) sync(ctx context.Context) {
	n, err := e.syncer.SyncAll(ctx)
	if err != nil {
		e.logger.Error("periodic search sync failed", "error", err, "synced", n)
	}
}
