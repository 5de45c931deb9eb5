package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/Ecolojia/internal/events"
	"github.com/MikeSquared-Agency/Ecolojia/internal/metrics"
	"github.com/MikeSquared-Agency/Ecolojia/internal/store"
)

const defaultBatchSize = 500

type ProductSource interface {
	ListProducts(ctx context.Context) ([]*store.Product, error)
	GetProduct(ctx context.Context, id string) (*store.Product, error)
}

// Syncer keeps the search index in step with the product store.
type Syncer struct {
	src       ProductSource
	index     Index
	batchSize int
	timeout   time.Duration
	logger    *slog.Logger
}

func NewSyncer(src ProductSource, index Index, logger *slog.Logger) *Syncer {
	return &Syncer{
		src:       src,
		index:     index,
		batchSize: defaultBatchSize,
		timeout:   30 * time.Second,
		logger:    logger,
	}
}

// SyncAll pushes every product to the index, then removes documents whose
// product no longer exists. It returns the number of documents upserted.
func (s *Syncer) SyncAll(ctx context.Context) (int, error) {
	products, err := s.src.ListProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("list products: %w", err)
	}

	live := make(map[string]struct{}, len(products))
	synced := 0
	for start := 0; start < len(products); start += s.batchSize {
		end := min(start+s.batchSize, len(products))
		docs := make([]Document, 0, end-start)
		for _, p := range products[start:end] {
			docs = append(docs, FromProduct(p))
			live[p.ID] = struct{}{}
		}
		if err := s.index.Upsert(ctx, docs); err != nil {
			return synced, fmt.Errorf("upsert batch at %d: %w", start, err)
		}
		synced += len(docs)
		metrics.SearchSyncDocuments.WithLabelValues("upsert").Add(float64(len(docs)))
	}

	removed, err := s.prune(ctx, live)
	if err != nil {
		return synced, err
	}

	s.logger.Info("search index synced", "documents", synced, "removed", removed)
	return synced, nil
}

// prune deletes indexed documents that are not in live.
func (s *Syncer) prune(ctx context.Context, live map[string]struct{}) (int, error) {
	ids, err := s.index.DocumentIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list indexed documents: %w", err)
	}
	var stale []string
	for _, id := range ids {
		if _, ok := live[id]; !ok {
			stale = append(stale, id)
		}
	}
	for start := 0; start < len(stale); start += s.batchSize {
		end := min(start+s.batchSize, len(stale))
		if err := s.index.Delete(ctx, stale[start:end]...); err != nil {
			return start, fmt.Errorf("delete stale documents: %w", err)
		}
		metrics.SearchSyncDocuments.WithLabelValues("delete").Add(float64(end - start))
	}
	return len(stale), nil
}

// Subscribe applies product events from c to the index as they arrive.
func (s *Syncer) Subscribe(c events.Client) error {
	return c.Subscribe(events.SubjectAllProducts, func(subject string, _ []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.HandleEvent(ctx, subject); err != nil {
			s.logger.Warn("search sync failed", "subject", subject, "error", err)
		}
	})
}

// HandleEvent syncs the single product named by a product event subject.
func (s *Syncer) HandleEvent(ctx context.Context, subject string) error {
	id, action, ok := events.ParseProductSubject(subject)
	if !ok {
		return nil
	}
	if action == "deleted" {
		return s.remove(ctx, id)
	}

	p, err := s.src.GetProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return s.remove(ctx, id)
	}
	if err != nil {
		return fmt.Errorf("get product %s: %w", id, err)
	}
	if err := s.index.Upsert(ctx, []Document{FromProduct(p)}); err != nil {
		return err
	}
	metrics.SearchSyncDocuments.WithLabelValues("upsert").Inc()
	return nil
}

func (s *Syncer) remove(ctx context.Context, id string) error {
	if err := s.index.Delete(ctx, id); err != nil {
		return err
	}
	metrics.SearchSyncDocuments.WithLabelValues("delete").Inc()
	return nil
}
