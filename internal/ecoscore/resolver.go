package ecoscore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MikeSquared-Agency/Ecolojia/internal/events"
	"github.com/MikeSquared-Agency/Ecolojia/internal/metrics"
	"github.com/MikeSquared-Agency/Ecolojia/internal/store"
)

// Confidence reported for heuristic scores.
const (
	FallbackConfidence    = 0.4
	FallbackConfidencePct = 40
)

type Source string

const (
	SourceRemote    Source = "remote"
	SourceHeuristic Source = "heuristic"
)

// ErrNotFound is returned when the product to score does not exist.
var ErrNotFound = store.ErrNotFound

// ErrRemoteScorer wraps every failure of a RemoteScorer. The resolver never
// returns it.
var ErrRemoteScorer = errors.New("remote scorer failed")

// ProductStore is the slice of persistence the resolver needs.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (*store.Product, error)
	ListProductIDs(ctx context.Context) ([]string, error)
	UpdateEcoScore(ctx context.Context, id string, u store.EcoScoreUpdate) (*store.Product, error)
}

// RemoteScore is what a remote scorer returns; both values are in [0, 1].
type RemoteScore struct {
	EcoScore     float64 `json:"eco_score"`
	AIConfidence float64 `json:"ai_confidence"`
}

type RemoteScorer interface {
	Score(ctx context.Context, s ProductSignal) (RemoteScore, error)
}

type ScoreResult struct {
	EcoScore      float64 `json:"eco_score"`
	AIConfidence  float64 `json:"ai_confidence"`
	ConfidencePct int     `json:"confidence_pct"`
	Source        Source  `json:"source"`
}

type BatchResult struct {
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

func (b BatchResult) Total() int { return b.Updated + b.Errors }

// Resolver produces eco scores, preferring the remote scorer and falling back
// to the local analyzer, and writes them back to the store.
type Resolver struct {
	store    ProductStore
	remote   RemoteScorer
	analyzer *Analyzer
	events   events.Client
	logger   *slog.Logger
	now      func() time.Time
}

// NewResolver builds a resolver. remote may be nil, in which case every score
// comes from the analyzer.
func NewResolver(s ProductStore, remote RemoteScorer, analyzer *Analyzer, logger *slog.Logger) *Resolver {
	if analyzer == nil {
		analyzer = DefaultAnalyzer()
	}
	return &Resolver{
		store:    s,
		remote:   remote,
		analyzer: analyzer,
		logger:   logger,
		now:      time.Now,
	}
}

// SetEvents enables product.<id>.scored events.
func (r *Resolver) SetEvents(c events.Client) {
	r.events = c
}

func (r *Resolver) Analyzer() *Analyzer { return r.analyzer }

// Calculate scores s without touching the store.
func (r *Resolver) Calculate(ctx context.Context, s ProductSignal) ScoreResult {
	return r.resolve(ctx, s)
}

// ResolveAndPersist scores the product with the given id and stores the
// result. A missing product yields ErrNotFound before any scoring happens.
func (r *Resolver) ResolveAndPersist(ctx context.Context, id string) (ScoreResult, error) {
	p, err := r.store.GetProduct(ctx, id)
	if err != nil {
		return ScoreResult{}, fmt.Errorf("get product %s: %w", id, err)
	}

	res := r.resolve(ctx, SignalFromProduct(p))

	_, err = r.store.UpdateEcoScore(ctx, id, store.EcoScoreUpdate{
		EcoScore:      res.EcoScore,
		AIConfidence:  res.AIConfidence,
		ConfidencePct: res.ConfidencePct,
		EnrichedAt:    r.now().UTC(),
	})
	if err != nil {
		return ScoreResult{}, fmt.Errorf("update eco score %s: %w", id, err)
	}

	metrics.ScoresTotal.WithLabelValues(string(res.Source)).Inc()
	events.PublishBestEffort(r.events, r.logger, events.SubjectProductScored(id), events.ProductScoredEvent{
		ProductID:     id,
		EcoScore:      res.EcoScore,
		AIConfidence:  res.AIConfidence,
		ConfidencePct: res.ConfidencePct,
		Source:        string(res.Source),
		Timestamp:     r.now().UTC(),
	})
	return res, nil
}

// ResolveAllAndPersist scores every product in turn. Per-product failures are
// counted and never stop the run. Only a failure to list the products, or a
// cancelled context, is returned as an error; in the latter case the counts
// so far are returned with it.
func (r *Resolver) ResolveAllAndPersist(ctx context.Context) (BatchResult, error) {
	ids, err := r.store.ListProductIDs(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list products: %w", err)
	}

	var res BatchResult
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if _, err := r.ResolveAndPersist(ctx, id); err != nil {
			res.Errors++
			metrics.BatchItemsTotal.WithLabelValues("error").Inc()
			r.logger.Warn("eco score update failed", "product_id", id, "error", err)
			continue
		}
		res.Updated++
		metrics.BatchItemsTotal.WithLabelValues("updated").Inc()
	}

	r.logger.Info("eco score batch complete", "updated", res.Updated, "errors", res.Errors)
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, s ProductSignal) ScoreResult {
	if r.remote != nil {
		rs, err := r.scoreRemote(ctx, s)
		if err == nil {
			ai := clamp(rs.AIConfidence, 0, 1)
			return ScoreResult{
				EcoScore:      clamp(rs.EcoScore, 0, 1),
				AIConfidence:  ai,
				ConfidencePct: int(math.Round(ai * 100)),
				Source:        SourceRemote,
			}
		}
		metrics.RemoteScorerErrors.Inc()
		r.logger.Warn("remote scorer unavailable, using heuristic", "title", s.Title, "error", err)
	}

	return ScoreResult{
		EcoScore:      r.analyzer.Score(s),
		AIConfidence:  FallbackConfidence,
		ConfidencePct: FallbackConfidencePct,
		Source:        SourceHeuristic,
	}
}

func (r *Resolver) scoreRemote(ctx context.Context, s ProductSignal) (RemoteScore, error) {
	start := time.Now()
	rs, err := r.remote.Score(ctx, s)
	metrics.RemoteScorerDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return RemoteScore{}, err
	}
	if math.IsNaN(rs.EcoScore) || math.IsNaN(rs.AIConfidence) {
		return RemoteScore{}, fmt.Errorf("%w: NaN in response", ErrRemoteScorer)
	}
	return rs, nil
}
