package similar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/Ecolojia/internal/aiscorer"
	"github.com/MikeSquared-Agency/Ecolojia/internal/cache"
	"github.com/MikeSquared-Agency/Ecolojia/internal/ecoscore"
	"github.com/MikeSquared-Agency/Ecolojia/internal/metrics"
	"github.com/MikeSquared-Agency/Ecolojia/internal/search"
	"github.com/MikeSquared-Agency/Ecolojia/internal/store"
)

const (
	DefaultLimit = 6
	MaxLimit     = 20
	// Below this many index hits the AI suggester is asked for the rest.
	minIndexHits = 3
)

// ErrNoSuggester is returned by Suggest when no AI suggester is configured.
var ErrNoSuggester = errors.New("no suggester configured")

type Source string

const (
	SourceSearch   Source = "search"
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

type Product struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Brand       string   `json:"brand,omitempty"`
	Category    string   `json:"category"`
	EcoScore    float64  `json:"eco_score"`
	Images      []string `json:"images"`
	Slug        string   `json:"slug"`
	Source      Source   `json:"source"`
}

type ProductGetter interface {
	GetProduct(ctx context.Context, id string) (*store.Product, error)
}

type Searcher interface {
	Similar(ctx context.Context, q search.SimilarQuery) ([]search.Document, error)
}

type Suggester interface {
	SuggestSimilar(ctx context.Context, s ecoscore.ProductSignal, n int) ([]aiscorer.Suggestion, error)
}

// Options lists the optional collaborators. Nil fields disable that stage.
type Options struct {
	Index     Searcher
	Suggester Suggester
	Cache     cache.Cache
	CacheTTL  time.Duration
}

type Service struct {
	products ProductGetter
	opts     Options
	logger   *slog.Logger
}

func NewService(products ProductGetter, opts Options, logger *slog.Logger) *Service {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	return &Service{products: products, opts: opts, logger: logger}
}

// Find returns up to limit products similar to productID, best eco score
// first. limit is clamped to MaxLimit. It fails only when the source product
// cannot be loaded.
func (s *Service) Find(ctx context.Context, productID string, limit int) ([]Product, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	key := fmt.Sprintf("similar:%s:%d", productID, limit)
	if s.opts.Cache != nil {
		var cached []Product
		hit, err := s.opts.Cache.Get(ctx, key, &cached)
		if err != nil {
			s.logger.Warn("similar cache read failed", "key", key, "error", err)
		}
		if hit {
			metrics.SimilarCacheTotal.WithLabelValues("hit").Inc()
			return cached, nil
		}
		metrics.SimilarCacheTotal.WithLabelValues("miss").Inc()
	}

	src, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}

	results := s.fromIndex(ctx, src, limit)
	if len(results) < minIndexHits {
		seen := make(map[string]bool, len(results))
		for _, r := range results {
			seen[r.ID] = true
		}
		for _, r := range s.fromAI(ctx, src, limit-len(results)) {
			if !seen[r.ID] {
				seen[r.ID] = true
				results = append(results, r)
			}
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].EcoScore > results[j].EcoScore
	})
	if len(results) > limit {
		results = results[:limit]
	}

	if s.opts.Cache != nil {
		if err := s.opts.Cache.Set(ctx, key, results, s.opts.CacheTTL); err != nil {
			s.logger.Warn("similar cache write failed", "key", key, "error", err)
		}
	}
	return results, nil
}

// SuggestQuery is a free-text request for eco-friendly alternatives.
type SuggestQuery struct {
	Query string
	Zone  string
	Lang  string
}

// Suggest asks the AI suggester for up to n alternatives matching q. Unlike
// Find it has no canned fallback.
func (s *Service) Suggest(ctx context.Context, q SuggestQuery, n int) ([]Product, error) {
	if s.opts.Suggester == nil {
		return nil, ErrNoSuggester
	}
	if n <= 0 {
		n = DefaultLimit
	}
	n = min(n, MaxLimit)

	signal := ecoscore.ProductSignal{
		Title:       q.Query,
		Description: fmt.Sprintf("Disponible dans la zone %s. Répondre en langue %s.", q.Zone, q.Lang),
	}
	suggestions, err := s.opts.Suggester.SuggestSimilar(ctx, signal, n)
	if err != nil {
		return nil, err
	}

	out := make([]Product, 0, min(len(suggestions), n))
	for i, sg := range suggestions {
		if i == n {
			break
		}
		out = append(out, Product{
			ID:          fmt.Sprintf("ai_suggest_%d", i),
			Title:       sg.Title,
			Description: sg.Description,
			Brand:       sg.Brand,
			EcoScore:    sg.EcoScore,
			Images:      []string{},
			Slug:        "ai-" + store.Slugify(sg.Title),
			Source:      SourceAI,
		})
	}
	return out, nil
}

func (s *Service) fromIndex(ctx context.Context, src *store.Product, limit int) []Product {
	if s.opts.Index == nil {
		return nil
	}
	docs, err := s.opts.Index.Similar(ctx, search.SimilarQuery{
		Text:      strings.TrimSpace(src.Title + " " + src.Brand + " " + src.Category),
		ExcludeID: src.ID,
		Category:  src.Category,
		Limit:     limit + 2,
	})
	if err != nil {
		s.logger.Warn("similar index query failed", "product_id", src.ID, "error", err)
		return nil
	}

	out := make([]Product, 0, len(docs))
	for _, d := range docs {
		if d.ID == src.ID {
			continue
		}
		var images []string
		if d.ImageURL != "" {
			images = []string{d.ImageURL}
		}
		var score float64
		if d.EcoScore != nil {
			score = *d.EcoScore
		}
		out = append(out, Product{
			ID:          d.ID,
			Title:       d.Title,
			Description: d.Description,
			Brand:       d.Brand,
			Category:    d.Category,
			EcoScore:    score,
			Images:      nonNil(images),
			Slug:        d.Slug,
			Source:      SourceSearch,
		})
	}
	return out
}

func (s *Service) fromAI(ctx context.Context, src *store.Product, n int) []Product {
	if n <= 0 {
		return nil
	}
	if s.opts.Suggester != nil {
		suggestions, err := s.opts.Suggester.SuggestSimilar(ctx, ecoscore.SignalFromProduct(src), n)
		if err != nil {
			s.logger.Warn("similar suggestions failed", "product_id", src.ID, "error", err)
		}
		if len(suggestions) > 0 {
			out := make([]Product, 0, len(suggestions))
			for i, sg := range suggestions {
				if i == n {
					break
				}
				brand := sg.Brand
				if brand == "" {
					brand = "Marque éco"
				}
				out = append(out, Product{
					ID:          fmt.Sprintf("ai_similar_%s_%d", src.ID, i),
					Title:       sg.Title,
					Description: sg.Description,
					Brand:       brand,
					Category:    src.Category,
					EcoScore:    sg.EcoScore,
					Images:      []string{},
					Slug:        "ai-" + store.Slugify(sg.Title),
					Source:      SourceAI,
				})
			}
			return out
		}
	}
	return fallbackSuggestions(src, n)
}

func fallbackSuggestions(src *store.Product, n int) []Product {
	templates := []struct {
		title, brand, description string
		score                     float64
	}{
		{"Alternative éco à " + src.Title, "EcoChoice", "Produit écologique alternatif avec certification bio et emballage recyclable.", 0.75},
		{src.Category + " durable premium", "GreenLife", "Version améliorée et plus respectueuse de l'environnement.", 0.8},
		{"Bio " + strings.ToLower(src.Category), "NaturalBest", "Produit 100% naturel, fabriqué localement avec des matières premières durables.", 0.7},
	}

	out := make([]Product, 0, n)
	for i, tpl := range templates {
		if i == n {
			break
		}
		out = append(out, Product{
			ID:          fmt.Sprintf("fallback_%s_%d", src.ID, i),
			Title:       tpl.title,
			Description: tpl.description,
			Brand:       tpl.brand,
			Category:    src.Category,
			EcoScore:    tpl.score,
			Images:      []string{},
			Slug:        "fallback-" + store.Slugify(tpl.title),
			Source:      SourceFallback,
		})
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
