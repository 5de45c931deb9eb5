package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/Ecolojia/internal/config"
	"github.com/MikeSquared-Agency/Ecolojia/internal/ecoscore"
	"github.com/MikeSquared-Agency/Ecolojia/internal/events"
	"github.com/MikeSquared-Agency/Ecolojia/internal/metrics"
	"github.com/MikeSquared-Agency/Ecolojia/internal/similar"
	"github.com/MikeSquared-Agency/Ecolojia/internal/store"
)

const serviceName = "ecolojia"

var endpoints = []string{
	"GET /api/products",
	"GET /api/products/search",
	"GET /api/products/stats",
	"GET /api/products/{slug}",
	"POST /api/products",
	"PUT /api/products/{id}",
	"DELETE /api/products/{id}",
	"GET /api/products/{id}/similar",
	"POST /api/eco-score/update-all",
	"POST /api/eco-score/update/{productId}",
	"POST /api/eco-score/calculate",
	"GET /api/eco-score/stats",
	"GET /api/eco-score/test",
	"GET /api/track/{linkId}",
	"POST /api/suggest",
	"GET /api/partners",
	"GET /health",
}

func NewRouter(s store.Store, resolver *ecoscore.Resolver, sim *similar.Service, ev events.Client, cfg *config.Config, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.RequestID)
	if cfg.Server.TrustProxy {
		r.Use(chiMiddleware.RealIP)
	}
	r.Use(RequestLogger(logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	products := NewProductsHandler(s, resolver.Analyzer(), sim, ev, logger)
	ecoScore := NewEcoScoreHandler(s, resolver)
	track := NewTrackHandler(s, logger)
	partners := NewPartnersHandler(s)
	suggest := NewSuggestHandler(sim, logger)

	r.Get("/", rootInfo)
	r.Get("/health", health)

	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.Server.RateLimitRequests, cfg.RateLimitWindow()))

		r.Get("/products", products.List)
		r.Post("/products", products.Create)
		r.Get("/products/search", products.Search)
		r.Get("/products/stats", products.Stats)
		r.Get("/products/{slug}", products.GetBySlug)
		r.Put("/products/{id}", products.Update)
		r.Delete("/products/{id}", products.Delete)
		r.Get("/products/{id}/similar", products.Similar)

		r.Post("/eco-score/update/{productId}", ecoScore.UpdateOne)
		r.Post("/eco-score/calculate", ecoScore.Calculate)
		r.Get("/eco-score/stats", ecoScore.Stats)
		r.Get("/eco-score/test", ecoScore.Test)

		r.Get("/track/{linkId}", track.Redirect)

		r.With(RateLimitMiddleware(cfg.Server.SuggestRateLimitRequests, cfg.SuggestRateLimitWindow())).
			Post("/suggest", suggest.Suggest)

		r.Group(func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.Server.AdminToken))
			r.Post("/eco-score/update-all", ecoScore.UpdateAll)
			r.Get("/partners", partners.List)
			r.Post("/partners", partners.Create)
			r.Post("/partners/{id}/links", partners.CreateLink)
		})
	})

	return r
}

func NewMetricsRouter() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", health)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func rootInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":   serviceName,
		"status":    "ok",
		"endpoints": endpoints,
	})
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
