package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/Ecolojia/internal/ecoscore"
	"github.com/MikeSquared-Agency/Ecolojia/internal/store"
)

// recentWindow bounds the "recent updates" list of the stats endpoint.
const recentWindow = 24 * time.Hour

// sampleProduct is scored by the self-test endpoint.
var sampleProduct = ecoscore.ProductSignal{
	Title:       "Savon Bio Artisanal",
	Description: "Savon naturel à base d'huile d'olive bio, fabriqué en France, certifié Ecocert, zéro déchet",
	Brand:       "Savonnerie Française",
	Category:    "Cosmétiques",
	Tags:        []string{"bio", "naturel", "artisanal", "zéro-déchet"},
}

type EcoScoreHandler struct {
	store    store.Store
	resolver *ecoscore.Resolver
	now      func() time.Time
}

func NewEcoScoreHandler(s store.Store, r *ecoscore.Resolver) *EcoScoreHandler {
	return &EcoScoreHandler{store: s, resolver: r, now: time.Now}
}

func percentage(v float64) int {
	return int(math.Round(v * 100))
}

type BatchStats struct {
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
	Total   int `json:"total"`
}

type UpdateAllResponse struct {
	Success   bool       `json:"success"`
	Stats     BatchStats `json:"stats"`
	Error     string     `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

func (h *EcoScoreHandler) UpdateAll(w http.ResponseWriter, r *http.Request) {
	res, err := h.resolver.ResolveAllAndPersist(r.Context())
	resp := UpdateAllResponse{
		Success:   err == nil,
		Stats:     BatchStats{Updated: res.Updated, Errors: res.Errors, Total: res.Total()},
		Timestamp: h.now().UTC(),
	}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type ScoreData struct {
	ProductID          string          `json:"product_id"`
	EcoScore           float64         `json:"eco_score"`
	EcoScorePercentage int             `json:"eco_score_percentage"`
	AIConfidence       float64         `json:"ai_confidence"`
	ConfidencePct      int             `json:"confidence_pct"`
	Source             ecoscore.Source `json:"source"`
}

func (h *EcoScoreHandler) UpdateOne(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "productId")
	res, err := h.resolver.ResolveAndPersist(r.Context(), id)
	if err != nil {
		if errors.Is(err, ecoscore.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "product not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data": ScoreData{
			ProductID:          id,
			EcoScore:           res.EcoScore,
			EcoScorePercentage: percentage(res.EcoScore),
			AIConfidence:       res.AIConfidence,
			ConfidencePct:      res.ConfidencePct,
			Source:             res.Source,
		},
	})
}

type CalculateResponse struct {
	Success            bool               `json:"success"`
	EcoScore           float64            `json:"eco_score"`
	EcoScorePercentage int                `json:"eco_score_percentage"`
	Breakdown          ecoscore.Breakdown `json:"breakdown"`
	Product            ProductPreview     `json:"product_preview"`
	Timestamp          time.Time          `json:"timestamp"`
}

type ProductPreview struct {
	Title    string `json:"title"`
	Brand    string `json:"brand"`
	Category string `json:"category"`
}

// Calculate scores the posted product with the local analyzer. Nothing is
// stored and the remote scorer is not called.
func (h *EcoScoreHandler) Calculate(w http.ResponseWriter, r *http.Request) {
	var s ecoscore.ProductSignal
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if s.Title == "" || s.Description == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success":         false,
			"error":           "title and description required",
			"required_fields": []string{"title", "description"},
			"optional_fields": []string{"brand", "category", "tags"},
		})
		return
	}

	writeJSON(w, http.StatusOK, h.calculate(s))
}

func (h *EcoScoreHandler) calculate(s ecoscore.ProductSignal) CalculateResponse {
	b := h.resolver.Analyzer().Breakdown(s)
	preview := ProductPreview{Title: s.Title, Brand: s.Brand, Category: s.Category}
	if preview.Brand == "" {
		preview.Brand = "unspecified"
	}
	if preview.Category == "" {
		preview.Category = "unspecified"
	}
	return CalculateResponse{
		Success:            true,
		EcoScore:           b.Score,
		EcoScorePercentage: percentage(b.Score),
		Breakdown:          b,
		Product:            preview,
		Timestamp:          h.now().UTC(),
	}
}

type StatsOverview struct {
	TotalProducts     int     `json:"total_products"`
	AverageScore      float64 `json:"average_score"`
	AveragePercentage int     `json:"average_percentage"`
}

type RecentUpdate struct {
	*store.ScoredEntry
	EcoScorePercentage int `json:"eco_score_percentage"`
}

type EcoScoreStatsResponse struct {
	Overview      StatsOverview       `json:"overview"`
	Distribution  []store.ScoreBucket `json:"distribution"`
	RecentUpdates []RecentUpdate      `json:"recent_updates"`
	Timestamp     time.Time           `json:"timestamp"`
}

func (h *EcoScoreHandler) Stats(w http.ResponseWriter, r *http.Request) {
	now := h.now().UTC()
	stats, err := h.store.GetEcoScoreStats(r.Context(), now.Add(-recentWindow))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	recent := make([]RecentUpdate, 0, len(stats.RecentUpdates))
	for _, e := range stats.RecentUpdates {
		var score float64
		if e.EcoScore != nil {
			score = *e.EcoScore
		}
		recent = append(recent, RecentUpdate{ScoredEntry: e, EcoScorePercentage: percentage(score)})
	}
	dist := stats.Distribution
	if dist == nil {
		dist = []store.ScoreBucket{}
	}

	writeJSON(w, http.StatusOK, EcoScoreStatsResponse{
		Overview: StatsOverview{
			TotalProducts:     stats.TotalProducts,
			AverageScore:      stats.AverageScore,
			AveragePercentage: percentage(stats.AverageScore),
		},
		Distribution:  dist,
		RecentUpdates: recent,
		Timestamp:     now,
	})
}

// Test scores a fixed sample product as a liveness check of the analyzer.
func (h *EcoScoreHandler) Test(w http.ResponseWriter, r *http.Request) {
	resp := h.calculate(sampleProduct)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"test_product": sampleProduct,
		"calculated_score": map[string]interface{}{
			"eco_score":            resp.EcoScore,
			"eco_score_percentage": resp.EcoScorePercentage,
			"breakdown":            resp.Breakdown,
		},
		"timestamp": resp.Timestamp,
	})
}
