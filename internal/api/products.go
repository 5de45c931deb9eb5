package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/MikeSquared-Agency/Ecolojia/internal/ecoscore"
	"github.com/MikeSquared-Agency/Ecolojia/internal/events"
	"github.com/MikeSquared-Agency/Ecolojia/internal/similar"
	"github.com/MikeSquared-Agency/Ecolojia/internal/store"
)

const (
	maxTitleLen     = 200
	maxTags         = 10
	defaultCategory = "générique"
	defaultPageSize = 20
	maxPageSize     = 100
	// maxSearchOffset bounds (page-1)*limit.
	maxSearchOffset = math.MaxInt32
)

type ProductsHandler struct {
	store    store.Store
	analyzer *ecoscore.Analyzer
	similar  *similar.Service
	events   events.Client
	logger   *slog.Logger
	now      func() time.Time
}

func NewProductsHandler(s store.Store, a *ecoscore.Analyzer, sim *similar.Service, ev events.Client, logger *slog.Logger) *ProductsHandler {
	if a == nil {
		a = ecoscore.DefaultAnalyzer()
	}
	return &ProductsHandler{store: s, analyzer: a, similar: sim, events: ev, logger: logger, now: time.Now}
}

type CreateProductRequest struct {
	Title           string                `json:"title"`
	Description     string                `json:"description"`
	Slug            string                `json:"slug,omitempty"`
	Brand           string                `json:"brand,omitempty"`
	Category        string                `json:"category,omitempty"`
	Tags            []string              `json:"tags,omitempty"`
	Images          []string              `json:"images,omitempty"`
	ImageURL        string                `json:"image_url,omitempty"`
	ZonesDispo      []string              `json:"zones_dispo,omitempty"`
	Prices          json.RawMessage       `json:"prices,omitempty"`
	AffiliateURL    string                `json:"affiliate_url,omitempty"`
	AIConfidence    *float64              `json:"ai_confidence,omitempty"`
	ConfidencePct   *int                  `json:"confidence_pct,omitempty"`
	ConfidenceColor store.ConfidenceColor `json:"confidence_color,omitempty"`
	VerifiedStatus  store.VerifiedStatus  `json:"verified_status,omitempty"`
	ResumeFR        string                `json:"resume_fr,omitempty"`
	ResumeEN        string                `json:"resume_en,omitempty"`
}

func (req *CreateProductRequest) validate() error {
	if req.Title == "" {
		return errors.New("title required")
	}
	if utf8.RuneCountInString(req.Title) > maxTitleLen {
		return fmt.Errorf("title must be at most %d characters", maxTitleLen)
	}
	if len(req.Tags) > maxTags {
		return fmt.Errorf("at most %d tags allowed", maxTags)
	}
	if req.AIConfidence != nil && (*req.AIConfidence < 0 || *req.AIConfidence > 1) {
		return errors.New("ai_confidence must be between 0 and 1")
	}
	if req.ConfidencePct != nil && (*req.ConfidencePct < 0 || *req.ConfidencePct > 100) {
		return errors.New("confidence_pct must be between 0 and 100")
	}
	if err := validateStatus(req.VerifiedStatus); err != nil {
		return err
	}
	return nil
}

func validateStatus(s store.VerifiedStatus) error {
	switch s {
	case "", store.VerifiedStatusVerified, store.VerifiedStatusManualReview, store.VerifiedStatusRejected:
		return nil
	}
	return fmt.Errorf("invalid verified_status %q", s)
}

func (h *ProductsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := h.now().UTC()
	p := &store.Product{
		Title:           req.Title,
		Description:     req.Description,
		Slug:            req.Slug,
		Brand:           req.Brand,
		Category:        req.Category,
		Tags:            req.Tags,
		Images:          req.Images,
		ImageURL:        req.ImageURL,
		ZonesDispo:      req.ZonesDispo,
		Prices:          req.Prices,
		AffiliateURL:    req.AffiliateURL,
		ConfidenceColor: req.ConfidenceColor,
		VerifiedStatus:  req.VerifiedStatus,
		ResumeFR:        req.ResumeFR,
		ResumeEN:        req.ResumeEN,
		EnrichedAt:      &now,
	}
	if p.Slug == "" {
		p.Slug = fmt.Sprintf("%s-%d", store.Slugify(req.Title), now.UnixMilli())
	}
	if p.Category == "" {
		p.Category = defaultCategory
	}
	if p.ConfidenceColor == "" {
		p.ConfidenceColor = store.ConfidenceOrange
	}

	score := h.analyzer.Score(ecoscore.SignalFromProduct(p))
	confidence, pct := 0.5, 50
	if req.AIConfidence != nil {
		confidence = *req.AIConfidence
	}
	if req.ConfidencePct != nil {
		pct = *req.ConfidencePct
	}
	p.EcoScore, p.AIConfidence, p.ConfidencePct = &score, &confidence, &pct

	if err := h.store.CreateProduct(r.Context(), p); err != nil {
		if errors.Is(err, store.ErrConflict) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "product already exists"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.publish(events.SubjectProductCreated(p.ID), p)
	writeJSON(w, http.StatusCreated, p)
}

func (h *ProductsHandler) List(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListProducts(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if products == nil {
		products = []*store.Product{}
	}
	writeJSON(w, http.StatusOK, products)
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type SearchResponse struct {
	Products   []*store.Product `json:"products"`
	Pagination Pagination       `json:"pagination"`
}

func (h *ProductsHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := positiveInt(q.Get("page"), 1)
	limit := positiveInt(q.Get("limit"), defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if page-1 > maxSearchOffset/limit {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "page out of range"})
		return
	}

	filter := store.ProductFilter{
		Query:        q.Get("q"),
		Category:     q.Get("category"),
		VerifiedOnly: q.Get("verified") == "true",
		Limit:        limit,
		Offset:       (page - 1) * limit,
	}
	if s := q.Get("eco_min"); s != "" {
		ecoMin, err := strconv.ParseFloat(s, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid eco_min"})
			return
		}
		filter.EcoMin = &ecoMin
	}

	products, total, err := h.store.SearchProducts(r.Context(), filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if products == nil {
		products = []*store.Product{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{
		Products: products,
		Pagination: Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + limit - 1) / limit,
		},
	})
}

func (h *ProductsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetProductStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *ProductsHandler) GetBySlug(w http.ResponseWriter, r *http.Request) {
	p, err := h.store.GetProductBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var patch store.ProductPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if patch.Title != nil && (*patch.Title == "" || utf8.RuneCountInString(*patch.Title) > maxTitleLen) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("title must be 1 to %d characters", maxTitleLen)})
		return
	}
	if patch.Tags != nil && len(*patch.Tags) > maxTags {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("at most %d tags allowed", maxTags)})
		return
	}
	if patch.VerifiedStatus != nil {
		if err := validateStatus(*patch.VerifiedStatus); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	p, err := h.store.UpdateProduct(r.Context(), chi.URLParam(r, "id"), &patch)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	h.publish(events.SubjectProductUpdated(p.ID), p)
	writeJSON(w, http.StatusOK, p)
}

func (h *ProductsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteProduct(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}

	h.publish(events.SubjectProductDeleted(id), &store.Product{ID: id})
	writeJSON(w, http.StatusOK, map[string]string{"message": "product deleted"})
}

type SimilarResponse struct {
	ProductID string            `json:"product_id"`
	Count     int               `json:"count"`
	Products  []similar.Product `json:"products"`
}

func (h *ProductsHandler) Similar(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit := min(positiveInt(r.URL.Query().Get("limit"), similar.DefaultLimit), similar.MaxLimit)

	products, err := h.similar.Find(r.Context(), id, limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if products == nil {
		products = []similar.Product{}
	}
	writeJSON(w, http.StatusOK, SimilarResponse{ProductID: id, Count: len(products), Products: products})
}

func (h *ProductsHandler) publish(subject string, p *store.Product) {
	events.PublishBestEffort(h.events, h.logger, subject, events.ProductEvent{
		ProductID: p.ID,
		Slug:      p.Slug,
		Timestamp: h.now().UTC(),
	})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "product not found"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func positiveInt(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
