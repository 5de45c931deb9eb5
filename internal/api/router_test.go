package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Ecolojia/internal/aiscorer"
	"github.com/MikeSquared-Agency/Ecolojia/internal/config"
	"github.com/MikeSquared-Agency/Ecolojia/internal/ecoscore"
	"github.com/MikeSquared-Agency/Ecolojia/internal/similar"
	"github.com/MikeSquared-Agency/Ecolojia/internal/store"
)

// Mocks
type mockStore struct {
	mu       sync.Mutex
	products map[string]*store.Product
	partners map[string]*store.Partner
	links    map[string]*store.PartnerLink
	clicks   []*store.ClickEvent
	nextID   int
	clickErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		products: make(map[string]*store.Product),
		partners: make(map[string]*store.Partner),
		links:    make(map[string]*store.PartnerLink),
	}
}

func (m *mockStore) id(prefix string) string {
	m.nextID++
	return fmt.Sprintf("%s-%d", prefix, m.nextID)
}

func (m *mockStore) CreateProduct(_ context.Context, p *store.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.products {
		if existing.Slug == p.Slug {
			return store.ErrConflict
		}
	}
	if p.ID == "" {
		p.ID = m.id("prod")
	}
	if len(p.ZonesDispo) == 0 {
		p.ZonesDispo = []string{"FR"}
	}
	if p.VerifiedStatus == "" {
		p.VerifiedStatus = store.VerifiedStatusManualReview
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	m.products[p.ID] = p
	return nil
}

func (m *mockStore) GetProduct(_ context.Context, id string) (*store.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) GetProductBySlug(_ context.Context, slug string) (*store.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.products {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) ListProducts(_ context.Context) ([]*store.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Product
	for _, p := range m.products {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockStore) SearchProducts(ctx context.Context, f store.ProductFilter) ([]*store.Product, int, error) {
	all, _ := m.ListProducts(ctx)
	var out []*store.Product
	for _, p := range all {
		if f.Category != "" && p.Category != f.Category {
			continue
		}
		if f.EcoMin != nil && (p.EcoScore == nil || *p.EcoScore < *f.EcoMin) {
			continue
		}
		out = append(out, p)
	}
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *mockStore) UpdateProduct(_ context.Context, id string, patch *store.ProductPatch) (*store.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	return p, nil
}

func (m *mockStore) DeleteProduct(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *mockStore) ListProductIDs(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id := range m.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *mockStore) UpdateEcoScore(_ context.Context, id string, u store.EcoScoreUpdate) (*store.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	score, conf, pct, at := u.EcoScore, u.AIConfidence, u.ConfidencePct, u.EnrichedAt
	p.EcoScore, p.AIConfidence, p.ConfidencePct, p.EnrichedAt = &score, &conf, &pct, &at
	return p, nil
}

func (m *mockStore) GetProductStats(_ context.Context) (*store.ProductStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &store.ProductStats{Total: len(m.products), TopCategories: []store.CategoryCount{}}, nil
}

func (m *mockStore) GetEcoScoreStats(_ context.Context, _ time.Time) (*store.EcoScoreStats, error) {
	score := 0.72
	return &store.EcoScoreStats{
		TotalProducts: 2,
		AverageScore:  0.66,
		Distribution:  []store.ScoreBucket{{Range: "Very good (60-79%)", Count: 2}},
		RecentUpdates: []*store.ScoredEntry{{ID: "prod-1", Title: "Savon", EcoScore: &score}},
	}, nil
}

func (m *mockStore) CreatePartner(_ context.Context, p *store.Partner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.ID = m.id("partner")
	m.partners[p.ID] = p
	return nil
}

func (m *mockStore) GetPartner(_ context.Context, id string) (*store.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.partners[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (m *mockStore) ListPartners(_ context.Context) ([]*store.Partner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Partner
	for _, p := range m.partners {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockStore) CreatePartnerLink(_ context.Context, l *store.PartnerLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		l.ID = m.id("link")
	}
	m.links[l.ID] = l
	return nil
}

func (m *mockStore) GetPartnerLink(_ context.Context, id string) (*store.PartnerLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return l, nil
}

func (m *mockStore) RecordClick(_ context.Context, c *store.ClickEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.clickErr != nil {
		return m.clickErr
	}
	m.clicks = append(m.clicks, c)
	m.links[c.LinkID].Clicks++
	return nil
}

func (m *mockStore) Close() error { return nil }

type recordingEvents struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordingEvents) Publish(subject string, _ interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
	return nil
}
func (r *recordingEvents) Subscribe(_ string, _ func(string, []byte)) error { return nil }
func (r *recordingEvents) Close()                                           {}

func testConfig() *config.Config {
	return &config.Config{Server: config.ServerConfig{
		AdminToken:        "test-token",
		AllowedOrigins:    []string{"http://localhost:5173"},
		RateLimitRequests: 1000,
		RateLimitWindowMs: 60000,
	}}
}

func setupTestRouter() (http.Handler, *mockStore, *recordingEvents) {
	ms := newMockStore()
	ev := &recordingEvents{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := ecoscore.NewResolver(ms, nil, nil, logger)
	sim := similar.NewService(ms, similar.Options{}, logger)
	router := NewRouter(ms, resolver, sim, ev, testConfig(), logger)
	return router, ms, ev
}

func seedProduct(t *testing.T, ms *mockStore, title, slug, category string) *store.Product {
	t.Helper()
	p := &store.Product{Title: title, Slug: slug, Category: category, Description: "savon bio fabriqué en france"}
	require.NoError(t, ms.CreateProduct(context.Background(), p))
	return p
}

func doRequest(router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateProduct(t *testing.T) {
	router, _, ev := setupTestRouter()

	body := `{"title":"Savon Bio","description":"savon naturel fabriqué en france","tags":["bio"]}`
	w := doRequest(router, "POST", "/api/products", body, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var p store.Product
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Regexp(t, `^savon-bio-\d+$`, p.Slug)
	assert.Equal(t, "générique", p.Category)
	assert.Equal(t, []string{"FR"}, p.ZonesDispo)
	assert.Equal(t, store.ConfidenceOrange, p.ConfidenceColor)
	assert.Equal(t, store.VerifiedStatusManualReview, p.VerifiedStatus)
	require.NotNil(t, p.EcoScore)
	assert.InDelta(t, ecoscore.ComputeScore(ecoscore.ProductSignal{
		Title:       "Savon Bio",
		Description: "savon naturel fabriqué en france",
		Category:    "générique",
		Tags:        []string{"bio"},
	}), *p.EcoScore, 1e-9)
	assert.InDelta(t, 0.5, *p.AIConfidence, 1e-9)
	assert.Equal(t, 50, *p.ConfidencePct)
	assert.Equal(t, []string{"ecolojia.product." + p.ID + ".created"}, ev.subjects)
}

func TestCreateProductValidation(t *testing.T) {
	router, _, _ := setupTestRouter()

	tests := map[string]string{
		"missing title":  `{"description":"x"}`,
		"too many tags":  `{"title":"t","tags":["a","b","c","d","e","f","g","h","i","j","k"]}`,
		"bad confidence": `{"title":"t","ai_confidence":1.5}`,
		"bad status":     `{"title":"t","verified_status":"maybe"}`,
		"invalid json":   `{"title":`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			w := doRequest(router, "POST", "/api/products", body, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestCreateProductDuplicateSlug(t *testing.T) {
	router, ms, _ := setupTestRouter()
	seedProduct(t, ms, "Savon", "savon", "Cosmétiques")

	w := doRequest(router, "POST", "/api/products", `{"title":"Savon","slug":"savon"}`, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetProductBySlug(t *testing.T) {
	router, ms, _ := setupTestRouter()
	seedProduct(t, ms, "Savon", "savon", "Cosmétiques")

	w := doRequest(router, "GET", "/api/products/savon", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var p store.Product
	require.NoError(t, json.NewDecoder(w.Body).Decode(&p))
	assert.Equal(t, "Savon", p.Title)

	w = doRequest(router, "GET", "/api/products/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"product not found"}`, w.Body.String())
}

func TestListProductsEmpty(t *testing.T) {
	router, _, _ := setupTestRouter()

	w := doRequest(router, "GET", "/api/products", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestSearchProductsPagination(t *testing.T) {
	router, ms, _ := setupTestRouter()
	for i := 0; i < 5; i++ {
		seedProduct(t, ms, fmt.Sprintf("Savon %d", i), fmt.Sprintf("savon-%d", i), "Cosmétiques")
	}

	w := doRequest(router, "GET", "/api/products/search?category=Cosm%C3%A9tiques&page=2&limit=2", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Len(t, resp.Products, 2)
	assert.Equal(t, Pagination{Page: 2, Limit: 2, Total: 5, Pages: 3}, resp.Pagination)
}

func TestSearchProductsBadEcoMin(t *testing.T) {
	router, _, _ := setupTestRouter()

	w := doRequest(router, "GET", "/api/products/search?eco_min=high", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchProductsPageOutOfRange(t *testing.T) {
	router, ms, _ := setupTestRouter()
	seedProduct(t, ms, "Savon", "savon", "Cosmétiques")

	w := doRequest(router, "GET", "/api/products/search?page=9223372036854775807&limit=100", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "page out of range")

	w = doRequest(router, "GET", "/api/products/search?page=1000&limit=100", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp SearchResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Empty(t, resp.Products)
	assert.Equal(t, 1, resp.Pagination.Total)
}

func TestCreateProductFreeFormPrices(t *testing.T) {
	router, ms, _ := setupTestRouter()

	body := `{"title":"Gourde","description":"inox","prices":{"FR":"19,90 €","note":["promo"]}}`
	w := doRequest(router, "POST", "/api/products", body, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var created store.Product
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.JSONEq(t, `{"FR":"19,90 €","note":["promo"]}`, string(created.Prices))
	assert.JSONEq(t, `{"FR":"19,90 €","note":["promo"]}`, string(ms.products[created.ID].Prices))
}

func TestUpdateAndDeleteProduct(t *testing.T) {
	router, ms, ev := setupTestRouter()
	p := seedProduct(t, ms, "Savon", "savon", "Cosmétiques")

	w := doRequest(router, "PUT", "/api/products/"+p.ID, `{"title":"Savon doux"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Savon doux", ms.products[p.ID].Title)

	w = doRequest(router, "DELETE", "/api/products/"+p.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, ms.products)

	w = doRequest(router, "DELETE", "/api/products/"+p.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Equal(t, []string{
		"ecolojia.product." + p.ID + ".updated",
		"ecolojia.product." + p.ID + ".deleted",
	}, ev.subjects)
}

func TestUpdateProductNotFound(t *testing.T) {
	router, _, _ := setupTestRouter()

	w := doRequest(router, "PUT", "/api/products/missing", `{"title":"x"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSimilarProductsFallback(t *testing.T) {
	router, ms, _ := setupTestRouter()
	p := seedProduct(t, ms, "Savon", "savon", "Cosmétiques")

	w := doRequest(router, "GET", "/api/products/"+p.ID+"/similar", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SimilarResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 3, resp.Count)
	for _, s := range resp.Products {
		assert.Equal(t, similar.SourceFallback, s.Source)
	}
	assert.InDelta(t, 0.8, resp.Products[0].EcoScore, 1e-9)

	w = doRequest(router, "GET", "/api/products/missing/similar", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSimilarProductsLimitIsCapped(t *testing.T) {
	router, ms, _ := setupTestRouter()
	p := seedProduct(t, ms, "Savon", "savon", "Cosmétiques")

	w := doRequest(router, "GET", "/api/products/"+p.ID+"/similar?limit=1000000000000", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SimilarResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.LessOrEqual(t, resp.Count, similar.MaxLimit)
	assert.Equal(t, 3, resp.Count)
}

func TestEcoScoreUpdateOne(t *testing.T) {
	router, ms, _ := setupTestRouter()
	p := seedProduct(t, ms, "Savon", "savon", "Cosmétiques")

	w := doRequest(router, "POST", "/api/eco-score/update/"+p.ID, "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool      `json:"success"`
		Data    ScoreData `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, ecoscore.SourceHeuristic, resp.Data.Source)
	assert.InDelta(t, ecoscore.FallbackConfidence, resp.Data.AIConfidence, 1e-9)
	assert.Equal(t, ecoscore.FallbackConfidencePct, resp.Data.ConfidencePct)
	assert.Equal(t, percentage(resp.Data.EcoScore), resp.Data.EcoScorePercentage)
	assert.InDelta(t, resp.Data.EcoScore, *ms.products[p.ID].EcoScore, 1e-9)
}

func TestEcoScoreUpdateOneNotFound(t *testing.T) {
	router, _, _ := setupTestRouter()

	w := doRequest(router, "POST", "/api/eco-score/update/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEcoScoreUpdateAllRequiresAdminToken(t *testing.T) {
	router, ms, _ := setupTestRouter()
	seedProduct(t, ms, "Savon", "savon", "Cosmétiques")
	seedProduct(t, ms, "Brosse", "brosse", "Maison")

	w := doRequest(router, "POST", "/api/eco-score/update-all", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, "POST", "/api/eco-score/update-all", "", map[string]string{"Authorization": "Bearer test-token"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp UpdateAllResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, BatchStats{Updated: 2, Errors: 0, Total: 2}, resp.Stats)
}

func TestEcoScoreCalculate(t *testing.T) {
	router, ms, _ := setupTestRouter()

	body := `{"title":"Brosse en bambou","description":"brosse à dents compostable fabriquée en france"}`
	w := doRequest(router, "POST", "/api/eco-score/calculate", body, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp CalculateResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	want := ecoscore.DefaultAnalyzer().Breakdown(ecoscore.ProductSignal{
		Title:       "Brosse en bambou",
		Description: "brosse à dents compostable fabriquée en france",
	})
	assert.Equal(t, want, resp.Breakdown)
	assert.Equal(t, percentage(want.Score), resp.EcoScorePercentage)
	assert.Equal(t, "unspecified", resp.Product.Brand)
	assert.Empty(t, ms.products)
}

func TestEcoScoreCalculateRequiresDescription(t *testing.T) {
	router, _, _ := setupTestRouter()

	w := doRequest(router, "POST", "/api/eco-score/calculate", `{"title":"Brosse"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEcoScoreStats(t *testing.T) {
	router, _, _ := setupTestRouter()

	w := doRequest(router, "GET", "/api/eco-score/stats", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp EcoScoreStatsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 66, resp.Overview.AveragePercentage)
	require.Len(t, resp.RecentUpdates, 1)
	assert.Equal(t, 72, resp.RecentUpdates[0].EcoScorePercentage)
	assert.Equal(t, "prod-1", resp.RecentUpdates[0].ID)
}

func TestEcoScoreTestEndpoint(t *testing.T) {
	router, _, _ := setupTestRouter()

	w := doRequest(router, "GET", "/api/eco-score/test", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Score   struct {
			EcoScore float64 `json:"eco_score"`
		} `json:"calculated_score"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.InDelta(t, ecoscore.ComputeScore(sampleProduct), resp.Score.EcoScore, 1e-9)
}

func TestTrackRedirect(t *testing.T) {
	router, ms, _ := setupTestRouter()
	p := seedProduct(t, ms, "Savon", "savon", "Cosmétiques")
	link := &store.PartnerLink{ID: "link-a", URL: "https://shop.example/savon", ProductID: p.ID, PartnerID: "partner-1"}
	require.NoError(t, ms.CreatePartnerLink(context.Background(), link))

	w := doRequest(router, "GET", "/api/track/link-a", "", map[string]string{"User-Agent": "test-agent", "Referer": "https://ecolojia.example"})
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://shop.example/savon", w.Header().Get("Location"))

	require.Len(t, ms.clicks, 1)
	assert.Equal(t, p.ID, ms.clicks[0].ProductID)
	assert.Equal(t, "test-agent", ms.clicks[0].UserAgent)
	assert.Equal(t, "https://ecolojia.example", ms.clicks[0].Referer)
	assert.Equal(t, 1, ms.links["link-a"].Clicks)
}

func TestTrackRedirectSurvivesClickFailure(t *testing.T) {
	router, ms, _ := setupTestRouter()
	require.NoError(t, ms.CreatePartnerLink(context.Background(), &store.PartnerLink{ID: "link-a", URL: "https://shop.example"}))
	ms.clickErr = fmt.Errorf("db down")

	w := doRequest(router, "GET", "/api/track/link-a", "", nil)
	assert.Equal(t, http.StatusFound, w.Code)
}

func TestTrackUnknownLink(t *testing.T) {
	router, _, _ := setupTestRouter()

	w := doRequest(router, "GET", "/api/track/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPartnersAdmin(t *testing.T) {
	router, ms, _ := setupTestRouter()
	p := seedProduct(t, ms, "Savon", "savon", "Cosmétiques")
	admin := map[string]string{"Authorization": "Bearer test-token"}

	w := doRequest(router, "GET", "/api/partners", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, "POST", "/api/partners", `{"name":"La Ruche"}`, admin)
	require.Equal(t, http.StatusCreated, w.Code)
	var partner store.Partner
	require.NoError(t, json.NewDecoder(w.Body).Decode(&partner))

	w = doRequest(router, "POST", "/api/partners/"+partner.ID+"/links", `{"url":"ftp://x","productId":"`+p.ID+`"}`, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, "POST", "/api/partners/"+partner.ID+"/links", `{"url":"https://laruche.example/savon","productId":"`+p.ID+`"}`, admin)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(router, "POST", "/api/partners/missing/links", `{"url":"https://laruche.example/savon","productId":"`+p.ID+`"}`, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "partner not found")

	w = doRequest(router, "GET", "/api/partners", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	var partners []store.Partner
	require.NoError(t, json.NewDecoder(w.Body).Decode(&partners))
	assert.Len(t, partners, 1)
}

func limitedRouter(trustProxy bool) http.Handler {
	ms := newMockStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	cfg.Server.RateLimitRequests = 2
	cfg.Server.TrustProxy = trustProxy
	resolver := ecoscore.NewResolver(ms, nil, nil, logger)
	return NewRouter(ms, resolver, similar.NewService(ms, similar.Options{}, logger), nil, cfg, logger)
}

func TestRateLimitIgnoresForwardedHeaders(t *testing.T) {
	router := limitedRouter(false)

	limited := 0
	for i := 0; i < 10; i++ {
		w := doRequest(router, "GET", "/api/products", "", map[string]string{
			"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i),
			"X-Real-IP":       fmt.Sprintf("198.51.100.%d", i),
		})
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}
	assert.Equal(t, 8, limited)
}

func TestRateLimitTrustedProxyKeysByForwardedIP(t *testing.T) {
	router := limitedRouter(true)

	for i := 0; i < 5; i++ {
		w := doRequest(router, "GET", "/api/products", "", map[string]string{
			"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i),
		})
		assert.Equal(t, http.StatusOK, w.Code)
	}

	for i := 0; i < 2; i++ {
		doRequest(router, "GET", "/api/products", "", map[string]string{"X-Forwarded-For": "203.0.113.200"})
	}
	w := doRequest(router, "GET", "/api/products", "", map[string]string{"X-Forwarded-For": "203.0.113.200"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

type fixedSuggester struct {
	out []aiscorer.Suggestion
	err error
}

func (f fixedSuggester) SuggestSimilar(context.Context, ecoscore.ProductSignal, int) ([]aiscorer.Suggestion, error) {
	return f.out, f.err
}

func suggestRouter(sg similar.Suggester, perMinute int) http.Handler {
	ms := newMockStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig()
	cfg.Server.SuggestRateLimitRequests = perMinute
	cfg.Server.SuggestRateLimitWindowMs = 60000
	resolver := ecoscore.NewResolver(ms, nil, nil, logger)
	sim := similar.NewService(ms, similar.Options{Suggester: sg}, logger)
	return NewRouter(ms, resolver, sim, nil, cfg, logger)
}

func TestSuggest(t *testing.T) {
	router := suggestRouter(fixedSuggester{out: []aiscorer.Suggestion{{Title: "Lessive au savon de Marseille", EcoScore: 0.8}}}, 5)

	w := doRequest(router, "POST", "/api/suggest", `{"query":"lessive","zone":"FR","lang":"fr"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SuggestResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "lessive", resp.Query)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, similar.SourceAI, resp.Suggestions[0].Source)
}

func TestSuggestValidationAndFailures(t *testing.T) {
	router := suggestRouter(fixedSuggester{err: fmt.Errorf("upstream timeout")}, 100)

	w := doRequest(router, "POST", "/api/suggest", `{"query":"lessive","zone":"FR"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, "POST", "/api/suggest", `{"query":"lessive","zone":"FR","lang":"fr"}`, nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	router, _, _ = setupTestRouter()
	w = doRequest(router, "POST", "/api/suggest", `{"query":"lessive","zone":"FR","lang":"fr"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSuggestHasItsOwnLimit(t *testing.T) {
	router := suggestRouter(fixedSuggester{}, 5)
	body := `{"query":"lessive","zone":"FR","lang":"fr"}`

	for i := 0; i < 5; i++ {
		w := doRequest(router, "POST", "/api/suggest", body, nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
	w := doRequest(router, "POST", "/api/suggest", body, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	w = doRequest(router, "GET", "/api/products", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	router, _, _ := setupTestRouter()

	req := httptest.NewRequest("OPTIONS", "/api/products", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest("OPTIONS", "/api/products", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRootAndHealth(t *testing.T) {
	router, _, _ := setupTestRouter()

	w := doRequest(router, "GET", "/", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/eco-score/update-all")

	w = doRequest(router, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthEndpoint(t *testing.T) {
	router := NewMetricsRouter()
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
