package store

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"time"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a unique constraint (slug) is violated.
var ErrConflict = errors.New("already exists")

type VerifiedStatus string

const (
	VerifiedStatusVerified     VerifiedStatus = "verified"
	VerifiedStatusManualReview VerifiedStatus = "manual_review"
	VerifiedStatusRejected     VerifiedStatus = "rejected"
)

type ConfidenceColor string

const (
	ConfidenceGreen  ConfidenceColor = "green"
	ConfidenceYellow ConfidenceColor = "yellow"
	ConfidenceOrange ConfidenceColor = "orange"
	ConfidenceRed    ConfidenceColor = "red"
)

type Product struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Slug        string   `json:"slug"`
	Brand       string   `json:"brand,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags"`
	Images      []string `json:"images"`
	ImageURL    string   `json:"image_url,omitempty"`
	ZonesDispo  []string `json:"zones_dispo"`

	// Prices is free-form JSON, usually keyed by zone.
	Prices json.RawMessage `json:"prices,omitempty"`

	AffiliateURL string `json:"affiliate_url,omitempty"`

	// Scoring
	EcoScore        *float64        `json:"eco_score"`
	AIConfidence    *float64        `json:"ai_confidence"`
	ConfidencePct   *int            `json:"confidence_pct"`
	ConfidenceColor ConfidenceColor `json:"confidence_color,omitempty"`
	VerifiedStatus  VerifiedStatus  `json:"verified_status"`

	ResumeFR string `json:"resume_fr,omitempty"`
	ResumeEN string `json:"resume_en,omitempty"`

	EnrichedAt *time.Time `json:"enriched_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	PartnerLinks []*PartnerLink `json:"partnerLinks,omitempty"`
}

// FirstImage returns the explicit image URL or, failing that, the first
// non-blank entry of Images.
func (p *Product) FirstImage() string {
	if p.ImageURL != "" && p.ImageURL != "null" {
		return p.ImageURL
	}
	for _, img := range p.Images {
		if img != "" {
			return img
		}
	}
	return ""
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s and replaces every run of characters outside [a-z0-9]
// with a dash. Accented letters are replaced too.
func Slugify(s string) string {
	return nonSlugChars.ReplaceAllString(strings.ToLower(s), "-")
}

// ProductPatch carries the editable fields of a product. Nil fields are left
// untouched.
type ProductPatch struct {
	Title           *string          `json:"title,omitempty"`
	Description     *string          `json:"description,omitempty"`
	Slug            *string          `json:"slug,omitempty"`
	Brand           *string          `json:"brand,omitempty"`
	Category        *string          `json:"category,omitempty"`
	Tags            *[]string        `json:"tags,omitempty"`
	Images          *[]string        `json:"images,omitempty"`
	ImageURL        *string          `json:"image_url,omitempty"`
	ZonesDispo      *[]string        `json:"zones_dispo,omitempty"`
	Prices          json.RawMessage  `json:"prices,omitempty"`
	AffiliateURL    *string          `json:"affiliate_url,omitempty"`
	ConfidenceColor *ConfidenceColor `json:"confidence_color,omitempty"`
	VerifiedStatus  *VerifiedStatus  `json:"verified_status,omitempty"`
	ResumeFR        *string          `json:"resume_fr,omitempty"`
	ResumeEN        *string          `json:"resume_en,omitempty"`
}

// EcoScoreUpdate is the partial write performed by the scoring pipeline.
type EcoScoreUpdate struct {
	EcoScore      float64
	AIConfidence  float64
	ConfidencePct int
	EnrichedAt    time.Time
}

type ProductFilter struct {
	Query        string
	Category     string
	VerifiedOnly bool
	EcoMin       *float64
	Limit        int
	Offset       int
}

type ProductStats struct {
	Total            int             `json:"total"`
	Verified         int             `json:"verified"`
	VerificationRate int             `json:"verification_rate"`
	AverageEcoScore  float64         `json:"average_eco_score"`
	TopCategories    []CategoryCount `json:"top_categories"`
}

type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// ScoreBucket is one row of the eco-score distribution.
type ScoreBucket struct {
	Range string `json:"score_range"`
	Count int    `json:"count"`
}

type EcoScoreStats struct {
	TotalProducts int            `json:"total_products"`
	AverageScore  float64        `json:"average_score"`
	Distribution  []ScoreBucket  `json:"distribution"`
	RecentUpdates []*ScoredEntry `json:"recent_updates"`
}

type ScoredEntry struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	EcoScore   *float64   `json:"eco_score"`
	EnrichedAt *time.Time `json:"enriched_at"`
}

// --- Affiliate tracking ---

type Partner struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Website   string    `json:"website,omitempty"`
	LinkCount int       `json:"link_count"`
	CreatedAt time.Time `json:"created_at"`
}

type PartnerLink struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	ProductID string    `json:"productId"`
	PartnerID string    `json:"partnerId"`
	Clicks    int       `json:"clicks"`
	Partner   *Partner  `json:"partner,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type ClickEvent struct {
	ID        string    `json:"id"`
	LinkID    string    `json:"link_id"`
	ProductID string    `json:"product_id"`
	UserAgent string    `json:"user_agent,omitempty"`
	Referer   string    `json:"referer,omitempty"`
	IP        string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	GetProductBySlug(ctx context.Context, slug string) (*Product, error)
	ListProducts(ctx context.Context) ([]*Product, error)
	SearchProducts(ctx context.Context, filter ProductFilter) ([]*Product, int, error)
	UpdateProduct(ctx context.Context, id string, patch *ProductPatch) (*Product, error)
	DeleteProduct(ctx context.Context, id string) error

	ListProductIDs(ctx context.Context) ([]string, error)
	UpdateEcoScore(ctx context.Context, id string, u EcoScoreUpdate) (*Product, error)

	GetProductStats(ctx context.Context) (*ProductStats, error)
	GetEcoScoreStats(ctx context.Context, since time.Time) (*EcoScoreStats, error)

	// Affiliate tracking
	CreatePartner(ctx context.Context, p *Partner) error
	GetPartner(ctx context.Context, id string) (*Partner, error)
	ListPartners(ctx context.Context) ([]*Partner, error)
	CreatePartnerLink(ctx context.Context, l *PartnerLink) error
	GetPartnerLink(ctx context.Context, id string) (*PartnerLink, error)
	RecordClick(ctx context.Context, c *ClickEvent) error

	Close() error
}
