package search

import "github.com/MikeSquared-Agency/Ecolojia/internal/store"

// Document is the flattened product projection stored in the search index.
type Document struct {
	ID              string   `json:"id"`
	Slug            string   `json:"slug"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Brand           string   `json:"brand,omitempty"`
	Category        string   `json:"category,omitempty"`
	ImageURL        string   `json:"image_url"`
	EcoScore        *float64 `json:"eco_score"`
	AIConfidence    *float64 `json:"ai_confidence"`
	ConfidenceColor string   `json:"confidence_color,omitempty"`
	ZonesDispo      []string `json:"zones_dispo"`
	Tags            []string `json:"tags"`
	AffiliateURL    string   `json:"affiliate_url,omitempty"`
}

func FromProduct(p *store.Product) Document {
	zones := p.ZonesDispo
	if zones == nil {
		zones = []string{}
	}
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return Document{
		ID:              p.ID,
		Slug:            p.Slug,
		Title:           p.Title,
		Description:     p.Description,
		Brand:           p.Brand,
		Category:        p.Category,
		ImageURL:        p.FirstImage(),
		EcoScore:        p.EcoScore,
		AIConfidence:    p.AIConfidence,
		ConfidenceColor: string(p.ConfidenceColor),
		ZonesDispo:      zones,
		Tags:            tags,
		AffiliateURL:    p.AffiliateURL,
	}
}
