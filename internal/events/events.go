package events

import "time"

type ProductEvent struct {
	ProductID string    `json:"product_id"`
	Slug      string    `json:"slug,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ProductScoredEvent struct {
	ProductID     string    `json:"product_id"`
	EcoScore      float64   `json:"eco_score"`
	AIConfidence  float64   `json:"ai_confidence"`
	ConfidencePct int       `json:"confidence_pct"`
	Source        string    `json:"source"`
	Timestamp     time.Time `json:"timestamp"`
}
