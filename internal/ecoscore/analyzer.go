package ecoscore

import (
	"math"
	"strings"

	"github.com/MikeSquared-Agency/Ecolojia/internal/store"
)

// Baseline is the score of a product with no signal at all.
const Baseline = 0.5

// ProductSignal is the text-bearing projection of a product used for scoring.
type ProductSignal struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Brand       string   `json:"brand,omitempty"`
	Category    string   `json:"category,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// SignalFromProduct projects a stored product onto a ProductSignal.
func SignalFromProduct(p *store.Product) ProductSignal {
	return ProductSignal{
		Title:       p.Title,
		Description: p.Description,
		Brand:       p.Brand,
		Category:    p.Category,
		Tags:        append([]string(nil), p.Tags...),
	}
}

// Normalize lowercases title, description, brand and tags joined by spaces.
// Category is not part of the scored text.
func Normalize(s ProductSignal) string {
	return strings.ToLower(s.Title + " " + s.Description + " " + s.Brand + " " + strings.Join(s.Tags, " "))
}

// Analyzer scores normalized text against a fixed set of signal tables. It
// holds no mutable state and is safe for concurrent use.
type Analyzer struct {
	tables SignalTables
}

func NewAnalyzer(tables SignalTables) *Analyzer {
	return &Analyzer{tables: tables}
}

var defaultAnalyzer = NewAnalyzer(DefaultTables())

// DefaultAnalyzer returns the analyzer built on DefaultTables.
func DefaultAnalyzer() *Analyzer { return defaultAnalyzer }

// ComputeScore scores s with the default tables.
func ComputeScore(s ProductSignal) float64 {
	return defaultAnalyzer.Score(s)
}

// Breakdown is the per-analyzer detail behind a score.
type Breakdown struct {
	Materials      float64 `json:"materials"`
	Certifications float64 `json:"certifications"`
	Origin         float64 `json:"origin"`
	Durability     float64 `json:"durability"`
	Penalties      float64 `json:"penalties"`
	Score          float64 `json:"eco_score"`
}

func (a *Analyzer) Materials(text string) float64 {
	return a.tables.Materials.contribution(text)
}

// Certifications adds the per-label weight for each matching label plus the
// multi-match bonuses.
func (a *Analyzer) Certifications(text string) float64 {
	c := a.tables.Certifications
	sum, matched := c.sum(text)
	if matched >= 2 {
		sum += c.PairBonus
	}
	if matched >= 3 {
		sum += c.TrioBonus
	}
	return math.Min(sum, c.Ceiling)
}

func (a *Analyzer) Origin(text string) float64 {
	return a.tables.Origin.contribution(text)
}

func (a *Analyzer) Durability(text string) float64 {
	return a.tables.Durability.contribution(text)
}

// Penalties returns the clamped total penalty. It is subtracted by Score.
func (a *Analyzer) Penalties(text string) float64 {
	return a.tables.Penalties.contribution(text)
}

func (a *Analyzer) Breakdown(s ProductSignal) Breakdown {
	text := Normalize(s)
	b := Breakdown{
		Materials:      a.Materials(text),
		Certifications: a.Certifications(text),
		Origin:         a.Origin(text),
		Durability:     a.Durability(text),
		Penalties:      a.Penalties(text),
	}
	b.Score = clamp(Baseline+b.Materials+b.Certifications+b.Origin+b.Durability-b.Penalties, 0, 1)
	return b
}

// Score returns the eco score of s, always within [0, 1].
func (a *Analyzer) Score(s ProductSignal) float64 {
	return a.Breakdown(s).Score
}

// sum adds the group weight of every keyword found in text. Each keyword
// counts at most once however often it occurs.
func (t Table) sum(text string) (float64, int) {
	var total float64
	var matched int
	for _, g := range t.Groups {
		for _, kw := range g.Keywords {
			if strings.Contains(text, kw) {
				total += g.Weight
				matched++
			}
		}
	}
	return total, matched
}

func (t Table) contribution(text string) float64 {
	total, _ := t.sum(text)
	return math.Min(total, t.Ceiling)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
