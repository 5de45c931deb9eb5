package ecoscore

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Group is a set of keywords sharing one weight, e.g. the "excellent" tier of
// the materials table.
type Group struct {
	Name     string   `yaml:"name"`
	Weight   float64  `yaml:"weight"`
	Keywords []string `yaml:"keywords"`
}

// Table is one analyzer's keyword groups and the ceiling its contribution is
// clamped to.
type Table struct {
	Ceiling float64 `yaml:"ceiling"`
	Groups  []Group `yaml:"groups"`
}

// CertificationTable adds the multi-match bonuses: PairBonus once two
// distinct certifications match, TrioBonus on top once three do.
type CertificationTable struct {
	Table     `yaml:",inline"`
	PairBonus float64 `yaml:"pair_bonus"`
	TrioBonus float64 `yaml:"trio_bonus"`
}

type SignalTables struct {
	Materials      Table              `yaml:"materials"`
	Certifications CertificationTable `yaml:"certifications"`
	Origin         Table              `yaml:"origin"`
	Durability     Table              `yaml:"durability"`
	Penalties      Table              `yaml:"penalties"`
}

// DefaultTables returns the built-in French keyword tables. Each call returns
// a fresh copy.
func DefaultTables() SignalTables {
	return SignalTables{
		Materials: Table{
			Ceiling: 0.30,
			Groups: []Group{
				{Name: "excellent", Weight: 0.05, Keywords: []string{
					"bio", "biologique", "organic", "bambou", "chanvre", "lin", "coton bio",
					"recyclé", "upcyclé", "compostable", "biodégradable",
				}},
				{Name: "good", Weight: 0.03, Keywords: []string{
					"naturel", "végétal", "bois", "liège", "fibres naturelles",
					"sans plastique", "zéro déchet", "réutilisable",
				}},
				{Name: "ok", Weight: 0.01, Keywords: []string{
					"durable", "écologique", "responsable", "éthique", "local", "artisanal", "fait main",
				}},
			},
		},
		Certifications: CertificationTable{
			Table: Table{
				Ceiling: 0.20,
				Groups: []Group{
					{Name: "labels", Weight: 0.04, Keywords: []string{
						"ecocert", "ab", "cosmebio", "natrue", "bdih", "usda organic", "demeter",
						"fair trade", "commerce équitable", "cradle to cradle", "fsc", "pefc",
						"eu ecolabel", "soil association", "cosmos", "icea",
					}},
				},
			},
			PairBonus: 0.02,
			TrioBonus: 0.02,
		},
		Origin: Table{
			Ceiling: 0.15,
			Groups: []Group{
				{Name: "domestic", Weight: 0.05, Keywords: []string{
					"france", "français", "made in france", "fabrication française",
					"artisan français", "produit français",
				}},
				{Name: "regional", Weight: 0.03, Keywords: []string{
					"europe", "européen", "local", "région", "artisanal", "circuit court", "proximité",
				}},
				{Name: "transport", Weight: 0.02, Keywords: []string{
					"transport vert", "livraison écologique", "carbone neutre", "compensé carbone",
				}},
			},
		},
		Durability: Table{
			Ceiling: 0.10,
			Groups: []Group{
				{Name: "durability", Weight: 0.015, Keywords: []string{
					"durable", "longue durée", "résistant", "qualité", "garantie", "réparable",
					"modulaire", "intemporel", "robuste", "solide", "longue vie",
				}},
			},
		},
		Penalties: Table{
			Ceiling: 0.25,
			Groups: []Group{
				{Name: "bad_materials", Weight: 0.05, Keywords: []string{
					"plastique", "polyester", "acrylique", "nylon", "pvc", "polystyrène", "pétrochimique",
				}},
				{Name: "bad_practices", Weight: 0.03, Keywords: []string{
					"jetable", "usage unique", "suremballé", "non recyclable", "toxique", "chimique",
				}},
				{Name: "distant_origins", Weight: 0.02, Keywords: []string{
					"chine", "bangladesh", "vietnam", "importé", "transport longue distance",
				}},
			},
		},
	}
}

// LoadTables reads signal tables from a YAML file. Tables missing from the
// file keep their defaults. Keywords are lowercased on load.
func LoadTables(path string) (SignalTables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SignalTables{}, fmt.Errorf("read signal tables: %w", err)
	}
	return ParseTables(data)
}

func ParseTables(data []byte) (SignalTables, error) {
	var raw SignalTables
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return SignalTables{}, fmt.Errorf("parse signal tables: %w", err)
	}

	t := DefaultTables()
	if len(raw.Materials.Groups) > 0 {
		t.Materials = raw.Materials
	}
	if len(raw.Certifications.Groups) > 0 {
		t.Certifications = raw.Certifications
	}
	if len(raw.Origin.Groups) > 0 {
		t.Origin = raw.Origin
	}
	if len(raw.Durability.Groups) > 0 {
		t.Durability = raw.Durability
	}
	if len(raw.Penalties.Groups) > 0 {
		t.Penalties = raw.Penalties
	}

	t.lowercase()
	if err := t.Validate(); err != nil {
		return SignalTables{}, err
	}
	return t, nil
}

// Validate checks that every ceiling is positive and no weight is negative.
func (t SignalTables) Validate() error {
	if t.Certifications.PairBonus < 0 || t.Certifications.TrioBonus < 0 {
		return fmt.Errorf("certifications: negative bonus")
	}
	for name, tbl := range t.named() {
		if tbl.Ceiling <= 0 {
			return fmt.Errorf("%s: ceiling must be positive, got %f", name, tbl.Ceiling)
		}
		for _, g := range tbl.Groups {
			if g.Weight < 0 {
				return fmt.Errorf("%s/%s: negative weight: %f", name, g.Name, g.Weight)
			}
			for _, kw := range g.Keywords {
				if strings.TrimSpace(kw) == "" {
					return fmt.Errorf("%s/%s: empty keyword", name, g.Name)
				}
			}
		}
	}
	return nil
}

func (t SignalTables) named() map[string]Table {
	return map[string]Table{
		"materials":      t.Materials,
		"certifications": t.Certifications.Table,
		"origin":         t.Origin,
		"durability":     t.Durability,
		"penalties":      t.Penalties,
	}
}

func (t *SignalTables) lowercase() {
	for _, tbl := range []*Table{&t.Materials, &t.Certifications.Table, &t.Origin, &t.Durability, &t.Penalties} {
		for i := range tbl.Groups {
			for j, kw := range tbl.Groups[i].Keywords {
				tbl.Groups[i].Keywords[j] = strings.ToLower(kw)
			}
		}
	}
}
