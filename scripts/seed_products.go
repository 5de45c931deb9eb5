// seed_products.go: standalone script to load a YAML product catalog into the Ecolojia API.
//
// Usage:
//
//	go run scripts/seed_products.go -file scripts/products.yaml -api http://localhost:3000 -token $ECOLOJIA_ADMIN_TOKEN -rescore
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"

	"gopkg.in/yaml.v3"
)

type price struct {
	Amount   float64 `yaml:"amount" json:"amount"`
	Currency string  `yaml:"currency" json:"currency"`
}

type product struct {
	Title        string           `yaml:"title" json:"title"`
	Description  string           `yaml:"description" json:"description"`
	Brand        string           `yaml:"brand" json:"brand,omitempty"`
	Category     string           `yaml:"category" json:"category,omitempty"`
	Tags         []string         `yaml:"tags" json:"tags,omitempty"`
	Images       []string         `yaml:"images" json:"images,omitempty"`
	ZonesDispo   []string         `yaml:"zones_dispo" json:"zones_dispo,omitempty"`
	Prices       map[string]price `yaml:"prices" json:"prices,omitempty"`
	AffiliateURL string           `yaml:"affiliate_url" json:"affiliate_url,omitempty"`
}

func main() {
	file := flag.String("file", "scripts/products.yaml", "path to the YAML catalog")
	apiURL := flag.String("api", "http://localhost:3000", "Ecolojia API base URL")
	token := flag.String("token", "", "admin token, used by -rescore")
	rescore := flag.Bool("rescore", false, "trigger a full eco score update after seeding")
	dryRun := flag.Bool("dry-run", false, "print products without posting")
	flag.Parse()

	data, err := os.ReadFile(*file)
	if err != nil {
		log.Fatalf("read catalog: %v", err)
	}
	var catalog struct {
		Products []product `yaml:"products"`
	}
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		log.Fatalf("parse catalog: %v", err)
	}

	log.Printf("parsed %d products from %s", len(catalog.Products), *file)

	if *dryRun {
		for i, p := range catalog.Products {
			fmt.Printf("[%d] %s (brand=%s, category=%s, tags=%v)\n", i+1, p.Title, p.Brand, p.Category, p.Tags)
		}
		return
	}

	client := &http.Client{}
	created, skipped := 0, 0
	for _, p := range catalog.Products {
		body, _ := json.Marshal(p)
		resp, err := client.Post(*apiURL+"/api/products", "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("skip %q: %v", p.Title, err)
			skipped++
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusCreated {
			created++
		} else {
			log.Printf("skip %q: status %d", p.Title, resp.StatusCode)
			skipped++
		}
	}

	log.Printf("done: %d created, %d skipped", created, skipped)

	if !*rescore {
		return
	}
	req, err := http.NewRequest("POST", *apiURL+"/api/eco-score/update-all", nil)
	if err != nil {
		log.Fatalf("rescore: %v", err)
	}
	if *token != "" {
		req.Header.Set("Authorization", "Bearer "+*token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("rescore: %v", err)
	}
	defer resp.Body.Close()

	var result struct {
		Stats struct {
			Updated int `json:"updated"`
			Errors  int `json:"errors"`
		} `json:"stats"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Fatalf("rescore: status %d: %v", resp.StatusCode, err)
	}
	log.Printf("rescore: status %d, %d updated, %d errors", resp.StatusCode, result.Stats.Updated, result.Stats.Errors)
}
