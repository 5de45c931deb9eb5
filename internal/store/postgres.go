package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate creates the tables if they are missing. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const productColumns = `id, title, description, slug, brand, category,
	tags, images, image_url, zones_dispo, prices, affiliate_url,
	eco_score, ai_confidence, confidence_pct, confidence_color, verified_status,
	resume_fr, resume_en,
	enriched_at, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	p := &Product{}
	var brand, category, imageURL, affiliateURL sql.NullString
	var confidenceColor, resumeFR, resumeEN sql.NullString
	var pricesJSON []byte

	err := row.Scan(
		&p.ID, &p.Title, &p.Description, &p.Slug, &brand, &category,
		&p.Tags, &p.Images, &imageURL, &p.ZonesDispo, &pricesJSON, &affiliateURL,
		&p.EcoScore, &p.AIConfidence, &p.ConfidencePct, &confidenceColor, &p.VerifiedStatus,
		&resumeFR, &resumeEN,
		&p.EnrichedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Brand = brand.String
	p.Category = category.String
	p.ImageURL = imageURL.String
	p.AffiliateURL = affiliateURL.String
	p.ConfidenceColor = ConfidenceColor(confidenceColor.String)
	p.ResumeFR = resumeFR.String
	p.ResumeEN = resumeEN.String
	if pricesJSON != nil {
		p.Prices = json.RawMessage(pricesJSON)
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	return p, nil
}

func scanProducts(rows pgx.Rows) ([]*Product, error) {
	var products []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	var pricesJSON []byte
	if len(p.Prices) > 0 {
		pricesJSON = []byte(p.Prices)
	}
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	if len(p.ZonesDispo) == 0 {
		p.ZonesDispo = []string{"FR"}
	}
	if p.VerifiedStatus == "" {
		p.VerifiedStatus = VerifiedStatusManualReview
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO products (id, title, description, slug, brand, category,
			tags, images, image_url, zones_dispo, prices, affiliate_url,
			eco_score, ai_confidence, confidence_pct, confidence_color, verified_status,
			resume_fr, resume_en, enriched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING created_at, updated_at`,
		p.ID, p.Title, p.Description, p.Slug, nullIfEmpty(p.Brand), nullIfEmpty(p.Category),
		p.Tags, p.Images, nullIfEmpty(p.ImageURL), p.ZonesDispo, pricesJSON, nullIfEmpty(p.AffiliateURL),
		p.EcoScore, p.AIConfidence, p.ConfidencePct, nullIfEmpty(string(p.ConfidenceColor)), p.VerifiedStatus,
		nullIfEmpty(p.ResumeFR), nullIfEmpty(p.ResumeEN), p.EnrichedAt,
	).Scan(&p.CreatedAt, &p.UpdatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("product slug %q: %w", p.Slug, ErrConflict)
	}
	return err
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `
		SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.attachLinks(ctx, []*Product{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) GetProductBySlug(ctx context.Context, slug string) (*Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `
		SELECT `+productColumns+` FROM products WHERE slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("product slug %s: %w", slug, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if err := s.attachLinks(ctx, []*Product{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]*Product, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+productColumns+` FROM products ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products, err := scanProducts(rows)
	if err != nil {
		return nil, err
	}
	return products, s.attachLinks(ctx, products)
}

func (s *PostgresStore) SearchProducts(ctx context.Context, filter ProductFilter) ([]*Product, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	n := 0

	if filter.Query != "" {
		n++
		where += fmt.Sprintf(" AND (title ILIKE $%d OR description ILIKE $%d OR brand ILIKE $%d)", n, n, n)
		args = append(args, "%"+filter.Query+"%")
	}
	if filter.Category != "" {
		n++
		where += fmt.Sprintf(" AND category = $%d", n)
		args = append(args, filter.Category)
	}
	if filter.VerifiedOnly {
		n++
		where += fmt.Sprintf(" AND verified_status = $%d", n)
		args = append(args, string(VerifiedStatusVerified))
	}
	if filter.EcoMin != nil {
		n++
		where += fmt.Sprintf(" AND eco_score >= $%d", n)
		args = append(args, *filter.EcoMin)
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + productColumns + ` FROM products` + where +
		` ORDER BY verified_status = 'verified' DESC, eco_score DESC NULLS LAST, created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	n++
	query += fmt.Sprintf(" LIMIT $%d", n)
	args = append(args, limit)

	if filter.Offset > 0 {
		n++
		query += fmt.Sprintf(" OFFSET $%d", n)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	products, err := scanProducts(rows)
	if err != nil {
		return nil, 0, err
	}
	if err := s.attachLinks(ctx, products); err != nil {
		return nil, 0, err
	}
	return products, total, nil
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, id string, patch *ProductPatch) (*Product, error) {
	var pricesJSON []byte
	if len(patch.Prices) > 0 {
		pricesJSON = []byte(patch.Prices)
	}
	var confidenceColor, verifiedStatus *string
	if patch.ConfidenceColor != nil {
		v := string(*patch.ConfidenceColor)
		confidenceColor = &v
	}
	if patch.VerifiedStatus != nil {
		v := string(*patch.VerifiedStatus)
		verifiedStatus = &v
	}

	p, err := scanProduct(s.pool.QueryRow(ctx, `
		UPDATE products SET
			title = COALESCE($2, title),
			description = COALESCE($3, description),
			slug = COALESCE($4, slug),
			brand = COALESCE($5, brand),
			category = COALESCE($6, category),
			tags = COALESCE($7, tags),
			images = COALESCE($8, images),
			image_url = COALESCE($9, image_url),
			zones_dispo = COALESCE($10, zones_dispo),
			prices = COALESCE($11::jsonb, prices),
			affiliate_url = COALESCE($12, affiliate_url),
			confidence_color = COALESCE($13, confidence_color),
			verified_status = COALESCE($14, verified_status),
			resume_fr = COALESCE($15, resume_fr),
			resume_en = COALESCE($16, resume_en),
			updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		id, patch.Title, patch.Description, patch.Slug, patch.Brand, patch.Category,
		stringSliceArg(patch.Tags), stringSliceArg(patch.Images), patch.ImageURL, stringSliceArg(patch.ZonesDispo),
		pricesJSON, patch.AffiliateURL, confidenceColor, verifiedStatus,
		patch.ResumeFR, patch.ResumeEN,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil, fmt.Errorf("product slug: %w", ErrConflict)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// stringSliceArg turns an absent slice into a SQL NULL so COALESCE keeps the
// stored value.
func stringSliceArg(v *[]string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListProductIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM products ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateEcoScore writes only the scoring columns; concurrent writers to other
// columns are not clobbered.
func (s *PostgresStore) UpdateEcoScore(ctx context.Context, id string, u EcoScoreUpdate) (*Product, error) {
	p, err := scanProduct(s.pool.QueryRow(ctx, `
		UPDATE products SET
			eco_score = $2, ai_confidence = $3, confidence_pct = $4,
			enriched_at = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns,
		id, u.EcoScore, u.AIConfidence, u.ConfidencePct, u.EnrichedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) GetProductStats(ctx context.Context) (*ProductStats, error) {
	stats := &ProductStats{TopCategories: []CategoryCount{}}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN verified_status = 'verified' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(eco_score), 0)
		FROM products`,
	).Scan(&stats.Total, &stats.Verified, &stats.AverageEcoScore)
	if err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.VerificationRate = int(float64(stats.Verified)/float64(stats.Total)*100 + 0.5)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT COALESCE(category, ''), COUNT(*) AS n
		FROM products GROUP BY category
		ORDER BY n DESC LIMIT 5`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		stats.TopCategories = append(stats.TopCategories, c)
	}
	return stats, rows.Err()
}

func (s *PostgresStore) GetEcoScoreStats(ctx context.Context, since time.Time) (*EcoScoreStats, error) {
	stats := &EcoScoreStats{Distribution: []ScoreBucket{}, RecentUpdates: []*ScoredEntry{}}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*), COALESCE(AVG(eco_score), 0) FROM products`,
	).Scan(&stats.TotalProducts, &stats.AverageScore)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT
			CASE
				WHEN eco_score >= 0.8 THEN 'Excellent (80-100%)'
				WHEN eco_score >= 0.6 THEN 'Very good (60-79%)'
				WHEN eco_score >= 0.4 THEN 'Good (40-59%)'
				WHEN eco_score >= 0.2 THEN 'Average (20-39%)'
				ELSE 'Low (0-19%)'
			END AS score_range,
			COUNT(*)
		FROM products
		WHERE eco_score IS NOT NULL
		GROUP BY score_range
		ORDER BY MIN(eco_score) DESC`)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var b ScoreBucket
		if err := rows.Scan(&b.Range, &b.Count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.Distribution = append(stats.Distribution, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	recent, err := s.pool.Query(ctx, `
		SELECT id, title, eco_score, enriched_at
		FROM products WHERE enriched_at >= $1
		ORDER BY enriched_at DESC LIMIT 10`, since)
	if err != nil {
		return nil, err
	}
	defer recent.Close()
	for recent.Next() {
		e := &ScoredEntry{}
		if err := recent.Scan(&e.ID, &e.Title, &e.EcoScore, &e.EnrichedAt); err != nil {
			return nil, err
		}
		stats.RecentUpdates = append(stats.RecentUpdates, e)
	}
	return stats, recent.Err()
}

// --- Affiliate tracking ---

func (s *PostgresStore) CreatePartner(ctx context.Context, p *Partner) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO partners (id, name, website) VALUES ($1, $2, $3)
		RETURNING created_at`,
		p.ID, p.Name, nullIfEmpty(p.Website),
	).Scan(&p.CreatedAt)
}

func (s *PostgresStore) GetPartner(ctx context.Context, id string) (*Partner, error) {
	p := &Partner{}
	var website sql.NullString
	err := s.pool.QueryRow(ctx, `
		SELECT pa.id, pa.name, pa.website, COUNT(pl.id), pa.created_at
		FROM partners pa
		LEFT JOIN partner_links pl ON pl.partner_id = pa.id
		WHERE pa.id = $1
		GROUP BY pa.id`, id,
	).Scan(&p.ID, &p.Name, &website, &p.LinkCount, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("partner %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	p.Website = website.String
	return p, nil
}

func (s *PostgresStore) ListPartners(ctx context.Context) ([]*Partner, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pa.id, pa.name, pa.website, COUNT(pl.id), pa.created_at
		FROM partners pa
		LEFT JOIN partner_links pl ON pl.partner_id = pa.id
		GROUP BY pa.id
		ORDER BY pa.name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var partners []*Partner
	for rows.Next() {
		p := &Partner{}
		var website sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &website, &p.LinkCount, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Website = website.String
		partners = append(partners, p)
	}
	return partners, rows.Err()
}

func (s *PostgresStore) CreatePartnerLink(ctx context.Context, l *PartnerLink) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO partner_links (id, url, product_id, partner_id) VALUES ($1, $2, $3, $4)
		RETURNING clicks, created_at`,
		l.ID, l.URL, l.ProductID, l.PartnerID,
	).Scan(&l.Clicks, &l.CreatedAt)
}

func (s *PostgresStore) GetPartnerLink(ctx context.Context, id string) (*PartnerLink, error) {
	l := &PartnerLink{Partner: &Partner{}}
	var website sql.NullString
	err := s.pool.QueryRow(ctx, `
		SELECT pl.id, pl.url, pl.product_id, pl.partner_id, pl.clicks, pl.created_at,
			pa.id, pa.name, pa.website, pa.created_at
		FROM partner_links pl JOIN partners pa ON pa.id = pl.partner_id
		WHERE pl.id = $1`, id,
	).Scan(&l.ID, &l.URL, &l.ProductID, &l.PartnerID, &l.Clicks, &l.CreatedAt,
		&l.Partner.ID, &l.Partner.Name, &website, &l.Partner.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("partner link %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	l.Partner.Website = website.String
	return l, nil
}

// RecordClick stores the click and bumps the link counter in one transaction.
func (s *PostgresStore) RecordClick(ctx context.Context, c *ClickEvent) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, `
		INSERT INTO click_events (id, link_id, product_id, user_agent, referer, ip)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		c.ID, c.LinkID, c.ProductID, nullIfEmpty(c.UserAgent), nullIfEmpty(c.Referer), nullIfEmpty(c.IP),
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert click: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE partner_links SET clicks = clicks + 1 WHERE id = $1`, c.LinkID); err != nil {
		return fmt.Errorf("bump clicks: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) attachLinks(ctx context.Context, products []*Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]string, len(products))
	byID := make(map[string]*Product, len(products))
	for i, p := range products {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	rows, err := s.pool.Query(ctx, `
		SELECT pl.id, pl.url, pl.product_id, pl.partner_id, pl.clicks, pl.created_at,
			pa.id, pa.name, pa.website, pa.created_at
		FROM partner_links pl JOIN partners pa ON pa.id = pl.partner_id
		WHERE pl.product_id = ANY($1)
		ORDER BY pl.created_at ASC`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		l := &PartnerLink{Partner: &Partner{}}
		var website sql.NullString
		if err := rows.Scan(&l.ID, &l.URL, &l.ProductID, &l.PartnerID, &l.Clicks, &l.CreatedAt,
			&l.Partner.ID, &l.Partner.Name, &website, &l.Partner.CreatedAt); err != nil {
			return err
		}
		l.Partner.Website = website.String
		if p := byID[l.ProductID]; p != nil {
			p.PartnerLinks = append(p.PartnerLinks, l)
		}
	}
	return rows.Err()
}
