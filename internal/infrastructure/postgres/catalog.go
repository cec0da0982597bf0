package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/precofacil/catalog/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// Store implements the catalog repository and the audit log over
// PostgreSQL with parameterized queries. When the pgvector extension is
// available, generic-product ensemble vectors are kept in an
// embedding_vec column as well.
type Store struct {
	db                *sql.DB
	pgvectorAvailable bool
	dimension         int
}

// NewStore creates a store over an open database handle.
func NewStore(db *sql.DB, embeddingDimension int) *Store {
	return &Store{db: db, dimension: embeddingDimension}
}

// InitSchema creates the catalog tables and attempts to enable the
// pgvector column. A missing extension degrades vector persistence,
// never the store itself.
func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("creating catalog schema: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		log.Printf("[STORE] pgvector extension unavailable, embeddings stay in memory only: %v", err)
		return nil
	}
	alter := fmt.Sprintf(
		`ALTER TABLE generic_products ADD COLUMN IF NOT EXISTS embedding_vec vector(%d)`, s.dimension)
	if _, err := s.db.ExecContext(ctx, alter); err != nil {
		log.Printf("[STORE] could not add embedding_vec column: %v", err)
		return nil
	}
	s.pgvectorAvailable = true
	return nil
}

const productColumns = `id, canonical_description, alternative_descriptions, normalized_name,
	category, brand, unit, confidence_score, total_occurrences, establishments_count,
	avg_price, min_price, max_price, price_variance, first_seen, last_seen`

// GetByDescription matches the raw string verbatim against the
// canonical description or any alternative.
func (s *Store) GetByDescription(ctx context.Context, description string) (*domain.GenericProduct, error) {
	query := `SELECT ` + productColumns + `
		FROM generic_products
		WHERE canonical_description = $1 OR $1 = ANY(alternative_descriptions)
		ORDER BY id
		LIMIT 1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, description))
}

// GetByNormalizedName returns the product owning a normalized name.
func (s *Store) GetByNormalizedName(ctx context.Context, name string) (*domain.GenericProduct, error) {
	query := `SELECT ` + productColumns + ` FROM generic_products WHERE normalized_name = $1`
	return s.scanOne(s.db.QueryRowContext(ctx, query, name))
}

// TopByOccurrences returns the most frequent products in stable order.
func (s *Store) TopByOccurrences(ctx context.Context, limit int) ([]*domain.GenericProduct, error) {
	query := `SELECT ` + productColumns + `
		FROM generic_products
		ORDER BY total_occurrences DESC, id ASC
		LIMIT $1`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var products []*domain.GenericProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// Insert stores a new generic product. A unique violation on the
// normalized name maps to ErrDuplicateProduct so the matcher can
// re-resolve instead of failing.
func (s *Store) Insert(ctx context.Context, p *domain.GenericProduct) error {
	query := `INSERT INTO generic_products (` + productColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.CanonicalDescription, pq.Array(p.AlternativeDescriptions), p.NormalizedName,
		p.Category, p.Brand, p.Unit, p.ConfidenceScore, p.TotalOccurrences, p.EstablishmentsCount,
		p.AvgPrice, p.MinPrice, p.MaxPrice, p.PriceVariance, p.FirstSeen, p.LastSeen)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return domain.ErrDuplicateProduct
		}
		return fmt.Errorf("inserting generic product: %w", err)
	}

	s.storeEmbedding(ctx, p)
	return nil
}

// Update persists mutations to an existing product.
func (s *Store) Update(ctx context.Context, p *domain.GenericProduct) error {
	query := `UPDATE generic_products SET
			alternative_descriptions = $2,
			category = $3, brand = $4, unit = $5,
			confidence_score = $6, total_occurrences = $7, establishments_count = $8,
			avg_price = $9, min_price = $10, max_price = $11, price_variance = $12,
			last_seen = $13
		WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query,
		p.ID, pq.Array(p.AlternativeDescriptions),
		p.Category, p.Brand, p.Unit,
		p.ConfidenceScore, p.TotalOccurrences, p.EstablishmentsCount,
		p.AvgPrice, p.MinPrice, p.MaxPrice, p.PriceVariance,
		p.LastSeen)
	if err != nil {
		return fmt.Errorf("updating generic product: %w", err)
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return domain.ErrProductNotFound
	}

	s.storeEmbedding(ctx, p)
	return nil
}

// storeEmbedding persists the ensemble vector when pgvector is present.
// Best-effort: vector loss does not fail the write.
func (s *Store) storeEmbedding(ctx context.Context, p *domain.GenericProduct) {
	if !s.pgvectorAvailable || len(p.Embedding) == 0 {
		return
	}
	vec := p.Embedding
	if len(vec) > s.dimension {
		vec = vec[:s.dimension]
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE generic_products SET embedding_vec = $2 WHERE id = $1`,
		p.ID, pgvector.NewVector(vec))
	if err != nil {
		log.Printf("[STORE] warning: storing embedding for %s failed: %v", p.ID, err)
	}
}

// GetEstablishmentProduct returns one per-establishment rollup row.
func (s *Store) GetEstablishmentProduct(ctx context.Context, genericID, establishmentID string) (*domain.EstablishmentProduct, error) {
	query := `SELECT generic_product_id, establishment_id, local_description, product_code, unit,
			current_price, avg_price, min_price, max_price, occurrence_count, first_seen, last_seen
		FROM establishment_products
		WHERE generic_product_id = $1 AND establishment_id = $2`

	var ep domain.EstablishmentProduct
	err := s.db.QueryRowContext(ctx, query, genericID, establishmentID).Scan(
		&ep.GenericProductID, &ep.EstablishmentID, &ep.LocalDescription, &ep.ProductCode, &ep.Unit,
		&ep.CurrentPrice, &ep.AvgPrice, &ep.MinPrice, &ep.MaxPrice, &ep.OccurrenceCount,
		&ep.FirstSeen, &ep.LastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return &ep, nil
}

// UpsertEstablishmentProduct creates or replaces the rollup row.
func (s *Store) UpsertEstablishmentProduct(ctx context.Context, ep *domain.EstablishmentProduct) error {
	query := `INSERT INTO establishment_products
			(generic_product_id, establishment_id, local_description, product_code, unit,
			 current_price, avg_price, min_price, max_price, occurrence_count, first_seen, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (generic_product_id, establishment_id) DO UPDATE SET
			local_description = excluded.local_description,
			product_code = excluded.product_code,
			unit = excluded.unit,
			current_price = excluded.current_price,
			avg_price = excluded.avg_price,
			min_price = excluded.min_price,
			max_price = excluded.max_price,
			occurrence_count = excluded.occurrence_count,
			last_seen = excluded.last_seen`
	_, err := s.db.ExecContext(ctx, query,
		ep.GenericProductID, ep.EstablishmentID, ep.LocalDescription, ep.ProductCode, ep.Unit,
		ep.CurrentPrice, ep.AvgPrice, ep.MinPrice, ep.MaxPrice, ep.OccurrenceCount,
		ep.FirstSeen, ep.LastSeen)
	if err != nil {
		return fmt.Errorf("upserting establishment product: %w", err)
	}
	return nil
}

// ListRawProducts streams the raw line-item snapshot for the batch path.
func (s *Store) ListRawProducts(ctx context.Context) ([]domain.RawProductObservation, error) {
	query := `SELECT description, unit, unit_price, product_code, establishment_id
		FROM products
		ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var observations []domain.RawProductObservation
	for rows.Next() {
		var obs domain.RawProductObservation
		if err := rows.Scan(&obs.Description, &obs.Unit, &obs.UnitPrice, &obs.ProductCode, &obs.EstablishmentID); err != nil {
			return nil, fmt.Errorf("scanning raw product: %w", err)
		}
		observations = append(observations, obs)
	}
	return observations, rows.Err()
}

// RecordMatch appends one similarity-match record to the audit table.
func (s *Store) RecordMatch(ctx context.Context, entry domain.MatchAuditEntry) error {
	query := `INSERT INTO product_match_log
			(source_description, generic_product_id, similarity_score, establishment_id, matched_at)
		VALUES ($1,$2,$3,$4,$5)`
	_, err := s.db.ExecContext(ctx, query,
		entry.SourceDescription, entry.GenericProductID, entry.SimilarityScore,
		entry.EstablishmentID, entry.MatchedAt)
	if err != nil {
		return fmt.Errorf("appending match audit record: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanOne(row *sql.Row) (*domain.GenericProduct, error) {
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return p, nil
}

func scanProduct(row rowScanner) (*domain.GenericProduct, error) {
	var p domain.GenericProduct
	err := row.Scan(
		&p.ID, &p.CanonicalDescription, pq.Array(&p.AlternativeDescriptions), &p.NormalizedName,
		&p.Category, &p.Brand, &p.Unit, &p.ConfidenceScore, &p.TotalOccurrences, &p.EstablishmentsCount,
		&p.AvgPrice, &p.MinPrice, &p.MaxPrice, &p.PriceVariance, &p.FirstSeen, &p.LastSeen)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

var (
	_ domain.CatalogRepository = (*Store)(nil)
	_ domain.AuditLog          = (*Store)(nil)
)
