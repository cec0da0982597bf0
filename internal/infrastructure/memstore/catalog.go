package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/precofacil/catalog/internal/domain"
)

// Catalog is an in-memory CatalogRepository used by tests and
// single-binary runs without a database. It mirrors the Postgres
// store's semantics, including the normalized-name uniqueness rule.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]*domain.GenericProduct             // by id
	byNorm   map[string]string                             // normalized name -> id
	rollups  map[string]*domain.EstablishmentProduct       // genericID+"|"+establishmentID
	raw      []domain.RawProductObservation                // batch-path snapshot
	audit    []domain.MatchAuditEntry
}

// NewCatalog creates an empty in-memory catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		products: make(map[string]*domain.GenericProduct),
		byNorm:   make(map[string]string),
		rollups:  make(map[string]*domain.EstablishmentProduct),
	}
}

// GetByDescription matches the raw string against canonical and
// alternative descriptions.
func (c *Catalog) GetByDescription(ctx context.Context, description string) (*domain.GenericProduct, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Stable id order keeps lookups deterministic when descriptions are
	// duplicated across products by concurrent creation.
	for _, id := range c.sortedIDs() {
		if c.products[id].HasDescription(description) {
			return cloneProduct(c.products[id]), nil
		}
	}
	return nil, domain.ErrProductNotFound
}

// GetByNormalizedName returns the product owning a normalized name.
func (c *Catalog) GetByNormalizedName(ctx context.Context, name string) (*domain.GenericProduct, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byNorm[name]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return cloneProduct(c.products[id]), nil
}

// TopByOccurrences returns up to limit products, most frequent first,
// id ascending on ties.
func (c *Catalog) TopByOccurrences(ctx context.Context, limit int) ([]*domain.GenericProduct, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	all := make([]*domain.GenericProduct, 0, len(c.products))
	for _, p := range c.products {
		all = append(all, cloneProduct(p))
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].TotalOccurrences != all[j].TotalOccurrences {
			return all[i].TotalOccurrences > all[j].TotalOccurrences
		}
		return all[i].ID < all[j].ID
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Insert stores a new product, enforcing normalized-name uniqueness.
func (c *Catalog) Insert(ctx context.Context, product *domain.GenericProduct) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if product.NormalizedName != "" {
		if _, taken := c.byNorm[product.NormalizedName]; taken {
			return domain.ErrDuplicateProduct
		}
	}
	c.products[product.ID] = cloneProduct(product)
	if product.NormalizedName != "" {
		c.byNorm[product.NormalizedName] = product.ID
	}
	return nil
}

// Update replaces the stored product state.
func (c *Catalog) Update(ctx context.Context, product *domain.GenericProduct) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.products[product.ID]; !ok {
		return domain.ErrProductNotFound
	}
	c.products[product.ID] = cloneProduct(product)
	return nil
}

// GetEstablishmentProduct returns the rollup row for one establishment.
func (c *Catalog) GetEstablishmentProduct(ctx context.Context, genericID, establishmentID string) (*domain.EstablishmentProduct, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ep, ok := c.rollups[genericID+"|"+establishmentID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	clone := *ep
	return &clone, nil
}

// UpsertEstablishmentProduct creates or replaces the rollup row.
func (c *Catalog) UpsertEstablishmentProduct(ctx context.Context, ep *domain.EstablishmentProduct) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	clone := *ep
	c.rollups[ep.GenericProductID+"|"+ep.EstablishmentID] = &clone
	return nil
}

// ListRawProducts returns the loaded raw line-item snapshot.
func (c *Catalog) ListRawProducts(ctx context.Context) ([]domain.RawProductObservation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.RawProductObservation(nil), c.raw...), nil
}

// LoadRawProducts seeds the batch-path snapshot.
func (c *Catalog) LoadRawProducts(observations []domain.RawProductObservation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.raw = append([]domain.RawProductObservation(nil), observations...)
}

// RecordMatch appends one similarity-match audit record.
func (c *Catalog) RecordMatch(ctx context.Context, entry domain.MatchAuditEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audit = append(c.audit, entry)
	return nil
}

// AuditEntries returns a copy of the audit log for quality reports.
func (c *Catalog) AuditEntries() []domain.MatchAuditEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.MatchAuditEntry(nil), c.audit...)
}

func (c *Catalog) sortedIDs() []string {
	ids := make([]string, 0, len(c.products))
	for id := range c.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func cloneProduct(p *domain.GenericProduct) *domain.GenericProduct {
	clone := *p
	clone.AlternativeDescriptions = append([]string(nil), p.AlternativeDescriptions...)
	clone.Embedding = append([]float32(nil), p.Embedding...)
	clone.AvgPrice = clonePtr(p.AvgPrice)
	clone.MinPrice = clonePtr(p.MinPrice)
	clone.MaxPrice = clonePtr(p.MaxPrice)
	clone.PriceVariance = clonePtr(p.PriceVariance)
	return &clone
}

func clonePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

var (
	_ domain.CatalogRepository = (*Catalog)(nil)
	_ domain.AuditLog          = (*Catalog)(nil)
)
