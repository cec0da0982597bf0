package domain

import (
	"context"
	"time"
)

// CacheRepository defines the interface for caching operations
type CacheRepository interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// CatalogRepository defines the interface for the generic product store.
// Access is by parameterized queries over generic_products,
// establishment_products and the raw products source tables.
type CatalogRepository interface {
	// GetByDescription returns the product whose canonical description or
	// any alternative description equals the raw input verbatim.
	GetByDescription(ctx context.Context, description string) (*GenericProduct, error)

	// GetByNormalizedName returns the product with the given normalized name.
	GetByNormalizedName(ctx context.Context, name string) (*GenericProduct, error)

	// TopByOccurrences returns up to limit products ordered by
	// total_occurrences descending, id ascending for a stable order.
	TopByOccurrences(ctx context.Context, limit int) ([]*GenericProduct, error)

	// Insert stores a new generic product. Returns ErrDuplicateProduct when
	// the normalized name is already taken by a concurrent writer.
	Insert(ctx context.Context, product *GenericProduct) error

	// Update persists mutations to an existing generic product.
	Update(ctx context.Context, product *GenericProduct) error

	// GetEstablishmentProduct returns the per-establishment rollup, or
	// ErrProductNotFound when this establishment has not seen the product.
	GetEstablishmentProduct(ctx context.Context, genericID, establishmentID string) (*EstablishmentProduct, error)

	// UpsertEstablishmentProduct creates or replaces the rollup row.
	UpsertEstablishmentProduct(ctx context.Context, ep *EstablishmentProduct) error

	// ListRawProducts streams the raw line-item snapshot consumed by the
	// batch deduplication path.
	ListRawProducts(ctx context.Context) ([]RawProductObservation, error)
}

// AuditLog is the append-only sink for similarity-match records.
type AuditLog interface {
	RecordMatch(ctx context.Context, entry MatchAuditEntry) error
}

// EmbeddingModel is a name-indexed encode capability. Encode must be
// stable (same text, same vector) and return a fixed dimension.
type EmbeddingModel interface {
	Name() string
	Dimension() int
	Encode(ctx context.Context, text string) ([]float32, error)
}

// Embedder produces ensemble embeddings for descriptions. Batch calls
// preserve input order in the output.
type Embedder interface {
	Embed(ctx context.Context, text string) EmbeddingVector
	EmbedBatch(ctx context.Context, texts []string) []EmbeddingVector
}
