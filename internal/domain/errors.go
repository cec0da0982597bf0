package domain

import "errors"

var (
	// ErrInvalidRequest is returned when request parameters are invalid
	ErrInvalidRequest = errors.New("invalid request parameters")

	// ErrInvalidThreshold is returned when a similarity threshold is outside [0,1]
	ErrInvalidThreshold = errors.New("similarity threshold must be in [0,1]")

	// ErrProductNotFound is returned when no generic product matches a lookup
	ErrProductNotFound = errors.New("generic product not found")

	// ErrDuplicateProduct is returned when an insert collides with an existing
	// normalized name; callers re-resolve via exact match instead of failing
	ErrDuplicateProduct = errors.New("generic product already exists")

	// ErrCacheMiss is returned when data is not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrModelUnavailable is returned when an embedding model slot cannot
	// be initialized or its encode call fails
	ErrModelUnavailable = errors.New("embedding model unavailable")

	// ErrStoreUnavailable is returned when the catalog store is unreachable
	ErrStoreUnavailable = errors.New("catalog store unavailable")
)
