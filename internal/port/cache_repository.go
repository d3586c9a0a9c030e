package port

import "context"

type CacheRepository interface {
	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key so a failed request can be retried
	ReleaseIdempotency(ctx context.Context, key string) error

	// SetStockStatus caches a product's derived in-stock flag
	SetStockStatus(ctx context.Context, productID string, inStock bool) error

	// GetStockStatuses returns cached flags; ids without an entry are omitted
	GetStockStatuses(ctx context.Context, productIDs []string) (map[string]bool, error)
}
