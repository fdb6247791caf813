package ports

import (
	"context"
	"time"
)

// Cache is a key/value store for serialised snapshots with per-entry expiry.
type Cache interface {
	// Get reports ok=false when the key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
