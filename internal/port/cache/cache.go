// Package cache defines the port interface for caching.
package cache

import (
	"context"
	"strings"
	"time"
)

// Cache is the port interface for key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Key joins parts into a dotted cache key ("persona_type.<id>"). Dots are
// the token separator accepted by JetStream KV keys.
func Key(parts ...string) string {
	return strings.Join(parts, ".")
}
