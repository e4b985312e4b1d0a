// Package natskv implements the cache port and the active task counter on
// NATS JetStream KV.
package natskv

import (
	"context"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/personagov/internal/adapter/datastore"
)

// Cache wraps a NATS JetStream KeyValue bucket as an L2 cache. Every call is
// counted by the connection manager.
type Cache struct {
	run datastore.KVRunner
}

// New creates a NATS KV-backed cache on the bucket bound to run.
func New(run datastore.KVRunner) *Cache {
	return &Cache{run: run}
}

// Get retrieves a value from the NATS KV store.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	err = c.run(ctx, "cache_get", func(ctx context.Context, kv jetstream.KeyValue) error {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			return err
		}
		data, ok = entry.Value(), true
		return nil
	})
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, false, nil
	}
	return data, ok, err
}

// Set stores a value in the NATS KV store. TTL is managed at bucket level.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	return c.run(ctx, "cache_set", func(ctx context.Context, kv jetstream.KeyValue) error {
		_, err := kv.Put(ctx, key, value)
		return err
	})
}

// Delete removes a value from the NATS KV store.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.run(ctx, "cache_delete", func(ctx context.Context, kv jetstream.KeyValue) error {
		return kv.Delete(ctx, key)
	})
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
