package datastore

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go/jetstream"

	govotel "github.com/Strob0t/personagov/internal/adapter/otel"
)

// KeyValue returns the configured JetStream KV bucket.
func (m *Manager) KeyValue() (jetstream.KeyValue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.kv == nil {
		return nil, ErrNotInitialized
	}
	return m.kv, nil
}

// KV runs fn against the configured bucket with the same accounting as Do.
// A missing key is not counted as a failure.
func (m *Manager) KV(ctx context.Context, op string, fn func(ctx context.Context, kv jetstream.KeyValue) error) (err error) {
	kv, err := m.KeyValue()
	if err != nil {
		return err
	}
	return m.observeKV(ctx, op, kv, fn)
}

// observeKV runs fn against an arbitrary bucket with KV accounting.
func (m *Manager) observeKV(ctx context.Context, op string, kv jetstream.KeyValue, fn func(ctx context.Context, kv jetstream.KeyValue) error) (err error) {
	ctx, span := govotel.StartStoreSpan(ctx, StoreNATS, op)
	start := m.now()
	defer func() {
		counted := err
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			counted = nil
		}
		span.End()
		m.observe(ctx, StoreNATS, op, start, counted)
	}()
	return fn(ctx, kv)
}

// Bucket opens (creating when absent) another KV bucket on the same
// connection, for consumers that keep their own keyspace.
func (m *Manager) Bucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	m.mu.RLock()
	js := m.js
	m.mu.RUnlock()
	if js == nil {
		return nil, ErrNotInitialized
	}
	var kv jetstream.KeyValue
	err := m.observeKV(ctx, "bucket", nil, func(ctx context.Context, _ jetstream.KeyValue) error {
		var err error
		kv, err = js.CreateOrUpdateKeyValue(ctx, cfg)
		return err
	})
	return kv, err
}

// Bound returns a KV runner bound to bucket, for adapters that need the
// Manager's accounting on a bucket other than the default.
func (m *Manager) Bound(kv jetstream.KeyValue) KVRunner {
	return func(ctx context.Context, op string, fn func(ctx context.Context, kv jetstream.KeyValue) error) error {
		return m.observeKV(ctx, op, kv, fn)
	}
}

// KVRunner runs fn against a bucket with store accounting.
type KVRunner func(ctx context.Context, op string, fn func(ctx context.Context, kv jetstream.KeyValue) error) error
