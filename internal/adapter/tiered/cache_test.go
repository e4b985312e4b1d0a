package tiered_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Strob0t/personagov/internal/adapter/tiered"
	"github.com/Strob0t/personagov/internal/port/cache"
)

// memCache is a simple in-memory cache for testing.
type memCache struct {
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

var typeKey = cache.Key("persona_type", "software-architect")

func TestTiered_L1Hit(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	l1.data[typeKey] = []byte("val1")

	val, found, err := c.Get(ctx, typeKey)
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L1 hit")
	}
	if string(val) != "val1" {
		t.Fatalf("expected val1, got %s", val)
	}
}

func TestTiered_L2HitWithBackfill(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	l2.data[typeKey] = []byte("val2")

	val, found, err := c.Get(ctx, typeKey)
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "val2" {
		t.Fatalf("Get() = %s, %v; want val2 hit", val, found)
	}

	if string(l1.data[typeKey]) != "val2" {
		t.Fatal("expected L1 backfill")
	}
	if l1.ttls[typeKey] != 5*time.Minute {
		t.Errorf("backfill ttl = %v, want 5m", l1.ttls[typeKey])
	}
}

func TestTiered_Miss(t *testing.T) {
	c := tiered.New(newMemCache(), newMemCache(), 5*time.Minute)

	_, found, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestTiered_L2ErrorIsMiss(t *testing.T) {
	l2 := newMemCache()
	l2.err = errors.New("nats: connection closed")
	c := tiered.New(newMemCache(), l2, time.Minute)

	_, found, err := c.Get(context.Background(), typeKey)
	if err != nil {
		t.Fatalf("expected L2 failure to degrade to a miss, got %v", err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestTiered_SetBoth(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, typeKey, []byte("val3"), 10*time.Minute); err != nil {
		t.Fatal(err)
	}

	if _, ok := l1.data[typeKey]; !ok {
		t.Fatal("expected key in L1")
	}
	if _, ok := l2.data[typeKey]; !ok {
		t.Fatal("expected key in L2")
	}
	if l1.ttls[typeKey] != 5*time.Minute {
		t.Errorf("L1 ttl = %v, want capped at 5m", l1.ttls[typeKey])
	}
	if l2.ttls[typeKey] != 10*time.Minute {
		t.Errorf("L2 ttl = %v, want 10m", l2.ttls[typeKey])
	}
}

func TestTiered_SetL2Failure(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	l2.err = errors.New("boom")
	c := tiered.New(l1, l2, time.Minute)

	if err := c.Set(context.Background(), typeKey, []byte("v"), time.Minute); err == nil {
		t.Fatal("expected L2 error")
	}
	if _, ok := l1.data[typeKey]; !ok {
		t.Fatal("expected L1 written before L2 failure")
	}
}

func TestTiered_DeleteBoth(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	l1.data[typeKey] = []byte("val4")
	l2.data[typeKey] = []byte("val4")

	if err := c.Delete(ctx, typeKey); err != nil {
		t.Fatal(err)
	}

	if _, ok := l1.data[typeKey]; ok {
		t.Fatal("expected key deleted from L1")
	}
	if _, ok := l2.data[typeKey]; ok {
		t.Fatal("expected key deleted from L2")
	}
}
