package datastore

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const probeTimeout = 5 * time.Second

// HealthCheck probes every store concurrently and reports which answered.
// A disabled graph store reports false. Probe failures are logged, never
// returned.
func (m *Manager) HealthCheck(ctx context.Context) map[string]bool {
	m.mu.RLock()
	pool, nc, g := m.pool, m.nc, m.graph
	m.mu.RUnlock()

	var mu sync.Mutex
	result := map[string]bool{
		StorePostgres: false,
		StoreNATS:     false,
		StoreGraph:    false,
	}
	set := func(store string, err error) {
		if err != nil {
			m.log.WarnContext(ctx, "health probe failed", "store", store, "error", err)
		}
		mu.Lock()
		result[store] = err == nil
		mu.Unlock()
	}

	var eg errgroup.Group
	if pool != nil {
		eg.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			set(StorePostgres, pool.Ping(pctx))
			return nil
		})
	}
	if nc != nil {
		eg.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			set(StoreNATS, nc.FlushWithContext(pctx))
			return nil
		})
	}
	if g != nil {
		eg.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, probeTimeout)
			defer cancel()
			set(StoreGraph, g.Verify(pctx))
			return nil
		})
	}
	_ = eg.Wait()
	return result
}

// Healthy reports whether the required stores answered. The graph store is
// optional and does not count.
func Healthy(h map[string]bool) bool {
	return h[StorePostgres] && h[StoreNATS]
}
