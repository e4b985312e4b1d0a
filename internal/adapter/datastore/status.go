package datastore

// PoolStatus is a snapshot of the relational pool.
type PoolStatus struct {
	MinSize      int32 `json:"min_size"`
	MaxSize      int32 `json:"max_size"`
	Total        int32 `json:"total"`
	Idle         int32 `json:"idle"`
	Acquired     int32 `json:"acquired"`
	AcquireCount int64 `json:"acquire_count"`
}

// StoreStatus holds the counters kept for one store.
type StoreStatus struct {
	Initialized bool  `json:"initialized"`
	Succeeded   int64 `json:"succeeded"`
	Failed      int64 `json:"failed"`
}

// Status is the pool-status introspection payload.
type Status struct {
	Postgres     StoreStatus `json:"postgres"`
	Pool         *PoolStatus `json:"pool,omitempty"`
	NATS         StoreStatus `json:"nats"`
	Graph        StoreStatus `json:"graph"`
	BreakerState string      `json:"graph_breaker"`
	SlowQueries  int64       `json:"slow_queries"`
}

// Status reports per-store state and cumulative counters.
func (m *Manager) Status() Status {
	m.mu.RLock()
	pool, nc, g := m.pool, m.nc, m.graph
	m.mu.RUnlock()

	st := Status{
		Postgres:     m.pgCounters.snapshot(pool != nil),
		NATS:         m.natsCounters.snapshot(nc != nil),
		Graph:        m.graphCounters.snapshot(g != nil),
		BreakerState: m.breaker.State().String(),
		SlowQueries:  m.slow.count(),
	}
	if pool != nil {
		s := pool.Stat()
		st.Pool = &PoolStatus{
			MinSize:      m.cfg.Postgres.MinConns,
			MaxSize:      s.MaxConns(),
			Total:        s.TotalConns(),
			Idle:         s.IdleConns(),
			Acquired:     s.AcquiredConns(),
			AcquireCount: s.AcquireCount(),
		}
	}
	return st
}

func (c *counters) snapshot(initialized bool) StoreStatus {
	return StoreStatus{
		Initialized: initialized,
		Succeeded:   c.ok.Load(),
		Failed:      c.failed.Load(),
	}
}
