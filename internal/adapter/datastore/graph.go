package datastore

import (
	"context"
	"errors"

	govotel "github.com/Strob0t/personagov/internal/adapter/otel"
	"github.com/Strob0t/personagov/internal/resilience"
)

// Graph runs a Cypher statement. When the graph store is disabled or its
// breaker is open the call returns no rows and no error: the graph is an
// optional projection and its absence never fails the caller.
func (m *Manager) Graph(ctx context.Context, op, cypher string, params map[string]any) (rows []map[string]any, err error) {
	m.mu.RLock()
	g := m.graph
	m.mu.RUnlock()
	if g == nil {
		return nil, nil
	}

	ctx, span := govotel.StartStoreSpan(ctx, StoreGraph, op)
	start := m.now()
	defer func() {
		span.End()
		m.observe(ctx, StoreGraph, op, start, err)
	}()

	err = m.breaker.Execute(ctx, func(ctx context.Context) error {
		var runErr error
		rows, runErr = g.Run(ctx, cypher, params)
		return runErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		m.log.DebugContext(ctx, "graph call skipped, breaker open", "op", op)
		return nil, nil
	}
	return rows, err
}
