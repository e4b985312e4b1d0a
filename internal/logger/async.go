package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer allows flushing and stopping the async handler.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncState is shared by an AsyncHandler and every handler derived from it.
type asyncState struct {
	wg      sync.WaitGroup
	mu      sync.RWMutex // guards closed against sends racing Close
	closed  bool
	once    sync.Once
	dropped atomic.Int64
}

type asyncItem struct {
	inner slog.Handler
	rec   slog.Record
}

// AsyncHandler moves record encoding off the caller's goroutine. Records are
// dropped, and counted, when the buffer is full or the handler is closed.
type AsyncHandler struct {
	inner slog.Handler
	state *asyncState
	items chan asyncItem
}

// NewAsyncHandler creates an AsyncHandler with the given buffer capacity and worker count.
func NewAsyncHandler(inner slog.Handler, bufferSize, workers int) *AsyncHandler {
	if workers < 1 {
		workers = 1
	}
	h := &AsyncHandler{
		inner: inner,
		state: &asyncState{},
		items: make(chan asyncItem, bufferSize),
	}
	for range workers {
		h.state.wg.Add(1)
		go h.drain()
	}
	return h
}

func (h *AsyncHandler) drain() {
	defer h.state.wg.Done()
	for it := range h.items {
		_ = it.inner.Handle(context.Background(), it.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record without blocking.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	h.state.mu.RLock()
	defer h.state.mu.RUnlock()
	if h.state.closed {
		h.state.dropped.Add(1)
		return nil
	}
	select {
	case h.items <- asyncItem{inner: h.inner, rec: rec.Clone()}:
	default:
		h.state.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing the same queue with attrs applied.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), state: h.state, items: h.items}
}

// WithGroup returns a handler sharing the same queue under a group.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), state: h.state, items: h.items}
}

// DroppedCount returns the number of dropped records.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.state.dropped.Load()
}

// Close stops accepting records and waits for the queue to drain.
// Safe to call more than once.
func (h *AsyncHandler) Close() {
	h.state.once.Do(func() {
		h.state.mu.Lock()
		h.state.closed = true
		close(h.items)
		h.state.mu.Unlock()
		h.state.wg.Wait()
	})
}
