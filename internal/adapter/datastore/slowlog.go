package datastore

import (
	"sync"
	"time"
)

// SlowQuery is a store call whose wall time exceeded the slow threshold.
type SlowQuery struct {
	Store    string        `json:"store"`
	Op       string        `json:"op"`
	Duration time.Duration `json:"duration_ns"`
	At       time.Time     `json:"at"`
	Err      string        `json:"error,omitempty"`
}

// slowLog is a fixed-size ring buffer; the oldest entry is overwritten.
type slowLog struct {
	mu    sync.Mutex
	buf   []SlowQuery
	next  int
	full  bool
	total int64
}

func newSlowLog(size int) *slowLog {
	if size < 1 {
		size = 1
	}
	return &slowLog{buf: make([]SlowQuery, size)}
}

func (l *slowLog) add(q SlowQuery) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf[l.next] = q
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	l.total++
}

// snapshot returns the retained entries, oldest first.
func (l *slowLog) snapshot() []SlowQuery {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]SlowQuery(nil), l.buf[:l.next]...)
	}
	out := make([]SlowQuery, 0, len(l.buf))
	out = append(out, l.buf[l.next:]...)
	return append(out, l.buf[:l.next]...)
}

func (l *slowLog) count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// SlowQueries returns the retained slow calls, oldest first.
func (m *Manager) SlowQueries() []SlowQuery {
	return m.slow.snapshot()
}
