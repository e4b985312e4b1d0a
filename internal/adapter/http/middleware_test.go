package http

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResponseWriterRecordsStatus(t *testing.T) {
	inner := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: inner, status: http.StatusOK}

	rw.WriteHeader(http.StatusServiceUnavailable)

	if rw.status != http.StatusServiceUnavailable {
		t.Errorf("recorded status = %d", rw.status)
	}
	if inner.Code != http.StatusServiceUnavailable {
		t.Errorf("forwarded status = %d", inner.Code)
	}
}

func TestLoggerPassesThrough(t *testing.T) {
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pool-status", http.NoBody))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
}
