package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Strob0t/personagov/internal/adapter/datastore"
)

type fakeStores struct {
	health map[string]bool
	status datastore.Status
	slow   []datastore.SlowQuery
}

func (f *fakeStores) HealthCheck(context.Context) map[string]bool { return f.health }
func (f *fakeStores) Status() datastore.Status                    { return f.status }
func (f *fakeStores) SlowQueries() []datastore.SlowQuery          { return f.slow }

func serve(t *testing.T, s Stores, target string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(&Handlers{Stores: s}, "personagov-test")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, http.NoBody))
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name   string
		health map[string]bool
		want   int
	}{
		{"all up", map[string]bool{"postgres": true, "nats": true, "graph": true}, http.StatusOK},
		{"graph down is fine", map[string]bool{"postgres": true, "nats": true, "graph": false}, http.StatusOK},
		{"nats down", map[string]bool{"postgres": true, "nats": false, "graph": true}, http.StatusServiceUnavailable},
		{"postgres down", map[string]bool{"postgres": false, "nats": true, "graph": false}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, &fakeStores{health: tt.health}, "/health")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			var body healthResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if len(body.Stores) != 3 {
				t.Errorf("stores = %v, want all three reported", body.Stores)
			}
			if rec.Header().Get("X-Request-ID") == "" {
				t.Error("expected X-Request-ID header")
			}
		})
	}
}

func TestPoolStatus(t *testing.T) {
	s := &fakeStores{status: datastore.Status{
		Postgres:     datastore.StoreStatus{Initialized: true, Succeeded: 7, Failed: 1},
		Pool:         &datastore.PoolStatus{MinSize: 10, MaxSize: 20, Total: 12, Idle: 9, Acquired: 3},
		BreakerState: "closed",
		SlowQueries:  2,
	}}
	rec := serve(t, s, "/pool-status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got datastore.Status
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Pool == nil || got.Pool.Acquired != 3 || got.Postgres.Succeeded != 7 {
		t.Errorf("status = %+v", got)
	}
}

func TestSlowQueries(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &fakeStores{slow: []datastore.SlowQuery{
		{Store: "postgres", Op: "first", Duration: 2 * time.Second, At: now},
		{Store: "postgres", Op: "second", Duration: 3 * time.Second, At: now.Add(time.Minute)},
		{Store: "nats", Op: "third", Duration: 4 * time.Second, At: now.Add(2 * time.Minute)},
	}}

	rec := serve(t, s, "/slow-queries?limit=2")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []datastore.SlowQuery
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Op != "third" || got[1].Op != "second" {
		t.Errorf("got %+v, want newest two first", got)
	}

	if rec := serve(t, s, "/slow-queries?limit=-1"); rec.Code != http.StatusBadRequest {
		t.Errorf("negative limit status = %d, want 400", rec.Code)
	}

	rec = serve(t, &fakeStores{}, "/slow-queries")
	if body := rec.Body.String(); body != "[]\n" {
		t.Errorf("empty log body = %q, want []", body)
	}
}

func TestHealthWithoutProbeResults(t *testing.T) {
	rec := serve(t, &fakeStores{}, "/health")
	// A nil health map is reported as unhealthy, not a panic.
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
