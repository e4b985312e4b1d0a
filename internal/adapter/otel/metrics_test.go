package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/Strob0t/personagov/internal/config"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if s, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range s.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	return sums
}

func TestRecordStoreCall(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	prev := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(prev) })

	m, err := NewMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordStoreCall(ctx, "postgres", "get_instance", 10*time.Millisecond, nil, false)
	m.RecordStoreCall(ctx, "postgres", "update_spend", 2*time.Second, errors.New("boom"), true)
	m.StoreRetries.Add(ctx, 1, StoreAttr("nats"))

	sums := collect(t, reader)
	assert.Equal(t, int64(2), sums["personagov.store.calls"])
	assert.Equal(t, int64(1), sums["personagov.store.errors"])
	assert.Equal(t, int64(1), sums["personagov.store.slow_queries"])
	assert.Equal(t, int64(1), sums["personagov.store.connect_retries"])
}

func TestInitDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(context.Background(), config.Telemetry{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
