package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "personagov"

// Metrics holds all personagov metric instruments.
type Metrics struct {
	StoreCalls     metric.Int64Counter
	StoreErrors    metric.Int64Counter
	StoreDuration  metric.Float64Histogram
	SlowQueries    metric.Int64Counter
	StoreRetries   metric.Int64Counter
	SpendRecorded  metric.Int64Counter
	SpendAmount    metric.Float64Histogram
	BudgetExceeded metric.Int64Counter
	Admissions     metric.Int64Counter
	CounterResets  metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.StoreCalls, err = meter.Int64Counter("personagov.store.calls",
		metric.WithDescription("Number of store calls"))
	if err != nil {
		return nil, err
	}

	m.StoreErrors, err = meter.Int64Counter("personagov.store.errors",
		metric.WithDescription("Number of failed store calls"))
	if err != nil {
		return nil, err
	}

	m.StoreDuration, err = meter.Float64Histogram("personagov.store.duration_seconds",
		metric.WithDescription("Store call duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.SlowQueries, err = meter.Int64Counter("personagov.store.slow_queries",
		metric.WithDescription("Number of store calls over the slow threshold"))
	if err != nil {
		return nil, err
	}

	m.StoreRetries, err = meter.Int64Counter("personagov.store.connect_retries",
		metric.WithDescription("Number of failed store connection attempts that were retried"))
	if err != nil {
		return nil, err
	}

	m.SpendRecorded, err = meter.Int64Counter("personagov.spend.recorded",
		metric.WithDescription("Number of spend records written"))
	if err != nil {
		return nil, err
	}

	m.SpendAmount, err = meter.Float64Histogram("personagov.spend.amount_usd",
		metric.WithDescription("Recorded spend amount in USD"))
	if err != nil {
		return nil, err
	}

	m.BudgetExceeded, err = meter.Int64Counter("personagov.spend.budget_exceeded",
		metric.WithDescription("Number of spend records that left a budget exceeded"))
	if err != nil {
		return nil, err
	}

	m.Admissions, err = meter.Int64Counter("personagov.scheduler.admissions",
		metric.WithDescription("Number of capacity decisions by outcome"))
	if err != nil {
		return nil, err
	}

	m.CounterResets, err = meter.Int64Counter("personagov.spend.counter_resets",
		metric.WithDescription("Number of spend counters reset to zero"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// StoreAttr tags a measurement with the store it concerns.
func StoreAttr(store string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("store", store))
}

// RecordStoreCall records one completed store call.
func (m *Metrics) RecordStoreCall(ctx context.Context, store, op string, elapsed time.Duration, err error, slow bool) {
	attrs := metric.WithAttributes(
		attribute.String("store", store),
		attribute.String("op", op),
	)
	m.StoreCalls.Add(ctx, 1, attrs)
	m.StoreDuration.Record(ctx, elapsed.Seconds(), attrs)
	if err != nil {
		m.StoreErrors.Add(ctx, 1, attrs)
	}
	if slow {
		m.SlowQueries.Add(ctx, 1, attrs)
	}
}
