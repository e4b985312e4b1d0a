package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	govotel "github.com/Strob0t/personagov/internal/adapter/otel"
	"github.com/Strob0t/personagov/internal/config"
	"github.com/Strob0t/personagov/internal/domain"
	"github.com/Strob0t/personagov/internal/domain/persona"
	"github.com/Strob0t/personagov/internal/domain/spend"
	"github.com/Strob0t/personagov/internal/port/database"
	"github.com/Strob0t/personagov/internal/port/messagequeue"
)

// SpendLedger records spend against instances and reports their budgets.
// Exceeding a budget is reported, never refused: admission control reads
// the resulting status flags.
type SpendLedger struct {
	store   database.Store
	queue   messagequeue.Queue
	metrics *govotel.Metrics
	warnPct decimal.Decimal
	now     func() time.Time
}

// NewSpendLedger creates a ledger. queue may be nil. An unset, zero or
// unparsable warning threshold falls back to the default.
func NewSpendLedger(store database.Store, queue messagequeue.Queue, cfg config.Spend) *SpendLedger {
	warn := spend.DefaultAlertThresholdPct
	if pct, err := cfg.WarningThreshold(); err == nil && pct.IsPositive() {
		warn = pct
	}
	return &SpendLedger{store: store, queue: queue, warnPct: warn, now: time.Now}
}

// SetClock replaces the wall clock that anchors the projection lookback.
func (l *SpendLedger) SetClock(now func() time.Time) {
	l.now = now
}

// SetMetrics enables metric recording.
func (l *SpendLedger) SetMetrics(m *govotel.Metrics) {
	l.metrics = m
}

// RecordSpend appends a ledger entry and adds its amount to the daily and
// monthly counters in one transaction. A missing instance rolls both back.
func (l *SpendLedger) RecordSpend(ctx context.Context, req spend.RecordRequest) (*spend.Receipt, error) {
	ctx, span := govotel.StartSpendSpan(ctx, "record", req.InstanceID)
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	var (
		counters spend.Counters
		rec      *spend.Record
	)
	err := l.store.InTx(ctx, func(ctx context.Context) error {
		var err error
		counters, err = l.store.UpdateSpend(ctx, req.InstanceID, req.Amount, req.Amount)
		if err != nil {
			return err
		}
		rec, err = l.store.InsertSpend(ctx, req)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("record spend for %s: %w", req.InstanceID, err)
	}

	status := spend.NewStatus(req.InstanceID, counters)
	receipt := &spend.Receipt{
		Record:   *rec,
		Status:   status,
		Warnings: status.Warnings(l.warnPct),
	}

	if l.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("category", string(rec.Category)))
		l.metrics.SpendRecorded.Add(ctx, 1, attrs)
		l.metrics.SpendAmount.Record(ctx, rec.Amount.InexactFloat64(), attrs)
	}

	publish(ctx, l.queue, messagequeue.SubjectSpendRecorded, messagequeue.SpendRecordedPayload{
		InstanceID:        req.InstanceID,
		RecordID:          rec.ID,
		Amount:            rec.Amount.String(),
		Category:          string(rec.Category),
		DailySpent:        status.Daily.Spent.String(),
		MonthlySpent:      status.Monthly.Spent.String(),
		DailyPercentage:   status.Daily.Percentage.StringFixed(2),
		MonthlyPercentage: status.Monthly.Percentage.StringFixed(2),
		RecordedAt:        rec.CreatedAt,
	})
	l.reportExceeded(ctx, status)
	return receipt, nil
}

func (l *SpendLedger) reportExceeded(ctx context.Context, status spend.Status) {
	for _, p := range []struct {
		period string
		w      spend.Window
	}{{"daily", status.Daily}, {"monthly", status.Monthly}} {
		if !p.w.Exceeded {
			continue
		}
		slog.WarnContext(ctx, "spend limit exceeded",
			"instance_id", status.InstanceID,
			"period", p.period,
			"spent", p.w.Spent.String(),
			"limit", p.w.Limit.String(),
		)
		if l.metrics != nil {
			l.metrics.BudgetExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("period", p.period)))
		}
		publish(ctx, l.queue, messagequeue.SubjectBudgetExceeded, messagequeue.BudgetExceededPayload{
			InstanceID: status.InstanceID,
			Period:     p.period,
			Spent:      p.w.Spent.String(),
			Limit:      p.w.Limit.String(),
		})
	}
}

// GetSpendStatus returns the budget state of an instance.
func (l *SpendLedger) GetSpendStatus(ctx context.Context, instanceID string) (spend.Status, error) {
	inst, err := l.store.GetInstance(ctx, instanceID)
	if err != nil {
		return spend.Status{}, err
	}
	return spend.NewStatus(inst.ID, inst.Counters()), nil
}

// GetSpendHistory returns the ledger entries of an instance in ascending
// time order, with their sum.
func (l *SpendLedger) GetSpendHistory(ctx context.Context, instanceID string, filter spend.HistoryFilter) (*spend.History, error) {
	if err := validateRange(filter); err != nil {
		return nil, err
	}
	if _, err := l.store.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	records, err := l.store.ListSpend(ctx, instanceID, filter)
	if err != nil {
		return nil, fmt.Errorf("spend history for %s: %w", instanceID, err)
	}
	h := spend.NewHistory(instanceID, records)
	return &h, nil
}

// SpendByCategory aggregates the ledger of an instance per category.
func (l *SpendLedger) SpendByCategory(ctx context.Context, instanceID string, filter spend.HistoryFilter) ([]spend.CategoryTotal, error) {
	if err := validateRange(filter); err != nil {
		return nil, err
	}
	totals, err := l.store.SpendByCategory(ctx, instanceID, filter)
	if err != nil {
		return nil, fmt.Errorf("spend by category for %s: %w", instanceID, err)
	}
	if totals == nil {
		totals = []spend.CategoryTotal{}
	}
	return spend.WithAverages(totals), nil
}

func validateRange(f spend.HistoryFilter) error {
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return fmt.Errorf("%w: end must not be before start", domain.ErrValidation)
	}
	return nil
}

// ResetDailySpend zeroes every nonzero daily counter and returns how many
// were reset. The ledger is untouched.
func (l *SpendLedger) ResetDailySpend(ctx context.Context) (int64, error) {
	return l.reset(ctx, "daily", l.store.ResetDailySpend)
}

// ResetMonthlySpend zeroes every nonzero monthly counter.
func (l *SpendLedger) ResetMonthlySpend(ctx context.Context) (int64, error) {
	return l.reset(ctx, "monthly", l.store.ResetMonthlySpend)
}

func (l *SpendLedger) reset(ctx context.Context, period string, fn func(context.Context) (int64, error)) (int64, error) {
	ctx, span := govotel.StartSpendSpan(ctx, "reset_"+period, "")
	defer span.End()

	n, err := fn(ctx)
	if err != nil {
		return 0, fmt.Errorf("reset %s spend: %w", period, err)
	}
	if l.metrics != nil {
		l.metrics.CounterResets.Add(ctx, n, metric.WithAttributes(attribute.String("period", period)))
	}
	slog.InfoContext(ctx, "spend counters reset", "period", period, "instances", n)
	return n, nil
}

// SetAlertThresholds stores per-instance alert levels.
func (l *SpendLedger) SetAlertThresholds(ctx context.Context, instanceID string, t spend.Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return l.store.SetAlertThresholds(ctx, instanceID, t)
}

// CheckAlerts evaluates every active instance against its thresholds and
// publishes one alert event per crossed threshold.
func (l *SpendLedger) CheckAlerts(ctx context.Context) ([]spend.Alert, error) {
	candidates, err := l.store.ListAlertCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list alert candidates: %w", err)
	}
	alerts := []spend.Alert{}
	for _, c := range candidates {
		a, ok := c.Evaluate()
		if !ok {
			continue
		}
		alerts = append(alerts, a)
		for _, t := range a.Triggers {
			slog.WarnContext(ctx, "spend alert",
				"instance_id", a.InstanceID,
				"type", t.Kind,
				"current_pct", t.CurrentPct.StringFixed(1),
				"threshold_pct", t.ThresholdPct.StringFixed(1),
			)
			publish(ctx, l.queue, messagequeue.SubjectSpendAlert, messagequeue.SpendAlertPayload{
				InstanceID:   a.InstanceID,
				InstanceName: a.InstanceName,
				Kind:         string(t.Kind),
				CurrentPct:   t.CurrentPct.StringFixed(2),
				ThresholdPct: t.ThresholdPct.StringFixed(2),
			})
		}
	}
	return alerts, nil
}

// SpendAnalytics reports fleet totals, ledger categories and the top
// spenders of the instances matching f.
func (l *SpendLedger) SpendAnalytics(ctx context.Context, f spend.AnalyticsFilter) (*spend.Analytics, error) {
	ctx, span := govotel.StartSpendSpan(ctx, "analytics", f.InstanceID)
	defer span.End()

	totals, err := l.store.SpendTotals(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("spend analytics: %w", err)
	}
	byCategory, err := l.store.FleetSpendByCategory(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("spend analytics: %w", err)
	}
	if byCategory == nil {
		byCategory = []spend.CategoryTotal{}
	}
	ranked, err := l.store.ListInstanceSpend(ctx, f, spend.TopSpendersLimit)
	if err != nil {
		return nil, fmt.Errorf("spend analytics: %w", err)
	}
	spenders := make([]spend.Spender, 0, len(ranked))
	for _, r := range ranked {
		spenders = append(spenders, spend.NewSpender(r))
	}
	return &spend.Analytics{
		Filter:      f,
		Summary:     spend.NewSummary(totals),
		ByCategory:  spend.WithAverages(byCategory),
		TopSpenders: spenders,
	}, nil
}

// ProjectCosts extrapolates the last 30 days of an instance's ledger over
// daysAhead days.
func (l *SpendLedger) ProjectCosts(ctx context.Context, instanceID string, daysAhead int) (*spend.Projection, error) {
	ctx, span := govotel.StartSpendSpan(ctx, "project", instanceID)
	defer span.End()

	if daysAhead < 1 || daysAhead > spend.MaxProjectionDays {
		return nil, fmt.Errorf("%w: days_ahead must be within [1, %d]", domain.ErrValidation, spend.MaxProjectionDays)
	}
	if _, err := l.store.GetInstance(ctx, instanceID); err != nil {
		return nil, fmt.Errorf("project costs for %s: %w", instanceID, err)
	}
	start := l.now().AddDate(0, 0, -spend.ProjectionLookbackDays)
	records, err := l.store.ListSpend(ctx, instanceID, spend.HistoryFilter{Start: &start})
	if err != nil {
		return nil, fmt.Errorf("project costs for %s: %w", instanceID, err)
	}
	p := spend.Project(instanceID, records, daysAhead)
	return &p, nil
}

// SuggestAllocation splits a monthly target budget across the active
// instances of project. Limits are not changed.
func (l *SpendLedger) SuggestAllocation(ctx context.Context, project string, target decimal.Decimal) (*persona.Allocation, error) {
	ctx, span := govotel.StartSpendSpan(ctx, "allocate", "")
	defer span.End()

	project = strings.TrimSpace(project)
	if project == "" {
		return nil, fmt.Errorf("%w: project is required", domain.ErrValidation)
	}
	if err := persona.ValidateBudget(target); err != nil {
		return nil, err
	}
	members, err := l.store.ListInstanceSpend(ctx, spend.AnalyticsFilter{Project: project, ActiveOnly: true}, 0)
	if err != nil {
		return nil, fmt.Errorf("allocation members for %s: %w", project, err)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("no active instances in project %s: %w", project, domain.ErrNotFound)
	}
	a := persona.Allocate(project, target, members)
	slog.InfoContext(ctx, "spend allocation suggested",
		"project", project,
		"target", target.StringFixed(2),
		"instances", len(members),
		"suggested_total", a.SuggestedTotal.StringFixed(2),
	)
	return &a, nil
}
