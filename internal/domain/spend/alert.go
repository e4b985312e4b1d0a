package spend

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/personagov/internal/domain"
)

// Thresholds are per-instance alert levels in percent. Nil means the default.
type Thresholds struct {
	DailyPct   *decimal.Decimal `json:"daily_threshold_pct,omitempty"`
	MonthlyPct *decimal.Decimal `json:"monthly_threshold_pct,omitempty"`
}

// Validate checks both thresholds lie in [0, 100] with at most two decimals.
func (t Thresholds) Validate() error {
	for name, v := range map[string]*decimal.Decimal{"daily": t.DailyPct, "monthly": t.MonthlyPct} {
		if v == nil {
			continue
		}
		if v.IsNegative() || v.GreaterThan(hundred) {
			return fmt.Errorf("%w: %s threshold must be within [0, 100]", domain.ErrValidation, name)
		}
		if !v.Equal(v.Truncate(ThresholdScale)) {
			return fmt.Errorf("%w: %s threshold allows %d decimal places", domain.ErrValidation, name, ThresholdScale)
		}
	}
	return nil
}

func (t Thresholds) daily() decimal.Decimal {
	if t.DailyPct == nil {
		return DefaultAlertThresholdPct
	}
	return *t.DailyPct
}

func (t Thresholds) monthly() decimal.Decimal {
	if t.MonthlyPct == nil {
		return DefaultAlertThresholdPct
	}
	return *t.MonthlyPct
}

// AlertCandidate is an active instance with its counters and configured
// thresholds, as read from the store.
type AlertCandidate struct {
	InstanceID   string
	InstanceName string
	Counters     Counters
	Thresholds   Thresholds
}

// AlertKind names the period that crossed its threshold.
type AlertKind string

const (
	AlertDaily   AlertKind = "daily_threshold"
	AlertMonthly AlertKind = "monthly_threshold"
)

// Trigger is one crossed threshold.
type Trigger struct {
	Kind         AlertKind       `json:"type"`
	CurrentPct   decimal.Decimal `json:"current_pct"`
	ThresholdPct decimal.Decimal `json:"threshold_pct"`
	CurrentSpend decimal.Decimal `json:"current_spend"`
	Limit        decimal.Decimal `json:"limit"`
}

// Alert groups the triggers of one instance.
type Alert struct {
	InstanceID   string    `json:"instance_id"`
	InstanceName string    `json:"instance_name"`
	Triggers     []Trigger `json:"alerts"`
}

// Evaluate returns the alert for c, or false when no threshold is crossed.
// Instances with a zero limit in a period never alert for that period.
func (c AlertCandidate) Evaluate() (Alert, bool) {
	a := Alert{InstanceID: c.InstanceID, InstanceName: c.InstanceName}
	if t, ok := trigger(AlertDaily, c.Counters.DailySpent, c.Counters.DailyLimit, c.Thresholds.daily()); ok {
		a.Triggers = append(a.Triggers, t)
	}
	if t, ok := trigger(AlertMonthly, c.Counters.MonthlySpent, c.Counters.MonthlyLimit, c.Thresholds.monthly()); ok {
		a.Triggers = append(a.Triggers, t)
	}
	return a, len(a.Triggers) > 0
}

func trigger(kind AlertKind, spent, limit, threshold decimal.Decimal) (Trigger, bool) {
	if !limit.IsPositive() {
		return Trigger{}, false
	}
	pct := Percentage(spent, limit)
	if pct.LessThan(threshold) {
		return Trigger{}, false
	}
	return Trigger{
		Kind:         kind,
		CurrentPct:   pct,
		ThresholdPct: threshold,
		CurrentSpend: spent,
		Limit:        limit,
	}, true
}
