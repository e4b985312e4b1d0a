package spend

import (
	"time"

	"github.com/shopspring/decimal"
)

// TopSpendersLimit is how many instances Analytics ranks.
const TopSpendersLimit = 10

// AnalyticsFilter scopes fleet analytics. Empty fields do not filter.
type AnalyticsFilter struct {
	InstanceID string `json:"instance_id,omitempty"`
	Project    string `json:"project,omitempty"`
	TypeID     string `json:"persona_type_id,omitempty"`
	ActiveOnly bool   `json:"active_only,omitempty"`
}

// Totals are the fleet sums a Summary is derived from.
type Totals struct {
	Instances       int             `json:"instance_count"`
	DailySpent      decimal.Decimal `json:"total_daily_spend"`
	MonthlySpent    decimal.Decimal `json:"total_monthly_spend"`
	MaxDailySpent   decimal.Decimal `json:"max_daily_spend"`
	MaxMonthlySpent decimal.Decimal `json:"max_monthly_spend"`
	DailyLimit      decimal.Decimal `json:"total_daily_limit"`
	MonthlyLimit    decimal.Decimal `json:"total_monthly_limit"`
}

// Summary adds averages and utilization to Totals.
type Summary struct {
	Totals
	AvgDailySpent      decimal.Decimal `json:"avg_daily_spend"`
	AvgMonthlySpent    decimal.Decimal `json:"avg_monthly_spend"`
	DailyUtilization   decimal.Decimal `json:"daily_utilization_pct"`
	MonthlyUtilization decimal.Decimal `json:"monthly_utilization_pct"`
}

// NewSummary derives averages and utilization. An empty fleet averages to
// zero; utilization follows Percentage.
func NewSummary(t Totals) Summary {
	return Summary{
		Totals:             t,
		AvgDailySpent:      average(t.DailySpent, t.Instances),
		AvgMonthlySpent:    average(t.MonthlySpent, t.Instances),
		DailyUtilization:   Percentage(t.DailySpent, t.DailyLimit).Round(2),
		MonthlyUtilization: Percentage(t.MonthlySpent, t.MonthlyLimit).Round(2),
	}
}

func average(sum decimal.Decimal, n int) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return sum.DivRound(decimal.NewFromInt(int64(n)), AmountScale)
}

// WithAverages fills Average on every total.
func WithAverages(totals []CategoryTotal) []CategoryTotal {
	for i := range totals {
		totals[i].Average = average(totals[i].Total, totals[i].Count)
	}
	return totals
}

// InstanceSpend is one instance's counters with the type metadata and
// ledger volume used for ranking and allocation.
type InstanceSpend struct {
	InstanceID      string
	InstanceName    string
	TypeDisplayName string
	TypeCategory    string
	Counters        Counters
	Transactions    int
}

// Spender is a ranked instance in Analytics.
type Spender struct {
	InstanceID      string `json:"instance_id"`
	InstanceName    string `json:"instance_name"`
	TypeDisplayName string `json:"persona_type,omitempty"`
	Daily           Window `json:"daily"`
	Monthly         Window `json:"monthly"`
}

// NewSpender builds the ranked view of s.
func NewSpender(s InstanceSpend) Spender {
	return Spender{
		InstanceID:      s.InstanceID,
		InstanceName:    s.InstanceName,
		TypeDisplayName: s.TypeDisplayName,
		Daily:           NewWindow(s.Counters.DailySpent, s.Counters.DailyLimit),
		Monthly:         NewWindow(s.Counters.MonthlySpent, s.Counters.MonthlyLimit),
	}
}

// Analytics is a fleet spend report.
type Analytics struct {
	Filter      AnalyticsFilter `json:"filter"`
	Summary     Summary         `json:"summary"`
	ByCategory  []CategoryTotal `json:"by_category"`
	TopSpenders []Spender       `json:"top_spenders"`
}

// Projection lookback and confidence cut-offs, in days with ledger entries.
const (
	ProjectionLookbackDays = 30
	MaxProjectionDays      = 365

	highConfidenceDays   = 20
	mediumConfidenceDays = 10
	daysPerMonth         = 30
)

// Confidence grades a projection by how much history backs it.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Projection extrapolates recent daily spend.
type Projection struct {
	InstanceID       string          `json:"instance_id"`
	DaysAhead        int             `json:"days_ahead"`
	BasedOnDays      int             `json:"based_on_days"`
	DailyAverage     decimal.Decimal `json:"daily_average"`
	DailyMin         decimal.Decimal `json:"historical_min"`
	DailyMax         decimal.Decimal `json:"historical_max"`
	ProjectedTotal   decimal.Decimal `json:"projected_total"`
	ProjectedMonthly decimal.Decimal `json:"projected_monthly"`
	Confidence       Confidence      `json:"confidence"`
}

// Project averages records per UTC calendar day that saw spend and scales
// the average to daysAhead and to a 30-day month. Days without entries do
// not lower the average.
func Project(instanceID string, records []Record, daysAhead int) Projection {
	p := Projection{
		InstanceID:       instanceID,
		DaysAhead:        daysAhead,
		DailyAverage:     decimal.Zero,
		DailyMin:         decimal.Zero,
		DailyMax:         decimal.Zero,
		ProjectedTotal:   decimal.Zero,
		ProjectedMonthly: decimal.Zero,
		Confidence:       ConfidenceLow,
	}

	daily := map[time.Time]decimal.Decimal{}
	for i := range records {
		day := records[i].CreatedAt.UTC().Truncate(24 * time.Hour)
		daily[day] = daily[day].Add(records[i].Amount)
	}
	if len(daily) == 0 {
		return p
	}

	sum := decimal.Zero
	first := true
	for _, v := range daily {
		sum = sum.Add(v)
		if first || v.LessThan(p.DailyMin) {
			p.DailyMin = v
		}
		if first || v.GreaterThan(p.DailyMax) {
			p.DailyMax = v
		}
		first = false
	}

	p.BasedOnDays = len(daily)
	p.DailyAverage = average(sum, p.BasedOnDays)
	p.ProjectedTotal = p.DailyAverage.Mul(decimal.NewFromInt(int64(daysAhead)))
	p.ProjectedMonthly = p.DailyAverage.Mul(decimal.NewFromInt(daysPerMonth))
	switch {
	case p.BasedOnDays >= highConfidenceDays:
		p.Confidence = ConfidenceHigh
	case p.BasedOnDays >= mediumConfidenceDays:
		p.Confidence = ConfidenceMedium
	}
	return p
}
