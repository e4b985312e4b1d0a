// Package spend defines ledger records, budget status and alert thresholds.
package spend

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/personagov/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// DefaultAlertThresholdPct is the alert threshold applied when an instance
// has none configured. It is also the warning level reported by RecordSpend.
var DefaultAlertThresholdPct = decimal.NewFromInt(80)

// Column bounds. Amounts and counters are NUMERIC(16,6), limits NUMERIC(12,2)
// and thresholds NUMERIC(5,2); amounts and limits keep 10 integer digits.
const (
	AmountScale    = 6
	LimitScale     = 2
	ThresholdScale = 2
)

var maxMagnitude = decimal.New(1, 10)

// FitsAmount reports whether d can be stored as a ledger amount.
func FitsAmount(d decimal.Decimal) bool { return fits(d, AmountScale) }

// FitsLimit reports whether d can be stored as a spend limit.
func FitsLimit(d decimal.Decimal) bool { return fits(d, LimitScale) }

func fits(d decimal.Decimal, scale int32) bool {
	return d.Equal(d.Truncate(scale)) && d.Abs().LessThan(maxMagnitude)
}

// Category classifies a ledger entry.
type Category string

const (
	CategoryLLM     Category = "llm"
	CategoryAPI     Category = "api"
	CategoryCompute Category = "compute"
	CategoryStorage Category = "storage"
	CategoryOther   Category = "other"
)

// Record is one append-only ledger entry.
type Record struct {
	ID          string          `json:"id"`
	InstanceID  string          `json:"instance_id"`
	Amount      decimal.Decimal `json:"amount"`
	Category    Category        `json:"category"`
	Description string          `json:"description,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// RecordRequest describes a charge against an instance.
type RecordRequest struct {
	InstanceID  string          `json:"instance_id"`
	Amount      decimal.Decimal `json:"amount"`
	Category    Category        `json:"category"`
	Description string          `json:"description,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"`
}

// Validate rejects negative or unstorable amounts and fills in a default
// category.
func (r *RecordRequest) Validate() error {
	if r.InstanceID == "" {
		return fmt.Errorf("%w: instance_id is required", domain.ErrValidation)
	}
	if r.Amount.IsNegative() {
		return fmt.Errorf("%w: amount must be >= 0, got %s", domain.ErrValidation, r.Amount)
	}
	if !FitsAmount(r.Amount) {
		return fmt.Errorf("%w: amount %s must have at most %d decimal places and stay below %s",
			domain.ErrValidation, r.Amount, AmountScale, maxMagnitude)
	}
	if r.Category == "" {
		r.Category = CategoryOther
	}
	if r.Metadata == nil {
		r.Metadata = map[string]any{}
	}
	return nil
}

// Counters is the spend rollup stored on an instance.
type Counters struct {
	DailySpent   decimal.Decimal
	DailyLimit   decimal.Decimal
	MonthlySpent decimal.Decimal
	MonthlyLimit decimal.Decimal
}

// Window is the budget state of a single period.
type Window struct {
	Spent      decimal.Decimal `json:"spent"`
	Limit      decimal.Decimal `json:"limit"`
	Remaining  decimal.Decimal `json:"remaining"`
	Percentage decimal.Decimal `json:"percentage"`
	Exceeded   bool            `json:"exceeded"`
}

// NewWindow derives remaining, percentage and exceeded from spent and limit.
// A zero limit reports 100% once anything is spent and 0% otherwise.
func NewWindow(spent, limit decimal.Decimal) Window {
	return Window{
		Spent:      spent,
		Limit:      limit,
		Remaining:  limit.Sub(spent),
		Percentage: Percentage(spent, limit),
		Exceeded:   spent.GreaterThanOrEqual(limit),
	}
}

// Percentage returns spent as a percentage of limit.
func Percentage(spent, limit decimal.Decimal) decimal.Decimal {
	if limit.IsZero() {
		if spent.IsPositive() {
			return hundred
		}
		return decimal.Zero
	}
	return spent.Mul(hundred).Div(limit)
}

// Status is the budget state of an instance.
type Status struct {
	InstanceID string `json:"instance_id"`
	Daily      Window `json:"daily"`
	Monthly    Window `json:"monthly"`
}

// NewStatus builds the status for the given counters.
func NewStatus(instanceID string, c Counters) Status {
	return Status{
		InstanceID: instanceID,
		Daily:      NewWindow(c.DailySpent, c.DailyLimit),
		Monthly:    NewWindow(c.MonthlySpent, c.MonthlyLimit),
	}
}

// Exceeded reports whether either budget is used up.
func (s Status) Exceeded() bool {
	return s.Daily.Exceeded || s.Monthly.Exceeded
}

// Warnings lists the periods at or above the threshold percentage.
func (s Status) Warnings(thresholdPct decimal.Decimal) []string {
	var out []string
	if s.Daily.Percentage.GreaterThanOrEqual(thresholdPct) {
		out = append(out, fmt.Sprintf("daily spend at %s%% of limit", s.Daily.Percentage.StringFixed(1)))
	}
	if s.Monthly.Percentage.GreaterThanOrEqual(thresholdPct) {
		out = append(out, fmt.Sprintf("monthly spend at %s%% of limit", s.Monthly.Percentage.StringFixed(1)))
	}
	return out
}

// Receipt is what RecordSpend returns: the stored entry and the budget state
// right after it was applied.
type Receipt struct {
	Record   Record   `json:"record"`
	Status   Status   `json:"status"`
	Warnings []string `json:"warnings,omitempty"`
}

// HistoryFilter bounds a history query. Nil bounds are open.
type HistoryFilter struct {
	Start    *time.Time `json:"start,omitempty"`
	End      *time.Time `json:"end,omitempty"`
	Category Category   `json:"category,omitempty"`
}

// History is an ordered slice of ledger entries and their sum.
type History struct {
	InstanceID string          `json:"instance_id"`
	Records    []Record        `json:"records"`
	Total      decimal.Decimal `json:"total"`
}

// NewHistory sums the records.
func NewHistory(instanceID string, records []Record) History {
	total := decimal.Zero
	for i := range records {
		total = total.Add(records[i].Amount)
	}
	if records == nil {
		records = []Record{}
	}
	return History{InstanceID: instanceID, Records: records, Total: total}
}

// CategoryTotal aggregates ledger entries of one category.
type CategoryTotal struct {
	Category Category        `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Count    int             `json:"count"`
	Average  decimal.Decimal `json:"avg_amount"`
}
