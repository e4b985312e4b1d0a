package persona

import (
	"cmp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/personagov/internal/domain/spend"
)

// Allocation weights per type category. Categories not listed weigh 1.
var categoryWeights = map[Category]decimal.Decimal{
	CategoryArchitecture: decimal.RequireFromString("1.5"),
	CategoryDevelopment:  decimal.RequireFromString("1.2"),
	CategoryTesting:      decimal.RequireFromString("1.0"),
	CategoryOperations:   decimal.RequireFromString("1.1"),
	CategoryManagement:   decimal.RequireFromString("0.9"),
	CategorySpecialized:  decimal.RequireFromString("1.3"),
}

var (
	// MinSuggestedLimit is the floor of every suggested monthly limit.
	MinSuggestedLimit = decimal.NewFromInt(25)
	allocationStep    = decimal.NewFromInt(5)

	busyUsage      = decimal.RequireFromString("0.9")
	idleUsage      = decimal.RequireFromString("0.3")
	busyBoost      = decimal.RequireFromString("1.2")
	idleCut        = decimal.RequireFromString("0.8")
	priorityWeight = decimal.RequireFromString("1.3")
	majorShare     = decimal.RequireFromString("0.2")
	minorShare     = decimal.RequireFromString("0.05")
)

const (
	reasonPriority = "High priority role"
	reasonBusy     = "Currently at capacity"
	reasonIdle     = "Low utilization"
	reasonMajor    = "Major contributor to project"
	reasonMinor    = "Minor role in project"
	reasonStandard = "Standard allocation"
)

// Recommendation is the suggested monthly limit for one instance.
type Recommendation struct {
	InstanceID      string          `json:"instance_id"`
	InstanceName    string          `json:"instance_name"`
	TypeDisplayName string          `json:"persona_type,omitempty"`
	Category        Category        `json:"category,omitempty"`
	Weight          decimal.Decimal `json:"weight"`
	CurrentLimit    decimal.Decimal `json:"current_limit"`
	CurrentSpend    decimal.Decimal `json:"current_spend"`
	SuggestedLimit  decimal.Decimal `json:"suggested_limit"`
	ChangePct       decimal.Decimal `json:"change_pct"`
	Reason          string          `json:"reason"`
}

// Allocation splits a monthly budget across the active instances of a
// project. It is advisory: no limit is changed.
type Allocation struct {
	Project         string           `json:"project"`
	TargetBudget    decimal.Decimal  `json:"target_budget"`
	CurrentTotal    decimal.Decimal  `json:"current_total_limit"`
	SuggestedTotal  decimal.Decimal  `json:"suggested_total_limit"`
	Recommendations []Recommendation `json:"recommendations"`
}

// ValidateBudget checks that target can be split into monthly limits.
func ValidateBudget(target decimal.Decimal) error {
	if !target.IsPositive() {
		return invalid("target budget must be > 0")
	}
	if !spend.FitsLimit(target) {
		return invalid("target budget allows at most %d decimal places and must stay below 10^10", spend.LimitScale)
	}
	return nil
}

// Allocate weighs each member by its type category and monthly usage, then
// gives it that share of target rounded down to a multiple of 5 with a floor
// of MinSuggestedLimit. Recommendations are ordered by the size of the
// change, largest first.
func Allocate(project string, target decimal.Decimal, members []spend.InstanceSpend) Allocation {
	a := Allocation{
		Project:         project,
		TargetBudget:    target,
		CurrentTotal:    decimal.Zero,
		SuggestedTotal:  decimal.Zero,
		Recommendations: []Recommendation{},
	}

	weights := make([]decimal.Decimal, len(members))
	usages := make([]decimal.Decimal, len(members))
	total := decimal.Zero
	for i, m := range members {
		usages[i] = usage(m.Counters)
		weights[i] = weigh(Category(m.TypeCategory), usages[i])
		total = total.Add(weights[i])
	}
	if total.IsZero() {
		return a
	}

	for i, m := range members {
		share := weights[i].Div(total)
		suggested := target.Mul(share).Div(allocationStep).Floor().Mul(allocationStep)
		if suggested.LessThan(MinSuggestedLimit) {
			suggested = MinSuggestedLimit
		}
		current := m.Counters.MonthlyLimit
		change := decimal.Zero
		if current.IsPositive() {
			change = suggested.Sub(current).Div(current).Mul(decimal.NewFromInt(100)).Round(2)
		}
		a.CurrentTotal = a.CurrentTotal.Add(current)
		a.SuggestedTotal = a.SuggestedTotal.Add(suggested)
		a.Recommendations = append(a.Recommendations, Recommendation{
			InstanceID:      m.InstanceID,
			InstanceName:    m.InstanceName,
			TypeDisplayName: m.TypeDisplayName,
			Category:        Category(m.TypeCategory),
			Weight:          weights[i],
			CurrentLimit:    current,
			CurrentSpend:    m.Counters.MonthlySpent,
			SuggestedLimit:  suggested,
			ChangePct:       change,
			Reason:          reason(weights[i], usages[i], share),
		})
	}

	slices.SortStableFunc(a.Recommendations, func(x, y Recommendation) int {
		if c := y.ChangePct.Abs().Cmp(x.ChangePct.Abs()); c != 0 {
			return c
		}
		return cmp.Or(cmp.Compare(x.InstanceName, y.InstanceName), cmp.Compare(x.InstanceID, y.InstanceID))
	})
	return a
}

// usage is monthly spend over the monthly limit, zero without a limit.
func usage(c spend.Counters) decimal.Decimal {
	if !c.MonthlyLimit.IsPositive() {
		return decimal.Zero
	}
	return c.MonthlySpent.Div(c.MonthlyLimit)
}

func weigh(c Category, usage decimal.Decimal) decimal.Decimal {
	w, ok := categoryWeights[c]
	if !ok {
		w = decimal.NewFromInt(1)
	}
	switch {
	case usage.GreaterThan(busyUsage):
		w = w.Mul(busyBoost)
	case usage.LessThan(idleUsage):
		w = w.Mul(idleCut)
	}
	return w
}

func reason(weight, usage, share decimal.Decimal) string {
	var reasons []string
	if weight.GreaterThan(priorityWeight) {
		reasons = append(reasons, reasonPriority)
	}
	switch {
	case usage.GreaterThan(busyUsage):
		reasons = append(reasons, reasonBusy)
	case usage.LessThan(idleUsage):
		reasons = append(reasons, reasonIdle)
	}
	switch {
	case share.GreaterThan(majorShare):
		reasons = append(reasons, reasonMajor)
	case share.LessThan(minorShare):
		reasons = append(reasons, reasonMinor)
	}
	if len(reasons) == 0 {
		return reasonStandard
	}
	return strings.Join(reasons, "; ")
}
