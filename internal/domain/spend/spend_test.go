package spend

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/personagov/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNewWindow(t *testing.T) {
	tests := []struct {
		name     string
		spent    string
		limit    string
		pct      string
		remain   string
		exceeded bool
	}{
		{"under", "9.50", "10.00", "95", "0.50", false},
		{"over", "11.50", "10.00", "115", "-1.50", true},
		{"exactly at limit", "10", "10", "100", "0", true},
		{"zero limit nothing spent", "0", "0", "0", "0", true},
		{"zero limit with spend", "0.01", "0", "100", "-0.01", true},
		{"fresh", "0", "50", "0", "50", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWindow(d(tt.spent), d(tt.limit))
			assert.True(t, w.Percentage.Equal(d(tt.pct)), "percentage = %s", w.Percentage)
			assert.True(t, w.Remaining.Equal(d(tt.remain)), "remaining = %s", w.Remaining)
			assert.Equal(t, tt.exceeded, w.Exceeded)
		})
	}
}

func TestPercentageIsExact(t *testing.T) {
	// 0.1 + 0.2 must not drift the way binary floats do.
	spent := d("0.1").Add(d("0.2"))
	assert.True(t, Percentage(spent, d("0.3")).Equal(d("100")))
}

func TestStatusWarnings(t *testing.T) {
	s := NewStatus("i-1", Counters{
		DailySpent: d("9.50"), DailyLimit: d("10"),
		MonthlySpent: d("9.50"), MonthlyLimit: d("1000"),
	})
	assert.False(t, s.Exceeded())

	warnings := s.Warnings(DefaultAlertThresholdPct)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "daily spend at 95.0%")
}

func TestRecordRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		req     RecordRequest
		wantErr string
	}{
		{"negative", RecordRequest{InstanceID: "i-1", Amount: d("-0.01")}, "amount must be >= 0"},
		{"missing instance", RecordRequest{Amount: d("1")}, "instance_id"},
		{"below column scale", RecordRequest{InstanceID: "i-1", Amount: d("0.0000004")}, "decimal places"},
		{"too many integer digits", RecordRequest{InstanceID: "i-1", Amount: d("12345678901.5")}, "stay below"},
		{"at magnitude bound", RecordRequest{InstanceID: "i-1", Amount: d("10000000000")}, "stay below"},
		{"zero", RecordRequest{InstanceID: "i-1", Amount: decimal.Zero}, ""},
		{"six decimals", RecordRequest{InstanceID: "i-1", Amount: d("0.000001")}, ""},
		{"largest storable", RecordRequest{InstanceID: "i-1", Amount: d("9999999999.999999")}, ""},
		{"trailing zeros beyond scale", RecordRequest{InstanceID: "i-1", Amount: d("1.250000000")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, CategoryOther, tt.req.Category)
				assert.NotNil(t, tt.req.Metadata)
				return
			}
			require.ErrorIs(t, err, domain.ErrValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFitsLimit(t *testing.T) {
	assert.True(t, FitsLimit(d("1000.00")))
	assert.True(t, FitsLimit(d("9999999999.99")))
	assert.False(t, FitsLimit(d("10.005")))
	assert.False(t, FitsLimit(d("10000000000")))
	assert.True(t, FitsAmount(d("10.005")))
}

func TestNewHistory(t *testing.T) {
	h := NewHistory("i-1", []Record{{Amount: d("1.25")}, {Amount: d("2.50")}})
	assert.True(t, h.Total.Equal(d("3.75")))

	empty := NewHistory("i-1", nil)
	assert.NotNil(t, empty.Records)
	assert.True(t, empty.Total.IsZero())
}

func TestAlertEvaluate(t *testing.T) {
	custom := d("50")
	tests := []struct {
		name     string
		cand     AlertCandidate
		wantKind []AlertKind
	}{
		{
			name: "default threshold crossed daily",
			cand: AlertCandidate{Counters: Counters{DailySpent: d("8"), DailyLimit: d("10"), MonthlySpent: d("8"), MonthlyLimit: d("100")}},
			wantKind: []AlertKind{AlertDaily},
		},
		{
			name: "custom monthly threshold",
			cand: AlertCandidate{
				Counters:   Counters{DailySpent: d("1"), DailyLimit: d("10"), MonthlySpent: d("60"), MonthlyLimit: d("100")},
				Thresholds: Thresholds{MonthlyPct: &custom},
			},
			wantKind: []AlertKind{AlertMonthly},
		},
		{
			name:     "zero limits never alert",
			cand:     AlertCandidate{Counters: Counters{DailySpent: d("5")}},
			wantKind: nil,
		},
		{
			name:     "quiet",
			cand:     AlertCandidate{Counters: Counters{DailySpent: d("1"), DailyLimit: d("10"), MonthlySpent: d("1"), MonthlyLimit: d("10")}},
			wantKind: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, ok := tt.cand.Evaluate()
			assert.Equal(t, len(tt.wantKind) > 0, ok)
			var kinds []AlertKind
			for _, tr := range a.Triggers {
				kinds = append(kinds, tr.Kind)
			}
			assert.Equal(t, tt.wantKind, kinds)
		})
	}
}

func TestThresholdsValidate(t *testing.T) {
	bad := d("101")
	require.ErrorIs(t, Thresholds{DailyPct: &bad}.Validate(), domain.ErrValidation)
	fine := d("80.125")
	require.ErrorIs(t, Thresholds{MonthlyPct: &fine}.Validate(), domain.ErrValidation)
	ok := d("90")
	twoPlaces := d("87.50")
	require.NoError(t, Thresholds{DailyPct: &ok, MonthlyPct: &twoPlaces}.Validate())
}
