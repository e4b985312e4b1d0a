package postgres

import (
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

func TestNumericRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "9.50", "11.50", "0.000001", "-3.25", "123456789.123456"} {
		d := decimal.RequireFromString(s)
		var got decimal.Decimal
		if err := dec(&got).ScanNumeric(numeric(d)); err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if !got.Equal(d) {
			t.Errorf("round trip %s = %s", s, got)
		}
	}
}

func TestNumericNullAndNonFinite(t *testing.T) {
	got := decimal.RequireFromString("5")
	if err := dec(&got).ScanNumeric(pgtype.Numeric{}); err != nil {
		t.Fatal(err)
	}
	if !got.IsZero() {
		t.Errorf("NULL scanned as %s, want 0", got)
	}

	if err := dec(&got).ScanNumeric(pgtype.Numeric{NaN: true, Valid: true, Int: big.NewInt(0)}); err == nil {
		t.Error("expected error for NaN")
	}

	opt := new(decimal.Decimal)
	if err := optDec(&opt).ScanNumeric(pgtype.Numeric{}); err != nil {
		t.Fatal(err)
	}
	if opt != nil {
		t.Errorf("NULL optional = %v, want nil", opt)
	}

	if n := optNumeric(nil); n.Valid {
		t.Error("optNumeric(nil) should be NULL")
	}
}
