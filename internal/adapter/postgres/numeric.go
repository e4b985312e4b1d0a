package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// numeric encodes d for a NUMERIC parameter without a float round trip.
func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

// optNumeric encodes nil as SQL NULL.
func optNumeric(d *decimal.Decimal) pgtype.Numeric {
	if d == nil {
		return pgtype.Numeric{}
	}
	return numeric(*d)
}

func fromNumeric(n pgtype.Numeric) (decimal.Decimal, error) {
	if !n.Valid || n.Int == nil {
		return decimal.Zero, nil
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return decimal.Zero, fmt.Errorf("numeric: non-finite value")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

// decimalDest scans a NUMERIC column into a decimal.Decimal. NULL scans as
// zero.
type decimalDest struct{ d *decimal.Decimal }

func dec(d *decimal.Decimal) *decimalDest { return &decimalDest{d: d} }

func (s *decimalDest) ScanNumeric(n pgtype.Numeric) error {
	v, err := fromNumeric(n)
	if err != nil {
		return err
	}
	*s.d = v
	return nil
}

// optDecimalDest scans a nullable NUMERIC column; NULL leaves the target nil.
type optDecimalDest struct{ d **decimal.Decimal }

func optDec(d **decimal.Decimal) *optDecimalDest { return &optDecimalDest{d: d} }

func (s *optDecimalDest) ScanNumeric(n pgtype.Numeric) error {
	if !n.Valid {
		*s.d = nil
		return nil
	}
	v, err := fromNumeric(n)
	if err != nil {
		return err
	}
	*s.d = &v
	return nil
}
