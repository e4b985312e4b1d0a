package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Strob0t/personagov/internal/adapter/datastore"
	"github.com/Strob0t/personagov/internal/domain"
	"github.com/Strob0t/personagov/internal/domain/spend"
)

var spendColumns = []string{"id", "instance_id", "amount", "category", "description", "metadata", "created_at"}

// UpdateSpend adds the deltas in place. Concurrent callers serialize on the
// row lock, so no increment is lost.
func (s *Store) UpdateSpend(ctx context.Context, instanceID string, daily, monthly decimal.Decimal) (spend.Counters, error) {
	var c spend.Counters
	if err := checkID(instanceID, "update spend"); err != nil {
		return c, err
	}
	err := s.queryOne(ctx, "update_spend", `UPDATE orchestrator.persona_instances
		SET current_spend_daily = current_spend_daily + $1,
		    current_spend_monthly = current_spend_monthly + $2,
		    last_activity = NOW()
		WHERE id = $3
		RETURNING current_spend_daily, spend_limit_daily, current_spend_monthly, spend_limit_monthly`,
		[]any{numeric(daily), numeric(monthly), instanceID},
		func(row scannable) error {
			return row.Scan(dec(&c.DailySpent), dec(&c.DailyLimit), dec(&c.MonthlySpent), dec(&c.MonthlyLimit))
		})
	if err != nil {
		if pgCode(err) == codeNumericOverflow {
			return spend.Counters{}, constraintWrap(err, codeNumericOverflow, domain.ErrValidation,
				"spend counter overflow on instance %s", instanceID)
		}
		return spend.Counters{}, notFoundWrap(err, "update spend for instance %s", instanceID)
	}
	return c, nil
}

func scanSpend(row scannable) (spend.Record, error) {
	var r spend.Record
	var meta []byte
	if err := row.Scan(&r.ID, &r.InstanceID, dec(&r.Amount), &r.Category, &r.Description, &meta, &r.CreatedAt); err != nil {
		return r, err
	}
	if err := unmarshalJSON(meta, &r.Metadata, "metadata"); err != nil {
		return r, err
	}
	return r, nil
}

func (s *Store) InsertSpend(ctx context.Context, req spend.RecordRequest) (*spend.Record, error) {
	if err := checkID(req.InstanceID, "insert spend"); err != nil {
		return nil, err
	}
	meta := req.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := marshalJSON(meta, "metadata")
	if err != nil {
		return nil, err
	}

	var f Fields
	f.Add("id", uuid.NewString())
	f.Add("instance_id", req.InstanceID)
	f.Add("amount", numeric(req.Amount))
	f.Add("category", string(req.Category))
	f.Add("description", req.Description)
	f.Add("metadata", metaJSON)

	q, err := Insert(spendTable, f, spendColumns...)
	if err != nil {
		return nil, err
	}
	var rec spend.Record
	err = s.queryOne(ctx, "insert_spend", q.SQL, q.Args, func(row scannable) error {
		var err error
		rec, err = scanSpend(row)
		return err
	})
	if err != nil {
		return nil, constraintWrap(err, codeForeignKeyViolation, domain.ErrNotFound, "insert spend for instance %s", req.InstanceID)
	}
	return &rec, nil
}

// spendWhere builds the predicate shared by history and category queries.
func spendWhere(instanceID string, f spend.HistoryFilter) (string, []any) {
	where := Fields{{Column: "instance_id", Value: instanceID}}
	if f.Category != "" {
		where.Add("category", string(f.Category))
	}
	clause, args := Where(where, 1)
	if f.Start != nil {
		args = append(args, *f.Start)
		clause += " AND created_at >= $" + strconv.Itoa(len(args))
	}
	if f.End != nil {
		args = append(args, *f.End)
		clause += " AND created_at <= $" + strconv.Itoa(len(args))
	}
	return clause, args
}

func (s *Store) ListSpend(ctx context.Context, instanceID string, filter spend.HistoryFilter) ([]spend.Record, error) {
	if err := checkID(instanceID, "list spend"); err != nil {
		return nil, err
	}
	clause, args := spendWhere(instanceID, filter)
	sql := "SELECT " + identList(spendColumns) + " FROM " + spendTable.Ident() +
		" WHERE " + clause + " ORDER BY created_at ASC, id"

	var out []spend.Record
	err := s.db.Do(ctx, "list_spend", func(ctx context.Context, q datastore.Querier) error {
		rows, err := q.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (spend.Record, error) {
			return scanSpend(row)
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list spend for instance %s: %w", instanceID, err)
	}
	return orEmpty(out), nil
}

func (s *Store) SpendByCategory(ctx context.Context, instanceID string, filter spend.HistoryFilter) ([]spend.CategoryTotal, error) {
	if err := checkID(instanceID, "spend by category"); err != nil {
		return nil, err
	}
	clause, args := spendWhere(instanceID, filter)
	sql := "SELECT category, SUM(amount), COUNT(*) FROM " + spendTable.Ident() +
		" WHERE " + clause + " GROUP BY category ORDER BY SUM(amount) DESC, category"

	var out []spend.CategoryTotal
	err := s.db.Do(ctx, "spend_by_category", func(ctx context.Context, q datastore.Querier) error {
		rows, err := q.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (spend.CategoryTotal, error) {
			var ct spend.CategoryTotal
			err := row.Scan(&ct.Category, dec(&ct.Total), &ct.Count)
			return ct, err
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("spend by category for instance %s: %w", instanceID, err)
	}
	return orEmpty(out), nil
}

// resetTimeout replaces the per-statement timeout for the fleet-wide resets,
// which touch every instance row.
const resetTimeout = 2 * time.Minute

func (s *Store) ResetDailySpend(ctx context.Context) (int64, error) {
	return s.resetCounter(ctx, "daily", "current_spend_daily")
}

func (s *Store) ResetMonthlySpend(ctx context.Context) (int64, error) {
	return s.resetCounter(ctx, "monthly", "current_spend_monthly")
}

// resetCounter zeroes column on every instance where it is nonzero.
func (s *Store) resetCounter(ctx context.Context, period, column string) (int64, error) {
	col := ident(column)
	sql := fmt.Sprintf("UPDATE %s SET %s = 0 WHERE %s > 0", instancesTable.Ident(), col, col)
	n, err := s.db.Exec(datastore.WithStatementTimeout(ctx, resetTimeout), "reset_"+period+"_spend", sql)
	if err != nil {
		return 0, fmt.Errorf("reset %s spend: %w", period, err)
	}
	return n, nil
}

func (s *Store) SetAlertThresholds(ctx context.Context, instanceID string, t spend.Thresholds) error {
	if err := checkID(instanceID, "set alert thresholds"); err != nil {
		return err
	}
	_, err := s.db.Exec(ctx, "set_alert_thresholds",
		`INSERT INTO `+alertsTable.Ident()+` (instance_id, daily_threshold_pct, monthly_threshold_pct)
		VALUES ($1, $2, $3)
		ON CONFLICT (instance_id) DO UPDATE
		SET daily_threshold_pct = EXCLUDED.daily_threshold_pct,
		    monthly_threshold_pct = EXCLUDED.monthly_threshold_pct,
		    updated_at = NOW()`,
		instanceID, optNumeric(t.DailyPct), optNumeric(t.MonthlyPct))
	if err != nil {
		return constraintWrap(err, codeForeignKeyViolation, domain.ErrNotFound, "set alert thresholds for instance %s", instanceID)
	}
	return nil
}

func (s *Store) ListAlertCandidates(ctx context.Context) ([]spend.AlertCandidate, error) {
	var out []spend.AlertCandidate
	err := s.db.Do(ctx, "list_alert_candidates", func(ctx context.Context, q datastore.Querier) error {
		rows, err := q.Query(ctx, `SELECT pi.id, pi.instance_name,
				pi.current_spend_daily, pi.spend_limit_daily,
				pi.current_spend_monthly, pi.spend_limit_monthly,
				sa.daily_threshold_pct, sa.monthly_threshold_pct
			FROM orchestrator.persona_instances pi
			LEFT JOIN `+alertsTable.Ident()+` sa ON sa.instance_id = pi.id
			WHERE pi.is_active
			ORDER BY pi.instance_name, pi.id`)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (spend.AlertCandidate, error) {
			var c spend.AlertCandidate
			err := row.Scan(&c.InstanceID, &c.InstanceName,
				dec(&c.Counters.DailySpent), dec(&c.Counters.DailyLimit),
				dec(&c.Counters.MonthlySpent), dec(&c.Counters.MonthlyLimit),
				optDec(&c.Thresholds.DailyPct), optDec(&c.Thresholds.MonthlyPct))
			return c, err
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list alert candidates: %w", err)
	}
	return orEmpty(out), nil
}
