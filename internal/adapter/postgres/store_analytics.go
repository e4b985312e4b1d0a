package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/personagov/internal/adapter/datastore"
	"github.com/Strob0t/personagov/internal/domain/spend"
)

// analyticsWhere scopes a query over persona_instances aliased pi.
func analyticsWhere(f spend.AnalyticsFilter) (string, []any, error) {
	var where Fields
	if f.InstanceID != "" {
		if err := checkID(f.InstanceID, "analytics instance"); err != nil {
			return "", nil, err
		}
		where.Add("pi.id", f.InstanceID)
	}
	if f.Project != "" {
		where.Add("pi.azure_devops_project", f.Project)
	}
	if f.TypeID != "" {
		if err := checkID(f.TypeID, "analytics persona type"); err != nil {
			return "", nil, err
		}
		where.Add("pi.persona_type_id", f.TypeID)
	}
	if f.ActiveOnly {
		where.Add("pi.is_active", true)
	}
	clause, args := Where(where, 1)
	if clause == "" {
		return "", nil, nil
	}
	return " WHERE " + clause, args, nil
}

func (s *Store) SpendTotals(ctx context.Context, f spend.AnalyticsFilter) (spend.Totals, error) {
	var t spend.Totals
	clause, args, err := analyticsWhere(f)
	if err != nil {
		return t, err
	}
	err = s.queryOne(ctx, "spend_totals", `SELECT COUNT(*),
			COALESCE(SUM(pi.current_spend_daily), 0), COALESCE(SUM(pi.current_spend_monthly), 0),
			COALESCE(MAX(pi.current_spend_daily), 0), COALESCE(MAX(pi.current_spend_monthly), 0),
			COALESCE(SUM(pi.spend_limit_daily), 0), COALESCE(SUM(pi.spend_limit_monthly), 0)
		FROM `+instancesTable.Ident()+` pi`+clause,
		args,
		func(row scannable) error {
			return row.Scan(&t.Instances,
				dec(&t.DailySpent), dec(&t.MonthlySpent),
				dec(&t.MaxDailySpent), dec(&t.MaxMonthlySpent),
				dec(&t.DailyLimit), dec(&t.MonthlyLimit))
		})
	if err != nil {
		return spend.Totals{}, fmt.Errorf("spend totals: %w", err)
	}
	return t, nil
}

func (s *Store) FleetSpendByCategory(ctx context.Context, f spend.AnalyticsFilter) ([]spend.CategoryTotal, error) {
	clause, args, err := analyticsWhere(f)
	if err != nil {
		return nil, err
	}
	sql := "SELECT st.category, SUM(st.amount), COUNT(*) FROM " + spendTable.Ident() + " st" +
		" JOIN " + instancesTable.Ident() + " pi ON pi.id = st.instance_id" + clause +
		" GROUP BY st.category ORDER BY SUM(st.amount) DESC, st.category"

	var out []spend.CategoryTotal
	err = s.db.Do(ctx, "fleet_spend_by_category", func(ctx context.Context, q datastore.Querier) error {
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
		return nil, fmt.Errorf("fleet spend by category: %w", err)
	}
	return orEmpty(out), nil
}

func (s *Store) ListInstanceSpend(ctx context.Context, f spend.AnalyticsFilter, limit int) ([]spend.InstanceSpend, error) {
	clause, args, err := analyticsWhere(f)
	if err != nil {
		return nil, err
	}
	sql := `SELECT pi.id, pi.instance_name, pt.display_name, COALESCE(pt.category, ''),
			pi.current_spend_daily, pi.spend_limit_daily,
			pi.current_spend_monthly, pi.spend_limit_monthly,
			(SELECT COUNT(*) FROM ` + spendTable.Ident() + ` st WHERE st.instance_id = pi.id)` +
		instanceFrom + clause +
		" ORDER BY pi.current_spend_monthly DESC, pi.instance_name, pi.id"
	if limit > 0 {
		args = append(args, limit)
		sql += " LIMIT " + placeholder(len(args))
	}

	var out []spend.InstanceSpend
	err = s.db.Do(ctx, "list_instance_spend", func(ctx context.Context, q datastore.Querier) error {
		rows, err := q.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (spend.InstanceSpend, error) {
			var is spend.InstanceSpend
			err := row.Scan(&is.InstanceID, &is.InstanceName, &is.TypeDisplayName, &is.TypeCategory,
				dec(&is.Counters.DailySpent), dec(&is.Counters.DailyLimit),
				dec(&is.Counters.MonthlySpent), dec(&is.Counters.MonthlyLimit),
				&is.Transactions)
			return is, err
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list instance spend: %w", err)
	}
	return orEmpty(out), nil
}
