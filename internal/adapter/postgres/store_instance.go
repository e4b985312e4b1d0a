package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Strob0t/personagov/internal/adapter/datastore"
	"github.com/Strob0t/personagov/internal/domain"
	"github.com/Strob0t/personagov/internal/domain/persona"
)

// instanceColumns is the single hydration shape shared by every instance
// read: the instance row joined with its type's display metadata.
const instanceColumns = `pi.id, pi.instance_name, pi.persona_type_id, pt.type_name, pt.display_name,
	pi.azure_devops_org, pi.azure_devops_project, pi.repository_name, pi.llm_providers,
	pi.spend_limit_daily, pi.spend_limit_monthly, pi.current_spend_daily, pi.current_spend_monthly,
	pi.max_concurrent_tasks, pi.priority_level, pi.custom_settings, pi.is_active,
	pi.last_activity, pi.created_at, pi.updated_at`

const instanceFrom = ` FROM orchestrator.persona_instances pi
	JOIN orchestrator.persona_types pt ON pt.id = pi.persona_type_id`

// hydrate wraps a write returning persona_instances rows so the result goes
// through the same join as plain reads.
func hydrate(write string) string {
	return "WITH pi AS (" + write + ") SELECT " + instanceColumns +
		" FROM pi JOIN orchestrator.persona_types pt ON pt.id = pi.persona_type_id"
}

func scanInstance(row scannable) (persona.Instance, error) {
	var inst persona.Instance
	var providers, settings []byte
	err := row.Scan(
		&inst.ID, &inst.Name, &inst.TypeID, &inst.TypeName, &inst.TypeDisplayName,
		&inst.Org, &inst.Project, &inst.Repository, &providers,
		dec(&inst.SpendLimitDaily), dec(&inst.SpendLimitMonthly),
		dec(&inst.CurrentSpendDaily), dec(&inst.CurrentSpendMonthly),
		&inst.MaxConcurrentTasks, &inst.PriorityLevel, &settings, &inst.IsActive,
		&inst.LastActivity, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return inst, err
	}
	if err := unmarshalJSON(providers, &inst.Providers, "llm_providers"); err != nil {
		return inst, err
	}
	if err := unmarshalJSON(settings, &inst.Settings, "custom_settings"); err != nil {
		return inst, err
	}
	inst.Providers = orEmpty(inst.Providers)
	if inst.Settings == nil {
		inst.Settings = map[string]any{}
	}
	return inst, nil
}

func instanceWriteErr(err error, format string, args ...any) error {
	switch pgCode(err) {
	case codeUniqueViolation:
		return constraintWrap(err, codeUniqueViolation, domain.ErrDuplicate, format, args...)
	case codeForeignKeyViolation:
		return constraintWrap(err, codeForeignKeyViolation, domain.ErrNotFound, format+": persona type", args...)
	}
	return notFoundWrap(err, format, args...)
}

func derefOr(d *decimal.Decimal, def decimal.Decimal) decimal.Decimal {
	if d == nil {
		return def
	}
	return *d
}

func (s *Store) CreateInstance(ctx context.Context, req persona.CreateRequest) (*persona.Instance, error) {
	if err := checkID(req.TypeID, "persona type"); err != nil {
		return nil, err
	}
	providers, err := marshalJSON(orEmpty(req.Providers), "llm_providers")
	if err != nil {
		return nil, err
	}
	settings, err := marshalJSON(req.Settings, "custom_settings")
	if err != nil {
		return nil, err
	}
	if req.Settings == nil {
		settings = []byte("{}")
	}
	maxTasks := persona.DefaultMaxConcurrentTasks
	if req.MaxConcurrentTasks != nil {
		maxTasks = *req.MaxConcurrentTasks
	}

	var f Fields
	f.Add("id", uuid.NewString())
	f.Add("instance_name", req.Name)
	f.Add("persona_type_id", req.TypeID)
	f.Add("azure_devops_org", req.Org)
	f.Add("azure_devops_project", req.Project)
	f.Add("repository_name", req.Repository)
	f.Add("llm_providers", providers)
	f.Add("spend_limit_daily", numeric(derefOr(req.SpendLimitDaily, persona.DefaultSpendLimitDaily)))
	f.Add("spend_limit_monthly", numeric(derefOr(req.SpendLimitMonthly, persona.DefaultSpendLimitMonthly)))
	f.Add("max_concurrent_tasks", maxTasks)
	f.Add("priority_level", req.PriorityLevel)
	f.Add("custom_settings", settings)

	q, err := Insert(instancesTable, f, "*")
	if err != nil {
		return nil, err
	}

	var inst persona.Instance
	err = s.queryOne(ctx, "create_instance", hydrate(q.SQL), q.Args, func(row scannable) error {
		var err error
		inst, err = scanInstance(row)
		return err
	})
	if err != nil {
		return nil, instanceWriteErr(err, "create instance %q in %q", req.Name, req.Project)
	}
	return &inst, nil
}

func (s *Store) GetInstance(ctx context.Context, id string) (*persona.Instance, error) {
	if err := checkID(id, "get instance"); err != nil {
		return nil, err
	}
	var inst persona.Instance
	err := s.queryOne(ctx, "get_instance",
		"SELECT "+instanceColumns+instanceFrom+" WHERE pi.id = $1", []any{id},
		func(row scannable) error {
			var err error
			inst, err = scanInstance(row)
			return err
		})
	if err != nil {
		return nil, notFoundWrap(err, "get instance %s", id)
	}
	return &inst, nil
}

func (s *Store) GetInstanceByName(ctx context.Context, name, project string) (*persona.Instance, error) {
	var inst persona.Instance
	err := s.queryOne(ctx, "get_instance_by_name",
		"SELECT "+instanceColumns+instanceFrom+" WHERE pi.instance_name = $1 AND pi.azure_devops_project = $2",
		[]any{name, project},
		func(row scannable) error {
			var err error
			inst, err = scanInstance(row)
			return err
		})
	if err != nil {
		return nil, notFoundWrap(err, "get instance %q in %q", name, project)
	}
	return &inst, nil
}

// instanceFilter turns a list filter into equality predicates. ok is false
// when the filter can match nothing.
func instanceFilter(f persona.ListFilter) (where Fields, ok bool) {
	if f.TypeID != "" {
		if uuid.Validate(f.TypeID) != nil {
			return nil, false
		}
		where.Add("pi.persona_type_id", f.TypeID)
	}
	if f.Project != "" {
		where.Add("pi.azure_devops_project", f.Project)
	}
	if f.IsActive != nil {
		where.Add("pi.is_active", *f.IsActive)
	}
	return where, true
}

func (s *Store) ListInstances(ctx context.Context, filter persona.ListFilter, limit, offset int) ([]persona.Instance, error) {
	where, ok := instanceFilter(filter)
	if !ok {
		return []persona.Instance{}, nil
	}

	sql := "SELECT " + instanceColumns + instanceFrom
	clause, args := Where(where, 1)
	if clause != "" {
		sql += " WHERE " + clause
	}
	sql += " ORDER BY pi.created_at DESC, pi.id"
	if limit > 0 {
		args = append(args, limit)
		sql += " LIMIT $" + strconv.Itoa(len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		sql += " OFFSET $" + strconv.Itoa(len(args))
	}

	var out []persona.Instance
	err := s.db.Do(ctx, "list_instances", func(ctx context.Context, q datastore.Querier) error {
		rows, err := q.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (persona.Instance, error) {
			return scanInstance(row)
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return orEmpty(out), nil
}

func (s *Store) CountInstances(ctx context.Context, filter persona.ListFilter) (int, error) {
	where, ok := instanceFilter(filter)
	if !ok {
		return 0, nil
	}
	sql := "SELECT COUNT(*) FROM orchestrator.persona_instances pi"
	clause, args := Where(where, 1)
	if clause != "" {
		sql += " WHERE " + clause
	}

	var n int
	err := s.queryOne(ctx, "count_instances", sql, args, func(row scannable) error {
		return row.Scan(&n)
	})
	if err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return n, nil
}

func instancePatch(p persona.UpdateRequest) (Fields, error) {
	var set Fields
	if p.Name != nil {
		set.Add("instance_name", *p.Name)
	}
	if p.Repository != nil {
		set.Add("repository_name", *p.Repository)
	}
	if p.Providers != nil {
		b, err := marshalJSON(p.Providers, "llm_providers")
		if err != nil {
			return nil, err
		}
		set.Add("llm_providers", b)
	}
	if p.SpendLimitDaily != nil {
		set.Add("spend_limit_daily", numeric(*p.SpendLimitDaily))
	}
	if p.SpendLimitMonthly != nil {
		set.Add("spend_limit_monthly", numeric(*p.SpendLimitMonthly))
	}
	if p.MaxConcurrentTasks != nil {
		set.Add("max_concurrent_tasks", *p.MaxConcurrentTasks)
	}
	if p.PriorityLevel != nil {
		set.Add("priority_level", *p.PriorityLevel)
	}
	if p.Settings != nil {
		b, err := marshalJSON(p.Settings, "custom_settings")
		if err != nil {
			return nil, err
		}
		set.Add("custom_settings", b)
	}
	if p.IsActive != nil {
		set.Add("is_active", *p.IsActive)
	}
	return set, nil
}

func (s *Store) UpdateInstance(ctx context.Context, id string, patch persona.UpdateRequest) (*persona.Instance, error) {
	if patch.Empty() {
		return s.GetInstance(ctx, id)
	}
	if err := checkID(id, "update instance"); err != nil {
		return nil, err
	}
	set, err := instancePatch(patch)
	if err != nil {
		return nil, err
	}
	q, err := Update(instancesTable, set, Fields{{Column: "id", Value: id}}, "*")
	if err != nil {
		return nil, err
	}

	var inst persona.Instance
	err = s.queryOne(ctx, "update_instance", hydrate(q.SQL), q.Args, func(row scannable) error {
		var err error
		inst, err = scanInstance(row)
		return err
	})
	if err != nil {
		return nil, instanceWriteErr(err, "update instance %s", id)
	}
	return &inst, nil
}

func (s *Store) DeactivateInstance(ctx context.Context, id string) error {
	if err := checkID(id, "deactivate instance"); err != nil {
		return err
	}
	q, err := Update(instancesTable, Fields{{Column: "is_active", Value: false}}, Fields{{Column: "id", Value: id}})
	if err != nil {
		return err
	}
	n, err := s.db.Exec(ctx, "deactivate_instance", q.SQL, q.Args...)
	return execExpectOne(n, err, "deactivate instance %s", id)
}

func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	if err := checkID(id, "delete instance"); err != nil {
		return err
	}
	n, err := s.db.Exec(ctx, "delete_instance",
		"DELETE FROM orchestrator.persona_instances WHERE id = $1", id)
	if pgCode(err) == codeForeignKeyViolation {
		return constraintWrap(err, codeForeignKeyViolation, domain.ErrConflict, "delete instance %s: has spend history", id)
	}
	return execExpectOne(n, err, "delete instance %s", id)
}

func (s *Store) InstanceStatistics(ctx context.Context) (*persona.Statistics, error) {
	st := &persona.Statistics{
		ByType:    map[string]int{},
		ByProject: map[string]int{},
	}
	err := s.db.Do(ctx, "instance_statistics", func(ctx context.Context, q datastore.Querier) error {
		err := q.QueryRow(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE is_active),
			COALESCE(SUM(current_spend_daily), 0), COALESCE(SUM(current_spend_monthly), 0)
			FROM orchestrator.persona_instances`).
			Scan(&st.TotalInstances, &st.ActiveInstances, dec(&st.TotalDailySpend), dec(&st.TotalMonthlySpend))
		if err != nil {
			return err
		}
		if err := collectCounts(ctx, q, `SELECT pt.type_name, COUNT(*)`+instanceFrom+` GROUP BY pt.type_name`, st.ByType); err != nil {
			return err
		}
		return collectCounts(ctx, q, `SELECT azure_devops_project, COUNT(*) FROM orchestrator.persona_instances GROUP BY azure_devops_project`, st.ByProject)
	})
	if err != nil {
		return nil, fmt.Errorf("instance statistics: %w", err)
	}
	return st, nil
}

func collectCounts(ctx context.Context, q datastore.Querier, sql string, into map[string]int) error {
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		into[key] = n
	}
	return rows.Err()
}
