package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/personagov/internal/adapter/datastore"
	"github.com/Strob0t/personagov/internal/domain"
	"github.com/Strob0t/personagov/internal/domain/persona"
)

var typeColumns = []string{"id", "type_name", "display_name", "category", "base_workflow_id", "default_capabilities", "created_at"}

func scanType(row scannable) (persona.Type, error) {
	var t persona.Type
	var caps []byte
	if err := row.Scan(&t.ID, &t.TypeName, &t.DisplayName, &t.Category, &t.BaseWorkflowID, &caps, &t.CreatedAt); err != nil {
		return t, err
	}
	if err := unmarshalJSON(caps, &t.DefaultCapabilities, "default_capabilities"); err != nil {
		return t, err
	}
	if t.DefaultCapabilities == nil {
		t.DefaultCapabilities = map[string]any{}
	}
	return t, nil
}

func (s *Store) CreateType(ctx context.Context, req persona.CreateTypeRequest) (*persona.Type, error) {
	caps := req.DefaultCapabilities
	if caps == nil {
		caps = map[string]any{}
	}
	capsJSON, err := marshalJSON(caps, "default_capabilities")
	if err != nil {
		return nil, err
	}

	var f Fields
	f.Add("id", uuid.NewString())
	f.Add("type_name", req.TypeName)
	f.Add("display_name", req.DisplayName)
	f.Add("category", string(req.Category))
	f.Add("base_workflow_id", req.BaseWorkflowID)
	f.Add("default_capabilities", capsJSON)

	q, err := Insert(typesTable, f, typeColumns...)
	if err != nil {
		return nil, err
	}
	var t persona.Type
	err = s.queryOne(ctx, "create_type", q.SQL, q.Args, func(row scannable) error {
		var err error
		t, err = scanType(row)
		return err
	})
	if err != nil {
		return nil, constraintWrap(err, codeUniqueViolation, domain.ErrDuplicate, "create persona type %q", req.TypeName)
	}
	return &t, nil
}

var seedColumns = []string{"id", "type_name", "display_name", "category", "base_workflow_id", "default_capabilities"}

func (s *Store) CreateTypes(ctx context.Context, reqs []persona.CreateTypeRequest) (int64, error) {
	rows := make([][]any, 0, len(reqs))
	for i := range reqs {
		caps := reqs[i].DefaultCapabilities
		if caps == nil {
			caps = map[string]any{}
		}
		capsJSON, err := marshalJSON(caps, "default_capabilities")
		if err != nil {
			return 0, err
		}
		rows = append(rows, []any{uuid.NewString(), reqs[i].TypeName, reqs[i].DisplayName,
			string(reqs[i].Category), reqs[i].BaseWorkflowID, capsJSON})
	}
	sql, rows, err := BulkInsert(typesTable, seedColumns, rows)
	if err != nil {
		return 0, err
	}
	n, err := s.db.ExecuteMany(ctx, "seed_types", sql+` ON CONFLICT ("type_name") DO NOTHING`, rows)
	if err != nil {
		return 0, fmt.Errorf("seed persona types: %w", err)
	}
	return n, nil
}

func (s *Store) getTypeBy(ctx context.Context, op, column string, value any) (*persona.Type, error) {
	q := Select(typesTable, typeColumns, Fields{{Column: column, Value: value}}, SelectOptions{})
	var t persona.Type
	err := s.queryOne(ctx, op, q.SQL, q.Args, func(row scannable) error {
		var err error
		t, err = scanType(row)
		return err
	})
	if err != nil {
		return nil, notFoundWrap(err, "get persona type %v", value)
	}
	return &t, nil
}

func (s *Store) GetType(ctx context.Context, id string) (*persona.Type, error) {
	if err := checkID(id, "get persona type"); err != nil {
		return nil, err
	}
	return s.getTypeBy(ctx, "get_type", "id", id)
}

func (s *Store) GetTypeByName(ctx context.Context, typeName string) (*persona.Type, error) {
	return s.getTypeBy(ctx, "get_type_by_name", "type_name", typeName)
}

func (s *Store) ListTypes(ctx context.Context) ([]persona.Type, error) {
	q := Select(typesTable, typeColumns, nil, SelectOptions{OrderBy: []Order{{Column: "display_name"}, {Column: "id"}}})
	var out []persona.Type
	err := s.db.Do(ctx, "list_types", func(ctx context.Context, qr datastore.Querier) error {
		rows, err := qr.Query(ctx, q.SQL, q.Args...)
		if err != nil {
			return err
		}
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (persona.Type, error) {
			return scanType(row)
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list persona types: %w", err)
	}
	return orEmpty(out), nil
}

func (s *Store) UpdateType(ctx context.Context, id string, patch persona.UpdateTypeRequest) (*persona.Type, error) {
	if err := checkID(id, "update persona type"); err != nil {
		return nil, err
	}
	var set Fields
	if patch.DisplayName != nil {
		set.Add("display_name", *patch.DisplayName)
	}
	if patch.Category != nil {
		set.Add("category", string(*patch.Category))
	}
	if patch.BaseWorkflowID != nil {
		set.Add("base_workflow_id", *patch.BaseWorkflowID)
	}
	if patch.DefaultCapabilities != nil {
		b, err := marshalJSON(patch.DefaultCapabilities, "default_capabilities")
		if err != nil {
			return nil, err
		}
		set.Add("default_capabilities", b)
	}
	if len(set) == 0 {
		return s.GetType(ctx, id)
	}

	q, err := Update(typesTable, set, Fields{{Column: "id", Value: id}}, typeColumns...)
	if err != nil {
		return nil, err
	}
	var t persona.Type
	err = s.queryOne(ctx, "update_type", q.SQL, q.Args, func(row scannable) error {
		var err error
		t, err = scanType(row)
		return err
	})
	if err != nil {
		return nil, notFoundWrap(err, "update persona type %s", id)
	}
	return &t, nil
}
