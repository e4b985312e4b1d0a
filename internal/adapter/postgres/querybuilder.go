package postgres

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// schemaName is the schema every persona table lives in.
const schemaName = "orchestrator"

// Table describes a relational table for statement construction.
type Table struct {
	Schema string
	Name   string
	// HasUpdatedAt makes Update stamp updated_at = NOW().
	HasUpdatedAt bool
}

// Ident returns the sanitized, schema-qualified table name.
func (t Table) Ident() string {
	if t.Schema == "" {
		return pgx.Identifier{t.Name}.Sanitize()
	}
	return pgx.Identifier{t.Schema, t.Name}.Sanitize()
}

var (
	typesTable     = Table{Schema: schemaName, Name: "persona_types"}
	instancesTable = Table{Schema: schemaName, Name: "persona_instances", HasUpdatedAt: true}
	spendTable     = Table{Schema: schemaName, Name: "spend_tracking"}
	alertsTable    = Table{Schema: schemaName, Name: "spend_alerts", HasUpdatedAt: true}
)

// Field is one column/value pair. Order is preserved in the generated SQL.
type Field struct {
	Column string
	Value  any
}

// Fields is an ordered column/value list.
type Fields []Field

// Add appends a column/value pair.
func (f *Fields) Add(column string, value any) {
	*f = append(*f, Field{Column: column, Value: value})
}

// Columns returns the column names in order.
func (f Fields) Columns() []string {
	out := make([]string, len(f))
	for i := range f {
		out[i] = f[i].Column
	}
	return out
}

// In is a Where value that matches any of its elements.
type In []any

// Query is a parameterized statement.
type Query struct {
	SQL  string
	Args []any
}

// Order is one ORDER BY term.
type Order struct {
	Column string
	Desc   bool
}

// SelectOptions carries the optional tail of a SELECT.
type SelectOptions struct {
	OrderBy []Order
	Limit   int // 0 = no limit
	Offset  int
}

var (
	errNoFields = errors.New("querybuilder: no fields")
	errNoRows   = errors.New("querybuilder: no rows")
)

// ident sanitizes a column reference; "a.b" is treated as qualifier.column.
func ident(column string) string {
	if column == "*" {
		return column
	}
	return pgx.Identifier(strings.Split(column, ".")).Sanitize()
}

func identList(columns []string) string {
	if len(columns) == 0 {
		return "*"
	}
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = ident(c)
	}
	return strings.Join(out, ", ")
}

func placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func returningClause(returning []string) string {
	if len(returning) == 0 {
		return ""
	}
	return " RETURNING " + identList(returning)
}

// Insert builds a single-row INSERT. With no returning columns the statement
// has no RETURNING clause.
func Insert(t Table, fields Fields, returning ...string) (Query, error) {
	if len(fields) == 0 {
		return Query{}, fmt.Errorf("insert %s: %w", t.Name, errNoFields)
	}
	ph := make([]string, len(fields))
	args := make([]any, len(fields))
	for i, f := range fields {
		ph[i] = placeholder(i + 1)
		args[i] = f.Value
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)%s",
		t.Ident(), identList(fields.Columns()), strings.Join(ph, ", "), returningClause(returning))
	return Query{SQL: sql, Args: args}, nil
}

// BulkInsert builds one INSERT statement to be executed once per row (see
// datastore.Manager.ExecuteMany). Every row must have len(columns) values.
func BulkInsert(t Table, columns []string, rows [][]any) (string, [][]any, error) {
	if len(columns) == 0 {
		return "", nil, fmt.Errorf("bulk insert %s: %w", t.Name, errNoFields)
	}
	if len(rows) == 0 {
		return "", nil, fmt.Errorf("bulk insert %s: %w", t.Name, errNoRows)
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return "", nil, fmt.Errorf("bulk insert %s: row %d has %d values, want %d", t.Name, i, len(r), len(columns))
		}
	}
	ph := make([]string, len(columns))
	for i := range columns {
		ph[i] = placeholder(i + 1)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		t.Ident(), identList(columns), strings.Join(ph, ", "))
	return sql, rows, nil
}

// Update builds an UPDATE of the given fields. Tables declaring HasUpdatedAt
// also get updated_at = NOW().
func Update(t Table, set, where Fields, returning ...string) (Query, error) {
	if len(set) == 0 {
		return Query{}, fmt.Errorf("update %s: %w", t.Name, errNoFields)
	}
	assignments := make([]string, 0, len(set)+1)
	args := make([]any, 0, len(set)+len(where))
	for i, f := range set {
		assignments = append(assignments, ident(f.Column)+" = "+placeholder(i+1))
		args = append(args, f.Value)
	}
	if t.HasUpdatedAt {
		assignments = append(assignments, ident("updated_at")+" = NOW()")
	}

	sql := fmt.Sprintf("UPDATE %s SET %s", t.Ident(), strings.Join(assignments, ", "))
	if clause, whereArgs := Where(where, len(args)+1); clause != "" {
		sql += " WHERE " + clause
		args = append(args, whereArgs...)
	}
	return Query{SQL: sql + returningClause(returning), Args: args}, nil
}

// Select builds a SELECT over t. Limit and offset are bound as parameters.
func Select(t Table, columns []string, where Fields, opts SelectOptions) Query {
	sql := fmt.Sprintf("SELECT %s FROM %s", identList(columns), t.Ident())
	clause, args := Where(where, 1)
	if clause != "" {
		sql += " WHERE " + clause
	}
	if len(opts.OrderBy) > 0 {
		terms := make([]string, len(opts.OrderBy))
		for i, o := range opts.OrderBy {
			terms[i] = ident(o.Column)
			if o.Desc {
				terms[i] += " DESC"
			}
		}
		sql += " ORDER BY " + strings.Join(terms, ", ")
	}
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		sql += " LIMIT " + placeholder(len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		sql += " OFFSET " + placeholder(len(args))
	}
	return Query{SQL: sql, Args: args}
}

// Where joins equality predicates with AND, numbering parameters from start.
// An In value becomes an IN list (an empty list matches nothing) and a nil
// value becomes IS NULL.
func Where(where Fields, start int) (string, []any) {
	if len(where) == 0 {
		return "", nil
	}
	n := start
	preds := make([]string, 0, len(where))
	var args []any
	for _, f := range where {
		col := ident(f.Column)
		switch v := f.Value.(type) {
		case nil:
			preds = append(preds, col+" IS NULL")
		case In:
			if len(v) == 0 {
				preds = append(preds, "FALSE")
				continue
			}
			ph := make([]string, len(v))
			for i := range v {
				ph[i] = placeholder(n)
				n++
			}
			preds = append(preds, col+" IN ("+strings.Join(ph, ", ")+")")
			args = append(args, v...)
		default:
			preds = append(preds, col+" = "+placeholder(n))
			args = append(args, v)
			n++
		}
	}
	return strings.Join(preds, " AND "), args
}
