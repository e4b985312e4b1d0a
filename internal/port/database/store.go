// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/personagov/internal/domain/persona"
	"github.com/Strob0t/personagov/internal/domain/spend"
)

// InstanceStore persists persona instances.
type InstanceStore interface {
	CreateInstance(ctx context.Context, req persona.CreateRequest) (*persona.Instance, error)
	GetInstance(ctx context.Context, id string) (*persona.Instance, error)
	GetInstanceByName(ctx context.Context, name, project string) (*persona.Instance, error)
	ListInstances(ctx context.Context, filter persona.ListFilter, limit, offset int) ([]persona.Instance, error)
	CountInstances(ctx context.Context, filter persona.ListFilter) (int, error)
	// UpdateInstance applies the non-nil fields of patch. An empty patch
	// returns the current row.
	UpdateInstance(ctx context.Context, id string, patch persona.UpdateRequest) (*persona.Instance, error)
	DeactivateInstance(ctx context.Context, id string) error
	// DeleteInstance removes the row. Instances with ledger history cannot be
	// deleted and yield domain.ErrConflict.
	DeleteInstance(ctx context.Context, id string) error
	InstanceStatistics(ctx context.Context) (*persona.Statistics, error)
}

// TypeStore persists persona types.
type TypeStore interface {
	CreateType(ctx context.Context, req persona.CreateTypeRequest) (*persona.Type, error)
	// CreateTypes inserts every draft in one transaction, skipping type
	// names that already exist, and returns the number inserted.
	CreateTypes(ctx context.Context, reqs []persona.CreateTypeRequest) (int64, error)
	GetType(ctx context.Context, id string) (*persona.Type, error)
	GetTypeByName(ctx context.Context, typeName string) (*persona.Type, error)
	ListTypes(ctx context.Context) ([]persona.Type, error)
	UpdateType(ctx context.Context, id string, patch persona.UpdateTypeRequest) (*persona.Type, error)
}

// SpendStore persists the spend ledger and the per-instance rollup counters.
type SpendStore interface {
	// UpdateSpend adds the deltas to the instance's counters in a single
	// statement and returns the counters after the update.
	UpdateSpend(ctx context.Context, instanceID string, daily, monthly decimal.Decimal) (spend.Counters, error)
	InsertSpend(ctx context.Context, req spend.RecordRequest) (*spend.Record, error)
	ListSpend(ctx context.Context, instanceID string, filter spend.HistoryFilter) ([]spend.Record, error)
	SpendByCategory(ctx context.Context, instanceID string, filter spend.HistoryFilter) ([]spend.CategoryTotal, error)
	ResetDailySpend(ctx context.Context) (int64, error)
	ResetMonthlySpend(ctx context.Context) (int64, error)
	SetAlertThresholds(ctx context.Context, instanceID string, t spend.Thresholds) error
	ListAlertCandidates(ctx context.Context) ([]spend.AlertCandidate, error)

	// SpendTotals sums the counters and limits of the instances matching f.
	SpendTotals(ctx context.Context, f spend.AnalyticsFilter) (spend.Totals, error)
	// FleetSpendByCategory aggregates the ledger of the instances matching f,
	// largest total first.
	FleetSpendByCategory(ctx context.Context, f spend.AnalyticsFilter) ([]spend.CategoryTotal, error)
	// ListInstanceSpend returns the instances matching f by monthly spend,
	// highest first. A limit of 0 returns all of them.
	ListInstanceSpend(ctx context.Context, f spend.AnalyticsFilter, limit int) ([]spend.InstanceSpend, error)
}

// Transactor scopes work to a single transaction. The transaction travels
// in the context handed to fn; store calls made with that context join it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store is the port interface for database operations.
type Store interface {
	InstanceStore
	TypeStore
	SpendStore
	Transactor
}
