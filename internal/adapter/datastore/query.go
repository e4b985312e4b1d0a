package datastore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/codes"

	govotel "github.com/Strob0t/personagov/internal/adapter/otel"
	"github.com/Strob0t/personagov/internal/domain"
)

// Querier is the statement surface shared by a leased connection and a
// transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type txKey struct{}

type timeoutKey struct{}

var errPanicked = errors.New("panic in store callback")

func withQuerier(ctx context.Context, q Querier) context.Context {
	return context.WithValue(ctx, txKey{}, q)
}

func querierFrom(ctx context.Context) (Querier, bool) {
	q, ok := ctx.Value(txKey{}).(Querier)
	return q, ok
}

// InTransaction reports whether ctx carries an open transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := querierFrom(ctx)
	return ok
}

// WithStatementTimeout overrides the configured statement timeout for calls
// made with the returned context. A zero duration disables the timeout.
func WithStatementTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, timeoutKey{}, d)
}

func (m *Manager) statementTimeout(ctx context.Context) time.Duration {
	if d, ok := ctx.Value(timeoutKey{}).(time.Duration); ok {
		return d
	}
	return m.cfg.Postgres.CommandTimeout
}

// Do runs fn against the transaction carried by ctx, or against a connection
// leased from the pool for the duration of the call. The lease is released on
// every exit path, including a panic in fn.
//
// Acquisition is bounded by the acquire timeout and fails with
// domain.ErrTransient. A statement that outlives its timeout fails with
// domain.ErrTimeout joined to the driver error. Every other error from fn is
// returned as is.
func (m *Manager) Do(ctx context.Context, op string, fn func(ctx context.Context, q Querier) error) (err error) {
	ctx, span := govotel.StartStoreSpan(ctx, StorePostgres, op)
	start := m.now()
	defer func() {
		if p := recover(); p != nil {
			m.observe(ctx, StorePostgres, op, start, errPanicked)
			span.End()
			panic(p)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		m.observe(ctx, StorePostgres, op, start, err)
	}()

	stmtCtx, cancel := staticTimeout(ctx, m.statementTimeout(ctx))
	defer cancel()

	if q, ok := querierFrom(ctx); ok {
		return classify(stmtCtx, fn(stmtCtx, q))
	}

	pool := m.Pool()
	if pool == nil {
		return ErrNotInitialized
	}

	acqCtx, acqCancel := staticTimeout(stmtCtx, m.cfg.Postgres.AcquireTimeout)
	conn, err := pool.Acquire(acqCtx)
	acqCancel()
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: acquire connection: %w", domain.ErrTransient, err)
	}
	defer conn.Release()

	return classify(stmtCtx, fn(stmtCtx, conn))
}

// classify marks statement timeouts. The driver error stays reachable
// through errors.Is and errors.As.
func classify(stmtCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrTimeout) {
		return err
	}
	if pgconn.Timeout(err) || errors.Is(stmtCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "57014" { // query_canceled (statement_timeout)
		return fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	return err
}

// Exec runs a single statement and returns the number of affected rows.
func (m *Manager) Exec(ctx context.Context, op, sql string, args ...any) (int64, error) {
	var affected int64
	err := m.Do(ctx, op, func(ctx context.Context, q Querier) error {
		tag, err := q.Exec(ctx, sql, args...)
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	return affected, err
}

// ExecuteMany runs sql once per argument row inside a single transaction.
// Either every row is applied or none is.
func (m *Manager) ExecuteMany(ctx context.Context, op, sql string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var total int64
	err := m.InTx(ctx, func(ctx context.Context) error {
		return m.Do(ctx, op, func(ctx context.Context, q Querier) error {
			b := &pgx.Batch{}
			for _, args := range rows {
				b.Queue(sql, args...)
			}
			br := q.SendBatch(ctx, b)
			for i := range rows {
				tag, err := br.Exec()
				if err != nil {
					_ = br.Close()
					return fmt.Errorf("row %d: %w", i, err)
				}
				total += tag.RowsAffected()
			}
			return br.Close()
		})
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// InTx runs fn in a transaction that commits when fn returns nil and rolls
// back otherwise. Store calls made with the context passed to fn join the
// transaction. Nested calls join the outer transaction instead of opening a
// new one.
func (m *Manager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if InTransaction(ctx) {
		return fn(ctx)
	}

	pool := m.Pool()
	if pool == nil {
		return ErrNotInitialized
	}

	acqCtx, cancel := staticTimeout(ctx, m.cfg.Postgres.AcquireTimeout)
	conn, err := pool.Acquire(acqCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: acquire connection: %w", domain.ErrTransient, err)
	}
	defer conn.Release()

	return pgx.BeginFunc(ctx, conn, func(tx pgx.Tx) error {
		return fn(withQuerier(ctx, tx))
	})
}

// observe must be called once per store call.
func (m *Manager) observe(ctx context.Context, store, op string, start time.Time, err error) {
	elapsed := m.now().Sub(start)

	switch store {
	case StorePostgres:
		m.pgCounters.record(err)
	case StoreNATS:
		m.natsCounters.record(err)
	case StoreGraph:
		m.graphCounters.record(err)
	}

	slow := elapsed > m.cfg.Store.SlowQueryThreshold
	if slow {
		m.slow.add(SlowQuery{
			Store:    store,
			Op:       op,
			Duration: elapsed,
			At:       start,
			Err:      errString(err),
		})
		m.log.WarnContext(ctx, "slow store call", "store", store, "op", op, "duration", elapsed)
	}

	if m.metrics != nil {
		m.metrics.RecordStoreCall(ctx, store, op, elapsed, err, slow)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
