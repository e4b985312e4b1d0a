package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/personagov/internal/port/messagequeue"
)

// Maintenance runs the spend counter resets requested by an external
// scheduler over the broker.
type Maintenance struct {
	ledger *SpendLedger
	queue  messagequeue.Queue
}

// NewMaintenance creates the reset subscriber.
func NewMaintenance(ledger *SpendLedger, queue messagequeue.Queue) *Maintenance {
	return &Maintenance{ledger: ledger, queue: queue}
}

// Start subscribes to the daily and monthly reset triggers. The returned
// function cancels both subscriptions.
func (m *Maintenance) Start(ctx context.Context) (func(), error) {
	stopDaily, err := m.queue.Subscribe(ctx, messagequeue.SubjectResetDaily, m.handler("daily", m.ledger.ResetDailySpend))
	if err != nil {
		return nil, fmt.Errorf("subscribe daily reset: %w", err)
	}
	stopMonthly, err := m.queue.Subscribe(ctx, messagequeue.SubjectResetMonthly, m.handler("monthly", m.ledger.ResetMonthlySpend))
	if err != nil {
		stopDaily()
		return nil, fmt.Errorf("subscribe monthly reset: %w", err)
	}
	return func() {
		stopDaily()
		stopMonthly()
	}, nil
}

func (m *Maintenance) handler(period string, reset func(context.Context) (int64, error)) messagequeue.Handler {
	return func(ctx context.Context, subject string, data []byte) error {
		var trigger messagequeue.ResetTriggerPayload
		if err := json.Unmarshal(data, &trigger); err != nil {
			return fmt.Errorf("decode %s: %w", subject, err)
		}
		n, err := reset(ctx)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "scheduled spend reset done",
			"period", period, "requested_by", trigger.RequestedBy, "instances", n)
		return nil
	}
}
