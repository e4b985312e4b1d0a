package service

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	govotel "github.com/Strob0t/personagov/internal/adapter/otel"
	"github.com/Strob0t/personagov/internal/config"
	"github.com/Strob0t/personagov/internal/domain"
	"github.com/Strob0t/personagov/internal/domain/persona"
	"github.com/Strob0t/personagov/internal/domain/spend"
	"github.com/Strob0t/personagov/internal/port/capacity"
	"github.com/Strob0t/personagov/internal/port/database"
)

const defaultParallelism = 8

// CapacityScheduler decides which existing instance, if any, takes the next
// piece of work for a persona type in a project.
type CapacityScheduler struct {
	store       database.InstanceStore
	ledger      *SpendLedger
	tasks       capacity.TaskCounter
	parallelism int
	metrics     *govotel.Metrics
}

// NewCapacityScheduler creates a scheduler.
func NewCapacityScheduler(store database.InstanceStore, ledger *SpendLedger, tasks capacity.TaskCounter, cfg config.Scheduler) *CapacityScheduler {
	p := cfg.Parallelism
	if p <= 0 {
		p = defaultParallelism
	}
	return &CapacityScheduler{store: store, ledger: ledger, tasks: tasks, parallelism: p}
}

// SetMetrics enables metric recording.
func (s *CapacityScheduler) SetMetrics(m *govotel.Metrics) {
	s.metrics = m
}

type candidate struct {
	inst   *persona.Instance
	active int
}

// FindAvailableInstance returns the least loaded active instance of typeID
// in project that has a free task slot and budget left in both periods.
// Ties go to the higher priority, then the older instance, then the lower
// ID. (nil, nil) means no instance qualifies and a new one should be
// provisioned.
func (s *CapacityScheduler) FindAvailableInstance(ctx context.Context, typeID, project string) (*persona.Instance, error) {
	ctx, span := govotel.StartAdmissionSpan(ctx, typeID, project)
	defer span.End()

	instances, err := s.activeInstances(ctx, typeID, project)
	if err != nil {
		return nil, err
	}

	counts := make([]int, len(instances))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i := range instances {
		g.Go(func() error {
			n, err := s.tasks.ActiveTasks(gctx, instances[i].ID)
			if err != nil {
				return fmt.Errorf("active tasks for %s: %w", instances[i].ID, err)
			}
			counts[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	var eligible []candidate
	for i := range instances {
		inst := &instances[i]
		if counts[i] >= inst.MaxConcurrentTasks {
			continue
		}
		if spend.NewStatus(inst.ID, inst.Counters()).Exceeded() {
			continue
		}
		eligible = append(eligible, candidate{inst: inst, active: counts[i]})
	}

	if len(eligible) == 0 {
		s.recordAdmission(ctx, "provision")
		slog.DebugContext(ctx, "no instance available", "type_id", typeID, "project", project, "considered", len(instances))
		return nil, nil
	}

	slices.SortFunc(eligible, compareCandidates)
	s.recordAdmission(ctx, "assigned")
	return eligible[0].inst, nil
}

func compareCandidates(a, b candidate) int {
	if c := cmp.Compare(a.active, b.active); c != 0 {
		return c
	}
	if c := cmp.Compare(b.inst.PriorityLevel, a.inst.PriorityLevel); c != 0 {
		return c
	}
	if c := a.inst.CreatedAt.Compare(b.inst.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.inst.ID, b.inst.ID)
}

// activeInstances pages through every active instance of the type in project.
func (s *CapacityScheduler) activeInstances(ctx context.Context, typeID, project string) ([]persona.Instance, error) {
	active := true
	filter := persona.ListFilter{TypeID: typeID, Project: project, IsActive: &active}

	var all []persona.Instance
	for offset := 0; ; offset += persona.MaxPageSize {
		page, err := s.store.ListInstances(ctx, filter, persona.MaxPageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("list candidate instances: %w", err)
		}
		all = append(all, page...)
		if len(page) < persona.MaxPageSize {
			return all, nil
		}
	}
}

// CheckSpendLimits returns the budget state of an instance.
func (s *CapacityScheduler) CheckSpendLimits(ctx context.Context, instanceID string) (spend.Status, error) {
	return s.ledger.GetSpendStatus(ctx, instanceID)
}

// Admit claims a task slot on an instance. It fails with ErrConflict when
// the instance is inactive, out of budget or already at its task cap; the
// claimed slot is given back in that case.
func (s *CapacityScheduler) Admit(ctx context.Context, instanceID string) error {
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	if !inst.IsActive {
		return fmt.Errorf("%w: instance %s is inactive", domain.ErrConflict, instanceID)
	}
	if spend.NewStatus(inst.ID, inst.Counters()).Exceeded() {
		s.recordAdmission(ctx, "over_budget")
		return fmt.Errorf("%w: instance %s is over budget", domain.ErrConflict, instanceID)
	}

	n, err := s.tasks.Increment(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("claim task slot on %s: %w", instanceID, err)
	}
	if n > inst.MaxConcurrentTasks {
		if _, err := s.tasks.Decrement(ctx, instanceID); err != nil {
			slog.ErrorContext(ctx, "task slot rollback failed", "instance_id", instanceID, "error", err)
		}
		s.recordAdmission(ctx, "at_capacity")
		return fmt.Errorf("%w: instance %s is at its task cap of %d", domain.ErrConflict, instanceID, inst.MaxConcurrentTasks)
	}
	s.recordAdmission(ctx, "admitted")
	return nil
}

// Release returns a task slot claimed by Admit.
func (s *CapacityScheduler) Release(ctx context.Context, instanceID string) error {
	if _, err := s.tasks.Decrement(ctx, instanceID); err != nil {
		return fmt.Errorf("release task slot on %s: %w", instanceID, err)
	}
	return nil
}

func (s *CapacityScheduler) recordAdmission(ctx context.Context, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Admissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
