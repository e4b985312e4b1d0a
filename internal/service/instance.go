package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/personagov/internal/domain"
	"github.com/Strob0t/personagov/internal/domain/persona"
	"github.com/Strob0t/personagov/internal/port/cache"
	"github.com/Strob0t/personagov/internal/port/capacity"
	"github.com/Strob0t/personagov/internal/port/database"
	"github.com/Strob0t/personagov/internal/port/graph"
	"github.com/Strob0t/personagov/internal/port/messagequeue"
)

const typeCachePrefix = "persona_type"

// InstanceService handles the persona instance and persona type lifecycle.
type InstanceService struct {
	store database.Store
	queue messagequeue.Queue
	tasks capacity.TaskCounter

	links   graph.Linker
	types   cache.Cache
	typeTTL time.Duration
}

// NewInstanceService creates a new InstanceService. queue and tasks may be nil.
func NewInstanceService(store database.Store, queue messagequeue.Queue, tasks capacity.TaskCounter) *InstanceService {
	return &InstanceService{store: store, queue: queue, tasks: tasks}
}

// SetLinker sets the optional graph projection.
func (s *InstanceService) SetLinker(l graph.Linker) {
	s.links = l
}

// SetTypeCache sets the cache consulted before the store for persona types.
func (s *InstanceService) SetTypeCache(c cache.Cache, ttl time.Duration) {
	s.types = c
	s.typeTTL = ttl
}

// Create validates the draft, checks the type exists and the name is free
// within the project, then persists the instance.
func (s *InstanceService) Create(ctx context.Context, req persona.CreateRequest) (*persona.Instance, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.GetType(ctx, req.TypeID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: persona type %s does not exist", domain.ErrValidation, req.TypeID)
		}
		return nil, fmt.Errorf("lookup persona type: %w", err)
	}
	if err := s.ensureNameFree(ctx, req.Name, req.Project, ""); err != nil {
		return nil, err
	}

	inst, err := s.store.CreateInstance(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}

	s.link(ctx, inst)
	publish(ctx, s.queue, messagequeue.SubjectInstanceCreated, instanceEvent(inst))
	slog.InfoContext(ctx, "persona instance created",
		"instance_id", inst.ID, "name", inst.Name, "project", inst.Project, "type", inst.TypeName)
	return inst, nil
}

// ensureNameFree returns ErrDuplicate when another instance in project
// already uses name. selfID is ignored so renames to the current name pass.
func (s *InstanceService) ensureNameFree(ctx context.Context, name, project, selfID string) error {
	existing, err := s.store.GetInstanceByName(ctx, name, project)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("check instance name: %w", err)
	case existing.ID == selfID:
		return nil
	}
	return fmt.Errorf("%w: instance %q already exists in project %q", domain.ErrDuplicate, name, project)
}

// Get returns an instance by ID.
func (s *InstanceService) Get(ctx context.Context, id string) (*persona.Instance, error) {
	return s.store.GetInstance(ctx, id)
}

// GetByName returns the instance with name in project.
func (s *InstanceService) GetByName(ctx context.Context, name, project string) (*persona.Instance, error) {
	return s.store.GetInstanceByName(ctx, name, project)
}

// List returns one page of instances matching filter, newest first.
func (s *InstanceService) List(ctx context.Context, filter persona.ListFilter, page, size int) (*persona.Page, error) {
	limit, offset, page, size := persona.PageBounds(page, size)

	total, err := s.store.CountInstances(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("count instances: %w", err)
	}
	items, err := s.store.ListInstances(ctx, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	if items == nil {
		items = []persona.Instance{}
	}
	return &persona.Page{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   size,
		TotalPages: persona.TotalPages(total, size),
	}, nil
}

// Update applies a sparse patch. A rename is checked against the other
// instances of the same project.
func (s *InstanceService) Update(ctx context.Context, id string, patch persona.UpdateRequest) (*persona.Instance, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if patch.Name != nil {
		cur, err := s.store.GetInstance(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := s.ensureNameFree(ctx, *patch.Name, cur.Project, cur.ID); err != nil {
			return nil, err
		}
	}

	inst, err := s.store.UpdateInstance(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update instance %s: %w", id, err)
	}
	if patch.Empty() {
		return inst, nil
	}

	s.link(ctx, inst)
	publish(ctx, s.queue, messagequeue.SubjectInstanceUpdated, instanceEvent(inst))
	return inst, nil
}

// Deactivate soft-deletes an instance. It refuses while the instance still
// has tasks in flight.
func (s *InstanceService) Deactivate(ctx context.Context, id string) error {
	if err := s.ensureIdle(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeactivateInstance(ctx, id); err != nil {
		return fmt.Errorf("deactivate instance %s: %w", id, err)
	}

	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		slog.WarnContext(ctx, "reload after deactivate failed", "instance_id", id, "error", err)
		return nil
	}
	s.link(ctx, inst)
	publish(ctx, s.queue, messagequeue.SubjectInstanceDeactivated, instanceEvent(inst))
	slog.InfoContext(ctx, "persona instance deactivated", "instance_id", id)
	return nil
}

// Delete removes an instance with no ledger history. Instances that have
// spent anything must be deactivated instead.
func (s *InstanceService) Delete(ctx context.Context, id string) error {
	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return err
	}
	if err := s.ensureIdle(ctx, id); err != nil {
		return err
	}
	if err := s.store.DeleteInstance(ctx, id); err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}

	if s.links != nil {
		if err := s.links.UnlinkInstance(ctx, id); err != nil {
			slog.WarnContext(ctx, "graph unlink failed", "instance_id", id, "error", err)
		}
	}
	publish(ctx, s.queue, messagequeue.SubjectInstanceDeleted, instanceEvent(inst))
	slog.InfoContext(ctx, "persona instance deleted", "instance_id", id)
	return nil
}

func (s *InstanceService) ensureIdle(ctx context.Context, id string) error {
	if s.tasks == nil {
		return nil
	}
	active, err := s.tasks.ActiveTasks(ctx, id)
	if err != nil {
		return fmt.Errorf("active tasks for %s: %w", id, err)
	}
	if active > 0 {
		return fmt.Errorf("%w: instance %s has %d active tasks", domain.ErrConflict, id, active)
	}
	return nil
}

// Statistics summarizes the fleet.
func (s *InstanceService) Statistics(ctx context.Context) (*persona.Statistics, error) {
	return s.store.InstanceStatistics(ctx)
}

// ProjectInstances lists the instance IDs the graph projection links to
// project. It is empty while the graph store is disabled.
func (s *InstanceService) ProjectInstances(ctx context.Context, project string) ([]string, error) {
	if s.links == nil {
		return []string{}, nil
	}
	return s.links.InstancesForProject(ctx, project)
}

func (s *InstanceService) link(ctx context.Context, inst *persona.Instance) {
	if s.links == nil {
		return
	}
	if err := s.links.LinkInstance(ctx, inst); err != nil {
		slog.WarnContext(ctx, "graph link failed", "instance_id", inst.ID, "error", err)
	}
}

// CreateType validates and persists a persona type.
func (s *InstanceService) CreateType(ctx context.Context, req persona.CreateTypeRequest) (*persona.Type, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	t, err := s.store.CreateType(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create persona type: %w", err)
	}
	s.cacheType(ctx, t)
	return t, nil
}

// SeedTypes validates every draft and inserts the ones whose type name is not
// taken yet. Nothing is written when any draft is invalid.
func (s *InstanceService) SeedTypes(ctx context.Context, reqs []persona.CreateTypeRequest) (int64, error) {
	if len(reqs) == 0 {
		return 0, nil
	}
	seen := make(map[string]bool, len(reqs))
	for i := range reqs {
		reqs[i].Normalize()
		if err := reqs[i].Validate(); err != nil {
			return 0, fmt.Errorf("type %d: %w", i, err)
		}
		if seen[reqs[i].TypeName] {
			return 0, fmt.Errorf("type %q listed twice: %w", reqs[i].TypeName, domain.ErrValidation)
		}
		seen[reqs[i].TypeName] = true
	}
	n, err := s.store.CreateTypes(ctx, reqs)
	if err != nil {
		return 0, err
	}
	slog.InfoContext(ctx, "persona types seeded", "submitted", len(reqs), "inserted", n)
	return n, nil
}

// GetType returns a persona type, reading through the type cache.
func (s *InstanceService) GetType(ctx context.Context, id string) (*persona.Type, error) {
	key := cache.Key(typeCachePrefix, id)
	if s.types != nil {
		if data, ok, err := s.types.Get(ctx, key); err == nil && ok {
			var t persona.Type
			if err := json.Unmarshal(data, &t); err == nil {
				return &t, nil
			}
		}
	}
	t, err := s.store.GetType(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheType(ctx, t)
	return t, nil
}

// GetTypeByName returns a persona type by its unique name.
func (s *InstanceService) GetTypeByName(ctx context.Context, typeName string) (*persona.Type, error) {
	return s.store.GetTypeByName(ctx, typeName)
}

// ListTypes returns all persona types ordered by display name.
func (s *InstanceService) ListTypes(ctx context.Context) ([]persona.Type, error) {
	return s.store.ListTypes(ctx)
}

// UpdateType applies a sparse patch and refreshes the cached copy.
func (s *InstanceService) UpdateType(ctx context.Context, id string, patch persona.UpdateTypeRequest) (*persona.Type, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if s.types != nil {
		if err := s.types.Delete(ctx, cache.Key(typeCachePrefix, id)); err != nil {
			slog.WarnContext(ctx, "type cache invalidation failed", "type_id", id, "error", err)
		}
	}
	t, err := s.store.UpdateType(ctx, id, patch)
	if err != nil {
		return nil, fmt.Errorf("update persona type %s: %w", id, err)
	}
	s.cacheType(ctx, t)
	return t, nil
}

func (s *InstanceService) cacheType(ctx context.Context, t *persona.Type) {
	if s.types == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := s.types.Set(ctx, cache.Key(typeCachePrefix, t.ID), data, s.typeTTL); err != nil {
		slog.WarnContext(ctx, "type cache write failed", "type_id", t.ID, "error", err)
	}
}
