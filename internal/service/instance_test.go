package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strob0t/personagov/internal/domain"
	"github.com/Strob0t/personagov/internal/domain/persona"
	"github.com/Strob0t/personagov/internal/domain/spend"
	"github.com/Strob0t/personagov/internal/port/messagequeue"
	"github.com/Strob0t/personagov/internal/service"
)

type instanceEnv struct {
	svc    *service.InstanceService
	store  *memStore
	queue  *mockQueue
	tasks  *mockCounter
	links  *mockLinker
	typeID string
}

func newInstanceEnv(t *testing.T) *instanceEnv {
	t.Helper()
	env := &instanceEnv{
		store: newMemStore(),
		queue: &mockQueue{},
		tasks: newMockCounter(),
		links: newMockLinker(),
	}
	env.svc = service.NewInstanceService(env.store, env.queue, env.tasks)
	env.svc.SetLinker(env.links)
	env.svc.SetTypeCache(&memCache{data: map[string][]byte{}}, time.Minute)

	typ, err := env.svc.CreateType(context.Background(), persona.CreateTypeRequest{
		TypeName:    "software-architect",
		DisplayName: "Software Architect",
		Category:    persona.CategoryArchitecture,
	})
	require.NoError(t, err)
	env.typeID = typ.ID
	return env
}

func draft(typeID, name, project string) persona.CreateRequest {
	return persona.CreateRequest{
		Name:    name,
		TypeID:  typeID,
		Org:     "dev.azure.com/acme",
		Project: project,
		Providers: []persona.ProviderConfig{
			{Provider: persona.ProviderOpenAI, ModelName: "gpt-4", Temperature: 0.2, APIKeyEnv: "OPENAI_API_KEY"},
		},
	}
}

func TestInstanceCreate(t *testing.T) {
	env := newInstanceEnv(t)
	ctx := context.Background()

	inst, err := env.svc.Create(ctx, draft(env.typeID, " Steve Bot ", "alpha"))
	require.NoError(t, err)

	assert.Equal(t, "Steve Bot", inst.Name)
	assert.Equal(t, "https://dev.azure.com/acme", inst.Org)
	assert.Equal(t, "software-architect", inst.TypeName)
	assert.True(t, inst.SpendLimitDaily.Equal(persona.DefaultSpendLimitDaily))
	assert.Equal(t, []string{messagequeue.SubjectInstanceCreated}, env.queue.subjects())
	assert.Equal(t, "alpha", env.links.linked[inst.ID])

	ids, err := env.svc.ProjectInstances(ctx, "alpha")
	require.NoError(t, err)
	assert.Equal(t, []string{inst.ID}, ids)
}

func TestInstanceCreateRejections(t *testing.T) {
	env := newInstanceEnv(t)
	ctx := context.Background()
	_, err := env.svc.Create(ctx, draft(env.typeID, "Steve", "alpha"))
	require.NoError(t, err)

	_, err = env.svc.Create(ctx, draft(env.typeID, "Steve", "alpha"))
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	_, err = env.svc.Create(ctx, draft(env.typeID, "Steve", "beta"))
	assert.NoError(t, err, "names are unique per project only")

	_, err = env.svc.Create(ctx, draft("no-such-type", "Other", "alpha"))
	assert.ErrorIs(t, err, domain.ErrValidation)

	before := env.store.called("CreateInstance")
	bad := draft(env.typeID, "Cheap", "alpha")
	neg := d("-1")
	bad.SpendLimitDaily = &neg
	_, err = env.svc.Create(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, before, env.store.called("CreateInstance"), "validation must precede store calls")
}

func TestInstanceCreateSurvivesSideEffectFailures(t *testing.T) {
	env := newInstanceEnv(t)
	env.queue.publishErr = errors.New("nats: no responders")
	env.links.err = errors.New("neo4j: unavailable")

	inst, err := env.svc.Create(context.Background(), draft(env.typeID, "Steve", "alpha"))
	require.NoError(t, err)
	assert.NotEmpty(t, inst.ID)
}

func TestInstanceListPagination(t *testing.T) {
	env := newInstanceEnv(t)
	ctx := context.Background()
	for i := range 25 {
		_, err := env.svc.Create(ctx, draft(env.typeID, fmt.Sprintf("bot-%02d", i), "alpha"))
		require.NoError(t, err)
	}

	seen := map[string]bool{}
	for page, want := range map[int]int{1: 10, 2: 10, 3: 5} {
		p, err := env.svc.List(ctx, persona.ListFilter{Project: "alpha"}, page, 10)
		require.NoError(t, err)
		assert.Equal(t, 25, p.Total)
		assert.Equal(t, 3, p.TotalPages)
		assert.Len(t, p.Items, want)
		for _, it := range p.Items {
			assert.False(t, seen[it.ID], "instance listed twice")
			seen[it.ID] = true
		}
	}
	assert.Len(t, seen, 25)

	p, err := env.svc.List(ctx, persona.ListFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, "bot-24", p.Items[0].Name, "newest first")

	p, err = env.svc.List(ctx, persona.ListFilter{Project: "nowhere"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, p.TotalPages)
	assert.NotNil(t, p.Items)
}

func TestInstanceUpdate(t *testing.T) {
	env := newInstanceEnv(t)
	ctx := context.Background()
	a, err := env.svc.Create(ctx, draft(env.typeID, "A", "alpha"))
	require.NoError(t, err)
	_, err = env.svc.Create(ctx, draft(env.typeID, "B", "alpha"))
	require.NoError(t, err)

	taken := "B"
	_, err = env.svc.Update(ctx, a.ID, persona.UpdateRequest{Name: &taken})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	same := "A"
	prio := 7
	got, err := env.svc.Update(ctx, a.ID, persona.UpdateRequest{Name: &same, PriorityLevel: &prio})
	require.NoError(t, err)
	assert.Equal(t, 7, got.PriorityLevel)

	n := len(env.queue.subjects())
	got, err = env.svc.Update(ctx, a.ID, persona.UpdateRequest{})
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Len(t, env.queue.subjects(), n, "empty patch publishes nothing")

	_, err = env.svc.Update(ctx, "missing", persona.UpdateRequest{PriorityLevel: &prio})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInstanceDeactivate(t *testing.T) {
	env := newInstanceEnv(t)
	ctx := context.Background()
	inst, err := env.svc.Create(ctx, draft(env.typeID, "Steve", "alpha"))
	require.NoError(t, err)

	env.tasks.set(inst.ID, 2)
	err = env.svc.Deactivate(ctx, inst.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	env.tasks.set(inst.ID, 0)
	require.NoError(t, env.svc.Deactivate(ctx, inst.ID))

	got, err := env.svc.Get(ctx, inst.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Contains(t, env.queue.subjects(), messagequeue.SubjectInstanceDeactivated)

	assert.ErrorIs(t, env.svc.Deactivate(ctx, "missing"), domain.ErrNotFound)
}

func TestInstanceDelete(t *testing.T) {
	env := newInstanceEnv(t)
	ctx := context.Background()
	spent, err := env.svc.Create(ctx, draft(env.typeID, "Spent", "alpha"))
	require.NoError(t, err)
	fresh, err := env.svc.Create(ctx, draft(env.typeID, "Fresh", "alpha"))
	require.NoError(t, err)

	ledger := service.NewSpendLedger(env.store, nil, testSpendConfig)
	_, err = ledger.RecordSpend(ctx, spend.RecordRequest{InstanceID: spent.ID, Amount: d("1.00")})
	require.NoError(t, err)

	assert.ErrorIs(t, env.svc.Delete(ctx, spent.ID), domain.ErrConflict)

	require.NoError(t, env.svc.Delete(ctx, fresh.ID))
	_, err = env.svc.Get(ctx, fresh.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []string{fresh.ID}, env.links.unlinked)
	assert.Contains(t, env.queue.subjects(), messagequeue.SubjectInstanceDeleted)
}

func TestInstanceStatistics(t *testing.T) {
	env := newInstanceEnv(t)
	ctx := context.Background()
	a, err := env.svc.Create(ctx, draft(env.typeID, "A", "alpha"))
	require.NoError(t, err)
	_, err = env.svc.Create(ctx, draft(env.typeID, "B", "beta"))
	require.NoError(t, err)
	require.NoError(t, env.svc.Deactivate(ctx, a.ID))

	st, err := env.svc.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalInstances)
	assert.Equal(t, 1, st.ActiveInstances)
	assert.Equal(t, map[string]int{"beta": 1}, st.ByProject)
}

func TestTypeCache(t *testing.T) {
	env := newInstanceEnv(t)
	ctx := context.Background()

	typ, err := env.svc.GetType(ctx, env.typeID)
	require.NoError(t, err)
	assert.Equal(t, "software-architect", typ.TypeName)
	assert.Equal(t, 0, env.store.called("GetType"), "type created through the service is served from cache")

	name := "Principal Architect"
	_, err = env.svc.UpdateType(ctx, env.typeID, persona.UpdateTypeRequest{DisplayName: &name})
	require.NoError(t, err)

	typ, err = env.svc.GetType(ctx, env.typeID)
	require.NoError(t, err)
	assert.Equal(t, name, typ.DisplayName)

	_, err = env.svc.GetType(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = env.svc.CreateType(ctx, persona.CreateTypeRequest{TypeName: "software-architect", DisplayName: "Dup"})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	types, err := env.svc.ListTypes(ctx)
	require.NoError(t, err)
	assert.Len(t, types, 1)
}

func TestSeedTypes(t *testing.T) {
	env := newInstanceEnv(t)
	ctx := context.Background()

	n, err := env.svc.SeedTypes(ctx, []persona.CreateTypeRequest{
		{TypeName: "software-architect", DisplayName: "Already There"},
		{TypeName: " qa-engineer ", DisplayName: "QA Engineer", Category: persona.CategoryQuality},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	typ, err := env.svc.GetTypeByName(ctx, "qa-engineer")
	require.NoError(t, err)
	assert.Equal(t, persona.CategoryQuality, typ.Category)
	assert.NotNil(t, typ.DefaultCapabilities)

	tests := []struct {
		name string
		reqs []persona.CreateTypeRequest
	}{
		{"invalid draft", []persona.CreateTypeRequest{{TypeName: "ok", DisplayName: "Ok"}, {TypeName: "bad name", DisplayName: "Bad"}}},
		{"listed twice", []persona.CreateTypeRequest{{TypeName: "twin", DisplayName: "A"}, {TypeName: "twin", DisplayName: "B"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := env.store.called("CreateType")
			_, err := env.svc.SeedTypes(ctx, tt.reqs)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.Equal(t, before, env.store.called("CreateType"), "nothing is written")
		})
	}

	n, err = env.svc.SeedTypes(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
