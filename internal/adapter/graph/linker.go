// Package graph projects project/persona relationships onto the optional
// graph store.
package graph

import (
	"context"
	"fmt"

	"github.com/Strob0t/personagov/internal/domain/persona"
	portgraph "github.com/Strob0t/personagov/internal/port/graph"
)

// Runner executes Cypher. datastore.Manager satisfies it and returns no rows
// while the graph store is disabled or unreachable.
type Runner interface {
	Graph(ctx context.Context, op, cypher string, params map[string]any) ([]map[string]any, error)
}

const (
	linkCypher = `MERGE (p:Project {name: $project})
MERGE (i:Persona {id: $id})
SET i.name = $name, i.type_id = $type_id, i.type_name = $type_name, i.active = $active
MERGE (p)-[:STAFFED_BY]->(i)`

	unlinkCypher = `MATCH (i:Persona {id: $id}) DETACH DELETE i`

	projectCypher = `MATCH (:Project {name: $project})-[:STAFFED_BY]->(i:Persona)
RETURN i.id AS id ORDER BY id`
)

// Linker maintains (Project)-[:STAFFED_BY]->(Persona) edges.
type Linker struct {
	run Runner
}

var _ portgraph.Linker = (*Linker)(nil)

// NewLinker returns a linker that runs its statements through r.
func NewLinker(r Runner) *Linker {
	return &Linker{run: r}
}

// LinkInstance upserts the persona node and its project edge.
func (l *Linker) LinkInstance(ctx context.Context, inst *persona.Instance) error {
	_, err := l.run.Graph(ctx, "link_instance", linkCypher, map[string]any{
		"project":   inst.Project,
		"id":        inst.ID,
		"name":      inst.Name,
		"type_id":   inst.TypeID,
		"type_name": inst.TypeName,
		"active":    inst.IsActive,
	})
	if err != nil {
		return fmt.Errorf("link instance %s: %w", inst.ID, err)
	}
	return nil
}

// UnlinkInstance removes the persona node and its edges.
func (l *Linker) UnlinkInstance(ctx context.Context, instanceID string) error {
	if _, err := l.run.Graph(ctx, "unlink_instance", unlinkCypher, map[string]any{"id": instanceID}); err != nil {
		return fmt.Errorf("unlink instance %s: %w", instanceID, err)
	}
	return nil
}

// InstancesForProject lists the persona ids staffed on project.
func (l *Linker) InstancesForProject(ctx context.Context, project string) ([]string, error) {
	rows, err := l.run.Graph(ctx, "project_instances", projectCypher, map[string]any{"project": project})
	if err != nil {
		return nil, fmt.Errorf("project instances %s: %w", project, err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if id, ok := r["id"].(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
