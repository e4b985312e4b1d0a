// Package graph defines the port for the optional relationship projection of
// projects and persona instances.
package graph

import (
	"context"

	"github.com/Strob0t/personagov/internal/domain/persona"
)

// Linker maintains (Project)-[:STAFFED_BY]->(Persona) relationships.
// Implementations degrade to no-ops when the graph store is unavailable.
type Linker interface {
	LinkInstance(ctx context.Context, inst *persona.Instance) error
	UnlinkInstance(ctx context.Context, instanceID string) error
	InstancesForProject(ctx context.Context, project string) ([]string, error)
}
