// Package capacity defines the active task counter consulted by admission
// control.
package capacity

import "context"

// TaskCounter tracks the number of in-flight tasks per persona instance.
// Counts never go below zero.
type TaskCounter interface {
	ActiveTasks(ctx context.Context, instanceID string) (int, error)
	Increment(ctx context.Context, instanceID string) (int, error)
	Decrement(ctx context.Context, instanceID string) (int, error)
}
