package natskv

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/personagov/internal/adapter/datastore"
	"github.com/Strob0t/personagov/internal/domain"
	"github.com/Strob0t/personagov/internal/port/cache"
	"github.com/Strob0t/personagov/internal/port/capacity"
)

// casAttempts bounds the compare-and-swap loop under contention.
const casAttempts = 16

// TaskCounter keeps one integer per instance in a KV bucket. Writes are
// compare-and-swap on the entry revision, so concurrent increments from
// several processes never lose an update.
type TaskCounter struct {
	run datastore.KVRunner
}

var _ capacity.TaskCounter = (*TaskCounter)(nil)

// NewTaskCounter creates a counter on the bucket bound to run.
func NewTaskCounter(run datastore.KVRunner) *TaskCounter {
	return &TaskCounter{run: run}
}

func counterKey(instanceID string) string {
	return cache.Key("tasks", instanceID)
}

// read returns the current count and revision; a missing key is (0, 0).
func read(ctx context.Context, kv jetstream.KeyValue, key string) (int, uint64, error) {
	entry, err := kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	n, err := strconv.Atoi(string(entry.Value()))
	if err != nil {
		return 0, 0, fmt.Errorf("task counter %s: corrupt value %q", key, entry.Value())
	}
	return n, entry.Revision(), nil
}

// ActiveTasks returns the number of in-flight tasks of an instance.
func (c *TaskCounter) ActiveTasks(ctx context.Context, instanceID string) (int, error) {
	var n int
	err := c.run(ctx, "task_count", func(ctx context.Context, kv jetstream.KeyValue) error {
		var err error
		n, _, err = read(ctx, kv, counterKey(instanceID))
		return err
	})
	return n, err
}

// Increment adds one task and returns the new count.
func (c *TaskCounter) Increment(ctx context.Context, instanceID string) (int, error) {
	return c.add(ctx, instanceID, 1)
}

// Decrement removes one task and returns the new count. The count stops at
// zero.
func (c *TaskCounter) Decrement(ctx context.Context, instanceID string) (int, error) {
	return c.add(ctx, instanceID, -1)
}

func (c *TaskCounter) add(ctx context.Context, instanceID string, delta int) (int, error) {
	key := counterKey(instanceID)
	var result int
	err := c.run(ctx, "task_count_add", func(ctx context.Context, kv jetstream.KeyValue) error {
		for range casAttempts {
			cur, rev, err := read(ctx, kv, key)
			if err != nil {
				return err
			}
			next := max(cur+delta, 0)
			val := []byte(strconv.Itoa(next))
			if rev == 0 {
				_, err = kv.Create(ctx, key, val)
			} else {
				_, err = kv.Update(ctx, key, val, rev)
			}
			if err == nil {
				result = next
				return nil
			}
			if !errors.Is(err, jetstream.ErrKeyExists) {
				return err
			}
		}
		return fmt.Errorf("%w: task counter %s: revision kept changing", domain.ErrTransient, instanceID)
	})
	return result, err
}
