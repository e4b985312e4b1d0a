// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
// The context carries request-scoped values such as the request ID.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects carried on the governance stream.
const (
	SubjectSpendRecorded  = "persona.spend.recorded"
	SubjectBudgetExceeded = "persona.budget.exceeded"
	SubjectSpendAlert     = "persona.spend.alert"

	SubjectInstanceCreated     = "persona.instance.created"
	SubjectInstanceUpdated     = "persona.instance.updated"
	SubjectInstanceDeactivated = "persona.instance.deactivated"
	SubjectInstanceDeleted     = "persona.instance.deleted"

	// Inbound triggers published by an external scheduler.
	SubjectResetDaily   = "persona.maintenance.reset.daily"
	SubjectResetMonthly = "persona.maintenance.reset.monthly"
)

// StreamSubjects lists the subject filters bound to the stream.
var StreamSubjects = []string{"persona.>"}
