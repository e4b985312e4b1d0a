package logger

import "context"

type contextKey int

const (
	requestIDKey contextKey = iota
	instanceIDKey
)

// WithRequestID returns a new context with the given request ID stored.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID extracts the request ID from the context.
// Returns an empty string if no request ID is set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithInstanceID tags the context with the persona instance being worked on.
func WithInstanceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, instanceIDKey, id)
}

// InstanceID extracts the persona instance ID from the context.
func InstanceID(ctx context.Context) string {
	id, _ := ctx.Value(instanceIDKey).(string)
	return id
}
