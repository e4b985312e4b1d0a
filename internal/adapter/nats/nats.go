// Package nats implements the message queue port on NATS JetStream. The
// connection itself is owned by the datastore manager; Queue only adds the
// stream, consumers and delivery policy on top of it.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/personagov/internal/logger"
	"github.com/Strob0t/personagov/internal/port/messagequeue"
)

const (
	headerRequestID  = "X-Request-ID"
	headerRetryCount = "Retry-Count"
	headerError      = "X-Error"

	dlqSuffix  = ".dlq"
	maxRetries = 3
	nakDelay   = 2 * time.Second
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string

	mu   sync.Mutex
	subs []jetstream.ConsumeContext
}

var _ messagequeue.Queue = (*Queue)(nil)

// NewQueue ensures the governance stream exists on js and returns a queue
// publishing to it. The caller keeps ownership of nc.
func NewQueue(ctx context.Context, nc *nats.Conn, js jetstream.JetStream, stream string) (*Queue, error) {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: messagequeue.StreamSubjects,
	})
	if err != nil {
		return nil, fmt.Errorf("jetstream stream %s: %w", stream, err)
	}
	slog.Info("nats stream ready", "stream", stream, "subjects", messagequeue.StreamSubjects)
	return &Queue{nc: nc, js: js, stream: stream}, nil
}

// Publish validates data against the subject's schema and sends it. The
// request ID in ctx travels as a header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	if err := messagequeue.Validate(subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for messages on the given subject.
// Messages failing schema validation go straight to <subject>.dlq. Handler
// errors are redelivered up to maxRetries times before the message is moved
// there as well.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(msg, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	q.mu.Lock()
	q.subs = append(q.subs, cons)
	q.mu.Unlock()
	return cons.Stop, nil
}

func (q *Queue) handle(msg jetstream.Msg, handler messagequeue.Handler) {
	ctx := context.Background()
	hdrs := msg.Headers()
	if id := hdrs.Get(headerRequestID); id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}

	if err := messagequeue.Validate(msg.Subject(), msg.Data()); err != nil {
		slog.ErrorContext(ctx, "invalid message", "subject", msg.Subject(), "error", err)
		q.moveToDLQ(ctx, msg, err)
		return
	}

	if err := handler(ctx, msg.Subject(), msg.Data()); err != nil {
		retries := retryCount(msg)
		slog.ErrorContext(ctx, "message handler failed", "subject", msg.Subject(), "retries", retries, "error", err)
		if retries >= maxRetries {
			q.moveToDLQ(ctx, msg, err)
			return
		}
		if nakErr := msg.NakWithDelay(nakDelay); nakErr != nil {
			slog.ErrorContext(ctx, "nats nak failed", "error", nakErr)
		}
		return
	}
	if ackErr := msg.Ack(); ackErr != nil {
		slog.ErrorContext(ctx, "nats ack failed", "error", ackErr)
	}
}

// retryCount is the larger of the Retry-Count header and the number of
// redeliveries JetStream has made.
func retryCount(msg jetstream.Msg) int {
	n, _ := strconv.Atoi(msg.Headers().Get(headerRetryCount))
	if md, err := msg.Metadata(); err == nil && md.NumDelivered > 1 {
		n = max(n, int(md.NumDelivered)-1)
	}
	return n
}

func (q *Queue) moveToDLQ(ctx context.Context, msg jetstream.Msg, cause error) {
	dlq := &nats.Msg{Subject: msg.Subject() + dlqSuffix, Data: msg.Data(), Header: nats.Header{}}
	for k, v := range msg.Headers() {
		dlq.Header[k] = v
	}
	dlq.Header.Set(headerError, cause.Error())
	if _, err := q.js.PublishMsg(ctx, dlq); err != nil {
		slog.ErrorContext(ctx, "dlq publish failed", "subject", dlq.Subject, "error", err)
		_ = msg.Nak()
		return
	}
	if err := msg.Term(); err != nil {
		slog.ErrorContext(ctx, "nats term failed", "error", err)
	}
}

// Drain stops every consumer after in-flight messages are handled. The
// connection stays open.
func (q *Queue) Drain() error {
	q.mu.Lock()
	subs := q.subs
	q.subs = nil
	q.mu.Unlock()
	for _, s := range subs {
		s.Drain()
	}
	var errs []error
	for _, s := range subs {
		select {
		case <-s.Closed():
		case <-time.After(5 * time.Second):
			errs = append(errs, errors.New("nats drain: consumer did not stop in time"))
		}
	}
	return errors.Join(errs...)
}

// IsConnected reports whether the underlying connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc != nil && q.nc.IsConnected()
}
