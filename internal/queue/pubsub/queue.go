// Package pubsub provides a distributed audit job queue on Google Cloud Pub/Sub.
//
// Enqueue publishes a JSON queue item to a topic. Dequeue hands out messages
// received on a subscription; each Receive callback blocks until the worker
// acks or nacks the delivery, so Pub/Sub flow control bounds in-flight audits.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// ErrClosed is returned by Dequeue after Close or once Receive has stopped.
var ErrClosed = fmt.Errorf("pubsub: %w", audit.ErrQueueClosed)

// Queue implements audit.Queue.
type Queue struct {
	topic  *pubsub.Topic
	sub    *pubsub.Subscription
	logger *zap.Logger

	deliveries chan *delivery
	stopped    chan struct{}
	startOnce  sync.Once
	cancel     context.CancelFunc
	mu         sync.Mutex
	recvErr    error
}

// New builds a Queue. sub may be nil for publish-only processes (the API).
func New(topic *pubsub.Topic, sub *pubsub.Subscription, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		topic:      topic,
		sub:        sub,
		logger:     logger,
		deliveries: make(chan *delivery),
		stopped:    make(chan struct{}),
	}
}

// Enqueue publishes item and waits for the server ack.
func (q *Queue) Enqueue(ctx context.Context, item audit.QueueItem) error {
	if q.topic == nil {
		return errors.New("pubsub topic is not configured")
	}
	if item.Attempt <= 0 {
		item.Attempt = 1
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	attrs := map[string]string{"audit_id": item.AuditID}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(attrs))
	if _, err := q.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx); err != nil {
		return fmt.Errorf("publish queue item: %w", err)
	}
	return nil
}

// Dequeue returns the next delivery. The first call starts the receiver.
func (q *Queue) Dequeue(ctx context.Context) (audit.Delivery, error) {
	if q.sub == nil {
		return nil, errors.New("pubsub subscription is not configured")
	}
	q.startOnce.Do(q.start)
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case d := <-q.deliveries:
		return d, nil
	case <-q.stopped:
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.recvErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrClosed, q.recvErr)
		}
		return nil, ErrClosed
	}
}

// Close stops the receiver, nacking anything not yet handed to a worker.
func (q *Queue) Close() {
	q.startOnce.Do(func() {
		close(q.stopped)
	})
	if q.cancel != nil {
		q.cancel()
		<-q.stopped
	}
}

func (q *Queue) start() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go func() {
		defer close(q.stopped)
		err := q.sub.Receive(ctx, q.handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			q.logger.Error("pubsub receive stopped", zap.Error(err))
			q.mu.Lock()
			q.recvErr = err
			q.mu.Unlock()
		}
	}()
}

func (q *Queue) handle(ctx context.Context, msg *pubsub.Message) {
	var item audit.QueueItem
	if err := json.Unmarshal(msg.Data, &item); err != nil || item.AuditID == "" {
		q.logger.Warn("dropping malformed queue message", zap.String("message_id", msg.ID), zap.Error(err))
		msg.Ack()
		return
	}
	if msg.DeliveryAttempt != nil {
		item.Attempt = *msg.DeliveryAttempt
	}
	d := &delivery{
		msg:  msg,
		item: item,
		ctx:  otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Attributes)),
		done: make(chan struct{}),
	}
	select {
	case q.deliveries <- d:
	case <-ctx.Done():
		msg.Nack()
		return
	}
	select {
	case <-d.done:
	case <-ctx.Done():
	}
}

type delivery struct {
	msg  *pubsub.Message
	item audit.QueueItem
	ctx  context.Context
	once sync.Once
	done chan struct{}
}

func (d *delivery) Item() audit.QueueItem {
	return d.item
}

// Context carries the trace context propagated from the publisher.
func (d *delivery) Context() context.Context {
	return d.ctx
}

func (d *delivery) Ack() {
	d.once.Do(func() {
		d.msg.Ack()
		close(d.done)
	})
}

func (d *delivery) Nack(error) {
	d.once.Do(func() {
		d.msg.Nack()
		close(d.done)
	})
}
