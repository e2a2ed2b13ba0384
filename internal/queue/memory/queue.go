// Package memory provides an in-process audit job queue for local development.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/site-audit/internal/audit"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = audit.ErrQueueClosed

// DefaultMaxAttempts is how many times an item is delivered before it is dropped.
const DefaultMaxAttempts = 2

// Queue is a bounded channel queue with at-least-once delivery. A nacked item
// is re-enqueued with Attempt+1 until MaxAttempts deliveries have happened.
type Queue struct {
	ch          chan audit.QueueItem
	done        chan struct{}
	closeOnce   sync.Once
	maxAttempts int
	wg          sync.WaitGroup

	// OnDrop, when set, is called for items that exhausted their attempts.
	OnDrop func(item audit.QueueItem, err error)
}

// NewQueue constructs a queue with the provided capacity and delivery limit.
func NewQueue(capacity, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		ch:          make(chan audit.QueueItem, capacity),
		done:        make(chan struct{}),
		maxAttempts: maxAttempts,
	}
}

// Enqueue pushes an item or returns when ctx ends or the queue closes.
func (q *Queue) Enqueue(ctx context.Context, item audit.QueueItem) error {
	if item.Attempt <= 0 {
		item.Attempt = 1
	}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next item.
func (q *Queue) Dequeue(ctx context.Context) (audit.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return nil, ErrClosed
	case item := <-q.ch:
		return &delivery{q: q, item: item}, nil
	}
}

// Len reports the number of buffered items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue and waits for pending redeliveries to give up.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
}

func (q *Queue) redeliver(item audit.QueueItem, cause error) {
	if item.Attempt >= q.maxAttempts {
		if q.OnDrop != nil {
			q.OnDrop(item, cause)
		}
		return
	}
	item.Attempt++
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		select {
		case q.ch <- item:
		case <-q.done:
		}
	}()
}

type delivery struct {
	q    *Queue
	item audit.QueueItem
	once sync.Once
}

func (d *delivery) Item() audit.QueueItem {
	return d.item
}

func (d *delivery) Ack() {
	d.once.Do(func() {})
}

func (d *delivery) Nack(err error) {
	d.once.Do(func() {
		d.q.redeliver(d.item, err)
	})
}
