package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-audit/internal/audit"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, 2)
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), audit.QueueItem{AuditID: "a1"}))
	d, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a1", d.Item().AuditID)
	require.Equal(t, 1, d.Item().Attempt)
	d.Ack()
	require.Zero(t, q.Len())
}

func TestQueueNackRedeliversUntilMaxAttempts(t *testing.T) {
	t.Parallel()

	q := NewQueue(2, 2)
	var (
		mu      sync.Mutex
		dropped []audit.QueueItem
	)
	q.OnDrop = func(item audit.QueueItem, _ error) {
		mu.Lock()
		defer mu.Unlock()
		dropped = append(dropped, item)
	}
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.Enqueue(ctx, audit.QueueItem{AuditID: "a1"}))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	first.Nack(errors.New("boom"))
	first.Nack(errors.New("ignored second nack"))

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, second.Item().Attempt)
	second.Nack(errors.New("boom again"))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(dropped) == 1
	}, time.Second, 5*time.Millisecond)
	require.Zero(t, q.Len())
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, 1)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, q.Enqueue(context.Background(), audit.QueueItem{AuditID: "primed"}))
	err = q.Enqueue(ctx, audit.QueueItem{AuditID: "blocked"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, 1)
	q.Close()
	q.Close()

	require.ErrorIs(t, q.Enqueue(context.Background(), audit.QueueItem{AuditID: "a1"}), ErrClosed)
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
