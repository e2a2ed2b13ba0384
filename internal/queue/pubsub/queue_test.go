package pubsub

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/site-audit/internal/audit"
)

func newTestQueue(t *testing.T) (*Queue, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "audit-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "audit-jobs")
	require.NoError(t, err)
	t.Cleanup(topic.Stop)
	sub, err := client.CreateSubscription(ctx, "audit-workers", pubsub.SubscriptionConfig{
		Topic:       topic,
		AckDeadline: 10 * time.Second,
	})
	require.NoError(t, err)

	q := New(topic, sub, nil)
	t.Cleanup(q.Close)
	return q, srv
}

func TestQueueRoundTrip(t *testing.T) {
	q, srv := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, audit.QueueItem{AuditID: "a1", Submitted: 42}))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "a1", msgs[0].Attributes["audit_id"])

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "a1", d.Item().AuditID)
	require.EqualValues(t, 42, d.Item().Submitted)
	d.Ack()

	require.Eventually(t, func() bool {
		m := srv.Messages()
		return len(m) == 1 && m[0].Acks == 1
	}, 5*time.Second, 20*time.Millisecond)
}

func TestQueueNackRedelivers(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, audit.QueueItem{AuditID: "a2"}))

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	first.Nack(nil)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "a2", second.Item().AuditID)
	second.Ack()
}

func TestQueueNotConfigured(t *testing.T) {
	t.Parallel()

	q := New(nil, nil, nil)
	require.Error(t, q.Enqueue(context.Background(), audit.QueueItem{AuditID: "a"}))
	_, err := q.Dequeue(context.Background())
	require.Error(t, err)
	q.Close()
}

func TestQueueDequeueAfterClose(t *testing.T) {
	q, _ := newTestQueue(t)
	q.Close()

	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
