package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "audit.done", map[string]string{"audit_id": "a1"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "audit.failed", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "audit.failed", msgs[1].Topic)
}

func TestPublisherError(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.Err = errors.New("broker down")
	_, err := pub.Publish(context.Background(), "audit.done", nil)
	require.EqualError(t, err, "broker down")
	require.Empty(t, pub.Messages())
}
