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
	id1, err := pub.Publish(context.Background(), "jobs", map[string]string{"job_id": "a"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	msgs[0].Topic = "modified"
	require.Equal(t, "jobs", pub.Messages()[0].Topic, "Messages must return a copy")

	require.Equal(t, []any{"payload"}, pub.ByTopic("audit"))
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("topic not found"))
	_, err := pub.Publish(context.Background(), "jobs", 1)
	require.ErrorContains(t, err, "topic not found")
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "jobs", 1)
	require.NoError(t, err)
}
