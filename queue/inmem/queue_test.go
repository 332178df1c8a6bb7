package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/ratchet/queue"
	"goa.design/ratchet/queue/queuetest"
)

func TestConformance(t *testing.T) {
	queuetest.RunConformance(t, func(t *testing.T) queue.Queue {
		return New()
	})
}

func TestSendReceiveDelete(t *testing.T) {
	q := New()
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, []byte("one")))
	require.NoError(t, q.Send(ctx, []byte("two")))

	msgs, err := q.Receive(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, []byte("one"), msgs[0].Body)
	require.Equal(t, []byte("two"), msgs[1].Body)
	require.NotEqual(t, msgs[0].ID, msgs[1].ID)

	for _, m := range msgs {
		require.NoError(t, q.Delete(ctx, m.ID, m.Receipt))
	}
	require.Equal(t, 0, q.Len())
}

func TestInvisibilityWindow(t *testing.T) {
	q := New(WithVisibility(50 * time.Millisecond))
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, []byte("m")))

	first, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Invisible while the window is open.
	again, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Empty(t, again)

	// Redelivered with a fresh receipt once it lapses.
	time.Sleep(70 * time.Millisecond)
	redelivered, err := q.Receive(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	require.Equal(t, first[0].ID, redelivered[0].ID)
	require.NotEqual(t, first[0].Receipt, redelivered[0].Receipt)
}

func TestReceiveWaits(t *testing.T) {
	q := New()
	ctx := context.Background()

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = q.Send(ctx, []byte("late"))
	}()

	start := time.Now()
	msgs, err := q.Receive(ctx, 1, 500*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestReceiveHonorsContext(t *testing.T) {
	q := New()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := q.Receive(ctx, 1, time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeleteUnknownIsNoop(t *testing.T) {
	q := New()
	require.NoError(t, q.Delete(context.Background(), "ghost", ""))
}
