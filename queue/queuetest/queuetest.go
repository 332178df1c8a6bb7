// Package queuetest provides the conformance suite every queue.Queue
// backend must pass. Backend test files call RunConformance with a factory
// so the in-memory reference and the SQS and Pulse adapters are all held to
// the same delivery semantics.
package queuetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"goa.design/ratchet/queue"
)

// Factory returns a fresh, empty queue for one test.
type Factory func(t *testing.T) queue.Queue

// RunConformance exercises the queue.Queue contract against the factory's
// queues.
func RunConformance(t *testing.T, factory Factory) {
	t.Run("ZeroWaitEmptyReceive", func(t *testing.T) {
		q := factory(t)
		msgs, err := q.Receive(context.Background(), 1, 0)
		require.NoError(t, err)
		require.Empty(t, msgs)
	})

	t.Run("SendReceiveDelete", func(t *testing.T) {
		q := factory(t)
		ctx := context.Background()

		require.NoError(t, q.Send(ctx, []byte(`{"wfId":"wf-1"}`)))

		msgs, err := q.Receive(ctx, 10, time.Second)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.Equal(t, []byte(`{"wfId":"wf-1"}`), msgs[0].Body)
		require.NotEmpty(t, msgs[0].ID)

		require.NoError(t, q.Delete(ctx, msgs[0].ID, msgs[0].Receipt))

		msgs, err = q.Receive(ctx, 10, 0)
		require.NoError(t, err)
		require.Empty(t, msgs)
	})

	t.Run("ReceiveHonorsMax", func(t *testing.T) {
		q := factory(t)
		ctx := context.Background()

		for _, body := range []string{"a", "b", "c"} {
			require.NoError(t, q.Send(ctx, []byte(body)))
		}

		first, err := q.Receive(ctx, 2, time.Second)
		require.NoError(t, err)
		require.Len(t, first, 2)

		rest, err := q.Receive(ctx, 10, time.Second)
		require.NoError(t, err)
		require.Len(t, rest, 1)

		seen := map[string]bool{}
		for _, m := range append(first, rest...) {
			seen[string(m.Body)] = true
			require.NoError(t, q.Delete(ctx, m.ID, m.Receipt))
		}
		require.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)
	})

	t.Run("DeleteUnknownIsHarmless", func(t *testing.T) {
		q := factory(t)
		require.NoError(t, q.Delete(context.Background(), "no-such-id", "no-such-receipt"))
	})
}
