package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	sent    [][]byte
	pending []Message
	deleted []string
}

func (f *fakeQueue) Send(ctx context.Context, body []byte) error {
	f.sent = append(f.sent, body)
	return nil
}

func (f *fakeQueue) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	out := f.pending
	f.pending = nil
	return out, nil
}

func (f *fakeQueue) Delete(ctx context.Context, id, receipt string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func TestValidatingDropsAndDeletesMalformed(t *testing.T) {
	fake := &fakeQueue{pending: []Message{
		{ID: "good", Body: []byte(`{"wfId":"wf-1"}`)},
		{ID: "bad", Body: []byte(`not json`)},
	}}
	q := NewValidating(fake, func(body []byte) error {
		if body[0] != '{' {
			return errors.New("not an object")
		}
		return nil
	})

	msgs, err := q.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, "good", msgs[0].ID)
	require.Equal(t, []string{"bad"}, fake.deleted)
}

func TestDurableRunsHookBeforeSend(t *testing.T) {
	fake := &fakeQueue{}
	var hooked [][]byte
	q := NewDurable(fake, func(ctx context.Context, body []byte) error {
		hooked = append(hooked, body)
		return nil
	})

	require.NoError(t, q.Send(context.Background(), []byte("x")))
	require.Equal(t, [][]byte{[]byte("x")}, hooked)
	require.Equal(t, [][]byte{[]byte("x")}, fake.sent)
}

func TestDurableAbortsOnHookFailure(t *testing.T) {
	fake := &fakeQueue{}
	boom := errors.New("outbox down")
	q := NewDurable(fake, func(ctx context.Context, body []byte) error {
		return fmt.Errorf("recording nudge: %w", boom)
	})

	err := q.Send(context.Background(), []byte("x"))
	require.ErrorIs(t, err, boom)
	require.Empty(t, fake.sent)
}
