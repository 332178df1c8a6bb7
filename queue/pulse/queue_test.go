package pulse

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	"goa.design/ratchet/queue"
	clientpulse "goa.design/ratchet/queue/pulse/clients/pulse"
	"goa.design/ratchet/queue/queuetest"
)

type fakeClient struct {
	stream *fakeStream
}

func (f *fakeClient) Stream(string) (clientpulse.Stream, error) { return f.stream, nil }

func (f *fakeClient) Close(context.Context) error { return nil }

type fakeStream struct {
	mu   sync.Mutex
	seq  int
	sink *fakeSink
}

func (f *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	f.mu.Lock()
	f.seq++
	id := fmt.Sprintf("%d-0", f.seq)
	f.mu.Unlock()
	f.sink.events <- &streaming.Event{ID: id, EventName: event, Payload: payload}
	return id, nil
}

func (f *fakeStream) NewSink(context.Context, string) (clientpulse.Sink, error) {
	return f.sink, nil
}

func (f *fakeStream) Destroy(context.Context) error { return nil }

type fakeSink struct {
	events chan *streaming.Event

	mu    sync.Mutex
	acked []string
}

func (f *fakeSink) Subscribe() <-chan *streaming.Event { return f.events }

func (f *fakeSink) Ack(_ context.Context, ev *streaming.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ev.ID)
	return nil
}

func (f *fakeSink) Close(context.Context) {}

func newTestQueue(t *testing.T) (*Queue, *fakeSink) {
	t.Helper()
	sink := &fakeSink{events: make(chan *streaming.Event, 16)}
	client := &fakeClient{stream: &fakeStream{sink: sink}}
	q, err := New(context.Background(), Options{Client: client})
	require.NoError(t, err)
	return q, sink
}

func TestConformance(t *testing.T) {
	queuetest.RunConformance(t, func(t *testing.T) queue.Queue {
		q, _ := newTestQueue(t)
		return q
	})
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(context.Background(), Options{})
	require.Error(t, err)
}

func TestSendReceiveDeleteRoundTrip(t *testing.T) {
	q, sink := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, []byte(`{"wfId":"wf-1"}`)))

	msgs, err := q.Receive(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, []byte(`{"wfId":"wf-1"}`), msgs[0].Body)

	require.NoError(t, q.Delete(ctx, msgs[0].ID, msgs[0].Receipt))
	require.Equal(t, []string{msgs[0].ID}, sink.acked)
}

func TestReceiveBatchesUpToMax(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Send(ctx, []byte{byte('a' + i)}))
	}

	msgs, err := q.Receive(ctx, 3, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 3)

	msgs, err = q.Receive(ctx, 10, time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
}

func TestReceiveTimesOutEmpty(t *testing.T) {
	q, _ := newTestQueue(t)

	start := time.Now()
	msgs, err := q.Receive(context.Background(), 1, 20*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, msgs)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestReceiveHonorsContext(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Receive(ctx, 1, time.Second)
	require.Error(t, err)
}

func TestDeleteUnknownIDIsHarmless(t *testing.T) {
	q, sink := newTestQueue(t)
	require.NoError(t, q.Delete(context.Background(), "9-0", ""))
	require.Empty(t, sink.acked)
}
