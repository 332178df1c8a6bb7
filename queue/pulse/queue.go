// Package pulse provides a queue.Queue over Pulse streams. A single stream
// carries nudge payloads and a shared sink (consumer group) spreads them
// across workers; events stay pending until acked, which gives the
// at-least-once redelivery the queue contract asks for.
package pulse

import (
	"context"
	"errors"
	"sync"
	"time"

	"goa.design/pulse/streaming"

	"goa.design/ratchet/queue"
	clientpulse "goa.design/ratchet/queue/pulse/clients/pulse"
)

const (
	defaultStream = "ratchet:nudges"
	defaultSink   = "workers"

	// eventName tags stream entries; Pulse requires one per event.
	eventName = "nudge"
)

// Options configures the Pulse queue.
type Options struct {
	// Client is the Pulse wrapper. Required.
	Client clientpulse.Client
	// Stream names the stream carrying nudges. Defaults to "ratchet:nudges".
	Stream string
	// Sink names the consumer group workers share. Defaults to "workers".
	Sink string
}

// Queue is a Pulse-backed queue.Queue.
type Queue struct {
	stream clientpulse.Stream
	sink   clientpulse.Sink

	mu      sync.Mutex
	pending map[string]*streaming.Event
}

// New opens the stream and joins the consumer group.
func New(ctx context.Context, opts Options) (*Queue, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	streamName := opts.Stream
	if streamName == "" {
		streamName = defaultStream
	}
	sinkName := opts.Sink
	if sinkName == "" {
		sinkName = defaultSink
	}
	stream, err := opts.Client.Stream(streamName)
	if err != nil {
		return nil, err
	}
	sink, err := stream.NewSink(ctx, sinkName)
	if err != nil {
		return nil, err
	}
	return &Queue{
		stream:  stream,
		sink:    sink,
		pending: make(map[string]*streaming.Event),
	}, nil
}

// Send enqueues a payload.
func (q *Queue) Send(ctx context.Context, body []byte) error {
	_, err := q.stream.Add(ctx, eventName, body)
	return err
}

// Receive returns up to max messages, waiting up to wait for the first one.
// Received events are tracked until Delete acks them; unacked events are
// redelivered by Pulse when the consumer goes away.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error) {
	if max <= 0 {
		max = 1
	}
	events := q.sink.Subscribe()
	var msgs []queue.Message

	if wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case ev, ok := <-events:
			if !ok {
				return nil, errors.New("pulse sink closed")
			}
			msgs = append(msgs, q.track(ev))
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for len(msgs) < max {
		select {
		case ev, ok := <-events:
			if !ok {
				return msgs, nil
			}
			msgs = append(msgs, q.track(ev))
		default:
			return msgs, nil
		}
	}
	return msgs, nil
}

// Delete acks a received message. Unknown ids are ignored so deletion races
// after a redelivery stay harmless.
func (q *Queue) Delete(ctx context.Context, id string, _ string) error {
	q.mu.Lock()
	ev, ok := q.pending[id]
	delete(q.pending, id)
	q.mu.Unlock()
	if !ok {
		return nil
	}
	return q.sink.Ack(ctx, ev)
}

// Close stops the sink. Pending events return to the group for redelivery.
func (q *Queue) Close(ctx context.Context) {
	q.sink.Close(ctx)
}

func (q *Queue) track(ev *streaming.Event) queue.Message {
	q.mu.Lock()
	q.pending[ev.ID] = ev
	q.mu.Unlock()
	return queue.Message{ID: ev.ID, Body: ev.Payload}
}
