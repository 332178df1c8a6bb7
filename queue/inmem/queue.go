// Package inmem provides the in-memory reference implementation of
// queue.Queue with SQS-like visibility semantics: received messages become
// invisible for a window and are redelivered unless deleted.
package inmem

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"goa.design/ratchet/queue"
)

const (
	defaultVisibility = 30 * time.Second
	pollInterval      = 10 * time.Millisecond
)

// Option configures the queue.
type Option func(*Queue)

// WithVisibility sets the invisibility window applied to received messages.
func WithVisibility(d time.Duration) Option {
	return func(q *Queue) { q.visibility = d }
}

// Queue is a mutex-guarded FIFO with per-delivery receipts.
type Queue struct {
	mu         sync.Mutex
	visibility time.Duration
	msgs       []*message
	deliveries uint64
}

type message struct {
	id             string
	body           []byte
	receipt        string
	invisibleUntil time.Time
}

// New returns an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{visibility: defaultVisibility}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send enqueues a copy of body.
func (q *Queue) Send(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := make([]byte, len(body))
	copy(stored, body)
	q.mu.Lock()
	defer q.mu.Unlock()
	q.msgs = append(q.msgs, &message{id: uuid.NewString(), body: stored})
	return nil
}

// Receive returns up to max visible messages, polling until wait elapses
// when none are available. Returned messages become invisible for the
// configured window.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error) {
	if max <= 0 {
		return nil, nil
	}
	deadline := time.Now().Add(wait)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if batch := q.take(max); len(batch) > 0 {
			return batch, nil
		}
		if wait <= 0 || !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (q *Queue) take(max int) []queue.Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	var batch []queue.Message
	for _, m := range q.msgs {
		if len(batch) >= max {
			break
		}
		if m.invisibleUntil.After(now) {
			continue
		}
		q.deliveries++
		m.receipt = strconv.FormatUint(q.deliveries, 10)
		m.invisibleUntil = now.Add(q.visibility)
		body := make([]byte, len(m.body))
		copy(body, m.body)
		batch = append(batch, queue.Message{ID: m.id, Receipt: m.receipt, Body: body})
	}
	return batch
}

// Delete removes the message with the given id. The receipt is accepted for
// interface symmetry; deletion is keyed on id.
func (q *Queue) Delete(ctx context.Context, id, receipt string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, m := range q.msgs {
		if m.id == id {
			q.msgs = append(q.msgs[:i], q.msgs[i+1:]...)
			return nil
		}
	}
	return nil
}

// Len reports the number of queued messages, visible or not.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}
