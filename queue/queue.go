// Package queue defines the work queue abstraction used to nudge workers
// about runnable workflows. Queues carry opaque payloads with at-least-once
// delivery; consumers must tolerate duplicates and deletion races. The
// engine itself never touches a queue — queues only wake workers up, state
// correctness comes from the blob store's CAS.
package queue

import (
	"context"
	"time"
)

// Message is one received queue entry.
type Message struct {
	// ID identifies the message for deletion.
	ID string
	// Receipt is the delivery-scoped handle some backends require to delete;
	// empty when the backend deletes by id alone.
	Receipt string
	// Body is the opaque payload.
	Body []byte
}

// Queue is a minimal at-least-once message queue. Implementations must be
// safe for concurrent use.
type Queue interface {
	// Send enqueues a payload.
	Send(ctx context.Context, body []byte) error
	// Receive returns up to max messages, waiting up to wait for at least
	// one to arrive. A zero wait returns immediately with whatever is
	// available. Received messages stay invisible to other consumers for a
	// backend-defined visibility window and are redelivered unless deleted.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	// Delete removes a received message so it is not redelivered.
	Delete(ctx context.Context, id, receipt string) error
}
