// Package sqs provides a queue.Queue over AWS SQS. SQS already gives the
// at-least-once delivery and visibility-timeout redelivery the queue
// contract asks for, so the adapter only reshapes messages.
package sqs

import (
	"context"
	"errors"
	"time"

	"goa.design/ratchet/queue"
	clientsqs "goa.design/ratchet/queue/sqs/clients/sqs"
)

// Queue is an SQS-backed queue.Queue.
type Queue struct {
	client clientsqs.Client
}

// New returns a Queue backed by the given SQS client.
func New(client clientsqs.Client) (*Queue, error) {
	if client == nil {
		return nil, errors.New("sqs client is required")
	}
	return &Queue{client: client}, nil
}

// Send enqueues a payload.
func (q *Queue) Send(ctx context.Context, body []byte) error {
	return q.client.Send(ctx, body)
}

// Receive returns up to max messages, waiting up to wait for at least one.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]queue.Message, error) {
	received, err := q.client.Receive(ctx, max, wait)
	if err != nil {
		return nil, err
	}
	msgs := make([]queue.Message, 0, len(received))
	for _, m := range received {
		msgs = append(msgs, queue.Message{ID: m.ID, Receipt: m.Receipt, Body: m.Body})
	}
	return msgs, nil
}

// Delete removes a received message. SQS deletes by receipt handle; the
// message id is ignored.
func (q *Queue) Delete(ctx context.Context, _ string, receipt string) error {
	return q.client.Delete(ctx, receipt)
}
