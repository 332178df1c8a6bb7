package queue

import (
	"context"
	"fmt"
	"time"
)

// NewValidating wraps a queue so Receive drops messages that fail validate.
// Dropped messages are deleted from the underlying queue; a poison payload
// must not be redelivered forever. Deletion of invalid messages is
// best-effort — if it fails the message simply comes around again.
func NewValidating(q Queue, validate func(body []byte) error) Queue {
	return &validating{q: q, validate: validate}
}

type validating struct {
	q        Queue
	validate func([]byte) error
}

func (v *validating) Send(ctx context.Context, body []byte) error {
	return v.q.Send(ctx, body)
}

func (v *validating) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	msgs, err := v.q.Receive(ctx, max, wait)
	if err != nil {
		return nil, err
	}
	valid := msgs[:0]
	for _, m := range msgs {
		if v.validate(m.Body) != nil {
			_ = v.q.Delete(ctx, m.ID, m.Receipt)
			continue
		}
		valid = append(valid, m)
	}
	return valid, nil
}

func (v *validating) Delete(ctx context.Context, id, receipt string) error {
	return v.q.Delete(ctx, id, receipt)
}

// NewDurable wraps a queue so Send first runs a caller-supplied hook,
// typically persisting an outbox record so the nudge can be replayed if the
// enqueue is lost. Send aborts when the hook fails.
func NewDurable(q Queue, before func(ctx context.Context, body []byte) error) Queue {
	return &durable{q: q, before: before}
}

type durable struct {
	q      Queue
	before func(context.Context, []byte) error
}

func (d *durable) Send(ctx context.Context, body []byte) error {
	if d.before != nil {
		if err := d.before(ctx, body); err != nil {
			return fmt.Errorf("durable send hook: %w", err)
		}
	}
	return d.q.Send(ctx, body)
}

func (d *durable) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	return d.q.Receive(ctx, max, wait)
}

func (d *durable) Delete(ctx context.Context, id, receipt string) error {
	return d.q.Delete(ctx, id, receipt)
}
