// Package sqs hosts the AWS SQS client used by the work queue. Callers
// build the SDK client, pass it to New, and receive a typed interface
// exposing only the send, receive and delete operations the queue needs.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"goa.design/clue/health"
)

const (
	defaultOpTimeout = 10 * time.Second
	clientName       = "queue-sqs"

	// SQS caps on a single ReceiveMessage call.
	maxBatch = 10
	maxWait  = 20 * time.Second
)

type (
	// Message is one received queue entry.
	Message struct {
		// ID is the SQS message id.
		ID string
		// Receipt is the delivery-scoped handle deletion requires.
		Receipt string
		// Body is the raw payload.
		Body []byte
	}

	// Client exposes the SQS operations backing the work queue.
	Client interface {
		health.Pinger

		// Send enqueues a payload.
		Send(ctx context.Context, body []byte) error
		// Receive returns up to max messages, long polling up to wait.
		Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)
		// Delete removes a received message by its receipt handle.
		Delete(ctx context.Context, receipt string) error
	}

	// Options configures the SQS client.
	Options struct {
		// API is the AWS SDK SQS client. Required.
		API *awssqs.Client
		// QueueURL is the fully qualified queue URL. Required.
		QueueURL string
		// Timeout bounds individual non-polling operations. Zero uses a
		// default.
		Timeout time.Duration
	}
)

// api is the subset of the AWS SDK SQS client the wrapper uses.
type api interface {
	SendMessage(ctx context.Context, in *awssqs.SendMessageInput, opts ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *awssqs.ReceiveMessageInput, opts ...func(*awssqs.Options)) (*awssqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *awssqs.DeleteMessageInput, opts ...func(*awssqs.Options)) (*awssqs.DeleteMessageOutput, error)
	GetQueueAttributes(ctx context.Context, in *awssqs.GetQueueAttributesInput, opts ...func(*awssqs.Options)) (*awssqs.GetQueueAttributesOutput, error)
}

type client struct {
	api      api
	queueURL string
	timeout  time.Duration
}

// New returns a Client backed by SQS.
func New(opts Options) (Client, error) {
	if opts.API == nil {
		return nil, errors.New("sqs client is required")
	}
	return newClientWithAPI(opts.API, opts.QueueURL, opts.Timeout)
}

func newClientWithAPI(a api, queueURL string, timeout time.Duration) (*client, error) {
	if queueURL == "" {
		return nil, errors.New("queue url is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{api: a, queueURL: queueURL, timeout: timeout}, nil
}

func (c *client) Name() string { return clientName }

func (c *client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.api.GetQueueAttributes(ctx, &awssqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(c.queueURL),
		AttributeNames: []types.QueueAttributeName{types.QueueAttributeNameQueueArn},
	})
	return err
}

func (c *client) Send(ctx context.Context, body []byte) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.api.SendMessage(ctx, &awssqs.SendMessageInput{
		QueueUrl:    aws.String(c.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sqs send: %w", err)
	}
	return nil
}

// Receive long polls for up to wait, clamped to the SQS limits of ten
// messages and twenty seconds per call. The surrounding context still
// bounds the call so shutdown is not delayed by the poll.
func (c *client) Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	if max <= 0 || max > maxBatch {
		max = maxBatch
	}
	if wait < 0 {
		wait = 0
	}
	if wait > maxWait {
		wait = maxWait
	}
	out, err := c.api.ReceiveMessage(ctx, &awssqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive: %w", err)
	}
	msgs := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, Message{
			ID:      aws.ToString(m.MessageId),
			Receipt: aws.ToString(m.ReceiptHandle),
			Body:    []byte(aws.ToString(m.Body)),
		})
	}
	return msgs, nil
}

func (c *client) Delete(ctx context.Context, receipt string) error {
	if receipt == "" {
		return errors.New("receipt handle is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.api.DeleteMessage(ctx, &awssqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receipt),
	})
	if err != nil {
		return fmt.Errorf("sqs delete: %w", err)
	}
	return nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}
